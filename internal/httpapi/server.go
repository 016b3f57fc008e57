package httpapi

import (
	"context"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kilroy-labs/factoryctl/internal/config"
	"github.com/kilroy-labs/factoryctl/internal/contextpack"
	"github.com/kilroy-labs/factoryctl/internal/degrade"
	"github.com/kilroy-labs/factoryctl/internal/dispatch"
	"github.com/kilroy-labs/factoryctl/internal/eventlog"
	"github.com/kilroy-labs/factoryctl/internal/fixup"
	"github.com/kilroy-labs/factoryctl/internal/jobqueue"
	"github.com/kilroy-labs/factoryctl/internal/modelrouter"
	"github.com/kilroy-labs/factoryctl/internal/taskboard"
	"github.com/kilroy-labs/factoryctl/internal/verdict"
)

// Deps bundles every control-plane component the HTTP surface dispatches
// into. It is built once by the cmd/factoryd entrypoint (or by
// internal/controlplane, its aggregate) and handed to New.
type Deps struct {
	Board     *taskboard.Board
	Queue     *jobqueue.Queue
	Workers   *jobqueue.WorkerRegistry
	Builder   *contextpack.Builder
	Router    *modelrouter.Router
	Gate      *dispatch.Gate
	Pipeline  *verdict.Pipeline
	Fixup     *fixup.Loops
	Degrade   *degrade.Engine
	Events    *eventlog.Writer
	EventLog  string // path, for GET /routes/decisions and GET /replay/task replay-from-disk
	Config    *config.File
	Broadcast *Broadcaster
	Logger    *log.Logger
}

// Server is the control plane's HTTP server (spec §6).
type Server struct {
	deps    Deps
	cfgMu   sync.RWMutex
	baseCtx context.Context
	cancel  context.CancelFunc
	httpSrv *http.Server
	logger  *log.Logger
}

// New constructs a Server listening on addr, wiring every route named by
// spec §6. Grounded on the teacher's internal/server.New for the
// Origin-header CSRF wrapper and graceful-shutdown HTTP server options.
func New(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.New(os.Stderr, "[factoryd] ", log.LstdFlags)
	}
	if deps.Broadcast == nil {
		deps.Broadcast = NewBroadcaster(500)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:    deps,
		baseCtx: ctx,
		cancel:  cancel,
		logger:  deps.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/pools", s.handlePools)

	r.Get("/board", s.handleBoardList)
	r.Post("/board/tasks", s.handleCreateTask)
	r.Get("/board/tasks/{id}", s.handleGetTask)
	r.Post("/board/tasks/{id}/status", s.handleSetTaskStatus)
	r.Post("/board/tasks/{id}/update", s.handleUpdateTask)
	r.Post("/board/tasks/{id}/dispatch", s.handleDispatchTask)
	r.Post("/board/tasks/{id}/split", s.handleSplitTask)
	r.Post("/board/tasks/{id}/split/apply", s.handleSplitApply)

	r.Get("/executor/jobs", s.handleListJobs)
	r.Get("/executor/jobs/{id}", s.handleGetJob)
	r.Get("/executor/jobs/{id}/patch", s.handleGetJobPatch)
	r.Post("/executor/jobs/atomic", s.handleCreateAtomicJob)
	r.Post("/executor/jobs/{id}/cancel", s.handleCancelJob)
	r.Post("/executor/jobs/{id}/requeue", s.handleRequeueJob)
	r.Post("/executor/jobs/{id}/complete", s.handleCompleteJob)

	r.Post("/executor/workers/register", s.handleRegisterWorker)
	r.Post("/executor/workers/{id}/heartbeat", s.handleWorkerHeartbeat)
	r.Get("/executor/workers/{id}/claim", s.handleWorkerClaim)

	r.Post("/executor/contextpacks", s.handleBuildContextPack)
	r.Get("/executor/contextpacks/{id}", s.handleGetContextPack)

	r.Get("/events", s.handleEvents)
	r.Get("/learned_patterns", s.handleLearnedPatterns)
	r.Get("/routes/decisions", s.handleRouteDecisions)
	r.Get("/pins/candidates", s.handlePinsCandidates)
	r.Get("/replay/task", s.handleReplayTask)

	r.Get("/config", s.handleGetConfig)
	r.Get("/config/schema", s.handleConfigSchema)
	r.Post("/config/set", s.handleConfigSet)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      csrfProtect(r),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE requires no write timeout
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	return s
}

// ListenAndServe starts the server and blocks until shutdown (SIGINT,
// SIGTERM, or an explicit Shutdown call).
func (s *Server) ListenAndServe() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		s.logger.Printf("received %s, shutting down...", sig)
		s.Shutdown()
	}()

	s.logger.Printf("listening on %s", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server, giving in-flight requests (and SSE
// streams) time to drain before forcing the base context closed.
func (s *Server) Shutdown() {
	s.deps.Broadcast.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)
	s.cancel()
}

// csrfProtect rejects cross-origin POST/PUT/PATCH/DELETE requests whose
// Origin header names a non-local host, the same policy as the teacher's
// internal/server.csrfProtect.
func csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			origin := r.Header.Get("Origin")
			if origin != "" {
				u, err := url.Parse(origin)
				if err != nil {
					writeError(w, http.StatusForbidden, "invalid_origin")
					return
				}
				host := u.Hostname()
				if host != "localhost" && host != "127.0.0.1" && host != "::1" {
					writeError(w, http.StatusForbidden, "cross_origin_blocked")
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) emit(e eventlog.Event) {
	if s.deps.Events != nil {
		_ = s.deps.Events.Append(e)
	}
	if s.deps.Broadcast != nil {
		s.deps.Broadcast.Send(e)
	}
}
