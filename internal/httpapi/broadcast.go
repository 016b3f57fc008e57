package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/kilroy-labs/factoryctl/internal/eventlog"
)

// Broadcaster fans out control-plane events to every connected SSE client.
// Adapted from the teacher's per-pipeline-run server.Broadcaster. Each
// httpapi.New (or ControlPlane.BuildHTTP) call gets its own Broadcaster,
// which carries only the events the HTTP server publishes through
// Server.emit; events other components append to the event log are written
// to the file but are not sent to SSE clients. History is capped at
// historyCap rather than unbounded (a long-running factory would otherwise
// accumulate an ever-growing replay buffer).
type Broadcaster struct {
	mu         sync.Mutex
	history    []eventlog.Event
	historyCap int
	clients    map[uint64]chan eventlog.Event
	nextID     uint64
	closed     bool
	doneCh     chan struct{}
}

// NewBroadcaster constructs a Broadcaster retaining up to historyCap recent
// events for new-subscriber replay.
func NewBroadcaster(historyCap int) *Broadcaster {
	if historyCap <= 0 {
		historyCap = 500
	}
	return &Broadcaster{
		historyCap: historyCap,
		clients:    make(map[uint64]chan eventlog.Event),
		doneCh:     make(chan struct{}),
	}
}

// Send publishes e to every connected client and appends it to the replay
// history, dropping the oldest entry once historyCap is exceeded.
func (b *Broadcaster) Send(e eventlog.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.history = append(b.history, e)
	if len(b.history) > b.historyCap {
		b.history = b.history[len(b.history)-b.historyCap:]
	}
	for id, ch := range b.clients {
		select {
		case ch <- e:
		default:
			close(ch)
			delete(b.clients, id)
		}
	}
}

// Subscribe returns a channel replaying recent history followed by live
// events, a done channel closed only when the broadcaster itself is closed,
// and an unsubscribe function.
func (b *Broadcaster) Subscribe() (<-chan eventlog.Event, <-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan eventlog.Event, len(b.history)+256)
	id := b.nextID
	b.nextID++

	for _, e := range b.history {
		ch <- e
	}

	if b.closed {
		close(ch)
		return ch, b.doneCh, func() {}
	}

	b.clients[id] = ch
	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.clients[id]; ok {
			delete(b.clients, id)
			close(ch)
		}
	}
	return ch, b.doneCh, unsub
}

// Close stops the broadcaster, closing every client channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.doneCh)
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
}

// writeSSE streams events from a Broadcaster as Server-Sent Events (spec §6
// GET /events).
func writeSSE(w http.ResponseWriter, r *http.Request, b *Broadcaster) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, doneCh, unsub := b.Subscribe()
	defer unsub()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				select {
				case <-doneCh:
					fmt.Fprint(w, "event: done\ndata: {}\n\n")
					flusher.Flush()
				default:
				}
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
