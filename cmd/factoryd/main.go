package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/kilroy-labs/factoryctl/internal/config"
	"github.com/kilroy-labs/factoryctl/internal/controlplane"
	"github.com/kilroy-labs/factoryctl/internal/logging"
)

func signalCancelContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	stopCh := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-stopCh:
		}
	}()
	cleanup := func() {
		signal.Stop(sigCh)
		close(stopCh)
		cancel()
	}
	return ctx, cleanup
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  factoryd serve [--addr <host:port>] [--config <run.yaml>] [--state-root <dir>]")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "serve":
		serve(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func serve(args []string) {
	addr := "127.0.0.1:8089"
	configPath := ""
	stateRoot := ""

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--addr":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--addr requires a value")
				os.Exit(1)
			}
			addr = args[i]
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a value")
				os.Exit(1)
			}
			configPath = args[i]
		case "--state-root":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--state-root requires a value")
				os.Exit(1)
			}
			stateRoot = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if stateRoot != "" {
		cfg.StateRoot = stateRoot
	}
	if addr != "" {
		if port, err := addrPort(addr); err == nil {
			cfg.GatewayPort = port
		}
	}

	logger := logging.New("factoryd")

	ctx, cleanupSignalCtx := signalCancelContext()
	defer cleanupSignalCtx()

	cp, err := controlplane.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cp.BuildHTTP(addr)
	cp.Start()

	logger.Printf("listening on %s (state_root=%s)", addr, cfg.StateRoot)
	if err := cp.HTTP.ListenAndServe(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		_ = cp.Shutdown()
		os.Exit(1)
	}
	if err := cp.Shutdown(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads runtime.env config from path, or returns
// config.DecodeStrict's defaults-applied zero document when path is empty
// (spec §6 "recognized options" are all optional with documented
// defaults).
func loadConfig(path string) (*config.File, error) {
	if path == "" {
		return config.DecodeStrict([]byte("version: 1\n"))
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return config.DecodeStrict(b)
}

func addrPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
