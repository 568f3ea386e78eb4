// Package server runs the background coordinator: the relay's HTTP and
// websocket endpoints, its router loop and the periodic stats reporter.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/neboloop/tabrelay/internal/config"
	"github.com/neboloop/tabrelay/internal/daemon"
	"github.com/neboloop/tabrelay/internal/lifecycle"
	"github.com/neboloop/tabrelay/internal/logging"
	"github.com/neboloop/tabrelay/internal/relay"
)

// ServerOptions holds optional dependencies for the server
type ServerOptions struct {
	Hooks *lifecycle.Manager
	Quiet bool
	// Ready, when set, is called with the bound address once the listener is up.
	Ready func(addr string)
}

// Run starts the coordinator and blocks until ctx is cancelled.
func Run(ctx context.Context, c config.Config, opts ServerOptions) error {
	hooks := opts.Hooks
	if hooks == nil {
		hooks = lifecycle.NewManager()
	}

	rl := relay.New(relay.Options{
		AllowRemote:     c.IsAllowRemote(),
		AllowedOrigins:  c.AllowedOrigins(),
		MaxMessageBytes: c.Relay.MaxMessageBytes,
		PongWait:        c.PongWait(),
		OutboundBuffer:  c.Relay.OutboundBuffer,
		Hooks:           hooks,
	})

	routerCtx, stopRouter := context.WithCancel(context.Background())
	defer stopRouter()
	routerDone := make(chan error, 1)
	go func() { routerDone <- rl.Run(routerCtx) }()

	reporter, err := daemon.NewReporter(daemon.ReporterConfig{
		Schedule: c.Stats.Schedule,
		Report: func(ctx context.Context) error {
			s, err := rl.Stats(ctx)
			if err != nil {
				return err
			}
			logging.Infof("[stats] tabs=%d panels=%d content=%d", s.Tabs, s.Panels, s.ContentConnections)
			return nil
		},
	})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", c.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", c.Addr(), err)
	}

	// No ReadTimeout/WriteTimeout: they would cut hijacked websocket
	// connections. Keepalive is ping/pong in the relay.
	httpServer := &http.Server{
		Handler:     rl.Handler(),
		IdleTimeout: 120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	reporter.Start()
	addr := ln.Addr().String()
	if !opts.Quiet {
		fmt.Printf("Relay ready at ws://%s\n", addr)
	}
	hooks.Emit(lifecycle.EventServerStarted, addr)
	if opts.Ready != nil {
		opts.Ready(addr)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	hooks.Emit(lifecycle.EventShutdownStarted, nil)
	if !opts.Quiet {
		fmt.Println("\nShutting down relay...")
	}

	reporter.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)

	// Shutdown does not touch hijacked connections.
	rl.Stop()
	stopRouter()
	if err := <-routerDone; err != nil && !errors.Is(err, context.Canceled) {
		logging.Debugf("[server] router exit: %v", err)
	}
	return runErr
}
