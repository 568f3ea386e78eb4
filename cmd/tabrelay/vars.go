package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/neboloop/tabrelay/internal/config"
)

// Shared CLI flags (used across multiple command files)
var (
	cfgFile string
	verbose bool
)

// DefaultConfig is the embedded config template (set by main)
var DefaultConfig []byte

// ServerConfig holds the loaded configuration (set by main, replaced by --config)
var ServerConfig *config.Config

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(os.Stderr, "\nReceived signal: %v - shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
