package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neboloop/tabrelay/internal/config"
	"github.com/neboloop/tabrelay/internal/lifecycle"
	"github.com/neboloop/tabrelay/internal/logging"
	"github.com/neboloop/tabrelay/internal/server"
)

// ServeCmd creates the serve command (background coordinator)
func ServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the background coordinator",
		Long:  `Run the relay: /panel and /content websocket endpoints plus /status.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	ctx, cancel := signalContext()
	defer cancel()

	hooks := lifecycle.NewManager()
	hooks.OnPanelAttached(func(d lifecycle.TabEventData) {
		logging.Infof("[serve] panel %s inspecting tab %d", d.ConnID, d.TabID)
	})
	hooks.OnPanelDetached(func(d lifecycle.TabEventData) {
		logging.Infof("[serve] panel %s left tab %d", d.ConnID, d.TabID)
	})
	hooks.OnContentChange(func(d lifecycle.TabEventData, connected bool) {
		if connected {
			logging.Debugf("[serve] content script %s joined tab %d", d.ConnID, d.TabID)
		} else {
			logging.Debugf("[serve] content script %s left tab %d", d.ConnID, d.TabID)
		}
	})

	if cfgFile != "" {
		stop, err := config.Watch(cfgFile, func(c config.Config) {
			// Only logging is live; listener and relay settings need a restart.
			applyLogConfig(c)
		})
		if err != nil {
			logging.Warnf("[serve] config watch disabled: %v", err)
		} else {
			defer stop()
		}
	}

	if err := server.Run(ctx, *ServerConfig, server.ServerOptions{Hooks: hooks}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
