package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/tabrelay/internal/panel"
)

// ResetCmd creates the reset command (one-shot reset of a widget)
func ResetCmd() *cobra.Command {
	var (
		tabID    int
		widgetID string
	)
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset one widget in a tab",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tabID < 0 || widgetID == "" {
				return fmt.Errorf("--tab and --widget are required")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			// without init, so a panel already inspecting the tab keeps it
			s, err := panel.Dial(ctx, ServerConfig.BaseURL()+"/panel", tabID, panel.WithoutInit())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Reset(widgetID); err != nil {
				return fmt.Errorf("send reset: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s in tab %d\n", widgetID, tabID)
			return nil
		},
	}
	cmd.Flags().IntVar(&tabID, "tab", -1, "id of the tab")
	cmd.Flags().StringVar(&widgetID, "widget", "", "widget id, e.g. counter-exercise-1")
	return cmd
}
