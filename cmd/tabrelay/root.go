package cli

import (
	"github.com/spf13/cobra"

	"github.com/neboloop/tabrelay/internal/config"
	"github.com/neboloop/tabrelay/internal/defaults"
	"github.com/neboloop/tabrelay/internal/logging"
)

// SetupRootCmd configures the root command with all subcommands and flags
func SetupRootCmd(c *config.Config) *cobra.Command {
	ServerConfig = c

	rootCmd := &cobra.Command{
		Use:   "tabrelay",
		Short: "tabrelay - widget state relay between pages and an inspector panel",
		Long: `tabrelay relays widget render events from instrumented pages to an
inspector panel, per browser tab, and carries reset commands back.

Run 'tabrelay serve' for the coordinator, then attach with 'tabrelay panel --tab N'.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile == "" {
				if path, ok := defaults.UserConfig(); ok {
					cfgFile = path
				}
			}
			if cfgFile != "" {
				loaded, err := config.LoadFile(cfgFile)
				if err != nil {
					return err
				}
				*ServerConfig = loaded
			}
			applyLogConfig(*ServerConfig)
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: tabrelay.yaml in the data directory, else built-in)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add commands
	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(PanelCmd())
	rootCmd.AddCommand(ResetCmd())
	rootCmd.AddCommand(SimulateCmd())
	rootCmd.AddCommand(StatusCmd())
	rootCmd.AddCommand(InitCmd())

	return rootCmd
}

func applyLogConfig(c config.Config) {
	logging.SetFormat(c.Log.Format)
	if verbose {
		logging.SetLevel("debug")
		return
	}
	logging.SetLevel(c.Log.Level)
}
