package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neboloop/tabrelay/internal/defaults"
)

// InitCmd creates the init command (writes the user config file)
func InitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config to the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(DefaultConfig) == 0 {
				return fmt.Errorf("no built-in config available")
			}
			path, wrote, err := defaults.WriteConfig(DefaultConfig, force)
			if err != nil {
				return err
			}
			if !wrote {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists (use --force to replace it)\n", path)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing config")
	return cmd
}
