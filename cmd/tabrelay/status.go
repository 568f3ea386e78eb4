package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// StatusCmd creates the status command
func StatusCmd() *cobra.Command {
	var tabID int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show relay status, or one tab's cached widgets with --tab",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/status"
			if tabID >= 0 {
				path = fmt.Sprintf("/tabs/%d/state", tabID)
			}
			return printJSON(cmd.OutOrStdout(), ServerConfig.HTTPURL()+path)
		},
	}
	cmd.Flags().IntVar(&tabID, "tab", -1, "show the cached state of this tab")
	return cmd
}

func printJSON(out io.Writer, url string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("relay not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("relay returned %s: %s", resp.Status, body)
	}

	var v any
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
