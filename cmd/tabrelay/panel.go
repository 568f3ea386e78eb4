package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/tabrelay/internal/panel"
)

const renderDelay = 50 * time.Millisecond

// PanelCmd creates the panel command (inspector panel for one tab)
func PanelCmd() *cobra.Command {
	var tabID int
	cmd := &cobra.Command{
		Use:   "panel",
		Short: "Attach an inspector panel to a tab",
		Long: `Attach to the relay as the inspector panel of --tab and print the tab's
widgets as they change. Type "reset <widgetId>" to reset a widget.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPanel(tabID, cmd.OutOrStdout(), os.Stdin)
		},
	}
	cmd.Flags().IntVar(&tabID, "tab", -1, "id of the inspected tab")
	cmd.MarkFlagRequired("tab")
	return cmd
}

func runPanel(tabID int, out io.Writer, in io.Reader) error {
	if tabID < 0 {
		return fmt.Errorf("--tab must be a non-negative integer")
	}
	ctx, cancel := signalContext()
	defer cancel()

	r := newRenderer(out, renderDelay)
	defer r.stop()

	s, err := panel.Dial(ctx, ServerConfig.BaseURL()+"/panel", tabID, panel.WithOnChange(r.schedule))
	if err != nil {
		return err
	}
	defer s.Close()

	go readPanelCommands(in, s, out)
	return s.Run(ctx)
}

// readPanelCommands turns "reset <id>" lines into reset commands.
func readPanelCommands(in io.Reader, s *panel.Session, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 || fields[0] != "reset" {
			if len(fields) > 0 {
				fmt.Fprintln(out, `usage: reset <widgetId>`)
			}
			continue
		}
		if err := s.Reset(fields[1]); err != nil {
			fmt.Fprintf(out, "reset failed: %v\n", err)
			return
		}
	}
}

// renderer redraws the widget list at most once per delay; a burst of
// updates within the window produces one redraw of the latest view.
type renderer struct {
	out   io.Writer
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending map[string]int
}

func newRenderer(out io.Writer, delay time.Duration) *renderer {
	return &renderer{out: out, delay: delay}
}

func (r *renderer) schedule(widgets map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = widgets
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.delay, r.flush)
}

func (r *renderer) flush() {
	r.mu.Lock()
	widgets := r.pending
	r.mu.Unlock()
	renderWidgets(r.out, widgets)
}

func (r *renderer) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
}

func renderWidgets(out io.Writer, widgets map[string]int) {
	ids := make([]string, 0, len(widgets))
	for id := range widgets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("---\n")
	for _, id := range ids {
		fmt.Fprintf(&b, "id: %s count: %d\n", id, widgets[id])
	}
	io.WriteString(out, b.String())
}
