package cli

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/tabrelay/internal/content"
	"github.com/neboloop/tabrelay/internal/counter"
	"github.com/neboloop/tabrelay/internal/logging"
	"github.com/neboloop/tabrelay/internal/page"
)

// SimulateCmd creates the simulate command (an instrumented page in-process)
func SimulateCmd() *cobra.Command {
	var (
		tabID       int
		widgetNames string
		stepEvery   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a page with counters in a tab",
		Long: `Run an in-process page with one counter per --widgets name behind a
content script for --tab. Counters are stepped at random every --every.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(tabID, strings.Split(widgetNames, ","), stepEvery)
		},
	}
	cmd.Flags().IntVar(&tabID, "tab", 1, "id of the simulated tab")
	cmd.Flags().StringVar(&widgetNames, "widgets", "exercise-1,exercise-2", "comma separated counter names")
	cmd.Flags().DurationVar(&stepEvery, "every", time.Second, "interval between counter steps (0 disables)")
	return cmd
}

func runSimulate(tabID int, names []string, stepEvery time.Duration) error {
	ctx, cancel := signalContext()
	defer cancel()

	window := page.NewWindow()
	defer window.Close()

	// The agent outlives ctx so that removals still reach the relay.
	agentCtx, stopAgent := context.WithCancel(context.Background())
	defer stopAgent()
	agent, err := content.Dial(ctx, ServerConfig.BaseURL(), tabID, window)
	if err != nil {
		return err
	}
	defer agent.Close()

	var counters []*counter.Widget
	for _, name := range names {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		c := counter.New(window, name)
		if err := c.Mount(); err != nil {
			return fmt.Errorf("mount %s: %w", c.ID(), err)
		}
		counters = append(counters, c)
	}
	if len(counters) == 0 {
		return fmt.Errorf("no widgets to simulate")
	}
	fmt.Printf("Simulating %d counters in tab %d\n", len(counters), tabID)

	if stepEvery > 0 {
		go stepCounters(ctx.Done(), counters, stepEvery)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- agent.Run(agentCtx) }()

	select {
	case err := <-runErr:
		return err
	case <-ctx.Done():
	}

	for _, c := range counters {
		c.Unmount()
	}
	// Removals are delivered by the window's loop; give it a moment.
	time.Sleep(100 * time.Millisecond)
	return nil
}

func stepCounters(done <-chan struct{}, counters []*counter.Widget, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c := counters[rand.Intn(len(counters))]
			var err error
			if rand.Intn(4) == 0 {
				err = c.Decrement()
			} else {
				err = c.Increment()
			}
			if err != nil {
				logging.Debugf("[simulate] step %s: %v", c.ID(), err)
				continue
			}
			logging.Debugf("[simulate] %s = %d", c.ID(), c.Count())
		}
	}
}
