// Package daemon runs the relay's background reporting.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/neboloop/tabrelay/internal/logging"
)

// ReporterConfig configures the stats reporter
type ReporterConfig struct {
	Schedule string // cron spec or "@every <duration>" (default: @every 1m)
	Timeout  time.Duration
	// Report is called on every tick. It should log or export what it is
	// given and return quickly.
	Report func(ctx context.Context) error
}

// Reporter periodically calls Report on a cron schedule
type Reporter struct {
	cfg       ReporterConfig
	scheduler *cronlib.Cron

	mu      sync.Mutex
	running bool
	ticks   int
}

// NewReporter validates the schedule and creates a reporter
func NewReporter(cfg ReporterConfig) (*Reporter, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Report == nil {
		return nil, fmt.Errorf("reporter: Report func is required")
	}

	r := &Reporter{
		cfg:       cfg,
		scheduler: cronlib.New(),
	}
	if _, err := r.scheduler.AddFunc(cfg.Schedule, r.tick); err != nil {
		return nil, fmt.Errorf("invalid stats schedule %q: %w", cfg.Schedule, err)
	}
	return r, nil
}

// Start begins the schedule
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.scheduler.Start()
}

// Stop halts the schedule and waits for a running report to finish
func (r *Reporter) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	<-r.scheduler.Stop().Done()
}

// Ticks returns how many reports have run
func (r *Reporter) Ticks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticks
}

func (r *Reporter) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()

	if err := r.cfg.Report(ctx); err != nil {
		logging.Errorf("[reporter] report failed: %v", err)
	}

	r.mu.Lock()
	r.ticks++
	r.mu.Unlock()
}
