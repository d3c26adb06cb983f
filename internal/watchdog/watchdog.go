// Package watchdog detects runs whose agents went silent.
//
// The orchestration core never times anything out on its own; agents report
// liveness through heartbeats and events, and the watchdog periodically
// sweeps active runs whose last sign of life is too old, forcing them to
// timed_out and freeing their concurrency slots.
package watchdog

import (
	"context"
	"log/slog"
	"time"

	"github.com/pulsehq/pulse/internal/orchestration"
)

// Defaults for the sweep loop.
const (
	DefaultInterval   = 30 * time.Second
	DefaultStaleAfter = 5 * time.Minute
)

// Watchdog periodically sweeps stale runs.
type Watchdog struct {
	svc        *orchestration.Service
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
}

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithInterval sets how often the sweep runs.
func WithInterval(d time.Duration) Option {
	return func(w *Watchdog) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithStaleAfter sets how long an active run may go without a heartbeat or
// event before it is timed out.
func WithStaleAfter(d time.Duration) Option {
	return func(w *Watchdog) {
		if d > 0 {
			w.staleAfter = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watchdog) {
		w.logger = logger
	}
}

// New creates a watchdog over the orchestration service.
func New(svc *orchestration.Service, opts ...Option) *Watchdog {
	w := &Watchdog{
		svc:        svc,
		interval:   DefaultInterval,
		staleAfter: DefaultStaleAfter,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run sweeps on every tick until the context is cancelled. A failed sweep is
// logged and retried on the next tick rather than stopping the loop.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("watchdog started",
		"interval", w.interval, "stale_after", w.staleAfter)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watchdog stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.svc.SweepStaleRuns(ctx, w.staleAfter); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger.Error("stale run sweep failed", "error", err)
			}
		}
	}
}
