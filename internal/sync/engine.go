package sync

import (
	"context"
	"log/slog"
	"time"
)

// Engine runs the Refresher continuously: a full refresh on every poll tick,
// plus the bus listener for on-demand transaction refreshes. Create one with
// [NewEngine] and start it with [Engine.Run].
type Engine struct {
	refresher    *Refresher
	pollInterval time.Duration
	log          *slog.Logger
}

// NewEngine creates an Engine polling every pollInterval.
func NewEngine(refresher *Refresher, pollInterval time.Duration, logger *slog.Logger) *Engine {
	return &Engine{refresher: refresher, pollInterval: pollInterval, log: logger}
}

// RunOnce performs a single full refresh and waits for the backfills it
// started.
func (e *Engine) RunOnce(ctx context.Context) error {
	err := e.refresher.RefreshAll(ctx)
	e.refresher.Wait()
	return err
}

// Run starts the polling loop and the bus listener. It blocks until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	stop := e.refresher.Listen(ctx)
	defer stop()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	// Run an immediate first pass.
	if err := e.refresher.RefreshAll(ctx); err != nil {
		e.log.Error("initial refresh failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			if err := e.refresher.RefreshAll(ctx); err != nil {
				e.log.Error("refresh failed", "error", err)
			}
		}
	}
}
