// Package maintenance runs periodic housekeeping over the in-memory stores.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// SessionSweeper expires overdue confirmation sessions.
type SessionSweeper interface {
	SweepExpired() int
}

// TraceEvicter drops stale traces.
type TraceEvicter interface {
	Evict(now time.Time) int
}

// PreferenceStore forgets stale patterns and persists the rest.
type PreferenceStore interface {
	Cleanup() int
	Flush(ctx context.Context) error
}

// Report counts what one pass did.
type Report struct {
	ExpiredSessions int
	EvictedTraces   int
	CleanedPatterns int
}

// Worker runs housekeeping passes on a fixed interval. Any dependency may
// be nil, in which case its task is skipped.
type Worker struct {
	sessions SessionSweeper
	traces   TraceEvicter
	prefs    PreferenceStore
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewWorker creates a Worker. If interval is <= 0, it defaults to one minute.
func NewWorker(sessions SessionSweeper, traces TraceEvicter, prefs PreferenceStore, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Worker{
		sessions: sessions,
		traces:   traces,
		prefs:    prefs,
		interval: interval,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// Run performs a pass every interval until ctx is cancelled, then one final
// pass so that preferences recorded since the last tick are persisted.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			w.pass(final)
			cancel()
			return
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

func (w *Worker) pass(ctx context.Context) {
	r, err := w.RunOnce(ctx)
	if err != nil {
		w.logger.Error("maintenance pass failed", "error", err)
	}
	if r != (Report{}) {
		w.logger.Info("maintenance pass",
			"expired_sessions", r.ExpiredSessions,
			"evicted_traces", r.EvictedTraces,
			"cleaned_patterns", r.CleanedPatterns,
		)
	}
}

// RunOnce runs each housekeeping task once. The in-memory tasks run
// concurrently; preferences are flushed after cleanup so that removed
// patterns are not written back.
func (w *Worker) RunOnce(ctx context.Context) (Report, error) {
	var r Report
	g, ctx := errgroup.WithContext(ctx)

	if w.sessions != nil {
		g.Go(func() error {
			r.ExpiredSessions = w.sessions.SweepExpired()
			return nil
		})
	}
	if w.traces != nil {
		g.Go(func() error {
			r.EvictedTraces = w.traces.Evict(w.now())
			return nil
		})
	}
	if w.prefs != nil {
		g.Go(func() error {
			r.CleanedPatterns = w.prefs.Cleanup()
			return w.prefs.Flush(ctx)
		})
	}
	return r, g.Wait()
}
