// Package tracing records a timeline of every processing step for each
// request and aggregates performance metrics over them.
//
// A nil *Tracer is valid: every method degrades to a no-op so that a
// missing tracer never stops request handling.
package tracing

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Options configures a Tracer. Zero fields take defaults.
type Options struct {
	MaxTraces int           // retained finished traces; 1000
	TTL       time.Duration // retention of finished traces; 24h
	Clock     Clock
	Logger    *slog.Logger
}

// record wraps a trace with its own lock so events for different
// requests never contend.
type record struct {
	mu    sync.Mutex
	trace Trace
}

// Tracer holds in-flight and recently finished traces.
type Tracer struct {
	opts Options

	mu        sync.RWMutex
	active    map[string]*record
	completed map[string]*record

	total      atomic.Int64
	successful atomic.Int64
	failed     atomic.Int64
}

// New creates a Tracer.
func New(opts Options) *Tracer {
	if opts.MaxTraces <= 0 {
		opts.MaxTraces = 1000
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Tracer{
		opts:      opts,
		active:    make(map[string]*record),
		completed: make(map[string]*record),
	}
}

func newTraceID() string {
	return uuid.NewString()[:8]
}

// CreateTrace starts a new in-flight trace and returns its id.
func (t *Tracer) CreateTrace(userID, sessionID string, metadata map[string]any) string {
	if t == nil {
		return ""
	}
	now := t.opts.Clock.Now()
	md := maps.Clone(metadata)
	if md == nil {
		md = make(map[string]any)
	}

	t.mu.Lock()
	id := newTraceID()
	for t.active[id] != nil || t.completed[id] != nil {
		id = newTraceID()
	}
	t.active[id] = &record{trace: Trace{
		ID:        id,
		UserID:    userID,
		SessionID: sessionID,
		StartTime: now,
		Status:    StatusStarted,
		Metadata:  md,
	}}
	evicted := t.evictLocked(now)
	activeCount := len(t.active)
	t.mu.Unlock()

	t.total.Add(1)
	t.opts.Logger.Debug("trace created", "trace_id", id, "user_id", userID, "active", activeCount, "evicted", evicted)
	return id
}

func (t *Tracer) lookupActive(traceID string) *record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active[traceID]
}

// AddEvent appends e to an in-flight trace. Unknown or finished traces
// are ignored. A zero Timestamp is filled in.
func (t *Tracer) AddEvent(traceID string, e Event) {
	if t == nil || traceID == "" {
		return
	}
	r := t.lookupActive(traceID)
	if r == nil {
		t.dropEvent(traceID, e, t.isCompleted(traceID))
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = t.opts.Clock.Now()
	}
	e.Details = maps.Clone(e.Details)

	r.mu.Lock()
	if r.trace.Status.Final() {
		r.mu.Unlock()
		t.dropEvent(traceID, e, true)
		return
	}
	r.trace.Events = append(r.trace.Events, e)
	r.mu.Unlock()
}

func (t *Tracer) isCompleted(traceID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.completed[traceID] != nil
}

func (t *Tracer) dropEvent(traceID string, e Event, finished bool) {
	reason := "unknown trace"
	if finished {
		reason = "trace finished"
	}
	t.opts.Logger.Debug("trace event dropped",
		"trace_id", traceID,
		"component", e.Component,
		"step", e.Step,
		"reason", reason,
	)
}

// Mark sets a non-final status on an in-flight trace. Use CompleteTrace to
// finish it.
func (t *Tracer) Mark(traceID string, status Status) {
	if t == nil || status.Final() {
		return
	}
	r := t.lookupActive(traceID)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.trace.Status.Final() {
		r.trace.Status = status
	}
}

// TraceOperation runs fn and records exactly one event for it with the
// measured duration. fn's error is recorded and returned unchanged. A
// panic in fn is recorded and then re-raised.
func (t *Tracer) TraceOperation(ctx context.Context, traceID string, component Component, step Step, details map[string]any, fn func(context.Context) error) (err error) {
	if t == nil {
		return fn(ctx)
	}
	start := t.opts.Clock.Now()
	defer func() {
		elapsed := float64(t.opts.Clock.Now().Sub(start)) / float64(time.Millisecond)
		e := Event{
			Timestamp:  start,
			Component:  component,
			Step:       step,
			Details:    details,
			DurationMs: &elapsed,
			Success:    true,
		}
		if p := recover(); p != nil {
			e.Success = false
			e.Error = fmt.Sprintf("panic: %v", p)
			t.AddEvent(traceID, e)
			panic(p)
		}
		if err != nil {
			e.Success = false
			e.Error = err.Error()
		}
		t.AddEvent(traceID, e)
	}()
	return fn(ctx)
}

// CompleteTrace finishes an in-flight trace with a final status and merges
// finalMetadata into its metadata. Only the first call has any effect.
func (t *Tracer) CompleteTrace(traceID string, status Status, finalMetadata map[string]any) {
	if t == nil {
		return
	}
	if !status.Final() {
		status = StatusCompleted
	}
	r := t.lookupActive(traceID)
	if r == nil {
		return
	}

	now := t.opts.Clock.Now()
	r.mu.Lock()
	if r.trace.Status.Final() {
		r.mu.Unlock()
		return
	}
	r.trace.Status = status
	r.trace.EndTime = &now
	maps.Copy(r.trace.Metadata, finalMetadata)
	duration := r.trace.DurationMs()
	events := len(r.trace.Events)
	r.mu.Unlock()

	t.mu.Lock()
	delete(t.active, traceID)
	t.completed[traceID] = r
	t.mu.Unlock()

	if status == StatusCompleted {
		t.successful.Add(1)
	} else {
		t.failed.Add(1)
	}
	t.opts.Logger.Info("trace completed",
		"trace_id", traceID,
		"status", status,
		"duration_ms", duration,
		"events", events,
	)
}

func (r *record) snapshot() Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trace.clone()
}

// GetTrace returns a copy of the trace, in flight or finished.
func (t *Tracer) GetTrace(traceID string) (Trace, bool) {
	if t == nil {
		return Trace{}, false
	}
	t.mu.RLock()
	r := t.active[traceID]
	if r == nil {
		r = t.completed[traceID]
	}
	t.mu.RUnlock()
	if r == nil {
		return Trace{}, false
	}
	return r.snapshot(), true
}

// GetUserTraces returns up to limit traces for userID, newest first. A
// non-positive limit means 10.
func (t *Tracer) GetUserTraces(userID string, limit int) []Trace {
	if t == nil {
		return nil
	}
	if limit <= 0 {
		limit = 10
	}
	var out []Trace
	for _, r := range t.records(true, true) {
		tr := r.snapshot()
		if tr.UserID == userID {
			out = append(out, tr)
		}
	}
	slices.SortFunc(out, func(a, b Trace) int {
		return cmp.Or(b.StartTime.Compare(a.StartTime), cmp.Compare(a.ID, b.ID))
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetActiveTraces returns copies of all in-flight traces, oldest first.
func (t *Tracer) GetActiveTraces() []Trace {
	if t == nil {
		return nil
	}
	recs := t.records(true, false)
	out := make([]Trace, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.snapshot())
	}
	slices.SortFunc(out, func(a, b Trace) int {
		return cmp.Or(a.StartTime.Compare(b.StartTime), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func (t *Tracer) records(active, completed bool) []*record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*record
	if active {
		out = slices.AppendSeq(out, maps.Values(t.active))
	}
	if completed {
		out = slices.AppendSeq(out, maps.Values(t.completed))
	}
	return out
}

// GetPerformanceMetrics aggregates counters and retained finished traces.
// It does not change tracer state.
func (t *Tracer) GetPerformanceMetrics() Metrics {
	if t == nil {
		return Metrics{PerComponentAvgMs: map[Component]float64{}}
	}
	t.mu.RLock()
	activeCount := len(t.active)
	done := slices.Collect(maps.Values(t.completed))
	t.mu.RUnlock()

	m := Metrics{
		Total:             t.total.Load(),
		Successful:        t.successful.Load(),
		Failed:            t.failed.Load(),
		Active:            activeCount,
		Completed:         len(done),
		PerComponentAvgMs: make(map[Component]float64),
	}
	if m.Total > 0 {
		m.SuccessRate = float64(m.Successful) / float64(m.Total)
	}

	var sum float64
	var n int
	compSum := make(map[Component]float64)
	compCount := make(map[Component]int)
	for _, r := range done {
		r.mu.Lock()
		if d := r.trace.DurationMs(); d > 0 {
			sum += d
			n++
		}
		for c, d := range r.trace.ComponentDurations() {
			compSum[c] += d
			compCount[c]++
		}
		r.mu.Unlock()
	}
	if n > 0 {
		m.AvgDurationMs = sum / float64(n)
	}
	for c, s := range compSum {
		m.PerComponentAvgMs[c] = s / float64(compCount[c])
	}
	return m
}

// Evict drops finished traces older than the TTL, then the oldest finished
// traces beyond MaxTraces. In-flight traces are never evicted. It returns
// the number of traces removed.
func (t *Tracer) Evict(now time.Time) int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evictLocked(now)
}

func (t *Tracer) evictLocked(now time.Time) int {
	type aged struct {
		id  string
		end time.Time
	}
	removed := 0
	kept := make([]aged, 0, len(t.completed))
	for id, r := range t.completed {
		// Finished traces are no longer written, so reading EndTime
		// without the record lock is safe here.
		end := *r.trace.EndTime
		if now.Sub(end) > t.opts.TTL {
			delete(t.completed, id)
			removed++
			continue
		}
		kept = append(kept, aged{id, end})
	}

	if over := len(kept) - t.opts.MaxTraces; over > 0 {
		slices.SortFunc(kept, func(a, b aged) int {
			return cmp.Or(a.end.Compare(b.end), cmp.Compare(a.id, b.id))
		})
		for _, a := range kept[:over] {
			delete(t.completed, a.id)
			removed++
		}
	}
	return removed
}
