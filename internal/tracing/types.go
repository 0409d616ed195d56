package tracing

import (
	"maps"
	"time"
)

// Component names the part of the system that emitted an event.
type Component string

const (
	ComponentWebhook Component = "webhook"
	ComponentAgent   Component = "agent"
	ComponentTool    Component = "tool"
	ComponentMemory  Component = "memory"
	ComponentAuth    Component = "auth"
	ComponentError   Component = "error"
	ComponentRouter  Component = "router"
	ComponentQueue   Component = "queue"
)

// Step names a processing stage.
type Step string

const (
	StepReceived          Step = "received"
	StepParsed            Step = "parsed"
	StepRouted            Step = "routed"
	StepProcessing        Step = "processing"
	StepToolExecuted      Step = "tool_executed"
	StepResponseGenerated Step = "response_generated"
	StepSent              Step = "sent"
	StepErrorHandled      Step = "error_handled"
)

// Status is a trace's lifecycle state.
type Status string

const (
	StatusStarted    Status = "started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTimedOut   Status = "timed_out"
)

// Final reports whether the status ends a trace.
func (s Status) Final() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimedOut
}

// Event is one recorded step. Details values are expected to be scalars;
// copies of a trace share them.
type Event struct {
	Timestamp  time.Time      `json:"timestamp"`
	Component  Component      `json:"component"`
	Step       Step           `json:"step"`
	Details    map[string]any `json:"details,omitempty"`
	DurationMs *float64       `json:"duration_ms,omitempty"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
}

// Trace is the timeline of one request.
type Trace struct {
	ID        string         `json:"trace_id"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id,omitempty"`
	StartTime time.Time      `json:"start_time"`
	EndTime   *time.Time     `json:"end_time,omitempty"`
	Status    Status         `json:"status"`
	Events    []Event        `json:"events"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// DurationMs returns the wall time of a finished trace, or 0 while it is
// in flight.
func (t Trace) DurationMs() float64 {
	if t.EndTime == nil {
		return 0
	}
	return float64(t.EndTime.Sub(t.StartTime)) / float64(time.Millisecond)
}

// ComponentDurations sums measured event durations per component.
func (t Trace) ComponentDurations() map[Component]float64 {
	out := make(map[Component]float64)
	for _, e := range t.Events {
		if e.DurationMs != nil {
			out[e.Component] += *e.DurationMs
		}
	}
	return out
}

func (t *Trace) clone() Trace {
	cp := *t
	cp.Metadata = maps.Clone(t.Metadata)
	if t.EndTime != nil {
		end := *t.EndTime
		cp.EndTime = &end
	}
	cp.Events = make([]Event, len(t.Events))
	for i, e := range t.Events {
		e.Details = maps.Clone(e.Details)
		if e.DurationMs != nil {
			d := *e.DurationMs
			e.DurationMs = &d
		}
		cp.Events[i] = e
	}
	return cp
}

// Metrics aggregates tracer state. Averages cover retained finished traces.
type Metrics struct {
	Total             int64                 `json:"total_requests"`
	Successful        int64                 `json:"successful_requests"`
	Failed            int64                 `json:"failed_requests"`
	SuccessRate       float64               `json:"success_rate"`
	Active            int                   `json:"active_traces"`
	Completed         int                   `json:"completed_traces"`
	AvgDurationMs     float64               `json:"avg_duration_ms"`
	PerComponentAvgMs map[Component]float64 `json:"per_component_avg_ms"`
}
