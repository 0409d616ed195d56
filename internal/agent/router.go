package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/kalambet/switchboard/internal/model"
	"github.com/kalambet/switchboard/internal/tracing"
)

// ErrNoDefaultAgent is returned by NewRouter without a default agent.
var ErrNoDefaultAgent = errors.New("router needs a default agent")

// ApologyText is the only failure text users ever see.
const ApologyText = "Sorry, something went wrong while handling your message. Please try again in a moment."

// Status describes one registered agent.
type Status struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Default  bool   `json:"default"`
}

// RouterOptions configures a Router.
type RouterOptions struct {
	Tracer *tracing.Tracer // optional
	Logger *slog.Logger
}

// Router dispatches each message to the first agent, by descending
// priority, whose CanHandle accepts it. The default agent runs when none
// does.
type Router struct {
	agents []Agent
	def    Agent
	tracer *tracing.Tracer
	logger *slog.Logger
}

// NewRouter orders agents by priority, keeping registration order on
// ties. def is consulted last and always handles what reaches it.
func NewRouter(def Agent, opts RouterOptions, agents ...Agent) (*Router, error) {
	if def == nil {
		return nil, ErrNoDefaultAgent
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	sorted := slices.Clone(agents)
	slices.SortStableFunc(sorted, func(a, b Agent) int { return b.Priority() - a.Priority() })
	return &Router{agents: sorted, def: def, tracer: opts.Tracer, logger: opts.Logger}, nil
}

// Process returns exactly one response for msg. Agent errors and panics
// become ApologyText; their detail goes to the trace and the log.
func (r *Router) Process(ctx context.Context, msg model.Message) model.Response {
	r.tracer.Mark(msg.TraceID, tracing.StatusInProgress)

	for _, a := range r.agents {
		if err := ctx.Err(); err != nil {
			return r.cancelled(msg, err)
		}
		if r.canHandle(ctx, a, msg) {
			return r.process(ctx, a, msg)
		}
	}
	if err := ctx.Err(); err != nil {
		return r.cancelled(msg, err)
	}
	return r.process(ctx, r.def, msg)
}

func (r *Router) canHandle(ctx context.Context, a Agent, msg model.Message) bool {
	var ok bool
	details := map[string]any{"agent": a.Name(), "check": "can_handle"}
	err := r.tracer.TraceOperation(ctx, msg.TraceID, tracing.ComponentRouter, tracing.StepRouted, details,
		func(ctx context.Context) (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("can_handle panicked: %v", p)
				}
			}()
			ok = a.CanHandle(ctx, msg)
			return nil
		})
	if err != nil {
		r.logger.Error("agent can_handle failed", "agent", a.Name(), "trace_id", msg.TraceID, "error", err)
		return false
	}
	return ok
}

func (r *Router) process(ctx context.Context, a Agent, msg model.Message) model.Response {
	name := a.Name()
	var resp model.Response
	var panicked bool
	start := time.Now()

	details := map[string]any{"agent": name}
	err := r.tracer.TraceOperation(ctx, msg.TraceID, tracing.ComponentAgent, tracing.StepProcessing, details,
		func(ctx context.Context) (err error) {
			defer func() {
				if p := recover(); p != nil {
					panicked = true
					err = fmt.Errorf("agent %s panicked: %v", name, p)
				}
			}()
			resp, err = a.Process(ctx, msg)
			return err
		})
	processDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		outcome := outcomeError
		if panicked {
			outcome = outcomePanic
		}
		dispatchTotal.WithLabelValues(name, outcome).Inc()
		r.logger.Error("agent failed", "agent", name, "trace_id", msg.TraceID, "user_id", msg.User.ID, "error", err)
		r.tracer.AddEvent(msg.TraceID, tracing.Event{
			Component: tracing.ComponentError,
			Step:      tracing.StepErrorHandled,
			Details:   map[string]any{"agent": name},
			Success:   false,
			Error:     err.Error(),
		})
		return model.NewResponse(ApologyText,
			model.WithMeta(model.MetaAgent, name),
			model.WithMeta(model.MetaError, outcome),
		)
	}

	dispatchTotal.WithLabelValues(name, outcomeOK).Inc()
	r.tracer.AddEvent(msg.TraceID, tracing.Event{
		Component: tracing.ComponentAgent,
		Step:      tracing.StepResponseGenerated,
		Details:   map[string]any{"agent": name},
		Success:   true,
	})
	if resp.IsZero() {
		resp = model.NewResponse("")
	}
	return resp.With(model.WithMeta(model.MetaAgent, name))
}

func (r *Router) cancelled(msg model.Message, err error) model.Response {
	dispatchTotal.WithLabelValues("", outcomeCancelled).Inc()
	r.logger.Warn("routing abandoned", "trace_id", msg.TraceID, "error", err)
	r.tracer.AddEvent(msg.TraceID, tracing.Event{
		Component: tracing.ComponentRouter,
		Step:      tracing.StepErrorHandled,
		Success:   false,
		Error:     err.Error(),
	})
	return model.NewResponse(ApologyText, model.WithMeta(model.MetaError, outcomeCancelled))
}

// Status lists agents in routing order, default last.
func (r *Router) Status() []Status {
	out := make([]Status, 0, len(r.agents)+1)
	for _, a := range r.agents {
		out = append(out, Status{Name: a.Name(), Priority: a.Priority()})
	}
	return append(out, Status{Name: r.def.Name(), Priority: r.def.Priority(), Default: true})
}

// ClearUserMemory asks every agent that keeps per-user state to forget
// userID. It returns how many agents were cleared.
func (r *Router) ClearUserMemory(userID string) int {
	n := 0
	for _, a := range append(slices.Clone(r.agents), r.def) {
		if mc, ok := a.(MemoryClearer); ok {
			mc.ClearUserMemory(userID)
			n++
		}
	}
	r.logger.Info("user memory cleared", "user_id", userID, "agents", n)
	return n
}

// IsFailure reports whether resp is the router's apology for an agent
// error, a panic or an abandoned request. Agent-level outcomes such as a
// rejected confirmation are not failures.
func IsFailure(resp model.Response) bool {
	switch resp.Meta(model.MetaError) {
	case outcomeError, outcomePanic, outcomeCancelled:
		return resp.Text() == ApologyText
	}
	return false
}
