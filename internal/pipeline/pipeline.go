// Package pipeline runs one message through its whole lifecycle: tracing,
// per-conversation ordering and agent routing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kalambet/switchboard/internal/agent"
	"github.com/kalambet/switchboard/internal/confirm"
	"github.com/kalambet/switchboard/internal/model"
	"github.com/kalambet/switchboard/internal/preference"
	"github.com/kalambet/switchboard/internal/queue"
	"github.com/kalambet/switchboard/internal/tracing"
)

// BusyText is returned when a conversation's queue is full or the
// service is shutting down.
const BusyText = "I'm busy with your previous messages. Please try again shortly."

// TimeoutText is returned when the caller gives up before the reply is ready.
const TimeoutText = "This is taking longer than expected. Please try again."

// Deps holds the process-wide state shared by every request. Router and
// Queue are required; Tracer, Preferences and Confirmations may be nil.
type Deps struct {
	Tracer        *tracing.Tracer
	Preferences   *preference.Store
	Confirmations *confirm.Manager
	Queue         *queue.Executor
	Router        *agent.Router
	Logger        *slog.Logger
}

// Pipeline accepts messages and returns one response for each.
type Pipeline struct {
	deps      Deps
	closeOnce sync.Once
	closeErr  error
}

// New validates deps and returns a Pipeline.
func New(deps Deps) (*Pipeline, error) {
	if deps.Router == nil {
		return nil, errors.New("pipeline: router is required")
	}
	if deps.Queue == nil {
		return nil, errors.New("pipeline: queue is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Pipeline{deps: deps}, nil
}

// Deps returns the shared state the pipeline was built with.
func (p *Pipeline) Deps() Deps { return p.deps }

// Start opens a trace for msg and returns the message carrying its id.
// Messages that already have a trace id are returned unchanged.
func (p *Pipeline) Start(msg model.Message) (model.Message, error) {
	if msg.TraceID != "" {
		return msg, nil
	}
	traceID := p.deps.Tracer.CreateTrace(msg.User.ID, msg.ChatID, map[string]any{
		"message_id": msg.ID,
		"kind":       string(msg.Kind),
	})
	return msg.WithTraceID(traceID)
}

// Handle traces msg, queues it behind earlier messages of the same
// conversation and waits for the routed response. A response is always
// returned; the error is non-nil when the message was not processed
// normally (queue full, shutdown, caller cancellation).
func (p *Pipeline) Handle(ctx context.Context, msg model.Message) (model.Response, error) {
	tr := p.deps.Tracer
	msg, err := p.Start(msg)
	if err != nil {
		return model.NewResponse(agent.ApologyText), err
	}
	tr.AddEvent(msg.TraceID, tracing.Event{
		Component: tracing.ComponentWebhook,
		Step:      tracing.StepReceived,
		Details:   map[string]any{"chat_id": msg.ChatID, "kind": string(msg.Kind)},
		Success:   true,
	})

	done := make(chan model.Response, 1)
	job := queue.JobFunc(func(ctx context.Context) error {
		done <- p.deps.Router.Process(ctx, msg)
		return nil
	})

	if err = p.deps.Queue.Submit(ctx, msg.ConversationKey(), job); err != nil {
		return p.rejected(ctx, msg, err)
	}

	select {
	case resp := <-done:
		status := tracing.StatusCompleted
		meta := map[string]any{"agent": resp.Meta(model.MetaAgent)}
		if outcome := resp.Meta(model.MetaError); outcome != "" {
			meta["outcome"] = outcome
		}
		if agent.IsFailure(resp) {
			status = tracing.StatusFailed
		}
		tr.CompleteTrace(msg.TraceID, status, meta)
		return resp, nil

	case <-ctx.Done():
		p.deps.Logger.Warn("message timed out", "trace_id", msg.TraceID, "user_id", msg.User.ID, "error", ctx.Err())
		tr.CompleteTrace(msg.TraceID, tracing.StatusTimedOut, map[string]any{"error": ctx.Err().Error()})
		return model.NewResponse(TimeoutText, model.WithMeta(model.MetaError, "timeout")), ctx.Err()
	}
}

func (p *Pipeline) rejected(ctx context.Context, msg model.Message, err error) (model.Response, error) {
	p.deps.Logger.Warn("message rejected", "trace_id", msg.TraceID, "key", msg.ConversationKey(), "error", err)
	p.deps.Tracer.AddEvent(msg.TraceID, tracing.Event{
		Component: tracing.ComponentQueue,
		Step:      tracing.StepErrorHandled,
		Success:   false,
		Error:     err.Error(),
	})

	if ctx.Err() != nil {
		p.deps.Tracer.CompleteTrace(msg.TraceID, tracing.StatusTimedOut, nil)
		return model.NewResponse(TimeoutText, model.WithMeta(model.MetaError, "timeout")), err
	}
	p.deps.Tracer.CompleteTrace(msg.TraceID, tracing.StatusFailed, map[string]any{"error": err.Error()})
	outcome := "busy"
	if errors.Is(err, queue.ErrExecutorClosed) {
		outcome = "shutting_down"
	}
	return model.NewResponse(BusyText, model.WithMeta(model.MetaError, outcome)), fmt.Errorf("queueing message: %w", err)
}

// Close stops the queue after draining it and persists preferences. It is
// safe to call more than once.
func (p *Pipeline) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.deps.Queue.Stop()
		if p.deps.Preferences != nil {
			p.closeErr = p.deps.Preferences.Flush(ctx)
		}
	})
	return p.closeErr
}
