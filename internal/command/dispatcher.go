package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/kalambet/switchboard/internal/tracing"
)

var (
	// ErrUnsupportedCommand is matched by *UnsupportedError.
	ErrUnsupportedCommand = errors.New("unsupported command")

	// ErrProviderUnavailable means the execution provider could not be
	// reached. Executors wrap transport failures with it.
	ErrProviderUnavailable = errors.New("execution provider unavailable")
)

// UnsupportedError carries the rejected command and the help text to show
// instead.
type UnsupportedError struct {
	Command Command
	Help    string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported command %s", e.Command)
}

func (e *UnsupportedError) Is(target error) bool { return target == ErrUnsupportedCommand }

// Result is the outcome of a dispatched command.
type Result struct {
	Command  Command       `json:"command"`
	Text     string        `json:"text"`
	Data     any           `json:"data,omitempty"`
	Emulated bool          `json:"emulated"`
	Duration time.Duration `json:"duration"`
}

// Executor runs a command against an external provider.
type Executor interface {
	Execute(ctx context.Context, cmd Command) (Result, error)
}

// DispatcherOptions tunes a Dispatcher. Zero fields take defaults.
type DispatcherOptions struct {
	RetryDelay time.Duration // pause before the single retry; 200ms
	Logger     *slog.Logger
}

// Dispatcher validates commands against the catalog and forwards them to an
// Executor, degrading to an emulated answer when the provider is down.
type Dispatcher struct {
	exec   Executor
	tracer *tracing.Tracer
	opts   DispatcherOptions
}

// NewDispatcher creates a Dispatcher. exec may be nil, in which case every
// command is emulated. tracer may be nil.
func NewDispatcher(exec Executor, tracer *tracing.Tracer, opts DispatcherOptions) *Dispatcher {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 200 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{exec: exec, tracer: tracer, opts: opts}
}

// Dispatch runs cmd. Unknown commands fail with *UnsupportedError. A
// provider reporting ErrProviderUnavailable is retried once; if it is
// still down the result is an emulated, clearly labeled answer.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command, traceID string) (Result, error) {
	if !Supported(cmd) {
		return Result{}, &UnsupportedError{Command: cmd, Help: HelpText()}
	}

	var res Result
	details := map[string]any{"provider": string(cmd.Provider), "action": cmd.Action}
	err := d.tracer.TraceOperation(ctx, traceID, tracing.ComponentTool, tracing.StepToolExecuted, details,
		func(ctx context.Context) error {
			start := time.Now()
			r, err := d.execute(ctx, cmd, traceID)
			if err != nil {
				return err
			}
			r.Command = cmd
			r.Duration = time.Since(start)
			res = r
			return nil
		})
	return res, err
}

func (d *Dispatcher) execute(ctx context.Context, cmd Command, traceID string) (Result, error) {
	if d.exec == nil {
		return Emulate(cmd), nil
	}

	var res Result
	op := func() error {
		r, err := d.exec.Execute(ctx, cmd)
		if err == nil {
			res = r
			return nil
		}
		if errors.Is(err, ErrProviderUnavailable) {
			d.opts.Logger.Warn("command provider unavailable", "trace_id", traceID, "command", cmd.String(), "error", err)
			return err
		}
		return backoff.Permanent(err)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(d.opts.RetryDelay), 1), ctx)

	err := backoff.Retry(op, b)
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, ErrProviderUnavailable) && ctx.Err() == nil:
		d.opts.Logger.Warn("falling back to emulated command result", "trace_id", traceID, "command", cmd.String())
		return Emulate(cmd), nil
	default:
		return Result{}, fmt.Errorf("executing %s: %w", cmd, err)
	}
}
