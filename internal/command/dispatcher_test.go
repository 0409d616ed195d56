package command

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/switchboard/internal/tracing"
)

type mockExecutor struct {
	mu    sync.Mutex
	calls int
	errs  []error // consumed one per call; nil entries succeed
	text  string
}

func (m *mockExecutor) Execute(_ context.Context, cmd Command) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return Result{}, err
		}
	}
	return Result{Text: m.text}, nil
}

func newTestDispatcher(exec Executor) (*Dispatcher, *tracing.Tracer, string) {
	tr := tracing.New(tracing.Options{})
	id := tr.CreateTrace("admin", "", nil)
	return NewDispatcher(exec, tr, DispatcherOptions{RetryDelay: time.Millisecond}), tr, id
}

var listApps = Command{Provider: ProviderDigitalOcean, Action: "list_apps"}

func TestDispatch_Success(t *testing.T) {
	exec := &mockExecutor{text: "2 apps"}
	d, tr, id := newTestDispatcher(exec)

	res, err := d.Dispatch(context.Background(), listApps, id)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Text != "2 apps" || res.Emulated || res.Command != listApps {
		t.Errorf("result = %+v", res)
	}

	got, _ := tr.GetTrace(id)
	if len(got.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(got.Events))
	}
	e := got.Events[0]
	if e.Component != tracing.ComponentTool || e.Step != tracing.StepToolExecuted || !e.Success {
		t.Errorf("event = %+v", e)
	}
	if e.Details["action"] != "list_apps" {
		t.Errorf("details = %v", e.Details)
	}
}

func TestDispatch_Unsupported(t *testing.T) {
	exec := &mockExecutor{}
	d, tr, id := newTestDispatcher(exec)

	_, err := d.Dispatch(context.Background(), Command{Provider: "github", Action: "issues"}, id)
	if !errors.Is(err, ErrUnsupportedCommand) {
		t.Fatalf("err = %v, want ErrUnsupportedCommand", err)
	}
	var ue *UnsupportedError
	if !errors.As(err, &ue) || !strings.Contains(ue.Help, "/mcp apps list") {
		t.Errorf("help = %q", ue.Help)
	}
	if exec.calls != 0 {
		t.Errorf("executor called %d times", exec.calls)
	}
	if got, _ := tr.GetTrace(id); len(got.Events) != 0 {
		t.Errorf("unsupported command traced: %+v", got.Events)
	}
}

func TestDispatch_RetryOnceThenSucceed(t *testing.T) {
	exec := &mockExecutor{errs: []error{ErrProviderUnavailable}, text: "ok"}
	d, _, id := newTestDispatcher(exec)

	res, err := d.Dispatch(context.Background(), listApps, id)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if exec.calls != 2 || res.Emulated || res.Text != "ok" {
		t.Errorf("calls = %d result = %+v", exec.calls, res)
	}
}

func TestDispatch_UnavailableFallsBackToEmulation(t *testing.T) {
	unavailable := errors.Join(ErrProviderUnavailable, errors.New("dial tcp: refused"))
	exec := &mockExecutor{errs: []error{unavailable, unavailable, unavailable}}
	d, tr, id := newTestDispatcher(exec)

	res, err := d.Dispatch(context.Background(), listApps, id)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if exec.calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", exec.calls)
	}
	if !res.Emulated || !strings.HasPrefix(res.Text, EmulatedLabel) {
		t.Errorf("result = %+v, want labeled emulation", res)
	}
	if !strings.Contains(res.Text, "artem-webhook-bot") {
		t.Errorf("text = %q", res.Text)
	}
	if got, _ := tr.GetTrace(id); len(got.Events) != 1 || !got.Events[0].Success {
		t.Errorf("events = %+v", got.Events)
	}
}

func TestDispatch_PermanentErrorNotRetried(t *testing.T) {
	boom := errors.New("tool rejected input")
	exec := &mockExecutor{errs: []error{boom}}
	d, tr, id := newTestDispatcher(exec)

	_, err := d.Dispatch(context.Background(), listApps, id)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped tool error", err)
	}
	if exec.calls != 1 {
		t.Errorf("calls = %d, want 1", exec.calls)
	}
	got, _ := tr.GetTrace(id)
	if len(got.Events) != 1 || got.Events[0].Success {
		t.Errorf("events = %+v, want one failure", got.Events)
	}
}

func TestDispatch_NilExecutorEmulates(t *testing.T) {
	d := NewDispatcher(nil, nil, DispatcherOptions{})
	res, err := d.Dispatch(context.Background(), Command{Provider: ProviderOps, Action: "deploy"}, "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.Emulated || !strings.Contains(res.Text, "not executed") {
		t.Errorf("result = %+v", res)
	}
}

func TestDispatch_CancelledContext(t *testing.T) {
	exec := &mockExecutor{errs: []error{ErrProviderUnavailable, ErrProviderUnavailable}}
	tr := tracing.New(tracing.Options{})
	d := NewDispatcher(exec, tr, DispatcherOptions{RetryDelay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := d.Dispatch(ctx, listApps, "")
	if err == nil {
		t.Fatalf("err = nil, result = %+v", res)
	}
	if res.Emulated {
		t.Error("cancelled request must not fall back to emulation")
	}
}

func TestEmulate(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{listApps, "test-deployment"},
		{Command{Provider: ProviderSupabase, Action: "list_tables"}, "preferences"},
		{Command{Provider: ProviderOps, Action: "status"}, "unavailable"},
		{Command{Provider: ProviderOps, Action: "restart"}, "not executed"},
	}
	for _, tt := range tests {
		res := Emulate(tt.cmd)
		if !res.Emulated || !strings.HasPrefix(res.Text, EmulatedLabel) || !strings.Contains(res.Text, tt.want) {
			t.Errorf("Emulate(%s) = %+v", tt.cmd, res)
		}
	}
}
