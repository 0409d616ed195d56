package maintenance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/switchboard/internal/confirm"
	"github.com/kalambet/switchboard/internal/tracing"
)

type fakePrefs struct {
	mu       sync.Mutex
	order    []string
	flushErr error
}

func (f *fakePrefs) Cleanup() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, "cleanup")
	return 2
}

func (f *fakePrefs) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, "flush")
	return f.flushErr
}

type countingSweeper struct{ calls atomic.Int32 }

func (c *countingSweeper) SweepExpired() int {
	c.calls.Add(1)
	return 1
}

func TestRunOnce_AllTasks(t *testing.T) {
	prefs := &fakePrefs{}
	sweeper := &countingSweeper{}
	tr := tracing.New(tracing.Options{TTL: time.Millisecond})
	id := tr.CreateTrace("u1", "", nil)
	tr.CompleteTrace(id, tracing.StatusCompleted, nil)

	w := NewWorker(sweeper, tr, prefs, 0)
	w.now = func() time.Time { return time.Now().Add(time.Hour) }

	r, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	want := Report{ExpiredSessions: 1, EvictedTraces: 1, CleanedPatterns: 2}
	if r != want {
		t.Errorf("report = %+v, want %+v", r, want)
	}
	if len(prefs.order) != 2 || prefs.order[0] != "cleanup" || prefs.order[1] != "flush" {
		t.Errorf("preference calls = %v, want cleanup then flush", prefs.order)
	}
}

func TestRunOnce_NilDependencies(t *testing.T) {
	r, err := NewWorker(nil, nil, nil, 0).RunOnce(context.Background())
	if err != nil || r != (Report{}) {
		t.Errorf("got %+v, %v", r, err)
	}
}

func TestRunOnce_FlushError(t *testing.T) {
	boom := errors.New("disk full")
	_, err := NewWorker(nil, nil, &fakePrefs{flushErr: boom}, 0).RunOnce(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestRunOnce_ExpiresConfirmations(t *testing.T) {
	m := confirm.NewManager(confirm.Options{Timeout: time.Millisecond})
	if _, err := m.Request("u1", "c1", "deploy?", nil); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	r, err := NewWorker(m, nil, nil, 0).RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r.ExpiredSessions != 1 || m.ActiveCount() != 0 {
		t.Errorf("expired %d, active %d", r.ExpiredSessions, m.ActiveCount())
	}
}

func TestRun_TicksAndFinalPass(t *testing.T) {
	sweeper := &countingSweeper{}
	prefs := &fakePrefs{}
	w := NewWorker(sweeper, nil, prefs, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for sweeper.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("worker did not tick")
		}
		time.Sleep(time.Millisecond)
	}
	before := sweeper.calls.Load()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if sweeper.calls.Load() <= before {
		t.Error("no final pass after cancellation")
	}
}
