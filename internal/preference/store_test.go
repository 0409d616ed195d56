package preference

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/switchboard/internal/intent"
)

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Mock persistence ---

type mockPersistence struct {
	mu      sync.Mutex
	stored  []Pattern
	loadErr error
	saveErr error
	saves   int
}

func (m *mockPersistence) LoadPreferences(context.Context) ([]Pattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Pattern(nil), m.stored...), m.loadErr
}

func (m *mockPersistence) SavePreferences(_ context.Context, p []Pattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.stored = append([]Pattern(nil), p...)
	return nil
}

func newTestStore(t *testing.T, p Persistence) (*Store, *mockClock) {
	t.Helper()
	clock := &mockClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewStore(Options{Clock: clock, Persistence: p}), clock
}

func TestPreferredTool_AfterThreshold(t *testing.T) {
	s, _ := newTestStore(t, nil)
	for i := 0; i < 3; i++ {
		s.RecordChoice("1", intent.MediaAnalysis, "A", true)
	}

	tool, conf := s.PreferredTool("1", intent.MediaAnalysis, []string{"A", "B"})
	if tool != "A" {
		t.Fatalf("tool = %q, want %q", tool, "A")
	}
	if conf <= 0 || conf > 1 {
		t.Errorf("confidence = %v, want in (0, 1]", conf)
	}
}

func TestPreferredTool_BelowThreshold(t *testing.T) {
	s, _ := newTestStore(t, nil)
	s.RecordChoice("1", intent.MediaAnalysis, "A", true)
	s.RecordChoice("1", intent.MediaAnalysis, "A", true)

	if tool, conf := s.PreferredTool("1", intent.MediaAnalysis, []string{"A"}); tool != "" || conf != 0 {
		t.Errorf("PreferredTool = (%q, %v), want no preference", tool, conf)
	}
}

func TestPreferredTool_NoOverlap(t *testing.T) {
	s, _ := newTestStore(t, nil)
	for i := 0; i < 5; i++ {
		s.RecordChoice("1", intent.MediaAnalysis, "A", true)
	}
	if tool, conf := s.PreferredTool("1", intent.MediaAnalysis, []string{"B", "C"}); tool != "" || conf != 0 {
		t.Errorf("PreferredTool = (%q, %v), want no preference", tool, conf)
	}
	if tool, _ := s.PreferredTool("1", intent.MediaAnalysis, nil); tool != "" {
		t.Errorf("PreferredTool with no candidates = %q", tool)
	}
}

func TestPreferredTool_Expired(t *testing.T) {
	s, clock := newTestStore(t, nil)
	for i := 0; i < 3; i++ {
		s.RecordChoice("1", intent.MediaAnalysis, "A", true)
	}
	clock.Advance(31 * 24 * time.Hour)

	if tool, _ := s.PreferredTool("1", intent.MediaAnalysis, []string{"A"}); tool != "" {
		t.Errorf("expired pattern still preferred: %q", tool)
	}
}

func TestPreferredTool_LowSuccessRate(t *testing.T) {
	s, _ := newTestStore(t, nil)
	s.RecordChoice("1", intent.MediaAnalysis, "A", true)
	for i := 0; i < 3; i++ {
		s.RecordChoice("1", intent.MediaAnalysis, "A", false)
	}
	if tool, _ := s.PreferredTool("1", intent.MediaAnalysis, []string{"A"}); tool != "" {
		t.Errorf("tool with 25%% success preferred: %q", tool)
	}
}

func TestPreferredTool_BestScoreWins(t *testing.T) {
	s, _ := newTestStore(t, nil)
	// A: 3/4 success, B: 5/5 success.
	for i := 0; i < 3; i++ {
		s.RecordChoice("1", intent.MediaGeneration, "A", true)
	}
	s.RecordChoice("1", intent.MediaGeneration, "A", false)
	for i := 0; i < 5; i++ {
		s.RecordChoice("1", intent.MediaGeneration, "B", true)
	}

	if tool, _ := s.PreferredTool("1", intent.MediaGeneration, []string{"A", "B"}); tool != "B" {
		t.Errorf("tool = %q, want B", tool)
	}
}

func TestScore_Formula(t *testing.T) {
	s, clock := newTestStore(t, nil)
	p := Pattern{Uses: 10, Successes: 8, LastUsedAt: clock.Now().Add(-5 * 24 * time.Hour)}
	// 0.8 + min(0.2, 0.2) - min(0.3, 0.05) = 0.95
	got := s.score(p, clock.Now())
	if diff := got - 0.95; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("score = %v, want 0.95", got)
	}

	old := Pattern{Uses: 3, Successes: 3, LastUsedAt: clock.Now().Add(-100 * 24 * time.Hour)}
	// 1 + 0.06 - 0.3 (capped)
	got = s.score(old, clock.Now())
	if diff := got - 0.76; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("score = %v, want 0.76", got)
	}
}

func TestRecordChoice_ConcurrentKeepsInvariant(t *testing.T) {
	s, _ := newTestStore(t, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.RecordChoice("u", intent.CommandExecution, "mcp", i%2 == 0)
		}(i)
	}
	wg.Wait()

	patterns := s.Export()
	if len(patterns) != 1 {
		t.Fatalf("patterns = %d, want 1", len(patterns))
	}
	p := patterns[0]
	if p.Uses != 50 || p.Successes != 25 {
		t.Errorf("uses/successes = %d/%d, want 50/25", p.Uses, p.Successes)
	}
}

func TestUserStatistics(t *testing.T) {
	s, _ := newTestStore(t, nil)
	for i := 0; i < 4; i++ {
		s.RecordChoice("u", intent.CommandExecution, "mcp", true)
	}
	s.RecordChoice("u", intent.MediaAnalysis, "youtube", false)
	s.RecordChoice("u", intent.MediaAnalysis, "youtube", true)
	s.RecordChoice("other", intent.MediaAnalysis, "youtube", true)

	st := s.UserStatistics("u")
	if st.TotalPatterns != 2 {
		t.Errorf("TotalPatterns = %d, want 2", st.TotalPatterns)
	}
	if st.TotalChoices != 6 {
		t.Errorf("TotalChoices = %d, want 6", st.TotalChoices)
	}
	if want := 5.0 / 6.0; st.SuccessRate != want {
		t.Errorf("SuccessRate = %v, want %v", st.SuccessRate, want)
	}
	if len(st.TopTools) != 2 || st.TopTools[0].ToolID != "mcp" {
		t.Errorf("TopTools = %+v", st.TopTools)
	}

	if empty := s.UserStatistics("nobody"); empty.TotalPatterns != 0 || empty.SuccessRate != 0 {
		t.Errorf("empty stats = %+v", empty)
	}
}

func TestCleanup(t *testing.T) {
	s, clock := newTestStore(t, nil)
	s.RecordChoice("u", intent.CommandExecution, "old", true)
	clock.Advance(20 * 24 * time.Hour)
	s.RecordChoice("u", intent.CommandExecution, "fresh", true)
	clock.Advance(15 * 24 * time.Hour)

	if n := s.Cleanup(); n != 1 {
		t.Errorf("Cleanup() = %d, want 1", n)
	}
	exported := s.Export()
	if len(exported) != 1 || exported[0].ToolID != "fresh" {
		t.Errorf("remaining = %+v", exported)
	}
}

func TestCleanup_DropsEmptyEntries(t *testing.T) {
	s, clock := newTestStore(t, nil)
	s.RecordChoice("u", intent.CommandExecution, "old", true)
	s.RecordChoice("v", intent.MediaGeneration, "dalle", true)
	clock.Advance(31 * 24 * time.Hour)

	if n := s.Cleanup(); n != 2 {
		t.Fatalf("Cleanup() = %d, want 2", n)
	}
	s.mu.RLock()
	left := len(s.entries)
	s.mu.RUnlock()
	if left != 0 {
		t.Errorf("entries = %d after cleanup, want 0", left)
	}

	// The key is usable again after its entry was dropped.
	s.RecordChoice("u", intent.CommandExecution, "new", true)
	if got := s.Export(); len(got) != 1 || got[0].ToolID != "new" {
		t.Errorf("exported = %+v", got)
	}
}

func TestLoad_ExternalWins(t *testing.T) {
	clockNow := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := &mockPersistence{stored: []Pattern{
		{UserID: "u", Intent: intent.CommandExecution, ToolID: "mcp", Uses: 10, Successes: 9, LastUsedAt: clockNow},
	}}
	s, _ := newTestStore(t, p)
	s.RecordChoice("u", intent.CommandExecution, "mcp", false)
	s.RecordChoice("u", intent.CommandExecution, "shell", true)

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := s.Export()
	if len(got) != 2 {
		t.Fatalf("patterns = %+v", got)
	}
	if got[0].ToolID != "mcp" || got[0].Uses != 10 || got[0].Successes != 9 {
		t.Errorf("mcp pattern = %+v, want external values", got[0])
	}
	if got[1].ToolID != "shell" || got[1].Uses != 1 {
		t.Errorf("shell pattern = %+v, want in-memory values kept", got[1])
	}
}

func TestLoad_CorruptFallsBack(t *testing.T) {
	p := &mockPersistence{loadErr: errors.New("disk on fire")}
	s, _ := newTestStore(t, p)

	err := s.Load(context.Background())
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Load err = %v, want ErrCorrupt", err)
	}
	s.RecordChoice("u", intent.GeneralChat, "chat", true)
	if len(s.Export()) != 1 {
		t.Error("store unusable after failed load")
	}
}

func TestLoad_SkipsInvalidPatterns(t *testing.T) {
	p := &mockPersistence{stored: []Pattern{
		{UserID: "u", Intent: intent.GeneralChat, ToolID: "a", Uses: 1, Successes: 5},
		{UserID: "u", Intent: intent.GeneralChat, ToolID: "b", Uses: 2, Successes: 1},
	}}
	s, _ := newTestStore(t, p)
	if err := s.Load(context.Background()); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Load err = %v, want ErrCorrupt", err)
	}
	got := s.Export()
	if len(got) != 1 || got[0].ToolID != "b" {
		t.Errorf("patterns = %+v, want only the valid one", got)
	}
}

func TestFlush_OnlyWhenDirty(t *testing.T) {
	p := &mockPersistence{}
	s, _ := newTestStore(t, p)
	ctx := context.Background()

	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if p.saves != 0 {
		t.Errorf("saves = %d, want 0 for a clean store", p.saves)
	}

	s.RecordChoice("u", intent.GeneralChat, "chat", true)
	if !s.Dirty() {
		t.Fatal("Dirty() = false after write")
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if p.saves != 1 || len(p.stored) != 1 {
		t.Errorf("saves = %d stored = %d, want 1/1", p.saves, len(p.stored))
	}
	if s.Dirty() {
		t.Error("Dirty() = true after flush")
	}

	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if p.saves != 1 {
		t.Errorf("saves = %d after clean flush, want 1", p.saves)
	}
}

func TestFlush_ErrorKeepsDirty(t *testing.T) {
	p := &mockPersistence{saveErr: errors.New("read-only")}
	s, _ := newTestStore(t, p)
	s.RecordChoice("u", intent.GeneralChat, "chat", true)

	if err := s.Flush(context.Background()); err == nil {
		t.Fatal("Flush() error = nil")
	}
	if !s.Dirty() {
		t.Error("Dirty() = false after failed flush")
	}
}
