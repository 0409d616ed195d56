// Package preference learns which tool each user prefers for each intent.
package preference

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kalambet/switchboard/internal/intent"
	"github.com/kalambet/switchboard/internal/keylock"
)

// ErrCorrupt reports a snapshot that could not be used. The store keeps
// working on whatever it already holds.
var ErrCorrupt = errors.New("preference snapshot corrupt")

// Options tunes a Store. Zero fields take defaults.
type Options struct {
	MinUses        int           // 3
	TTL            time.Duration // 30 days
	MinSuccessRate float64       // 0.5
	Clock          Clock
	Persistence    Persistence // optional
	Logger         *slog.Logger
}

type entryKey struct {
	user   string
	intent intent.Intent
}

func (k entryKey) String() string { return k.user + "\x00" + string(k.intent) }

// entry holds per-tool tallies for one (user, intent) key. Its fields are
// guarded by the key's stripe in Store.locks.
type entry struct {
	tools map[string]*Pattern
}

// Store keeps preference patterns in memory. Writers to the same
// (user, intent) key are serialized; different keys proceed in parallel.
type Store struct {
	opts  Options
	locks *keylock.Striped

	mu      sync.RWMutex
	entries map[entryKey]*entry

	version atomic.Uint64
	saved   atomic.Uint64
}

// NewStore creates an empty Store.
func NewStore(opts Options) *Store {
	if opts.MinUses <= 0 {
		opts.MinUses = 3
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * 24 * time.Hour
	}
	if opts.MinSuccessRate < 0 {
		opts.MinSuccessRate = 0
	} else if opts.MinSuccessRate == 0 {
		opts.MinSuccessRate = 0.5
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		opts:    opts,
		locks:   keylock.New(0),
		entries: make(map[entryKey]*entry),
	}
}

func (s *Store) getOrCreate(k entryKey) *entry {
	s.mu.RLock()
	e, ok := s.entries[k]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[k]; ok {
		return e
	}
	e = &entry{tools: make(map[string]*Pattern)}
	s.entries[k] = e
	return e
}

// lockEntry takes k's stripe and returns its entry, creating it if needed.
// Cleanup only removes entries under the stripe, so the entry stays
// registered until unlock is called.
func (s *Store) lockEntry(k entryKey) (*entry, func()) {
	unlock := s.locks.Lock(k.String())
	return s.getOrCreate(k), unlock
}

func (s *Store) lookup(k entryKey) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[k]
}

// RecordChoice counts one use of toolID for (userID, in), and one success
// when success is true.
func (s *Store) RecordChoice(userID string, in intent.Intent, toolID string, success bool) {
	if userID == "" || toolID == "" {
		return
	}
	e, unlock := s.lockEntry(entryKey{userID, in})
	defer unlock()

	p, ok := e.tools[toolID]
	if !ok {
		p = &Pattern{UserID: userID, Intent: in, ToolID: toolID}
		e.tools[toolID] = p
	}
	p.Uses++
	if success {
		p.Successes++
	}
	p.LastUsedAt = s.opts.Clock.Now()
	s.version.Add(1)
}

// PreferredTool returns the best candidate for (userID, in) and a
// confidence in (0, 1]. A tool qualifies when it has at least MinUses
// uses, has not expired and meets MinSuccessRate. It returns ("", 0) when
// nothing qualifies. Ties go to the earlier candidate.
func (s *Store) PreferredTool(userID string, in intent.Intent, candidates []string) (string, float64) {
	k := entryKey{userID, in}
	e := s.lookup(k)
	if e == nil || len(candidates) == 0 {
		return "", 0
	}

	unlock := s.locks.Lock(k.String())
	defer unlock()

	now := s.opts.Clock.Now()
	var best string
	var bestScore float64
	for _, c := range candidates {
		p, ok := e.tools[c]
		if !ok || !s.qualifies(*p, now) {
			continue
		}
		if sc := s.score(*p, now); sc > bestScore {
			best, bestScore = c, sc
		}
	}
	if best == "" {
		return "", 0
	}
	return best, math.Min(bestScore, 1)
}

func (s *Store) expired(p Pattern, now time.Time) bool {
	return now.Sub(p.LastUsedAt) > s.opts.TTL
}

func (s *Store) qualifies(p Pattern, now time.Time) bool {
	return p.Uses >= s.opts.MinUses && !s.expired(p, now) && p.SuccessRate() >= s.opts.MinSuccessRate
}

// score = success rate + usage bonus (max 0.2) - age penalty (max 0.3).
func (s *Store) score(p Pattern, now time.Time) float64 {
	ageDays := now.Sub(p.LastUsedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return p.SuccessRate() + math.Min(0.2, float64(p.Uses)*0.02) - math.Min(0.3, ageDays*0.01)
}

// UserStatistics summarizes live patterns for userID.
func (s *Store) UserStatistics(userID string) Statistics {
	now := s.opts.Clock.Now()
	var st Statistics
	var successes int
	byTool := make(map[string]*ToolUsage)
	toolSuccesses := make(map[string]int)

	for _, p := range s.snapshot(func(k entryKey) bool { return k.user == userID }) {
		if s.expired(p, now) {
			continue
		}
		st.TotalPatterns++
		st.TotalChoices += p.Uses
		successes += p.Successes

		u, ok := byTool[p.ToolID]
		if !ok {
			u = &ToolUsage{ToolID: p.ToolID}
			byTool[p.ToolID] = u
		}
		u.Uses += p.Uses
		toolSuccesses[p.ToolID] += p.Successes
	}
	if st.TotalChoices > 0 {
		st.SuccessRate = float64(successes) / float64(st.TotalChoices)
	}

	tools := make([]ToolUsage, 0, len(byTool))
	for id, u := range byTool {
		if u.Uses > 0 {
			u.SuccessRate = float64(toolSuccesses[id]) / float64(u.Uses)
		}
		tools = append(tools, *u)
	}
	slices.SortFunc(tools, func(a, b ToolUsage) int {
		if c := cmp.Compare(b.Uses, a.Uses); c != 0 {
			return c
		}
		return cmp.Compare(a.ToolID, b.ToolID)
	})
	if len(tools) > 3 {
		tools = tools[:3]
	}
	st.TopTools = tools
	return st
}

// snapshot copies every pattern whose key passes filter (nil = all),
// taking each key's lock in turn.
func (s *Store) snapshot(filter func(entryKey) bool) []Pattern {
	s.mu.RLock()
	keys := make([]entryKey, 0, len(s.entries))
	entries := make([]*entry, 0, len(s.entries))
	for k, e := range s.entries {
		if filter == nil || filter(k) {
			keys = append(keys, k)
			entries = append(entries, e)
		}
	}
	s.mu.RUnlock()

	var out []Pattern
	for i, e := range entries {
		unlock := s.locks.Lock(keys[i].String())
		for _, p := range e.tools {
			out = append(out, *p)
		}
		unlock()
	}
	return out
}

// Export returns every stored pattern, expired ones included, in a stable
// order (user, intent, tool).
func (s *Store) Export() []Pattern {
	out := s.snapshot(nil)
	slices.SortFunc(out, func(a, b Pattern) int {
		return cmp.Or(
			cmp.Compare(a.UserID, b.UserID),
			cmp.Compare(a.Intent, b.Intent),
			cmp.Compare(a.ToolID, b.ToolID),
		)
	})
	return out
}

// Cleanup removes expired patterns and returns how many were dropped.
func (s *Store) Cleanup() int {
	now := s.opts.Clock.Now()

	s.mu.RLock()
	keys := make([]entryKey, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	removed := 0
	for _, k := range keys {
		unlock := s.locks.Lock(k.String())
		e := s.lookup(k)
		if e == nil {
			unlock()
			continue
		}
		for id, p := range e.tools {
			if s.expired(*p, now) {
				delete(e.tools, id)
				removed++
			}
		}
		if len(e.tools) == 0 {
			s.mu.Lock()
			delete(s.entries, k)
			s.mu.Unlock()
		}
		unlock()
	}
	if removed > 0 {
		s.version.Add(1)
		s.opts.Logger.Info("expired preference patterns removed", "count", removed)
	}
	return removed
}

// Merge installs patterns on top of the in-memory state. Incoming patterns
// win on (user, intent, tool) collisions. Invalid patterns are skipped and
// reported as ErrCorrupt after the valid ones are applied.
func (s *Store) Merge(patterns []Pattern) error {
	skipped := 0
	for _, p := range patterns {
		if !p.valid() {
			skipped++
			continue
		}
		e, unlock := s.lockEntry(entryKey{p.UserID, p.Intent})
		cp := p
		e.tools[p.ToolID] = &cp
		unlock()
	}
	if skipped > 0 {
		return fmt.Errorf("%w: skipped %d invalid patterns", ErrCorrupt, skipped)
	}
	return nil
}

// Load reads the persisted snapshot and merges it. Failures are logged and
// returned; the store stays usable with whatever it holds.
func (s *Store) Load(ctx context.Context) error {
	if s.opts.Persistence == nil {
		return nil
	}
	patterns, err := s.opts.Persistence.LoadPreferences(ctx)
	if err != nil {
		s.opts.Logger.Warn("loading preferences failed, starting empty", "error", err)
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := s.Merge(patterns); err != nil {
		s.opts.Logger.Warn("preference snapshot partially loaded", "error", err)
		return err
	}
	s.saved.Store(s.version.Load())
	s.opts.Logger.Info("preferences loaded", "patterns", len(patterns))
	return nil
}

// Dirty reports whether there are writes not yet flushed.
func (s *Store) Dirty() bool {
	return s.version.Load() != s.saved.Load()
}

// Flush saves a snapshot when there are unsaved writes.
func (s *Store) Flush(ctx context.Context) error {
	if s.opts.Persistence == nil || !s.Dirty() {
		return nil
	}
	v := s.version.Load()
	snap := s.Export()
	if err := s.opts.Persistence.SavePreferences(ctx, snap); err != nil {
		return fmt.Errorf("saving preferences: %w", err)
	}
	s.saved.Store(v)
	return nil
}
