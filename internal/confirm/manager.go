// Package confirm tracks approve/reject decisions that guard irreversible
// actions.
package confirm

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/switchboard/internal/keylock"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options configures a Manager. Zero fields take defaults.
type Options struct {
	Timeout   time.Duration // 5 minutes
	Retention time.Duration // how long resolved sessions stay visible; 1 hour
	Clock     Clock
	Logger    *slog.Logger
}

// RequestOption adjusts a single Request.
type RequestOption func(*requestConfig)

type requestConfig struct {
	timeout time.Duration
}

// WithTimeout overrides the manager's default expiry for one session.
func WithTimeout(d time.Duration) RequestOption {
	return func(c *requestConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Stats summarizes the session table.
type Stats struct {
	Total              int           `json:"total_sessions"`
	ByState            map[State]int `json:"by_state"`
	Active             int           `json:"active"`
	ActiveUsers        int           `json:"active_users"`
	AvgResponseSeconds float64       `json:"avg_response_time_seconds"`
}

// Manager holds confirmation sessions. At most one session per
// (user, chat) is pending: a new Request replaces the pending one and
// the old session becomes CANCELLED.
//
// Transitions for one conversation are serialized by that conversation's
// lock; the maps themselves sit behind mu.
type Manager struct {
	opts  Options
	locks *keylock.Striped

	mu       sync.RWMutex
	sessions map[string]*Session
	pending  map[string]string // conversation key -> session id
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		opts:     opts,
		locks:    keylock.New(0),
		sessions: make(map[string]*Session),
		pending:  make(map[string]string),
	}
}

// conversationKey length-prefixes the user id so that ids containing the
// separator cannot collide.
func conversationKey(userID, chatID string) string {
	return strconv.Itoa(len(userID)) + ":" + userID + ":" + chatID
}

// Request creates a PENDING session and returns its id.
func (m *Manager) Request(userID, chatID, prompt string, action any, opts ...RequestOption) (string, error) {
	if userID == "" || chatID == "" {
		return "", ErrInvalidRequest
	}
	cfg := requestConfig{timeout: m.opts.Timeout}
	for _, o := range opts {
		o(&cfg)
	}

	key := conversationKey(userID, chatID)
	unlock := m.locks.Lock(key)
	defer unlock()

	now := m.opts.Clock.Now()
	s := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		ChatID:    chatID,
		Prompt:    prompt,
		Action:    action,
		CreatedAt: now,
		ExpiresAt: now.Add(cfg.timeout),
		State:     StatePending,
	}

	m.mu.Lock()
	var replaced *Session
	if oldID, ok := m.pending[key]; ok {
		replaced = m.sessions[oldID]
	}
	m.sessions[s.ID] = s
	m.pending[key] = s.ID
	m.mu.Unlock()

	if replaced != nil && replaced.State == StatePending {
		replaced.State = StateCancelled
		replaced.ResolvedAt = now
		m.opts.Logger.Info("confirmation replaced", "session_id", replaced.ID, "by", s.ID, "user_id", userID)
	}
	m.opts.Logger.Info("confirmation requested", "session_id", s.ID, "user_id", userID, "expires_at", s.ExpiresAt)
	return s.ID, nil
}

// Resolve answers a session. On approval it returns the stored action
// unchanged; on rejection it returns ErrRejected.
func (m *Manager) Resolve(sessionID string, approved bool) (any, error) {
	return m.resolve("", sessionID, approved)
}

// ResolveAs is Resolve restricted to the session's owner. A session owned
// by someone else is reported as ErrNotFound.
func (m *Manager) ResolveAs(userID, sessionID string, approved bool) (any, error) {
	if userID == "" {
		return nil, ErrNotFound
	}
	return m.resolve(userID, sessionID, approved)
}

func (m *Manager) resolve(userID, sessionID string, approved bool) (any, error) {
	s := m.lookup(sessionID)
	if s == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if userID != "" && s.UserID != userID {
		m.opts.Logger.Warn("confirmation owner mismatch", "session_id", sessionID, "user_id", userID)
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	key := conversationKey(s.UserID, s.ChatID)
	unlock := m.locks.Lock(key)
	defer unlock()

	now := m.opts.Clock.Now()
	switch s.State {
	case StatePending:
	case StateExpired:
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrExpired)
	default:
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, s.State, ErrAlreadyResolved)
	}

	if s.expiredAt(now) {
		m.finish(key, s, StateExpired, now)
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrExpired)
	}
	if !approved {
		m.finish(key, s, StateRejected, now)
		m.opts.Logger.Info("confirmation rejected", "session_id", sessionID)
		return nil, ErrRejected
	}
	m.finish(key, s, StateConfirmed, now)
	m.opts.Logger.Info("confirmation accepted", "session_id", sessionID)
	return s.Action, nil
}

// finish moves s to a terminal state. Caller holds the conversation lock.
func (m *Manager) finish(key string, s *Session, state State, now time.Time) {
	s.State = state
	s.ResolvedAt = now

	m.mu.Lock()
	if m.pending[key] == s.ID {
		delete(m.pending, key)
	}
	m.mu.Unlock()
}

func (m *Manager) lookup(sessionID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// Cancel withdraws a pending session. It reports whether anything changed.
func (m *Manager) Cancel(sessionID string) bool {
	s := m.lookup(sessionID)
	if s == nil {
		return false
	}
	key := conversationKey(s.UserID, s.ChatID)
	unlock := m.locks.Lock(key)
	defer unlock()
	if s.State != StatePending {
		return false
	}
	m.finish(key, s, StateCancelled, m.opts.Clock.Now())
	return true
}

// Get returns a copy of the session.
func (m *Manager) Get(sessionID string) (Session, bool) {
	s := m.lookup(sessionID)
	if s == nil {
		return Session{}, false
	}
	unlock := m.locks.Lock(conversationKey(s.UserID, s.ChatID))
	defer unlock()
	return *s, true
}

// PendingFor returns the live pending session for (userID, chatID). A
// session found past its expiry is moved to EXPIRED and not returned.
func (m *Manager) PendingFor(userID, chatID string) (Session, bool) {
	key := conversationKey(userID, chatID)
	unlock := m.locks.Lock(key)
	defer unlock()

	m.mu.RLock()
	s := m.sessions[m.pending[key]]
	m.mu.RUnlock()
	if s == nil || s.State != StatePending {
		return Session{}, false
	}
	if now := m.opts.Clock.Now(); s.expiredAt(now) {
		m.finish(key, s, StateExpired, now)
		return Session{}, false
	}
	return *s, true
}

// HasPending reports whether (userID, chatID) has a live pending session.
// Unlike PendingFor it never changes session state.
func (m *Manager) HasPending(userID, chatID string) bool {
	key := conversationKey(userID, chatID)
	unlock := m.locks.Lock(key)
	defer unlock()

	m.mu.RLock()
	s := m.sessions[m.pending[key]]
	m.mu.RUnlock()
	return s != nil && s.State == StatePending && !s.expiredAt(m.opts.Clock.Now())
}

// ActiveCount returns the number of pending sessions not yet past expiry.
func (m *Manager) ActiveCount() int {
	now := m.opts.Clock.Now()
	n := 0
	for _, s := range m.all() {
		unlock := m.locks.Lock(conversationKey(s.UserID, s.ChatID))
		if s.State == StatePending && !s.expiredAt(now) {
			n++
		}
		unlock()
	}
	return n
}

func (m *Manager) all() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// SweepExpired moves overdue pending sessions to EXPIRED and forgets
// terminal sessions older than the retention window. It returns how many
// sessions expired in this sweep.
func (m *Manager) SweepExpired() int {
	now := m.opts.Clock.Now()
	expired := 0
	var forget []string
	for _, s := range m.all() {
		key := conversationKey(s.UserID, s.ChatID)
		unlock := m.locks.Lock(key)
		switch {
		case s.State == StatePending && s.expiredAt(now):
			m.finish(key, s, StateExpired, now)
			expired++
		case s.State.Terminal() && now.Sub(s.ResolvedAt) > m.opts.Retention:
			forget = append(forget, s.ID)
		}
		unlock()
	}

	if len(forget) > 0 {
		m.mu.Lock()
		for _, id := range forget {
			delete(m.sessions, id)
		}
		m.mu.Unlock()
	}
	if expired > 0 || len(forget) > 0 {
		m.opts.Logger.Info("confirmation sweep", "expired", expired, "forgotten", len(forget))
	}
	return expired
}

// Stats returns counts by state and the mean time to answer for sessions
// that were confirmed or rejected.
func (m *Manager) Stats() Stats {
	now := m.opts.Clock.Now()
	st := Stats{ByState: make(map[State]int)}
	users := make(map[string]struct{})
	var total time.Duration
	var answered int

	for _, s := range m.all() {
		unlock := m.locks.Lock(conversationKey(s.UserID, s.ChatID))
		st.Total++
		st.ByState[s.State]++
		users[s.UserID] = struct{}{}
		if s.State == StatePending && !s.expiredAt(now) {
			st.Active++
		}
		if s.State == StateConfirmed || s.State == StateRejected {
			total += s.ResolvedAt.Sub(s.CreatedAt)
			answered++
		}
		unlock()
	}
	st.ActiveUsers = len(users)
	if answered > 0 {
		st.AvgResponseSeconds = total.Seconds() / float64(answered)
	}
	return st
}
