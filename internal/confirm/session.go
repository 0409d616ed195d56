package confirm

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/switchboard/internal/model"
)

// State is a confirmation session's lifecycle state. PENDING is the only
// non-terminal state.
type State string

const (
	StatePending   State = "PENDING"
	StateConfirmed State = "CONFIRMED"
	StateRejected  State = "REJECTED"
	StateExpired   State = "EXPIRED"
	StateCancelled State = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s != StatePending }

// Session is a pending approval guarding one action.
type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ChatID     string    `json:"chat_id"`
	Prompt     string    `json:"prompt"`
	Action     any       `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	ResolvedAt time.Time `json:"resolved_at,omitzero"`
	State      State     `json:"state"`
}

func (s *Session) expiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

const callbackPrefix = "confirm"

// CallbackData builds the reply payload a button carries.
func CallbackData(sessionID string, approved bool) string {
	answer := "no"
	if approved {
		answer = "yes"
	}
	return fmt.Sprintf("%s:%s:%s", callbackPrefix, sessionID, answer)
}

// Buttons returns the yes/no reply options for a session.
func Buttons(sessionID string) []model.Button {
	return []model.Button{
		{Text: "✅ Confirm", Data: CallbackData(sessionID, true)},
		{Text: "❌ Cancel", Data: CallbackData(sessionID, false)},
	}
}

// ParseCallback decodes "confirm:<id>:yes|no". ok is false for anything
// else.
func ParseCallback(data string) (sessionID string, approved bool, ok bool) {
	parts := strings.Split(strings.TrimSpace(data), ":")
	if len(parts) != 3 || parts[0] != callbackPrefix || parts[1] == "" {
		return "", false, false
	}
	switch parts[2] {
	case "yes":
		return parts[1], true, true
	case "no":
		return parts[1], false, true
	}
	return "", false, false
}
