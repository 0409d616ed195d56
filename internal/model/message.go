package model

import (
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the privilege level of a chat user.
type Role string

const (
	RoleGuest Role = "guest"
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Kind describes how a message reached the bot.
type Kind string

const (
	KindText     Kind = "text"
	KindVoice    Kind = "voice"
	KindCommand  Kind = "command"
	KindBusiness Kind = "business"
)

// MetaBusinessConnection is the metadata key carrying a business-connection id.
const MetaBusinessConnection = "business_connection_id"

var (
	ErrMissingUser     = errors.New("message: user id is required")
	ErrMissingChat     = errors.New("message: chat id is required")
	ErrInvalidRole     = errors.New("message: unknown user role")
	ErrInvalidKind     = errors.New("message: unknown message kind")
	ErrTraceIDAssigned = errors.New("message: trace id already assigned")
)

// User identifies the sender of a message.
type User struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"display_name,omitempty"`
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// Message is one inbound unit of work. It is built once at ingress and read
// only afterwards; use the With* methods to derive modified copies.
type Message struct {
	ID         string            `json:"id"`
	User       User              `json:"user"`
	ChatID     string            `json:"chat_id"`
	Text       string            `json:"text,omitempty"`
	Kind       Kind              `json:"kind"`
	ReceivedAt time.Time         `json:"received_at"`
	TraceID    string            `json:"trace_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// MessageParams holds the inputs accepted by NewMessage.
type MessageParams struct {
	ID          string
	UserID      string
	Role        Role
	DisplayName string
	ChatID      string
	Text        string
	Kind        Kind
	ReceivedAt  time.Time
	TraceID     string
	Metadata    map[string]string
}

// NewMessage validates p and builds a Message. Missing optional fields get
// defaults: a random id, the guest role, the current time, and a kind of
// "command" for slash-prefixed text or "text" otherwise.
func NewMessage(p MessageParams) (Message, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return Message{}, ErrMissingUser
	}
	if strings.TrimSpace(p.ChatID) == "" {
		return Message{}, ErrMissingChat
	}

	role := p.Role
	if role == "" {
		role = RoleGuest
	}
	switch role {
	case RoleGuest, RoleUser, RoleAdmin:
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	kind := p.Kind
	if kind == "" {
		kind = KindText
		if strings.HasPrefix(strings.TrimSpace(p.Text), "/") {
			kind = KindCommand
		}
	}
	switch kind {
	case KindText, KindVoice, KindCommand, KindBusiness:
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	received := p.ReceivedAt
	if received.IsZero() {
		received = time.Now().UTC()
	}

	return Message{
		ID:         id,
		User:       User{ID: p.UserID, Role: role, DisplayName: p.DisplayName},
		ChatID:     p.ChatID,
		Text:       p.Text,
		Kind:       kind,
		ReceivedAt: received,
		TraceID:    p.TraceID,
		Metadata:   maps.Clone(p.Metadata),
	}, nil
}

// WithTraceID returns a copy of m carrying traceID. A trace id can be set
// only once per message.
func (m Message) WithTraceID(traceID string) (Message, error) {
	if m.TraceID != "" && m.TraceID != traceID {
		return m, ErrTraceIDAssigned
	}
	out := m
	out.TraceID = traceID
	out.Metadata = maps.Clone(m.Metadata)
	return out, nil
}

// Meta returns a metadata value or "".
func (m Message) Meta(key string) string {
	return m.Metadata[key]
}

// ConversationKey identifies the (user, chat) pair that serializes
// processing of this message. The user id is length-prefixed so distinct
// pairs never share a key.
func (m Message) ConversationKey() string {
	return strconv.Itoa(len(m.User.ID)) + ":" + m.User.ID + ":" + m.ChatID
}

// IsCommand reports whether the text starts with a slash command.
func (m Message) IsCommand() bool {
	return strings.HasPrefix(strings.TrimSpace(m.Text), "/")
}
