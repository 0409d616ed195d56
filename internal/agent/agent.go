// Package agent routes messages through a priority-ordered chain of
// capability-specific agents.
package agent

import (
	"context"

	"github.com/kalambet/switchboard/internal/model"
)

// Agent handles one kind of message. CanHandle must be fast and must not
// call external providers; any network work belongs in Process.
type Agent interface {
	Name() string
	Priority() int
	CanHandle(ctx context.Context, msg model.Message) bool
	Process(ctx context.Context, msg model.Message) (model.Response, error)
}

// MemoryClearer is implemented by agents that keep per-user state.
type MemoryClearer interface {
	ClearUserMemory(userID string)
}

// Completer produces a reply to prompt. history carries the prior
// conversation as plain text and may be empty.
type Completer interface {
	Complete(ctx context.Context, prompt, history string) (string, error)
}

// ToolRunner executes a media tool for a message and returns the reply
// text.
type ToolRunner interface {
	Run(ctx context.Context, toolID string, msg model.Message) (string, error)
}
