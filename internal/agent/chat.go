package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kalambet/switchboard/internal/model"
)

type turn struct {
	role string
	text string
}

// ChatAgent is the catch-all: it sends the message to a Completer along
// with the user's recent conversation.
type ChatAgent struct {
	completer Completer
	maxTurns  int

	mu      sync.Mutex
	history map[string][]turn
}

// NewChatAgent creates a ChatAgent remembering up to maxTurns messages per
// user (default 20).
func NewChatAgent(completer Completer, maxTurns int) *ChatAgent {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	return &ChatAgent{completer: completer, maxTurns: maxTurns, history: make(map[string][]turn)}
}

func (a *ChatAgent) Name() string  { return "chat" }
func (a *ChatAgent) Priority() int { return 10 }

func (a *ChatAgent) CanHandle(context.Context, model.Message) bool { return true }

func (a *ChatAgent) Process(ctx context.Context, msg model.Message) (model.Response, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return model.NewResponse("I can only read text messages for now."), nil
	}

	reply, err := a.completer.Complete(ctx, text, a.transcript(msg.User.ID))
	if err != nil {
		return model.Response{}, fmt.Errorf("completing chat reply: %w", err)
	}
	a.remember(msg.User.ID, turn{"user", text}, turn{"assistant", reply})
	return model.NewResponse(reply), nil
}

func (a *ChatAgent) transcript(userID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var b strings.Builder
	for _, t := range a.history[userID] {
		fmt.Fprintf(&b, "%s: %s\n", t.role, t.text)
	}
	return b.String()
}

func (a *ChatAgent) remember(userID string, turns ...turn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := append(a.history[userID], turns...)
	if over := len(h) - a.maxTurns; over > 0 {
		h = append([]turn(nil), h[over:]...)
	}
	a.history[userID] = h
}

// ClearUserMemory forgets userID's conversation.
func (a *ChatAgent) ClearUserMemory(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.history, userID)
}
