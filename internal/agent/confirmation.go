package agent

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/kalambet/switchboard/internal/command"
	"github.com/kalambet/switchboard/internal/confirm"
	"github.com/kalambet/switchboard/internal/intent"
	"github.com/kalambet/switchboard/internal/model"
	"github.com/kalambet/switchboard/internal/preference"
)

var (
	yesWords = []string{"да", "yes", "y", "ок", "ok", "подтверждаю", "confirm", "✅", "+"}
	noWords  = []string{"нет", "no", "n", "отмена", "cancel", "❌", "-"}
)

// ConfirmationAgent answers pending confirmation prompts, either from a
// button callback ("confirm:<id>:yes") or a plain yes/no reply in the chat
// that has a pending session. Approved commands are dispatched.
type ConfirmationAgent struct {
	confirms   *confirm.Manager
	dispatcher *command.Dispatcher
	prefs      *preference.Store // optional
}

// NewConfirmationAgent creates a ConfirmationAgent.
func NewConfirmationAgent(confirms *confirm.Manager, dispatcher *command.Dispatcher, prefs *preference.Store) *ConfirmationAgent {
	return &ConfirmationAgent{confirms: confirms, dispatcher: dispatcher, prefs: prefs}
}

func (a *ConfirmationAgent) Name() string  { return "confirmation" }
func (a *ConfirmationAgent) Priority() int { return 100 }

func (a *ConfirmationAgent) CanHandle(_ context.Context, msg model.Message) bool {
	if _, _, ok := confirm.ParseCallback(msg.Text); ok {
		return true
	}
	if _, ok := yesNo(msg.Text); !ok {
		return false
	}
	return a.confirms.HasPending(msg.User.ID, msg.ChatID)
}

func (a *ConfirmationAgent) Process(ctx context.Context, msg model.Message) (model.Response, error) {
	id, approved, ok := confirm.ParseCallback(msg.Text)
	if !ok {
		approved, _ = yesNo(msg.Text)
		s, found := a.confirms.PendingFor(msg.User.ID, msg.ChatID)
		if !found {
			return model.NewResponse(confirm.UserMessage(confirm.ErrExpired)), nil
		}
		id = s.ID
	}

	action, err := a.confirms.ResolveAs(msg.User.ID, id, approved)
	if err != nil {
		return model.NewResponse(confirm.UserMessage(err),
			model.WithMeta(model.MetaSession, id),
			model.WithMeta(model.MetaError, resolveOutcome(err)),
		), nil
	}

	cmd, isCmd := action.(command.Command)
	if !isCmd {
		return model.NewResponse("Confirmed.", model.WithMeta(model.MetaSession, id)), nil
	}

	res, err := a.dispatcher.Dispatch(ctx, cmd, msg.TraceID)
	a.record(msg.User.ID, cmd, err == nil)
	if err != nil {
		return model.Response{}, err
	}
	return commandResponse(res).With(model.WithMeta(model.MetaSession, id)), nil
}

func (a *ConfirmationAgent) record(userID string, cmd command.Command, success bool) {
	if a.prefs != nil {
		a.prefs.RecordChoice(userID, intent.CommandExecution, cmd.ToolName(), success)
	}
}

func resolveOutcome(err error) string {
	switch {
	case errors.Is(err, confirm.ErrRejected):
		return "rejected"
	case errors.Is(err, confirm.ErrExpired):
		return "expired"
	case errors.Is(err, confirm.ErrAlreadyResolved):
		return "already_resolved"
	default:
		return "not_found"
	}
}

// yesNo reads a short affirmative or negative reply.
func yesNo(text string) (approved, ok bool) {
	t := strings.ToLower(strings.Trim(strings.TrimSpace(text), ".!"))
	if t == "" {
		return false, false
	}
	if slices.Contains(yesWords, t) {
		return true, true
	}
	if slices.Contains(noWords, t) {
		return false, true
	}
	return false, false
}
