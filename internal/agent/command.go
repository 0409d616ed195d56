package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kalambet/switchboard/internal/command"
	"github.com/kalambet/switchboard/internal/confirm"
	"github.com/kalambet/switchboard/internal/intent"
	"github.com/kalambet/switchboard/internal/model"
	"github.com/kalambet/switchboard/internal/preference"
)

// ConfirmPolicy decides when a command waits for approval.
// AlwaysConfirm takes precedence over AutoExecuteThreshold.
type ConfirmPolicy struct {
	AlwaysConfirm        bool
	AutoExecuteThreshold float64 // natural-language commands below this confidence ask first; 0.8
	Timeout              time.Duration
}

// CommandAgent runs infrastructure commands for admins, from slash
// commands or natural-language requests classified as command_execution.
type CommandAgent struct {
	classifier *intent.Classifier
	dispatcher *command.Dispatcher
	confirms   *confirm.Manager
	prefs      *preference.Store // optional
	policy     ConfirmPolicy
}

// NewCommandAgent creates a CommandAgent.
func NewCommandAgent(classifier *intent.Classifier, dispatcher *command.Dispatcher, confirms *confirm.Manager, prefs *preference.Store, policy ConfirmPolicy) *CommandAgent {
	if policy.AutoExecuteThreshold <= 0 {
		policy.AutoExecuteThreshold = 0.8
	}
	return &CommandAgent{
		classifier: classifier,
		dispatcher: dispatcher,
		confirms:   confirms,
		prefs:      prefs,
		policy:     policy,
	}
}

func (a *CommandAgent) Name() string  { return "command" }
func (a *CommandAgent) Priority() int { return 90 }

func (a *CommandAgent) CanHandle(_ context.Context, msg model.Message) bool {
	if !msg.User.IsAdmin() {
		return false
	}
	_, _, ok := a.parse(msg.Text)
	return ok
}

// parse returns the command and how sure we are that the user meant it.
func (a *CommandAgent) parse(text string) (command.Command, float64, bool) {
	if cmd, err := command.Parse(text); err == nil {
		return cmd, 1, true
	}
	res := a.classifier.Classify(text)
	if res.Intent != intent.CommandExecution {
		return command.Command{}, 0, false
	}
	cmd, ok := command.ParseNatural(text)
	return cmd, res.Confidence, ok
}

func (a *CommandAgent) Process(ctx context.Context, msg model.Message) (model.Response, error) {
	cmd, confidence, ok := a.parse(msg.Text)
	if !ok {
		return model.NewResponse(command.HelpText()), nil
	}
	if !command.Supported(cmd) {
		return model.NewResponse(command.HelpText(),
			model.WithMeta(model.MetaError, "unsupported_command"),
		), nil
	}

	if a.needsConfirmation(cmd, confidence) {
		var opts []confirm.RequestOption
		if a.policy.Timeout > 0 {
			opts = append(opts, confirm.WithTimeout(a.policy.Timeout))
		}
		prompt := confirmationPrompt(cmd)
		id, err := a.confirms.Request(msg.User.ID, msg.ChatID, prompt, cmd, opts...)
		if err != nil {
			return model.Response{}, fmt.Errorf("requesting confirmation: %w", err)
		}
		return model.NewResponse(prompt,
			model.WithButtons(confirm.Buttons(id)...),
			model.WithMeta(model.MetaSession, id),
			model.WithMeta(model.MetaTool, cmd.ToolName()),
		), nil
	}

	res, err := a.dispatcher.Dispatch(ctx, cmd, msg.TraceID)
	if a.prefs != nil {
		a.prefs.RecordChoice(msg.User.ID, intent.CommandExecution, cmd.ToolName(), err == nil)
	}
	var unsupported *command.UnsupportedError
	if errors.As(err, &unsupported) {
		return model.NewResponse(unsupported.Help, model.WithMeta(model.MetaError, "unsupported_command")), nil
	}
	if err != nil {
		return model.Response{}, err
	}
	return commandResponse(res).With(model.WithMeta(model.MetaIntent, string(intent.CommandExecution))), nil
}

func (a *CommandAgent) needsConfirmation(cmd command.Command, confidence float64) bool {
	if a.policy.AlwaysConfirm {
		return true
	}
	return command.Destructive(cmd) || confidence < a.policy.AutoExecuteThreshold
}

func confirmationPrompt(cmd command.Command) string {
	desc := cmd.String()
	if e, ok := command.Lookup(cmd); ok {
		desc = e.Description
		if cmd.Args != "" {
			desc += ": " + cmd.Args
		}
	}
	return fmt.Sprintf("Please confirm: %s (%s).", desc, cmd.ToolName())
}

func commandResponse(res command.Result) model.Response {
	return model.NewResponse(res.Text,
		model.WithMeta(model.MetaTool, res.Command.ToolName()),
		model.WithMeta(model.MetaEmulated, strconv.FormatBool(res.Emulated)),
	)
}
