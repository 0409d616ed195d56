package agent

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kalambet/switchboard/internal/intent"
	"github.com/kalambet/switchboard/internal/model"
	"github.com/kalambet/switchboard/internal/preference"
	"github.com/kalambet/switchboard/internal/tracing"
)

// ToolAgent handles media requests by running one of the tools registered
// for the message's intent. The user's learned preference picks the tool
// when there is one; otherwise the first registered tool runs.
type ToolAgent struct {
	classifier *intent.Classifier
	prefs      *preference.Store // optional
	runner     ToolRunner
	tools      map[intent.Intent][]string
	tracer     *tracing.Tracer // optional
}

// NewToolAgent creates a ToolAgent. tools maps each intent to its candidate
// tool ids in fallback order. Tool runs are timed on tracer when it is set.
func NewToolAgent(classifier *intent.Classifier, prefs *preference.Store, runner ToolRunner, tools map[intent.Intent][]string, tracer *tracing.Tracer) *ToolAgent {
	cp := make(map[intent.Intent][]string, len(tools))
	for k, v := range tools {
		if len(v) > 0 {
			cp[k] = append([]string(nil), v...)
		}
	}
	return &ToolAgent{classifier: classifier, prefs: prefs, runner: runner, tools: cp, tracer: tracer}
}

func (a *ToolAgent) Name() string  { return "tool" }
func (a *ToolAgent) Priority() int { return 50 }

func (a *ToolAgent) CanHandle(_ context.Context, msg model.Message) bool {
	if a.runner == nil {
		return false
	}
	_, ok := a.tools[a.classifier.Classify(msg.Text).Intent]
	return ok
}

func (a *ToolAgent) Process(ctx context.Context, msg model.Message) (model.Response, error) {
	res := a.classifier.Classify(msg.Text)
	if clar := a.classifier.Clarify(msg.Text, res); clar.Intent == intent.ClarificationNeeded {
		return a.clarify(msg.Text), nil
	}

	candidates := a.tools[res.Intent]
	if len(candidates) == 0 {
		return model.Response{}, fmt.Errorf("no tool registered for %s", res.Intent)
	}

	toolID := candidates[0]
	source := "default"
	if a.prefs != nil {
		if preferred, conf := a.prefs.PreferredTool(msg.User.ID, res.Intent, candidates); preferred != "" {
			toolID = preferred
			source = "preference:" + strconv.FormatFloat(conf, 'f', 2, 64)
		}
	}

	var text string
	details := map[string]any{"tool": toolID, "intent": string(res.Intent), "source": source}
	err := a.tracer.TraceOperation(ctx, msg.TraceID, tracing.ComponentTool, tracing.StepToolExecuted, details,
		func(ctx context.Context) error {
			var err error
			text, err = a.runner.Run(ctx, toolID, msg)
			return err
		})
	if a.prefs != nil {
		a.prefs.RecordChoice(msg.User.ID, res.Intent, toolID, err == nil)
	}
	if err != nil {
		return model.Response{}, fmt.Errorf("tool %s: %w", toolID, err)
	}
	return model.NewResponse(text,
		model.WithMeta(model.MetaTool, toolID),
		model.WithMeta(model.MetaIntent, string(res.Intent)),
		model.WithMeta("tool_source", source),
	), nil
}

func (a *ToolAgent) clarify(text string) model.Response {
	opts := a.classifier.ClarificationOptions(text)
	buttons := make([]model.Button, 0, len(opts))
	for _, o := range opts {
		buttons = append(buttons, model.Button{Text: o.Title, Data: "intent:" + string(o.Intent)})
	}
	return model.NewResponse("I'm not sure what you'd like me to do. Pick one:",
		model.WithButtons(buttons...),
		model.WithMeta(model.MetaIntent, string(intent.ClarificationNeeded)),
	)
}
