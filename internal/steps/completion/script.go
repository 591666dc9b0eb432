package completion

import (
	"context"
	"fmt"
	"time"

	"github.com/opentalon/geminicog/internal/client"
	"github.com/opentalon/geminicog/internal/lua"
	"github.com/opentalon/geminicog/internal/step"
	"github.com/opentalon/geminicog/pkg/cog"
)

// ScriptID is the step id of the script check.
const ScriptID = "CompletionScript"

const scriptExpression = `Gemini model (?<model>[a-zA-Z0-9_ -.]+) response to "(?<prompt>[a-zA-Z0-9_ -'".,?!]+)" should pass script (?<script>.+)`

// scriptTimeout bounds a single check script run.
const scriptTimeout = 5 * time.Second

// Script checks a completion with a Lua predicate.
type Script struct {
	client client.Completer
}

// NewScript is the step.Factory for Script.
func NewScript(c client.Completer) step.Step {
	return &Script{client: c}
}

func (s *Script) Definition() step.Definition {
	return step.Definition{
		ID:         ScriptID,
		Name:       "Check Gemini prompt response with a script",
		Type:       cog.StepTypeValidation,
		Expression: scriptExpression,
		Fields: []step.Field{
			promptField,
			modelField,
			{
				Key:         "script",
				Type:        cog.FieldTypeString,
				Optionality: cog.Required,
				Description: "Lua source defining check(response)",
				Help:        "check receives the response text and returns a boolean (optionally followed by a message) or a table { pass = <bool>, message = <string> }.",
			},
		},
		Records: []step.ExpectedRecord{{
			ID:            "completion",
			Type:          cog.RecordTypeKeyValue,
			Fields:        completionRecordFields(),
			DynamicFields: true,
		}},
		ActionList:   []string{"check"},
		TargetObject: "Completion",
	}
}

func (s *Script) Execute(ctx context.Context, p step.Params) (*cog.RunStepResponse, error) {
	model := p.String("model")
	prompt := p.String("prompt")

	completion, err := s.client.Complete(ctx, model, prompt)
	if err != nil {
		return nil, fmt.Errorf("complete prompt with %s: %w", model, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()
	res, err := lua.RunCheck(runCtx, p.String("script"), completion.Text)
	if err != nil {
		return step.Error("There was an error running the check script: %s", []any{err.Error()}), nil
	}

	recs := records("Checked Script", completionFields(completion), p.IntOr(stepOrderKey, 1))
	msg := res.Message
	if res.Pass {
		if msg == "" {
			msg = "the response passed the check script"
		}
		return step.Pass("Script check passed: %s", []any{msg}, recs...), nil
	}
	if msg == "" {
		msg = "the response did not pass the check script"
	}
	return step.Fail("Script check failed: %s", []any{msg}, recs...), nil
}
