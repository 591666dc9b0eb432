// Package completion holds steps that assert on a model's completion of a
// prompt.
package completion

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opentalon/geminicog/internal/check"
	"github.com/opentalon/geminicog/internal/client"
	"github.com/opentalon/geminicog/internal/step"
	"github.com/opentalon/geminicog/pkg/cog"
)

// stepOrderKey is set by the host on every request and numbers the step
// within its scenario.
const stepOrderKey = "__stepOrder"

var (
	promptField = step.Field{
		Key:         "prompt",
		Type:        cog.FieldTypeString,
		Optionality: cog.Required,
		Description: "User prompt to send to the model",
	}
	modelField = step.Field{
		Key:         "model",
		Type:        cog.FieldTypeString,
		Optionality: cog.Required,
		Description: "Model to use for the completion",
	}
)

func completionRecordFields(extra ...step.RecordField) []step.RecordField {
	fields := []step.RecordField{
		{Key: "model", Type: cog.FieldTypeString, Description: "Completion Model"},
		{Key: "prompt", Type: cog.FieldTypeString, Description: "Completion Prompt"},
		{Key: "response", Type: cog.FieldTypeString, Description: "Completion Model Response"},
	}
	fields = append(fields, extra...)
	return append(fields,
		step.RecordField{Key: "usage", Type: cog.FieldTypeString, Description: "Completion Usage"},
		step.RecordField{Key: "created", Type: cog.FieldTypeNumeric, Description: "Completion Create Date"},
	)
}

// completionFields flattens a completion into record fields.
func completionFields(c *client.Completion) map[string]any {
	return map[string]any{
		"model":    c.Model,
		"prompt":   c.Prompt,
		"response": c.Text,
		"usage": map[string]any{
			"input":  c.Usage.InputTokens,
			"output": c.Usage.OutputTokens,
			"total":  c.Usage.TotalTokens,
		},
		"request":       map[string]any{"prompt": c.Prompt},
		"created":       c.Created.Unix(),
		"response_time": c.Elapsed.Milliseconds(),
	}
}

// records returns the base record and the record numbered by step order.
func records(name string, fields map[string]any, stepOrder int) []*cog.StepRecord {
	return []*cog.StepRecord{
		step.KeyValue("completion", name, fields),
		step.KeyValue(fmt.Sprintf("completion.%d", stepOrder), fmt.Sprintf("%s from Step %d", name, stepOrder), fields),
	}
}

// operatorError converts an assertion error into an ERROR response.
func operatorError(err error) *cog.RunStepResponse {
	var unknown *check.UnknownOperatorError
	if errors.As(err, &unknown) {
		return step.Error("%s Please provide one of: %s", []any{unknown.Error(), strings.Join(check.Operators, ", ")})
	}
	return step.Error("There was an error checking Gemini chat completion object: %s", []any{err.Error()})
}
