package completion

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/opentalon/geminicog/internal/check"
	"github.com/opentalon/geminicog/internal/client"
	"github.com/opentalon/geminicog/internal/step"
	"github.com/opentalon/geminicog/pkg/cog"
)

// WordCountID is the step id of the word count check.
const WordCountID = "CompletionWordCount"

const wordCountExpression = `Gemini model (?<model>[a-zA-Z0-9_ -.]+) word count in a response to "(?<prompt>[a-zA-Z0-9_ -'".,?!]+)" should (?<operator>be set|not be set|be less than|be greater than|be one of|be|contain|not be one of|not be|not contain|match|not match) ?(?<expectation>.+)?`

// WordCount checks the number of words in a completion.
type WordCount struct {
	client client.Completer
}

// NewWordCount is the step.Factory for WordCount.
func NewWordCount(c client.Completer) step.Step {
	return &WordCount{client: c}
}

func (s *WordCount) Definition() step.Definition {
	return step.Definition{
		ID:         WordCountID,
		Name:       "Check Gemini prompt response word count from completion",
		Type:       cog.StepTypeValidation,
		Expression: wordCountExpression,
		Fields: []step.Field{
			promptField,
			modelField,
			{
				Key:         "operator",
				Type:        cog.FieldTypeString,
				Optionality: cog.Optional,
				Description: "Check Logic (be, not be, be greater than, be less than, be set, not be set, be one of, or not be one of)",
			},
			{
				Key:         "expectation",
				Type:        cog.FieldTypeNumeric,
				Optionality: cog.Optional,
				Description: "Expected word count",
			},
		},
		Records: []step.ExpectedRecord{{
			ID:            "completion",
			Type:          cog.RecordTypeKeyValue,
			Fields:        completionRecordFields(step.RecordField{Key: "word count", Type: cog.FieldTypeNumeric, Description: "Completion Word Count"}),
			DynamicFields: true,
		}},
		ActionList:   []string{"check"},
		TargetObject: "Completion",
	}
}

// CountWords returns the number of whitespace-separated words in text.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

func (s *WordCount) Execute(ctx context.Context, p step.Params) (*cog.RunStepResponse, error) {
	model := p.String("model")
	prompt := p.String("prompt")
	operator := p.StringOr("operator", "be")
	expectation := p.String("expectation")

	completion, err := s.client.Complete(ctx, model, prompt)
	if err != nil {
		return nil, fmt.Errorf("complete prompt with %s: %w", model, err)
	}

	actual := CountWords(completion.Text)
	result, err := check.Assert(operator, strconv.Itoa(actual), expectation, "response word count")
	if err != nil {
		return operatorError(err), nil
	}

	fields := completionFields(completion)
	fields["word count"] = actual
	recs := records("Checked Word Count", fields, p.IntOr(stepOrderKey, 1))
	if result.Valid {
		return step.Pass(result.Format, result.Args, recs...), nil
	}
	return step.Fail(result.Format, result.Args, recs...), nil
}
