package step

import (
	"github.com/opentalon/geminicog/pkg/cog"
)

// Pass builds a PASSED response.
func Pass(format string, args []any, records ...*cog.StepRecord) *cog.RunStepResponse {
	return outcome(cog.OutcomePassed, format, args, records)
}

// Fail builds a FAILED response.
func Fail(format string, args []any, records ...*cog.StepRecord) *cog.RunStepResponse {
	return outcome(cog.OutcomeFailed, format, args, records)
}

// Error builds an ERROR response.
func Error(format string, args []any, records ...*cog.StepRecord) *cog.RunStepResponse {
	return outcome(cog.OutcomeError, format, args, records)
}

func outcome(o cog.Outcome, format string, args []any, records []*cog.StepRecord) *cog.RunStepResponse {
	return &cog.RunStepResponse{
		Outcome:       o,
		MessageFormat: format,
		MessageArgs:   args,
		Records:       records,
	}
}

// KeyValue builds a key-value record.
func KeyValue(id, name string, fields map[string]any) *cog.StepRecord {
	return &cog.StepRecord{ID: id, Name: name, KeyValue: fields}
}

// Table builds a table record. headers maps column keys to labels.
func Table(id, name string, headers map[string]string, rows []map[string]any) *cog.StepRecord {
	return &cog.StepRecord{ID: id, Name: name, Table: &cog.TableRecord{Headers: headers, Rows: rows}}
}
