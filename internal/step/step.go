// Package step defines the step contract: what a step declares about itself,
// how its typed inputs are parsed, how it reports outcomes and records, and
// the registry the dispatcher resolves step ids against.
package step

import (
	"context"

	"github.com/opentalon/geminicog/internal/client"
	"github.com/opentalon/geminicog/pkg/cog"
)

// Step is one atomic, parameterized test action.
type Step interface {
	// Definition describes the step. It must not use the client, since the
	// registry reads it from an instance built without one.
	Definition() Definition
	// Execute runs the step. Assertion failures are reported as FAILED
	// responses; a returned error is treated as an execution fault.
	Execute(ctx context.Context, params Params) (*cog.RunStepResponse, error)
}

// Factory builds a step bound to the client of the current call.
type Factory func(c client.Completer) Step

// Field declares one input field.
type Field struct {
	Key         string
	Type        cog.FieldType
	Optionality cog.Optionality
	Description string
	Help        string
}

// RecordField declares one field of an expected record.
type RecordField struct {
	Key         string
	Type        cog.FieldType
	Description string
}

// ExpectedRecord declares a record the step may emit.
type ExpectedRecord struct {
	ID            string
	Type          cog.RecordType
	Fields        []RecordField
	DynamicFields bool
}

// Definition is the static description of a step.
type Definition struct {
	ID           string
	Name         string
	Type         cog.StepType
	Expression   string
	Fields       []Field
	Records      []ExpectedRecord
	ActionList   []string
	TargetObject string
}

// Field returns the declared field named key.
func (d Definition) Field(key string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Proto converts the definition to its manifest form.
func (d Definition) Proto() *cog.StepDefinition {
	fields := make([]*cog.FieldDefinition, len(d.Fields))
	for i, f := range d.Fields {
		fields[i] = &cog.FieldDefinition{
			Key:         f.Key,
			Optionality: f.Optionality,
			Type:        f.Type,
			Description: f.Description,
			Help:        f.Help,
		}
	}
	records := make([]*cog.RecordDefinition, len(d.Records))
	for i, r := range d.Records {
		guaranteed := make([]*cog.FieldDefinition, len(r.Fields))
		for j, f := range r.Fields {
			guaranteed[j] = &cog.FieldDefinition{
				Key:         f.Key,
				Optionality: cog.Required,
				Type:        f.Type,
				Description: f.Description,
			}
		}
		records[i] = &cog.RecordDefinition{
			ID:                r.ID,
			Type:              r.Type,
			GuaranteedFields:  guaranteed,
			MayHaveMoreFields: r.DynamicFields,
		}
	}
	return &cog.StepDefinition{
		StepID:          d.ID,
		Name:            d.Name,
		Type:            d.Type,
		Expression:      d.Expression,
		ExpectedFields:  fields,
		ExpectedRecords: records,
		ActionList:      append([]string(nil), d.ActionList...),
		TargetObject:    d.TargetObject,
	}
}
