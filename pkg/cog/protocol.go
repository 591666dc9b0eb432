// Package cog defines the wire contract between a cog and the host engine:
// the manifest and step messages, the gRPC service description and a small
// host-side client.
package cog

import (
	"fmt"
	"strings"
)

// FieldType is the semantic type of a step input or record field.
type FieldType int32

const (
	FieldTypeAnyScalar FieldType = iota
	FieldTypeString
	FieldTypeBoolean
	FieldTypeNumeric
	FieldTypeDate
	FieldTypeDatetime
	FieldTypeEmail
	FieldTypePhone
	FieldTypeURL
	FieldTypeAnyNonScalar
	FieldTypeMap
)

var fieldTypeNames = map[FieldType]string{
	FieldTypeAnyScalar:    "ANYSCALAR",
	FieldTypeString:       "STRING",
	FieldTypeBoolean:      "BOOLEAN",
	FieldTypeNumeric:      "NUMERIC",
	FieldTypeDate:         "DATE",
	FieldTypeDatetime:     "DATETIME",
	FieldTypeEmail:        "EMAIL",
	FieldTypePhone:        "PHONE",
	FieldTypeURL:          "URL",
	FieldTypeAnyNonScalar: "ANYNONSCALAR",
	FieldTypeMap:          "MAP",
}

func (t FieldType) String() string { return enumName(fieldTypeNames, t) }

func (t FieldType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *FieldType) UnmarshalText(b []byte) error { return enumParse(fieldTypeNames, b, t) }

// Optionality marks a field as required or optional.
type Optionality int32

const (
	Optional Optionality = iota
	Required
)

var optionalityNames = map[Optionality]string{
	Optional: "OPTIONAL",
	Required: "REQUIRED",
}

func (o Optionality) String() string { return enumName(optionalityNames, o) }

func (o Optionality) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Optionality) UnmarshalText(b []byte) error { return enumParse(optionalityNames, b, o) }

// StepType distinguishes steps that act from steps that assert.
type StepType int32

const (
	StepTypeAction StepType = iota
	StepTypeValidation
)

var stepTypeNames = map[StepType]string{
	StepTypeAction:     "ACTION",
	StepTypeValidation: "VALIDATION",
}

func (t StepType) String() string { return enumName(stepTypeNames, t) }

func (t StepType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *StepType) UnmarshalText(b []byte) error { return enumParse(stepTypeNames, b, t) }

// RecordType is the shape of a step output record.
type RecordType int32

const (
	RecordTypeKeyValue RecordType = iota
	RecordTypeTable
)

var recordTypeNames = map[RecordType]string{
	RecordTypeKeyValue: "KEYVALUE",
	RecordTypeTable:    "TABLE",
}

func (t RecordType) String() string { return enumName(recordTypeNames, t) }

func (t RecordType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *RecordType) UnmarshalText(b []byte) error { return enumParse(recordTypeNames, b, t) }

// Outcome is the result of one step execution.
type Outcome int32

const (
	OutcomeFailed Outcome = iota
	OutcomePassed
	OutcomeError
)

var outcomeNames = map[Outcome]string{
	OutcomeFailed: "FAILED",
	OutcomePassed: "PASSED",
	OutcomeError:  "ERROR",
}

func (o Outcome) String() string { return enumName(outcomeNames, o) }

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Outcome) UnmarshalText(b []byte) error { return enumParse(outcomeNames, b, o) }

func enumName[T comparable](names map[T]string, v T) string {
	if n, ok := names[v]; ok {
		return n
	}
	return fmt.Sprintf("%d", any(v))
}

func enumParse[T comparable](names map[T]string, b []byte, dst *T) error {
	s := strings.ToUpper(strings.TrimSpace(string(b)))
	for v, n := range names {
		if n == s {
			*dst = v
			return nil
		}
	}
	return fmt.Errorf("unknown enum value %q", string(b))
}

// ManifestRequest is the (empty) input of GetManifest.
type ManifestRequest struct{}

// CogManifest describes the cog to the host.
type CogManifest struct {
	Name            string             `json:"name"`
	Label           string             `json:"label"`
	Version         string             `json:"version"`
	Homepage        string             `json:"homepage,omitempty"`
	AuthHelpURL     string             `json:"authHelpUrl,omitempty"`
	AuthFields      []*FieldDefinition `json:"authFields"`
	StepDefinitions []*StepDefinition  `json:"stepDefinitions"`
}

// FieldDefinition declares one input field of a step or one credential.
type FieldDefinition struct {
	Key         string      `json:"key"`
	Optionality Optionality `json:"optionality"`
	Type        FieldType   `json:"type"`
	Description string      `json:"description,omitempty"`
	Help        string      `json:"help,omitempty"`
}

// RecordDefinition declares a record a step may emit.
type RecordDefinition struct {
	ID                string             `json:"id"`
	Type              RecordType         `json:"type"`
	GuaranteedFields  []*FieldDefinition `json:"guaranteedFields,omitempty"`
	MayHaveMoreFields bool               `json:"mayHaveMoreFields,omitempty"`
}

// StepDefinition is the manifest entry for one step.
type StepDefinition struct {
	StepID          string              `json:"stepId"`
	Name            string              `json:"name"`
	Type            StepType            `json:"type"`
	Expression      string              `json:"expression"`
	ExpectedFields  []*FieldDefinition  `json:"expectedFields"`
	ExpectedRecords []*RecordDefinition `json:"expectedRecords,omitempty"`
	ActionList      []string            `json:"actionList,omitempty"`
	TargetObject    string              `json:"targetObject,omitempty"`
}

// Step identifies the step to run and carries its input data.
type Step struct {
	StepID string         `json:"stepId"`
	Data   map[string]any `json:"data,omitempty"`
}

// RunStepRequest is one step execution request.
type RunStepRequest struct {
	Step      *Step  `json:"step"`
	RequestID string `json:"requestId,omitempty"`
}

// StepID returns the requested step id, or "" when the request carries no step.
func (r *RunStepRequest) StepID() string {
	if r == nil || r.Step == nil {
		return ""
	}
	return r.Step.StepID
}

// TableRecord is tabular record data. Headers maps column keys to labels.
type TableRecord struct {
	Headers map[string]string `json:"headers"`
	Rows    []map[string]any  `json:"rows"`
}

// StepRecord is one output record; exactly one of KeyValue and Table is set.
type StepRecord struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	KeyValue map[string]any `json:"keyValue,omitempty"`
	Table    *TableRecord   `json:"table,omitempty"`
}

// Type reports which value the record carries.
func (r *StepRecord) Type() RecordType {
	if r.Table != nil {
		return RecordTypeTable
	}
	return RecordTypeKeyValue
}

// RunStepResponse is the result of one step execution.
type RunStepResponse struct {
	Outcome       Outcome        `json:"outcome"`
	MessageFormat string         `json:"messageFormat"`
	MessageArgs   []any          `json:"messageArgs,omitempty"`
	ResponseData  map[string]any `json:"responseData,omitempty"`
	Records       []*StepRecord  `json:"records,omitempty"`
	RequestID     string         `json:"requestId,omitempty"`
}

// Message renders the message template with its arguments.
func (r *RunStepResponse) Message() string {
	if len(r.MessageArgs) == 0 {
		return r.MessageFormat
	}
	return fmt.Sprintf(r.MessageFormat, r.MessageArgs...)
}
