package step

import (
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/opentalon/geminicog/pkg/cog"
)

// MalformedDataError is returned when request data is not a JSON object of
// JSON-compatible values.
type MalformedDataError struct {
	Err error
}

func (e *MalformedDataError) Error() string {
	return fmt.Sprintf("malformed step data: %v", e.Err)
}

func (e *MalformedDataError) Unwrap() error { return e.Err }

// ValidationError reports a field that does not satisfy its declaration.
type ValidationError struct {
	Field   string
	Missing bool
	Want    cog.FieldType
	Got     string
}

// Template returns the message template and arguments describing the error.
func (e *ValidationError) Template() (string, []any) {
	if e.Missing {
		return "Missing required field %s", []any{e.Field}
	}
	return "Field %s must be %s, got %s", []any{e.Field, e.Want.String(), e.Got}
}

func (e *ValidationError) Error() string {
	format, args := e.Template()
	return fmt.Sprintf(format, args...)
}

// Params are the typed inputs of one step execution. Declared fields have
// been checked and normalized to their declared type; undeclared keys are
// passed through unchanged.
type Params struct {
	values map[string]*structpb.Value
}

// ParseParams converts raw request data into Params validated against the
// fields declared in def.
func ParseParams(def Definition, data map[string]any) (Params, error) {
	s, err := structpb.NewStruct(data)
	if err != nil {
		return Params{}, &MalformedDataError{Err: err}
	}
	values := make(map[string]*structpb.Value, len(s.GetFields()))
	for k, v := range s.GetFields() {
		values[k] = v
	}

	for _, f := range def.Fields {
		v, ok := values[f.Key]
		if !ok || isEmpty(v) {
			if f.Optionality == cog.Required {
				return Params{}, &ValidationError{Field: f.Key, Missing: true}
			}
			delete(values, f.Key)
			continue
		}
		nv, err := coerce(f, v)
		if err != nil {
			return Params{}, err
		}
		values[f.Key] = nv
	}
	return Params{values: values}, nil
}

func isEmpty(v *structpb.Value) bool {
	switch k := v.GetKind().(type) {
	case nil, *structpb.Value_NullValue:
		return true
	case *structpb.Value_StringValue:
		return k.StringValue == ""
	}
	return false
}

func coerce(f Field, v *structpb.Value) (*structpb.Value, error) {
	mismatch := &ValidationError{Field: f.Key, Want: f.Type, Got: kindName(v)}
	switch f.Type {
	case cog.FieldTypeNumeric:
		switch k := v.GetKind().(type) {
		case *structpb.Value_NumberValue:
			return v, nil
		case *structpb.Value_StringValue:
			n, err := strconv.ParseFloat(strings.TrimSpace(k.StringValue), 64)
			if err != nil {
				return nil, mismatch
			}
			return structpb.NewNumberValue(n), nil
		}
		return nil, mismatch
	case cog.FieldTypeBoolean:
		switch k := v.GetKind().(type) {
		case *structpb.Value_BoolValue:
			return v, nil
		case *structpb.Value_StringValue:
			b, err := strconv.ParseBool(strings.TrimSpace(k.StringValue))
			if err != nil {
				return nil, mismatch
			}
			return structpb.NewBoolValue(b), nil
		}
		return nil, mismatch
	case cog.FieldTypeMap:
		if _, ok := v.GetKind().(*structpb.Value_StructValue); ok {
			return v, nil
		}
		return nil, mismatch
	case cog.FieldTypeAnyNonScalar:
		switch v.GetKind().(type) {
		case *structpb.Value_StructValue, *structpb.Value_ListValue:
			return v, nil
		}
		return nil, mismatch
	case cog.FieldTypeAnyScalar:
		if isScalar(v) {
			return v, nil
		}
		return nil, mismatch
	default:
		// String-like types: STRING, DATE, DATETIME, EMAIL, PHONE, URL.
		if !isScalar(v) {
			return nil, mismatch
		}
		return structpb.NewStringValue(render(v)), nil
	}
}

func isScalar(v *structpb.Value) bool {
	switch v.GetKind().(type) {
	case *structpb.Value_StringValue, *structpb.Value_NumberValue, *structpb.Value_BoolValue:
		return true
	}
	return false
}

func kindName(v *structpb.Value) string {
	switch v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return "string"
	case *structpb.Value_NumberValue:
		return "number"
	case *structpb.Value_BoolValue:
		return "boolean"
	case *structpb.Value_StructValue:
		return "object"
	case *structpb.Value_ListValue:
		return "list"
	default:
		return "null"
	}
}

func render(v *structpb.Value) string {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'f', -1, 64)
	case *structpb.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue)
	case nil, *structpb.Value_NullValue:
		return ""
	default:
		b, err := v.MarshalJSON()
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Has reports whether key was supplied.
func (p Params) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

// String returns the value of key rendered as a string, or "" if absent.
func (p Params) String(key string) string {
	v, ok := p.values[key]
	if !ok {
		return ""
	}
	return render(v)
}

// StringOr returns the value of key, or def when it is absent.
func (p Params) StringOr(key, def string) string {
	if !p.Has(key) {
		return def
	}
	return p.String(key)
}

// Number returns the numeric value of key.
func (p Params) Number(key string) (float64, bool) {
	v, ok := p.values[key]
	if !ok {
		return 0, false
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return k.NumberValue, true
	case *structpb.Value_StringValue:
		n, err := strconv.ParseFloat(strings.TrimSpace(k.StringValue), 64)
		return n, err == nil
	}
	return 0, false
}

// IntOr returns the integer value of key, or def when it is absent or not a number.
func (p Params) IntOr(key string, def int) int {
	n, ok := p.Number(key)
	if !ok {
		return def
	}
	return int(n)
}

// Bool returns the boolean value of key.
func (p Params) Bool(key string) (bool, bool) {
	v, ok := p.values[key]
	if !ok {
		return false, false
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, false
	}
	return b.BoolValue, true
}

// Map returns the params as plain Go values.
func (p Params) Map() map[string]any {
	out := make(map[string]any, len(p.values))
	for k, v := range p.values {
		out[k] = v.AsInterface()
	}
	return out
}
