// Package check evaluates the comparison operators steps use to assert on
// observed values ("be", "not contain", "be greater than", ...).
package check

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Operators lists every supported operator in the order it is documented.
var Operators = []string{
	"be",
	"not be",
	"contain",
	"not contain",
	"be greater than",
	"be less than",
	"be one of",
	"not be one of",
	"be set",
	"not be set",
	"match",
	"not match",
}

// UnknownOperatorError is returned for operators not in Operators.
type UnknownOperatorError struct {
	Operator string
}

func (e *UnknownOperatorError) Error() string {
	return fmt.Sprintf("Unknown operator %q.", e.Operator)
}

// InvalidOperandError is returned when the operands cannot be compared with
// the requested operator.
type InvalidOperandError struct {
	Operator string
	Reason   string
}

func (e *InvalidOperandError) Error() string {
	return fmt.Sprintf("cannot check %q: %s", e.Operator, e.Reason)
}

// Result is the outcome of one assertion together with a message template
// describing it.
type Result struct {
	Valid  bool
	Format string
	Args   []any
}

// Assert checks actual against expected using operator. field names the
// checked value in the result message.
func Assert(operator, actual, expected, field string) (Result, error) {
	op := strings.ToLower(strings.TrimSpace(operator))

	var (
		valid bool
		err   error
	)
	switch op {
	case "be set":
		return unary(op, field, actual, strings.TrimSpace(actual) != ""), nil
	case "not be set":
		return unary(op, field, actual, strings.TrimSpace(actual) == ""), nil
	case "be", "not be":
		if err := requireExpectation(op, expected); err != nil {
			return Result{}, err
		}
		valid = equal(actual, expected)
		if op == "not be" {
			valid = !valid
		}
	case "contain", "not contain":
		if err := requireExpectation(op, expected); err != nil {
			return Result{}, err
		}
		valid = strings.Contains(actual, expected)
		if op == "not contain" {
			valid = !valid
		}
	case "be greater than", "be less than":
		if err := requireExpectation(op, expected); err != nil {
			return Result{}, err
		}
		valid, err = compareNumbers(op, actual, expected)
		if err != nil {
			return Result{}, err
		}
	case "be one of", "not be one of":
		if err := requireExpectation(op, expected); err != nil {
			return Result{}, err
		}
		valid = oneOf(actual, expected)
		if op == "not be one of" {
			valid = !valid
		}
	case "match", "not match":
		if err := requireExpectation(op, expected); err != nil {
			return Result{}, err
		}
		re, err := regexp.Compile(expected)
		if err != nil {
			return Result{}, &InvalidOperandError{Operator: op, Reason: fmt.Sprintf("invalid regular expression %q: %v", expected, err)}
		}
		valid = re.MatchString(actual)
		if op == "not match" {
			valid = !valid
		}
	default:
		return Result{}, &UnknownOperatorError{Operator: operator}
	}

	if valid {
		return Result{Valid: true, Format: "Expected %s to %s %s, and it did", Args: []any{field, op, expected}}, nil
	}
	return Result{Format: "Expected %s to %s %s, but it was actually %s", Args: []any{field, op, expected, actual}}, nil
}

func unary(op, field, actual string, valid bool) Result {
	if valid {
		return Result{Valid: true, Format: "Expected %s to %s, and it did", Args: []any{field, op}}
	}
	return Result{Format: "Expected %s to %s, but it was actually %q", Args: []any{field, op, actual}}
}

func requireExpectation(op, expected string) error {
	if expected == "" {
		return &InvalidOperandError{Operator: op, Reason: "an expectation is required"}
	}
	return nil
}

func equal(actual, expected string) bool {
	a, aErr := strconv.ParseFloat(strings.TrimSpace(actual), 64)
	e, eErr := strconv.ParseFloat(strings.TrimSpace(expected), 64)
	if aErr == nil && eErr == nil {
		return a == e
	}
	return actual == expected
}

func compareNumbers(op, actual, expected string) (bool, error) {
	a, err := strconv.ParseFloat(strings.TrimSpace(actual), 64)
	if err != nil {
		return false, &InvalidOperandError{Operator: op, Reason: fmt.Sprintf("%q is not a number", actual)}
	}
	e, err := strconv.ParseFloat(strings.TrimSpace(expected), 64)
	if err != nil {
		return false, &InvalidOperandError{Operator: op, Reason: fmt.Sprintf("%q is not a number", expected)}
	}
	if op == "be greater than" {
		return a > e, nil
	}
	return a < e, nil
}

// oneOf reports whether actual equals any comma-separated entry of list.
func oneOf(actual, list string) bool {
	for _, candidate := range strings.Split(list, ",") {
		if equal(strings.TrimSpace(actual), strings.TrimSpace(candidate)) {
			return true
		}
	}
	return false
}
