// Package validate checks sanitized generator output, first as JSON and then
// against a caller-supplied OpenAPI JSON-Schema document.
package validate

import (
	"encoding/json"
	"fmt"
)

// Outcome tags the result of validating one specification text.
type Outcome int

const (
	// Unchecked means validation never ran, e.g. generation failed first.
	Unchecked Outcome = iota
	// SyntaxInvalid means the text does not parse as JSON.
	SyntaxInvalid
	// SchemaInvalid means the text is JSON but violates the schema.
	SchemaInvalid
	// Valid means every requested check passed.
	Valid
)

func (o Outcome) String() string {
	switch o {
	case Unchecked:
		return "unchecked"
	case SyntaxInvalid:
		return "syntax_invalid"
	case SchemaInvalid:
		return "schema_invalid"
	case Valid:
		return "valid"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the diagnostic form of a validation run.
type Result struct {
	Outcome Outcome
	// Reasons lists the violated constraints (or the parse error).
	Reasons []string
}

// OK reports whether the result is Valid.
func (r Result) OK() bool {
	return r.Outcome == Valid
}

// IsValidJSON reports whether the whole of text is a single JSON value.
// Surrounding whitespace is allowed.
func IsValidJSON(text string) bool {
	return json.Valid([]byte(text))
}

// IsValidOAS reports whether text is JSON and conforms to schema. Every
// failure, including an unusable schema, yields false.
func IsValidOAS(text string, schema *Schema) bool {
	if schema == nil {
		return false
	}
	return Check(text, schema).OK()
}

// Check runs the syntactic check and, when schema is non-nil, the schema
// check, returning which stage failed and why.
func Check(text string, schema *Schema) Result {
	var instance any
	if err := json.Unmarshal([]byte(text), &instance); err != nil {
		return Result{Outcome: SyntaxInvalid, Reasons: []string{err.Error()}}
	}
	if schema == nil {
		return Result{Outcome: Valid}
	}
	if reasons := schema.Validate(instance); len(reasons) > 0 {
		return Result{Outcome: SchemaInvalid, Reasons: reasons}
	}
	return Result{Outcome: Valid}
}
