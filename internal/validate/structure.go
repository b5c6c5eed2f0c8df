package validate

import (
	"fmt"

	"github.com/erraggy/oastools/parser"
	"github.com/erraggy/oastools/validator"
)

// Issue is one structural problem found in an OpenAPI document.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Warning bool   `json:"warning,omitempty"`
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// CheckStructure validates text as an OpenAPI document (required objects,
// version rules, path templates, references). Only errors make the document
// invalid; warnings are returned alongside. The returned error covers input
// that cannot be parsed as an OpenAPI document at all.
func CheckStructure(text string) ([]Issue, error) {
	parsed, err := parser.ParseWithOptions(parser.WithBytes([]byte(text)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OpenAPI document: %w", err)
	}

	var out []Issue
	for _, perr := range parsed.Errors {
		out = append(out, Issue{Message: perr.Error()})
	}

	v := validator.New()
	v.IncludeWarnings = true
	res, err := v.ValidateParsed(*parsed)
	if err != nil {
		return out, fmt.Errorf("failed to validate OpenAPI document: %w", err)
	}
	for _, e := range res.Errors {
		out = append(out, Issue{Path: e.Path, Message: e.Message})
	}
	for _, w := range res.Warnings {
		out = append(out, Issue{Path: w.Path, Message: w.Message, Warning: true})
	}
	return out, nil
}

// HasErrors reports whether any issue is an error rather than a warning.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if !i.Warning {
			return true
		}
	}
	return false
}
