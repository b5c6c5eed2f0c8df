package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"oasgen/internal/sanitize"
	"oasgen/internal/scoring"
	"oasgen/internal/validate"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type sanitizeInput struct {
	Text string `json:"text" jsonschema:"Raw model output"`
}

type sanitizeOutput struct {
	Text    string `json:"text"`
	Changed bool   `json:"changed"`
}

func (s *Server) handleSanitize(_ context.Context, _ *mcp.CallToolRequest, input sanitizeInput) (*mcp.CallToolResult, sanitizeOutput, error) {
	out := sanitize.StripFences(input.Text)
	return nil, sanitizeOutput{Text: out, Changed: out != input.Text}, nil
}

type validateInput struct {
	Text      string `json:"text"                jsonschema:"Candidate OpenAPI JSON document"`
	Sanitize  bool   `json:"sanitize,omitempty"  jsonschema:"Strip code fences before validating"`
	Structure bool   `json:"structure,omitempty" jsonschema:"Also run structural OpenAPI validation"`
}

type validateOutput struct {
	Valid   bool             `json:"valid"`
	Outcome string           `json:"outcome"`
	Reasons []string         `json:"reasons,omitempty"`
	Issues  []validate.Issue `json:"issues,omitempty"`
}

func (s *Server) handleValidate(_ context.Context, _ *mcp.CallToolRequest, input validateInput) (*mcp.CallToolResult, validateOutput, error) {
	text := input.Text
	if input.Sanitize {
		text = sanitize.StripFences(text)
	}

	res := validate.Check(text, s.Schema)
	out := validateOutput{
		Valid:   res.OK(),
		Outcome: res.Outcome.String(),
		Reasons: res.Reasons,
	}
	if !res.OK() || !input.Structure {
		return nil, out, nil
	}

	issues, err := validate.CheckStructure(text)
	if err != nil {
		return errResult(err), validateOutput{}, nil
	}
	out.Issues = issues
	if validate.HasErrors(issues) {
		out.Valid = false
		out.Outcome = validate.SchemaInvalid.String()
	}
	return nil, out, nil
}

type scoreInput struct {
	Expected  string `json:"expected"  jsonschema:"Ground-truth OpenAPI JSON document"`
	Generated string `json:"generated" jsonschema:"Generated OpenAPI JSON document"`
}

type scoreOutput struct {
	Correctness float64 `json:"correctness"`
	DiffCount   int     `json:"diff_count"`
	Differences any     `json:"differences"`
}

func (s *Server) handleScore(ctx context.Context, _ *mcp.CallToolRequest, input scoreInput) (*mcp.CallToolResult, scoreOutput, error) {
	if strings.TrimSpace(input.Expected) == "" || strings.TrimSpace(input.Generated) == "" {
		return errResult(errors.New("both expected and generated documents are required")), scoreOutput{}, nil
	}
	if s.Scorer == nil {
		return errResult(errors.New("no diff backend configured")), scoreOutput{}, nil
	}

	report := s.Scorer.Run(ctx, input.Expected, input.Generated)
	s.logger().Debug("scored specification", "correctness", report.Correctness, "diff_count", report.DiffCount)
	return nil, toScoreOutput(report), nil
}

func toScoreOutput(r scoring.DiffReport) scoreOutput {
	out := scoreOutput{Correctness: r.Correctness, DiffCount: r.DiffCount, Differences: []any{}}
	var diffs any
	if len(r.Differences) > 0 && json.Unmarshal(r.Differences, &diffs) == nil && diffs != nil {
		out.Differences = diffs
	}
	return out
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
