// Package mcpserver exposes the sanitizing, validation and scoring stages as
// MCP (Model Context Protocol) tools over stdio.
package mcpserver

import (
	"context"
	"log/slog"
	"regexp"

	"oasgen/internal/scoring"
	"oasgen/internal/validate"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverInstructions = `oasgen MCP server: cleans, validates and scores generated OpenAPI 3.0 JSON specifications.

- sanitize: strip a leading and trailing Markdown code fence from model output.
- validate_spec: check that text is JSON, conforms to the configured OpenAPI JSON Schema and, optionally, passes structural OpenAPI validation.
- score_spec: diff a generated specification against a ground-truth one; diff_count -1 means the diff backend failed.`

type Server struct {
	Version string
	// Schema validates documents in validate_spec; nil limits it to syntax.
	Schema *validate.Schema
	Scorer *scoring.Scorer
	Logger *slog.Logger
}

// Run serves MCP over stdio until the client disconnects or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	return s.newMCPServer().Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) newMCPServer() *mcp.Server {
	version := s.Version
	if version == "" {
		version = "dev"
	}
	server := mcp.NewServer(
		&mcp.Implementation{Name: "oasgen", Version: version},
		&mcp.ServerOptions{
			Instructions: serverInstructions,
		},
	)
	s.registerTools(server)
	return server
}

func (s *Server) registerTools(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "sanitize",
		Description: "Remove at most one leading Markdown code fence (with an optional language tag such as json) and at most one trailing fence from raw model output. Interior content is untouched and fence-free text is returned unchanged.",
	}, s.handleSanitize)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "validate_spec",
		Description: "Validate a candidate OpenAPI 3.0 JSON document. Reports syntax_invalid when the text is not JSON, schema_invalid with the violated constraints when it does not match the configured OpenAPI JSON Schema, and valid otherwise. Set structure=true to also run structural OpenAPI checks.",
	}, s.handleValidate)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "score_spec",
		Description: "Diff a generated OpenAPI document against the expected one. Returns correctness (1.0 only for an exact match), the number of differences and the differences themselves. A diff_count of -1 means the diff backend failed.",
	}, s.handleScore)
}

var pathPattern = regexp.MustCompile(`(?:/(?:home|tmp|var|Users|etc|opt|usr|private|root|mnt|srv|run|snap|nix)[a-zA-Z0-9._/-]*)`)

// errResult creates an MCP error result, with absolute paths masked.
func errResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: pathPattern.ReplaceAllString(err.Error(), "<path>")}},
	}
}
