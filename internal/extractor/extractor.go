// Package extractor reduces marked-up documentation to the prose a prompt
// needs, using tree-sitter grammars.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Extractor orchestrates extraction using a format-specific extractor.
type Extractor struct {
	formatExtractor FormatExtractor
	format          string
}

// NewExtractor creates an extractor for the given markup format.
func NewExtractor(format string) (*Extractor, error) {
	var fe FormatExtractor
	switch strings.ToLower(format) {
	case "html", "htm":
		fe = &HTMLExtractor{}
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
	return &Extractor{formatExtractor: fe, format: format}, nil
}

// Format returns the format this extractor was created for.
func (e *Extractor) Format() string {
	return e.format
}

// ExtractFromFile reads and extracts a single documentation file.
func (e *Extractor) ExtractFromFile(ctx context.Context, path string) (string, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return e.Extract(ctx, source)
}

// Extract returns the text content of source, one captured fragment per line,
// in document order.
func (e *Extractor) Extract(ctx context.Context, source []byte) (string, error) {
	if len(bytes.TrimSpace(source)) == 0 {
		return "", nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(e.formatExtractor.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s document: %w", e.format, err)
	}

	query, err := sitter.NewQuery([]byte(e.formatExtractor.GetQuery()), e.formatExtractor.GetLanguage())
	if err != nil {
		return "", fmt.Errorf("failed to create query: %w", err)
	}

	qc := sitter.NewQueryCursor()
	qc.Exec(query, tree.RootNode())

	var parts []string
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		for _, c := range m.Captures {
			name := query.CaptureNameForId(c.Index)
			if text := e.formatExtractor.ExtractText(name, c.Node, source); text != "" {
				parts = append(parts, text)
			}
		}
	}
	return strings.Join(parts, "\n"), nil
}
