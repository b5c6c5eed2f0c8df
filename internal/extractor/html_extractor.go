package extractor

import (
	"html"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	tshtml "github.com/smacker/go-tree-sitter/html"
)

// HTMLExtractor implements FormatExtractor for HTML documentation pages.
// Script and style bodies parse as raw_text and are never captured.
type HTMLExtractor struct{}

func (h *HTMLExtractor) GetLanguage() *sitter.Language {
	return tshtml.GetLanguage()
}

func (h *HTMLExtractor) GetQuery() string {
	return `(text) @text`
}

func (h *HTMLExtractor) ExtractText(captureName string, node *sitter.Node, source []byte) string {
	if captureName != "text" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(node.Content(source)))
}
