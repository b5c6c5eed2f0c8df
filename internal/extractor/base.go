package extractor

import sitter "github.com/smacker/go-tree-sitter"

// FormatExtractor defines what each markup format must provide to be reduced
// to prose.
type FormatExtractor interface {
	GetLanguage() *sitter.Language
	// GetQuery returns a tree-sitter query whose captures are text-bearing nodes.
	GetQuery() string
	// ExtractText returns the prose carried by a captured node, or "".
	ExtractText(captureName string, node *sitter.Node, source []byte) string
}
