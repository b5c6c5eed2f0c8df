package prompt

import (
	"strings"
)

// DefaultInstruction is the preamble placed before every document.
const DefaultInstruction = "You are a specialist in generating OpenAPI 3.0 JSON specifications.\n" +
	"Provide only the JSON output, with no explanatory text.\n\n"

const (
	documentLabel = "API Documentation:\n"
	fenceHint     = "\n```json\n"
)

// Builder constructs generation prompts from documentation text.
type Builder struct {
	// Instruction replaces DefaultInstruction when non-empty.
	Instruction string
}

// Normalize collapses every run of whitespace into a single space and trims
// the ends.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Build returns the prompt for docText using the default instruction.
func Build(docText string) string {
	return (&Builder{}).Build(docText)
}

// Build returns the exact prompt handed to the generator for docText.
func (b *Builder) Build(docText string) string {
	instruction := DefaultInstruction
	if b != nil && strings.TrimSpace(b.Instruction) != "" {
		instruction = b.Instruction
	}

	var sb strings.Builder
	sb.WriteString(instruction)
	sb.WriteString(documentLabel)
	sb.WriteString(Normalize(docText))
	sb.WriteString(fenceHint)
	return sb.String()
}
