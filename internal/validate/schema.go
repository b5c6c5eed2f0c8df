package validate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// Schema is a caller-supplied JSON-Schema document. It is compiled on first
// use; a document that fails to compile makes every validation fail.
type Schema struct {
	raw []byte

	once     sync.Once
	resolved *jsonschema.Resolved
	err      error
}

// NewSchema wraps a raw JSON-Schema document.
func NewSchema(raw []byte) *Schema {
	return &Schema{raw: append([]byte(nil), raw...)}
}

// LoadSchema reads a JSON-Schema document from path.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
	}
	return NewSchema(data), nil
}

// Digest identifies the schema document by content. A nil schema has an
// empty digest.
func (s *Schema) Digest() string {
	if s == nil {
		return ""
	}
	sum := sha256.Sum256(s.raw)
	return hex.EncodeToString(sum[:])
}

// Err returns the compilation error, if any.
func (s *Schema) Err() error {
	s.compile()
	return s.err
}

// Validate returns the constraints instance violates. instance must be a
// value produced by encoding/json into an interface{}.
func (s *Schema) Validate(instance any) (reasons []string) {
	s.compile()
	if s.err != nil {
		return []string{fmt.Sprintf("schema unusable: %v", s.err)}
	}

	defer func() {
		if r := recover(); r != nil {
			reasons = []string{fmt.Sprintf("schema validation aborted: %v", r)}
		}
	}()

	if err := s.resolved.Validate(instance); err != nil {
		return flattenErrors(err)
	}
	return nil
}

func (s *Schema) compile() {
	s.once.Do(func() {
		doc, err := stripDialect(s.raw)
		if err != nil {
			s.err = err
			return
		}
		var js jsonschema.Schema
		if err := json.Unmarshal(doc, &js); err != nil {
			s.err = fmt.Errorf("failed to decode schema: %w", err)
			return
		}
		s.resolved, s.err = js.Resolve(nil)
		if s.err != nil {
			s.err = fmt.Errorf("failed to resolve schema: %w", s.err)
		}
	})
}

// stripDialect drops a top-level "$schema" declaration. The OpenAPI 3.0
// meta-schema declares draft-04; its keywords are validated with the
// library's dialect.
func stripDialect(raw []byte) ([]byte, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("schema is not a JSON object: %w", err)
	}
	if _, ok := top["$schema"]; !ok {
		return raw, nil
	}
	delete(top, "$schema")
	return json.Marshal(top)
}

func flattenErrors(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, flattenErrors(e)...)
		}
		if len(out) > 0 {
			return out
		}
	}
	return []string{err.Error()}
}
