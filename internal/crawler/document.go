package crawler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"oasgen/internal/extractor"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Document is one documentation file's text. It is not modified after Load.
type Document struct {
	Path string
	Text string
	// Hash is the SHA-256 of the raw file bytes.
	Hash string
}

// ArtifactName returns the output file name for a document path: the base
// name with its extension replaced by ".json".
func ArtifactName(path string) string {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" {
		name = base
	}
	return name + ".json"
}

// Loader reads documents from disk.
type Loader struct {
	extractHTML bool
	html        *extractor.Extractor
}

// NewLoader returns a Loader. With extractHTML set, .html and .htm files are
// reduced to their text content before prompting.
func NewLoader(extractHTML bool) (*Loader, error) {
	l := &Loader{extractHTML: extractHTML}
	if extractHTML {
		ext, err := extractor.NewExtractor("html")
		if err != nil {
			return nil, err
		}
		l.html = ext
	}
	return l, nil
}

// Load reads path as UTF-8 text. A UTF-8 byte order mark is dropped and
// UTF-16 files with a byte order mark are transcoded.
func (l *Loader) Load(ctx context.Context, path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read document %s: %w", path, err)
	}
	sum := sha256.Sum256(raw)
	doc := Document{Path: path, Hash: hex.EncodeToString(sum[:])}

	decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), raw)
	if err != nil {
		return Document{}, fmt.Errorf("failed to decode document %s: %w", path, err)
	}

	if l.extractHTML && isHTML(path) {
		text, err := l.html.Extract(ctx, decoded)
		if err != nil {
			return Document{}, fmt.Errorf("failed to extract text from %s: %w", path, err)
		}
		doc.Text = text
		return doc, nil
	}

	doc.Text = string(decoded)
	return doc, nil
}

func isHTML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return true
	}
	return false
}
