// Package scoring compares generated OpenAPI specifications with expected
// ones through a structural-diff backend and reduces the result to a
// correctness score.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// FailedDiffCount is the DiffCount sentinel for "the backend produced no
// usable output".
const FailedDiffCount = -1

// DiffReport is the reduced outcome of one comparison.
type DiffReport struct {
	// Correctness is 1.0 when the backend reported no differences, else 0.0.
	Correctness float64 `json:"correctness"`
	// DiffCount is the number of reported differences, or FailedDiffCount.
	DiffCount int `json:"diff_count"`
	// Differences is the backend's difference list, passed through untouched.
	Differences json.RawMessage `json:"differences"`
}

// Failed reports whether r is the sentinel failure report.
func (r DiffReport) Failed() bool {
	return r.DiffCount == FailedDiffCount
}

// Exact reports whether the two specifications matched.
func (r DiffReport) Exact() bool {
	return r.Correctness == 1.0
}

func failedReport() DiffReport {
	return DiffReport{Correctness: 0.0, DiffCount: FailedDiffCount, Differences: json.RawMessage("[]")}
}

// Scorer writes both specifications to temporary files and hands them to a
// DiffTool. It never returns an error: backend failures degrade to the
// sentinel report.
type Scorer struct {
	Tool DiffTool
	// TempDir holds the temporary spec files; empty means os.TempDir().
	TempDir string
	Logger  *slog.Logger
}

// NewScorer returns a Scorer using tool.
func NewScorer(tool DiffTool) *Scorer {
	return &Scorer{Tool: tool}
}

// RunDiff scores generated against expected with the external tool at toolPath.
func RunDiff(ctx context.Context, expected, generated, toolPath string) DiffReport {
	return NewScorer(NewExecTool(toolPath, 0)).Run(ctx, expected, generated)
}

// Run compares the expected and generated specification texts.
func (s *Scorer) Run(ctx context.Context, expected, generated string) (report DiffReport) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger().Warn("diff scorer recovered from panic", "panic", r)
			report = failedReport()
		}
		s.logger().Debug("diff scored",
			"correctness", report.Correctness,
			"diff_count", report.DiffCount,
			"elapsed", time.Since(start))
	}()

	report, err := s.run(ctx, expected, generated)
	if err != nil {
		s.logger().Warn("diff scoring failed", "error", err)
		return failedReport()
	}
	return report
}

func (s *Scorer) run(ctx context.Context, expected, generated string) (DiffReport, error) {
	if s.Tool == nil {
		return DiffReport{}, fmt.Errorf("no diff tool configured")
	}

	expectedPath, cleanupExpected, err := writeTemp(s.TempDir, "expected-*.json", expected)
	if err != nil {
		return DiffReport{}, err
	}
	defer cleanupExpected()

	generatedPath, cleanupGenerated, err := writeTemp(s.TempDir, "generated-*.json", generated)
	if err != nil {
		return DiffReport{}, err
	}
	defer cleanupGenerated()

	out, err := s.Tool.Compare(ctx, expectedPath, generatedPath)
	if err != nil {
		return DiffReport{}, err
	}
	return interpret(out)
}

// interpret reduces raw backend output to a report.
func interpret(out RawDiffOutput) (DiffReport, error) {
	if len(bytes.TrimSpace(out.Stdout)) == 0 {
		return failedReport(), nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(out.Stdout, &doc); err != nil {
		return DiffReport{}, fmt.Errorf("failed to parse diff output: %w", err)
	}

	raw, ok := doc["differences"]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("[]")
	}
	count, err := countDifferences(raw)
	if err != nil {
		return DiffReport{}, err
	}

	correctness := 0.0
	if out.ExitCode == 0 {
		correctness = 1.0
	}
	return DiffReport{Correctness: correctness, DiffCount: count, Differences: raw}, nil
}

func countDifferences(raw json.RawMessage) (int, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("failed to parse differences: %w", err)
	}
	switch d := v.(type) {
	case []any:
		return len(d), nil
	case map[string]any:
		return len(d), nil
	default:
		return 0, fmt.Errorf("differences has unexpected type %T", v)
	}
}

// writeTemp creates a temp file holding content. The returned cleanup removes
// it and is valid as soon as the file exists, including when the write fails.
func writeTemp(dir, pattern, content string) (string, func(), error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", func() {}, fmt.Errorf("failed to create temp file: %w", err)
	}
	path := f.Name()
	cleanup := func() { _ = os.Remove(path) }

	if _, err := f.WriteString(content); err != nil {
		f.Close()
		cleanup()
		return "", func() {}, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("failed to close temp file: %w", err)
	}
	return path, cleanup, nil
}

func (s *Scorer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
