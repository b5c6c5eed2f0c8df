package scoring

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CaseResult is the score of one expected/generated pair.
type CaseResult struct {
	Name          string     `json:"name"`
	ExpectedPath  string     `json:"expected_path"`
	GeneratedPath string     `json:"generated_path"`
	Missing       bool       `json:"missing,omitempty"`
	Report        DiffReport `json:"report"`
}

// Evaluation aggregates a directory-level scoring run.
type Evaluation struct {
	Cases           []CaseResult `json:"cases"`
	ExactMatches    int          `json:"exact_matches"`
	ToolFailures    int          `json:"tool_failures"`
	MissingOutputs  int          `json:"missing_outputs"`
	MeanCorrectness float64      `json:"mean_correctness"`
}

// EvaluateDirs scores every *.json under expectedDir against the file with
// the same name in generatedDir. A missing generated file scores as a
// sentinel failure.
func EvaluateDirs(ctx context.Context, scorer *Scorer, expectedDir, generatedDir string) (*Evaluation, error) {
	entries, err := os.ReadDir(expectedDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read expected specs: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	eval := &Evaluation{Cases: make([]CaseResult, 0, len(names))}
	total := 0.0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := CaseResult{
			Name:          strings.TrimSuffix(name, filepath.Ext(name)),
			ExpectedPath:  filepath.Join(expectedDir, name),
			GeneratedPath: filepath.Join(generatedDir, name),
		}

		expected, err := os.ReadFile(c.ExpectedPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", c.ExpectedPath, err)
		}
		generated, err := os.ReadFile(c.GeneratedPath)
		switch {
		case err == nil:
			c.Report = scorer.Run(ctx, string(expected), string(generated))
		case os.IsNotExist(err):
			c.Missing = true
			c.Report = failedReport()
			eval.MissingOutputs++
		default:
			return nil, fmt.Errorf("failed to read %s: %w", c.GeneratedPath, err)
		}

		if c.Report.Exact() {
			eval.ExactMatches++
		}
		if c.Report.Failed() && !c.Missing {
			eval.ToolFailures++
		}
		total += c.Report.Correctness
		eval.Cases = append(eval.Cases, c)
	}
	if len(eval.Cases) > 0 {
		eval.MeanCorrectness = total / float64(len(eval.Cases))
	}
	return eval, nil
}
