package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"

	"oasgen/internal/llm"
	"oasgen/internal/storage"
	"oasgen/internal/validate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
	"type": "object",
	"required": ["openapi", "info", "paths"],
	"properties": {
		"openapi": {"type": "string"},
		"info": {"type": "object", "required": ["title", "version"]},
		"paths": {"type": "object"}
	}
}`

func specFor(title string) string {
	return `{"openapi":"3.0.0","info":{"title":"` + title + `","version":"1.0.0"},"paths":{}}`
}

// fencedSpec answers every prompt with a fenced, valid document whose title
// is derived from the prompt.
func fencedSpec(calls *int32) llm.Generator {
	return llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		sum := sha256.Sum256([]byte(prompt))
		return "```json\n" + specFor(hex.EncodeToString(sum[:6])) + "\n```", nil
	})
}

func writeDocs(t *testing.T, dir string, docs map[string]string) {
	t.Helper()
	for name, text := range docs {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	}
}

func newTestOrchestrator(t *testing.T, gen llm.Generator) *Orchestrator {
	t.Helper()
	root := t.TempDir()
	o := NewOrchestrator(Options{
		InputDir:  filepath.Join(root, "data", "raw"),
		OutputDir: filepath.Join(root, "generated"),
	}, gen)
	o.Schema = validate.NewSchema([]byte(testSchema))
	require.NoError(t, os.MkdirAll(o.Options.InputDir, 0755))
	return o
}

func readArtifact(t *testing.T, o *Orchestrator, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(o.Options.OutputDir, name))
	require.NoError(t, err)
	return string(data)
}

func TestRun_Smoke(t *testing.T) {
	o := newTestOrchestrator(t, fencedSpec(nil))
	writeDocs(t, o.Options.InputDir, map[string]string{"smoke.txt": "GET /pets returns   a list\nof pets."})

	sum, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, sum.Results, 1)
	assert.Equal(t, 1, sum.Persisted)
	assert.NotEmpty(t, sum.RunID)

	res := sum.Results[0]
	assert.Equal(t, StatusPersisted, res.Status)
	assert.Equal(t, validate.Valid, res.Outcome)
	assert.Equal(t, filepath.Join(o.Options.OutputDir, "smoke.json"), res.Artifact)
	assert.Len(t, res.ContentHash, 64)

	entries, err := os.ReadDir(o.Options.OutputDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	var spec map[string]any
	require.NoError(t, json.Unmarshal([]byte(readArtifact(t, o, "smoke.json")), &spec))
	version, _ := spec["openapi"].(string)
	assert.True(t, strings.HasPrefix(version, "3.0"), version)
}

func TestRun_PromptCarriesNormalizedText(t *testing.T) {
	var seen string
	gen := llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		seen = prompt
		return specFor("x"), nil
	})
	o := newTestOrchestrator(t, gen)
	writeDocs(t, o.Options.InputDir, map[string]string{"doc.txt": "  List\tpets\n\n"})

	_, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, seen, "API Documentation:\nList pets\n```json\n")
}

func TestRun_FaultIsolation(t *testing.T) {
	gen := llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "doc-b") {
			return "", errors.New("model crashed")
		}
		return specFor("ok"), nil
	})
	o := newTestOrchestrator(t, gen)
	writeDocs(t, o.Options.InputDir, map[string]string{
		"a.txt": "doc-a",
		"b.txt": "doc-b",
		"c.txt": "doc-c",
	})

	sum, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, sum.Results, 3)
	assert.Equal(t, 2, sum.Persisted)
	assert.Equal(t, 1, sum.Failed)

	b := sum.Results[1]
	assert.Equal(t, StatusFailed, b.Status)
	assert.Equal(t, StageGenerate, b.Stage)
	assert.Equal(t, validate.Unchecked, b.Outcome)
	assert.ErrorContains(t, b.Err, "model crashed")

	assert.FileExists(t, filepath.Join(o.Options.OutputDir, "a.json"))
	assert.NoFileExists(t, filepath.Join(o.Options.OutputDir, "b.json"))
	assert.FileExists(t, filepath.Join(o.Options.OutputDir, "c.json"))

	problems := sum.Problems()
	require.Len(t, problems, 1)
	assert.Equal(t, b.Path, problems[0].Path)
}

func TestRun_PanicIsolated(t *testing.T) {
	gen := llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "boom") {
			panic("backend bug")
		}
		return specFor("ok"), nil
	})
	o := newTestOrchestrator(t, gen)
	writeDocs(t, o.Options.InputDir, map[string]string{"a.txt": "boom", "b.txt": "fine"})

	sum, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, sum.Results[0].Status)
	assert.ErrorContains(t, sum.Results[0].Err, "backend bug")
	assert.Equal(t, StatusPersisted, sum.Results[1].Status)
}

func TestRun_InvalidOutputFlaggedButWritten(t *testing.T) {
	gen := llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "prose"):
			return "Sure! Here is your spec: {", nil
		case strings.Contains(prompt, "wrong"):
			return "```json\n{\"bar\":5}\n```", nil
		}
		return specFor("ok"), nil
	})
	o := newTestOrchestrator(t, gen)
	writeDocs(t, o.Options.InputDir, map[string]string{"prose.txt": "prose", "wrong.txt": "wrong"})

	sum, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Flagged)

	prose := sum.Results[0]
	assert.Equal(t, StatusFlagged, prose.Status)
	assert.Equal(t, validate.SyntaxInvalid, prose.Outcome)
	assert.Equal(t, "Sure! Here is your spec: {", readArtifact(t, o, "prose.json"))

	wrong := sum.Results[1]
	assert.Equal(t, StatusFlagged, wrong.Status)
	assert.Equal(t, validate.SchemaInvalid, wrong.Outcome)
	assert.NotEmpty(t, wrong.Reasons)
	assert.Equal(t, `{"bar":5}`, readArtifact(t, o, "wrong.json"))
}

func TestRun_StructureCheck(t *testing.T) {
	gen := llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "bare") {
			return `{"openapi":"3.0.0"}`, nil
		}
		return specFor("Pets"), nil
	})
	o := newTestOrchestrator(t, gen)
	o.Schema = nil
	o.Options.CheckStructure = true
	writeDocs(t, o.Options.InputDir, map[string]string{"bare.txt": "bare", "full.txt": "full"})

	sum, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFlagged, sum.Results[0].Status)
	assert.NotEmpty(t, sum.Results[0].Reasons)
	assert.Equal(t, StatusPersisted, sum.Results[1].Status)
}

func TestRun_OverwritesArtifacts(t *testing.T) {
	o := newTestOrchestrator(t, llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		return "{}", nil
	}))
	o.Schema = nil
	writeDocs(t, o.Options.InputDir, map[string]string{"doc.txt": "x"})
	require.NoError(t, os.MkdirAll(o.Options.OutputDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(o.Options.OutputDir, "doc.json"), []byte(strings.Repeat("stale ", 100)), 0644))

	_, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "{}", readArtifact(t, o, "doc.json"))

	entries, err := os.ReadDir(o.Options.OutputDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp or probe files left behind")
}

func TestRun_EmptyInput(t *testing.T) {
	o := newTestOrchestrator(t, fencedSpec(nil))

	sum, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sum.Results)
	assert.DirExists(t, o.Options.OutputDir)
}

func TestRun_MissingInput(t *testing.T) {
	o := newTestOrchestrator(t, fencedSpec(nil))
	o.Options.InputDir = filepath.Join(t.TempDir(), "nope")

	_, err := o.Run(context.Background())
	assert.ErrorIs(t, err, ErrInputMissing)
}

func TestRun_UnwritableOutput(t *testing.T) {
	o := newTestOrchestrator(t, fencedSpec(nil))
	writeDocs(t, o.Options.InputDir, map[string]string{"a.txt": "a"})

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	o.Options.OutputDir = filepath.Join(blocker, "generated")

	_, err := o.Run(context.Background())
	assert.ErrorIs(t, err, ErrOutputUnwritable)
}

func TestRun_ParallelMatchesSequential(t *testing.T) {
	docs := map[string]string{}
	for i := 0; i < 12; i++ {
		docs[fmt.Sprintf("dir%d/doc%02d.txt", i%3, i)] = fmt.Sprintf("endpoint %d", i)
	}

	run := func(workers int) (map[string]string, *Summary) {
		o := newTestOrchestrator(t, llm.Limit(fencedSpec(nil), 2))
		o.Options.Workers = workers
		writeDocs(t, o.Options.InputDir, docs)
		sum, err := o.Run(context.Background())
		require.NoError(t, err)

		out := map[string]string{}
		entries, err := os.ReadDir(o.Options.OutputDir)
		require.NoError(t, err)
		for _, e := range entries {
			out[e.Name()] = readArtifact(t, o, e.Name())
		}
		return out, sum
	}

	seq, seqSum := run(1)
	par, parSum := run(4)
	assert.Len(t, seq, 12)
	assert.Equal(t, seq, par)
	assert.Equal(t, seqSum.Persisted, parSum.Persisted)

	for i := range seqSum.Results {
		assert.Equal(t, filepath.Base(seqSum.Results[i].Path), filepath.Base(parSum.Results[i].Path))
	}
}

func TestRun_ArtifactNameCollision(t *testing.T) {
	o := newTestOrchestrator(t, fencedSpec(nil))
	o.Options.Workers = 2
	writeDocs(t, o.Options.InputDir, map[string]string{"a/spec.txt": "first", "b/spec.md": "second"})

	sum, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Persisted)
	assert.True(t, json.Valid([]byte(readArtifact(t, o, "spec.json"))))
}

func TestRun_Incremental(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer store.Close()

	var calls int32
	o := newTestOrchestrator(t, fencedSpec(&calls))
	o.Ledger = store
	o.Options.Incremental = true
	writeDocs(t, o.Options.InputDir, map[string]string{"a.txt": "alpha", "b.txt": "beta"})

	ctx := context.Background()
	first, err := o.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Persisted)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	second, err := o.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Skipped)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	writeDocs(t, o.Options.InputDir, map[string]string{"b.txt": "beta v2"})
	require.NoError(t, os.Remove(filepath.Join(o.Options.OutputDir, "a.json")))

	third, err := o.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, third.Persisted, "changed content and missing artifacts are regenerated")
	assert.EqualValues(t, 4, atomic.LoadInt32(&calls))

	run, err := store.GetRun(ctx, third.RunID)
	require.NoError(t, err)
	assert.Equal(t, 2, run.Persisted)
	assert.False(t, run.FinishedAt.IsZero())

	docs, err := store.ListDocuments(ctx, second.RunID)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "skipped", docs[0].Status)
}

func TestRun_IncrementalSettingsChange(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer store.Close()

	var calls int32
	o := newTestOrchestrator(t, fencedSpec(&calls))
	o.Ledger = store
	o.Options.Incremental = true
	o.Options.GeneratorID = "gemini|model-a"
	writeDocs(t, o.Options.InputDir, map[string]string{"a.txt": "alpha"})

	ctx := context.Background()
	run := func() *Summary {
		t.Helper()
		sum, err := o.Run(ctx)
		require.NoError(t, err)
		require.Len(t, sum.Results, 1)
		return sum
	}

	assert.Equal(t, 1, run().Persisted)
	assert.Equal(t, 1, run().Skipped)

	tests := []struct {
		name   string
		change func()
	}{
		{"model", func() { o.Options.GeneratorID = "gemini|model-b" }},
		{"structure check", func() { o.Options.CheckStructure = true }},
		{"schema", func() { o.Schema = validate.NewSchema([]byte(`{"type":"object","required":["openapi"]}`)) }},
		{"instruction", func() { o.Prompts.Instruction = "Answer with OpenAPI 3.0 JSON only." }},
	}
	for _, tt := range tests {
		tt.change()
		assert.Equal(t, 1, run().Persisted, "%s change regenerates", tt.name)
		assert.Equal(t, 1, run().Skipped, "%s unchanged afterwards skips", tt.name)
	}
	assert.EqualValues(t, 1+len(tests), atomic.LoadInt32(&calls))
}

func TestRun_OutputInsideInput(t *testing.T) {
	var calls int32
	o := newTestOrchestrator(t, fencedSpec(&calls))
	o.Options.OutputDir = filepath.Join(o.Options.InputDir, "generated")
	o.Options.ReportPath = filepath.Join(o.Options.InputDir, "report.json")
	writeDocs(t, o.Options.InputDir, map[string]string{"api.txt": "GET /pets"})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		sum, err := o.Run(ctx)
		require.NoError(t, err)
		require.Len(t, sum.Results, 1, "run %d", i+1)
		assert.Equal(t, filepath.Join(o.Options.InputDir, "api.txt"), sum.Results[0].Path)
	}
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	assert.FileExists(t, filepath.Join(o.Options.OutputDir, "api.json"))
}

func TestRun_LogsUnreadableEntries(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	var buf bytes.Buffer
	o := newTestOrchestrator(t, fencedSpec(nil))
	o.Logger = slog.New(slog.NewTextHandler(&buf, nil))
	writeDocs(t, o.Options.InputDir, map[string]string{"api.txt": "GET /pets"})
	dangling := filepath.Join(o.Options.InputDir, "gone.txt")
	require.NoError(t, os.Symlink(filepath.Join(o.Options.InputDir, "missing.txt"), dangling))

	sum, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, sum.Results, 1)
	assert.Contains(t, buf.String(), "skipping unreadable entry")
	assert.Contains(t, buf.String(), "gone.txt")
}

func TestRun_Report(t *testing.T) {
	gen := llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "bad") {
			return "nope", nil
		}
		return specFor("ok"), nil
	})
	o := newTestOrchestrator(t, gen)
	o.Options.ReportPath = filepath.Join(t.TempDir(), "reports", "run.json")
	writeDocs(t, o.Options.InputDir, map[string]string{"bad.txt": "bad", "good.txt": "good"})

	sum, err := o.Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(o.Options.ReportPath)
	require.NoError(t, err)
	var report RunReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, sum.RunID, report.RunID)
	assert.Equal(t, 2, report.Summary.Documents)
	assert.Equal(t, 1, report.Summary.Flagged)
	assert.Equal(t, 1, report.Summary.Persisted)
	require.Len(t, report.Signals, 1)
	assert.Equal(t, "document_flagged", report.Signals[0].Code)
	assert.Contains(t, report.Signals[0].Message, "syntax_invalid")
	require.Len(t, report.Stages, 2)
	assert.Equal(t, "discover", report.Stages[0].Name)
}

func TestRun_Cancelled(t *testing.T) {
	o := newTestOrchestrator(t, fencedSpec(nil))
	writeDocs(t, o.Options.InputDir, map[string]string{"a.txt": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := o.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, sum)
	assert.Equal(t, 1, sum.Failed)
}
