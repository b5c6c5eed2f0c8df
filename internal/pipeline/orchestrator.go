// Package pipeline drives documentation files through prompt construction,
// generation, sanitizing, validation and persistence.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"oasgen/internal/crawler"
	"oasgen/internal/llm"
	"oasgen/internal/prompt"
	"oasgen/internal/sanitize"
	"oasgen/internal/storage"
	"oasgen/internal/validate"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInputMissing is returned when the input directory does not exist.
	ErrInputMissing = errors.New("input directory missing")
	// ErrOutputUnwritable is returned when the output directory cannot be
	// created or written to.
	ErrOutputUnwritable = errors.New("output directory not writable")
)

type Status string

const (
	StatusPersisted Status = "persisted"
	StatusFlagged   Status = "flagged"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Stage is the last stage a document reached.
type Stage string

const (
	StageLoad     Stage = "load"
	StagePrompt   Stage = "prompt"
	StageGenerate Stage = "generate"
	StageSanitize Stage = "sanitize"
	StageValidate Stage = "validate"
	StagePersist  Stage = "persist"
)

type DocumentResult struct {
	Path        string
	Artifact    string
	Status      Status
	Stage       Stage
	Outcome     validate.Outcome
	Err         error
	Reasons     []string
	ContentHash string
	Duration    time.Duration
}

type Summary struct {
	RunID     string
	Results   []DocumentResult
	Persisted int
	Flagged   int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

// Problems returns the flagged and failed results in discovery order.
func (s *Summary) Problems() []DocumentResult {
	var out []DocumentResult
	for _, r := range s.Results {
		if r.Status == StatusFlagged || r.Status == StatusFailed {
			out = append(out, r)
		}
	}
	return out
}

type Options struct {
	InputDir  string
	OutputDir string
	Ignore    []string
	// Workers bounds concurrently processed documents. Values below 1 mean
	// sequential processing in discovery order.
	Workers int
	// CheckStructure adds the OpenAPI structural validator after the schema
	// check.
	CheckStructure bool
	// Incremental skips documents whose content and settings are unchanged
	// since their last persisted run. It needs a Ledger.
	Incremental bool
	// GeneratorID names the generator configuration (provider, model,
	// sampling). A different value invalidates incremental skips.
	GeneratorID string
	// ReportPath, when set, receives the JSON run report.
	ReportPath string
}

// Ledger is the subset of the storage layer the orchestrator records into.
type Ledger interface {
	storage.RunStore
	storage.DocumentStore
}

type Orchestrator struct {
	Options   Options
	Generator llm.Generator
	Prompts   *prompt.Builder
	Loader    *crawler.Loader
	// Schema is the OpenAPI JSON Schema; nil limits validation to syntax.
	Schema *validate.Schema
	Ledger Ledger
	Logger *slog.Logger
}

func NewOrchestrator(opts Options, gen llm.Generator) *Orchestrator {
	return &Orchestrator{
		Options:   opts,
		Generator: gen,
		Prompts:   &prompt.Builder{},
	}
}

// Run processes every document under Options.InputDir. Only batch-level
// failures are returned as errors; per-document failures are reported in the
// summary.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	started := time.Now()
	log := o.logger()

	if info, err := os.Stat(o.Options.InputDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrInputMissing, o.Options.InputDir)
	}
	if err := probeWritable(o.Options.OutputDir); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOutputUnwritable, o.Options.OutputDir, err)
	}
	if o.Generator == nil {
		return nil, errors.New("no generator configured")
	}
	if o.Prompts == nil {
		o.Prompts = &prompt.Builder{}
	}
	if o.Loader == nil {
		l, err := crawler.NewLoader(false)
		if err != nil {
			return nil, err
		}
		o.Loader = l
	}

	runID := uuid.NewString()
	report := NewRunReport(runID, o.Options.InputDir, o.Options.OutputDir)

	h := report.BeginStage("discover")
	docs, err := crawler.NewCrawler(o.Options.Ignore...).
		Exclude(o.Options.OutputDir, o.Options.ReportPath).
		OnError(func(path string, err error) {
			log.Warn("skipping unreadable entry", "path", path, "error", err)
		}).
		FindAll(o.Options.InputDir)
	report.EndStage(h, map[string]float64{"documents": float64(len(docs))}, err)
	if err != nil {
		return nil, fmt.Errorf("failed to discover documents: %w", err)
	}
	log.Info("discovered documents", "run_id", runID, "count", len(docs), "input", o.Options.InputDir)

	if o.Ledger != nil {
		if err := o.Ledger.StartRun(ctx, storage.RunRecord{
			ID: runID, InputDir: o.Options.InputDir, OutputDir: o.Options.OutputDir, StartedAt: started,
		}); err != nil {
			log.Warn("failed to record run start", "run_id", runID, "error", err)
		}
	}

	b := batch{runID: runID, settings: o.settings(), locks: o.artifactLocks(docs)}

	workers := o.Options.Workers
	if workers < 1 {
		workers = 1
	}
	results := make([]DocumentResult, len(docs))

	h = report.BeginStage("process")
	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, path := range docs {
		g.Go(func() error {
			results[i] = o.process(ctx, b, path)
			return nil
		})
	}
	_ = g.Wait()

	sum := &Summary{RunID: runID, Results: results}
	for _, res := range results {
		report.AddDocument(res)
		switch res.Status {
		case StatusPersisted:
			sum.Persisted++
		case StatusFlagged:
			sum.Flagged++
		case StatusFailed:
			sum.Failed++
		case StatusSkipped:
			sum.Skipped++
		}
	}
	report.EndStage(h, map[string]float64{
		"persisted": float64(sum.Persisted),
		"flagged":   float64(sum.Flagged),
		"failed":    float64(sum.Failed),
		"skipped":   float64(sum.Skipped),
	}, ctx.Err())
	sum.Duration = time.Since(started)

	if o.Ledger != nil {
		// the run context may already be cancelled; the counts are still worth keeping
		if err := o.Ledger.FinishRun(context.WithoutCancel(ctx), storage.RunRecord{
			ID: runID, FinishedAt: time.Now(),
			Persisted: sum.Persisted, Flagged: sum.Flagged, Failed: sum.Failed, Skipped: sum.Skipped,
		}); err != nil {
			log.Warn("failed to record run finish", "run_id", runID, "error", err)
		}
	}
	if o.Options.ReportPath != "" {
		if err := report.Save(o.Options.ReportPath); err != nil {
			log.Warn("failed to write run report", "path", o.Options.ReportPath, "error", err)
		}
	}

	log.Info("run finished", "run_id", runID,
		"persisted", sum.Persisted, "flagged", sum.Flagged, "failed", sum.Failed, "skipped", sum.Skipped,
		"duration", sum.Duration)

	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, nil
}

// batch is the per-run state shared by document workers.
type batch struct {
	runID    string
	settings string
	locks    map[string]*sync.Mutex
}

// settings fingerprints everything besides document content that shapes an
// artifact or its validation outcome.
func (o *Orchestrator) settings() string {
	h := sha256.New()
	for _, part := range []string{
		o.Options.GeneratorID,
		o.Prompts.Build(""),
		o.Schema.Digest(),
		strconv.FormatBool(o.Options.CheckStructure),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// artifactLocks returns one mutex per artifact name so that documents
// mapping to the same file are written one at a time.
func (o *Orchestrator) artifactLocks(docs []string) map[string]*sync.Mutex {
	sources := make(map[string][]string, len(docs))
	for _, path := range docs {
		name := crawler.ArtifactName(path)
		sources[name] = append(sources[name], path)
	}
	locks := make(map[string]*sync.Mutex, len(sources))
	for name, paths := range sources {
		locks[name] = &sync.Mutex{}
		if len(paths) > 1 {
			o.logger().Warn("documents share an artifact name; later writes overwrite earlier ones",
				"artifact", name, "documents", paths)
		}
	}
	return locks
}

func (o *Orchestrator) process(ctx context.Context, b batch, path string) (res DocumentResult) {
	started := time.Now()
	name := crawler.ArtifactName(path)
	res = DocumentResult{Path: path, Artifact: filepath.Join(o.Options.OutputDir, name), Stage: StageLoad}
	log := o.logger().With("document", path)

	defer func() {
		if r := recover(); r != nil {
			res.Status = StatusFailed
			res.Err = fmt.Errorf("panic during %s: %v", res.Stage, r)
		}
		res.Duration = time.Since(started)
		o.record(ctx, b, res)
		switch res.Status {
		case StatusFailed:
			log.Error("document failed", "stage", res.Stage, "error", res.Err)
		case StatusFlagged:
			log.Warn("document flagged", "outcome", res.Outcome.String(), "reasons", res.Reasons)
		case StatusSkipped:
			log.Debug("document unchanged, skipped")
		default:
			log.Info("document persisted", "artifact", res.Artifact)
		}
	}()

	fail := func(err error) DocumentResult {
		res.Status = StatusFailed
		res.Err = err
		return res
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	doc, err := o.Loader.Load(ctx, path)
	if err != nil {
		return fail(err)
	}
	res.ContentHash = doc.Hash

	if o.Options.Incremental && o.Ledger != nil && o.unchanged(ctx, doc, b.settings, res.Artifact) {
		res.Status = StatusSkipped
		return res
	}

	res.Stage = StagePrompt
	p := o.Prompts.Build(doc.Text)

	res.Stage = StageGenerate
	raw, err := o.Generator.Generate(ctx, p)
	if err != nil {
		return fail(fmt.Errorf("generation failed: %w", err))
	}

	res.Stage = StageSanitize
	text := sanitize.StripFences(raw)

	res.Stage = StageValidate
	vr := validate.Check(text, o.Schema)
	res.Outcome = vr.Outcome
	res.Reasons = vr.Reasons
	if vr.OK() && o.Options.CheckStructure {
		res.Reasons = o.checkStructure(text, &res)
	}

	res.Stage = StagePersist
	lock := b.locks[name]
	lock.Lock()
	err = writeAtomic(res.Artifact, []byte(text))
	lock.Unlock()
	if err != nil {
		return fail(fmt.Errorf("failed to write artifact: %w", err))
	}

	if res.Outcome == validate.Valid {
		res.Status = StatusPersisted
	} else {
		res.Status = StatusFlagged
	}
	return res
}

func (o *Orchestrator) checkStructure(text string, res *DocumentResult) []string {
	issues, err := validate.CheckStructure(text)
	if err != nil {
		res.Outcome = validate.SchemaInvalid
		return []string{err.Error()}
	}
	if !validate.HasErrors(issues) {
		return nil
	}
	res.Outcome = validate.SchemaInvalid
	var reasons []string
	for _, i := range issues {
		if !i.Warning {
			reasons = append(reasons, i.String())
		}
	}
	return reasons
}

func (o *Orchestrator) unchanged(ctx context.Context, doc crawler.Document, settings, artifact string) bool {
	last, err := o.Ledger.LastPersisted(ctx, doc.Path)
	if err != nil {
		o.logger().Warn("ledger lookup failed", "document", doc.Path, "error", err)
		return false
	}
	if last == nil || last.ContentHash != doc.Hash || last.Settings != settings {
		return false
	}
	_, err = os.Stat(artifact)
	return err == nil
}

func (o *Orchestrator) record(ctx context.Context, b batch, res DocumentResult) {
	if o.Ledger == nil {
		return
	}
	rec := storage.DocumentRecord{
		RunID:       b.runID,
		Path:        res.Path,
		ContentHash: res.ContentHash,
		Artifact:    res.Artifact,
		Status:      string(res.Status),
		Stage:       string(res.Stage),
		Reasons:     res.Reasons,
		Settings:    b.settings,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if err := o.Ledger.SaveDocument(context.WithoutCancel(ctx), rec); err != nil {
		o.logger().Warn("failed to record document", "document", res.Path, "error", err)
	}
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}
