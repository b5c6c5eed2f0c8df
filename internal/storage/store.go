package storage

import (
	"context"
	"encoding/json"
	"time"
)

// Ledger records pipeline runs, per-document outcomes and scores.
type Ledger interface {
	RunStore
	DocumentStore
	ScoreStore
	Close() error
}

// RunStore persists one row per generation run. Evaluations are kept apart
// in ScoreStore.
type RunStore interface {
	// StartRun inserts a run. FinishRun later fills in its counts.
	StartRun(ctx context.Context, run RunRecord) error

	FinishRun(ctx context.Context, run RunRecord) error

	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// LatestRun returns the most recently started generation run, or nil if
	// none.
	LatestRun(ctx context.Context) (*RunRecord, error)
}

// DocumentStore persists the final state of each document in a run.
type DocumentStore interface {
	// SaveDocument upserts the outcome for (RunID, Path).
	SaveDocument(ctx context.Context, rec DocumentRecord) error

	ListDocuments(ctx context.Context, runID string) ([]DocumentRecord, error)

	// LastPersisted returns the document's most recent non-skipped outcome
	// when that outcome was persisted, or nil otherwise.
	LastPersisted(ctx context.Context, path string) (*DocumentRecord, error)
}

// ScoreStore persists evaluations and the per-case scores behind them.
type ScoreStore interface {
	SaveEvaluation(ctx context.Context, eval EvaluationRecord) error
	// LatestEvaluation returns the most recent evaluation, or nil if none.
	LatestEvaluation(ctx context.Context) (*EvaluationRecord, error)

	SaveScore(ctx context.Context, rec ScoreRecord) error
	// ListScores returns the scores of one evaluation in insertion order.
	ListScores(ctx context.Context, evaluationID string) ([]ScoreRecord, error)
}

type RunRecord struct {
	ID         string
	InputDir   string
	OutputDir  string
	StartedAt  time.Time
	FinishedAt time.Time
	Persisted  int
	Flagged    int
	Failed     int
	Skipped    int
}

type DocumentRecord struct {
	RunID       string
	Path        string
	ContentHash string
	Artifact    string
	Status      string
	Stage       string
	Error       string
	Reasons     []string
	// Settings fingerprints the generation and validation settings the
	// outcome was produced under.
	Settings string
}

type EvaluationRecord struct {
	ID              string
	ExpectedDir     string
	GeneratedDir    string
	CreatedAt       time.Time
	Cases           int
	ExactMatches    int
	ToolFailures    int
	MissingOutputs  int
	MeanCorrectness float64
}

type ScoreRecord struct {
	// RunID is the ID of the evaluation the score belongs to.
	RunID       string
	Name        string
	Expected    string
	Generated   string
	Correctness float64
	DiffCount   int
	Differences json.RawMessage
}
