package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Ledger = (*SQLiteStore)(nil)

// NewSQLiteStore creates or opens a SQLite database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// Workers write concurrently; one connection keeps SQLite from
	// reporting "database is locked".
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			input_dir TEXT,
			output_dir TEXT,
			started_at TEXT,
			finished_at TEXT,
			persisted INTEGER DEFAULT 0,
			flagged INTEGER DEFAULT 0,
			failed INTEGER DEFAULT 0,
			skipped INTEGER DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS documents (
			run_id TEXT,
			path TEXT,
			content_hash TEXT,
			artifact TEXT,
			status TEXT,
			stage TEXT,
			error TEXT,
			reasons JSON,
			settings TEXT DEFAULT '',
			PRIMARY KEY (run_id, path)
		);`,
		`CREATE TABLE IF NOT EXISTS evaluations (
			id TEXT PRIMARY KEY,
			expected_dir TEXT,
			generated_dir TEXT,
			created_at TEXT,
			cases INTEGER DEFAULT 0,
			exact_matches INTEGER DEFAULT 0,
			tool_failures INTEGER DEFAULT 0,
			missing_outputs INTEGER DEFAULT 0,
			mean_correctness REAL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS scores (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			name TEXT,
			expected TEXT,
			generated TEXT,
			correctness REAL,
			diff_count INTEGER,
			differences JSON
		);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(path);`,
		`CREATE INDEX IF NOT EXISTS idx_scores_run ON scores(run_id);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	// databases created before settings fingerprints existed
	return s.addColumn("documents", "settings", "TEXT DEFAULT ''")
}

// addColumn adds column to table unless it is already there.
func (s *SQLiteStore) addColumn(table, column, decl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	return err
}

// --- RunStore Implementation ---

func (s *SQLiteStore) StartRun(ctx context.Context, run RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, input_dir, output_dir, started_at)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.InputDir, run.OutputDir, formatTime(run.StartedAt))
	return err
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run RunRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at=?, persisted=?, flagged=?, failed=?, skipped=?
		WHERE id=?
	`, formatTime(run.FinishedAt), run.Persisted, run.Flagged, run.Failed, run.Skipped, run.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, input_dir, output_dir, started_at, finished_at, persisted, flagged, failed, skipped
		FROM runs WHERE id=?
	`, id)
	return scanRun(row)
}

func (s *SQLiteStore) LatestRun(ctx context.Context) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, input_dir, output_dir, started_at, finished_at, persisted, flagged, failed, skipped
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1
	`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

func scanRun(row *sql.Row) (*RunRecord, error) {
	var r RunRecord
	var started, finished sql.NullString
	if err := row.Scan(&r.ID, &r.InputDir, &r.OutputDir, &started, &finished, &r.Persisted, &r.Flagged, &r.Failed, &r.Skipped); err != nil {
		return nil, err
	}
	r.StartedAt = parseTime(started.String)
	r.FinishedAt = parseTime(finished.String)
	return &r, nil
}

// --- DocumentStore Implementation ---

func (s *SQLiteStore) SaveDocument(ctx context.Context, rec DocumentRecord) error {
	reasons, _ := json.Marshal(rec.Reasons)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (run_id, path, content_hash, artifact, status, stage, error, reasons, settings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, path) DO UPDATE SET
			content_hash=excluded.content_hash,
			artifact=excluded.artifact,
			status=excluded.status,
			stage=excluded.stage,
			error=excluded.error,
			reasons=excluded.reasons,
			settings=excluded.settings
	`, rec.RunID, rec.Path, rec.ContentHash, rec.Artifact, rec.Status, rec.Stage, rec.Error, reasons, rec.Settings)
	return err
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, runID string) ([]DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, path, content_hash, artifact, status, stage, error, reasons, settings
		FROM documents WHERE run_id=? ORDER BY path
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentRecord
	for rows.Next() {
		rec, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LastPersisted(ctx context.Context, path string) (*DocumentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, path, content_hash, artifact, status, stage, error, reasons, settings
		FROM documents
		WHERE path=? AND status != 'skipped'
		ORDER BY rowid DESC LIMIT 1
	`, path)
	rec, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.Status != "persisted" {
		return nil, nil
	}
	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*DocumentRecord, error) {
	var rec DocumentRecord
	var reasons []byte
	var errText, settings sql.NullString
	if err := row.Scan(&rec.RunID, &rec.Path, &rec.ContentHash, &rec.Artifact, &rec.Status, &rec.Stage, &errText, &reasons, &settings); err != nil {
		return nil, err
	}
	rec.Error = errText.String
	rec.Settings = settings.String
	if len(reasons) > 0 {
		_ = json.Unmarshal(reasons, &rec.Reasons)
	}
	return &rec, nil
}

// --- ScoreStore Implementation ---

func (s *SQLiteStore) SaveEvaluation(ctx context.Context, eval EvaluationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluations (id, expected_dir, generated_dir, created_at, cases, exact_matches, tool_failures, missing_outputs, mean_correctness)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, eval.ID, eval.ExpectedDir, eval.GeneratedDir, formatTime(eval.CreatedAt),
		eval.Cases, eval.ExactMatches, eval.ToolFailures, eval.MissingOutputs, eval.MeanCorrectness)
	return err
}

func (s *SQLiteStore) LatestEvaluation(ctx context.Context) (*EvaluationRecord, error) {
	var e EvaluationRecord
	var created sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, expected_dir, generated_dir, created_at, cases, exact_matches, tool_failures, missing_outputs, mean_correctness
		FROM evaluations ORDER BY created_at DESC, rowid DESC LIMIT 1
	`).Scan(&e.ID, &e.ExpectedDir, &e.GeneratedDir, &created, &e.Cases, &e.ExactMatches, &e.ToolFailures, &e.MissingOutputs, &e.MeanCorrectness)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.CreatedAt = parseTime(created.String)
	return &e, nil
}

func (s *SQLiteStore) SaveScore(ctx context.Context, rec ScoreRecord) error {
	diffs := rec.Differences
	if len(diffs) == 0 {
		diffs = json.RawMessage("[]")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scores (run_id, name, expected, generated, correctness, diff_count, differences)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.RunID, rec.Name, rec.Expected, rec.Generated, rec.Correctness, rec.DiffCount, []byte(diffs))
	return err
}

func (s *SQLiteStore) ListScores(ctx context.Context, evaluationID string) ([]ScoreRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, name, expected, generated, correctness, diff_count, differences
		FROM scores WHERE run_id=? ORDER BY id
	`, evaluationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()

	var out []ScoreRecord
	for rows.Next() {
		var rec ScoreRecord
		var diffs []byte
		if err := rows.Scan(&rec.RunID, &rec.Name, &rec.Expected, &rec.Generated, &rec.Correctness, &rec.DiffCount, &diffs); err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		rec.Differences = json.RawMessage(diffs)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
