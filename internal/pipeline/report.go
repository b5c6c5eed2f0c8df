package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

type ReportSignal struct {
	Code     string `json:"code"`
	Stage    string `json:"stage"`
	Severity string `json:"severity"`
	Document string `json:"document,omitempty"`
	Message  string `json:"message"`
}

type StageMetric struct {
	Name       string             `json:"name"`
	Status     string             `json:"status"`
	StartedAt  string             `json:"started_at"`
	FinishedAt string             `json:"finished_at"`
	DurationMS int64              `json:"duration_ms"`
	Counters   map[string]float64 `json:"counters,omitempty"`
	Error      string             `json:"error,omitempty"`
}

type DocumentMetric struct {
	Path       string   `json:"path"`
	Artifact   string   `json:"artifact,omitempty"`
	Status     string   `json:"status"`
	Stage      string   `json:"stage"`
	DurationMS int64    `json:"duration_ms"`
	Reasons    []string `json:"reasons,omitempty"`
	Error      string   `json:"error,omitempty"`
}

type ReportSummary struct {
	Documents         int            `json:"documents"`
	Persisted         int            `json:"persisted"`
	Flagged           int            `json:"flagged"`
	Failed            int            `json:"failed"`
	Skipped           int            `json:"skipped"`
	FailedStages      int            `json:"failed_stages"`
	SignalsBySeverity map[string]int `json:"signals_by_severity"`
}

// RunReport is the machine-readable record of one batch run.
type RunReport struct {
	Version     string           `json:"version"`
	RunID       string           `json:"run_id"`
	GeneratedAt string           `json:"generated_at"`
	InputDir    string           `json:"input_dir"`
	OutputDir   string           `json:"output_dir"`
	Stages      []StageMetric    `json:"stages"`
	Documents   []DocumentMetric `json:"documents"`
	Signals     []ReportSignal   `json:"signals"`
	Summary     ReportSummary    `json:"summary"`
}

type StageHandle struct {
	name    string
	started time.Time
}

func NewRunReport(runID, inputDir, outputDir string) *RunReport {
	return &RunReport{
		Version:     "v1",
		RunID:       runID,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		InputDir:    inputDir,
		OutputDir:   outputDir,
		Stages:      []StageMetric{},
		Documents:   []DocumentMetric{},
		Signals:     []ReportSignal{},
	}
}

func (r *RunReport) BeginStage(name string) StageHandle {
	return StageHandle{name: strings.TrimSpace(name), started: time.Now().UTC()}
}

func (r *RunReport) EndStage(h StageHandle, counters map[string]float64, err error) {
	if r == nil || h.name == "" {
		return
	}
	finished := time.Now().UTC()
	m := StageMetric{
		Name:       h.name,
		Status:     "ok",
		StartedAt:  h.started.Format(time.RFC3339Nano),
		FinishedAt: finished.Format(time.RFC3339Nano),
		DurationMS: finished.Sub(h.started).Milliseconds(),
		Counters:   cleanCounters(counters),
	}
	if err != nil {
		m.Status = "error"
		m.Error = err.Error()
	}
	r.Stages = append(r.Stages, m)
}

// AddDocument records res and derives signals for flagged and failed
// documents.
func (r *RunReport) AddDocument(res DocumentResult) {
	if r == nil {
		return
	}
	m := DocumentMetric{
		Path:       res.Path,
		Artifact:   res.Artifact,
		Status:     string(res.Status),
		Stage:      string(res.Stage),
		DurationMS: res.Duration.Milliseconds(),
		Reasons:    res.Reasons,
	}
	if res.Err != nil {
		m.Error = res.Err.Error()
	}
	r.Documents = append(r.Documents, m)

	switch res.Status {
	case StatusFailed:
		r.AddSignal("document_failed", string(res.Stage), "critical", res.Path, m.Error)
	case StatusFlagged:
		msg := res.Outcome.String()
		if len(res.Reasons) > 0 {
			msg += ": " + res.Reasons[0]
		}
		r.AddSignal("document_flagged", string(res.Stage), "warning", res.Path, msg)
	}
}

func (r *RunReport) AddSignal(code, stage, severity, document, message string) {
	if r == nil {
		return
	}
	s := ReportSignal{
		Code:     strings.TrimSpace(code),
		Stage:    strings.TrimSpace(stage),
		Severity: strings.ToLower(strings.TrimSpace(severity)),
		Document: document,
		Message:  strings.TrimSpace(message),
	}
	if s.Code == "" || s.Stage == "" || s.Severity == "" || s.Message == "" {
		return
	}
	r.Signals = append(r.Signals, s)
}

func (r *RunReport) Finalize() {
	if r == nil {
		return
	}
	r.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	severityCount := map[string]int{
		"critical": 0,
		"warning":  0,
		"info":     0,
	}
	sort.SliceStable(r.Signals, func(i, j int) bool {
		pi := signalPriority(r.Signals[i].Severity)
		pj := signalPriority(r.Signals[j].Severity)
		if pi == pj {
			return r.Signals[i].Document < r.Signals[j].Document
		}
		return pi > pj
	})
	for _, s := range r.Signals {
		severityCount[s.Severity]++
	}

	failedStages := 0
	for _, st := range r.Stages {
		if st.Status != "ok" {
			failedStages++
		}
	}

	sum := ReportSummary{
		Documents:         len(r.Documents),
		FailedStages:      failedStages,
		SignalsBySeverity: severityCount,
	}
	for _, d := range r.Documents {
		switch Status(d.Status) {
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
	r.Summary = sum
}

func (r *RunReport) Save(path string) error {
	if r == nil {
		return nil
	}
	r.Finalize()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0644)
}

func cleanCounters(raw map[string]float64) map[string]float64 {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		out[key] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func signalPriority(severity string) int {
	switch severity {
	case "critical":
		return 3
	case "warning":
		return 2
	default:
		return 1
	}
}
