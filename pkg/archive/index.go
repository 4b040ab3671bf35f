package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/zen-systems/visroute/pkg/eval"
)

// Run is one row of the run index. Summary fields are NULL for runs without records.
type Run struct {
	RunID          string
	StartedAt      time.Time
	FinishedAt     time.Time
	Dataset        string
	SampleBudget   int
	Threshold      float64
	Records        int
	Skipped        int
	Accuracy       sql.NullFloat64
	AvgSamples     sql.NullFloat64
	EscalationRate sql.NullFloat64
	Report         Ref
}

// RunFromReport builds the index row for report.
func RunFromReport(report *eval.Report, dataset string, ref Ref) Run {
	run := Run{
		RunID:        report.RunID,
		StartedAt:    report.StartedAt,
		FinishedAt:   report.FinishedAt,
		Dataset:      dataset,
		SampleBudget: report.Params.SampleBudget,
		Threshold:    report.Params.Threshold,
		Records:      len(report.Records),
		Skipped:      len(report.Skipped),
		Report:       ref,
	}
	if s := report.Summary; s != nil {
		run.Accuracy = sql.NullFloat64{Float64: s.Accuracy, Valid: true}
		run.AvgSamples = sql.NullFloat64{Float64: s.AvgSamples, Valid: true}
		run.EscalationRate = sql.NullFloat64{Float64: s.EscalationRate, Valid: true}
	}
	return run
}

// Index is the SQLite table of archived evaluation runs.
type Index struct {
	db *sql.DB
}

const indexSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	started_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	dataset TEXT NOT NULL,
	sample_budget INTEGER NOT NULL,
	threshold REAL NOT NULL,
	records INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	accuracy REAL,
	avg_samples REAL,
	escalation_rate REAL,
	report_sha256 TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// OpenIndex opens (and creates) the index database at path.
func OpenIndex(ctx context.Context, path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Record inserts or replaces a run.
func (idx *Index) Record(ctx context.Context, run Run) error {
	_, err := idx.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (
			run_id, started_at, finished_at, dataset, sample_budget, threshold,
			records, skipped, accuracy, avg_samples, escalation_rate, report_sha256
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Dataset, run.SampleBudget, run.Threshold,
		run.Records, run.Skipped, run.Accuracy, run.AvgSamples, run.EscalationRate, run.Report.SHA256,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.RunID, err)
	}
	return nil
}

// List returns up to limit runs, newest first. limit <= 0 returns all runs.
func (idx *Index) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := idx.db.QueryContext(ctx, `
		SELECT run_id, started_at, finished_at, dataset, sample_budget, threshold,
			records, skipped, accuracy, avg_samples, escalation_rate, report_sha256
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(
			&run.RunID, &run.StartedAt, &run.FinishedAt, &run.Dataset, &run.SampleBudget, &run.Threshold,
			&run.Records, &run.Skipped, &run.Accuracy, &run.AvgSamples, &run.EscalationRate, &run.Report.SHA256,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Report.Kind = "eval_report"
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Close closes the database.
func (idx *Index) Close() error {
	return idx.db.Close()
}
