// Package history persists analysis batch results to SQLite so the API can
// serve the latest run without re-running the pipeline.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/regime-engine/internal/database"
	"github.com/aristath/regime-engine/internal/domain"
)

// ErrRunNotFound is returned when no run matches the requested id
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	started_at   TIMESTAMP NOT NULL,
	completed_at TIMESTAMP NOT NULL,
	gap_pct      REAL,
	stance       TEXT,
	symbols      INTEGER NOT NULL,
	payload      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

// RunSummary is the lightweight listing row for one stored run
type RunSummary struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	GapPct      *float64  `json:"gap_pct,omitempty"`
	Stance      string    `json:"stance,omitempty"`
	Symbols     int       `json:"symbols"`
}

// Store reads and writes batch results. The full result is stored as a JSON
// payload; a few columns are lifted out for listing and pruning queries.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// NewStore creates a run store and applies its schema
func NewStore(db *database.DB, log zerolog.Logger) (*Store, error) {
	if err := db.ExecSchema(schema); err != nil {
		return nil, fmt.Errorf("failed to apply runs schema: %w", err)
	}
	return &Store{
		db:  db,
		log: log.With().Str("component", "run_store").Logger(),
	}, nil
}

// SaveRun persists one batch result, replacing any previous row with the
// same run id
func (s *Store) SaveRun(ctx context.Context, result domain.BatchResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", result.RunID, err)
	}

	var gapPct *float64
	if result.Gap != nil {
		gapPct = &result.Gap.PredictedGapPct
	}
	var stance string
	if result.Recommendation != nil {
		stance = result.Recommendation.Stance
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (run_id, started_at, completed_at, gap_pct, stance, symbols, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.RunID, result.StartedAt, result.CompletedAt, gapPct, stance, len(result.Reports), string(payload))
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", result.RunID, err)
	}

	s.log.Info().
		Str("run_id", result.RunID).
		Int("symbols", len(result.Reports)).
		Msg("Run saved")

	return nil
}

// GetRun loads one stored run by id
func (s *Store) GetRun(ctx context.Context, runID string) (domain.BatchResult, error) {
	return s.scanRun(s.db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE run_id = ?`, runID))
}

// GetLatest loads the most recently started run
func (s *Store) GetLatest(ctx context.Context) (domain.BatchResult, error) {
	return s.scanRun(s.db.QueryRowContext(ctx, `SELECT payload FROM runs ORDER BY started_at DESC LIMIT 1`))
}

func (s *Store) scanRun(row *sql.Row) (domain.BatchResult, error) {
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.BatchResult{}, ErrRunNotFound
		}
		return domain.BatchResult{}, fmt.Errorf("failed to load run: %w", err)
	}

	var result domain.BatchResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return domain.BatchResult{}, fmt.Errorf("failed to decode run payload: %w", err)
	}
	return result, nil
}

// ListRuns returns summaries of the most recent runs, newest first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, started_at, completed_at, gap_pct, stance, symbols
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	summaries := make([]RunSummary, 0, limit)
	for rows.Next() {
		var summary RunSummary
		var gapPct sql.NullFloat64
		var stance sql.NullString
		if err := rows.Scan(&summary.RunID, &summary.StartedAt, &summary.CompletedAt, &gapPct, &stance, &summary.Symbols); err != nil {
			return nil, fmt.Errorf("failed to scan run summary: %w", err)
		}
		if gapPct.Valid {
			summary.GapPct = &gapPct.Float64
		}
		summary.Stance = stance.String
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// Prune deletes runs started before the cutoff and returns how many were
// removed
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	removed, _ := result.RowsAffected()
	if removed > 0 {
		s.log.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("Pruned old runs")
	}
	return removed, nil
}
