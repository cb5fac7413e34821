package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/regime-engine/internal/database"
	"github.com/aristath/regime-engine/internal/history"
)

// MaintenanceJob keeps the runs database healthy: integrity check, WAL
// checkpoint and retention pruning
type MaintenanceJob struct {
	db            *database.DB
	store         *history.Store
	retentionDays int
	log           zerolog.Logger
}

// NewMaintenanceJob creates the database maintenance job
func NewMaintenanceJob(db *database.DB, store *history.Store, retentionDays int, log zerolog.Logger) *MaintenanceJob {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &MaintenanceJob{
		db:            db,
		store:         store,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run performs one maintenance pass
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	start := time.Now()

	if err := j.db.HealthCheck(ctx); err != nil {
		j.log.Error().Err(err).Msg("Database integrity check failed")
		return err
	}

	cutoff := time.Now().AddDate(0, 0, -j.retentionDays)
	removed, err := j.store.Prune(ctx, cutoff)
	if err != nil {
		return err
	}

	if err := j.db.WALCheckpoint(""); err != nil {
		j.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}

	j.log.Info().
		Int64("runs_pruned", removed).
		Dur("duration", time.Since(start)).
		Msg("Maintenance completed")

	return nil
}
