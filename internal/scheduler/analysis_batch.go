package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/regime-engine/internal/domain"
)

// BatchRunner executes one analysis batch over the universe
type BatchRunner interface {
	RunBatch(ctx context.Context) (domain.BatchResult, error)
}

// RunSaver persists batch results
type RunSaver interface {
	SaveRun(ctx context.Context, result domain.BatchResult) error
}

// AnalysisBatchJob runs the nightly analysis and stores the result.
// Overlapping runs are skipped, not queued.
type AnalysisBatchJob struct {
	engine  BatchRunner
	store   RunSaver
	timeout time.Duration
	log     zerolog.Logger
	running atomic.Bool
}

// NewAnalysisBatchJob creates the nightly analysis job
func NewAnalysisBatchJob(engine BatchRunner, store RunSaver, timeout time.Duration, log zerolog.Logger) *AnalysisBatchJob {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &AnalysisBatchJob{
		engine:  engine,
		store:   store,
		timeout: timeout,
		log:     log.With().Str("job", "analysis_batch").Logger(),
	}
}

// Name returns the job name
func (j *AnalysisBatchJob) Name() string {
	return "analysis_batch"
}

// Run executes one batch and saves it
func (j *AnalysisBatchJob) Run() error {
	if !j.running.CompareAndSwap(false, true) {
		j.log.Warn().Msg("Previous batch still running, skipping")
		return nil
	}
	defer j.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	result, err := j.engine.RunBatch(ctx)
	if err != nil {
		return err
	}

	if err := j.store.SaveRun(ctx, result); err != nil {
		return err
	}

	j.log.Info().
		Str("run_id", result.RunID).
		Int("reports", len(result.Reports)).
		Msg("Batch stored")

	return nil
}
