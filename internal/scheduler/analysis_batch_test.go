package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/regime-engine/internal/domain"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   int
	block   chan struct{}
	result  domain.BatchResult
	failure error
}

func (f *fakeRunner) RunBatch(_ context.Context) (domain.BatchResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	return f.result, f.failure
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSaver struct {
	mu    sync.Mutex
	saved []domain.BatchResult
	err   error
}

func (f *fakeSaver) SaveRun(_ context.Context, result domain.BatchResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, result)
	return f.err
}

func TestAnalysisBatchJobSavesResult(t *testing.T) {
	runner := &fakeRunner{result: domain.BatchResult{RunID: "run-1"}}
	saver := &fakeSaver{}

	job := NewAnalysisBatchJob(runner, saver, time.Minute, zerolog.Nop())
	require.NoError(t, job.Run())

	require.Len(t, saver.saved, 1)
	assert.Equal(t, "run-1", saver.saved[0].RunID)
}

func TestAnalysisBatchJobPropagatesRunError(t *testing.T) {
	runner := &fakeRunner{failure: assert.AnError}
	saver := &fakeSaver{}

	job := NewAnalysisBatchJob(runner, saver, time.Minute, zerolog.Nop())
	assert.Error(t, job.Run())
	assert.Empty(t, saver.saved)
}

func TestAnalysisBatchJobSkipsOverlappingRuns(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	saver := &fakeSaver{}
	job := NewAnalysisBatchJob(runner, saver, time.Minute, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- job.Run() }()

	// Wait until the first run is inside RunBatch
	require.Eventually(t, func() bool { return runner.callCount() == 1 }, time.Second, 5*time.Millisecond)

	// Second invocation must skip without calling the runner again
	require.NoError(t, job.Run())
	assert.Equal(t, 1, runner.callCount())

	close(runner.block)
	require.NoError(t, <-done)
}

func TestSchedulerRunNow(t *testing.T) {
	runner := &fakeRunner{result: domain.BatchResult{RunID: "now"}}
	saver := &fakeSaver{}
	job := NewAnalysisBatchJob(runner, saver, time.Minute, zerolog.Nop())

	s := New(zerolog.Nop())
	require.NoError(t, s.RunNow(job))
	assert.Equal(t, 1, runner.callCount())
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	job := NewAnalysisBatchJob(&fakeRunner{}, &fakeSaver{}, time.Minute, zerolog.Nop())
	assert.Error(t, s.AddJob("not a schedule", job))
}
