package history

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/regime-engine/internal/database"
	"github.com/aristath/regime-engine/internal/domain"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	db, err := database.New(database.Config{Path: ":memory:", Name: "runs"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewStore(db, zerolog.Nop())
	require.NoError(t, err)
	return store
}

func sampleRun(id string, startedAt time.Time) domain.BatchResult {
	gap := domain.GapPrediction{PredictedGapPct: 0.3, Confidence: 80, Direction: domain.GapDirectionUp}
	return domain.BatchResult{
		RunID:       id,
		StartedAt:   startedAt,
		CompletedAt: startedAt.Add(2 * time.Minute),
		Gap:         &gap,
		Recommendation: &domain.Recommendation{
			Stance:         domain.StanceMildBullish,
			SentimentScore: 56,
		},
		Reports: []domain.SymbolReport{
			{Symbol: "AAA", Regime: domain.UnknownRegime(), Features: map[string]float64{"rsi": 55}},
		},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	run := sampleRun("run-1", time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC))
	require.NoError(t, store.SaveRun(ctx, run))

	loaded, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, run.RunID, loaded.RunID)
	require.NotNil(t, loaded.Gap)
	assert.Equal(t, run.Gap.PredictedGapPct, loaded.Gap.PredictedGapPct)
	require.Len(t, loaded.Reports, 1)
	assert.Equal(t, "AAA", loaded.Reports[0].Symbol)
	assert.Equal(t, 55.0, loaded.Reports[0].Features["rsi"])
}

func TestGetRunNotFound(t *testing.T) {
	store := setupStore(t)

	_, err := store.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = store.GetLatest(context.Background())
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestGetLatestPicksNewestRun(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveRun(ctx, sampleRun("old", base)))
	require.NoError(t, store.SaveRun(ctx, sampleRun("new", base.Add(24*time.Hour))))

	latest, err := store.GetLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", latest.RunID)
}

func TestListRunsNewestFirst(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.SaveRun(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Hour))))
	}

	summaries, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "c", summaries[0].RunID)
	assert.Equal(t, "b", summaries[1].RunID)
	assert.Equal(t, 1, summaries[0].Symbols)
	require.NotNil(t, summaries[0].GapPct)
	assert.Equal(t, domain.StanceMildBullish, summaries[0].Stance)
}

func TestPruneRemovesOldRuns(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveRun(ctx, sampleRun("old", base)))
	require.NoError(t, store.SaveRun(ctx, sampleRun("recent", base.AddDate(0, 0, 30))))

	removed, err := store.Prune(ctx, base.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = store.GetRun(ctx, "old")
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = store.GetRun(ctx, "recent")
	assert.NoError(t, err)
}
