package session

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/regime-engine/internal/domain"
)

// stubSnapshots serves canned snapshots keyed by symbol
type stubSnapshots struct {
	snapshots map[string]domain.MarketSessionSnapshot
	errors    map[string]error
}

func (s *stubSnapshots) GetSnapshot(_ context.Context, symbol string) (domain.MarketSessionSnapshot, error) {
	if err, ok := s.errors[symbol]; ok {
		return domain.MarketSessionSnapshot{}, err
	}
	snap, ok := s.snapshots[symbol]
	if !ok {
		return domain.MarketSessionSnapshot{}, fmt.Errorf("unknown symbol %s", symbol)
	}
	return snap, nil
}

func twoMarketConfig() Config {
	return Config{
		DomesticSymbol: "^AXJO",
		ForeignMarkets: []Market{
			{Name: "sp500", Symbol: "^GSPC", Weight: 1},
			{Name: "nikkei", Symbol: "^N225", Weight: 1},
		},
		Correlation: 0.35,
	}
}

func TestSessionWindowClassification(t *testing.T) {
	w := NewWindow(WindowConfig{
		EveningStartHour:   17,
		EveningStartMinute: 10,
		MorningCutoffHour:  8,
		DomesticOpenHour:   10,
		DomesticCloseHour:  16,
	})

	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, time.UTC)
	}

	tests := []struct {
		hour, minute int
		expected     State
	}{
		{17, 15, StateFuturesSession},
		{17, 10, StateFuturesSession}, // inclusive start boundary
		{23, 5, StateFuturesSession},  // late evening before midnight
		{7, 30, StateFuturesSession},  // after midnight, before cutoff
		{0, 0, StateFuturesSession},
		{10, 30, StateDomesticOpen},
		{15, 59, StateDomesticOpen},
		{16, 30, StateClosed},
		{17, 5, StateClosed}, // before the evening start minute
		{8, 0, StateClosed},  // cutoff is exclusive
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%02d:%02d", tt.hour, tt.minute), func(t *testing.T) {
			assert.Equal(t, tt.expected, w.Classify(at(tt.hour, tt.minute)))
		})
	}
}

func TestPredictGapSignFollowsWeightedForeignMove(t *testing.T) {
	provider := &stubSnapshots{snapshots: map[string]domain.MarketSessionSnapshot{
		"^GSPC": {Symbol: "^GSPC", LastClose: 5000, ChangePct: 1.0, Available: true},
		"^N225": {Symbol: "^N225", LastClose: 38000, ChangePct: -0.5, Available: true},
	}}

	p := NewPredictor(twoMarketConfig(), provider, zerolog.Nop())

	prediction, snapshots, err := p.PredictGap(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshots, 2)

	// Weighted mean (+1.0 - 0.5)/2 = +0.25, scaled by the correlation once
	assert.InDelta(t, 0.25*0.35, prediction.PredictedGapPct, 1e-9)
	assert.Equal(t, domain.GapDirectionUp, prediction.Direction)
	assert.Greater(t, prediction.Confidence, 0.0)
	assert.Less(t, prediction.Confidence, 100.0)
}

func TestPredictGapExcludesUnavailableMarkets(t *testing.T) {
	provider := &stubSnapshots{
		snapshots: map[string]domain.MarketSessionSnapshot{
			"^GSPC": {Symbol: "^GSPC", LastClose: 5000, ChangePct: -1.2, Available: true},
		},
		errors: map[string]error{
			"^N225": fmt.Errorf("quote timeout"),
		},
	}

	p := NewPredictor(twoMarketConfig(), provider, zerolog.Nop())

	prediction, snapshots, err := p.PredictGap(context.Background())
	require.NoError(t, err)

	// The failed market must be excluded from the weighting, not zeroed:
	// the gap equals the single available change scaled by the correlation
	assert.InDelta(t, -1.2*0.35, prediction.PredictedGapPct, 1e-9)
	assert.Equal(t, domain.GapDirectionDown, prediction.Direction)

	require.Len(t, snapshots, 2)
	for _, snap := range snapshots {
		if snap.Symbol == "^N225" {
			assert.False(t, snap.Available)
		}
	}
}

func TestPredictGapAllUnavailable(t *testing.T) {
	provider := &stubSnapshots{errors: map[string]error{
		"^GSPC": fmt.Errorf("down"),
		"^N225": fmt.Errorf("down"),
	}}

	p := NewPredictor(twoMarketConfig(), provider, zerolog.Nop())

	_, _, err := p.PredictGap(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshots)
}

func TestFuseSnapshotsIgnoresNaNChanges(t *testing.T) {
	p := NewPredictor(twoMarketConfig(), &stubSnapshots{}, zerolog.Nop())

	prediction, err := p.FuseSnapshots([]domain.MarketSessionSnapshot{
		{Symbol: "^GSPC", ChangePct: 0.8, Available: true},
		{Symbol: "^N225", ChangePct: math.NaN(), Available: true},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.8*0.35, prediction.PredictedGapPct, 1e-9)
}

func TestDirectionFlatBand(t *testing.T) {
	assert.Equal(t, domain.GapDirectionFlat, direction(0.0))
	assert.Equal(t, domain.GapDirectionFlat, direction(0.04))
	assert.Equal(t, domain.GapDirectionFlat, direction(-0.05))
	assert.Equal(t, domain.GapDirectionUp, direction(0.06))
	assert.Equal(t, domain.GapDirectionDown, direction(-0.06))
}

func TestSafeLast(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		def      float64
		expected float64
	}{
		{"NaN tail returns default", []float64{100, 200, math.NaN()}, 0, 0},
		{"clean tail returns last", []float64{100, 200, 300}, 0, 300},
		{"empty returns default", []float64{}, 999, 999},
		{"nil returns default", nil, 999, 999},
		{"Inf tail returns default", []float64{1, math.Inf(1)}, -1, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SafeLast(tt.values, tt.def))
		})
	}
}

func TestBandScoreCoverageAndOrdering(t *testing.T) {
	// Stance ranks must be non-increasing as the score falls, with no score
	// mapping to more than one stance
	scores := []float64{70, 60, 55, 50, 45, 40, 30}

	prevRank := StanceRank(domain.StanceBullish) + 1
	for _, score := range scores {
		rec := BandScore(score)
		rank := StanceRank(rec.Stance)
		require.GreaterOrEqual(t, rank, 0, "score %v must map to a stance", score)
		assert.LessOrEqual(t, rank, prevRank, "rank must not increase as score falls")
		prevRank = rank
	}

	// Every integer score in [0,100] resolves to exactly one stance
	for score := 0; score <= 100; score++ {
		rec := BandScore(float64(score))
		assert.GreaterOrEqual(t, StanceRank(rec.Stance), 0, "score %d has no stance", score)
	}

	// Boundary spot checks, inclusive on the lower edge
	assert.Equal(t, domain.StanceBullish, BandScore(65).Stance)
	assert.Equal(t, domain.StanceMildBullish, BandScore(64.9).Stance)
	assert.Equal(t, domain.StanceMildBullish, BandScore(55).Stance)
	assert.Equal(t, domain.StanceNeutral, BandScore(54.9).Stance)
	assert.Equal(t, domain.StanceNeutral, BandScore(45).Stance)
	assert.Equal(t, domain.StanceMildBearish, BandScore(44.9).Stance)
	assert.Equal(t, domain.StanceMildBearish, BandScore(35).Stance)
	assert.Equal(t, domain.StanceRiskOff, BandScore(34.9).Stance)
}

func TestSentimentScoreClamped(t *testing.T) {
	assert.Equal(t, 50.0, SentimentScore(domain.GapPrediction{}))
	assert.Equal(t, 100.0, SentimentScore(domain.GapPrediction{PredictedGapPct: 5}))
	assert.Equal(t, 0.0, SentimentScore(domain.GapPrediction{PredictedGapPct: -5}))
	assert.InDelta(t, 55.0, SentimentScore(domain.GapPrediction{PredictedGapPct: 0.25}), 1e-9)
}
