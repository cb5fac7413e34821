package volatility

import (
	"math"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/regime-engine/internal/domain"
	"github.com/aristath/regime-engine/pkg/formulas"
)

func normalReturns(n int, sigma float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	returns := make([]float64, n)
	for i := range returns {
		returns[i] = rng.NormFloat64() * sigma
	}
	return returns
}

func TestForecastNextDayEmptySeries(t *testing.T) {
	f := NewForecaster(Config{}, zerolog.Nop())

	result := f.ForecastNextDay(nil)
	assert.Nil(t, result.Vol1D)
	assert.Nil(t, result.VolAnnual)
	assert.Equal(t, domain.VolMethodNone, result.Method)

	// All-NaN input degenerates the same way
	result = f.ForecastNextDay([]float64{math.NaN(), math.NaN()})
	assert.Nil(t, result.Vol1D)
	assert.Equal(t, domain.VolMethodNone, result.Method)
}

func TestForecastNextDayShortSeriesUsesSimple(t *testing.T) {
	f := NewForecaster(Config{MinObs: 100}, zerolog.Nop())

	returns := normalReturns(50, 0.01, 1)
	result := f.ForecastNextDay(returns)

	require.NotNil(t, result.Vol1D)
	require.NotNil(t, result.VolAnnual)
	assert.Equal(t, domain.VolMethodSimple, result.Method)
	assert.InDelta(t, formulas.StdDev(returns), *result.Vol1D, 1e-12)
}

func TestForecastNextDayDropsNaNBeforeCounting(t *testing.T) {
	f := NewForecaster(Config{MinObs: 100}, zerolog.Nop())

	// 100 values, but 60 are NaN: only 40 remain → simple method
	returns := normalReturns(40, 0.01, 2)
	for i := 0; i < 60; i++ {
		returns = append(returns, math.NaN())
	}

	result := f.ForecastNextDay(returns)
	assert.Equal(t, domain.VolMethodSimple, result.Method)
}

func TestForecastNextDayLongSeries(t *testing.T) {
	f := NewForecaster(Config{}, zerolog.Nop())

	returns := normalReturns(500, 0.012, 3)
	result := f.ForecastNextDay(returns)

	require.NotNil(t, result.Vol1D)
	require.NotNil(t, result.VolAnnual)
	assert.Contains(t, []string{domain.VolMethodGARCH, domain.VolMethodEWMA}, result.Method)

	// Forecast magnitude should be in the neighborhood of the true sigma
	assert.Greater(t, *result.Vol1D, 0.004)
	assert.Less(t, *result.Vol1D, 0.03)
}

func TestForecastNextDayConstantSeriesFallsBack(t *testing.T) {
	f := NewForecaster(Config{MinObs: 10}, zerolog.Nop())

	// Zero-variance series cannot support a GARCH fit
	returns := make([]float64, 150)
	result := f.ForecastNextDay(returns)

	require.NotNil(t, result.Vol1D)
	assert.Equal(t, domain.VolMethodEWMA, result.Method)
	assert.InDelta(t, 0.0, *result.Vol1D, 1e-12)
}

func TestAnnualizationInvariantHoldsForEveryMethod(t *testing.T) {
	f := NewForecaster(Config{}, zerolog.Nop())

	inputs := [][]float64{
		normalReturns(50, 0.01, 4),   // simple
		normalReturns(400, 0.015, 4), // garch or ewma
		make([]float64, 200),         // ewma via degenerate fit
	}

	for _, returns := range inputs {
		result := f.ForecastNextDay(returns)
		require.NotNil(t, result.Vol1D)
		require.NotNil(t, result.VolAnnual)
		assert.GreaterOrEqual(t, *result.Vol1D, 0.0)
		assert.InDelta(t, *result.Vol1D*math.Sqrt(252), *result.VolAnnual, 1e-12)
	}
}

func TestEWMAVolatilityWeighting(t *testing.T) {
	f := NewForecaster(Config{Lambda: 0.94}, zerolog.Nop())

	// A large recent shock must move the EWMA estimate more than the same
	// shock deep in the past
	base := normalReturns(100, 0.005, 5)

	recentShock := append(append([]float64(nil), base...), 0.08)
	oldShock := append([]float64{0.08}, base...)

	assert.Greater(t, f.ewmaVolatility(recentShock), f.ewmaVolatility(oldShock))
}

func TestFitGARCHRecoversVolatilityScale(t *testing.T) {
	// Scaled returns (×100) with sigma 1.2
	returns := normalReturns(600, 1.2, 6)

	params, err := fitGARCH(returns)
	require.NoError(t, err)
	assert.True(t, params.valid())

	// Unconditional variance omega/(1-alpha-beta) near sigma² = 1.44
	uncond := params.omega / (1 - params.alpha - params.beta)
	assert.InDelta(t, 1.44, uncond, 0.8)

	variance := forecastVariance(returns, params)
	assert.Greater(t, variance, 0.0)
}

func TestFitGARCHDegenerateSeries(t *testing.T) {
	_, err := fitGARCH(make([]float64, 200))
	assert.Error(t, err)
}
