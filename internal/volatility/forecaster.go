// Package volatility forecasts next-period volatility for a return series.
//
// The forecaster prefers a GARCH(1,1) conditional variance model and degrades
// through an exponentially weighted estimate down to a plain sample standard
// deviation as the available history shrinks. It never returns an error: the
// degenerate all-nil forecast covers the empty-series case.
package volatility

import (
	"errors"
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/regime-engine/internal/domain"
	"github.com/aristath/regime-engine/pkg/formulas"
)

// annualization converts daily volatility to annual: √252 trading days
var annualization = math.Sqrt(252)

// Config holds forecaster configuration
type Config struct {
	MinObs int     // observations required for GARCH (default 100)
	Lambda float64 // EWMA decay (default 0.94)
}

func (c Config) withDefaults() Config {
	if c.MinObs <= 0 {
		c.MinObs = 100
	}
	if c.Lambda <= 0 || c.Lambda >= 1 {
		c.Lambda = 0.94
	}
	return c
}

// Forecaster produces next-day volatility forecasts. It is stateless and safe
// for concurrent use.
type Forecaster struct {
	cfg Config
	log zerolog.Logger
}

// NewForecaster creates a volatility forecaster
func NewForecaster(cfg Config, log zerolog.Logger) *Forecaster {
	return &Forecaster{
		cfg: cfg.withDefaults(),
		log: log.With().Str("component", "volatility_forecaster").Logger(),
	}
}

// ForecastNextDay forecasts next-day volatility from a daily return series
// (decimal returns). NaN values are dropped first.
//
//   - empty series → {nil, nil, "none"}
//   - fewer than MinObs → sample standard deviation, method "simple"
//   - otherwise → GARCH(1,1), with an EWMA fallback when the fit fails
//
// The invariant VolAnnual = Vol1D × √252 holds for every method.
func (f *Forecaster) ForecastNextDay(returns []float64) domain.VolatilityForecast {
	clean := formulas.DropNaN(returns)

	if len(clean) == 0 {
		return domain.VolatilityForecast{Method: domain.VolMethodNone}
	}

	if len(clean) < f.cfg.MinObs {
		vol1d := formulas.StdDev(clean)
		return forecast(vol1d, domain.VolMethodSimple)
	}

	// GARCH is fit on ×100-scaled returns for numerical stability and the
	// forecast is scaled back afterwards
	scaled := make([]float64, len(clean))
	for i, r := range clean {
		scaled[i] = r * 100
	}

	params, err := fitGARCH(scaled)
	if err == nil {
		variance := forecastVariance(scaled, params)
		vol1d := math.Sqrt(variance) / 100
		if !math.IsNaN(vol1d) && !math.IsInf(vol1d, 0) {
			return forecast(vol1d, domain.VolMethodGARCH)
		}
		err = errNonFiniteForecast
	}

	f.log.Debug().Err(err).Msg("GARCH fit failed, using EWMA fallback")
	vol1d := f.ewmaVolatility(clean)
	return forecast(vol1d, domain.VolMethodEWMA)
}

var errNonFiniteForecast = errors.New("non-finite GARCH variance forecast")

// ewmaVolatility computes an exponentially weighted volatility estimate.
// Weights are λ^i with the most recent observation weighted highest,
// normalized to sum to 1; both the mean and the variance are weighted.
func (f *Forecaster) ewmaVolatility(returns []float64) float64 {
	n := len(returns)

	weights := make([]float64, n)
	sum := 0.0
	for i := 0; i < n; i++ {
		// returns[n-1] is the most recent observation and receives λ^0
		weights[i] = math.Pow(f.cfg.Lambda, float64(n-1-i))
		sum += weights[i]
	}
	for i := range weights {
		weights[i] /= sum
	}

	mean := 0.0
	for i, r := range returns {
		mean += weights[i] * r
	}

	variance := 0.0
	for i, r := range returns {
		diff := r - mean
		variance += weights[i] * diff * diff
	}

	return math.Sqrt(variance)
}

// forecast assembles a result preserving the annualization invariant
func forecast(vol1d float64, method string) domain.VolatilityForecast {
	if vol1d < 0 {
		vol1d = 0
	}
	volAnnual := vol1d * annualization
	return domain.VolatilityForecast{
		Vol1D:     &vol1d,
		VolAnnual: &volAnnual,
		Method:    method,
	}
}
