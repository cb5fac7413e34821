// Package beta estimates per-instrument OLS sensitivities to macro factor
// proxies over a rolling daily-return window.
package beta

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/regime-engine/internal/domain"
	"github.com/aristath/regime-engine/pkg/formulas"
)

// HistoryProvider supplies daily bars for a set of symbols. Responses may be
// NaN-padded for non-trading days and may omit symbols that failed to fetch.
type HistoryProvider interface {
	GetDailyHistory(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.PriceBar, error)
}

// Config holds beta calculator configuration
type Config struct {
	// Factors maps factor name → proxy symbol, e.g. "market" → "^GSPC",
	// "energy" → "XLE"
	Factors      map[string]string
	LookbackDays int // calendar days of history (default 90)
	MinObs       int // minimum joined observations per pair (default 40)
}

func (c Config) withDefaults() Config {
	if c.LookbackDays <= 0 {
		c.LookbackDays = 90
	}
	if c.MinObs <= 0 {
		c.MinObs = 40
	}
	return c
}

// Calculator computes factor betas from daily percentage returns.
// A total fetch failure yields an empty map, never an error: a missing beta
// means "insufficient joint history", not zero sensitivity.
type Calculator struct {
	cfg      Config
	provider HistoryProvider
	log      zerolog.Logger
	now      func() time.Time
}

// NewCalculator creates a beta calculator
func NewCalculator(cfg Config, provider HistoryProvider, log zerolog.Logger) *Calculator {
	return &Calculator{
		cfg:      cfg.withDefaults(),
		provider: provider,
		log:      log.With().Str("component", "beta_calculator").Logger(),
		now:      time.Now,
	}
}

// ComputeBetas estimates beta = cov(symbol, factor) / var(factor) for every
// requested symbol against every configured factor. Pairs with fewer than
// MinObs joined observations or a degenerate factor are skipped; symbols with
// no resolvable factor are absent from the result.
func (c *Calculator) ComputeBetas(ctx context.Context, symbols []string) domain.BetaMap {
	betas := make(domain.BetaMap)

	if len(symbols) == 0 || len(c.cfg.Factors) == 0 {
		return betas
	}

	universe := unionSymbols(symbols, c.cfg.Factors)
	end := c.now()
	start := end.AddDate(0, 0, -c.cfg.LookbackDays)

	history, err := c.provider.GetDailyHistory(ctx, universe, start, end)
	if err != nil {
		c.log.Warn().Err(err).Msg("History fetch failed, returning no betas")
		return betas
	}
	if len(history) == 0 {
		c.log.Warn().Msg("History fetch returned no usable data")
		return betas
	}

	// Normalize the multi-symbol response to one dated close column per
	// symbol, then to dated returns
	returnsBySymbol := make(map[string]map[string]float64, len(history))
	for symbol, bars := range history {
		returnsBySymbol[symbol] = datedReturns(bars)
	}

	for _, symbol := range symbols {
		symbolReturns, ok := returnsBySymbol[symbol]
		if !ok || len(symbolReturns) == 0 {
			continue
		}

		for factorName, factorSymbol := range c.cfg.Factors {
			factorReturns, ok := returnsBySymbol[factorSymbol]
			if !ok || len(factorReturns) == 0 {
				continue
			}

			x, y := innerJoin(symbolReturns, factorReturns)
			if len(x) < c.cfg.MinObs {
				c.log.Debug().
					Str("symbol", symbol).
					Str("factor", factorName).
					Int("joined", len(x)).
					Int("min_obs", c.cfg.MinObs).
					Msg("Insufficient joint history for beta")
				continue
			}

			factorVariance := formulas.Variance(y)
			if factorVariance <= 0 {
				c.log.Debug().
					Str("factor", factorName).
					Msg("Degenerate factor variance, skipping")
				continue
			}

			beta := formulas.Covariance(x, y) / factorVariance
			if math.IsNaN(beta) || math.IsInf(beta, 0) {
				continue
			}

			if betas[symbol] == nil {
				betas[symbol] = make(map[string]float64, len(c.cfg.Factors))
			}
			betas[symbol][factorName] = beta
		}
	}

	return betas
}

// unionSymbols merges requested symbols and factor proxies, de-duplicated
func unionSymbols(symbols []string, factors map[string]string) []string {
	seen := make(map[string]bool, len(symbols)+len(factors))
	union := make([]string, 0, len(symbols)+len(factors))
	for _, s := range symbols {
		if !seen[s] {
			seen[s] = true
			union = append(union, s)
		}
	}
	for _, s := range factors {
		if !seen[s] {
			seen[s] = true
			union = append(union, s)
		}
	}
	return union
}

// datedReturns converts bars to a date-keyed map of daily percentage returns,
// dropping NaN and non-positive closes first
func datedReturns(bars []domain.PriceBar) map[string]float64 {
	type datedClose struct {
		date  string
		close float64
	}

	closes := make([]datedClose, 0, len(bars))
	for _, bar := range bars {
		if math.IsNaN(bar.Close) || bar.Close <= 0 {
			continue
		}
		closes = append(closes, datedClose{
			date:  bar.Date.Format("2006-01-02"),
			close: bar.Close,
		})
	}
	sort.Slice(closes, func(i, j int) bool { return closes[i].date < closes[j].date })

	returns := make(map[string]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1].close
		if prev != 0 {
			returns[closes[i].date] = (closes[i].close - prev) / prev
		}
	}
	return returns
}

// innerJoin aligns two dated return maps on their common dates, in date order
func innerJoin(a, b map[string]float64) (x, y []float64) {
	dates := make([]string, 0, len(a))
	for date := range a {
		if _, ok := b[date]; ok {
			dates = append(dates, date)
		}
	}
	sort.Strings(dates)

	x = make([]float64, len(dates))
	y = make([]float64, len(dates))
	for i, date := range dates {
		x[i] = a[date]
		y[i] = b[date]
	}
	return x, y
}
