// Package yahoo implements the engine's price-history and market-snapshot
// providers on top of the go-yfinance library.
package yahoo

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/multi"
	"github.com/wnjoon/go-yfinance/pkg/ticker"

	"github.com/aristath/regime-engine/internal/domain"
)

// HistoryClient fetches daily OHLCV history from Yahoo Finance
type HistoryClient struct {
	log        zerolog.Logger
	maxRetries int
}

// NewHistoryClient creates a new history client
func NewHistoryClient(log zerolog.Logger) *HistoryClient {
	return &HistoryClient{
		log:        log.With().Str("client", "yahoo-history").Logger(),
		maxRetries: 3,
	}
}

// periodFor maps a date range onto the closest Yahoo period bucket that
// fully covers it
func periodFor(start, end time.Time) string {
	days := int(end.Sub(start).Hours() / 24)
	switch {
	case days <= 5:
		return "5d"
	case days <= 30:
		return "1mo"
	case days <= 90:
		return "3mo"
	case days <= 180:
		return "6mo"
	case days <= 365:
		return "1y"
	default:
		return "2y"
	}
}

// convertBars maps go-yfinance bars into domain bars, keeping only the
// requested window
func convertBars(bars []models.Bar, start, end time.Time) []domain.PriceBar {
	converted := make([]domain.PriceBar, 0, len(bars))
	for _, bar := range bars {
		if bar.Date.Before(start) || bar.Date.After(end) {
			continue
		}
		converted = append(converted, domain.PriceBar{
			Date:     bar.Date,
			Open:     bar.Open,
			High:     bar.High,
			Low:      bar.Low,
			Close:    bar.Close,
			AdjClose: bar.AdjClose,
			Volume:   int64(bar.Volume),
		})
	}
	return converted
}

// GetDailyHistory fetches daily bars for multiple symbols in one batch.
// Symbols that fail are logged and omitted from the result; the caller
// decides whether a partial response is usable. Both single- and
// multi-symbol responses arrive in the same map shape.
func (c *HistoryClient) GetDailyHistory(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.PriceBar, error) {
	if len(symbols) == 0 {
		return map[string][]domain.PriceBar{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := models.DefaultDownloadParams()
	params.Symbols = symbols
	params.Period = periodFor(start, end)
	params.Interval = "1d"

	result, err := multi.Download(symbols, &params)
	if err != nil {
		return nil, fmt.Errorf("failed to download history batch: %w", err)
	}

	history := make(map[string][]domain.PriceBar, len(symbols))
	for _, symbol := range symbols {
		if bars, ok := result.Data[symbol]; ok && len(bars) > 0 {
			history[symbol] = convertBars(bars, start, end)
			continue
		}
		if symErr, ok := result.Errors[symbol]; ok {
			c.log.Warn().Err(symErr).Str("symbol", symbol).Msg("History fetch failed for symbol")
		} else {
			c.log.Warn().Str("symbol", symbol).Msg("No history returned for symbol")
		}
	}

	return history, nil
}

// GetSymbolHistory fetches daily bars for a single symbol with retries
func (c *HistoryClient) GetSymbolHistory(ctx context.Context, symbol string, start, end time.Time) ([]domain.PriceBar, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		bars, err := c.fetchSymbol(symbol, start, end)
		if err == nil {
			return bars, nil
		}
		lastErr = err

		if attempt < c.maxRetries-1 {
			waitTime := time.Duration(1<<uint(attempt)) * time.Second
			c.log.Warn().
				Err(err).
				Str("symbol", symbol).
				Int("attempt", attempt+1).
				Dur("wait", waitTime).
				Msg("Retrying history fetch")
			time.Sleep(waitTime)
		}
	}

	return nil, fmt.Errorf("failed to fetch history for %s: %w", symbol, lastErr)
}

func (c *HistoryClient) fetchSymbol(symbol string, start, end time.Time) ([]domain.PriceBar, error) {
	t, err := ticker.New(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticker: %w", err)
	}
	defer t.Close()

	bars, err := t.History(models.HistoryParams{
		Period:     periodFor(start, end),
		Interval:   "1d",
		AutoAdjust: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}

	return convertBars(bars, start, end), nil
}
