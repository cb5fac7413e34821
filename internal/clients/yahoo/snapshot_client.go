package yahoo

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/ticker"

	"github.com/aristath/regime-engine/internal/domain"
)

// SnapshotClient fetches the most recent session close and percent change
// for index/market symbols. Change is computed from the last two daily bars
// rather than the quote endpoint, so indices without live quote coverage
// still resolve.
type SnapshotClient struct {
	log        zerolog.Logger
	maxRetries int
}

// NewSnapshotClient creates a new market snapshot client
func NewSnapshotClient(log zerolog.Logger) *SnapshotClient {
	return &SnapshotClient{
		log:        log.With().Str("client", "yahoo-snapshot").Logger(),
		maxRetries: 3,
	}
}

// GetSnapshot returns the latest session snapshot for a symbol. An error
// means the snapshot is unavailable; callers exclude it from any weighting
// instead of treating it as zero change.
func (c *SnapshotClient) GetSnapshot(ctx context.Context, symbol string) (domain.MarketSessionSnapshot, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.MarketSessionSnapshot{}, err
		}

		snapshot, err := c.fetch(symbol)
		if err == nil {
			return snapshot, nil
		}
		lastErr = err

		if attempt < c.maxRetries-1 {
			waitTime := time.Duration(1<<uint(attempt)) * time.Second
			c.log.Warn().
				Err(err).
				Str("symbol", symbol).
				Int("attempt", attempt+1).
				Dur("wait", waitTime).
				Msg("Retrying snapshot fetch")
			time.Sleep(waitTime)
		}
	}

	return domain.MarketSessionSnapshot{}, fmt.Errorf("snapshot unavailable for %s: %w", symbol, lastErr)
}

func (c *SnapshotClient) fetch(symbol string) (domain.MarketSessionSnapshot, error) {
	t, err := ticker.New(symbol)
	if err != nil {
		return domain.MarketSessionSnapshot{}, fmt.Errorf("failed to create ticker: %w", err)
	}
	defer t.Close()

	bars, err := t.History(models.HistoryParams{
		Period:   "5d",
		Interval: "1d",
	})
	if err != nil {
		return domain.MarketSessionSnapshot{}, fmt.Errorf("failed to get recent bars: %w", err)
	}
	if len(bars) < 2 {
		return domain.MarketSessionSnapshot{}, fmt.Errorf("not enough recent bars for %s (%d)", symbol, len(bars))
	}

	last := bars[len(bars)-1]
	prev := bars[len(bars)-2]

	if prev.Close <= 0 || math.IsNaN(last.Close) || math.IsNaN(prev.Close) {
		return domain.MarketSessionSnapshot{}, fmt.Errorf("unusable closes for %s", symbol)
	}

	snapshot := domain.MarketSessionSnapshot{
		Symbol:    symbol,
		LastClose: last.Close,
		ChangePct: (last.Close - prev.Close) / prev.Close * 100,
		Available: true,
	}

	// Index symbols often report no volume; leave it nil rather than zero
	if v := float64(last.Volume); v > 0 && !math.IsNaN(v) {
		snapshot.Volume = &v
	}

	return snapshot, nil
}
