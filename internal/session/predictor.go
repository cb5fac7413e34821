// Package session predicts the next domestic opening gap from the moves of
// markets that trade while the domestic market is closed, and derives a
// discrete stance recommendation from a composite sentiment score.
package session

import (
	"context"
	"errors"
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/regime-engine/internal/domain"
	"github.com/aristath/regime-engine/pkg/formulas"
)

// ErrNoSnapshots is returned when every foreign market snapshot is
// unavailable and no gap can be predicted
var ErrNoSnapshots = errors.New("no foreign market snapshots available")

// flatThresholdPct is the absolute gap below which the direction is "flat"
const flatThresholdPct = 0.05

// SnapshotProvider supplies the most recent session snapshot for one market
// symbol. Implementations report failures through the error; the predictor
// turns them into unavailable snapshots rather than aborting.
type SnapshotProvider interface {
	GetSnapshot(ctx context.Context, symbol string) (domain.MarketSessionSnapshot, error)
}

// Market is one foreign market feeding the overnight fusion
type Market struct {
	Name   string  // e.g. "sp500", "nikkei"
	Symbol string  // quote symbol, e.g. "^GSPC"
	Weight float64 // relative weight in the fusion (default 1)
}

// Config holds gap predictor configuration
type Config struct {
	DomesticSymbol string   // the domestic index, e.g. "^AXJO"
	ForeignMarkets []Market // 2+ markets trading while domestic is closed

	// Correlation scales the fused foreign move into a domestic gap.
	// It is the single tunable knob and is applied exactly once.
	Correlation float64 // default 0.35

	Window WindowConfig
}

func (c Config) withDefaults() Config {
	if c.Correlation <= 0 {
		c.Correlation = 0.35
	}
	for i := range c.ForeignMarkets {
		if c.ForeignMarkets[i].Weight <= 0 {
			c.ForeignMarkets[i].Weight = 1
		}
	}
	return c
}

// Predictor fuses foreign-session moves into a domestic opening-gap forecast
type Predictor struct {
	cfg      Config
	provider SnapshotProvider
	window   *Window
	log      zerolog.Logger
}

// NewPredictor creates a session gap predictor
func NewPredictor(cfg Config, provider SnapshotProvider, log zerolog.Logger) *Predictor {
	cfg = cfg.withDefaults()
	return &Predictor{
		cfg:      cfg,
		provider: provider,
		window:   NewWindow(cfg.Window),
		log:      log.With().Str("component", "gap_predictor").Logger(),
	}
}

// Window exposes the session window classifier
func (p *Predictor) Window() *Window {
	return p.window
}

// FetchSnapshots retrieves the configured foreign snapshots. A failed fetch
// yields an unavailable snapshot; it is never treated as a zero change.
func (p *Predictor) FetchSnapshots(ctx context.Context) []domain.MarketSessionSnapshot {
	snapshots := make([]domain.MarketSessionSnapshot, 0, len(p.cfg.ForeignMarkets))

	for _, market := range p.cfg.ForeignMarkets {
		snapshot, err := p.provider.GetSnapshot(ctx, market.Symbol)
		if err != nil {
			p.log.Warn().
				Err(err).
				Str("market", market.Name).
				Str("symbol", market.Symbol).
				Msg("Snapshot unavailable, excluding from fusion")
			snapshot = domain.MarketSessionSnapshot{
				Market:    market.Name,
				Symbol:    market.Symbol,
				Available: false,
			}
		} else {
			snapshot.Market = market.Name
		}
		snapshots = append(snapshots, snapshot)
	}

	return snapshots
}

// PredictGap fuses the available foreign snapshots into an opening-gap
// forecast. It returns ErrNoSnapshots when every snapshot is unavailable.
func (p *Predictor) PredictGap(ctx context.Context) (domain.GapPrediction, []domain.MarketSessionSnapshot, error) {
	snapshots := p.FetchSnapshots(ctx)
	prediction, err := p.FuseSnapshots(snapshots)
	return prediction, snapshots, err
}

// FuseSnapshots computes the weighted gap from already-fetched snapshots
func (p *Predictor) FuseSnapshots(snapshots []domain.MarketSessionSnapshot) (domain.GapPrediction, error) {
	weightBySymbol := make(map[string]float64, len(p.cfg.ForeignMarkets))
	for _, market := range p.cfg.ForeignMarkets {
		weightBySymbol[market.Symbol] = market.Weight
	}

	var weightedSum, totalWeight float64
	used := make([]float64, 0, len(snapshots))

	for _, snapshot := range snapshots {
		if !snapshot.Available {
			continue
		}
		if math.IsNaN(snapshot.ChangePct) {
			continue
		}
		weight := weightBySymbol[snapshot.Symbol]
		if weight <= 0 {
			weight = 1
		}
		weightedSum += weight * snapshot.ChangePct
		totalWeight += weight
		used = append(used, snapshot.ChangePct)
	}

	if totalWeight == 0 {
		return domain.GapPrediction{}, ErrNoSnapshots
	}

	// The correlation coefficient is applied exactly once here; the fused
	// foreign move itself is an unscaled weighted mean
	fusedMove := weightedSum / totalWeight
	gap := fusedMove * p.cfg.Correlation

	prediction := domain.GapPrediction{
		PredictedGapPct: gap,
		Confidence:      p.confidence(used),
		Direction:       direction(gap),
	}

	p.log.Debug().
		Float64("fused_move", fusedMove).
		Float64("gap_pct", gap).
		Float64("confidence", prediction.Confidence).
		Int("markets_used", len(used)).
		Msg("Gap predicted")

	return prediction, nil
}

// confidence scores the prediction in (0,100): more available markets and
// tighter agreement between them raise it
func (p *Predictor) confidence(changes []float64) float64 {
	if len(changes) == 0 {
		return 0
	}

	availableFraction := float64(len(changes)) / float64(len(p.cfg.ForeignMarkets))
	dispersion := formulas.StdDev(changes)

	confidence := 50*availableFraction + 45*math.Exp(-dispersion)

	// Keep strictly inside (0,100)
	return math.Max(1, math.Min(99, confidence))
}

// direction maps a gap percentage to up/down/flat
func direction(gapPct float64) string {
	switch {
	case gapPct > flatThresholdPct:
		return domain.GapDirectionUp
	case gapPct < -flatThresholdPct:
		return domain.GapDirectionDown
	default:
		return domain.GapDirectionFlat
	}
}

// SentimentScore converts a gap prediction into a composite 0-100 score
// centered at 50 (neutral). The gap is expressed in percentage points, so a
// ±2.5% predicted gap saturates the scale.
func SentimentScore(prediction domain.GapPrediction) float64 {
	score := 50 + prediction.PredictedGapPct*20
	return math.Max(0, math.Min(100, score))
}

// SafeLast extracts the final value of a series, returning def for an empty
// series or a NaN/Inf final value. NaN must never leak into downstream
// arithmetic.
func SafeLast(values []float64, def float64) float64 {
	if len(values) == 0 {
		return def
	}
	last := values[len(values)-1]
	if math.IsNaN(last) || math.IsInf(last, 0) {
		return def
	}
	return last
}
