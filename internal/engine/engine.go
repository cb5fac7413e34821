// Package engine orchestrates one analysis run over the configured universe:
// history fetch, per-symbol regime/volatility/technical analysis, factor
// betas, the overnight gap forecast and the meta-model opportunity scores.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/regime-engine/internal/beta"
	"github.com/aristath/regime-engine/internal/domain"
	"github.com/aristath/regime-engine/internal/meta"
	"github.com/aristath/regime-engine/internal/regime"
	"github.com/aristath/regime-engine/internal/session"
	"github.com/aristath/regime-engine/internal/volatility"
	"github.com/aristath/regime-engine/pkg/formulas"
)

// HistoryProvider supplies daily bars for the universe in one batch
type HistoryProvider interface {
	GetDailyHistory(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.PriceBar, error)
}

// Config holds engine configuration
type Config struct {
	Symbols      []string // the analysis universe
	LookbackDays int      // calendar days of history per symbol (default 365)
	Workers      int      // concurrent symbol analyses (default 4)

	VolWindow       int // rolling window for the regime volatility feature (default 20)
	RSILength       int // RSI period (default 14)
	BollingerLength int // Bollinger period (default 20)
	EMALength       int // EMA distance period (default 50)

	Regime regime.Config
}

func (c Config) withDefaults() Config {
	if c.LookbackDays <= 0 {
		c.LookbackDays = 365
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.VolWindow <= 0 {
		c.VolWindow = regime.DefaultVolWindow
	}
	if c.RSILength <= 0 {
		c.RSILength = 14
	}
	if c.BollingerLength <= 0 {
		c.BollingerLength = 20
	}
	if c.EMALength <= 0 {
		c.EMALength = 50
	}
	return c
}

// Engine runs the nightly analysis batch. Components are injected so tests
// can substitute providers; the engine owns only the orchestration.
type Engine struct {
	cfg        Config
	history    HistoryProvider
	betaCalc   *beta.Calculator
	forecaster *volatility.Forecaster
	predictor  *session.Predictor
	metaModel  *meta.Model
	log        zerolog.Logger
	now        func() time.Time
}

// New creates an analysis engine
func New(
	cfg Config,
	history HistoryProvider,
	betaCalc *beta.Calculator,
	forecaster *volatility.Forecaster,
	predictor *session.Predictor,
	metaModel *meta.Model,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		cfg:        cfg.withDefaults(),
		history:    history,
		betaCalc:   betaCalc,
		forecaster: forecaster,
		predictor:  predictor,
		metaModel:  metaModel,
		log:        log.With().Str("component", "engine").Logger(),
		now:        time.Now,
	}
}

// RunBatch executes one full analysis over the configured universe. One
// symbol failing never aborts the batch: its report carries the error and the
// rest proceed. The batch itself errors only when nothing at all could run.
func (e *Engine) RunBatch(ctx context.Context) (domain.BatchResult, error) {
	startedAt := e.now()
	result := domain.BatchResult{
		RunID:     uuid.New().String(),
		StartedAt: startedAt,
	}

	e.log.Info().
		Str("run_id", result.RunID).
		Int("symbols", len(e.cfg.Symbols)).
		Msg("Starting analysis batch")

	if len(e.cfg.Symbols) == 0 {
		return result, fmt.Errorf("no symbols configured")
	}

	end := startedAt
	start := end.AddDate(0, 0, -e.cfg.LookbackDays)

	history, err := e.history.GetDailyHistory(ctx, e.cfg.Symbols, start, end)
	if err != nil {
		return result, fmt.Errorf("failed to fetch universe history: %w", err)
	}

	betas := e.betaCalc.ComputeBetas(ctx, e.cfg.Symbols)

	// A failed gap prediction degrades the batch, it does not abort it
	gapSentiment := 50.0
	if gap, _, err := e.predictor.PredictGap(ctx); err != nil {
		e.log.Warn().Err(err).Msg("Gap prediction unavailable for this batch")
	} else {
		result.Gap = &gap
		gapSentiment = session.SentimentScore(gap)
		rec := session.BandScore(gapSentiment)
		result.Recommendation = &rec
	}

	result.Reports = e.analyzeUniverse(ctx, history, betas, gapSentiment)
	e.scoreReports(result.Reports)

	result.CompletedAt = e.now()
	e.log.Info().
		Str("run_id", result.RunID).
		Int("reports", len(result.Reports)).
		Dur("elapsed", result.CompletedAt.Sub(startedAt)).
		Msg("Analysis batch complete")

	return result, nil
}

// analyzeUniverse fans symbol analyses out over a bounded worker pool
func (e *Engine) analyzeUniverse(
	ctx context.Context,
	history map[string][]domain.PriceBar,
	betas domain.BetaMap,
	gapSentiment float64,
) []domain.SymbolReport {
	reports := make([]domain.SymbolReport, len(e.cfg.Symbols))

	sem := make(chan struct{}, e.cfg.Workers)
	var wg sync.WaitGroup

	for i, symbol := range e.cfg.Symbols {
		if ctx.Err() != nil {
			reports[i] = domain.SymbolReport{
				Symbol:        symbol,
				Regime:        domain.UnknownRegime(),
				AnalysisError: ctx.Err().Error(),
			}
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, symbol string) {
			defer wg.Done()
			defer func() { <-sem }()

			reports[i] = e.analyzeSymbol(symbol, history[symbol], betas[symbol], gapSentiment)
		}(i, symbol)
	}

	wg.Wait()
	return reports
}

// analyzeSymbol produces the full report for one symbol. Panics from any
// model code are contained here so one symbol cannot take down the batch.
func (e *Engine) analyzeSymbol(
	symbol string,
	bars []domain.PriceBar,
	symbolBetas map[string]float64,
	gapSentiment float64,
) (report domain.SymbolReport) {
	report = domain.SymbolReport{
		Symbol:   symbol,
		Regime:   domain.UnknownRegime(),
		Features: map[string]float64{},
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error().
				Str("symbol", symbol).
				Interface("panic", r).
				Msg("Symbol analysis panicked")
			report.AnalysisError = fmt.Sprintf("analysis panicked: %v", r)
		}
	}()

	closes := make([]float64, 0, len(bars))
	for _, bar := range bars {
		closes = append(closes, bar.Close)
	}
	closes = formulas.DropNaN(closes)

	if len(closes) < 2 {
		report.AnalysisError = "insufficient price history"
		report.Volatility = domain.VolatilityForecast{Method: domain.VolMethodNone}
		return report
	}

	report.ObservationsUsed = len(closes)
	report.LastClose = closes[len(closes)-1]
	report.LastObservationDay = bars[len(bars)-1].Date

	returns := formulas.CalculateReturns(closes)

	// Each symbol gets a fresh detector: Fit carries state and the pool runs
	// symbols concurrently
	detector := regime.NewDetector(e.cfg.Regime, e.log)
	features := regime.BuildFeatures(closes, e.cfg.VolWindow)
	detector.Fit(features)
	report.Regime = detector.AnalyseLatest(features)

	report.Volatility = e.forecaster.ForecastNextDay(returns)
	report.Betas = symbolBetas

	e.assembleFeatures(&report, closes, returns, gapSentiment)

	return report
}

// assembleFeatures builds the flat feature map handed to the meta model.
// Indicators that cannot be computed are simply absent: the model maps
// missing keys to NaN and routes them through tree default branches.
func (e *Engine) assembleFeatures(report *domain.SymbolReport, closes, returns []float64, gapSentiment float64) {
	f := report.Features

	f["return_1d"] = session.SafeLast(returns, 0)
	f["gap_sentiment"] = gapSentiment
	f["regime_id"] = float64(report.Regime.ID)
	if p, ok := report.Regime.Probabilities[report.Regime.ID]; ok {
		f["regime_confidence"] = p
	}

	if report.Volatility.Vol1D != nil {
		f["vol_1d"] = *report.Volatility.Vol1D
	}
	if rsi := formulas.CalculateRSI(closes, e.cfg.RSILength); rsi != nil {
		f["rsi"] = *rsi
	}
	if bb := formulas.CalculateBollingerPosition(closes, e.cfg.BollingerLength, 2.0); bb != nil {
		f["bollinger_position"] = bb.Position
	}
	if dist := formulas.CalculateDistanceFromEMA(closes, e.cfg.EMALength); dist != nil {
		f["ema_distance"] = *dist
	}
	if len(returns) > 1 {
		f["cvar_95"] = formulas.CalculateCVaR(returns, 0.95)
	}

	for factor, b := range report.Betas {
		f["beta_"+factor] = b
	}
}

// scoreReports attaches meta-model opportunity scores to the successful
// reports. A not-ready model leaves every score nil.
func (e *Engine) scoreReports(reports []domain.SymbolReport) {
	if e.metaModel == nil || !e.metaModel.IsReady() {
		return
	}

	scorable := make([]int, 0, len(reports))
	rows := make([]map[string]float64, 0, len(reports))
	for i := range reports {
		if reports[i].AnalysisError != "" || len(reports[i].Features) == 0 {
			continue
		}
		scorable = append(scorable, i)
		rows = append(rows, reports[i].Features)
	}
	if len(rows) == 0 {
		return
	}

	scores := e.metaModel.PositiveProba(e.metaModel.BuildFeatureMatrix(rows))
	if scores == nil {
		return
	}

	for k, i := range scorable {
		score := scores[k]
		reports[i].OpportunityScore = &score
	}
}
