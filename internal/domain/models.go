package domain

import "time"

// PriceBar represents a single OHLCV observation for one symbol.
// Bars are owned by the data-fetch layer and read-only to the engine.
type PriceBar struct {
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adj_close"`
	Volume   int64     `json:"volume"`
}

// PriceSeries is an ordered, append-only sequence of bars for one symbol
type PriceSeries struct {
	Symbol string     `json:"symbol"`
	Bars   []PriceBar `json:"bars"`
}

// Closes extracts the closing prices in order
func (s PriceSeries) Closes() []float64 {
	closes := make([]float64, len(s.Bars))
	for i, bar := range s.Bars {
		closes[i] = bar.Close
	}
	return closes
}

// Regime labels, ranked by intra-state volatility
const (
	RegimeCalm    = "calm"
	RegimeNormal  = "normal"
	RegimeHighVol = "high_vol"
	RegimeUnknown = "unknown"
)

// RegimeState is the latent market state inferred for the most recent observation.
// Probabilities map state id → posterior probability and sum to 1 when known.
// The unknown state carries ID -1 and an empty probability map.
type RegimeState struct {
	Label         string          `json:"regime_label"`
	ID            int             `json:"regime_id"`
	Probabilities map[int]float64 `json:"probabilities"`
}

// UnknownRegime returns the degenerate state used when no model could be fit
func UnknownRegime() RegimeState {
	return RegimeState{
		Label:         RegimeUnknown,
		ID:            -1,
		Probabilities: map[int]float64{},
	}
}

// Volatility forecast methods, from most to least sophisticated
const (
	VolMethodGARCH  = "garch"
	VolMethodEWMA   = "ewma"
	VolMethodSimple = "simple"
	VolMethodNone   = "none"
)

// VolatilityForecast holds the next-day and annualized volatility estimates.
// Vol1D and VolAnnual are nil when no estimate could be produced.
// Invariant: VolAnnual = Vol1D × √252 for every method.
type VolatilityForecast struct {
	Vol1D     *float64 `json:"vol_1d"`
	VolAnnual *float64 `json:"vol_annual"`
	Method    string   `json:"method"`
}

// FactorBeta is one instrument's OLS sensitivity to one macro factor
type FactorBeta struct {
	Symbol string  `json:"symbol"`
	Factor string  `json:"factor_name"`
	Beta   float64 `json:"beta"`
}

// BetaMap maps symbol → factor name → beta. Absent entries mean
// "insufficient joint history", never zero.
type BetaMap map[string]map[string]float64

// MarketSessionSnapshot is the most recent session close for one market.
// Available=false short-circuits all downstream use of the snapshot.
type MarketSessionSnapshot struct {
	Market    string   `json:"market"`
	Symbol    string   `json:"symbol"`
	LastClose float64  `json:"last_close"`
	ChangePct float64  `json:"change_pct"`
	Volume    *float64 `json:"volume"` // nil for indices without volume
	Available bool     `json:"available"`
}

// Gap directions
const (
	GapDirectionUp   = "up"
	GapDirectionDown = "down"
	GapDirectionFlat = "flat"
)

// GapPrediction is the forecast opening gap for the next domestic session
type GapPrediction struct {
	PredictedGapPct float64 `json:"predicted_gap_pct"`
	Confidence      float64 `json:"confidence"` // 0-100
	Direction       string  `json:"direction"`
}

// Stance bands, ordered from most bullish to most bearish
const (
	StanceBullish     = "bullish_bias"
	StanceMildBullish = "mild_bullish"
	StanceNeutral     = "neutral"
	StanceMildBearish = "mild_bearish"
	StanceRiskOff     = "risk_off"
)

// Recommendation is the discrete stance derived from a composite sentiment score
type Recommendation struct {
	Stance         string  `json:"stance"`
	SentimentScore float64 `json:"sentiment_score"` // 0-100
}

// SymbolReport is the full analysis record handed to downstream consumers
type SymbolReport struct {
	Symbol             string             `json:"symbol"`
	Regime             RegimeState        `json:"regime"`
	Volatility         VolatilityForecast `json:"volatility"`
	Betas              map[string]float64 `json:"betas,omitempty"`
	Features           map[string]float64 `json:"features"`
	OpportunityScore   *float64           `json:"opportunity_score,omitempty"`
	AnalysisError      string             `json:"analysis_error,omitempty"`
	ObservationsUsed   int                `json:"observations_used"`
	LastClose          float64            `json:"last_close"`
	LastObservationDay time.Time          `json:"last_observation_day"`
}

// BatchResult is one overnight batch run over the configured universe
type BatchResult struct {
	RunID          string          `json:"run_id"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    time.Time       `json:"completed_at"`
	Gap            *GapPrediction  `json:"gap,omitempty"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`
	Reports        []SymbolReport  `json:"reports"`
}
