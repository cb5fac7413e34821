// Package meta wraps the externally trained gradient-boosted classifier that
// fuses regime, volatility, beta, technical and sentiment features into one
// opportunity probability.
//
// The trained artifact is an explicit constructor dependency: a missing or
// corrupt artifact leaves the model not-ready and every caller is expected to
// check IsReady before asking for predictions. The model never raises on a
// missing artifact.
package meta

import (
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// Model is the meta-classifier behind a readiness gate
type Model struct {
	columns  []string
	ensemble *Ensemble
	ready    bool
	log      zerolog.Logger
}

// NewModel loads the serialized ensemble from path. Load failures are logged
// and leave the model not-ready; they are never returned as errors.
func NewModel(path string, featureColumns []string, log zerolog.Logger) *Model {
	m := &Model{
		columns: featureColumns,
		log:     log.With().Str("component", "meta_model").Logger(),
	}

	ensemble, err := LoadEnsemble(path)
	if err != nil {
		m.log.Warn().
			Err(err).
			Str("path", path).
			Msg("Meta model artifact unavailable, predictions disabled")
		return m
	}

	if ensemble.FeatureCount != len(featureColumns) {
		m.log.Warn().
			Str("path", path).
			Int("artifact_features", ensemble.FeatureCount).
			Int("configured_columns", len(featureColumns)).
			Msg("Meta model feature count does not match configured columns, predictions disabled")
		return m
	}

	m.ensemble = ensemble
	m.ready = true
	m.log.Info().
		Str("path", path).
		Int("trees", len(ensemble.Trees)).
		Int("features", len(featureColumns)).
		Msg("Meta model loaded")

	return m
}

// NewModelFromEnsemble wraps an already-loaded ensemble. Used by tests and by
// callers that manage artifact loading themselves.
func NewModelFromEnsemble(ensemble *Ensemble, featureColumns []string, log zerolog.Logger) *Model {
	m := &Model{
		columns: featureColumns,
		log:     log.With().Str("component", "meta_model").Logger(),
	}
	if ensemble == nil || ensemble.validate() != nil {
		return m
	}
	if ensemble.FeatureCount != len(featureColumns) {
		m.log.Warn().
			Int("artifact_features", ensemble.FeatureCount).
			Int("configured_columns", len(featureColumns)).
			Msg("Meta model feature count does not match configured columns, predictions disabled")
		return m
	}
	m.ensemble = ensemble
	m.ready = true
	return m
}

// IsReady reports whether the artifact was found and deserialized. Callers
// must check this before invoking prediction.
func (m *Model) IsReady() bool {
	return m.ready
}

// FeatureColumns returns the ordered feature columns the model expects
func (m *Model) FeatureColumns() []string {
	return m.columns
}

// BuildFeatureMatrix projects per-symbol feature maps onto the configured
// feature columns, preserving input order. Missing keys become NaN so the
// trees can route them through their default branches.
func (m *Model) BuildFeatureMatrix(stocks []map[string]float64) *mat.Dense {
	if len(stocks) == 0 || len(m.columns) == 0 {
		return nil
	}

	X := mat.NewDense(len(stocks), len(m.columns), nil)
	for i, features := range stocks {
		for j, column := range m.columns {
			value, ok := features[column]
			if !ok {
				value = math.NaN()
			}
			X.Set(i, j, value)
		}
	}
	return X
}

// PredictProba returns per-class probabilities for each row of X. The matrix
// must be column-ordered per FeatureColumns (BuildFeatureMatrix guarantees
// this). A not-ready model returns nil with a warning instead of an error.
func (m *Model) PredictProba(X *mat.Dense) [][]float64 {
	if !m.ready {
		m.log.Warn().Msg("Meta model not ready, skipping prediction")
		return nil
	}
	if X == nil {
		return nil
	}

	rows, cols := X.Dims()
	if cols < len(m.columns) {
		m.log.Warn().
			Int("have", cols).
			Int("want", len(m.columns)).
			Msg("Feature matrix narrower than configured columns, skipping prediction")
		return nil
	}

	probs := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		// Restrict to the configured columns; extras beyond them are ignored
		row := mat.Row(nil, i, X)[:len(m.columns)]
		probs[i] = m.ensemble.predictRow(row)
	}
	return probs
}

// PositiveProba returns the probability of the positive (last) class for each
// row, the single opportunity score downstream consumers rank by
func (m *Model) PositiveProba(X *mat.Dense) []float64 {
	probs := m.PredictProba(X)
	if probs == nil {
		return nil
	}

	scores := make([]float64, len(probs))
	for i, p := range probs {
		scores[i] = p[len(p)-1]
	}
	return scores
}
