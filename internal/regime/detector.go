package regime

import (
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/regime-engine/internal/domain"
)

// Model strategy names
const (
	ModelHMM     = "hmm"
	ModelMixture = "gmm"
)

// Config holds detector configuration
type Config struct {
	States   int    // number of latent states (default 3)
	MinObs   int    // minimum observations required to fit (default 40)
	Model    string // "hmm" (default) or "gmm"
	Restarts int    // mixture EM restarts (default 5)
	Seed     int64  // random seed for deterministic fits
}

// withDefaults fills zero-valued fields.
// MinObs defaults to 40 rather than a stricter 60 on purpose: after the
// rolling volatility window consumes the head of a series, short histories
// must still be classifiable.
func (c Config) withDefaults() Config {
	if c.States <= 0 {
		c.States = 3
	}
	if c.MinObs <= 0 {
		c.MinObs = 40
	}
	if c.Model == "" {
		c.Model = ModelHMM
	}
	if c.Restarts <= 0 {
		c.Restarts = 5
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	return c
}

// Detector classifies the most recent observation of a feature matrix into a
// small number of latent market states. An unfittable detector never errors:
// it stays untrained and reports the unknown regime.
type Detector struct {
	cfg     Config
	log     zerolog.Logger
	model   SequenceModel
	trained bool
}

// NewDetector creates a regime detector. The sequence-model strategy is
// selected here, once, and logged; callers only ever see the Detector API.
func NewDetector(cfg Config, log zerolog.Logger) *Detector {
	cfg = cfg.withDefaults()

	d := &Detector{
		cfg: cfg,
		log: log.With().Str("component", "regime_detector").Logger(),
	}

	switch cfg.Model {
	case ModelMixture:
		d.model = NewGaussianMixture(cfg.States, WithRestarts(cfg.Restarts), WithSeed(cfg.Seed))
	default:
		d.model = NewGaussianHMM(cfg.States, WithHMMSeed(cfg.Seed))
	}

	d.log.Info().
		Str("model", cfg.Model).
		Int("states", cfg.States).
		Int("min_obs", cfg.MinObs).
		Msg("Regime detector initialized")

	return d
}

// Fit trains the underlying sequence model. Insufficient data leaves the
// detector untrained with a warning; an HMM that fails to converge falls back
// to the mixture model.
func (d *Detector) Fit(X *mat.Dense) {
	d.trained = false

	rows := 0
	if X != nil {
		rows, _ = X.Dims()
	}
	if rows < d.cfg.MinObs {
		d.log.Warn().
			Int("observations", rows).
			Int("min_obs", d.cfg.MinObs).
			Msg("Insufficient observations to fit regime model")
		return
	}

	if err := d.model.Fit(X); err != nil {
		if _, isHMM := d.model.(*GaussianHMM); isHMM {
			d.log.Warn().Err(err).Msg("HMM fit failed, falling back to Gaussian mixture")
			fallback := NewGaussianMixture(d.cfg.States, WithRestarts(d.cfg.Restarts), WithSeed(d.cfg.Seed))
			if err := fallback.Fit(X); err != nil {
				d.log.Warn().Err(err).Msg("Mixture fallback fit failed, detector stays untrained")
				return
			}
			d.model = fallback
		} else {
			d.log.Warn().Err(err).Msg("Mixture fit failed, detector stays untrained")
			return
		}
	}

	d.trained = true
}

// IsTrained reports whether the last Fit succeeded
func (d *Detector) IsTrained() bool {
	return d.trained
}

// AnalyseLatest classifies the final row of X. When the detector is untrained
// or X is empty it returns the unknown regime rather than an error.
func (d *Detector) AnalyseLatest(X *mat.Dense) domain.RegimeState {
	if !d.trained || X == nil {
		return domain.UnknownRegime()
	}
	rows, _ := X.Dims()
	if rows == 0 {
		return domain.UnknownRegime()
	}

	posterior, err := d.model.PosteriorLatest(X)
	if err != nil {
		d.log.Warn().Err(err).Msg("Posterior computation failed")
		return domain.UnknownRegime()
	}

	current := 0
	for j, p := range posterior {
		if p > posterior[current] {
			current = j
		}
	}

	probabilities := make(map[int]float64, len(posterior))
	for j, p := range posterior {
		probabilities[j] = p
	}

	labels := labelStates(d.model.StateMeans())

	return domain.RegimeState{
		Label:         labels[current],
		ID:            current,
		Probabilities: probabilities,
	}
}

// labelStates ranks states by their volatility proxy (the mean of the last
// feature column, the rolling-volatility feature) and assigns human labels:
// lowest → calm, highest → high_vol, everything between → normal. With only
// two resolved states the labels degrade to calm/normal, with one to normal.
func labelStates(means [][]float64) map[int]string {
	labels := make(map[int]string, len(means))
	if len(means) == 0 {
		return labels
	}
	if len(means) == 1 {
		labels[0] = domain.RegimeNormal
		return labels
	}

	proxyCol := len(means[0]) - 1
	order := make([]int, len(means))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return means[order[a]][proxyCol] < means[order[b]][proxyCol]
	})

	for rank, state := range order {
		switch {
		case rank == 0:
			labels[state] = domain.RegimeCalm
		case rank == len(order)-1 && len(order) > 2:
			labels[state] = domain.RegimeHighVol
		default:
			labels[state] = domain.RegimeNormal
		}
	}
	return labels
}
