package regime

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// GaussianHMM is a hidden Markov model with diagonal-covariance Gaussian
// emissions, fitted with the Baum-Welch algorithm. Unlike the mixture model it
// also learns state transition dynamics, so persistent regimes are preferred
// over rapid state flipping.
type GaussianHMM struct {
	states  int
	maxIter int
	tol     float64
	seed    int64

	initial    []float64   // π
	transition [][]float64 // states × states
	means      [][]float64 // states × features
	variances  [][]float64 // states × features
	logLik     float64
	trained    bool
}

// HMMOption configures a GaussianHMM
type HMMOption func(*GaussianHMM)

// WithHMMSeed fixes the random source for deterministic fits
func WithHMMSeed(seed int64) HMMOption {
	return func(h *GaussianHMM) {
		h.seed = seed
	}
}

// NewGaussianHMM creates an HMM with the given number of hidden states
func NewGaussianHMM(states int, opts ...HMMOption) *GaussianHMM {
	h := &GaussianHMM{
		states:  states,
		maxIter: 100,
		tol:     1e-4,
		seed:    42,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Fit estimates HMM parameters from the feature matrix via Baum-Welch
func (h *GaussianHMM) Fit(X *mat.Dense) error {
	rows, cols, err := validateMatrix(X, h.states)
	if err != nil {
		return err
	}

	data := denseToRows(X, rows, cols)
	rng := rand.New(rand.NewSource(h.seed))
	h.initialize(data, rng)

	prevLogLik := math.Inf(-1)

	for iter := 0; iter < h.maxIter; iter++ {
		logB := h.emissionLogProbs(data)

		alpha, scale, err := h.forward(logB)
		if err != nil {
			return err
		}
		beta := h.backward(logB, scale)

		logLik := 0.0
		for _, s := range scale {
			logLik += math.Log(s)
		}
		if math.IsNaN(logLik) {
			return fmt.Errorf("log-likelihood diverged at iteration %d", iter)
		}
		h.logLik = logLik

		h.reestimate(data, logB, alpha, beta)

		if math.Abs(logLik-prevLogLik) < h.tol {
			break
		}
		prevLogLik = logLik
	}

	h.trained = true
	return nil
}

// initialize seeds parameters: uniform initial distribution, a sticky
// transition matrix, means from random observations, global variances
func (h *GaussianHMM) initialize(data [][]float64, rng *rand.Rand) {
	n := len(data)
	k := h.states

	h.initial = make([]float64, k)
	h.transition = make([][]float64, k)
	for i := 0; i < k; i++ {
		h.initial[i] = 1.0 / float64(k)
		h.transition[i] = make([]float64, k)
		for j := 0; j < k; j++ {
			if i == j {
				h.transition[i][j] = 0.8
			} else {
				h.transition[i][j] = 0.2 / float64(k-1)
			}
		}
	}

	globalVar := columnVariances(data)
	perm := rng.Perm(n)
	h.means = make([][]float64, k)
	h.variances = make([][]float64, k)
	for j := 0; j < k; j++ {
		h.means[j] = append([]float64(nil), data[perm[j]]...)
		h.variances[j] = append([]float64(nil), globalVar...)
	}
}

// emissionLogProbs computes log b_j(o_t) for every observation and state
func (h *GaussianHMM) emissionLogProbs(data [][]float64) [][]float64 {
	logB := make([][]float64, len(data))
	for t, row := range data {
		logB[t] = make([]float64, h.states)
		for j := 0; j < h.states; j++ {
			logB[t][j] = logDiagGaussian(row, h.means[j], h.variances[j])
		}
	}
	return logB
}

// forward runs the scaled forward pass. scale[t] is the normalizer of alpha
// at step t, so Σ_t log(scale[t]) is the sequence log-likelihood.
func (h *GaussianHMM) forward(logB [][]float64) (alpha [][]float64, scale []float64, err error) {
	n := len(logB)
	k := h.states

	alpha = make([][]float64, n)
	scale = make([]float64, n)

	alpha[0] = make([]float64, k)
	for j := 0; j < k; j++ {
		alpha[0][j] = h.initial[j] * math.Exp(logB[0][j])
		scale[0] += alpha[0][j]
	}
	if scale[0] <= 0 {
		return nil, nil, fmt.Errorf("forward pass underflow at t=0")
	}
	for j := 0; j < k; j++ {
		alpha[0][j] /= scale[0]
	}

	for t := 1; t < n; t++ {
		alpha[t] = make([]float64, k)
		for j := 0; j < k; j++ {
			sum := 0.0
			for i := 0; i < k; i++ {
				sum += alpha[t-1][i] * h.transition[i][j]
			}
			alpha[t][j] = sum * math.Exp(logB[t][j])
			scale[t] += alpha[t][j]
		}
		if scale[t] <= 0 {
			return nil, nil, fmt.Errorf("forward pass underflow at t=%d", t)
		}
		for j := 0; j < k; j++ {
			alpha[t][j] /= scale[t]
		}
	}

	return alpha, scale, nil
}

// backward runs the scaled backward pass using the forward scale factors
func (h *GaussianHMM) backward(logB [][]float64, scale []float64) [][]float64 {
	n := len(logB)
	k := h.states

	beta := make([][]float64, n)
	beta[n-1] = make([]float64, k)
	for j := 0; j < k; j++ {
		beta[n-1][j] = 1.0 / scale[n-1]
	}

	for t := n - 2; t >= 0; t-- {
		beta[t] = make([]float64, k)
		for i := 0; i < k; i++ {
			sum := 0.0
			for j := 0; j < k; j++ {
				sum += h.transition[i][j] * math.Exp(logB[t+1][j]) * beta[t+1][j]
			}
			beta[t][i] = sum / scale[t]
		}
	}

	return beta
}

// reestimate updates π, A, means and variances from the posteriors
func (h *GaussianHMM) reestimate(data [][]float64, logB, alpha, beta [][]float64) {
	n := len(data)
	d := len(data[0])
	k := h.states

	// gamma[t][j] ∝ alpha[t][j] * beta[t][j]
	gamma := make([][]float64, n)
	for t := 0; t < n; t++ {
		gamma[t] = make([]float64, k)
		norm := 0.0
		for j := 0; j < k; j++ {
			gamma[t][j] = alpha[t][j] * beta[t][j]
			norm += gamma[t][j]
		}
		if norm > 0 {
			for j := 0; j < k; j++ {
				gamma[t][j] /= norm
			}
		}
	}

	// Initial distribution
	copy(h.initial, gamma[0])

	// Transition matrix from pairwise posteriors xi
	for i := 0; i < k; i++ {
		denom := 0.0
		for t := 0; t < n-1; t++ {
			denom += gamma[t][i]
		}
		if denom <= 0 {
			continue
		}
		for j := 0; j < k; j++ {
			numer := 0.0
			for t := 0; t < n-1; t++ {
				numer += alpha[t][i] * h.transition[i][j] * math.Exp(logB[t+1][j]) * beta[t+1][j]
			}
			h.transition[i][j] = numer / denom
		}
		// Renormalize the row against accumulated rounding drift
		rowSum := 0.0
		for j := 0; j < k; j++ {
			rowSum += h.transition[i][j]
		}
		if rowSum > 0 {
			for j := 0; j < k; j++ {
				h.transition[i][j] /= rowSum
			}
		}
	}

	// Emission parameters
	for j := 0; j < k; j++ {
		weight := 0.0
		for t := 0; t < n; t++ {
			weight += gamma[t][j]
		}
		if weight <= 1e-8 {
			continue
		}

		for dim := 0; dim < d; dim++ {
			mean := 0.0
			for t := 0; t < n; t++ {
				mean += gamma[t][j] * data[t][dim]
			}
			mean /= weight

			variance := 0.0
			for t := 0; t < n; t++ {
				diff := data[t][dim] - mean
				variance += gamma[t][j] * diff * diff
			}
			variance /= weight
			if variance < varianceFloor {
				variance = varianceFloor
			}

			h.means[j][dim] = mean
			h.variances[j][dim] = variance
		}
	}
}

// PosteriorLatest returns the filtered state distribution at the final
// observation (the normalized forward variable at time T)
func (h *GaussianHMM) PosteriorLatest(X *mat.Dense) ([]float64, error) {
	if !h.trained {
		return nil, fmt.Errorf("HMM is not trained")
	}
	rows, cols, err := validateMatrix(X, 1)
	if err != nil {
		return nil, err
	}
	if cols != len(h.means[0]) {
		return nil, fmt.Errorf("feature count %d does not match fitted model (%d)", cols, len(h.means[0]))
	}

	data := denseToRows(X, rows, cols)
	logB := h.emissionLogProbs(data)
	alpha, _, err := h.forward(logB)
	if err != nil {
		return nil, err
	}

	// alpha rows are already normalized by the scale factors
	posterior := append([]float64(nil), alpha[rows-1]...)
	return posterior, nil
}

// StateMeans returns the fitted per-state emission means
func (h *GaussianHMM) StateMeans() [][]float64 {
	return h.means
}

// NumStates returns the number of hidden states
func (h *GaussianHMM) NumStates() int {
	return h.states
}

// LogLikelihood returns the training log-likelihood of the last Fit
func (h *GaussianHMM) LogLikelihood() float64 {
	return h.logLik
}
