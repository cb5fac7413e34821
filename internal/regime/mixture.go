package regime

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// GaussianMixture is a diagonal-covariance Gaussian mixture model fitted with
// expectation-maximization. Because EM only finds local optima, Fit runs
// multiple seeded restarts and keeps the solution with the best log-likelihood.
type GaussianMixture struct {
	components int
	restarts   int
	maxIter    int
	tol        float64
	seed       int64

	weights   []float64
	means     [][]float64 // components × features
	variances [][]float64 // components × features
	logLik    float64
	trained   bool
}

// MixtureOption configures a GaussianMixture
type MixtureOption func(*GaussianMixture)

// WithRestarts sets the number of EM restarts (minimum 1)
func WithRestarts(n int) MixtureOption {
	return func(g *GaussianMixture) {
		if n > 0 {
			g.restarts = n
		}
	}
}

// WithSeed fixes the random source for deterministic fits
func WithSeed(seed int64) MixtureOption {
	return func(g *GaussianMixture) {
		g.seed = seed
	}
}

// NewGaussianMixture creates a mixture model with the given number of components
func NewGaussianMixture(components int, opts ...MixtureOption) *GaussianMixture {
	g := &GaussianMixture{
		components: components,
		restarts:   5,
		maxIter:    200,
		tol:        1e-6,
		seed:       42,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Fit estimates mixture parameters from the feature matrix
func (g *GaussianMixture) Fit(X *mat.Dense) error {
	rows, cols, err := validateMatrix(X, g.components)
	if err != nil {
		return err
	}

	data := denseToRows(X, rows, cols)

	bestLogLik := math.Inf(-1)
	var bestWeights []float64
	var bestMeans, bestVariances [][]float64

	for r := 0; r < g.restarts; r++ {
		rng := rand.New(rand.NewSource(g.seed + int64(r)))
		weights, means, variances, logLik, err := g.runEM(data, rng)
		if err != nil {
			continue
		}
		if logLik > bestLogLik {
			bestLogLik = logLik
			bestWeights = weights
			bestMeans = means
			bestVariances = variances
		}
	}

	if bestWeights == nil {
		return fmt.Errorf("all %d EM restarts failed to converge", g.restarts)
	}

	g.weights = bestWeights
	g.means = bestMeans
	g.variances = bestVariances
	g.logLik = bestLogLik
	g.trained = true
	return nil
}

// runEM performs one EM run from a random initialization
func (g *GaussianMixture) runEM(data [][]float64, rng *rand.Rand) ([]float64, [][]float64, [][]float64, float64, error) {
	n := len(data)
	d := len(data[0])
	k := g.components

	// Initialize means from random observations, variances from the global
	// per-feature variance, weights uniform
	weights := make([]float64, k)
	means := make([][]float64, k)
	variances := make([][]float64, k)
	globalVar := columnVariances(data)
	perm := rng.Perm(n)
	for j := 0; j < k; j++ {
		weights[j] = 1.0 / float64(k)
		means[j] = append([]float64(nil), data[perm[j]]...)
		variances[j] = append([]float64(nil), globalVar...)
	}

	resp := make([][]float64, n)
	for i := range resp {
		resp[i] = make([]float64, k)
	}

	prevLogLik := math.Inf(-1)
	logLik := math.Inf(-1)

	for iter := 0; iter < g.maxIter; iter++ {
		// E-step: responsibilities via log-sum-exp
		logLik = 0.0
		logProbs := make([]float64, k)
		for i := 0; i < n; i++ {
			for j := 0; j < k; j++ {
				logProbs[j] = math.Log(weights[j]) + logDiagGaussian(data[i], means[j], variances[j])
			}
			norm := logSumExp(logProbs)
			logLik += norm
			for j := 0; j < k; j++ {
				resp[i][j] = math.Exp(logProbs[j] - norm)
			}
		}

		if math.IsNaN(logLik) || math.IsInf(logLik, 1) {
			return nil, nil, nil, 0, fmt.Errorf("log-likelihood diverged at iteration %d", iter)
		}

		// M-step: update weights, means, variances
		for j := 0; j < k; j++ {
			nj := 0.0
			for i := 0; i < n; i++ {
				nj += resp[i][j]
			}
			if nj < 1e-8 {
				return nil, nil, nil, 0, fmt.Errorf("component %d collapsed", j)
			}

			weights[j] = nj / float64(n)
			for dim := 0; dim < d; dim++ {
				mean := 0.0
				for i := 0; i < n; i++ {
					mean += resp[i][j] * data[i][dim]
				}
				mean /= nj

				variance := 0.0
				for i := 0; i < n; i++ {
					diff := data[i][dim] - mean
					variance += resp[i][j] * diff * diff
				}
				variance /= nj
				if variance < varianceFloor {
					variance = varianceFloor
				}

				means[j][dim] = mean
				variances[j][dim] = variance
			}
		}

		if math.Abs(logLik-prevLogLik) < g.tol {
			break
		}
		prevLogLik = logLik
	}

	return weights, means, variances, logLik, nil
}

// PosteriorLatest returns the responsibilities of the final row of X
func (g *GaussianMixture) PosteriorLatest(X *mat.Dense) ([]float64, error) {
	if !g.trained {
		return nil, fmt.Errorf("mixture model is not trained")
	}
	rows, cols, err := validateMatrix(X, 1)
	if err != nil {
		return nil, err
	}
	if cols != len(g.means[0]) {
		return nil, fmt.Errorf("feature count %d does not match fitted model (%d)", cols, len(g.means[0]))
	}

	row := mat.Row(nil, rows-1, X)
	logProbs := make([]float64, g.components)
	for j := 0; j < g.components; j++ {
		logProbs[j] = math.Log(g.weights[j]) + logDiagGaussian(row, g.means[j], g.variances[j])
	}
	norm := logSumExp(logProbs)

	posterior := make([]float64, g.components)
	for j := range posterior {
		posterior[j] = math.Exp(logProbs[j] - norm)
	}
	return posterior, nil
}

// StateMeans returns the fitted component means
func (g *GaussianMixture) StateMeans() [][]float64 {
	return g.means
}

// NumStates returns the number of mixture components
func (g *GaussianMixture) NumStates() int {
	return g.components
}

// LogLikelihood returns the best log-likelihood across restarts
func (g *GaussianMixture) LogLikelihood() float64 {
	return g.logLik
}

// denseToRows copies a gonum matrix into a row-slice layout
func denseToRows(X *mat.Dense, rows, cols int) [][]float64 {
	data := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		data[i] = mat.Row(make([]float64, cols), i, X)
	}
	return data
}

// columnVariances computes the per-feature variance across all observations
func columnVariances(data [][]float64) []float64 {
	n := len(data)
	d := len(data[0])

	means := make([]float64, d)
	for _, row := range data {
		for dim, v := range row {
			means[dim] += v
		}
	}
	for dim := range means {
		means[dim] /= float64(n)
	}

	variances := make([]float64, d)
	for _, row := range data {
		for dim, v := range row {
			diff := v - means[dim]
			variances[dim] += diff * diff
		}
	}
	for dim := range variances {
		variances[dim] /= float64(n)
		if variances[dim] < varianceFloor {
			variances[dim] = varianceFloor
		}
	}
	return variances
}
