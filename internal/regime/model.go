// Package regime infers latent market states from return/volatility features.
//
// Two probabilistic sequence models are available behind a common interface:
// a Gaussian hidden Markov model (preferred, models state transitions over
// time) and a Gaussian mixture fallback fitted with multiple random restarts.
// The strategy is chosen once at construction time and is transparent to
// callers of the detector.
package regime

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// SequenceModel is the abstract probabilistic model behind the detector.
// Implementations cluster observations into a fixed number of latent states
// and expose the posterior state distribution of the most recent observation.
type SequenceModel interface {
	// Fit estimates model parameters from the feature matrix (rows are
	// observations in time order, columns are features).
	Fit(X *mat.Dense) error

	// PosteriorLatest returns the per-state posterior probabilities for the
	// final row of X. The returned slice sums to 1.
	PosteriorLatest(X *mat.Dense) ([]float64, error)

	// StateMeans returns the fitted per-state feature means (states × features)
	StateMeans() [][]float64

	// NumStates returns the number of latent states the model resolved
	NumStates() int
}

const varianceFloor = 1e-10

// logNormPDF computes the log density of a univariate normal distribution
func logNormPDF(x, mean, variance float64) float64 {
	if variance < varianceFloor {
		variance = varianceFloor
	}
	diff := x - mean
	return -0.5*math.Log(2*math.Pi*variance) - diff*diff/(2*variance)
}

// logDiagGaussian computes the log density of a diagonal-covariance Gaussian
// for one observation row
func logDiagGaussian(row, means, variances []float64) float64 {
	sum := 0.0
	for d := range row {
		sum += logNormPDF(row[d], means[d], variances[d])
	}
	return sum
}

// logSumExp computes log(Σ exp(v_i)) without overflow
func logSumExp(values []float64) float64 {
	maxVal := math.Inf(-1)
	for _, v := range values {
		if v > maxVal {
			maxVal = v
		}
	}
	if math.IsInf(maxVal, -1) {
		return maxVal
	}

	sum := 0.0
	for _, v := range values {
		sum += math.Exp(v - maxVal)
	}
	return maxVal + math.Log(sum)
}

// validateMatrix checks the feature matrix is non-empty and large enough
// to resolve the requested number of states
func validateMatrix(X *mat.Dense, states int) (rows, cols int, err error) {
	if X == nil {
		return 0, 0, fmt.Errorf("nil feature matrix")
	}
	rows, cols = X.Dims()
	if rows == 0 || cols == 0 {
		return 0, 0, fmt.Errorf("empty feature matrix (%dx%d)", rows, cols)
	}
	if rows < states {
		return 0, 0, fmt.Errorf("%d observations cannot resolve %d states", rows, states)
	}
	return rows, cols, nil
}
