package volatility

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aristath/regime-engine/pkg/formulas"
)

// garchParams holds the GARCH(1,1) parameter vector: constant mean mu and the
// conditional variance recursion h_t = omega + alpha·e²_{t-1} + beta·h_{t-1}
type garchParams struct {
	mu    float64
	omega float64
	alpha float64
	beta  float64
}

// valid reports whether the parameters define a stationary, positive
// variance process
func (p garchParams) valid() bool {
	if p.omega <= 0 || p.alpha < 0 || p.beta < 0 {
		return false
	}
	if p.alpha+p.beta >= 1 {
		return false
	}
	for _, v := range []float64{p.mu, p.omega, p.alpha, p.beta} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// conditionalVariances runs the variance recursion. The first variance is the
// sample variance of the series.
func conditionalVariances(returns []float64, p garchParams) []float64 {
	h := make([]float64, len(returns))
	h[0] = formulas.Variance(returns)
	if h[0] <= 0 {
		h[0] = 1e-8
	}
	for t := 1; t < len(returns); t++ {
		e := returns[t-1] - p.mu
		h[t] = p.omega + p.alpha*e*e + p.beta*h[t-1]
		if h[t] <= 0 {
			h[t] = 1e-8
		}
	}
	return h
}

// negLogLikelihood computes the negative Gaussian log-likelihood of the
// series under the given parameters. Invalid parameter regions return +Inf so
// the Nelder-Mead simplex walks back inside the feasible set.
func negLogLikelihood(returns []float64, p garchParams) float64 {
	if !p.valid() {
		return math.Inf(1)
	}

	h := conditionalVariances(returns, p)
	nll := 0.0
	for t, r := range returns {
		dist := distuv.Normal{Mu: p.mu, Sigma: math.Sqrt(h[t])}
		nll -= dist.LogProb(r)
	}
	if math.IsNaN(nll) {
		return math.Inf(1)
	}
	return nll
}

// fitGARCH estimates GARCH(1,1) parameters by maximum likelihood using
// Nelder-Mead. The input series is expected to be pre-scaled (×100) for
// numerical stability.
func fitGARCH(returns []float64) (garchParams, error) {
	sampleVar := formulas.Variance(returns)
	if sampleVar <= 0 {
		return garchParams{}, fmt.Errorf("degenerate return series (zero variance)")
	}

	initial := garchParams{
		mu:    formulas.Mean(returns),
		omega: 0.05 * sampleVar,
		alpha: 0.05,
		beta:  0.90,
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return negLogLikelihood(returns, garchParams{mu: x[0], omega: x[1], alpha: x[2], beta: x[3]})
		},
	}

	x0 := []float64{initial.mu, initial.omega, initial.alpha, initial.beta}
	result, err := optimize.Minimize(problem, x0, &optimize.Settings{
		MajorIterations: 500,
	}, &optimize.NelderMead{})
	if err != nil {
		return garchParams{}, fmt.Errorf("GARCH optimization failed: %w", err)
	}

	fitted := garchParams{mu: result.X[0], omega: result.X[1], alpha: result.X[2], beta: result.X[3]}
	if !fitted.valid() {
		return garchParams{}, fmt.Errorf("GARCH optimizer converged outside the stationary region")
	}
	if math.IsInf(result.F, 0) || math.IsNaN(result.F) {
		return garchParams{}, fmt.Errorf("GARCH likelihood did not converge")
	}

	return fitted, nil
}

// forecastVariance returns the one-step-ahead conditional variance
func forecastVariance(returns []float64, p garchParams) float64 {
	h := conditionalVariances(returns, p)
	last := len(returns) - 1
	e := returns[last] - p.mu
	return p.omega + p.alpha*e*e + p.beta*h[last]
}
