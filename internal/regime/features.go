package regime

import (
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/regime-engine/pkg/formulas"
)

// DefaultVolWindow is the rolling window used for the volatility proxy feature
const DefaultVolWindow = 20

// BuildFeatures converts a close-price series into the detector's feature
// matrix: column 0 is the daily percentage return, column 1 a rolling
// standard deviation of those returns. Rows are time-ordered. Returns nil
// when there is not enough history to produce a single row.
func BuildFeatures(closes []float64, volWindow int) *mat.Dense {
	if volWindow <= 1 {
		volWindow = DefaultVolWindow
	}

	returns := formulas.CalculateReturns(formulas.DropNaN(closes))
	if len(returns) < 2 {
		return nil
	}

	volProxy := formulas.RollingStd(returns, volWindow)
	if volProxy == nil {
		return nil
	}

	X := mat.NewDense(len(returns), 2, nil)
	for i := range returns {
		X.Set(i, 0, returns[i])
		X.Set(i, 1, volProxy[i])
	}
	return X
}
