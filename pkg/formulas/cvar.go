package formulas

import (
	"math"
	"sort"
)

// CalculateCVaR calculates Conditional Value at Risk at the given confidence
// level: the average of the returns in the tail beyond the VaR threshold.
//
// Args:
//
//	returns: Historical returns (negative values are losses)
//	confidence: Confidence level (e.g., 0.95 for the worst 5%)
//
// Returns:
//
//	Average tail return (negative for losses)
func CalculateCVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0.0
	}
	if len(returns) == 1 {
		return returns[0]
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	tailProbability := 1.0 - confidence
	tailCount := int(math.Ceil(float64(len(sorted)) * tailProbability))
	if tailCount == 0 {
		tailCount = 1
	}
	if tailCount > len(sorted) {
		tailCount = len(sorted)
	}

	sum := 0.0
	for _, r := range sorted[:tailCount] {
		sum += r
	}
	return sum / float64(tailCount)
}
