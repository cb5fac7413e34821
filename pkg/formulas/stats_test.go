package formulas

import (
	"math"
	"testing"
)

func TestCalculateReturns(t *testing.T) {
	tests := []struct {
		name     string
		prices   []float64
		expected []float64
	}{
		{
			name:     "empty prices",
			prices:   []float64{},
			expected: []float64{},
		},
		{
			name:     "single price",
			prices:   []float64{100},
			expected: []float64{},
		},
		{
			name:     "simple up move",
			prices:   []float64{100, 110},
			expected: []float64{0.10},
		},
		{
			name:     "up then down",
			prices:   []float64{100, 110, 99},
			expected: []float64{0.10, -0.10},
		},
		{
			name:     "zero price is skipped",
			prices:   []float64{0, 100, 110},
			expected: []float64{0, 0.10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateReturns(tt.prices)
			if len(result) != len(tt.expected) {
				t.Fatalf("CalculateReturns() length = %d, want %d", len(result), len(tt.expected))
			}
			for i := range result {
				if math.Abs(result[i]-tt.expected[i]) > 1e-9 {
					t.Errorf("CalculateReturns()[%d] = %v, want %v", i, result[i], tt.expected[i])
				}
			}
		})
	}
}

func TestAnnualizedVolatility(t *testing.T) {
	tests := []struct {
		name      string
		returns   []float64
		expected  float64
		tolerance float64
	}{
		{
			name:      "empty returns",
			returns:   []float64{},
			expected:  0.0,
			tolerance: 0.0,
		},
		{
			name:      "constant returns have zero volatility",
			returns:   makeReturns(0.001, 100),
			expected:  0.0,
			tolerance: 1e-9,
		},
		{
			name:      "alternating returns",
			returns:   []float64{0.01, -0.01, 0.01, -0.01, 0.01, -0.01},
			expected:  math.Sqrt(252) * StdDev([]float64{0.01, -0.01, 0.01, -0.01, 0.01, -0.01}),
			tolerance: 1e-9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := AnnualizedVolatility(tt.returns)
			if math.Abs(result-tt.expected) > tt.tolerance {
				t.Errorf("AnnualizedVolatility() = %v, want %v (±%v)", result, tt.expected, tt.tolerance)
			}
		})
	}
}

func TestRollingStd(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	out := RollingStd(data, 3)

	if len(out) != len(data) {
		t.Fatalf("RollingStd() length = %d, want %d", len(out), len(data))
	}

	// Windows of a linear ramp all share the same std
	expected := StdDev([]float64{1, 2, 3})
	for i, v := range out {
		if math.Abs(v-expected) > 1e-9 {
			t.Errorf("RollingStd()[%d] = %v, want %v", i, v, expected)
		}
	}

	if RollingStd(nil, 3) != nil {
		t.Error("RollingStd(nil) should return nil")
	}
	if RollingStd(data, 1) != nil {
		t.Error("RollingStd with window 1 should return nil")
	}
}

func TestDropNaN(t *testing.T) {
	data := []float64{1, math.NaN(), 2, math.Inf(1), 3, math.Inf(-1)}
	clean := DropNaN(data)

	if len(clean) != 3 {
		t.Fatalf("DropNaN() length = %d, want 3", len(clean))
	}
	for i, want := range []float64{1, 2, 3} {
		if clean[i] != want {
			t.Errorf("DropNaN()[%d] = %v, want %v", i, clean[i], want)
		}
	}
}

func TestCovarianceAndCorrelation(t *testing.T) {
	x := []float64{0.01, -0.02, 0.03, 0.01, -0.01}
	y := []float64{0.02, -0.04, 0.06, 0.02, -0.02} // y = 2x

	if math.Abs(Correlation(x, y)-1.0) > 1e-9 {
		t.Errorf("Correlation(x, 2x) = %v, want 1.0", Correlation(x, y))
	}

	// cov(x, 2x) = 2 var(x)
	if math.Abs(Covariance(x, y)-2*Variance(x)) > 1e-12 {
		t.Errorf("Covariance(x, 2x) = %v, want %v", Covariance(x, y), 2*Variance(x))
	}

	// Mismatched lengths return 0
	if Covariance(x, y[:3]) != 0 {
		t.Error("Covariance with mismatched lengths should be 0")
	}
	if Correlation(nil, nil) != 0 {
		t.Error("Correlation of empty inputs should be 0")
	}
}

// makeReturns creates a slice of n identical returns
func makeReturns(value float64, n int) []float64 {
	returns := make([]float64, n)
	for i := range returns {
		returns[i] = value
	}
	return returns
}
