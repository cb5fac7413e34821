package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateCVaR(t *testing.T) {
	tests := []struct {
		name       string
		returns    []float64
		confidence float64
		want       float64
	}{
		{
			name:       "worst 5 percent of ten returns",
			returns:    []float64{-0.10, -0.05, -0.02, 0.0, 0.02, 0.05, 0.10, 0.15, 0.20, 0.25},
			confidence: 0.95,
			want:       -0.10,
		},
		{
			name:       "worst 20 percent averages two returns",
			returns:    []float64{-0.10, -0.05, -0.02, 0.0, 0.02, 0.05, 0.10, 0.15, 0.20, 0.25},
			confidence: 0.80,
			want:       -0.075,
		},
		{
			name:       "all negative returns",
			returns:    []float64{-0.20, -0.15, -0.10, -0.05, -0.02},
			confidence: 0.95,
			want:       -0.20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CalculateCVaR(tt.returns, tt.confidence), 1e-9)
		})
	}
}

func TestCalculateCVaREdgeCases(t *testing.T) {
	assert.Equal(t, 0.0, CalculateCVaR(nil, 0.95))
	assert.Equal(t, -0.5, CalculateCVaR([]float64{-0.5}, 0.95))
}
