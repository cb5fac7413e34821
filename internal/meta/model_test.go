package meta

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

// stumpEnsemble builds a binary two-tree ensemble splitting on feature 0:
// values above the threshold score toward the positive class
func stumpEnsemble() *Ensemble {
	stump := Tree{Nodes: []TreeNode{
		{Feature: 0, Threshold: 0.5, Left: 1, Right: 2, DefaultLeft: true},
		{Feature: -1, Value: []float64{1.0, -1.0}},
		{Feature: -1, Value: []float64{-1.0, 1.0}},
	}}

	return &Ensemble{
		Classes:      []int{0, 1},
		InitScores:   []float64{0, 0},
		LearningRate: 1.0,
		FeatureCount: 2,
		Trees:        []Tree{stump, stump},
	}
}

func writeArtifact(t *testing.T, ensemble *Ensemble) string {
	t.Helper()

	data, err := msgpack.Marshal(ensemble)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "meta_model.msgpack")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestNewModelMissingArtifactNotReady(t *testing.T) {
	m := NewModel("/nonexistent/model.msgpack", []string{"a", "b"}, zerolog.Nop())

	assert.False(t, m.IsReady())
	assert.Nil(t, m.PredictProba(m.BuildFeatureMatrix([]map[string]float64{{"a": 1, "b": 2}})))
	assert.Nil(t, m.PositiveProba(nil))
}

func TestNewModelCorruptArtifactNotReady(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.msgpack")
	require.NoError(t, os.WriteFile(path, []byte("not msgpack at all"), 0o644))

	m := NewModel(path, []string{"a"}, zerolog.Nop())
	assert.False(t, m.IsReady())
}

func TestNewModelRoundTripsArtifact(t *testing.T) {
	path := writeArtifact(t, stumpEnsemble())

	m := NewModel(path, []string{"gap", "rsi"}, zerolog.Nop())
	require.True(t, m.IsReady())

	X := m.BuildFeatureMatrix([]map[string]float64{
		{"gap": 0.9, "rsi": 30},
		{"gap": 0.1, "rsi": 70},
	})
	require.NotNil(t, X)

	probs := m.PredictProba(X)
	require.Len(t, probs, 2)

	// Row 0 is above the split: positive class wins; row 1 the reverse
	assert.Greater(t, probs[0][1], 0.5)
	assert.Less(t, probs[1][1], 0.5)

	for _, p := range probs {
		sum := 0.0
		for _, v := range p {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestBuildFeatureMatrixMissingKeysBecomeNaN(t *testing.T) {
	m := NewModelFromEnsemble(stumpEnsemble(), []string{"gap", "rsi", "vol"}, zerolog.Nop())

	X := m.BuildFeatureMatrix([]map[string]float64{
		{"gap": 1.5, "rsi": 40},
		{"vol": 0.02},
	})
	require.NotNil(t, X)

	rows, cols := X.Dims()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 3, cols)

	// Input order and column order preserved
	assert.Equal(t, 1.5, X.At(0, 0))
	assert.Equal(t, 40.0, X.At(0, 1))
	assert.True(t, math.IsNaN(X.At(0, 2)))
	assert.True(t, math.IsNaN(X.At(1, 0)))
	assert.Equal(t, 0.02, X.At(1, 2))
}

func TestBuildFeatureMatrixEmptyInput(t *testing.T) {
	m := NewModelFromEnsemble(stumpEnsemble(), []string{"a"}, zerolog.Nop())
	assert.Nil(t, m.BuildFeatureMatrix(nil))
}

func TestPredictProbaRoutesNaNThroughDefaultBranch(t *testing.T) {
	m := NewModelFromEnsemble(stumpEnsemble(), []string{"gap", "rsi"}, zerolog.Nop())
	require.True(t, m.IsReady())

	// Missing gap: the stump's DefaultLeft sends it to the negative leaf
	X := m.BuildFeatureMatrix([]map[string]float64{{"rsi": 50}})
	probs := m.PredictProba(X)
	require.Len(t, probs, 1)
	assert.Less(t, probs[0][1], 0.5)
}

func TestPositiveProba(t *testing.T) {
	m := NewModelFromEnsemble(stumpEnsemble(), []string{"gap", "rsi"}, zerolog.Nop())

	X := m.BuildFeatureMatrix([]map[string]float64{{"gap": 2.0, "rsi": 10}})
	scores := m.PositiveProba(X)
	require.Len(t, scores, 1)
	assert.Greater(t, scores[0], 0.5)
	assert.LessOrEqual(t, scores[0], 1.0)
}

func TestNewModelFeatureCountMismatchNotReady(t *testing.T) {
	// Artifact expects three features and splits on the third; the configured
	// column list only has two. The model must refuse readiness instead of
	// indexing past the row at prediction time.
	ensemble := &Ensemble{
		Classes:      []int{0, 1},
		InitScores:   []float64{0, 0},
		LearningRate: 1.0,
		FeatureCount: 3,
		Trees: []Tree{{Nodes: []TreeNode{
			{Feature: 2, Threshold: 0.5, Left: 1, Right: 2, DefaultLeft: true},
			{Feature: -1, Value: []float64{1.0, -1.0}},
			{Feature: -1, Value: []float64{-1.0, 1.0}},
		}}},
	}

	m := NewModelFromEnsemble(ensemble, []string{"a", "b"}, zerolog.Nop())
	assert.False(t, m.IsReady())
	assert.Nil(t, m.PredictProba(m.BuildFeatureMatrix([]map[string]float64{{"a": 1, "b": 2}})))

	path := writeArtifact(t, ensemble)
	loaded := NewModel(path, []string{"a", "b"}, zerolog.Nop())
	assert.False(t, loaded.IsReady())
}

func TestValidateRejectsCyclicTree(t *testing.T) {
	cyclic := stumpEnsemble()
	// Node 1 routes back to the root instead of being a leaf
	cyclic.Trees[0].Nodes[1] = TreeNode{Feature: 0, Threshold: 0.1, Left: 0, Right: 2}

	assert.Error(t, cyclic.validate())
	m := NewModelFromEnsemble(cyclic, []string{"gap", "rsi"}, zerolog.Nop())
	assert.False(t, m.IsReady())
}

func TestNewModelFromEnsembleRejectsInvalid(t *testing.T) {
	invalid := stumpEnsemble()
	invalid.Trees = nil

	m := NewModelFromEnsemble(invalid, []string{"a"}, zerolog.Nop())
	assert.False(t, m.IsReady())
}

func TestLoadEnsembleValidation(t *testing.T) {
	broken := stumpEnsemble()
	broken.InitScores = []float64{0} // length mismatch

	path := writeArtifact(t, broken)
	_, err := LoadEnsemble(path)
	assert.Error(t, err)
}
