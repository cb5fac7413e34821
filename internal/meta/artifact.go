package meta

import (
	"fmt"
	"math"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// TreeNode is one node of a boosted decision tree. Leaf nodes carry Feature=-1
// and a per-class Value vector; split nodes route on Feature vs Threshold,
// with NaN inputs following the DefaultLeft flag.
type TreeNode struct {
	Feature     int       `msgpack:"feature"`
	Threshold   float64   `msgpack:"threshold"`
	Left        int       `msgpack:"left"`
	Right       int       `msgpack:"right"`
	Value       []float64 `msgpack:"value"`
	DefaultLeft bool      `msgpack:"default_left"`
}

// Tree is a flat node-array decision tree rooted at index 0
type Tree struct {
	Nodes []TreeNode `msgpack:"nodes"`
}

// Ensemble is the persisted gradient-boosted classifier. The artifact is
// written by the external training pipeline as a msgpack document; this
// engine only ever deserializes it.
type Ensemble struct {
	Classes      []int     `msgpack:"classes"`
	InitScores   []float64 `msgpack:"init_scores"`
	LearningRate float64   `msgpack:"learning_rate"`
	FeatureCount int       `msgpack:"feature_count"`
	Trees        []Tree    `msgpack:"trees"`
}

// LoadEnsemble reads and validates a serialized ensemble from disk
func LoadEnsemble(path string) (*Ensemble, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}

	var ensemble Ensemble
	if err := msgpack.Unmarshal(data, &ensemble); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact: %w", err)
	}

	if err := ensemble.validate(); err != nil {
		return nil, fmt.Errorf("invalid model artifact: %w", err)
	}

	return &ensemble, nil
}

// validate checks structural invariants of the artifact
func (e *Ensemble) validate() error {
	if len(e.Classes) < 2 {
		return fmt.Errorf("ensemble must declare at least 2 classes, got %d", len(e.Classes))
	}
	if len(e.InitScores) != len(e.Classes) {
		return fmt.Errorf("init scores length %d does not match %d classes", len(e.InitScores), len(e.Classes))
	}
	if len(e.Trees) == 0 {
		return fmt.Errorf("ensemble has no trees")
	}
	if e.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %v", e.LearningRate)
	}
	if e.FeatureCount <= 0 {
		return fmt.Errorf("feature count must be positive, got %d", e.FeatureCount)
	}

	for ti, tree := range e.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d has no nodes", ti)
		}
		for ni, node := range tree.Nodes {
			if node.Feature < 0 {
				if len(node.Value) != len(e.Classes) {
					return fmt.Errorf("tree %d leaf %d value length %d does not match %d classes",
						ti, ni, len(node.Value), len(e.Classes))
				}
				continue
			}
			if node.Feature >= e.FeatureCount {
				return fmt.Errorf("tree %d node %d splits on feature %d, model has %d",
					ti, ni, node.Feature, e.FeatureCount)
			}
			if node.Left < 0 || node.Left >= len(tree.Nodes) || node.Right < 0 || node.Right >= len(tree.Nodes) {
				return fmt.Errorf("tree %d node %d has out-of-range children", ti, ni)
			}
			// Children must follow their parent in the flat layout, so every
			// traversal step strictly advances and cycles are impossible
			if node.Left <= ni || node.Right <= ni {
				return fmt.Errorf("tree %d node %d has children that do not follow it", ti, ni)
			}
		}
	}

	return nil
}

// decide routes one feature row through the tree and returns the leaf value,
// or nil if the row cannot be routed. Validation guarantees child indices
// strictly increase, so the loop always terminates.
func (t *Tree) decide(row []float64) []float64 {
	idx := 0
	for steps := 0; steps <= len(t.Nodes); steps++ {
		node := t.Nodes[idx]
		if node.Feature < 0 {
			return node.Value
		}
		if node.Feature >= len(row) {
			return nil
		}

		v := row[node.Feature]
		switch {
		case math.IsNaN(v):
			if node.DefaultLeft {
				idx = node.Left
			} else {
				idx = node.Right
			}
		case v <= node.Threshold:
			idx = node.Left
		default:
			idx = node.Right
		}
	}
	return nil
}

// rawScores accumulates init scores plus scaled leaf contributions. Trees
// that fail to resolve a leaf contribute nothing.
func (e *Ensemble) rawScores(row []float64) []float64 {
	scores := append([]float64(nil), e.InitScores...)
	for i := range e.Trees {
		leaf := e.Trees[i].decide(row)
		if leaf == nil {
			continue
		}
		for c := range scores {
			scores[c] += e.LearningRate * leaf[c]
		}
	}
	return scores
}

// predictRow converts raw scores to class probabilities via softmax
func (e *Ensemble) predictRow(row []float64) []float64 {
	scores := e.rawScores(row)

	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}

	probs := make([]float64, len(scores))
	sum := 0.0
	for c, s := range scores {
		probs[c] = math.Exp(s - maxScore)
		sum += probs[c]
	}
	for c := range probs {
		probs[c] /= sum
	}
	return probs
}
