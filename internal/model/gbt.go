package model

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Regressor is the trained-model capability the forecaster consumes: a
// fixed-width feature vector in, one real prediction out. Training,
// hyperparameters, and the upstream pipeline that produced the model are
// all out of scope here; the ensemble is loaded ready to serve.
type Regressor interface {
	Predict(features []float64) (float64, error)
	Version() string
}

// TreeNode is one node of a regression tree. Leaf nodes have no children
// and carry Value; split nodes route on features[Feature] < Threshold.
type TreeNode struct {
	Feature   int       `json:"feature,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
	Left      *TreeNode `json:"left,omitempty"`
	Right     *TreeNode `json:"right,omitempty"`
	Value     float64   `json:"value,omitempty"`
}

// eval walks the tree for one feature vector.
func (n *TreeNode) eval(features []float64) float64 {
	node := n
	for node.Left != nil && node.Right != nil {
		if features[node.Feature] < node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Value
}

// validate checks that every split references a feature within bounds.
func (n *TreeNode) validate(numFeatures int) error {
	if n.Left == nil && n.Right == nil {
		return nil
	}
	if n.Left == nil || n.Right == nil {
		return fmt.Errorf("split node with a single child")
	}
	if n.Feature < 0 || n.Feature >= numFeatures {
		return fmt.Errorf("split feature %d out of range [0, %d)", n.Feature, numFeatures)
	}
	if err := n.Left.validate(numFeatures); err != nil {
		return err
	}
	return n.Right.validate(numFeatures)
}

// TreeEnsemble is a gradient-boosted tree regressor: the prediction is
// base score plus the learning-rate-scaled sum of all tree outputs.
type TreeEnsemble struct {
	mu           sync.RWMutex
	version      string
	numFeatures  int
	baseScore    float64
	learningRate float64
	trees        []*TreeNode
}

// ensembleDump is the on-disk JSON layout for a trained ensemble.
type ensembleDump struct {
	Version      string      `json:"version"`
	NumFeatures  int         `json:"num_features"`
	BaseScore    float64     `json:"base_score"`
	LearningRate float64     `json:"learning_rate"`
	Trees        []*TreeNode `json:"trees"`
}

// NewTreeEnsemble builds an ensemble from parsed trees.
func NewTreeEnsemble(version string, numFeatures int, baseScore, learningRate float64, trees []*TreeNode) (*TreeEnsemble, error) {
	if numFeatures <= 0 {
		return nil, fmt.Errorf("num_features must be positive, got %d", numFeatures)
	}
	if learningRate == 0 {
		learningRate = 1.0
	}
	for i, tree := range trees {
		if tree == nil {
			return nil, fmt.Errorf("tree %d is nil", i)
		}
		if err := tree.validate(numFeatures); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return &TreeEnsemble{
		version:      version,
		numFeatures:  numFeatures,
		baseScore:    baseScore,
		learningRate: learningRate,
		trees:        trees,
	}, nil
}

// LoadEnsemble reads a JSON tree dump from disk.
func LoadEnsemble(path string) (*TreeEnsemble, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	return ParseEnsemble(data)
}

// ParseEnsemble builds an ensemble from a JSON tree dump.
func ParseEnsemble(data []byte) (*TreeEnsemble, error) {
	var dump ensembleDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("failed to parse model dump: %w", err)
	}
	if len(dump.Trees) == 0 {
		return nil, fmt.Errorf("model dump contains no trees")
	}
	return NewTreeEnsemble(dump.Version, dump.NumFeatures, dump.BaseScore, dump.LearningRate, dump.Trees)
}

// Predict implements Regressor. The output is the raw regression value;
// clamping to business bounds (sales >= 0) is the forecaster's job.
func (te *TreeEnsemble) Predict(features []float64) (float64, error) {
	te.mu.RLock()
	defer te.mu.RUnlock()

	if len(features) != te.numFeatures {
		return 0, fmt.Errorf("feature vector has %d values, model expects %d",
			len(features), te.numFeatures)
	}

	pred := te.baseScore
	for _, tree := range te.trees {
		pred += te.learningRate * tree.eval(features)
	}
	return pred, nil
}

// Version implements Regressor.
func (te *TreeEnsemble) Version() string {
	te.mu.RLock()
	defer te.mu.RUnlock()
	return te.version
}

// NumFeatures returns the expected feature vector width.
func (te *TreeEnsemble) NumFeatures() int {
	te.mu.RLock()
	defer te.mu.RUnlock()
	return te.numFeatures
}

// NumTrees returns the ensemble size.
func (te *TreeEnsemble) NumTrees() int {
	te.mu.RLock()
	defer te.mu.RUnlock()
	return len(te.trees)
}
