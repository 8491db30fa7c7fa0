package model

import (
	"errors"
	"fmt"
)

// StandardScaler centers and scales each feature: (x - mean) / scale.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) {
		return nil, fmt.Errorf("scaler expects %d features, got %d", len(s.Mean), len(x))
	}
	out := make([]float64, len(x))
	for i, v := range x {
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		out[i] = (v - s.Mean[i]) / scale
	}
	return out, nil
}

func (s *StandardScaler) validate() error {
	if len(s.Mean) == 0 {
		return errors.New("scaler has no features")
	}
	if len(s.Mean) != len(s.Scale) {
		return fmt.Errorf("scaler mean/scale length mismatch: %d vs %d", len(s.Mean), len(s.Scale))
	}
	return nil
}

// Node is one decision-tree node. A sample goes to Left when
// x[Feature] <= Threshold. Value holds the class distribution at a leaf.
type Node struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      int       `json:"left"`
	Right     int       `json:"right"`
	Value     []float64 `json:"value,omitempty"`
	Leaf      bool      `json:"leaf"`
}

// Tree is a flat node array rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) leaf(x []float64) ([]float64, error) {
	idx := 0
	for steps := 0; steps <= len(t.Nodes); steps++ {
		n := t.Nodes[idx]
		if n.Leaf {
			return n.Value, nil
		}
		if n.Feature < 0 || n.Feature >= len(x) {
			return nil, errors.New("feature index out of range")
		}
		if x[n.Feature] <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
	}
	return nil, errors.New("tree walk did not reach a leaf")
}

func (t *Tree) validate(nClasses int) error {
	if len(t.Nodes) == 0 {
		return errors.New("empty tree")
	}
	for i, n := range t.Nodes {
		if n.Leaf {
			if len(n.Value) != nClasses {
				return fmt.Errorf("leaf %d has %d values, want %d", i, len(n.Value), nClasses)
			}
			continue
		}
		if n.Left <= 0 || n.Left >= len(t.Nodes) || n.Right <= 0 || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d has invalid children (%d, %d)", i, n.Left, n.Right)
		}
	}
	return nil
}

// RandomForest averages the normalized leaf distributions of its trees.
type RandomForest struct {
	ClassLabels []string       `json:"classes"`
	Hyper       map[string]any `json:"params,omitempty"`
	Importances []float64      `json:"feature_importances,omitempty"`
	Trees       []Tree         `json:"trees"`
}

func (f *RandomForest) Classes() []string      { return f.ClassLabels }
func (f *RandomForest) Params() map[string]any { return f.Hyper }

// FeatureImportances returns nil when the artifact carries none.
func (f *RandomForest) FeatureImportances() []float64 { return f.Importances }

func (f *RandomForest) PredictProba(x []float64) ([]float64, error) {
	sum := make([]float64, len(f.ClassLabels))
	for i := range f.Trees {
		value, err := f.Trees[i].leaf(x)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		var total float64
		for _, v := range value {
			total += v
		}
		if total == 0 {
			continue
		}
		for c, v := range value {
			sum[c] += v / total
		}
	}
	n := float64(len(f.Trees))
	for c := range sum {
		sum[c] /= n
	}
	return sum, nil
}

func (f *RandomForest) Predict(x []float64) (string, error) {
	proba, err := f.PredictProba(x)
	if err != nil {
		return "", err
	}
	return f.ClassLabels[argmax(proba)], nil
}

func (f *RandomForest) validate() error {
	if len(f.ClassLabels) == 0 {
		return errors.New("forest has no classes")
	}
	if len(f.Trees) == 0 {
		return errors.New("forest has no trees")
	}
	for i := range f.Trees {
		if err := f.Trees[i].validate(len(f.ClassLabels)); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

// DummyClassifier always predicts from a fixed class prior.
type DummyClassifier struct {
	ClassLabels []string       `json:"classes"`
	Prior       []float64      `json:"prior"`
	Hyper       map[string]any `json:"params,omitempty"`
}

func (d *DummyClassifier) Classes() []string      { return d.ClassLabels }
func (d *DummyClassifier) Params() map[string]any { return d.Hyper }

func (d *DummyClassifier) PredictProba(_ []float64) ([]float64, error) {
	out := make([]float64, len(d.Prior))
	copy(out, d.Prior)
	return out, nil
}

func (d *DummyClassifier) Predict(_ []float64) (string, error) {
	return d.ClassLabels[argmax(d.Prior)], nil
}

func (d *DummyClassifier) validate() error {
	if len(d.ClassLabels) == 0 || len(d.ClassLabels) != len(d.Prior) {
		return fmt.Errorf("dummy classifier has %d classes and %d priors", len(d.ClassLabels), len(d.Prior))
	}
	return nil
}
