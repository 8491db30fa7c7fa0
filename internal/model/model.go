// Package model implements the serialized scaler + classifier pipeline the
// service predicts with, and the artifact format it is stored in.
package model

import (
	"errors"
	"fmt"
)

// Transformer is a preprocessing stage.
type Transformer interface {
	Transform(x []float64) ([]float64, error)
}

// Classifier is the final stage of a pipeline.
type Classifier interface {
	Predict(x []float64) (string, error)
	Classes() []string
	Params() map[string]any
}

// ProbabilisticClassifier can estimate per-class probabilities, ordered as
// Classes().
type ProbabilisticClassifier interface {
	Classifier
	PredictProba(x []float64) ([]float64, error)
}

// ImportanceReporter exposes per-feature importances in training order.
type ImportanceReporter interface {
	FeatureImportances() []float64
}

// Step is one named stage of a pipeline.
type Step struct {
	Name      string
	Estimator any
}

// Pipeline runs its transformer steps in order and classifies with the last
// step. A loaded Pipeline is never mutated.
type Pipeline struct {
	Steps []Step
}

// ErrNotClassifier is returned when the final step cannot classify.
var ErrNotClassifier = errors.New("final pipeline step is not a classifier")

// StepNames returns the step names in order.
func (p *Pipeline) StepNames() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Name
	}
	return out
}

// Named returns the estimator of the step called name.
func (p *Pipeline) Named(name string) (any, bool) {
	for _, s := range p.Steps {
		if s.Name == name {
			return s.Estimator, true
		}
	}
	return nil, false
}

// Classifier returns the final step as a Classifier.
func (p *Pipeline) Classifier() (Classifier, error) {
	if len(p.Steps) == 0 {
		return nil, ErrNotClassifier
	}
	c, ok := p.Steps[len(p.Steps)-1].Estimator.(Classifier)
	if !ok {
		return nil, ErrNotClassifier
	}
	return c, nil
}

func (p *Pipeline) transform(x []float64) ([]float64, error) {
	out := x
	for _, s := range p.Steps[:len(p.Steps)-1] {
		t, ok := s.Estimator.(Transformer)
		if !ok {
			return nil, fmt.Errorf("step %q is not a transformer", s.Name)
		}
		var err error
		if out, err = t.Transform(out); err != nil {
			return nil, fmt.Errorf("step %q: %w", s.Name, err)
		}
	}
	return out, nil
}

// Predict returns the predicted label for a single row.
func (p *Pipeline) Predict(x []float64) (string, error) {
	c, err := p.Classifier()
	if err != nil {
		return "", err
	}
	xt, err := p.transform(x)
	if err != nil {
		return "", err
	}
	return c.Predict(xt)
}

// PredictProba returns class probabilities for a single row. ok is false
// when the classifier does not estimate probabilities.
func (p *Pipeline) PredictProba(x []float64) (proba []float64, ok bool, err error) {
	c, err := p.Classifier()
	if err != nil {
		return nil, false, err
	}
	pc, ok := c.(ProbabilisticClassifier)
	if !ok {
		return nil, false, nil
	}
	xt, err := p.transform(x)
	if err != nil {
		return nil, true, err
	}
	proba, err = pc.PredictProba(xt)
	return proba, true, err
}

// argmax returns the index of the first maximum.
func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
