// Package modeltest provides small hand-built pipelines for tests.
package modeltest

import (
	"path/filepath"
	"testing"

	"github.com/kalambet/vinq/internal/model"
)

// Indexes of the features the fixture trees split on.
const (
	VolatileAcidity = 1
	Alcohol         = 10
)

// Forest returns a two-tree forest over 12 features with classes in the
// alphabetical order a trained model reports them: high, low, medium.
//
// With the scaler from Pipeline, alcohol 9.4 / volatile acidity 0.7
// predicts "low" with proba [0.05 0.55 0.40]; alcohol 12.8 / volatile
// acidity 0.3 predicts "high" with proba [0.65 0.05 0.30].
func Forest() *model.RandomForest {
	importances := make([]float64, 12)
	for i := range importances {
		importances[i] = 0.02
	}
	importances[Alcohol] = 0.5
	importances[VolatileAcidity] = 0.3

	return &model.RandomForest{
		ClassLabels: []string{"high", "low", "medium"},
		Hyper: map[string]any{
			"n_estimators":  2,
			"max_depth":     nil,
			"criterion":     "gini",
			"bootstrap":     true,
			"min_samples":   1.5,
			"class_weight":  map[string]any{"low": 1, "high": 2},
			"random_states": []any{1, 2},
		},
		Importances: importances,
		Trees: []model.Tree{
			{Nodes: []model.Node{
				{Feature: Alcohol, Threshold: 0, Left: 1, Right: 2},
				{Leaf: true, Value: []float64{0, 6, 4}},
				{Feature: VolatileAcidity, Threshold: 0.4, Left: 3, Right: 4},
				{Leaf: true, Value: []float64{7, 0, 3}},
				{Leaf: true, Value: []float64{1, 2, 7}},
			}},
			{Nodes: []model.Node{
				{Feature: Alcohol, Threshold: 1, Left: 1, Right: 2},
				{Leaf: true, Value: []float64{1, 5, 4}},
				{Leaf: true, Value: []float64{6, 1, 3}},
			}},
		},
	}
}

// Scaler centers alcohol on 10.5 with scale 1.2 and leaves other features
// untouched.
func Scaler() *model.StandardScaler {
	mean := make([]float64, 12)
	scale := make([]float64, 12)
	for i := range scale {
		scale[i] = 1
	}
	mean[Alcohol] = 10.5
	scale[Alcohol] = 1.2
	return &model.StandardScaler{Mean: mean, Scale: scale}
}

// Pipeline returns scaler + forest under the step names "scaler" and "rf".
func Pipeline() *model.Pipeline {
	return &model.Pipeline{Steps: []model.Step{
		{Name: "scaler", Estimator: Scaler()},
		{Name: "rf", Estimator: Forest()},
	}}
}

// WriteArtifact saves p into a temp dir and returns the file path.
func WriteArtifact(t testing.TB, name string, p *model.Pipeline) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := model.Save(path, p); err != nil {
		t.Fatalf("saving fixture artifact: %v", err)
	}
	return path
}

// Payload returns a request payload matching the "low" example above.
func Payload() map[string]any {
	return map[string]any{
		"fixed acidity":        7.4,
		"volatile acidity":     0.7,
		"citric acid":          0.0,
		"residual sugar":       1.9,
		"chlorides":            0.076,
		"free sulfur dioxide":  11.0,
		"total sulfur dioxide": 34.0,
		"density":              0.9978,
		"pH":                   3.51,
		"sulphates":            0.56,
		"alcohol":              9.4,
		"type":                 "red",
	}
}

// HighPayload returns a request payload matching the "high" example above.
func HighPayload() map[string]any {
	p := Payload()
	p["alcohol"] = 12.8
	p["volatile acidity"] = 0.3
	p["type"] = "white"
	return p
}
