package model_test

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/vinq/internal/model"
	"github.com/kalambet/vinq/internal/model/modeltest"
)

func row(alcohol, volatile float64) []float64 {
	x := make([]float64, 12)
	x[modeltest.Alcohol] = alcohol
	x[modeltest.VolatileAcidity] = volatile
	return x
}

func approxEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-9 {
			return false
		}
	}
	return true
}

func TestPipeline_PredictAndProba(t *testing.T) {
	p := modeltest.Pipeline()

	tests := []struct {
		alcohol, volatile float64
		label             string
		proba             []float64
	}{
		{9.4, 0.7, "low", []float64{0.05, 0.55, 0.40}},
		{12.8, 0.3, "high", []float64{0.65, 0.05, 0.30}},
		{11.0, 0.9, "medium", []float64{0.10, 0.35, 0.55}},
	}
	for _, tt := range tests {
		x := row(tt.alcohol, tt.volatile)
		label, err := p.Predict(x)
		if err != nil {
			t.Fatalf("Predict: %v", err)
		}
		if label != tt.label {
			t.Errorf("Predict(alcohol=%v) = %q, want %q", tt.alcohol, label, tt.label)
		}
		proba, ok, err := p.PredictProba(x)
		if err != nil || !ok {
			t.Fatalf("PredictProba: ok=%v err=%v", ok, err)
		}
		if !approxEqual(proba, tt.proba) {
			t.Errorf("PredictProba(alcohol=%v) = %v, want %v", tt.alcohol, proba, tt.proba)
		}
	}
}

func TestPipeline_StepNames(t *testing.T) {
	p := modeltest.Pipeline()
	got := strings.Join(p.StepNames(), ",")
	if got != "scaler,rf" {
		t.Errorf("StepNames = %q, want scaler,rf", got)
	}
	if _, ok := p.Named("rf"); !ok {
		t.Error("Named(rf) not found")
	}
}

func TestPipeline_NotClassifier(t *testing.T) {
	p := &model.Pipeline{Steps: []model.Step{{Name: "scaler", Estimator: modeltest.Scaler()}}}
	if _, err := p.Predict(row(10, 0.5)); !errors.Is(err, model.ErrNotClassifier) {
		t.Errorf("err = %v, want ErrNotClassifier", err)
	}
}

func TestScaler_ZeroScale(t *testing.T) {
	s := &model.StandardScaler{Mean: []float64{1, 2}, Scale: []float64{0, 2}}
	out, err := s.Transform([]float64{3, 6})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if !approxEqual(out, []float64{2, 2}) {
		t.Errorf("Transform = %v, want [2 2]", out)
	}
	if _, err := s.Transform([]float64{1}); err == nil {
		t.Error("expected length mismatch error")
	}
}

func TestDummyClassifier(t *testing.T) {
	d := &model.DummyClassifier{ClassLabels: []string{"a", "b"}, Prior: []float64{0.3, 0.7}}
	label, err := d.Predict(nil)
	if err != nil || label != "b" {
		t.Errorf("Predict = %q, %v; want b", label, err)
	}
}

func TestSaveLoad(t *testing.T) {
	for _, name := range []string{"pipeline.json", "pipeline.json.gz"} {
		t.Run(name, func(t *testing.T) {
			path := modeltest.WriteArtifact(t, name, modeltest.Pipeline())
			p, err := model.Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			label, err := p.Predict(row(12.8, 0.3))
			if err != nil || label != "high" {
				t.Errorf("Predict after load = %q, %v; want high", label, err)
			}
			rf, _ := p.Named("rf")
			forest, ok := rf.(*model.RandomForest)
			if !ok {
				t.Fatalf("rf step is %T", rf)
			}
			if len(forest.FeatureImportances()) != 12 {
				t.Errorf("importances = %d, want 12", len(forest.FeatureImportances()))
			}
			if forest.Params()["criterion"] != "gini" {
				t.Errorf("params = %v", forest.Params())
			}
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	cases := map[string]string{
		"missing":  filepath.Join(dir, "nope.json"),
		"garbage":  write("garbage.json", "not json"),
		"format":   write("format.json", `{"format":"other","steps":[]}`),
		"no steps": write("empty.json", `{"format":"vinq-pipeline/v1","steps":[]}`),
		"kind":     write("kind.json", `{"format":"vinq-pipeline/v1","steps":[{"name":"x","kind":"svm"}]}`),
		"no clf":   write("noclf.json", `{"format":"vinq-pipeline/v1","steps":[{"name":"s","kind":"standard_scaler","mean":[0],"scale":[1]}]}`),
		"bad tree": write("tree.json", `{"format":"vinq-pipeline/v1","steps":[{"name":"rf","kind":"random_forest","classes":["a"],"trees":[{"nodes":[{"feature":0,"left":5,"right":6}]}]}]}`),
		"bad gzip": write("bad.json.gz", "plain"),
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := model.Load(path)
			if !errors.Is(err, model.ErrLoad) {
				t.Fatalf("err = %v, want ErrLoad", err)
			}
			var le *model.LoadError
			if !errors.As(err, &le) || le.Path != path {
				t.Errorf("LoadError path = %v, want %s", le, path)
			}
		})
	}
}
