package predict

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/kalambet/vinq/internal/features"
	"github.com/kalambet/vinq/internal/model"
)

// Metadata describes the loaded pipeline.
type Metadata struct {
	ModelFile     string         `json:"model_file"`
	PipelineSteps []string       `json:"pipeline_steps"`
	Classes       []string       `json:"classes"`
	Params        map[string]any `json:"params"`
}

// FeatureImportance pairs a feature name with its importance.
type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// ImportanceReport is the result of Importances.
type ImportanceReport struct {
	SupportsImportance bool                `json:"supports_importance"`
	Importances        []FeatureImportance `json:"importances,omitempty"`
	Error              string              `json:"error,omitempty"`
}

// Describe reports the pipeline composition, trained classes and classifier
// hyperparameters. Only a model load failure is returned as an error; if the
// classifier cannot be introspected, params are empty and classes nil.
func (s *Service) Describe(ctx context.Context) (Metadata, error) {
	p, err := s.Model(ctx)
	if err != nil {
		return Metadata{}, err
	}
	md := Metadata{
		ModelFile:     s.path,
		PipelineSteps: p.StepNames(),
		Params:        map[string]any{},
	}
	c, err := p.Classifier()
	if err != nil {
		s.logger.Debug("classifier introspection failed", "error", err)
		return md, nil
	}
	if len(c.Classes()) > 0 {
		md.Classes = append([]string(nil), c.Classes()...)
	}
	for k, v := range c.Params() {
		md.Params[k] = Primitive(v)
	}
	return md, nil
}

// Importances returns the classifier's feature importances sorted from most
// to least important. It never fails; problems are reported in the result.
func (s *Service) Importances(ctx context.Context) ImportanceReport {
	p, err := s.Model(ctx)
	if err != nil {
		return ImportanceReport{Error: err.Error()}
	}
	c, err := p.Classifier()
	if err != nil {
		return ImportanceReport{Error: err.Error()}
	}
	ir, ok := c.(model.ImportanceReporter)
	if !ok || ir.FeatureImportances() == nil {
		return ImportanceReport{}
	}

	names := features.Names()
	imp := ir.FeatureImportances()
	n := min(len(names), len(imp))
	out := make([]FeatureImportance, n)
	for i := 0; i < n; i++ {
		out[i] = FeatureImportance{Feature: names[i], Importance: imp[i]}
	}
	slices.SortStableFunc(out, func(a, b FeatureImportance) int {
		return cmp.Compare(b.Importance, a.Importance)
	})
	return ImportanceReport{SupportsImportance: true, Importances: out}
}

// Primitive returns v unchanged when it is a number, string, bool or nil,
// and a string rendering of it otherwise.
func Primitive(v any) any {
	switch v.(type) {
	case nil, bool, string, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprint(v)
}
