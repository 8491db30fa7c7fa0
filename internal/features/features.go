// Package features defines the fixed feature contract of the wine-quality
// model and converts loosely-typed request payloads into feature vectors.
package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// TypeKey is the human-readable wine category accepted in payloads.
	TypeKey = "type"
	// IndicatorKey is the binary category feature the model was trained on.
	IndicatorKey = "type_white"
)

// names is the training order of the model. Reordering it does not raise an
// error anywhere; it silently corrupts every prediction.
var names = []string{
	"fixed acidity",
	"volatile acidity",
	"citric acid",
	"residual sugar",
	"chlorides",
	"free sulfur dioxide",
	"total sulfur dioxide",
	"density",
	"pH",
	"sulphates",
	"alcohol",
	IndicatorKey,
}

// Count is the length of every Vector.
var Count = len(names)

// Names returns a copy of the ordered feature list.
func Names() []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}

var (
	ErrMissingFeature      = errors.New("missing feature")
	ErrInvalidFeatureValue = errors.New("invalid feature value")
)

// MissingFeatureError names a required feature absent from a payload.
type MissingFeatureError struct {
	Name string
}

func (e *MissingFeatureError) Error() string {
	return fmt.Sprintf("missing feature in payload: %q", e.Name)
}

func (e *MissingFeatureError) Is(target error) bool { return target == ErrMissingFeature }

// InvalidFeatureValueError reports a value that cannot be read as a number.
type InvalidFeatureValueError struct {
	Name  string
	Value any
}

func (e *InvalidFeatureValueError) Error() string {
	return fmt.Sprintf("feature %q is not numeric: %v", e.Name, e.Value)
}

func (e *InvalidFeatureValueError) Is(target error) bool { return target == ErrInvalidFeatureValue }

// Vector holds one record's features in contract order.
type Vector []float64

// Map renders the vector keyed by feature name.
func (v Vector) Map() map[string]float64 {
	out := make(map[string]float64, len(v))
	for i, x := range v {
		if i < len(names) {
			out[names[i]] = x
		}
	}
	return out
}

// Normalize validates payload and returns its features in contract order.
// The payload itself is never modified.
func Normalize(payload map[string]any) (Vector, error) {
	data := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		data[k] = v
	}

	if t, ok := data[TypeKey]; ok {
		if _, has := data[IndicatorKey]; !has {
			data[IndicatorKey] = typeIndicator(t)
		}
		delete(data, TypeKey)
	}

	for _, name := range names {
		if _, ok := data[name]; !ok {
			return nil, &MissingFeatureError{Name: name}
		}
	}

	vec := make(Vector, len(names))
	for i, name := range names {
		f, err := toFloat(data[name])
		if err != nil {
			return nil, &InvalidFeatureValueError{Name: name, Value: data[name]}
		}
		vec[i] = f
	}
	return vec, nil
}

func typeIndicator(v any) float64 {
	if v == nil {
		return 0
	}
	if strings.ToLower(strings.TrimSpace(fmt.Sprint(v))) == "white" {
		return 1
	}
	return 0
}

func toFloat(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case bool:
		if x {
			f = 1
		}
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, err
		}
		f = parsed
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("non-finite value")
	}
	return f, nil
}
