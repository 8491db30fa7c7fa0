package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Format identifies the artifact layout written by Save.
const Format = "vinq-pipeline/v1"

const (
	KindStandardScaler  = "standard_scaler"
	KindRandomForest    = "random_forest"
	KindDummyClassifier = "dummy_classifier"
)

// ErrLoad matches every *LoadError.
var ErrLoad = errors.New("model load error")

// LoadError reports an artifact that could not be read or is malformed.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading model %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrLoad }

type artifact struct {
	Format string     `json:"format"`
	Steps  []stepJSON `json:"steps"`
}

type stepJSON struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	// Body holds the estimator fields inline with name and kind.
	Body json.RawMessage `json:"-"`
}

func (s *stepJSON) UnmarshalJSON(data []byte) error {
	var head struct {
		Name string `json:"name"`
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	s.Name, s.Kind, s.Body = head.Name, head.Kind, append(json.RawMessage(nil), data...)
	return nil
}

// Load reads a pipeline artifact. Paths ending in .gz are gunzipped first.
func Load(path string) (*Pipeline, error) {
	data, err := readArtifact(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	p, err := Decode(data)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return p, nil
}

func readArtifact(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer zr.Close()
		r = zr
	}
	return io.ReadAll(r)
}

// Decode parses and validates an artifact document.
func Decode(data []byte) (*Pipeline, error) {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decoding artifact: %w", err)
	}
	if a.Format != Format {
		return nil, fmt.Errorf("unsupported artifact format %q", a.Format)
	}
	if len(a.Steps) == 0 {
		return nil, errors.New("artifact has no steps")
	}

	p := &Pipeline{Steps: make([]Step, 0, len(a.Steps))}
	for i, s := range a.Steps {
		if s.Name == "" {
			return nil, fmt.Errorf("step %d has no name", i)
		}
		est, err := decodeEstimator(s)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", s.Name, err)
		}
		p.Steps = append(p.Steps, Step{Name: s.Name, Estimator: est})
	}
	if _, err := p.Classifier(); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeEstimator(s stepJSON) (any, error) {
	switch s.Kind {
	case KindStandardScaler:
		var sc StandardScaler
		if err := json.Unmarshal(s.Body, &sc); err != nil {
			return nil, err
		}
		return &sc, sc.validate()
	case KindRandomForest:
		var rf RandomForest
		if err := json.Unmarshal(s.Body, &rf); err != nil {
			return nil, err
		}
		return &rf, rf.validate()
	case KindDummyClassifier:
		var d DummyClassifier
		if err := json.Unmarshal(s.Body, &d); err != nil {
			return nil, err
		}
		return &d, d.validate()
	default:
		return nil, fmt.Errorf("unknown step kind %q", s.Kind)
	}
}

// Encode renders p in the artifact format.
func Encode(p *Pipeline) ([]byte, error) {
	steps := make([]json.RawMessage, 0, len(p.Steps))
	for _, s := range p.Steps {
		kind, err := kindOf(s.Estimator)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", s.Name, err)
		}
		body, err := json.Marshal(s.Estimator)
		if err != nil {
			return nil, err
		}
		head, err := json.Marshal(map[string]string{"name": s.Name, "kind": kind})
		if err != nil {
			return nil, err
		}
		steps = append(steps, mergeObjects(head, body))
	}
	return json.MarshalIndent(struct {
		Format string            `json:"format"`
		Steps  []json.RawMessage `json:"steps"`
	}{Format, steps}, "", "  ")
}

// Save writes p to path, gzip-compressed when path ends in .gz.
func Save(path string, p *Pipeline) error {
	data, err := Encode(p)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(path, ".gz") {
		return os.WriteFile(path, data, 0o644)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func kindOf(est any) (string, error) {
	switch est.(type) {
	case *StandardScaler:
		return KindStandardScaler, nil
	case *RandomForest:
		return KindRandomForest, nil
	case *DummyClassifier:
		return KindDummyClassifier, nil
	default:
		return "", fmt.Errorf("unsupported estimator %T", est)
	}
}

// mergeObjects joins two JSON objects; a is known to be non-empty.
func mergeObjects(a, b []byte) json.RawMessage {
	b = bytes.TrimSpace(b)
	if len(b) <= 2 {
		return a
	}
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a[:len(a)-1]...)
	out = append(out, ',')
	out = append(out, b[1:]...)
	return out
}
