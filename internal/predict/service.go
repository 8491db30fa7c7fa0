// Package predict turns request payloads into wine-quality predictions using
// a lazily loaded, hot-reloadable model pipeline.
package predict

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kalambet/vinq/internal/features"
	"github.com/kalambet/vinq/internal/model"
	"github.com/kalambet/vinq/internal/predlog"
)

const defaultBatchWorkers = 4

// Recorder stores successful predictions.
type Recorder interface {
	Append(e predlog.Entry) predlog.Entry
}

// Options configures a Service.
type Options struct {
	// Path is the model artifact location. Required.
	Path string
	// Loader reads the artifact; defaults to model.Load.
	Loader func(path string) (*model.Pipeline, error)
	// BatchWorkers bounds concurrent item predictions in a batch.
	BatchWorkers int
	// CacheSize is the number of cached results; 0 disables caching.
	CacheSize int
	// Log records successful predictions; optional.
	Log    Recorder
	Logger *slog.Logger
}

// Result is the outcome of one prediction.
type Result struct {
	Prediction    string    `json:"prediction"`
	Proba         []float64 `json:"proba"`
	Classes       []string  `json:"classes"`
	FeaturesOrder []string  `json:"features_order"`
}

// BatchResult holds one slot per input item; failed items are nil.
type BatchResult struct {
	Count       int         `json:"count"`
	Predictions []*string   `json:"predictions"`
	Proba       [][]float64 `json:"proba"`
	Classes     []string    `json:"classes"`
}

func (r Result) clone() Result {
	r.Proba = slices.Clone(r.Proba)
	r.Classes = slices.Clone(r.Classes)
	r.FeaturesOrder = slices.Clone(r.FeaturesOrder)
	return r
}

// loaded is an immutable snapshot of a pipeline and its load generation.
type loaded struct {
	pipeline *model.Pipeline
	gen      uint64
}

// Service owns the shared model handle. Readers see either the previous or
// the next fully loaded pipeline; reloads never mutate one in place.
type Service struct {
	path    string
	loader  func(string) (*model.Pipeline, error)
	workers int
	log     Recorder
	logger  *slog.Logger

	current atomic.Pointer[loaded]
	gen     atomic.Uint64
	group   singleflight.Group
	cache   *lru.Cache[string, Result]

	// mu serializes writes to current. epoch counts invalidations; a lazy
	// load started in an older epoch is not installed.
	mu    sync.Mutex
	epoch uint64
}

// New creates a Service. The model is not loaded until first use.
func New(opts Options) (*Service, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("model path is required")
	}
	s := &Service{
		path:    opts.Path,
		loader:  opts.Loader,
		workers: opts.BatchWorkers,
		log:     opts.Log,
		logger:  opts.Logger,
	}
	if s.loader == nil {
		s.loader = model.Load
	}
	if s.workers <= 0 {
		s.workers = defaultBatchWorkers
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if opts.CacheSize > 0 {
		c, err := lru.New[string, Result](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating prediction cache: %w", err)
		}
		s.cache = c
	}
	return s, nil
}

// Path returns the configured artifact location.
func (s *Service) Path() string { return s.path }

// Loaded reports whether a pipeline is currently cached.
func (s *Service) Loaded() bool { return s.current.Load() != nil }

// Model returns the cached pipeline, loading it on first use. Concurrent
// first callers share a single load.
func (s *Service) Model(ctx context.Context) (*model.Pipeline, error) {
	l, err := s.get(ctx)
	if err != nil {
		return nil, err
	}
	return l.pipeline, nil
}

func (s *Service) get(ctx context.Context) (*loaded, error) {
	if l := s.current.Load(); l != nil {
		return l, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	v, err, _ := s.group.Do("load-"+strconv.FormatUint(epoch, 10), func() (any, error) {
		if l := s.current.Load(); l != nil {
			return l, nil
		}
		l, err := s.load()
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.epoch != epoch {
			// Invalidated while loading: serve this pipeline to the waiting
			// callers but leave the handle empty.
			return l, nil
		}
		// A concurrent Reload may have stored a newer pipeline meanwhile.
		if cur := s.current.Load(); cur != nil {
			return cur, nil
		}
		s.current.Store(l)
		return l, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*loaded), nil
}

func (s *Service) load() (*loaded, error) {
	p, err := s.loader(s.path)
	if err != nil {
		s.logger.Error("model load failed", "path", s.path, "error", err)
		return nil, err
	}
	l := &loaded{pipeline: p, gen: s.gen.Add(1)}
	if c, err := p.Classifier(); err == nil && !coversCanonical(classIndex(c.Classes())) {
		s.logger.Warn("model classes do not cover the canonical label order; probabilities are returned in model order",
			"classes", c.Classes(), "canonical", canonical)
	}
	s.logger.Info("model loaded", "path", s.path, "steps", p.StepNames(), "generation", l.gen)
	return l, nil
}

// Invalidate drops the cached pipeline; the next use loads it again. A lazy
// load already in flight is not cached.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.epoch++
	s.current.Store(nil)
	s.mu.Unlock()
	s.purgeCache()
}

// Reload loads a fresh pipeline from the configured path and swaps it in.
// On failure the previous pipeline keeps serving and the error is returned.
func (s *Service) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l, err := s.load()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.current.Store(l)
	s.mu.Unlock()
	s.purgeCache()
	return nil
}

func (s *Service) purgeCache() {
	if s.cache != nil {
		s.cache.Purge()
	}
}

type sourceKey struct{}

// WithSource labels predictions made with ctx in the prediction log.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context, fallback string) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return fallback
}

// PredictOne validates payload and predicts its quality label.
func (s *Service) PredictOne(ctx context.Context, payload map[string]any) (Result, error) {
	vec, err := features.Normalize(payload)
	if err != nil {
		return Result{}, err
	}
	l, err := s.get(ctx)
	if err != nil {
		return Result{}, err
	}
	res, err := s.predictVector(l, vec)
	if err != nil {
		return Result{}, err
	}
	s.record(sourceFrom(ctx, "predict"), res, payload)
	return res, nil
}

// PredictBatch predicts every item independently. An item that fails
// validation or prediction leaves a nil slot; only a model load failure or
// context cancellation fails the whole call.
func (s *Service) PredictBatch(ctx context.Context, items []map[string]any) (BatchResult, error) {
	l, err := s.get(ctx)
	if err != nil {
		return BatchResult{}, err
	}

	out := BatchResult{
		Count:       len(items),
		Predictions: make([]*string, len(items)),
		Proba:       make([][]float64, len(items)),
		Classes:     CanonicalClasses(),
	}
	source := sourceFrom(ctx, "batch")
	results := make([]*Result, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vec, err := features.Normalize(item)
			if err != nil {
				s.logger.Debug("batch item rejected", "index", i, "error", err)
				return nil
			}
			res, err := s.predictVector(l, vec)
			if err != nil {
				s.logger.Warn("batch item prediction failed", "index", i, "features", vec.Map(), "error", err)
				return nil
			}
			label := res.Prediction
			out.Predictions[i] = &label
			out.Proba[i] = res.Proba
			results[i] = &res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}
	// Logged after the pool drains so entries follow item order.
	for i, res := range results {
		if res != nil {
			s.record(source, *res, items[i])
		}
	}
	return out, nil
}

func (s *Service) predictVector(l *loaded, vec features.Vector) (Result, error) {
	key := ""
	if s.cache != nil {
		key = cacheKey(l.gen, vec)
		if res, ok := s.cache.Get(key); ok {
			return res.clone(), nil
		}
	}

	label, err := l.pipeline.Predict(vec)
	if err != nil {
		return Result{}, fmt.Errorf("predicting: %w", err)
	}
	proba, ok, err := l.pipeline.PredictProba(vec)
	if err != nil {
		return Result{}, fmt.Errorf("estimating probabilities: %w", err)
	}

	var classes []string
	if c, err := l.pipeline.Classifier(); err == nil && len(c.Classes()) > 0 {
		classes = append([]string(nil), c.Classes()...)
	}
	if !ok {
		proba = nil
	}
	classes, proba = NormalizeOrder(classes, proba)

	res := Result{
		Prediction:    label,
		Proba:         proba,
		Classes:       classes,
		FeaturesOrder: features.Names(),
	}
	if s.cache != nil {
		s.cache.Add(key, res.clone())
	}
	return res, nil
}

func (s *Service) record(source string, res Result, input map[string]any) {
	if s.log == nil {
		return
	}
	s.log.Append(predlog.Entry{
		Source:     source,
		Prediction: res.Prediction,
		Proba:      slices.Clone(res.Proba),
		Classes:    slices.Clone(res.Classes),
		Input:      input,
	})
}

func cacheKey(gen uint64, vec features.Vector) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(gen, 10))
	for _, x := range vec {
		b.WriteByte('|')
		b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	}
	return b.String()
}
