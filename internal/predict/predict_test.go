package predict

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kalambet/vinq/internal/features"
	"github.com/kalambet/vinq/internal/model"
	"github.com/kalambet/vinq/internal/model/modeltest"
	"github.com/kalambet/vinq/internal/predlog"
)

var ctx = context.Background()

// countingLoader returns a fresh fixture pipeline on each call.
type countingLoader struct {
	calls atomic.Int32
	err   error
	build func() *model.Pipeline
}

func (c *countingLoader) load(string) (*model.Pipeline, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, &model.LoadError{Path: "test", Err: c.err}
	}
	if c.build != nil {
		return c.build(), nil
	}
	return modeltest.Pipeline(), nil
}

func newTestService(t *testing.T, opts Options) (*Service, *countingLoader) {
	t.Helper()
	cl := &countingLoader{}
	if opts.Path == "" {
		opts.Path = "wine.json"
	}
	if opts.Loader == nil {
		opts.Loader = cl.load
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, cl
}

func approx(a, b []float64) bool {
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

func TestNormalizeOrder(t *testing.T) {
	classes, proba := NormalizeOrder([]string{"high", "low", "medium"}, []float64{0.2, 0.5, 0.3})
	if !reflect.DeepEqual(classes, []string{"low", "medium", "high"}) {
		t.Errorf("classes = %v", classes)
	}
	if !reflect.DeepEqual(proba, []float64{0.5, 0.3, 0.2}) {
		t.Errorf("proba = %v", proba)
	}
}

func TestNormalizeOrder_Idempotent(t *testing.T) {
	c1, p1 := NormalizeOrder([]string{"medium", "high", "low"}, []float64{0.1, 0.6, 0.3})
	c2, p2 := NormalizeOrder(c1, p1)
	if !reflect.DeepEqual(c1, c2) || !reflect.DeepEqual(p1, p2) {
		t.Errorf("not idempotent: (%v %v) then (%v %v)", c1, p1, c2, p2)
	}
}

func TestNormalizeOrder_PassThrough(t *testing.T) {
	tests := []struct {
		name    string
		classes []string
		proba   []float64
	}{
		{"other labels", []string{"3", "4", "5"}, []float64{0.1, 0.2, 0.7}},
		{"partial", []string{"low", "high"}, []float64{0.4, 0.6}},
		{"nil proba", []string{"high", "low", "medium"}, nil},
		{"nil classes", nil, []float64{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, p := NormalizeOrder(tt.classes, tt.proba)
			if !reflect.DeepEqual(c, tt.classes) || !reflect.DeepEqual(p, tt.proba) {
				t.Errorf("got (%v %v), want inputs unchanged", c, p)
			}
		})
	}
}

func TestPredictOne(t *testing.T) {
	log := predlog.New(10, nil)
	s, _ := newTestService(t, Options{Log: log})

	res, err := s.PredictOne(ctx, modeltest.Payload())
	if err != nil {
		t.Fatalf("PredictOne: %v", err)
	}
	if res.Prediction != "low" {
		t.Errorf("Prediction = %q, want low", res.Prediction)
	}
	if !reflect.DeepEqual(res.Classes, []string{"low", "medium", "high"}) {
		t.Errorf("Classes = %v", res.Classes)
	}
	if !approx(res.Proba, []float64{0.55, 0.40, 0.05}) {
		t.Errorf("Proba = %v, want [0.55 0.40 0.05]", res.Proba)
	}
	if !reflect.DeepEqual(res.FeaturesOrder, features.Names()) {
		t.Errorf("FeaturesOrder = %v", res.FeaturesOrder)
	}

	items := log.Items()
	if len(items) != 1 || items[0].Prediction != "low" || items[0].Source != "predict" {
		t.Errorf("log items = %+v", items)
	}
}

func TestPredictOne_SourceFromContext(t *testing.T) {
	log := predlog.New(10, nil)
	s, _ := newTestService(t, Options{Log: log})
	if _, err := s.PredictOne(WithSource(ctx, "mcp"), modeltest.Payload()); err != nil {
		t.Fatalf("PredictOne: %v", err)
	}
	if got := log.Items()[0].Source; got != "mcp" {
		t.Errorf("Source = %q, want mcp", got)
	}
}

func TestPredictOne_ValidationErrors(t *testing.T) {
	log := predlog.New(10, nil)
	s, cl := newTestService(t, Options{Log: log})

	p := modeltest.Payload()
	delete(p, "pH")
	if _, err := s.PredictOne(ctx, p); !errors.Is(err, features.ErrMissingFeature) {
		t.Errorf("err = %v, want ErrMissingFeature", err)
	}

	p = modeltest.Payload()
	p["alcohol"] = "lots"
	if _, err := s.PredictOne(ctx, p); !errors.Is(err, features.ErrInvalidFeatureValue) {
		t.Errorf("err = %v, want ErrInvalidFeatureValue", err)
	}

	if log.Len() != 0 {
		t.Errorf("failed predictions were logged: %d", log.Len())
	}
	if cl.calls.Load() != 0 {
		t.Errorf("model loaded %d times for invalid payloads", cl.calls.Load())
	}
}

func TestPredictOne_LoadError(t *testing.T) {
	s, cl := newTestService(t, Options{})
	cl.err = errors.New("no such file")
	if _, err := s.PredictOne(ctx, modeltest.Payload()); !errors.Is(err, model.ErrLoad) {
		t.Errorf("err = %v, want ErrLoad", err)
	}
}

func TestPredictOne_NoProbabilities(t *testing.T) {
	s, cl := newTestService(t, Options{})
	cl.build = func() *model.Pipeline {
		return &model.Pipeline{Steps: []model.Step{{Name: "clf", Estimator: labelOnly{}}}}
	}
	res, err := s.PredictOne(ctx, modeltest.Payload())
	if err != nil {
		t.Fatalf("PredictOne: %v", err)
	}
	if res.Proba != nil {
		t.Errorf("Proba = %v, want nil", res.Proba)
	}
	if !reflect.DeepEqual(res.Classes, []string{"bad", "good"}) {
		t.Errorf("Classes = %v, want model classes", res.Classes)
	}
}

type labelOnly struct{}

func (labelOnly) Predict([]float64) (string, error) { return "good", nil }
func (labelOnly) Classes() []string                 { return []string{"bad", "good"} }
func (labelOnly) Params() map[string]any            { return nil }

func TestModel_LazySingleLoad(t *testing.T) {
	s, cl := newTestService(t, Options{})
	if s.Loaded() {
		t.Fatal("model loaded before first use")
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Model(ctx); err != nil {
				t.Errorf("Model: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := cl.calls.Load(); got != 1 {
		t.Errorf("loader called %d times, want 1", got)
	}
	if !s.Loaded() {
		t.Error("Loaded() = false after use")
	}
}

func TestReload_FreshInstance(t *testing.T) {
	s, cl := newTestService(t, Options{Path: "/models/wine.json"})
	before, err := s.Model(ctx)
	if err != nil {
		t.Fatalf("Model: %v", err)
	}
	if err := s.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	after, err := s.Model(ctx)
	if err != nil {
		t.Fatalf("Model: %v", err)
	}
	if before == after {
		t.Error("Reload reused the cached pipeline")
	}
	if cl.calls.Load() != 2 {
		t.Errorf("loader called %d times, want 2", cl.calls.Load())
	}

	md, err := s.Describe(ctx)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if md.ModelFile != "/models/wine.json" {
		t.Errorf("ModelFile = %q", md.ModelFile)
	}
}

func TestReload_FailureKeepsPrevious(t *testing.T) {
	s, cl := newTestService(t, Options{})
	before, _ := s.Model(ctx)

	cl.err = errors.New("corrupt")
	if err := s.Reload(ctx); !errors.Is(err, model.ErrLoad) {
		t.Fatalf("Reload err = %v, want ErrLoad", err)
	}
	after, err := s.Model(ctx)
	if err != nil || after != before {
		t.Errorf("previous pipeline not kept: %v, %v", after == before, err)
	}
}

func TestInvalidate(t *testing.T) {
	s, cl := newTestService(t, Options{})
	s.Model(ctx)
	s.Invalidate()
	if s.Loaded() {
		t.Fatal("Loaded() = true after Invalidate")
	}
	s.Model(ctx)
	if cl.calls.Load() != 2 {
		t.Errorf("loader called %d times, want 2", cl.calls.Load())
	}
}

func TestCache_PurgedOnReload(t *testing.T) {
	s, cl := newTestService(t, Options{CacheSize: 8})
	if _, err := s.PredictOne(ctx, modeltest.Payload()); err != nil {
		t.Fatal(err)
	}
	if s.cache.Len() != 1 {
		t.Fatalf("cache len = %d, want 1", s.cache.Len())
	}
	if _, err := s.PredictOne(ctx, modeltest.Payload()); err != nil {
		t.Fatal(err)
	}
	if s.cache.Len() != 1 {
		t.Errorf("identical vector cached twice")
	}

	cl.build = func() *model.Pipeline {
		return &model.Pipeline{Steps: []model.Step{{Name: "dummy", Estimator: &model.DummyClassifier{
			ClassLabels: []string{"high", "low", "medium"}, Prior: []float64{0.7, 0.1, 0.2},
		}}}}
	}
	if err := s.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if s.cache.Len() != 0 {
		t.Errorf("cache not purged on reload")
	}
	res, err := s.PredictOne(ctx, modeltest.Payload())
	if err != nil {
		t.Fatal(err)
	}
	if res.Prediction != "high" {
		t.Errorf("Prediction after reload = %q, want high", res.Prediction)
	}
}

func TestPredictBatch_IsolatesFailures(t *testing.T) {
	log := predlog.New(10, nil)
	s, _ := newTestService(t, Options{Log: log, BatchWorkers: 2})

	missing := modeltest.Payload()
	delete(missing, "density")
	items := []map[string]any{modeltest.Payload(), missing, modeltest.HighPayload()}

	res, err := s.PredictBatch(ctx, items)
	if err != nil {
		t.Fatalf("PredictBatch: %v", err)
	}
	if res.Count != 3 || len(res.Predictions) != 3 || len(res.Proba) != 3 {
		t.Fatalf("result sizes = %d/%d/%d, want 3", res.Count, len(res.Predictions), len(res.Proba))
	}
	if res.Predictions[0] == nil || *res.Predictions[0] != "low" {
		t.Errorf("predictions[0] = %v, want low", res.Predictions[0])
	}
	if res.Predictions[1] != nil || res.Proba[1] != nil {
		t.Errorf("slot 1 = %v/%v, want nil", res.Predictions[1], res.Proba[1])
	}
	if res.Predictions[2] == nil || *res.Predictions[2] != "high" {
		t.Errorf("predictions[2] = %v, want high", res.Predictions[2])
	}
	if !reflect.DeepEqual(res.Classes, CanonicalClasses()) {
		t.Errorf("Classes = %v", res.Classes)
	}
	if log.Len() != 2 {
		t.Errorf("logged %d batch entries, want 2", log.Len())
	}
}

func TestPredictBatch_NilItem(t *testing.T) {
	s, _ := newTestService(t, Options{})
	res, err := s.PredictBatch(ctx, []map[string]any{nil})
	if err != nil {
		t.Fatalf("PredictBatch: %v", err)
	}
	if res.Count != 1 || res.Predictions[0] != nil {
		t.Errorf("result = %+v", res)
	}
}

func TestPredictBatch_LoadError(t *testing.T) {
	s, cl := newTestService(t, Options{})
	cl.err = errors.New("missing")
	if _, err := s.PredictBatch(ctx, []map[string]any{modeltest.Payload()}); !errors.Is(err, model.ErrLoad) {
		t.Errorf("err = %v, want ErrLoad", err)
	}
}

func TestDescribe(t *testing.T) {
	s, _ := newTestService(t, Options{Path: "wine_rf_pipeline.json"})
	md, err := s.Describe(ctx)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if !reflect.DeepEqual(md.PipelineSteps, []string{"scaler", "rf"}) {
		t.Errorf("PipelineSteps = %v", md.PipelineSteps)
	}
	if !reflect.DeepEqual(md.Classes, []string{"high", "low", "medium"}) {
		t.Errorf("Classes = %v", md.Classes)
	}
	want := map[string]any{
		"n_estimators":  2,
		"max_depth":     nil,
		"criterion":     "gini",
		"bootstrap":     true,
		"min_samples":   1.5,
		"class_weight":  `{"high":2,"low":1}`,
		"random_states": `[1,2]`,
	}
	if !reflect.DeepEqual(md.Params, want) {
		t.Errorf("Params = %#v\nwant %#v", md.Params, want)
	}
}

func TestDescribe_NoClassifier(t *testing.T) {
	s, cl := newTestService(t, Options{})
	cl.build = func() *model.Pipeline {
		return &model.Pipeline{Steps: []model.Step{{Name: "scaler", Estimator: modeltest.Scaler()}}}
	}
	md, err := s.Describe(ctx)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if md.Classes != nil || len(md.Params) != 0 {
		t.Errorf("want nil classes and empty params, got %v %v", md.Classes, md.Params)
	}
	if !reflect.DeepEqual(md.PipelineSteps, []string{"scaler"}) {
		t.Errorf("PipelineSteps = %v", md.PipelineSteps)
	}
}

func TestImportances(t *testing.T) {
	s, _ := newTestService(t, Options{})
	rep := s.Importances(ctx)
	if !rep.SupportsImportance {
		t.Fatalf("SupportsImportance = false: %s", rep.Error)
	}
	if len(rep.Importances) != features.Count {
		t.Fatalf("len = %d, want %d", len(rep.Importances), features.Count)
	}
	if rep.Importances[0].Feature != "alcohol" || rep.Importances[1].Feature != "volatile acidity" {
		t.Errorf("top features = %v, %v", rep.Importances[0], rep.Importances[1])
	}
	for i := 1; i < len(rep.Importances); i++ {
		if rep.Importances[i].Importance > rep.Importances[i-1].Importance {
			t.Fatalf("not sorted descending at %d", i)
		}
	}
	// Ties keep feature-contract order.
	if rep.Importances[2].Feature != "fixed acidity" {
		t.Errorf("third = %q, want fixed acidity", rep.Importances[2].Feature)
	}
}

func TestImportances_Unsupported(t *testing.T) {
	s, cl := newTestService(t, Options{})
	cl.build = func() *model.Pipeline {
		return &model.Pipeline{Steps: []model.Step{{Name: "dummy", Estimator: &model.DummyClassifier{
			ClassLabels: []string{"low"}, Prior: []float64{1},
		}}}}
	}
	rep := s.Importances(ctx)
	if rep.SupportsImportance || rep.Error != "" || rep.Importances != nil {
		t.Errorf("report = %+v, want plain unsupported", rep)
	}
}

func TestImportances_LoadError(t *testing.T) {
	s, cl := newTestService(t, Options{})
	cl.err = errors.New("gone")
	rep := s.Importances(ctx)
	if rep.SupportsImportance || rep.Error == "" {
		t.Errorf("report = %+v, want unsupported with error", rep)
	}
}

func TestPrimitive(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{3, 3},
		{2.5, 2.5},
		{"sqrt", "sqrt"},
		{false, false},
		{nil, nil},
		{[]any{"a", 1}, `["a",1]`},
		{map[string]int{"x": 1}, `{"x":1}`},
		{func() {}, "func"},
	}
	for _, tt := range tests {
		got := Primitive(tt.in)
		if s, ok := tt.want.(string); ok && s == "func" {
			if _, isStr := got.(string); !isStr {
				t.Errorf("Primitive(func) = %T, want string", got)
			}
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Primitive(%v) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestNew_RequiresPath(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New without path succeeded")
	}
}

func TestCache_ResultsAreIndependent(t *testing.T) {
	log := predlog.New(10, nil)
	s, _ := newTestService(t, Options{CacheSize: 8, Log: log})

	first, err := s.PredictOne(ctx, modeltest.Payload())
	if err != nil {
		t.Fatal(err)
	}
	want := append([]float64(nil), first.Proba...)
	first.Proba[0] = 99
	first.Classes[0] = "changed"
	first.FeaturesOrder[0] = "changed"

	second, err := s.PredictOne(ctx, modeltest.Payload())
	if err != nil {
		t.Fatal(err)
	}
	if !approx(second.Proba, want) {
		t.Errorf("cached Proba = %v, want %v", second.Proba, want)
	}
	if second.Classes[0] != "low" || second.FeaturesOrder[0] != features.Names()[0] {
		t.Errorf("cached result shares slices with the caller: %v %v", second.Classes, second.FeaturesOrder)
	}

	second.Proba[1] = -1
	for i, e := range log.Items() {
		if !approx(e.Proba, want) || e.Classes[0] != "low" {
			t.Errorf("log entry %d changed by caller: %v %v", i, e.Proba, e.Classes)
		}
	}
}

func TestPredictBatch_LogsInItemOrder(t *testing.T) {
	const n = 20
	log := predlog.New(n, nil)
	s, _ := newTestService(t, Options{Log: log, BatchWorkers: 4})

	items := make([]map[string]any, n)
	for i := range items {
		p := modeltest.Payload()
		p["alcohol"] = 9.0 + float64(i)/10
		items[i] = p
	}
	if _, err := s.PredictBatch(ctx, items); err != nil {
		t.Fatalf("PredictBatch: %v", err)
	}

	entries := log.Items()
	if len(entries) != n {
		t.Fatalf("logged %d entries, want %d", len(entries), n)
	}
	for i, e := range entries {
		if got, want := e.Input["alcohol"], items[i]["alcohol"]; got != want {
			t.Errorf("entry %d alcohol = %v, want %v", i, got, want)
		}
		if e.Source != "batch" {
			t.Errorf("entry %d source = %q", i, e.Source)
		}
	}
}

func TestInvalidate_DuringLoad(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	s, err := New(Options{
		Path: "wine.json",
		Loader: func(string) (*model.Pipeline, error) {
			if calls.Add(1) == 1 {
				close(started)
				<-release
			}
			return modeltest.Pipeline(), nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Model(ctx)
		done <- err
	}()
	<-started
	s.Invalidate()
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Model: %v", err)
	}

	if s.Loaded() {
		t.Error("pipeline loaded before Invalidate was cached")
	}
	if _, err := s.Model(ctx); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 || !s.Loaded() {
		t.Errorf("loader calls = %d, loaded = %v; want a fresh cached load", calls.Load(), s.Loaded())
	}
}
