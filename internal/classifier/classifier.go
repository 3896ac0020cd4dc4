package classifier

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/kinga-app/kinga/internal/conf"
	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/logger"
)

// Result is the top class of one classification.
type Result struct {
	Label      string
	Index      int
	Confidence float64 // percent, 0-100
}

// Observer receives the duration and outcome of every backend run.
type Observer interface {
	ObserveInference(backend string, took time.Duration, err error)
}

// Options configures a Classifier.
type Options struct {
	// ApplySoftmax converts raw logits into probabilities. Disable it for
	// models that already end in a softmax layer.
	ApplySoftmax bool
	Observer     Observer
	// ModelPath is used in error context only.
	ModelPath string
}

// Classifier is read-only after construction and safe for concurrent use.
type Classifier struct {
	backend Backend
	labels  []string
	spec    InputSpec
	opts    Options
}

// New wraps backend. It fails when the label count differs from the model
// output size or the model input is not an RGB image tensor.
func New(backend Backend, labels []string, opts Options) (*Classifier, error) {
	if err := validateLabels(labels, backend.OutputSize(), opts.ModelPath); err != nil {
		return nil, err
	}
	spec, err := InputSpecFromShape(backend.InputShape())
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryModelInit).
			Context("model_path", opts.ModelPath).
			Build()
	}
	return &Classifier{
		backend: backend,
		labels:  slices.Clone(labels),
		spec:    spec,
		opts:    opts,
	}, nil
}

// Load opens the model and labels named by cfg.
func Load(cfg *conf.ClassifierSettings, observer Observer) (*Classifier, error) {
	labels, err := LoadLabels(cfg.LabelPath)
	if err != nil {
		return nil, err
	}
	backend, err := OpenBackend(cfg)
	if err != nil {
		return nil, err
	}
	c, err := New(backend, labels, Options{
		ApplySoftmax: cfg.ApplySoftmax,
		Observer:     observer,
		ModelPath:    cfg.ModelPath,
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	GetLogger().Info("classifier ready",
		logger.String("backend", backend.Name()),
		logger.Int("labels", len(labels)),
		logger.String("layout", c.spec.Layout.String()),
		logger.Int("width", c.spec.Width),
		logger.Int("height", c.spec.Height))
	return c, nil
}

// Classify returns the most likely class of the image in data.
// Errors wrap ErrDecode for unreadable images and ErrInference for model failures.
func (c *Classifier) Classify(ctx context.Context, data []byte) (Result, error) {
	scores, err := c.Scores(ctx, data)
	if err != nil {
		return Result{}, err
	}
	idx := argmax(scores)
	top := float64(scores[idx])
	if math.IsNaN(top) || math.IsInf(top, 0) {
		return Result{}, errors.New(fmt.Errorf("%w: model returned non-finite score %v", ErrInference, top)).
			Component("classifier").
			Category(errors.CategoryProcessing).
			Context("backend", c.backend.Name()).
			Build()
	}
	return Result{
		Label:      c.labels[idx],
		Index:      idx,
		Confidence: top * 100,
	}, nil
}

// TopK returns the k most likely classes, best first.
func (c *Classifier) TopK(ctx context.Context, data []byte, k int) ([]Result, error) {
	scores, err := c.Scores(ctx, data)
	if err != nil {
		return nil, err
	}
	return topK(scores, c.labels, k), nil
}

// Scores returns one score per label: probabilities when softmax is enabled,
// otherwise the raw model output.
func (c *Classifier) Scores(ctx context.Context, data []byte) ([]float32, error) {
	input, err := Preprocess(data, c.spec)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := c.backend.Run(ctx, input)
	took := time.Since(start)
	if c.opts.Observer != nil {
		c.opts.Observer.ObserveInference(c.backend.Name(), took, err)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.New(fmt.Errorf("%w: %w", ErrInference, err)).
			Component("classifier").
			Category(errors.CategoryProcessing).
			Context("backend", c.backend.Name()).
			Timing("inference", took).
			Build()
	}
	if len(out) != len(c.labels) {
		return nil, errors.New(fmt.Errorf("%w: model returned %d scores for %d labels", ErrInference, len(out), len(c.labels))).
			Component("classifier").
			Category(errors.CategoryProcessing).
			Build()
	}

	GetLogger().Debug("inference complete",
		logger.String("backend", c.backend.Name()),
		logger.Duration("took", took))

	if c.opts.ApplySoftmax {
		return softmax(out), nil
	}
	return out, nil
}

// Labels returns a copy of the label table.
func (c *Classifier) Labels() []string {
	return slices.Clone(c.labels)
}

// BackendName returns the name of the model backend.
func (c *Classifier) BackendName() string {
	return c.backend.Name()
}

// Close releases the backend.
func (c *Classifier) Close() error {
	return c.backend.Close()
}

// softmax is computed with max subtraction so large logits do not overflow.
func softmax(logits []float32) []float32 {
	maxLogit := float32(math.Inf(-1))
	for _, v := range logits {
		maxLogit = max(maxLogit, v)
	}

	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxLogit))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

// argmax returns the index of the largest score; the first index wins ties
// and NaN never wins.
func argmax(scores []float32) int {
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] || math.IsNaN(float64(scores[best])) {
			best = i
		}
	}
	return best
}

func topK(scores []float32, labels []string, k int) []Result {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})

	k = min(max(k, 0), len(idx))
	results := make([]Result, k)
	for i := range k {
		j := idx[i]
		results[i] = Result{Label: labels[j], Index: j, Confidence: float64(scores[j]) * 100}
	}
	return results
}
