package classifier

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinga-app/kinga/internal/errors"
)

type fakeBackend struct {
	shape  []int
	output []float32
	err    error

	mu     sync.Mutex
	calls  int
	inputs [][]float32
	closed bool
}

func (f *fakeBackend) Run(_ context.Context, input []float32) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	return append([]float32(nil), f.output...), nil
}

func (f *fakeBackend) InputShape() []int { return f.shape }
func (f *fakeBackend) OutputSize() int   { return len(f.output) }
func (f *fakeBackend) Name() string      { return "fake" }
func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

type recordingObserver struct {
	backend string
	err     error
	calls   int
}

func (o *recordingObserver) ObserveInference(backend string, _ time.Duration, err error) {
	o.backend = backend
	o.err = err
	o.calls++
}

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

var threeLabels = []string{"Aphids", "Fall Armyworm", "Locust"}

func newTestClassifier(t *testing.T, b *fakeBackend, softmax bool, obs Observer) *Classifier {
	t.Helper()
	c, err := New(b, threeLabels, Options{ApplySoftmax: softmax, Observer: obs})
	require.NoError(t, err)
	return c
}

func TestNewRejectsLabelMismatch(t *testing.T) {
	b := &fakeBackend{shape: []int{1, 3, 8, 8}, output: []float32{0, 0}}
	_, err := New(b, threeLabels, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "label count mismatch: model expects 2 classes but label file has 3 labels")
}

func TestNewRejectsNonImageInput(t *testing.T) {
	b := &fakeBackend{shape: []int{1, 10}, output: []float32{0, 0, 0}}
	_, err := New(b, threeLabels, Options{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelInit))
}

func TestClassifySoftmax(t *testing.T) {
	b := &fakeBackend{shape: []int{1, 3, 8, 8}, output: []float32{1, 3, 2}}
	obs := &recordingObserver{}
	c := newTestClassifier(t, b, true, obs)

	res, err := c.Classify(t.Context(), pngBytes(t, 16, 16, color.White))
	require.NoError(t, err)

	want := 100 / (math.Exp(-2) + 1 + math.Exp(-1))
	assert.Equal(t, "Fall Armyworm", res.Label)
	assert.Equal(t, 1, res.Index)
	assert.InDelta(t, want, res.Confidence, 1e-3)

	require.Len(t, b.inputs, 1)
	assert.Len(t, b.inputs[0], 3*8*8)
	assert.Equal(t, 1, obs.calls)
	assert.Equal(t, "fake", obs.backend)
	assert.NoError(t, obs.err)
}

func TestClassifyRawScores(t *testing.T) {
	b := &fakeBackend{shape: []int{1, 8, 8, 3}, output: []float32{0.1, 0.2, 0.7}}
	c := newTestClassifier(t, b, false, nil)

	res, err := c.Classify(t.Context(), pngBytes(t, 4, 4, color.Black))
	require.NoError(t, err)
	assert.Equal(t, "Locust", res.Label)
	assert.InDelta(t, 70.0, res.Confidence, 1e-4)
}

func TestClassifyTieFirstIndexWins(t *testing.T) {
	b := &fakeBackend{shape: []int{1, 3, 8, 8}, output: []float32{2, 2, 1}}
	c := newTestClassifier(t, b, true, nil)

	res, err := c.Classify(t.Context(), pngBytes(t, 4, 4, color.White))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Index)
	assert.Equal(t, "Aphids", res.Label)
}

func TestClassifyDecodeError(t *testing.T) {
	b := &fakeBackend{shape: []int{1, 3, 8, 8}, output: []float32{1, 2, 3}}
	c := newTestClassifier(t, b, true, nil)

	_, err := c.Classify(t.Context(), []byte("definitely not an image"))
	require.ErrorIs(t, err, ErrDecode)
	assert.Zero(t, b.calls)

	_, err = c.Classify(t.Context(), nil)
	require.ErrorIs(t, err, ErrDecode)
}

func TestClassifyBackendError(t *testing.T) {
	b := &fakeBackend{shape: []int{1, 3, 8, 8}, output: []float32{1, 2, 3}, err: errors.NewStd("invoke failed")}
	obs := &recordingObserver{}
	c := newTestClassifier(t, b, true, obs)

	_, err := c.Classify(t.Context(), pngBytes(t, 4, 4, color.White))
	require.ErrorIs(t, err, ErrInference)
	assert.True(t, errors.IsCategory(err, errors.CategoryProcessing))
	assert.Error(t, obs.err)
}

func TestClassifyNonFiniteScore(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	tests := []struct {
		name    string
		output  []float32
		softmax bool
	}{
		{"all NaN", []float32{nan, nan, nan}, false},
		{"positive infinity", []float32{0.1, inf, 0.2}, false},
		{"infinity through softmax", []float32{1, inf, 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{shape: []int{1, 3, 8, 8}, output: tt.output}
			c := newTestClassifier(t, b, tt.softmax, nil)

			res, err := c.Classify(t.Context(), pngBytes(t, 4, 4, color.White))
			require.ErrorIs(t, err, ErrInference)
			assert.True(t, errors.IsCategory(err, errors.CategoryProcessing))
			assert.Empty(t, res.Label)
		})
	}
}

func TestTopK(t *testing.T) {
	b := &fakeBackend{shape: []int{1, 3, 8, 8}, output: []float32{0.2, 0.5, 0.3}}
	c := newTestClassifier(t, b, false, nil)

	results, err := c.TopK(t.Context(), pngBytes(t, 4, 4, color.White), 5)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"Fall Armyworm", "Locust", "Aphids"},
		[]string{results[0].Label, results[1].Label, results[2].Label})

	results, err = c.TopK(t.Context(), pngBytes(t, 4, 4, color.White), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Index)
}

func TestSoftmaxStable(t *testing.T) {
	probs := softmax([]float32{1000, 1001, 999})
	var sum float64
	for _, p := range probs {
		assert.False(t, math.IsNaN(float64(p)))
		sum += float64(p)
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
	assert.Equal(t, 1, argmax(probs))
}

func TestArgmaxSkipsNaN(t *testing.T) {
	nan := float32(math.NaN())
	assert.Equal(t, 1, argmax([]float32{nan, 0.4, 0.2}))
	assert.Equal(t, 0, argmax([]float32{0.5, nan, 0.2}))
}

func TestClassifierConcurrentUse(t *testing.T) {
	b := &fakeBackend{shape: []int{1, 3, 8, 8}, output: []float32{1, 3, 2}}
	c := newTestClassifier(t, b, true, nil)
	img := pngBytes(t, 8, 8, color.White)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			res, err := c.Classify(t.Context(), img)
			assert.NoError(t, err)
			assert.Equal(t, 1, res.Index)
		})
	}
	wg.Wait()
	assert.Equal(t, 8, b.calls)
}

func TestCloseClosesBackend(t *testing.T) {
	b := &fakeBackend{shape: []int{1, 3, 8, 8}, output: []float32{1, 3, 2}}
	c := newTestClassifier(t, b, true, nil)
	require.NoError(t, c.Close())
	assert.True(t, b.closed)
	assert.Equal(t, "fake", c.BackendName())
	assert.Equal(t, threeLabels, c.Labels())
}
