package classifier

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/logger"
)

// ONNXOptions configures the ONNX Runtime backend.
type ONNXOptions struct {
	Instances   int
	Threads     int    // intra-op threads per session
	LibraryPath string // onnxruntime shared library; empty uses the loader default
}

// The onnxruntime environment is process wide; backends share it by reference count.
var (
	ortMu   sync.Mutex
	ortRefs int
)

func acquireORT(libraryPath string) error {
	ortMu.Lock()
	defer ortMu.Unlock()
	if ortRefs == 0 {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return err
		}
	}
	ortRefs++
	return nil
}

func releaseORT() {
	ortMu.Lock()
	defer ortMu.Unlock()
	ortRefs--
	if ortRefs == 0 {
		if err := ort.DestroyEnvironment(); err != nil {
			GetLogger().Warn("failed to destroy onnxruntime environment", logger.Error(err))
		}
	}
}

type onnxInstance struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (i *onnxInstance) destroy() {
	if i.session != nil {
		_ = i.session.Destroy()
	}
	if i.input != nil {
		_ = i.input.Destroy()
	}
	if i.output != nil {
		_ = i.output.Destroy()
	}
}

// ONNXBackend runs an .onnx model on a pool of sessions, each with its own tensors.
type ONNXBackend struct {
	path       string
	pool       *pool[*onnxInstance]
	inputShape []int
	outputSize int
	closeOnce  sync.Once
}

// NewONNXBackend loads the model at path and creates opts.Instances sessions.
func NewONNXBackend(path string, opts ONNXOptions) (*ONNXBackend, error) {
	start := time.Now()

	if err := acquireORT(opts.LibraryPath); err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryModelInit).
			Context("library_path", opts.LibraryPath).
			Build()
	}

	b, err := buildONNXBackend(path, opts)
	if err != nil {
		releaseORT()
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryModelLoad).
			Context("model_path", path).
			Timing("model-load", time.Since(start)).
			Build()
	}

	GetLogger().Info("ONNX model initialized",
		logger.String("model", filepath.Base(path)),
		logger.Int("instances", b.pool.size()),
		logger.Int("threads", opts.Threads),
		logger.Any("input_shape", b.inputShape),
		logger.Int("classes", b.outputSize),
		logger.Duration("took", time.Since(start)))
	return b, nil
}

func buildONNXBackend(path string, opts ONNXOptions) (*ONNXBackend, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, err
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("model must have exactly one input and one output, has %d and %d", len(inputs), len(outputs))
	}

	inShape := concreteShape(inputs[0].Dimensions, true)
	outShape := concreteShape(outputs[0].Dimensions, false)

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer sessionOpts.Destroy()
	if err := sessionOpts.SetIntraOpNumThreads(max(1, opts.Threads)); err != nil {
		return nil, err
	}

	instances := make([]*onnxInstance, 0, max(1, opts.Instances))
	fail := func(err error) (*ONNXBackend, error) {
		for _, inst := range instances {
			inst.destroy()
		}
		return nil, err
	}

	for range max(1, opts.Instances) {
		inst := &onnxInstance{}
		if inst.input, err = ort.NewEmptyTensor[float32](inShape); err != nil {
			return fail(err)
		}
		if inst.output, err = ort.NewEmptyTensor[float32](outShape); err != nil {
			inst.destroy()
			return fail(err)
		}
		inst.session, err = ort.NewAdvancedSession(path,
			[]string{inputs[0].Name}, []string{outputs[0].Name},
			[]ort.Value{inst.input}, []ort.Value{inst.output},
			sessionOpts)
		if err != nil {
			inst.destroy()
			return fail(err)
		}
		instances = append(instances, inst)
	}

	shape := make([]int, len(inShape))
	for i, d := range inShape {
		shape[i] = int(d)
	}

	return &ONNXBackend{
		path:       path,
		pool:       newPool(instances),
		inputShape: shape,
		outputSize: int(outShape[len(outShape)-1]),
	}, nil
}

// concreteShape replaces dynamic dimensions: the batch becomes 1 and dynamic
// spatial input dimensions become the default image size.
func concreteShape(dims ort.Shape, isInput bool) ort.Shape {
	shape := make(ort.Shape, len(dims))
	for i, d := range dims {
		switch {
		case d > 0:
			shape[i] = d
		case i == 0 || !isInput:
			shape[i] = 1
		default:
			shape[i] = DefaultImageSize
		}
	}
	return shape
}

// Run implements Backend.
func (b *ONNXBackend) Run(ctx context.Context, input []float32) ([]float32, error) {
	inst, err := b.pool.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer b.pool.release(inst)

	dst := inst.input.GetData()
	if len(dst) != len(input) {
		return nil, fmt.Errorf("input size mismatch: model expects %d values, got %d", len(dst), len(input))
	}
	copy(dst, input)

	if err := inst.session.Run(); err != nil {
		return nil, err
	}

	out := inst.output.GetData()
	result := make([]float32, len(out))
	copy(result, out)
	return result, nil
}

// InputShape implements Backend.
func (b *ONNXBackend) InputShape() []int { return b.inputShape }

// OutputSize implements Backend.
func (b *ONNXBackend) OutputSize() int { return b.outputSize }

// Name implements Backend.
func (b *ONNXBackend) Name() string { return BackendONNX }

// Close waits for in-flight runs, destroys the sessions and releases the environment.
func (b *ONNXBackend) Close() error {
	b.closeOnce.Do(func() {
		b.pool.drain(func(inst *onnxInstance) { inst.destroy() })
		releaseORT()
	})
	return nil
}
