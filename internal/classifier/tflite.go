package classifier

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tphakala/go-tflite"
	"github.com/tphakala/go-tflite/delegates/xnnpack"

	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/logger"
)

// TFLiteOptions configures the TensorFlow Lite backend.
type TFLiteOptions struct {
	Instances  int
	Threads    int // per interpreter
	UseXNNPACK bool
}

type tfliteInstance struct {
	interpreter *tflite.Interpreter
	options     *tflite.InterpreterOptions
	delegate    interface{ Delete() }
}

// TFLiteBackend runs a .tflite model on a pool of interpreters built from one model.
type TFLiteBackend struct {
	path       string
	model      *tflite.Model
	pool       *pool[*tfliteInstance]
	inputShape []int
	outputSize int
}

// NewTFLiteBackend loads the model at path and allocates opts.Instances interpreters.
func NewTFLiteBackend(path string, opts TFLiteOptions) (*TFLiteBackend, error) {
	start := time.Now()
	log := GetLogger()

	modelData, err := os.ReadFile(path) //nolint:gosec // model path comes from operator config
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryModelLoad).
			Context("model_path", path).
			Timing("model-load", time.Since(start)).
			Build()
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, errors.New(fmt.Errorf("cannot load TensorFlow Lite model")).
			Component("classifier").
			Category(errors.CategoryModelInit).
			Context("model_path", path).
			Context("model_size_mb", len(modelData)/1024/1024).
			Build()
	}

	b := &TFLiteBackend{path: path, model: model}

	instances := make([]*tfliteInstance, 0, max(1, opts.Instances))
	for i := range max(1, opts.Instances) {
		inst, err := newTFLiteInstance(model, opts)
		if err != nil {
			for _, created := range instances {
				created.delete()
			}
			model.Delete()
			return nil, errors.New(err).
				Component("classifier").
				Category(errors.CategoryModelInit).
				Context("model_path", path).
				Context("instance", i).
				Build()
		}
		instances = append(instances, inst)
	}

	input := instances[0].interpreter.GetInputTensor(0)
	output := instances[0].interpreter.GetOutputTensor(0)
	if input == nil || output == nil || input.Float32s() == nil || output.Float32s() == nil {
		for _, inst := range instances {
			inst.delete()
		}
		model.Delete()
		return nil, errors.Newf("model must have float32 input and output tensors").
			Component("classifier").
			Category(errors.CategoryModelInit).
			Context("model_path", path).
			Build()
	}

	b.inputShape = make([]int, input.NumDims())
	for i := range b.inputShape {
		b.inputShape[i] = input.Dim(i)
	}
	b.outputSize = output.Dim(output.NumDims() - 1)
	b.pool = newPool(instances)

	log.Info("TFLite model initialized",
		logger.String("model", filepath.Base(path)),
		logger.Int("instances", len(instances)),
		logger.Int("threads", opts.Threads),
		logger.Bool("xnnpack", opts.UseXNNPACK),
		logger.Any("input_shape", b.inputShape),
		logger.Int("classes", b.outputSize),
		logger.Duration("took", time.Since(start)))

	return b, nil
}

func newTFLiteInstance(model *tflite.Model, opts TFLiteOptions) (*tfliteInstance, error) {
	threads := max(1, opts.Threads)
	options := tflite.NewInterpreterOptions()
	inst := &tfliteInstance{options: options}

	if opts.UseXNNPACK {
		delegate := xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(threads)}) //nolint:gosec // G115: thread count bounded by CPU count
		if delegate == nil {
			GetLogger().Warn("failed to create XNNPACK delegate, falling back to default CPU")
			options.SetNumThread(threads)
		} else {
			options.AddDelegate(delegate)
			options.SetNumThread(1)
			if d, ok := delegate.(interface{ Delete() }); ok {
				inst.delegate = d
			}
		}
	} else {
		options.SetNumThread(threads)
	}

	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	inst.interpreter = tflite.NewInterpreter(model, options)
	if inst.interpreter == nil {
		inst.delete()
		return nil, fmt.Errorf("cannot create interpreter")
	}
	if status := inst.interpreter.AllocateTensors(); status != tflite.OK {
		inst.delete()
		return nil, fmt.Errorf("tensor allocation failed")
	}
	return inst, nil
}

func (i *tfliteInstance) delete() {
	if i.interpreter != nil {
		i.interpreter.Delete()
	}
	if i.delegate != nil {
		i.delegate.Delete()
	}
	if i.options != nil {
		i.options.Delete()
	}
}

// Run implements Backend.
func (b *TFLiteBackend) Run(ctx context.Context, input []float32) ([]float32, error) {
	inst, err := b.pool.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer b.pool.release(inst)

	in := inst.interpreter.GetInputTensor(0)
	dst := in.Float32s()
	if len(dst) != len(input) {
		return nil, fmt.Errorf("input size mismatch: model expects %d values, got %d", len(dst), len(input))
	}
	copy(dst, input)

	if status := inst.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("tensor invoke failed: %v", status)
	}

	out := inst.interpreter.GetOutputTensor(0).Float32s()
	result := make([]float32, len(out))
	copy(result, out)
	return result, nil
}

// InputShape implements Backend.
func (b *TFLiteBackend) InputShape() []int { return b.inputShape }

// OutputSize implements Backend.
func (b *TFLiteBackend) OutputSize() int { return b.outputSize }

// Name implements Backend.
func (b *TFLiteBackend) Name() string { return BackendTFLite }

// Close waits for in-flight runs and releases all interpreters and the model.
func (b *TFLiteBackend) Close() error {
	b.pool.drain(func(inst *tfliteInstance) { inst.delete() })
	if b.model != nil {
		b.model.Delete()
		b.model = nil
	}
	return nil
}
