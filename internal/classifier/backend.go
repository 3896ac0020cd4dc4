// Package classifier turns image bytes into a pest label and a confidence score.
//
// A Backend runs the frozen model. Two implementations exist, TensorFlow Lite
// and ONNX Runtime; both keep a fixed pool of interpreters so that concurrent
// requests never share tensors. The Classifier in front of the backend owns
// preprocessing, the optional softmax and the label table.
package classifier

import (
	"context"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"

	"github.com/kinga-app/kinga/internal/conf"
	"github.com/kinga-app/kinga/internal/errors"
)

const (
	BackendTFLite = "tflite"
	BackendONNX   = "onnx"

	maxDefaultInstances = 4
)

var (
	// ErrDecode indicates the uploaded bytes are not a supported image.
	ErrDecode = errors.NewStd("cannot decode image")

	// ErrInference indicates the model failed to run.
	ErrInference = errors.NewStd("inference failed")

	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.NewStd("backend closed")
)

// Backend runs a single-input, single-output float32 model.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Run feeds input, laid out as InputShape, and returns a copy of the output.
	Run(ctx context.Context, input []float32) ([]float32, error)
	// InputShape returns the model input dimensions, batch first.
	InputShape() []int
	// OutputSize returns the number of classes.
	OutputSize() int
	Close() error
	Name() string
}

// OpenBackend loads the model named by cfg with the backend chosen by
// cfg.Backend, or by file extension when it is "auto".
func OpenBackend(cfg *conf.ClassifierSettings) (Backend, error) {
	kind := cfg.Backend
	if kind == "" || kind == "auto" {
		switch strings.ToLower(filepath.Ext(cfg.ModelPath)) {
		case ".onnx":
			kind = BackendONNX
		default:
			kind = BackendTFLite
		}
	}

	instances, threads := poolSizing(cfg.Instances, cfg.Threads)

	switch kind {
	case BackendTFLite:
		return NewTFLiteBackend(cfg.ModelPath, TFLiteOptions{
			Instances:  instances,
			Threads:    threads,
			UseXNNPACK: cfg.UseXNNPACK,
		})
	case BackendONNX:
		return NewONNXBackend(cfg.ModelPath, ONNXOptions{
			Instances:   instances,
			Threads:     threads,
			LibraryPath: cfg.ONNXLibraryPath,
		})
	default:
		return nil, errors.Newf("unknown classifier backend %q", kind).
			Component("classifier").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// poolSizing picks the interpreter count and threads per interpreter.
// Zero means automatic: one interpreter per physical core, at most four,
// with the cores shared evenly between them.
func poolSizing(instances, threads int) (poolSize, threadsPer int) {
	cores := cpuid.CPU.PhysicalCores
	if cores <= 0 {
		cores = runtime.NumCPU()
	}

	poolSize = instances
	if poolSize <= 0 {
		poolSize = min(cores, maxDefaultInstances)
	}
	poolSize = max(poolSize, 1)

	threadsPer = threads
	if threadsPer <= 0 {
		threadsPer = max(1, cores/poolSize)
	}
	return poolSize, threadsPer
}
