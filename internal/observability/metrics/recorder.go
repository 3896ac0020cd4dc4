package metrics

// Recorder defines a minimal interface for recording metrics.
// Services depend on it instead of concrete collectors.
type Recorder interface {
	// RecordOperation records an operation with its status, e.g. ("login", "rejected").
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its type.
	RecordError(operation, errorType string)
}

// NoOpRecorder discards everything.
type NoOpRecorder struct{}

func (NoOpRecorder) RecordOperation(string, string) {}
func (NoOpRecorder) RecordDuration(string, float64) {}
func (NoOpRecorder) RecordError(string, string)     {}

// OrNoOp returns r, or a NoOpRecorder when r is nil.
func OrNoOp(r Recorder) Recorder {
	if r == nil {
		return NoOpRecorder{}
	}
	return r
}
