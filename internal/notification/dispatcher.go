package notification

import (
	"context"
	"sync"
	"time"

	"github.com/kinga-app/kinga/internal/conf"
	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/logger"
	"github.com/kinga-app/kinga/internal/observability/metrics"
	"github.com/kinga-app/kinga/internal/privacy"
)

const (
	DefaultSendTimeout   = 15 * time.Second
	DefaultMaxConcurrent = 16
)

// Dispatcher sends codes in the background. SendOTP returns as soon as the
// send is queued; delivery errors are logged and counted.
type Dispatcher struct {
	provider Provider
	renderer *Renderer
	breaker  *CircuitBreaker
	recorder metrics.Recorder
	timeout  time.Duration
	sem      chan struct{}

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithRecorder(r metrics.Recorder) DispatcherOption {
	return func(d *Dispatcher) {
		d.recorder = metrics.OrNoOp(r)
	}
}

// WithTimeout bounds each delivery attempt.
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithMaxConcurrent bounds parallel deliveries. Extra sends wait in their
// own goroutine, never in the caller.
func WithMaxConcurrent(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.sem = make(chan struct{}, n)
		}
	}
}

func WithCircuitBreaker(config CircuitBreakerConfig) DispatcherOption {
	return func(d *Dispatcher) {
		d.breaker = NewCircuitBreaker(config, d.provider.GetName())
	}
}

// NewDispatcher returns a Dispatcher sending through provider.
func NewDispatcher(provider Provider, renderer *Renderer, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		provider: provider,
		renderer: renderer,
		recorder: metrics.NoOpRecorder{},
		timeout:  DefaultSendTimeout,
		sem:      make(chan struct{}, DefaultMaxConcurrent),
	}
	d.breaker = NewCircuitBreaker(DefaultCircuitBreakerConfig(), provider.GetName())
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewDispatcherFromSettings wires provider with the configured limits.
func NewDispatcherFromSettings(provider Provider, n *conf.NotificationSettings, otpTTL time.Duration, recorder metrics.Recorder) *Dispatcher {
	return NewDispatcher(provider, NewRenderer(otpTTL),
		WithRecorder(recorder),
		WithTimeout(n.Timeout),
		WithMaxConcurrent(n.MaxConcurrent))
}

// ProviderName returns the name of the active provider.
func (d *Dispatcher) ProviderName() string {
	return d.provider.GetName()
}

// SendOTP queues delivery of code to email. It never blocks on delivery
// and never fails; after Close the code is dropped with a warning.
func (d *Dispatcher) SendOTP(email, code string, purpose Purpose) {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		GetLogger().Warn("notification dispatcher closed, code not sent",
			logger.String("email", privacy.MaskEmail(email)),
			logger.String("purpose", string(purpose)))
		return
	}
	d.wg.Go(func() {
		d.sem <- struct{}{}
		defer func() { <-d.sem }()
		d.deliver(email, code, purpose)
	})
	d.mu.RUnlock()
}

func (d *Dispatcher) deliver(email, code string, purpose Purpose) {
	start := time.Now()
	log := GetLogger().With(
		logger.String("provider", d.provider.GetName()),
		logger.String("email", privacy.MaskEmail(email)),
		logger.String("purpose", string(purpose)))

	msg, err := d.renderer.Render(email, code, purpose)
	if err != nil {
		d.recordFailure(err, start)
		log.Warn("failed to render code email", logger.Error(err))
		return
	}

	// Detached from any request: the HTTP response has usually been sent already.
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err = d.breaker.Call(ctx, func(ctx context.Context) error {
		return d.provider.Send(ctx, msg)
	})
	if err != nil {
		d.recordFailure(err, start)
		log.Warn("failed to send code", logger.Error(err), logger.Duration("took", time.Since(start)))
		return
	}

	d.recorder.RecordOperation(metrics.OpNotify, metrics.StatusSuccess)
	d.recorder.RecordDuration(metrics.OpNotify, time.Since(start).Seconds())
	log.Info("code sent", logger.Duration("took", time.Since(start)))
}

func (d *Dispatcher) recordFailure(err error, start time.Time) {
	d.recorder.RecordOperation(metrics.OpNotify, metrics.StatusError)
	d.recorder.RecordDuration(metrics.OpNotify, time.Since(start).Seconds())
	d.recorder.RecordError(metrics.OpNotify, errorType(err))
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrCircuitBreakerOpen), errors.Is(err, ErrTooManyRequests):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return string(errors.CategoryOf(err))
}

// Close stops accepting codes and waits for queued sends until ctx ends.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Component("notification").
			Category(errors.CategoryLimit).
			Context("operation", "dispatcher_close").
			Build()
	}
}
