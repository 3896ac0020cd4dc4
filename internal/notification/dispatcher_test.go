package notification

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinga-app/kinga/internal/observability/metrics"
)

type fakeProvider struct {
	err     error
	block   chan struct{} // when set, Send waits for it or ctx
	waitCtx bool          // when set, Send waits for ctx to end

	mu       sync.Mutex
	sent     []*Message
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeProvider) GetName() string       { return "fake" }
func (f *fakeProvider) IsEnabled() bool       { return true }
func (f *fakeProvider) ValidateConfig() error { return nil }

func (f *fakeProvider) Send(ctx context.Context, msg *Message) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.waitCtx {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

func (f *fakeProvider) messages() []*Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Message(nil), f.sent...)
}

func newTestDispatcher(t *testing.T, p Provider, opts ...DispatcherOption) (*Dispatcher, *metrics.TestRecorder) {
	t.Helper()
	rec := metrics.NewTestRecorder()
	d := NewDispatcher(p, NewRenderer(10*time.Minute), append([]DispatcherOption{WithRecorder(rec)}, opts...)...)
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return d, rec
}

func closeDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

func TestDispatcherSendsInBackground(t *testing.T) {
	p := &fakeProvider{}
	d, rec := newTestDispatcher(t, p)

	d.SendOTP("farmer@example.com", "654321", PurposeReset)
	closeDispatcher(t, d)

	msgs := p.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "farmer@example.com", msgs[0].To)
	assert.Equal(t, "654321", msgs[0].Code)
	assert.Equal(t, PurposeReset, msgs[0].Purpose)
	assert.Equal(t, "Your Kinga Verification Code: 654321", msgs[0].Subject)

	assert.Equal(t, 1, rec.OperationCount(metrics.OpNotify, metrics.StatusSuccess))
	assert.Len(t, rec.Durations(metrics.OpNotify), 1)
	assert.Equal(t, "fake", d.ProviderName())
}

func TestDispatcherFailureIsRecordedNotReturned(t *testing.T) {
	p := &fakeProvider{err: assert.AnError}
	d, rec := newTestDispatcher(t, p)

	d.SendOTP("farmer@example.com", "111111", PurposeVerify)
	closeDispatcher(t, d)

	assert.Equal(t, 1, rec.OperationCount(metrics.OpNotify, metrics.StatusError))
	assert.Equal(t, 1, rec.ErrorCount(metrics.OpNotify, "generic"))
}

func TestDispatcherDoesNotBlockCaller(t *testing.T) {
	p := &fakeProvider{block: make(chan struct{})}
	d, rec := newTestDispatcher(t, p, WithMaxConcurrent(1))

	start := time.Now()
	for range 5 {
		d.SendOTP("farmer@example.com", "222222", PurposeVerify)
	}
	assert.Less(t, time.Since(start), time.Second)

	close(p.block)
	closeDispatcher(t, d)

	assert.Len(t, p.messages(), 5)
	assert.Equal(t, int32(1), p.peak.Load())
	assert.Equal(t, 5, rec.OperationCount(metrics.OpNotify, metrics.StatusSuccess))
}

func TestDispatcherTimeout(t *testing.T) {
	p := &fakeProvider{waitCtx: true}
	d, rec := newTestDispatcher(t, p, WithTimeout(20*time.Millisecond))

	d.SendOTP("farmer@example.com", "333333", PurposeVerify)
	closeDispatcher(t, d)

	assert.Equal(t, 1, rec.ErrorCount(metrics.OpNotify, "timeout"))
}

func TestDispatcherCircuitBreakerOpens(t *testing.T) {
	p := &fakeProvider{err: assert.AnError}
	d, rec := newTestDispatcher(t, p,
		WithMaxConcurrent(1),
		WithCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Hour, HalfOpenMaxRequests: 1}))

	d.SendOTP("farmer@example.com", "444444", PurposeVerify)
	require.Eventually(t, func() bool {
		return rec.OperationCount(metrics.OpNotify, metrics.StatusError) == 1
	}, 2*time.Second, 5*time.Millisecond)

	d.SendOTP("farmer@example.com", "555555", PurposeVerify)
	closeDispatcher(t, d)

	assert.Len(t, p.messages(), 1, "second send must not reach the provider")
	assert.Equal(t, 1, rec.ErrorCount(metrics.OpNotify, "circuit_open"))
}

func TestDispatcherDropsAfterClose(t *testing.T) {
	p := &fakeProvider{}
	d, rec := newTestDispatcher(t, p)
	closeDispatcher(t, d)

	d.SendOTP("farmer@example.com", "666666", PurposeVerify)
	assert.Empty(t, p.messages())
	assert.False(t, rec.HasRecordedMetrics())
}

func TestDispatcherCloseHonoursContext(t *testing.T) {
	p := &fakeProvider{block: make(chan struct{})}
	d, _ := newTestDispatcher(t, p)

	d.SendOTP("farmer@example.com", "777777", PurposeVerify)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, d.Close(ctx))

	close(p.block)
	closeDispatcher(t, d)
	assert.Len(t, p.messages(), 1)
}
