package classifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolAcquireRelease(t *testing.T) {
	p := newPool([]int{1, 2})
	assert.Equal(t, 2, p.size())

	a, err := p.acquire(t.Context())
	require.NoError(t, err)
	b, err := p.acquire(t.Context())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2}, []int{a, b})

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err = p.acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	p.release(a)
	got, err := p.acquire(t.Context())
	require.NoError(t, err)
	assert.Equal(t, a, got)
	p.release(got)
	p.release(b)
}

func TestPoolDrainWaitsForInFlight(t *testing.T) {
	p := newPool([]string{"x"})
	it, err := p.acquire(t.Context())
	require.NoError(t, err)

	drained := make(chan []string)
	go func() {
		var destroyed []string
		p.drain(func(s string) { destroyed = append(destroyed, s) })
		drained <- destroyed
	}()

	select {
	case <-drained:
		t.Fatal("drain returned while an instance was in use")
	case <-time.After(20 * time.Millisecond):
	}

	p.release(it)
	assert.Equal(t, []string{"x"}, <-drained)

	_, err = p.acquire(t.Context())
	require.ErrorIs(t, err, ErrClosed)

	// second drain is a no-op
	p.drain(func(string) { t.Fatal("destroy called twice") })
}

func TestPoolSizing(t *testing.T) {
	size, threads := poolSizing(2, 3)
	assert.Equal(t, 2, size)
	assert.Equal(t, 3, threads)

	size, threads = poolSizing(0, 0)
	assert.GreaterOrEqual(t, size, 1)
	assert.LessOrEqual(t, size, maxDefaultInstances)
	assert.GreaterOrEqual(t, threads, 1)
}
