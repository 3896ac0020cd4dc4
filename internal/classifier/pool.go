package classifier

import (
	"context"
	"sync"
)

// pool hands out exclusive access to a fixed set of model instances.
type pool[T any] struct {
	items  chan T
	all    []T
	closed chan struct{}
	once   sync.Once
}

func newPool[T any](items []T) *pool[T] {
	p := &pool[T]{
		items:  make(chan T, len(items)),
		all:    items,
		closed: make(chan struct{}),
	}
	for _, it := range items {
		p.items <- it
	}
	return p
}

// acquire blocks until an instance is free, ctx is done or the pool is closed.
func (p *pool[T]) acquire(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-p.closed:
		return zero, ErrClosed
	default:
	}

	select {
	case it := <-p.items:
		return it, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-p.closed:
		return zero, ErrClosed
	}
}

func (p *pool[T]) release(it T) {
	p.items <- it
}

// drain marks the pool closed, waits for every instance to be returned and
// calls destroy on each of them.
func (p *pool[T]) drain(destroy func(T)) {
	p.once.Do(func() {
		close(p.closed)
		for range p.all {
			destroy(<-p.items)
		}
	})
}

func (p *pool[T]) size() int {
	return len(p.all)
}
