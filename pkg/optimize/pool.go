package optimize

import "sync"

// SlicePool recycles the scratch slices a hot path refills on every
// pass, such as batch flush buffers. Returned slices have zero length
// and at least the configured capacity.
type SlicePool[T any] struct {
	pool sync.Pool
	size int
}

// NewSlicePool creates a pool handing out slices with the given
// starting capacity.
func NewSlicePool[T any](size int) *SlicePool[T] {
	if size < 1 {
		size = 1
	}
	return &SlicePool[T]{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				return make([]T, 0, size)
			},
		},
	}
}

// Get returns an empty slice ready to append into.
func (p *SlicePool[T]) Get() []T {
	return p.pool.Get().([]T)
}

// Put returns a slice to the pool. Elements are cleared so pooled
// slices never pin references from earlier uses. Slices that grew far
// beyond the configured capacity are dropped instead of pooled.
func (p *SlicePool[T]) Put(s []T) {
	if cap(s) > p.size*2 {
		return
	}
	clear(s[:cap(s)])
	p.pool.Put(s[:0])
}
