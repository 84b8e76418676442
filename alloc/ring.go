package alloc

import "github.com/pkg/errors"

func newRing[T any](capacity uint64) *ring[T] {
	if capacity == 0 {
		capacity = 1
	}
	return &ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// ring keeps indices of freed pages waiting to be refilled.
type ring[T any] struct {
	items []T

	capacity       uint64
	getPtr, putPtr uint64
	count          uint64
}

func (r *ring[T]) Len() uint64 {
	return r.count
}

func (r *ring[T]) Get() (T, error) {
	if r.count == 0 {
		var t T
		return t, errors.New("no free item to get")
	}
	item := r.items[r.getPtr]
	r.getPtr++
	if r.getPtr == r.capacity {
		r.getPtr = 0
	}
	r.count--
	return item, nil
}

func (r *ring[T]) Put(item T) {
	if r.count == r.capacity {
		r.grow()
	}

	r.items[r.putPtr] = item
	r.putPtr++
	if r.putPtr == r.capacity {
		r.putPtr = 0
	}
	r.count++
}

func (r *ring[T]) grow() {
	items := make([]T, 2*r.capacity)
	for i := range r.count {
		items[i] = r.items[(r.getPtr+i)%r.capacity]
	}
	r.items = items
	r.getPtr = 0
	r.putPtr = r.count
	r.capacity *= 2
}
