package test

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"

	"github.com/outofforest/dict/space"
)

// ErrEqual is returned by FailingEqual.
var ErrEqual = errors.New("equal failed")

// CollectSpaceValues collects values available in the generation.
func CollectSpaceValues[K comparable, V constraints.Ordered](
	s *space.Space[K, V],
	meta *space.Metadata[K, V],
) []V {
	values := []V{}
	for item := range s.Iterator(meta) {
		values = append(values, *item.Value)
	}

	sort.Slice(values, func(i, j int) bool {
		return values[i] < values[j]
	})
	return values
}

// CollectSpaceKeys collects keys available in the generation.
func CollectSpaceKeys[K constraints.Ordered, V any](s *space.Space[K, V], meta *space.Metadata[K, V]) []K {
	keys := []K{}
	for item := range s.Iterator(meta) {
		keys = append(keys, item.Key)
	}

	sort.Slice(keys, func(i, j int) bool {
		return keys[i] < keys[j]
	})
	return keys
}

// FailingEqual returns equality predicate failing when keys are not identical.
func FailingEqual[K comparable]() func(stored, key K) (bool, error) {
	return func(stored, key K) (bool, error) {
		return false, errors.WithStack(ErrEqual)
	}
}

// NewOwnership creates ownership tracker counting references.
func NewOwnership[K comparable, V any]() *Ownership[K, V] {
	return &Ownership[K, V]{
		keys:   map[K]int64{},
		values: map[*V]int64{},
	}
}

// Ownership counts references to keys and values taken by the dictionary.
type Ownership[K comparable, V any] struct {
	mu     sync.Mutex
	keys   map[K]int64
	values map[*V]int64
}

// AcquireKey increments key counter.
func (o *Ownership[K, V]) AcquireKey(key K) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.keys[key]++
}

// ReleaseKey decrements key counter.
func (o *Ownership[K, V]) ReleaseKey(key K) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.keys[key]--
	if o.keys[key] == 0 {
		delete(o.keys, key)
	}
}

// AcquireValue increments value counter.
func (o *Ownership[K, V]) AcquireValue(value *V) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.values[value]++
}

// ReleaseValue decrements value counter.
func (o *Ownership[K, V]) ReleaseValue(value *V) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.values[value]--
	if o.values[value] == 0 {
		delete(o.values, value)
	}
}

// KeyRefs returns the number of references held for the key.
func (o *Ownership[K, V]) KeyRefs(key K) int64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.keys[key]
}

// ValueRefs returns the number of references held for the value.
func (o *Ownership[K, V]) ValueRefs(value *V) int64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.values[value]
}

// Keys returns the number of keys with nonzero counter.
func (o *Ownership[K, V]) Keys() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return len(o.keys)
}

// Values returns the number of values with nonzero counter.
func (o *Ownership[K, V]) Values() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return len(o.values)
}
