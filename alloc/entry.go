package alloc

import (
	"sync/atomic"

	"github.com/outofforest/dict/types"
)

// NewEntry creates new entry.
func NewEntry[K, V any](key K, hash types.Hash, value *V) *Entry[K, V] {
	e := &Entry[K, V]{
		Key:  key,
		Hash: hash,
	}
	e.value.Store(value)
	return e
}

// Entry stores key, value and hash of the key.
// Nil value means entry has been deleted but it is still physically present in the page.
type Entry[K, V any] struct {
	Key  K
	Hash types.Hash

	value atomic.Pointer[V]
}

// Value returns current value.
func (e *Entry[K, V]) Value() *V {
	return e.value.Load()
}

// CompareAndSwapValue replaces the value if it is still the old one.
func (e *Entry[K, V]) CompareAndSwapValue(old, value *V) bool {
	return e.value.CompareAndSwap(old, value)
}
