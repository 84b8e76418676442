package space

import (
	"github.com/stretchr/testify/require"

	"github.com/outofforest/dict/types"
)

// NewSpaceTest creates new wrapper for space testing.
func NewSpaceTest[K comparable, V any](t require.TestingT, config Config[K, V], size uint64) *SpaceTest[K, V] {
	s := New[K, V](config)
	meta, err := s.NewMetadata(size)
	require.NoError(t, err)

	return &SpaceTest[K, V]{
		t:    t,
		s:    s,
		meta: meta,
	}
}

// SpaceTest exposes some private functionality of space to make testing concurrent scenarios possible.
//
//nolint:revive
type SpaceTest[K comparable, V any] struct {
	t    require.TestingT
	s    *Space[K, V]
	meta *Metadata[K, V]
}

// Space returns the tested space.
func (s *SpaceTest[K, V]) Space() *Space[K, V] {
	return s.s
}

// Meta returns current generation.
func (s *SpaceTest[K, V]) Meta() *Metadata[K, V] {
	return s.meta
}

// Node returns the content of index slot.
func (s *SpaceTest[K, V]) Node(position uint64) types.Node {
	return types.Load(&s.meta.index[position])
}

// SetCompact sets compact flag of the current generation.
func (s *SpaceTest[K, V]) SetCompact(compact bool) {
	s.meta.isCompact.Store(compact)
}

// Set stores the value regardless of the current one.
func (s *SpaceTest[K, V]) Set(key K, hash types.Hash, value *V) InsertResult[V] {
	result, err := s.s.InsertOrUpdate(s.meta, key, hash, ExpectAny[V](), value, nil)
	require.NoError(s.t, err)
	return result
}

// Get returns the value of the key.
func (s *SpaceTest[K, V]) Get(key K, hash types.Hash) (*V, bool) {
	result, err := s.s.Lookup(s.meta, key, hash)
	require.NoError(s.t, err)
	return result.Entry.Value, result.Found
}

// Find returns the lookup result of the key.
func (s *SpaceTest[K, V]) Find(key K, hash types.Hash) LookupResult[K, V] {
	result, err := s.s.Lookup(s.meta, key, hash)
	require.NoError(s.t, err)
	return result
}

// Delete deletes the key.
func (s *SpaceTest[K, V]) Delete(key K, hash types.Hash) DeleteResult {
	result, err := s.s.Delete(s.meta, key, hash)
	require.NoError(s.t, err)
	return result
}

// Migrate builds new generation of the size and forwards current generation to it.
func (s *SpaceTest[K, V]) Migrate(size uint64) *Metadata[K, V] {
	s.s.BeginSyncOp()
	defer s.s.EndSyncOp()

	meta, err := s.s.Build(s.meta, size)
	require.NoError(s.t, err)
	s.s.Forward(s.meta, meta)

	old := s.meta
	s.meta = meta
	return old
}
