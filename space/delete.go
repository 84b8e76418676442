package space

import (
	"github.com/outofforest/dict/alloc"
	"github.com/outofforest/dict/types"
)

// DeleteResult is the result of delete.
type DeleteResult struct {
	Status       Status
	ShouldShrink bool
}

// Delete removes the key.
// Caller must hold the reference to meta.
func (s *Space[K, V]) Delete(meta *Metadata[K, V], key K, hash types.Hash) (DeleteResult, error) {
	meta.refs.Add(1)
	result, err := s.lookup(meta, key, hash)
	defer result.meta.Release()

	if err != nil {
		return DeleteResult{}, err
	}
	if !result.Found {
		return DeleteResult{Status: StatusNotFound}, nil
	}

	meta = result.meta
	e := result.entry
	value := result.Entry.Value
	for !e.CompareAndSwapValue(value, nil) {
		value = e.Value()
		if value == nil {
			// Someone else deleted it.
			return DeleteResult{Status: StatusNotFound}, nil
		}
	}

	location := s.tombstone(meta, e, result.Position)
	meta.isCompact.Store(false)
	s.config.Ownership.ReleaseKey(e.Key)
	s.config.Ownership.ReleaseValue(value)

	if location == types.InvalidLocation {
		return DeleteResult{Status: StatusRemoved}, nil
	}
	p := meta.arena.Page(location.Page())
	if p == nil || p.Free(location.Slot(), e) < types.PageSize/2 {
		return DeleteResult{Status: StatusRemoved}, nil
	}

	return DeleteResult{
		Status:       StatusRemoved,
		ShouldShrink: s.compact(meta, p),
	}, nil
}

// tombstone replaces the node referencing the entry with tombstone. Location the node pointed to is returned.
func (s *Space[K, V]) tombstone(meta *Metadata[K, V], e *alloc.Entry[K, V], hint uint64) types.Location {
	for {
		position, node, ok := s.findNode(meta, e, hint)
		if !ok {
			return types.InvalidLocation
		}
		if types.CompareAndSwap(&meta.index[position], node, types.Tombstone) {
			return node.Location()
		}
		// Node has been relocated by merge.
		hint = position
	}
}

// findNode finds the node referencing the entry. Hint is checked first.
func (s *Space[K, V]) findNode(
	meta *Metadata[K, V],
	e *alloc.Entry[K, V],
	hint uint64,
) (uint64, types.Node, bool) {
	hint &= meta.mask
	if node, ok := s.references(meta, hint, types.Load(&meta.index[hint]), e); ok {
		return hint, node, true
	}

	home := uint64(e.Hash) & meta.mask
	for d := range meta.size {
		position := (home + d) & meta.mask
		node := types.Load(&meta.index[position])
		if node.IsEmpty() {
			return 0, types.Empty, false
		}
		if node, ok := s.references(meta, position, node, e); ok {
			return position, node, true
		}
	}
	return 0, types.Empty, false
}

func (s *Space[K, V]) references(
	meta *Metadata[K, V],
	position uint64,
	node types.Node,
	e *alloc.Entry[K, V],
) (types.Node, bool) {
	tag := types.TagOf(e.Hash)
	if !node.IsOccupied() || node.Tag() != tag {
		return node, false
	}
	resolved, node := s.resolve(meta, position, node, tag)
	return node, resolved == e
}

// ShouldShrink returns true if the pages used by the generation cover too small part of the index.
func (s *Space[K, V]) ShouldShrink(meta *Metadata[K, V]) bool {
	return meta.shouldShrink()
}
