package space

import "github.com/outofforest/dict/types"

// Iterator returns iterator over live entries of the generation. Order is not defined and entries modified
// concurrently may or may not be visited.
func (s *Space[K, V]) Iterator(meta *Metadata[K, V]) func(func(Entry[K, V]) bool) {
	return func(yield func(Entry[K, V]) bool) {
		for position := range meta.size {
			node := types.Load(&meta.index[position])
			if !node.IsOccupied() {
				continue
			}
			e, _ := s.resolve(meta, position, node, node.Tag())
			if e == nil {
				continue
			}
			value := e.Value()
			if value == nil {
				continue
			}
			if !yield(Entry[K, V]{
				Key:   e.Key,
				Value: value,
				Hash:  e.Hash,
			}) {
				return
			}
		}
	}
}
