package space

import (
	"github.com/pkg/errors"

	"github.com/outofforest/dict/types"
)

// Build creates new generation of the given size containing all the live entries of the old one.
// Entries are shared between generations so ownership is not touched. No writer may operate on the old generation
// while it is built.
func (s *Space[K, V]) Build(old *Metadata[K, V], size uint64) (*Metadata[K, V], error) {
	meta, err := s.NewMetadata(size)
	if err != nil {
		return nil, err
	}

	for position := range old.size {
		node := types.Load(&old.index[position])
		if !node.IsOccupied() {
			continue
		}
		e := old.arena.Resolve(node.Location())
		if e == nil || e.Value() == nil {
			continue
		}

		location, err := meta.arena.Append(e)
		if err != nil {
			return nil, err
		}
		if err := meta.place(types.NewNode(location, 0, types.TagOf(e.Hash)), e.Hash); err != nil {
			return nil, err
		}
	}

	return meta, nil
}

// Forward makes the new generation visible to the readers of the old one.
func (s *Space[K, V]) Forward(old, meta *Metadata[K, V]) {
	meta.refs.Add(1)
	old.newGen.Store(meta)
	old.migrationDone.Store(true)
}

// place inserts node using Robin-Hood displacement. It is not safe for concurrent use.
func (m *Metadata[K, V]) place(node types.Node, hash types.Hash) error {
	position := uint64(hash) & m.mask
	distance := uint64(0)
	for range m.size {
		current := m.index[position]
		if current.IsEmpty() {
			m.index[position] = node
			m.raiseMaxD(distance)
			return nil
		}
		if current.Distance() < distance {
			m.index[position] = node
			m.raiseMaxD(distance)
			node = current
			distance = current.Distance()
		}

		distance++
		if distance >= types.MaxDistance {
			return errors.Errorf("displacement exceeds %d", types.MaxDistance-1)
		}
		node = types.NewNode(node.Location(), distance, node.Tag())
		position = (position + 1) & m.mask
	}
	return errors.Errorf("table of size %d is full", m.size)
}
