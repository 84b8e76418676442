package space

import (
	"github.com/outofforest/dict/alloc"
	"github.com/outofforest/dict/types"
)

type lookupState uint8

const (
	stateRestarting lookupState = iota
	stateProbing
	stateRedirecting
	stateDone
)

// LookupResult is the result of lookup.
type LookupResult[K comparable, V any] struct {
	Found    bool
	Entry    Entry[K, V]
	Location types.Location
	Position uint64
	Node     types.Node

	entry *alloc.Entry[K, V]
	meta  *Metadata[K, V]
}

// Lookup finds the entry of the key. Migrated generations are followed to the newest one.
// Caller must hold the reference to meta.
func (s *Space[K, V]) Lookup(meta *Metadata[K, V], key K, hash types.Hash) (LookupResult[K, V], error) {
	meta.refs.Add(1)
	result, err := s.lookup(meta, key, hash)
	result.meta.Release()
	result.meta = nil
	return result, err
}

// lookup takes over the reference to meta. Returned result holds the reference to the generation it comes from.
func (s *Space[K, V]) lookup(meta *Metadata[K, V], key K, hash types.Hash) (LookupResult[K, V], error) {
	var result LookupResult[K, V]
	var isCompact bool

	state := stateRestarting
	for {
		switch state {
		case stateRestarting:
			isCompact = meta.IsCompact()
			result = LookupResult[K, V]{}
			state = stateProbing
		case stateProbing:
			found, err := s.probe(meta, key, hash, isCompact, &result)
			if err != nil {
				result.meta = meta
				return result, err
			}
			switch {
			case !found && isCompact != meta.IsCompact():
				state = stateRestarting
			case meta.MigrationDone():
				state = stateRedirecting
			default:
				result.Found = found
				state = stateDone
			}
		case stateRedirecting:
			next := meta.NewGen()
			// Forwarding reference held by meta keeps next alive here.
			next.refs.Add(1)
			meta.Release()
			meta = next
			state = stateRestarting
		case stateDone:
			result.meta = meta
			return result, nil
		}
	}
}

func (s *Space[K, V]) probe(
	meta *Metadata[K, V],
	key K,
	hash types.Hash,
	isCompact bool,
	result *LookupResult[K, V],
) (bool, error) {
	home := uint64(hash) & meta.mask
	tag := types.TagOf(hash)

	var d, nonCompacts uint64
	for range meta.size {
		position := (home + d + nonCompacts) & meta.mask
		node := types.Load(&meta.index[position])

		if node.IsNonCompact() {
			nonCompacts++
		} else {
			if node.IsEmpty() {
				return false, nil
			}
			if isCompact && (d+nonCompacts > node.Distance() || d >= meta.maxD.Load()) {
				return false, nil
			}
			d++
		}

		if !node.IsOccupied() || node.Tag() != tag {
			continue
		}

		e, node := s.resolve(meta, position, node, tag)
		if e == nil {
			continue
		}
		value := e.Value()
		if value == nil {
			continue
		}
		if e.Hash != hash {
			continue
		}
		eq, err := s.equal(e.Key, key)
		if err != nil {
			return false, err
		}
		if !eq {
			continue
		}

		result.Entry = Entry[K, V]{
			Key:   e.Key,
			Value: value,
			Hash:  e.Hash,
		}
		result.Location = node.Location()
		result.Position = position
		result.Node = node
		result.entry = e
		return true, nil
	}
	return false, nil
}

// resolve returns the entry referenced by the node. The slot is read again after resolving, because merge may
// move the entry and free its page meanwhile, so the old location may point to an unrelated entry.
func (s *Space[K, V]) resolve(
	meta *Metadata[K, V],
	position uint64,
	node types.Node,
	tag types.Tag,
) (*alloc.Entry[K, V], types.Node) {
	for {
		e := meta.arena.Resolve(node.Location())
		current := types.Load(&meta.index[position])
		if current == node {
			return e, node
		}
		if !current.IsOccupied() || current.Tag() != tag {
			return nil, current
		}
		node = current
	}
}
