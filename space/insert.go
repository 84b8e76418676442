package space

import (
	"github.com/pkg/errors"

	"github.com/outofforest/dict/types"
)

// InsertResult is the result of insert.
type InsertResult[V any] struct {
	Status Status

	// Value is the value replaced by the insert or the one which caused the expectation to fail.
	Value *V
}

type insertOutcome[V any] struct {
	mustGrow    bool
	expectation bool
	installed   bool
	current     *V
}

// InsertOrUpdate sets the value of the key if the current state matches the expectation.
// Reservation is used when key is absent. If it is nil, the entry is reserved once the free slot is found.
// Reservation not installed in the index is discarded.
// Caller must hold the reference to meta.
func (s *Space[K, V]) InsertOrUpdate(
	meta *Metadata[K, V],
	key K,
	hash types.Hash,
	expected Expectation[V],
	desired *V,
	reserved *Reservation[K, V],
) (InsertResult[V], error) {
	if desired == nil {
		return InsertResult[V]{}, errors.New("desired value must not be nil")
	}

	home := uint64(hash) & meta.mask
	tag := types.TagOf(hash)

	if expected.mayInsert() && types.Load(&meta.index[home]).IsEmpty() {
		if reserved == nil {
			var err error
			reserved, err = s.Reserve(meta, key, hash, desired)
			if err != nil {
				return InsertResult[V]{}, err
			}
		}

		s.config.Ownership.AcquireKey(key)
		s.config.Ownership.AcquireValue(desired)
		if types.CompareAndSwap(&meta.index[home], types.Empty, types.NewNode(reserved.Location, 0, tag)) {
			return InsertResult[V]{Status: StatusNotFound}, nil
		}
		s.config.Ownership.ReleaseValue(desired)
		s.config.Ownership.ReleaseKey(key)
	}

	for {
		isCompact := meta.IsCompact()
		outcome, err := s.insert(meta, key, hash, home, tag, isCompact, expected, desired, &reserved)
		if err != nil {
			s.discard(meta, reserved)
			return InsertResult[V]{}, err
		}
		if !outcome.mustGrow && !outcome.expectation && expected.mode != expectAbsent &&
			meta.IsCompact() != isCompact {
			continue
		}
		if !outcome.installed {
			s.discard(meta, reserved)
		}

		if outcome.mustGrow {
			return InsertResult[V]{Status: StatusMustGrow}, nil
		}
		if !outcome.expectation {
			return InsertResult[V]{
				Status: StatusExpectationFailed,
				Value:  outcome.current,
			}, nil
		}
		if outcome.current == nil {
			return InsertResult[V]{Status: StatusNotFound}, nil
		}
		return InsertResult[V]{
			Status: StatusPrevious,
			Value:  outcome.current,
		}, nil
	}
}

func (s *Space[K, V]) insert(
	meta *Metadata[K, V],
	key K,
	hash types.Hash,
	home uint64,
	tag types.Tag,
	isCompact bool,
	expected Expectation[V],
	desired *V,
	reserved **Reservation[K, V],
) (insertOutcome[V], error) {
	// Chain is ordered if every node on the way belongs to the home slot located at or before ours.
	ordered := true

	var d uint64
	for d < meta.size {
		position := (home + d) & meta.mask
		node := types.Load(&meta.index[position])

		switch {
		case node.IsEmpty():
			if !expected.mayInsert() {
				return insertOutcome[V]{}, nil
			}
			if *reserved == nil {
				r, err := s.Reserve(meta, key, hash, desired)
				if err != nil {
					return insertOutcome[V]{}, err
				}
				*reserved = r
			}
			location := (*reserved).Location

			var claim types.Node
			if isCompact && ordered && d < types.MaxDistance {
				meta.raiseMaxD(d)
				claim = types.NewNode(location, d, tag)
			} else {
				if isCompact {
					meta.isCompact.Store(false)
					isCompact = false
				}
				claim = types.NewNode(location, types.MaxDistance, tag)
			}

			s.config.Ownership.AcquireKey(key)
			s.config.Ownership.AcquireValue(desired)
			if types.CompareAndSwap(&meta.index[position], types.Empty, claim) {
				return insertOutcome[V]{expectation: true, installed: true}, nil
			}
			s.config.Ownership.ReleaseValue(desired)
			s.config.Ownership.ReleaseKey(key)

			// Slot taken by someone else, examine it again.
			continue
		case node.IsTombstone():
		case node.Distance() == types.MaxDistance:
			ordered = false
			if node.Tag() == tag {
				outcome, updated, err := s.updateEntry(meta, position, node, key, hash, tag, expected, desired)
				if err != nil || updated {
					return outcome, err
				}
			}
		case isCompact && d > node.Distance():
			// Occupant's home is past ours so the key can't be stored further.
			if !expected.mayInsert() {
				return insertOutcome[V]{}, nil
			}
			ordered = false
		case node.Tag() == tag:
			outcome, updated, err := s.updateEntry(meta, position, node, key, hash, tag, expected, desired)
			if err != nil || updated {
				return outcome, err
			}
		}
		d++
	}

	return insertOutcome[V]{mustGrow: true}, nil
}

func (s *Space[K, V]) updateEntry(
	meta *Metadata[K, V],
	position uint64,
	node types.Node,
	key K,
	hash types.Hash,
	tag types.Tag,
	expected Expectation[V],
	desired *V,
) (insertOutcome[V], bool, error) {
	e, _ := s.resolve(meta, position, node, tag)
	if e == nil || e.Hash != hash {
		return insertOutcome[V]{}, false, nil
	}
	if e.Value() == nil {
		return insertOutcome[V]{}, false, nil
	}
	eq, err := s.equal(e.Key, key)
	if err != nil || !eq {
		return insertOutcome[V]{}, false, err
	}

	for {
		current := e.Value()
		if current == nil {
			// Deleted concurrently, entry doesn't represent the key anymore.
			return insertOutcome[V]{}, false, nil
		}

		switch expected.mode {
		case expectAbsent:
			return insertOutcome[V]{current: current}, true, nil
		case expectValue:
			if !s.valueEqual(current, expected.value) {
				return insertOutcome[V]{current: current}, true, nil
			}
		}

		s.config.Ownership.AcquireValue(desired)
		if e.CompareAndSwapValue(current, desired) {
			s.config.Ownership.ReleaseValue(current)
			return insertOutcome[V]{expectation: true, current: current}, true, nil
		}
		s.config.Ownership.ReleaseValue(desired)
	}
}

func (s *Space[K, V]) discard(meta *Metadata[K, V], reserved *Reservation[K, V]) {
	if reserved == nil {
		return
	}
	if p, deleted := meta.arena.Discard(reserved.Location, reserved.Entry); p != nil && deleted >= types.PageSize/2 {
		s.compact(meta, p)
	}
}

