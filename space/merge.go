package space

import (
	"github.com/outofforest/dict/alloc"
	"github.com/outofforest/dict/types"
)

// compact frees pages left without entries and merges the first non-empty page into pages having many deleted
// entries. It returns true if the table should be shrunk afterwards.
func (s *Space[K, V]) compact(meta *Metadata[K, V], page *alloc.Page[K, V]) bool {
	s.BeginSyncOp()
	defer s.EndSyncOp()

	if meta.MigrationDone() {
		return false
	}

	freed := s.freeEmptyPages(meta)
	if meta.arena.Page(page.Index()) != page {
		page = nil
	}

	pages := meta.arena.Pages()

	var p0, p1 *alloc.Page[K, V]
	var i int
	for ; i < len(pages); i++ {
		if p := pages[i]; p != nil && p.Size() > 0 {
			p0 = p
			break
		}
	}
	for i++; i < len(pages); i++ {
		if p := pages[i]; p != nil && p != page && p.Deleted() >= types.PageSize/2 {
			p1 = p
			break
		}
	}
	if p0 == nil || p1 == nil || meta.arena.IsTail(p0) {
		return freed && meta.shouldShrink()
	}

	p2 := page
	switch {
	case p2 == p0:
		p2 = nil
	case p2 != nil && p2.Index() < p1.Index():
		p1, p2 = p2, p1
	}

	s.Merge(meta, p0, p1, p2)

	if p0.Size() > 0 || meta.arena.FreePage(p0.Index()) != nil {
		return freed && meta.shouldShrink()
	}
	return meta.shouldShrink()
}

// freeEmptyPages releases full pages whose slots are all holes.
func (s *Space[K, V]) freeEmptyPages(meta *Metadata[K, V]) bool {
	var freed bool
	for _, p := range meta.arena.Pages() {
		if p == nil || p.Size() > 0 || meta.arena.IsTail(p) {
			continue
		}
		if meta.arena.FreePage(p.Index()) == nil {
			freed = true
		}
	}
	return freed
}

// Merge moves live entries of p0 to the holes in p1 and p2. Entries which don't fit stay in p0.
// It must be called inside sync region.
func (s *Space[K, V]) Merge(meta *Metadata[K, V], p0, p1, p2 *alloc.Page[K, V]) {
	var dstSlot uint64
	dst := p1
	if dst == nil {
		dst = p2
	}

	for slot := range p0.Appended() {
		e := p0.Entry(slot)
		if e == nil {
			continue
		}

		for {
			if dst == nil {
				return
			}
			if dstSlot == dst.Appended() {
				if dst == p1 && p2 != nil {
					dst = p2
				} else {
					dst = nil
				}
				dstSlot = 0
				continue
			}
			if dst.IsHole(dstSlot) && dst.Place(dstSlot, e) {
				break
			}
			dstSlot++
		}

		from := types.NewLocation(p0.Index(), slot)
		to := types.NewLocation(dst.Index(), dstSlot)
		dstSlot++

		if s.relocate(meta, e, from, to) {
			p0.Free(slot, e)
			continue
		}

		// Entry was deleted meanwhile, deleter frees the source slot.
		dst.Free(to.Slot(), e)
	}
}

// relocate points the node referencing location from to location to.
func (s *Space[K, V]) relocate(meta *Metadata[K, V], e *alloc.Entry[K, V], from, to types.Location) bool {
	home := uint64(e.Hash) & meta.mask
	tag := types.TagOf(e.Hash)
	for {
		var position uint64
		var node types.Node
		var found bool
		for d := range meta.size {
			position = (home + d) & meta.mask
			node = types.Load(&meta.index[position])
			if node.IsEmpty() {
				break
			}
			if node.IsOccupied() && node.Tag() == tag && node.Location() == from {
				found = true
				break
			}
		}
		if !found {
			return false
		}
		if types.CompareAndSwap(&meta.index[position], node, node.WithLocation(to)) {
			return true
		}
	}
}
