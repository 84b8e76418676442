package alloc

import (
	"sync/atomic"

	"github.com/outofforest/dict/types"
)

// Page is the fixed-capacity block of entries.
// Slot states:
// - nil - not written yet,
// - freed marker - hole left by deleted or moved entry,
// - anything else - entry.
type Page[K, V any] struct {
	index   uint64
	freed   *Entry[K, V]
	entries [types.PageSize]atomic.Pointer[Entry[K, V]]

	appended atomic.Uint64
	deleted  atomic.Uint64
}

// Index returns the handle of the page in the arena.
func (p *Page[K, V]) Index() uint64 {
	return p.index
}

// Appended returns number of slots taken by appends.
func (p *Page[K, V]) Appended() uint64 {
	return min(p.appended.Load(), types.PageSize)
}

// Deleted returns the deletion counter.
func (p *Page[K, V]) Deleted() uint64 {
	return p.deleted.Load()
}

// Size returns number of live entries.
func (p *Page[K, V]) Size() uint64 {
	appended := p.Appended()
	deleted := p.Deleted()
	if deleted >= appended {
		return 0
	}
	return appended - deleted
}

// Entry returns entry stored in the slot or nil if slot is empty.
func (p *Page[K, V]) Entry(slot uint64) *Entry[K, V] {
	e := p.entries[slot].Load()
	if e == p.freed {
		return nil
	}
	return e
}

// IsHole returns true if slot has been freed.
func (p *Page[K, V]) IsHole(slot uint64) bool {
	return p.entries[slot].Load() == p.freed
}

// Place puts entry into the hole.
func (p *Page[K, V]) Place(slot uint64, e *Entry[K, V]) bool {
	if !p.entries[slot].CompareAndSwap(p.freed, e) {
		return false
	}
	p.deleted.Add(^uint64(0))
	return true
}

// Free turns the slot containing the entry into a hole. It returns the new value of the deletion counter or 0
// if entry is no longer stored in the slot.
func (p *Page[K, V]) Free(slot uint64, e *Entry[K, V]) uint64 {
	if e == nil || !p.entries[slot].CompareAndSwap(e, p.freed) {
		return 0
	}
	return p.deleted.Add(1)
}

func (p *Page[K, V]) reserve() (uint64, bool) {
	slot := p.appended.Add(1) - 1
	return slot, slot < types.PageSize
}

func (p *Page[K, V]) clear() {
	for i := range p.entries {
		p.entries[i].Store(nil)
	}
}
