package alloc

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/outofforest/dict/types"
	"github.com/outofforest/mass"
)

const (
	// MaxPages is the maximum number of pages addressable by location.
	MaxPages = (1<<32 - 2) / types.PageSize

	// DefaultPagesPerBatch is the default number of pages allocated at once.
	DefaultPagesPerBatch = 16
)

// Config stores configuration of the arena.
type Config struct {
	PagesPerBatch uint64
}

// NewArena creates page arena.
func NewArena[K, V any](config Config) *Arena[K, V] {
	if config.PagesPerBatch == 0 {
		config.PagesPerBatch = DefaultPagesPerBatch
	}

	a := &Arena[K, V]{
		config:    config,
		massPage:  mass.New[Page[K, V]](config.PagesPerBatch),
		freed:     &Entry[K, V]{},
		freePages: newRing[uint64](config.PagesPerBatch),
	}
	a.pages.Store(&[]*Page[K, V]{})
	return a
}

// Arena stores entries in pages indexed by integer handles.
// Reads are lock-free, mutex is taken only when the set of pages changes.
type Arena[K, V any] struct {
	config Config

	mu        sync.Mutex
	massPage  *mass.Mass[Page[K, V]]
	freed     *Entry[K, V]
	freePages *ring[uint64]

	pages atomic.Pointer[[]*Page[K, V]]
	tail  atomic.Pointer[Page[K, V]]

	greatestAllocatedPage atomic.Uint64
	greatestDeletedPage   atomic.Uint64
	greatestRefilledPage  atomic.Uint64
}

// Pages returns the current set of pages. Freed pages are nil. Returned slice must not be modified.
func (a *Arena[K, V]) Pages() []*Page[K, V] {
	return *a.pages.Load()
}

// Page returns page by its index.
func (a *Arena[K, V]) Page(index uint64) *Page[K, V] {
	pages := a.Pages()
	if index >= uint64(len(pages)) {
		return nil
	}
	return pages[index]
}

// Resolve returns entry stored at location. Nil is returned if location does not point to an entry anymore.
func (a *Arena[K, V]) Resolve(location types.Location) *Entry[K, V] {
	if location == types.InvalidLocation {
		return nil
	}
	p := a.Page(location.Page())
	if p == nil {
		return nil
	}
	return p.Entry(location.Slot())
}

// Reserve creates new entry at the end of the arena.
func (a *Arena[K, V]) Reserve(key K, hash types.Hash, value *V) (types.Location, *Entry[K, V], error) {
	e := NewEntry(key, hash, value)
	location, err := a.Append(e)
	if err != nil {
		return types.InvalidLocation, nil, err
	}
	return location, e, nil
}

// Append stores existing entry at the end of the arena.
func (a *Arena[K, V]) Append(e *Entry[K, V]) (types.Location, error) {
	for {
		p := a.tail.Load()
		if p != nil {
			if slot, ok := p.reserve(); ok {
				p.entries[slot].Store(e)
				return types.NewLocation(p.index, slot), nil
			}
		}
		if err := a.grow(p); err != nil {
			return types.InvalidLocation, err
		}
	}
}

// Discard frees the slot of the entry which has never been published. It returns the page and its new deletion
// counter, or nil if the slot doesn't hold the entry.
func (a *Arena[K, V]) Discard(location types.Location, e *Entry[K, V]) (*Page[K, V], uint64) {
	p := a.Page(location.Page())
	if p == nil {
		return nil, 0
	}
	deleted := p.Free(location.Slot(), e)
	if deleted == 0 {
		return nil, 0
	}
	return p, deleted
}

// FreePage releases empty page and makes its index available for refilling.
func (a *Arena[K, V]) FreePage(index uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	pages := a.Pages()
	if index >= uint64(len(pages)) || pages[index] == nil {
		return errors.Errorf("page %d does not exist", index)
	}
	p := pages[index]
	if p == a.tail.Load() {
		return errors.Errorf("page %d is the tail", index)
	}
	if p.Size() > 0 {
		return errors.Errorf("page %d is not empty", index)
	}

	newPages := make([]*Page[K, V], len(pages))
	copy(newPages, pages)
	newPages[index] = nil
	a.pages.Store(&newPages)

	p.clear()
	a.freePages.Put(index)
	a.greatestDeletedPage.Add(1)
	return nil
}

// IsTail returns true if page is the one new entries are appended to.
func (a *Arena[K, V]) IsTail(p *Page[K, V]) bool {
	return p == a.tail.Load()
}

// GreatestAllocatedPage returns the number of page indices ever allocated.
func (a *Arena[K, V]) GreatestAllocatedPage() uint64 {
	return a.greatestAllocatedPage.Load()
}

// GreatestDeletedPage returns the number of pages freed.
func (a *Arena[K, V]) GreatestDeletedPage() uint64 {
	return a.greatestDeletedPage.Load()
}

// GreatestRefilledPage returns the number of freed page indices reused later.
func (a *Arena[K, V]) GreatestRefilledPage() uint64 {
	return a.greatestRefilledPage.Load()
}

// UsedPages returns the number of pages holding entries.
func (a *Arena[K, V]) UsedPages() uint64 {
	return a.GreatestAllocatedPage() - a.GreatestDeletedPage() + a.GreatestRefilledPage()
}

// Release drops all the pages.
func (a *Arena[K, V]) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.tail.Store(nil)
	a.pages.Store(&[]*Page[K, V]{})
}

func (a *Arena[K, V]) grow(full *Page[K, V]) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tail.Load() != full {
		return nil
	}

	pages := a.Pages()
	var newPages []*Page[K, V]
	index, err := a.freePages.Get()
	if err == nil {
		newPages = make([]*Page[K, V], len(pages))
		copy(newPages, pages)
		a.greatestRefilledPage.Add(1)
	} else {
		if uint64(len(pages)) >= MaxPages {
			return errors.New("out of pages")
		}
		index = uint64(len(pages))
		newPages = make([]*Page[K, V], len(pages), len(pages)+1)
		copy(newPages, pages)
		newPages = append(newPages, nil)
		a.greatestAllocatedPage.Add(1)
	}

	p := a.massPage.New()
	p.index = index
	p.freed = a.freed
	newPages[index] = p

	a.pages.Store(&newPages)
	a.tail.Store(p)
	return nil
}
