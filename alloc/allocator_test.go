package alloc

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/dict/types"
	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
)

func TestReserveAndResolve(t *testing.T) {
	requireT := require.New(t)

	a := NewArena[int, int](Config{})
	requireT.Nil(a.Resolve(types.InvalidLocation))

	location, e, err := a.Reserve(1, 11, lo.ToPtr(111))
	requireT.NoError(err)
	requireT.Equal(types.NewLocation(0, 0), location)
	requireT.Equal(1, e.Key)
	requireT.Equal(types.Hash(11), e.Hash)
	requireT.Equal(111, *e.Value())

	requireT.Same(e, a.Resolve(location))
	requireT.Nil(a.Resolve(types.NewLocation(0, 1)))
	requireT.Nil(a.Resolve(types.NewLocation(5, 0)))

	requireT.EqualValues(1, a.GreatestAllocatedPage())
	requireT.EqualValues(1, a.UsedPages())
}

func TestNewPageIsAllocatedWhenTailIsFull(t *testing.T) {
	requireT := require.New(t)

	a := NewArena[int, int](Config{})
	locations := make([]types.Location, 0, types.PageSize+1)
	for i := range types.PageSize + 1 {
		location, _, err := a.Reserve(i, types.Hash(i), lo.ToPtr(i))
		requireT.NoError(err)
		locations = append(locations, location)
	}

	requireT.EqualValues(2, a.GreatestAllocatedPage())
	requireT.Len(a.Pages(), 2)
	requireT.EqualValues(types.PageSize, a.Page(0).Size())
	requireT.EqualValues(1, a.Page(1).Size())
	requireT.True(a.IsTail(a.Page(1)))

	requireT.Equal(types.NewLocation(1, 0), locations[types.PageSize])
	for i, location := range locations {
		requireT.Equal(i, a.Resolve(location).Key)
	}
}

func TestFreeSlotAndPlace(t *testing.T) {
	requireT := require.New(t)

	a := NewArena[int, int](Config{})
	location, e, err := a.Reserve(1, 1, lo.ToPtr(1))
	requireT.NoError(err)

	p := a.Page(location.Page())
	requireT.False(p.IsHole(location.Slot()))

	// Freeing with wrong entry does nothing.
	requireT.Zero(p.Free(location.Slot(), &Entry[int, int]{}))
	requireT.Zero(p.Free(location.Slot(), nil))

	requireT.EqualValues(1, p.Free(location.Slot(), e))
	requireT.True(p.IsHole(location.Slot()))
	requireT.Nil(a.Resolve(location))
	requireT.Zero(p.Size())

	// Slot can't be freed twice.
	requireT.Zero(p.Free(location.Slot(), e))

	e2 := NewEntry(2, 2, lo.ToPtr(2))
	requireT.True(p.Place(location.Slot(), e2))
	requireT.False(p.Place(location.Slot(), e2))
	requireT.Same(e2, a.Resolve(location))
	requireT.Zero(p.Deleted())
	requireT.EqualValues(1, p.Size())
}

func TestDiscard(t *testing.T) {
	requireT := require.New(t)

	a := NewArena[int, int](Config{})
	location, e, err := a.Reserve(1, 1, lo.ToPtr(1))
	requireT.NoError(err)

	p, deleted := a.Discard(location, e)
	requireT.Same(a.Page(0), p)
	requireT.EqualValues(1, deleted)
	requireT.Nil(a.Resolve(location))
	requireT.EqualValues(1, a.Page(0).Deleted())

	p, deleted = a.Discard(location, e)
	requireT.Nil(p)
	requireT.Zero(deleted)
	requireT.EqualValues(1, a.Page(0).Deleted())
}

func TestFreePageAndRefill(t *testing.T) {
	requireT := require.New(t)

	a := NewArena[int, int](Config{PagesPerBatch: 1})

	entries := make([]*Entry[int, int], 0, types.PageSize)
	locations := make([]types.Location, 0, types.PageSize)
	for i := range 2 * types.PageSize {
		location, e, err := a.Reserve(i, types.Hash(i), lo.ToPtr(i))
		requireT.NoError(err)
		if i < types.PageSize {
			entries = append(entries, e)
			locations = append(locations, location)
		}
	}
	requireT.EqualValues(2, a.GreatestAllocatedPage())

	requireT.Error(a.FreePage(0))
	requireT.Error(a.FreePage(1))
	requireT.Error(a.FreePage(7))

	for i, e := range entries {
		a.Page(0).Free(locations[i].Slot(), e)
	}
	requireT.NoError(a.FreePage(0))
	requireT.Error(a.FreePage(0))
	requireT.Nil(a.Page(0))
	requireT.EqualValues(1, a.GreatestDeletedPage())
	requireT.EqualValues(1, a.UsedPages())

	// Tail is full so the next reservation refills the freed index.
	location, _, err := a.Reserve(-1, 1, lo.ToPtr(-1))
	requireT.NoError(err)
	requireT.Equal(types.NewLocation(0, 0), location)
	requireT.EqualValues(2, a.GreatestAllocatedPage())
	requireT.EqualValues(1, a.GreatestRefilledPage())
	requireT.EqualValues(2, a.UsedPages())

	for range types.PageSize - 1 {
		_, _, err := a.Reserve(-1, 1, lo.ToPtr(-1))
		requireT.NoError(err)
	}

	location, _, err = a.Reserve(-2, 2, lo.ToPtr(-2))
	requireT.NoError(err)
	requireT.Equal(types.NewLocation(2, 0), location)
	requireT.EqualValues(3, a.GreatestAllocatedPage())
	requireT.EqualValues(1, a.GreatestDeletedPage())
	requireT.EqualValues(1, a.GreatestRefilledPage())
	requireT.EqualValues(3, a.UsedPages())
}

func TestRelease(t *testing.T) {
	requireT := require.New(t)

	a := NewArena[int, int](Config{})
	location, _, err := a.Reserve(1, 1, lo.ToPtr(1))
	requireT.NoError(err)

	a.Release()
	requireT.Empty(a.Pages())
	requireT.Nil(a.Resolve(location))
}

func TestConcurrentReserve(t *testing.T) {
	const (
		workers   = 8
		perWorker = 10 * types.PageSize
	)

	requireT := require.New(t)

	a := NewArena[int, int](Config{PagesPerBatch: 2})

	var mu sync.Mutex
	seen := map[types.Location]int{}

	err := parallel.Run(logger.WithLogger(context.Background(), logger.New(logger.DefaultConfig)), func(ctx context.Context, spawn parallel.SpawnFn) error {
		for w := range workers {
			spawn(fmt.Sprintf("worker-%02d", w), parallel.Continue, func(ctx context.Context) error {
				for i := range perWorker {
					key := w*perWorker + i
					location, _, err := a.Reserve(key, types.Hash(key), lo.ToPtr(key))
					if err != nil {
						return err
					}
					mu.Lock()
					seen[location] = key
					mu.Unlock()
				}
				return nil
			})
		}
		return nil
	})
	requireT.NoError(err)

	requireT.Len(seen, workers*perWorker)
	requireT.EqualValues(workers*perWorker/types.PageSize, a.GreatestAllocatedPage())
	for location, key := range seen {
		requireT.Equal(key, a.Resolve(location).Key)
	}
}
