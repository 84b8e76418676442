package space

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/dict/types"
)

func TestMergeRevertsEntryDeletedConcurrently(t *testing.T) {
	requireT := require.New(t)

	st := NewSpaceTest[int, int](t, Config[int, int]{}, 256)
	s := st.Space()
	meta := st.Meta()

	// Key i is stored at index position i, page i/PageSize.
	for i := range 2 * types.PageSize {
		st.Set(i, types.Hash(i), lo.ToPtr(i))
	}
	st.Set(200, 200, lo.ToPtr(200))

	for i := types.PageSize; i < types.PageSize+types.PageSize/2; i++ {
		requireT.Equal(StatusRemoved, st.Delete(i, types.Hash(i)).Status)
	}

	p0 := meta.arena.Page(0)
	p1 := meta.arena.Page(1)
	requireT.EqualValues(types.PageSize/2, p1.Deleted())

	// Deleter cleared the value of key 0 and tombstoned its node but hasn't freed the page slot yet.
	e := p0.Entry(0)
	requireT.True(e.CompareAndSwapValue(e.Value(), nil))
	types.Store(&meta.index[0], types.Tombstone)

	s.BeginSyncOp()
	s.Merge(meta, p0, p1, nil)
	s.EndSyncOp()

	requireT.Same(e, p0.Entry(0))
	requireT.True(p1.IsHole(0))
	requireT.EqualValues(types.PageSize-1, p1.Size())
	requireT.EqualValues(types.PageSize/2+1, p0.Size())

	for i := 1; i < types.PageSize/2; i++ {
		found := st.Find(i, types.Hash(i))
		requireT.True(found.Found)
		requireT.Equal(types.NewLocation(1, uint64(i)), found.Location)
	}
	for i := types.PageSize / 2; i < types.PageSize; i++ {
		found := st.Find(i, types.Hash(i))
		requireT.True(found.Found)
		requireT.Equal(types.NewLocation(0, uint64(i)), found.Location)
	}
	_, exists := st.Get(0, 0)
	requireT.False(exists)
}

func TestRelocateFollowsNode(t *testing.T) {
	requireT := require.New(t)

	st := NewSpaceTest[int, int](t, Config[int, int]{}, 16)
	s := st.Space()
	meta := st.Meta()

	st.Set(1, 3, lo.ToPtr(1))
	st.Set(2, 3, lo.ToPtr(2))

	found := st.Find(2, 3)
	requireT.True(found.Found)
	requireT.EqualValues(4, found.Position)

	to := types.NewLocation(5, 5)
	requireT.True(s.relocate(meta, found.entry, found.Location, to))
	requireT.Equal(to, st.Node(4).Location())
	requireT.Equal(found.Node.Distance(), st.Node(4).Distance())

	// Nothing references the old location anymore.
	requireT.False(s.relocate(meta, found.entry, found.Location, to))
}

func TestResolveSkipsLocationOfRefilledPage(t *testing.T) {
	requireT := require.New(t)

	st := NewSpaceTest[int, int](t, Config[int, int]{}, 256)
	s := st.Space()
	meta := st.Meta()

	// Key i is stored at index position i, page i/PageSize.
	for i := range 3 * types.PageSize {
		st.Set(i, types.Hash(i), lo.ToPtr(i))
	}
	st.Set(200, 200, lo.ToPtr(200))

	stale := st.Node(5)
	requireT.Equal(types.NewLocation(0, 5), stale.Location())
	e := meta.arena.Resolve(stale.Location())
	requireT.NotNil(e)

	// Page 0 is merged into pages 1 and 2 and freed.
	for i := types.PageSize; i < types.PageSize+types.PageSize/2; i++ {
		requireT.Equal(StatusRemoved, st.Delete(i, types.Hash(i)).Status)
	}
	for i := 2 * types.PageSize; i < 2*types.PageSize+types.PageSize/2; i++ {
		requireT.Equal(StatusRemoved, st.Delete(i, types.Hash(i)).Status)
	}
	requireT.Nil(meta.arena.Page(0))
	requireT.Equal(types.NewLocation(1, 5), st.Node(5).Location())

	// Tail is filled up so index of page 0 is reused.
	for i := range types.PageSize + 5 {
		_, err := s.Reserve(meta, 1000+i, types.Hash(1000+i), lo.ToPtr(i))
		requireT.NoError(err)
	}
	requireT.NotNil(meta.arena.Page(0))
	unrelated := meta.arena.Resolve(stale.Location())
	requireT.NotNil(unrelated)
	requireT.NotSame(e, unrelated)

	resolved, node := s.resolve(meta, 5, stale, stale.Tag())
	requireT.Same(e, resolved)
	requireT.Equal(st.Node(5), node)

	found := st.Find(5, 5)
	requireT.True(found.Found)
	requireT.Equal(5, *found.Entry.Value)
}
