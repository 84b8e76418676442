package dict_test

import (
	"sync/atomic"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/dict"
)

// go test -bench=. -run=^$ -cpuprofile profile.out
// go tool pprof -http="localhost:8000" pprofbin ./profile.out

func BenchmarkStore(b *testing.B) {
	m, err := dict.New[uint64, uint64](dict.Config[uint64, uint64]{})
	require.NoError(b, err)

	var key atomic.Uint64

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			k := key.Add(1)
			if err := m.Store(k, lo.ToPtr(k)); err != nil {
				panic(err)
			}
		}
	})
}

func BenchmarkLoad(b *testing.B) {
	const count = 1 << 16

	m, err := dict.New[uint64, uint64](dict.Config[uint64, uint64]{
		InitialSize: 2 * count,
	})
	require.NoError(b, err)

	for i := range uint64(count) {
		require.NoError(b, m.Store(i, lo.ToPtr(i)))
	}

	var key atomic.Uint64

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, _, err := m.Load(key.Add(1) % count); err != nil {
				panic(err)
			}
		}
	})
}
