package dict

import (
	"context"
	"math/bits"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/dict/alloc"
	"github.com/outofforest/dict/hash"
	"github.com/outofforest/dict/space"
	"github.com/outofforest/dict/types"
	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
)

// DefaultInitialSize is the size of the index used if nothing else is configured.
const DefaultInitialSize = 8

// ErrInvalidSize is returned if configured size is not a power of two.
var ErrInvalidSize = errors.New("size must be a power of two")

// Config stores dictionary configuration.
type Config[K comparable, V any] struct {
	InitialSize   uint64
	PagesPerBatch uint64

	Hash       func(key K) types.Hash
	Equal      func(stored, key K) (bool, error)
	ValueEqual func(current, expected *V) bool
	Ownership  types.Ownership[K, V]
}

// New creates new dictionary.
func New[K comparable, V any](config Config[K, V]) (*Map[K, V], error) {
	if config.InitialSize == 0 {
		config.InitialSize = DefaultInitialSize
	}
	if bits.OnesCount64(config.InitialSize) != 1 {
		return nil, errors.Wrapf(ErrInvalidSize, "initial size %d", config.InitialSize)
	}
	if config.Hash == nil {
		config.Hash = hash.Key[K]
	}

	s := space.New[K, V](space.Config[K, V]{
		Equal:      config.Equal,
		ValueEqual: config.ValueEqual,
		Ownership:  config.Ownership,
		Arena: alloc.Config{
			PagesPerBatch: config.PagesPerBatch,
		},
	})
	meta, err := s.NewMetadata(config.InitialSize)
	if err != nil {
		return nil, err
	}

	m := &Map[K, V]{
		config:   config,
		space:    s,
		shrinkCh: make(chan struct{}, 1),
	}
	m.gateCond = sync.NewCond(&m.gateMu)
	m.current.Store(meta)
	return m, nil
}

// Map is the concurrent dictionary. Lookups never block, writers wait only while the index is resized.
type Map[K comparable, V any] struct {
	config Config[K, V]
	space  *space.Space[K, V]

	current atomic.Pointer[space.Metadata[K, V]]
	count   atomic.Int64

	resizeMu sync.Mutex
	gateMu   sync.Mutex
	gateCond *sync.Cond
	resizing atomic.Bool
	writers  atomic.Int64

	shrinkCh chan struct{}
}

// Load returns the value stored under the key.
func (m *Map[K, V]) Load(key K) (*V, bool, error) {
	meta := m.acquire()
	defer meta.Release()

	result, err := m.space.Lookup(meta, key, m.config.Hash(key))
	if err != nil {
		return nil, false, err
	}
	return result.Entry.Value, result.Found, nil
}

// Store sets the value of the key.
func (m *Map[K, V]) Store(key K, value *V) error {
	_, err := m.insert(key, space.ExpectAny[V](), value)
	return err
}

// LoadOrStore returns the existing value of the key if present. Otherwise, it stores the value.
func (m *Map[K, V]) LoadOrStore(key K, value *V) (*V, bool, error) {
	result, err := m.insert(key, space.ExpectAbsent[V](), value)
	if err != nil {
		return nil, false, err
	}
	if result.Status == space.StatusExpectationFailed {
		return result.Value, true, nil
	}
	return value, false, nil
}

// CompareAndSwap replaces the value of the key if the current one is equal to old.
func (m *Map[K, V]) CompareAndSwap(key K, old, value *V) (bool, error) {
	if old == nil {
		return false, errors.New("old value must not be nil")
	}
	result, err := m.insert(key, space.ExpectValue(old), value)
	if err != nil {
		return false, err
	}
	return result.Status == space.StatusPrevious, nil
}

// Delete deletes the key. It returns true if key was present.
func (m *Map[K, V]) Delete(key K) (bool, error) {
	m.beginWrite()
	meta := m.current.Load()
	result, err := m.space.Delete(meta, key, m.config.Hash(key))
	m.endWrite()

	if err != nil {
		return false, err
	}
	if result.Status != space.StatusRemoved {
		return false, nil
	}

	count := m.count.Add(-1)
	if result.ShouldShrink || m.underused(uint64(count), meta.Size()) {
		select {
		case m.shrinkCh <- struct{}{}:
		default:
		}
	}
	return true, nil
}

// Len returns the number of keys.
func (m *Map[K, V]) Len() uint64 {
	return uint64(max(m.count.Load(), 0))
}

// Size returns the number of index slots.
func (m *Map[K, V]) Size() uint64 {
	meta := m.acquire()
	defer meta.Release()

	return meta.Size()
}

// Range calls f for each key. If f returns false, iteration stops.
func (m *Map[K, V]) Range(f func(key K, value *V) bool) {
	meta := m.acquire()
	defer meta.Release()

	for e := range m.space.Iterator(meta) {
		if !f(e.Key, e.Value) {
			return
		}
	}
}

// Run runs the maintainer shrinking the index after keys are deleted.
func (m *Map[K, V]) Run(ctx context.Context) error {
	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("shrinker", parallel.Fail, func(ctx context.Context) error {
			log := logger.Get(ctx)
			for {
				select {
				case <-ctx.Done():
					return errors.WithStack(ctx.Err())
				case <-m.shrinkCh:
					old := m.current.Load()
					meta, err := m.resize(old, m.shrinkSize)
					if err != nil {
						return err
					}
					if meta != nil {
						log.Info("Index shrunk",
							zap.Uint64("oldSize", old.Size()),
							zap.Uint64("newSize", meta.Size()),
							zap.Uint64("keys", m.Len()))
					}
				}
			}
		})
		return nil
	})
}

func (m *Map[K, V]) insert(key K, expected space.Expectation[V], value *V) (space.InsertResult[V], error) {
	h := m.config.Hash(key)
	for {
		m.beginWrite()
		meta := m.current.Load()
		result, err := m.space.InsertOrUpdate(meta, key, h, expected, value, nil)
		m.endWrite()

		if err != nil {
			return space.InsertResult[V]{}, err
		}

		switch result.Status {
		case space.StatusMustGrow:
			if _, err := m.resize(meta, m.growSize); err != nil {
				return space.InsertResult[V]{}, err
			}
			continue
		case space.StatusNotFound:
			if count := m.count.Add(1); m.overloaded(uint64(count), meta.Size()) {
				if _, err := m.resize(meta, m.growSize); err != nil {
					return space.InsertResult[V]{}, err
				}
			}
		}
		return result, nil
	}
}

func (m *Map[K, V]) acquire() *space.Metadata[K, V] {
	for {
		if meta := m.current.Load(); meta.Acquire() {
			return meta
		}
	}
}

func (m *Map[K, V]) beginWrite() {
	for {
		if !m.resizing.Load() {
			m.writers.Add(1)
			if !m.resizing.Load() {
				return
			}
			m.writers.Add(-1)
		}

		m.gateMu.Lock()
		for m.resizing.Load() {
			m.gateCond.Wait()
		}
		m.gateMu.Unlock()
	}
}

func (m *Map[K, V]) endWrite() {
	m.writers.Add(-1)
}

// resize replaces the generation with the new one of the size returned by sizeFunc. Nothing is done if old is not
// the current generation anymore or if size doesn't change.
func (m *Map[K, V]) resize(
	old *space.Metadata[K, V],
	sizeFunc func(meta *space.Metadata[K, V]) uint64,
) (*space.Metadata[K, V], error) {
	m.resizeMu.Lock()
	defer m.resizeMu.Unlock()

	if m.current.Load() != old {
		return nil, nil
	}
	m.gateMu.Lock()
	m.resizing.Store(true)
	m.gateMu.Unlock()

	defer func() {
		m.gateMu.Lock()
		m.resizing.Store(false)
		m.gateCond.Broadcast()
		m.gateMu.Unlock()
	}()

	for m.writers.Load() > 0 {
		runtime.Gosched()
	}

	m.space.BeginSyncOp()
	defer m.space.EndSyncOp()

	size := sizeFunc(old)
	if size == old.Size() {
		return nil, nil
	}

	meta, err := m.space.Build(old, size)
	if err != nil {
		return nil, errors.Wrapf(err, "resizing index from %d to %d", old.Size(), size)
	}
	m.space.Forward(old, meta)
	m.current.Store(meta)
	old.Release()

	return meta, nil
}

func (m *Map[K, V]) growSize(meta *space.Metadata[K, V]) uint64 {
	return 2 * meta.Size()
}

// shrinkSize is called when writers are stopped so the number of entries is exact.
func (m *Map[K, V]) shrinkSize(meta *space.Metadata[K, V]) uint64 {
	target := max(m.config.InitialSize, nextPowerOfTwo(2*meta.Len()))
	if target >= meta.Size() {
		return meta.Size()
	}
	return target
}

// overloaded returns true if more than 2/3 of slots are taken.
func (m *Map[K, V]) overloaded(count, size uint64) bool {
	return 3*count >= 2*size
}

// underused returns true if less than 1/8 of slots are taken.
func (m *Map[K, V]) underused(count, size uint64) bool {
	return size > m.config.InitialSize && 8*count <= size
}

func nextPowerOfTwo(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len64(n-1)
}
