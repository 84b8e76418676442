package space

import (
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sys/cpu"

	"github.com/outofforest/dict/alloc"
	"github.com/outofforest/dict/types"
)

// ErrCompare is returned when key equality predicate fails.
var ErrCompare = errors.New("key comparison failed")

// Config stores space configuration.
type Config[K comparable, V any] struct {
	// Equal compares stored key with the requested one. It is called only if keys are not identical.
	Equal func(stored, key K) (bool, error)

	// ValueEqual decides if current value matches the expected one. Pointer identity is used if nil.
	ValueEqual func(current, expected *V) bool

	Ownership types.Ownership[K, V]
	Arena     alloc.Config
}

// New creates new space.
func New[K comparable, V any](config Config[K, V]) *Space[K, V] {
	if config.Ownership == nil {
		config.Ownership = types.NoOwnership[K, V]{}
	}
	return &Space[K, V]{
		config: config,
	}
}

// Space implements operations on the generations of the table.
type Space[K comparable, V any] struct {
	config Config[K, V]
	syncMu sync.Mutex
}

// BeginSyncOp enters the region serializing page compaction and resize.
func (s *Space[K, V]) BeginSyncOp() {
	s.syncMu.Lock()
}

// EndSyncOp leaves the sync region.
func (s *Space[K, V]) EndSyncOp() {
	s.syncMu.Unlock()
}

// NewMetadata creates empty generation of the table.
func (s *Space[K, V]) NewMetadata(size uint64) (*Metadata[K, V], error) {
	if size == 0 || bits.OnesCount64(size) != 1 {
		return nil, errors.Errorf("size %d is not a power of two", size)
	}

	m := &Metadata[K, V]{
		size:  size,
		mask:  size - 1,
		index: make([]types.Node, size),
		arena: alloc.NewArena[K, V](s.config.Arena),
	}
	m.isCompact.Store(true)
	m.maxD.Store(1)
	m.refs.Store(1)
	return m, nil
}

// Reserve creates entry in the arena of the generation. Entry is not visible until it is installed by insert.
func (s *Space[K, V]) Reserve(meta *Metadata[K, V], key K, hash types.Hash, value *V) (*Reservation[K, V], error) {
	location, e, err := meta.arena.Reserve(key, hash, value)
	if err != nil {
		return nil, err
	}
	return &Reservation[K, V]{
		Location: location,
		Entry:    e,
	}, nil
}

func (s *Space[K, V]) equal(stored, key K) (bool, error) {
	if stored == key {
		return true, nil
	}
	if s.config.Equal == nil {
		return false, nil
	}
	eq, err := s.config.Equal(stored, key)
	if err != nil {
		return false, errors.Wrapf(ErrCompare, "comparing keys %v and %v: %s", stored, key, err)
	}
	return eq, nil
}

func (s *Space[K, V]) valueEqual(current, expected *V) bool {
	if current == expected {
		return true
	}
	if s.config.ValueEqual == nil {
		return false
	}
	return s.config.ValueEqual(current, expected)
}

// Reservation is the entry appended to the arena but not yet linked from the index.
type Reservation[K comparable, V any] struct {
	Location types.Location
	Entry    *alloc.Entry[K, V]
}

// Metadata is one generation of the table.
type Metadata[K comparable, V any] struct {
	size  uint64
	mask  uint64
	index []types.Node
	arena *alloc.Arena[K, V]

	_         cpu.CacheLinePad
	isCompact atomic.Bool
	maxD      atomic.Uint64
	_         cpu.CacheLinePad

	refs          atomic.Int64
	newGen        atomic.Pointer[Metadata[K, V]]
	migrationDone atomic.Bool
}

// Size returns the number of index slots.
func (m *Metadata[K, V]) Size() uint64 {
	return m.size
}

// IsCompact returns true if probe chains are kept in Robin-Hood order.
func (m *Metadata[K, V]) IsCompact() bool {
	return m.isCompact.Load()
}

// MaxD returns the value one past the greatest displacement of compact node.
func (m *Metadata[K, V]) MaxD() uint64 {
	return m.maxD.Load()
}

// Arena returns entry storage of the generation.
func (m *Metadata[K, V]) Arena() *alloc.Arena[K, V] {
	return m.arena
}

// NewGen returns the generation this one has been migrated to.
func (m *Metadata[K, V]) NewGen() *Metadata[K, V] {
	return m.newGen.Load()
}

// MigrationDone returns true if all the entries are available in the new generation.
func (m *Metadata[K, V]) MigrationDone() bool {
	return m.migrationDone.Load()
}

// Acquire takes the reference to the generation. False is returned if generation has been released already.
func (m *Metadata[K, V]) Acquire() bool {
	for {
		refs := m.refs.Load()
		if refs <= 0 {
			return false
		}
		if m.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

// Release drops the reference to the generation. Generation released by everyone after migration frees its
// pages and the reference to the new generation.
func (m *Metadata[K, V]) Release() {
	if m.refs.Add(-1) != 0 {
		return
	}
	if !m.migrationDone.Load() {
		return
	}
	m.arena.Release()
	if next := m.newGen.Load(); next != nil {
		next.Release()
	}
}

// Len returns the number of live entries stored in the arena.
func (m *Metadata[K, V]) Len() uint64 {
	var n uint64
	for _, p := range m.arena.Pages() {
		if p != nil {
			n += p.Size()
		}
	}
	return n
}

func (m *Metadata[K, V]) raiseMaxD(d uint64) {
	for {
		maxD := m.maxD.Load()
		if maxD > d || m.maxD.CompareAndSwap(maxD, d+1) {
			return
		}
	}
}

func (m *Metadata[K, V]) shouldShrink() bool {
	return m.arena.UsedPages()*types.PageSize*100 <= m.size*types.MinUsedPercent
}

// Entry is the snapshot of the entry found in the table.
type Entry[K comparable, V any] struct {
	Key   K
	Value *V
	Hash  types.Hash
}

// Status is the outcome of the operation.
type Status uint8

// Statuses.
const (
	StatusNotFound Status = iota
	StatusPrevious
	StatusExpectationFailed
	StatusMustGrow
	StatusRemoved
)

func (s Status) String() string {
	switch s {
	case StatusNotFound:
		return "not-found"
	case StatusPrevious:
		return "previous"
	case StatusExpectationFailed:
		return "expectation-failed"
	case StatusMustGrow:
		return "must-grow"
	case StatusRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

type expectationMode uint8

const (
	expectAbsent expectationMode = iota
	expectAny
	expectValue
)

// Expectation defines what must be stored under the key for the insert to succeed.
type Expectation[V any] struct {
	mode  expectationMode
	value *V
}

// ExpectAbsent requires the key to be absent.
func ExpectAbsent[V any]() Expectation[V] {
	return Expectation[V]{mode: expectAbsent}
}

// ExpectAny accepts whatever is stored under the key.
func ExpectAny[V any]() Expectation[V] {
	return Expectation[V]{mode: expectAny}
}

// ExpectValue requires the key to be present with the value. Nil value means the key must be absent.
func ExpectValue[V any](value *V) Expectation[V] {
	if value == nil {
		return ExpectAbsent[V]()
	}
	return Expectation[V]{mode: expectValue, value: value}
}

func (e Expectation[V]) mayInsert() bool {
	return e.mode != expectValue
}
