package types

import (
	"sync/atomic"
)

const (
	// UInt64Length is the number of bytes taken by uint64.
	UInt64Length = 8

	// PageSize is the number of entries stored in one page.
	PageSize = 64

	// MaxDistance is the greatest value the distance field of a node may take. Node carrying it has been placed
	// outside the Robin-Hood order.
	MaxDistance = 0xffff

	// MinUsedPercent defines the minimum percentage of index slots covered by used pages. Below that the table
	// should be shrunk.
	MinUsedPercent = 25

	distanceShift = 32
	tagShift      = 48
	locationMask  = 1<<distanceShift - 1
	distanceMask  = MaxDistance
)

type (
	// Hash is the hash of a key.
	Hash uint64

	// Tag is the truncated hash fragment stored in the index node.
	Tag uint16

	// Location references the entry stored in the page arena. Zero is reserved.
	Location uint32

	// Node is the content of the index slot.
	Node uint64
)

// InvalidLocation is the reserved location never pointing to an entry.
const InvalidLocation Location = 0

const (
	// Empty is the node of a never used slot.
	Empty Node = 0

	// Tombstone is the node of a slot whose entry has been deleted.
	Tombstone Node = 1 << distanceShift
)

// TagOf returns the tag of the hash.
func TagOf(hash Hash) Tag {
	return Tag(hash >> tagShift)
}

// NewLocation returns location of the slot in the page.
func NewLocation(page, slot uint64) Location {
	return Location(page*PageSize + slot + 1)
}

// Page returns the index of the page.
func (l Location) Page() uint64 {
	return (uint64(l) - 1) / PageSize
}

// Slot returns the index of the slot inside the page.
func (l Location) Slot() uint64 {
	return (uint64(l) - 1) % PageSize
}

// NewNode creates occupied node.
func NewNode(location Location, distance uint64, tag Tag) Node {
	if distance > MaxDistance {
		distance = MaxDistance
	}
	return Node(location) | Node(distance)<<distanceShift | Node(tag)<<tagShift
}

// Location returns the location of the entry referenced by the node.
func (n Node) Location() Location {
	return Location(n & locationMask)
}

// Distance returns the displacement of the node from its home slot.
func (n Node) Distance() uint64 {
	return uint64(n>>distanceShift) & distanceMask
}

// Tag returns the tag stored in the node.
func (n Node) Tag() Tag {
	return Tag(n >> tagShift)
}

// IsEmpty returns true if slot has never been used.
func (n Node) IsEmpty() bool {
	return n == Empty
}

// IsTombstone returns true if node marks deleted entry.
func (n Node) IsTombstone() bool {
	return n != Empty && n.Location() == InvalidLocation
}

// IsOccupied returns true if node references an entry.
func (n Node) IsOccupied() bool {
	return n.Location() != InvalidLocation
}

// IsNonCompact returns true if node breaks the Robin-Hood order of the probe chain.
func (n Node) IsNonCompact() bool {
	return n.IsTombstone() || (n.IsOccupied() && n.Distance() == MaxDistance)
}

// WithLocation returns the same node pointing to another location.
func (n Node) WithLocation(location Location) Node {
	return n&^locationMask | Node(location)
}

// Load loads the node atomically.
func Load(n *Node) Node {
	return Node(atomic.LoadUint64((*uint64)(n)))
}

// Store stores the node atomically.
func Store(n *Node, value Node) {
	atomic.StoreUint64((*uint64)(n), uint64(value))
}

// CompareAndSwap swaps the node if it still contains the old value.
func CompareAndSwap(n *Node, old, value Node) bool {
	return atomic.CompareAndSwapUint64((*uint64)(n), uint64(old), uint64(value))
}

// Ownership is the reference counting service managing lifetime of keys and values.
type Ownership[K, V any] interface {
	AcquireKey(key K)
	ReleaseKey(key K)
	AcquireValue(value *V)
	ReleaseValue(value *V)
}

// NoOwnership is used when keys and values are managed by the garbage collector only.
type NoOwnership[K, V any] struct{}

// AcquireKey does nothing.
func (NoOwnership[K, V]) AcquireKey(K) {}

// ReleaseKey does nothing.
func (NoOwnership[K, V]) ReleaseKey(K) {}

// AcquireValue does nothing.
func (NoOwnership[K, V]) AcquireValue(*V) {}

// ReleaseValue does nothing.
func (NoOwnership[K, V]) ReleaseValue(*V) {}
