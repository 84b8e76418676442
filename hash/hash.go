package hash

import (
	"unsafe"

	"github.com/cespare/xxhash"

	"github.com/outofforest/dict/types"
	"github.com/outofforest/photon"
)

// Key computes hash of the key.
// Strings are hashed by content, any other key is hashed by its memory representation, so keys
// containing pointers are hashed by identity of the pointed objects.
func Key[K comparable](key K) types.Hash {
	if k, ok := any(key).(string); ok {
		return String(k)
	}

	size := int(unsafe.Sizeof(key))
	if size == 0 {
		return types.Hash(xxhash.Sum64(nil))
	}
	return types.Hash(xxhash.Sum64(photon.SliceFromPointer[byte](unsafe.Pointer(&key), size)))
}

// String computes hash of the string.
func String(s string) types.Hash {
	return Bytes(unsafe.Slice(unsafe.StringData(s), len(s)))
}

// Bytes computes hash of the byte slice.
func Bytes(b []byte) types.Hash {
	return types.Hash(xxhash.Sum64(b))
}
