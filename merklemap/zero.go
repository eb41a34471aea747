// Package merklemap implements the authenticated delegation set: a sparse
// Merkle map over the full 254-bit key space of BN254 scalar field elements,
// where each leaf holds a single bit. Every state of the map is identified by
// its root, and membership witnesses against a root can be re-evaluated
// without access to the map itself.
package merklemap

import (
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// Depth is the number of levels between a leaf and the root. Keys are MiMC
// digests and therefore canonical field elements, so 254 bits cover the whole
// key space.
const Depth = 254

var (
	zeroOnce   sync.Once
	zeroHashes [Depth + 1][32]byte
)

// zeroHash returns the hash of an all-empty subtree of the given height.
// Height 0 is the empty leaf itself.
func zeroHash(level int) [32]byte {
	zeroOnce.Do(func() {
		zeroHashes[0] = leafBytes(0)
		for i := 1; i <= Depth; i++ {
			zeroHashes[i] = hashNodes(zeroHashes[i-1], zeroHashes[i-1])
		}
	})
	return zeroHashes[level]
}

// EmptyRoot is the well-known root of the map holding no delegations. Every
// verifier can compute it without a trusted setup or a reference map.
func EmptyRoot() [32]byte {
	return zeroHash(Depth)
}

// hashNodes combines two child digests into their parent. Inputs are always
// canonical field encodings, so the writes cannot fail.
func hashNodes(left, right [32]byte) [32]byte {
	h := mimc.NewMiMC()
	_, _ = h.Write(left[:])
	_, _ = h.Write(right[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// leafBytes encodes a leaf value as a canonical field element.
func leafBytes(value uint8) [32]byte {
	var out [32]byte
	out[31] = value
	return out
}

// keyBit extracts bit i of the key interpreted as a big-endian integer. Bit 0
// selects the leaf's position within the lowest tree level.
func keyBit(key [32]byte, i int) byte {
	return (key[31-i/8] >> (uint(i) % 8)) & 1
}
