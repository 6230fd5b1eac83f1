// Package merkle computes the binary Merkle tree root over an ordered
// list of leaves, used for a block's transaction root and the state
// machine's per-height state root (spec.md §3, §4.2). Adapted from the
// teacher's simple_tree.go; leaf/inner domain separation (0x00/0x01
// prefix) follows the same scheme so an implementation cannot claim an
// inner node hash is a leaf hash or vice versa.
package merkle

import (
	"crypto/sha256"
	"math/bits"
)

// HashFromByteSlices computes a Merkle tree root where the leaves are
// the given byte slices, in the provided order.
func HashFromByteSlices(items [][]byte) []byte {
	switch len(items) {
	case 0:
		return nil
	case 1:
		return leafHash(items[0])
	default:
		k := getSplitPoint(len(items))
		left := HashFromByteSlices(items[:k])
		right := HashFromByteSlices(items[k:])
		return innerHash(left, right)
	}
}

// HashFromByteSlicesIterative is an iterative alternative to
// HashFromByteSlices for large leaf sets, avoiding recursion depth
// proportional to tree height.
func HashFromByteSlicesIterative(input [][]byte) []byte {
	items := make([][]byte, len(input))
	for i, leaf := range input {
		items[i] = leafHash(leaf)
	}

	size := len(items)
	for {
		switch size {
		case 0:
			return nil
		case 1:
			return items[0]
		default:
			rp, wp := 0, 0
			for rp < size {
				if rp+1 < size {
					items[wp] = innerHash(items[rp], items[rp+1])
					rp += 2
				} else {
					items[wp] = items[rp]
					rp++
				}
				wp++
			}
			size = wp
		}
	}
}

func leafHash(leaf []byte) []byte {
	buf := make([]byte, 0, len(leaf)+1)
	buf = append(buf, 0x00)
	buf = append(buf, leaf...)
	sum := sha256.Sum256(buf)
	return sum[:]
}

func innerHash(left, right []byte) []byte {
	buf := make([]byte, 0, len(left)+len(right)+1)
	buf = append(buf, 0x01)
	buf = append(buf, left...)
	buf = append(buf, right...)
	sum := sha256.Sum256(buf)
	return sum[:]
}

// getSplitPoint returns the largest power of 2 strictly less than length.
func getSplitPoint(length int) int {
	if length < 1 {
		panic("merkle: cannot split a tree of size < 1")
	}
	bitlen := bits.Len(uint(length))
	k := 1 << uint(bitlen-1)
	if k == length {
		k >>= 1
	}
	return k
}
