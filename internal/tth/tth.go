// Package tth implements Tiger Tree Hash: leaf/node hashing, the
// rollup-to-root used for the content-address in spec.md §3's DLItem, and
// the "TTHL" block array used for segmented verification in spec.md §4.3.
//
// The Tiger primitive itself comes from github.com/direct-connect/go-dc/tiger
// (the same algorithm used by every other Direct Connect client); only the
// tree construction, compaction, and verification logic here is ours.
package tth

import (
	"encoding/base32"
	"errors"

	"github.com/direct-connect/go-dc/tiger"
)

// Size is the byte length of a TTH root or leaf hash.
const Size = 24

// LeafSize is the native Tiger-tree leaf block size in bytes.
const LeafSize = 1024

// MinBlockSize is the minimum block size a compacted TTHL entry may
// represent (spec.md §4.3).
const MinBlockSize = 1024 * 1024

// MinTTHLSize is the file-size threshold below which TTHL acquisition is
// skipped in favor of a synthetic single-block hash equal to the root
// (spec.md §4.3).
const MinTTHLSize = 2 * 1024 * 1024

// Hash is a 24-byte Tiger Tree Hash value (leaf, node, or root).
type Hash [Size]byte

// String renders h as unpadded base32, the wire form used throughout NMDC
// and ADC ("TTH:<base32>", "TR<base32>").
func (h Hash) String() string {
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(h[:])
}

// ParseHash decodes a 39-character unpadded base32 TTH as used on the wire
// and in files.xml (spec.md §4.5).
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != Size {
		return h, errBadLength
	}
	copy(h[:], b)
	return h, nil
}

var errBadLength = errors.New("tth: decoded hash is not 24 bytes")

const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// HashLeaf computes the Tiger hash of one leaf block: Tiger(0x00 || data).
func HashLeaf(data []byte) Hash {
	h := tiger.New()
	h.Write([]byte{leafPrefix})
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// HashNode combines two child hashes: Tiger(0x01 || left || right).
func HashNode(left, right Hash) Hash {
	h := tiger.New()
	h.Write([]byte{nodePrefix})
	h.Write(left[:])
	h.Write(right[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Leaves splits data into native LeafSize blocks and hashes each one.
func Leaves(data []byte) []Hash {
	n := (len(data) + LeafSize - 1) / LeafSize
	if n == 0 {
		n = 1
	}
	out := make([]Hash, 0, n)
	for i := 0; i < len(data); i += LeafSize {
		end := i + LeafSize
		if end > len(data) {
			end = len(data)
		}
		out = append(out, HashLeaf(data[i:end]))
	}
	if len(out) == 0 {
		out = append(out, HashLeaf(nil))
	}
	return out
}

// rollupLevel combines adjacent pairs of hashes into one level up the tree.
// An odd hash out is promoted unchanged, per the standard THEX rule.
func rollupLevel(level []Hash) []Hash {
	if len(level) <= 1 {
		return level
	}
	out := make([]Hash, 0, (len(level)+1)/2)
	i := 0
	for ; i+1 < len(level); i += 2 {
		out = append(out, HashNode(level[i], level[i+1]))
	}
	if i < len(level) {
		out = append(out, level[i])
	}
	return out
}

// Root rolls leaves all the way up to a single root hash (spec.md Testable
// Property 2).
func Root(leaves []Hash) Hash {
	level := leaves
	for len(level) > 1 {
		level = rollupLevel(level)
	}
	if len(level) == 0 {
		return HashLeaf(nil)
	}
	return level[0]
}

// RootOfBytes is a convenience wrapper computing the TTH root of an
// in-memory buffer.
func RootOfBytes(data []byte) Hash {
	return Root(Leaves(data))
}

// BlockSize returns the compacted block size for a file of the given size
// and native leaf count, per spec.md §4.3: combine leaves in groups of 4
// repeatedly until the block size is >= MinBlockSize.
func BlockSize(size int64, leafCount int) int64 {
	if size < MinTTHLSize {
		return size
	}
	bs := int64(LeafSize)
	n := leafCount
	for bs < MinBlockSize && n > 1 {
		bs *= 4
		n = (n + 3) / 4
	}
	return bs
}

// Compact repeatedly rolls up groups of 4 adjacent leaves (two pairwise
// rollup levels) until the resulting block size is >= MinBlockSize. leaves
// must be at blockSize granularity already (pass LeafSize for a raw,
// native-granularity TTHL; a caller re-compacting an already-compacted
// array must pass that array's current block size, not LeafSize, or the
// loop below over-shoots it). Compact returns the compacted array and the
// block size each entry represents. The root of the compacted array is
// identical to Root(leaves) (Testable Property 2 / the TTH compact
// scenario in spec.md §8).
func Compact(leaves []Hash, blockSize int64) ([]Hash, int64) {
	level := leaves
	bs := blockSize
	for bs < MinBlockSize && len(level) > 1 {
		level = rollupLevel(rollupLevel(level))
		bs *= 4
	}
	return level, bs
}

// Verify reports whether rolling leaves (which may already be a compacted
// TTHL array) up to the root reproduces want.
func Verify(leaves []Hash, want Hash) bool {
	return Root(leaves) == want
}
