package tth

import (
	"testing"
)

func TestBlockSizeAboveThreshold(t *testing.T) {
	const size = 4 * 1024 * 1024
	leaves := Leaves(make([]byte, size))
	bs := BlockSize(size, len(leaves))
	if bs < MinBlockSize {
		t.Fatalf("expected block size >= %d, got %d", MinBlockSize, bs)
	}
}

func TestCompactPreservesRoot(t *testing.T) {
	const size = 8 * 1024 * 1024 // 8 MiB -> 8 native blocks once compacted to 1 MiB
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	leaves := Leaves(data)
	root := Root(leaves)

	compacted, bs := Compact(leaves, LeafSize)
	if len(compacted) != 8 {
		t.Fatalf("expected compaction to 8 blocks of 1 MiB, got %d (block size %d)", len(compacted), bs)
	}
	if bs != MinBlockSize {
		t.Fatalf("expected block size %d, got %d", MinBlockSize, bs)
	}
	if !Verify(compacted, root) {
		t.Fatal("compacted tree does not roll up to the original root")
	}

	// Re-compacting an already-compacted array must start from its own
	// granularity, not assume native leaves, or it over-shoots.
	recompacted, bs2 := Compact(compacted, bs)
	if len(recompacted) != len(compacted) || bs2 != bs {
		t.Fatalf("re-compacting an already-settled array should be a no-op, got %d blocks at size %d", len(recompacted), bs2)
	}
}

func TestHashStringRoundTrip(t *testing.T) {
	h := RootOfBytes([]byte("the quick brown fox"))
	s := h.String()
	if len(s) != 39 {
		t.Fatalf("expected 39-character base32 TTH, got %d: %q", len(s), s)
	}
	back, err := ParseHash(s)
	if err != nil {
		t.Fatal(err)
	}
	if back != h {
		t.Fatalf("round trip mismatch: %x vs %x", back, h)
	}
}

func TestZeroHashFilesXMLExample(t *testing.T) {
	// files.xml round-trip scenario in spec.md §8 uses an all-zeros TTH.
	var h Hash
	s := h.String()
	back, err := ParseHash(s)
	if err != nil {
		t.Fatal(err)
	}
	if back != h {
		t.Fatalf("all-zero hash did not round trip: %x", back)
	}
}
