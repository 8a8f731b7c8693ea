package nmdc

import (
	"strings"
	"testing"
)

func TestKeyDeterministic(t *testing.T) {
	lock := []byte("EXTENDEDPROTOCOLABCABCABCABCABCABC Pk=dcshare0.1")
	k1, err := Key(lock)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := Key(lock)
	if err != nil {
		t.Fatal(err)
	}
	if string(k1) != string(k2) {
		t.Fatal("Key is not deterministic for the same input")
	}
}

func TestKeyRejectsShortLock(t *testing.T) {
	if _, err := Key([]byte("ab")); err == nil {
		t.Fatal("expected error for lock shorter than 3 bytes")
	}
}

// TestKeyLiteralEscaping checks Testable Property 4 from spec.md §8: any
// byte in {0,5,36,96,124,126} appears in the emitted key only as part of
// the literal "/%DCNnnn%/" sequence, never as a raw byte.
func TestKeyLiteralEscaping(t *testing.T) {
	inputs := [][]byte{
		[]byte("EXTENDEDPROTOCOLABCABCABCABCABCABC"),
		[]byte("EXTENDEDPROTOCOLABCABCABCABCABCABC Pk=dcshare0.1"),
		[]byte("abcdefghijklmnopqrstuvwxyz0123456789"),
		{1, 2, 3},
		{0, 0, 0, 0, 0},
	}
	for _, in := range inputs {
		key, err := Key(in)
		if err != nil {
			t.Fatalf("Key(%q): %v", in, err)
		}
		s := string(key)
		// Strip every literal escape occurrence; what remains must not
		// contain any of the literal-triggering byte values, nor a
		// dangling "/%DCN" fragment.
		stripped := s
		for stripped != "" {
			idx := strings.Index(stripped, "/%DCN")
			if idx == -1 {
				break
			}
			end := idx + len("/%DCNnnn%/")
			if end > len(stripped) {
				t.Fatalf("truncated literal escape in key %q", s)
			}
			stripped = stripped[:idx] + stripped[end:]
		}
		for _, b := range []byte(stripped) {
			if literalBytes[b] {
				t.Fatalf("byte %d appears outside literal escape in key %q (input %q)", b, s, in)
			}
		}
	}
}

func TestKeyDistinctFromLock(t *testing.T) {
	lock := []byte("EXTENDEDPROTOCOLABCABCABCABCABCABC")
	key, err := Key(lock)
	if err != nil {
		t.Fatal(err)
	}
	if string(key) == string(lock) {
		t.Fatal("Key should transform the lock, not return it unchanged")
	}
}
