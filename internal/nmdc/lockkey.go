package nmdc

import "fmt"

// literalBytes are the byte values that must be emitted as the literal
// "/%DCNnnn%/" escape sequence when serializing a $Key payload, per
// spec.md §4.1.
var literalBytes = map[byte]bool{
	0: true, 5: true, 36: true, 96: true, 124: true, 126: true,
}

// Key computes the $Key response to a $Lock challenge, per the transform
// documented in spec.md §4.1:
//
//  1. byte0 = lock[0] ^ lock[L-1] ^ lock[L-2] ^ 5
//  2. for i from L-1 down to 1: lock[i] ^= lock[i-1]
//  3. lock[0] = byte0
//  4. swap the nibbles of every byte
//  5. bytes in {0,5,36,96,124,126} are emitted as "/%DCNnnn%/"; all
//     others verbatim.
//
// lock must be at least 3 bytes long.
func Key(lock []byte) ([]byte, error) {
	n := len(lock)
	if n < 3 {
		return nil, fmt.Errorf("nmdc: lock too short (%d bytes, need >= 3)", n)
	}
	buf := make([]byte, n)
	copy(buf, lock)

	byte0 := buf[0] ^ buf[n-1] ^ buf[n-2] ^ 5
	for i := n - 1; i >= 1; i-- {
		buf[i] ^= buf[i-1]
	}
	buf[0] = byte0

	for i := range buf {
		buf[i] = ((buf[i] << 4) & 0xF0) | ((buf[i] >> 4) & 0x0F)
	}

	out := make([]byte, 0, n)
	for _, b := range buf {
		if literalBytes[b] {
			out = append(out, []byte(fmt.Sprintf("/%%DCN%03d%%/", b))...)
		} else {
			out = append(out, b)
		}
	}
	return out, nil
}
