// Package nmdc implements the legacy NeoModus Direct Connect wire codec:
// '|'-terminated ASCII-ish framing, the text escaping rules, and the
// Lock->Key handshake transform (spec.md §4.1, §6).
package nmdc

import "strings"

const (
	// Terminator ends every NMDC message on the wire.
	Terminator = '|'
)

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"$", "&#36;",
	"|", "&#124;",
)

var unescaper = strings.NewReplacer(
	"&#36;", "$",
	"&#124;", "|",
	"&amp;", "&",
)

// Escape encodes user-visible text for inclusion in an NMDC message body,
// per spec.md §4.1.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Unescape reverses Escape. Unlike Escape it must handle "&amp;" last so
// that a literal "&amp;#36;" in the wild does not get double-decoded; we
// achieve this the same way the encoding side does, with a single
// left-to-right replacer pass, since NMDC never nests these escapes.
func Unescape(s string) string {
	return unescaper.Replace(s)
}

// SplitFrames splits a buffer of one or more '|'-terminated messages,
// returning the frames (without the terminator) and any trailing
// unterminated remainder that should be kept for the next read.
func SplitFrames(buf []byte) (frames [][]byte, rest []byte) {
	start := 0
	for i := 0; i < len(buf); i++ {
		if buf[i] == Terminator {
			frames = append(frames, buf[start:i])
			start = i + 1
		}
	}
	rest = buf[start:]
	return frames, rest
}

// Frame appends the terminator to a serialized command.
func Frame(cmd string) []byte {
	b := make([]byte, 0, len(cmd)+1)
	b = append(b, cmd...)
	b = append(b, Terminator)
	return b
}
