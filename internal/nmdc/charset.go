package nmdc

import (
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// DecodeLegacy converts a nick, description, or chat body that a pre-UTF8
// NMDC hub sent as Windows-1252 into UTF-8. Most hubs now advertise
// UTF8 via $Supports, but plenty of older ones still don't, per spec.md
// §4.1's NMDC framing note; callers pick this path when that feature
// token is absent from the hub's $Supports line.
func DecodeLegacy(s string) string {
	out, _, err := transform.String(charmap.Windows1252.NewDecoder(), s)
	if err != nil {
		return s
	}
	return out
}

// EncodeLegacy is the inverse of DecodeLegacy, used when replying to a
// hub that never advertised UTF8 support.
func EncodeLegacy(s string) string {
	out, _, err := transform.String(charmap.Windows1252.NewEncoder(), s)
	if err != nil {
		return s
	}
	return out
}
