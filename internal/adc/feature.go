package adc

import (
	"fmt"
	"strings"
)

// FeatureReq is one "+FEAT"/"-FEAT" token from an F message's feature
// selector, per spec.md §4.1.
type FeatureReq struct {
	FOURCC   string
	Required bool // true for '+', false for '-'
}

// ParseFeatures splits a space-less "+FEA1-FEA2+FEA3" run into individual
// ±FOURCC tokens.
func ParseFeatures(sel string) ([]FeatureReq, error) {
	var out []FeatureReq
	for len(sel) > 0 {
		sign := sel[0]
		if sign != '+' && sign != '-' {
			return nil, fmt.Errorf("adc: feature selector %q missing +/- sign", sel)
		}
		if len(sel) < 5 {
			return nil, fmt.Errorf("adc: truncated feature token %q", sel)
		}
		out = append(out, FeatureReq{FOURCC: sel[1:5], Required: sign == '+'})
		sel = sel[5:]
	}
	return out, nil
}

// Accepts reports whether a message whose feature selector is reqs should
// be processed by a client announcing the given feature set, per spec.md
// §4.1: reject if the message requires ('+') a feature we do not announce,
// or forbids ('-') a feature we do announce.
func Accepts(ours map[string]bool, reqs []FeatureReq) bool {
	for _, r := range reqs {
		have := ours[r.FOURCC]
		if r.Required && !have {
			return false
		}
		if !r.Required && have {
			return false
		}
	}
	return true
}

// FormatFeatures renders a feature set back to its wire selector form,
// emitting the requirements in the order given (they are not sorted).
func FormatFeatures(reqs []FeatureReq) string {
	var b strings.Builder
	for _, r := range reqs {
		if r.Required {
			b.WriteByte('+')
		} else {
			b.WriteByte('-')
		}
		b.WriteString(r.FOURCC)
	}
	return b.String()
}
