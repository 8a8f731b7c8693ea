// Package adc implements the Advanced Direct Connect wire codec: UTF-8
// line framing, argument escaping, named-parameter access, session ids,
// and feature-filtered broadcast matching (spec.md §4.1, §6).
package adc

import (
	"errors"
	"fmt"
	"strings"
)

// Terminator ends every ADC message on the wire.
const Terminator = '\n'

// SID is a 4-character ADC session id, carried literally on the wire (not
// further encoded/decoded — spec.md §4.1 calls it "a 4-byte base32 session
// id" because the alphabet it is drawn from is base32's, but each
// character is already the wire byte).
type SID [4]byte

func (s SID) String() string { return string(s[:]) }

// IsZero reports whether s is the zero value (no session id assigned yet).
func (s SID) IsZero() bool { return s == SID{} }

// ParseSID validates and wraps a 4-character SID token.
func ParseSID(s string) (SID, error) {
	var out SID
	if len(s) != 4 {
		return out, fmt.Errorf("adc: SID must be 4 characters, got %q", s)
	}
	copy(out[:], s)
	return out, nil
}

// needsSource/needsDest report which message types carry which session ids,
// per spec.md §4.1.
func needsSource(t byte) bool {
	switch t {
	case 'B', 'C', 'D', 'E', 'F':
		return true
	}
	return false
}

func needsDest(t byte) bool {
	switch t {
	case 'D', 'E':
		return true
	}
	return false
}

// CommandCode packs a 3-letter ADC command into the 24-bit little-endian
// integer used for internal dispatch, per spec.md §4.1.
func CommandCode(cmd string) (uint32, error) {
	if len(cmd) != 3 {
		return 0, fmt.Errorf("adc: command must be 3 letters, got %q", cmd)
	}
	return uint32(cmd[0]) | uint32(cmd[1])<<8 | uint32(cmd[2])<<16, nil
}

// CommandName unpacks a dispatch code back to its 3-letter form.
func CommandName(code uint32) string {
	return string([]byte{byte(code), byte(code >> 8), byte(code >> 16)})
}

// Message is a parsed ADC protocol line.
type Message struct {
	Type    byte
	Cmd     string
	Source  SID
	Dest    SID
	Feature string   // raw "+FEA1-FEA2..." token, only set for Type == 'F'
	Params  []string // remaining space-separated, per-message arguments
}

var errEmptyLine = errors.New("adc: empty message line")

// Parse parses one ADC line (without the trailing '\n'). Argument splitting
// is a plain split on the literal space byte: real spaces inside argument
// text are always escaped to "\s" before transmission (see Escape), so an
// unescaped space on the wire is always a genuine token boundary.
func Parse(line string) (*Message, error) {
	if len(line) < 4 {
		return nil, errEmptyLine
	}
	typ := line[0]
	cmd := line[1:4]
	rest := line[4:]
	rest = strings.TrimPrefix(rest, " ")

	var fields []string
	if rest != "" {
		fields = strings.Split(rest, " ")
	}

	m := &Message{Type: typ, Cmd: cmd}
	idx := 0
	if needsSource(typ) {
		if idx >= len(fields) {
			return nil, fmt.Errorf("adc: %s message missing source SID", cmd)
		}
		sid, err := ParseSID(fields[idx])
		if err != nil {
			return nil, err
		}
		m.Source = sid
		idx++
	}
	if needsDest(typ) {
		if idx >= len(fields) {
			return nil, fmt.Errorf("adc: %s message missing destination SID", cmd)
		}
		sid, err := ParseSID(fields[idx])
		if err != nil {
			return nil, err
		}
		m.Dest = sid
		idx++
	}
	if typ == 'F' {
		if idx >= len(fields) {
			return nil, fmt.Errorf("adc: F message missing feature selector")
		}
		m.Feature = fields[idx]
		idx++
	}
	m.Params = fields[idx:]
	return m, nil
}

// Serialize renders m back to wire form, without the trailing terminator.
func (m *Message) Serialize() string {
	var b strings.Builder
	b.WriteByte(m.Type)
	b.WriteString(m.Cmd)
	if needsSource(m.Type) {
		b.WriteByte(' ')
		b.WriteString(m.Source.String())
	}
	if needsDest(m.Type) {
		b.WriteByte(' ')
		b.WriteString(m.Dest.String())
	}
	if m.Type == 'F' {
		b.WriteByte(' ')
		b.WriteString(m.Feature)
	}
	for _, p := range m.Params {
		b.WriteByte(' ')
		b.WriteString(p)
	}
	return b.String()
}

// GetFirst returns the first parameter with the given two-letter prefix.
func (m *Message) GetFirst(prefix string) (string, bool) {
	for _, p := range m.Params {
		if strings.HasPrefix(p, prefix) {
			return p[len(prefix):], true
		}
	}
	return "", false
}

// GetAll returns every parameter with the given two-letter prefix.
func (m *Message) GetAll(prefix string) []string {
	var out []string
	for _, p := range m.Params {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p[len(prefix):])
		}
	}
	return out
}
