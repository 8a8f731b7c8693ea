package nmdc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kprimus/dcshare/internal/tth"
)

// SearchType mirrors spec.md §3's SearchQuery.Type for the subset NMDC can
// express natively (NMDC search types are a superset encoded as digits;
// we keep the same symbolic set as ADC for a dialect-independent caller).
type SearchType int

const (
	TypeAny SearchType = iota
	TypeAudio
	TypeArchive
	TypeDoc
	TypeExe
	TypeImg
	TypeVideo
	TypeDir
	TypeTTH
)

// SizeRestrict mirrors spec.md §3's SearchQuery size constraint.
type SizeRestrict int

const (
	SizeNone SizeRestrict = iota
	SizeAtMost
	SizeAtLeast
)

// Result is a parsed $SR hit, filled in per spec.md §4.1's "Result parsing".
type Result struct {
	Nick       string
	Path       string
	IsDir      bool
	Size       uint64
	TTH        tth.Hash
	HasTTH     bool
	FreeSlots  int
	TotalSlots int
	HubName    string
	HubAddr    string // "ip[:port]"
}

// ParseSR parses the body of a $SR message (without the leading "$SR " and
// trailing '|'), scanning backward from the end as specified in spec.md
// §4.1: trailing "(hub_ip[:port])", preceding "<0x05>TTH:<base32>",
// preceding " free/total" slots, then either "filename<0x05>size" (file)
// or just "path" (directory).
func ParseSR(body string) (*Result, error) {
	open := strings.LastIndexByte(body, '(')
	close_ := strings.LastIndexByte(body, ')')
	if open == -1 || close_ != len(body)-1 || close_ < open {
		return nil, fmt.Errorf("nmdc: $SR missing trailing (hub_ip[:port]): %q", body)
	}
	hubAddr := body[open+1 : close_]
	rest := strings.TrimRight(body[:open], " ")

	spaceIdx := strings.LastIndexByte(rest, ' ')
	if spaceIdx == -1 {
		return nil, fmt.Errorf("nmdc: $SR missing hub name separator: %q", body)
	}
	hubName := rest[spaceIdx+1:]
	rest = rest[:spaceIdx]

	slashIdx := strings.LastIndexByte(rest, '/')
	if slashIdx == -1 {
		return nil, fmt.Errorf("nmdc: $SR missing free/total slots: %q", body)
	}
	freeStart := strings.LastIndexByte(rest[:slashIdx], ' ')
	slotsStr := rest[freeStart+1:]
	free, total, err := parseSlots(slotsStr)
	if err != nil {
		return nil, err
	}
	rest = rest[:freeStart]

	r := &Result{
		Nick:       "",
		HubAddr:    hubAddr,
		HubName:    hubName,
		FreeSlots:  free,
		TotalSlots: total,
	}

	// Optional "<0x05>TTH:<base32>" segment.
	if idx := strings.LastIndex(rest, "\x05TTH:"); idx != -1 {
		tthStr := rest[idx+len("\x05TTH:"):]
		h, err := tth.ParseHash(tthStr)
		if err != nil {
			return nil, fmt.Errorf("nmdc: $SR bad TTH: %w", err)
		}
		r.TTH = h
		r.HasTTH = true
		rest = rest[:idx]
	}

	// Remaining is either "nick path<0x05>size" (file) or "nick path" (dir).
	if idx := strings.LastIndexByte(rest, '\x05'); idx != -1 {
		sizeStr := rest[idx+1:]
		size, err := strconv.ParseUint(sizeStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("nmdc: $SR bad file size: %w", err)
		}
		r.Size = size
		rest = rest[:idx]
	} else {
		r.IsDir = true
	}

	nickIdx := strings.IndexByte(rest, ' ')
	if nickIdx == -1 {
		return nil, fmt.Errorf("nmdc: $SR missing nick/path separator: %q", body)
	}
	r.Nick = rest[:nickIdx]
	r.Path = rest[nickIdx+1:]
	return r, nil
}

func parseSlots(s string) (free, total int, err error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("nmdc: bad slots field %q", s)
	}
	free64, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("nmdc: bad free slots %q: %w", parts[0], err)
	}
	total64, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("nmdc: bad total slots %q: %w", parts[1], err)
	}
	return free64, total64, nil
}

// FormatSearch renders a $Search payload. active selects the
// "ip:port" addressed form versus "Hub:nick" passive form.
func FormatSearch(addrOrNick string, active bool, sizeRestrict SizeRestrict, size uint64, typ SearchType, pattern string) string {
	var sizeField string
	switch sizeRestrict {
	case SizeAtLeast:
		sizeField = "F?T?" + strconv.FormatUint(size, 10)
	case SizeAtMost:
		sizeField = "T?F?" + strconv.FormatUint(size, 10)
	default:
		sizeField = "F?F?0"
	}
	target := addrOrNick
	if !active {
		target = "Hub:" + addrOrNick
	}
	pattern = strings.ReplaceAll(pattern, " ", "$")
	return fmt.Sprintf("$Search %s %s?%d?%s", target, sizeField, int(typ)+1, pattern)
}

// FormatSR renders a $SR reply body (the text following "$SR "), the
// inverse of ParseSR. toNick selects a passive (hub-routed) reply: when
// non-empty it is appended after the closing ")" behind a 0x05 separator,
// so the hub can route the frame to that nick.
func FormatSR(myNick string, r *Result, toNick string) string {
	var b strings.Builder
	b.WriteString(myNick)
	b.WriteByte(' ')
	b.WriteString(r.Path)
	if !r.IsDir {
		b.WriteByte('\x05')
		b.WriteString(strconv.FormatUint(r.Size, 10))
	}
	if r.HasTTH {
		b.WriteString("\x05TTH:")
		b.WriteString(r.TTH.String())
	}
	fmt.Fprintf(&b, " %d/%d", r.FreeSlots, r.TotalSlots)
	b.WriteByte(' ')
	b.WriteString(r.HubName)
	b.WriteString(" (")
	b.WriteString(r.HubAddr)
	b.WriteByte(')')
	if toNick != "" {
		b.WriteByte('\x05')
		b.WriteString(toNick)
	}
	return b.String()
}
