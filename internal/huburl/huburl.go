// Package huburl parses the hub URL form from spec.md §6:
// scheme://host[:port][/?kp=SHA256/<52-char base32>].
package huburl

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// Dialect is the wire protocol family implied by a hub URL's scheme.
type Dialect int

const (
	DialectNMDC Dialect = iota
	DialectADC
)

// DefaultPort is used when a hub URL omits an explicit port.
const DefaultPort = 411

// HubURL is a parsed hub address.
type HubURL struct {
	Scheme        string
	Dialect       Dialect
	TLS           bool
	Host          string
	Port          int
	KeyprintAlgo  string // e.g. "SHA256", empty if no kp= query present
	KeyprintValue string // 52-char base32 fingerprint
}

var schemeRe = regexp.MustCompile(`^[a-z][a-z0-9.+-]{0,14}$`)

var schemeDialect = map[string]struct {
	dialect Dialect
	tls     bool
}{
	"dchub": {DialectNMDC, false},
	"nmdc":  {DialectNMDC, false},
	"nmdcs": {DialectNMDC, true},
	"adc":   {DialectADC, false},
	"adcs":  {DialectADC, true},
}

// Parse parses a hub URL. Per Testable Property 6, every string this
// function accepts has a valid host (IPv4, bracketed IPv6, or a DNS name
// of at most 255 bytes with labels of at most 63 bytes, no leading hyphen,
// no leading-digit label), a port in [1,65535] if present, and a scheme
// matching schemeRe after lowercasing. Every rejection returns a non-nil
// error and a zero HubURL.
func Parse(raw string) (HubURL, error) {
	var out HubURL

	sepIdx := strings.Index(raw, "://")
	if sepIdx == -1 {
		return HubURL{}, errors.New("huburl: missing scheme separator")
	}
	scheme := strings.ToLower(raw[:sepIdx])
	if !schemeRe.MatchString(scheme) {
		return HubURL{}, fmt.Errorf("huburl: invalid scheme %q", scheme)
	}
	out.Scheme = scheme
	info, ok := schemeDialect[scheme]
	if !ok {
		return HubURL{}, fmt.Errorf("huburl: unknown scheme %q", scheme)
	}
	out.Dialect = info.dialect
	out.TLS = info.tls

	rest := raw[sepIdx+3:]
	authority := rest
	var tail string
	if slash := strings.IndexByte(rest, '/'); slash != -1 {
		authority = rest[:slash]
		tail = rest[slash:]
	}
	if authority == "" {
		return HubURL{}, errors.New("huburl: empty host")
	}

	host, port, err := splitHostPort(authority)
	if err != nil {
		return HubURL{}, err
	}
	if err := validateHost(host); err != nil {
		return HubURL{}, err
	}
	out.Host = host
	if port == "" {
		out.Port = DefaultPort
	} else {
		p, err := strconv.Atoi(port)
		if err != nil || p < 1 || p > 65535 {
			return HubURL{}, fmt.Errorf("huburl: invalid port %q", port)
		}
		out.Port = p
	}

	if tail != "" {
		if idx := strings.Index(tail, "kp="); idx != -1 {
			kp := tail[idx+3:]
			if amp := strings.IndexByte(kp, '&'); amp != -1 {
				kp = kp[:amp]
			}
			parts := strings.SplitN(kp, "/", 2)
			if len(parts) != 2 || parts[0] != "SHA256" || len(parts[1]) != 52 {
				return HubURL{}, fmt.Errorf("huburl: invalid kp= query %q", kp)
			}
			out.KeyprintAlgo = parts[0]
			out.KeyprintValue = parts[1]
		}
	}

	return out, nil
}

func splitHostPort(authority string) (host, port string, err error) {
	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end == -1 {
			return "", "", errors.New("huburl: unterminated IPv6 literal")
		}
		host = authority[:end+1]
		remainder := authority[end+1:]
		if remainder == "" {
			return host, "", nil
		}
		if !strings.HasPrefix(remainder, ":") {
			return "", "", errors.New("huburl: junk after IPv6 literal")
		}
		return host, remainder[1:], nil
	}
	if idx := strings.LastIndexByte(authority, ':'); idx != -1 {
		return authority[:idx], authority[idx+1:], nil
	}
	return authority, "", nil
}

func validateHost(host string) error {
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		inner := host[1 : len(host)-1]
		ip := net.ParseIP(inner)
		if ip == nil || ip.To4() != nil {
			return fmt.Errorf("huburl: invalid IPv6 literal %q", host)
		}
		return nil
	}
	if isIPv4(host) {
		return nil
	}
	return validateDNSName(host)
}

var ipv4GroupRe = regexp.MustCompile(`^(0|[1-9][0-9]{0,2})$`)

func isIPv4(host string) bool {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if !ipv4GroupRe.MatchString(p) {
			return false
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	return true
}

func validateDNSName(host string) error {
	if len(host) == 0 || len(host) > 255 {
		return fmt.Errorf("huburl: host length out of range: %q", host)
	}
	labels := strings.Split(host, ".")
	for _, l := range labels {
		if len(l) == 0 || len(l) > 63 {
			return fmt.Errorf("huburl: invalid DNS label %q", l)
		}
		if l[0] == '-' {
			return fmt.Errorf("huburl: DNS label %q starts with hyphen", l)
		}
		if l[0] >= '0' && l[0] <= '9' {
			return fmt.Errorf("huburl: DNS label %q starts with a digit", l)
		}
		for _, c := range l {
			ok := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-'
			if !ok {
				return fmt.Errorf("huburl: invalid character %q in DNS label %q", c, l)
			}
		}
	}
	return nil
}
