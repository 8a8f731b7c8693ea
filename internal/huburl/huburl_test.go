package huburl

import "testing"

func TestIPv4Validation(t *testing.T) {
	valid := []string{"1.2.3.4", "192.168.1.1", "255.255.255.255", "0.0.0.0"}
	for _, h := range valid {
		if !isIPv4(h) {
			t.Fatalf("expected %q to be valid IPv4", h)
		}
	}
	invalid := []string{"01.2.3.4", "256.2.3.4", "1.2.3", "1.2.3.4.5", "1.2.3.256"}
	for _, h := range invalid {
		if isIPv4(h) {
			t.Fatalf("expected %q to be invalid IPv4", h)
		}
	}
}

func TestParseBasic(t *testing.T) {
	u, err := Parse("dchub://hub.example.com:4111")
	if err != nil {
		t.Fatal(err)
	}
	if u.Dialect != DialectNMDC || u.TLS {
		t.Fatalf("unexpected dialect/tls: %+v", u)
	}
	if u.Host != "hub.example.com" || u.Port != 4111 {
		t.Fatalf("unexpected host/port: %+v", u)
	}
}

func TestParseDefaultPort(t *testing.T) {
	u, err := Parse("adcs://hub.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if u.Port != DefaultPort {
		t.Fatalf("expected default port %d, got %d", DefaultPort, u.Port)
	}
	if u.Dialect != DialectADC || !u.TLS {
		t.Fatalf("unexpected dialect/tls: %+v", u)
	}
}

func TestParseKeyprint(t *testing.T) {
	kp := "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567ABCDEFGHIJKLMNOPQRST" // 52 chars
	u, err := Parse("adcs://hub.example.com:412/?kp=SHA256/" + kp)
	if err != nil {
		t.Fatal(err)
	}
	if u.KeyprintAlgo != "SHA256" || u.KeyprintValue != kp {
		t.Fatalf("unexpected keyprint: %+v", u)
	}
}

func TestParseRejections(t *testing.T) {
	bad := []string{
		"",
		"nothing-here",
		"dchub://",
		"dchub://-bad.example.com",
		"dchub://1bad.example.com",
		"dchub://hub.example.com:99999",
		"dchub://hub.example.com:0",
		"ftp://hub.example.com",
		"DCHUB-1://hub.example.com",
	}
	for _, raw := range bad {
		if u, err := Parse(raw); err == nil {
			t.Fatalf("expected %q to be rejected, got %+v", raw, u)
		}
	}
}

func TestParseIPv6(t *testing.T) {
	u, err := Parse("adc://[2001:db8::1]:412")
	if err != nil {
		t.Fatal(err)
	}
	if u.Host != "[2001:db8::1]" || u.Port != 412 {
		t.Fatalf("unexpected result: %+v", u)
	}
}
