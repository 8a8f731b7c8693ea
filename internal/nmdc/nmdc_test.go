package nmdc

import "testing"

func TestEscapeUnescapeRoundTrip(t *testing.T) {
	cases := []string{
		"hello world",
		"a$b|c&d",
		"&amp;&#36;&#124;",
		"",
	}
	for _, s := range cases {
		got := Unescape(Escape(s))
		if got != s {
			t.Fatalf("round trip failed for %q: got %q", s, got)
		}
	}
}

func TestSplitFrames(t *testing.T) {
	buf := []byte("$Lock foo|$Supports bar|$partial")
	frames, rest := SplitFrames(buf)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if string(frames[0]) != "$Lock foo" || string(frames[1]) != "$Supports bar" {
		t.Fatalf("unexpected frames: %q", frames)
	}
	if string(rest) != "$partial" {
		t.Fatalf("unexpected remainder: %q", rest)
	}
}

func TestParseSRFile(t *testing.T) {
	body := "Alice music\\song.mp3\x055242880\x05TTH:CRZMSYMFOEPNLHX5E3DW5J774L7CMGTY7OOYKRA 3/5 SomeHub (1.2.3.4:411)"
	r, err := ParseSR(body)
	if err != nil {
		t.Fatal(err)
	}
	if r.Nick != "Alice" || r.IsDir || r.Size != 5242880 {
		t.Fatalf("unexpected result: %+v", r)
	}
	if !r.HasTTH {
		t.Fatal("expected TTH to be parsed")
	}
	if r.FreeSlots != 3 || r.TotalSlots != 5 {
		t.Fatalf("unexpected slots: %+v", r)
	}
	if r.HubName != "SomeHub" || r.HubAddr != "1.2.3.4:411" {
		t.Fatalf("unexpected hub fields: %+v", r)
	}
}

func TestParseSRDirectory(t *testing.T) {
	body := "Bob shared\\folder 2/5 SomeHub (1.2.3.4:411)"
	r, err := ParseSR(body)
	if err != nil {
		t.Fatal(err)
	}
	if !r.IsDir {
		t.Fatal("expected directory result")
	}
	if r.Path != "shared\\folder" {
		t.Fatalf("unexpected path: %q", r.Path)
	}
}

func TestFormatSearch(t *testing.T) {
	s := FormatSearch("192.168.1.5:412", true, SizeNone, 0, TypeAny, "foo bar")
	want := "$Search 192.168.1.5:412 F?F?0?1?foo$bar"
	if s != want {
		t.Fatalf("got %q want %q", s, want)
	}
}
