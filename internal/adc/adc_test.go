package adc

import "testing"

func TestParseBINFExample(t *testing.T) {
	// Literal scenario from spec.md §8.
	line := "BINF AAAA IDABCDEFGHIJKLMNOPQRSTUVWXYZ234567ABCDEFGHIJKL NIAlice"
	m, err := Parse(line)
	if err != nil {
		t.Fatal(err)
	}
	if m.Type != 'B' {
		t.Fatalf("expected type 'B', got %q", m.Type)
	}
	if m.Cmd != "INF" {
		t.Fatalf("expected command INF, got %q", m.Cmd)
	}
	if m.Source.String() != "AAAA" {
		t.Fatalf("expected source AAAA, got %q", m.Source)
	}
	want := []string{"IDABCDEFGHIJKLMNOPQRSTUVWXYZ234567ABCDEFGHIJKL", "NIAlice"}
	if len(m.Params) != len(want) {
		t.Fatalf("expected params %v, got %v", want, m.Params)
	}
	for i := range want {
		if m.Params[i] != want[i] {
			t.Fatalf("param %d: expected %q got %q", i, want[i], m.Params[i])
		}
	}
}

func TestEscapeExample(t *testing.T) {
	// Literal scenario from spec.md §8.
	in := "a b\nc\\"
	want := `a\sb\nc\\`
	got := Escape(in)
	if got != want {
		t.Fatalf("Escape(%q) = %q, want %q", in, got, want)
	}
	back := Unescape(got)
	if back != in {
		t.Fatalf("Unescape(Escape(%q)) = %q", in, back)
	}
}

func TestEscapeUnescapeRoundTripProperty(t *testing.T) {
	cases := []string{
		"",
		"plain",
		"with space",
		"with\nnewline",
		`with\backslash`,
		"mixed \\ and \n and space",
	}
	for _, s := range cases {
		got := Unescape(Escape(s))
		if got != s {
			t.Fatalf("round trip failed for %q: got %q", s, got)
		}
	}
}

func TestCommandCodeRoundTrip(t *testing.T) {
	for _, name := range []string{"INF", "SCH", "RES", "CTM"} {
		code, err := CommandCode(name)
		if err != nil {
			t.Fatal(err)
		}
		if got := CommandName(code); got != name {
			t.Fatalf("CommandName(CommandCode(%q)) = %q", name, got)
		}
	}
}

func TestGetFirstGetAll(t *testing.T) {
	m := &Message{Params: []string{"FNsong.mp3", "SI12345", "FNother.mp3"}}
	if fn, ok := m.GetFirst("FN"); !ok || fn != "song.mp3" {
		t.Fatalf("GetFirst(FN) = %q, %v", fn, ok)
	}
	all := m.GetAll("FN")
	if len(all) != 2 || all[0] != "song.mp3" || all[1] != "other.mp3" {
		t.Fatalf("GetAll(FN) = %v", all)
	}
}

func TestFeatureAccepts(t *testing.T) {
	ours := map[string]bool{"TCP4": true, "UDP4": true}
	reqs, err := ParseFeatures("+TCP4-ZLIF")
	if err != nil {
		t.Fatal(err)
	}
	if !Accepts(ours, reqs) {
		t.Fatal("expected message to be accepted")
	}

	reqs2, _ := ParseFeatures("+NATT")
	if Accepts(ours, reqs2) {
		t.Fatal("expected message requiring an unannounced feature to be rejected")
	}

	reqs3, _ := ParseFeatures("-TCP4")
	if Accepts(ours, reqs3) {
		t.Fatal("expected message forbidding an announced feature to be rejected")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	m := &Message{
		Type:   'D',
		Cmd:    "MSG",
		Source: SID{'A', 'A', 'A', 'A'},
		Dest:   SID{'B', 'B', 'B', 'B'},
		Params: []string{"Hello\\sworld"},
	}
	line := m.Serialize()
	back, err := Parse(line)
	if err != nil {
		t.Fatal(err)
	}
	if back.Source != m.Source || back.Dest != m.Dest || back.Cmd != m.Cmd {
		t.Fatalf("round trip mismatch: %+v vs %+v", back, m)
	}
}
