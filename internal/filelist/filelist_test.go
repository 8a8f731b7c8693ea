package filelist

import (
	"testing"

	"github.com/kprimus/dcshare/internal/tth"
)

func TestDirectorySizeIsSumOfChildren(t *testing.T) {
	root := NewRoot()
	dir, err := root.AddDir("music")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dir.AddFile("a.flac", 1000, tth.Hash{}); err != nil {
		t.Fatal(err)
	}
	if _, err := dir.AddFile("b.flac", 2500, tth.Hash{}); err != nil {
		t.Fatal(err)
	}
	sub, err := dir.AddDir("live")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sub.AddFile("c.flac", 500, tth.Hash{}); err != nil {
		t.Fatal(err)
	}

	if dir.Size != 1000+2500+500 {
		t.Fatalf("expected aggregate size 4000, got %d", dir.Size)
	}
	if root.Size != dir.Size {
		t.Fatalf("expected root size to equal dir size, got %d vs %d", root.Size, dir.Size)
	}

	root.Remove(dir)
	if root.Size != 0 {
		t.Fatalf("expected root size 0 after removing dir, got %d", root.Size)
	}
}

func TestCaseInsensitiveUniqueness(t *testing.T) {
	root := NewRoot()
	if _, err := root.AddDir("Music"); err != nil {
		t.Fatal(err)
	}
	if _, err := root.AddDir("music"); err == nil {
		t.Fatal("expected case-insensitive collision to be rejected")
	}
	if _, ok := root.Get("MUSIC"); !ok {
		t.Fatal("expected case-insensitive lookup to find the directory")
	}
}

func TestXMLRoundTrip(t *testing.T) {
	root := NewRoot()
	dir, _ := root.AddDir("share")
	h := tth.RootOfBytes([]byte("hello world"))
	if _, err := dir.AddFile("hello.txt", 11, h); err != nil {
		t.Fatal(err)
	}
	sub, _ := dir.AddDir("nested")
	if _, err := sub.AddFile("empty.bin", 0, tth.Hash{}); err != nil {
		t.Fatal(err)
	}

	data, err := SerializeXML(root, "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567")
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseXML(data)
	if err != nil {
		t.Fatalf("ParseXML failed: %v\n%s", err, data)
	}
	if !root.EqualStructure(parsed) {
		t.Fatalf("round trip mismatch:\n%s", data)
	}
}

func TestParseXMLRejectsDirective(t *testing.T) {
	doc := `<?xml version="1.0"?><!DOCTYPE FileListing [<!ENTITY x "y">]><FileListing></FileListing>`
	if _, err := ParseXML([]byte(doc)); err == nil {
		t.Fatal("expected DTD directive to be rejected")
	}
}

func TestParseXMLRejectsExcessiveNesting(t *testing.T) {
	var doc string
	doc = `<?xml version="1.0"?><FileListing>`
	for i := 0; i < maxNestingDepth+5; i++ {
		doc += `<Directory Name="d">`
	}
	for i := 0; i < maxNestingDepth+5; i++ {
		doc += `</Directory>`
	}
	doc += `</FileListing>`
	if _, err := ParseXML([]byte(doc)); err == nil {
		t.Fatal("expected excessive nesting to be rejected")
	}
}

func TestBzip2RoundTrip(t *testing.T) {
	root := NewRoot()
	root.AddFile("a.txt", 3, tth.Hash{})
	data, err := SerializeXML(root, "CID")
	if err != nil {
		t.Fatal(err)
	}
	compressed, err := CompressBzip2(data)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := DecompressBzip2(compressed)
	if err != nil {
		t.Fatal(err)
	}
	if string(plain) != string(data) {
		t.Fatal("bzip2 round trip did not reproduce the original document")
	}
}

func TestFindByTTH(t *testing.T) {
	root := NewRoot()
	h := tth.RootOfBytes([]byte("content"))
	dir, _ := root.AddDir("d")
	f, _ := dir.AddFile("f.bin", 7, h)
	found, ok := root.FindByTTH(h)
	if !ok || found != f {
		t.Fatal("expected to find file by TTH")
	}
	if _, ok := root.FindByTTH(tth.Hash{1}); ok {
		t.Fatal("expected lookup of absent hash to fail")
	}
}
