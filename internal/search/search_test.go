package search

import (
	"testing"

	"github.com/kprimus/dcshare/internal/filelist"
	"github.com/kprimus/dcshare/internal/tth"
)

func buildTree(t *testing.T) *filelist.Node {
	t.Helper()
	root := filelist.NewRoot()
	band, err := root.AddDir("Pink Floyd")
	if err != nil {
		t.Fatal(err)
	}
	album, err := band.AddDir("The Wall")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := album.AddFile("Comfortably Numb.flac", 40_000_000, tth.Hash{}); err != nil {
		t.Fatal(err)
	}
	if _, err := album.AddFile("cover.jpg", 200_000, tth.Hash{}); err != nil {
		t.Fatal(err)
	}
	other, err := root.AddDir("Documents")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.AddFile("readme.txt", 100, tth.Hash{}); err != nil {
		t.Fatal(err)
	}
	return root
}

// TestSearchPredicateFollowsPath checks Testable Property 8: a node matches
// iff the compiled predicate holds on the path from root to node. Here the
// must-include terms "Pink" and "Numb" are spread across an ancestor
// directory name and the file's own name.
func TestSearchPredicateFollowsPath(t *testing.T) {
	root := buildTree(t)
	q, err := Compile(KindAny, SizeAny, 0, []string{"Pink", "Numb"}, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	results := q.Match(root)
	if len(results) != 1 {
		t.Fatalf("expected 1 match, got %d: %+v", len(results), results)
	}
	if results[0].Node.Name != "Comfortably Numb.flac" {
		t.Fatalf("unexpected match: %+v", results[0])
	}
}

func TestSearchMustNotExcludes(t *testing.T) {
	root := buildTree(t)
	q, err := Compile(KindAny, SizeAny, 0, []string{"Pink"}, []string{"cover"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	results := q.Match(root)
	for _, r := range results {
		if r.Node.Name == "cover.jpg" {
			t.Fatal("expected cover.jpg to be excluded by must-not term")
		}
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 match, got %d", len(results))
	}
}

func TestSearchKindImage(t *testing.T) {
	root := buildTree(t)
	q, err := Compile(KindImage, SizeAny, 0, nil, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	results := q.Match(root)
	if len(results) != 1 || results[0].Node.Name != "cover.jpg" {
		t.Fatalf("expected only cover.jpg, got %+v", results)
	}
}

func TestSearchSizeAtLeast(t *testing.T) {
	root := buildTree(t)
	q, err := Compile(KindAny, SizeAtLeast, 1_000_000, nil, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	results := q.Match(root)
	if len(results) != 1 || results[0].Node.Name != "Comfortably Numb.flac" {
		t.Fatalf("expected only the flac file, got %+v", results)
	}
}

func TestSearchMaxResults(t *testing.T) {
	root := buildTree(t)
	q, err := Compile(KindAny, SizeAny, 0, nil, nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	results := q.Match(root)
	if len(results) != 1 {
		t.Fatalf("expected max results to cap at 1, got %d", len(results))
	}
}

func TestSearchTTH(t *testing.T) {
	root := filelist.NewRoot()
	h := tth.RootOfBytes([]byte("unique content"))
	f, err := root.AddFile("x.bin", 14, h)
	if err != nil {
		t.Fatal(err)
	}
	q, err := Compile(KindTTH, SizeAny, 0, nil, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	q.TTH = h
	results := q.Match(root)
	if len(results) != 1 || results[0].Node != f {
		t.Fatalf("expected TTH search to find x.bin, got %+v", results)
	}
}
