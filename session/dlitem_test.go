package session

import (
	"testing"

	"github.com/kprimus/dcshare/internal/tth"
)

func TestMarkBlockVerifiedMarksItemDirty(t *testing.T) {
	item := NewDLItem(tth.RootOfBytes([]byte("x")), 3*1024*1024, "/d/x", false)
	item.EnsureBitmap(1024*1024, []tth.Hash{{}, {}, {}})

	p := &persistDebouncer{dirty: make(map[string]*DLItem)}
	item.persist = p

	item.MarkBlockVerified(1, 1024*1024)

	if _, dirty := p.dirty[item.TTH.String()]; !dirty {
		t.Fatal("expected MarkBlockVerified to schedule the item for a debounced flush")
	}
	if !item.Bitmap[1] || item.Have != 1024*1024 {
		t.Fatalf("block not marked verified: %+v have=%d", item.Bitmap, item.Have)
	}
}

func TestRestoreBitmapRecomputesHaveAndComplete(t *testing.T) {
	const size = 2*1024*1024 + 100
	item := NewDLItem(tth.RootOfBytes([]byte("y")), size, "/d/y", false)

	item.RestoreBitmap(1024*1024, []bool{true, true, true})

	if !item.Complete {
		t.Fatal("expected item to be marked complete once every block (incl. the short tail) is set")
	}
	if item.Have != size {
		t.Fatalf("expected Have == Size (%d), got %d", size, item.Have)
	}
}

func TestRestoreBitmapPartialProgress(t *testing.T) {
	item := NewDLItem(tth.RootOfBytes([]byte("z")), 3*1024*1024, "/d/z", false)

	item.RestoreBitmap(1024*1024, []bool{true, false, true})

	if item.Complete {
		t.Fatal("item should not be complete with a missing block")
	}
	if item.Have != 2*1024*1024 {
		t.Fatalf("expected Have == 2 MiB, got %d", item.Have)
	}
	idx, ok := item.NextMissingBlock()
	if !ok || idx != 1 {
		t.Fatalf("expected next missing block to be index 1, got %d (ok=%v)", idx, ok)
	}
}
