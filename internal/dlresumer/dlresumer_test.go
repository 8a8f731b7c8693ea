package dlresumer

import (
	"path/filepath"
	"testing"

	"github.com/kprimus/dcshare/internal/dlerr"
	"github.com/kprimus/dcshare/internal/tth"
)

func open(t *testing.T) *Resumer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resume.db")
	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestInsertAndListDL(t *testing.T) {
	r := open(t)
	h := tth.RootOfBytes([]byte("file contents"))
	if err := r.InsertDL(h, 1234, "/downloads/file.bin", 0); err != nil {
		t.Fatal(err)
	}
	recs, err := r.ListDLs()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].TTH != h || recs[0].Size != 1234 {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestSetStatusAndRemoveDL(t *testing.T) {
	r := open(t)
	h := tth.RootOfBytes([]byte("x"))
	if err := r.InsertDL(h, 1, "/d", 0); err != nil {
		t.Fatal(err)
	}
	if err := r.SetStatus(h, -65, dlerr.HASH, "hash mismatch"); err != nil {
		t.Fatal(err)
	}
	recs, _ := r.ListDLs()
	if recs[0].Priority != -65 || recs[0].ErrCode != dlerr.HASH {
		t.Fatalf("status not applied: %+v", recs[0])
	}
	if err := r.RemoveDL(h); err != nil {
		t.Fatal(err)
	}
	recs, _ = r.ListDLs()
	if len(recs) != 0 {
		t.Fatalf("expected DLItem to be removed, got %+v", recs)
	}
}

func TestSourceLifecycle(t *testing.T) {
	r := open(t)
	h := tth.RootOfBytes([]byte("y"))
	if err := r.InsertDL(h, 1, "/d", 0); err != nil {
		t.Fatal(err)
	}
	if err := r.SetUErr(42, h, dlerr.NOFILE, "file not available"); err != nil {
		t.Fatal(err)
	}
	srcs, err := r.ListDLSources()
	if err != nil {
		t.Fatal(err)
	}
	if len(srcs) != 1 || srcs[0].UID != 42 || srcs[0].ErrCode != dlerr.NOFILE {
		t.Fatalf("unexpected sources: %+v", srcs)
	}
	if err := r.RemoveUser(42, h); err != nil {
		t.Fatal(err)
	}
	srcs, _ = r.ListDLSources()
	if len(srcs) != 0 {
		t.Fatalf("expected source to be removed, got %+v", srcs)
	}
}

func TestSetBitmapPersistsAndSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.db")
	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	h := tth.RootOfBytes([]byte("w"))
	if err := r.InsertDL(h, 3*1024*1024, "/d", 0); err != nil {
		t.Fatal(err)
	}
	bitmap := []bool{true, false, true}
	if err := r.SetBitmap(h, 1024*1024, bitmap); err != nil {
		t.Fatal(err)
	}
	r.Close()

	r2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Close()
	recs, err := r2.ListDLs()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].BlockSize != 1024*1024 {
		t.Fatalf("unexpected block size: %+v", recs)
	}
	if len(recs[0].Bitmap) != 3 || !recs[0].Bitmap[0] || recs[0].Bitmap[1] || !recs[0].Bitmap[2] {
		t.Fatalf("bitmap did not survive reopen: %+v", recs[0].Bitmap)
	}
}

func TestRemoveDLAlsoRemovesSources(t *testing.T) {
	r := open(t)
	h := tth.RootOfBytes([]byte("z"))
	r.InsertDL(h, 1, "/d", 0)
	r.SetUErr(1, h, dlerr.NONE, "")
	r.SetUErr(2, h, dlerr.NONE, "")
	if err := r.RemoveDL(h); err != nil {
		t.Fatal(err)
	}
	srcs, _ := r.ListDLSources()
	if len(srcs) != 0 {
		t.Fatalf("expected all sources for the removed item to be gone, got %+v", srcs)
	}
}
