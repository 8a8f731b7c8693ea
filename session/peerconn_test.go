package session

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/kprimus/dcshare/internal/dlerr"
	"github.com/kprimus/dcshare/internal/dlresumer"
	"github.com/kprimus/dcshare/internal/logger"
	"github.com/kprimus/dcshare/internal/netconn"
	"github.com/kprimus/dcshare/internal/tth"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	res, err := dlresumer.Open(filepath.Join(t.TempDir(), "resume.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { res.Close() })
	c := &Core{
		resumer: res,
		log:     logger.New("test"),
		users:   make(map[uint64]*DLUser),
		dlitems: make(map[string]*DLItem),
	}
	c.scheduler = newScheduler(c, func(*DLUser) {}, func(*DLUser, *DLSource) {})
	return c
}

func TestIsConnErrorClassifiesNetconnErrors(t *testing.T) {
	if !isConnError(&netconn.Error{Kind: netconn.ErrConn, Err: errors.New("boom")}) {
		t.Fatal("expected a *netconn.Error to be classified as a connection error")
	}
	if isConnError(errors.New("plain content error")) {
		t.Fatal("expected a plain error not to be classified as a connection error")
	}
}

func TestFailSourceDemotesOnlyTheSourceNotTheUser(t *testing.T) {
	c := newTestCore(t)
	item := NewDLItem(tth.RootOfBytes([]byte("f")), 10, "/d/f", false)
	u := NewDLUser(1, "peer", "hub1")
	u.transition(StateACT)
	s := &DLSource{UID: u.UID, Item: item}

	c.failSource(u, s, dlerr.HASH, errors.New("hash mismatch"))

	if u.State == StateWAI {
		t.Fatal("failSource must not demote the whole user into WAI (spec.md:99)")
	}
	if u.State != StateIDL {
		t.Fatalf("expected user to return to IDL so the scheduler can pick its next source, got %v", u.State)
	}
	if s.SrcErr != dlerr.HASH {
		t.Fatalf("expected source error code to be recorded, got %v", s.SrcErr)
	}
}

func TestFailConnectionDemotesUserToWait(t *testing.T) {
	c := newTestCore(t)
	u := NewDLUser(2, "peer2", "hub1")
	u.transition(StateACT)
	conn := netconn.New(c.log, nil)

	c.failConnection(u, conn, &netconn.Error{Kind: netconn.ErrConn, Err: errors.New("reset")})

	if u.State != StateWAI {
		t.Fatalf("expected a transport-level failure to enter WAI, got %v", u.State)
	}
	if u.Conn != nil {
		t.Fatal("expected Conn to be cleared on connection failure")
	}
}
