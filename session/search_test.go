package session

import (
	"testing"

	"github.com/kprimus/dcshare/internal/hubproto"
	"github.com/kprimus/dcshare/internal/nmdc"
	"github.com/kprimus/dcshare/internal/sudp"
)

func TestDecodeSRParsesPlaintextDatagram(t *testing.T) {
	body := "Alice music\\song.mp3\x055242880\x05TTH:CRZMSYMFOEPNLHX5E3DW5J774L7CMGTY7OOYKRA 3/5 SomeHub (1.2.3.4:411)"
	datagram := []byte(nmdc.CmdSR + " " + body + string(nmdc.Terminator))

	reply, ok := decodeSR(datagram)
	if !ok {
		t.Fatal("expected datagram to decode as a search reply")
	}
	if reply.Size != 5242880 || !reply.HasTTH || reply.HubName != "SomeHub" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestDecodeSRRejectsNonSRDatagram(t *testing.T) {
	if _, ok := decodeSR([]byte("$MyNick bob|")); ok {
		t.Fatal("expected a non-$SR datagram to be rejected")
	}
}

func TestHandleInboundDatagramRoutesBySUDPKey(t *testing.T) {
	c := &Core{searches: newSearchRegistry(), sudpKeys: sudp.NewKeyRegistry()}
	key, err := sudp.NewKey()
	if err != nil {
		t.Fatal(err)
	}
	unregister := c.sudpKeys.Register(key, "tok-1")
	defer unregister()

	var gotSize uint64
	called := false
	c.searches.Register("tok-1", func(h *Hub, reply *hubproto.SearchReply) {
		called = true
		gotSize = reply.Size
	})

	body := "Alice music\\song.mp3\x05999\x05TTH:CRZMSYMFOEPNLHX5E3DW5J774L7CMGTY7OOYKRA 1/1 SomeHub (1.2.3.4:411)"
	plain := []byte(nmdc.CmdSR + " " + body + string(nmdc.Terminator))
	ct, err := sudp.Encrypt(key, plain)
	if err != nil {
		t.Fatal(err)
	}

	c.handleInboundDatagram(ct)

	if !called || gotSize != 999 {
		t.Fatalf("expected the registered callback to fire with size 999, called=%v size=%d", called, gotSize)
	}
}
