package netconn

import (
	"net"
	"testing"
	"time"

	"github.com/kprimus/dcshare/internal/logger"
)

func TestUDPConnSendAndReceiveRoundTrip(t *testing.T) {
	a := NewUDP(logger.New("test-a"))
	if err := a.Listen("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	b := NewUDP(logger.New("test-b"))
	if err := b.Listen("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	bAddr := b.conn.LocalAddr().(*net.UDPAddr)
	a.Send(bAddr, []byte("hello"))

	select {
	case dg := <-b.Datagrams():
		if string(dg.Data) != "hello" {
			t.Fatalf("unexpected payload: %q", dg.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestUDPConnSendQueueFullDropsRatherThanBlocks(t *testing.T) {
	u := NewUDP(logger.New("test-full"))
	if err := u.Listen("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	defer u.Close()

	addr := u.conn.LocalAddr().(*net.UDPAddr)
	done := make(chan struct{})
	go func() {
		for i := 0; i < udpQueueDepth*2; i++ {
			u.Send(addr, []byte("x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked instead of dropping once the queue filled")
	}
}
