package netconn

import (
	"net"
	"testing"
	"time"

	"github.com/kprimus/dcshare/internal/logger"
)

func TestMessageTerminatedReadLoop(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := New(logger.New("test"), nil)
	c.SetTerminator('|')
	c.Adopt(client)

	go func() {
		server.Write([]byte("$Lock FOO|"))
	}()

	select {
	case ev := <-c.Events():
		if ev.Kind != EventConnected {
			t.Fatalf("expected EventConnected first, got %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connected event")
	}

	select {
	case ev := <-c.Events():
		if ev.Kind != EventMessage {
			t.Fatalf("expected EventMessage, got %v", ev.Kind)
		}
		if string(ev.Data) != "$Lock FOO|" {
			t.Fatalf("unexpected message: %q", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message event")
	}
}

func TestTickResetsOnClockSkew(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := New(logger.New("test"), nil)
	c.Adopt(client)
	<-c.Events() // connected

	now := time.Now()
	c.lastIO = now
	skewed := now.Add(-time.Hour)
	c.Tick(skewed) // clock ran backward
	if !c.lastIO.Equal(skewed) {
		t.Fatal("expected lastIO to be reset to the tick time on clock skew")
	}
}
