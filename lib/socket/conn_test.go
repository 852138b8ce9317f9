package socket

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/karlrwjohnson/camstream/lib/wire"
)

// newTestConn returns a started Conn and the raw peer end of its pipe.
func newTestConn(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	c := NewConn(local)
	c.Start()
	t.Cleanup(func() {
		c.Close()
		remote.Close()
	})
	return c, remote
}

func TestConnDispatchesInbound(t *testing.T) {
	c, remote := newTestConn(t)

	got := make(chan []byte, 1)
	c.AddHandler(wire.KindOpenWebcam, NewHandler(func(kind wire.Kind, body []byte) {
		got <- append([]byte(nil), body...)
	}))

	go func() {
		if err := wire.WriteMessage(remote, wire.KindOpenWebcam, []byte("/dev/video0")); err != nil {
			t.Errorf("writing to pipe: %v", err)
		}
	}()

	select {
	case body := <-got:
		if string(body) != "/dev/video0" {
			t.Errorf("handler got %q", body)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestConnSendFramesMessage(t *testing.T) {
	c, remote := newTestConn(t)

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Send(wire.KindRuntimeError, []byte("oops"))
	}()

	kind, body, err := wire.ReadMessage(remote)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if kind != wire.KindRuntimeError || string(body) != "oops" {
		t.Errorf("got %s %q", kind, body)
	}
	if err := <-errCh; err != nil {
		t.Errorf("Send failed: %v", err)
	}
}

func TestConnConcurrentSendsDoNotInterleave(t *testing.T) {
	c, remote := newTestConn(t)

	const senders = 8
	const perSender = 25

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			body := bytes.Repeat([]byte{byte(id)}, 100+id)
			for j := 0; j < perSender; j++ {
				if err := c.Send(wire.KindFrame, body); err != nil {
					t.Errorf("sender %d: %v", id, err)
					return
				}
			}
		}(i)
	}

	// Every decoded message must be internally consistent: a body of
	// 100+id bytes, all equal to id. Any interleaving breaks that.
	for i := 0; i < senders*perSender; i++ {
		kind, body, err := wire.ReadMessage(remote)
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if kind != wire.KindFrame {
			t.Fatalf("message %d: kind %s", i, kind)
		}
		id := body[0]
		if len(body) != 100+int(id) {
			t.Fatalf("message %d: %d bytes for sender %d", i, len(body), id)
		}
		for _, b := range body {
			if b != id {
				t.Fatalf("message %d: interleaved body", i)
			}
		}
	}
	wg.Wait()
}

func TestConnCloseIsIdempotent(t *testing.T) {
	c, _ := newTestConn(t)

	if err := c.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("reader did not exit after Close")
	}

	if err := c.Send(wire.KindStopStream, nil); err == nil {
		t.Error("Send succeeded after Close")
	}
}

func TestConnReaderExitsOnPeerClose(t *testing.T) {
	c, remote := newTestConn(t)

	remote.Close()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("reader did not exit after peer closed")
	}

	if err := c.Send(wire.KindStopStream, nil); err == nil {
		t.Error("Send succeeded after the peer closed")
	}
}

func TestConnDefaultHandlerFallback(t *testing.T) {
	c, remote := newTestConn(t)

	got := make(chan wire.Kind, 1)
	c.AddDefaultHandler(NewHandler(func(kind wire.Kind, body []byte) {
		got <- kind
	}))

	go func() {
		if err := wire.WriteMessage(remote, wire.Kind(0xDEADBEEF), nil); err != nil {
			t.Errorf("writing to pipe: %v", err)
		}
	}()

	select {
	case kind := <-got:
		if kind != wire.Kind(0xDEADBEEF) {
			t.Errorf("default handler got kind %v", kind)
		}
	case <-time.After(time.Second):
		t.Fatal("default handler never ran")
	}
}

func TestServerAcceptAndStop(t *testing.T) {
	factory := func(nc net.Conn) Session {
		c := NewConn(nc)
		c.AddHandler(wire.KindGetStreamStatus, NewHandler(func(wire.Kind, []byte) {
			if err := c.SendEmpty(wire.KindStreamIsStopped); err != nil {
				t.Errorf("replying: %v", err)
			}
		}))
		return c
	}

	srv := NewServer(factory)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(0)
	}()

	// Wait for the listener to come up.
	var addr net.Addr
	for i := 0; i < 100; i++ {
		if addr = srv.Addr(); addr != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if addr == nil {
		t.Fatal("server never started listening")
	}
	port := addr.(*net.TCPAddr).Port

	sess, err := Connect("127.0.0.1", port, func(nc net.Conn) Session { return NewConn(nc) })
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	conn := sess.(*Conn)

	reply := make(chan wire.Kind, 1)
	h := NewHandler(func(kind wire.Kind, body []byte) { reply <- kind })
	conn.AddHandler(wire.KindStreamIsStopped, h)

	if err := conn.SendEmpty(wire.KindGetStreamStatus); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	select {
	case kind := <-reply:
		if kind != wire.KindStreamIsStopped {
			t.Errorf("got reply %s", kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no reply from server session")
	}

	srv.Stop()
	select {
	case err := <-serverErr:
		if err != nil {
			t.Errorf("Start returned %v after Stop", err)
		}
	case <-time.After(time.Second):
		t.Fatal("accept loop did not exit after Stop")
	}

	conn.Close()
}

func TestConnectRejectsBadAddress(t *testing.T) {
	for _, addr := range []string{"localhost", "not-an-ip", "::1", "1.2.3"} {
		_, err := Connect(addr, wire.DefaultPort, func(nc net.Conn) Session { return NewConn(nc) })
		if err == nil {
			t.Errorf("Connect(%q) succeeded", addr)
		}
	}
}

func TestConnRemoteSnapshot(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		accepted <- nc
	}()

	nc, err := net.Dial("tcp4", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer nc.Close()

	serverSide := <-accepted
	c := NewConn(serverSide)
	defer c.Close()

	if c.RemoteAddr() != "127.0.0.1" {
		t.Errorf("RemoteAddr() = %q", c.RemoteAddr())
	}
	clientPort := nc.LocalAddr().(*net.TCPAddr).Port
	if c.RemotePort() != clientPort {
		t.Errorf("RemotePort() = %d, want %d", c.RemotePort(), clientPort)
	}

	// The snapshot is just that; it survives the transport closing.
	c.Close()
	if got := fmt.Sprintf("%s:%d", c.RemoteAddr(), c.RemotePort()); got != fmt.Sprintf("127.0.0.1:%d", clientPort) {
		t.Errorf("snapshot changed after close: %s", got)
	}
}
