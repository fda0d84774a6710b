package socket

import (
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"
)

// waitFor polls cond until it holds or the deadline passes. The pumps and
// the dial run asynchronously, so tests converge on conditions instead of
// assuming immediate effects.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// pipeDial returns a DialFunc backed by net.Pipe and a channel delivering
// the server-side conn of each dial.
func pipeDial() (DialFunc, chan net.Conn) {
	server := make(chan net.Conn, 1)
	dial := func(addr string) (net.Conn, error) {
		c, s := net.Pipe()
		server <- s
		return c, nil
	}
	return dial, server
}

func connectedSocket(t *testing.T) (*Socket, net.Conn) {
	t.Helper()
	dial, serverCh := pipeDial()
	s := New(dial)
	if err := s.Connect("192.0.2.1:1883"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "established", func() bool { return s.State() == StateEstablished })
	return s, <-serverCh
}

func TestSocketConnectLifecycle(t *testing.T) {
	dial, serverCh := pipeDial()
	s := New(dial)

	if s.State() != StateClosed {
		t.Fatalf("expected closed initially, got %s", s.State())
	}
	if err := s.Connect("192.0.2.1:1883"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "established", func() bool { return s.State() == StateEstablished })
	server := <-serverCh
	defer server.Close()

	// A second connect while one is live is a caller bug.
	if err := s.Connect("192.0.2.1:1883"); err == nil {
		t.Error("expected error connecting twice")
	}

	s.Abort()
	if s.State() != StateClosed {
		t.Errorf("expected closed after abort, got %s", s.State())
	}
}

func TestSocketConnectFailureLandsClosed(t *testing.T) {
	s := New(func(addr string) (net.Conn, error) {
		return nil, errors.New("refused")
	})
	if err := s.Connect("192.0.2.1:1883"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "closed after failed dial", func() bool { return s.State() == StateClosed })
}

func TestSocketDataFlow(t *testing.T) {
	s, server := connectedSocket(t)
	defer server.Close()

	// Outbound: buffered write drains to the peer.
	n, err := s.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	got := make([]byte, 5)
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := server.Read(got); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("server got %q", got)
	}

	// Inbound: peer data shows up in the receive buffer.
	go server.Write([]byte("world"))
	waitFor(t, "data buffered", s.CanRecv)
	buf := make([]byte, 16)
	if n := s.Read(buf); string(buf[:n]) != "world" {
		t.Errorf("read got %q", buf[:n])
	}
	if s.CanRecv() {
		t.Error("expected empty receive buffer")
	}
}

func TestSocketPeerCloseStopsReceiving(t *testing.T) {
	s, server := connectedSocket(t)

	go server.Write([]byte("stale"))
	waitFor(t, "data buffered", s.CanRecv)
	server.Close()
	waitFor(t, "peer close noticed", func() bool { return !s.MayRecv() })

	// Buffered data is still there, but MayRecv already reports the loss.
	if !s.CanRecv() {
		t.Error("expected buffered data to remain")
	}
}

func TestSocketWriteWhenClosedIsReset(t *testing.T) {
	s := New(nil)
	if _, err := s.Write([]byte("x")); !errors.Is(err, ErrConnectionReset) {
		t.Errorf("expected reset error, got %v", err)
	}
}

func mustEndpoint(t *testing.T, s string) netip.AddrPort {
	t.Helper()
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		t.Fatal(err)
	}
	return ap
}

func TestAdapterSingleLogicalConnection(t *testing.T) {
	endpoint := mustEndpoint(t, "192.0.2.1:1883")
	a := NewAdapter(New(nil), endpoint)

	id, err := a.Open()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	var mismatch *IDMismatchError
	if _, err := a.Open(); !errors.As(err, &mismatch) {
		t.Errorf("second open: expected IDMismatchError, got %v", err)
	}

	if err := a.Close(id); err != nil {
		t.Fatalf("close: %v", err)
	}
	id2, err := a.Open()
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if id2 <= id {
		t.Errorf("expected monotonically increasing ids, got %d then %d", id, id2)
	}
}

func TestAdapterStaleIDFailsBeforeSocket(t *testing.T) {
	endpoint := mustEndpoint(t, "192.0.2.1:1883")
	a := NewAdapter(New(nil), endpoint)

	id, _ := a.Open()
	if err := a.Close(id); err != nil {
		t.Fatalf("close: %v", err)
	}

	var mismatch *IDMismatchError
	if _, err := a.Send(id, []byte("x")); !errors.As(err, &mismatch) {
		t.Errorf("send with stale id: expected IDMismatchError, got %v", err)
	}
	if _, err := a.Receive(id, make([]byte, 4)); !errors.As(err, &mismatch) {
		t.Errorf("receive with stale id: expected IDMismatchError, got %v", err)
	}
	if err := a.Close(id); !errors.As(err, &mismatch) {
		t.Errorf("close with stale id: expected IDMismatchError, got %v", err)
	}
	if err := a.Connect(id, endpoint); !errors.As(err, &mismatch) {
		t.Errorf("connect with stale id: expected IDMismatchError, got %v", err)
	}
}

func TestAdapterConnectContract(t *testing.T) {
	endpoint := mustEndpoint(t, "192.0.2.1:1883")
	s, server := connectedSocket(t)
	defer server.Close()
	a := NewAdapter(s, endpoint)
	id, _ := a.Open()

	var wrongAddr *EndpointMismatchError
	if err := a.Connect(id, mustEndpoint(t, "192.0.2.9:1883")); !errors.As(err, &wrongAddr) {
		t.Errorf("wrong endpoint: expected EndpointMismatchError, got %v", err)
	}

	if err := a.Connect(id, endpoint); err != nil {
		t.Errorf("connect on established socket: %v", err)
	}

	s.Abort()
	if err := a.Connect(id, endpoint); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("connect on closed socket: expected would-block, got %v", err)
	}
}

func TestAdapterConnectReportsRebuiltTransport(t *testing.T) {
	endpoint := mustEndpoint(t, "192.0.2.1:1883")
	dial, serverCh := pipeDial()
	s := New(dial)
	a := NewAdapter(s, endpoint)
	id, _ := a.Open()

	s.EnsureConnected(endpoint.String())
	waitFor(t, "established", func() bool { return s.State() == StateEstablished })
	server := <-serverCh
	if err := a.Connect(id, endpoint); err != nil {
		t.Fatalf("first connect: %v", err)
	}

	// The peer drops the connection and the socket is redialed. The first
	// connect check on the new transport must report the loss; the next one
	// is clean again.
	server.Close()
	waitFor(t, "peer close noticed", func() bool { return s.State() == StateClosed })
	s.EnsureConnected(endpoint.String())
	waitFor(t, "re-established", func() bool { return s.State() == StateEstablished })
	server2 := <-serverCh
	defer server2.Close()

	if err := a.Connect(id, endpoint); !errors.Is(err, ErrConnectionReset) {
		t.Errorf("connect on rebuilt transport: expected reset, got %v", err)
	}
	if err := a.Connect(id, endpoint); err != nil {
		t.Errorf("connect after reset reported: %v", err)
	}
}

func TestAdapterReceiveContract(t *testing.T) {
	endpoint := mustEndpoint(t, "192.0.2.1:1883")
	s, server := connectedSocket(t)
	a := NewAdapter(s, endpoint)
	id, _ := a.Open()

	// Established, nothing buffered: would block.
	if _, err := a.Receive(id, make([]byte, 8)); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("empty receive: expected would-block, got %v", err)
	}

	go server.Write([]byte("data"))
	waitFor(t, "data buffered", s.CanRecv)
	buf := make([]byte, 8)
	n, err := a.Receive(id, buf)
	if err != nil || string(buf[:n]) != "data" {
		t.Fatalf("receive: n=%d err=%v", n, err)
	}

	// Reset takes precedence over buffered data.
	go server.Write([]byte("stale"))
	waitFor(t, "stale data buffered", s.CanRecv)
	server.Close()
	waitFor(t, "peer close noticed", func() bool { return !s.MayRecv() })
	if _, err := a.Receive(id, buf); !errors.Is(err, ErrConnectionReset) {
		t.Errorf("receive after peer close: expected reset, got %v", err)
	}
}

func TestAdapterSendPartialAndWouldBlock(t *testing.T) {
	endpoint := mustEndpoint(t, "192.0.2.1:1883")

	// A conn whose Write never completes: the write pump takes at most one
	// chunk off the buffer, so repeated sends must hit would-block once the
	// buffer refills.
	dial := func(addr string) (net.Conn, error) {
		c, _ := net.Pipe() // no reader on the far end: writes park forever
		return c, nil
	}
	s := New(dial)
	if err := s.Connect("192.0.2.1:1883"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "established", func() bool { return s.State() == StateEstablished })

	a := NewAdapter(s, endpoint)
	id, _ := a.Open()

	chunk := make([]byte, sendBufferSize)
	total := 0
	blocked := false
	for i := 0; i < 5; i++ {
		n, err := a.Send(id, chunk)
		if errors.Is(err, ErrWouldBlock) {
			blocked = true
			break
		}
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		if n == 0 || n > sendBufferSize {
			t.Fatalf("send %d: implausible count %d", i, n)
		}
		total += n
		time.Sleep(10 * time.Millisecond) // let the pump take its one chunk
	}
	if !blocked {
		t.Fatalf("never hit would-block after %d buffered bytes", total)
	}
	// One chunk in flight in the pump plus one full buffer is the ceiling.
	if total > 2*sendBufferSize {
		t.Errorf("accepted %d bytes, more than pump+buffer can hold", total)
	}
}
