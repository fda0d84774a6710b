package socket

import (
	"errors"
	"fmt"
	"net/netip"
)

// ErrWouldBlock reports that a non-blocking operation has nothing to do yet;
// the caller retries on its next poll.
var ErrWouldBlock = errors.New("socket: operation would block")

// ErrConnectionReset reports that the connection is gone. Distinct from every
// other failure so the wire client can rebuild the session instead of
// treating it as a contract violation.
var ErrConnectionReset = errors.New("socket: connection reset")

// IDMismatchError reports an Adapter operation against a logical connection
// that is not the live one. A programming-contract violation in the caller,
// never swallowed.
type IDMismatchError struct {
	Expected, Got LogicalID
}

func (e *IDMismatchError) Error() string {
	return fmt.Sprintf("socket: logical connection mismatch: expected %d, got %d", e.Expected, e.Got)
}

// EndpointMismatchError reports a connect attempt to anything other than the
// adapter's fixed endpoint.
type EndpointMismatchError struct {
	Expected, Got netip.AddrPort
}

func (e *EndpointMismatchError) Error() string {
	return fmt.Sprintf("socket: unexpected endpoint: expected %s, got %s", e.Expected, e.Got)
}

// LogicalID identifies one logical connection issued by Open. 0 is never
// issued and means "none".
type LogicalID uint32

// Adapter exposes the Socket as a single always-available logical client
// connection with classic non-blocking semantics. At most one logical
// connection is live at a time; ids increase monotonically so a stale holder
// can never touch a successor's connection.
//
// Connection establishment is driven externally via Socket.EnsureConnected;
// Connect here only reports whether it has happened yet.
type Adapter struct {
	sock     *Socket
	endpoint netip.AddrPort

	current LogicalID // 0 = none
	lastID  uint32

	connGen int // socket generation last observed established
	sawConn bool
}

// NewAdapter wraps sock, pinned to the given remote endpoint.
func NewAdapter(sock *Socket, endpoint netip.AddrPort) *Adapter {
	return &Adapter{sock: sock, endpoint: endpoint}
}

// check verifies that got names the live logical connection.
func (a *Adapter) check(got LogicalID) error {
	if got != a.current {
		return &IDMismatchError{Expected: a.current, Got: got}
	}
	return nil
}

// Open allocates the logical connection. Fails while one is already open.
func (a *Adapter) Open() (LogicalID, error) {
	if err := a.check(0); err != nil {
		return 0, err
	}
	a.lastID++
	a.current = LogicalID(a.lastID)
	a.sawConn = false
	return a.current, nil
}

// Connect reports the connection status toward remote: nil once the real
// socket is established, ErrWouldBlock while it is not, and an
// EndpointMismatchError for any endpoint other than the configured one.
// If the transport was torn down and rebuilt between two calls, the first
// call on the new transport returns ErrConnectionReset so the caller knows
// its conversation did not survive.
func (a *Adapter) Connect(id LogicalID, remote netip.AddrPort) error {
	if err := a.check(id); err != nil {
		return err
	}
	if remote != a.endpoint {
		return &EndpointMismatchError{Expected: a.endpoint, Got: remote}
	}
	if a.sock.State() != StateEstablished {
		return ErrWouldBlock
	}
	gen := a.sock.Generation()
	if !a.sawConn {
		a.sawConn = true
		a.connGen = gen
		return nil
	}
	if gen != a.connGen {
		a.connGen = gen
		return ErrConnectionReset
	}
	return nil
}

// Send buffers up to the available headroom from p and returns the count
// taken; a partial write is a valid outcome the caller must handle. With no
// headroom it returns ErrWouldBlock. The buffer copy after the headroom
// check is immediate, which is what keeps this call non-suspending.
func (a *Adapter) Send(id LogicalID, p []byte) (int, error) {
	if err := a.check(id); err != nil {
		return 0, err
	}
	headroom := a.sock.SendCapacity() - a.sock.SendQueue()
	if headroom == 0 {
		return 0, ErrWouldBlock
	}
	if len(p) > headroom {
		p = p[:headroom]
	}
	if len(p) == 0 {
		return 0, nil
	}
	return a.sock.Write(p)
}

// Receive reads buffered data into p. A connection that can no longer
// receive fails with ErrConnectionReset even if buffered data remains:
// reporting the loss beats handing out stale bytes from a dead connection.
// With nothing buffered it returns ErrWouldBlock.
func (a *Adapter) Receive(id LogicalID, p []byte) (int, error) {
	if err := a.check(id); err != nil {
		return 0, err
	}
	if !a.sock.MayRecv() {
		return 0, ErrConnectionReset
	}
	if !a.sock.CanRecv() {
		return 0, ErrWouldBlock
	}
	return a.sock.Read(p), nil
}

// Close frees the logical connection and half-closes the real socket. The
// graceful flush of buffered transmit data happens in the socket's pump, not
// here.
func (a *Adapter) Close(id LogicalID) error {
	if err := a.check(id); err != nil {
		return err
	}
	a.sock.Close()
	a.current = 0
	return nil
}
