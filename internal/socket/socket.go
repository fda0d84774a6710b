// Package socket presents one TCP connection to the broker through a
// non-blocking call contract. A Socket owns bounded receive/transmit buffers
// pumped by background goroutines; every operation visible to callers
// completes immediately against those buffers and reports ErrWouldBlock
// instead of waiting. The Adapter on top emulates a single logical client
// connection for the MQTT wire client.
package socket

import (
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"
)

// State is the lifecycle state of the underlying connection.
type State int

const (
	// StateClosed: no connection (initial state, after Abort, after a
	// failed dial, or after a reset).
	StateClosed State = iota
	// StateConnecting: a dial is in flight.
	StateConnecting
	// StateEstablished: connected, both directions usable.
	StateEstablished
	// StateClosing: locally half-closed; receiving still works.
	StateClosing
)

// String names the state for log lines.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	}
	return "invalid"
}

// DialFunc dials the broker. Injectable for tests.
type DialFunc func(addr string) (net.Conn, error)

// Buffer sizes. Small on purpose: the MQTT traffic is a handful of short
// packets per tick.
const (
	recvBufferSize = 4096
	sendBufferSize = 4096
)

const dialTimeout = 10 * time.Second

// Socket is a single TCP connection behind non-blocking buffers.
//
// Read and Write never touch the network: they copy against the internal
// buffers and return immediately. That is what lets the Adapter promise its
// callers that an operation performed after a successful availability check
// resolves without suspending. The pump goroutines do the actual socket I/O.
type Socket struct {
	mu   sync.Mutex
	cond *sync.Cond

	dial DialFunc

	state      State
	conn       net.Conn
	gen        int // connection generation; stale pumps see a mismatch and exit
	rx         []byte
	tx         []byte
	peerClosed bool // EOF from the peer
	reset      bool // hard error from the peer
}

// New creates a disconnected Socket. A nil dial uses TCP with a 10s timeout.
func New(dial DialFunc) *Socket {
	if dial == nil {
		dial = func(addr string) (net.Conn, error) {
			return net.DialTimeout("tcp", addr, dialTimeout)
		}
	}
	s := &Socket{dial: dial}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// State returns the current lifecycle state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Generation identifies the connection instance. It changes whenever the
// connection is torn down, so a caller comparing generations across polls can
// tell a rebuilt transport from the one it was talking to.
func (s *Socket) Generation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Connect starts dialing addr in the background. The caller observes the
// outcome through State on later ticks; a failed dial lands back in
// StateClosed. Fails if a connection already exists or is being dialed.
func (s *Socket) Connect(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		return errors.New("socket: connect while " + s.state.String())
	}
	s.state = StateConnecting
	s.reset = false
	s.peerClosed = false
	gen := s.gen

	go func() {
		conn, err := s.dial(addr)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gen != gen {
			// Aborted while dialing.
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err != nil {
			log.Printf("socket: cannot connect: %v", err)
			s.state = StateClosed
			return
		}
		s.conn = conn
		s.state = StateEstablished
		go s.readPump(conn, gen)
		go s.writePump(conn, gen)
	}()
	return nil
}

// EnsureConnected drives the socket toward Established with addr. Anything
// other than an established or in-flight connection is aborted, flushed and
// redialed. Failures are logged and retried by the caller's next tick; this
// never returns an error.
func (s *Socket) EnsureConnected(addr string) {
	switch st := s.State(); st {
	case StateEstablished, StateConnecting:
		return
	default:
		log.Printf("socket: reopening; current state: %s", st)
		s.Abort()
		s.Flush()
		if err := s.Connect(addr); err != nil {
			log.Printf("socket: cannot connect: %v", err)
		}
	}
}

// Abort drops the connection immediately and discards both buffers.
func (s *Socket) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.state = StateClosed
	s.rx = nil
	s.tx = nil
	s.peerClosed = false
	s.reset = false
	s.cond.Broadcast()
}

// Flush discards pending transmit data. It is only meaningful right after
// Abort, where nothing can drain anymore; the graceful path flushes through
// the write pump instead.
func (s *Socket) Flush() {
	s.mu.Lock()
	s.tx = nil
	s.mu.Unlock()
}

// Close half-closes the connection: buffered transmit data still drains,
// after which the write side shuts down. Receiving keeps working until the
// peer closes.
func (s *Socket) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEstablished {
		s.state = StateClosing
		s.cond.Broadcast()
	}
}

// CanRecv reports whether buffered data is available to Read.
func (s *Socket) CanRecv() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rx) > 0
}

// MayRecv reports whether the peer can still deliver data: false once the
// connection is reset, gone, or the peer closed its side — even if buffered
// data remains.
func (s *Socket) MayRecv() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (s.state == StateEstablished || s.state == StateClosing) &&
		!s.peerClosed && !s.reset
}

// SendCapacity returns the total transmit buffer size.
func (s *Socket) SendCapacity() int { return sendBufferSize }

// SendQueue returns how much transmit data is buffered and not yet handed to
// the network.
func (s *Socket) SendQueue() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tx)
}

// Read copies buffered received data into p. It never blocks; with nothing
// buffered it returns 0. Callers check CanRecv first.
func (s *Socket) Read(p []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(p, s.rx)
	if n > 0 {
		s.rx = s.rx[n:]
		s.cond.Broadcast() // receive buffer has room again
	}
	return n
}

// Write copies up to the free transmit buffer space from p and returns the
// count taken. It never blocks. Returns ErrConnectionReset when the
// connection cannot carry data anymore.
func (s *Socket) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reset || s.state != StateEstablished {
		return 0, ErrConnectionReset
	}
	free := sendBufferSize - len(s.tx)
	n := len(p)
	if n > free {
		n = free
	}
	if n > 0 {
		s.tx = append(s.tx, p[:n]...)
		s.cond.Broadcast()
	}
	return n, nil
}

// readPump moves data from the connection into the receive buffer, blocking
// when the buffer is full. It exits when the connection dies or is replaced.
func (s *Socket) readPump(conn net.Conn, gen int) {
	buf := make([]byte, 2048)
	for {
		n, err := conn.Read(buf)

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		if n > 0 {
			for len(s.rx)+n > recvBufferSize && s.gen == gen {
				s.cond.Wait()
			}
			if s.gen != gen {
				s.mu.Unlock()
				return
			}
			s.rx = append(s.rx, buf[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.peerClosed = true
			} else {
				s.reset = true
			}
			// Either way the connection is done; leaving StateClosed lets
			// the session's ensure-connected step redial it.
			s.state = StateClosed
			s.cond.Broadcast()
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

// writePump drains the transmit buffer into the connection. On a local
// half-close it flushes what is left and shuts down the write side.
func (s *Socket) writePump(conn net.Conn, gen int) {
	for {
		s.mu.Lock()
		for len(s.tx) == 0 && s.gen == gen && s.state == StateEstablished {
			s.cond.Wait()
		}
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		if len(s.tx) == 0 {
			// Half-closed with nothing left to flush.
			closing := s.state == StateClosing
			s.mu.Unlock()
			if closing {
				if cw, ok := conn.(interface{ CloseWrite() error }); ok {
					cw.CloseWrite()
				}
			}
			return
		}
		data := make([]byte, len(s.tx))
		copy(data, s.tx)
		s.tx = s.tx[:0]
		s.mu.Unlock()

		if _, err := conn.Write(data); err != nil {
			s.mu.Lock()
			if s.gen == gen {
				s.reset = true
				s.state = StateClosed
				s.cond.Broadcast()
			}
			s.mu.Unlock()
			return
		}
	}
}
