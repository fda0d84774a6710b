// Package mqtt maintains the broker session: a poll-driven MQTT 3.1.1 client
// speaking through the non-blocking socket Adapter, and the orchestrator loop
// that keeps the connection alive, delivers commands, and publishes
// telemetry. It is not a general client: QoS 0 publishes, clean sessions and
// the handful of packets this daemon needs.
package mqtt

import (
	"bytes"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/sweeney/f58-bridge/internal/socket"
)

// ErrSessionReset reports that the broker session was rebuilt: subscriptions
// are gone and must be re-established. Returned by Poll at most once per
// rebuild; not a failure.
var ErrSessionReset = errors.New("mqtt: session was reset")

// ErrNotConnected reports a publish or subscribe attempted before the broker
// accepted the connection.
var ErrNotConnected = errors.New("mqtt: not connected to the broker")

// keepAlive is the CONNECT keepalive interval. The client pings once half of
// it elapses without outbound traffic, well inside the broker's 1.5x grace.
const keepAlive = 60 * time.Second

// maxPacketSize bounds an inbound packet; anything larger is treated as a
// protocol error and drops the session.
const maxPacketSize = 8192

// MessageHandler receives inbound application messages.
type MessageHandler func(topic string, payload []byte)

// Client is the poll-driven protocol client. All methods must be called from
// the session loop goroutine; nothing here blocks or spawns.
type Client struct {
	adapter  *socket.Adapter
	endpoint netip.AddrPort
	clientID string

	id     socket.LogicalID
	opened bool

	connectSent   bool
	connected     bool
	everConnected bool

	rx        []byte
	txPending []byte

	nextMessageID uint16
	lastSend      time.Time
	lastRecv      time.Time
}

// NewClient creates a client for the given adapter and fixed broker
// endpoint.
func NewClient(adapter *socket.Adapter, endpoint netip.AddrPort, clientID string) *Client {
	return &Client{adapter: adapter, endpoint: endpoint, clientID: clientID}
}

// IsConnected reports whether the broker has accepted the session. Publish
// and Subscribe only work while true.
func (c *Client) IsConnected() bool { return c.connected }

// Poll advances the protocol: flushes pending writes, drives the connect
// handshake, drains inbound packets (invoking handler for application
// messages), and keeps the connection alive. Transport loss is absorbed —
// the session is rebuilt over the following polls and surfaces once as
// ErrSessionReset.
func (c *Client) Poll(now time.Time, handler MessageHandler) error {
	if !c.opened {
		id, err := c.adapter.Open()
		if err != nil {
			return fmt.Errorf("open logical socket: %w", err)
		}
		c.id = id
		c.opened = true
	}

	switch err := c.adapter.Connect(c.id, c.endpoint); {
	case errors.Is(err, socket.ErrWouldBlock):
		// Transport not established yet (or lost; EnsureConnected is
		// bringing it back). Forget any half-done handshake.
		if c.connectSent || c.connected {
			c.dropSession()
		}
		return nil
	case errors.Is(err, socket.ErrConnectionReset):
		// The transport was rebuilt underneath us. Forget the dead
		// session and redo the handshake on the new connection.
		c.dropSession()
	case err != nil:
		return fmt.Errorf("logical connect: %w", err)
	}

	if err := c.flushPending(); err != nil {
		return nil // transport gone; rebuilt on later polls
	}

	if !c.connectSent {
		cp := packets.NewControlPacket(packets.Connect).(*packets.ConnectPacket)
		cp.ProtocolName = "MQTT"
		cp.ProtocolVersion = 4
		cp.CleanSession = true
		cp.ClientIdentifier = c.clientID
		cp.Keepalive = uint16(keepAlive / time.Second)
		c.connectSent = true
		c.lastRecv = now
		if err := c.send(cp, now); err != nil {
			return nil
		}
	}

	if err := c.readAvailable(now); err != nil {
		return nil // reset absorbed; surfaces via the reconnect handshake
	}

	var sessionReset bool
	for {
		frame, ok, err := c.nextFrame()
		if err != nil {
			c.dropSession()
			return fmt.Errorf("inbound packet: %w", err)
		}
		if !ok {
			break
		}
		cp, err := packets.ReadPacket(bytes.NewReader(frame))
		if err != nil {
			c.dropSession()
			return fmt.Errorf("decode packet: %w", err)
		}
		reset, err := c.handlePacket(cp, now, handler)
		if err != nil {
			return err
		}
		sessionReset = sessionReset || reset
	}

	// The inactivity timeout covers the handshake too: a broker that accepts
	// TCP but never answers the CONNECT must not wedge the session. Dropping
	// it clears connectSent, so the next poll retries the handshake.
	if c.connectSent && now.Sub(c.lastRecv) > 2*keepAlive {
		c.dropSession()
		return errors.New("mqtt: keepalive timeout")
	}
	if c.connected && now.Sub(c.lastSend) >= keepAlive/2 {
		ping := packets.NewControlPacket(packets.Pingreq)
		if err := c.send(ping, now); err != nil {
			return nil
		}
	}

	if sessionReset {
		return ErrSessionReset
	}
	return nil
}

// Subscribe asks the broker for the given topics at QoS 0. The SUBACK is not
// awaited; a lost subscribe surfaces as a session reset later.
func (c *Client) Subscribe(now time.Time, topics []string) error {
	if !c.connected {
		return ErrNotConnected
	}
	sp := packets.NewControlPacket(packets.Subscribe).(*packets.SubscribePacket)
	sp.MessageID = c.nextID()
	sp.Topics = append([]string(nil), topics...)
	sp.Qoss = make([]byte, len(topics))
	return c.send(sp, now)
}

// Publish sends a QoS 0 publication.
func (c *Client) Publish(now time.Time, topic string, payload []byte, retain bool) error {
	if !c.connected {
		return ErrNotConnected
	}
	pp := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	pp.TopicName = topic
	pp.Payload = payload
	pp.Retain = retain
	return c.send(pp, now)
}

func (c *Client) handlePacket(cp packets.ControlPacket, now time.Time, handler MessageHandler) (sessionReset bool, err error) {
	switch p := cp.(type) {
	case *packets.ConnackPacket:
		if p.ReturnCode != packets.Accepted {
			c.dropSession()
			return false, fmt.Errorf("mqtt: connection refused: %v", packets.ConnErrors[p.ReturnCode])
		}
		c.connected = true
		// Clean-session connects never resume broker state, so every
		// accepted connection after the first means subscriptions were
		// lost.
		sessionReset = c.everConnected
		c.everConnected = true
	case *packets.PublishPacket:
		if handler != nil {
			handler(p.TopicName, p.Payload)
		}
		if p.Qos == 1 {
			ack := packets.NewControlPacket(packets.Puback).(*packets.PubackPacket)
			ack.MessageID = p.MessageID
			if err := c.send(ack, now); err != nil {
				return sessionReset, nil
			}
		}
	case *packets.SubackPacket, *packets.PubackPacket, *packets.PingrespPacket:
		// Nothing to do; receipt already refreshed the keepalive clock.
	}
	return sessionReset, nil
}

// readAvailable drains the adapter's receive side into the reassembly
// buffer. Would-block ends the drain; a reset drops the session.
func (c *Client) readAvailable(now time.Time) error {
	buf := make([]byte, 1024)
	for {
		n, err := c.adapter.Receive(c.id, buf)
		if errors.Is(err, socket.ErrWouldBlock) {
			return nil
		}
		if err != nil {
			c.dropSession()
			return err
		}
		if n > 0 {
			c.rx = append(c.rx, buf[:n]...)
			c.lastRecv = now
		}
	}
}

// nextFrame extracts one complete MQTT packet from the reassembly buffer.
// ok is false while the buffer holds only a partial packet.
func (c *Client) nextFrame() (frame []byte, ok bool, err error) {
	if len(c.rx) < 2 {
		return nil, false, nil
	}
	remaining, varintLen := 0, 0
	for multiplier := 1; ; multiplier *= 128 {
		if 1+varintLen >= len(c.rx) {
			return nil, false, nil // varint not complete yet
		}
		b := c.rx[1+varintLen]
		varintLen++
		remaining += int(b&0x7f) * multiplier
		if b&0x80 == 0 {
			break
		}
		if varintLen == 4 {
			return nil, false, errors.New("malformed remaining length")
		}
	}
	total := 1 + varintLen + remaining
	if total > maxPacketSize {
		return nil, false, fmt.Errorf("packet of %d bytes exceeds limit", total)
	}
	if len(c.rx) < total {
		return nil, false, nil
	}
	frame = c.rx[:total]
	c.rx = c.rx[total:]
	return frame, true, nil
}

// send serializes a packet and pushes it through the adapter, respecting
// partial writes. Bytes the adapter cannot take now are parked in txPending
// so packet boundaries are never reordered.
func (c *Client) send(cp packets.ControlPacket, now time.Time) error {
	var buf bytes.Buffer
	if err := cp.Write(&buf); err != nil {
		return fmt.Errorf("encode packet: %w", err)
	}
	c.lastSend = now
	if len(c.txPending) > 0 {
		c.txPending = append(c.txPending, buf.Bytes()...)
		return nil
	}
	data := buf.Bytes()
	for len(data) > 0 {
		n, err := c.adapter.Send(c.id, data)
		if errors.Is(err, socket.ErrWouldBlock) {
			c.txPending = append(c.txPending, data...)
			return nil
		}
		if err != nil {
			c.dropSession()
			return err
		}
		data = data[n:]
	}
	return nil
}

// flushPending retries parked outbound bytes.
func (c *Client) flushPending() error {
	for len(c.txPending) > 0 {
		n, err := c.adapter.Send(c.id, c.txPending)
		if errors.Is(err, socket.ErrWouldBlock) {
			return nil
		}
		if err != nil {
			c.dropSession()
			return err
		}
		c.txPending = c.txPending[n:]
	}
	return nil
}

// dropSession forgets the broker session after transport loss or a protocol
// error. The logical socket stays open; the next polls redo the handshake.
func (c *Client) dropSession() {
	c.connected = false
	c.connectSent = false
	c.rx = nil
	c.txPending = nil
}

func (c *Client) nextID() uint16 {
	c.nextMessageID++
	if c.nextMessageID == 0 {
		c.nextMessageID = 1
	}
	return c.nextMessageID
}
