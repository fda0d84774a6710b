package mqtt

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/netip"
	"time"

	"github.com/sweeney/f58-bridge/internal/config"
	"github.com/sweeney/f58-bridge/internal/device"
	"github.com/sweeney/f58-bridge/internal/logic"
	"github.com/sweeney/f58-bridge/internal/mlog"
	"github.com/sweeney/f58-bridge/internal/socket"
	"github.com/sweeney/f58-bridge/internal/status"
)

// TickPeriod is the session loop cadence.
const TickPeriod = time.Second

// StateUpdatePeriod is how long an unchanged state may go unpublished before
// it is refreshed anyway.
const StateUpdatePeriod = 60 * time.Second

// Session runs the protocol client over the socket: per tick it converges
// the transport, polls the client, and performs the connected-only work
// (resubscribe, log drain, state telemetry).
type Session struct {
	Socket   *socket.Socket
	Client   *Client
	Endpoint netip.AddrPort
	Topics   config.Topics

	Tracker *device.Tracker
	Targets *device.TargetStore
	Logs    *mlog.Queue
	// Status, if set, receives connection/state updates for the HTTP page.
	Status *status.Tracker

	// Now defaults to time.Now.
	Now func() time.Time

	needResubscribe bool
	lastPublishedAt time.Time
	lastPublished   logic.DeviceState
	started         bool
}

// Step runs one orchestration tick.
func (s *Session) Step(now time.Time) {
	if !s.started {
		// Starting with a fresh Unknown record means the first connected
		// tick publishes the real state immediately (it differs and is not
		// Unknown), while a genuinely unclassifiable start waits for the
		// refresh period.
		s.lastPublishedAt = now
		s.lastPublished = logic.StateUnknown()
		s.needResubscribe = true
		s.started = true
	}

	// Transport convergence first; may take several ticks, never errors out.
	s.Socket.EnsureConnected(s.Endpoint.String())

	switch err := s.Client.Poll(now, s.handleMessage); {
	case err == nil:
	case errors.Is(err, ErrSessionReset):
		s.Logs.Printf("MQTT connection was reset!")
		s.needResubscribe = true
	default:
		// Debug sink only: a poll failure caused by publishing logs must
		// not generate more bus log traffic.
		log.Printf("mqtt poll error: %v", err)
	}

	if s.Client.IsConnected() {
		if s.needResubscribe {
			if err := s.Client.Subscribe(now, []string{s.Topics.Set, s.Topics.Cmd}); err != nil {
				log.Printf("error subscribing to topics: %v", err)
			} else {
				s.needResubscribe = false
			}
		}

		// Drain the log queue completely; delivery is at most once, a
		// failed line is dropped rather than letting the queue back up
		// against a broken broker.
		for {
			line, ok := s.Logs.TryNext()
			if !ok {
				break
			}
			if err := s.Client.Publish(now, s.Topics.Log, []byte(line), false); err != nil {
				log.Printf("error publishing logs: %v", err)
			}
		}

		state := s.Tracker.Classify(now)
		if now.Sub(s.lastPublishedAt) > StateUpdatePeriod ||
			(state != s.lastPublished && state != logic.StateUnknown()) {
			if err := s.Client.Publish(now, s.Topics.State, []byte(state.String()), true); err != nil {
				log.Printf("error publishing state: %v", err)
			} else {
				s.lastPublishedAt = now
				s.lastPublished = state
			}
		}
	}

	if s.Status != nil {
		s.Status.Update(s.Tracker.Classify(now), s.Targets.Get(), s.Client.IsConnected())
	}
}

// Run steps the session once per TickPeriod until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(TickPeriod)
	defer ticker.Stop()
	for {
		s.Step(s.now())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// handleMessage classifies an inbound message by topic. Set commands update
// the target register; a ping is echoed to the bus log; everything else is
// logged and ignored.
func (s *Session) handleMessage(topic string, payload []byte) {
	switch topic {
	case s.Topics.Set:
		target, ok := logic.ParseTarget(string(payload))
		if !ok {
			s.Logs.Printf("Received unknown set command: %q", payload)
			return
		}
		log.Printf("received command: set %s", target)
		s.Targets.Set(target)
	case s.Topics.Cmd:
		if rest, ok := bytes.CutPrefix(payload, []byte("ping ")); ok {
			s.Logs.Printf("Pong: %s", rest)
			return
		}
		s.Logs.Printf("Received unknown cmd command: %q", payload)
	default:
		s.Logs.Printf("Received unknown topic: %s", topic)
	}
}

func (s *Session) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
