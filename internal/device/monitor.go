package device

import (
	"context"
	"log"
	"time"

	"github.com/sweeney/f58-bridge/internal/gpio"
	"github.com/sweeney/f58-bridge/internal/logic"
)

// Monitor samples the LED lines into the Tracker. It polls every
// logic.PollPeriod so a blink half-cycle can never slip between samples, and
// additionally wakes early on GPIO edge events when the reader provides them.
type Monitor struct {
	Leds    gpio.LedReader
	Tracker *Tracker

	// Now defaults to time.Now.
	Now func() time.Time
}

// Sample reads the LEDs once and records all three levels.
func (m *Monitor) Sample() error {
	levels, err := m.Leds.Read()
	if err != nil {
		return err
	}
	now := m.now()
	for led := logic.Low; led <= logic.High; led++ {
		m.Tracker.Record(led, levels[led], now)
	}
	return nil
}

// Run samples until ctx is cancelled. Read errors are logged and retried on
// the next wake-up; they never stop the loop.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(logic.PollPeriod)
	defer ticker.Stop()

	edges := m.Leds.Edges()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-edges:
			// An edge may race with the level read that follows; the next
			// periodic sample covers anything missed here.
		}
		if err := m.Sample(); err != nil {
			log.Printf("led sample error: %v", err)
		}
	}
}

func (m *Monitor) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}
