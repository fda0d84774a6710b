package device

import (
	"context"
	"time"

	"github.com/sweeney/f58-bridge/internal/gpio"
	"github.com/sweeney/f58-bridge/internal/logic"
	"github.com/sweeney/f58-bridge/internal/mlog"
)

// Pulse and settle timing for the button.
const (
	// ShortPushDuration cycles the power level.
	ShortPushDuration = 500 * time.Millisecond
	// LongPushDuration toggles the device fully off/on.
	LongPushDuration = 2000 * time.Millisecond
	// SettleDelay elapses after every decision cycle, pushed or not, so the
	// appliance's own state machine can finish its transition before the
	// next sample is trusted.
	SettleDelay = 5000 * time.Millisecond
)

// Actuator reconciles the tracked device state toward the target by pulsing
// the button. One decision per cycle, followed by SettleDelay.
type Actuator struct {
	Button  gpio.Button
	Tracker *Tracker
	Targets *TargetStore
	Logs    *mlog.Queue

	// Now defaults to time.Now; Sleep to a ctx-aware time.Sleep. Both are
	// injectable for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	unknownSince time.Time
}

// Step runs one decision cycle: classify, decide, and pulse the button if an
// action is due. It does not include the settle delay; Run adds that.
func (a *Actuator) Step(ctx context.Context) error {
	now := a.now()
	target := a.Targets.Get()
	current := a.Tracker.Classify(now)

	action, warnFor := logic.Decide(current, target, now, &a.unknownSince)
	if warnFor != 0 {
		a.Logs.Printf("State actuator: unknown state for %dms", warnFor.Milliseconds())
	}
	if action == logic.ActionNone {
		return nil
	}

	a.Logs.Printf("Sending %s: current_state: %s; target_state: %s", action, current, target)
	return a.pulse(ctx, action)
}

func (a *Actuator) pulse(ctx context.Context, action logic.Action) error {
	d := ShortPushDuration
	if action == logic.ActionLongPush {
		d = LongPushDuration
	}
	if err := a.Button.Set(true); err != nil {
		return err
	}
	sleepErr := a.sleep(ctx, d)
	if err := a.Button.Set(false); err != nil {
		return err
	}
	return sleepErr
}

// Run reconciles until ctx is cancelled. Button errors are logged to the bus
// log queue and retried on the next cycle; they never stop the loop.
func (a *Actuator) Run(ctx context.Context) error {
	for {
		if err := a.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.Logs.Printf("State actuator: button error: %v", err)
		}
		if err := a.sleep(ctx, SettleDelay); err != nil {
			return err
		}
	}
}

func (a *Actuator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *Actuator) sleep(ctx context.Context, d time.Duration) error {
	if a.Sleep != nil {
		return a.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
