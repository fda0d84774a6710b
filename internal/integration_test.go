package internal

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/f58-bridge/internal/device"
	"github.com/sweeney/f58-bridge/internal/gpio"
	"github.com/sweeney/f58-bridge/internal/logic"
	"github.com/sweeney/f58-bridge/internal/mlog"
)

// fixture wires fakes into the monitor/actuator pair around a manual clock.
type fixture struct {
	t        *testing.T
	now      time.Time
	leds     *gpio.FakeLedReader
	button   *gpio.FakeButton
	tracker  *device.Tracker
	targets  *device.TargetStore
	logs     *mlog.Queue
	monitor  *device.Monitor
	actuator *device.Actuator
	sleeps   []time.Duration
}

func newFixture(t *testing.T, samples [][3]bool) *fixture {
	f := &fixture{
		t:       t,
		now:     time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		leds:    gpio.NewFakeLedReader(samples),
		button:  gpio.NewFakeButton(),
		tracker: device.NewTracker(),
		targets: device.NewTargetStore(),
		logs:    mlog.NewQueue(mlog.DefaultCapacity),
	}
	clock := func() time.Time { return f.now }
	f.monitor = &device.Monitor{Leds: f.leds, Tracker: f.tracker, Now: clock}
	f.actuator = &device.Actuator{
		Button:  f.button,
		Tracker: f.tracker,
		Targets: f.targets,
		Logs:    f.logs,
		Now:     clock,
		Sleep: func(ctx context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		},
	}
	return f
}

// cycle advances time, samples the LEDs once and runs one actuator decision,
// mimicking one settle-spaced pass of the real loops.
func (f *fixture) cycle(advance time.Duration) {
	f.t.Helper()
	f.now = f.now.Add(advance)
	if err := f.monitor.Sample(); err != nil {
		f.t.Fatalf("sample: %v", err)
	}
	// The actuator decides a beat after the sample, as the poll loops do.
	f.now = f.now.Add(logic.PollPeriod)
	if err := f.actuator.Step(context.Background()); err != nil {
		f.t.Fatalf("actuator step: %v", err)
	}
}

func (f *fixture) drainLogs() []string {
	var lines []string
	for {
		line, ok := f.logs.TryNext()
		if !ok {
			return lines
		}
		lines = append(lines, line)
	}
}

// TestIntegrationReconcileOffToHigh walks the full reconciliation: the
// appliance starts off with a high target, gets woken with a long push, and
// is stepped up with short pushes until it is heating at high.
func TestIntegrationReconcileOffToHigh(t *testing.T) {
	f := newFixture(t, [][3]bool{
		{false, false, false}, // off
		{true, false, false},  // heating low: low led just started blinking
		{true, true, false},   // heating medium
		{true, true, true},    // heating high
	})
	f.targets.Set(logic.TargetOn(logic.High))

	// Off with a high target: wake the device.
	f.cycle(0)
	// Each following cycle the appliance has advanced one level; the
	// just-changed LED reads as blinking, so the state is heating.
	f.cycle(device.SettleDelay) // heating low -> short push
	f.cycle(device.SettleDelay) // heating medium -> short push
	f.cycle(device.SettleDelay) // heating high: target reached
	f.cycle(device.SettleDelay) // still reached, no further pushes

	want := []bool{true, false, true, false, true, false}
	got := f.button.Recorded()
	if len(got) != len(want) {
		t.Fatalf("expected %d button transitions, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("button transitions: got %v, want %v", got, want)
		}
	}

	// First pulse held long, the next two short.
	if len(f.sleeps) != 3 {
		t.Fatalf("expected 3 pulse holds, got %v", f.sleeps)
	}
	if f.sleeps[0] != device.LongPushDuration {
		t.Errorf("first hold: got %v, want %v", f.sleeps[0], device.LongPushDuration)
	}
	if f.sleeps[1] != device.ShortPushDuration || f.sleeps[2] != device.ShortPushDuration {
		t.Errorf("step holds: got %v", f.sleeps[1:])
	}

	lines := f.drainLogs()
	if len(lines) != 3 {
		t.Fatalf("expected 3 action log lines, got %v", lines)
	}
	if !strings.Contains(lines[0], "long_push") {
		t.Errorf("line 0: got %q", lines[0])
	}
	for _, line := range lines[1:] {
		if !strings.Contains(line, "short_push") {
			t.Errorf("expected short_push line, got %q", line)
		}
	}
}

// TestIntegrationTargetReachedStaysQuiet verifies that a steady on state
// matching the target produces no pushes at all.
func TestIntegrationTargetReachedStaysQuiet(t *testing.T) {
	f := newFixture(t, [][3]bool{
		{true, false, false}, // on at low
	})
	f.targets.Set(logic.TargetOn(logic.Low))

	// Let the low LED settle past the blink window so it reads steady on.
	f.cycle(0)
	f.cycle(device.SettleDelay)
	f.cycle(device.SettleDelay)

	if got := f.button.Recorded(); len(got) != 0 {
		t.Errorf("expected no button transitions, got %v", got)
	}
	if lines := f.drainLogs(); len(lines) != 0 {
		t.Errorf("expected no log lines, got %v", lines)
	}
}

// TestIntegrationUnknownStateEscalates verifies the watchdog path: an
// unclassifiable LED pattern is first logged, then cleared with a long push.
func TestIntegrationUnknownStateEscalates(t *testing.T) {
	// Medium without low is not a pattern the appliance produces.
	f := newFixture(t, [][3]bool{
		{false, true, false},
	})

	var warned, pushed bool
	for i := 0; i < 6; i++ { // 0s..25s in settle steps
		f.cycle(device.SettleDelay)
		for _, line := range f.drainLogs() {
			if strings.Contains(line, "unknown state for") {
				warned = true
			}
		}
		if len(f.button.Recorded()) > 0 {
			pushed = true
		}
	}

	if !warned {
		t.Error("expected an unknown-state warning on the log queue")
	}
	if !pushed {
		t.Error("expected a reset push after the unknown state persisted")
	}
	if got := f.button.Recorded(); len(got) != 2 || !got[0] || got[1] {
		t.Errorf("expected one press/release pair, got %v", got)
	}
	if len(f.sleeps) != 1 || f.sleeps[0] != device.LongPushDuration {
		t.Errorf("expected one long hold, got %v", f.sleeps)
	}
}

// TestIntegrationReadErrorDoesNotCorruptState verifies a failing LED read
// leaves the tracked state untouched.
func TestIntegrationReadErrorDoesNotCorruptState(t *testing.T) {
	f := newFixture(t, [][3]bool{
		{true, false, false},
	})
	f.targets.Set(logic.TargetOn(logic.Low))

	f.cycle(0)
	f.now = f.now.Add(device.SettleDelay)

	f.leds.ReadError = context.DeadlineExceeded
	if err := f.monitor.Sample(); err == nil {
		t.Fatal("expected sample error")
	}
	f.leds.ReadError = nil

	if got := f.tracker.Classify(f.now); got != logic.StateOn(logic.Low) {
		t.Errorf("state after failed read: got %s, want %s", got, logic.StateOn(logic.Low))
	}
}
