// Package device runs the two control loops against the appliance: sampling
// the LEDs into the shared observation register, and reconciling the tracked
// state toward the operator's target by pulsing the button.
package device

import (
	"sync"
	"time"

	"github.com/sweeney/f58-bridge/internal/logic"
)

// Tracker is the process-wide LED observation register. The sampling loop is
// the only writer; the actuator loop and the MQTT session read it. Locks are
// scoped to the single read or write, never held while waiting on anything.
type Tracker struct {
	mu  sync.RWMutex
	obs logic.Observations
}

// NewTracker creates a Tracker whose LEDs read as off since the beginning of
// time, so the initial classification is Off.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Record notes a sampled level for one LED (no-op if unchanged).
func (t *Tracker) Record(led logic.PowerLevel, on bool, now time.Time) {
	t.mu.Lock()
	t.obs.Record(led, on, now)
	t.mu.Unlock()
}

// Classify returns the device state as of now. Fast, no I/O.
func (t *Tracker) Classify(now time.Time) logic.DeviceState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.obs.Classify(now)
}

// TargetStore is the process-wide target-state register. The MQTT session
// writes it on inbound set commands; the actuator loop reads it. Defaults to
// Off.
type TargetStore struct {
	mu     sync.RWMutex
	target logic.TargetState
}

// NewTargetStore creates a store with target Off.
func NewTargetStore() *TargetStore {
	return &TargetStore{}
}

// Set replaces the target state.
func (s *TargetStore) Set(target logic.TargetState) {
	s.mu.Lock()
	s.target = target
	s.mu.Unlock()
}

// Get returns the current target state.
func (s *TargetStore) Get() logic.TargetState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.target
}
