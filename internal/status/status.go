// Package status provides a thread-safe status tracker for the f58-bridge
// daemon, read by the HTTP handlers.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/f58-bridge/internal/logic"
)

// NetworkInfo contains network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Broker   string
	Prefix   string
	HTTPPort string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type — safe to use after the lock is released.
type Snapshot struct {
	Device        logic.DeviceState
	Target        logic.TargetState
	MQTTConnected bool
	StartTime     time.Time
	Now           time.Time
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
			Device:    logic.StateUnknown(),
		},
	}
}

// Update sets the tracked device state, target and MQTT connection status.
// Called from the session loop on every tick.
func (t *Tracker) Update(device logic.DeviceState, target logic.TargetState, mqttConnected bool) {
	t.mu.Lock()
	t.snap.Device = device
	t.snap.Target = target
	t.snap.MQTTConnected = mqttConnected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
