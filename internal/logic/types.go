// Package logic contains pure business logic for Flair 58 state tracking and
// reconciliation. This package has NO external dependencies (no GPIO, MQTT,
// OS, or time.Sleep). Time is always injectable via time.Time parameters.
package logic

// PowerLevel is a heat level as labelled on the device. The levels index the
// three front-panel LEDs: Low=0, Medium=1, High=2.
type PowerLevel int

const (
	Low PowerLevel = iota
	Medium
	High
)

// String returns the level name as used in MQTT payloads.
func (p PowerLevel) String() string {
	switch p {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	}
	return "invalid"
}

// Mode is the discriminant of DeviceState.
type Mode int

const (
	// ModeOff means all LEDs are steady off.
	ModeOff Mode = iota
	// ModeUnknown covers every LED pattern outside the known ones. It shows
	// up when something went wrong, but also during normal transitions: when
	// the device powers down all LEDs briefly read as blinking, and all LEDs
	// blinking is not a valid pattern.
	ModeUnknown
	// ModeHeating: LEDs below the level are steady on, the LED at the level
	// is blinking, LEDs above are off.
	ModeHeating
	// ModeOn: LEDs at and below the level are steady on, LEDs above are off.
	ModeOn
)

// DeviceState is the appliance state observed from its LEDs. The zero value
// is Off. Level is meaningful only for ModeHeating and ModeOn; constructors
// keep it zeroed otherwise so states compare with ==.
type DeviceState struct {
	Mode  Mode
	Level PowerLevel
}

// StateOff returns the all-LEDs-off state.
func StateOff() DeviceState { return DeviceState{Mode: ModeOff} }

// StateUnknown returns the unclassifiable state.
func StateUnknown() DeviceState { return DeviceState{Mode: ModeUnknown} }

// StateHeating returns the heating-toward-level state.
func StateHeating(level PowerLevel) DeviceState {
	return DeviceState{Mode: ModeHeating, Level: level}
}

// StateOn returns the steady-on-at-level state.
func StateOn(level PowerLevel) DeviceState {
	return DeviceState{Mode: ModeOn, Level: level}
}

// String returns the state as published on the state topic.
func (s DeviceState) String() string {
	switch s.Mode {
	case ModeOff:
		return "off"
	case ModeUnknown:
		return "unknown"
	case ModeHeating:
		return "heating_" + s.Level.String()
	case ModeOn:
		return "on_" + s.Level.String()
	}
	return "invalid"
}

// TargetState is the state the operator asked for. The zero value is Off.
type TargetState struct {
	// On is false for target Off.
	On    bool
	Level PowerLevel
}

// TargetOff returns the target meaning "appliance powered down".
func TargetOff() TargetState { return TargetState{} }

// TargetOn returns the target meaning "heating or on at level". It is
// considered reached while the device is either Heating or On at that level.
func TargetOn(level PowerLevel) TargetState {
	return TargetState{On: true, Level: level}
}

// String returns the target in set-topic payload form.
func (t TargetState) String() string {
	if !t.On {
		return "off"
	}
	return t.Level.String()
}

// ParseTarget parses a set-topic payload (off|low|medium|high).
func ParseTarget(payload string) (TargetState, bool) {
	switch payload {
	case "off":
		return TargetOff(), true
	case "low":
		return TargetOn(Low), true
	case "medium":
		return TargetOn(Medium), true
	case "high":
		return TargetOn(High), true
	}
	return TargetState{}, false
}

// Action is a button actuation decided by Decide.
type Action int

const (
	// ActionNone: leave the button alone this cycle.
	ActionNone Action = iota
	// ActionShortPush cycles the power level (500ms pulse).
	ActionShortPush
	// ActionLongPush toggles the device fully off/on (2000ms pulse); also
	// used as a forced reset when the state is stuck at Unknown.
	ActionLongPush
)

// String names the action for log lines.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionShortPush:
		return "short_push"
	case ActionLongPush:
		return "long_push"
	}
	return "invalid"
}
