package logic

import "time"

// BlinkWindow is how long an LED must hold a level before it counts as
// steady rather than blinking.
const BlinkWindow = 900 * time.Millisecond

// PollPeriod is how often the LEDs must be sampled so that a blink half-cycle
// cannot slip between two samples. Edge-triggered wake-ups are an
// optimization on top of this, not a correctness requirement.
const PollPeriod = BlinkWindow/2 - 50*time.Millisecond

// LedObservation records the last observed level change of one LED.
// The zero value reads as "off since the beginning of time", which makes the
// initial whole-device classification Off.
type LedObservation struct {
	// ChangedAt is when the LED last changed level.
	ChangedAt time.Time
	// On is the level it changed to.
	On bool
}

// Observations holds one observation per LED, indexed by PowerLevel.
// Three observations plus the current time are the entire input to Classify;
// no earlier history matters.
type Observations [3]LedObservation

// Record notes a sampled level for one LED. It updates the stored observation
// only if the level differs from the stored one, so repeated samples of an
// unchanged LED never disturb the classification.
func (o *Observations) Record(led PowerLevel, on bool, now time.Time) {
	if o[led].On != on {
		o[led] = LedObservation{ChangedAt: now, On: on}
	}
}

// ledState is the per-LED sub-classification.
type ledState int

const (
	ledOff ledState = iota // off for at least BlinkWindow
	ledOn                  // on for at least BlinkWindow
	ledBlinking            // changed level within BlinkWindow
)

func (obs LedObservation) state(now time.Time) ledState {
	if now.Sub(obs.ChangedAt) > BlinkWindow {
		if obs.On {
			return ledOn
		}
		return ledOff
	}
	return ledBlinking
}

// Classify maps the three LED sub-states to a device state. The mapping is
// total: the eight known patterns are listed, every other combination of the
// 3^3 is Unknown. It is a pure read; Observations are not modified.
func (o Observations) Classify(now time.Time) DeviceState {
	low := o[Low].state(now)
	medium := o[Medium].state(now)
	high := o[High].state(now)

	switch {
	case low == ledOff && medium == ledOff && high == ledOff:
		return StateOff()
	case low == ledOn && medium == ledOff && high == ledOff:
		return StateOn(Low)
	case low == ledOn && medium == ledOn && high == ledOff:
		return StateOn(Medium)
	case low == ledOn && medium == ledOn && high == ledOn:
		return StateOn(High)
	case low == ledBlinking && medium == ledOff && high == ledOff:
		return StateHeating(Low)
	case low == ledOn && medium == ledBlinking && high == ledOff:
		return StateHeating(Medium)
	case low == ledOn && medium == ledOn && high == ledBlinking:
		return StateHeating(High)
	}
	return StateUnknown()
}
