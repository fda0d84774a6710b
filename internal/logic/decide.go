package logic

import "time"

// UnknownWarnAfter is how long the device may sit in Unknown before each
// decision cycle starts flagging a warning.
const UnknownWarnAfter = 11 * time.Second

// UnknownResetAfter is how long the device may sit in Unknown before Decide
// escalates to a forced reset pulse. Much longer than UnknownWarnAfter so a
// slow transition gets warned about well before anything forces it.
const UnknownResetAfter = 21 * time.Second

// Decide returns the button action that brings the device closer to the
// target state.
//
// unknownSince tracks when the state most recently became Unknown; the zero
// time means "not currently unknown". Decide owns it: it is set on the first
// Unknown sighting, cleared whenever the state is classifiable, and cleared
// when a reset pulse fires so the next escalation starts a fresh window.
//
// warnFor is non-zero when the unknown streak has outlived UnknownWarnAfter;
// the caller should log it (Decide itself performs no I/O).
func Decide(current DeviceState, target TargetState, now time.Time, unknownSince *time.Time) (action Action, warnFor time.Duration) {
	if current.Mode == ModeUnknown {
		var unknownFor time.Duration
		if unknownSince.IsZero() {
			*unknownSince = now
		} else {
			unknownFor = now.Sub(*unknownSince)
		}
		if unknownFor > UnknownWarnAfter {
			warnFor = unknownFor
		}
		if unknownFor > UnknownResetAfter {
			// Try to reset the device. Also restart the unknown-state clock,
			// so the next reset attempt happens in some time.
			*unknownSince = time.Time{}
			return ActionLongPush, warnFor
		}
		// A short-lived Unknown is likely a transition in progress; wait for
		// it to resolve by the next actuation cycle.
		return ActionNone, warnFor
	}
	*unknownSince = time.Time{}

	// Collapse the current state to the shape targets are expressed in:
	// Heating(p) and On(p) both count as On(p).
	var shape TargetState
	if current.Mode != ModeOff {
		shape = TargetOn(current.Level)
	}

	switch {
	case shape == target:
		return ActionNone, 0
	case shape.On != target.On:
		// One side is Off: the physical control cycles fully off/on only
		// with a long press.
		return ActionLongPush, 0
	default:
		// Both on, different power levels: a short press cycles the level.
		return ActionShortPush, 0
	}
}
