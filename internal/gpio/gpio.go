// Package gpio provides access to the Flair 58 wiring with hardware
// abstraction. The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package gpio

// LedReader reads the three power LED levels.
type LedReader interface {
	// Read returns the logical levels of the Low, Medium and High LEDs,
	// true meaning lit.
	Read() ([3]bool, error)

	// Edges returns a channel that receives a notification when any LED
	// changes level, as a wake-up hint for the sampling loop. May return
	// nil when the implementation cannot detect edges; periodic polling
	// alone is sufficient for correct classification.
	Edges() <-chan struct{}

	// Close releases GPIO resources.
	Close() error
}

// Button drives the simulated press of the appliance's power button.
type Button interface {
	// Set drives the button contact: true presses, false releases.
	Set(pressed bool) error

	// Close releases the line, leaving the button released.
	Close() error
}

// Pin definitions (BCM numbering), matching the board wiring.
const (
	DefaultPinLedLow    = 12
	DefaultPinLedMedium = 13
	DefaultPinLedHigh   = 14
	DefaultPinButton    = 15
)
