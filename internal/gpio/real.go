//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealLedReader reads the LED pads from actual hardware using the Linux GPIO
// character device.
type RealLedReader struct {
	chip  *gpiocdev.Chip
	lines [3]*gpiocdev.Line
	edges chan struct{}
}

// NewRealLedReader requests the three LED input lines with pull-down and
// both-edge events. Edge events only nudge the sampling loop; levels are
// still read by polling, so a missed event is harmless.
func NewRealLedReader(pinLow, pinMedium, pinHigh int) (*RealLedReader, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	r := &RealLedReader{
		chip:  chip,
		edges: make(chan struct{}, 1),
	}

	onEdge := func(gpiocdev.LineEvent) {
		select {
		case r.edges <- struct{}{}:
		default: // a wake-up is already pending
		}
	}

	for i, pin := range []int{pinLow, pinMedium, pinHigh} {
		line, err := chip.RequestLine(pin,
			gpiocdev.AsInput,
			gpiocdev.WithPullDown,
			gpiocdev.WithBothEdges,
			gpiocdev.WithEventHandler(onEdge))
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("request LED pin %d: %w", pin, err)
		}
		r.lines[i] = line
	}

	return r, nil
}

// Read returns the current levels of the Low, Medium and High LEDs.
func (r *RealLedReader) Read() ([3]bool, error) {
	var levels [3]bool
	for i, line := range r.lines {
		v, err := line.Value()
		if err != nil {
			return levels, fmt.Errorf("read LED pin %d: %w", line.Offset(), err)
		}
		levels[i] = v != 0
	}
	return levels, nil
}

// Edges returns the edge wake-up channel.
func (r *RealLedReader) Edges() <-chan struct{} {
	return r.edges
}

// Close releases the LED lines and the chip.
func (r *RealLedReader) Close() error {
	var errs []error
	for _, line := range r.lines {
		if line == nil {
			continue
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close LED pin %d: %w", line.Offset(), err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealButton drives the button pad through an output line. The line idles
// high; pulling it low closes the simulated contact.
type RealButton struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealButton requests the button output line, released.
func NewRealButton(pin int) (*RealButton, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(1))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request button pin %d: %w", pin, err)
	}
	return &RealButton{chip: chip, line: line}, nil
}

// Set presses (true) or releases (false) the button.
func (b *RealButton) Set(pressed bool) error {
	v := 1
	if pressed {
		v = 0
	}
	if err := b.line.SetValue(v); err != nil {
		return fmt.Errorf("set button pin: %w", err)
	}
	return nil
}

// Close releases the button line, leaving it released.
func (b *RealButton) Close() error {
	var errs []error
	if b.line != nil {
		if err := b.line.SetValue(1); err != nil {
			errs = append(errs, fmt.Errorf("release button: %w", err))
		}
		if err := b.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close button pin: %w", err))
		}
	}
	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
