//go:build !linux

package gpio

import "errors"

// RealLedReader is not available on non-Linux platforms.
type RealLedReader struct{}

// NewRealLedReader returns an error on non-Linux platforms.
func NewRealLedReader(pinLow, pinMedium, pinHigh int) (*RealLedReader, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Read is not implemented on non-Linux platforms.
func (r *RealLedReader) Read() ([3]bool, error) {
	return [3]bool{}, errors.New("gpio: not supported")
}

// Edges is not implemented on non-Linux platforms.
func (r *RealLedReader) Edges() <-chan struct{} { return nil }

// Close is not implemented on non-Linux platforms.
func (r *RealLedReader) Close() error { return nil }

// RealButton is not available on non-Linux platforms.
type RealButton struct{}

// NewRealButton returns an error on non-Linux platforms.
func NewRealButton(pin int) (*RealButton, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Set is not implemented on non-Linux platforms.
func (b *RealButton) Set(pressed bool) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (b *RealButton) Close() error { return nil }
