package gpio

import (
	"errors"
	"sync"
)

// FakeLedReader is a test double that returns scripted LED levels.
type FakeLedReader struct {
	// Samples contains scripted [low, medium, high] levels. Each call to
	// Read() consumes the next sample; the last sample repeats once the
	// script is exhausted.
	Samples [][3]bool

	// ReadError, if set, will be returned by Read().
	ReadError error

	// Closed tracks if Close was called.
	Closed bool

	// EdgeCh, if set, is returned by Edges().
	EdgeCh chan struct{}

	index int
}

// NewFakeLedReader creates a FakeLedReader with the given samples.
func NewFakeLedReader(samples [][3]bool) *FakeLedReader {
	return &FakeLedReader{Samples: samples}
}

// Read returns the next scripted sample.
func (f *FakeLedReader) Read() ([3]bool, error) {
	if f.ReadError != nil {
		return [3]bool{}, f.ReadError
	}
	if len(f.Samples) == 0 {
		return [3]bool{}, errors.New("no samples configured")
	}
	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return sample, nil
}

// Edges returns the configured edge channel (nil by default).
func (f *FakeLedReader) Edges() <-chan struct{} {
	if f.EdgeCh == nil {
		return nil
	}
	return f.EdgeCh
}

// Close marks the reader as closed.
func (f *FakeLedReader) Close() error {
	f.Closed = true
	return nil
}

// FakeButton records button transitions for test assertions.
type FakeButton struct {
	mu sync.Mutex

	// Transitions contains every Set call in order.
	Transitions []bool

	// SetError, if set, will be returned by Set.
	SetError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeButton creates a FakeButton.
func NewFakeButton() *FakeButton {
	return &FakeButton{}
}

// Set records the transition.
func (f *FakeButton) Set(pressed bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	f.mu.Lock()
	f.Transitions = append(f.Transitions, pressed)
	f.mu.Unlock()
	return nil
}

// Recorded returns a copy of the transitions so far.
func (f *FakeButton) Recorded() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.Transitions))
	copy(out, f.Transitions)
	return out
}

// Close marks the button as closed.
func (f *FakeButton) Close() error {
	f.Closed = true
	return nil
}
