package gpio

import (
	"errors"
	"time"
)

// FakePulseInput is a test double that lets tests fire edges by hand.
type FakePulseInput struct {
	handler PulseHandler

	// Closed tracks if Close was called
	Closed bool
}

// NewFakePulseInput creates a FakePulseInput delivering to handler.
func NewFakePulseInput(handler PulseHandler) *FakePulseInput {
	return &FakePulseInput{handler: handler}
}

// Fire delivers one edge observed at ts. Edges after Close are dropped.
func (f *FakePulseInput) Fire(ts time.Time) {
	if f.Closed {
		return
	}
	f.handler(ts)
}

// FireEvery delivers n edges starting at start, spaced by gap.
func (f *FakePulseInput) FireEvery(start time.Time, gap time.Duration, n int) {
	for i := 0; i < n; i++ {
		f.Fire(start.Add(time.Duration(i) * gap))
	}
}

// Close marks the input as closed.
func (f *FakePulseInput) Close() error {
	f.Closed = true
	return nil
}

// FakeIndicator records LED changes.
type FakeIndicator struct {
	// On is the current LED state.
	On bool

	// Changes counts Set and Toggle calls that succeeded.
	Changes int

	// SetError, if set, will be returned by Set and Toggle.
	SetError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeIndicator creates a FakeIndicator, initially off.
func NewFakeIndicator() *FakeIndicator {
	return &FakeIndicator{}
}

// Set records the new LED state.
func (f *FakeIndicator) Set(on bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	if f.Closed {
		return errors.New("indicator closed")
	}
	f.On = on
	f.Changes++
	return nil
}

// Toggle inverts the recorded LED state.
func (f *FakeIndicator) Toggle() error {
	return f.Set(!f.On)
}

// Close marks the indicator as closed.
func (f *FakeIndicator) Close() error {
	f.Closed = true
	return nil
}
