// Package gpio provides the pulse input and the status indicator with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "time"

// PulseHandler is called once per detected edge with the time it was observed.
// It runs in the edge-event context: it must be short and must not block.
type PulseHandler func(ts time.Time)

// PulseInput delivers edges from the sensor to a PulseHandler until closed.
type PulseInput interface {
	// Close stops edge delivery and releases GPIO resources.
	Close() error
}

// Indicator drives the status LED.
type Indicator interface {
	// Set switches the LED on or off.
	Set(on bool) error

	// Toggle inverts the LED.
	Toggle() error

	// Close releases GPIO resources.
	Close() error
}

// edgeClock maps kernel edge timestamps, measured on CLOCK_MONOTONIC, onto
// wall time. base and origin are read together when the line is requested.
type edgeClock struct {
	base   time.Time
	origin time.Duration
}

// stamp returns the wall time of an edge detected at ts. Intervals between
// edges are preserved exactly, however late the event is delivered.
func (c edgeClock) stamp(ts time.Duration) time.Time {
	return c.base.Add(ts - c.origin)
}

// Pin definitions (BCM numbering)
const (
	DefaultChip     = "gpiochip0"
	DefaultPinPulse = 17 // meter pulse output (open collector, active low)
	DefaultPinLED   = 27 // status LED
)
