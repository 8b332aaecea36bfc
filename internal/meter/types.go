// Package meter contains the pulse counting logic for the metering input.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package meter

import "time"

// Report is the result of one drain: the pulses counted since the previous
// drain and the running total after adding them.
type Report struct {
	Timestamp time.Time
	Period    time.Duration // time since the previous drain (or start)
	Pulses    uint64
	Total     uint64
}

// Stats is a read-only view of the accumulator for status output.
type Stats struct {
	Pending  uint64 // counted but not yet drained
	Total    uint64
	Rejected uint64 // edges discarded by debounce or while disabled
	Enabled  bool
}
