package meter

import (
	"math"
	"sync"
	"time"
)

// Accumulator counts debounced pulses and drains them into a running total.
//
// OnPulse is called from the edge-event context and may run concurrently with
// Drain. The counter and the debounce timestamp are only touched with mu held;
// holding mu is the equivalent of masking the pulse interrupt. The running total
// and the drain bookkeeping belong to the scheduler and are not shared with the
// edge context.
type Accumulator struct {
	debounce time.Duration

	mu           sync.Mutex
	count        uint64
	lastAccepted time.Time
	accepted     bool // false until the first pulse is accepted
	enabled      bool
	rejected     uint64

	total     uint64
	lastDrain time.Time
}

// NewAccumulator creates an accumulator with the given debounce interval.
// The startTime is the reference for the first reporting period.
func NewAccumulator(debounce time.Duration, startTime time.Time) *Accumulator {
	return &Accumulator{
		debounce:  debounce,
		enabled:   true,
		lastDrain: startTime,
	}
}

// OnPulse registers one edge observed at ts. It returns true if the edge was
// counted. An edge arriving before lastAccepted+debounce is discarded and
// leaves both the counter and the debounce timestamp untouched.
// It never blocks beyond the short critical section and never allocates.
func (a *Accumulator) OnPulse(ts time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.enabled {
		a.rejected++
		return false
	}
	if a.accepted && ts.Sub(a.lastAccepted) < a.debounce {
		a.rejected++
		return false
	}

	a.count++
	a.lastAccepted = ts
	a.accepted = true
	return true
}

// SetEnabled masks or unmasks the pulse input. While disabled, every edge is
// discarded. Used for the duration of a firmware update.
func (a *Accumulator) SetEnabled(enabled bool) {
	a.mu.Lock()
	a.enabled = enabled
	a.mu.Unlock()
}

// Drain atomically reads and resets the pulse counter, adds the value to the
// running total and returns the report for the elapsed period.
func (a *Accumulator) Drain(now time.Time) Report {
	a.mu.Lock()
	n := a.count
	a.count = 0
	a.mu.Unlock()

	a.total = saturatingAdd(a.total, n)
	period := now.Sub(a.lastDrain)
	a.lastDrain = now

	return Report{
		Timestamp: now,
		Period:    period,
		Pulses:    n,
		Total:     a.total,
	}
}

// CheckReport drains and returns a report if period has elapsed since the
// last drain (or start). Returns nil if the period has not elapsed, or if
// period is <= 0 (reporting disabled).
func (a *Accumulator) CheckReport(now time.Time, period time.Duration) *Report {
	if period <= 0 {
		return nil
	}
	if now.Sub(a.lastDrain) < period {
		return nil
	}
	r := a.Drain(now)
	return &r
}

// Total returns the running total. The total only ever grows and is reset by
// a restart; it saturates at math.MaxUint64.
func (a *Accumulator) Total() uint64 {
	return a.total
}

// Stats returns a snapshot for status output.
func (a *Accumulator) Stats() Stats {
	a.mu.Lock()
	s := Stats{
		Pending:  a.count,
		Rejected: a.rejected,
		Enabled:  a.enabled,
	}
	a.mu.Unlock()
	s.Total = a.total
	return s
}

func saturatingAdd(total, n uint64) uint64 {
	if n > math.MaxUint64-total {
		return math.MaxUint64
	}
	return total + n
}
