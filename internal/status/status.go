// Package status provides a thread-safe status tracker for the pulse-meter daemon.
// It is written by the scheduler and read by the portal's HTTP handlers.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/pulse-meter/internal/meter"
)

// Connectivity is the link and session state as display strings. This is a
// local copy to avoid importing internal/link and internal/mqtt from status.
type Connectivity struct {
	Link     string
	Session  string
	IP       string
	Connects int // successful session establishments since boot
}

// Config contains daemon configuration for display.
type Config struct {
	Broker       string
	Debounce     time.Duration
	ReportPeriod time.Duration
	PortalAddr   string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Identity     string
	BootID       string
	Connectivity Connectivity
	Meter        meter.Stats
	LastReport   *meter.Report
	Override     float64
	HasOverride  bool
	LastUpdate   string
	StartTime    time.Time
	Now          time.Time
	Config       Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetIdentity records the device identity and boot id.
func (t *Tracker) SetIdentity(identity, bootID string) {
	t.mu.Lock()
	t.snap.Identity = identity
	t.snap.BootID = bootID
	t.mu.Unlock()
}

// SetConnectivity sets link and session state.
// Called from the scheduler on every tick.
func (t *Tracker) SetConnectivity(c Connectivity) {
	t.mu.Lock()
	t.snap.Connectivity = c
	t.mu.Unlock()
}

// SetMeter sets the accumulator statistics.
func (t *Tracker) SetMeter(stats meter.Stats) {
	t.mu.Lock()
	t.snap.Meter = stats
	t.mu.Unlock()
}

// SetReport records the most recent drain.
func (t *Tracker) SetReport(r meter.Report) {
	t.mu.Lock()
	t.snap.LastReport = &r
	t.mu.Unlock()
}

// SetOverride records the consumption override.
func (t *Tracker) SetOverride(v float64) {
	t.mu.Lock()
	t.snap.Override = v
	t.snap.HasOverride = true
	t.mu.Unlock()
}

// SetLastUpdate records the outcome of the most recent firmware update.
func (t *Tracker) SetLastUpdate(outcome string) {
	t.mu.Lock()
	t.snap.LastUpdate = outcome
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	return t.SnapshotAt(time.Now())
}

// SnapshotAt returns a copy of the daemon state with Now set to now.
func (t *Tracker) SnapshotAt(now time.Time) Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	if s.LastReport != nil {
		r := *s.LastReport
		s.LastReport = &r
	}
	s.Now = now
	return s
}
