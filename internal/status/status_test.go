package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/pulse-meter/internal/meter"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNewTracker(t *testing.T) {
	cfg := Config{Broker: "tcp://localhost:1883", Debounce: 50 * time.Millisecond, ReportPeriod: time.Minute, PortalAddr: ":80"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.ReportPeriod != time.Minute {
		t.Errorf("Config.ReportPeriod: got %v, want 1m", snap.Config.ReportPeriod)
	}
	if snap.LastReport != nil {
		t.Error("expected no report initially")
	}
	if snap.HasOverride {
		t.Error("expected no override initially")
	}
}

func TestSetters(t *testing.T) {
	tr := NewTracker(start, Config{})

	tr.SetIdentity("AA:BB:CC:DD:EE:FF", "boot-1")
	tr.SetConnectivity(Connectivity{Link: "CONNECTED", Session: "ONLINE", IP: "192.168.1.50"})
	tr.SetMeter(meter.Stats{Pending: 2, Total: 40, Rejected: 3, Enabled: true})
	tr.SetOverride(12.5)
	tr.SetLastUpdate("not-needed")

	snap := tr.Snapshot()
	if snap.Identity != "AA:BB:CC:DD:EE:FF" || snap.BootID != "boot-1" {
		t.Errorf("identity: got %q %q", snap.Identity, snap.BootID)
	}
	if snap.Connectivity.Session != "ONLINE" {
		t.Errorf("Session: got %q", snap.Connectivity.Session)
	}
	if snap.Meter.Total != 40 {
		t.Errorf("Meter.Total: got %d", snap.Meter.Total)
	}
	if !snap.HasOverride || snap.Override != 12.5 {
		t.Errorf("override: got %v %v", snap.Override, snap.HasOverride)
	}
	if snap.LastUpdate != "not-needed" {
		t.Errorf("LastUpdate: got %q", snap.LastUpdate)
	}
}

func TestSnapshotUptime(t *testing.T) {
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(start, Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}

	at := start.Add(time.Hour)
	if got := tr.SnapshotAt(at).Now; !got.Equal(at) {
		t.Errorf("SnapshotAt: got %v, want %v", got, at)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(start, Config{})
	tr.SetReport(meter.Report{Pulses: 1, Total: 1})
	tr.SetConnectivity(Connectivity{Link: "CONNECTED"})

	snap1 := tr.Snapshot()
	snap1.LastReport.Pulses = 99

	tr.SetConnectivity(Connectivity{Link: "DISCONNECTED"})

	// snap1 should still reflect old state
	if snap1.Connectivity.Link != "CONNECTED" {
		t.Error("snapshot should be a copy; Link was modified")
	}
	if tr.Snapshot().LastReport.Pulses != 1 {
		t.Error("mutating a snapshot's report must not reach the tracker")
	}
}

func TestFormatJSON(t *testing.T) {
	r := meter.Report{Timestamp: start.Add(time.Minute), Period: time.Minute, Pulses: 37, Total: 137}
	snap := Snapshot{
		Identity:     "AA:BB:CC:DD:EE:FF",
		Connectivity: Connectivity{Link: "CONNECTED", Session: "ONLINE", IP: "192.168.1.50", Connects: 3},
		Meter:        meter.Stats{Total: 137, Enabled: true},
		LastReport:   &r,
		StartTime:    start,
		Now:          start.Add(15 * time.Minute),
		Config:       Config{Broker: "tcp://localhost:1883", Debounce: 50 * time.Millisecond, ReportPeriod: time.Minute},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Link != "CONNECTED" || parsed.Status.Session != "ONLINE" {
		t.Errorf("states: got %q %q", parsed.Status.Link, parsed.Status.Session)
	}
	if parsed.Status.Connects != 3 {
		t.Errorf("Connects: got %d, want 3", parsed.Status.Connects)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if parsed.Status.Meter.Total != 137 || !parsed.Status.Meter.Enabled {
		t.Errorf("Meter: got %+v", parsed.Status.Meter)
	}
	if parsed.Status.LastReport == nil || parsed.Status.LastReport.Pulses != 37 || parsed.Status.LastReport.PeriodSeconds != 60 {
		t.Errorf("LastReport: got %+v", parsed.Status.LastReport)
	}
	if parsed.Status.Config.DebounceMs != 50 || parsed.Status.Config.ReportPeriodMs != 60000 {
		t.Errorf("Config: got %+v", parsed.Status.Config)
	}
	// Event, reason and override should be omitted
	if parsed.Status.Event != "" || parsed.Status.Reason != "" {
		t.Errorf("expected no event for web format, got %q %q", parsed.Status.Event, parsed.Status.Reason)
	}
	if parsed.Status.Override != nil {
		t.Error("override should be omitted when none received")
	}
}

func TestFormatJSONUnknownState(t *testing.T) {
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(time.Second),
	}

	var parsed StatusJSON
	json.Unmarshal(FormatJSON(snap), &parsed)

	if parsed.Status.Link != "UNKNOWN" || parsed.Status.Session != "UNKNOWN" || parsed.Status.Identity != "UNKNOWN" {
		t.Errorf("expected UNKNOWN placeholders, got %+v", parsed.Status)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	snap := Snapshot{
		Identity:  "AA:BB:CC:DD:EE:FF",
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	data := FormatStatusEvent(snap, "UPDATE_FAILED", "update failed (404): server returned 404 Not Found")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "UPDATE_FAILED" {
		t.Errorf("Event: got %q", parsed.Status.Event)
	}
	if parsed.Status.Reason == "" {
		t.Error("Reason should be set")
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{StartTime: start, Now: start.Add(time.Second)}

	data := FormatStatusEvent(snap, "UPDATE_APPLIED", "")

	// Verify "reason" is not in the raw JSON output
	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if status["event"] != "UPDATE_APPLIED" {
		t.Errorf("event: got %v", status["event"])
	}
}

func TestFormatReport(t *testing.T) {
	r := meter.Report{Timestamp: start.Add(2 * time.Minute), Period: time.Minute, Pulses: 37, Total: 137}
	snap := Snapshot{
		BootID:      "boot-1",
		Meter:       meter.Stats{Rejected: 4},
		Override:    12.5,
		HasOverride: true,
		StartTime:   start,
		Now:         start.Add(2 * time.Minute),
	}

	var parsed DebugJSON
	if err := json.Unmarshal(FormatReport(snap, r), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	got := parsed.Report
	if got.Pulses != 37 || got.Total != 137 || got.PeriodSeconds != 60 {
		t.Errorf("counts: got %+v", got)
	}
	if got.Rejected != 4 || got.UptimeSeconds != 120 || got.BootID != "boot-1" {
		t.Errorf("context: got %+v", got)
	}
	if got.Override == nil || *got.Override != 12.5 {
		t.Errorf("override: got %v", got.Override)
	}
	if got.Timestamp != "2026-01-01T00:02:00Z" {
		t.Errorf("timestamp: got %q", got.Timestamp)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.SetMeter(meter.Stats{Total: uint64(i)})
			tr.SetConnectivity(Connectivity{Link: "CONNECTED", Session: "ONLINE"})
			tr.SetReport(meter.Report{Pulses: uint64(i)})
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}
