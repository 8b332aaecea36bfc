package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/pulse-meter/internal/meter"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string      `json:"event,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	Identity      string      `json:"identity"`
	BootID        string      `json:"boot_id,omitempty"`
	Link          string      `json:"link"`
	Session       string      `json:"session"`
	Connects      int         `json:"session_connects"`
	IP            string      `json:"ip,omitempty"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	StartTime     string      `json:"start_time"`
	Timestamp     string      `json:"timestamp"`
	Meter         MeterJSON   `json:"meter"`
	LastReport    *ReportJSON `json:"last_report,omitempty"`
	Override      *float64    `json:"override,omitempty"`
	LastUpdate    string      `json:"last_update,omitempty"`
	Config        ConfigJSON  `json:"config"`
}

// MeterJSON is the JSON representation of accumulator statistics.
type MeterJSON struct {
	Pending  uint64 `json:"pending"`
	Total    uint64 `json:"total"`
	Rejected uint64 `json:"rejected"`
	Enabled  bool   `json:"enabled"`
}

// ReportJSON is the JSON representation of one drain.
type ReportJSON struct {
	Pulses        uint64 `json:"pulses"`
	Total         uint64 `json:"total"`
	PeriodSeconds int64  `json:"period_seconds"`
	Timestamp     string `json:"timestamp"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Broker         string `json:"broker"`
	DebounceMs     int64  `json:"debounce_ms"`
	ReportPeriodMs int64  `json:"report_period_ms"`
	PortalAddr     string `json:"portal_addr"`
}

// DebugJSON is the envelope of the retained periodic report.
type DebugJSON struct {
	Report DebugInner `json:"report"`
}

// DebugInner is the periodic report published to <identity>/debug.
type DebugInner struct {
	Pulses        uint64   `json:"pulses"`
	Total         uint64   `json:"total"`
	PeriodSeconds int64    `json:"period_seconds"`
	Rejected      uint64   `json:"rejected"`
	Override      *float64 `json:"override,omitempty"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	BootID        string   `json:"boot_id,omitempty"`
	Timestamp     string   `json:"timestamp"`
}

func unknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}

func seconds(d time.Duration) int64 {
	return int64(d.Truncate(time.Second).Seconds())
}

func override(snap Snapshot) *float64 {
	if !snap.HasOverride {
		return nil
	}
	v := snap.Override
	return &v
}

func buildReport(r meter.Report) *ReportJSON {
	return &ReportJSON{
		Pulses:        r.Pulses,
		Total:         r.Total,
		PeriodSeconds: seconds(r.Period),
		Timestamp:     r.Timestamp.UTC().Format(time.RFC3339),
	}
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Identity:      unknown(snap.Identity),
		BootID:        snap.BootID,
		Link:          unknown(snap.Connectivity.Link),
		Session:       unknown(snap.Connectivity.Session),
		Connects:      snap.Connectivity.Connects,
		IP:            snap.Connectivity.IP,
		UptimeSeconds: seconds(snap.Uptime()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Meter: MeterJSON{
			Pending:  snap.Meter.Pending,
			Total:    snap.Meter.Total,
			Rejected: snap.Meter.Rejected,
			Enabled:  snap.Meter.Enabled,
		},
		Override:   override(snap),
		LastUpdate: snap.LastUpdate,
		Config: ConfigJSON{
			Broker:         snap.Config.Broker,
			DebounceMs:     snap.Config.Debounce.Milliseconds(),
			ReportPeriodMs: snap.Config.ReportPeriod.Milliseconds(),
			PortalAddr:     snap.Config.PortalAddr,
		},
	}
	if snap.LastReport != nil {
		inner.LastReport = buildReport(*snap.LastReport)
	}
	return inner
}

// FormatJSON returns the JSON status for the portal endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for a one-off diagnostic event,
// such as the outcome of a firmware update.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// FormatReport returns the periodic report payload for a drain.
func FormatReport(snap Snapshot, r meter.Report) []byte {
	data, _ := json.Marshal(DebugJSON{Report: DebugInner{
		Pulses:        r.Pulses,
		Total:         r.Total,
		PeriodSeconds: seconds(r.Period),
		Rejected:      snap.Meter.Rejected,
		Override:      override(snap),
		UptimeSeconds: seconds(snap.Uptime()),
		BootID:        snap.BootID,
		Timestamp:     r.Timestamp.UTC().Format(time.RFC3339),
	}})
	return data
}
