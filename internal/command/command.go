// Package command routes inbound bus messages to the device's remote
// controls: credential reset, consumption override and firmware update.
//
// Parsing is pure. The Dispatcher owns no I/O of its own; every side effect
// goes through an injected collaborator.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedPayload means a message body could not be parsed. The message
// is discarded; nothing is retried.
var ErrMalformedPayload = errors.New("malformed payload")

// Outcome is what the Dispatcher did with one message.
type Outcome int

const (
	// OutcomeIgnored: not addressed to this device, or a reset payload that
	// did not confirm. Expected traffic, not an error.
	OutcomeIgnored Outcome = iota
	OutcomeDiscarded
	OutcomeReset
	OutcomeOverride
	OutcomeUpdate
	// OutcomeRejected: an update for this device the updater refused to
	// start. Dispatcher.Rejection holds the reason.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeDiscarded:
		return "discarded"
	case OutcomeReset:
		return "reset"
	case OutcomeOverride:
		return "override"
	case OutcomeUpdate:
		return "update"
	case OutcomeRejected:
		return "rejected"
	}
	return "unknown"
}

// UpdateCommand is the body of a broadcast update trigger.
type UpdateCommand struct {
	Target string `json:"mac"`
	URL    string `json:"url"`
}

// ParseUpdate decodes an update trigger. A body that is not a JSON object,
// or that names no target or no URL, is malformed.
func ParseUpdate(payload []byte) (UpdateCommand, error) {
	var cmd UpdateCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return UpdateCommand{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if cmd.Target == "" || cmd.URL == "" {
		return UpdateCommand{}, fmt.Errorf("%w: mac and url are required", ErrMalformedPayload)
	}
	return cmd, nil
}

// ParseResetFlag reports whether payload confirms a credential reset:
// "true" in any case, or "1". Surrounding whitespace is ignored.
func ParseResetFlag(payload []byte) bool {
	s := strings.TrimSpace(string(payload))
	return s == "1" || strings.EqualFold(s, "true")
}

// ParseOverride reads a decimal literal. Anything that is not a finite
// number yields 0.
func ParseOverride(payload []byte) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// FormatOverride renders an override value for the echo topic.
func FormatOverride(v float64) []byte {
	return []byte(strconv.FormatFloat(v, 'f', 2, 64))
}
