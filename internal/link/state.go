// Package link manages the network link: station connection with a bounded
// timeout, and the access-point provisioning fallback used on a cold start
// without usable credentials.
package link

// State is the connectivity state of the device.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Provisioning
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Provisioning:
		return "PROVISIONING"
	}
	return "UNKNOWN"
}

// Event drives a connectivity state transition.
type Event int

const (
	EventAttempt   Event = iota // station connect request issued
	EventLinkUp                 // link reported up
	EventTimeout                // attempt window elapsed without a link
	EventLinkLost               // link dropped while connected
	EventProvision              // cold start without credentials or with a failed attempt
)

func (e Event) String() string {
	switch e {
	case EventAttempt:
		return "ATTEMPT"
	case EventLinkUp:
		return "LINK_UP"
	case EventTimeout:
		return "TIMEOUT"
	case EventLinkLost:
		return "LINK_LOST"
	case EventProvision:
		return "PROVISION"
	}
	return "UNKNOWN"
}

// Next is the connectivity transition function. It returns the new state and
// true, or the unchanged state and false if ev is not valid in from.
// Provisioning is terminal: only a restart leaves it.
func Next(from State, ev Event) (State, bool) {
	switch from {
	case Disconnected:
		switch ev {
		case EventAttempt:
			return Connecting, true
		case EventProvision:
			return Provisioning, true
		}
	case Connecting:
		switch ev {
		case EventLinkUp:
			return Connected, true
		case EventTimeout:
			return Disconnected, true
		}
	case Connected:
		if ev == EventLinkLost {
			return Disconnected, true
		}
	}
	return from, false
}
