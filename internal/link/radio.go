package link

// Radio is the network interface collaborator. Join must return promptly; the
// manager polls Linked to observe the outcome.
type Radio interface {
	// HardwareAddr returns the interface hardware address.
	HardwareAddr() (string, error)

	// Join issues a station-mode connection request.
	Join(ssid, password string) error

	// Linked reports whether the station link is up with an address.
	Linked() bool

	// Address returns the station IPv4 address, or "" if there is none.
	Address() string

	// StartAccessPoint brings up a local access point named name at address.
	StartAccessPoint(name, address string) error

	// StopAccessPoint tears the access point down.
	StopAccessPoint() error
}
