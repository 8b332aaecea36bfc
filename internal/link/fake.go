package link

import "errors"

// FakeRadio is a test double for Radio.
type FakeRadio struct {
	// HWAddr is returned by HardwareAddr.
	HWAddr string

	// IP is returned by Address while linked.
	IP string

	// LinkAfterPolls makes Linked return true from the Nth call after a Join
	// (0 = immediately). Negative never links.
	LinkAfterPolls int

	// JoinError, if set, will be returned by Join.
	JoinError error

	// APError, if set, will be returned by StartAccessPoint.
	APError error

	// Joins records (ssid, password) pairs passed to Join.
	Joins []Credentials

	// APName and APAddress record the last StartAccessPoint call.
	APName    string
	APAddress string
	APUp      bool

	linked bool
	polls  int
}

// NewFakeRadio creates a radio that links immediately.
func NewFakeRadio(hwAddr, ip string) *FakeRadio {
	return &FakeRadio{HWAddr: hwAddr, IP: ip}
}

// HardwareAddr returns HWAddr.
func (f *FakeRadio) HardwareAddr() (string, error) {
	if f.HWAddr == "" {
		return "", errors.New("no hardware address")
	}
	return f.HWAddr, nil
}

// Join records the request and restarts the link countdown.
func (f *FakeRadio) Join(ssid, password string) error {
	if f.JoinError != nil {
		return f.JoinError
	}
	f.Joins = append(f.Joins, Credentials{SSID: ssid, Password: password})
	f.linked = false
	f.polls = 0
	return nil
}

// Linked reports the simulated link state.
func (f *FakeRadio) Linked() bool {
	if f.linked {
		return true
	}
	if len(f.Joins) == 0 || f.LinkAfterPolls < 0 {
		return false
	}
	if f.polls >= f.LinkAfterPolls {
		f.linked = true
		return true
	}
	f.polls++
	return false
}

// Drop simulates losing the station link.
func (f *FakeRadio) Drop() {
	f.linked = false
	f.LinkAfterPolls = -1
}

// Address returns IP while linked.
func (f *FakeRadio) Address() string {
	if !f.linked {
		return ""
	}
	return f.IP
}

// StartAccessPoint records the access point parameters.
func (f *FakeRadio) StartAccessPoint(name, address string) error {
	if f.APError != nil {
		return f.APError
	}
	f.APName = name
	f.APAddress = address
	f.APUp = true
	return nil
}

// StopAccessPoint marks the access point down.
func (f *FakeRadio) StopAccessPoint() error {
	f.APUp = false
	return nil
}
