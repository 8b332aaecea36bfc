package link

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const apConnection = "pulse-meter-ap"

// commandTimeout bounds every synchronous nmcli call.
const commandTimeout = 30 * time.Second

// runner executes an external command and returns its combined output.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NMRadio drives a wireless interface through NetworkManager's nmcli.
type NMRadio struct {
	iface string
	log   logrus.FieldLogger
	run   runner

	mu   sync.Mutex
	join *pendingJoin
	apUp bool
}

// pendingJoin is an nmcli station connect still running.
type pendingJoin struct {
	ssid     string
	password string
	cancel   context.CancelFunc
}

// NewNMRadio creates a radio for the named interface (e.g. "wlan0").
func NewNMRadio(iface string, log logrus.FieldLogger) *NMRadio {
	return &NMRadio{
		iface: iface,
		log:   log.WithFields(logrus.Fields{"component": "radio", "iface": iface}),
		run:   execRunner,
	}
}

// HardwareAddr returns the interface hardware address.
func (r *NMRadio) HardwareAddr() (string, error) {
	ifi, err := net.InterfaceByName(r.iface)
	if err != nil {
		return "", fmt.Errorf("interface %s: %w", r.iface, err)
	}
	return ifi.HardwareAddr.String(), nil
}

// Join starts an nmcli station connection in the background. A join for the
// same network still in flight is left to finish, since association and DHCP
// can outlast one connect attempt; a join for another network is cancelled.
func (r *NMRadio) Join(ssid, password string) error {
	r.mu.Lock()
	if j := r.join; j != nil {
		if j.ssid == ssid && j.password == password {
			r.mu.Unlock()
			r.log.WithField("ssid", ssid).Debug("join already in flight")
			return nil
		}
		j.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	j := &pendingJoin{ssid: ssid, password: password, cancel: cancel}
	r.join = j
	r.mu.Unlock()

	args := []string{"device", "wifi", "connect", ssid, "ifname", r.iface}
	if password != "" {
		args = append(args, "password", password)
	}
	go func() {
		defer func() {
			r.mu.Lock()
			if r.join == j {
				r.join = nil
			}
			r.mu.Unlock()
			cancel()
		}()
		out, err := r.run(ctx, "nmcli", args...)
		if err != nil && ctx.Err() == nil {
			r.log.WithError(err).WithField("output", strings.TrimSpace(string(out))).Warn("join failed")
		}
	}()
	return nil
}

// Linked reports whether the interface is up with a routable IPv4 address
// and is not serving the access point.
func (r *NMRadio) Linked() bool {
	r.mu.Lock()
	ap := r.apUp
	r.mu.Unlock()
	if ap {
		return false
	}
	return r.Address() != ""
}

// Address returns the first non link-local IPv4 address of the interface.
func (r *NMRadio) Address() string {
	ifi, err := net.InterfaceByName(r.iface)
	if err != nil || ifi.Flags&net.FlagUp == 0 {
		return ""
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipnet.IP.To4()
		if ip == nil || ip.IsLinkLocalUnicast() {
			continue
		}
		return ip.String()
	}
	return ""
}

// StartAccessPoint creates (or replaces) a shared-mode AP connection with a
// fixed /24 address and activates it.
func (r *NMRadio) StartAccessPoint(name, address string) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	// Ignore the error: the profile usually does not exist yet.
	r.run(ctx, "nmcli", "connection", "delete", apConnection)

	add := []string{"connection", "add",
		"type", "wifi",
		"ifname", r.iface,
		"con-name", apConnection,
		"autoconnect", "no",
		"ssid", name,
		"802-11-wireless.mode", "ap",
		"ipv4.method", "shared",
		"ipv4.addresses", address + "/24",
	}
	if out, err := r.run(ctx, "nmcli", add...); err != nil {
		return fmt.Errorf("add ap connection: %w: %s", err, strings.TrimSpace(string(out)))
	}
	if out, err := r.run(ctx, "nmcli", "connection", "up", apConnection); err != nil {
		return fmt.Errorf("activate ap: %w: %s", err, strings.TrimSpace(string(out)))
	}

	r.mu.Lock()
	r.apUp = true
	r.mu.Unlock()
	return nil
}

// StopAccessPoint deactivates the AP connection.
func (r *NMRadio) StopAccessPoint() error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if out, err := r.run(ctx, "nmcli", "connection", "down", apConnection); err != nil {
		return fmt.Errorf("deactivate ap: %w: %s", err, strings.TrimSpace(string(out)))
	}
	r.mu.Lock()
	r.apUp = false
	r.mu.Unlock()
	return nil
}
