package link

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sweeney/pulse-meter/internal/store"
)

var (
	// ErrConfigurationMissing means no credentials are stored.
	ErrConfigurationMissing = errors.New("no stored network credentials")

	// ErrConnectionTimeout means the station link did not come up in time.
	ErrConnectionTimeout = errors.New("station connection timed out")
)

// Config holds Connection Manager settings.
type Config struct {
	ConnectTimeout time.Duration // bound on one station attempt
	PollInterval   time.Duration // link status polling period during an attempt
	APName         string
	APAddress      string
}

// Manager owns the connectivity state and the WiFi credentials.
// It is used only from the scheduler goroutine.
type Manager struct {
	radio Radio
	store store.Store
	cfg   Config
	log   logrus.FieldLogger
	state State

	now   func() time.Time
	sleep func(time.Duration)
}

// NewManager creates a Manager in the Disconnected state.
func NewManager(radio Radio, s store.Store, cfg Config, log logrus.FieldLogger) *Manager {
	return &Manager{
		radio: radio,
		store: s,
		cfg:   cfg,
		log:   log.WithField("component", "link"),
		state: Disconnected,
		now:   time.Now,
		sleep: time.Sleep,
	}
}

// SetClock replaces the time source and the poll delay. Used by tests.
func (m *Manager) SetClock(now func() time.Time, sleep func(time.Duration)) {
	m.now = now
	m.sleep = sleep
}

// State returns the current connectivity state.
func (m *Manager) State() State {
	return m.state
}

// Address returns the station address, or "" when not connected.
func (m *Manager) Address() string {
	if m.state != Connected {
		return ""
	}
	return m.radio.Address()
}

// Identity returns the device identity: the interface hardware address in
// uppercase colon notation.
func (m *Manager) Identity() (string, error) {
	addr, err := m.radio.HardwareAddr()
	if err != nil {
		return "", fmt.Errorf("read hardware address: %w", err)
	}
	if addr == "" {
		return "", errors.New("empty hardware address")
	}
	return NormalizeIdentity(addr), nil
}

func (m *Manager) apply(ev Event) {
	to, ok := Next(m.state, ev)
	if !ok {
		m.log.WithFields(logrus.Fields{"state": m.state, "event": ev}).Warn("ignored transition")
		return
	}
	if to != m.state {
		m.log.WithFields(logrus.Fields{"from": m.state, "to": to, "event": ev}).Info("state change")
	}
	m.state = to
}

// AttemptConnect issues a station connection request and polls the link until
// it is up or ConnectTimeout has elapsed. service is called between polls so
// that time-critical collaborators keep running during the wait; it may be nil.
// Returns Connected or Disconnected.
func (m *Manager) AttemptConnect(c Credentials, service func()) (State, error) {
	if c.Empty() {
		return m.state, ErrConfigurationMissing
	}

	m.apply(EventAttempt)
	m.log.WithField("ssid", c.SSID).Info("connecting")
	if err := m.radio.Join(c.SSID, c.Password); err != nil {
		m.apply(EventTimeout)
		return m.state, fmt.Errorf("join %q: %w", c.SSID, err)
	}

	start := m.now()
	for {
		if m.radio.Linked() {
			m.apply(EventLinkUp)
			m.log.WithField("ip", m.radio.Address()).Info("connected")
			return m.state, nil
		}
		if m.now().Sub(start) >= m.cfg.ConnectTimeout {
			m.apply(EventTimeout)
			return m.state, ErrConnectionTimeout
		}
		if service != nil {
			service()
		}
		m.sleep(m.cfg.PollInterval)
	}
}

// Boot runs the cold-start path: attempt the stored credentials and fall back
// to provisioning if they are absent or the attempt fails.
func (m *Manager) Boot(service func()) (State, error) {
	c, err := LoadCredentials(m.store)
	if err == nil {
		_, err = m.AttemptConnect(c, service)
	}
	if err == nil {
		return m.state, nil
	}

	m.log.WithError(err).Warn("connection failed, entering provisioning mode")
	if perr := m.enterProvisioning(); perr != nil {
		return m.state, fmt.Errorf("start provisioning: %w", perr)
	}
	return m.state, err
}

func (m *Manager) enterProvisioning() error {
	m.apply(EventProvision)
	if err := m.radio.StartAccessPoint(m.cfg.APName, m.cfg.APAddress); err != nil {
		return err
	}
	m.log.WithFields(logrus.Fields{"ap": m.cfg.APName, "address": m.cfg.APAddress}).Info("access point up")
	return nil
}

// Ensure keeps the station link up. A dropped link moves Connected back to
// Disconnected, and a Disconnected manager makes one bounded attempt. It never
// enters provisioning. Returns the resulting state.
func (m *Manager) Ensure(service func()) State {
	switch m.state {
	case Provisioning:
		return m.state
	case Connected:
		if m.radio.Linked() {
			return m.state
		}
		m.apply(EventLinkLost)
		m.log.Warn("link lost")
	}

	c, err := LoadCredentials(m.store)
	if err != nil {
		m.log.WithError(err).Error("cannot reconnect")
		return m.state
	}
	if _, err := m.AttemptConnect(c, service); err != nil {
		m.log.WithError(err).Warn("reconnect failed")
	}
	return m.state
}

// ClearCredentials erases the stored credentials.
func (m *Manager) ClearCredentials() error {
	return ClearCredentials(m.store)
}

// Close stops the access point if provisioning mode brought one up.
func (m *Manager) Close() error {
	if m.state == Provisioning {
		return m.radio.StopAccessPoint()
	}
	return nil
}
