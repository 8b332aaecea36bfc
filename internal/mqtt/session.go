package mqtt

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrSessionRejected means the broker refused or did not answer a connect,
	// or the subscription set could not be established.
	ErrSessionRejected = errors.New("session rejected")

	// ErrNotOnline is returned by Publish while the session is not online.
	ErrNotOnline = errors.New("session not online")

	// ErrBackoff is returned by Connect while the reconnect delay is running.
	ErrBackoff = errors.New("reconnect delay not elapsed")
)

// SessionState is the lifecycle state of the broker session.
type SessionState int

const (
	Offline SessionState = iota
	Connecting
	Online
)

func (s SessionState) String() string {
	switch s {
	case Offline:
		return "OFFLINE"
	case Connecting:
		return "CONNECTING"
	case Online:
		return "ONLINE"
	}
	return "UNKNOWN"
}

// SessionEvent drives a session state transition.
type SessionEvent int

const (
	SessionDial     SessionEvent = iota // connect issued
	SessionAccepted                     // connected, subscribed and announced
	SessionRejected                     // connect or setup failed
	SessionDropped                      // client reported the session gone
)

func (e SessionEvent) String() string {
	switch e {
	case SessionDial:
		return "DIAL"
	case SessionAccepted:
		return "ACCEPTED"
	case SessionRejected:
		return "REJECTED"
	case SessionDropped:
		return "DROPPED"
	}
	return "UNKNOWN"
}

// NextSession is the session transition function. It returns the new state
// and true, or the unchanged state and false if ev is not valid in from.
func NextSession(from SessionState, ev SessionEvent) (SessionState, bool) {
	switch {
	case from == Offline && ev == SessionDial:
		return Connecting, true
	case from == Connecting && ev == SessionAccepted:
		return Online, true
	case from == Connecting && ev == SessionRejected:
		return Offline, true
	case from == Online && ev == SessionDropped:
		return Offline, true
	}
	return from, false
}

// SessionConfig holds Session Manager settings.
type SessionConfig struct {
	ReconnectDelay time.Duration // fixed delay between failed connects
}

// Session is the Session Manager. It is used only from the scheduler goroutine.
type Session struct {
	client Client
	topics Topics
	cfg    SessionConfig
	log    logrus.FieldLogger

	state       SessionState
	nextAttempt time.Time
	connects    int
}

// NewSession creates an Offline session.
func NewSession(client Client, topics Topics, cfg SessionConfig, log logrus.FieldLogger) *Session {
	return &Session{
		client: client,
		topics: topics,
		cfg:    cfg,
		log:    log.WithField("component", "session"),
	}
}

// State returns the session state after reconciling with the client: a
// session the client no longer reports as connected is dropped.
func (s *Session) State() SessionState {
	if s.state == Online && !s.client.IsConnected() {
		s.apply(SessionDropped)
		s.log.Warn("session lost")
	}
	return s.state
}

// Topics returns the device topic layout.
func (s *Session) Topics() Topics {
	return s.topics
}

// Connects returns the number of successful session establishments.
func (s *Session) Connects() int {
	return s.connects
}

func (s *Session) apply(ev SessionEvent) {
	to, ok := NextSession(s.state, ev)
	if !ok {
		s.log.WithFields(logrus.Fields{"state": s.state, "event": ev}).Warn("ignored transition")
		return
	}
	if to != s.state {
		s.log.WithFields(logrus.Fields{"from": s.state, "to": to, "event": ev}).Debug("state change")
	}
	s.state = to
}

// Connect makes one bounded attempt to establish the session. Before
// ReconnectDelay has elapsed since a failure it returns ErrBackoff without
// touching the network, so the caller can keep ticking instead of waiting.
//
// On success, in order: retained "online" status, the full subscription set,
// then the announcement. A subscriber that sees the announcement can already
// reach the device.
func (s *Session) Connect(now time.Time, ann Announcement) error {
	if s.State() == Online {
		return nil
	}
	if now.Before(s.nextAttempt) {
		return ErrBackoff
	}

	s.apply(SessionDial)
	s.log.Info("connecting to broker")
	if err := s.setup(ann); err != nil {
		s.client.Disconnect()
		s.apply(SessionRejected)
		s.nextAttempt = now.Add(s.cfg.ReconnectDelay)
		s.log.WithError(err).WithField("retry_in", s.cfg.ReconnectDelay).Warn("broker connect failed")
		return err
	}

	s.apply(SessionAccepted)
	s.connects++
	s.log.WithField("connects", s.connects).Info("session online")
	return nil
}

func (s *Session) setup(ann Announcement) error {
	if err := s.client.Connect(); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionRejected, err)
	}
	if err := s.client.Publish(s.topics.Status, []byte(PayloadOnline), true); err != nil {
		return fmt.Errorf("%w: publish online: %v", ErrSessionRejected, err)
	}
	for _, topic := range s.topics.Subscriptions() {
		if err := s.client.Subscribe(topic); err != nil {
			return fmt.Errorf("%w: subscribe %s: %v", ErrSessionRejected, topic, err)
		}
		s.log.WithField("topic", topic).Debug("subscribed")
	}
	payload, err := FormatAnnouncement(ann)
	if err != nil {
		return fmt.Errorf("format announcement: %w", err)
	}
	if err := s.client.Publish(s.topics.Announce, payload, false); err != nil {
		return fmt.Errorf("%w: announce: %v", ErrSessionRejected, err)
	}
	return nil
}

// Pump hands every inbound message to handle, oldest first, and returns how
// many were delivered. It does nothing unless the session is online.
func (s *Session) Pump(handle func(Message)) int {
	if s.State() != Online {
		return 0
	}
	msgs := s.client.Receive()
	for _, m := range msgs {
		handle(m)
	}
	return len(msgs)
}

// Publish sends payload to topic. While the session is not online the call is
// a no-op returning ErrNotOnline.
func (s *Session) Publish(topic string, payload []byte, retained bool) error {
	if s.State() != Online {
		return ErrNotOnline
	}
	if err := s.client.Publish(topic, payload, retained); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close publishes the retained "offline" status if online, then disconnects.
func (s *Session) Close() error {
	var err error
	if s.State() == Online {
		err = s.client.Publish(s.topics.Status, []byte(PayloadOffline), true)
	}
	s.client.Disconnect()
	return err
}
