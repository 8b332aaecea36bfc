package command

import (
	"github.com/sirupsen/logrus"

	"github.com/sweeney/pulse-meter/internal/mqtt"
)

// Publisher sends diagnostics. A Publish while the session is down is a
// harmless no-op that returns an error.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

// Updater starts a firmware update from url. It must return immediately;
// progress is polled elsewhere.
type Updater interface {
	Begin(url string) error
}

// Resetter erases stored credentials and commits the device to a restart.
// Once called the restart is unconditional.
type Resetter interface {
	ResetCredentials()
}

// Dispatcher routes messages for one device identity. It is used only from
// the scheduler goroutine.
type Dispatcher struct {
	identity string
	topics   mqtt.Topics
	pub      Publisher
	updater  Updater
	resetter Resetter
	log      logrus.FieldLogger

	override    float64
	hasOverride bool
	rejection   error
}

// NewDispatcher creates a Dispatcher for identity.
func NewDispatcher(identity string, topics mqtt.Topics, pub Publisher, updater Updater, resetter Resetter, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		identity: identity,
		topics:   topics,
		pub:      pub,
		updater:  updater,
		resetter: resetter,
		log:      log.WithField("component", "dispatcher"),
	}
}

// Override returns the last consumption override received, and whether one
// has been received since boot.
func (d *Dispatcher) Override() (float64, bool) {
	return d.override, d.hasOverride
}

// Rejection returns why the last update for this device was not started.
func (d *Dispatcher) Rejection() error {
	return d.rejection
}

// Handle routes one message. First match wins: the reset topic, then the
// exact data topic, then everything else as an update trigger.
func (d *Dispatcher) Handle(m mqtt.Message) Outcome {
	switch m.Topic {
	case d.topics.Reset:
		return d.handleReset(m)
	case d.topics.Data:
		return d.handleOverride(m)
	default:
		return d.handleUpdate(m)
	}
}

func (d *Dispatcher) handleReset(m mqtt.Message) Outcome {
	if !ParseResetFlag(m.Payload) {
		d.log.WithField("payload", string(m.Payload)).Info("reset not confirmed, ignoring")
		return OutcomeIgnored
	}
	d.log.Warn("credential reset confirmed")
	d.resetter.ResetCredentials()
	return OutcomeReset
}

func (d *Dispatcher) handleOverride(m mqtt.Message) Outcome {
	v := ParseOverride(m.Payload)
	d.override = v
	d.hasOverride = true
	d.log.WithField("value", v).Info("consumption override received")

	if err := d.pub.Publish(d.topics.Test, FormatOverride(v), false); err != nil {
		d.log.WithError(err).Warn("override echo failed")
	}
	return OutcomeOverride
}

func (d *Dispatcher) handleUpdate(m mqtt.Message) Outcome {
	cmd, err := ParseUpdate(m.Payload)
	if err != nil {
		d.log.WithError(err).WithField("topic", m.Topic).Warn("discarding update message")
		return OutcomeDiscarded
	}
	if cmd.Target != d.identity {
		return OutcomeIgnored
	}

	log := d.log.WithField("url", cmd.URL)
	if err := d.updater.Begin(cmd.URL); err != nil {
		log.WithError(err).Warn("update not started")
		d.rejection = err
		return OutcomeRejected
	}
	log.Info("update started")
	return OutcomeUpdate
}
