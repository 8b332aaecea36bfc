// Package device is the cooperative scheduler. It owns the device context
// (identity, connectivity, session, accumulator, pending restart) and
// advances every component one bounded step per Tick.
package device

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/pulse-meter/internal/command"
	"github.com/sweeney/pulse-meter/internal/gpio"
	"github.com/sweeney/pulse-meter/internal/link"
	"github.com/sweeney/pulse-meter/internal/meter"
	"github.com/sweeney/pulse-meter/internal/mqtt"
	"github.com/sweeney/pulse-meter/internal/ota"
	"github.com/sweeney/pulse-meter/internal/status"
	"github.com/sweeney/pulse-meter/internal/store"
	"github.com/sweeney/pulse-meter/internal/system"
)

// Portal is the provisioning collaborator as seen by the scheduler.
type Portal interface {
	// Service applies a pending submission and reports whether credentials
	// were saved. It must not block.
	Service() (bool, error)
}

// Config holds scheduler settings.
type Config struct {
	ReportPeriod  time.Duration // drain and report interval
	Blink         time.Duration // indicator toggle interval in provisioning
	FeedbackDelay time.Duration // pause before a requested restart
}

// Deps are the components the scheduler drives.
type Deps struct {
	Link      *link.Manager
	Session   *mqtt.Session
	Meter     *meter.Accumulator
	Updater   ota.Updater
	Portal    Portal
	Indicator gpio.Indicator
	Store     store.Store
	Restarter system.Restarter
	Tracker   *status.Tracker
	Log       logrus.FieldLogger
}

// Device is the scheduler and its context. Every method runs on the
// scheduler goroutine; only the accumulator is shared with the edge context.
type Device struct {
	identity string
	bootID   string
	cfg      Config

	link       *link.Manager
	session    *mqtt.Session
	meter      *meter.Accumulator
	updater    ota.Updater
	portal     Portal
	led        gpio.Indicator
	store      store.Store
	restarter  system.Restarter
	tracker    *status.Tracker
	dispatcher *command.Dispatcher
	log        logrus.FieldLogger

	now       time.Time // time of the tick in progress
	lastBlink time.Time
	wasLinked bool

	restartPending bool
	restartAt      time.Time
	restartReason  string
	restarted      bool
}

// New creates the scheduler for identity. bootID distinguishes this run in
// announcements and reports.
func New(identity, bootID string, cfg Config, d Deps) *Device {
	dev := &Device{
		identity:  identity,
		bootID:    bootID,
		cfg:       cfg,
		link:      d.Link,
		session:   d.Session,
		meter:     d.Meter,
		updater:   d.Updater,
		portal:    d.Portal,
		led:       d.Indicator,
		store:     d.Store,
		restarter: d.Restarter,
		tracker:   d.Tracker,
		log:       d.Log.WithField("component", "scheduler"),
	}
	dev.dispatcher = command.NewDispatcher(identity, d.Session.Topics(), d.Session, d.Updater, dev, d.Log)
	dev.tracker.SetIdentity(identity, bootID)
	return dev
}

// Boot runs the cold-start connection path. It returns the resulting
// connectivity state; an error means the device is provisioning.
func (d *Device) Boot(now time.Time) (link.State, error) {
	d.now = now
	d.setLED(true)

	st, err := d.link.Boot(d.waitService)
	if st == link.Connected {
		d.setLED(false)
		d.wasLinked = true
	}
	d.lastBlink = now
	d.publishStatus()
	return st, err
}

// Tick advances the device by one step. Steps run in a fixed order and each
// is bounded; a step that cannot proceed returns early.
func (d *Device) Tick(now time.Time) {
	d.now = now
	defer d.publishStatus()

	if d.restartPending {
		if !d.restarted && !now.Before(d.restartAt) {
			d.restart()
		}
		return
	}

	if d.link.State() == link.Provisioning {
		d.servicePortal()
		d.blink(now)
		return
	}

	if d.link.Ensure(d.waitService) != link.Connected {
		d.wasLinked = false
		return
	}
	if !d.wasLinked {
		d.setLED(false)
		d.wasLinked = true
	}

	d.pollUpdate()
	if d.restartPending {
		return
	}

	if d.session.State() != mqtt.Online {
		if err := d.session.Connect(now, d.announcement()); err != nil {
			return
		}
	}

	d.session.Pump(d.handle)
	if d.restartPending {
		return
	}

	if r := d.meter.CheckReport(now, d.cfg.ReportPeriod); r != nil {
		d.report(*r)
	}
}

// ResetCredentials erases the stored credentials and schedules the restart.
// The restart is scheduled even if erasing fails.
func (d *Device) ResetCredentials() {
	if err := d.link.ClearCredentials(); err != nil {
		d.log.WithError(err).Error("clearing credentials failed")
	}
	d.setLED(true)
	d.scheduleRestart(d.cfg.FeedbackDelay, "credential reset")
}

// RestartPending reports whether a restart is scheduled, and why.
func (d *Device) RestartPending() (bool, string) {
	return d.restartPending, d.restartReason
}

// Identity returns the device identity.
func (d *Device) Identity() string {
	return d.identity
}

// Close publishes the offline status, stops the access point and turns the
// indicator off.
func (d *Device) Close() error {
	err := d.session.Close()
	if lerr := d.link.Close(); lerr != nil && err == nil {
		err = lerr
	}
	d.setLED(false)
	return err
}

// waitService runs between link polls during a bounded connection attempt.
func (d *Device) waitService() {
	if err := d.led.Toggle(); err != nil {
		d.log.WithError(err).Debug("indicator toggle failed")
	}
	d.pollUpdate()
}

func (d *Device) blink(now time.Time) {
	if now.Sub(d.lastBlink) < d.cfg.Blink {
		return
	}
	d.lastBlink = now
	if err := d.led.Toggle(); err != nil {
		d.log.WithError(err).Debug("indicator toggle failed")
	}
}

func (d *Device) setLED(on bool) {
	if err := d.led.Set(on); err != nil {
		d.log.WithError(err).Debug("indicator set failed")
	}
}

func (d *Device) servicePortal() {
	saved, err := d.portal.Service()
	if err != nil {
		d.log.WithError(err).Error("provisioning submit failed")
		return
	}
	if saved {
		d.scheduleRestart(d.cfg.FeedbackDelay, "credentials saved")
	}
}

func (d *Device) handle(m mqtt.Message) {
	if d.restartPending {
		d.log.WithField("topic", m.Topic).Debug("restart pending, dropping message")
		return
	}
	switch d.dispatcher.Handle(m) {
	case command.OutcomeOverride:
		v, _ := d.dispatcher.Override()
		d.tracker.SetOverride(v)

	case command.OutcomeUpdate:
		// The download is already running; mask before the next edge.
		d.meter.SetEnabled(false)

	case command.OutcomeRejected:
		reason := fmt.Sprintf("update not started: %v", d.dispatcher.Rejection())
		payload := status.FormatStatusEvent(d.tracker.SnapshotAt(d.now), "UPDATE_FAILED", reason)
		if err := d.session.Publish(d.session.Topics().Debug, payload, false); err != nil {
			d.log.WithError(err).Debug("update rejection not published")
		}
	}
}

func (d *Device) pollUpdate() {
	ev := d.updater.Tick()
	log := d.log.WithField("url", ev.URL)

	switch ev.Kind {
	case ota.Started:
		d.meter.SetEnabled(false)
		d.tracker.SetLastUpdate("in-progress")
		log.Info("update started, pulse input disabled")

	case ota.Progress:
		log.WithField("percent", ev.Percent).Info("update progress")

	case ota.Finished:
		d.meter.SetEnabled(true)
		res := ev.Result
		d.tracker.SetLastUpdate(res.Kind.String())

		reason := ""
		if err := res.Err(); err != nil {
			reason = err.Error()
			log.WithError(err).Error("update failed")
		} else {
			log.WithField("result", res.Kind).Info("update finished")
		}
		event := "UPDATE_" + strings.ToUpper(strings.ReplaceAll(res.Kind.String(), "-", "_"))
		payload := status.FormatStatusEvent(d.tracker.SnapshotAt(d.now), event, reason)
		if err := d.session.Publish(d.session.Topics().Debug, payload, false); err != nil {
			log.WithError(err).Debug("update outcome not published")
		}

		if res.Kind == ota.Applied {
			d.scheduleRestart(0, "update applied")
		}
	}
}

func (d *Device) report(r meter.Report) {
	d.tracker.SetReport(r)
	d.tracker.SetMeter(d.meter.Stats())

	payload := status.FormatReport(d.tracker.SnapshotAt(d.now), r)
	log := d.log.WithFields(logrus.Fields{"pulses": r.Pulses, "total": r.Total, "period": r.Period})
	if err := d.session.Publish(d.session.Topics().Debug, payload, true); err != nil {
		log.WithError(err).Warn("report not published")
		return
	}
	log.Info("report published")
}

func (d *Device) announcement() mqtt.Announcement {
	cpf, _ := d.store.Get(store.NamespaceUser, store.KeyCPF)
	return mqtt.Announcement{
		MAC:    d.identity,
		IP:     d.link.Address(),
		CPF:    cpf,
		BootID: d.bootID,
	}
}

func (d *Device) scheduleRestart(delay time.Duration, reason string) {
	if d.restartPending {
		return
	}
	d.restartPending = true
	d.restartAt = d.now.Add(delay)
	d.restartReason = reason
	d.log.WithFields(logrus.Fields{"reason": reason, "in": delay}).Warn("restart scheduled")
}

func (d *Device) restart() {
	if err := d.restarter.Restart(d.restartReason); err != nil {
		d.log.WithError(err).Error("restart failed, retrying")
		d.restartAt = d.now.Add(d.cfg.FeedbackDelay)
		return
	}
	d.restarted = true
}

func (d *Device) publishStatus() {
	d.tracker.SetConnectivity(status.Connectivity{
		Link:     d.link.State().String(),
		Session:  d.session.State().String(),
		IP:       d.link.Address(),
		Connects: d.session.Connects(),
	})
	d.tracker.SetMeter(d.meter.Stats())
}
