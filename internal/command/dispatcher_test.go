package command

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/sweeney/pulse-meter/internal/mqtt"
)

const ownID = "AA:BB:CC:DD:EE:FF"

type recordingUpdater struct {
	urls []string
	err  error
}

func (u *recordingUpdater) Begin(url string) error {
	u.urls = append(u.urls, url)
	return u.err
}

type countingResetter struct {
	calls int
}

func (r *countingResetter) ResetCredentials() {
	r.calls++
}

type fixture struct {
	d       *Dispatcher
	client  *mqtt.FakeClient
	updater *recordingUpdater
	reset   *countingResetter
	topics  mqtt.Topics
}

// fakePub adapts FakeClient as a Publisher that is always online.
type fakePub struct{ c *mqtt.FakeClient }

func (p fakePub) Publish(topic string, payload []byte, retained bool) error {
	return p.c.Publish(topic, payload, retained)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	f := &fixture{
		client:  mqtt.NewFakeClient(),
		updater: &recordingUpdater{},
		reset:   &countingResetter{},
		topics:  mqtt.NewTopics(ownID, "", "", ""),
	}
	f.d = NewDispatcher(ownID, f.topics, fakePub{f.client}, f.updater, f.reset, log)
	return f
}

func msg(topic, payload string) mqtt.Message {
	return mqtt.Message{Topic: topic, Payload: []byte(payload)}
}

func TestResetTopic(t *testing.T) {
	tests := []struct {
		payload   string
		wantReset bool
	}{
		{"TRUE", true},
		{"true", true},
		{"1", true},
		{"false", false},
		{"yes", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			f := newFixture(t)
			out := f.d.Handle(msg(f.topics.Reset, tt.payload))

			if tt.wantReset {
				if out != OutcomeReset || f.reset.calls != 1 {
					t.Errorf("expected reset, got outcome=%s calls=%d", out, f.reset.calls)
				}
			} else {
				if out != OutcomeIgnored || f.reset.calls != 0 {
					t.Errorf("expected no reset, got outcome=%s calls=%d", out, f.reset.calls)
				}
			}
			if len(f.updater.urls) != 0 {
				t.Error("reset topic must never reach the updater")
			}
		})
	}
}

func TestDataTopicOverrideAndEcho(t *testing.T) {
	f := newFixture(t)

	if _, ok := f.d.Override(); ok {
		t.Error("no override expected before any message")
	}

	out := f.d.Handle(msg(ownID, "12.5"))
	if out != OutcomeOverride {
		t.Fatalf("outcome: got %s", out)
	}
	v, ok := f.d.Override()
	if !ok || v != 12.5 {
		t.Errorf("override: got %v %v", v, ok)
	}

	echo := f.client.PublishedTo(ownID + "/test")
	if len(echo) != 1 || string(echo[0].Payload) != "12.50" || echo[0].Retained {
		t.Errorf("echo: got %+v", echo)
	}
}

func TestDataTopicMalformedDegradesToZero(t *testing.T) {
	f := newFixture(t)
	f.d.Handle(msg(ownID, "12.5"))

	out := f.d.Handle(msg(ownID, "twelve"))
	if out != OutcomeOverride {
		t.Fatalf("outcome: got %s", out)
	}
	if v, _ := f.d.Override(); v != 0 {
		t.Errorf("override: got %v, want 0", v)
	}
	echo := f.client.PublishedTo(ownID + "/test")
	if len(echo) != 2 || string(echo[1].Payload) != "0.00" {
		t.Errorf("echo: got %+v", echo)
	}
}

func TestOverrideStoredWhenEchoFails(t *testing.T) {
	f := newFixture(t)
	f.client.PublishError = errors.New("offline")

	f.d.Handle(msg(ownID, "3"))
	if v, ok := f.d.Override(); !ok || v != 3 {
		t.Errorf("override: got %v %v", v, ok)
	}
}

func TestUpdateForThisDevice(t *testing.T) {
	f := newFixture(t)

	out := f.d.Handle(msg("esp/ota/", `{"mac":"AA:BB:CC:DD:EE:FF","url":"http://x/fw.bin"}`))
	if out != OutcomeUpdate {
		t.Fatalf("outcome: got %s", out)
	}
	if len(f.updater.urls) != 1 || f.updater.urls[0] != "http://x/fw.bin" {
		t.Errorf("updater calls: got %v", f.updater.urls)
	}
}

func TestUpdateForOtherDeviceNeverInvokesUpdater(t *testing.T) {
	f := newFixture(t)

	for _, target := range []string{"11:22:33:44:55:66", "aa:bb:cc:dd:ee:ff", "AA:BB:CC:DD:EE:F0"} {
		out := f.d.Handle(msg("esp/ota/", `{"mac":"`+target+`","url":"http://x/fw.bin"}`))
		if out != OutcomeIgnored {
			t.Errorf("target %s: outcome %s, want ignored", target, out)
		}
	}
	if len(f.updater.urls) != 0 {
		t.Errorf("updater must not be invoked, got %v", f.updater.urls)
	}
	if len(f.client.Published) != 0 {
		t.Error("mismatch must be silent")
	}
}

func TestUpdateMalformedDiscarded(t *testing.T) {
	f := newFixture(t)

	out := f.d.Handle(msg("esp/ota/", `{"mac":`))
	if out != OutcomeDiscarded {
		t.Errorf("outcome: got %s", out)
	}
	if len(f.updater.urls) != 0 {
		t.Error("updater must not be invoked")
	}
}

func TestUpdateBusy(t *testing.T) {
	f := newFixture(t)
	f.updater.err = errors.New("update already running")

	out := f.d.Handle(msg("esp/ota/", `{"mac":"AA:BB:CC:DD:EE:FF","url":"http://x/fw.bin"}`))
	if out != OutcomeRejected {
		t.Errorf("outcome: got %s", out)
	}
	if err := f.d.Rejection(); err == nil || err.Error() != "update already running" {
		t.Errorf("rejection: got %v", err)
	}
}

func TestUnknownTopicTreatedAsUpdate(t *testing.T) {
	f := newFixture(t)

	out := f.d.Handle(msg(ownID+"/other", `{"mac":"AA:BB:CC:DD:EE:FF","url":"http://y/fw.bin"}`))
	if out != OutcomeUpdate || len(f.updater.urls) != 1 {
		t.Errorf("outcome %s, updater %v", out, f.updater.urls)
	}
}

func TestResetTakesPrecedenceOverUpdateParsing(t *testing.T) {
	f := newFixture(t)

	out := f.d.Handle(msg(ownID+"/resetWifi", `{"mac":"AA:BB:CC:DD:EE:FF","url":"http://x/fw.bin"}`))
	if out != OutcomeIgnored {
		t.Errorf("outcome: got %s", out)
	}
	if len(f.updater.urls) != 0 || f.reset.calls != 0 {
		t.Error("a reset-topic message is never an update")
	}
}

func TestUnconfirmedResetIsLogged(t *testing.T) {
	log, hook := test.NewNullLogger()
	topics := mqtt.NewTopics(ownID, "", "", "")
	reset := &countingResetter{}
	d := NewDispatcher(ownID, topics, fakePub{mqtt.NewFakeClient()}, &recordingUpdater{}, reset, log)

	if out := d.Handle(msg(topics.Reset, "no")); out != OutcomeIgnored {
		t.Fatalf("outcome: got %s", out)
	}
	if reset.calls != 0 {
		t.Fatal("reset must not run")
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Message != "reset not confirmed, ignoring" {
		t.Fatalf("log entry: %+v", entry)
	}
	if entry.Data["payload"] != "no" {
		t.Errorf("payload field: got %v", entry.Data["payload"])
	}
}
