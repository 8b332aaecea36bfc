package mqtt

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestSession(t *testing.T) (*Session, *FakeClient) {
	t.Helper()
	log, _ := test.NewNullLogger()
	client := NewFakeClient()
	s := NewSession(client, NewTopics(testID, "", "", ""), SessionConfig{ReconnectDelay: 5 * time.Second}, log)
	return s, client
}

var testAnnouncement = Announcement{MAC: testID, IP: "192.168.1.50"}

func TestNextSession(t *testing.T) {
	tests := []struct {
		from   SessionState
		ev     SessionEvent
		want   SessionState
		wantOK bool
	}{
		{Offline, SessionDial, Connecting, true},
		{Offline, SessionAccepted, Offline, false},
		{Connecting, SessionAccepted, Online, true},
		{Connecting, SessionRejected, Offline, true},
		{Online, SessionDropped, Offline, true},
		{Online, SessionDial, Online, false},
	}
	for _, tt := range tests {
		got, ok := NextSession(tt.from, tt.ev)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("NextSession(%s, %s) = (%s, %v), want (%s, %v)", tt.from, tt.ev, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestConnectSequence(t *testing.T) {
	s, client := newTestSession(t)

	if err := s.Connect(t0, testAnnouncement); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.State() != Online {
		t.Errorf("state: got %s, want ONLINE", s.State())
	}

	want := []string{
		"connect",
		"pub device/status",
		"sub esp/ota/",
		"sub " + testID,
		"sub " + testID + "/resetWifi",
		"pub accessRequest/",
	}
	if len(client.Log) != len(want) {
		t.Fatalf("calls: got %v, want %v", client.Log, want)
	}
	for i := range want {
		if client.Log[i] != want[i] {
			t.Errorf("call %d: got %q, want %q", i, client.Log[i], want[i])
		}
	}

	status := client.PublishedTo("device/status")
	if len(status) != 1 || string(status[0].Payload) != "online" || !status[0].Retained {
		t.Errorf("status publish: got %+v", status)
	}
	ann := client.PublishedTo("accessRequest/")
	if string(ann[0].Payload) != `{"mac":"AA:BB:CC:DD:EE:FF","ip":"192.168.1.50"}` {
		t.Errorf("announcement: got %s", ann[0].Payload)
	}
}

func TestConnectFailureBacksOff(t *testing.T) {
	s, client := newTestSession(t)
	client.ConnectError = errors.New("connection refused")

	err := s.Connect(t0, testAnnouncement)
	if !errors.Is(err, ErrSessionRejected) {
		t.Fatalf("expected ErrSessionRejected, got %v", err)
	}
	if s.State() != Offline {
		t.Errorf("state: got %s, want OFFLINE", s.State())
	}

	// Within the 5s delay no attempt reaches the client.
	for _, d := range []time.Duration{time.Millisecond, time.Second, 4999 * time.Millisecond} {
		if err := s.Connect(t0.Add(d), testAnnouncement); !errors.Is(err, ErrBackoff) {
			t.Errorf("at +%v: expected ErrBackoff, got %v", d, err)
		}
	}
	if client.Connects != 1 {
		t.Errorf("connects during backoff: got %d, want 1", client.Connects)
	}

	client.ConnectError = nil
	if err := s.Connect(t0.Add(5*time.Second), testAnnouncement); err != nil {
		t.Fatalf("retry after delay: %v", err)
	}
	if client.Connects != 2 || s.State() != Online {
		t.Errorf("expected online after retry, connects=%d state=%s", client.Connects, s.State())
	}
}

func TestSubscribeFailureRejectsSession(t *testing.T) {
	s, client := newTestSession(t)
	client.SubscribeError = errors.New("not authorized")

	if err := s.Connect(t0, testAnnouncement); !errors.Is(err, ErrSessionRejected) {
		t.Fatalf("expected ErrSessionRejected, got %v", err)
	}
	if s.State() != Offline {
		t.Errorf("state: got %s, want OFFLINE", s.State())
	}
	if client.Disconnects != 1 {
		t.Errorf("a half-set-up session should be closed, disconnects=%d", client.Disconnects)
	}
	if len(client.PublishedTo("accessRequest/")) != 0 {
		t.Error("announcement must not precede a complete subscription set")
	}
}

func TestReconnectResubscribesBeforeAnnouncing(t *testing.T) {
	s, client := newTestSession(t)
	s.Connect(t0, testAnnouncement)

	// Session drops.
	client.Connected = false
	if s.State() != Offline {
		t.Fatalf("state after drop: got %s, want OFFLINE", s.State())
	}
	client.Reset()

	if err := s.Connect(t0.Add(time.Second), testAnnouncement); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	announceAt := -1
	subs := 0
	for i, call := range client.Log {
		if call == "pub accessRequest/" {
			announceAt = i
			break
		}
		if len(call) > 4 && call[:4] == "sub " {
			subs++
		}
	}
	if announceAt < 0 {
		t.Fatal("no announcement after reconnect")
	}
	if subs != 3 {
		t.Errorf("expected 3 subscriptions before the announcement, got %d (%v)", subs, client.Log)
	}
	if s.Connects() != 2 {
		t.Errorf("connects: got %d, want 2", s.Connects())
	}
}

func TestPublishWhileOfflineIsNoop(t *testing.T) {
	s, client := newTestSession(t)

	err := s.Publish(testID+"/debug", []byte("x"), true)
	if !errors.Is(err, ErrNotOnline) {
		t.Errorf("expected ErrNotOnline, got %v", err)
	}
	if len(client.Published) != 0 {
		t.Error("nothing should reach the client while offline")
	}
}

func TestPublishOnline(t *testing.T) {
	s, client := newTestSession(t)
	s.Connect(t0, testAnnouncement)
	client.Reset()

	if err := s.Publish(testID+"/test", []byte("12.50"), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := client.PublishedTo(testID + "/test")
	if len(got) != 1 || string(got[0].Payload) != "12.50" || got[0].Retained {
		t.Errorf("publish: got %+v", got)
	}

	client.PublishError = errors.New("write timeout")
	if err := s.Publish(testID+"/test", []byte("1"), false); err == nil {
		t.Error("expected client error to propagate")
	}
}

func TestPumpDeliversInOrder(t *testing.T) {
	s, client := newTestSession(t)

	client.Deliver("a", "1")
	if n := s.Pump(func(Message) { t.Error("pump must not deliver while offline") }); n != 0 {
		t.Errorf("offline pump delivered %d", n)
	}

	s.Connect(t0, testAnnouncement)
	client.Deliver("b", "2")

	var got []string
	n := s.Pump(func(m Message) { got = append(got, m.Topic+"="+string(m.Payload)) })
	if n != 2 || len(got) != 2 || got[0] != "a=1" || got[1] != "b=2" {
		t.Errorf("pump: n=%d got=%v", n, got)
	}
	if n := s.Pump(func(Message) {}); n != 0 {
		t.Errorf("second pump delivered %d", n)
	}
}

func TestCloseAnnouncesOffline(t *testing.T) {
	s, client := newTestSession(t)
	s.Connect(t0, testAnnouncement)
	client.Reset()

	if err := s.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	status := client.PublishedTo("device/status")
	if len(status) != 1 || string(status[0].Payload) != "offline" || !status[0].Retained {
		t.Errorf("offline status: got %+v", status)
	}
	if client.Connected {
		t.Error("client should be disconnected")
	}
}
