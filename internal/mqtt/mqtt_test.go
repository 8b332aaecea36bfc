package mqtt

import (
	"encoding/json"
	"testing"
)

const testID = "AA:BB:CC:DD:EE:FF"

func TestNewTopics(t *testing.T) {
	topics := NewTopics(testID, "", "", "")

	want := Topics{
		Status:    "device/status",
		Broadcast: "esp/ota/",
		Announce:  "accessRequest/",
		Data:      "AA:BB:CC:DD:EE:FF",
		Reset:     "AA:BB:CC:DD:EE:FF/resetWifi",
		Test:      "AA:BB:CC:DD:EE:FF/test",
		Debug:     "AA:BB:CC:DD:EE:FF/debug",
	}
	if topics != want {
		t.Errorf("topics:\ngot  %+v\nwant %+v", topics, want)
	}
}

func TestNewTopicsOverrides(t *testing.T) {
	topics := NewTopics(testID, "site/status", "site/ota", "site/hello")

	if topics.Status != "site/status" || topics.Broadcast != "site/ota" || topics.Announce != "site/hello" {
		t.Errorf("overrides not applied: %+v", topics)
	}
}

func TestSubscriptionsOrder(t *testing.T) {
	got := NewTopics(testID, "", "", "").Subscriptions()
	want := []string{"esp/ota/", testID, testID + "/resetWifi"}

	if len(got) != len(want) {
		t.Fatalf("expected %d subscriptions, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("subscription %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFormatAnnouncementExactJSON(t *testing.T) {
	payload, err := FormatAnnouncement(Announcement{MAC: testID, IP: "192.168.1.50"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `{"mac":"AA:BB:CC:DD:EE:FF","ip":"192.168.1.50"}`
	if string(payload) != want {
		t.Errorf("got %s, want %s", payload, want)
	}
}

func TestFormatAnnouncementWithLinkage(t *testing.T) {
	payload, err := FormatAnnouncement(Announcement{MAC: testID, IP: "10.1.1.1", CPF: "12345678900", BootID: "b1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed map[string]string
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed["cpf"] != "12345678900" {
		t.Errorf("cpf: got %q", parsed["cpf"])
	}
	if parsed["boot_id"] != "b1" {
		t.Errorf("boot_id: got %q", parsed["boot_id"])
	}
}

func TestFakeClientReset(t *testing.T) {
	f := NewFakeClient()
	f.Connect()
	f.Subscribe("a")
	f.Publish("b", nil, false)
	f.Deliver("c", "d")

	f.Reset()

	if len(f.Subscriptions) != 0 || len(f.Published) != 0 || len(f.Log) != 0 || len(f.Inbox) != 0 {
		t.Error("recorded calls should be cleared")
	}
	if !f.Connected {
		t.Error("Reset should keep the connection state")
	}
}
