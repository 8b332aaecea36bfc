// Package mqtt manages the message-bus session: connection with a last-will,
// the per-device subscription set, the identity announcement and the inbound
// message pump. The broker client is abstracted for testing.
package mqtt

import (
	"encoding/json"
)

// Fixed topics and payloads of the wire contract.
const (
	DefaultStatusTopic    = "device/status"
	DefaultBroadcastTopic = "esp/ota/"
	DefaultAnnounceTopic  = "accessRequest/"

	PayloadOnline  = "online"
	PayloadOffline = "offline"

	suffixReset = "/resetWifi"
	suffixTest  = "/test"
	suffixDebug = "/debug"
)

// Topics is the topic layout for one device.
type Topics struct {
	Status    string // retained online/offline, also the last-will topic
	Broadcast string // update triggers for every device
	Announce  string // identity announcement on every (re)connect
	Data      string // <identity>: consumption override
	Reset     string // <identity>/resetWifi
	Test      string // <identity>/test: override echo
	Debug     string // <identity>/debug: retained periodic report
}

// NewTopics derives the per-device topics from identity. Empty shared topic
// names fall back to the defaults.
func NewTopics(identity, status, broadcast, announce string) Topics {
	if status == "" {
		status = DefaultStatusTopic
	}
	if broadcast == "" {
		broadcast = DefaultBroadcastTopic
	}
	if announce == "" {
		announce = DefaultAnnounceTopic
	}
	return Topics{
		Status:    status,
		Broadcast: broadcast,
		Announce:  announce,
		Data:      identity,
		Reset:     identity + suffixReset,
		Test:      identity + suffixTest,
		Debug:     identity + suffixDebug,
	}
}

// Subscriptions returns the subscription set in the order it is established.
func (t Topics) Subscriptions() []string {
	return []string{t.Broadcast, t.Data, t.Reset}
}

// Announcement is the identity announcement published after every connect.
type Announcement struct {
	MAC    string `json:"mac"`
	IP     string `json:"ip"`
	CPF    string `json:"cpf,omitempty"`
	BootID string `json:"boot_id,omitempty"`
}

// FormatAnnouncement creates the JSON payload for an announcement.
func FormatAnnouncement(a Announcement) ([]byte, error) {
	return json.Marshal(a)
}
