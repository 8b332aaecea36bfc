// Package store provides durable namespaced key-value storage for settings
// that must survive a restart: WiFi credentials and the user linkage field.
package store

import "errors"

// Namespaces and keys used by the device.
const (
	NamespaceWiFi = "wifi"
	NamespaceUser = "user"

	KeySSID     = "ssid"
	KeyPassword = "password"
	KeyCPF      = "cpf"
)

// ErrInvalidKey is returned for an empty namespace or key.
var ErrInvalidKey = errors.New("store: empty namespace or key")

// Store is a durable key-value store. Values are plain strings; there is no
// schema versioning.
type Store interface {
	// Get returns the value and true, or "" and false if the key is absent.
	Get(namespace, key string) (string, bool)

	// Set writes value durably before returning.
	Set(namespace, key, value string) error

	// Remove deletes the key. Removing an absent key is not an error.
	Remove(namespace, key string) error
}
