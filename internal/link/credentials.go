package link

import (
	"fmt"

	"github.com/sweeney/pulse-meter/internal/store"
)

// Credentials are the station network name and secret.
type Credentials struct {
	SSID     string
	Password string
}

// Empty reports whether no network name is configured.
func (c Credentials) Empty() bool {
	return c.SSID == ""
}

// LoadCredentials reads the stored credentials. It returns
// ErrConfigurationMissing if no network name is stored.
func LoadCredentials(s store.Store) (Credentials, error) {
	ssid, _ := s.Get(store.NamespaceWiFi, store.KeySSID)
	password, _ := s.Get(store.NamespaceWiFi, store.KeyPassword)
	c := Credentials{SSID: ssid, Password: password}
	if c.Empty() {
		return c, ErrConfigurationMissing
	}
	return c, nil
}

// SaveCredentials writes c to durable storage.
func SaveCredentials(s store.Store, c Credentials) error {
	if err := s.Set(store.NamespaceWiFi, store.KeySSID, c.SSID); err != nil {
		return fmt.Errorf("save ssid: %w", err)
	}
	if err := s.Set(store.NamespaceWiFi, store.KeyPassword, c.Password); err != nil {
		return fmt.Errorf("save password: %w", err)
	}
	return nil
}

// ClearCredentials erases the stored credentials. Both keys are attempted
// even if the first removal fails.
func ClearCredentials(s store.Store) error {
	errSSID := s.Remove(store.NamespaceWiFi, store.KeySSID)
	errPassword := s.Remove(store.NamespaceWiFi, store.KeyPassword)
	if errSSID != nil {
		return fmt.Errorf("clear ssid: %w", errSSID)
	}
	if errPassword != nil {
		return fmt.Errorf("clear password: %w", errPassword)
	}
	return nil
}
