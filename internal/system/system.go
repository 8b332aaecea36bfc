// Package system restarts the daemon in place.
package system

import (
	"fmt"
	"os"
	"syscall"

	"github.com/sirupsen/logrus"
)

// Restarter restarts the device. A successful Restart does not return.
type Restarter interface {
	Restart(reason string) error
}

// ExecRestarter re-executes the running binary with the same arguments and
// environment. A freshly installed image is picked up by the re-exec.
type ExecRestarter struct {
	log logrus.FieldLogger

	// Before, if set, runs ahead of the exec, for releasing hardware and
	// closing the broker session.
	Before func()
}

// NewExecRestarter creates an ExecRestarter.
func NewExecRestarter(log logrus.FieldLogger) *ExecRestarter {
	return &ExecRestarter{log: log.WithField("component", "system")}
}

// Restart replaces the process image.
func (r *ExecRestarter) Restart(reason string) error {
	path, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	r.log.WithField("reason", reason).Warn("restarting")
	if r.Before != nil {
		r.Before()
	}
	if err := syscall.Exec(path, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", path, err)
	}
	return nil
}

// FakeRestarter records restart requests.
type FakeRestarter struct {
	// Reasons contains the reason of every Restart call.
	Reasons []string

	// Error, if set, will be returned by Restart.
	Error error
}

// Restart records reason.
func (f *FakeRestarter) Restart(reason string) error {
	f.Reasons = append(f.Reasons, reason)
	return f.Error
}
