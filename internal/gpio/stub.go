//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealPulseInput is not available on non-Linux platforms.
type RealPulseInput struct{}

// NewRealPulseInput returns an error on non-Linux platforms.
func NewRealPulseInput(chip string, pin int, handler PulseHandler) (*RealPulseInput, error) {
	return nil, errUnsupported
}

// Close is a no-op on non-Linux platforms.
func (p *RealPulseInput) Close() error {
	return nil
}

// RealIndicator is not available on non-Linux platforms.
type RealIndicator struct{}

// NewRealIndicator returns an error on non-Linux platforms.
func NewRealIndicator(chip string, pin int) (*RealIndicator, error) {
	return nil, errUnsupported
}

// Set is not implemented on non-Linux platforms.
func (i *RealIndicator) Set(on bool) error {
	return errUnsupported
}

// Toggle is not implemented on non-Linux platforms.
func (i *RealIndicator) Toggle() error {
	return errUnsupported
}

// Close is a no-op on non-Linux platforms.
func (i *RealIndicator) Close() error {
	return nil
}
