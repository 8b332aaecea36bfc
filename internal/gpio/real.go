//go:build linux

package gpio

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
	"golang.org/x/sys/unix"
)

// RealPulseInput watches the pulse pin for falling edges using the Linux GPIO
// character device. The kernel delivers edges on a dedicated goroutine, which
// is the pulse interrupt context for the rest of the program.
type RealPulseInput struct {
	line *gpiocdev.Line
}

// NewRealPulseInput requests pin on chip as an edge-detecting input and calls
// handler for every falling edge.
func NewRealPulseInput(chip string, pin int, handler PulseHandler) (*RealPulseInput, error) {
	clock, err := newEdgeClock()
	if err != nil {
		return nil, err
	}

	// Pull-up with falling edge: the meter's open collector output pulls the
	// line low for the duration of each pulse.
	line, err := gpiocdev.RequestLine(chip, pin,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			handler(clock.stamp(evt.Timestamp))
		}))
	if err != nil {
		return nil, fmt.Errorf("request pulse pin %d: %w", pin, err)
	}
	return &RealPulseInput{line: line}, nil
}

// newEdgeClock pairs the current wall time with the kernel's monotonic clock,
// the clock line events are stamped with.
func newEdgeClock() (edgeClock, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return edgeClock{}, fmt.Errorf("read monotonic clock: %w", err)
	}
	return edgeClock{base: time.Now(), origin: time.Duration(ts.Nano())}, nil
}

// Close stops edge delivery and releases the line.
func (p *RealPulseInput) Close() error {
	if p.line == nil {
		return nil
	}
	if err := p.line.Close(); err != nil {
		return fmt.Errorf("close pulse pin: %w", err)
	}
	return nil
}

// RealIndicator drives the status LED through a GPIO output line.
type RealIndicator struct {
	line *gpiocdev.Line
	on   bool
}

// NewRealIndicator requests pin on chip as an output, initially off.
func NewRealIndicator(chip string, pin int) (*RealIndicator, error) {
	line, err := gpiocdev.RequestLine(chip, pin, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("request LED pin %d: %w", pin, err)
	}
	return &RealIndicator{line: line}, nil
}

// Set switches the LED on or off.
func (i *RealIndicator) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := i.line.SetValue(v); err != nil {
		return fmt.Errorf("set LED: %w", err)
	}
	i.on = on
	return nil
}

// Toggle inverts the LED.
func (i *RealIndicator) Toggle() error {
	return i.Set(!i.on)
}

// Close releases the LED line.
// Reconfigures the pin to input with pull-down (matching Pi boot defaults)
// before closing so the LED is not left driven across a restart.
func (i *RealIndicator) Close() error {
	if i.line == nil {
		return nil
	}
	var errs []error
	if err := i.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure LED pin: %w", err))
	}
	if err := i.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close LED pin: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
