// Package actuator drives the gate relay.
package actuator

import (
	"context"
	"errors"
)

var (
	ErrClosed    = errors.New("actuator closed")
	ErrBusy      = errors.New("actuator queue full")
	ErrNoPin     = errors.New("gpio pin not found")
	ErrActuation = errors.New("relay actuation failed")
)

// Actuator opens the gate once per Trigger.
type Actuator interface {
	Trigger(ctx context.Context) error
}

// HardwareReporter is implemented by actuators that know whether they drive
// real hardware.
type HardwareReporter interface {
	Hardware() bool
}

// IsHardware reports whether a drives a physical relay.
func IsHardware(a Actuator) bool {
	hr, ok := a.(HardwareReporter)
	return ok && hr.Hardware()
}
