package actuator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

const DefaultPulse = time.Second

// Pin is the part of gpio.PinIO the relay needs.
type Pin interface {
	Out(l gpio.Level) error
}

// Physical pulses a relay on a GPIO pin: high, hold, low.
type Physical struct {
	pin   Pin
	pulse time.Duration
	log   logrus.FieldLogger

	mu sync.Mutex
}

func NewPhysical(pin Pin, pulse time.Duration, log logrus.FieldLogger) *Physical {
	if pulse <= 0 {
		pulse = DefaultPulse
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Physical{pin: pin, pulse: pulse, log: log}
}

// OpenPin initializes the host drivers and looks up a pin by name, e.g.
// "GPIO17". The pin is driven low before it is returned.
func OpenPin(name string) (gpio.PinIO, error) {
	name = strings.TrimSpace(name)
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoPin, name)
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("set %s low: %w", name, err)
	}
	return p, nil
}

func (p *Physical) Hardware() bool { return true }

// Trigger holds the relay for the full pulse duration. ctx is only checked
// before the relay is energized; once the pulse starts it always runs to
// completion so the gate is never left half-cycled.
func (p *Physical) Trigger(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.pin.Out(gpio.High); err != nil {
		return fmt.Errorf("%w: drive high: %w", ErrActuation, err)
	}
	p.log.WithField("pulse", p.pulse).Debug("relay energized")

	time.Sleep(p.pulse)

	if err := p.pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("%w: drive low: %w", ErrActuation, err)
	}
	p.log.Debug("relay released")
	return nil
}
