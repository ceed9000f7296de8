package seriallink

import (
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Port is an open reader connection. Read returns 0, nil when the read
// timeout passes without data.
type Port interface {
	Read(p []byte) (int, error)
	Close() error
}

type Opener interface {
	Open(ctx context.Context) (Port, error)
}

// SerialOpener opens a local serial device, 8N1.
type SerialOpener struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
}

func (o SerialOpener) String() string { return fmt.Sprintf("%s@%d", o.Device, o.Baud) }

func (o SerialOpener) Open(_ context.Context) (Port, error) {
	p, err := serial.Open(o.Device, &serial.Mode{
		BaudRate: o.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", o.Device, err)
	}
	timeout := o.ReadTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	if err := p.SetReadTimeout(timeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", o.Device, err)
	}
	return p, nil
}

// AvailablePorts lists serial devices the OS reports. Used for diagnostics
// when the configured device cannot be opened.
func AvailablePorts() []string {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil
	}
	return ports
}
