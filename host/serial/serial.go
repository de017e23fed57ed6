// Package serial opens the firmware's command port.
package serial

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// DefaultBaud matches the firmware UART. USB CDC ports ignore it.
const DefaultBaud = 250000

// Port is a byte stream to the firmware.
type Port interface {
	io.ReadWriteCloser
	Flush() error
}

// Config describes a port.
type Config struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration // zero blocks
}

// DefaultConfig returns the usual settings for device.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// nativePort adapts *serial.Port.
type nativePort struct {
	*serial.Port
}

// Open opens a native serial port.
func Open(cfg *Config) (Port, error) {
	if cfg == nil || cfg.Device == "" {
		return nil, errors.New("serial: no device")
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	return nativePort{p}, nil
}

// Read reports a read timeout as 0, nil. The underlying file reports it as
// io.EOF, which would end the host's reader.
func (p nativePort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}
