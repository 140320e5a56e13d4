// Package spibridge drives an external USB-to-SPI bridge probe over a
// serial port, implementing core.PortDriver on the host side. The probe
// owns the actual peripheral; this package speaks a small framed
// request/response protocol to it.
package spibridge

import (
	"io"
)

// Port represents the serial link to the probe.
// This abstraction allows for different implementations:
// - Native serial (using github.com/tarm/serial)
// - In-memory loopback (for testing)
type Port interface {
	io.ReadWriteCloser
}

// Config holds the serial link configuration.
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate (USB CDC probes ignore this)
	Baud int

	// Read timeout in milliseconds. Must exceed the SPI transfer timeout
	// or slow transfers get cut off at the serial layer first.
	ReadTimeout int
}

// DefaultConfig returns a configuration suitable for USB CDC probes.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 1500,
	}
}
