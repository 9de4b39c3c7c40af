// Package serial opens the serial link a trace stream is written to.
package serial

import (
	"io"
	"time"
)

// Port is an open serial link
type Port interface {
	io.ReadWriteCloser

	// Flush writes out buffered data
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate; USB CDC adapters ignore it
	Baud int

	// ReadTimeout of 0 blocks
	ReadTimeout time.Duration

	// WriteBuffer coalesces small writes; 0 writes through
	WriteBuffer int
}

// DefaultConfig returns the configuration used for trace capture
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100 * time.Millisecond,
		WriteBuffer: 4096,
	}
}
