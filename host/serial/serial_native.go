//go:build !wasm

package serial

import (
	"bufio"
	"errors"
	"fmt"

	"github.com/tarm/serial"
)

// NativePort wraps a tarm/serial port
type NativePort struct {
	port *serial.Port
	w    *bufio.Writer
	cfg  *Config
}

// Open opens a native serial port
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, errors.New("serial config cannot be nil")
	}
	if cfg.Device == "" {
		return nil, errors.New("serial device not set")
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Device, err)
	}

	p := &NativePort{port: port, cfg: cfg}
	if cfg.WriteBuffer > 0 {
		p.w = bufio.NewWriterSize(port, cfg.WriteBuffer)
	}
	return p, nil
}

// Read reads data from the serial port
func (p *NativePort) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

// Write writes data to the serial port, buffered if configured
func (p *NativePort) Write(b []byte) (int, error) {
	if p.w != nil {
		return p.w.Write(b)
	}
	return p.port.Write(b)
}

// Flush writes out buffered data
func (p *NativePort) Flush() error {
	if p.w == nil {
		return nil
	}
	return p.w.Flush()
}

// Close flushes and closes the serial port
func (p *NativePort) Close() error {
	if p.port == nil {
		return nil
	}
	ferr := p.Flush()
	if err := p.port.Close(); err != nil {
		return err
	}
	return ferr
}
