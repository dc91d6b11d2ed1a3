// Package serial provides line-oriented, full-duplex communication with the
// transmitter device: an initial setup handshake at a generous timeout,
// then ordinary reads/writes at a short operational timeout.
package serial

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

const (
	// SetupMessage is the handshake token the transmitter writes once it
	// has booted. Its content is not verified, only its length is read.
	SetupMessage = "arduino_available"
	// EndMessage is the per-command ack boundary and the token the
	// transmitter writes once an experiment concludes.
	EndMessage = "end_of_experiment"

	setupTimeout       = 5 * time.Second
	operationalTimeout = 1 * time.Second

	defaultBaudRate = 9600
)

// Port is an open serial connection, already past its setup handshake and
// configured with the 1-second operational read timeout.
type Port struct {
	port serial.Port
}

// Open opens path, waits up to 5 seconds for the setup handshake, then
// switches to the 1-second operational timeout used by the rest of the
// protocol.
func Open(path string) (*Port, error) {
	mode := &serial.Mode{BaudRate: defaultBaudRate}

	raw, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: opening serial port: %w", err)
	}

	if err := raw.SetReadTimeout(setupTimeout); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("serial: setting serial port timeout: %w", err)
	}

	buf := make([]byte, len(SetupMessage))
	if _, err := raw.Read(buf); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("serial: reading from serial port: %w", err)
	}

	if err := raw.SetReadTimeout(operationalTimeout); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("serial: setting serial port timeout: %w", err)
	}

	return &Port{port: raw}, nil
}

// Write writes b to the port.
func (p *Port) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

// Read reads into buf. A read that hits the operational timeout with no
// data returns (0, nil); IsTimeout distinguishes this from a genuine error.
func (p *Port) Read(buf []byte) (int, error) {
	return p.port.Read(buf)
}

// IsTimeout reports whether a Read result represents an expired read
// deadline rather than a transport failure: the underlying library signals
// this as a zero-byte, error-free read.
func IsTimeout(n int, err error) bool {
	return n == 0 && err == nil
}

// Close closes the underlying port.
func (p *Port) Close() error {
	return p.port.Close()
}
