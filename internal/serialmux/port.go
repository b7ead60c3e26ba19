// Package serialmux provides the serial transport to the motion controller:
// port options, a line-oriented connection and a scriptable test port.
package serialmux

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// SerialPorter is the minimal interface needed for a serial port.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// Opener opens a serial port. Open is the production implementation; tests
// substitute their own.
type Opener func(path string, opts PortOptions) (SerialPorter, error)

// Open opens the serial device at path.
func Open(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}

// Ports lists the serial devices present on the system.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}
