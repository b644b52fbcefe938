package serialmux

import (
	"go.bug.st/serial"
)

// OpenReal creates a SerialMux backed by a real serial port at the given path
// using the provided options.
func OpenReal(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	return New[serial.Port](port), nil
}

// ListPorts enumerates the serial ports visible on this host. It is used by
// the console when no port path has been given.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
