package actuator

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// DefaultBaud is the microcontroller's link speed.
const DefaultBaud = 115200

// SerialGateway writes each mode as a single byte to a serial port.
type SerialGateway struct {
	port  io.WriteCloser
	modes int
}

// OpenSerialGateway opens portName at baud, 8N1.
func OpenSerialGateway(portName string, baud, modes int) (*SerialGateway, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	if modes > 255 {
		return nil, fmt.Errorf("serial: %d modes do not fit in one byte", modes)
	}
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}
	return NewSerialGateway(port, modes), nil
}

// NewSerialGateway wraps an already open port.
func NewSerialGateway(port io.WriteCloser, modes int) *SerialGateway {
	return &SerialGateway{port: port, modes: modes}
}

// SetMode writes code as one byte.
func (s *SerialGateway) SetMode(code int) error {
	if err := CheckMode(code, s.modes); err != nil {
		return err
	}
	if _, err := s.port.Write([]byte{byte(code)}); err != nil {
		return fmt.Errorf("write mode %d: %w", code, err)
	}
	return nil
}

// Close sends mode 0 and closes the port.
func (s *SerialGateway) Close() error {
	var errs []error
	if _, err := s.port.Write([]byte{0}); err != nil {
		errs = append(errs, fmt.Errorf("write mode 0: %w", err))
	}
	if err := s.port.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close port: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
