//go:build !linux

package actuator

import "errors"

// GPIOGateway is not available on non-Linux platforms.
type GPIOGateway struct{}

// NewGPIOGateway returns an error on non-Linux platforms.
func NewGPIOGateway(chipName string, pins []int, modes int) (*GPIOGateway, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// SetMode is not implemented on non-Linux platforms.
func (g *GPIOGateway) SetMode(code int) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (g *GPIOGateway) Close() error {
	return nil
}
