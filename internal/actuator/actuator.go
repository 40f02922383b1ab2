// Package actuator drives the sorting flap with a small integer mode code.
// Mode 0 means no category; mode i means the i-th configured label.
// The real GPIO implementation uses the Linux GPIO character device and the
// serial implementation talks to the microcontroller over USB serial.
package actuator

import (
	"errors"
	"fmt"
)

// ErrInvalidMode is returned when a mode code is outside [0, modes].
var ErrInvalidMode = errors.New("actuator: invalid mode")

// Gateway sends mode codes to the physical actuator.
type Gateway interface {
	// SetMode drives the actuator into code.
	SetMode(code int) error

	// Close releases the actuator. Implementations leave the hardware in mode 0 where possible.
	Close() error
}

// CheckMode reports an error if code is not a valid mode for an actuator
// with the given number of non-idle modes.
func CheckMode(code, modes int) error {
	if code < 0 || code > modes {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidMode, code, modes)
	}
	return nil
}

// PinsFor returns how many binary-encoded output lines are needed for modes non-idle modes.
func PinsFor(modes int) int {
	n := 0
	for (1 << n) <= modes {
		n++
	}
	return n
}

// Encode splits code into one value per line, least significant bit first.
func Encode(code, lines int) []int {
	values := make([]int, lines)
	for i := range values {
		values[i] = (code >> i) & 1
	}
	return values
}
