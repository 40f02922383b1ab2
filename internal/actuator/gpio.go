//go:build linux

package actuator

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOGateway encodes the mode in binary across a set of output lines.
type GPIOGateway struct {
	chip  *gpiocdev.Chip
	lines *gpiocdev.Lines
	modes int
}

// NewGPIOGateway requests pins on chip as outputs, initially low (mode 0).
func NewGPIOGateway(chipName string, pins []int, modes int) (*GPIOGateway, error) {
	if len(pins) < PinsFor(modes) {
		return nil, fmt.Errorf("gpio: %d pins cannot encode %d modes", len(pins), modes)
	}

	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	lines, err := chip.RequestLines(pins, gpiocdev.AsOutput(make([]int, len(pins))...))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request pins %v: %w", pins, err)
	}

	return &GPIOGateway{chip: chip, lines: lines, modes: modes}, nil
}

// SetMode drives the lines to the binary encoding of code.
func (g *GPIOGateway) SetMode(code int) error {
	if err := CheckMode(code, g.modes); err != nil {
		return err
	}
	if err := g.lines.SetValues(Encode(code, len(g.lines.Offsets()))); err != nil {
		return fmt.Errorf("set mode %d: %w", code, err)
	}
	return nil
}

// Close drives all lines low, reconfigures them as inputs with pull-down
// (the Pi boot default) and releases the chip.
func (g *GPIOGateway) Close() error {
	var errs []error

	if g.lines != nil {
		n := len(g.lines.Offsets())
		if err := g.lines.SetValues(make([]int, n)); err != nil {
			errs = append(errs, fmt.Errorf("drive low: %w", err))
		}
		if err := g.lines.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pins: %w", err))
		}
		if err := g.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pins: %w", err))
		}
	}
	if g.chip != nil {
		if err := g.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
