//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealButton reads the detect button from hardware using the Linux GPIO
// character device.
type RealButton struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealButton requests the button line on the named chip.
func NewRealButton(chipName string, pin int) (*RealButton, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	// Button shorts the line to ground, so hold it high when released.
	line, err := chip.RequestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request button pin %d: %w", pin, err)
	}

	return &RealButton{chip: chip, line: line}, nil
}

// Pressed returns the logical button state.
// Inverts raw GPIO: raw inactive (0) = pressed.
func (b *RealButton) Pressed() (bool, error) {
	raw, err := b.line.Value()
	if err != nil {
		return false, fmt.Errorf("read button pin: %w", err)
	}
	return raw == 0, nil
}

// Close releases GPIO resources.
// Reconfigures the pin to input with pull-down (matching Pi boot defaults)
// before closing.
func (b *RealButton) Close() error {
	var errs []error

	if b.line != nil {
		if err := b.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure button pin: %w", err))
		}
		if err := b.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close button pin: %w", err))
		}
	}
	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealIndicator drives the truth and lie lamps as a pair of output lines.
type RealIndicator struct {
	chip  *gpiocdev.Chip
	lines *gpiocdev.Lines
}

// NewRealIndicator requests both lamp lines as outputs, initially off.
func NewRealIndicator(chipName string, pinTruth, pinLie int) (*RealIndicator, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	lines, err := chip.RequestLines([]int{pinTruth, pinLie}, gpiocdev.AsOutput(0, 0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request lamp pins %d,%d: %w", pinTruth, pinLie, err)
	}

	return &RealIndicator{chip: chip, lines: lines}, nil
}

// Set switches each lamp on or off.
func (r *RealIndicator) Set(truth, lie bool) error {
	if err := r.lines.SetValues([]int{boolToInt(truth), boolToInt(lie)}); err != nil {
		return fmt.Errorf("set lamps: %w", err)
	}
	return nil
}

// Close switches both lamps off, returns the pins to inputs with pull-down
// and releases the chip.
func (r *RealIndicator) Close() error {
	var errs []error

	if r.lines != nil {
		if err := r.lines.SetValues([]int{0, 0}); err != nil {
			errs = append(errs, fmt.Errorf("clear lamps: %w", err))
		}
		if err := r.lines.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure lamp pins: %w", err))
		}
		if err := r.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close lamp pins: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
