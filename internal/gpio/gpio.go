// Package gpio provides the detect button and indicator lamps with hardware
// abstraction. The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package gpio

// Button reads the detect button.
type Button interface {
	// Pressed returns the logical button state.
	// The raw line is active low: raw 0 = pressed.
	Pressed() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Indicator drives the truth and lie lamps.
type Indicator interface {
	// Set switches each lamp on or off.
	Set(truth, lie bool) error

	// Close switches both lamps off and releases GPIO resources.
	Close() error
}

// Default chip and pin definitions (BCM numbering)
const (
	DefaultChip = "gpiochip0"
	PinButton   = 17
	PinTruth    = 27 // green
	PinLie      = 22 // red
)
