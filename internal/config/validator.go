package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/sweeney/physio-sensor/internal/device"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "device.sampling_rate")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidKinds returns the supported device kinds.
func ValidKinds() []string {
	return []string{KindBitalino, KindSynth}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if !slices.Contains(ValidKinds(), c.Device.Kind) {
		add("device.kind", c.Device.Kind, fmt.Sprintf("must be one of %v", ValidKinds()))
	}
	if c.Device.Kind == KindBitalino && c.Device.Address == "" {
		add("device.address", c.Device.Address, "required for bitalino devices")
	}
	if !device.ValidRate(c.Device.SamplingRate) {
		add("device.sampling_rate", c.Device.SamplingRate, fmt.Sprintf("must be one of %v", device.Rates))
	}
	if c.Device.BlockLength < 0 {
		add("device.block_length", c.Device.BlockLength, "must be non-negative")
	}

	if c.Acquisition.HistorySeconds <= 0 {
		add("acquisition.history_seconds", c.Acquisition.HistorySeconds, "must be positive")
	}
	if c.Acquisition.WindowSeconds <= 0 {
		add("acquisition.window_seconds", c.Acquisition.WindowSeconds, "must be positive")
	}

	if c.MQTT.Heartbeat < 0 {
		add("mqtt.heartbeat", c.MQTT.Heartbeat, "must be non-negative (0 disables)")
	}

	if c.GPIO.Enabled {
		if c.GPIO.Chip == "" {
			add("gpio.chip", c.GPIO.Chip, "required when gpio is enabled")
		}
		pins := []int{c.GPIO.PinButton, c.GPIO.PinTruth, c.GPIO.PinLie}
		for i, p := range pins {
			if p < 0 {
				add("gpio.pins", p, "must be non-negative")
			}
			if slices.Contains(pins[:i], p) {
				add("gpio.pins", pins, "button, truth and lie pins must differ")
				break
			}
		}
		if c.GPIO.Poll <= 0 {
			add("gpio.poll", c.GPIO.Poll, "must be positive")
		}
		if c.GPIO.Debounce < 0 {
			add("gpio.debounce", c.GPIO.Debounce, "must be non-negative")
		}
	}

	if c.Indicator.Hold <= 0 {
		add("indicator.hold", c.Indicator.Hold, "must be positive")
	}

	if c.Record.Dir == "" {
		add("record.dir", c.Record.Dir, "must not be empty")
	}
	if c.Record.Trial < 0 || c.Record.AnswerHold < 0 {
		add("record.trial", c.Record.Trial, "durations must be non-negative")
	}
	if c.Record.Questions < 0 {
		add("record.questions", c.Record.Questions, "must be non-negative")
	}

	return errs
}
