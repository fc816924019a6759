// Package config loads daemon configuration from file, environment and flags.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/sweeney/physio-sensor/internal/gpio"
	"github.com/sweeney/physio-sensor/internal/session"
)

// EnvPrefix prefixes environment overrides, e.g. PHYSIO_DEVICE_ADDRESS.
const EnvPrefix = "PHYSIO"

// Device kinds.
const (
	KindBitalino = "bitalino"
	KindSynth    = "synth"
)

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete daemon configuration.
type Config struct {
	Device      DeviceConfig      `mapstructure:"device"`
	Acquisition AcquisitionConfig `mapstructure:"acquisition"`
	Model       ModelConfig       `mapstructure:"model"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	GPIO        GPIOConfig        `mapstructure:"gpio"`
	Indicator   IndicatorConfig   `mapstructure:"indicator"`
	Record      RecordConfig      `mapstructure:"record"`
}

// DeviceConfig selects and configures the acquisition board.
type DeviceConfig struct {
	// Address is a Bluetooth MAC address or a serial device path.
	Address string `mapstructure:"address"`
	// Kind is "bitalino" for real hardware or "synth" for generated signals.
	Kind         string `mapstructure:"kind"`
	SamplingRate int    `mapstructure:"sampling_rate"`
	// BlockLength is rows per read; 0 means one second of samples.
	BlockLength int `mapstructure:"block_length"`
}

// AcquisitionConfig sizes the history buffers and the decision window.
type AcquisitionConfig struct {
	HistorySeconds int `mapstructure:"history_seconds"`
	WindowSeconds  int `mapstructure:"window_seconds"`
}

// ModelConfig locates the classifier.
type ModelConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// MQTTConfig configures event publishing. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker    string        `mapstructure:"broker"`
	ClientID  string        `mapstructure:"client_id"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

// HTTPConfig configures the status server. An empty address disables it.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// GPIOConfig configures the detect button and lamps.
type GPIOConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Chip      string        `mapstructure:"chip"`
	PinButton int           `mapstructure:"pin_button"`
	PinTruth  int           `mapstructure:"pin_truth"`
	PinLie    int           `mapstructure:"pin_lie"`
	Poll      time.Duration `mapstructure:"poll"`
	Debounce  time.Duration `mapstructure:"debounce"`
}

// IndicatorConfig controls how long a decision lamp stays lit.
type IndicatorConfig struct {
	Hold time.Duration `mapstructure:"hold"`
}

// RecordConfig drives the labelled recording protocol.
type RecordConfig struct {
	Dir        string        `mapstructure:"dir"`
	Trial      time.Duration `mapstructure:"trial"`
	AnswerHold time.Duration `mapstructure:"answer_hold"`
	Questions  int           `mapstructure:"questions"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Kind:         KindBitalino,
			SamplingRate: 1000,
		},
		Acquisition: AcquisitionConfig{
			HistorySeconds: session.DefaultHistorySeconds,
			WindowSeconds:  session.DefaultWindowSeconds,
		},
		Model: ModelConfig{
			Watch: true,
		},
		MQTT: MQTTConfig{
			ClientID:  "physio-sensor",
			Heartbeat: 15 * time.Minute,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		GPIO: GPIOConfig{
			Chip:      gpio.DefaultChip,
			PinButton: gpio.PinButton,
			PinTruth:  gpio.PinTruth,
			PinLie:    gpio.PinLie,
			Poll:      20 * time.Millisecond,
			Debounce:  50 * time.Millisecond,
		},
		Indicator: IndicatorConfig{
			Hold: 2 * time.Second,
		},
		Record: RecordConfig{
			Dir:        "recordings",
			Trial:      30 * time.Second,
			AnswerHold: 20 * time.Second,
			Questions:  20,
		},
	}
}

// SetDefaults registers every key with its default so that environment
// overrides are seen by Unmarshal even without a config file.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("device.address", d.Device.Address)
	v.SetDefault("device.kind", d.Device.Kind)
	v.SetDefault("device.sampling_rate", d.Device.SamplingRate)
	v.SetDefault("device.block_length", d.Device.BlockLength)

	v.SetDefault("acquisition.history_seconds", d.Acquisition.HistorySeconds)
	v.SetDefault("acquisition.window_seconds", d.Acquisition.WindowSeconds)

	v.SetDefault("model.path", d.Model.Path)
	v.SetDefault("model.watch", d.Model.Watch)

	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.heartbeat", d.MQTT.Heartbeat)

	v.SetDefault("http.addr", d.HTTP.Addr)

	v.SetDefault("gpio.enabled", d.GPIO.Enabled)
	v.SetDefault("gpio.chip", d.GPIO.Chip)
	v.SetDefault("gpio.pin_button", d.GPIO.PinButton)
	v.SetDefault("gpio.pin_truth", d.GPIO.PinTruth)
	v.SetDefault("gpio.pin_lie", d.GPIO.PinLie)
	v.SetDefault("gpio.poll", d.GPIO.Poll)
	v.SetDefault("gpio.debounce", d.GPIO.Debounce)

	v.SetDefault("indicator.hold", d.Indicator.Hold)

	v.SetDefault("record.dir", d.Record.Dir)
	v.SetDefault("record.trial", d.Record.Trial)
	v.SetDefault("record.answer_hold", d.Record.AnswerHold)
	v.SetDefault("record.questions", d.Record.Questions)
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, ValidationErrors(errs))
	}

	return &cfg, nil
}

// Session returns the acquisition settings for a session.
func (c *Config) Session() session.Config {
	addr := c.Device.Address
	if addr == "" && c.Device.Kind == KindSynth {
		addr = KindSynth
	}
	return session.Config{
		Address:        addr,
		SamplingRate:   c.Device.SamplingRate,
		BlockLength:    c.Device.BlockLength,
		HistorySeconds: c.Acquisition.HistorySeconds,
		WindowSeconds:  c.Acquisition.WindowSeconds,
	}
}
