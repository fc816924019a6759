// Package channel defines the fixed set of physiological channels and their
// unit conversions. Channel values index fixed-size arrays so that every
// per-channel table is checked for size at compile time.
package channel

// Channel identifies one physiological signal stream.
type Channel int

const (
	Respiration Channel = iota
	ECG
	EDA

	// Count is the number of channels. Use it to size per-channel arrays.
	Count = 3
)

// All lists the channels in device column order.
var All = [Count]Channel{Respiration, ECG, EDA}

var names = [Count]string{"Respiration", "ECG", "EDA"}

// Units are the physical dimensions after conversion.
var units = [Count]string{"raw", "raw", "uS"}

// EDA transfer function constants (10-bit ADC, 3.3 V supply, 0.12 gain).
const (
	adcResolution = 1 << 10
	vcc           = 3.3
	edaGain       = 0.12
)

// RawMax is the largest value a 10-bit analog channel can report.
const RawMax = adcResolution - 1

func (c Channel) String() string {
	if !c.Valid() {
		return "Unknown"
	}
	return names[c]
}

// Unit returns the physical dimension of converted samples.
func (c Channel) Unit() string {
	if !c.Valid() {
		return ""
	}
	return units[c]
}

// Valid reports whether c is one of the enumerated channels.
func (c Channel) Valid() bool {
	return c >= 0 && c < Count
}

// Convert maps a raw ADC reading to the channel's physical value.
// Respiration and ECG are passed through unchanged.
func (c Channel) Convert(raw int) float64 {
	switch c {
	case EDA:
		return (float64(raw) / adcResolution) * vcc / edaGain
	default:
		return float64(raw)
	}
}

// ConvertAll converts a column of raw readings.
func (c Channel) ConvertAll(raw []int) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = c.Convert(v)
	}
	return out
}

// Range returns the physical minimum and maximum the channel can report.
func (c Channel) Range() (float64, float64) {
	return c.Convert(0), c.Convert(RawMax)
}
