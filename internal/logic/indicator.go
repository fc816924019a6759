package logic

import "time"

// IndicatorTimer decides which lamp is lit. A decision lights its lamp for
// the hold duration, after which the lamps return to LampNone. A new decision
// replaces the previous one and restarts the hold.
type IndicatorTimer struct {
	hold  time.Duration
	lamp  Lamp
	until time.Time
}

// NewIndicatorTimer creates a timer with all lamps off.
func NewIndicatorTimer(hold time.Duration) *IndicatorTimer {
	return &IndicatorTimer{hold: hold, lamp: LampNone}
}

// Show lights the lamp for the given outcome starting at now.
func (t *IndicatorTimer) Show(lie bool, now time.Time) Lamp {
	t.lamp = LampTruth
	if lie {
		t.lamp = LampLie
	}
	t.until = now.Add(t.hold)
	return t.lamp
}

// Update returns the lamp that should be lit at now and whether it changed
// since the previous call to Show or Update.
func (t *IndicatorTimer) Update(now time.Time) (Lamp, bool) {
	if t.lamp == LampNone || now.Before(t.until) {
		return t.lamp, false
	}
	t.lamp = LampNone
	return LampNone, true
}

// Lamp returns the currently lit lamp.
func (t *IndicatorTimer) Lamp() Lamp {
	return t.lamp
}
