package logic

import (
	"testing"
	"time"
)

func TestIndicatorStartsOff(t *testing.T) {
	it := NewIndicatorTimer(2 * time.Second)
	if it.Lamp() != LampNone {
		t.Errorf("expected NONE, got %s", it.Lamp())
	}
	if lamp, changed := it.Update(t0); lamp != LampNone || changed {
		t.Errorf("Update on idle timer: got (%s, %v)", lamp, changed)
	}
}

func TestIndicatorHold(t *testing.T) {
	it := NewIndicatorTimer(2 * time.Second)

	if lamp := it.Show(true, t0); lamp != LampLie {
		t.Fatalf("Show(lie): got %s", lamp)
	}

	if lamp, changed := it.Update(t0.Add(1999 * time.Millisecond)); lamp != LampLie || changed {
		t.Errorf("before hold expires: got (%s, %v)", lamp, changed)
	}
	if lamp, changed := it.Update(t0.Add(2 * time.Second)); lamp != LampNone || !changed {
		t.Errorf("at hold expiry: got (%s, %v)", lamp, changed)
	}
	if _, changed := it.Update(t0.Add(3 * time.Second)); changed {
		t.Error("second Update after expiry should not report a change")
	}
}

func TestIndicatorReplace(t *testing.T) {
	it := NewIndicatorTimer(2 * time.Second)

	it.Show(true, t0)
	if lamp := it.Show(false, t0.Add(time.Second)); lamp != LampTruth {
		t.Fatalf("Show(truth): got %s", lamp)
	}

	// Hold restarts from the second decision.
	if lamp, _ := it.Update(t0.Add(2500 * time.Millisecond)); lamp != LampTruth {
		t.Errorf("expected TRUTH still lit, got %s", lamp)
	}
	if lamp, changed := it.Update(t0.Add(3 * time.Second)); lamp != LampNone || !changed {
		t.Errorf("expected lamps off, got (%s, %v)", lamp, changed)
	}
}
