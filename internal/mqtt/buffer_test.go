package mqtt

import (
	"testing"
)

func TestOutboxEmptyDrain(t *testing.T) {
	o := newOutbox(10)
	if got := o.drain(); got != nil {
		t.Errorf("expected nil from empty drain, got %d items", len(got))
	}
}

func TestOutboxPushAndDrain(t *testing.T) {
	o := newOutbox(10)
	for i := 0; i < 5; i++ {
		o.push(queuedMsg{topic: "t", payload: []byte{byte(i)}})
	}

	got := o.drain()
	if len(got) != 5 {
		t.Fatalf("expected 5 items, got %d", len(got))
	}
	for i := 0; i < 5; i++ {
		if got[i].payload[0] != byte(i) {
			t.Errorf("item %d: expected payload %d, got %d", i, i, got[i].payload[0])
		}
	}

	if got := o.drain(); got != nil {
		t.Errorf("expected nil from second drain, got %d items", len(got))
	}
}

func TestOutboxOverflowDropsOldest(t *testing.T) {
	o := newOutbox(4)
	for i := 0; i < 7; i++ {
		o.push(queuedMsg{payload: []byte{byte(i)}})
	}
	if o.len() != 4 {
		t.Fatalf("expected len 4, got %d", o.len())
	}
	if o.dropped != 3 {
		t.Errorf("expected 3 dropped, got %d", o.dropped)
	}

	got := o.drain()
	for i, m := range got {
		if want := byte(3 + i); m.payload[0] != want {
			t.Errorf("item %d: expected payload %d, got %d", i, want, m.payload[0])
		}
	}
	if o.dropped != 0 {
		t.Error("drain should reset the drop counter")
	}
}

func TestOutboxReusableAfterDrain(t *testing.T) {
	o := newOutbox(3)
	for cycle := 0; cycle < 3; cycle++ {
		for i := 0; i < 2; i++ {
			o.push(queuedMsg{payload: []byte{byte(cycle*10 + i)}})
		}
		got := o.drain()
		if len(got) != 2 {
			t.Fatalf("cycle %d: expected 2 items, got %d", cycle, len(got))
		}
		if got[0].payload[0] != byte(cycle*10) || got[1].payload[0] != byte(cycle*10+1) {
			t.Errorf("cycle %d: wrong order: %v %v", cycle, got[0].payload, got[1].payload)
		}
	}
}

func TestOutboxPreservesFields(t *testing.T) {
	o := newOutbox(2)
	o.push(queuedMsg{topic: TopicSystem, payload: []byte("x"), qos: 1, retained: true})

	got := o.drain()
	if len(got) != 1 {
		t.Fatalf("expected 1 item, got %d", len(got))
	}
	m := got[0]
	if m.topic != TopicSystem || string(m.payload) != "x" || m.qos != 1 || !m.retained {
		t.Errorf("fields not preserved: %+v", m)
	}
}
