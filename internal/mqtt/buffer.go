package mqtt

import "log"

// queuedMsg stores a serialized MQTT message for replay after reconnection.
type queuedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a fixed-capacity FIFO holding messages published while the
// broker is unreachable. When full, the oldest message is dropped.
// Not safe for concurrent use; RealPublisher guards it with its mutex.
type outbox struct {
	msgs    []queuedMsg
	next    int // slot for the next push
	size    int
	dropped int // messages dropped since the last drain
}

func newOutbox(capacity int) *outbox {
	return &outbox{msgs: make([]queuedMsg, capacity)}
}

func (o *outbox) push(msg queuedMsg) {
	capacity := len(o.msgs)
	if o.size == capacity {
		if o.dropped == 0 {
			log.Printf("mqtt: outbox full (%d messages), dropping oldest", capacity)
		}
		o.dropped++
	} else {
		o.size++
	}
	o.msgs[o.next] = msg
	o.next = (o.next + 1) % capacity
}

// drain returns the queued messages oldest first and empties the outbox.
func (o *outbox) drain() []queuedMsg {
	if o.size == 0 {
		return nil
	}

	capacity := len(o.msgs)
	out := make([]queuedMsg, 0, o.size)
	for i := o.next - o.size; i < o.next; i++ {
		out = append(out, o.msgs[(i+capacity)%capacity])
	}
	if o.dropped > 0 {
		log.Printf("mqtt: %d queued messages were dropped while offline", o.dropped)
	}

	o.size, o.next, o.dropped = 0, 0, 0
	return out
}

func (o *outbox) len() int {
	return o.size
}
