package protocol

import (
	"errors"
	"fmt"
)

// EventKind identifies a trace record
type EventKind uint8

const (
	EventStep   EventKind = 1 // Channel: axis, Value: 1 rising / 0 falling
	EventDir    EventKind = 2 // Channel: axis, Value: 1 positive / 0 negative
	EventHeater EventKind = 3 // Channel: heater, Value: duty
	EventMark   EventKind = 4 // Channel: user, Value: user
)

func (k EventKind) String() string {
	switch k {
	case EventStep:
		return "step"
	case EventDir:
		return "dir"
	case EventHeater:
		return "heater"
	case EventMark:
		return "mark"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Event is one timestamped output change
type Event struct {
	Kind    EventKind
	Clock   uint64 // Tick clock
	Channel uint8
	Value   int32
}

// EventSizeMax is the largest encoding of a single event
const EventSizeMax = 4 * maxVLQBytes

var errBadEvent = errors.New("malformed trace event")

// EncodeEvent appends one record. The clock is written as a delta to
// prev, or as the low 32 bits of the absolute clock when first is set.
func EncodeEvent(output OutputBuffer, e Event, prev uint64, first bool) {
	EncodeVLQUint(output, uint32(e.Kind))
	if first {
		EncodeVLQUint(output, uint32(e.Clock))
	} else {
		EncodeVLQUint(output, uint32(e.Clock-prev))
	}
	EncodeVLQUint(output, uint32(e.Channel))
	EncodeVLQInt(output, e.Value)
}

// DecodeEvents decodes a frame payload. base is the clock of the last
// event of the previous frame and extends the 32-bit absolute clock of
// the first record; it returns the clock of the last event.
func DecodeEvents(payload []byte, base uint64, fn func(Event)) (uint64, error) {
	clock := base
	first := true
	for len(payload) > 0 {
		kind, err := DecodeVLQUint(&payload)
		if err != nil {
			return clock, err
		}
		delta, err := DecodeVLQUint(&payload)
		if err != nil {
			return clock, err
		}
		channel, err := DecodeVLQUint(&payload)
		if err != nil {
			return clock, err
		}
		value, err := DecodeVLQInt(&payload)
		if err != nil {
			return clock, err
		}
		if kind == 0 || kind > uint32(EventMark) || channel > 0xFF {
			return clock, fmt.Errorf("%w: kind %d channel %d", errBadEvent, kind, channel)
		}

		if first {
			clock = extendClock(base, delta)
			first = false
		} else {
			clock += uint64(delta)
		}
		fn(Event{Kind: EventKind(kind), Clock: clock, Channel: uint8(channel), Value: value})
	}
	return clock, nil
}

// extendClock returns the first clock at or after base whose low 32 bits
// are low
func extendClock(base uint64, low uint32) uint64 {
	c := base&^0xFFFFFFFF | uint64(low)
	if c < base {
		c += 1 << 32
	}
	return c
}
