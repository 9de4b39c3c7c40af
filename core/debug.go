package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TimingEvent captures a timing-critical event for post-mortem analysis
type TimingEvent struct {
	EventType uint8  // Event type code
	Slot      uint8  // Queue slot or heater id
	Clock     uint64 // Tick clock at event
	Value1    int64  // Context-dependent value
	Value2    int64  // Context-dependent value
}

// Event type codes
const (
	EvtSegmentLoad   = 1 // Segment loaded from the queue head
	EvtSegmentRetire = 2 // Segment retired
	EvtHalfStep      = 3 // Segment runs with half-step smoothing
	EvtEmergencyStop = 4 // Emergency stop honoured by the step timer
	EvtHeaterFault   = 5 // Heater entered a fault state
	EvtWatchdog      = 6 // Heater watchdog expired
	EvtLimit         = 7 // Limit switch stopped a segment
)

const (
	TimingRingSize = 32 // Keep last 32 events for post-mortem
)

// debugPrintln is the platform debug output; a no-op until set
var debugPrintln DebugWriter = func(string) {}

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	if writer == nil {
		writer = func(string) {}
	}
	debugPrintln = writer
}

// TimingRing keeps the most recent timing events. Record is safe to call
// from the step timer; Snapshot and Dump must run with the timer quiesced
// or inside a critical section.
type TimingRing struct {
	events [TimingRingSize]TimingEvent
	head   uint8
}

// Record captures a timing event in the ring buffer
// This is always non-blocking and allocation-free
func (r *TimingRing) Record(eventType, slot uint8, clock uint64, value1, value2 int64) {
	idx := r.head
	r.events[idx] = TimingEvent{
		EventType: eventType,
		Slot:      slot,
		Clock:     clock,
		Value1:    value1,
		Value2:    value2,
	}
	r.head = (idx + 1) % TimingRingSize
}

// Snapshot returns the recorded events, oldest first
func (r *TimingRing) Snapshot() []TimingEvent {
	out := make([]TimingEvent, 0, TimingRingSize)
	start := r.head
	for i := uint8(0); i < TimingRingSize; i++ {
		evt := r.events[(start+i)%TimingRingSize]
		if evt.EventType == 0 {
			continue // Empty slot
		}
		out = append(out, evt)
	}
	return out
}

// Clear clears the timing buffer
func (r *TimingRing) Clear() {
	for i := range r.events {
		r.events[i] = TimingEvent{}
	}
	r.head = 0
}

// EventName returns a printable name for an event type
func EventName(eventType uint8) string {
	switch eventType {
	case EvtSegmentLoad:
		return "SEGMENT_LOAD"
	case EvtSegmentRetire:
		return "SEGMENT_RETIRE"
	case EvtHalfStep:
		return "HALF_STEP"
	case EvtEmergencyStop:
		return "ESTOP"
	case EvtHeaterFault:
		return "HEATER_FAULT"
	case EvtWatchdog:
		return "WATCHDOG"
	case EvtLimit:
		return "LIMIT"
	default:
		return "UNKNOWN"
	}
}

// Dump outputs the timing ring through the debug writer (call on shutdown/error)
func (r *TimingRing) Dump() {
	debugPrintln("[TIMING] === Timing Ring Dump ===")
	for _, evt := range r.Snapshot() {
		debugPrintln("[TIMING] " + EventName(evt.EventType) +
			" slot=" + utoa(uint64(evt.Slot)) +
			" clock=" + utoa(evt.Clock) +
			" v1=" + itoa(evt.Value1) +
			" v2=" + itoa(evt.Value2))
	}
	debugPrintln("[TIMING] === End Dump ===")
}
