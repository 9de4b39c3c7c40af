// Endstop handling for GPIO-based limit switches
package core

// InputPin is a single digital input line
type InputPin interface {
	Get() bool
}

// Endstop debounces one limit switch. Sample runs in the step timer
// context: the pin is checked every RestTicks, and a match starts
// oversampling every SampleTicks until SampleCount consecutive samples
// agree. A confirmed trigger latches until Reset.
type Endstop struct {
	Pin         InputPin
	Axis        uint8
	ActiveHigh  bool   // pin level when triggered
	SampleTicks uint32 // ticks between oversamples
	SampleCount uint8  // consecutive samples required
	RestTicks   uint32 // ticks between checks while not triggered

	triggerCount uint8
	nextWake     uint64
	triggered    bool
}

// Sample checks the pin if a sample is due and reports whether the
// endstop has triggered
func (es *Endstop) Sample(now uint64) bool {
	if es.triggered || now < es.nextWake {
		return es.triggered
	}

	if es.Pin.Get() != es.ActiveHigh {
		// No match: back to resting checks
		es.triggerCount = 0
		es.nextWake = now + uint64(max(es.RestTicks, 1))
		return false
	}

	if es.triggerCount == 0 {
		es.triggerCount = max(es.SampleCount, 1)
	}
	es.triggerCount--
	if es.triggerCount == 0 {
		es.triggered = true
		return true
	}
	es.nextWake = now + uint64(max(es.SampleTicks, 1))
	return false
}

// Triggered reports whether a trigger has been confirmed since the last Reset
func (es *Endstop) Triggered() bool {
	return es.triggered
}

// Reset re-arms the endstop
func (es *Endstop) Reset() {
	es.triggered = false
	es.triggerCount = 0
	es.nextWake = 0
}
