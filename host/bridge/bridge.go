// Package bridge records what the motion core drives onto its outputs as
// a trace stream, so a run can be captured to a file or a serial link and
// checked offline.
package bridge

import (
	"sync"

	"gomotion/core"
	"gomotion/protocol"
	"gomotion/standalone"
)

// maxHeaters bounds the heater ids the recorder tracks
const maxHeaters = 8

// Stats counts recorded events
type Stats struct {
	Steps   [standalone.NumAxes]uint64 // Rising edges per axis
	Dirs    uint64
	Heaters uint64
	Marks   uint64
}

// Recorder implements core.StepOutput and core.HeaterOutput. Each change
// is timestamped with the tick clock and written to a trace stream, then
// passed on to the wrapped outputs if any. Direction and heater events
// are only written when the level changes.
type Recorder struct {
	mu      sync.Mutex
	clock   *core.Clock
	w       *protocol.TraceWriter
	steps   core.StepOutput
	heaters core.HeaterOutput

	step  [standalone.NumAxes]bool
	dir   [standalone.NumAxes]int8 // 0 unknown, 1 positive, -1 negative
	duty  [maxHeaters]int16        // -1 unknown
	stats Stats
	err   error
}

// Option configures a Recorder
type Option func(*Recorder)

// WithSteps passes step and direction changes on to out
func WithSteps(out core.StepOutput) Option {
	return func(r *Recorder) { r.steps = out }
}

// WithHeaters passes heater duties on to out
func WithHeaters(out core.HeaterOutput) Option {
	return func(r *Recorder) { r.heaters = out }
}

// New creates a recorder writing to w
func New(clock *core.Clock, w *protocol.TraceWriter, opts ...Option) *Recorder {
	r := &Recorder{clock: clock, w: w}
	for i := range r.duty {
		r.duty[i] = -1
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetStep records a step line change
func (r *Recorder) SetStep(axis uint8, high bool) {
	if int(axis) < standalone.NumAxes {
		r.mu.Lock()
		if high != r.step[axis] {
			r.step[axis] = high
			if high {
				r.stats.Steps[axis]++
			}
			r.write(protocol.EventStep, axis, boolValue(high))
		}
		r.mu.Unlock()
	}
	if r.steps != nil {
		r.steps.SetStep(axis, high)
	}
}

// SetDirection records a direction change
func (r *Recorder) SetDirection(axis uint8, positive bool) {
	if int(axis) < standalone.NumAxes {
		d := int8(-1)
		if positive {
			d = 1
		}
		r.mu.Lock()
		if r.dir[axis] != d {
			r.dir[axis] = d
			r.stats.Dirs++
			r.write(protocol.EventDir, axis, boolValue(positive))
		}
		r.mu.Unlock()
	}
	if r.steps != nil {
		r.steps.SetDirection(axis, positive)
	}
}

// SetHeater records a heater duty change
func (r *Recorder) SetHeater(heater uint8, duty uint8) {
	if heater < maxHeaters {
		r.mu.Lock()
		if r.duty[heater] != int16(duty) {
			r.duty[heater] = int16(duty)
			r.stats.Heaters++
			r.write(protocol.EventHeater, heater, int32(duty))
		}
		r.mu.Unlock()
	}
	if r.heaters != nil {
		r.heaters.SetHeater(heater, duty)
	}
}

// Mark writes a user event, e.g. the line number of a command
func (r *Recorder) Mark(channel uint8, value int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Marks++
	r.write(protocol.EventMark, channel, value)
}

// write must be called with mu held
func (r *Recorder) write(kind protocol.EventKind, channel uint8, value int32) {
	if r.err != nil {
		return
	}
	r.err = r.w.Write(protocol.Event{Kind: kind, Clock: r.clock.Now(), Channel: channel, Value: value})
}

// Flush writes out the pending frame
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.err = r.w.Flush()
	return r.err
}

// Err returns the first write error. Outputs cannot report errors, so
// recording stops at the first failure while pass-through continues.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Stats returns the event counters
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func boolValue(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
