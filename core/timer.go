package core

import "sync/atomic"

// Timer frequencies
const (
	TimerFreq = 100000 // 100kHz default step tick frequency
)

// Clock is the monotonic tick counter shared by the step timer and the
// main loop. Only the timer context advances it.
type Clock struct {
	ticks atomic.Uint64
	freq  uint32
}

// NewClock creates a clock running at freq ticks per second
func NewClock(freq uint32) *Clock {
	if freq == 0 {
		freq = TimerFreq
	}
	return &Clock{freq: freq}
}

// Advance increments the clock by one tick and returns the new time
func (c *Clock) Advance() uint64 {
	return c.ticks.Add(1)
}

// Skip moves the clock past n ticks that never ran and returns the new time
func (c *Clock) Skip(n uint64) uint64 {
	return c.ticks.Add(n)
}

// Now returns the current time in ticks
func (c *Clock) Now() uint64 {
	return c.ticks.Load()
}

// Set overrides the current time (for testing/hardware integration)
func (c *Clock) Set(ticks uint64) {
	c.ticks.Store(ticks)
}

// Frequency returns the tick frequency in Hz
func (c *Clock) Frequency() uint32 {
	return c.freq
}

// FromMS converts milliseconds to ticks
func (c *Clock) FromMS(ms uint32) uint64 {
	return uint64(ms) * uint64(c.freq) / 1000
}

// FromSeconds converts seconds to ticks
func (c *Clock) FromSeconds(s float32) uint64 {
	if s <= 0 {
		return 0
	}
	return uint64(s * float32(c.freq))
}

// ToMS converts ticks to milliseconds
func (c *Clock) ToMS(ticks uint64) uint64 {
	return ticks * 1000 / uint64(c.freq)
}
