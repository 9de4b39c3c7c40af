package core

import "sync/atomic"

// Halt is the emergency-stop signal shared by the step timer, the
// heater controller and the command layer. Reading it is a single atomic
// load so the step timer can poll it every tick.
type Halt struct {
	active atomic.Bool
	reason atomic.Pointer[string]
	count  atomic.Uint32
}

// Trigger raises the stop signal. The first reason is kept until Reset.
func (h *Halt) Trigger(reason string) {
	if h.active.CompareAndSwap(false, true) {
		h.reason.Store(&reason)
		h.count.Add(1)
	}
}

// Active reports whether the stop signal is raised
func (h *Halt) Active() bool {
	return h.active.Load()
}

// Reason returns the reason passed to the first Trigger
func (h *Halt) Reason() string {
	if r := h.reason.Load(); r != nil {
		return *r
	}
	return ""
}

// Count returns how many times the signal has been raised
func (h *Halt) Count() uint32 {
	return h.count.Load()
}

// Reset clears the stop signal
func (h *Halt) Reset() {
	h.reason.Store(nil)
	h.active.Store(false)
}
