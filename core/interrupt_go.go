//go:build !tinygo

package core

import "sync"

// State is a placeholder for interrupt state on regular Go
type State uintptr

// On the host build the step timer runs in its own goroutine, so a global
// mutex stands in for masking interrupts. Not reentrant: never nest.
var interruptLock sync.Mutex

// DisableInterrupts enters a critical section against the step timer
func DisableInterrupts() State {
	interruptLock.Lock()
	return 0
}

// RestoreInterrupts leaves the critical section
func RestoreInterrupts(state State) {
	interruptLock.Unlock()
}
