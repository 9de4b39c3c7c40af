//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"

	"gomotion/core"
)

// RP2040 timer peripheral: a free-running 64-bit microsecond counter
const (
	timerBase     = 0x40054000
	timerTIMERAWH = timerBase + 0x24 // Raw timer high word, no latching
	timerTIMERAWL = timerBase + 0x28 // Raw timer low word, no latching
)

var (
	timerRAWH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWH)))
	timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
)

// hardwareMicros reads the full 64-bit microsecond timer
func hardwareMicros() uint64 {
	// Read high, low, high again to detect a carry between the reads
	for {
		high1 := timerRAWH.Get()
		low := timerRAWL.Get()
		high2 := timerRAWH.Get()
		if high1 == high2 {
			return uint64(high1)<<32 | uint64(low)
		}
	}
}

// maxCatchUp bounds the ticks run back to back after a slow loop pass
const maxCatchUp = 8

func newTickSource(freq uint32) *core.TickPacer {
	return core.NewTickPacer(freq, maxCatchUp, hardwareMicros())
}
