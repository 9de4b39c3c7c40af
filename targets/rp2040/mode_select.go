//go:build rp2040

package main

import (
	"gomotion/core"
	"gomotion/standalone"
)

// StepBackend selects how step pulses reach the drivers
type StepBackend uint8

const (
	// BackendGPIO toggles step lines from the tick; pulse width is one tick
	BackendGPIO StepBackend = iota
	// BackendPIO hands each pulse to a PIO state machine
	BackendPIO
)

func (b StepBackend) String() string {
	if b == BackendPIO {
		return "pio"
	}
	return "gpio"
}

// stepBackend is the backend this firmware is built with
var stepBackend = BackendPIO

// newStepOutput builds the selected step backend
func newStepOutput(cfg *standalone.MachineConfig, backend StepBackend) (core.StepOutput, error) {
	if backend == BackendPIO {
		return newPIOSteps(cfg)
	}
	return gpioSteppers(cfg)
}
