//go:build rp2040

package main

import (
	"fmt"
	"machine"

	"gomotion/core"
	"gomotion/standalone"
	"gomotion/standalone/stepgen"
)

// gpioPin is a core.Pin or core.InputPin on an RP2040 GPIO
type gpioPin machine.Pin

func (p gpioPin) Set(high bool) {
	machine.Pin(p).Set(high)
}

func (p gpioPin) Get() bool {
	return machine.Pin(p).Get()
}

// outputPin configures a named pin as an output. An empty name means the
// line is not wired.
func outputPin(name string) (core.Pin, error) {
	if name == "" {
		return nil, nil
	}
	n, err := core.ParsePin(name)
	if err != nil {
		return nil, fmt.Errorf("pin %q: %w", name, err)
	}
	pin := machine.Pin(n)
	pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pin.Low()
	return gpioPin(pin), nil
}

// gpioSteppers drives every configured axis by toggling GPIOs from the
// step tick
func gpioSteppers(cfg *standalone.MachineConfig) (*stepgen.Steppers, error) {
	var steppers stepgen.Steppers
	for a := standalone.Axis(0); a < standalone.NumAxes; a++ {
		ac, ok := cfg.Axis(a)
		if !ok {
			continue
		}
		step, err := outputPin(ac.StepPin)
		if err != nil {
			return nil, err
		}
		dir, err := outputPin(ac.DirPin)
		if err != nil {
			return nil, err
		}
		enable, err := outputPin(ac.EnablePin)
		if err != nil {
			return nil, err
		}
		steppers[a], err = stepgen.NewStepper(a.String(), ac, step, dir, enable)
		if err != nil {
			return nil, err
		}
	}
	return &steppers, nil
}

// inputPin configures a named pin as a pulled-up input for a limit switch.
// An empty name means there is no switch.
func inputPin(name string) (core.InputPin, error) {
	if name == "" {
		return nil, nil
	}
	n, err := core.ParsePin(name)
	if err != nil {
		return nil, fmt.Errorf("pin %q: %w", name, err)
	}
	pin := machine.Pin(n)
	pin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	return gpioPin(pin), nil
}

// endstopInputs configures the min limit switch of every axis that has one
func endstopInputs(cfg *standalone.MachineConfig) ([standalone.NumAxes]core.InputPin, error) {
	var pins [standalone.NumAxes]core.InputPin
	for a := standalone.Axis(0); a < standalone.NumAxes; a++ {
		ac, ok := cfg.Axis(a)
		if !ok {
			continue
		}
		pin, err := inputPin(ac.EndstopPin)
		if err != nil {
			return pins, fmt.Errorf("axis %s endstop: %w", a, err)
		}
		pins[a] = pin
	}
	return pins, nil
}
