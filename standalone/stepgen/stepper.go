package stepgen

import (
	"fmt"
	"sync/atomic"

	"gomotion/core"
	"gomotion/standalone"
)

// Stepper drives the step, direction and enable lines of one motor
type Stepper struct {
	name   string
	config standalone.AxisConfig

	stepPin core.Pin
	dirPin  core.Pin
	enPin   core.Pin // nil if the driver has no enable line

	enabled atomic.Bool // cleared by the idle timer from the main loop
}

// NewStepper creates a stepper on the given pins
func NewStepper(name string, config standalone.AxisConfig, step, dir, enable core.Pin) (*Stepper, error) {
	if step == nil || dir == nil {
		return nil, fmt.Errorf("stepper %s: step and dir pins are required", name)
	}
	s := &Stepper{
		name:    name,
		config:  config,
		stepPin: step,
		dirPin:  dir,
		enPin:   enable,
	}
	s.stepPin.Set(false)
	s.Disable()
	return s, nil
}

// Name returns the axis name
func (s *Stepper) Name() string {
	return s.name
}

// Enable energizes the motor
func (s *Stepper) Enable() {
	s.enabled.Store(true)
	if s.enPin != nil {
		s.enPin.Set(!s.config.InvertEnable)
	}
}

// Disable releases the motor
func (s *Stepper) Disable() {
	s.enabled.Store(false)
	if s.enPin != nil {
		s.enPin.Set(s.config.InvertEnable)
	}
}

// Enabled reports whether the motor is energized
func (s *Stepper) Enabled() bool {
	return s.enabled.Load()
}

// SetDirection drives the direction line, honouring InvertDir
func (s *Stepper) SetDirection(positive bool) {
	s.dirPin.Set(positive != s.config.InvertDir)
}

// SetStep drives the step line
func (s *Stepper) SetStep(high bool) {
	s.stepPin.Set(high)
}

// Steppers maps axes to motors and implements core.StepOutput.
// Axes without a motor are ignored.
type Steppers [standalone.NumAxes]*Stepper

var (
	_ core.StepOutput = (*Steppers)(nil)
	_ core.MotorPower = (*Steppers)(nil)
)

// SetStep implements core.StepOutput
func (s *Steppers) SetStep(axis uint8, high bool) {
	if int(axis) < len(s) && s[axis] != nil {
		s[axis].SetStep(high)
	}
}

// SetDirection implements core.StepOutput. A motor is enabled the first
// time it is given a direction.
func (s *Steppers) SetDirection(axis uint8, positive bool) {
	if int(axis) < len(s) && s[axis] != nil {
		st := s[axis]
		if !st.enabled.Load() {
			st.Enable()
		}
		st.SetDirection(positive)
	}
}

// DisableAll releases every motor
func (s *Steppers) DisableAll() {
	for _, st := range s {
		if st != nil {
			st.Disable()
		}
	}
}
