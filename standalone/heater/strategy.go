package heater

import (
	"fmt"

	"gomotion/standalone"
)

// strategy computes a heater duty from the current state. dt is the time
// since the previous control step in seconds, 0 on the first step.
type strategy interface {
	output(st *standalone.HeaterState, dt float32) uint8
	reset(st *standalone.HeaterState)
}

func newStrategy(cfg standalone.HeaterConfig) (strategy, error) {
	switch cfg.Control {
	case standalone.ControlHysteresis:
		return &hysteresis{maxOutput: cfg.MaxOutput}, nil
	case standalone.ControlPID:
		return &pid{
			kp:          cfg.PID[0],
			ki:          cfg.PID[1],
			kd:          cfg.PID[2],
			integralMax: cfg.IntegralMax,
			maxOutput:   cfg.MaxOutput,
		}, nil
	default:
		return nil, fmt.Errorf("unknown control %q", cfg.Control)
	}
}

// hysteresis is full on below target and off at or above it
type hysteresis struct {
	maxOutput uint8
}

func (h *hysteresis) output(st *standalone.HeaterState, dt float32) uint8 {
	if st.CurrentTemp < st.TargetTemp {
		return h.maxOutput
	}
	return 0
}

func (h *hysteresis) reset(st *standalone.HeaterState) {}

// pid keeps its integral term in duty units so the clamp is directly the
// largest share of output the integral may drive.
type pid struct {
	kp, ki, kd  float32
	integralMax float32
	maxOutput   uint8

	primed bool
}

func (p *pid) output(st *standalone.HeaterState, dt float32) uint8 {
	err := st.TargetTemp - st.CurrentTemp

	var deriv float32
	if p.primed && dt > 0 {
		st.PIDIntegral = clamp(st.PIDIntegral+p.ki*err*dt, 0, p.integralMax)
		deriv = (err - st.PIDLastError) / dt
	}
	st.PIDLastError = err
	p.primed = true

	co := p.kp*err + st.PIDIntegral + p.kd*deriv
	return uint8(clamp(co, 0, float32(p.maxOutput)))
}

func (p *pid) reset(st *standalone.HeaterState) {
	st.PIDIntegral = 0
	st.PIDLastError = 0
	p.primed = false
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// GainsFromHundredths converts PID gains stored in 0.01 units, as older
// firmware EEPROM layouts keep them, to the floating gains used here.
func GainsFromHundredths(p, i, d int32) [3]float32 {
	return [3]float32{float32(p) / 100, float32(i) / 100, float32(d) / 100}
}
