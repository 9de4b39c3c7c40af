//go:build rp2040

package main

import (
	"fmt"
	"machine"

	"gomotion/core"
	"gomotion/standalone"
)

// heaterPWMPeriod is the PWM period of heater outputs in nanoseconds (100 Hz)
const heaterPWMPeriod = 10_000_000

// pwmPeripheral abstracts over TinyGo's unexported *pwmGroup type
type pwmPeripheral interface {
	Configure(config machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	Top() uint32
	Set(channel uint8, value uint32)
}

// heaterChannel is one heater on a PWM slice channel
type heaterChannel struct {
	pwm     pwmPeripheral
	channel uint8
}

// heaterPWM implements core.HeaterOutput on the RP2040 PWM slices. Heater
// ids index cfg.Heaters.
type heaterPWM struct {
	heaters []*heaterChannel
	// Configured slices; both channels of a slice share one period
	slices map[uint8]pwmPeripheral
}

var _ core.HeaterOutput = (*heaterPWM)(nil)

func newHeaterPWM(cfg *standalone.MachineConfig) (*heaterPWM, error) {
	h := &heaterPWM{
		heaters: make([]*heaterChannel, len(cfg.Heaters)),
		slices:  make(map[uint8]pwmPeripheral),
	}
	for i, hc := range cfg.Heaters {
		if hc.HeaterPin == "" {
			continue
		}
		n, err := core.ParsePin(hc.HeaterPin)
		if err != nil {
			return nil, fmt.Errorf("heater %s pin: %w", hc.Name, err)
		}
		ch, err := h.configure(machine.Pin(n))
		if err != nil {
			return nil, fmt.Errorf("heater %s: %w", hc.Name, err)
		}
		h.heaters[i] = ch
	}
	return h, nil
}

func (h *heaterPWM) configure(pin machine.Pin) (*heaterChannel, error) {
	// GPIO N is on slice (N/2)%8, channel A for even pins and B for odd
	slice := uint8(pin>>1) & 0x7
	pwm, ok := h.slices[slice]
	if !ok {
		pwm = getPWMPeripheral(slice)
		if err := pwm.Configure(machine.PWMConfig{Period: heaterPWMPeriod}); err != nil {
			return nil, err
		}
		h.slices[slice] = pwm
	}
	channel, err := pwm.Channel(pin)
	if err != nil {
		return nil, err
	}
	pwm.Set(channel, 0)
	return &heaterChannel{pwm: pwm, channel: channel}, nil
}

// SetHeater implements core.HeaterOutput
func (h *heaterPWM) SetHeater(id uint8, duty uint8) {
	if int(id) >= len(h.heaters) || h.heaters[id] == nil {
		return
	}
	ch := h.heaters[id]
	ch.pwm.Set(ch.channel, uint32(duty)*ch.pwm.Top()/core.PWMMax)
}

// getPWMPeripheral returns the PWM peripheral for a slice number
func getPWMPeripheral(slice uint8) pwmPeripheral {
	switch slice {
	case 0:
		return machine.PWM0
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	default:
		return machine.PWM7
	}
}
