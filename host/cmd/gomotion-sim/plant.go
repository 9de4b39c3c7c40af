package main

import (
	"fmt"
	"sync"

	"gomotion/core"
	"gomotion/standalone"
	"gomotion/standalone/thermistor"
)

// plantStep bounds the integration step in seconds
const plantStep = 0.01

// thermal describes the simulated heater blocks
type thermal struct {
	Ambient  float64 // C
	HeatRate float64 // C/s at full duty, ignoring losses
	CoolRate float64 // Loss per second per degree above ambient
}

type plantHeater struct {
	table   *thermistor.Table
	channel core.ADCChannelID
	temp    float64
	duty    uint8
}

// plant is a first-order thermal model of every configured heater. It is
// both the heater output and the ADC the machine reads its sensors from.
type plant struct {
	mu      sync.Mutex
	clock   *core.Clock
	model   thermal
	heaters []plantHeater
	last    uint64
}

func newPlant(cfg *standalone.MachineConfig, clock *core.Clock, model thermal) (*plant, error) {
	p := &plant{clock: clock, model: model, last: clock.Now()}
	for _, hc := range cfg.Heaters {
		table, err := thermistor.FromConfig(hc)
		if err != nil {
			return nil, fmt.Errorf("heater %s: %w", hc.Name, err)
		}
		p.heaters = append(p.heaters, plantHeater{
			table:   table,
			channel: core.ADCChannelID(hc.Channel),
			temp:    model.Ambient,
		})
	}
	return p, nil
}

// advance integrates the model up to the current clock; mu must be held
func (p *plant) advance() {
	now := p.clock.Now()
	if now <= p.last {
		return
	}
	dt := float64(now-p.last) / float64(p.clock.Frequency())
	p.last = now

	for dt > 0 {
		step := min(dt, plantStep)
		dt -= step
		for i := range p.heaters {
			h := &p.heaters[i]
			power := float64(h.duty) / 255 * p.model.HeatRate
			h.temp += (power - p.model.CoolRate*(h.temp-p.model.Ambient)) * step
		}
	}
}

// SetHeater implements core.HeaterOutput
func (p *plant) SetHeater(heater uint8, duty uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(heater) >= len(p.heaters) {
		return
	}
	p.advance()
	p.heaters[heater].duty = duty
}

// ReadRaw implements core.ADCReader
func (p *plant) ReadRaw(ch core.ADCChannelID) (core.ADCValue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance()
	for i := range p.heaters {
		h := &p.heaters[i]
		if h.channel == ch {
			return core.ADCValue(h.table.ADC(float32(h.temp))), nil
		}
	}
	return 0, fmt.Errorf("no sensor on ADC channel %d", ch)
}

// Temperature returns the modelled temperature of a heater
func (p *plant) Temperature(heater uint8) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(heater) >= len(p.heaters) {
		return 0
	}
	p.advance()
	return p.heaters[heater].temp
}
