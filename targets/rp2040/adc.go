//go:build rp2040

package main

import (
	"errors"
	"fmt"
	"machine"
	"strings"

	"gomotion/core"
	"gomotion/standalone"
)

var errNoADCChannel = errors.New("ADC channel not configured")

// adcInput is a thermistor input scaled to its heater's full-scale value
type adcInput struct {
	adc machine.ADC
	max uint32
}

// thermistorADC implements core.ADCReader over the RP2040 ADC inputs.
// Logical channels come from the heater configuration.
type thermistorADC struct {
	inputs map[core.ADCChannelID]*adcInput
}

var _ core.ADCReader = (*thermistorADC)(nil)

func newThermistorADC(cfg *standalone.MachineConfig) (*thermistorADC, error) {
	machine.InitADC()

	d := &thermistorADC{inputs: make(map[core.ADCChannelID]*adcInput)}
	for _, hc := range cfg.Heaters {
		pin, err := adcPin(hc.SensorPin)
		if err != nil {
			return nil, fmt.Errorf("heater %s sensor: %w", hc.Name, err)
		}
		in := &adcInput{adc: machine.ADC{Pin: pin}, max: uint32(hc.ADCMax)}
		if err := in.adc.Configure(machine.ADCConfig{}); err != nil {
			return nil, fmt.Errorf("heater %s sensor: %w", hc.Name, err)
		}
		d.inputs[core.ADCChannelID(hc.Channel)] = in
	}
	return d, nil
}

// adcPin maps "ADC0".."ADC3" or "gpio26".."gpio29" to an analog pin
func adcPin(name string) (machine.Pin, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "ADC0", "GPIO26":
		return machine.ADC0, nil
	case "ADC1", "GPIO27":
		return machine.ADC1, nil
	case "ADC2", "GPIO28":
		return machine.ADC2, nil
	case "ADC3", "GPIO29":
		return machine.ADC3, nil
	}
	return 0, fmt.Errorf("%q is not an analog input", name)
}

// ReadRaw implements core.ADCReader. TinyGo returns 16-bit samples; they
// are scaled to 0..ADCMax of the heater on the channel.
func (d *thermistorADC) ReadRaw(ch core.ADCChannelID) (core.ADCValue, error) {
	in, ok := d.inputs[ch]
	if !ok {
		return 0, errNoADCChannel
	}
	raw := uint32(in.adc.Get())
	return core.ADCValue(raw * (in.max + 1) >> 16), nil
}
