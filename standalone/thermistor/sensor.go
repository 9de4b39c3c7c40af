package thermistor

import (
	"tinygo.org/x/drivers"

	"gomotion/core"
)

// Sensor is a thermistor on an ADC channel. It follows the
// tinygo.org/x/drivers sensor convention: Update samples the hardware,
// Temperature returns the cached value in milli-degrees Celsius.
type Sensor struct {
	adc        core.ADCReader
	channel    core.ADCChannelID
	table      *Table
	oversample uint8

	raw  uint16
	temp int32
}

var _ drivers.Sensor = (*Sensor)(nil)

// NewSensor creates a sensor averaging oversample readings per update
func NewSensor(adc core.ADCReader, channel core.ADCChannelID, table *Table, oversample uint8) *Sensor {
	if oversample == 0 {
		oversample = 1
	}
	return &Sensor{
		adc:        adc,
		channel:    channel,
		table:      table,
		oversample: oversample,
	}
}

// Update samples the channel when a temperature measurement is requested
func (s *Sensor) Update(which drivers.Measurement) error {
	if which&drivers.Temperature == 0 {
		return nil
	}

	var sum uint32
	for i := uint8(0); i < s.oversample; i++ {
		v, err := s.adc.ReadRaw(s.channel)
		if err != nil {
			return err
		}
		sum += uint32(v)
	}
	s.raw = uint16((sum + uint32(s.oversample)/2) / uint32(s.oversample))
	s.temp = int32(s.table.Temperature(s.raw) * 1000)
	return nil
}

// Temperature returns the last measured temperature in milli-degrees Celsius
func (s *Sensor) Temperature() int32 {
	return s.temp
}

// Raw returns the last averaged ADC reading
func (s *Sensor) Raw() uint16 {
	return s.raw
}
