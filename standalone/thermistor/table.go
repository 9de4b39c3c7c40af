// Package thermistor converts ADC readings of a thermistor divider into
// temperatures.
package thermistor

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"

	"gomotion/standalone"
)

const kelvinOffset = 273.15

// Table is a monotonic ADC -> temperature lookup with linear interpolation.
// Readings outside the table clamp to the boundary temperatures.
type Table struct {
	points []standalone.ThermistorPoint
	curve  interp.PiecewiseLinear
}

// NewTable builds a lookup table from entries sorted by strictly increasing ADC
func NewTable(points []standalone.ThermistorPoint) (*Table, error) {
	if len(points) < 2 {
		return nil, errors.New("thermistor table needs at least two entries")
	}
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		if i > 0 && p.ADC <= points[i-1].ADC {
			return nil, fmt.Errorf("thermistor table not increasing at entry %d", i)
		}
		xs[i] = float64(p.ADC)
		ys[i] = float64(p.Temp)
	}

	t := &Table{points: append([]standalone.ThermistorPoint(nil), points...)}
	if err := t.curve.Fit(xs, ys); err != nil {
		return nil, err
	}
	return t, nil
}

// Temperature returns the temperature for a raw ADC reading
func (t *Table) Temperature(adc uint16) float32 {
	first, last := t.points[0], t.points[len(t.points)-1]
	switch {
	case adc <= first.ADC:
		return first.Temp
	case adc >= last.ADC:
		return last.Temp
	}
	return float32(t.curve.Predict(float64(adc)))
}

// ADC returns the raw reading that maps to temp, the inverse of
// Temperature. Temperatures beyond the table give the nearest end.
// Simulated sensors use it to produce readings.
func (t *Table) ADC(temp float32) uint16 {
	for i := 1; i < len(t.points); i++ {
		a, b := t.points[i-1], t.points[i]
		lo, hi := min(a.Temp, b.Temp), max(a.Temp, b.Temp)
		if temp < lo || temp > hi || lo == hi {
			continue
		}
		f := float64(temp-a.Temp) / float64(b.Temp-a.Temp)
		return uint16(math.Round(float64(a.ADC) + f*float64(b.ADC-a.ADC)))
	}
	first, last := t.points[0], t.points[len(t.points)-1]
	if math.Abs(float64(temp-first.Temp)) < math.Abs(float64(temp-last.Temp)) {
		return first.ADC
	}
	return last.ADC
}

// Len returns the number of table entries
func (t *Table) Len() int {
	return len(t.points)
}

// Range returns the ADC span covered by the table
func (t *Table) Range() (lo, hi uint16) {
	return t.points[0].ADC, t.points[len(t.points)-1].ADC
}

// GenerateBeta computes a table for a beta-model thermistor in a divider.
// Entries are spaced evenly over the open ADC range (0, adcMax).
func GenerateBeta(b standalone.BetaThermistor, adcMax uint16) ([]standalone.ThermistorPoint, error) {
	if b.R0 <= 0 || b.Beta <= 0 || b.R2 <= 0 || b.VRef <= 0 || b.VADC <= 0 {
		return nil, errors.New("beta thermistor parameters must be positive")
	}
	if b.Entries < 2 || b.Entries >= int(adcMax) {
		return nil, fmt.Errorf("beta thermistor entries %d outside 2..%d", b.Entries, int(adcMax)-1)
	}

	t0 := float64(b.T0) + kelvinOffset
	points := make([]standalone.ThermistorPoint, 0, b.Entries)
	for i := 0; i < b.Entries; i++ {
		adc := uint16(1 + i*(int(adcMax)-2)/(b.Entries-1))
		v := float64(adc) / float64(adcMax) * float64(b.VADC)
		if v >= float64(b.VRef) {
			break
		}
		r := float64(b.R2) * v / (float64(b.VRef) - v)
		if b.R1 > 0 {
			if r >= float64(b.R1) {
				break
			}
			r = 1 / (1/r - 1/float64(b.R1))
		}
		temp := 1/(1/t0+math.Log(r/float64(b.R0))/float64(b.Beta)) - kelvinOffset
		if len(points) > 0 && adc <= points[len(points)-1].ADC {
			continue
		}
		points = append(points, standalone.ThermistorPoint{ADC: adc, Temp: float32(temp)})
	}
	if len(points) < 2 {
		return nil, errors.New("beta thermistor produced fewer than two entries")
	}
	return points, nil
}

// FromConfig builds the table a heater is configured with
func FromConfig(cfg standalone.HeaterConfig) (*Table, error) {
	if len(cfg.Table) > 0 {
		return NewTable(cfg.Table)
	}
	if cfg.Generic != nil {
		points, err := GenerateBeta(*cfg.Generic, cfg.ADCMax)
		if err != nil {
			return nil, err
		}
		return NewTable(points)
	}
	return nil, errors.New("heater has no thermistor table")
}
