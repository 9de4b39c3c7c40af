package kinematics

import (
	"fmt"
	"math"

	"gomotion/standalone"
)

// Cartesian implements basic Cartesian kinematics (XYZE 1:1 mapping)
type Cartesian struct {
	stepsPerMM standalone.AxisVector
	limits     [standalone.NumAxes]AxisLimits
}

// NewCartesian creates a new Cartesian kinematics instance
func NewCartesian(config *standalone.MachineConfig) (*Cartesian, error) {
	k := &Cartesian{}
	for i := standalone.Axis(0); i < standalone.NumAxes; i++ {
		axis, ok := config.Axis(i)
		if !ok {
			return nil, fmt.Errorf("%s axis not configured", i)
		}
		if axis.StepsPerMM <= 0 {
			return nil, fmt.Errorf("%s axis: steps_per_mm must be positive", i)
		}
		k.stepsPerMM[i] = axis.StepsPerMM
		k.limits[i] = AxisLimits{Min: axis.MinPosition, Max: axis.MaxPosition}
	}
	return k, nil
}

// StepPosition converts XYZE coordinates to absolute step positions,
// rounding to the nearest step so fractional remainders never accumulate
func (k *Cartesian) StepPosition(pos standalone.AxisVector) standalone.StepVector {
	var steps standalone.StepVector
	for i, v := range pos {
		steps[i] = int32(math.Round(float64(v) * float64(k.stepsPerMM[i])))
	}
	return steps
}

// StepsPerMM returns the per-axis conversion factors
func (k *Cartesian) StepsPerMM() standalone.AxisVector {
	return k.stepsPerMM
}

// AxisNames returns the axis names for Cartesian kinematics
func (k *Cartesian) AxisNames() []string {
	names := standalone.AxisNames()
	return names[:]
}

// CheckLimits validates that X, Y and Z are within configured limits.
// The extruder is unbounded.
func (k *Cartesian) CheckLimits(pos standalone.AxisVector) error {
	for i := standalone.AxisX; i <= standalone.AxisZ; i++ {
		lim := k.limits[i]
		if pos[i] < lim.Min || pos[i] > lim.Max {
			return fmt.Errorf("%w: %s=%.3f not in [%.3f, %.3f]",
				standalone.ErrOutOfBounds, i, pos[i], lim.Min, lim.Max)
		}
	}
	return nil
}
