package kinematics

import "gomotion/standalone"

// Kinematics defines the interface for coordinate transformations
type Kinematics interface {
	// StepPosition converts a physical position to absolute stepper positions
	StepPosition(pos standalone.AxisVector) standalone.StepVector

	// StepsPerMM returns the conversion factor of each stepper
	StepsPerMM() standalone.AxisVector

	// AxisNames returns the names of axes controlled by this kinematics
	AxisNames() []string

	// CheckLimits validates that a position is within configured limits
	CheckLimits(pos standalone.AxisVector) error
}

// AxisLimits represents position limits for an axis
type AxisLimits struct {
	Min float32
	Max float32
}

// New builds the kinematics named in the configuration
func New(config *standalone.MachineConfig) (Kinematics, error) {
	switch config.Kinematics {
	case "", "cartesian":
		return NewCartesian(config)
	default:
		return nil, &UnsupportedError{Name: config.Kinematics}
	}
}

// UnsupportedError reports a kinematics type this build does not implement
type UnsupportedError struct {
	Name string
}

func (e *UnsupportedError) Error() string {
	return "unsupported kinematics: " + e.Name
}
