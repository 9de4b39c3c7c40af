package core

// StepOutput is the hardware abstraction for step/direction lines.
// Implementations can use GPIO, PIO, or a recording fake.
type StepOutput interface {
	// SetStep drives the step line of an axis.
	// Called from the step timer context, must not block
	SetStep(axis uint8, high bool)

	// SetDirection drives the direction line of an axis.
	// true = positive travel; inversion is the implementation's concern
	SetDirection(axis uint8, positive bool)
}

// Pin is a single digital output line
type Pin interface {
	Set(high bool)
}

// MotorPower releases the motor drivers so the axes can be moved by hand
type MotorPower interface {
	DisableAll()
}
