package core

// PWMMax is the full-scale heater duty value
const PWMMax = 255

// HeaterOutput is the abstract heater power interface.
// Platform-specific implementations handle actual hardware control.
type HeaterOutput interface {
	// SetHeater sets the duty for a heater: 0 (off) to PWMMax (full on)
	SetHeater(heater uint8, duty uint8)
}

// Output combines the capabilities the motion core drives
type Output interface {
	StepOutput
	HeaterOutput
}
