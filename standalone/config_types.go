package standalone

// AxisConfig represents configuration for a single axis
type AxisConfig struct {
	StepPin      string  `json:"step_pin" yaml:"step_pin"`           // GPIO pin for step pulses
	DirPin       string  `json:"dir_pin" yaml:"dir_pin"`             // GPIO pin for direction
	EnablePin    string  `json:"enable_pin" yaml:"enable_pin"`       // GPIO pin for enable (optional)
	StepsPerMM   float32 `json:"steps_per_mm" yaml:"steps_per_mm"`   // Steps per millimeter
	MaxFeedrate  float32 `json:"max_feedrate" yaml:"max_feedrate"`   // Maximum velocity (mm/s)
	MaxAccel     float32 `json:"max_accel" yaml:"max_accel"`         // Maximum acceleration (mm/s^2)
	MinPosition  float32 `json:"min_position" yaml:"min_position"`   // Minimum position (mm)
	MaxPosition  float32 `json:"max_position" yaml:"max_position"`   // Maximum position (mm)
	InvertDir    bool    `json:"invert_dir" yaml:"invert_dir"`       // Invert direction signal
	InvertEnable bool    `json:"invert_enable" yaml:"invert_enable"` // Enable line is active low

	MaxTravelAccel   float32 `json:"max_travel_accel" yaml:"max_travel_accel"`     // Acceleration for moves that do not extrude, 0 = MaxAccel
	MaxStartFeedrate float32 `json:"max_start_feedrate" yaml:"max_start_feedrate"` // E only: fastest start of an extruder-only move, 0 = no cap
	HomingFeedrate   float32 `json:"homing_feedrate" yaml:"homing_feedrate"`       // Speed while seeking the endstop (mm/s)
	EndstopPin       string  `json:"endstop_pin" yaml:"endstop_pin"`               // Min limit switch input (optional)
	EndstopInvert    bool    `json:"endstop_invert" yaml:"endstop_invert"`         // Switch reads low when triggered
}

// HeaterControl selects the regulation strategy of a heater
type HeaterControl string

const (
	ControlPID        HeaterControl = "pid"
	ControlHysteresis HeaterControl = "hysteresis"
)

// ThermistorPoint is one (adc, temperature) table entry
type ThermistorPoint struct {
	ADC  uint16  `json:"adc" yaml:"adc"`
	Temp float32 `json:"temp" yaml:"temp"`
}

// BetaThermistor describes a thermistor by its beta model and divider.
// VREF ---- R2 ---+--- thermistor ---+-- GND, R1 optionally in parallel.
type BetaThermistor struct {
	R0      float32 `json:"r0" yaml:"r0"`           // Reference resistance (ohm)
	T0      float32 `json:"t0" yaml:"t0"`           // Temperature at R0 (C)
	Beta    float32 `json:"beta" yaml:"beta"`       // Beta value
	R1      float32 `json:"r1" yaml:"r1"`           // Parallel resistor, 0 if absent
	R2      float32 `json:"r2" yaml:"r2"`           // Pull-up resistor
	VRef    float32 `json:"vref" yaml:"vref"`       // Divider supply voltage
	VADC    float32 `json:"vadc" yaml:"vadc"`       // ADC reference voltage
	Entries int     `json:"entries" yaml:"entries"` // Generated table size
}

// HeaterConfig represents configuration for a heater
type HeaterConfig struct {
	Name      string        `json:"name" yaml:"name"`
	SensorPin string        `json:"sensor_pin" yaml:"sensor_pin"` // ADC pin for thermistor
	HeaterPin string        `json:"heater_pin" yaml:"heater_pin"` // GPIO/PWM pin for heater
	Channel   uint8         `json:"channel" yaml:"channel"`       // Logical ADC channel
	Control   HeaterControl `json:"control" yaml:"control"`

	PID         [3]float32 `json:"pid" yaml:"pid"`                   // PID gains [Kp, Ki, Kd], duty per degree
	IntegralMax float32    `json:"integral_max" yaml:"integral_max"` // Largest duty the I term may contribute
	MaxOutput   uint8      `json:"max_output" yaml:"max_output"`     // Duty ceiling 0-255

	MinTemp     float32 `json:"min_temp" yaml:"min_temp"`         // Below: sensor fault
	MaxTemp     float32 `json:"max_temp" yaml:"max_temp"`         // Above: runaway fault
	TargetBand  float32 `json:"target_band" yaml:"target_band"`   // |temp-target| within band counts as at target
	WatchPeriod uint32  `json:"watch_period" yaml:"watch_period"` // Watchdog period (ms), 0 disables
	WatchRise   float32 `json:"watch_rise" yaml:"watch_rise"`     // Minimum rise expected within the period

	Oversample uint8             `json:"oversample" yaml:"oversample"` // ADC samples averaged per reading
	ADCMax     uint16            `json:"adc_max" yaml:"adc_max"`       // Full-scale ADC value
	Table      []ThermistorPoint `json:"table" yaml:"table"`           // Explicit table, increasing ADC
	Generic    *BetaThermistor   `json:"generic" yaml:"generic"`       // Generated table if Table is empty
}

// MachineConfig represents the complete machine configuration.
// It is assembled once at startup and never mutated afterwards.
type MachineConfig struct {
	Kinematics string                `json:"kinematics" yaml:"kinematics"` // "cartesian"
	Axes       map[string]AxisConfig `json:"axes" yaml:"axes"`             // "x", "y", "z", "e"
	Heaters    []HeaterConfig        `json:"heaters" yaml:"heaters"`       // index = heater id

	// Global motion parameters
	DefaultFeedrate  float32 `json:"default_feedrate" yaml:"default_feedrate"`     // Feedrate until one is requested (mm/s)
	MinimumSpeed     float32 `json:"minimum_speed" yaml:"minimum_speed"`           // Lowest speed any profile runs at (mm/s)
	JerkLimit        float32 `json:"jerk_limit" yaml:"jerk_limit"`                 // Max junction speed change (mm/s)
	QueueCapacity    int     `json:"queue_capacity" yaml:"queue_capacity"`         // Move queue slots
	TickFrequency    uint32  `json:"tick_frequency" yaml:"tick_frequency"`         // Step timer rate (Hz)
	HalfStepInterval uint32  `json:"half_step_interval" yaml:"half_step_interval"` // Ticks per primary step below which half-stepping kicks in
	AdvanceEnabled   bool    `json:"advance_enabled" yaml:"advance_enabled"`
	AdvanceK         float32 `json:"advance_k" yaml:"advance_k"`               // Extruder lead per unit extrusion rate (s)
	TempPeriod       uint32  `json:"temp_period" yaml:"temp_period"`           // Heater control period (ms)
	EnforceLimits    bool    `json:"enforce_limits" yaml:"enforce_limits"`     // Reject targets outside axis limits

	// Limit switches
	EndstopSamples     uint8  `json:"endstop_samples" yaml:"endstop_samples"`           // Consecutive samples that confirm a trigger
	EndstopSampleTicks uint32 `json:"endstop_sample_ticks" yaml:"endstop_sample_ticks"` // Ticks between samples

	// Idle handling (s, 0 disables)
	StepperInactiveTime uint32 `json:"stepper_inactive_time" yaml:"stepper_inactive_time"` // Release the motors after this long without motion
	MaxInactiveTime     uint32 `json:"max_inactive_time" yaml:"max_inactive_time"`         // Also switch every heater off
}

// Axis returns the configuration of an axis by index
func (c *MachineConfig) Axis(a Axis) (AxisConfig, bool) {
	ac, ok := c.Axes[a.String()]
	return ac, ok
}
