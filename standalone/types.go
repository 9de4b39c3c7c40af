package standalone

import "errors"

// Axis indexes the fixed X, Y, Z, E axis order used by every component
type Axis uint8

const (
	AxisX Axis = iota
	AxisY
	AxisZ
	AxisE

	NumAxes = 4
)

var axisNames = [NumAxes]string{"x", "y", "z", "e"}

// String returns the lower-case axis name used in configuration files
func (a Axis) String() string {
	if int(a) < NumAxes {
		return axisNames[a]
	}
	return "?"
}

// AxisNames returns the configuration names in axis order
func AxisNames() [NumAxes]string {
	return axisNames
}

// AxisVector holds a per-axis physical quantity (mm, mm/s, mm/s^2)
type AxisVector [NumAxes]float32

// StepVector holds a signed per-axis step count
type StepVector [NumAxes]int32

// MaxAbs returns the largest absolute step count and the axis holding it.
// Ties resolve to the lowest axis index.
func (s StepVector) MaxAbs() (uint32, Axis) {
	var best uint32
	var axis Axis
	for i, v := range s {
		a := abs32(v)
		if a > best {
			best = a
			axis = Axis(i)
		}
	}
	return best, axis
}

// IsZero returns true if no axis moves
func (s StepVector) IsZero() bool {
	return s == StepVector{}
}

func abs32(v int32) uint32 {
	if v < 0 {
		return uint32(-int64(v))
	}
	return uint32(v)
}

// MoveRequest is one Cartesian move handed over by the command layer
type MoveRequest struct {
	Target   AxisVector   // Absolute target position (mm)
	Feedrate *float32     // Requested feedrate (mm/s); nil keeps the previous one
	Flags    SegmentFlags // Homing/dry-run markers carried into the segment
}

// Feed is a helper for building a MoveRequest feedrate
func Feed(f float32) *float32 {
	return &f
}

// SegmentFlags is a bit set of per-segment markers
type SegmentFlags uint8

const (
	FlagBlockedByLimit SegmentFlags = 1 << iota // Motion halted by a limit switch
	FlagHoming                                  // Homing move: soft limits not enforced
	FlagDryRun                                  // Plan and time the move but emit no pulses
)

// Has reports whether all bits in f are set
func (s SegmentFlags) Has(f SegmentFlags) bool {
	return s&f == f
}

// Segment is one planned linear move living in a move queue slot
type Segment struct {
	Steps       StepVector // Signed step count per axis
	PrimaryAxis Axis       // Axis with the largest step count
	StepCount   uint32     // max(|Steps|)

	EntrySpeed   float32 // mm/s
	ExitSpeed    float32 // mm/s
	NominalSpeed float32 // mm/s
	PeakSpeed    float32 // Highest speed reached by the profile (mm/s)

	AccelSteps   uint32
	PlateauSteps uint32
	DecelSteps   uint32

	// Extruder lead (E steps) at nominal speed; 0 when advance is off
	AdvanceTarget float32

	Flags SegmentFlags

	// Planner bookkeeping
	Distance      float32    // Path length (mm)
	Accel         float32    // Path acceleration limit (mm/s^2)
	MaxEntrySpeed float32    // Junction limit with the previous segment
	Unit          AxisVector // Direction unit vector
	StepsPerMM    float32    // Primary axis steps per path mm
}

// HeaterMode is the per-heater control state
type HeaterMode uint8

const (
	HeaterOff HeaterMode = iota
	HeaterHeating
	HeaterAtTarget
	HeaterFault
)

func (m HeaterMode) String() string {
	switch m {
	case HeaterOff:
		return "off"
	case HeaterHeating:
		return "heating"
	case HeaterAtTarget:
		return "at_target"
	case HeaterFault:
		return "fault"
	default:
		return "unknown"
	}
}

// FaultKind describes why a heater stopped
type FaultKind uint8

const (
	FaultNone     FaultKind = iota
	FaultSensor             // Reading below the minimum: open or disconnected sensor
	FaultRunaway            // Reading above the maximum
	FaultWatchdog           // Temperature did not rise within the watch period
)

func (f FaultKind) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultSensor:
		return "sensor"
	case FaultRunaway:
		return "runaway"
	case FaultWatchdog:
		return "watchdog"
	default:
		return "unknown"
	}
}

// Sticky reports whether the fault latches until an explicit reset
func (f FaultKind) Sticky() bool {
	return f == FaultSensor || f == FaultRunaway
}

// HeaterState is a snapshot of one heater's regulation state
type HeaterState struct {
	CurrentTemp  float32
	TargetTemp   float32
	PIDIntegral  float32
	PIDLastError float32
	Output       uint8 // Duty 0-255
	Fault        FaultKind
	Mode         HeaterMode
}

// Errors surfaced to the command layer
var (
	ErrQueueFull     = errors.New("move queue full")
	ErrZeroLength    = errors.New("move has no steps")
	ErrStopped       = errors.New("emergency stop active")
	ErrOutOfBounds   = errors.New("target outside axis limits")
	ErrUnknownHeater = errors.New("unknown heater")
	ErrHeaterFault   = errors.New("heater in fault state")
)
