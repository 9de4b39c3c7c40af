package gcode

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gomotion/standalone"
)

var (
	// ErrBusy means the command needs an idle machine; advance and retry
	ErrBusy = errors.New("waiting for the machine")

	// ErrUnsupported is returned for commands outside the understood subset
	ErrUnsupported = errors.New("unsupported command")
)

// Target is the machine the interpreter drives
type Target interface {
	Enqueue(req standalone.MoveRequest) error
	IsIdle() bool
	Position() standalone.AxisVector
	SetPosition(pos standalone.AxisVector) error
	Home(axes [standalone.NumAxes]bool) (bool, error)
	Uptime() time.Duration
	HeaterCount() int
	HeaterName(id uint8) (string, error)
	HeaterStatus(id uint8) (standalone.HeaterState, error)
	SetHeaterTarget(id uint8, temp float32) error
	EmergencyStop()
	ResetEmergencyStop() error
}

// Result tells the caller what to do after a command succeeded
type Result struct {
	WaitHeater bool  // block until Heater reaches its target
	Heater     uint8 // heater to wait for
	Report     string
}

// Interpreter executes G-code commands against a Target. A command that
// fails with standalone.ErrQueueFull or ErrBusy is executed again, the
// same *Command, once the machine has advanced. Most commands leave no
// trace until they succeed; G4 and G28 keep their progress between
// retries, and any other command abandons a pending dwell.
type Interpreter struct {
	target    Target
	absolute  bool // G90/G91
	relativeE bool // M82/M83

	dwellCmd   *Command // G4 being timed
	dwellUntil time.Duration
}

// NewInterpreter creates an interpreter in absolute mode
func NewInterpreter(target Target) *Interpreter {
	return &Interpreter{target: target, absolute: true}
}

// Retryable reports whether err clears once the machine makes progress
func Retryable(err error) bool {
	return errors.Is(err, standalone.ErrQueueFull) || errors.Is(err, ErrBusy)
}

// Execute runs one command
func (in *Interpreter) Execute(cmd *Command) (Result, error) {
	if cmd != in.dwellCmd {
		in.dwellCmd = nil
	}
	switch cmd.Letter {
	case 'G':
		return Result{}, in.executeG(cmd)
	case 'M':
		return in.executeM(cmd)
	}
	return Result{}, fmt.Errorf("%s: %w", cmd, ErrUnsupported)
}

func (in *Interpreter) executeG(cmd *Command) error {
	switch cmd.Number {
	case 0, 1:
		return in.move(cmd)
	case 4:
		return in.dwell(cmd)
	case 28:
		return in.home(cmd)
	case 90:
		in.absolute = true
	case 91:
		in.absolute = false
	case 92:
		return in.setPosition(cmd)
	default:
		return fmt.Errorf("%s: %w", cmd, ErrUnsupported)
	}
	return nil
}

func (in *Interpreter) executeM(cmd *Command) (Result, error) {
	switch cmd.Number {
	case 82:
		in.relativeE = false
	case 83:
		in.relativeE = true
	case 104, 109:
		return in.setTemperature(cmd, "extruder", cmd.Number == 109)
	case 140, 190:
		return in.setTemperature(cmd, "bed", cmd.Number == 190)
	case 105:
		return Result{Report: in.temperatures()}, nil
	case 112:
		in.target.EmergencyStop()
	case 114:
		p := in.target.Position()
		return Result{Report: fmt.Sprintf("X:%.3f Y:%.3f Z:%.3f E:%.3f", p[0], p[1], p[2], p[3])}, nil
	case 400:
		if !in.target.IsIdle() {
			return Result{}, ErrBusy
		}
	case 999:
		return Result{}, in.target.ResetEmergencyStop()
	default:
		return Result{}, fmt.Errorf("%s: %w", cmd, ErrUnsupported)
	}
	return Result{}, nil
}

// axisLetters maps parameter letters to axes
var axisLetters = [standalone.NumAxes]byte{'X', 'Y', 'Z', 'E'}

func (in *Interpreter) move(cmd *Command) error {
	req := standalone.MoveRequest{Target: in.target.Position()}
	for i, letter := range axisLetters {
		if !cmd.Has(letter) {
			continue
		}
		v := float32(cmd.Get(letter, 0))
		relative := !in.absolute
		if standalone.Axis(i) == standalone.AxisE {
			relative = relative || in.relativeE
		}
		if relative {
			req.Target[i] += v
		} else {
			req.Target[i] = v
		}
	}
	if cmd.Has('F') {
		// mm/min
		req.Feedrate = standalone.Feed(float32(cmd.Get('F', 0) / 60))
	}

	err := in.target.Enqueue(req)
	if errors.Is(err, standalone.ErrZeroLength) {
		return nil
	}
	return err
}

// dwell waits for motion to finish, then holds for P milliseconds or S
// seconds
func (in *Interpreter) dwell(cmd *Command) error {
	if in.dwellCmd != cmd {
		if !in.target.IsIdle() {
			return ErrBusy
		}
		d := time.Duration(cmd.Get('P', 0) * float64(time.Millisecond))
		if cmd.Has('S') {
			d = time.Duration(cmd.Get('S', 0) * float64(time.Second))
		}
		in.dwellCmd = cmd
		in.dwellUntil = in.target.Uptime() + d
	}
	if in.target.Uptime() < in.dwellUntil {
		return ErrBusy
	}
	in.dwellCmd = nil
	return nil
}

// home seeks the endstops of the named axes, all of X, Y, Z if none
func (in *Interpreter) home(cmd *Command) error {
	var axes [standalone.NumAxes]bool
	all := !cmd.Has('X') && !cmd.Has('Y') && !cmd.Has('Z')
	for i, letter := range axisLetters[:standalone.AxisE] {
		axes[i] = all || cmd.Has(letter)
	}
	done, err := in.target.Home(axes)
	if err != nil {
		return err
	}
	if !done {
		return ErrBusy
	}
	return nil
}

func (in *Interpreter) setPosition(cmd *Command) error {
	if !in.target.IsIdle() {
		return ErrBusy
	}
	pos := in.target.Position()
	for i, letter := range axisLetters {
		if cmd.Has(letter) {
			pos[i] = float32(cmd.Get(letter, 0))
		}
	}
	return in.target.SetPosition(pos)
}

func (in *Interpreter) setTemperature(cmd *Command, name string, wait bool) (Result, error) {
	id, err := in.heaterID(name)
	if err != nil {
		return Result{}, err
	}
	if !cmd.Has('S') {
		return Result{}, fmt.Errorf("%s: missing S parameter", cmd)
	}
	temp := float32(cmd.Get('S', 0))
	if err := in.target.SetHeaterTarget(id, temp); err != nil {
		return Result{}, err
	}
	return Result{WaitHeater: wait && temp > 0, Heater: id}, nil
}

func (in *Interpreter) heaterID(name string) (uint8, error) {
	for id := 0; id < in.target.HeaterCount(); id++ {
		n, err := in.target.HeaterName(uint8(id))
		if err == nil && n == name {
			return uint8(id), nil
		}
	}
	return 0, fmt.Errorf("heater %q: %w", name, standalone.ErrUnknownHeater)
}

// temperatures formats an M105 report: "extruder:20.0/200.0 bed:..."
func (in *Interpreter) temperatures() string {
	var parts []string
	for id := 0; id < in.target.HeaterCount(); id++ {
		name, err := in.target.HeaterName(uint8(id))
		if err != nil {
			continue
		}
		st, err := in.target.HeaterStatus(uint8(id))
		if err != nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s:%.1f/%.1f", name, st.CurrentTemp, st.TargetTemp))
	}
	return strings.Join(parts, " ")
}
