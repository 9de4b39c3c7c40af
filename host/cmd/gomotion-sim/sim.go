package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"gomotion/core"
	"gomotion/host/bridge"
	"gomotion/protocol"
	"gomotion/standalone"
	"gomotion/standalone/gcode"
	"gomotion/standalone/manager"
)

var _ gcode.Target = (*manager.Machine)(nil)

// retryStep is how far the clock advances before a busy command is retried
const retryStep = 100

// simOptions tune a simulation run
type simOptions struct {
	Thermal     thermal
	HeatTimeout time.Duration // Simulated time an M109/M190 may wait
	MoveTimeout time.Duration // Simulated time a blocked command may wait
}

func defaultSimOptions() simOptions {
	return simOptions{
		Thermal:     thermal{Ambient: 20, HeatRate: 4, CoolRate: 0.01},
		HeatTimeout: 10 * time.Minute,
		MoveTimeout: 10 * time.Minute,
	}
}

// simulation drives a machine from G-code on a simulated clock
type simulation struct {
	clock   *core.Clock
	plant   *plant
	rec     *bridge.Recorder
	machine *manager.Machine
	interp  *gcode.Interpreter
	opts    simOptions
	out     io.Writer
	log     *slog.Logger

	commands    int
	unsupported int
}

// newSimulation builds the machine. When trace is not nil, every output
// change is recorded to it.
func newSimulation(cfg *standalone.MachineConfig, opts simOptions, trace io.Writer, out io.Writer, logger *slog.Logger) (*simulation, error) {
	clock := core.NewClock(cfg.TickFrequency)
	p, err := newPlant(cfg, clock, opts.Thermal)
	if err != nil {
		return nil, err
	}

	s := &simulation{clock: clock, plant: p, opts: opts, out: out, log: logger}
	hw := manager.Hardware{Steps: discard{}, Heaters: p, ADC: p, Clock: clock}
	if trace != nil {
		s.rec = bridge.New(clock, protocol.NewTraceWriter(trace), bridge.WithHeaters(p))
		hw.Steps = s.rec
		hw.Heaters = s.rec
	}

	s.machine, err = manager.New(cfg, hw, logger)
	if err != nil {
		return nil, err
	}
	s.interp = gcode.NewInterpreter(s.machine)
	core.SetDebugWriter(func(msg string) { logger.Debug(msg) })
	return s, nil
}

// discard is the step output when nothing is recorded
type discard struct{}

func (discard) SetStep(uint8, bool)      {}
func (discard) SetDirection(uint8, bool) {}

// run executes every command from r, then waits for motion to finish
func (s *simulation) run(r io.Reader) error {
	err := gcode.Scan(r, s.execute)
	if err == nil {
		_, err = s.machine.RunUntilIdle(s.ticks(s.opts.MoveTimeout))
	}
	if s.machine.Halted() {
		s.machine.Timing().Dump()
	}
	if s.rec != nil {
		err = errors.Join(err, s.rec.Flush())
	}
	return err
}

func (s *simulation) ticks(d time.Duration) uint64 {
	return s.clock.FromMS(uint32(d.Milliseconds()))
}

// execute runs one command, advancing the clock while the machine is busy
func (s *simulation) execute(line int, cmd *gcode.Command) error {
	s.commands++
	if s.rec != nil {
		s.rec.Mark(0, int32(line))
	}

	deadline := s.clock.Now() + s.ticks(s.opts.MoveTimeout)
	for {
		res, err := s.interp.Execute(cmd)
		switch {
		case gcode.Retryable(err):
			if s.clock.Now() >= deadline {
				return fmt.Errorf("machine stalled: %w", err)
			}
			s.machine.Advance(retryStep)
			continue
		case errors.Is(err, gcode.ErrUnsupported):
			s.unsupported++
			s.log.Debug("command skipped", "line", line, "command", cmd.String())
			return nil
		case err != nil:
			return err
		}

		if res.Report != "" {
			fmt.Fprintln(s.out, res.Report)
		}
		if res.WaitHeater {
			return s.waitHeater(res.Heater)
		}
		return nil
	}
}

// waitHeater advances until the heater is within its target band
func (s *simulation) waitHeater(id uint8) error {
	name, err := s.machine.HeaterName(id)
	if err != nil {
		return err
	}
	start := s.clock.Now()
	deadline := start + s.ticks(s.opts.HeatTimeout)
	for {
		st, err := s.machine.HeaterStatus(id)
		if err != nil {
			return err
		}
		switch {
		case st.Fault != standalone.FaultNone:
			return fmt.Errorf("heater %s: %s fault: %w", name, st.Fault, standalone.ErrHeaterFault)
		case st.Mode == standalone.HeaterAtTarget:
			s.log.Info("heater at target", "heater", name, "temp", st.CurrentTemp,
				"waited_ms", s.clock.ToMS(s.clock.Now()-start))
			return nil
		case st.Mode == standalone.HeaterOff:
			return fmt.Errorf("heater %s turned off while waiting", name)
		case s.clock.Now() >= deadline:
			return fmt.Errorf("heater %s did not reach %.1f within %s", name, st.TargetTemp, s.opts.HeatTimeout)
		}
		s.machine.Advance(s.clock.FromMS(10))
	}
}

// report writes the end-of-run summary
func (s *simulation) report(w io.Writer) {
	st := s.machine.Stats()
	pos := s.machine.Position()
	names := standalone.AxisNames()

	fmt.Fprintf(w, "commands:   %d (%d skipped)\n", s.commands, s.unsupported)
	fmt.Fprintf(w, "sim time:   %.3f s\n", float64(s.clock.ToMS(s.clock.Now()))/1000)
	fmt.Fprintf(w, "segments:   %d (%d half-step)\n", st.Segments, st.HalfStep)

	var pulses []string
	for i, n := range names {
		pulses = append(pulses, fmt.Sprintf("%s=%d", n, st.Pulses[i]))
	}
	fmt.Fprintf(w, "pulses:     %s\n", strings.Join(pulses, " "))
	fmt.Fprintf(w, "position:   X:%.3f Y:%.3f Z:%.3f E:%.3f\n", pos[0], pos[1], pos[2], pos[3])
	if st.AdvanceMax > 0 {
		fmt.Fprintf(w, "advance:    %.1f steps peak\n", st.AdvanceMax)
	}
	if st.EStops > 0 {
		fmt.Fprintf(w, "e-stops:    %d\n", st.EStops)
	}
	for id := 0; id < s.machine.HeaterCount(); id++ {
		name, _ := s.machine.HeaterName(uint8(id))
		hs, err := s.machine.HeaterStatus(uint8(id))
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "heater:     %s %.1f/%.1f %s", name, hs.CurrentTemp, hs.TargetTemp, hs.Mode)
		if hs.Fault != standalone.FaultNone {
			fmt.Fprintf(w, " (%s fault)", hs.Fault)
		}
		fmt.Fprintln(w)
	}
	if s.rec != nil {
		rs := s.rec.Stats()
		fmt.Fprintf(w, "trace:      %d dir, %d heater, %d mark events\n", rs.Dirs, rs.Heaters, rs.Marks)
	}
}
