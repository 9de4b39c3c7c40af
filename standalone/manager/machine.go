// Package manager assembles the motion core into a Machine: planner, move
// queue, step engine and heater controller behind one command interface.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gomotion/core"
	"gomotion/standalone"
	"gomotion/standalone/heater"
	"gomotion/standalone/kinematics"
	"gomotion/standalone/movequeue"
	"gomotion/standalone/planner"
	"gomotion/standalone/stepgen"
	"gomotion/standalone/thermistor"
)

// ErrStopPending is returned by ResetEmergencyStop until the step timer has
// honoured the stop
var ErrStopPending = errors.New("emergency stop not yet honoured by the step timer")

// pollInterval is how often Run polls the main loop
const pollInterval = time.Millisecond

// idlePeriod is how often the inactivity timeouts are checked (ms)
const idlePeriod = 1000

// homingOrder is the sequence G28 homes axes in
var homingOrder = [...]standalone.Axis{standalone.AxisX, standalone.AxisY, standalone.AxisZ}

// Hardware bundles the capabilities the machine drives. ADC may be nil, in
// which case every heater reports a sensor fault at its first control step.
// Clock may be shared with outputs that timestamp what they see; nil
// creates one. Endstops holds the min limit switch of each axis, nil where
// there is none. Motors, if set, is released after StepperInactiveTime.
type Hardware struct {
	Steps    core.StepOutput
	Heaters  core.HeaterOutput
	ADC      core.ADCReader
	Clock    *core.Clock
	Endstops [standalone.NumAxes]core.InputPin
	Motors   core.MotorPower
}

// homing tracks a G28 in progress, one axis at a time
type homing struct {
	active  bool
	pending [standalone.NumAxes]bool
	axis    standalone.Axis // axis whose move is queued
	moving  bool
	hits    uint32 // LimitHits of axis before its move
}

// Machine is the motion core. Tick runs in the step timer context, Poll in
// the main loop; every other method may be called from any goroutine.
type Machine struct {
	config *standalone.MachineConfig
	clock  *core.Clock
	halt   *core.Halt
	log    *slog.Logger

	queue   *movequeue.Queue
	kin     kinematics.Kinematics
	planner *planner.Planner
	engine  *stepgen.Engine
	heaters *heater.Controller
	motors  core.MotorPower

	endstops [standalone.NumAxes]*core.Endstop
	homing   homing

	// Main loop
	sched     core.Scheduler
	tempTimer core.Timer
	idleTimer core.Timer
	haltSeen  uint32

	// Inactivity
	lastActive   atomic.Uint64 // tick of the last command or motion
	motorsOn     atomic.Bool
	heatersIdled atomic.Bool

	mu sync.Mutex // serializes planner access and homing
}

// New builds a machine from a validated configuration
func New(cfg *standalone.MachineConfig, hw Hardware, logger *slog.Logger) (*Machine, error) {
	if hw.Steps == nil || hw.Heaters == nil {
		return nil, errors.New("machine needs step and heater outputs")
	}
	if logger == nil {
		logger = slog.Default()
	}

	clock := hw.Clock
	if clock == nil {
		clock = core.NewClock(cfg.TickFrequency)
	} else if clock.Frequency() != cfg.TickFrequency {
		return nil, fmt.Errorf("clock runs at %d Hz, config wants %d Hz", clock.Frequency(), cfg.TickFrequency)
	}

	kin, err := kinematics.New(cfg)
	if err != nil {
		return nil, err
	}

	m := &Machine{
		config: cfg,
		clock:  clock,
		halt:   &core.Halt{},
		log:    logger.With("component", "machine"),
		queue:  movequeue.New(cfg.QueueCapacity),
		kin:    kin,
		motors: hw.Motors,
	}
	m.planner = planner.NewPlanner(cfg, kin, m.queue)
	m.engine = stepgen.NewEngine(m.queue, hw.Steps, m.clock, m.halt, cfg)

	var endstops []*core.Endstop
	for a, pin := range hw.Endstops {
		if pin == nil {
			continue
		}
		ac, _ := cfg.Axis(standalone.Axis(a))
		es := &core.Endstop{
			Pin:         pin,
			Axis:        uint8(a),
			ActiveHigh:  !ac.EndstopInvert,
			SampleTicks: cfg.EndstopSampleTicks,
			SampleCount: cfg.EndstopSamples,
			RestTicks:   cfg.EndstopSampleTicks,
		}
		m.endstops[a] = es
		endstops = append(endstops, es)
	}
	m.engine.SetEndstops(endstops)

	sensors := make([]heater.TemperatureSensor, len(cfg.Heaters))
	for i, hc := range cfg.Heaters {
		if hw.ADC == nil {
			sensors[i] = heater.NilSensor{}
			continue
		}
		table, err := thermistor.FromConfig(hc)
		if err != nil {
			return nil, fmt.Errorf("heater %s: %w", hc.Name, err)
		}
		sensors[i] = thermistor.NewSensor(hw.ADC, core.ADCChannelID(hc.Channel), table, hc.Oversample)
	}
	m.heaters, err = heater.NewController(cfg.Heaters, sensors, hw.Heaters, m.clock, m.halt, logger)
	if err != nil {
		return nil, err
	}

	m.tempTimer.Handler = m.temperatureEvent
	m.tempTimer.WakeTime = m.clock.Now() + m.clock.FromMS(cfg.TempPeriod)
	m.sched.Schedule(&m.tempTimer)

	m.idleTimer.Handler = m.idleEvent
	m.idleTimer.WakeTime = m.clock.Now() + m.clock.FromMS(idlePeriod)
	m.sched.Schedule(&m.idleTimer)

	m.log.Info("machine ready",
		"kinematics", cfg.Kinematics,
		"queue", cfg.QueueCapacity,
		"tick_hz", m.clock.Frequency(),
		"heaters", len(cfg.Heaters),
		"endstops", len(endstops),
		"advance", cfg.AdvanceEnabled)
	return m, nil
}

// temperatureEvent runs one heater control step every TempPeriod
func (m *Machine) temperatureEvent(t *core.Timer) uint8 {
	m.heaters.Update()
	t.WakeTime += m.clock.FromMS(m.config.TempPeriod)
	return core.SF_RESCHEDULE
}

// idleEvent releases the motors after StepperInactiveTime and switches the
// heaters off after MaxInactiveTime without motion or commands
func (m *Machine) idleEvent(t *core.Timer) uint8 {
	t.WakeTime += m.clock.FromMS(idlePeriod)

	now := m.clock.Now()
	if !m.IsIdle() {
		m.lastActive.Store(now)
		return core.SF_RESCHEDULE
	}
	idle := now - m.lastActive.Load()

	if s := m.config.StepperInactiveTime; s > 0 && idle >= m.clock.FromSeconds(float32(s)) {
		m.releaseMotors()
	}
	if s := m.config.MaxInactiveTime; s > 0 && idle >= m.clock.FromSeconds(float32(s)) {
		m.releaseMotors()
		if m.heatersIdled.CompareAndSwap(false, true) {
			m.heaters.AllOff()
			m.log.Warn("heaters off after inactivity", "idle_s", s)
		}
	}
	return core.SF_RESCHEDULE
}

func (m *Machine) releaseMotors() {
	if m.motors == nil || !m.motorsOn.CompareAndSwap(true, false) {
		return
	}
	m.motors.DisableAll()
	m.log.Info("motors released after inactivity")
}

// touch restarts the inactivity timeouts
func (m *Machine) touch() {
	m.lastActive.Store(m.clock.Now())
	m.heatersIdled.Store(false)
}

// Enqueue plans a move and appends it to the queue. It returns
// standalone.ErrQueueFull when the queue has no free slot and
// standalone.ErrStopped while an emergency stop is active.
func (m *Machine) Enqueue(req standalone.MoveRequest) error {
	if m.halt.Active() {
		return standalone.ErrStopped
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enqueue(req)
}

func (m *Machine) enqueue(req standalone.MoveRequest) error {
	err := m.planner.Enqueue(req)
	if errors.Is(err, standalone.ErrOutOfBounds) {
		m.log.Warn("move rejected", "target", req.Target, "err", err)
	}
	if err == nil {
		m.touch()
		m.motorsOn.Store(true)
	}
	return err
}

// SetPosition redefines the current position without moving. The queue
// must be empty.
func (m *Machine) SetPosition(pos standalone.AxisVector) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queue.Len() != 0 {
		return errors.New("set position while moving")
	}
	m.planner.SetPosition(pos)
	m.engine.SetPosition(m.planner.StepPosition())
	return nil
}

// QueueLen returns the number of queued segments, the executing one included
func (m *Machine) QueueLen() int {
	return m.queue.Len()
}

// IsIdle reports whether all motion has completed, the extruder's
// pressure-advance lead included
func (m *Machine) IsIdle() bool {
	return m.queue.Len() == 0 && !m.engine.LeadPending()
}

// Home drives each requested axis towards its min endstop in X, Y, Z order
// and sets it to MinPosition where the switch triggers. Axes without an
// endstop are set in place. Home returns false while homing is in
// progress; call it again, with the same axes, until it returns true.
// It fails if a homing move ends without its switch triggering.
func (m *Machine) Home(axes [standalone.NumAxes]bool) (bool, error) {
	if m.halt.Active() {
		return false, standalone.ErrStopped
	}
	if !m.IsIdle() {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	h := &m.homing
	if !h.active {
		*h = homing{active: true, pending: axes}
		m.log.Info("homing", "axes", axes)
	}
	m.touch()

	if h.moving {
		h.moving = false
		if a := h.axis; m.engine.LimitHits(a) == h.hits {
			*h = homing{}
			return false, fmt.Errorf("home %s: endstop not reached", a)
		}
		m.homeAt(h.axis)
	}

	for _, a := range homingOrder {
		if !h.pending[a] {
			continue
		}
		h.pending[a] = false
		ac, _ := m.config.Axis(a)
		if m.endstops[a] == nil {
			m.homeAt(a)
			continue
		}

		feed := ac.HomingFeedrate
		if feed <= 0 {
			feed = ac.MaxFeedrate
		}
		target := m.planner.Position()
		target[a] -= 1.5 * (ac.MaxPosition - ac.MinPosition)
		h.axis, h.moving, h.hits = a, true, m.engine.LimitHits(a)
		err := m.enqueue(standalone.MoveRequest{
			Target:   target,
			Feedrate: standalone.Feed(feed),
			Flags:    standalone.FlagHoming,
		})
		if err != nil {
			*h = homing{}
			return false, fmt.Errorf("home %s: %w", a, err)
		}
		return false, nil
	}

	*h = homing{}
	m.log.Info("homing done", "position", m.planner.Position())
	return true, nil
}

// homeAt sets axis a to its MinPosition, keeping the other axes where the
// steppers stopped
func (m *Machine) homeAt(a standalone.Axis) {
	ac, _ := m.config.Axis(a)
	m.planner.SetStepPosition(m.engine.Position())
	pos := m.planner.Position()
	pos[a] = ac.MinPosition
	m.planner.SetPosition(pos)
	m.engine.SetPosition(m.planner.StepPosition())
}

// Uptime returns the time since the machine started, by the tick clock
func (m *Machine) Uptime() time.Duration {
	return time.Duration(m.clock.ToMS(m.clock.Now())) * time.Millisecond
}

// Position returns the planner position: the target of the last accepted move
func (m *Machine) Position() standalone.AxisVector {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.planner.Position()
}

// StepPosition returns the step counters of the engine
func (m *Machine) StepPosition() standalone.StepVector {
	return m.engine.Position()
}

// Stats returns the step engine counters
func (m *Machine) Stats() stepgen.Stats {
	return m.engine.Stats()
}

// Timing returns the step engine event ring
func (m *Machine) Timing() *core.TimingRing {
	return m.engine.Timing()
}

// Clock returns the tick clock
func (m *Machine) Clock() *core.Clock {
	return m.clock
}

// HeaterCount returns the number of configured heaters
func (m *Machine) HeaterCount() int {
	return m.heaters.Len()
}

// HeaterName returns the configured name of a heater
func (m *Machine) HeaterName(id uint8) (string, error) {
	return m.heaters.Name(id)
}

// HeaterStatus returns a snapshot of a heater
func (m *Machine) HeaterStatus(id uint8) (standalone.HeaterState, error) {
	return m.heaters.Status(id)
}

// SetHeaterTarget sets a heater's target temperature; 0 turns it off
func (m *Machine) SetHeaterTarget(id uint8, temp float32) error {
	m.touch()
	return m.heaters.SetTarget(id, temp)
}

// ResetHeaterFault clears a heater fault, leaving the heater off
func (m *Machine) ResetHeaterFault(id uint8) error {
	return m.heaters.ResetFault(id)
}

// EmergencyStop halts all motion and heating. The step timer drops the
// queue and lowers every line on its next tick.
func (m *Machine) EmergencyStop() {
	m.halt.Trigger("emergency stop requested")
	m.heaters.AllOff()
}

// Halted reports whether an emergency stop is active
func (m *Machine) Halted() bool {
	return m.halt.Active()
}

// ResetEmergencyStop re-enables motion after an emergency stop. The planner
// resumes from the position the steppers actually reached.
func (m *Machine) ResetEmergencyStop() error {
	if !m.halt.Active() {
		return nil
	}
	if !m.engine.Halted() {
		return ErrStopPending
	}
	if m.heaters.Faulted() {
		return fmt.Errorf("reset heater faults first: %w", standalone.ErrHeaterFault)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.queue.Clear()
	m.homing = homing{}
	pos := m.engine.Position()
	m.planner.SetStepPosition(pos)
	m.touch()
	m.halt.Reset()
	m.log.Info("emergency stop reset", "steps", pos)
	return nil
}

// Tick runs one step timer period. Call it at the configured tick
// frequency from the timer context.
func (m *Machine) Tick() {
	m.engine.Tick()
}

// Poll runs due main-loop work: heater control and stop reporting.
// It returns the number of timer handlers that ran.
func (m *Machine) Poll() int {
	if n := m.halt.Count(); n != m.haltSeen && m.halt.Active() {
		m.haltSeen = n
		m.log.Error("machine halted", "reason", m.halt.Reason())
	}
	return m.sched.Dispatch(m.clock.Now())
}

// Advance simulates n step timer periods, polling the main loop after each
func (m *Machine) Advance(n uint64) {
	for i := uint64(0); i < n; i++ {
		m.Tick()
		m.Poll()
	}
}

// RunUntilIdle advances until the queue drains, giving up after limit ticks.
// It returns the ticks spent.
func (m *Machine) RunUntilIdle(limit uint64) (uint64, error) {
	for i := uint64(0); i < limit; i++ {
		if m.IsIdle() {
			// One more period drops the last step pulse
			m.Advance(1)
			return i + 1, nil
		}
		m.Advance(1)
	}
	return limit, fmt.Errorf("still moving after %d ticks (%d segments queued)", limit, m.queue.Len())
}

// Run polls the main loop until ctx is cancelled, then switches every
// heater off. The step timer is driven separately.
func (m *Machine) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	m.log.Debug("main loop started")
	for {
		select {
		case <-ctx.Done():
			m.heaters.AllOff()
			m.log.Info("main loop stopped", "err", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			m.Poll()
		}
	}
}
