// Package stepgen turns queued segments into step pulses. The Engine runs
// in the step timer context: one Tick per timer period, at most one step
// event per Tick.
package stepgen

import (
	"math"
	"sync/atomic"

	"gomotion/core"
	"gomotion/standalone"
	"gomotion/standalone/movequeue"
)

// Intervals are kept in 16.16 fixed-point ticks
const (
	fpShift = 16
	fpOne   = 1 << fpShift
)

// minRate is the slowest primary step rate (steps/s) the engine runs at
const minRate = 1

const axisE = int(standalone.AxisE)

// Stats counts engine activity since creation
type Stats struct {
	Segments   uint32                     // Segments retired
	HalfStep   uint32                     // Segments run with half-step smoothing
	EStops     uint32                     // Emergency stops honoured
	Pulses     [standalone.NumAxes]uint32 // Step pulses emitted per axis
	AdvanceMax float32                    // Largest extruder lead reached (E steps)
	LimitStops uint32                     // Segments stopped by a limit switch
}

// Engine is the stepper execution engine
type Engine struct {
	queue *movequeue.Queue
	out   core.StepOutput
	clock *core.Clock
	halt  *core.Halt

	freq          float64
	halfThreshold float64
	advance       bool
	drainPeriod   uint64 // ticks between lead drain pulses
	endstops      []*core.Endstop

	timing core.TimingRing

	// Executing segment, owned by the timer context
	seg        standalone.Segment
	active     bool
	dryRun     bool
	homing     bool
	half       bool
	n          uint32
	primary    int
	steps      [standalone.NumAxes]int64
	dir        [standalone.NumAxes]int32
	acc        [standalone.NumAxes]int64
	threshold  int64
	events     uint32
	total      uint32
	stepsDone  uint32
	accelEnd   uint32
	decelStart uint32
	v          float64 // primary steps/s
	dv         float64 // velocity change per tick
	vPeak      float64
	vExit      float64
	vFloor     float64 // slowest rate a ramp runs at
	countdown  int64
	high       [standalone.NumAxes]bool
	lowerNext  bool

	// Pressure advance. lead counts E steps emitted ahead of the plan; it
	// is carried into the next extruding segment or drained with reverse
	// pulses while the extruder is otherwise unused.
	advTarget  float64 // E lead at nominal speed (E steps)
	vNominal   float64
	advApplied int64 // lead applied this segment, accumulator units
	ePulses    int64 // E pulses emitted this segment
	lead       int64
	drainDir   int32 // E direction set for draining, 0 if unknown
	drainAt    uint64
	drainHigh  bool
	advPeak    float64

	// Read from the main loop
	position [standalone.NumAxes]atomic.Int32
	segments atomic.Uint32
	halfSegs atomic.Uint32
	estops   atomic.Uint32
	pulses   [standalone.NumAxes]atomic.Uint32
	advMax   atomic.Uint32 // float32 bits
	stopped  atomic.Bool
	pending  atomic.Bool // lead not yet drained
	limits   [standalone.NumAxes]atomic.Uint32
	blocked  standalone.Segment // last segment stopped by a limit, guarded by core.DisableInterrupts
}

// NewEngine creates an engine consuming queue and driving out
func NewEngine(queue *movequeue.Queue, out core.StepOutput, clock *core.Clock, halt *core.Halt,
	config *standalone.MachineConfig) *Engine {
	e := &Engine{
		queue:         queue,
		out:           out,
		clock:         clock,
		halt:          halt,
		freq:          float64(clock.Frequency()),
		halfThreshold: float64(config.HalfStepInterval),
		advance:       config.AdvanceEnabled,
		drainPeriod:   2,
	}
	if ax, ok := config.Axis(standalone.AxisE); ok {
		if rate := float64(ax.MaxFeedrate) * float64(ax.StepsPerMM); rate > 0 {
			e.drainPeriod = max(uint64(e.freq/rate), 2)
		}
	}
	return e
}

// SetEndstops attaches the limit switches sampled while an axis moves
// towards its minimum. Call before the step timer starts.
func (e *Engine) SetEndstops(endstops []*core.Endstop) {
	e.endstops = endstops
}

// Tick runs one timer period. It must be called at the clock frequency
// and never concurrently with itself.
func (e *Engine) Tick() {
	now := e.clock.Advance()

	if e.halt != nil && e.halt.Active() {
		e.emergencyStop(now)
		return
	}
	if e.stopped.Load() {
		e.stopped.Store(false)
	}

	if e.drainHigh {
		e.out.SetStep(uint8(axisE), false)
		e.high[axisE] = false
		e.drainHigh = false
	}
	if e.lowerNext {
		e.lowerAll()
		e.lowerNext = false
	}

	if !e.active {
		if !e.load(now) {
			e.drain(now)
		}
		return
	}

	if e.checkLimits(now) {
		return
	}

	e.ramp()
	e.countdown -= fpOne
	if e.countdown > 0 {
		if e.steps[axisE] == 0 {
			e.drain(now)
		}
		return
	}

	e.event()
	if e.events == e.total {
		e.finish(now)
		return
	}
	e.countdown += e.interval()
}

// load starts the segment at the queue head
func (e *Engine) load(now uint64) bool {
	seg, ok := e.queue.Start()
	if !ok {
		return false
	}

	n, primary := seg.Steps.MaxAbs()
	if n == 0 {
		e.queue.Retire()
		return false
	}

	dryRun := seg.Flags.Has(standalone.FlagDryRun)
	advancing := e.advance && !dryRun && seg.AdvanceTarget > 0 &&
		primary != standalone.AxisE && seg.Steps[axisE] > 0
	if e.lead != 0 && seg.Steps[axisE] != 0 && !advancing {
		// Take the lead back before the extruder runs without advance
		return false
	}

	k := float64(seg.StepsPerMM)
	if k <= 0 {
		k = 1
	}
	e.seg = seg
	e.n = n
	e.primary = int(primary)
	e.dryRun = dryRun
	e.homing = seg.Flags.Has(standalone.FlagHoming)
	e.vFloor = max(math.Sqrt(float64(seg.Accel)*k), minRate)
	e.v = max(float64(seg.EntrySpeed)*k, e.vFloor)
	e.vExit = max(float64(seg.ExitSpeed)*k, e.vFloor)
	peak := seg.PeakSpeed
	if peak <= 0 {
		peak = seg.NominalSpeed
	}
	e.vPeak = max(float64(peak)*k, e.v, e.vExit)
	e.dv = float64(seg.Accel) * k / e.freq
	e.accelEnd = seg.AccelSteps
	e.decelStart = n - min(seg.DecelSteps, n)

	e.half = e.freq/e.vPeak < e.halfThreshold
	if e.half {
		e.total = 2 * n
	} else {
		e.total = n
	}
	e.threshold = int64(e.total)
	e.events = 0
	e.stepsDone = 0

	for i, s := range seg.Steps {
		e.dir[i] = 1
		e.steps[i] = int64(s)
		if s < 0 {
			e.dir[i] = -1
			e.steps[i] = -int64(s)
		}
		e.acc[i] = e.threshold / 2
		if s != 0 && !e.dryRun {
			e.out.SetDirection(uint8(i), s > 0)
		}
	}
	if seg.Steps[axisE] != 0 && !e.dryRun {
		e.drainDir = 0
	}

	e.advTarget = 0
	e.ePulses = 0
	if advancing {
		e.advTarget = float64(seg.AdvanceTarget)
		e.vNominal = float64(seg.NominalSpeed) * k
		e.advApplied = e.lead * e.threshold
	}
	for _, es := range e.endstops {
		es.Reset()
	}

	e.countdown = e.interval()
	e.active = true

	e.timing.Record(core.EvtSegmentLoad, uint8(primary), now, int64(n), int64(e.countdown>>fpShift))
	if e.half {
		e.halfSegs.Add(1)
		e.timing.Record(core.EvtHalfStep, uint8(primary), now, int64(n), int64(e.countdown>>fpShift))
	}
	return true
}

// ramp advances the running velocity by one tick
func (e *Engine) ramp() {
	switch {
	case e.stepsDone < e.accelEnd:
		e.v = min(e.v+e.dv, e.vPeak)
	case e.stepsDone >= e.decelStart:
		e.v = max(e.v-e.dv, e.vExit)
	}
}

// interval returns the ticks until the next event in 16.16 fixed point
func (e *Engine) interval() int64 {
	iv := int64(e.freq / e.v * fpOne)
	if e.half {
		return max(iv/2, fpOne)
	}
	return max(iv, 2*fpOne)
}

// event emits one step event. In half-step mode every physical step takes
// two events: the primary rises on even events and falls on odd ones.
func (e *Engine) event() {
	var wasHigh [standalone.NumAxes]bool
	if e.half {
		wasHigh = e.high
		e.lowerAll()
	}

	if !e.half || e.events%2 == 0 {
		e.pulse(e.primary)
		e.stepsDone++
	}

	for i := range e.steps {
		if i == e.primary {
			continue
		}
		e.acc[i] += e.steps[i]
		if i == axisE && e.advTarget > 0 {
			e.acc[i] += e.advanceDelta()
		}
		if e.acc[i] >= e.threshold && !wasHigh[i] {
			e.acc[i] -= e.threshold
			e.pulse(i)
			if i == axisE {
				e.ePulses++
			}
		}
	}

	if !e.half {
		e.lowerNext = true
	}
	e.events++
}

// advanceDelta returns the change of extruder lead since the previous event
// in accumulator units. The lead is proportional to the primary velocity.
func (e *Engine) advanceDelta() int64 {
	lead := e.advTarget * e.v / e.vNominal
	if lead > e.advPeak {
		e.advPeak = lead
		e.advMax.Store(math.Float32bits(float32(lead)))
	}
	target := int64(lead * float64(e.threshold))
	delta := target - e.advApplied
	e.advApplied = target
	return delta
}

// drain emits one reverse extruder pulse towards zero lead if due. Only
// called while the executing segment leaves the extruder alone.
func (e *Engine) drain(now uint64) {
	if e.lead == 0 || e.high[axisE] || now < e.drainAt {
		return
	}
	dir := int32(-1)
	if e.lead < 0 {
		dir = 1
	}
	if e.drainDir != dir {
		// Direction setup gets a tick of its own
		e.out.SetDirection(uint8(axisE), dir > 0)
		e.drainDir = dir
		e.drainAt = now + 1
		return
	}

	e.out.SetStep(uint8(axisE), true)
	e.high[axisE] = true
	e.drainHigh = true
	e.position[axisE].Add(dir)
	e.pulses[axisE].Add(1)
	e.lead += int64(dir)
	e.drainAt = now + e.drainPeriod
	if e.lead == 0 {
		e.pending.Store(false)
	}
}

// checkLimits samples the endstops of axes moving towards their minimum.
// A homing segment ends where its switch triggers; any other segment
// raises the emergency stop.
func (e *Engine) checkLimits(now uint64) bool {
	if e.dryRun {
		return false
	}
	for _, es := range e.endstops {
		axis := int(es.Axis)
		if axis >= standalone.NumAxes || e.dir[axis] > 0 || e.steps[axis] == 0 {
			continue
		}
		if !es.Sample(now) {
			continue
		}

		e.limits[axis].Add(1)
		e.markBlocked()
		e.timing.Record(core.EvtLimit, uint8(axis), now, int64(e.stepsDone), int64(e.position[axis].Load()))
		if e.homing {
			e.lowerAll()
			e.lowerNext = false
			e.active = false
			e.queue.Retire()
			e.segments.Add(1)
			return true
		}
		if e.halt != nil {
			e.halt.Trigger("limit switch " + standalone.Axis(axis).String())
		}
		e.emergencyStop(now)
		return true
	}
	return false
}

// markBlocked flags the executing segment and keeps a copy for Blocked.
// The started head is never rewritten by the planner.
func (e *Engine) markBlocked() {
	if head, ok := e.queue.Head(); ok {
		head.Flags |= standalone.FlagBlockedByLimit
	}
	e.seg.Flags |= standalone.FlagBlockedByLimit

	state := core.DisableInterrupts()
	e.blocked = e.seg
	core.RestoreInterrupts(state)
}

func (e *Engine) pulse(axis int) {
	if e.dryRun {
		return
	}
	e.out.SetStep(uint8(axis), true)
	e.high[axis] = true
	e.position[axis].Add(e.dir[axis])
	e.pulses[axis].Add(1)
}

func (e *Engine) lowerAll() {
	for i, h := range e.high {
		if h {
			e.out.SetStep(uint8(i), false)
			e.high[i] = false
		}
	}
}

// finish retires the completed segment and starts the next one at once
func (e *Engine) finish(now uint64) {
	e.lowerNext = true
	if e.advTarget > 0 {
		e.lead += e.ePulses - e.steps[axisE]
		e.pending.Store(e.lead != 0)
	}
	e.active = false
	e.queue.Retire()
	e.segments.Add(1)
	e.timing.Record(core.EvtSegmentRetire, uint8(e.primary), now, int64(e.n), int64(e.position[e.primary].Load()))

	e.load(now)
}

// emergencyStop drops all motion. Called every tick while the halt is active.
func (e *Engine) emergencyStop(now uint64) {
	if !e.stopped.Load() {
		e.stopped.Store(true)
		for i := range e.high {
			e.out.SetStep(uint8(i), false)
			e.high[i] = false
		}
		e.lowerNext = false
		e.active = false
		e.lead = 0
		e.drainHigh = false
		e.pending.Store(false)
		e.estops.Add(1)
		e.timing.Record(core.EvtEmergencyStop, 0, now, int64(e.queue.Len()), int64(e.stepsDone))
	}
	e.queue.Clear()
}

// Active reports whether a segment is executing
func (e *Engine) Active() bool {
	return e.active
}

// LeadPending reports whether the extruder still runs ahead of the plan
// after pressure advance. The machine is not idle until it is drained.
func (e *Engine) LeadPending() bool {
	return e.pending.Load()
}

// LimitHits returns how many segments a limit switch on axis has stopped
func (e *Engine) LimitHits(axis standalone.Axis) uint32 {
	if int(axis) >= standalone.NumAxes {
		return 0
	}
	return e.limits[axis].Load()
}

// Blocked returns the last segment stopped by a limit switch, with
// FlagBlockedByLimit set
func (e *Engine) Blocked() (standalone.Segment, bool) {
	state := core.DisableInterrupts()
	seg := e.blocked
	core.RestoreInterrupts(state)
	return seg, seg.Flags.Has(standalone.FlagBlockedByLimit)
}

// Halted reports whether the engine has honoured an emergency stop: all
// lines are low and the queue is dropped. Cleared by the first tick after
// the stop signal is reset.
func (e *Engine) Halted() bool {
	return e.stopped.Load()
}

// Position returns the absolute step position of every axis
func (e *Engine) Position() standalone.StepVector {
	var pos standalone.StepVector
	for i := range pos {
		pos[i] = e.position[i].Load()
	}
	return pos
}

// SetPosition redefines the step position. Only call while idle.
func (e *Engine) SetPosition(pos standalone.StepVector) {
	for i, p := range pos {
		e.position[i].Store(p)
	}
}

// Stats returns the activity counters
func (e *Engine) Stats() Stats {
	s := Stats{
		Segments:   e.segments.Load(),
		HalfStep:   e.halfSegs.Load(),
		EStops:     e.estops.Load(),
		AdvanceMax: math.Float32frombits(e.advMax.Load()),
	}
	for i := range s.Pulses {
		s.Pulses[i] = e.pulses[i].Load()
		s.LimitStops += e.limits[i].Load()
	}
	return s
}

// Timing returns the ring of recent segment events
func (e *Engine) Timing() *core.TimingRing {
	return &e.timing
}
