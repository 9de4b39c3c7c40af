package stepgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomotion/core"
	"gomotion/standalone"
	"gomotion/standalone/config"
	"gomotion/standalone/kinematics"
	"gomotion/standalone/movequeue"
	"gomotion/standalone/planner"
)

// recorder is a core.StepOutput that logs every edge
type recorder struct {
	clock      *core.Clock
	high       [standalone.NumAxes]bool
	rises      [standalone.NumAxes]int
	falls      [standalone.NumAxes]int
	riseTicks  [standalone.NumAxes][]uint64
	fallTicks  [standalone.NumAxes][]uint64
	dirs       [standalone.NumAxes][]bool
	doubleRise int
}

func (r *recorder) SetStep(axis uint8, high bool) {
	now := r.clock.Now()
	switch {
	case high && r.high[axis]:
		r.doubleRise++
	case high:
		r.rises[axis]++
		r.riseTicks[axis] = append(r.riseTicks[axis], now)
	case r.high[axis]:
		r.falls[axis]++
		r.fallTicks[axis] = append(r.fallTicks[axis], now)
	}
	r.high[axis] = high
}

func (r *recorder) SetDirection(axis uint8, positive bool) {
	r.dirs[axis] = append(r.dirs[axis], positive)
}

type rig struct {
	cfg     *standalone.MachineConfig
	engine  *Engine
	queue   *movequeue.Queue
	planner *planner.Planner
	out     *recorder
	clock   *core.Clock
	halt    *core.Halt
}

func newRig(t *testing.T, mutate func(*standalone.MachineConfig)) *rig {
	t.Helper()
	cfg := config.DefaultCartesianConfig()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, config.Validate(cfg))

	kin, err := kinematics.NewCartesian(cfg)
	require.NoError(t, err)

	r := &rig{
		cfg:   cfg,
		queue: movequeue.New(cfg.QueueCapacity),
		clock: core.NewClock(cfg.TickFrequency),
		halt:  &core.Halt{},
	}
	r.out = &recorder{clock: r.clock}
	r.planner = planner.NewPlanner(cfg, kin, r.queue)
	r.engine = NewEngine(r.queue, r.out, r.clock, r.halt, cfg)
	return r
}

// run ticks until the queue drains, then one more tick to drop the last pulse
func (r *rig) run(t *testing.T, limit int) int {
	t.Helper()
	for i := 0; i < limit; i++ {
		r.engine.Tick()
		if r.queue.Len() == 0 && !r.engine.Active() && !r.engine.LeadPending() {
			r.engine.Tick()
			return i + 2
		}
	}
	t.Fatalf("engine still busy after %d ticks", limit)
	return limit
}

func (r *rig) enqueue(t *testing.T, target standalone.AxisVector, feed float32) {
	t.Helper()
	require.NoError(t, r.planner.Enqueue(standalone.MoveRequest{Target: target, Feedrate: standalone.Feed(feed)}))
}

func abs32(v int32) int {
	if v < 0 {
		return int(-v)
	}
	return int(v)
}

func TestPulseCountsMatchPlan(t *testing.T) {
	r := newRig(t, nil)

	path := []standalone.AxisVector{
		{10, 10, 0, 0.5}, {20, 15, 0, 1.0}, {20, 15, 2, 1.0}, {15, 30, 2, 1.5}, {40, 32, 2, 2.0},
		{42, 60, 2, 2.5}, {10, 61, 2, 1.0}, {10, 61, 2, 3.0}, {5, 5, 0, 3.5},
	}
	var want [standalone.NumAxes]int
	for _, target := range path {
		r.enqueue(t, target, 80)
		snap := r.queue.Snapshot()
		seg := r.queue.At(snap, snap.Count-1)
		for i, s := range seg.Steps {
			want[i] += abs32(s)
		}
	}

	r.run(t, 5_000_000)

	for i := range want {
		assert.Equal(t, want[i], r.out.rises[i], "axis %d rises", i)
		assert.Equal(t, want[i], r.out.falls[i], "axis %d falls", i)
		assert.False(t, r.out.high[i], "axis %d left high", i)
	}
	assert.Zero(t, r.out.doubleRise)
	assert.Equal(t, r.planner.StepPosition(), r.engine.Position())

	stats := r.engine.Stats()
	assert.Equal(t, uint32(len(path)), stats.Segments)
	assert.NotZero(t, stats.HalfStep, "a full speed Z move exceeds the half-step rate")
}

func constantSegment(steps standalone.StepVector, speed float32) standalone.Segment {
	n, primary := steps.MaxAbs()
	return standalone.Segment{
		Steps:        steps,
		PrimaryAxis:  primary,
		StepCount:    n,
		EntrySpeed:   speed,
		ExitSpeed:    speed,
		NominalSpeed: speed,
		PeakSpeed:    speed,
		PlateauSteps: n,
		Accel:        1000,
		StepsPerMM:   40,
	}
}

func TestHalfStepDoublesEvents(t *testing.T) {
	r := newRig(t, nil)

	// 250 mm/s at 40 steps/mm is a 10 tick interval, below the 12 tick threshold
	require.NoError(t, r.queue.Push(constantSegment(standalone.StepVector{100, 50, 0, 0}, 250)))
	r.run(t, 10_000)

	assert.Equal(t, uint32(1), r.engine.Stats().HalfStep)
	assert.Equal(t, 100, r.out.rises[0])
	assert.Equal(t, 100, r.out.falls[0])
	assert.Equal(t, 50, r.out.rises[1])
	assert.Equal(t, 50, r.out.falls[1])
	assert.Zero(t, r.out.doubleRise)

	// Two events per physical step at half the interval
	x := r.out
	for j := range x.riseTicks[0] {
		assert.Equal(t, uint64(5), x.fallTicks[0][j]-x.riseTicks[0][j], "step %d high time", j)
		if j > 0 {
			assert.Equal(t, uint64(10), x.riseTicks[0][j]-x.riseTicks[0][j-1], "step %d period", j)
		}
	}
}

func TestFullStepBelowThreshold(t *testing.T) {
	r := newRig(t, nil)

	// 100 mm/s is a 25 tick interval
	require.NoError(t, r.queue.Push(constantSegment(standalone.StepVector{100, 50, 0, 0}, 100)))
	r.run(t, 10_000)

	assert.Zero(t, r.engine.Stats().HalfStep)
	assert.Equal(t, 100, r.out.rises[0])
	assert.Equal(t, 50, r.out.rises[1])
	for j := range r.out.riseTicks[0] {
		assert.Equal(t, uint64(1), r.out.fallTicks[0][j]-r.out.riseTicks[0][j])
	}
}

func TestStepTimingDoesNotDrift(t *testing.T) {
	r := newRig(t, nil)

	// 37 mm/s * 40 steps/mm: 67.567 ticks per step
	require.NoError(t, r.queue.Push(constantSegment(standalone.StepVector{1000, 0, 0, 0}, 37)))
	r.run(t, 100_000)

	ticks := r.out.riseTicks[0]
	require.Len(t, ticks, 1000)
	elapsed := float64(ticks[999] - ticks[0])
	assert.InDelta(t, 999*100000.0/1480.0, elapsed, 1.5)
}

func TestBackToBackSegmentsDoNotStall(t *testing.T) {
	r := newRig(t, nil)
	r.enqueue(t, standalone.AxisVector{10, 0, 0, 0}, 50)
	r.enqueue(t, standalone.AxisVector{60, 0, 0, 0}, 50)
	r.enqueue(t, standalone.AxisVector{110, 0, 0, 0}, 50)

	r.run(t, 1_000_000)

	ticks := r.out.riseTicks[0]
	require.Len(t, ticks, 4400)
	var worst, worstStop uint64
	for j := 1; j < len(ticks); j++ {
		iv := ticks[j] - ticks[j-1]
		if j < len(ticks)-60 {
			worst = max(worst, iv)
		}
		worstStop = max(worstStop, iv)
	}
	// Never slower than the 20 mm/s start speed until the final stop:
	// 125 ticks per step
	assert.LessOrEqual(t, worst, uint64(126))
	// The stop ramp ends at sqrt(40000) steps/s, not at a crawl
	assert.LessOrEqual(t, worstStop, uint64(501))
	assert.Equal(t, uint32(3), r.engine.Stats().Segments)
	assert.Equal(t, []bool{true, true, true}, r.out.dirs[0])
}

func TestStopRampDoesNotCrawl(t *testing.T) {
	r := newRig(t, nil)
	r.enqueue(t, standalone.AxisVector{10, 0, 0, 0}, 50)
	_, ok := r.queue.Start()
	require.True(t, ok)
	r.enqueue(t, standalone.AxisVector{20, 0, 0, 0}, 50)

	snap := r.queue.Snapshot()
	require.Equal(t, float32(0.1), r.queue.At(snap, 0).ExitSpeed)
	require.Equal(t, float32(0.1), r.queue.At(snap, 1).EntrySpeed)

	r.run(t, 1_000_000)

	// 0.1 mm/s would be 25000 ticks per step
	ticks := r.out.riseTicks[0]
	require.Len(t, ticks, 800)
	for j := 1; j < len(ticks); j++ {
		require.LessOrEqual(t, ticks[j]-ticks[j-1], uint64(501), "step %d", j)
	}
}

func advanceRig(t *testing.T) *rig {
	return newRig(t, func(c *standalone.MachineConfig) {
		c.AdvanceEnabled = true
		c.AdvanceK = 0.05
	})
}

func TestPressureAdvanceLeadsExtruder(t *testing.T) {
	eTarget := float32(100) / 373

	plain := newRig(t, nil)
	plain.enqueue(t, standalone.AxisVector{20, 0, 0, eTarget}, 50)
	plain.run(t, 1_000_000)
	assert.Equal(t, 100, plain.out.rises[standalone.AxisE])

	r := advanceRig(t)
	r.enqueue(t, standalone.AxisVector{20, 0, 0, eTarget}, 50)
	snap := r.queue.Snapshot()
	require.InDelta(t, 12.5, r.queue.At(snap, 0).AdvanceTarget, 1e-3)

	r.run(t, 1_000_000)

	// The lead peaks at nominal speed and is fully taken back once idle
	assert.InDelta(t, 12.5, r.engine.Stats().AdvanceMax, 0.2)
	assert.Equal(t, r.planner.StepPosition(), r.engine.Position())
	assert.False(t, r.engine.LeadPending())
	extra := r.out.rises[standalone.AxisE] - 100
	assert.Zero(t, extra%2, "every lead pulse is matched by a reverse pulse")
	assert.Equal(t, r.out.rises[standalone.AxisE], r.out.falls[standalone.AxisE])
	assert.Equal(t, 800, r.out.rises[standalone.AxisX])
	assert.Zero(t, r.out.doubleRise)

	// The extruder is ahead of the plain run by the end of acceleration
	cut := plain.out.riseTicks[standalone.AxisX][42]
	var plainE, advE int
	for _, tk := range plain.out.riseTicks[standalone.AxisE] {
		if tk <= cut {
			plainE++
		}
	}
	for _, tk := range r.out.riseTicks[standalone.AxisE] {
		if tk <= cut {
			advE++
		}
	}
	assert.Greater(t, advE, plainE)
}

func TestPressureAdvanceLeadDrainsOnTravel(t *testing.T) {
	e := float32(100) / 373
	r := advanceRig(t)

	// Extrude, corner into a travel move, extrude back, travel home
	r.enqueue(t, standalone.AxisVector{20, 0, 0, e}, 50)
	r.enqueue(t, standalone.AxisVector{20, 20, 0, e}, 50)
	r.enqueue(t, standalone.AxisVector{0, 20, 0, 2 * e}, 50)
	r.enqueue(t, standalone.AxisVector{0, 0, 0, 2 * e}, 50)

	// The corner is taken at 28.3 mm/s with about 7 E steps of lead
	snap := r.queue.Snapshot()
	require.InDelta(t, 28.28, r.queue.At(snap, 0).ExitSpeed, 0.01)

	r.run(t, 2_000_000)

	assert.Equal(t, r.planner.StepPosition(), r.engine.Position(), "net extrusion matches the plan")
	assert.Equal(t, int32(200), r.engine.Position()[standalone.AxisE])
	assert.Contains(t, r.out.dirs[standalone.AxisE], false, "lead taken back with reverse pulses")
	assert.GreaterOrEqual(t, r.out.rises[standalone.AxisE], 200+2*5)
	assert.Equal(t, r.out.rises[standalone.AxisE], r.out.falls[standalone.AxisE])
	assert.Zero(t, r.out.doubleRise)
	assert.Equal(t, uint32(4), r.engine.Stats().Segments)
}

func TestRetractWaitsForLeadDrain(t *testing.T) {
	e := float32(100) / 373
	r := advanceRig(t)

	r.enqueue(t, standalone.AxisVector{20, 0, 0, e}, 50)
	r.enqueue(t, standalone.AxisVector{40, 0, 0, e}, 50)
	r.enqueue(t, standalone.AxisVector{40, 0, 0, 0}, 20)

	r.run(t, 2_000_000)

	assert.Equal(t, r.planner.StepPosition(), r.engine.Position())
	assert.Equal(t, int32(0), r.engine.Position()[standalone.AxisE])
	assert.Zero(t, r.out.doubleRise)
}

func TestEmergencyStop(t *testing.T) {
	r := newRig(t, nil)
	r.enqueue(t, standalone.AxisVector{50, 0, 0, 0}, 50)
	r.enqueue(t, standalone.AxisVector{50, 50, 0, 0}, 50)
	r.enqueue(t, standalone.AxisVector{0, 50, 0, 0}, 50)

	for i := 0; i < 5000; i++ {
		r.engine.Tick()
	}
	require.True(t, r.engine.Active())
	moved := r.out.rises[0]
	require.NotZero(t, moved)

	r.halt.Trigger("limit switch")
	r.engine.Tick()

	assert.Equal(t, 0, r.queue.Len())
	assert.False(t, r.engine.Active())
	for i := range r.out.high {
		assert.False(t, r.out.high[i], "axis %d", i)
	}
	assert.Equal(t, uint32(1), r.engine.Stats().EStops)
	assert.True(t, r.engine.Halted())

	// Segments queued while halted are dropped as well
	require.NoError(t, r.queue.Push(constantSegment(standalone.StepVector{100}, 50)))
	for i := 0; i < 5000; i++ {
		r.engine.Tick()
	}
	assert.Equal(t, moved, r.out.rises[0])
	assert.Equal(t, 0, r.queue.Len())
	assert.Equal(t, uint32(1), r.engine.Stats().EStops)

	events := r.engine.Timing().Snapshot()
	require.NotEmpty(t, events)
	assert.Equal(t, uint8(core.EvtEmergencyStop), events[len(events)-1].EventType)

	// Resume after a reset from where the steppers stopped
	r.halt.Reset()
	r.planner.SetStepPosition(r.engine.Position())
	r.enqueue(t, standalone.AxisVector{0, 0, 0, 0}, 50)
	r.run(t, 1_000_000)
	assert.False(t, r.engine.Halted())
	assert.Equal(t, standalone.StepVector{}, r.engine.Position())
}

func TestIdleEngineEmitsNothing(t *testing.T) {
	r := newRig(t, nil)
	for i := 0; i < 100; i++ {
		r.engine.Tick()
	}
	assert.Equal(t, uint64(100), r.clock.Now())
	assert.Equal(t, [standalone.NumAxes]int{}, r.out.rises)
	assert.False(t, r.engine.Active())
}

func TestDryRunEmitsNoPulses(t *testing.T) {
	r := newRig(t, nil)
	require.NoError(t, r.planner.Enqueue(standalone.MoveRequest{
		Target:   standalone.AxisVector{10, 10, 0, 0},
		Feedrate: standalone.Feed(50),
		Flags:    standalone.FlagDryRun,
	}))

	ticks := r.run(t, 1_000_000)
	assert.Greater(t, ticks, 1000, "dry run still takes the move's time")
	assert.Equal(t, [standalone.NumAxes]int{}, r.out.rises)
	assert.Equal(t, standalone.StepVector{}, r.engine.Position())
	assert.Equal(t, uint32(1), r.engine.Stats().Segments)
}

func TestTimingRingRecordsSegments(t *testing.T) {
	r := newRig(t, nil)
	r.enqueue(t, standalone.AxisVector{1, 0, 0, 0}, 50)
	r.enqueue(t, standalone.AxisVector{2, 0, 0, 0}, 50)
	r.run(t, 100_000)

	var kinds []uint8
	for _, evt := range r.engine.Timing().Snapshot() {
		kinds = append(kinds, evt.EventType)
	}
	assert.Equal(t, []uint8{
		core.EvtSegmentLoad, core.EvtSegmentRetire,
		core.EvtSegmentLoad, core.EvtSegmentRetire,
	}, kinds)
}

type fakeSwitch struct{ pressed bool }

func (s *fakeSwitch) Get() bool { return s.pressed }

func limitRig(t *testing.T) (*rig, *fakeSwitch) {
	r := newRig(t, func(c *standalone.MachineConfig) { c.EnforceLimits = false })
	sw := &fakeSwitch{}
	r.engine.SetEndstops([]*core.Endstop{{
		Pin:         sw,
		Axis:        uint8(standalone.AxisX),
		ActiveHigh:  true,
		SampleTicks: 1,
		SampleCount: 3,
		RestTicks:   1,
	}})
	r.planner.SetPosition(standalone.AxisVector{50, 0, 0, 0})
	r.engine.SetPosition(r.planner.StepPosition())
	return r, sw
}

func TestLimitSwitchHaltsMotion(t *testing.T) {
	r, sw := limitRig(t)
	r.enqueue(t, standalone.AxisVector{0, 0, 0, 0}, 50)
	r.enqueue(t, standalone.AxisVector{0, 50, 0, 0}, 50)

	for i := 0; i < 5000; i++ {
		r.engine.Tick()
	}
	require.True(t, r.engine.Active())
	sw.pressed = true
	for i := 0; i < 10 && !r.engine.Halted(); i++ {
		r.engine.Tick()
	}

	require.True(t, r.engine.Halted())
	assert.True(t, r.halt.Active())
	assert.Equal(t, "limit switch x", r.halt.Reason())
	assert.Equal(t, 0, r.queue.Len())
	assert.Equal(t, uint32(1), r.engine.Stats().LimitStops)
	assert.Equal(t, uint32(1), r.engine.LimitHits(standalone.AxisX))

	seg, ok := r.engine.Blocked()
	require.True(t, ok)
	assert.True(t, seg.Flags.Has(standalone.FlagBlockedByLimit))
	assert.Equal(t, int32(-2000), seg.Steps[standalone.AxisX])

	moved := r.out.rises[standalone.AxisX]
	assert.Less(t, moved, 2000)
	assert.Equal(t, int32(2000-moved), r.engine.Position()[standalone.AxisX])
	for i := 0; i < 1000; i++ {
		r.engine.Tick()
	}
	assert.Equal(t, moved, r.out.rises[standalone.AxisX])
	assert.Zero(t, r.out.rises[standalone.AxisY])

	var kinds []uint8
	for _, evt := range r.engine.Timing().Snapshot() {
		kinds = append(kinds, evt.EventType)
	}
	assert.Equal(t, []uint8{core.EvtSegmentLoad, core.EvtLimit, core.EvtEmergencyStop}, kinds)
}

func TestLimitSwitchEndsHomingMove(t *testing.T) {
	r, sw := limitRig(t)
	require.NoError(t, r.planner.Enqueue(standalone.MoveRequest{
		Target:   standalone.AxisVector{-20, 0, 0, 0},
		Feedrate: standalone.Feed(25),
		Flags:    standalone.FlagHoming,
	}))
	r.enqueue(t, standalone.AxisVector{-20, 5, 0, 0}, 50)

	for i := 0; i < 20000; i++ {
		r.engine.Tick()
	}
	sw.pressed = true
	r.run(t, 1_000_000)

	assert.False(t, r.halt.Active(), "homing stops at the switch without a halt")
	assert.Equal(t, uint32(1), r.engine.LimitHits(standalone.AxisX))
	assert.Equal(t, uint32(2), r.engine.Stats().Segments)
	assert.Equal(t, 200, r.out.rises[standalone.AxisY], "the next move still runs")

	seg, ok := r.engine.Blocked()
	require.True(t, ok)
	assert.True(t, seg.Flags.Has(standalone.FlagHoming))
	assert.Less(t, r.out.rises[standalone.AxisX], 2800)
}

func TestLimitSwitchIgnoredMovingAway(t *testing.T) {
	r, sw := limitRig(t)
	sw.pressed = true
	r.enqueue(t, standalone.AxisVector{60, 0, 0, 0}, 50)
	r.run(t, 1_000_000)

	assert.False(t, r.halt.Active())
	assert.Equal(t, 400, r.out.rises[standalone.AxisX])
	assert.Zero(t, r.engine.Stats().LimitStops)
}
