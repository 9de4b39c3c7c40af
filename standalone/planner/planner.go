// Package planner turns Cartesian move requests into queued segments with
// jerk-limited junctions and trapezoidal step ramps.
package planner

import (
	"errors"
	"math"

	"gomotion/standalone"
	"gomotion/standalone/kinematics"
	"gomotion/standalone/movequeue"
)

// Planner handles motion planning. It runs in the main loop and is the only
// producer of its move queue.
type Planner struct {
	config     *standalone.MachineConfig
	kinematics kinematics.Kinematics
	queue      *movequeue.Queue

	stepsPerMM  standalone.AxisVector
	maxFeed     standalone.AxisVector
	maxAccel    standalone.AxisVector
	travelAccel standalone.AxisVector // moves that do not extrude
	eStartFeed  float32               // extruder-only start cap, 0 = none
	jerk        float32
	minSpeed    float32
	advanceK    float32 // 0 when pressure advance is off

	// Last accepted target
	position standalone.AxisVector
	steps    standalone.StepVector
	feedrate float32

	scratch []standalone.Segment
}

// NewPlanner creates a new motion planner feeding queue
func NewPlanner(config *standalone.MachineConfig, kin kinematics.Kinematics, queue *movequeue.Queue) *Planner {
	p := &Planner{
		config:     config,
		kinematics: kin,
		queue:      queue,
		stepsPerMM: kin.StepsPerMM(),
		jerk:       config.JerkLimit,
		minSpeed:   config.MinimumSpeed,
		feedrate:   config.DefaultFeedrate,
		scratch:    make([]standalone.Segment, queue.Cap()+1),
	}
	for i := standalone.Axis(0); i < standalone.NumAxes; i++ {
		axis, _ := config.Axis(i)
		p.maxFeed[i] = axis.MaxFeedrate
		p.maxAccel[i] = axis.MaxAccel
		p.travelAccel[i] = axis.MaxTravelAccel
		if p.travelAccel[i] <= 0 {
			p.travelAccel[i] = axis.MaxAccel
		}
	}
	if e, ok := config.Axis(standalone.AxisE); ok {
		p.eStartFeed = e.MaxStartFeedrate
	}
	if config.AdvanceEnabled {
		p.advanceK = config.AdvanceK
	}
	if p.minSpeed <= 0 {
		p.minSpeed = 0.1
	}
	return p
}

// Enqueue plans a move to req.Target and appends it to the queue.
// It returns standalone.ErrQueueFull when no slot is free; the caller
// retries later. Requests that move no axis by a whole step return
// standalone.ErrZeroLength and leave the queue untouched.
func (p *Planner) Enqueue(req standalone.MoveRequest) error {
	if p.config.EnforceLimits && !req.Flags.Has(standalone.FlagHoming) {
		if err := p.kinematics.CheckLimits(req.Target); err != nil {
			return err
		}
	}

	feed := p.feedrate
	if req.Feedrate != nil {
		feed = *req.Feedrate
	}
	if feed < p.minSpeed {
		feed = p.minSpeed
	}

	target := p.kinematics.StepPosition(req.Target)
	var delta standalone.StepVector
	for i := range delta {
		delta[i] = target[i] - p.steps[i]
	}
	if delta.IsZero() {
		p.position = req.Target
		if req.Feedrate != nil {
			p.feedrate = feed
		}
		return standalone.ErrZeroLength
	}

	seg := p.newSegment(delta, feed, req.Flags)
	for {
		snap := p.queue.Snapshot()
		if snap.Count == p.queue.Cap() {
			return standalone.ErrQueueFull
		}
		first := p.lookahead(snap, seg)
		err := p.queue.Publish(snap, func() {
			for i := first; i <= snap.Count; i++ {
				*p.queue.At(snap, i) = p.scratch[i]
			}
		})
		if errors.Is(err, movequeue.ErrStale) {
			continue
		}
		if err != nil {
			return err
		}
		break
	}

	p.position = req.Target
	p.steps = target
	p.feedrate = feed
	return nil
}

// newSegment fills the direction-dependent limits of a move
func (p *Planner) newSegment(delta standalone.StepVector, feed float32, flags standalone.SegmentFlags) standalone.Segment {
	seg := standalone.Segment{Steps: delta, Flags: flags}
	seg.StepCount, seg.PrimaryAxis = delta.MaxAbs()

	var mm [standalone.NumAxes]float64
	for i := range mm {
		mm[i] = float64(delta[i]) / float64(p.stepsPerMM[i])
	}
	dist := math.Sqrt(mm[0]*mm[0] + mm[1]*mm[1] + mm[2]*mm[2])
	if dist == 0 {
		dist = math.Abs(mm[standalone.AxisE])
	}

	accelLimit := &p.maxAccel
	if delta[standalone.AxisE] == 0 {
		accelLimit = &p.travelAccel
	}

	nominal := float64(feed)
	accel := math.Inf(1)
	for i, d := range mm {
		seg.Unit[i] = float32(d / dist)
		if d == 0 {
			continue
		}
		ratio := dist / math.Abs(d)
		nominal = math.Min(nominal, float64(p.maxFeed[i])*ratio)
		accel = math.Min(accel, float64(accelLimit[i])*ratio)
	}
	nominal = math.Max(nominal, float64(p.minSpeed))

	seg.Distance = float32(dist)
	seg.NominalSpeed = float32(nominal)
	seg.Accel = float32(accel)
	seg.StepsPerMM = float32(float64(seg.StepCount) / dist)

	if p.advanceK > 0 && delta[standalone.AxisE] > 0 && seg.PrimaryAxis != standalone.AxisE {
		eRatio := float64(delta[standalone.AxisE]) / float64(seg.StepCount)
		seg.AdvanceTarget = float32(float64(p.advanceK) * eRatio * nominal * float64(seg.StepsPerMM))
	}
	return seg
}

// lookahead plans seg behind the queued segments of snap into p.scratch.
// It returns the first scratch index that differs from the queue; every
// index from there to snap.Count must be written back.
//
// Every exit speed equals the next entry speed and the tail plans to stop
// at the minimum speed. Appending a segment can then only raise exits, so
// a started head keeps a consistent junction with its successor.
func (p *Planner) lookahead(snap movequeue.Snapshot, seg standalone.Segment) int {
	n := snap.Count
	sc := p.scratch

	// A started head is executing and is never re-planned
	first := 0
	var head *standalone.Segment
	if n > 0 && snap.Started {
		head = p.queue.At(snap, 0)
		first = 1
	}
	for i := first; i < n; i++ {
		sc[i] = *p.queue.At(snap, i)
	}

	if n > 0 {
		prev := p.queue.At(snap, n-1)
		seg.MaxEntrySpeed = max(p.junctionSpeed(prev, &seg), p.minSpeed)
	} else {
		seg.MaxEntrySpeed = p.safeSpeed(&seg)
	}
	if p.extruderOnly(&seg) && p.eStartFeed > 0 {
		seg.MaxEntrySpeed = max(min(seg.MaxEntrySpeed, p.eStartFeed), p.minSpeed)
	}
	seg.ExitSpeed = p.minSpeed
	seg.EntrySpeed = 0
	sc[n] = seg

	// Backward: every segment must be able to slow down to its exit speed
	start := first
	for j := n; j >= first; j-- {
		cur := &sc[j]
		if j < n {
			exit := sc[j+1].EntrySpeed
			if exit == cur.ExitSpeed {
				start = j + 1
				break
			}
			cur.ExitSpeed = exit
		}
		entry := min(cur.MaxEntrySpeed, reach(cur.ExitSpeed, cur.Accel, cur.Distance))
		if j == first && head != nil {
			entry = min(entry, head.ExitSpeed)
		}
		cur.EntrySpeed = entry
	}

	// Forward: every segment must be able to speed up to its exit speed
	for j := start; j <= n; j++ {
		cur := &sc[j]
		if j > start {
			cur.EntrySpeed = min(cur.EntrySpeed, sc[j-1].ExitSpeed)
		}
		cur.ExitSpeed = min(cur.ExitSpeed, reach(cur.EntrySpeed, cur.Accel, cur.Distance))
		computeTrapezoid(cur)
	}
	return start
}

// junctionSpeed returns the highest common speed at which the path may turn
// from prev into next without any axis velocity changing by more than the
// jerk limit.
func (p *Planner) junctionSpeed(prev, next *standalone.Segment) float32 {
	var sum float64
	for i := range next.Unit {
		d := float64(prev.Unit[i] - next.Unit[i])
		sum += d * d
	}
	v := min(prev.NominalSpeed, next.NominalSpeed)
	if diff := math.Sqrt(sum); diff > 0 {
		v = min(v, float32(float64(p.jerk)/diff))
	}
	return v
}

// safeSpeed is the speed a segment may start at from standstill: no axis
// jumps by more than half the jerk limit
func (p *Planner) safeSpeed(seg *standalone.Segment) float32 {
	var worst float32 = 1
	for _, u := range seg.Unit {
		worst = max(worst, abs(u))
	}
	v := min(p.jerk/(2*worst), seg.NominalSpeed)
	if p.extruderOnly(seg) && p.eStartFeed > 0 {
		v = min(v, p.eStartFeed)
	}
	return max(v, p.minSpeed)
}

func (p *Planner) extruderOnly(seg *standalone.Segment) bool {
	return seg.Steps[standalone.AxisX] == 0 && seg.Steps[standalone.AxisY] == 0 && seg.Steps[standalone.AxisZ] == 0
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// reach returns the speed reachable from v over dist at accel
func reach(v, accel, dist float32) float32 {
	return float32(math.Sqrt(float64(v)*float64(v) + 2*float64(accel)*float64(dist)))
}

// computeTrapezoid partitions the primary axis steps into accel, plateau and
// decel phases for the segment's entry, nominal and exit speeds
func computeTrapezoid(seg *standalone.Segment) {
	n := float64(seg.StepCount)
	k := float64(seg.StepsPerMM)
	accel := float64(seg.Accel) * k
	ve := float64(seg.EntrySpeed) * k
	vx := float64(seg.ExitSpeed) * k
	vn := float64(seg.NominalSpeed) * k

	up := (vn*vn - ve*ve) / (2 * accel)
	down := (vn*vn - vx*vx) / (2 * accel)

	if up+down <= n {
		a := uint32(math.Round(up))
		d := uint32(math.Round(down))
		if a+d > seg.StepCount {
			d = seg.StepCount - a
		}
		seg.AccelSteps = a
		seg.DecelSteps = d
		seg.PlateauSteps = seg.StepCount - a - d
		seg.PeakSpeed = seg.NominalSpeed
		return
	}

	// No room for a plateau: accelerate until the decel ramp meets it
	x := (2*accel*n + vx*vx - ve*ve) / (4 * accel)
	x = math.Max(0, math.Min(n, x))
	a := uint32(math.Round(x))
	if a > seg.StepCount {
		a = seg.StepCount
	}
	seg.AccelSteps = a
	seg.PlateauSteps = 0
	seg.DecelSteps = seg.StepCount - a
	peak := math.Sqrt(ve*ve+2*accel*x) / k
	seg.PeakSpeed = float32(math.Min(peak, float64(seg.NominalSpeed)))
}

// Position returns the last accepted target
func (p *Planner) Position() standalone.AxisVector {
	return p.position
}

// StepPosition returns the absolute step position of the last accepted target
func (p *Planner) StepPosition() standalone.StepVector {
	return p.steps
}

// SetPosition redefines the current position without moving
func (p *Planner) SetPosition(pos standalone.AxisVector) {
	p.position = pos
	p.steps = p.kinematics.StepPosition(pos)
}

// SetStepPosition resynchronizes the planner with the steppers after motion
// was aborted, e.g. with the engine's step counters after an emergency stop
func (p *Planner) SetStepPosition(steps standalone.StepVector) {
	p.steps = steps
	for i := range steps {
		p.position[i] = float32(steps[i]) / p.stepsPerMM[i]
	}
}

// Feedrate returns the modal feedrate in mm/s
func (p *Planner) Feedrate() float32 {
	return p.feedrate
}
