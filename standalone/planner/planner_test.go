package planner

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomotion/standalone"
	"gomotion/standalone/config"
	"gomotion/standalone/kinematics"
	"gomotion/standalone/movequeue"
)

func newTestPlanner(t *testing.T, mutate func(*standalone.MachineConfig)) (*Planner, *movequeue.Queue) {
	t.Helper()
	cfg := config.DefaultCartesianConfig()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, config.Validate(cfg))

	kin, err := kinematics.NewCartesian(cfg)
	require.NoError(t, err)
	q := movequeue.New(cfg.QueueCapacity)
	return NewPlanner(cfg, kin, q), q
}

func xy(x, y float32) standalone.AxisVector {
	return standalone.AxisVector{x, y, 0, 0}
}

func move(target standalone.AxisVector, feed float32) standalone.MoveRequest {
	return standalone.MoveRequest{Target: target, Feedrate: standalone.Feed(feed)}
}

func queued(q *movequeue.Queue) []standalone.Segment {
	snap := q.Snapshot()
	segs := make([]standalone.Segment, snap.Count)
	for i := range segs {
		segs[i] = *q.At(snap, i)
	}
	return segs
}

func checkSegment(t *testing.T, i int, seg standalone.Segment) {
	t.Helper()
	n, _ := seg.Steps.MaxAbs()
	require.Equal(t, n, seg.AccelSteps+seg.PlateauSteps+seg.DecelSteps, "segment %d partition", i)
	require.LessOrEqual(t, seg.EntrySpeed, seg.NominalSpeed, "segment %d entry", i)
	require.LessOrEqual(t, seg.ExitSpeed, seg.NominalSpeed, "segment %d exit", i)
	require.Greater(t, seg.EntrySpeed, float32(0), "segment %d entry", i)

	// Both ramps must fit the segment at its acceleration limit
	budget := 2 * float64(seg.Accel) * float64(seg.Distance)
	change := math.Abs(float64(seg.ExitSpeed)*float64(seg.ExitSpeed) - float64(seg.EntrySpeed)*float64(seg.EntrySpeed))
	require.LessOrEqual(t, change, budget*1.0001+1e-3, "segment %d ramp", i)
}

func checkJunction(t *testing.T, i int, a, b standalone.Segment, jerk float32) {
	t.Helper()
	require.Equal(t, a.ExitSpeed, b.EntrySpeed, "junction %d speeds", i)
	for axis := range a.Unit {
		dv := math.Abs(float64(a.ExitSpeed*a.Unit[axis] - b.EntrySpeed*b.Unit[axis]))
		require.LessOrEqual(t, dv, float64(jerk)+1e-3, "junction %d axis %d", i, axis)
	}
}

func TestCornerJunctionSpeed(t *testing.T) {
	p, q := newTestPlanner(t, nil)

	require.NoError(t, p.Enqueue(move(xy(10, 0), 50)))
	require.NoError(t, p.Enqueue(move(xy(60, 0), 50)))
	require.NoError(t, p.Enqueue(move(xy(60, 50), 50)))

	segs := queued(q)
	require.Len(t, segs, 3)
	x, y := segs[1], segs[2]

	// 50 mm/s along X into 50 mm/s along Y with a 40 mm/s jerk limit
	assert.InDelta(t, 28.284, x.ExitSpeed, 0.01)
	assert.LessOrEqual(t, x.ExitSpeed, float32(28.3))
	assert.Equal(t, x.ExitSpeed, y.EntrySpeed)
	assert.InDelta(t, 28.284, y.MaxEntrySpeed, 0.01)
	checkJunction(t, 1, x, y, 40)
}

func TestCollinearMovesKeepSpeed(t *testing.T) {
	p, q := newTestPlanner(t, nil)

	require.NoError(t, p.Enqueue(move(xy(10, 0), 50)))
	segs := queued(q)
	assert.Equal(t, float32(20), segs[0].EntrySpeed, "start from standstill at half the jerk limit")
	assert.Equal(t, float32(0.1), segs[0].ExitSpeed, "tail plans to stop")

	require.NoError(t, p.Enqueue(move(xy(60, 0), 50)))
	segs = queued(q)
	assert.Equal(t, float32(50), segs[0].ExitSpeed, "a head that has not started is re-planned")
	assert.Equal(t, float32(50), segs[1].EntrySpeed)

	// 20 -> 50 mm/s at 40 steps/mm and 1000 mm/s^2: (2000^2 - 800^2) / 80000 steps
	assert.Equal(t, uint32(42), segs[0].AccelSteps)
	assert.Equal(t, uint32(358), segs[0].PlateauSteps)
	assert.Equal(t, uint32(0), segs[0].DecelSteps)

	_, ok := q.Start()
	require.True(t, ok)
	require.NoError(t, p.Enqueue(move(xy(110, 0), 50)))
	segs = queued(q)
	require.Len(t, segs, 3)

	assert.Equal(t, float32(50), segs[0].ExitSpeed)
	assert.Equal(t, float32(50), segs[1].EntrySpeed)
	assert.Equal(t, float32(50), segs[1].ExitSpeed)
	assert.Equal(t, float32(50), segs[2].EntrySpeed)
	assert.Equal(t, float32(0.1), segs[2].ExitSpeed)
	assert.Equal(t, uint32(2000), segs[1].PlateauSteps)
	assert.Equal(t, uint32(50), segs[2].DecelSteps)
}

func TestStartedHeadIsNotReplanned(t *testing.T) {
	p, q := newTestPlanner(t, nil)

	require.NoError(t, p.Enqueue(move(xy(10, 0), 50)))
	head, ok := q.Start()
	require.True(t, ok)

	require.NoError(t, p.Enqueue(move(xy(60, 0), 50)))
	segs := queued(q)
	assert.Equal(t, head, segs[0])
	assert.Equal(t, float32(0.1), segs[1].EntrySpeed, "continues from the speed the head stops at")
	checkJunction(t, 1, segs[0], segs[1], 40)
}

func TestTrapezoidShapes(t *testing.T) {
	t.Run("plateau", func(t *testing.T) {
		p, q := newTestPlanner(t, nil)
		require.NoError(t, p.Enqueue(move(xy(100, 0), 100)))
		seg := queued(q)[0]

		assert.Equal(t, uint32(4000), seg.StepCount)
		assert.Equal(t, uint32(192), seg.AccelSteps)
		assert.Equal(t, uint32(3608), seg.PlateauSteps)
		assert.Equal(t, uint32(200), seg.DecelSteps)
		assert.Equal(t, float32(100), seg.PeakSpeed)
	})

	t.Run("triangle", func(t *testing.T) {
		p, q := newTestPlanner(t, nil)
		require.NoError(t, p.Enqueue(move(xy(1, 0), 100)))
		seg := queued(q)[0]

		assert.Equal(t, uint32(16), seg.AccelSteps)
		assert.Equal(t, uint32(0), seg.PlateauSteps)
		assert.Equal(t, uint32(24), seg.DecelSteps)
		assert.InDelta(t, 34.64, seg.PeakSpeed, 0.01)
	})
}

func TestQueuePropertiesAlongPath(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*standalone.MachineConfig)
		path   []standalone.AxisVector
	}{
		{
			name: "print",
			path: []standalone.AxisVector{
				{10, 10, 0, 0.5}, {20, 15, 0, 1.0}, {15, 30, 0, 1.5}, {40, 32, 0, 2.0},
				{42, 60, 0, 2.5}, {10, 61, 0, 3.0}, {80, 90, 0, 3.5}, {81, 90.5, 0, 3.6},
				{120, 20, 0, 4.5}, {120, 21, 0.2, 4.5}, {119, 21, 0.2, 4.4}, {150, 150, 0.2, 6.0},
				{150.2, 150.1, 0.2, 6.01}, {30, 150, 0.2, 8.0}, {30, 10, 0.2, 10.0},
			},
		},
		{
			name: "fast into slow axis",
			path: []standalone.AxisVector{
				{0, 20, 0, 0}, {0, 20, 1, 0}, {0, 40, 1, 0}, {0, 40, 1.5, 0}, {20, 40, 1.5, 0},
			},
		},
		{
			name: "extruder heavy junctions",
			mutate: func(c *standalone.MachineConfig) {
				e := c.Axes["e"]
				e.MaxFeedrate = 40
				c.Axes["e"] = e
			},
			path: []standalone.AxisVector{
				{10, 0, 0, 0}, {11, 0, 0, 4}, {10, 0, 0, 0}, {10, 0, 0, 3}, {12, 0.5, 0, 9},
				{30, 0.5, 0, 9.5}, {30, 0.5, 0, 8}, {30.2, 0.5, 0, 12},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, q := newTestPlanner(t, tt.mutate)
			for step, target := range tt.path {
				require.NoError(t, p.Enqueue(move(target, 80)), "move %d", step)

				// The executing head must stay consistent with later moves
				switch step {
				case 1:
					q.Start()
				case 4:
					q.Retire()
					q.Start()
				}

				segs := queued(q)
				for i, seg := range segs {
					checkSegment(t, i, seg)
					if i > 0 {
						checkJunction(t, i, segs[i-1], seg, 40)
					}
				}
				tail := segs[len(segs)-1]
				assert.Equal(t, float32(0.1), tail.ExitSpeed, "tail must be able to stop")
			}
		})
	}
}

func TestTravelAcceleration(t *testing.T) {
	p, q := newTestPlanner(t, func(c *standalone.MachineConfig) {
		for _, name := range []string{"x", "y"} {
			a := c.Axes[name]
			a.MaxTravelAccel = 3000
			c.Axes[name] = a
		}
	})

	require.NoError(t, p.Enqueue(move(xy(10, 0), 50)))
	require.NoError(t, p.Enqueue(move(standalone.AxisVector{20, 0, 0, 0.5}, 50)))
	segs := queued(q)
	assert.Equal(t, float32(3000), segs[0].Accel, "travel move")
	assert.Equal(t, float32(1000), segs[1].Accel, "extruding move")
}

func TestQueueFullScenario(t *testing.T) {
	p, q := newTestPlanner(t, nil)
	require.Equal(t, 16, q.Cap())

	for i := 1; i <= 16; i++ {
		require.NoError(t, p.Enqueue(move(xy(float32(i), 0), 50)))
	}
	assert.Equal(t, 16, q.Len())

	err := p.Enqueue(move(xy(17, 0), 50))
	assert.ErrorIs(t, err, standalone.ErrQueueFull)
	assert.Equal(t, 16, q.Len())
	assert.Equal(t, xy(16, 0), p.Position(), "rejected move does not change position")

	q.Retire()
	require.NoError(t, p.Enqueue(move(xy(17, 0), 50)))
	assert.Equal(t, 16, q.Len())
}

func TestZeroLengthRejected(t *testing.T) {
	p, q := newTestPlanner(t, nil)
	require.NoError(t, p.Enqueue(move(xy(10, 10), 50)))

	assert.ErrorIs(t, p.Enqueue(move(xy(10, 10), 50)), standalone.ErrZeroLength)
	assert.Equal(t, 1, q.Len())

	// 0.01 mm is less than half a step at 40 steps/mm
	assert.ErrorIs(t, p.Enqueue(move(xy(10.01, 10), 50)), standalone.ErrZeroLength)
	assert.Equal(t, 1, q.Len())
}

func TestFeedrateHandling(t *testing.T) {
	p, q := newTestPlanner(t, nil)

	require.NoError(t, p.Enqueue(move(xy(10, 0), 0)))
	require.NoError(t, p.Enqueue(standalone.MoveRequest{Target: xy(20, 0)}))
	require.NoError(t, p.Enqueue(move(xy(30, 0), 120)))
	require.NoError(t, p.Enqueue(standalone.MoveRequest{Target: xy(40, 0)}))

	segs := queued(q)
	assert.Equal(t, float32(0.1), segs[0].NominalSpeed, "zero feedrate clamps to the minimum speed")
	assert.Equal(t, float32(0.1), segs[1].NominalSpeed, "feedrate is modal")
	assert.Equal(t, float32(120), segs[2].NominalSpeed)
	assert.Equal(t, float32(120), segs[3].NominalSpeed)
	assert.Equal(t, float32(120), p.Feedrate())
}

func TestAxisLimitsScaleNominal(t *testing.T) {
	p, q := newTestPlanner(t, nil)

	require.NoError(t, p.Enqueue(move(standalone.AxisVector{0, 0, 5, 0}, 50)))
	require.NoError(t, p.Enqueue(move(standalone.AxisVector{30, 40, 5, 0}, 500)))

	segs := queued(q)
	z := segs[0]
	assert.Equal(t, standalone.AxisZ, z.PrimaryAxis)
	assert.Equal(t, float32(3), z.NominalSpeed)
	assert.Equal(t, float32(50), z.Accel)

	// 3-4-5 triangle: Y moves 0.8 mm per path mm, capped at 200 mm/s
	diag := segs[1]
	assert.InDelta(t, 250, diag.NominalSpeed, 1e-3)
	assert.InDelta(t, 1250, diag.Accel, 1e-3)
	assert.Equal(t, standalone.AxisY, diag.PrimaryAxis)
	if diff := cmp.Diff(standalone.StepVector{1200, 1600, 0, 0}, diag.Steps); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}
}

func TestExtruderOnlyMove(t *testing.T) {
	p, q := newTestPlanner(t, nil)

	require.NoError(t, p.Enqueue(move(standalone.AxisVector{0, 0, 0, -2}, 40)))
	seg := queued(q)[0]
	assert.Equal(t, standalone.AxisE, seg.PrimaryAxis)
	assert.Equal(t, int32(-746), seg.Steps[standalone.AxisE])
	assert.Equal(t, float32(2), seg.Distance)
	assert.Equal(t, float32(20), seg.NominalSpeed)
	assert.Equal(t, float32(-1), seg.Unit[standalone.AxisE])
	assert.Equal(t, float32(10), seg.EntrySpeed, "capped at the extruder start feedrate")

	// The cap also holds at a junction with a travel move
	require.NoError(t, p.Enqueue(move(standalone.AxisVector{5, 0, 0, -2}, 50)))
	require.NoError(t, p.Enqueue(move(standalone.AxisVector{5, 0, 0, 0}, 40)))
	segs := queued(q)
	require.Len(t, segs, 3)
	assert.LessOrEqual(t, segs[2].EntrySpeed, float32(10))
	checkJunction(t, 2, segs[1], segs[2], 40)
}

func TestSoftLimits(t *testing.T) {
	p, q := newTestPlanner(t, nil)

	err := p.Enqueue(move(xy(300, 0), 50))
	assert.ErrorIs(t, err, standalone.ErrOutOfBounds)
	assert.Equal(t, 0, q.Len())

	req := move(xy(-5, 0), 50)
	req.Flags = standalone.FlagHoming
	require.NoError(t, p.Enqueue(req))
	assert.True(t, queued(q)[0].Flags.Has(standalone.FlagHoming))
}

func TestAdvanceTarget(t *testing.T) {
	p, q := newTestPlanner(t, func(c *standalone.MachineConfig) {
		c.AdvanceEnabled = true
		c.AdvanceK = 0.05
	})

	require.NoError(t, p.Enqueue(move(standalone.AxisVector{10, 0, 0, 1}, 50)))
	require.NoError(t, p.Enqueue(move(standalone.AxisVector{20, 0, 0, 0}, 50)))
	require.NoError(t, p.Enqueue(move(standalone.AxisVector{20, 0, 0, 2}, 20)))

	segs := queued(q)
	// K * (373 / 400) E steps per X step * 50 mm/s * 40 steps/mm
	assert.InDelta(t, 93.25, segs[0].AdvanceTarget, 0.01)
	assert.Zero(t, segs[1].AdvanceTarget, "retraction")
	assert.Zero(t, segs[2].AdvanceTarget, "extruder is the primary axis")
}

func TestSetStepPosition(t *testing.T) {
	p, q := newTestPlanner(t, nil)

	p.SetStepPosition(standalone.StepVector{400, 80, 0, 373})
	assert.Equal(t, standalone.AxisVector{10, 2, 0, 1}, p.Position())

	require.NoError(t, p.Enqueue(move(xy(20, 2), 50)))
	seg := queued(q)[0]
	assert.Equal(t, standalone.StepVector{400, 0, 0, -373}, seg.Steps)

	p.SetPosition(standalone.AxisVector{0, 0, 0, 0})
	assert.Equal(t, standalone.StepVector{}, p.StepPosition())
}
