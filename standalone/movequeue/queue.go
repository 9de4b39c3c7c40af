// Package movequeue holds planned segments between the planner (main loop)
// and the step engine (timer context).
//
// The backing array is a fixed arena. Ownership of a slot moves by index:
// the producer fills the slot at the tail and publishes it, the consumer
// reads and retires only the slot at the head. Head, tail and count are
// only touched inside a core critical section.
//
// The producer may rewrite the head slot until the consumer has started it.
package movequeue

import (
	"errors"

	"gomotion/core"
	"gomotion/standalone"
)

// DefaultCapacity is the number of slots of a standard queue
const DefaultCapacity = 16

// ErrStale is returned by Publish when the consumer retired or cleared
// segments after the snapshot was taken
var ErrStale = errors.New("move queue changed since snapshot")

// Queue is a single-producer single-consumer ring of segments
type Queue struct {
	slots []standalone.Segment

	// Guarded by core.DisableInterrupts
	head    int
	tail    int
	count   int
	epoch   uint32
	started bool // consumer is executing the head
}

// Snapshot is a consistent view of the queue indices
type Snapshot struct {
	Head    int
	Count   int
	Epoch   uint32 // bumped on every Start, Retire and Clear
	Started bool   // the head is executing and must not be rewritten
}

// New creates a queue with the given number of slots
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{slots: make([]standalone.Segment, capacity)}
}

// Cap returns the number of slots
func (q *Queue) Cap() int {
	return len(q.slots)
}

// Len returns the number of queued segments, including the executing one
func (q *Queue) Len() int {
	state := core.DisableInterrupts()
	n := q.count
	core.RestoreInterrupts(state)
	return n
}

// Snapshot returns the current indices
func (q *Queue) Snapshot() Snapshot {
	state := core.DisableInterrupts()
	s := Snapshot{Head: q.head, Count: q.count, Epoch: q.epoch, Started: q.started}
	core.RestoreInterrupts(state)
	return s
}

// At returns the slot i positions behind the head of a snapshot.
// i == s.Count addresses the free tail slot.
func (q *Queue) At(s Snapshot, i int) *standalone.Segment {
	return &q.slots[(s.Head+i)%len(q.slots)]
}

// Publish runs fill and appends the tail slot in one critical section.
// fill may write the tail slot and any queued slot; the head only if the
// snapshot says it has not been started.
// Nothing is changed if the snapshot is stale or the queue is full.
func (q *Queue) Publish(s Snapshot, fill func()) error {
	state := core.DisableInterrupts()
	defer core.RestoreInterrupts(state)

	if q.epoch != s.Epoch || q.count != s.Count {
		return ErrStale
	}
	if q.count == len(q.slots) {
		return standalone.ErrQueueFull
	}

	if fill != nil {
		fill()
	}
	q.tail = (q.tail + 1) % len(q.slots)
	q.count++
	return nil
}

// Push appends a segment without lookahead
func (q *Queue) Push(seg standalone.Segment) error {
	for {
		s := q.Snapshot()
		if s.Count == len(q.slots) {
			return standalone.ErrQueueFull
		}
		err := q.Publish(s, func() { *q.At(s, s.Count) = seg })
		if err != ErrStale {
			return err
		}
	}
}

// Head returns the segment at the head of the queue.
// The caller must be the consumer.
func (q *Queue) Head() (*standalone.Segment, bool) {
	state := core.DisableInterrupts()
	defer core.RestoreInterrupts(state)

	if q.count == 0 {
		return nil, false
	}
	return &q.slots[q.head], true
}

// Start marks the head as executing and returns a copy of it. From here on
// Publish only accepts snapshots that leave the head alone.
// The caller must be the consumer.
func (q *Queue) Start() (standalone.Segment, bool) {
	state := core.DisableInterrupts()
	defer core.RestoreInterrupts(state)

	if q.count == 0 {
		return standalone.Segment{}, false
	}
	if !q.started {
		q.started = true
		q.epoch++
	}
	return q.slots[q.head], true
}

// Retire releases the head slot
func (q *Queue) Retire() {
	state := core.DisableInterrupts()
	if q.count > 0 {
		q.head = (q.head + 1) % len(q.slots)
		q.count--
		q.epoch++
		q.started = false
	}
	core.RestoreInterrupts(state)
}

// Clear drops every queued segment
func (q *Queue) Clear() {
	state := core.DisableInterrupts()
	q.head = q.tail
	q.count = 0
	q.epoch++
	q.started = false
	core.RestoreInterrupts(state)
}
