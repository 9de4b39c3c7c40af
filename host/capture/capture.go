// Package capture reads a recorded trace stream back and summarizes it:
// pulses and net travel per axis, heater activity and markers.
package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gomotion/protocol"
	"gomotion/standalone"
)

// HeaterTrace is what happened on one heater output
type HeaterTrace struct {
	Changes  int    `json:"changes"`
	LastDuty uint8  `json:"last_duty"`
	MaxDuty  uint8  `json:"max_duty"`
	OnTicks  uint64 `json:"on_ticks"` // time spent with a non-zero duty

	since uint64
}

// Summary is the digest of a trace
type Summary struct {
	Events     int                        `json:"events"`
	FirstClock uint64                     `json:"first_clock"`
	LastClock  uint64                     `json:"last_clock"`
	Pulses     [standalone.NumAxes]uint64 `json:"pulses"`
	Position   standalone.StepVector      `json:"position"` // net steps, direction applied
	Heaters    map[uint8]*HeaterTrace     `json:"heaters,omitempty"`
	Marks      []protocol.Event           `json:"marks,omitempty"`
	Frames     protocol.DecoderStats      `json:"frames"`

	dir [standalone.NumAxes]int32
}

// NewSummary returns an empty summary; directions start positive
func NewSummary() *Summary {
	s := &Summary{Heaters: make(map[uint8]*HeaterTrace)}
	for i := range s.dir {
		s.dir[i] = 1
	}
	return s
}

// Add folds one event into the summary
func (s *Summary) Add(e protocol.Event) {
	if s.Events == 0 {
		s.FirstClock = e.Clock
	}
	s.Events++
	s.LastClock = e.Clock

	switch e.Kind {
	case protocol.EventStep:
		if int(e.Channel) >= standalone.NumAxes || e.Value == 0 {
			return
		}
		s.Pulses[e.Channel]++
		s.Position[e.Channel] += s.dir[e.Channel]
	case protocol.EventDir:
		if int(e.Channel) >= standalone.NumAxes {
			return
		}
		s.dir[e.Channel] = 1
		if e.Value == 0 {
			s.dir[e.Channel] = -1
		}
	case protocol.EventHeater:
		h := s.Heaters[e.Channel]
		if h == nil {
			h = &HeaterTrace{}
			s.Heaters[e.Channel] = h
		}
		if h.LastDuty > 0 {
			h.OnTicks += e.Clock - h.since
		}
		duty := uint8(e.Value)
		h.Changes++
		h.LastDuty = duty
		h.since = e.Clock
		if duty > h.MaxDuty {
			h.MaxDuty = duty
		}
	case protocol.EventMark:
		s.Marks = append(s.Marks, e)
	}
}

// Close accounts heaters still on at the end of the trace
func (s *Summary) Close() {
	for _, h := range s.Heaters {
		if h.LastDuty > 0 {
			h.OnTicks += s.LastClock - h.since
			h.since = s.LastClock
		}
	}
}

// Read decodes every event from r into a summary
func Read(r io.Reader) (*Summary, error) {
	tr := protocol.NewTraceReader(r)
	s := NewSummary()
	for {
		e, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.Frames = tr.Stats()
			return s, fmt.Errorf("trace event %d: %w", s.Events, err)
		}
		s.Add(e)
	}
	s.Close()
	s.Frames = tr.Stats()
	return s, nil
}

// WriteJSON writes the summary as indented JSON
func (s *Summary) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
