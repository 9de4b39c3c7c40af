package protocol

import (
	"errors"
	"io"
	"sync"
)

// maxClockDelta is the largest clock gap encoded as a delta; longer gaps
// start a new frame
const maxClockDelta = 1 << 31

// TraceWriter batches events into frames and writes them to an io.Writer.
// Events must be written in clock order; gaps of 2^32 ticks or more
// cannot be represented.
type TraceWriter struct {
	mu      sync.Mutex
	w       io.Writer
	seq     uint8
	payload ScratchOutput
	frame   ScratchOutput
	count   int
	last    uint64
	frames  uint32
	err     error
}

// NewTraceWriter creates a writer emitting frames to w
func NewTraceWriter(w io.Writer) *TraceWriter {
	return &TraceWriter{w: w, seq: MessageDest}
}

// Write adds an event, flushing the current frame when it is full
func (t *TraceWriter) Write(e Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err != nil {
		return t.err
	}
	if t.count > 0 && (t.payload.CurPosition()+EventSizeMax > MessagePayloadMax || e.Clock-t.last >= maxClockDelta) {
		t.flushLocked()
	}
	EncodeEvent(&t.payload, e, t.last, t.count == 0)
	t.last = e.Clock
	t.count++
	return t.err
}

// Flush writes the pending frame
func (t *TraceWriter) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.flushLocked()
	return t.err
}

func (t *TraceWriter) flushLocked() {
	if t.count == 0 || t.err != nil {
		return
	}
	payload := t.payload.Result()
	t.frame.Reset()
	if err := EncodeFrame(&t.frame, t.seq, func(output OutputBuffer) { output.Output(payload) }); err != nil {
		t.err = err
		return
	}
	if _, err := t.w.Write(t.frame.Result()); err != nil {
		t.err = err
		return
	}
	t.seq = NextSequence(t.seq)
	t.payload.Reset()
	t.count = 0
	t.frames++
}

// Frames returns the number of frames written
func (t *TraceWriter) Frames() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

// TraceReader decodes events from a stream of frames
type TraceReader struct {
	r       io.Reader
	buf     *ReceiveBuffer
	dec     *Decoder
	chunk   [256]byte
	clock   uint64
	pending []Event
	err     error
}

// NewTraceReader creates a reader over r
func NewTraceReader(r io.Reader) *TraceReader {
	return &TraceReader{
		r:   r,
		buf: NewReceiveBuffer(4 * MessageMax),
		dec: NewDecoder(),
	}
}

// Next returns the next event, or io.EOF once the stream is exhausted.
// Corrupted frames are skipped and counted in Stats.
func (t *TraceReader) Next() (Event, error) {
	for len(t.pending) == 0 {
		if t.err != nil {
			return Event{}, t.err
		}
		n, err := t.r.Read(t.chunk[:])
		if n > 0 {
			t.buf.Write(t.chunk[:n])
			t.dec.Receive(t.buf, t.decodeFrame)
		}
		if err != nil && t.err == nil {
			t.err = err
		}
	}
	e := t.pending[0]
	t.pending = t.pending[1:]
	return e, nil
}

func (t *TraceReader) decodeFrame(_ uint8, payload []byte) {
	clock, err := DecodeEvents(payload, t.clock, func(e Event) {
		t.pending = append(t.pending, e)
	})
	t.clock = clock
	if err != nil && t.err == nil {
		t.err = err
	}
}

// ReadAll returns every event up to the end of the stream
func (t *TraceReader) ReadAll() ([]Event, error) {
	var out []Event
	for {
		e, err := t.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
}

// Stats returns the frame decoder counters
func (t *TraceReader) Stats() DecoderStats {
	return t.dec.Stats()
}
