package protocol

// InputBuffer is the byte source the frame decoder consumes from
type InputBuffer interface {
	Data() []byte   // unconsumed bytes, contiguous
	Available() int // len(Data())
	Pop(n int)      // consume n bytes from the front
}

// OutputBuffer is the sink frames and events are encoded into. Update and
// DataSince let EncodeFrame patch the length byte and checksum what it
// wrote.
type OutputBuffer interface {
	Output(data []byte)
	CurPosition() int
	Update(pos int, val byte)
	DataSince(pos int) []byte
}

// SliceInputBuffer decodes from a complete trace held in memory
type SliceInputBuffer struct {
	data []byte
}

// NewSliceInputBuffer wraps data; the slice is not copied
func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte   { return s.data }
func (s *SliceInputBuffer) Available() int { return len(s.data) }

func (s *SliceInputBuffer) Pop(n int) {
	s.data = s.data[min(n, len(s.data)):]
}

// ScratchOutput holds one frame, or one frame's payload, while it is
// encoded. Output beyond MessageMax is truncated; EncodeFrame rejects
// payloads long before that.
type ScratchOutput struct {
	buf [MessageMax]byte
	n   int
}

// NewScratchOutput returns an empty buffer
func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{}
}

func (s *ScratchOutput) Output(data []byte) {
	s.n += copy(s.buf[s.n:], data)
}

func (s *ScratchOutput) CurPosition() int { return s.n }

func (s *ScratchOutput) Update(pos int, val byte) {
	if pos < s.n {
		s.buf[pos] = val
	}
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos > s.n {
		return nil
	}
	return s.buf[pos:s.n]
}

// Result returns the bytes written since the last Reset
func (s *ScratchOutput) Result() []byte { return s.buf[:s.n] }

// Reset empties the buffer for the next frame
func (s *ScratchOutput) Reset() { s.n = 0 }

// ReceiveBuffer collects trace bytes read from a stream until the decoder
// has whole frames. Consumed bytes are compacted away on the next Write,
// so Data never has to stitch a wrapped region together.
type ReceiveBuffer struct {
	buf   []byte
	start int
}

// NewReceiveBuffer creates a buffer holding up to capacity bytes
func NewReceiveBuffer(capacity int) *ReceiveBuffer {
	return &ReceiveBuffer{buf: make([]byte, 0, capacity)}
}

// Write appends as much of data as fits and returns the bytes taken
func (r *ReceiveBuffer) Write(data []byte) int {
	if r.start > 0 {
		n := copy(r.buf, r.buf[r.start:])
		r.buf = r.buf[:n]
		r.start = 0
	}
	n := min(len(data), cap(r.buf)-len(r.buf))
	r.buf = append(r.buf, data[:n]...)
	return n
}

func (r *ReceiveBuffer) Data() []byte   { return r.buf[r.start:] }
func (r *ReceiveBuffer) Available() int { return len(r.buf) - r.start }

func (r *ReceiveBuffer) Pop(n int) {
	r.start += min(n, r.Available())
}
