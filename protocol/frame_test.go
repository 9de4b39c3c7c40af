package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func encodeTestFrame(t *testing.T, seq uint8, payload []byte) []byte {
	t.Helper()
	out := NewScratchOutput()
	if err := EncodeFrame(out, seq, func(o OutputBuffer) { o.Output(payload) }); err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	return append([]byte(nil), out.Result()...)
}

type frame struct {
	seq     uint8
	payload []byte
}

func collect(frames *[]frame) FrameHandler {
	return func(seq uint8, payload []byte) {
		*frames = append(*frames, frame{seq, append([]byte(nil), payload...)})
	}
}

func TestFrameLayout(t *testing.T) {
	data := encodeTestFrame(t, MessageDest, []byte{1, 2, 3})

	if len(data) != 8 {
		t.Fatalf("frame length %d, want 8", len(data))
	}
	if data[MessagePositionLen] != 8 || data[MessagePositionSeq] != MessageDest {
		t.Errorf("bad header % X", data[:2])
	}
	if data[len(data)-1] != MessageValueSync {
		t.Errorf("missing sync byte")
	}
	crc := CRC16(data[:5])
	if data[5] != byte(crc>>8) || data[6] != byte(crc) {
		t.Errorf("bad CRC % X", data[5:7])
	}
}

func TestDecoderRoundTrip(t *testing.T) {
	var stream []byte
	seq := uint8(MessageDest)
	payloads := [][]byte{{0x01}, {0x02, 0x03}, {}, bytes.Repeat([]byte{0x05}, 200)}
	for _, p := range payloads {
		stream = append(stream, encodeTestFrame(t, seq, p)...)
		seq = NextSequence(seq)
	}

	var got []frame
	dec := NewDecoder()
	in := NewSliceInputBuffer(stream)
	dec.Receive(in, collect(&got))

	if len(got) != len(payloads) {
		t.Fatalf("got %d frames, want %d", len(got), len(payloads))
	}
	for i, f := range got {
		if !bytes.Equal(f.payload, payloads[i]) {
			t.Errorf("frame %d payload % X, want % X", i, f.payload, payloads[i])
		}
		if f.seq != MessageDest+uint8(i) {
			t.Errorf("frame %d seq %02X", i, f.seq)
		}
	}
	if in.Available() != 0 {
		t.Errorf("%d bytes left unconsumed", in.Available())
	}
	if s := dec.Stats(); s.Frames != 4 || s.Lost != 0 || s.Dropped != 0 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestDecoderResynchronizes(t *testing.T) {
	good1 := encodeTestFrame(t, 0x10, []byte{0x11, 0x22})
	bad := encodeTestFrame(t, 0x11, []byte{0x33, 0x44})
	bad[2] ^= 0x01
	good2 := encodeTestFrame(t, 0x12, []byte{0x55})

	stream := []byte{0x01, 0x02, 0x03, MessageValueSync}
	stream = append(stream, good1...)
	stream = append(stream, bad...)
	stream = append(stream, good2...)

	var got []frame
	dec := NewDecoder()
	dec.Receive(NewSliceInputBuffer(stream), collect(&got))

	if len(got) != 2 || got[0].seq != 0x10 || got[1].seq != 0x12 {
		t.Fatalf("unexpected frames %+v", got)
	}
	s := dec.Stats()
	if s.Lost != 1 {
		t.Errorf("Lost = %d, want 1", s.Lost)
	}
	if s.Dropped < 3 {
		t.Errorf("Dropped = %d, want at least 3", s.Dropped)
	}
}

func TestDecoderWaitsForCompleteFrame(t *testing.T) {
	data := encodeTestFrame(t, MessageDest, []byte{9, 8, 7, 6})
	fifo := NewReceiveBuffer(64)
	dec := NewDecoder()

	var got []frame
	fifo.Write(data[:5])
	dec.Receive(fifo, collect(&got))
	if len(got) != 0 || fifo.Available() != 5 {
		t.Fatalf("partial frame consumed: %d frames, %d bytes left", len(got), fifo.Available())
	}

	fifo.Write(data[5:])
	dec.Receive(fifo, collect(&got))
	if len(got) != 1 || !bytes.Equal(got[0].payload, []byte{9, 8, 7, 6}) {
		t.Fatalf("unexpected frames %+v", got)
	}
	if fifo.Available() != 0 {
		t.Errorf("%d bytes left", fifo.Available())
	}
}

func TestEncodeFrameTooLarge(t *testing.T) {
	out := NewScratchOutput()
	err := EncodeFrame(out, MessageDest, func(o OutputBuffer) { o.Output(make([]byte, 300)) })
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestNextSequenceWraps(t *testing.T) {
	if got := NextSequence(0x1F); got != 0x10 {
		t.Errorf("NextSequence(0x1F) = %02X", got)
	}
	if got := NextSequence(0x13); got != 0x14 {
		t.Errorf("NextSequence(0x13) = %02X", got)
	}
}
