package protocol

import (
	"errors"
	"fmt"
)

// ErrFrameTooLarge is returned when a payload does not fit one frame
var ErrFrameTooLarge = errors.New("frame payload too large")

// EncodeFrame writes one frame with sequence seq around the payload
// produced by frameData
func EncodeFrame(output OutputBuffer, seq uint8, frameData func(output OutputBuffer)) error {
	cursor := output.CurPosition()

	// Length placeholder and sequence
	output.Output([]byte{0, seq})
	frameData(output)

	changed := len(output.DataSince(cursor))
	if changed+MessageTrailerSize > MessageLengthMax {
		return fmt.Errorf("%d bytes: %w", changed-MessageHeaderSize, ErrFrameTooLarge)
	}
	output.Update(cursor, uint8(changed+MessageTrailerSize))

	crc := CRC16(output.DataSince(cursor))
	output.Output([]byte{
		uint8((crc & 0xFF00) >> 8),
		uint8(crc & 0xFF),
		MessageValueSync,
	})
	return nil
}

// DecoderStats counts what a Decoder saw
type DecoderStats struct {
	Frames  uint32 // Valid frames delivered
	Dropped uint32 // Bytes discarded while resynchronizing
	Lost    uint32 // Frames missing according to the sequence numbers
}

// FrameHandler receives the payload of every valid frame. The payload
// aliases the input buffer and is only valid during the call.
type FrameHandler func(seq uint8, payload []byte)

// Decoder splits a byte stream into frames, resynchronizing on the sync
// byte after corruption
type Decoder struct {
	synchronized bool
	expectSeq    uint8
	started      bool
	stats        DecoderStats
}

// NewDecoder creates a decoder that starts synchronized
func NewDecoder() *Decoder {
	return &Decoder{synchronized: true}
}

// Receive consumes complete frames from input and hands their payloads to
// handler. An incomplete trailing frame stays in input for the next call.
func (d *Decoder) Receive(input InputBuffer, handler FrameHandler) {
	data := input.Data()

	for len(data) > 0 {
		if !d.synchronized {
			syncPos := -1
			for i, b := range data {
				if b == MessageValueSync {
					syncPos = i
					break
				}
			}
			if syncPos < 0 {
				d.stats.Dropped += uint32(len(data))
				data = nil
				break
			}
			d.stats.Dropped += uint32(syncPos)
			data = data[syncPos+1:]
			d.synchronized = true
			continue
		}

		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}
		if len(data) < MessageLengthMin {
			break
		}

		msgLen := int(data[MessagePositionLen])
		seq := data[MessagePositionSeq]
		if msgLen < MessageLengthMin || seq&^MessageSeqMask != MessageDest {
			d.desync()
			continue
		}
		if len(data) < msgLen {
			break
		}
		if data[msgLen-MessageTrailerSync] != MessageValueSync {
			d.desync()
			continue
		}

		frameCRC := uint16(data[msgLen-MessageTrailerCRC])<<8 |
			uint16(data[msgLen-MessageTrailerCRC+1])
		if frameCRC != CRC16(data[:msgLen-MessageTrailerSize]) {
			d.desync()
			continue
		}

		if d.started && seq != d.expectSeq {
			d.stats.Lost += uint32((seq - d.expectSeq) & MessageSeqMask)
		}
		d.started = true
		d.expectSeq = NextSequence(seq)
		d.stats.Frames++

		handler(seq, data[MessageHeaderSize:msgLen-MessageTrailerSize])
		data = data[msgLen:]
	}

	if consumed := input.Available() - len(data); consumed > 0 {
		input.Pop(consumed)
	}
}

// desync makes Receive hunt for the next sync byte
func (d *Decoder) desync() {
	d.synchronized = false
}

// Stats returns the decoder counters
func (d *Decoder) Stats() DecoderStats {
	return d.stats
}
