// Package protocol implements the trace wire format: CRC-checked frames
// carrying VLQ-encoded step, direction and heater events. The framing
// follows the Klipper message block layout.
package protocol

// Version of the trace format
const Version = "1"

// Frame layout: <len><seq><payload...><crc hi><crc lo><sync>
const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 255
	MessagePayloadMax  = MessageLengthMax - MessageLengthMin
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10

	// Message sequence masks
	MessageSeqMask = 0x0F
)

// MessageMax is the scratch buffer size, large enough for any frame
const MessageMax = 512

// NextSequence returns the sequence byte following seq
func NextSequence(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}
