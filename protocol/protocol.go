// Package protocol implements the framed wire format spoken between the
// firmware and the host: VLQ-encoded command IDs and arguments inside
// sequenced, CRC-checked blocks.
package protocol

// Version is the protocol implementation version reported in the dictionary.
const Version = "0.1.0"

// Block layout. A block is
//
//	len seq payload... crc_hi crc_lo sync
//
// where len counts the whole block and seq carries MessageDest in its high
// nibble.
const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePayloadMax  = MessageLengthMax - MessageLengthMin

	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1

	MessageValueSync = 0x7E
	MessageDest      = 0x10
	MessageSeqMask   = 0x0F
)

// OutputMax is the capacity of a ScratchOutput. Several blocks (an ACK and
// the responses it carries) are queued before one flush.
const OutputMax = 512

// Message is one received block.
type Message struct {
	Sequence uint8
	Payload  []byte
}

// nextSeq advances a sequence byte, keeping the destination nibble.
func nextSeq(seq uint8) uint8 {
	return (seq+1)&MessageSeqMask | MessageDest
}
