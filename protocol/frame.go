package protocol

type scan uint8

const (
	scanBlock scan = iota // a valid block of the returned length
	scanShort             // need more bytes
	scanBad               // not a block; resynchronize
)

// scanData checks whether data starts with a complete, valid block.
func scanData(data []byte) (int, scan) {
	if len(data) < MessageLengthMin {
		return 0, scanShort
	}
	n := int(data[MessagePositionLen])
	if n < MessageLengthMin || n > MessageLengthMax {
		return 0, scanBad
	}
	if data[MessagePositionSeq]&^MessageSeqMask != MessageDest {
		return 0, scanBad
	}
	if len(data) < n {
		return 0, scanShort
	}
	if data[n-MessageTrailerSync] != MessageValueSync {
		return 0, scanBad
	}
	got := uint16(data[n-MessageTrailerCRC])<<8 | uint16(data[n-MessageTrailerCRC+1])
	if got != CRC16(data[:n-MessageTrailerSize]) {
		return 0, scanBad
	}
	return n, scanBlock
}

// skipToSync drops everything up to and including the next sync byte. It
// returns nil when there is none.
func skipToSync(data []byte) []byte {
	for i, b := range data {
		if b == MessageValueSync {
			return data[i+1:]
		}
	}
	return nil
}

// AppendBlock appends a complete block carrying payload to dst.
func AppendBlock(dst []byte, seq uint8, payload []byte) []byte {
	start := len(dst)
	dst = append(dst, byte(len(payload)+MessageLengthMin), seq)
	dst = append(dst, payload...)
	dst = appendCRC(dst, CRC16(dst[start:]))
	return append(dst, MessageValueSync)
}
