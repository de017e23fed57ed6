package protocol

import "sync/atomic"

// CommandHandler decodes and runs one command. It consumes its arguments
// from the front of *data.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the firmware side of the link. It parses blocks from the
// host, dispatches the commands they carry, ACKs every block, and frames
// outgoing responses.
type Transport struct {
	synced atomic.Bool
	seq    atomic.Uint32 // next sequence expected from the host

	output  OutputBuffer
	handler CommandHandler
	onReset func()
	onFlush func()
	onError func(cmdID uint16, err error)
}

func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	t := &Transport{output: output, handler: handler}
	t.synced.Store(true)
	t.seq.Store(MessageDest)
	return t
}

// Receive parses every complete block in input and pops what it consumed.
// A partial block stays queued for the next call.
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()
	for len(data) > 0 {
		if !t.synced.Load() {
			data = skipToSync(data)
			if data != nil {
				t.synced.Store(true)
				t.ack()
			}
			continue
		}
		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}
		n, st := scanData(data)
		if st == scanShort {
			break
		}
		if st == scanBad {
			t.synced.Store(false)
			continue
		}
		t.block(data[MessagePositionSeq], data[MessageHeaderSize:n-MessageTrailerSize])
		data = data[n:]
	}
	input.Pop(input.Available() - len(data))
}

func (t *Transport) block(seq uint8, payload []byte) {
	want := uint8(t.seq.Load())
	if seq == MessageDest && want != MessageDest {
		// The host restarted its sequence.
		t.seq.Store(MessageDest)
		want = MessageDest
		if t.onReset != nil {
			t.onReset()
		}
	}
	if seq == want {
		t.seq.Store(uint32(nextSeq(seq)))
		t.dispatch(payload)
	}
	// Out-of-sequence blocks are not run; the ACK tells the host which
	// sequence is expected.
	t.ack()
}

func (t *Transport) dispatch(payload []byte) {
	defer func() {
		if recover() != nil {
			t.synced.Store(false)
		}
	}()
	for len(payload) > 0 {
		id, err := DecodeVLQUint(&payload)
		if err != nil {
			t.synced.Store(false)
			return
		}
		if t.handler == nil {
			continue
		}
		if err := t.handler(uint16(id), &payload); err != nil {
			// The rest of the block cannot be decoded reliably.
			if t.onError != nil {
				t.onError(uint16(id), err)
			}
			return
		}
	}
}

func (t *Transport) ack() {
	t.output.Output(AppendBlock(make([]byte, 0, MessageLengthMin), uint8(t.seq.Load()), nil))
	if t.onFlush != nil {
		t.onFlush()
	}
}

// EncodeFrame writes one block whose payload is produced by frameData.
// Responses carry the sequence of the ACK that follows them.
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	start := t.output.CurPosition()
	t.output.Output([]byte{0, uint8(t.seq.Load())})
	frameData(t.output)
	t.output.Update(start, uint8(len(t.output.DataSince(start))+MessageTrailerSize))
	crc := CRC16(t.output.DataSince(start))
	t.output.Output([]byte{byte(crc >> 8), byte(crc), MessageValueSync})
}

// SendCommand frames cmdID followed by the arguments args encodes.
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset returns to the power-on state, as after a reconnect.
func (t *Transport) Reset() {
	t.synced.Store(true)
	t.seq.Store(MessageDest)
	if t.onReset != nil {
		t.onReset()
	}
}

// SetResetCallback is called when the host restarts its sequence.
func (t *Transport) SetResetCallback(callback func()) { t.onReset = callback }

// SetFlushCallback is called after each ACK so it can leave ahead of any
// response still being built.
func (t *Transport) SetFlushCallback(callback func()) { t.onFlush = callback }

// SetErrorCallback is called when a handler fails.
func (t *Transport) SetErrorCallback(callback func(cmdID uint16, err error)) { t.onError = callback }
