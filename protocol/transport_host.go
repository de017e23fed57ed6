package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultAckTimeout bounds SendCommand.
const DefaultAckTimeout = 2 * time.Second

var ErrTransportClosed = errors.New("transport closed")

// ResponseHandler sees every response block as it arrives.
type ResponseHandler func(cmdID uint16, data *[]byte) error

// HostTransport is the host side of the link: it frames commands, waits
// for the firmware's ACK, and queues the responses it receives.
type HostTransport struct {
	port io.ReadWriteCloser
	seq  atomic.Uint32 // sequence of the next block sent

	readMu sync.Mutex
	input  *FifoBuffer
	synced bool

	writeMu sync.Mutex

	handlerMu sync.Mutex
	handler   ResponseHandler

	acks      chan Message
	responses chan Message

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewHostTransport starts reading from port.
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:      port,
		input:     NewFifoBuffer(16 * MessageLengthMax),
		synced:    true,
		acks:      make(chan Message, 1),
		responses: make(chan Message, 16),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	t.seq.Store(MessageDest)
	go t.readLoop()
	return t
}

func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, DefaultAckTimeout)
}

// SendCommandWithTimeout sends one command block and waits for its ACK.
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	payload := NewScratchOutput()
	EncodeVLQUint(payload, uint32(cmdID))
	if args != nil {
		args(payload)
	}
	if len(payload.Result()) > MessagePayloadMax {
		return fmt.Errorf("command %d: payload of %d bytes exceeds %d", cmdID, len(payload.Result()), MessagePayloadMax)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	seq := uint8(t.seq.Load())
	block := AppendBlock(nil, seq, payload.Result())
	if _, err := t.port.Write(block); err != nil {
		return fmt.Errorf("write command %d: %w", cmdID, err)
	}
	return t.waitAck(seq, timeout)
}

func (t *HostTransport) waitAck(sent uint8, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ack := <-t.acks:
			if ack.Sequence == nextSeq(sent) {
				t.seq.Store(uint32(ack.Sequence))
				return nil
			}
			if ack.Sequence == sent {
				// A resync ACK from before our block was seen.
				continue
			}
			t.seq.Store(uint32(ack.Sequence))
			return fmt.Errorf("sequence mismatch: sent 0x%02x, firmware expects 0x%02x", sent, ack.Sequence)
		case <-timer.C:
			return fmt.Errorf("no ACK after %v", timeout)
		case <-t.stop:
			return ErrTransportClosed
		}
	}
}

// ReceiveResponse returns the next queued response.
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m := <-t.responses:
		return &m, nil
	case <-timer.C:
		return nil, fmt.Errorf("no response after %v", timeout)
	case <-t.stop:
		return nil, ErrTransportClosed
	}
}

// PollResponse returns a queued response without waiting. Responses to a
// command arrive ahead of its ACK, so after SendCommand returns they are
// already queued.
func (t *HostTransport) PollResponse() (*Message, bool) {
	select {
	case m := <-t.responses:
		return &m, true
	default:
		return nil, false
	}
}

func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	t.handler = handler
	t.handlerMu.Unlock()
}

func (t *HostTransport) readLoop() {
	defer close(t.done)
	buf := make([]byte, 256)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			t.readMu.Lock()
			t.input.Write(buf[:n])
			t.parse()
			t.readMu.Unlock()
		}
		select {
		case <-t.stop:
			return
		default:
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
			return
		}
		if err != nil {
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// parse consumes every complete block in the input buffer. Caller holds
// readMu.
func (t *HostTransport) parse() {
	data := t.input.Data()
	for len(data) > 0 {
		if !t.synced {
			data = skipToSync(data)
			t.synced = data != nil
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
			t.synced = false
			continue
		}
		payload := make([]byte, n-MessageLengthMin)
		copy(payload, data[MessageHeaderSize:])
		t.route(Message{Sequence: data[MessagePositionSeq], Payload: payload})
		data = data[n:]
	}
	t.input.Pop(t.input.Available() - len(data))
}

func (t *HostTransport) route(m Message) {
	if len(m.Payload) == 0 {
		select {
		case t.acks <- m:
		default:
			// Keep the newest ACK.
			select {
			case <-t.acks:
			default:
			}
			t.acks <- m
		}
		return
	}

	t.handlerMu.Lock()
	h := t.handler
	t.handlerMu.Unlock()
	if h != nil {
		data := m.Payload
		if id, err := DecodeVLQUint(&data); err == nil {
			_ = h(uint16(id), &data)
		}
	}

	select {
	case t.responses <- m:
	default:
		select {
		case <-t.responses:
		default:
		}
		t.responses <- m
	}
}

// Close stops the reader and closes the port.
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		err = t.port.Close()
		<-t.done
	})
	return err
}

// Reset drops queued input and restarts the sequence.
func (t *HostTransport) Reset() {
	t.readMu.Lock()
	t.input.Reset()
	t.synced = true
	t.readMu.Unlock()

	t.seq.Store(MessageDest)
	for {
		select {
		case <-t.acks:
		case <-t.responses:
		default:
			return
		}
	}
}

// GetCurrentSequence returns the sequence of the next block sent.
func (t *HostTransport) GetCurrentSequence() uint8 {
	return uint8(t.seq.Load())
}
