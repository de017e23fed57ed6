package i2cdma

import (
	"context"
	"strconv"
)

// maxTransfer is the largest DMA item count (SxNDTR is 16 bits).
const maxTransfer = 0xffff

// Session is a master transaction over a buffer owned by the session.
//
// Write and Read each arm one phase and block until it retires. On success
// they return a fresh handle and retire the receiver, so a phase can never be
// armed twice from one handle. On failure the receiver stays valid and
// the caller must still call Stop on it to release the bus and recover the
// buffer:
//
//	s, err := drv.Master(buf)
//	...
//	s, err = s.Write(0x39, 0, 1)
//	...
//	s, err = s.Read(0x39, 0, 4)
//	...
//	buf, _ = s.Stop()
type Session struct {
	drv *Driver
	gen uint32
}

// Buf returns the session buffer. Its contents are only stable between
// phases.
func (s *Session) Buf() []byte {
	if s.drv == nil || s.drv.gen.Load() != s.gen {
		return nil
	}
	return s.drv.buf
}

// Write sends buf[lo:hi] to the 7-bit address addr.
func (s *Session) Write(addr uint8, lo, hi int) (*Session, error) {
	return s.WriteContext(context.Background(), addr, lo, hi)
}

// Read fills buf[lo:hi] from the 7-bit address addr. Every byte but the last
// is ACKed; the last is NACKed.
func (s *Session) Read(addr uint8, lo, hi int) (*Session, error) {
	return s.ReadContext(context.Background(), addr, lo, hi)
}

// WriteContext is Write with a deadline. When ctx ends before the phase
// retires, the transfer is aborted with STOP and the result is a *Fault of
// kind FaultAborted wrapping ctx.Err().
func (s *Session) WriteContext(ctx context.Context, addr uint8, lo, hi int) (*Session, error) {
	return s.run(ctx, addr, false, lo, hi)
}

// ReadContext is Read with a deadline; see WriteContext.
func (s *Session) ReadContext(ctx context.Context, addr uint8, lo, hi int) (*Session, error) {
	return s.run(ctx, addr, true, lo, hi)
}

func (s *Session) run(ctx context.Context, addr uint8, read bool, lo, hi int) (*Session, error) {
	d := s.drv
	if d == nil || d.gen.Load() != s.gen {
		return nil, ErrStaleSession
	}
	if addr > 0x7f {
		return nil, ErrAddress
	}
	if lo < 0 || hi > len(d.buf) || lo >= hi || hi-lo > maxTransfer {
		return nil, &BoundsError{Lo: lo, Hi: hi, Len: len(d.buf)}
	}
	// Claim the handle for the duration of the phase.
	if !d.gen.CompareAndSwap(s.gen, s.gen+1) {
		return nil, ErrStaleSession
	}
	if err := d.arm(addr, read, lo, hi); err != nil {
		d.gen.Store(s.gen)
		return nil, err
	}
	if err := d.wait(ctx); err != nil {
		d.gen.Store(s.gen)
		debug(err.Error())
		return nil, err
	}
	if read {
		debug("read " + hex8(addr) + " " + strconv.Itoa(hi-lo))
	} else {
		debug("write " + hex8(addr) + " " + strconv.Itoa(hi-lo))
	}
	return &Session{drv: d, gen: s.gen + 1}, nil
}

// Stop generates STOP, ends the session and hands the buffer back. It does
// not wait for the STOP condition to finish on the bus; the next session
// does that before its first START. The returned buffer is the one given to
// Master, including after a fault.
func (s *Session) Stop() ([]byte, error) {
	d := s.drv
	if d == nil || !d.gen.CompareAndSwap(s.gen, s.gen+1) {
		return nil, ErrStaleSession
	}
	d.release()
	buf := d.buf
	d.buf = nil
	d.active.Store(false)
	debug("stop")
	return buf, nil
}
