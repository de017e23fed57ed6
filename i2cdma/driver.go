package i2cdma

import (
	"context"
	"runtime"
	"strconv"
	"sync/atomic"
)

// Driver owns one I2C peripheral, its two DMA streams and the four interrupt
// lines that drive them. It runs at most one master session at a time.
type Driver struct {
	i2c    *Peripheral
	tx, rx Stream
	ints   [4]Interrupt
	timing Timing

	active atomic.Bool
	closed atomic.Bool
	gen    atomic.Uint32 // current session handle

	buf  []byte
	xfer transfer
	done chan struct{}
}

// Init validates setup, programs the peripheral timing and both DMA streams,
// and unmasks the event, error and stream interrupts. Nothing is written
// when setup is invalid.
func Init(setup Setup) (*Driver, error) {
	if err := setup.Validate(); err != nil {
		return nil, err
	}
	d := &Driver{
		i2c:    setup.I2C,
		tx:     setup.DMATx,
		rx:     setup.DMARx,
		ints:   [4]Interrupt{setup.EventInt, setup.ErrorInt, setup.DMATxInt, setup.DMARxInt},
		timing: setup.Timing(),
		done:   make(chan struct{}, 1),
	}

	p := d.i2c
	p.CR1.ClearBits(cr1PE)
	p.CR2.Set(cr2DMAEN | cr2ITERREN | uint32(d.timing.Freq)&cr2FREQ)
	p.CCR.Set(d.timing.ccr())
	p.TRISE.Set(uint32(d.timing.Trise) & triseMask)
	p.CR1.SetBits(cr1PE)

	initStream(d.tx, p.DRAddress, setup.DMATxCh, setup.DMATxPL, dmaDirMemToPeriph)
	initStream(d.rx, p.DRAddress, setup.DMARxCh, setup.DMARxPL, dmaDirPeriphToMem)

	for _, irq := range d.ints {
		irq.Enable()
	}
	debug("init " + d.timing.Mode.String() + " scl=" + strconv.Itoa(int(d.timing.SCL())))
	return d, nil
}

func initStream(s Stream, par uint32, ch, pl uint8, dir uint32) {
	cr := s.CR()
	cr.ClearBits(dmaEN)
	// EN reads back set until the stream finishes its current beat.
	for cr.HasBits(dmaEN) {
		runtime.Gosched()
	}
	s.PAR().Set(par)
	cr.Set(uint32(ch)<<dmaCHShift | uint32(pl)<<dmaPLShift | dmaMINC | dir | dmaTCIE | dmaTEIE | dmaDMEIE)
	s.ClearFlags(FlagAll)
}

// Timing returns the register fields the driver was initialized with.
func (d *Driver) Timing() Timing {
	return d.timing
}

// Master starts a session over buf. The session owns buf until Stop hands
// it back. It fails with ErrBusy while another session is outstanding.
func (d *Driver) Master(buf []byte) (*Session, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	if !d.active.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	d.buf = buf
	critical(func() {
		d.xfer = transfer{}
	})
	return &Session{drv: d, gen: d.gen.Add(1)}, nil
}

// Phase reports the current state of the transfer state machine.
func (d *Driver) Phase() Phase {
	var p Phase
	critical(func() {
		p = d.xfer.phase
	})
	return p
}

// Active reports whether a session is outstanding.
func (d *Driver) Active() bool {
	return d.active.Load()
}

// Close masks the driver's interrupts and disables the peripheral and both
// streams. It fails with ErrBusy while a session is outstanding.
func (d *Driver) Close() error {
	if d.closed.Load() {
		return nil
	}
	if !d.active.CompareAndSwap(false, true) {
		return ErrBusy
	}
	d.closed.Store(true)
	for _, irq := range d.ints {
		irq.Disable()
	}
	critical(func() {
		d.tx.CR().ClearBits(dmaEN)
		d.rx.CR().ClearBits(dmaEN)
		d.i2c.CR2.ClearBits(cr2ITEVTEN | cr2ITERREN | cr2DMAEN)
		d.i2c.CR1.ClearBits(cr1PE)
	})
	return nil
}

// arm programs one write or read phase and requests START. The first phase
// of a session waits for the previous session's STOP to leave the bus;
// later phases go out as a repeated START. A fault latched since the last
// phase, including one raised between phases, is returned instead and
// nothing is armed.
func (d *Driver) arm(addr uint8, read bool, lo, hi int) error {
	if d.xfer.ops == 0 {
		// STOP clears within a few SCL periods; the core does not
		// poll for transfer progress.
		for d.i2c.CR1.HasBits(cr1STOP) {
			runtime.Gosched()
		}
	}
	var err error
	critical(func() {
		x := &d.xfer
		select {
		case <-d.done:
		default:
		}
		if x.phase == PhaseFault {
			err = x.err()
			return
		}
		x.phase = PhaseStart
		x.addr = addr
		x.read = read
		x.off = lo
		x.n = hi - lo
		x.ops++

		s := d.stream(read)
		s.CR().ClearBits(dmaEN)
		s.ClearFlags(FlagAll)
		s.SetMemory(d.buf[lo:hi])
		s.NDTR().Set(uint32(hi - lo))

		if read {
			if hi-lo > 1 {
				d.i2c.CR1.SetBits(cr1ACK)
			} else {
				d.i2c.CR1.ClearBits(cr1ACK)
			}
			d.i2c.CR2.SetBits(cr2LAST)
		} else {
			d.i2c.CR2.ClearBits(cr2LAST)
		}
		d.i2c.CR2.SetBits(cr2ITEVTEN)
		d.i2c.CR1.SetBits(cr1START)
	})
	return err
}

// wait blocks until the armed phase completes or faults. If ctx ends first
// the phase is aborted and reported as FaultAborted.
func (d *Driver) wait(ctx context.Context) error {
	select {
	case <-d.done:
	case <-ctx.Done():
		critical(func() {
			if p := d.xfer.phase; p != PhaseComplete && p != PhaseFault {
				d.fail(FaultAborted, ctx.Err())
			}
		})
	}
	var err error
	critical(func() {
		err = d.xfer.err()
	})
	return err
}

// release generates STOP if the session put anything on the bus and has not
// already let go of it, then returns the transfer context to idle.
func (d *Driver) release() {
	critical(func() {
		x := &d.xfer
		x.phase = PhaseStopPending
		if x.ops > 0 && !x.stopSent && x.fault != FaultArbitration {
			d.i2c.CR1.SetBits(cr1STOP)
		}
		d.i2c.CR2.ClearBits(cr2ITEVTEN | cr2LAST)
		*x = transfer{}
	})
}
