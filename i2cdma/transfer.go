package i2cdma

import "strconv"

// Phase is the state of the transfer state machine.
type Phase uint8

const (
	PhaseIdle        Phase = iota
	PhaseStart             // START requested, waiting for SB
	PhaseAddressSent       // address byte in DR, waiting for ADDR
	PhaseData              // DMA stream running
	PhaseDataFinal         // last byte pending: TX waits for BTF, RX NACKs it
	PhaseComplete          // phase retired, next write/read may be armed
	PhaseStopPending       // Stop issued STOP, returning to idle
	PhaseFault             // fault latched until Stop
)

var phaseNames = [...]string{
	PhaseIdle:        "idle",
	PhaseStart:       "start",
	PhaseAddressSent: "address",
	PhaseData:        "data",
	PhaseDataFinal:   "data-final",
	PhaseComplete:    "complete",
	PhaseStopPending: "stop-pending",
	PhaseFault:       "fault",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "phase(" + strconv.Itoa(int(p)) + ")"
}

// transfer is the one live transfer context. Session calls write it inside
// critical; the interrupt handlers write it otherwise.
type transfer struct {
	phase Phase
	addr  uint8
	read  bool
	off   int // DMA region inside the session buffer
	n     int

	fault      FaultKind
	faultPhase Phase
	faultErr   error

	ops      int // phases armed in this session
	stopSent bool
}

func (x *transfer) err() error {
	if x.phase != PhaseFault {
		return nil
	}
	return &Fault{Kind: x.fault, Phase: x.faultPhase, Addr: x.addr, Read: x.read, Err: x.faultErr}
}

func (d *Driver) stream(read bool) Stream {
	if read {
		return d.rx
	}
	return d.tx
}

// HandleEvent services the I2C event interrupt (SB, ADDR, BTF).
func (d *Driver) HandleEvent() {
	x := &d.xfer
	sr1 := d.i2c.SR1.Get()
	switch {
	case sr1&sr1SB != 0:
		if x.phase != PhaseStart {
			d.i2c.CR2.ClearBits(cr2ITEVTEN)
			return
		}
		a := uint32(x.addr) << 1
		if x.read {
			a |= 1
		}
		d.i2c.DR.Set(a)
		x.phase = PhaseAddressSent

	case sr1&sr1ADDR != 0:
		if x.phase != PhaseAddressSent {
			d.i2c.SR2.Get()
			d.i2c.CR2.ClearBits(cr2ITEVTEN)
			return
		}
		// The stream starts moving bytes as soon as ADDR is cleared by the
		// SR2 read below. ACK for a 1-byte read was already dropped when
		// the phase was armed.
		d.stream(x.read).CR().SetBits(dmaEN)
		d.i2c.CR2.ClearBits(cr2ITEVTEN)
		if x.read && x.n == 1 {
			x.phase = PhaseDataFinal
		} else {
			x.phase = PhaseData
		}
		d.i2c.SR2.Get()

	case sr1&sr1BTF != 0:
		d.i2c.CR2.ClearBits(cr2ITEVTEN)
		if x.phase == PhaseDataFinal && !x.read {
			x.phase = PhaseComplete
			d.notify()
		}

	default:
		d.i2c.CR2.ClearBits(cr2ITEVTEN)
	}
}

// HandleError services the I2C error interrupt. Every error flag is fatal
// to the phase in flight.
func (d *Driver) HandleError() {
	errs := d.i2c.SR1.Get() & sr1Errors
	if errs == 0 {
		return
	}
	d.i2c.SR1.ClearBits(errs)
	if k := errorKind(errs); k != FaultNone {
		d.fail(k, nil)
	}
}

// HandleTxDMA services the TX stream interrupt.
func (d *Driver) HandleTxDMA() {
	x := &d.xfer
	flags := d.tx.Flags() & FlagAll
	d.tx.ClearFlags(flags)
	if k := dmaKind(flags); k != FaultNone {
		d.fail(k, nil)
		return
	}
	if flags&FlagTC == 0 || x.read || x.phase != PhaseData {
		return
	}
	// All bytes are in the shift path; BTF marks the last one clocked out.
	d.tx.CR().ClearBits(dmaEN)
	x.phase = PhaseDataFinal
	d.i2c.CR2.SetBits(cr2ITEVTEN)
}

// HandleRxDMA services the RX stream interrupt. With CR2.LAST set the
// peripheral NACKed the final byte before the stream reported completion.
func (d *Driver) HandleRxDMA() {
	x := &d.xfer
	flags := d.rx.Flags() & FlagAll
	d.rx.ClearFlags(flags)
	if k := dmaKind(flags); k != FaultNone {
		d.fail(k, nil)
		return
	}
	if flags&FlagTC == 0 || !x.read || (x.phase != PhaseData && x.phase != PhaseDataFinal) {
		return
	}
	d.rx.CR().ClearBits(dmaEN)
	d.i2c.CR1.ClearBits(cr1ACK)
	d.i2c.CR2.ClearBits(cr2LAST)
	x.phase = PhaseComplete
	d.notify()
}

// fail latches kind, releases both streams and the bus, and wakes the
// waiting session. Arbitration loss has already dropped the peripheral to
// slave mode, so no STOP is generated for it.
func (d *Driver) fail(kind FaultKind, cause error) {
	x := &d.xfer
	if x.phase == PhaseFault || x.phase == PhaseIdle || x.phase == PhaseStopPending {
		return
	}
	d.i2c.CR2.ClearBits(cr2ITEVTEN | cr2LAST)
	d.tx.CR().ClearBits(dmaEN)
	d.rx.CR().ClearBits(dmaEN)
	d.i2c.CR1.ClearBits(cr1ACK)
	if kind != FaultArbitration {
		d.i2c.CR1.SetBits(cr1STOP)
		x.stopSent = true
	}
	x.fault = kind
	x.faultPhase = x.phase
	x.faultErr = cause
	x.phase = PhaseFault
	d.notify()
}

func (d *Driver) notify() {
	select {
	case d.done <- struct{}{}:
	default:
	}
}
