package i2cdma

import (
	"errors"
	"strconv"
)

var (
	// ErrBusy is returned by Master while another session is outstanding,
	// and by Close while a session is active.
	ErrBusy = errors.New("i2cdma: session already active")

	// ErrBounds is matched by every *BoundsError.
	ErrBounds = errors.New("i2cdma: range outside session buffer")

	// ErrStaleSession is returned when a session handle that was already
	// consumed by a chained call or by Stop is used again.
	ErrStaleSession = errors.New("i2cdma: stale session handle")

	// ErrAddress is returned for addresses that do not fit in 7 bits.
	ErrAddress = errors.New("i2cdma: address is not 7-bit")

	// ErrClosed is returned by Master after Close.
	ErrClosed = errors.New("i2cdma: driver closed")

	// ErrBusFault is matched by every *Fault.
	ErrBusFault = errors.New("i2cdma: bus fault")

	// ErrNoDevice is matched by a *Fault caused by a NACK on the address
	// byte.
	ErrNoDevice = errors.New("i2cdma: no device at address")
)

// FaultKind identifies the hardware condition behind a *Fault.
type FaultKind uint8

const (
	FaultNone        FaultKind = iota
	FaultBus                   // misplaced START or STOP (BERR)
	FaultArbitration           // arbitration lost (ARLO)
	FaultNack                  // acknowledge failure (AF)
	FaultOverrun               // overrun or underrun (OVR)
	FaultTimeout               // SCL held low (TIMEOUT)
	FaultPEC                   // PEC error in reception (PECERR)
	FaultDMATransfer           // DMA transfer error (TEIF)
	FaultDMADirect             // DMA direct mode error (DMEIF)
	FaultDMAFIFO               // DMA FIFO error (FEIF)
	FaultAborted               // phase abandoned by the caller's context
)

var faultNames = [...]string{
	FaultNone:        "none",
	FaultBus:         "bus error",
	FaultArbitration: "arbitration lost",
	FaultNack:        "nack",
	FaultOverrun:     "overrun",
	FaultTimeout:     "scl timeout",
	FaultPEC:         "pec error",
	FaultDMATransfer: "dma transfer error",
	FaultDMADirect:   "dma direct mode error",
	FaultDMAFIFO:     "dma fifo error",
	FaultAborted:     "aborted",
}

func (k FaultKind) String() string {
	if int(k) < len(faultNames) {
		return faultNames[k]
	}
	return "fault(" + strconv.Itoa(int(k)) + ")"
}

// Fault is the terminal result of a phase that the hardware (or the caller's
// context) ended early. The session that returned it is still alive; Stop
// releases the bus and returns the buffer, whose partial contents are left
// as the DMA wrote them.
type Fault struct {
	Kind  FaultKind
	Phase Phase // phase the transfer was in when the fault latched
	Addr  uint8
	Read  bool

	// Err is the context error for FaultAborted.
	Err error
}

func (f *Fault) Error() string {
	dir := "write"
	if f.Read {
		dir = "read"
	}
	msg := "i2cdma: " + f.Kind.String() + " during " + dir + " 0x" + strconv.FormatUint(uint64(f.Addr), 16) + " in " + f.Phase.String()
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Fault) Unwrap() error {
	return f.Err
}

func (f *Fault) Is(target error) bool {
	switch target {
	case ErrBusFault:
		return true
	case ErrNoDevice:
		return f.Kind == FaultNack && f.Phase == PhaseAddressSent
	}
	return false
}

// BoundsError reports a write or read range that does not lie inside the
// session buffer.
type BoundsError struct {
	Lo, Hi int
	Len    int
}

func (e *BoundsError) Error() string {
	return "i2cdma: range " + strconv.Itoa(e.Lo) + ".." + strconv.Itoa(e.Hi) +
		" outside buffer of " + strconv.Itoa(e.Len) + " bytes"
}

func (e *BoundsError) Is(target error) bool {
	return target == ErrBounds
}

// errorKind maps I2C_SR1 error flags to a fault kind. Arbitration loss wins
// because it means another master owns the bus.
func errorKind(sr1 uint32) FaultKind {
	switch {
	case sr1&sr1ARLO != 0:
		return FaultArbitration
	case sr1&sr1BERR != 0:
		return FaultBus
	case sr1&sr1AF != 0:
		return FaultNack
	case sr1&sr1OVR != 0:
		return FaultOverrun
	case sr1&sr1TIMEOUT != 0:
		return FaultTimeout
	case sr1&sr1PECERR != 0:
		return FaultPEC
	}
	return FaultNone
}

// dmaKind maps stream error flags to a fault kind.
func dmaKind(flags uint32) FaultKind {
	switch {
	case flags&FlagTE != 0:
		return FaultDMATransfer
	case flags&FlagDME != 0:
		return FaultDMADirect
	case flags&FlagFE != 0:
		return FaultDMAFIFO
	}
	return FaultNone
}
