package i2cdma

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"tinygo.org/x/drivers"
)

var _ drivers.I2C = (*Bus)(nil)

var errEmptyTx = errors.New("i2cdma: empty transaction")

// Bus runs whole Tx-style transactions over a Driver: one session that
// writes w, issues a repeated START, reads into r, and stops. It is safe
// for concurrent use, so several device drivers can share one controller.
type Bus struct {
	// Timeout bounds each phase of a transaction. Zero waits forever.
	Timeout time.Duration

	mu  sync.Mutex
	drv *Driver
	buf []byte
}

// NewBus wraps drv. size is the initial scratch buffer; it grows on demand.
func NewBus(drv *Driver, size int) *Bus {
	return &Bus{drv: drv, buf: make([]byte, size)}
}

// Driver returns the underlying driver.
func (b *Bus) Driver() *Driver {
	return b.drv
}

// Tx writes w to addr and then reads len(r) bytes back into r, as one
// transaction. Either slice may be empty, not both.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7f {
		return ErrAddress
	}
	n := len(w) + len(r)
	if n == 0 {
		return errEmptyTx
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if n > len(b.buf) {
		b.buf = make([]byte, n)
	}
	buf := b.buf[:n]
	copy(buf, w)

	ctx := context.Background()
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	s, err := b.drv.Master(buf)
	if err != nil {
		return err
	}
	a := uint8(addr)
	if len(w) > 0 {
		next, err := s.WriteContext(ctx, a, 0, len(w))
		if err != nil {
			// s is the live handle, so Stop cannot fail here.
			_, _ = s.Stop()
			return err
		}
		s = next
	}
	if len(r) > 0 {
		next, err := s.ReadContext(ctx, a, len(w), n)
		if err != nil {
			_, _ = s.Stop()
			return err
		}
		s = next
	}
	if _, err := s.Stop(); err != nil {
		return err
	}
	copy(r, buf[len(w):])
	return nil
}

// ReadRegister reads len(buf) bytes starting at register reg.
func (b *Bus) ReadRegister(addr uint8, reg uint8, buf []byte) error {
	return b.Tx(uint16(addr), []byte{reg}, buf)
}

// WriteRegister writes buf starting at register reg.
func (b *Bus) WriteRegister(addr uint8, reg uint8, buf []byte) error {
	w := make([]byte, 1+len(buf))
	w[0] = reg
	copy(w[1:], buf)
	return b.Tx(uint16(addr), w, nil)
}

func (b *Bus) String() string {
	return "i2cdma(" + strconv.Itoa(int(b.drv.timing.SCL())) + "Hz)"
}
