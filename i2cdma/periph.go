//go:build !tinygo

package i2cdma

import (
	"errors"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

var _ i2c.Bus = (*Bus)(nil)

var errSpeed = errors.New("i2cdma: bus speed is fixed at init")

// SetSpeed accepts any frequency at or above the speed programmed at Init.
// The timing registers are only written by Init, so a slower bus needs a
// new driver.
func (b *Bus) SetSpeed(f physic.Frequency) error {
	if f >= physic.Frequency(b.drv.timing.SCL())*physic.Hertz {
		return nil
	}
	return errSpeed
}
