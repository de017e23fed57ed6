//go:build tinygo && stm32f4

package main

import (
	"device/stm32"
	"runtime/volatile"
	"unsafe"

	"dmai2c/i2cdma"
)

// dmaStream is one stream of DMA1. Four streams share each status word:
// streams 0-3 use LISR/LIFCR, 4-7 use HISR/HIFCR.
type dmaStream struct {
	cr, ndtr, par, m0ar *volatile.Register32
	isr, ifcr           *volatile.Register32
	shift               uint32
}

// Bit offset of a stream's flags within its status word.
var flagShift = [4]uint32{0, 6, 16, 22}

// dma1Stream returns stream n of DMA1. Only the streams I2C1 can use are
// bound: 5 (RX, channel 1) and 6 (TX, channel 1).
func dma1Stream(n int) *dmaStream {
	d := stm32.DMA1
	s := &dmaStream{isr: &d.HISR, ifcr: &d.HIFCR, shift: flagShift[n&3]}
	switch n {
	case 5:
		s.cr, s.ndtr, s.par, s.m0ar = &d.S5CR, &d.S5NDTR, &d.S5PAR, &d.S5M0AR
	case 6:
		s.cr, s.ndtr, s.par, s.m0ar = &d.S6CR, &d.S6NDTR, &d.S6PAR, &d.S6M0AR
	default:
		panic("dma1: stream not bound")
	}
	return s
}

func (s *dmaStream) CR() i2cdma.Register   { return s.cr }
func (s *dmaStream) NDTR() i2cdma.Register { return s.ndtr }
func (s *dmaStream) PAR() i2cdma.Register  { return s.par }

func (s *dmaStream) SetMemory(buf []byte) {
	if len(buf) == 0 {
		s.m0ar.Set(0)
		return
	}
	s.m0ar.Set(uint32(uintptr(unsafe.Pointer(&buf[0]))))
}

func (s *dmaStream) Flags() uint32 {
	return s.isr.Get() >> s.shift & i2cdma.FlagAll
}

// ClearFlags writes the interrupt flag clear register; writing 0 bits has
// no effect there.
func (s *dmaStream) ClearFlags(flags uint32) {
	s.ifcr.Set((flags & i2cdma.FlagAll) << s.shift)
}
