//go:build tinygo && stm32f4

package main

import (
	"device/stm32"
	"machine"
	"runtime/interrupt"
	"unsafe"

	"dmai2c/core"
	"dmai2c/i2cdma"
)

// APB1 runs at 42 MHz with the 168 MHz system clock.
const apb1Hz = 42000000

var (
	// i2c1 is the driver the handlers below serve. It is replaced each
	// time the host changes the bus rate.
	i2c1 *i2cdma.Driver

	i2c1Event, i2c1Error     interrupt.Interrupt
	dma1Stream6, dma1Stream5 interrupt.Interrupt
)

func init() {
	i2c1Event = interrupt.New(stm32.IRQ_I2C1_EV, func(interrupt.Interrupt) {
		if d := i2c1; d != nil {
			d.HandleEvent()
		}
	})
	i2c1Error = interrupt.New(stm32.IRQ_I2C1_ER, func(interrupt.Interrupt) {
		if d := i2c1; d != nil {
			d.HandleError()
		}
	})
	dma1Stream6 = interrupt.New(stm32.IRQ_DMA1_Stream6, func(interrupt.Interrupt) {
		if d := i2c1; d != nil {
			d.HandleTxDMA()
		}
	})
	dma1Stream5 = interrupt.New(stm32.IRQ_DMA1_Stream5, func(interrupt.Interrupt) {
		if d := i2c1; d != nil {
			d.HandleRxDMA()
		}
	})
}

// initI2C1 clocks and resets the controller and DMA1, and routes PB6/PB7
// to I2C1.
func initI2C1() {
	stm32.RCC.AHB1ENR.SetBits(stm32.RCC_AHB1ENR_DMA1EN)
	stm32.RCC.APB1ENR.SetBits(stm32.RCC_APB1ENR_I2C1EN)

	// A reset pulse frees a controller left busy by an interrupted
	// transfer before the last reboot.
	stm32.RCC.APB1RSTR.SetBits(stm32.RCC_APB1RSTR_I2C1RST)
	stm32.RCC.APB1RSTR.ClearBits(stm32.RCC_APB1RSTR_I2C1RST)

	machine.PB6.ConfigureAltFunc(machine.PinConfig{Mode: machine.PinModeI2CSCL}, stm32.AF4_I2C1_2_3)
	machine.PB7.ConfigureAltFunc(machine.PinConfig{Mode: machine.PinModeI2CSDA}, stm32.AF4_I2C1_2_3)

	for _, irq := range []interrupt.Interrupt{i2c1Event, i2c1Error, dma1Stream6, dma1Stream5} {
		irq.SetPriority(0xc0)
	}
}

// i2c1Port binds I2C1 to DMA1 stream 6 (TX) and stream 5 (RX), both on
// channel 1 at very high priority. Timing fields are left for
// ConfigureBus.
func i2c1Port() core.I2CPort {
	r := stm32.I2C1
	return core.I2CPort{
		Setup: i2cdma.Setup{
			I2C: &i2cdma.Peripheral{
				CR1:       &r.CR1,
				CR2:       &r.CR2,
				DR:        &r.DR,
				SR1:       &r.SR1,
				SR2:       &r.SR2,
				CCR:       &r.CCR,
				TRISE:     &r.TRISE,
				DRAddress: uint32(uintptr(unsafe.Pointer(&r.DR))),
			},
			EventInt: i2c1Event,
			ErrorInt: i2c1Error,
			DMATx:    dma1Stream(6),
			DMATxInt: dma1Stream6,
			DMATxCh:  1,
			DMATxPL:  3,
			DMARx:    dma1Stream(5),
			DMARxInt: dma1Stream5,
			DMARxCh:  1,
			DMARxPL:  3,
		},
		PCLKHz: apb1Hz,
		Attach: func(d *i2cdma.Driver) { i2c1 = d },
	}
}
