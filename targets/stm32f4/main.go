//go:build tinygo && stm32f4

package main

import (
	"context"
	"device/arm"
	"machine"
	"time"

	"tinygo.org/x/drivers/at24cx"

	"dmai2c/core"
)

const (
	i2c1Bus      = core.I2CBusID(1)
	commandBaud  = 250000
	phaseTimeout = 25 * time.Millisecond
)

func main() {
	initI2C1()

	hal := core.NewDMAI2C()
	hal.Timeout = phaseTimeout
	hal.AddPort(i2c1Bus, i2c1Port())

	fw := core.NewFirmware(hal)
	dict := fw.Dictionary()
	dict.SetBuildVersions("tinygo stm32f4")
	dict.AddConstant("MCU", "stm32f407")
	dict.AddEnumeration("i2c_bus", []string{"", "i2c1"})
	dict.AddConstant("AT24CX", probeEEPROM(hal))
	fw.SetResetHandler(arm.SystemReset)

	uart := machine.UART1
	uart.Configure(machine.UARTConfig{BaudRate: commandBaud})

	for {
		// Serve only returns on a UART error; start over with a fresh
		// transport.
		if err := fw.Serve(context.Background(), uart); err != nil {
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// probeEEPROM reads the first byte of an AT24Cxx at its default address,
// so the host can see from the dictionary whether one is fitted.
func probeEEPROM(hal *core.DMAI2C) string {
	if err := hal.ConfigureBus(i2c1Bus, 400000); err != nil {
		return "bus error"
	}
	bus, _ := hal.Bus(i2c1Bus)
	dev := at24cx.New(bus)
	dev.Configure(at24cx.Config{})
	if _, err := dev.ReadByte(0); err != nil {
		return "absent"
	}
	return "present"
}
