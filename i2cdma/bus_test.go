package i2cdma_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.viam.com/test"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers/at24cx"

	"dmai2c/i2cdma"
	"dmai2c/i2cdma/sim"
)

func TestBusTx(t *testing.T) {
	s, drv, _ := newBench(t)
	bus := i2cdma.NewBus(drv, 2)

	r := make([]byte, 3)
	test.That(t, bus.Tx(devAddr, []byte{0x92}, r), test.ShouldBeNil)
	test.That(t, r, test.ShouldResemble, []byte{0xde, 0xad, 0xbe})
	test.That(t, s.Trace(), test.ShouldResemble, []string{
		"START", "ADDR 0x39 W ACK", "W 0x92 ACK",
		"RSTART", "ADDR 0x39 R ACK", "R 0xde ACK", "R 0xad ACK", "R 0xbe NACK",
		"STOP",
	})

	s.ResetLog()
	test.That(t, bus.Tx(devAddr, nil, r[:1]), test.ShouldBeNil)
	test.That(t, r[0], test.ShouldEqual, byte(0xef))
	test.That(t, s.Trace(), test.ShouldResemble, []string{"START", "ADDR 0x39 R ACK", "R 0xef NACK", "STOP"})

	test.That(t, bus.Tx(devAddr, nil, nil), test.ShouldNotBeNil)
	test.That(t, bus.Tx(0x80, []byte{1}, nil), test.ShouldEqual, i2cdma.ErrAddress)
	test.That(t, drv.Active(), test.ShouldBeFalse)
}

func TestBusTxNoDevice(t *testing.T) {
	s, drv, _ := newBench(t)
	bus := i2cdma.NewBus(drv, 4)

	err := bus.Tx(0x42, []byte{0}, make([]byte, 2))
	test.That(t, errors.Is(err, i2cdma.ErrNoDevice), test.ShouldBeTrue)
	test.That(t, drv.Active(), test.ShouldBeFalse)
	test.That(t, s.Trace(), test.ShouldResemble, []string{"START", "ADDR 0x42 W NACK", "STOP"})

	// A failed read phase releases the driver too.
	s.ResetLog()
	err = bus.Tx(0x42, nil, make([]byte, 2))
	test.That(t, errors.Is(err, i2cdma.ErrNoDevice), test.ShouldBeTrue)
	test.That(t, drv.Active(), test.ShouldBeFalse)
	test.That(t, s.Trace(), test.ShouldResemble, []string{"START", "ADDR 0x42 R NACK", "STOP"})

	// The bus is usable again straight away.
	test.That(t, bus.Tx(devAddr, []byte{0x92}, make([]byte, 1)), test.ShouldBeNil)
}

func TestBusTimeout(t *testing.T) {
	s, drv, _ := newBench(t)
	bus := i2cdma.NewBus(drv, 4)
	bus.Timeout = 10 * time.Millisecond

	s.Hold(true)
	err := bus.Tx(devAddr, []byte{0x92, 1}, nil)
	test.That(t, errors.Is(err, i2cdma.ErrBusFault), test.ShouldBeTrue)
	var f *i2cdma.Fault
	test.That(t, errors.As(err, &f), test.ShouldBeTrue)
	test.That(t, f.Kind, test.ShouldEqual, i2cdma.FaultAborted)
	test.That(t, drv.Active(), test.ShouldBeFalse)
	s.Hold(false)
}

func TestBusRegisters(t *testing.T) {
	_, drv, mem := newBench(t)
	bus := i2cdma.NewBus(drv, 0)

	test.That(t, bus.WriteRegister(devAddr, 0x30, []byte{7, 8, 9}), test.ShouldBeNil)
	test.That(t, mem.Data[0x30:0x33], test.ShouldResemble, []byte{7, 8, 9})

	got := make([]byte, 2)
	test.That(t, bus.ReadRegister(devAddr, 0x31, got), test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, []byte{8, 9})
}

func TestBusConcurrentTx(t *testing.T) {
	_, drv, mem := newBench(t)
	bus := i2cdma.NewBus(drv, 4)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg := uint8(0x40 + i)
			if err := bus.WriteRegister(devAddr, reg, []byte{byte(i)}); err != nil {
				errs[i] = err
				return
			}
			b := make([]byte, 1)
			errs[i] = bus.ReadRegister(devAddr, reg, b)
		}()
	}
	wg.Wait()
	for i, err := range errs {
		test.That(t, err, test.ShouldBeNil)
		test.That(t, mem.Data[0x40+i], test.ShouldEqual, byte(i))
	}
}

func TestBusDrivesEEPROM(t *testing.T) {
	s, drv, _ := newBench(t)
	eeprom := sim.NewMemory(4096, 2)
	s.AddDevice(at24cx.Address, eeprom)

	dev := at24cx.New(i2cdma.NewBus(drv, 8))
	dev.Configure(at24cx.Config{})

	test.That(t, dev.WriteByte(0x0123, 0xab), test.ShouldBeNil)
	test.That(t, eeprom.Data[0x0123], test.ShouldEqual, byte(0xab))
	b, err := dev.ReadByte(0x0123)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, b, test.ShouldEqual, uint8(0xab))

	msg := []byte("dma driven")
	n, err := dev.WriteAt(msg, 0x0200)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, len(msg))
	back := make([]byte, len(msg))
	_, err = dev.ReadAt(back, 0x0200)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back, test.ShouldResemble, msg)
	test.That(t, eeprom.Violations(), test.ShouldBeEmpty)
}

func TestBusPeriph(t *testing.T) {
	_, drv, _ := newBench(t)
	bus := i2cdma.NewBus(drv, 4)

	var b i2c.Bus = bus
	test.That(t, b.String(), test.ShouldEqual, "i2cdma(400000Hz)")
	test.That(t, b.SetSpeed(400*physic.KiloHertz), test.ShouldBeNil)
	test.That(t, b.SetSpeed(physic.MegaHertz), test.ShouldBeNil)
	test.That(t, b.SetSpeed(100*physic.KiloHertz), test.ShouldNotBeNil)

	dev := &i2c.Dev{Bus: bus, Addr: devAddr}
	r := make([]byte, 2)
	test.That(t, dev.Tx([]byte{0x92}, r), test.ShouldBeNil)
	test.That(t, r, test.ShouldResemble, []byte{0xde, 0xad})

	n, err := dev.Write([]byte{0x50, 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 2)
}
