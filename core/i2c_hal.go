package core

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"dmai2c/i2cdma"
)

// I2CBusID identifies a controller (I2C1, I2C2, ...).
type I2CBusID uint8

// I2CAddress is a 7-bit device address.
type I2CAddress uint8

// I2CDriver is the bus interface the I2C commands use.
type I2CDriver interface {
	// ConfigureBus brings bus up at no more than frequencyHz.
	ConfigureBus(bus I2CBusID, frequencyHz uint32) error

	// Transfer writes w, then reads len(r) bytes after a repeated START,
	// in one transaction. Either slice may be empty.
	Transfer(bus I2CBusID, addr I2CAddress, w, r []byte) error
}

var ErrUnknownBus = errors.New("i2c: unknown bus")

// I2CPort describes one DMA-capable controller.
type I2CPort struct {
	// Setup binds the registers, interrupt lines and DMA streams. Its
	// timing fields are replaced by ConfigureBus.
	Setup i2cdma.Setup

	// PCLKHz is the controller's APB clock.
	PCLKHz uint32

	// Attach routes the controller's interrupts to a freshly initialized
	// driver. It runs before the driver is used.
	Attach func(*i2cdma.Driver)
}

// DMAI2C implements I2CDriver over i2cdma drivers, one per port.
type DMAI2C struct {
	// Timeout bounds each transfer phase. Zero waits forever.
	Timeout time.Duration

	mu    sync.Mutex
	ports map[I2CBusID]I2CPort
	buses map[I2CBusID]*i2cdma.Bus
}

func NewDMAI2C() *DMAI2C {
	return &DMAI2C{
		ports: make(map[I2CBusID]I2CPort),
		buses: make(map[I2CBusID]*i2cdma.Bus),
	}
}

// AddPort makes a controller available as bus id.
func (d *DMAI2C) AddPort(id I2CBusID, port I2CPort) {
	d.mu.Lock()
	d.ports[id] = port
	d.mu.Unlock()
}

// ConfigureBus picks standard mode up to 100 kHz and fast mode with a 2:1
// duty above it. A bus already running at the resulting timing is left
// alone; otherwise its driver is closed and a new one initialized.
func (d *DMAI2C) ConfigureBus(id I2CBusID, hz uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	port, ok := d.ports[id]
	if !ok {
		return ErrUnknownBus
	}
	mode := i2cdma.ModeStandard
	if hz > i2cdma.MaxStandardHz {
		mode = i2cdma.ModeFastDuty2_1
	}
	tm, err := i2cdma.ComputeTiming(port.PCLKHz, hz, mode)
	if err != nil {
		return err
	}

	if b := d.buses[id]; b != nil {
		if b.Driver().Timing() == tm {
			return nil
		}
		if err := b.Driver().Close(); err != nil {
			return err
		}
		delete(d.buses, id)
	}

	setup := port.Setup
	setup.Freq, setup.Presc, setup.Trise, setup.Mode = tm.Freq, tm.Presc, tm.Trise, tm.Mode
	drv, err := i2cdma.Init(setup)
	if err != nil {
		return err
	}
	if port.Attach != nil {
		port.Attach(drv)
	}
	bus := i2cdma.NewBus(drv, 64)
	bus.Timeout = d.Timeout
	d.buses[id] = bus
	DebugPrintln("[I2C] bus " + strconv.Itoa(int(id)) + " at " + strconv.Itoa(int(tm.SCL())) + " Hz")
	return nil
}

// Bus returns the configured bus id.
func (d *DMAI2C) Bus(id I2CBusID) (*i2cdma.Bus, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buses[id]
	return b, ok
}

func (d *DMAI2C) Transfer(id I2CBusID, addr I2CAddress, w, r []byte) error {
	b, ok := d.Bus(id)
	if !ok {
		return ErrUnknownBus
	}
	return b.Tx(uint16(addr), w, r)
}

// Close shuts every configured driver down.
func (d *DMAI2C) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for id, b := range d.buses {
		if err := b.Driver().Close(); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(d.buses, id)
	}
	return errors.Join(errs...)
}
