//go:build !tinygo

// Package sim models an STM32F4 I2C controller in master mode, the two DMA
// streams that serve it, and the slave devices on its bus, at register
// level. Interrupt lines are level triggered and are delivered to the
// driver from a dispatcher goroutine through i2cdma.Dispatch.
package sim

import (
	"errors"
	"strconv"
	"sync"

	"go.uber.org/multierr"

	"dmai2c/i2cdma"
)

// I2C_SR1 error flags, for RaiseError.
const (
	BERR    = 1 << 8
	ARLO    = 1 << 9
	AF      = 1 << 10
	OVR     = 1 << 11
	PECERR  = 1 << 12
	TIMEOUT = 1 << 14

	sr1Errors = BERR | ARLO | AF | OVR | PECERR | TIMEOUT
)

const (
	cr1PE    = 1 << 0
	cr1START = 1 << 8
	cr1STOP  = 1 << 9
	cr1ACK   = 1 << 10

	cr2ITERREN = 1 << 8
	cr2ITEVTEN = 1 << 9
	cr2DMAEN   = 1 << 11
	cr2LAST    = 1 << 12

	sr1SB   = 1 << 0
	sr1ADDR = 1 << 1
	sr1BTF  = 1 << 2

	sr2MSL  = 1 << 0
	sr2BUSY = 1 << 1
	sr2TRA  = 1 << 2

	dmaEN    = 1 << 0
	dmaDMEIE = 1 << 1
	dmaTEIE  = 1 << 2
	dmaHTIE  = 1 << 3
	dmaTCIE  = 1 << 4

	flagTE  = i2cdma.FlagTE
	flagDME = i2cdma.FlagDME
	flagHT  = i2cdma.FlagHT
	flagTC  = i2cdma.FlagTC
)

// DRAddress is the modelled bus address of I2C1_DR.
const DRAddress = 0x40005410

// stormLimit is how many times in a row one line may fire before the
// dispatcher masks it.
const stormLimit = 64

type busState uint8

const (
	stateIdle busState = iota
	stateStart
	stateAddr
	stateTx
	stateRx
	stateRxDone
	stateNack
)

const (
	lineEvent = iota
	lineError
	lineTx
	lineRx
)

// Handlers is the interrupt surface of the driver.
type Handlers interface {
	HandleEvent()
	HandleError()
	HandleTxDMA()
	HandleRxDMA()
}

// Sim is one simulated controller with its bus.
type Sim struct {
	mu sync.Mutex

	cr1, cr2, dr, sr1, sr2, ccr, trise *reg
	tx, rx                             *Stream
	lines                              [4]*Line
	handlers                           [4]func()

	devices map[uint8]Device
	dev     Device
	state   busState
	owner   bool
	reading bool
	held    bool

	writes     int
	log        []Event
	violations []string
	storms     error

	kickc chan struct{}
	quit  chan struct{}
	wg    sync.WaitGroup
}

// New returns a simulator with an empty bus and starts its dispatcher.
func New() *Sim {
	s := &Sim{
		devices: make(map[uint8]Device),
		kickc:   make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
	s.cr1 = &reg{s: s, write: s.writeCR1}
	s.cr2 = &reg{s: s}
	s.dr = &reg{s: s, write: s.writeDR}
	s.sr1 = &reg{s: s, write: s.writeSR1}
	s.sr2 = &reg{s: s, read: s.readSR2, write: func(*reg, uint32) {}}
	s.ccr = &reg{s: s}
	s.trise = &reg{s: s, val: 2}
	s.tx = newStream(s, "tx")
	s.rx = newStream(s, "rx")
	for i, name := range []string{"i2c_ev", "i2c_er", "dma_tx", "dma_rx"} {
		s.lines[i] = &Line{s: s, name: name}
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Peripheral returns the register block of the simulated controller.
func (s *Sim) Peripheral() *i2cdma.Peripheral {
	return &i2cdma.Peripheral{
		CR1:       s.cr1,
		CR2:       s.cr2,
		DR:        s.dr,
		SR1:       s.sr1,
		SR2:       s.sr2,
		CCR:       s.ccr,
		TRISE:     s.trise,
		DRAddress: DRAddress,
	}
}

// Setup returns a complete configuration for the simulated hardware: 42 MHz
// APB1, 400 kHz fast mode with a 2:1 duty, DMA channel 1 at very high
// priority in both directions.
func (s *Sim) Setup() i2cdma.Setup {
	return i2cdma.Setup{
		I2C:      s.Peripheral(),
		EventInt: s.lines[lineEvent],
		ErrorInt: s.lines[lineError],
		Freq:     42,
		Presc:    35,
		Trise:    13,
		Mode:     i2cdma.ModeFastDuty2_1,
		DMATx:    s.tx,
		DMATxInt: s.lines[lineTx],
		DMATxCh:  1,
		DMATxPL:  3,
		DMARx:    s.rx,
		DMARxInt: s.lines[lineRx],
		DMARxCh:  1,
		DMARxPL:  3,
	}
}

// Init initializes a driver on the simulator and attaches its handlers.
func (s *Sim) Init(setup i2cdma.Setup) (*i2cdma.Driver, error) {
	d, err := i2cdma.Init(setup)
	if err != nil {
		return nil, err
	}
	s.Attach(d)
	return d, nil
}

// Attach routes the four interrupt lines to h.
func (s *Sim) Attach(h Handlers) {
	s.mu.Lock()
	s.handlers = [4]func(){h.HandleEvent, h.HandleError, h.HandleTxDMA, h.HandleRxDMA}
	s.mu.Unlock()
	s.kick()
}

// AddDevice puts dev on the bus at the 7-bit address addr.
func (s *Sim) AddDevice(addr uint8, dev Device) {
	s.mu.Lock()
	s.devices[addr] = dev
	s.mu.Unlock()
}

// RemoveDevice takes the device at addr off the bus; its address is NACKed
// from then on.
func (s *Sim) RemoveDevice(addr uint8) {
	s.mu.Lock()
	delete(s.devices, addr)
	s.mu.Unlock()
}

// Hold stops the bus from moving data while held is true, as a slave
// stretching SCL would. Releasing it resumes any armed stream.
func (s *Sim) Hold(held bool) {
	s.mu.Lock()
	s.held = held
	if !held {
		s.pump()
	}
	s.mu.Unlock()
	s.kick()
}

// Stalled reports whether a stream is armed and waiting on a held bus.
func (s *Sim) Stalled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.held {
		return false
	}
	return s.state == stateTx && s.tx.enabled() || s.state == stateRx && s.rx.enabled()
}

// RaiseError sets I2C_SR1 error flags, as the peripheral would on a bus
// error.
func (s *Sim) RaiseError(flags uint32) {
	s.mu.Lock()
	s.sr1.val |= flags & sr1Errors
	if flags&ARLO != 0 {
		// The peripheral drops back to slave mode.
		s.owner = false
		s.state = stateIdle
		s.sr2.val &^= sr2MSL | sr2TRA
	}
	s.mu.Unlock()
	s.kick()
}

// RaiseDMAError sets error flags (i2cdma.FlagTE, FlagDME) on the RX stream
// if read is true, else on the TX stream.
func (s *Sim) RaiseDMAError(read bool, flags uint32) {
	s.mu.Lock()
	st := s.tx
	if read {
		st = s.rx
	}
	st.flags |= flags
	st.cr.val &^= dmaEN
	s.mu.Unlock()
	s.kick()
}

// Writes counts every register write the driver has made.
func (s *Sim) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// StreamStarts reports how many times each DMA stream has been enabled.
func (s *Sim) StreamStarts() (tx, rx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx.starts, s.rx.starts
}

// Violations returns the bus-protocol and memory violations seen so far.
func (s *Sim) Violations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.violations...)
}

// Snapshot is a copy of the configuration registers.
type Snapshot struct {
	CR1, CR2, CCR, TRISE uint32
	TxCR, TxPAR          uint32
	RxCR, RxPAR          uint32
}

// Registers returns the current configuration register values.
func (s *Sim) Registers() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		CR1:   s.cr1.val,
		CR2:   s.cr2.val,
		CCR:   s.ccr.val,
		TRISE: s.trise.val,
		TxCR:  s.tx.cr.val,
		TxPAR: s.tx.par.val,
		RxCR:  s.rx.cr.val,
		RxPAR: s.rx.par.val,
	}
}

// Close stops the dispatcher. It reports interrupt storms and protocol
// violations seen during the run.
func (s *Sim) Close() error {
	close(s.quit)
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.storms
	for _, v := range s.violations {
		err = multierr.Append(err, errors.New("sim: "+v))
	}
	return err
}

func (s *Sim) violate(msg string) {
	s.violations = append(s.violations, msg)
}

func (s *Sim) kick() {
	select {
	case s.kickc <- struct{}{}:
	default:
	}
}

func (s *Sim) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case <-s.kickc:
		}
		s.service()
	}
}

// service delivers pending lines until none is left, error line first, then
// TX stream, RX stream and event line.
func (s *Sim) service() {
	last, repeats := -1, 0
	for {
		s.mu.Lock()
		line := s.pending()
		var h func()
		if line >= 0 {
			h = s.handlers[line]
			if line == last {
				repeats++
			} else {
				last, repeats = line, 0
			}
			if repeats > stormLimit {
				s.lines[line].enabled = false
				s.storms = multierr.Append(s.storms, errors.New("sim: interrupt storm on "+s.lines[line].name))
				h = nil
			}
		}
		s.mu.Unlock()
		if h == nil {
			return
		}
		i2cdma.Dispatch(h)
	}
}

func (s *Sim) pending() int {
	if s.lines[lineError].enabled && s.cr2.val&cr2ITERREN != 0 && s.sr1.val&sr1Errors != 0 {
		return lineError
	}
	if s.lines[lineTx].enabled && s.tx.irq() {
		return lineTx
	}
	if s.lines[lineRx].enabled && s.rx.irq() {
		return lineRx
	}
	if s.lines[lineEvent].enabled && s.cr2.val&cr2ITEVTEN != 0 && s.sr1.val&(sr1SB|sr1ADDR|sr1BTF) != 0 {
		return lineEvent
	}
	return -1
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
