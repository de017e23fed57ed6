package core

import (
	"sync/atomic"
	"time"

	"dmai2c/protocol"
)

// Sender frames a message to the host. *protocol.Transport is one.
type Sender interface {
	SendCommand(cmdID uint16, args func(output protocol.OutputBuffer))
}

// DefaultClockFreq is the tick rate used until a target installs its own
// clock with SetClock.
const DefaultClockFreq = 1000000

// Firmware owns the command registry, the dictionary, and the state the
// core commands report.
type Firmware struct {
	reg  *CommandRegistry
	dict *Dictionary
	out  Sender

	clockFreq uint32
	now       func() uint64

	configCRC    atomic.Uint32
	shutdown     atomic.Bool
	resetPending atomic.Bool
	resetHandler func()
	moveCount    uint16

	i2c        I2CDriver
	i2cDevices map[uint8]*I2CDevice
}

// NewFirmware registers the core and I2C commands. i2c may be nil on a
// board without a bus; the I2C commands then fail at i2c_set_bus.
func NewFirmware(i2c I2CDriver) *Firmware {
	reg := NewCommandRegistry()
	start := time.Now()
	f := &Firmware{
		reg:        reg,
		dict:       NewDictionary(reg),
		clockFreq:  DefaultClockFreq,
		now:        func() uint64 { return uint64(time.Since(start) / time.Microsecond) },
		moveCount:  16,
		i2c:        i2c,
		i2cDevices: make(map[uint8]*I2CDevice),
	}
	f.initCoreCommands()
	f.initI2CCommands()
	return f
}

// initCoreCommands registers the bootstrap pair first: hosts assume
// identify_response is 0 and identify is 1 before they have a dictionary.
func (f *Firmware) initCoreCommands() {
	f.reg.RegisterResponse("identify_response", "offset=%u data=%*s")
	f.reg.Register("identify", "offset=%u count=%c", f.handleIdentify)

	f.reg.Register("get_uptime", "", f.handleGetUptime)
	f.reg.Register("get_clock", "", f.handleGetClock)
	f.reg.Register("get_config", "", f.handleGetConfig)
	f.reg.Register("config_reset", "", f.handleConfigReset)
	f.reg.Register("finalize_config", "crc=%u", f.handleFinalizeConfig)
	f.reg.Register("allocate_oids", "count=%c", f.handleAllocateOids)
	f.reg.Register("emergency_stop", "", f.handleEmergencyStop)
	f.reg.Register("reset", "", f.handleReset)

	f.reg.RegisterResponse("clock", "clock=%u")
	f.reg.RegisterResponse("uptime", "high=%u clock=%u")
	f.reg.RegisterResponse("config", "is_config=%c crc=%u is_shutdown=%c move_count=%hu")

	f.dict.AddConstant("STATS_SUMSQ_BASE", uint32(256))
	f.dict.AddConstant("CLOCK_FREQ", f.clockFreq)
}

func (f *Firmware) Registry() *CommandRegistry { return f.reg }
func (f *Firmware) Dictionary() *Dictionary    { return f.dict }

// SetSender routes responses. Until one is set they are dropped.
func (f *Firmware) SetSender(s Sender) { f.out = s }

// SetClock installs the target's free-running counter.
func (f *Firmware) SetClock(freq uint32, now func() uint64) {
	f.clockFreq = freq
	f.now = now
	f.dict.AddConstant("CLOCK_FREQ", freq)
}

// SetResetHandler installs the platform reset, run by CheckPendingReset.
func (f *Firmware) SetResetHandler(handler func()) { f.resetHandler = handler }

// Handle is the protocol.CommandHandler for this firmware.
func (f *Firmware) Handle(cmdID uint16, data *[]byte) error {
	return f.reg.Dispatch(cmdID, data)
}

// send frames a registered response. Every response is registered at
// construction, so an unknown name is a programming error.
func (f *Firmware) send(name string, args func(output protocol.OutputBuffer)) {
	c, ok := f.reg.GetCommandByName(name)
	if !ok {
		panic("response not registered: " + name)
	}
	if f.out != nil {
		f.out.SendCommand(c.ID, args)
	}
}

func (f *Firmware) handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	chunk := f.dict.GetChunk(offset, uint8(count))
	f.send("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

func (f *Firmware) handleGetUptime(*[]byte) error {
	up := f.now()
	f.send("uptime", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(up>>32))
		protocol.EncodeVLQUint(output, uint32(up))
	})
	return nil
}

func (f *Firmware) handleGetClock(*[]byte) error {
	clock := uint32(f.now())
	f.send("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, clock)
	})
	return nil
}

func (f *Firmware) handleGetConfig(*[]byte) error {
	crc := f.configCRC.Load()
	f.send("config", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, boolVal(crc != 0))
		protocol.EncodeVLQUint(output, crc)
		protocol.EncodeVLQUint(output, boolVal(f.shutdown.Load()))
		protocol.EncodeVLQUint(output, uint32(f.moveCount))
	})
	return nil
}

func boolVal(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// handleConfigReset drops the configuration and leaves shutdown, so the
// host can configure again without a hardware reset.
func (f *Firmware) handleConfigReset(*[]byte) error {
	f.configCRC.Store(0)
	f.shutdown.Store(false)
	clear(f.i2cDevices)
	return nil
}

func (f *Firmware) handleFinalizeConfig(data *[]byte) error {
	crc, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	f.configCRC.Store(crc)
	return nil
}

func (f *Firmware) handleAllocateOids(data *[]byte) error {
	_, err := protocol.DecodeVLQUint(data)
	return err
}

func (f *Firmware) handleEmergencyStop(*[]byte) error {
	f.Shutdown("emergency stop")
	return nil
}

// handleReset only marks the reset; the serve loop runs it once the ACK
// has left.
func (f *Firmware) handleReset(*[]byte) error {
	f.resetPending.Store(true)
	return nil
}

// Shutdown stops all I2C activity until config_reset.
func (f *Firmware) Shutdown(reason string) {
	if f.shutdown.Swap(true) {
		return
	}
	DebugPrintln("[CORE] shutdown: " + reason)
	f.shutdownI2C()
}

func (f *Firmware) IsShutdown() bool { return f.shutdown.Load() }

// CheckPendingReset runs the reset handler if reset was requested.
func (f *Firmware) CheckPendingReset() {
	if f.resetPending.Swap(false) && f.resetHandler != nil {
		f.resetHandler()
	}
}
