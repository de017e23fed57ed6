package core

import (
	"errors"
	"strconv"

	"dmai2c/i2cdma"
	"dmai2c/protocol"
)

// I2CDevice is one configured device object.
type I2CDevice struct {
	OID     uint8
	Bus     I2CBusID
	Address I2CAddress
	Ready   bool // set once i2c_set_bus succeeds
}

// Transfer status codes sent to the host. The first five follow the
// usual Klipper numbering.
const (
	I2CStatusOK            = 0
	I2CStatusNack          = 1 // data byte not acknowledged
	I2CStatusTimeout       = 2
	I2CStatusStartNack     = 3 // no device at the address, write
	I2CStatusStartReadNack = 4 // no device at the address, read
	I2CStatusBusFault      = 5 // bus error, arbitration lost, overrun, PEC
	I2CStatusDMAFault      = 6
	I2CStatusInvalid       = 7 // rejected before touching the bus
)

// MaxI2CRead is the largest read whose response still fits in one block.
const MaxI2CRead = 48

var errNotReady = errors.New("i2c: device not configured")

// I2CStatus maps a transfer result to its status code.
func I2CStatus(err error) uint8 {
	if err == nil {
		return I2CStatusOK
	}
	var f *i2cdma.Fault
	if !errors.As(err, &f) {
		return I2CStatusInvalid
	}
	switch f.Kind {
	case i2cdma.FaultNack:
		if f.Phase != i2cdma.PhaseAddressSent {
			return I2CStatusNack
		}
		if f.Read {
			return I2CStatusStartReadNack
		}
		return I2CStatusStartNack
	case i2cdma.FaultTimeout, i2cdma.FaultAborted:
		return I2CStatusTimeout
	case i2cdma.FaultDMATransfer, i2cdma.FaultDMADirect, i2cdma.FaultDMAFIFO:
		return I2CStatusDMAFault
	}
	return I2CStatusBusFault
}

func (f *Firmware) initI2CCommands() {
	f.reg.Register("config_i2c", "oid=%c", f.handleConfigI2C)
	f.reg.Register("i2c_set_bus", "oid=%c i2c_bus=%u rate=%u address=%u", f.handleI2CSetBus)
	f.reg.Register("i2c_write", "oid=%c data=%*s", f.handleI2CWrite)
	f.reg.Register("i2c_read", "oid=%c reg=%*s read_len=%u", f.handleI2CRead)
	f.reg.Register("i2c_transfer", "oid=%c write=%*s read_len=%u", f.handleI2CTransfer)

	f.reg.RegisterResponse("i2c_read_response", "oid=%c response=%*s")
	f.reg.RegisterResponse("i2c_transfer_response", "oid=%c status=%c response=%*s")
	f.reg.RegisterResponse("i2c_status", "oid=%c status=%c")

	f.dict.AddConstant("I2C_MAX_READ", MaxI2CRead)
}

// decodeArgs reads n VLQ integers.
func decodeArgs(data *[]byte, n int) ([]uint32, error) {
	args := make([]uint32, n)
	for i := range args {
		v, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

func (f *Firmware) handleConfigI2C(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	f.i2cDevices[uint8(oid)] = &I2CDevice{OID: uint8(oid)}
	return nil
}

func (f *Firmware) handleI2CSetBus(data *[]byte) error {
	args, err := decodeArgs(data, 4)
	if err != nil {
		return err
	}
	dev, ok := f.i2cDevices[uint8(args[0])]
	if !ok {
		return nil
	}
	dev.Bus = I2CBusID(args[1])
	dev.Address = I2CAddress(args[3] & 0x7f)
	if f.i2c == nil {
		f.Shutdown("i2c_set_bus: no I2C driver")
		return ErrUnknownBus
	}
	if err := f.i2c.ConfigureBus(dev.Bus, args[2]); err != nil {
		f.Shutdown("i2c_set_bus: " + err.Error())
		return err
	}
	dev.Ready = true
	return nil
}

// device returns the ready device for oid.
func (f *Firmware) device(oid uint32) (*I2CDevice, error) {
	dev, ok := f.i2cDevices[uint8(oid)]
	if !ok || !dev.Ready {
		return nil, errNotReady
	}
	return dev, nil
}

func (f *Firmware) transfer(oid uint32, w []byte, n uint32) ([]byte, uint8) {
	dev, err := f.device(oid)
	if err != nil || n > MaxI2CRead {
		return nil, I2CStatusInvalid
	}
	r := make([]byte, n)
	err = f.i2c.Transfer(dev.Bus, dev.Address, w, r)
	st := I2CStatus(err)
	if st != I2CStatusOK {
		DebugPrintln("[I2C] oid " + strconv.FormatUint(uint64(oid), 10) + ": " + err.Error())
		return nil, st
	}
	return r, st
}

func (f *Firmware) sendStatus(oid uint32, st uint8) {
	f.send("i2c_status", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, oid)
		protocol.EncodeVLQUint(output, uint32(st))
	})
}

// handleI2CWrite answers only on failure, with i2c_status.
func (f *Firmware) handleI2CWrite(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	w, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}
	if _, st := f.transfer(oid, w, 0); st != I2CStatusOK {
		f.sendStatus(oid, st)
	}
	return nil
}

// handleI2CRead answers with i2c_read_response, or i2c_status on failure.
func (f *Firmware) handleI2CRead(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	reg, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}
	n, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	r, st := f.transfer(oid, reg, n)
	if st != I2CStatusOK {
		f.sendStatus(oid, st)
		return nil
	}
	f.send("i2c_read_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, oid)
		protocol.EncodeVLQBytes(output, r)
	})
	return nil
}

// handleI2CTransfer always answers, with the status inline.
func (f *Firmware) handleI2CTransfer(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	w, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}
	n, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	r, st := f.transfer(oid, w, n)
	f.send("i2c_transfer_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, oid)
		protocol.EncodeVLQUint(output, uint32(st))
		protocol.EncodeVLQBytes(output, r)
	})
	return nil
}

// shutdownI2C marks every device unconfigured.
func (f *Firmware) shutdownI2C() {
	for _, dev := range f.i2cDevices {
		dev.Ready = false
	}
}
