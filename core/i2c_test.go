package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"go.viam.com/test"

	"dmai2c/i2cdma"
	"dmai2c/i2cdma/sim"
	"dmai2c/protocol"
)

const devAddr = 0x39

func newI2CFirmware(t *testing.T) (*Firmware, *sim.Sim, *sim.Memory, *recorder) {
	t.Helper()
	s := sim.New()
	mem := sim.NewMemory(256, 1)
	s.AddDevice(devAddr, mem)

	hal := NewDMAI2C()
	hal.Timeout = time.Second
	hal.AddPort(1, I2CPort{
		Setup:  s.Setup(),
		PCLKHz: 42000000,
		Attach: func(d *i2cdma.Driver) { s.Attach(d) },
	})
	fw := NewFirmware(hal)
	rec := newRecorded(fw)

	t.Cleanup(func() {
		test.That(t, hal.Close(), test.ShouldBeNil)
		test.That(t, s.Close(), test.ShouldBeNil)
		test.That(t, mem.Violations(), test.ShouldBeEmpty)
	})
	return fw, s, mem, rec
}

func configure(t *testing.T, fw *Firmware, oid, bus, rate, addr int) {
	t.Helper()
	test.That(t, call(t, fw, "config_i2c", oid), test.ShouldBeNil)
	test.That(t, call(t, fw, "i2c_set_bus", oid, bus, rate, addr), test.ShouldBeNil)
}

func TestI2CSetBusProgramsTiming(t *testing.T) {
	fw, s, _, _ := newI2CFirmware(t)

	configure(t, fw, 0, 1, 400000, devAddr)
	test.That(t, s.Registers().CCR, test.ShouldEqual, uint32(1<<15|35))
	test.That(t, s.Registers().TRISE, test.ShouldEqual, uint32(13))

	// Same rate again keeps the running driver.
	writes := s.Writes()
	configure(t, fw, 1, 1, 400000, 0x50)
	test.That(t, s.Writes(), test.ShouldEqual, writes)

	// A slower device drops the bus to standard mode.
	configure(t, fw, 2, 1, 100000, 0x50)
	test.That(t, s.Registers().CCR, test.ShouldEqual, uint32(210))
	test.That(t, s.Registers().TRISE, test.ShouldEqual, uint32(43))
}

func TestI2CWriteThenRead(t *testing.T) {
	fw, s, mem, rec := newI2CFirmware(t)
	configure(t, fw, 3, 1, 400000, devAddr|0x80)

	test.That(t, call(t, fw, "i2c_write", 3, []byte{0x10, 1, 2, 3}), test.ShouldBeNil)
	test.That(t, rec.take(), test.ShouldBeEmpty)
	test.That(t, mem.Data[0x10:0x13], test.ShouldResemble, []byte{1, 2, 3})

	s.ResetLog()
	test.That(t, call(t, fw, "i2c_read", 3, []byte{0x11}, 2), test.ShouldBeNil)
	msgs := rec.take()
	test.That(t, msgs, test.ShouldHaveLength, 1)
	test.That(t, msgs[0].name, test.ShouldEqual, "i2c_read_response")
	args := msgs[0].args
	oid, _ := protocol.DecodeVLQUint(&args)
	data, _ := protocol.DecodeVLQBytes(&args)
	test.That(t, oid, test.ShouldEqual, uint32(3))
	test.That(t, data, test.ShouldResemble, []byte{2, 3})
	test.That(t, s.Trace(), test.ShouldResemble, []string{
		"START", "ADDR 0x39 W ACK", "W 0x11 ACK",
		"RSTART", "ADDR 0x39 R ACK", "R 0x02 ACK", "R 0x03 NACK",
		"STOP",
	})
}

func transferResponse(t *testing.T, rec *recorder) (uint32, uint32, []byte) {
	t.Helper()
	msgs := rec.take()
	test.That(t, msgs, test.ShouldHaveLength, 1)
	test.That(t, msgs[0].name, test.ShouldEqual, "i2c_transfer_response")
	args := msgs[0].args
	v := uints(t, args[:2], 2)
	args = args[2:]
	data, err := protocol.DecodeVLQBytes(&args)
	test.That(t, err, test.ShouldBeNil)
	return v[0], v[1], data
}

func TestI2CTransfer(t *testing.T) {
	fw, _, mem, rec := newI2CFirmware(t)
	copy(mem.Data[0x92:], []byte{0xde, 0xad, 0xbe, 0xef})
	configure(t, fw, 0, 1, 400000, devAddr)
	configure(t, fw, 1, 1, 400000, 0x42)

	test.That(t, call(t, fw, "i2c_transfer", 0, []byte{0x92}, 4), test.ShouldBeNil)
	oid, st, data := transferResponse(t, rec)
	test.That(t, oid, test.ShouldEqual, uint32(0))
	test.That(t, st, test.ShouldEqual, uint32(I2CStatusOK))
	test.That(t, data, test.ShouldResemble, []byte{0xde, 0xad, 0xbe, 0xef})

	tests := []struct {
		name string
		oid  int
		w    []byte
		n    int
		want uint32
	}{
		{"absent device, write", 1, []byte{0}, 1, I2CStatusStartNack},
		{"absent device, read", 1, nil, 2, I2CStatusStartReadNack},
		{"read too long", 0, []byte{0}, MaxI2CRead + 1, I2CStatusInvalid},
		{"empty transfer", 0, nil, 0, I2CStatusInvalid},
		{"unknown oid", 9, []byte{0}, 1, I2CStatusInvalid},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			test.That(t, call(t, fw, "i2c_transfer", tc.oid, tc.w, tc.n), test.ShouldBeNil)
			_, st, data := transferResponse(t, rec)
			test.That(t, st, test.ShouldEqual, tc.want)
			test.That(t, data, test.ShouldBeEmpty)
		})
	}

	// Faults do not stop the firmware.
	test.That(t, fw.IsShutdown(), test.ShouldBeFalse)
	test.That(t, call(t, fw, "i2c_transfer", 0, []byte{0x93}, 1), test.ShouldBeNil)
	_, st, data = transferResponse(t, rec)
	test.That(t, st, test.ShouldEqual, uint32(I2CStatusOK))
	test.That(t, data, test.ShouldResemble, []byte{0xad})
}

func TestI2CFailuresReportStatus(t *testing.T) {
	fw, _, mem, rec := newI2CFirmware(t)
	configure(t, fw, 0, 1, 400000, devAddr)
	configure(t, fw, 1, 1, 400000, 0x42)

	test.That(t, call(t, fw, "i2c_write", 1, []byte{1, 2}), test.ShouldBeNil)
	test.That(t, call(t, fw, "i2c_read", 1, []byte{1}, 1), test.ShouldBeNil)
	mem.NackAfter = 2
	test.That(t, call(t, fw, "i2c_write", 0, []byte{0, 1, 2, 3}), test.ShouldBeNil)

	msgs := rec.take()
	test.That(t, msgs, test.ShouldHaveLength, 3)
	for _, m := range msgs {
		test.That(t, m.name, test.ShouldEqual, "i2c_status")
	}
	test.That(t, uints(t, msgs[0].args, 2), test.ShouldResemble, []uint32{1, I2CStatusStartNack})
	test.That(t, uints(t, msgs[1].args, 2), test.ShouldResemble, []uint32{1, I2CStatusStartNack})
	test.That(t, uints(t, msgs[2].args, 2), test.ShouldResemble, []uint32{0, I2CStatusNack})
}

func TestI2CSetBusFailureShutsDown(t *testing.T) {
	fw, _, _, rec := newI2CFirmware(t)

	test.That(t, call(t, fw, "config_i2c", 0), test.ShouldBeNil)
	err := call(t, fw, "i2c_set_bus", 0, 7, 400000, devAddr)
	test.That(t, err, test.ShouldEqual, ErrUnknownBus)
	test.That(t, fw.IsShutdown(), test.ShouldBeTrue)

	test.That(t, call(t, fw, "config_i2c", 1), test.ShouldBeNil)
	err = call(t, fw, "i2c_set_bus", 1, 1, 5000000, devAddr)
	var cerr *i2cdma.ConfigError
	test.That(t, errors.As(err, &cerr), test.ShouldBeTrue)
	test.That(t, rec.take(), test.ShouldBeEmpty)
}

func TestEmergencyStopDisablesDevices(t *testing.T) {
	fw, _, _, rec := newI2CFirmware(t)
	configure(t, fw, 0, 1, 400000, devAddr)

	test.That(t, call(t, fw, "emergency_stop"), test.ShouldBeNil)
	test.That(t, call(t, fw, "i2c_read", 0, []byte{0}, 1), test.ShouldBeNil)
	msgs := rec.take()
	test.That(t, msgs[0].name, test.ShouldEqual, "i2c_status")
	test.That(t, uints(t, msgs[0].args, 2), test.ShouldResemble, []uint32{0, I2CStatusInvalid})

	// Devices must be configured again after config_reset.
	test.That(t, call(t, fw, "config_reset"), test.ShouldBeNil)
	configure(t, fw, 0, 1, 400000, devAddr)
	test.That(t, call(t, fw, "i2c_read", 0, []byte{0}, 1), test.ShouldBeNil)
	test.That(t, rec.take()[0].name, test.ShouldEqual, "i2c_read_response")
}

func TestI2CStatus(t *testing.T) {
	tests := []struct {
		err  error
		want uint8
	}{
		{nil, I2CStatusOK},
		{&i2cdma.Fault{Kind: i2cdma.FaultNack, Phase: i2cdma.PhaseAddressSent}, I2CStatusStartNack},
		{&i2cdma.Fault{Kind: i2cdma.FaultNack, Phase: i2cdma.PhaseAddressSent, Read: true}, I2CStatusStartReadNack},
		{&i2cdma.Fault{Kind: i2cdma.FaultNack, Phase: i2cdma.PhaseData}, I2CStatusNack},
		{&i2cdma.Fault{Kind: i2cdma.FaultAborted, Phase: i2cdma.PhaseData}, I2CStatusTimeout},
		{&i2cdma.Fault{Kind: i2cdma.FaultTimeout}, I2CStatusTimeout},
		{&i2cdma.Fault{Kind: i2cdma.FaultArbitration}, I2CStatusBusFault},
		{&i2cdma.Fault{Kind: i2cdma.FaultBus}, I2CStatusBusFault},
		{&i2cdma.Fault{Kind: i2cdma.FaultDMADirect}, I2CStatusDMAFault},
		{fmt.Errorf("tx: %w", &i2cdma.Fault{Kind: i2cdma.FaultOverrun}), I2CStatusBusFault},
		{i2cdma.ErrBusy, I2CStatusInvalid},
		{errNotReady, I2CStatusInvalid},
	}
	for _, tc := range tests {
		test.That(t, I2CStatus(tc.err), test.ShouldEqual, tc.want)
	}
}
