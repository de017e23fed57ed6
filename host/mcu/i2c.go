package mcu

import (
	"errors"
	"fmt"

	"dmai2c/core"
)

// ErrShutdown is returned when the firmware went into shutdown while
// configuring a bus.
var ErrShutdown = errors.New("mcu: firmware is shut down")

// StatusError is a failed I2C transfer as reported by the firmware.
type StatusError struct {
	OID    uint8
	Status uint8
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("i2c oid %d: %s", e.OID, StatusText(e.Status))
}

// StatusText names an I2C status code.
func StatusText(st uint8) string {
	switch st {
	case core.I2CStatusOK:
		return "ok"
	case core.I2CStatusNack:
		return "data not acknowledged"
	case core.I2CStatusTimeout:
		return "timeout"
	case core.I2CStatusStartNack:
		return "no device (write)"
	case core.I2CStatusStartReadNack:
		return "no device (read)"
	case core.I2CStatusBusFault:
		return "bus fault"
	case core.I2CStatusDMAFault:
		return "dma fault"
	case core.I2CStatusInvalid:
		return "invalid request"
	}
	return fmt.Sprintf("status %d", st)
}

func statusErr(oid uint8, st int64) error {
	if st == core.I2CStatusOK {
		return nil
	}
	return &StatusError{OID: oid, Status: uint8(st)}
}

func forOID(oid uint8, names ...string) func(*Response) bool {
	return func(r *Response) bool {
		if r.OID() != int(oid) {
			return false
		}
		for _, n := range names {
			if r.Name == n {
				return true
			}
		}
		return false
	}
}

// ConfigI2C creates device oid and puts its bus at rate. The firmware
// shuts down when the bus cannot be configured; that is reported as
// ErrShutdown.
func (m *MCU) ConfigI2C(oid, bus uint8, rate uint32, addr uint8) error {
	if err := m.Send("config_i2c", oid); err != nil {
		return err
	}
	if err := m.Send("i2c_set_bus", oid, uint32(bus), rate, uint32(addr)); err != nil {
		return err
	}
	st, err := m.GetConfig()
	if err != nil {
		return err
	}
	if st.IsShutdown {
		return fmt.Errorf("i2c bus %d at %d Hz: %w", bus, rate, ErrShutdown)
	}
	m.logger.Infow("i2c configured", "oid", oid, "bus", bus, "rate", rate, "address", fmt.Sprintf("0x%02x", addr))
	return nil
}

// I2CWrite writes data to device oid. The firmware answers a write only
// on failure, and that answer precedes the ACK.
func (m *MCU) I2CWrite(oid uint8, data []byte) error {
	if err := m.Send("i2c_write", oid, data); err != nil {
		return err
	}
	if r, ok := m.queued(forOID(oid, "i2c_status")); ok {
		return statusErr(oid, r.Values["status"])
	}
	return nil
}

// I2CRead writes reg, then reads n bytes after a repeated START.
func (m *MCU) I2CRead(oid uint8, reg []byte, n int) ([]byte, error) {
	if err := m.Send("i2c_read", oid, reg, uint32(n)); err != nil {
		return nil, err
	}
	r, err := m.WaitResponse(forOID(oid, "i2c_read_response", "i2c_status"))
	if err != nil {
		return nil, err
	}
	if r.Name == "i2c_status" {
		return nil, statusErr(oid, r.Values["status"])
	}
	return r.Bytes["response"], nil
}

// I2CTransfer runs one write-then-read transaction. Either part may be
// empty.
func (m *MCU) I2CTransfer(oid uint8, w []byte, n int) ([]byte, error) {
	r, err := m.queryOID(oid, "i2c_transfer_response", "i2c_transfer", oid, w, uint32(n))
	if err != nil {
		return nil, err
	}
	if err := statusErr(oid, r.Values["status"]); err != nil {
		return nil, err
	}
	return r.Bytes["response"], nil
}

func (m *MCU) queryOID(oid uint8, response, name string, args ...any) (*Response, error) {
	if err := m.Send(name, args...); err != nil {
		return nil, err
	}
	return m.WaitResponse(forOID(oid, response))
}
