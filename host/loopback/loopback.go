// Package loopback runs the firmware in-process on the register-level
// simulator, so the host tools work without a board.
package loopback

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"dmai2c/core"
	"dmai2c/host/config"
	"dmai2c/i2cdma"
	"dmai2c/i2cdma/sim"
)

// Board is a simulated controller with memories attached, served over a
// pipe.
type Board struct {
	Sim      *sim.Sim
	Firmware *core.Firmware
	HAL      *core.DMAI2C
	Memories map[uint8]*sim.Memory

	logger *zap.SugaredLogger
	conn   net.Conn
	cancel context.CancelFunc
	done   chan error
}

// Start builds the board cfg.Sim describes and returns it with the host
// end of the link.
func Start(cfg *config.Config, logger *zap.SugaredLogger) (*Board, net.Conn, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	mode, err := i2cdma.ParseMode(cfg.Sim.Mode)
	if err != nil {
		return nil, nil, err
	}

	s := sim.New()
	b := &Board{Sim: s, Memories: make(map[uint8]*sim.Memory), logger: logger}
	for _, d := range cfg.Sim.Devices {
		mem := sim.NewMemory(d.Size, d.PtrSize)
		s.AddDevice(d.Address, mem)
		b.Memories[d.Address] = mem
	}

	setup := s.Setup()
	setup.Mode = mode
	b.HAL = core.NewDMAI2C()
	b.HAL.Timeout = cfg.Timeout()
	b.HAL.AddPort(core.I2CBusID(cfg.Bus), core.I2CPort{
		Setup:  setup,
		PCLKHz: cfg.Sim.PCLKHz,
		Attach: func(d *i2cdma.Driver) { s.Attach(d) },
	})
	b.Firmware = core.NewFirmware(b.HAL)
	debug := func(msg string) { logger.Debug(strings.TrimSpace(msg)) }
	core.SetDebugWriter(debug)
	core.SetDebugEnabled(true)
	i2cdma.SetDebugWriter(debug)
	i2cdma.SetDebugEnabled(true)

	host, fw := net.Pipe()
	b.conn = fw
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan error, 1)
	go func() { b.done <- b.Firmware.Serve(ctx, fw) }()

	logger.Infow("loopback board started", "bus", cfg.Bus, "pclk", cfg.Sim.PCLKHz, "devices", len(b.Memories))
	return b, host, nil
}

// Trace returns the bus log since the last ResetLog.
func (b *Board) Trace() []string {
	return b.Sim.Trace()
}

// Close stops the firmware and the simulator. Protocol violations seen
// by the simulator or any memory are reported as errors.
func (b *Board) Close() error {
	err := b.conn.Close()
	select {
	case serr := <-b.done:
		err = multierr.Append(err, serr)
	case <-time.After(time.Second):
		err = multierr.Append(err, fmt.Errorf("firmware did not stop"))
	}
	b.cancel()
	err = multierr.Append(err, b.HAL.Close())
	err = multierr.Append(err, b.Sim.Close())
	for addr, mem := range b.Memories {
		for _, v := range mem.Violations() {
			err = multierr.Append(err, fmt.Errorf("device 0x%02x: %s", addr, v))
		}
	}
	core.SetDebugWriter(nil)
	i2cdma.SetDebugWriter(nil)
	return err
}
