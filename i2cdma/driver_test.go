package i2cdma_test

import (
	"errors"
	"testing"

	"go.viam.com/test"

	"dmai2c/i2cdma"
	"dmai2c/i2cdma/sim"
)

func TestInitProgramsHardware(t *testing.T) {
	s, drv, _ := newBench(t)

	regs := s.Registers()
	test.That(t, regs.CR1&1, test.ShouldEqual, uint32(1)) // PE
	test.That(t, regs.CR2, test.ShouldEqual, uint32(1<<11|1<<8|42))
	test.That(t, regs.CCR, test.ShouldEqual, uint32(1<<15|35))
	test.That(t, regs.TRISE, test.ShouldEqual, uint32(13))

	const irqs = 1<<4 | 1<<2 | 1<<1 // TCIE, TEIE, DMEIE
	test.That(t, regs.TxCR, test.ShouldEqual, uint32(1<<25|3<<16|1<<10|1<<6|irqs))
	test.That(t, regs.RxCR, test.ShouldEqual, uint32(1<<25|3<<16|1<<10|irqs))
	test.That(t, regs.TxPAR, test.ShouldEqual, uint32(sim.DRAddress))
	test.That(t, regs.RxPAR, test.ShouldEqual, uint32(sim.DRAddress))

	test.That(t, drv.Timing(), test.ShouldResemble, i2cdma.Timing{Freq: 42, Presc: 35, Trise: 13, Mode: i2cdma.ModeFastDuty2_1})
	test.That(t, drv.Phase(), test.ShouldEqual, i2cdma.PhaseIdle)
}

func TestInitModes(t *testing.T) {
	tests := []struct {
		mode  i2cdma.Mode
		presc uint16
		trise uint8
		ccr   uint32
	}{
		{i2cdma.ModeStandard, 210, 43, 210},
		{i2cdma.ModeFastDuty16_9, 5, 13, 1<<15 | 1<<14 | 5},
	}
	for _, tc := range tests {
		t.Run(tc.mode.String(), func(t *testing.T) {
			s := sim.New()
			defer s.Close()
			setup := s.Setup()
			setup.Mode, setup.Presc, setup.Trise = tc.mode, tc.presc, tc.trise
			_, err := s.Init(setup)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, s.Registers().CCR, test.ShouldEqual, tc.ccr)
			test.That(t, s.Registers().TRISE, test.ShouldEqual, uint32(tc.trise))
		})
	}
}

func TestInitRejectsBadSetup(t *testing.T) {
	s := sim.New()
	defer s.Close()

	setup := s.Setup()
	setup.Presc = 0x1000
	drv, err := i2cdma.Init(setup)
	test.That(t, drv, test.ShouldBeNil)
	var cerr *i2cdma.ConfigError
	test.That(t, errors.As(err, &cerr), test.ShouldBeTrue)
	test.That(t, cerr.Field, test.ShouldEqual, "presc")

	setup = s.Setup()
	setup.Mode = i2cdma.ModeFastDuty1_1
	_, err = i2cdma.Init(setup)
	test.That(t, errors.As(err, &cerr), test.ShouldBeTrue)
	test.That(t, cerr.Field, test.ShouldEqual, "mode")

	setup = s.Setup()
	setup.DMARxCh = 9
	_, err = i2cdma.Init(setup)
	test.That(t, errors.As(err, &cerr), test.ShouldBeTrue)

	test.That(t, s.Writes(), test.ShouldEqual, 0)
}

func TestClose(t *testing.T) {
	s, drv, _ := newBench(t)
	sess, err := drv.Master([]byte{0x92})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, drv.Close(), test.ShouldEqual, i2cdma.ErrBusy)

	_, err = sess.Stop()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, drv.Close(), test.ShouldBeNil)
	test.That(t, drv.Close(), test.ShouldBeNil)

	regs := s.Registers()
	test.That(t, regs.CR1&1, test.ShouldEqual, uint32(0))
	test.That(t, regs.TxCR&1, test.ShouldEqual, uint32(0))

	_, err = drv.Master([]byte{0})
	test.That(t, err, test.ShouldEqual, i2cdma.ErrClosed)
}
