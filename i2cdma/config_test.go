package i2cdma

import (
	"errors"
	"testing"

	"go.viam.com/test"
)

func TestComputeTiming(t *testing.T) {
	tests := []struct {
		name  string
		pclk  uint32
		scl   uint32
		mode  Mode
		presc uint16
		trise uint8
		ccr   uint32
		out   uint32
	}{
		{"fast 2:1 at 42 MHz", 42000000, 400000, ModeFastDuty2_1, 35, 13, 0x8000 | 35, 400000},
		{"standard at 42 MHz", 42000000, 100000, ModeStandard, 210, 43, 210, 100000},
		{"fast 16:9 at 42 MHz", 42000000, 400000, ModeFastDuty16_9, 5, 13, 0xc000 | 5, 336000},
		{"standard at 8 MHz", 8000000, 100000, ModeStandard, 40, 9, 40, 100000},
		{"rounds down the bus", 16000000, 300000, ModeFastDuty2_1, 18, 5, 0x8000 | 18, 296296},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tm, err := ComputeTiming(tc.pclk, tc.scl, tc.mode)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, tm.Freq, test.ShouldEqual, uint8(tc.pclk/1000000))
			test.That(t, tm.Presc, test.ShouldEqual, tc.presc)
			test.That(t, tm.Trise, test.ShouldEqual, tc.trise)
			test.That(t, tm.ccr(), test.ShouldEqual, tc.ccr)
			test.That(t, tm.SCL(), test.ShouldEqual, tc.out)
			test.That(t, tm.SCL(), test.ShouldBeLessThanOrEqualTo, tc.scl)
		})
	}
}

func TestComputeTimingErrors(t *testing.T) {
	tests := []struct {
		name  string
		pclk  uint32
		scl   uint32
		mode  Mode
		field string
	}{
		{"fractional MHz", 42500000, 100000, ModeStandard, "pclk"},
		{"zero scl", 42000000, 0, ModeStandard, "scl"},
		{"clock too fast", 60000000, 100000, ModeStandard, "freq"},
		{"clock too slow", 1000000, 10000, ModeStandard, "freq"},
		{"fast mode needs 4 MHz", 3000000, 100000, ModeFastDuty2_1, "freq"},
		{"no 1:1 fast encoding", 42000000, 400000, ModeFastDuty1_1, "mode"},
		{"standard above 100 kHz", 42000000, 400000, ModeStandard, "presc"},
		{"fast above 400 kHz", 42000000, 1000000, ModeFastDuty2_1, "presc"},
		{"prescaler overflow", 50000000, 2000, ModeStandard, "presc"},
		{"scl wraps 32 bits", 42000000, 1 << 31, ModeStandard, "presc"},
		{"scl at uint32 max", 42000000, 0xffffffff, ModeFastDuty16_9, "presc"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ComputeTiming(tc.pclk, tc.scl, tc.mode)
			var cerr *ConfigError
			test.That(t, errors.As(err, &cerr), test.ShouldBeTrue)
			test.That(t, cerr.Field, test.ShouldEqual, tc.field)
		})
	}
}

func TestTimingValidate(t *testing.T) {
	good := Timing{Freq: 42, Presc: 35, Trise: 13, Mode: ModeFastDuty2_1}
	test.That(t, good.Validate(), test.ShouldBeNil)

	bad := []Timing{
		{Freq: 42, Presc: 0, Trise: 13, Mode: ModeFastDuty2_1},
		{Freq: 42, Presc: 34, Trise: 13, Mode: ModeFastDuty2_1},
		{Freq: 42, Presc: 35, Trise: 0, Mode: ModeFastDuty2_1},
		{Freq: 42, Presc: 35, Trise: 44, Mode: ModeFastDuty2_1},
		{Freq: 42, Presc: 3, Trise: 43, Mode: ModeStandard},
		{Freq: 51, Presc: 255, Trise: 43, Mode: ModeStandard},
		{Freq: 42, Presc: 0x1000, Trise: 43, Mode: ModeStandard},
		{Freq: 42, Presc: 35, Trise: 13, Mode: ModeFastDuty1_1},
		{Freq: 42, Presc: 35, Trise: 13, Mode: Mode(9)},
	}
	for _, tm := range bad {
		test.That(t, tm.Validate(), test.ShouldNotBeNil)
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeStandard, ModeFastDuty1_1, ModeFastDuty2_1, ModeFastDuty16_9} {
		got, err := ParseMode(m.String())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldEqual, m)
	}
	got, err := ParseMode("fm2")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldEqual, ModeFastDuty2_1)

	_, err = ParseMode("ultra")
	test.That(t, err, test.ShouldNotBeNil)
}

type nopIRQ struct{}

func (nopIRQ) Enable()  {}
func (nopIRQ) Disable() {}

type nopStream struct{ id int }

// funcStream is a value-typed stream that cannot be compared with ==.
type funcStream struct {
	*nopStream
	onFlags func()
}

func (*nopStream) CR() Register      { return nil }
func (*nopStream) NDTR() Register    { return nil }
func (*nopStream) PAR() Register     { return nil }
func (*nopStream) SetMemory([]byte)  {}
func (*nopStream) Flags() uint32     { return 0 }
func (*nopStream) ClearFlags(uint32) {}

type nopReg struct{}

func (nopReg) Get() uint32         { return 0 }
func (nopReg) Set(uint32)          {}
func (nopReg) SetBits(uint32)      {}
func (nopReg) ClearBits(uint32)    {}
func (nopReg) HasBits(uint32) bool { return false }

func validSetup() Setup {
	r := nopReg{}
	return Setup{
		I2C:      &Peripheral{CR1: r, CR2: r, DR: r, SR1: r, SR2: r, CCR: r, TRISE: r},
		EventInt: nopIRQ{},
		ErrorInt: nopIRQ{},
		Freq:     42,
		Presc:    35,
		Trise:    13,
		Mode:     ModeFastDuty2_1,
		DMATx:    &nopStream{id: 6},
		DMATxInt: nopIRQ{},
		DMATxCh:  1,
		DMATxPL:  3,
		DMARx:    &nopStream{id: 5},
		DMARxInt: nopIRQ{},
		DMARxCh:  1,
		DMARxPL:  3,
	}
}

func TestSetupValidateValueStreams(t *testing.T) {
	s := validSetup()
	s.DMATx = funcStream{nopStream: &nopStream{id: 6}, onFlags: func() {}}
	s.DMARx = funcStream{nopStream: &nopStream{id: 5}, onFlags: func() {}}
	test.That(t, s.Validate(), test.ShouldBeNil)

	shared := &nopStream{id: 6}
	s.DMATx, s.DMARx = shared, shared
	var cerr *ConfigError
	test.That(t, errors.As(s.Validate(), &cerr), test.ShouldBeTrue)
	test.That(t, cerr.Field, test.ShouldEqual, "dma_rx")
}

func TestSetupValidate(t *testing.T) {
	s := validSetup()
	test.That(t, s.Validate(), test.ShouldBeNil)

	tests := []struct {
		field  string
		mutate func(*Setup)
	}{
		{"i2c", func(s *Setup) { s.I2C = nil }},
		{"i2c", func(s *Setup) { s.I2C.SR2 = nil }},
		{"i2c_ev", func(s *Setup) { s.EventInt = nil }},
		{"i2c_er", func(s *Setup) { s.ErrorInt = nil }},
		{"dma_tx", func(s *Setup) { s.DMATx = nil }},
		{"dma_tx_int", func(s *Setup) { s.DMATxInt = nil }},
		{"dma_rx", func(s *Setup) { s.DMARx = nil }},
		{"dma_rx_int", func(s *Setup) { s.DMARxInt = nil }},
		{"dma_rx", func(s *Setup) { s.DMARx = s.DMATx }},
		{"dma_tx_ch", func(s *Setup) { s.DMATxCh = 8 }},
		{"dma_rx_ch", func(s *Setup) { s.DMARxCh = 8 }},
		{"dma_tx_pl", func(s *Setup) { s.DMATxPL = 4 }},
		{"dma_rx_pl", func(s *Setup) { s.DMARxPL = 4 }},
		{"presc", func(s *Setup) { s.Presc = 10 }},
		{"mode", func(s *Setup) { s.Mode = ModeFastDuty1_1 }},
	}
	for _, tc := range tests {
		s := validSetup()
		tc.mutate(&s)
		var cerr *ConfigError
		test.That(t, errors.As(s.Validate(), &cerr), test.ShouldBeTrue)
		test.That(t, cerr.Field, test.ShouldEqual, tc.field)
		test.That(t, cerr.Error(), test.ShouldStartWith, "i2cdma: invalid "+tc.field)
	}
}
