package i2cdma

import (
	"reflect"
	"strconv"
)

// Mode selects the SCL timing family and the low:high duty ratio.
type Mode uint8

const (
	// ModeStandard is Sm (up to 100 kHz), SCL low:high = 1:1.
	ModeStandard Mode = iota
	// ModeFastDuty1_1 is a fast-mode 1:1 ratio. The STM32F4 CCR only
	// encodes Sm 1:1, Fm 2:1 and Fm 16:9, so ComputeTiming, Validate and
	// Init always reject this mode with a ConfigError. It stays so that a
	// configuration naming it fails loudly instead of parsing as another
	// mode.
	ModeFastDuty1_1
	// ModeFastDuty2_1 is Fm (up to 400 kHz) with DUTY=0, low:high = 2:1.
	ModeFastDuty2_1
	// ModeFastDuty16_9 is Fm with DUTY=1, low:high = 16:9.
	ModeFastDuty16_9
)

func (m Mode) String() string {
	switch m {
	case ModeStandard:
		return "standard"
	case ModeFastDuty1_1:
		return "fast-1:1"
	case ModeFastDuty2_1:
		return "fast-2:1"
	case ModeFastDuty16_9:
		return "fast-16:9"
	}
	return "mode(" + strconv.Itoa(int(m)) + ")"
}

// ParseMode accepts the names printed by Mode.String plus the short forms
// "sm", "fm2" and "fm169".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "standard", "sm":
		return ModeStandard, nil
	case "fast-1:1", "fm1":
		return ModeFastDuty1_1, nil
	case "fast-2:1", "fm2", "fast":
		return ModeFastDuty2_1, nil
	case "fast-16:9", "fm169":
		return ModeFastDuty16_9, nil
	}
	return 0, &ConfigError{Field: "mode", Reason: "unknown mode " + strconv.Quote(s)}
}

func (m Mode) fast() bool {
	return m != ModeStandard
}

// Bus speed limits per mode.
const (
	MaxStandardHz = 100000
	MaxFastHz     = 400000
)

// Peripheral clock limits for I2C_CR2.FREQ, in MHz.
const (
	MinFreqMHz     = 2
	MinFastFreqMHz = 4
	MaxFreqMHz     = 50
)

// Maximum SCL rise times in ns, from the I2C-bus specification.
const (
	maxRiseStandardNs = 1000
	maxRiseFastNs     = 300
)

// Timing holds the I2C timing register fields.
type Timing struct {
	Freq  uint8  // CR2.FREQ, peripheral clock in MHz
	Presc uint16 // CCR.CCR
	Trise uint8  // TRISE.TRISE
	Mode  Mode
}

// ConfigError reports a configuration value that cannot be encoded in the
// peripheral or DMA registers.
type ConfigError struct {
	Field  string
	Value  int
	Reason string
}

func (e *ConfigError) Error() string {
	msg := "i2cdma: invalid " + e.Field
	if e.Reason != "" {
		msg += ": " + e.Reason
	} else {
		msg += " " + strconv.Itoa(e.Value)
	}
	return msg
}

func configErr(field string, value int, reason string) *ConfigError {
	return &ConfigError{Field: field, Value: value, Reason: reason + " (got " + strconv.Itoa(value) + ")"}
}

// ComputeTiming derives the register fields for an SCL target of sclHz from
// a peripheral clock of pclkHz. The prescaler is rounded up so the bus never
// runs faster than requested.
func ComputeTiming(pclkHz, sclHz uint32, mode Mode) (Timing, error) {
	if pclkHz%1000000 != 0 {
		return Timing{}, configErr("pclk", int(pclkHz), "must be a whole number of MHz")
	}
	if sclHz == 0 {
		return Timing{}, configErr("scl", 0, "must be non-zero")
	}
	mhz := pclkHz / 1000000
	if mhz > MaxFreqMHz {
		return Timing{}, configErr("freq", int(mhz), "above "+strconv.Itoa(MaxFreqMHz)+" MHz")
	}
	t := Timing{Freq: uint8(mhz), Mode: mode}
	div, ok := mode.divisor()
	if !ok {
		return Timing{}, &ConfigError{Field: "mode", Value: int(mode), Reason: mode.String() + " has no CCR encoding"}
	}
	t.Presc = uint16(min(divCeil(uint64(pclkHz), uint64(sclHz)*uint64(div)), ccrCCR+1))
	if mode == ModeStandard && t.Presc < 4 {
		t.Presc = 4
	}
	t.Trise = maxTrise(t.Freq, mode)
	if err := t.Validate(); err != nil {
		return Timing{}, err
	}
	return t, nil
}

func divCeil(a, b uint64) uint64 {
	return (a + b - 1) / b
}

// divisor returns the number of CCR periods in one SCL period.
func (m Mode) divisor() (uint32, bool) {
	switch m {
	case ModeStandard:
		return 2, true
	case ModeFastDuty2_1:
		return 3, true
	case ModeFastDuty16_9:
		return 25, true
	}
	return 0, false
}

func maxTrise(freq uint8, mode Mode) uint8 {
	ns := uint32(maxRiseStandardNs)
	if mode.fast() {
		ns = maxRiseFastNs
	}
	return uint8(uint32(freq)*ns/1000 + 1)
}

// Validate checks that t can be encoded and yields an SCL frequency inside
// the limits of its mode.
func (t Timing) Validate() error {
	div, ok := t.Mode.divisor()
	if !ok {
		return &ConfigError{Field: "mode", Value: int(t.Mode), Reason: t.Mode.String() + " has no CCR encoding"}
	}
	if t.Freq < MinFreqMHz || t.Freq > MaxFreqMHz {
		return configErr("freq", int(t.Freq), "outside "+strconv.Itoa(MinFreqMHz)+".."+strconv.Itoa(MaxFreqMHz)+" MHz")
	}
	if t.Mode.fast() && t.Freq < MinFastFreqMHz {
		return configErr("freq", int(t.Freq), "fast mode needs at least "+strconv.Itoa(MinFastFreqMHz)+" MHz")
	}
	if t.Presc > ccrCCR {
		return configErr("presc", int(t.Presc), "does not fit in 12 bits")
	}
	if t.Mode == ModeStandard && t.Presc < 4 {
		return configErr("presc", int(t.Presc), "standard mode needs at least 4")
	}
	if t.Presc == 0 {
		return configErr("presc", 0, "must be non-zero")
	}
	if t.Trise == 0 || t.Trise > triseMask {
		return configErr("trise", int(t.Trise), "outside 1..63")
	}
	if t.Trise > maxTrise(t.Freq, ModeStandard) {
		return configErr("trise", int(t.Trise), "longer than a standard-mode rise time")
	}
	limit := uint32(MaxStandardHz)
	if t.Mode.fast() {
		limit = MaxFastHz
	}
	if scl := uint32(t.Freq) * 1000000 / (div * uint32(t.Presc)); scl > limit {
		return configErr("presc", int(t.Presc), "SCL "+strconv.Itoa(int(scl))+" Hz exceeds "+strconv.Itoa(int(limit))+" Hz")
	}
	return nil
}

// SCL returns the bus frequency in Hz produced by t, ignoring rise time.
func (t Timing) SCL() uint32 {
	div, ok := t.Mode.divisor()
	if !ok || t.Presc == 0 {
		return 0
	}
	return uint32(t.Freq) * 1000000 / (div * uint32(t.Presc))
}

// ccr returns the I2C_CCR value for t.
func (t Timing) ccr() uint32 {
	v := uint32(t.Presc) & ccrCCR
	switch t.Mode {
	case ModeFastDuty2_1:
		v |= ccrFS
	case ModeFastDuty16_9:
		v |= ccrFS | ccrDUTY
	}
	return v
}

// Setup is the full driver configuration. Every field is required.
type Setup struct {
	I2C      *Peripheral
	EventInt Interrupt
	ErrorInt Interrupt

	Freq  uint8  // peripheral clock, MHz
	Presc uint16 // CCR prescaler
	Trise uint8
	Mode  Mode

	DMATx    Stream
	DMATxInt Interrupt
	DMATxCh  uint8 // stream channel selector, 0..7
	DMATxPL  uint8 // stream priority, 0..3

	DMARx    Stream
	DMARxInt Interrupt
	DMARxCh  uint8
	DMARxPL  uint8
}

// Timing returns the timing fields of s.
func (s *Setup) Timing() Timing {
	return Timing{Freq: s.Freq, Presc: s.Presc, Trise: s.Trise, Mode: s.Mode}
}

// Validate checks every field of s.
func (s *Setup) Validate() error {
	if s.I2C == nil {
		return &ConfigError{Field: "i2c", Reason: "missing peripheral"}
	}
	p := s.I2C
	if p.CR1 == nil || p.CR2 == nil || p.DR == nil || p.SR1 == nil || p.SR2 == nil || p.CCR == nil || p.TRISE == nil {
		return &ConfigError{Field: "i2c", Reason: "incomplete register block"}
	}
	switch {
	case s.EventInt == nil:
		return &ConfigError{Field: "i2c_ev", Reason: "missing interrupt"}
	case s.ErrorInt == nil:
		return &ConfigError{Field: "i2c_er", Reason: "missing interrupt"}
	case s.DMATx == nil:
		return &ConfigError{Field: "dma_tx", Reason: "missing stream"}
	case s.DMATxInt == nil:
		return &ConfigError{Field: "dma_tx_int", Reason: "missing interrupt"}
	case s.DMARx == nil:
		return &ConfigError{Field: "dma_rx", Reason: "missing stream"}
	case s.DMARxInt == nil:
		return &ConfigError{Field: "dma_rx_int", Reason: "missing interrupt"}
	}
	if sameStream(s.DMATx, s.DMARx) {
		return &ConfigError{Field: "dma_rx", Reason: "shares the TX stream"}
	}
	if s.DMATxCh > 7 {
		return configErr("dma_tx_ch", int(s.DMATxCh), "outside 0..7")
	}
	if s.DMARxCh > 7 {
		return configErr("dma_rx_ch", int(s.DMARxCh), "outside 0..7")
	}
	if s.DMATxPL > 3 {
		return configErr("dma_tx_pl", int(s.DMATxPL), "outside 0..3")
	}
	if s.DMARxPL > 3 {
		return configErr("dma_rx_pl", int(s.DMARxPL), "outside 0..3")
	}
	return s.Timing().Validate()
}

// sameStream reports whether a and b are the same pointer. Value streams
// may hold uncomparable fields and are never treated as shared.
func sameStream(a, b Stream) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() != reflect.Pointer || vb.Kind() != reflect.Pointer {
		return false
	}
	return va.Type() == vb.Type() && va.Pointer() == vb.Pointer()
}
