package i2cdma

// Register is a 32-bit memory-mapped register. *volatile.Register32 from
// TinyGo's runtime/volatile satisfies it directly.
type Register interface {
	Get() uint32
	Set(value uint32)
	SetBits(value uint32)
	ClearBits(value uint32)
	HasBits(value uint32) bool
}

// Interrupt is an interrupt line the driver may mask or unmask.
// runtime/interrupt.Interrupt satisfies it.
type Interrupt interface {
	Enable()
	Disable()
}

// Peripheral is the register block of one I2C controller.
type Peripheral struct {
	CR1   Register
	CR2   Register
	DR    Register
	SR1   Register
	SR2   Register
	CCR   Register
	TRISE Register

	// DRAddress is the bus address of DR, programmed into the DMA streams.
	DRAddress uint32
}

// Stream is one DMA stream register set.
//
// Flags and ClearFlags use the stream-independent layout of the Flag*
// constants; implementations shift them into the LISR/HISR word that holds
// the stream.
type Stream interface {
	CR() Register
	NDTR() Register
	PAR() Register

	// SetMemory programs the memory address register with the first byte of
	// buf. The stream then reads or writes buf in place.
	SetMemory(buf []byte)

	Flags() uint32
	ClearFlags(flags uint32)
}

// I2C_CR1 bits.
const (
	cr1PE    = 1 << 0
	cr1START = 1 << 8
	cr1STOP  = 1 << 9
	cr1ACK   = 1 << 10
	cr1SWRST = 1 << 15
)

// I2C_CR2 bits.
const (
	cr2FREQ    = 0x3f
	cr2ITERREN = 1 << 8
	cr2ITEVTEN = 1 << 9
	cr2DMAEN   = 1 << 11
	cr2LAST    = 1 << 12
)

// I2C_SR1 bits.
const (
	sr1SB       = 1 << 0
	sr1ADDR     = 1 << 1
	sr1BTF      = 1 << 2
	sr1BERR     = 1 << 8
	sr1ARLO     = 1 << 9
	sr1AF       = 1 << 10
	sr1OVR      = 1 << 11
	sr1PECERR   = 1 << 12
	sr1TIMEOUT  = 1 << 14
	sr1SMBALERT = 1 << 15

	sr1Errors = sr1BERR | sr1ARLO | sr1AF | sr1OVR | sr1PECERR | sr1TIMEOUT | sr1SMBALERT
)

// I2C_CCR bits.
const (
	ccrCCR  = 0xfff
	ccrDUTY = 1 << 14
	ccrFS   = 1 << 15
)

const triseMask = 0x3f

// DMA_SxCR bits.
const (
	dmaEN       = 1 << 0
	dmaDMEIE    = 1 << 1
	dmaTEIE     = 1 << 2
	dmaTCIE     = 1 << 4
	dmaDirShift = 6
	dmaMINC     = 1 << 10
	dmaPLShift  = 16
	dmaCHShift  = 25

	dmaDirPeriphToMem = 0 << dmaDirShift
	dmaDirMemToPeriph = 1 << dmaDirShift
)

// DMA stream status flags, as laid out for stream 0 in DMA_LISR.
const (
	FlagFE  = 1 << 0 // FIFO error
	FlagDME = 1 << 2 // direct mode error
	FlagTE  = 1 << 3 // transfer error
	FlagHT  = 1 << 4 // half transfer
	FlagTC  = 1 << 5 // transfer complete

	FlagAll = FlagFE | FlagDME | FlagTE | FlagHT | FlagTC

	flagErrors = FlagFE | FlagDME | FlagTE
)
