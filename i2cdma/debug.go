package i2cdma

// DebugWriter receives driver trace lines.
type DebugWriter func(string)

var (
	debugPrintln DebugWriter
	debugEnabled bool
)

// SetDebugWriter routes driver trace output to writer. Pass nil to silence it.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled toggles trace output. Tracing is only ever emitted from
// task context, never from an interrupt handler.
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

func debug(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln("[I2C] " + msg)
	}
}

func hex8(v uint8) string {
	const digits = "0123456789abcdef"
	return "0x" + string([]byte{digits[v>>4], digits[v&0xf]})
}
