//go:build tinygo

package i2cdma

import "runtime/interrupt"

// critical runs f with interrupts masked so the handlers never observe a
// half-armed transfer.
func critical(f func()) {
	state := interrupt.Disable()
	f()
	interrupt.Restore(state)
}
