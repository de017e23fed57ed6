//go:build !tinygo

package i2cdma

import "sync"

// On regular Go there is no interrupt controller. Handlers are delivered by
// whatever models the hardware (see package sim) through Dispatch, which
// shares a lock with critical so a handler never runs inside a task-side
// critical section, and never alongside another handler.
var irqMu sync.Mutex

func critical(f func()) {
	irqMu.Lock()
	defer irqMu.Unlock()
	f()
}

// Dispatch runs an interrupt handler the way the NVIC would: never
// concurrently with another handler or with a critical section.
func Dispatch(handler func()) {
	irqMu.Lock()
	defer irqMu.Unlock()
	handler()
}
