//go:build !tinygo

package sim

import "strings"

// EventKind classifies a bus log entry.
type EventKind uint8

const (
	EvStart   EventKind = iota // START from an idle bus
	EvRestart                  // repeated START
	EvAddr                     // address byte
	EvWrite                    // data byte master to slave
	EvRead                     // data byte slave to master
	EvStop                     // STOP
)

// Event is one entry of the bus log. Ack is the acknowledge bit that
// followed the byte: from the slave for EvAddr and EvWrite, from the master
// for EvRead.
type Event struct {
	Kind EventKind
	Addr uint8
	Read bool
	Data byte
	Ack  bool
}

func (e Event) String() string {
	ack := " NACK"
	if e.Ack {
		ack = " ACK"
	}
	switch e.Kind {
	case EvStart:
		return "START"
	case EvRestart:
		return "RSTART"
	case EvAddr:
		dir := " W"
		if e.Read {
			dir = " R"
		}
		return "ADDR " + hex(e.Addr) + dir + ack
	case EvWrite:
		return "W " + hex(e.Data) + ack
	case EvRead:
		return "R " + hex(e.Data) + ack
	case EvStop:
		return "STOP"
	}
	return "?"
}

func hex(b byte) string {
	const digits = "0123456789abcdef"
	return "0x" + string([]byte{digits[b>>4], digits[b&0xf]})
}

func (s *Sim) record(e Event) {
	s.log = append(s.log, e)
}

// Log returns the bus log since the last ResetLog.
func (s *Sim) Log() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.log...)
}

// Trace returns the bus log rendered one event per element.
func (s *Sim) Trace() []string {
	log := s.Log()
	out := make([]string, len(log))
	for i, e := range log {
		out[i] = e.String()
	}
	return out
}

// ResetLog clears the bus log.
func (s *Sim) ResetLog() {
	s.mu.Lock()
	s.log = s.log[:0]
	s.mu.Unlock()
}

// FormatTrace joins a trace with single spaces, for compact test output.
func FormatTrace(trace []string) string {
	return strings.Join(trace, " ")
}
