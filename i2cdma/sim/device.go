//go:build !tinygo

package sim

// Device is a slave on the simulated bus. The simulator calls it with its
// lock held, one bus event at a time.
type Device interface {
	// Address is called when the master sends this device's address; it
	// returns the acknowledge bit.
	Address(read bool) bool
	// Write receives one data byte and returns the acknowledge bit.
	Write(b byte) bool
	// Read returns the next byte to send to the master.
	Read() byte
	// Ack receives the master's acknowledge of the byte just read.
	Ack(ack bool)
	// Stop is called on a STOP condition while the device is addressed.
	Stop()
}

// Memory is a register-file device such as an EEPROM or a sensor: the first
// PtrSize bytes of each write set the register pointer, the rest are stored
// from it, and reads return bytes from it. The pointer auto-increments and
// wraps at len(Data).
//
// Memory checks the master's side of the protocol: every byte read but the
// last must be ACKed and the last must be NACKed before STOP or a repeated
// START.
type Memory struct {
	Data    []byte
	PtrSize int

	// NackAfter makes the device NACK the n-th data byte of a write. Pointer
	// bytes are not counted. Zero never NACKs.
	NackAfter int

	ptr      int
	inPtr    int
	written  int
	reading  bool
	addrd    bool
	ackedEnd bool
	done     bool

	violations []string
}

// NewMemory returns a zero-filled device of size bytes with a ptrSize-byte
// register pointer (1 or 2).
func NewMemory(size, ptrSize int) *Memory {
	return &Memory{Data: make([]byte, size), PtrSize: ptrSize}
}

func (m *Memory) Address(read bool) bool {
	m.checkEnd("repeated START")
	m.reading = read
	m.addrd = true
	m.inPtr = 0
	m.written = 0
	m.done = false
	return true
}

func (m *Memory) Write(b byte) bool {
	if m.reading {
		m.violations = append(m.violations, "write while addressed for read")
		return false
	}
	if m.inPtr < m.PtrSize {
		if m.inPtr == 0 {
			m.ptr = 0
		}
		m.ptr = m.ptr<<8 | int(b)
		m.inPtr++
		if m.inPtr == m.PtrSize {
			m.ptr %= len(m.Data)
		}
		return true
	}
	m.written++
	if m.NackAfter > 0 && m.written >= m.NackAfter {
		return false
	}
	m.Data[m.ptr] = b
	m.ptr = (m.ptr + 1) % len(m.Data)
	return true
}

func (m *Memory) Read() byte {
	if m.done {
		m.violations = append(m.violations, "read after NACK")
	}
	b := m.Data[m.ptr]
	m.ptr = (m.ptr + 1) % len(m.Data)
	return b
}

func (m *Memory) Ack(ack bool) {
	m.ackedEnd = ack
	if !ack {
		m.done = true
	}
}

func (m *Memory) Stop() {
	m.checkEnd("STOP")
	m.addrd = false
	m.reading = false
}

// checkEnd flags a read that ended with an ACKed byte. A slave transmitter
// that saw ACK keeps driving SDA and can corrupt the following condition.
func (m *Memory) checkEnd(what string) {
	if m.addrd && m.reading && m.ackedEnd {
		m.violations = append(m.violations, what+" after ACKed read byte")
	}
	m.ackedEnd = false
}

// Violations returns the protocol violations the device observed.
func (m *Memory) Violations() []string {
	return append([]string(nil), m.violations...)
}
