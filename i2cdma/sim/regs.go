//go:build !tinygo

package sim

import "dmai2c/i2cdma"

// reg is one modelled register. read and write hooks carry the hardware
// side effects; without them the register is plain storage. All methods
// lock the simulator, so the driver may touch registers from any goroutine.
type reg struct {
	s     *Sim
	val   uint32
	read  func(r *reg) uint32
	write func(r *reg, v uint32)
}

func (r *reg) load() uint32 {
	if r.read != nil {
		return r.read(r)
	}
	return r.val
}

func (r *reg) store(v uint32) {
	r.s.writes++
	if r.write != nil {
		r.write(r, v)
		return
	}
	r.val = v
}

func (r *reg) Get() uint32 {
	r.s.mu.Lock()
	v := r.load()
	r.s.mu.Unlock()
	r.s.kick()
	return v
}

func (r *reg) Set(v uint32) {
	r.s.mu.Lock()
	r.store(v)
	r.s.mu.Unlock()
	r.s.kick()
}

func (r *reg) SetBits(v uint32) {
	r.s.mu.Lock()
	r.store(r.val | v)
	r.s.mu.Unlock()
	r.s.kick()
}

func (r *reg) ClearBits(v uint32) {
	r.s.mu.Lock()
	r.store(r.val &^ v)
	r.s.mu.Unlock()
	r.s.kick()
}

func (r *reg) HasBits(v uint32) bool {
	return r.Get()&v != 0
}

// Line is an NVIC interrupt line. A line fires while it is enabled and its
// source condition holds.
type Line struct {
	s       *Sim
	name    string
	enabled bool
}

func (l *Line) Enable() {
	l.s.mu.Lock()
	l.enabled = true
	l.s.mu.Unlock()
	l.s.kick()
}

func (l *Line) Disable() {
	l.s.mu.Lock()
	l.enabled = false
	l.s.mu.Unlock()
}

// Enabled reports whether the driver has unmasked the line.
func (l *Line) Enabled() bool {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.enabled
}

// Stream models one DMA stream wired to the I2C data register.
type Stream struct {
	s      *Sim
	name   string
	cr     *reg
	ndtr   *reg
	par    *reg
	mem    []byte
	total  int
	flags  uint32
	starts int
}

func newStream(s *Sim, name string) *Stream {
	st := &Stream{s: s, name: name}
	st.cr = &reg{s: s, write: st.writeCR}
	st.ndtr = &reg{s: s, write: st.writeNDTR}
	st.par = &reg{s: s}
	return st
}

func (st *Stream) CR() i2cdma.Register { return st.cr }
func (st *Stream) NDTR() i2cdma.Register { return st.ndtr }
func (st *Stream) PAR() i2cdma.Register { return st.par }

func (st *Stream) SetMemory(buf []byte) {
	st.s.mu.Lock()
	st.s.writes++
	st.mem = buf
	st.s.mu.Unlock()
}

func (st *Stream) Flags() uint32 {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	return st.flags
}

func (st *Stream) ClearFlags(flags uint32) {
	st.s.mu.Lock()
	st.s.writes++
	st.flags &^= flags
	st.s.mu.Unlock()
	st.s.kick()
}

func (st *Stream) enabled() bool {
	return st.cr.val&dmaEN != 0
}

func (st *Stream) writeCR(r *reg, v uint32) {
	was := r.val&dmaEN != 0
	r.val = v
	if v&dmaEN == 0 || was {
		return
	}
	st.total = int(st.ndtr.val)
	if st.total == 0 || st.total > len(st.mem) {
		// The stream would run past the buffer it was given.
		st.s.violate(st.name + ": transfer of " + itoa(st.total) + " bytes over " + itoa(len(st.mem)) + "-byte memory")
		st.flags |= flagTE
		r.val &^= dmaEN
		return
	}
	st.starts++
	st.s.pump()
}

func (st *Stream) writeNDTR(r *reg, v uint32) {
	if st.enabled() {
		return
	}
	r.val = v & 0xffff
}

// next returns the index in mem of the next item.
func (st *Stream) next() int {
	return st.total - int(st.ndtr.val)
}

func (st *Stream) finish() {
	st.flags |= flagTC | flagHT
	st.cr.val &^= dmaEN
}

func (st *Stream) irq() bool {
	cr := st.cr.val
	return st.flags&flagTC != 0 && cr&dmaTCIE != 0 ||
		st.flags&flagHT != 0 && cr&dmaHTIE != 0 ||
		st.flags&flagTE != 0 && cr&dmaTEIE != 0 ||
		st.flags&flagDME != 0 && cr&dmaDMEIE != 0
}
