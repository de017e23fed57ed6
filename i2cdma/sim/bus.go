//go:build !tinygo

package sim

// The bus model below runs with s.mu held; device callbacks must not call
// back into the simulator.

func (s *Sim) writeCR1(r *reg, v uint32) {
	r.val = v
	if v&cr1PE == 0 {
		r.val &^= cr1START | cr1STOP
		s.release(false)
		return
	}
	if v&cr1START != 0 {
		r.val &^= cr1START
		s.start()
	}
	if v&cr1STOP != 0 {
		r.val &^= cr1STOP
		s.release(true)
	}
}

func (s *Sim) start() {
	if s.owner {
		s.record(Event{Kind: EvRestart})
	} else {
		s.record(Event{Kind: EvStart})
	}
	s.owner = true
	s.dev = nil
	s.state = stateStart
	s.sr1.val = s.sr1.val&^(sr1ADDR|sr1BTF) | sr1SB
	s.sr2.val |= sr2MSL | sr2BUSY
}

// release ends the transfer; with stop set a STOP condition goes on the
// bus if the controller owns it.
func (s *Sim) release(stop bool) {
	if s.owner && stop {
		s.record(Event{Kind: EvStop})
		if s.dev != nil {
			s.dev.Stop()
		}
	}
	s.owner = false
	s.dev = nil
	s.state = stateIdle
	s.sr1.val &^= sr1SB | sr1ADDR | sr1BTF
	s.sr2.val &^= sr2MSL | sr2BUSY | sr2TRA
}

func (s *Sim) writeDR(r *reg, v uint32) {
	r.val = v & 0xff
	if s.state != stateStart || s.sr1.val&sr1SB == 0 {
		return
	}
	s.sr1.val &^= sr1SB
	addr := uint8(v>>1) & 0x7f
	read := v&1 != 0
	dev := s.devices[addr]
	ack := dev != nil && dev.Address(read)
	s.record(Event{Kind: EvAddr, Addr: addr, Read: read, Ack: ack})
	if !ack {
		s.sr1.val |= AF
		s.state = stateNack
		return
	}
	s.dev = dev
	s.reading = read
	s.state = stateAddr
	s.sr1.val |= sr1ADDR
	if read {
		s.sr2.val &^= sr2TRA
	} else {
		s.sr2.val |= sr2TRA
	}
}

// writeSR1 models the rc_w0 error flags: writing 0 clears, writing 1 keeps.
func (s *Sim) writeSR1(r *reg, v uint32) {
	r.val &= v | ^uint32(sr1Errors)
}

// readSR2 completes the ADDR clearing sequence and releases SCL.
func (s *Sim) readSR2(r *reg) uint32 {
	v := r.val
	if s.sr1.val&sr1ADDR != 0 {
		s.sr1.val &^= sr1ADDR
		if s.reading {
			s.state = stateRx
		} else {
			s.state = stateTx
		}
		s.pump()
	}
	return v
}

// pump moves bytes between the armed stream and the addressed device for as
// long as the bus is free to clock.
func (s *Sim) pump() {
	if s.held || s.cr2.val&cr2DMAEN == 0 {
		return
	}
	switch s.state {
	case stateTx:
		st := s.tx
		if !st.enabled() {
			return
		}
		for st.ndtr.val > 0 {
			b := st.mem[st.next()]
			st.ndtr.val--
			ack := s.dev.Write(b)
			s.record(Event{Kind: EvWrite, Data: b, Ack: ack})
			if !ack {
				s.sr1.val |= AF
				s.state = stateNack
				return
			}
		}
		st.finish()
		s.sr1.val |= sr1BTF

	case stateRx:
		st := s.rx
		if !st.enabled() {
			return
		}
		for st.ndtr.val > 0 {
			b := s.dev.Read()
			last := s.cr2.val&cr2LAST != 0 && st.ndtr.val == 1
			ack := s.cr1.val&cr1ACK != 0 && !last
			s.dev.Ack(ack)
			st.mem[st.next()] = b
			st.ndtr.val--
			s.record(Event{Kind: EvRead, Data: b, Ack: ack})
			if !ack {
				s.state = stateRxDone
				break
			}
		}
		if st.ndtr.val == 0 {
			st.finish()
		}
	}
}
