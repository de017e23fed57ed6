package protocol

// InputBuffer is a queue of received bytes the transport parses in place.
type InputBuffer interface {
	Data() []byte
	Available() int
	Pop(n int)
}

// OutputBuffer accumulates encoded blocks. The transport writes a length
// placeholder first and patches it with Update once the payload is known.
type OutputBuffer interface {
	Output(data []byte)
	CurPosition() int
	Update(pos int, val byte)
	DataSince(pos int) []byte
}

// SliceInputBuffer reads from a fixed slice.
type SliceInputBuffer struct {
	data []byte
}

func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte   { return s.data }
func (s *SliceInputBuffer) Available() int { return len(s.data) }

func (s *SliceInputBuffer) Pop(n int) {
	s.data = s.data[min(n, len(s.data)):]
}

// ScratchOutput is a bounded OutputBuffer. Bytes past OutputMax are
// dropped and reported by Overflowed.
type ScratchOutput struct {
	buf      []byte
	overflow bool
}

func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{buf: make([]byte, 0, OutputMax)}
}

func (s *ScratchOutput) Output(data []byte) {
	room := cap(s.buf) - len(s.buf)
	if len(data) > room {
		data = data[:room]
		s.overflow = true
	}
	s.buf = append(s.buf, data...)
}

func (s *ScratchOutput) CurPosition() int { return len(s.buf) }

func (s *ScratchOutput) Update(pos int, val byte) {
	if pos >= 0 && pos < len(s.buf) {
		s.buf[pos] = val
	}
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos < 0 || pos > len(s.buf) {
		return nil
	}
	return s.buf[pos:]
}

// Result returns everything written since the last Reset.
func (s *ScratchOutput) Result() []byte { return s.buf }

// Overflowed reports whether output was truncated since the last Reset.
func (s *ScratchOutput) Overflowed() bool { return s.overflow }

func (s *ScratchOutput) Reset() {
	s.buf = s.buf[:0]
	s.overflow = false
}

// FifoBuffer is a byte queue whose unread data is always contiguous, so the
// frame parser can work on Data() directly. Consumed space at the front is
// reclaimed when a write would not otherwise fit.
type FifoBuffer struct {
	buf  []byte
	r, w int
}

func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{buf: make([]byte, capacity)}
}

// Write queues as much of data as fits and returns the count queued.
func (f *FifoBuffer) Write(data []byte) int {
	if f.w+len(data) > len(f.buf) && f.r > 0 {
		f.w = copy(f.buf, f.buf[f.r:f.w])
		f.r = 0
	}
	n := copy(f.buf[f.w:], data)
	f.w += n
	return n
}

// Read dequeues up to len(data) bytes.
func (f *FifoBuffer) Read(data []byte) int {
	n := copy(data, f.buf[f.r:f.w])
	f.Pop(n)
	return n
}

func (f *FifoBuffer) Data() []byte   { return f.buf[f.r:f.w] }
func (f *FifoBuffer) Available() int { return f.w - f.r }
func (f *FifoBuffer) Free() int      { return len(f.buf) - f.Available() }
func (f *FifoBuffer) IsEmpty() bool  { return f.r == f.w }

func (f *FifoBuffer) Pop(n int) {
	f.r += min(n, f.w-f.r)
	if f.r == f.w {
		f.r, f.w = 0, 0
	}
}

func (f *FifoBuffer) Reset() {
	f.r, f.w = 0, 0
}
