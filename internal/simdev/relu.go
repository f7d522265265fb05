package simdev

import "fmt"

// Relu register and bank ids.
const (
	ReluRAddr  int32 = 0
	ReluWAddr  int32 = 1
	ReluLaunch int32 = 2
	ReluFinish int32 = 3
	ReluLength int32 = 4
	ReluCycles int32 = 5

	ReluInput  int32 = 0
	ReluOutput int32 = 1
)

// relu is a vector ReLU engine. After launch it reads one word per cycle
// from the input bank at raddr, clamps every element at zero and writes the
// word to the output bank at waddr, for length words, then raises finish.
// A free-running counter counts every cycle since the last reset.
type relu struct {
	lanes int
	depth int

	raddr  uint32
	waddr  uint32
	length uint32
	launch uint8
	finish uint8
	cycles uint32

	busy bool
	idx  uint32

	mem [2][]uint32
}

// NewRelu returns a backend of relu engines with lanes 32-bit lanes per
// word and depth words per bank.
func NewRelu(lanes, depth int) *Backend {
	return New(func() Model {
		m := &relu{lanes: lanes, depth: depth}
		m.mem[ReluInput] = make([]uint32, lanes*depth)
		m.mem[ReluOutput] = make([]uint32, lanes*depth)
		return m
	})
}

// Reset clears the register file. Bank contents survive reset.
func (m *relu) Reset() {
	m.raddr, m.waddr, m.length = 0, 0, 0
	m.launch, m.finish = 0, 0
	m.cycles = 0
	m.busy = false
	m.idx = 0
}

func (m *relu) Tick() {
	m.cycles++

	switch {
	case m.busy:
		if m.idx < m.length {
			src := int(m.raddr+m.idx) % m.depth
			dst := int(m.waddr+m.idx) % m.depth
			for lane := 0; lane < m.lanes; lane++ {
				m.mem[ReluOutput][dst*m.lanes+lane] = clampWord(m.mem[ReluInput][src*m.lanes+lane])
			}
			m.idx++
		}
		if m.idx >= m.length {
			m.busy = false
			m.finish = 1
		}
	case m.launch == 1:
		m.launch = 0
		m.finish = 0
		m.busy = true
		m.idx = 0
	}
}

// clampWord applies max(x, 0) to each signed byte of w.
func clampWord(w uint32) uint32 {
	var out uint32
	for b := 0; b < 4; b++ {
		x := int8(w >> (8 * b))
		if x > 0 {
			out |= uint32(uint8(x)) << (8 * b)
		}
	}
	return out
}

func byteOf(v uint32, sel int32) int32 {
	return int32(uint8(v >> (8 * sel)))
}

func setByte(v *uint32, sel, value int32) {
	shift := 8 * uint(sel)
	*v = *v&^(0xff<<shift) | uint32(uint8(value))<<shift
}

func (m *relu) ReadReg(hid, sel int32) int32 {
	switch hid {
	case ReluRAddr, ReluWAddr, ReluLength, ReluCycles:
		if sel < 0 || sel > 3 {
			panic(fmt.Sprintf("simdev: relu register %d select %d out of range", hid, sel))
		}
	case ReluLaunch, ReluFinish:
		if sel != 0 {
			panic(fmt.Sprintf("simdev: relu register %d select %d out of range", hid, sel))
		}
	}

	switch hid {
	case ReluRAddr:
		return byteOf(m.raddr, sel)
	case ReluWAddr:
		return byteOf(m.waddr, sel)
	case ReluLength:
		return byteOf(m.length, sel)
	case ReluCycles:
		return byteOf(m.cycles, sel)
	case ReluLaunch:
		return int32(m.launch)
	case ReluFinish:
		return int32(m.finish)
	default:
		panic(fmt.Sprintf("simdev: relu has no register %d", hid))
	}
}

func (m *relu) WriteReg(hid, sel, value int32) {
	// Validate addressing exactly as ReadReg does.
	m.ReadReg(hid, sel)

	switch hid {
	case ReluRAddr:
		setByte(&m.raddr, sel, value)
	case ReluWAddr:
		setByte(&m.waddr, sel, value)
	case ReluLength:
		setByte(&m.length, sel, value)
	case ReluLaunch:
		m.launch = uint8(value) & 1
	}
	// finish and cycles are driven by the engine.
}

func (m *relu) cell(hid, addr, sel int32) *uint32 {
	if hid != ReluInput && hid != ReluOutput {
		panic(fmt.Sprintf("simdev: relu has no memory %d", hid))
	}
	if addr < 0 || int(addr) >= m.depth {
		panic(fmt.Sprintf("simdev: relu memory %d address %d out of range", hid, addr))
	}
	if sel < 0 || int(sel) >= m.lanes {
		panic(fmt.Sprintf("simdev: relu memory %d select %d out of range", hid, sel))
	}
	return &m.mem[hid][int(addr)*m.lanes+int(sel)]
}

func (m *relu) ReadMem(hid, addr, sel int32) int32 {
	return int32(*m.cell(hid, addr, sel))
}

func (m *relu) WriteMem(hid, addr, sel, value int32) {
	*m.cell(hid, addr, sel) = uint32(value)
}
