package simdev

import "fmt"

// Adder register ids.
const (
	AdderA int32 = 0
	AdderB int32 = 1
	AdderY int32 = 2
)

// adder is an 8-bit adder with a registered output: y takes a+b on every
// clock edge.
type adder struct {
	a, b, y uint8
}

func NewAdder() *Backend {
	return New(func() Model { return &adder{} })
}

func (m *adder) Reset() {
	*m = adder{}
}

func (m *adder) Tick() {
	m.y = m.a + m.b
}

func (m *adder) reg(hid, sel int32) *uint8 {
	if sel != 0 {
		panic(fmt.Sprintf("simdev: adder register %d select %d out of range", hid, sel))
	}
	switch hid {
	case AdderA:
		return &m.a
	case AdderB:
		return &m.b
	case AdderY:
		return &m.y
	default:
		panic(fmt.Sprintf("simdev: adder has no register %d", hid))
	}
}

func (m *adder) ReadReg(hid, sel int32) int32 {
	return int32(*m.reg(hid, sel))
}

func (m *adder) WriteReg(hid, sel, value int32) {
	r := m.reg(hid, sel)
	if hid == AdderY {
		// y is driven by the adder; writes are lost.
		return
	}
	*r = uint8(value)
}

func (m *adder) ReadMem(hid, addr, sel int32) int32 {
	panic(fmt.Sprintf("simdev: adder has no memory %d", hid))
}

func (m *adder) WriteMem(hid, addr, sel, value int32) {
	panic(fmt.Sprintf("simdev: adder has no memory %d", hid))
}
