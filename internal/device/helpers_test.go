package device

import (
	"github.com/tinyrange/simctl/internal/simdev"
)

// regFile is a model whose registers are plain storage.
type regFile struct {
	regs map[[2]int32]int32
}

func newRegFileBackend() *simdev.Backend {
	return simdev.New(func() simdev.Model {
		return &regFile{regs: map[[2]int32]int32{}}
	})
}

func (m *regFile) Reset() { clear(m.regs) }
func (m *regFile) Tick()  {}

func (m *regFile) ReadReg(hid, sel int32) int32 {
	return m.regs[[2]int32{hid, sel}]
}

func (m *regFile) WriteReg(hid, sel, value int32) {
	m.regs[[2]int32{hid, sel}] = int32(uint8(value))
}

func (m *regFile) ReadMem(hid, addr, sel int32) int32 {
	panic("regFile: no memory")
}

func (m *regFile) WriteMem(hid, addr, sel, value int32) {
	panic("regFile: no memory")
}
