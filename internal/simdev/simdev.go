// Package simdev hosts cycle-level device models in process behind the
// same entry points a compiled model library exports.
//
// The models mirror the register files of the reference accelerators and
// fail the same way the compiled simulator does: an access to a register or
// bank that does not exist panics instead of returning an error.
package simdev

import (
	"fmt"
	"sync"

	"github.com/tinyrange/simctl/internal/native"
)

// Model is one simulator instance.
type Model interface {
	// Reset applies one clock edge with reset asserted.
	Reset()
	// Tick applies one clock edge.
	Tick()

	ReadReg(hid, sel int32) int32
	WriteReg(hid, sel, value int32)
	ReadMem(hid, addr, sel int32) int32
	WriteMem(hid, addr, sel, value int32)
}

// Backend implements native.Backend over in-process models.
type Backend struct {
	newModel func() Model

	mu        sync.Mutex
	next      native.Handle
	instances map[native.Handle]Model
	allocs    int
	deallocs  int

	// FailAlloc makes Alloc return the zero handle.
	FailAlloc bool
}

var _ native.Backend = &Backend{}

// New returns a backend whose instances are built by newModel.
func New(newModel func() Model) *Backend {
	return &Backend{
		newModel:  newModel,
		next:      0x1000,
		instances: make(map[native.Handle]Model),
	}
}

func (b *Backend) model(h native.Handle) Model {
	b.mu.Lock()
	m, ok := b.instances[h]
	b.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("simdev: use of unknown handle %#x", uintptr(h)))
	}
	return m
}

func (b *Backend) Alloc() native.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.FailAlloc {
		return 0
	}
	h := b.next
	b.next += 0x10
	b.instances[h] = b.newModel()
	b.allocs++
	return h
}

func (b *Backend) Dealloc(h native.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.instances[h]; !ok {
		panic(fmt.Sprintf("simdev: dealloc of unknown handle %#x", uintptr(h)))
	}
	delete(b.instances, h)
	b.deallocs++
}

func (b *Backend) Reset(h native.Handle, cycles int32) {
	m := b.model(h)
	for range cycles {
		m.Reset()
	}
}

func (b *Backend) Run(h native.Handle, cycles int32) {
	m := b.model(h)
	for range cycles {
		m.Tick()
	}
}

func (b *Backend) ReadReg(h native.Handle, hid, sel int32) int32 {
	return b.model(h).ReadReg(hid, sel)
}

func (b *Backend) WriteReg(h native.Handle, hid, sel, value int32) {
	b.model(h).WriteReg(hid, sel, value)
}

func (b *Backend) ReadMem(h native.Handle, hid, addr, sel int32) int32 {
	return b.model(h).ReadMem(hid, addr, sel)
}

func (b *Backend) WriteMem(h native.Handle, hid, addr, sel, value int32) {
	b.model(h).WriteMem(hid, addr, sel, value)
}

// Live returns the number of allocated, not yet released instances.
func (b *Backend) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.instances)
}

// Allocs returns the number of successful Alloc calls.
func (b *Backend) Allocs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allocs
}

// Deallocs returns the number of Dealloc calls.
func (b *Backend) Deallocs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deallocs
}

// Open returns a backend for one of the built-in model families.
func Open(family string, lanes, depth int) (*Backend, error) {
	switch family {
	case "relu":
		return NewRelu(lanes, depth), nil
	case "adder":
		return NewAdder(), nil
	default:
		return nil, fmt.Errorf("simdev: unknown model family %q", family)
	}
}
