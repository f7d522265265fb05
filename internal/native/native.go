// Package native binds the C ABI exported by a compiled device model.
//
// A device model is a shared library built from the accelerator's RTL. It
// exports eight entry points that allocate a simulator instance, drive its
// clock and move 8-bit register values and 32-bit memory lanes in and out
// of it. This package does no validation of its own: an out-of-range
// register or memory address reaches the simulator unchanged, which
// typically aborts the process. Validation belongs in internal/device.
package native

import (
	"errors"
)

var ErrUnsupported = errors.New("native device libraries are unsupported on this platform")

// Handle is the opaque instance pointer returned by the model's Alloc entry
// point. The zero Handle means allocation failed.
type Handle uintptr

// Backend is the set of entry points a device model exports.
//
// Implementations are not safe for concurrent use on the same Handle.
// Distinct handles may be driven from distinct goroutines.
type Backend interface {
	Alloc() Handle
	Dealloc(h Handle)

	Reset(h Handle, cycles int32)
	Run(h Handle, cycles int32)

	ReadReg(h Handle, hid, sel int32) int32
	WriteReg(h Handle, hid, sel, value int32)

	ReadMem(h Handle, hid, addr, sel int32) int32
	WriteMem(h Handle, hid, addr, sel, value int32)
}

// DefaultPrefix is the symbol prefix emitted by the model generator.
const DefaultPrefix = "LastLayer"

// Symbols names the exported functions of a model.
type Symbols struct {
	Alloc    string
	Dealloc  string
	Reset    string
	Run      string
	ReadReg  string
	WriteReg string
	ReadMem  string
	WriteMem string
}

// SymbolsWithPrefix returns the symbol table for a generator prefix. An
// empty prefix selects DefaultPrefix.
func SymbolsWithPrefix(prefix string) Symbols {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Symbols{
		Alloc:    prefix + "Alloc",
		Dealloc:  prefix + "Dealloc",
		Reset:    prefix + "Reset",
		Run:      prefix + "Run",
		ReadReg:  prefix + "ReadReg",
		WriteReg: prefix + "WriteReg",
		ReadMem:  prefix + "ReadMem",
		WriteMem: prefix + "WriteMem",
	}
}
