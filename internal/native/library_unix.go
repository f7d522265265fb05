//go:build darwin || linux

package native

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/ebitengine/purego"
	"golang.org/x/sys/unix"
)

// fileID identifies a library file independent of the path used to reach it.
type fileID struct {
	dev uint64
	ino uint64
}

type libraryKey struct {
	file   fileID
	prefix string
}

var (
	registryMu sync.Mutex
	registry   = map[libraryKey]*Library{}
)

// Library is a loaded device model. Libraries are never unloaded: handles
// issued by a library stay valid for the life of the process.
type Library struct {
	path    string
	symbols Symbols
	lib     uintptr

	alloc    func() uintptr
	dealloc  func(h uintptr)
	reset    func(h uintptr, n int32)
	run      func(h uintptr, n int32)
	readReg  func(h uintptr, hid, sel int32) int32
	writeReg func(h uintptr, hid, sel, value int32)
	readMem  func(h uintptr, hid, addr, sel int32) int32
	writeMem func(h uintptr, hid, addr, sel, value int32)
}

var _ Backend = &Library{}

// canonicalPath resolves path to an absolute path with symlinks removed.
func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func statID(path string) (fileID, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return fileID{}, err
	}
	return fileID{dev: uint64(st.Dev), ino: st.Ino}, nil
}

// Open loads the device model at path and binds its entry points using the
// given symbol prefix. Opening the same file again, through any path, with
// the same prefix returns the already loaded Library.
func Open(path string, prefix string) (*Library, error) {
	canon, err := canonicalPath(path)
	if err != nil {
		return nil, fmt.Errorf("native: resolve %s: %w", path, err)
	}

	id, err := statID(canon)
	if err != nil {
		return nil, fmt.Errorf("native: stat %s: %w", canon, err)
	}

	if prefix == "" {
		prefix = DefaultPrefix
	}
	symbols := SymbolsWithPrefix(prefix)
	key := libraryKey{file: id, prefix: prefix}

	registryMu.Lock()
	defer registryMu.Unlock()

	if lib, ok := registry[key]; ok {
		return lib, nil
	}

	lib, err := load(canon, symbols)
	if err != nil {
		return nil, err
	}
	registry[key] = lib

	slog.Debug("native: loaded device model", "path", canon, "prefix", prefix)

	return lib, nil
}

func load(path string, symbols Symbols) (*Library, error) {
	// RTLD_LOCAL keeps two models built from the same generator from
	// resolving each other's identically named symbols.
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, fmt.Errorf("native: dlopen %s: %w", path, err)
	}

	l := &Library{path: path, symbols: symbols, lib: handle}

	bindings := []struct {
		fptr any
		name string
	}{
		{&l.alloc, symbols.Alloc},
		{&l.dealloc, symbols.Dealloc},
		{&l.reset, symbols.Reset},
		{&l.run, symbols.Run},
		{&l.readReg, symbols.ReadReg},
		{&l.writeReg, symbols.WriteReg},
		{&l.readMem, symbols.ReadMem},
		{&l.writeMem, symbols.WriteMem},
	}

	for _, b := range bindings {
		sym, err := purego.Dlsym(handle, b.name)
		if err != nil {
			purego.Dlclose(handle)
			return nil, fmt.Errorf("native: %s: missing symbol %s: %w", path, b.name, err)
		}
		purego.RegisterFunc(b.fptr, sym)
	}

	return l, nil
}

// Path returns the canonical path the library was loaded from.
func (l *Library) Path() string { return l.path }

// Symbols returns the entry point names bound for this library.
func (l *Library) Symbols() Symbols { return l.symbols }

func (l *Library) Alloc() Handle { return Handle(l.alloc()) }
func (l *Library) Dealloc(h Handle) { l.dealloc(uintptr(h)) }
func (l *Library) Reset(h Handle, n int32) { l.reset(uintptr(h), n) }
func (l *Library) Run(h Handle, n int32) { l.run(uintptr(h), n) }
func (l *Library) ReadReg(h Handle, hid, sel int32) int32 {
	return l.readReg(uintptr(h), hid, sel)
}
func (l *Library) WriteReg(h Handle, hid, sel, value int32) {
	l.writeReg(uintptr(h), hid, sel, value)
}
func (l *Library) ReadMem(h Handle, hid, addr, sel int32) int32 {
	return l.readMem(uintptr(h), hid, addr, sel)
}
func (l *Library) WriteMem(h Handle, hid, addr, sel, value int32) {
	l.writeMem(uintptr(h), hid, addr, sel, value)
}
