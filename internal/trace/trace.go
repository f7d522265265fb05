// Package trace records every call crossing the native boundary as a
// fixed-size binary record, so a session against a real simulator can be
// inspected or compared after the fact.
//
// Each record is 40 bytes, little-endian:
//   - 2 bytes op
//   - 2 bytes reserved (zero)
//   - 4 bytes result (value returned by a read, zero otherwise)
//   - 8 bytes handle
//   - 16 bytes arguments, four int32 in call order, unused slots zero
//   - 8 bytes timestamp (nanoseconds since epoch)
package trace

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/tinyrange/simctl/internal/native"
)

const RecordSize = 40

type Op uint16

const (
	OpInvalid Op = iota
	OpAlloc
	OpDealloc
	OpReset
	OpRun
	OpReadReg
	OpWriteReg
	OpReadMem
	OpWriteMem
)

var opNames = [...]string{
	OpInvalid:  "invalid",
	OpAlloc:    "alloc",
	OpDealloc:  "dealloc",
	OpReset:    "reset",
	OpRun:      "run",
	OpReadReg:  "read_reg",
	OpWriteReg: "write_reg",
	OpReadMem:  "read_mem",
	OpWriteMem: "write_mem",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", uint16(o))
}

func (o Op) valid() bool { return o > OpInvalid && int(o) < len(opNames) }

// argCount is the number of meaningful argument slots for each op.
var argCount = [...]int{
	OpReset:    1,
	OpRun:      1,
	OpReadReg:  2,
	OpWriteReg: 3,
	OpReadMem:  3,
	OpWriteMem: 4,
}

type Record struct {
	Op     Op
	Handle native.Handle
	Args   [4]int32
	Result int32
	Time   time.Time
}

func (r Record) String() string {
	s := fmt.Sprintf("%s h=%#x", r.Op, uintptr(r.Handle))
	if int(r.Op) < len(argCount) {
		for _, a := range r.Args[:argCount[r.Op]] {
			s += fmt.Sprintf(" %d", a)
		}
	}
	if r.Op == OpReadReg || r.Op == OpReadMem {
		s += fmt.Sprintf(" -> %d", r.Result)
	}
	return s
}

func (r Record) encode(buf *[RecordSize]byte) {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(r.Op))
	binary.LittleEndian.PutUint16(buf[2:4], 0)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.Result))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(r.Handle))
	for i, a := range r.Args {
		binary.LittleEndian.PutUint32(buf[16+4*i:20+4*i], uint32(a))
	}
	binary.LittleEndian.PutUint64(buf[32:40], uint64(r.Time.UnixNano()))
}

func decode(buf *[RecordSize]byte) (Record, error) {
	r := Record{
		Op:     Op(binary.LittleEndian.Uint16(buf[0:2])),
		Result: int32(binary.LittleEndian.Uint32(buf[4:8])),
		Handle: native.Handle(binary.LittleEndian.Uint64(buf[8:16])),
		Time:   time.Unix(0, int64(binary.LittleEndian.Uint64(buf[32:40]))),
	}
	if !r.Op.valid() {
		return Record{}, fmt.Errorf("invalid op %d", uint16(r.Op))
	}
	for i := range r.Args {
		r.Args[i] = int32(binary.LittleEndian.Uint32(buf[16+4*i : 20+4*i]))
	}
	return r, nil
}

// Backend forwards to an inner backend and records each call.
type Backend struct {
	inner native.Backend

	mu    sync.Mutex
	w     io.Writer
	buf   [RecordSize]byte
	count int
	err   error

	now func() time.Time
}

var _ native.Backend = (*Backend)(nil)

// Wrap returns a backend that records every call made through it to w.
// Recording stops at the first write error; see Err.
func Wrap(inner native.Backend, w io.Writer) *Backend {
	return &Backend{inner: inner, w: w, now: time.Now}
}

// Count reports how many records have been written.
func (b *Backend) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Err returns the first error returned by the writer.
func (b *Backend) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *Backend) record(op Op, h native.Handle, result int32, args ...int32) {
	r := Record{Op: op, Handle: h, Result: result}
	copy(r.Args[:], args)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return
	}
	r.Time = b.now()
	r.encode(&b.buf)
	if _, err := b.w.Write(b.buf[:]); err != nil {
		b.err = err
		return
	}
	b.count++
}

func (b *Backend) Alloc() native.Handle {
	h := b.inner.Alloc()
	b.record(OpAlloc, h, 0)
	return h
}

func (b *Backend) Dealloc(h native.Handle) {
	b.inner.Dealloc(h)
	b.record(OpDealloc, h, 0)
}

func (b *Backend) Reset(h native.Handle, cycles int32) {
	b.inner.Reset(h, cycles)
	b.record(OpReset, h, 0, cycles)
}

func (b *Backend) Run(h native.Handle, cycles int32) {
	b.inner.Run(h, cycles)
	b.record(OpRun, h, 0, cycles)
}

func (b *Backend) ReadReg(h native.Handle, hid, sel int32) int32 {
	v := b.inner.ReadReg(h, hid, sel)
	b.record(OpReadReg, h, v, hid, sel)
	return v
}

func (b *Backend) WriteReg(h native.Handle, hid, sel, value int32) {
	b.inner.WriteReg(h, hid, sel, value)
	b.record(OpWriteReg, h, 0, hid, sel, value)
}

func (b *Backend) ReadMem(h native.Handle, hid, addr, sel int32) int32 {
	v := b.inner.ReadMem(h, hid, addr, sel)
	b.record(OpReadMem, h, v, hid, addr, sel)
	return v
}

func (b *Backend) WriteMem(h native.Handle, hid, addr, sel, value int32) {
	b.inner.WriteMem(h, hid, addr, sel, value)
	b.record(OpWriteMem, h, 0, hid, addr, sel, value)
}

// ReadAll decodes records from r in the order they were written and calls
// fn for each. A trailing partial record is an error.
func ReadAll(r io.Reader, fn func(Record) error) error {
	br := bufio.NewReader(r)

	var buf [RecordSize]byte
	for n := 0; ; n++ {
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("trace: record %d: %w", n, err)
		}
		rec, err := decode(&buf)
		if err != nil {
			return fmt.Errorf("trace: record %d: %w", n, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// ReadFile is ReadAll over the file at path.
func ReadFile(path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("trace: open: %w", err)
	}
	defer f.Close()
	return ReadAll(f, fn)
}
