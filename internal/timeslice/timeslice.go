// Package timeslice streams per-phase timing records to a writer. Every
// record carries the wall-clock duration of a phase and the number of
// simulated clock cycles it consumed, so host overhead and simulator
// throughput can be told apart when the file is summarised.
//
// A file is a header, a JSON table of the registered kinds padded to a
// 4096-byte boundary, then fixed-size little-endian records.
package timeslice

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	Magic   uint32 = 0x54534c46 // "TSLF"
	Version uint32 = 3

	blockSize = 4096
)

type header struct {
	Magic       uint32
	Version     uint32
	KindsLength uint32
}

type KindID uint64

const InvalidKind = KindID(0)

type KindInfo struct {
	Name  string
	Flags Flags
}

type Flags uint32

const (
	// FlagSimulated marks phases spent inside the simulator clock.
	FlagSimulated Flags = 1 << iota
	// FlagSetup marks allocation and reset phases.
	FlagSetup
)

func (f Flags) String() string {
	var flags []string
	if f&FlagSimulated != 0 {
		flags = append(flags, "sim")
	}
	if f&FlagSetup != 0 {
		flags = append(flags, "setup")
	}
	return strings.Join(flags, ",")
}

var (
	kindsMu sync.Mutex
	kinds   = make(map[KindID]KindInfo)
)

// RegisterKind adds a named phase. Kinds are written into the file header,
// so register them before Open, typically from package-level vars.
func RegisterKind(name string, flags Flags) KindID {
	kindsMu.Lock()
	defer kindsMu.Unlock()

	id := KindID(len(kinds) + 1)
	kinds[id] = KindInfo{Name: name, Flags: flags}
	return id
}

type record struct {
	ID       KindID
	Duration int64
	Cycles   int64
}

var recordSize = binary.Size(record{})

type writer struct {
	w    io.Writer
	done chan error

	// mu keeps Close from closing recs under a concurrent Record.
	mu     sync.RWMutex
	closed bool
	recs   chan record
}

func (w *writer) send(rec record) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.closed {
		w.recs <- rec
	}
}

func (w *writer) run() {
	defer close(w.done)

	var buf [blockSize]byte
	off := 0

	for rec := range w.recs {
		if off+recordSize > len(buf) {
			if _, err := w.w.Write(buf[:off]); err != nil {
				w.done <- err
				// keep draining so Record never blocks on a dead writer
				for range w.recs {
				}
				return
			}
			off = 0
		}
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(rec.ID))
		binary.LittleEndian.PutUint64(buf[off+8:off+16], uint64(rec.Duration))
		binary.LittleEndian.PutUint64(buf[off+16:off+24], uint64(rec.Cycles))
		off += recordSize
	}

	if off > 0 {
		if _, err := w.w.Write(buf[:off]); err != nil {
			w.done <- err
			return
		}
	}
	w.done <- nil
}

func (w *writer) Close() error {
	if !current.CompareAndSwap(w, nil) {
		return fmt.Errorf("timeslice: already closed")
	}
	w.mu.Lock()
	w.closed = true
	close(w.recs)
	w.mu.Unlock()
	if err := <-w.done; err != nil {
		return fmt.Errorf("timeslice: write thread: %w", err)
	}
	return nil
}

var current atomic.Pointer[writer]

// Record queues one record. It does nothing unless a writer is open and is
// safe to call from any goroutine, including while the writer is closing.
func Record(id KindID, duration time.Duration, cycles int64) {
	if w := current.Load(); w != nil {
		w.send(record{ID: id, Duration: duration.Nanoseconds(), Cycles: cycles})
	}
}

// Recorder measures consecutive phases of one goroutine.
type Recorder struct {
	last time.Time
}

func NewRecorder() *Recorder {
	return &Recorder{last: time.Now()}
}

// Record closes the current phase, attributing cycles to it, and starts
// the next one.
func (r *Recorder) Record(id KindID, cycles int64) {
	now := time.Now()
	Record(id, now.Sub(r.last), cycles)
	r.last = now
}

// Open writes the file header to w and starts recording. Only one writer
// can be open at a time.
func Open(w io.Writer) (io.Closer, error) {
	if current.Load() != nil {
		return nil, fmt.Errorf("timeslice: already open")
	}

	kindsMu.Lock()
	table, err := json.Marshal(kinds)
	kindsMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("timeslice: marshal kinds: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, header{
		Magic:       Magic,
		Version:     Version,
		KindsLength: uint32(len(table)),
	}); err != nil {
		return nil, fmt.Errorf("timeslice: write header: %w", err)
	}
	if _, err := w.Write(table); err != nil {
		return nil, fmt.Errorf("timeslice: write kinds: %w", err)
	}
	if pad := padding(binary.Size(header{}) + len(table)); pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			return nil, fmt.Errorf("timeslice: write padding: %w", err)
		}
	}

	wr := &writer{
		w:    w,
		recs: make(chan record, blockSize),
		done: make(chan error, 1),
	}
	if !current.CompareAndSwap(nil, wr) {
		return nil, fmt.Errorf("timeslice: already open")
	}
	go wr.run()
	return wr, nil
}

func padding(off int) int {
	if off%blockSize == 0 {
		return 0
	}
	return blockSize - off%blockSize
}

// Entry is one decoded record.
type Entry struct {
	Kind     string
	Flags    Flags
	Duration time.Duration
	Cycles   int64
}

// ReadAllRecords decodes every record in r in write order.
func ReadAllRecords(r io.Reader, fn func(Entry) error) error {
	buf := bufio.NewReaderSize(r, blockSize)

	var hdr header
	if err := binary.Read(buf, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("timeslice: read header: %w", err)
	}
	if hdr.Magic != Magic {
		return fmt.Errorf("timeslice: invalid magic")
	}
	if hdr.Version != Version {
		return fmt.Errorf("timeslice: unsupported version %d", hdr.Version)
	}

	var table map[KindID]KindInfo
	dec := json.NewDecoder(io.LimitReader(buf, int64(hdr.KindsLength)))
	if err := dec.Decode(&table); err != nil {
		return fmt.Errorf("timeslice: decode kinds: %w", err)
	}
	if pad := padding(binary.Size(hdr) + int(hdr.KindsLength)); pad > 0 {
		if _, err := buf.Discard(pad); err != nil {
			return fmt.Errorf("timeslice: skip padding: %w", err)
		}
	}

	for {
		var rec record
		if err := binary.Read(buf, binary.LittleEndian, &rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("timeslice: read record: %w", err)
		}
		kind, ok := table[rec.ID]
		if !ok {
			return fmt.Errorf("timeslice: unknown kind %d", rec.ID)
		}
		if err := fn(Entry{
			Kind:     kind.Name,
			Flags:    kind.Flags,
			Duration: time.Duration(rec.Duration),
			Cycles:   rec.Cycles,
		}); err != nil {
			return err
		}
	}
}
