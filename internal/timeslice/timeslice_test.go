package timeslice

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var (
	kindReset = RegisterKind("test::reset", FlagSetup|FlagSimulated)
	kindRun   = RegisterKind("test::run", FlagSimulated)
	kindCopy  = RegisterKind("test::copy", 0)
)

func TestTimeslice(t *testing.T) {
	var buf bytes.Buffer
	func() {
		w, err := Open(&buf)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer w.Close()

		Record(kindReset, 100*time.Millisecond, 3)
		Record(kindRun, 200*time.Millisecond, 1_000_000)
		Record(kindCopy, time.Millisecond, 0)
	}()

	var seen []Entry
	if err := ReadAllRecords(bytes.NewReader(buf.Bytes()), func(e Entry) error {
		seen = append(seen, e)
		return nil
	}); err != nil {
		t.Fatalf("ReadAllRecords: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 records, got %d", len(seen))
	}
	if seen[1].Kind != "test::run" || seen[1].Cycles != 1_000_000 || seen[1].Duration != 200*time.Millisecond {
		t.Fatalf("run record = %+v", seen[1])
	}
	if seen[0].Flags.String() != "sim,setup" {
		t.Fatalf("reset flags = %q", seen[0].Flags)
	}
}

func TestNothingRecordedWhileClosed(t *testing.T) {
	Record(kindRun, time.Second, 1)

	var buf bytes.Buffer
	w, err := Open(&buf)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err == nil {
		t.Fatal("second Close succeeded")
	}
	Record(kindRun, time.Second, 1)

	n := 0
	if err := ReadAllRecords(&buf, func(Entry) error { n++; return nil }); err != nil {
		t.Fatalf("ReadAllRecords: %v", err)
	}
	if n != 0 {
		t.Fatalf("got %d records, want 0", n)
	}
}

func TestRecordRacesClose(t *testing.T) {
	for range 50 {
		var buf bytes.Buffer
		w, err := Open(&buf)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}

		var (
			wg   sync.WaitGroup
			stop atomic.Bool
		)
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for !stop.Load() {
					Record(kindRun, time.Microsecond, 1)
				}
			}()
		}
		time.Sleep(time.Millisecond)
		if err := w.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		stop.Store(true)
		wg.Wait()

		if err := ReadAllRecords(&buf, func(e Entry) error {
			if e.Kind != "test::run" {
				t.Fatalf("unexpected kind %q", e.Kind)
			}
			return nil
		}); err != nil {
			t.Fatalf("ReadAllRecords: %v", err)
		}
	}
}

func TestOpenTwice(t *testing.T) {
	w, err := Open(io.Discard)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()
	if _, err := Open(io.Discard); err == nil {
		t.Fatal("second Open succeeded")
	}
}

func TestRecorder(t *testing.T) {
	var buf bytes.Buffer
	w, err := Open(&buf)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	r := NewRecorder()
	r.Record(kindReset, 3)
	r.Record(kindRun, 40)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var cycles int64
	if err := ReadAllRecords(&buf, func(e Entry) error {
		if e.Duration < 0 {
			t.Errorf("negative duration for %s", e.Kind)
		}
		cycles += e.Cycles
		return nil
	}); err != nil {
		t.Fatalf("ReadAllRecords: %v", err)
	}
	if cycles != 43 {
		t.Fatalf("cycles = %d, want 43", cycles)
	}
}

type brokenWriter struct{ ok int }

func (w *brokenWriter) Write(p []byte) (int, error) {
	if w.ok > 0 {
		w.ok--
		return len(p), nil
	}
	return 0, errors.New("disk full")
}

func TestWriteFailureSurfacesOnClose(t *testing.T) {
	// header, kind table and padding succeed; the record flush fails
	w, err := Open(&brokenWriter{ok: 3})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for range 1000 {
		Record(kindRun, time.Microsecond, 1)
	}
	if err := w.Close(); err == nil {
		t.Fatal("Close hid the write error")
	}
}

func TestReadRejectsForeignFiles(t *testing.T) {
	if err := ReadAllRecords(bytes.NewReader(make([]byte, 64)), func(Entry) error { return nil }); err == nil {
		t.Fatal("zero header accepted")
	}
	if err := ReadAllRecords(bytes.NewReader(nil), func(Entry) error { return nil }); err == nil {
		t.Fatal("empty file accepted")
	}
}

func BenchmarkTimesliceTempFile(b *testing.B) {
	tmpfile := filepath.Join(b.TempDir(), "timeslice.log")

	var count uint64
	func() {
		f, err := os.Create(tmpfile)
		if err != nil {
			b.Fatalf("Create: %v", err)
		}
		defer f.Close()

		w, err := Open(f)
		if err != nil {
			b.Fatalf("Open: %v", err)
		}
		defer w.Close()

		for b.Loop() {
			Record(kindRun, 100*time.Millisecond, 512)
			atomic.AddUint64(&count, 1)
		}
	}()
	b.StopTimer()

	f, err := os.Open(tmpfile)
	if err != nil {
		b.Fatalf("Open: %v", err)
	}
	defer f.Close()

	var seen uint64
	if err := ReadAllRecords(f, func(Entry) error {
		seen++
		return nil
	}); err != nil {
		b.Fatalf("ReadAllRecords: %v", err)
	}
	if seen != count {
		b.Fatalf("expected %d records, got %d", count, seen)
	}
}
