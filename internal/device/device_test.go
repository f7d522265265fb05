package device

import (
	"errors"
	"testing"

	"github.com/tinyrange/simctl/internal/native"
	"github.com/tinyrange/simctl/internal/simdev"
)

func newRelu(t *testing.T, lanes, depth int) (*Device, *simdev.Backend) {
	t.Helper()
	b := simdev.NewRelu(lanes, depth)
	d, err := New(b, ReluLayout(lanes, depth))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if d.State() != Released {
			d.Close()
		}
	})
	return d, b
}

func newReadyRelu(t *testing.T, lanes, depth int) (*Device, *simdev.Backend) {
	t.Helper()
	d, b := newRelu(t, lanes, depth)
	if err := d.Reset(3); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	return d, b
}

func TestCloseExactlyOnce(t *testing.T) {
	b := simdev.NewAdder()
	d, err := New(b, AdderLayout())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.Live() != 1 {
		t.Fatalf("Live = %d, want 1", b.Live())
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); !errors.Is(err, ErrReleased) {
		t.Fatalf("second Close = %v, want ErrReleased", err)
	}
	if b.Deallocs() != 1 {
		t.Fatalf("Deallocs = %d, want 1", b.Deallocs())
	}

	// nothing below may reach the backend: it would panic on the stale handle
	if err := d.Reset(1); !errors.Is(err, ErrReleased) {
		t.Fatalf("Reset after Close = %v", err)
	}
	if err := d.Run(1); !errors.Is(err, ErrReleased) {
		t.Fatalf("Run after Close = %v", err)
	}
	if _, err := d.ReadRegister(0, 0); !errors.Is(err, ErrReleased) {
		t.Fatalf("ReadRegister after Close = %v", err)
	}
	if err := d.Set(RoleOperandA, 1); !errors.Is(err, ErrReleased) {
		t.Fatalf("Set after Close = %v", err)
	}
}

func TestWithReleasesOnAllPaths(t *testing.T) {
	b := simdev.NewAdder()

	if err := With(b, AdderLayout(), func(d *Device) error { return d.Reset(1) }); err != nil {
		t.Fatalf("With: %v", err)
	}

	sentinel := errors.New("scenario failed")
	if err := With(b, AdderLayout(), func(d *Device) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("With error = %v, want %v", err, sentinel)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		With(b, AdderLayout(), func(d *Device) error { panic("boom") })
	}()

	if b.Live() != 0 {
		t.Fatalf("Live = %d, want 0", b.Live())
	}
	if b.Allocs() != 3 || b.Deallocs() != 3 {
		t.Fatalf("allocs/deallocs = %d/%d, want 3/3", b.Allocs(), b.Deallocs())
	}
}

func TestWithReportsDoubleClose(t *testing.T) {
	b := simdev.NewAdder()
	err := With(b, AdderLayout(), func(d *Device) error { return d.Close() })
	if !errors.Is(err, ErrReleased) {
		t.Fatalf("With after inner Close = %v, want ErrReleased", err)
	}
	if b.Deallocs() != 1 {
		t.Fatalf("Deallocs = %d, want 1", b.Deallocs())
	}
}

func TestAllocationFailure(t *testing.T) {
	b := simdev.NewAdder()
	b.FailAlloc = true
	if _, err := New(b, AdderLayout()); !errors.Is(err, ErrAllocation) {
		t.Fatalf("New = %v, want ErrAllocation", err)
	}

	var nilBackend native.Backend
	if _, err := New(nilBackend, AdderLayout()); !errors.Is(err, ErrAllocation) {
		t.Fatalf("New(nil) = %v, want ErrAllocation", err)
	}

	bad := &Layout{Registers: []RegisterSpec{{Name: "x", ID: 0, Width: 1}, {Name: "y", ID: 0, Width: 1}}}
	if _, err := New(simdev.NewAdder(), bad); !errors.Is(err, ErrAllocation) {
		t.Fatalf("New(bad layout) = %v, want ErrAllocation", err)
	}
}

func TestDistinctDevicesDoNotShareState(t *testing.T) {
	b := simdev.NewAdder()
	d1, err := New(b, AdderLayout())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d1.Close()
	d2, err := New(b, AdderLayout())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d2.Close()

	for _, d := range []*Device{d1, d2} {
		if err := d.Reset(1); err != nil {
			t.Fatalf("Reset: %v", err)
		}
	}
	if err := d1.Set(RoleOperandA, 42); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, err := d2.Get(RoleOperandA); err != nil || v != 0 {
		t.Fatalf("d2 a = %d, %v; want 0", v, err)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Unreset: "unreset", Ready: "ready", Released: "released"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}

func TestErrorWrapping(t *testing.T) {
	d, _ := newRelu(t, 1, 4)
	err := d.Run(1)

	var derr *Error
	if !errors.As(err, &derr) {
		t.Fatalf("Run error %T is not *Error", err)
	}
	if derr.Op != "run" {
		t.Fatalf("Op = %q, want run", derr.Op)
	}
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("error %v does not wrap ErrNotReady", err)
	}
}
