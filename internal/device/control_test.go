package device

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/tinyrange/simctl/internal/native"
	"github.com/tinyrange/simctl/internal/simdev"
)

func TestRunBeforeReset(t *testing.T) {
	d, _ := newRelu(t, 1, 4)

	if err := d.Run(1); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Run = %v, want ErrNotReady", err)
	}
	if _, err := d.ReadRegister(0, 0); !errors.Is(err, ErrNotReady) {
		t.Fatalf("ReadRegister = %v, want ErrNotReady", err)
	}
	if err := d.WriteMemory(0, 0, 4, []int8{1}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("WriteMemory = %v, want ErrNotReady", err)
	}
	if d.State() != Unreset {
		t.Fatalf("State = %v, want unreset", d.State())
	}

	if err := d.Reset(1); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if d.State() != Ready {
		t.Fatalf("State = %v, want ready", d.State())
	}
	if err := d.Run(1); err != nil {
		t.Fatalf("Run after Reset: %v", err)
	}
}

func TestInvalidCycleCounts(t *testing.T) {
	d, _ := newRelu(t, 1, 4)

	for _, n := range []int{0, -1} {
		if err := d.Reset(n); !errors.Is(err, ErrInvalidCycles) {
			t.Fatalf("Reset(%d) = %v, want ErrInvalidCycles", n, err)
		}
	}
	if err := d.Reset(1); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	for _, n := range []int{0, -5} {
		if err := d.Run(n); !errors.Is(err, ErrInvalidCycles) {
			t.Fatalf("Run(%d) = %v, want ErrInvalidCycles", n, err)
		}
	}
}

func TestResetDeterminism(t *testing.T) {
	d, _ := newRelu(t, 1, 16)
	layout := d.Layout()

	snapshot := func() []uint8 {
		var out []uint8
		for _, r := range layout.Registers {
			for sel := 0; sel < r.Width; sel++ {
				v, err := d.ReadRegister(r.ID, sel)
				if err != nil {
					t.Fatalf("ReadRegister(%d, %d): %v", r.ID, sel, err)
				}
				out = append(out, v)
			}
		}
		return out
	}

	var want []uint8
	for _, cycles := range []int{1, 2, 3, 10, 100, 1000} {
		// dirty the register file before each reset
		if d.State() == Ready {
			if err := d.SetRAddr(5); err != nil {
				t.Fatalf("SetRAddr: %v", err)
			}
			if err := d.SetLength(2); err != nil {
				t.Fatalf("SetLength: %v", err)
			}
			if err := d.Launch(); err != nil {
				t.Fatalf("Launch: %v", err)
			}
			if err := d.Run(17); err != nil {
				t.Fatalf("Run: %v", err)
			}
		}

		if err := d.Reset(cycles); err != nil {
			t.Fatalf("Reset(%d): %v", cycles, err)
		}
		got := snapshot()
		if want == nil {
			want = got
			continue
		}
		if !slices.Equal(got, want) {
			t.Fatalf("registers after Reset(%d) = %v, want %v", cycles, got, want)
		}
	}

	if cycles, err := d.CycleCounter(); err != nil || cycles != 0 {
		t.Fatalf("cycle counter after reset = %d, %v; want 0", cycles, err)
	}
}

func TestCycleCounterIsSumOfRuns(t *testing.T) {
	d, _ := newReadyRelu(t, 1, 4)

	runs := []int{1, 7, 300, 2, 65536, 13}
	total := 0
	last := int64(0)
	for _, n := range runs {
		if err := d.Run(n); err != nil {
			t.Fatalf("Run(%d): %v", n, err)
		}
		total += n

		got, err := d.CycleCounter()
		if err != nil {
			t.Fatalf("CycleCounter: %v", err)
		}
		if got < last {
			t.Fatalf("cycle counter went backwards: %d after %d", got, last)
		}
		if got != int64(total) {
			t.Fatalf("cycle counter = %d, want %d", got, total)
		}
		last = got
	}
}

// chunkRecorder records run lengths without simulating them.
type chunkRecorder struct {
	*simdev.Backend
	runs []int32
}

func (c *chunkRecorder) Run(h native.Handle, cycles int32) {
	c.runs = append(c.runs, cycles)
}

func TestRunSplitsLargeCounts(t *testing.T) {
	if math.MaxInt == math.MaxInt32 {
		t.Skip("int is 32 bits")
	}

	rec := &chunkRecorder{Backend: simdev.NewAdder()}
	d, err := New(rec, AdderLayout())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()
	if err := d.Reset(1); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	n := maxNativeCycles
	if err := d.Run(2*n + 7); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []int32{math.MaxInt32, math.MaxInt32, 7}
	if !slices.Equal(rec.runs, want) {
		t.Fatalf("native runs = %v, want %v", rec.runs, want)
	}
}

func TestResetDefault(t *testing.T) {
	d, _ := newRelu(t, 1, 4)
	if err := d.ResetDefault(); err != nil {
		t.Fatalf("ResetDefault: %v", err)
	}
	if d.State() != Ready {
		t.Fatalf("State = %v, want ready", d.State())
	}
}
