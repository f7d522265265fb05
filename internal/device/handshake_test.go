package device

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/tinyrange/simctl/internal/simdev"
)

func TestAdderFixedOperands(t *testing.T) {
	err := With(simdev.NewAdder(), AdderLayout(), func(d *Device) error {
		if err := d.Reset(10); err != nil {
			return err
		}
		if err := d.Set(RoleOperandA, 5); err != nil {
			return err
		}
		if err := d.Set(RoleOperandB, 7); err != nil {
			return err
		}
		if err := d.Run(3); err != nil {
			return err
		}
		y, err := d.Get(RoleResult)
		if err != nil {
			return err
		}
		if y != 12 {
			t.Errorf("y = %d, want 12", y)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("adder: %v", err)
	}
}

func TestAdderRandomPairsWrap(t *testing.T) {
	d, err := New(simdev.NewAdder(), AdderLayout())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()
	if err := d.Reset(10); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	rng := rand.New(rand.NewPCG(7, 11))
	var got, want []int64
	for range 16 {
		a, b := rng.Int64N(64), rng.Int64N(64)
		if err := d.Set(RoleOperandA, a); err != nil {
			t.Fatalf("Set(a): %v", err)
		}
		if err := d.Set(RoleOperandB, b); err != nil {
			t.Fatalf("Set(b): %v", err)
		}
		if err := d.Run(3); err != nil {
			t.Fatalf("Run: %v", err)
		}
		y, err := d.Get(RoleResult)
		if err != nil {
			t.Fatalf("Get(y): %v", err)
		}
		got = append(got, y)
		want = append(want, (a+b)%256)
	}
	if !slices.Equal(got, want) {
		t.Fatalf("sums = %v, want %v", got, want)
	}

	// 8-bit wraparound
	d.Set(RoleOperandA, 200)
	d.Set(RoleOperandB, 100)
	d.Run(1)
	if y, _ := d.Get(RoleResult); y != 44 {
		t.Fatalf("200+100 = %d, want 44", y)
	}
}

func loadRelu(t *testing.T, d *Device, n int, rng *rand.Rand) (in, want []int8) {
	t.Helper()

	in = make([]int8, n)
	want = make([]int8, n)
	for i := range in {
		in[i] = int8(rng.IntN(128) - 64)
		want[i] = max(in[i], 0)
	}

	words := (n + d.Layout().WordWidth - 1) / d.Layout().WordWidth
	if err := d.SetRAddr(0); err != nil {
		t.Fatalf("SetRAddr: %v", err)
	}
	if err := d.SetWAddr(0); err != nil {
		t.Fatalf("SetWAddr: %v", err)
	}
	if err := d.SetLength(int64(words)); err != nil {
		t.Fatalf("SetLength: %v", err)
	}
	if err := d.WriteBank(BankInput, 0, in); err != nil {
		t.Fatalf("WriteBank: %v", err)
	}
	return in, want
}

func TestReluRunAndCheck(t *testing.T) {
	const n = 1024
	for _, lanes := range []int{1, 2, 4, 8} {
		d, _ := newReadyRelu(t, lanes, 1024)
		_, want := loadRelu(t, d, n, rand.New(rand.NewPCG(uint64(lanes), 3)))

		if done, err := d.Finished(); err != nil || done {
			t.Fatalf("finish before launch = %v, %v", done, err)
		}
		if err := d.Launch(); err != nil {
			t.Fatalf("Launch: %v", err)
		}

		done, err := d.RunAndCheck(1_000_000)
		if err != nil {
			t.Fatalf("RunAndCheck: %v", err)
		}
		if !done {
			t.Fatalf("lanes %d: relu did not finish", lanes)
		}

		got, err := d.ReadBank(BankOutput, 0, n)
		if err != nil {
			t.Fatalf("ReadBank: %v", err)
		}
		if !slices.Equal(got, want) {
			t.Fatalf("lanes %d: output mismatch", lanes)
		}

		cycles, err := d.CycleCounter()
		if err != nil {
			t.Fatalf("CycleCounter: %v", err)
		}
		if cycles != 1_000_000 {
			t.Fatalf("cycle counter = %d, want 1000000", cycles)
		}
	}
}

func TestReluPoll(t *testing.T) {
	d, _ := newReadyRelu(t, 1, 64)
	_, want := loadRelu(t, d, 40, rand.New(rand.NewPCG(5, 5)))

	if err := d.Launch(); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	// 10 words need 11 cycles; a budget of 8 is not enough
	res, err := d.Poll(context.Background(), 3, 8)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Finished {
		t.Fatalf("finished within 8 cycles")
	}
	if res.Cycles != 8 || res.Polls != 3 {
		t.Fatalf("Poll result = %+v, want 8 cycles in 3 polls", res)
	}

	res, err = d.Poll(context.Background(), 1, 100)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !res.Finished {
		t.Fatalf("not finished after %d more cycles", res.Cycles)
	}
	if res.Cycles != 3 {
		t.Fatalf("second poll ran %d cycles, want 3", res.Cycles)
	}

	got, err := d.ReadBank(BankOutput, 0, 40)
	if err != nil {
		t.Fatalf("ReadBank: %v", err)
	}
	if !slices.Equal(got, want) {
		t.Fatalf("output = %v, want %v", got, want)
	}
}

func TestPollArguments(t *testing.T) {
	d, _ := newRelu(t, 1, 4)
	if _, err := d.Poll(context.Background(), 1, 1); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Poll before reset = %v, want ErrNotReady", err)
	}
	if err := d.Reset(1); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := d.Poll(context.Background(), 0, 10); !errors.Is(err, ErrInvalidCycles) {
		t.Fatalf("Poll step 0 = %v, want ErrInvalidCycles", err)
	}
	if _, err := d.Poll(context.Background(), 1, 0); !errors.Is(err, ErrInvalidCycles) {
		t.Fatalf("Poll budget 0 = %v, want ErrInvalidCycles", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := d.Poll(ctx, 1, 10)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Poll with canceled context = %v", err)
	}
	if res.Cycles != 0 {
		t.Fatalf("canceled Poll ran %d cycles", res.Cycles)
	}
}

func TestFinishProtocolViolation(t *testing.T) {
	b := newRegFileBackend()
	layout := &Layout{
		Family: "broken",
		Registers: []RegisterSpec{
			{Name: "finish", Role: RoleFinish, ID: 0, Width: 1},
		},
	}
	d, err := New(b, layout)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()
	if err := d.Reset(1); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := d.WriteRegister(0, 0, 2); err != nil {
		t.Fatalf("WriteRegister: %v", err)
	}
	if _, err := d.Finished(); !errors.Is(err, ErrProtocol) {
		t.Fatalf("Finished = %v, want ErrProtocol", err)
	}
}

func TestAdderHasNoHandshake(t *testing.T) {
	d, err := New(simdev.NewAdder(), AdderLayout())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()
	if err := d.Reset(1); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := d.Launch(); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("Launch = %v, want ErrInvalidAddress", err)
	}
	if _, err := d.Finished(); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("Finished = %v, want ErrInvalidAddress", err)
	}
}
