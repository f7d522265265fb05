package scenario

import (
	"fmt"
	"math/rand/v2"

	"github.com/tinyrange/simctl/internal/device"
)

// ReluCycleBudget is the single run used to complete a relu job before
// finish is checked.
const ReluCycleBudget = 1_000_000

func expectValue(v int64) *Expect { return &Expect{Value: &v} }

func expectFinished(done bool) *Expect { return &Expect{Finished: &done} }

// Adder generates n random operand pairs below 64 and checks that y holds
// their 8-bit sum after three cycles.
func Adder(rng *rand.Rand, n int) *Spec {
	spec := &Spec{
		Name:  fmt.Sprintf("adder-%d", n),
		Steps: []Step{{Op: OpReset, Cycles: 10}},
	}
	for i := range n {
		a, b := rng.Int64N(64), rng.Int64N(64)
		spec.Steps = append(spec.Steps,
			Step{Op: OpSet, Role: string(device.RoleOperandA), Value: a},
			Step{Op: OpSet, Role: string(device.RoleOperandB), Value: b},
			Step{Op: OpRun, Cycles: 3},
			Step{
				Name:   fmt.Sprintf("sum %d: %d+%d", i, a, b),
				Op:     OpGet,
				Role:   string(device.RoleResult),
				Expect: expectValue((a + b) % 256),
			},
		)
	}
	return spec
}

// Relu generates n random elements, loads them into the input bank, runs
// the engine for ReluCycleBudget cycles and expects max(x, 0) for every
// element in the output bank. wordWidth is the device's elements per word.
func Relu(rng *rand.Rand, n, wordWidth int) *Spec {
	in := make([]int8, n)
	want := make([]int8, n)
	for i := range in {
		in[i] = int8(rng.IntN(128) - 64)
		want[i] = max(in[i], 0)
	}
	words := (n + wordWidth - 1) / wordWidth

	return &Spec{
		Name: fmt.Sprintf("relu-%d", n),
		Steps: []Step{
			{Op: OpReset},
			{Op: OpSet, Role: string(device.RoleRAddr), Value: 0},
			{Op: OpSet, Role: string(device.RoleWAddr), Value: 0},
			{Op: OpSet, Role: string(device.RoleLength), Value: int64(words)},
			{Op: OpWriteMem, Bank: string(device.BankInput), Data: in},
			{Name: "finish before launch", Op: OpFinished, Expect: expectFinished(false)},
			{Op: OpLaunch},
			{Op: OpRun, Cycles: ReluCycleBudget},
			{Name: "finish after run", Op: OpFinished, Expect: expectFinished(true)},
			{Name: "cycle counter", Op: OpGet, Role: string(device.RoleCycles), Expect: expectValue(ReluCycleBudget)},
			{Name: "output", Op: OpReadMem, Bank: string(device.BankOutput), Count: n, Expect: &Expect{Data: want}},
		},
	}
}
