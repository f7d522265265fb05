package device

import (
	"context"
	"fmt"
)

// The launch/finish handshake is a convention over the register file:
// program the address and length registers, write the input bank, set
// launch, then run cycles until finish reads 1.

func (d *Device) SetRAddr(v int64) error  { return d.Set(RoleRAddr, v) }
func (d *Device) SetWAddr(v int64) error  { return d.Set(RoleWAddr, v) }
func (d *Device) SetLength(v int64) error { return d.Set(RoleLength, v) }

func (d *Device) RAddr() (int64, error)  { return d.Get(RoleRAddr) }
func (d *Device) WAddr() (int64, error)  { return d.Get(RoleWAddr) }
func (d *Device) Length() (int64, error) { return d.Get(RoleLength) }

// Launch asserts the launch register. The model clears it itself.
func (d *Device) Launch() error {
	return d.Set(RoleLaunch, 1)
}

// Finished reads the finish register. Reading it before Launch is allowed
// and reports whatever the model holds, normally false.
func (d *Device) Finished() (bool, error) {
	v, err := d.Get(RoleFinish)
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, opError("get finish", fmt.Errorf("%w: finish register reads %d", ErrProtocol, v))
	}
}

// CycleCounter reads the model's cycle counter register.
func (d *Device) CycleCounter() (int64, error) {
	return d.Get(RoleCycles)
}

// PollResult reports the outcome of Poll. Not finishing within the budget
// is a normal result, not an error.
type PollResult struct {
	Finished bool
	// Cycles is the number of cycles run by this Poll call.
	Cycles int
	// Polls is the number of times the finish register was read.
	Polls int
}

// Poll runs the device step cycles at a time, reading finish after each
// step, until it reads 1 or budget cycles have been run. The final step is
// shortened so that exactly budget cycles are run at most. ctx is checked
// between steps; a step in progress always completes.
func (d *Device) Poll(ctx context.Context, step, budget int) (PollResult, error) {
	var res PollResult

	if err := d.checkReady(); err != nil {
		return res, opError("poll", err)
	}
	if step < 1 {
		return res, opError("poll", fmt.Errorf("%w: step %d", ErrInvalidCycles, step))
	}
	if budget < 1 {
		return res, opError("poll", fmt.Errorf("%w: budget %d", ErrInvalidCycles, budget))
	}

	for res.Cycles < budget {
		if err := ctx.Err(); err != nil {
			return res, opError("poll", err)
		}

		n := min(step, budget-res.Cycles)
		if err := d.Run(n); err != nil {
			return res, err
		}
		res.Cycles += n

		done, err := d.Finished()
		res.Polls++
		if err != nil {
			return res, err
		}
		if done {
			res.Finished = true
			return res, nil
		}
	}

	return res, nil
}

// RunAndCheck runs maxCycles in a single call and reads finish once.
func (d *Device) RunAndCheck(maxCycles int) (bool, error) {
	if err := d.Run(maxCycles); err != nil {
		return false, err
	}
	return d.Finished()
}
