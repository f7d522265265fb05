package device

import (
	"fmt"
	"math"
)

// maxNativeCycles is the largest cycle count one native call accepts.
const maxNativeCycles = math.MaxInt32

// Reset holds the model in reset for cycles clock edges. Afterwards every
// register reads its documented reset value and the device is Ready.
// Reset is legal from both Unreset and Ready.
func (d *Device) Reset(cycles int) error {
	if d.state == Released {
		return opError("reset", ErrReleased)
	}
	if cycles < 1 {
		return opError("reset", fmt.Errorf("%w: %d", ErrInvalidCycles, cycles))
	}

	for remaining := cycles; remaining > 0; {
		n := min(remaining, maxNativeCycles)
		d.backend.Reset(d.handle, int32(n))
		remaining -= n
	}
	d.state = Ready

	d.log.Debug("device: reset", "family", d.layout.Family, "cycles", cycles)
	return nil
}

// ResetDefault resets for the layout's ResetCycles, or one cycle if the
// layout does not specify a duration.
func (d *Device) ResetDefault() error {
	return d.Reset(max(d.layout.ResetCycles, 1))
}

// Run advances the clock by exactly cycles edges. It blocks until the model
// has simulated them; there is no way to interrupt a Run in progress, so
// callers should bound cycles and poll.
func (d *Device) Run(cycles int) error {
	if err := d.checkReady(); err != nil {
		return opError("run", err)
	}
	if cycles < 1 {
		return opError("run", fmt.Errorf("%w: %d", ErrInvalidCycles, cycles))
	}

	for remaining := cycles; remaining > 0; {
		n := min(remaining, maxNativeCycles)
		d.backend.Run(d.handle, int32(n))
		remaining -= n
	}
	return nil
}
