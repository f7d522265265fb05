// Package device drives a cycle-level accelerator model through its
// register and memory protocol.
//
// A Device owns exactly one simulator instance. It is created Unreset,
// becomes Ready after Reset and stays Ready until Close. All operations are
// synchronous: Run blocks for as long as the model needs to simulate the
// requested cycles. A Device must not be used from more than one goroutine
// at a time; use one Device per goroutine for parallel simulations.
package device

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/tinyrange/simctl/internal/native"
)

// State is the caller-visible execution state of a Device.
type State uint8

const (
	Unreset State = iota
	Ready
	Released
)

func (s State) String() string {
	switch s {
	case Unreset:
		return "unreset"
	case Ready:
		return "ready"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// noCopy makes go vet's copylocks check report copies of a Device.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

type Option func(*Device)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(log *slog.Logger) Option {
	return func(d *Device) {
		d.log = log
	}
}

// Device is exclusive ownership of one simulator instance.
type Device struct {
	_ noCopy

	backend native.Backend
	handle  native.Handle
	layout  *Layout
	log     *slog.Logger
	state   State
}

// New allocates a fresh simulator instance from backend.
func New(backend native.Backend, layout *Layout, opts ...Option) (*Device, error) {
	if backend == nil {
		return nil, opError("allocate", fmt.Errorf("%w: nil backend", ErrAllocation))
	}
	if layout == nil {
		return nil, opError("allocate", fmt.Errorf("%w: nil layout", ErrAllocation))
	}
	if err := layout.Validate(); err != nil {
		return nil, opError("allocate", fmt.Errorf("%w: %w", ErrAllocation, err))
	}

	d := &Device{
		backend: backend,
		layout:  layout,
		log:     slog.Default(),
		state:   Unreset,
	}
	for _, opt := range opts {
		opt(d)
	}

	h := backend.Alloc()
	if h == 0 {
		return nil, opError("allocate", ErrAllocation)
	}
	d.handle = h

	d.log.Debug("device: allocated", "family", layout.Family, "handle", fmt.Sprintf("%#x", uintptr(h)))

	runtime.SetFinalizer(d, func(d *Device) {
		if d.state != Released {
			d.log.Debug("device: released by finalizer, Close was never called", "family", d.layout.Family)
			d.release()
		}
	})

	return d, nil
}

// With allocates a Device, passes it to fn and releases it when fn returns
// or panics.
func With(backend native.Backend, layout *Layout, fn func(*Device) error, opts ...Option) (err error) {
	d, err := New(backend, layout, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := d.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(d)
}

func (d *Device) release() {
	d.backend.Dealloc(d.handle)
	d.handle = 0
	d.state = Released
}

// Close releases the simulator instance. Closing twice returns ErrReleased.
func (d *Device) Close() error {
	if d.state == Released {
		return opError("release", ErrReleased)
	}
	runtime.SetFinalizer(d, nil)
	d.release()
	d.log.Debug("device: released", "family", d.layout.Family)
	return nil
}

// State returns the current execution state.
func (d *Device) State() State { return d.state }

// Layout returns the register file and memory map the device was built with.
func (d *Device) Layout() *Layout { return d.layout }

// checkReady guards every operation that touches device state.
func (d *Device) checkReady() error {
	switch d.state {
	case Released:
		return ErrReleased
	case Unreset:
		return ErrNotReady
	}
	return nil
}
