// Package simctl drives cycle-accurate accelerator models from Go. A
// Target pairs a model backend, either a compiled simulator library or an
// in-process reference model, with the register file and memory map of the
// accelerator it implements. Devices created from a Target expose the
// reset/run clock, byte-wide register access, word-packed memory banks and
// the launch/finish handshake.
package simctl

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/tinyrange/simctl/internal/device"
	"github.com/tinyrange/simctl/internal/native"
	"github.com/tinyrange/simctl/internal/profile"
	"github.com/tinyrange/simctl/internal/simdev"
	"github.com/tinyrange/simctl/internal/trace"
)

// -----------------------------------------------------------------------------
// Type Aliases - These re-export types from internal/device
// -----------------------------------------------------------------------------

// Device is one simulator instance.
type Device = device.Device

// Layout is the register file and memory map of a device family.
type Layout = device.Layout

type RegisterSpec = device.RegisterSpec

type BankSpec = device.BankSpec

// Role names the purpose of a register within the handshake.
type Role = device.Role

// BankRole names the purpose of a memory bank.
type BankRole = device.BankRole

type State = device.State

type PollResult = device.PollResult

type Option = device.Option

// Backend is the set of entry points a model exports.
type Backend = native.Backend

// Error is returned by every Device operation.
type Error = device.Error

const (
	Unreset  = device.Unreset
	Ready    = device.Ready
	Released = device.Released
)

const (
	RoleRAddr    = device.RoleRAddr
	RoleWAddr    = device.RoleWAddr
	RoleLength   = device.RoleLength
	RoleLaunch   = device.RoleLaunch
	RoleFinish   = device.RoleFinish
	RoleCycles   = device.RoleCycles
	RoleOperandA = device.RoleOperandA
	RoleOperandB = device.RoleOperandB
	RoleResult   = device.RoleResult

	BankInput  = device.BankInput
	BankOutput = device.BankOutput
)

// Sentinel errors. Use errors.Is to test for them.
var (
	ErrAllocation       = device.ErrAllocation
	ErrInvalidAddress   = device.ErrInvalidAddress
	ErrOutOfBounds      = device.ErrOutOfBounds
	ErrMisalignedLength = device.ErrMisalignedLength
	ErrNotReady         = device.ErrNotReady
	ErrReleased         = device.ErrReleased
	ErrInvalidCycles    = device.ErrInvalidCycles
	ErrValueRange       = device.ErrValueRange
	ErrProtocol         = device.ErrProtocol

	// ErrUnsupported is returned when compiled models cannot be loaded on
	// this platform.
	ErrUnsupported = native.ErrUnsupported
)

// WithLogger sets the logger used for device lifecycle events.
func WithLogger(l *slog.Logger) Option { return device.WithLogger(l) }

// -----------------------------------------------------------------------------
// Targets
// -----------------------------------------------------------------------------

// Target is a backend plus the layout of the accelerator behind it.
type Target struct {
	Name    string
	Backend Backend
	Layout  *Layout

	// Artifact is the path of the loaded library, empty for built-in
	// models.
	Artifact string
}

// LoadTarget reads a device profile and loads the simulator library it
// names.
func LoadTarget(profilePath string) (*Target, error) {
	p, err := profile.Load(profilePath)
	if err != nil {
		return nil, err
	}
	layout, err := p.Layout()
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", p.Name, err)
	}
	if p.Artifact == "" {
		return nil, fmt.Errorf("profile %s: no artifact", p.Name)
	}

	lib, err := native.Open(p.ArtifactPath(), p.SymbolPrefix)
	if err != nil {
		return nil, err
	}
	return &Target{
		Name:     p.Name,
		Backend:  lib,
		Layout:   layout,
		Artifact: lib.Path(),
	}, nil
}

// Open loads the profile at profilePath and allocates one device from it.
func Open(profilePath string, opts ...Option) (*Device, error) {
	t, err := LoadTarget(profilePath)
	if err != nil {
		return nil, err
	}
	return t.New(opts...)
}

// BuiltinTarget returns an in-process reference model. lanes and depth size
// the relu banks and are ignored by the adder.
func BuiltinTarget(family string, lanes, depth int) (*Target, error) {
	b, err := simdev.Open(family, lanes, depth)
	if err != nil {
		return nil, err
	}

	var layout *Layout
	switch family {
	case profile.FamilyRelu:
		layout = device.ReluLayout(lanes, depth)
	case profile.FamilyAdder:
		layout = device.AdderLayout()
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return &Target{Name: family, Backend: b, Layout: layout}, nil
}

// Traced returns a copy of t whose backend records every call to w.
func (t *Target) Traced(w io.Writer) (*Target, *trace.Backend) {
	tb := trace.Wrap(t.Backend, w)
	cp := *t
	cp.Backend = tb
	return &cp, tb
}

// New allocates a device instance. The caller must Close it.
func (t *Target) New(opts ...Option) (*Device, error) {
	return device.New(t.Backend, t.Layout, opts...)
}

// With allocates a device, calls fn and releases the device on every path.
func (t *Target) With(fn func(*Device) error, opts ...Option) error {
	return device.With(t.Backend, t.Layout, fn, opts...)
}
