package device

import (
	"fmt"
)

func (d *Device) lookupRegister(id, sel int) (RegisterSpec, error) {
	r, ok := d.layout.Register(id)
	if !ok {
		return RegisterSpec{}, fmt.Errorf("%w: register id %d", ErrInvalidAddress, id)
	}
	if sel < 0 || sel >= r.Width {
		return RegisterSpec{}, fmt.Errorf("%w: register %q select %d (width %d)", ErrInvalidAddress, r.Name, sel, r.Width)
	}
	return r, nil
}

// ReadRegister returns the byte at select sel of register id. It does not
// advance the clock.
func (d *Device) ReadRegister(id, sel int) (uint8, error) {
	if err := d.checkReady(); err != nil {
		return 0, opError("read register", err)
	}
	if _, err := d.lookupRegister(id, sel); err != nil {
		return 0, opError("read register", err)
	}
	return uint8(d.backend.ReadReg(d.handle, int32(id), int32(sel))), nil
}

// WriteRegister sets the byte at select sel of register id. The write is
// visible to subsequent reads and takes effect in the datapath on the next
// Run.
func (d *Device) WriteRegister(id, sel int, value uint8) error {
	if err := d.checkReady(); err != nil {
		return opError("write register", err)
	}
	if _, err := d.lookupRegister(id, sel); err != nil {
		return opError("write register", err)
	}
	d.backend.WriteReg(d.handle, int32(id), int32(sel), int32(value))
	return nil
}

func (d *Device) lookupRole(role Role) (RegisterSpec, error) {
	r, ok := d.layout.RegisterByRole(role)
	if !ok {
		return RegisterSpec{}, fmt.Errorf("%w: %s device has no %q register", ErrInvalidAddress, d.layout.Family, role)
	}
	return r, nil
}

// Get reads every byte of the register with the given role and assembles
// them least significant first, sign-extending signed registers.
func (d *Device) Get(role Role) (int64, error) {
	if err := d.checkReady(); err != nil {
		return 0, opError("get "+string(role), err)
	}
	r, err := d.lookupRole(role)
	if err != nil {
		return 0, opError("get "+string(role), err)
	}
	return d.get(r)
}

// GetNamed is Get addressed by register name.
func (d *Device) GetNamed(name string) (int64, error) {
	if err := d.checkReady(); err != nil {
		return 0, opError("get "+name, err)
	}
	r, ok := d.layout.RegisterByName(name)
	if !ok {
		return 0, opError("get "+name, fmt.Errorf("%w: no register named %q", ErrInvalidAddress, name))
	}
	return d.get(r)
}

func (d *Device) get(r RegisterSpec) (int64, error) {
	if r.Access == WriteOnly {
		return 0, opError("get "+r.Name, fmt.Errorf("%w: register %q is write-only", ErrInvalidAddress, r.Name))
	}
	var raw uint64
	for sel := 0; sel < r.Width; sel++ {
		b := uint8(d.backend.ReadReg(d.handle, int32(r.ID), int32(sel)))
		raw |= uint64(b) << (8 * sel)
	}
	return decodeValue(raw, r.Width, r.Signed), nil
}

// Set splits v into the bytes of the register with the given role and
// writes them least significant first. Values that do not fit the
// register's width and signedness are rejected, not truncated.
func (d *Device) Set(role Role, v int64) error {
	if err := d.checkReady(); err != nil {
		return opError("set "+string(role), err)
	}
	r, err := d.lookupRole(role)
	if err != nil {
		return opError("set "+string(role), err)
	}
	return d.set(r, v)
}

// SetNamed is Set addressed by register name.
func (d *Device) SetNamed(name string, v int64) error {
	if err := d.checkReady(); err != nil {
		return opError("set "+name, err)
	}
	r, ok := d.layout.RegisterByName(name)
	if !ok {
		return opError("set "+name, fmt.Errorf("%w: no register named %q", ErrInvalidAddress, name))
	}
	return d.set(r, v)
}

func (d *Device) set(r RegisterSpec, v int64) error {
	if r.Access == ReadOnly {
		return opError("set "+r.Name, fmt.Errorf("%w: register %q is read-only", ErrInvalidAddress, r.Name))
	}
	if !fits(v, r.Width, r.Signed) {
		return opError("set "+r.Name, fmt.Errorf("%w: %d in %d-byte register %q", ErrValueRange, v, r.Width, r.Name))
	}
	raw := uint64(v)
	for sel := 0; sel < r.Width; sel++ {
		d.backend.WriteReg(d.handle, int32(r.ID), int32(sel), int32(uint8(raw>>(8*sel))))
	}
	return nil
}

// fits reports whether v is representable in width bytes.
func fits(v int64, width int, signed bool) bool {
	bits := uint(8 * width)
	if signed {
		if bits >= 64 {
			return true
		}
		lo := -(int64(1) << (bits - 1))
		hi := int64(1)<<(bits-1) - 1
		return v >= lo && v <= hi
	}
	if v < 0 {
		return false
	}
	if bits >= 63 {
		return true
	}
	return v < int64(1)<<bits
}

// decodeValue interprets the low width bytes of raw. Layout validation
// keeps unsigned widths below 8, where the top bit would turn negative.
func decodeValue(raw uint64, width int, signed bool) int64 {
	bits := uint(8 * width)
	if bits >= 64 {
		return int64(raw)
	}
	raw &= uint64(1)<<bits - 1
	if signed && raw&(uint64(1)<<(bits-1)) != 0 {
		return int64(raw) - int64(1)<<bits
	}
	return int64(raw)
}
