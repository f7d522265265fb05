package device

import (
	"fmt"
)

// Memory words are packed the way the model's C glue expects: element k of
// a word lives in lane k/LaneBytes at byte k%LaneBytes, little-endian, and
// each lane is one native transfer addressed by (bank, word, lane).

type memAccess struct {
	bank  BankSpec
	start int
	width int
	words int
}

func (d *Device) checkMemory(bankID, start, wordWidth, count int) (memAccess, error) {
	bank, ok := d.layout.Bank(bankID)
	if !ok {
		return memAccess{}, fmt.Errorf("%w: bank id %d", ErrInvalidAddress, bankID)
	}
	if start < 0 {
		return memAccess{}, fmt.Errorf("%w: bank %q start address %d", ErrInvalidAddress, bank.Name, start)
	}
	if wordWidth < 1 || wordWidth > bank.MaxWordWidth() {
		return memAccess{}, fmt.Errorf("%w: bank %q word width %d outside 1..%d",
			ErrInvalidAddress, bank.Name, wordWidth, bank.MaxWordWidth())
	}
	if count < 0 {
		return memAccess{}, fmt.Errorf("%w: negative element count %d", ErrOutOfBounds, count)
	}
	// Neither start nor count is trusted, so nothing here may overflow.
	if start > bank.Depth {
		return memAccess{}, fmt.Errorf("%w: bank %q start address %d with depth %d",
			ErrOutOfBounds, bank.Name, start, bank.Depth)
	}
	words := count / wordWidth
	if count%wordWidth != 0 {
		words++
	}
	if words > bank.Depth-start {
		return memAccess{}, fmt.Errorf("%w: bank %q %d words from %d with depth %d",
			ErrOutOfBounds, bank.Name, words, start, bank.Depth)
	}
	return memAccess{bank: bank, start: start, width: wordWidth, words: words}, nil
}

// lanes is the number of native transfers per word.
func (m memAccess) lanes() int {
	return (m.width + LaneBytes - 1) / LaneBytes
}

// WriteMemory packs elems into words of wordWidth elements and stores them
// in bank starting at word address start. A trailing partial word is
// handled according to the layout's Padding policy.
func (d *Device) WriteMemory(bank, start, wordWidth int, elems []int8) error {
	if err := d.checkReady(); err != nil {
		return opError("write memory", err)
	}
	m, err := d.checkMemory(bank, start, wordWidth, len(elems))
	if err != nil {
		return opError("write memory", err)
	}
	if len(elems)%wordWidth != 0 && d.layout.Padding == PadReject {
		return opError("write memory", fmt.Errorf("%w: %d elements with word width %d",
			ErrMisalignedLength, len(elems), wordWidth))
	}

	lanes := m.lanes()
	for w := 0; w < m.words; w++ {
		word := elems[w*wordWidth : min((w+1)*wordWidth, len(elems))]
		for lane := 0; lane < lanes; lane++ {
			var v uint32
			for b := 0; b < LaneBytes; b++ {
				k := lane*LaneBytes + b
				if k >= wordWidth || k >= len(word) {
					break
				}
				v |= uint32(uint8(word[k])) << (8 * b)
			}
			d.backend.WriteMem(d.handle, int32(m.bank.ID), int32(m.start+w), int32(lane), int32(v))
		}
	}
	return nil
}

// ReadMemory reads count elements from bank starting at word address start,
// unpacking words of wordWidth elements. Elements past count in the final
// word are discarded.
func (d *Device) ReadMemory(bank, start, wordWidth, count int) ([]int8, error) {
	if err := d.checkReady(); err != nil {
		return nil, opError("read memory", err)
	}
	m, err := d.checkMemory(bank, start, wordWidth, count)
	if err != nil {
		return nil, opError("read memory", err)
	}

	out := make([]int8, 0, count)
	lanes := m.lanes()
	for w := 0; w < m.words; w++ {
		for lane := 0; lane < lanes; lane++ {
			v := uint32(d.backend.ReadMem(d.handle, int32(m.bank.ID), int32(m.start+w), int32(lane)))
			for b := 0; b < LaneBytes; b++ {
				k := lane*LaneBytes + b
				if k >= wordWidth || len(out) == count {
					break
				}
				out = append(out, int8(uint8(v>>(8*b))))
			}
		}
	}
	return out, nil
}

func (d *Device) bankByRole(op string, role BankRole) (BankSpec, error) {
	b, ok := d.layout.BankByRole(role)
	if !ok {
		return BankSpec{}, opError(op, fmt.Errorf("%w: %s device has no %q bank", ErrInvalidAddress, d.layout.Family, role))
	}
	return b, nil
}

// WriteBank is WriteMemory on the bank with the given role using the
// layout's word width.
func (d *Device) WriteBank(role BankRole, start int, elems []int8) error {
	if err := d.checkReady(); err != nil {
		return opError("write memory", err)
	}
	b, err := d.bankByRole("write memory", role)
	if err != nil {
		return err
	}
	return d.WriteMemory(b.ID, start, d.layout.WordWidth, elems)
}

// ReadBank is ReadMemory on the bank with the given role using the layout's
// word width.
func (d *Device) ReadBank(role BankRole, start, count int) ([]int8, error) {
	if err := d.checkReady(); err != nil {
		return nil, opError("read memory", err)
	}
	b, err := d.bankByRole("read memory", role)
	if err != nil {
		return nil, err
	}
	return d.ReadMemory(b.ID, start, d.layout.WordWidth, count)
}
