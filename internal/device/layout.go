package device

import (
	"fmt"
)

// Role names the purpose of a register in a device family.
type Role string

const (
	RoleNone Role = ""

	// Launch/finish handshake registers.
	RoleRAddr  Role = "raddr"
	RoleWAddr  Role = "waddr"
	RoleLength Role = "length"
	RoleLaunch Role = "launch"
	RoleFinish Role = "finish"
	RoleCycles Role = "cycles"

	// Combinational datapath registers.
	RoleOperandA Role = "a"
	RoleOperandB Role = "b"
	RoleResult   Role = "y"
)

var knownRoles = map[Role]bool{
	RoleRAddr:    true,
	RoleWAddr:    true,
	RoleLength:   true,
	RoleLaunch:   true,
	RoleFinish:   true,
	RoleCycles:   true,
	RoleOperandA: true,
	RoleOperandB: true,
	RoleResult:   true,
}

// Valid reports whether r is RoleNone or one of the declared roles.
func (r Role) Valid() bool {
	return r == RoleNone || knownRoles[r]
}

// BankRole names the purpose of a memory bank.
type BankRole string

const (
	BankNone   BankRole = ""
	BankInput  BankRole = "input"
	BankOutput BankRole = "output"
)

func (r BankRole) Valid() bool {
	return r == BankNone || r == BankInput || r == BankOutput
}

// Access restricts what the role helpers may do with a register. The raw
// ReadRegister/WriteRegister calls ignore it.
type Access uint8

const (
	ReadWrite Access = iota
	ReadOnly
	WriteOnly
)

func (a Access) String() string {
	switch a {
	case ReadWrite:
		return "rw"
	case ReadOnly:
		return "ro"
	case WriteOnly:
		return "wo"
	default:
		return fmt.Sprintf("Access(%d)", uint8(a))
	}
}

func ParseAccess(s string) (Access, error) {
	switch s {
	case "", "rw":
		return ReadWrite, nil
	case "ro":
		return ReadOnly, nil
	case "wo":
		return WriteOnly, nil
	default:
		return 0, fmt.Errorf("unknown register access %q", s)
	}
}

// Padding selects what WriteMemory does with a trailing partial word.
type Padding uint8

const (
	// PadZero fills the rest of the final word with zero elements.
	PadZero Padding = iota
	// PadReject fails with ErrMisalignedLength.
	PadReject
)

func (p Padding) String() string {
	switch p {
	case PadZero:
		return "zero"
	case PadReject:
		return "reject"
	default:
		return fmt.Sprintf("Padding(%d)", uint8(p))
	}
}

func ParsePadding(s string) (Padding, error) {
	switch s {
	case "", "zero":
		return PadZero, nil
	case "reject":
		return PadReject, nil
	default:
		return 0, fmt.Errorf("unknown padding policy %q", s)
	}
}

// RegisterSpec describes one register. Width is in bytes; each byte is
// reached with its own select value, least significant first.
type RegisterSpec struct {
	Name   string
	Role   Role
	ID     int
	Width  int
	Signed bool
	Access Access
}

// MaxRegisterWidth is the widest register the typed helpers can assemble.
// Values travel as int64, so unsigned registers stop one byte short.
const MaxRegisterWidth = 8

// LaneBytes is the number of elements carried by one native memory lane.
const LaneBytes = 4

// BankSpec describes one memory bank. Depth is the number of addressable
// words; Lanes is the number of 32-bit lanes behind each address.
type BankSpec struct {
	Name  string
	Role  BankRole
	ID    int
	Depth int
	Lanes int
}

// MaxWordWidth is the largest word, in elements, the bank can hold.
func (b BankSpec) MaxWordWidth() int {
	return b.Lanes * LaneBytes
}

// Layout is the register file and memory map of one device family.
type Layout struct {
	Family    string
	Registers []RegisterSpec
	Banks     []BankSpec

	// WordWidth is the default number of elements per word used by
	// WriteBank and ReadBank.
	WordWidth int
	Padding   Padding

	// ResetCycles is the reset duration used by callers that do not choose
	// one themselves.
	ResetCycles int

	compiled    bool
	regsByID    map[int]*RegisterSpec
	regsByRole  map[Role]*RegisterSpec
	regsByName  map[string]*RegisterSpec
	banksByID   map[int]*BankSpec
	banksByRole map[BankRole]*BankSpec
}

// Validate checks the layout for duplicate ids, names and roles and
// builds its lookup tables. It is called by New; validate a layout before
// sharing it between goroutines.
func (l *Layout) Validate() error {
	if l.compiled {
		return nil
	}

	regByID := make(map[int]*RegisterSpec, len(l.Registers))
	regByRole := make(map[Role]*RegisterSpec)
	regByName := make(map[string]*RegisterSpec)
	for i := range l.Registers {
		r := &l.Registers[i]
		if r.ID < 0 {
			return fmt.Errorf("layout: register %q: negative id %d", r.Name, r.ID)
		}
		if r.Width < 1 || r.Width > MaxRegisterWidth {
			return fmt.Errorf("layout: register %q: width %d outside 1..%d", r.Name, r.Width, MaxRegisterWidth)
		}
		if !r.Signed && r.Width == MaxRegisterWidth {
			return fmt.Errorf("layout: register %q: unsigned width %d does not fit an int64, use at most %d or signed",
				r.Name, r.Width, MaxRegisterWidth-1)
		}
		if !r.Role.Valid() {
			return fmt.Errorf("layout: register %q: unknown role %q", r.Name, r.Role)
		}
		if _, dup := regByID[r.ID]; dup {
			return fmt.Errorf("layout: duplicate register id %d", r.ID)
		}
		regByID[r.ID] = r
		if r.Role != RoleNone {
			if _, dup := regByRole[r.Role]; dup {
				return fmt.Errorf("layout: duplicate register role %q", r.Role)
			}
			regByRole[r.Role] = r
		}
		if r.Name != "" {
			if _, dup := regByName[r.Name]; dup {
				return fmt.Errorf("layout: duplicate register name %q", r.Name)
			}
			regByName[r.Name] = r
		}
	}

	bankByID := make(map[int]*BankSpec, len(l.Banks))
	bankByRole := make(map[BankRole]*BankSpec)
	for i := range l.Banks {
		b := &l.Banks[i]
		if b.ID < 0 {
			return fmt.Errorf("layout: bank %q: negative id %d", b.Name, b.ID)
		}
		if b.Depth < 1 {
			return fmt.Errorf("layout: bank %q: depth must be positive", b.Name)
		}
		if b.Lanes < 1 {
			return fmt.Errorf("layout: bank %q: lanes must be positive", b.Name)
		}
		if !b.Role.Valid() {
			return fmt.Errorf("layout: bank %q: unknown role %q", b.Name, b.Role)
		}
		if _, dup := bankByID[b.ID]; dup {
			return fmt.Errorf("layout: duplicate bank id %d", b.ID)
		}
		bankByID[b.ID] = b
		if b.Role != BankNone {
			if _, dup := bankByRole[b.Role]; dup {
				return fmt.Errorf("layout: duplicate bank role %q", b.Role)
			}
			bankByRole[b.Role] = b
		}
		if l.WordWidth > b.MaxWordWidth() {
			return fmt.Errorf("layout: word width %d exceeds bank %q capacity of %d elements per word",
				l.WordWidth, b.Name, b.MaxWordWidth())
		}
	}

	if l.WordWidth < 0 {
		return fmt.Errorf("layout: negative word width %d", l.WordWidth)
	}
	if len(l.Banks) > 0 && l.WordWidth == 0 {
		return fmt.Errorf("layout: banks declared without a word width")
	}
	if l.ResetCycles < 0 {
		return fmt.Errorf("layout: negative reset cycles %d", l.ResetCycles)
	}

	l.regsByID = regByID
	l.regsByRole = regByRole
	l.regsByName = regByName
	l.banksByID = bankByID
	l.banksByRole = bankByRole
	l.compiled = true
	return nil
}

func (l *Layout) Register(id int) (RegisterSpec, bool) {
	r, ok := l.regsByID[id]
	if !ok {
		return RegisterSpec{}, false
	}
	return *r, true
}

func (l *Layout) RegisterByRole(role Role) (RegisterSpec, bool) {
	r, ok := l.regsByRole[role]
	if !ok {
		return RegisterSpec{}, false
	}
	return *r, true
}

func (l *Layout) RegisterByName(name string) (RegisterSpec, bool) {
	r, ok := l.regsByName[name]
	if !ok {
		return RegisterSpec{}, false
	}
	return *r, true
}

func (l *Layout) Bank(id int) (BankSpec, bool) {
	b, ok := l.banksByID[id]
	if !ok {
		return BankSpec{}, false
	}
	return *b, true
}

func (l *Layout) BankByRole(role BankRole) (BankSpec, bool) {
	b, ok := l.banksByRole[role]
	if !ok {
		return BankSpec{}, false
	}
	return *b, true
}

// ReluLayout is the register file of the vector ReLU accelerator. lanes is
// the number of 32-bit lanes per memory word and depth the number of words
// in each bank.
func ReluLayout(lanes, depth int) *Layout {
	return &Layout{
		Family: "relu",
		Registers: []RegisterSpec{
			{Name: "raddr", Role: RoleRAddr, ID: 0, Width: 4},
			{Name: "waddr", Role: RoleWAddr, ID: 1, Width: 4},
			{Name: "launch", Role: RoleLaunch, ID: 2, Width: 1, Access: WriteOnly},
			{Name: "finish", Role: RoleFinish, ID: 3, Width: 1, Access: ReadOnly},
			{Name: "length", Role: RoleLength, ID: 4, Width: 4},
			{Name: "cycles", Role: RoleCycles, ID: 5, Width: 4, Access: ReadOnly},
		},
		Banks: []BankSpec{
			{Name: "rmem", Role: BankInput, ID: 0, Depth: depth, Lanes: lanes},
			{Name: "wmem", Role: BankOutput, ID: 1, Depth: depth, Lanes: lanes},
		},
		WordWidth:   lanes * LaneBytes,
		ResetCycles: 3,
	}
}

// AdderLayout is the register file of the 8-bit adder.
func AdderLayout() *Layout {
	return &Layout{
		Family: "adder",
		Registers: []RegisterSpec{
			{Name: "a", Role: RoleOperandA, ID: 0, Width: 1},
			{Name: "b", Role: RoleOperandB, ID: 1, Width: 1},
			{Name: "y", Role: RoleResult, ID: 2, Width: 1, Access: ReadOnly},
		},
		ResetCycles: 10,
	}
}
