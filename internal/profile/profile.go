// Package profile loads YAML descriptions of simulator artifacts: where the
// shared library lives, which symbol prefix it exports and the register
// file and memory map of the accelerator it wraps.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/tinyrange/simctl/internal/device"
	"github.com/tinyrange/simctl/internal/native"
)

// HarnessVersion is compared against the requires field of every profile.
const HarnessVersion = "v0.4.0"

const (
	FamilyRelu   = "relu"
	FamilyAdder  = "adder"
	FamilyCustom = "custom"

	defaultReluLanes = 1
	defaultReluDepth = 1024
)

// Profile describes one simulator artifact.
type Profile struct {
	Version      int    `yaml:"version"`
	Name         string `yaml:"name"`
	Description  string `yaml:"description,omitempty"`
	Requires     string `yaml:"requires,omitempty"`
	Artifact     string `yaml:"artifact"`
	SymbolPrefix string `yaml:"symbolPrefix,omitempty"`
	Family       string `yaml:"family"`

	// Lanes and Depth size the banks of the relu family when no banks are
	// listed.
	Lanes int `yaml:"lanes,omitempty"`
	Depth int `yaml:"depth,omitempty"`

	WordWidth   int    `yaml:"wordWidth,omitempty"`
	Padding     string `yaml:"padding,omitempty"`
	ResetCycles int    `yaml:"resetCycles,omitempty"`

	Registers []Register `yaml:"registers,omitempty"`
	Banks     []Bank     `yaml:"banks,omitempty"`

	// dir is the directory the profile was loaded from.
	dir string
}

type Register struct {
	Name   string `yaml:"name"`
	Role   string `yaml:"role,omitempty"`
	ID     int    `yaml:"id"`
	Width  int    `yaml:"width,omitempty"`
	Signed bool   `yaml:"signed,omitempty"`
	Access string `yaml:"access,omitempty"`
}

type Bank struct {
	Name  string `yaml:"name"`
	Role  string `yaml:"role,omitempty"`
	ID    int    `yaml:"id"`
	Depth int    `yaml:"depth"`
	Lanes int    `yaml:"lanes,omitempty"`
}

func (p *Profile) normalize() {
	if p.Version == 0 {
		p.Version = 1
	}
	if p.SymbolPrefix == "" {
		p.SymbolPrefix = native.DefaultPrefix
	}
	if p.Family == "" {
		p.Family = FamilyCustom
	}
	if p.Padding == "" {
		p.Padding = device.PadZero.String()
	}
	if p.Family == FamilyRelu {
		if p.Lanes == 0 {
			p.Lanes = defaultReluLanes
		}
		if p.Depth == 0 {
			p.Depth = defaultReluDepth
		}
	}
	for i := range p.Registers {
		if p.Registers[i].Width == 0 {
			p.Registers[i].Width = 1
		}
		if p.Registers[i].Access == "" {
			p.Registers[i].Access = device.ReadWrite.String()
		}
	}
	for i := range p.Banks {
		if p.Banks[i].Lanes == 0 {
			p.Banks[i].Lanes = 1
		}
	}
}

// Dir is the directory relative paths in the profile resolve against.
func (p *Profile) Dir() string { return p.dir }

// ArtifactPath returns the artifact location. Relative paths are taken
// relative to the profile file.
func (p *Profile) ArtifactPath() string {
	if p.Artifact == "" || filepath.IsAbs(p.Artifact) || p.dir == "" {
		return p.Artifact
	}
	return filepath.Join(p.dir, p.Artifact)
}

// CheckRequires reports an error when the profile needs a newer harness
// than version.
func (p *Profile) CheckRequires(version string) error {
	if p.Requires == "" {
		return nil
	}
	want := canonicalVersion(p.Requires)
	if !semver.IsValid(want) {
		return fmt.Errorf("requires %q is not a semantic version", p.Requires)
	}
	have := canonicalVersion(version)
	if !semver.IsValid(have) {
		return fmt.Errorf("harness version %q is not a semantic version", version)
	}
	if semver.Compare(have, want) < 0 {
		return fmt.Errorf("profile %q requires harness %s, have %s", p.Name, want, have)
	}
	return nil
}

func canonicalVersion(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// Layout builds and validates the device layout described by the profile.
// Family defaults fill in whatever the profile leaves out.
func (p *Profile) Layout() (*device.Layout, error) {
	var base *device.Layout
	switch p.Family {
	case FamilyRelu:
		base = device.ReluLayout(p.Lanes, p.Depth)
	case FamilyAdder:
		base = device.AdderLayout()
	case FamilyCustom:
		if len(p.Registers) == 0 && len(p.Banks) == 0 {
			return nil, fmt.Errorf("custom profile %q declares no registers or banks", p.Name)
		}
		base = &device.Layout{Family: p.Name}
	default:
		return nil, fmt.Errorf("unknown family %q", p.Family)
	}

	if len(p.Registers) > 0 {
		regs := make([]device.RegisterSpec, 0, len(p.Registers))
		for _, r := range p.Registers {
			access, err := device.ParseAccess(r.Access)
			if err != nil {
				return nil, fmt.Errorf("register %q: %w", r.Name, err)
			}
			regs = append(regs, device.RegisterSpec{
				Name:   r.Name,
				Role:   device.Role(r.Role),
				ID:     r.ID,
				Width:  r.Width,
				Signed: r.Signed,
				Access: access,
			})
		}
		base.Registers = regs
	}

	if len(p.Banks) > 0 {
		banks := make([]device.BankSpec, 0, len(p.Banks))
		for _, b := range p.Banks {
			banks = append(banks, device.BankSpec{
				Name:  b.Name,
				Role:  device.BankRole(b.Role),
				ID:    b.ID,
				Depth: b.Depth,
				Lanes: b.Lanes,
			})
		}
		base.Banks = banks
		if p.WordWidth == 0 && base.WordWidth == 0 {
			base.WordWidth = banks[0].Lanes * device.LaneBytes
		}
	}

	if p.WordWidth != 0 {
		base.WordWidth = p.WordWidth
	}
	if p.ResetCycles != 0 {
		base.ResetCycles = p.ResetCycles
	}
	padding, err := device.ParsePadding(p.Padding)
	if err != nil {
		return nil, err
	}
	base.Padding = padding

	if err := base.Validate(); err != nil {
		return nil, err
	}
	return base, nil
}

// Parse decodes a profile from YAML. Relative paths are left unresolved.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	p.normalize()
	return &p, nil
}

// Load reads the profile at path and checks that this harness can run it.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	p.dir = filepath.Dir(path)

	if err := p.CheckRequires(HarnessVersion); err != nil {
		return nil, err
	}
	return p, nil
}

// WriteTemplate writes p to path as YAML, creating the parent directory.
func WriteTemplate(path string, p Profile) error {
	p.normalize()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(&p); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	return nil
}
