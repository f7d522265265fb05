// Package scenario runs YAML-described register and memory sequences
// against a device and checks the values read back.
package scenario

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Op names a scenario step.
type Op string

const (
	OpReset    Op = "reset"
	OpRun      Op = "run"
	OpWriteReg Op = "write_reg"
	OpReadReg  Op = "read_reg"
	OpSet      Op = "set"
	OpGet      Op = "get"
	OpWriteMem Op = "write_mem"
	OpReadMem  Op = "read_mem"
	OpLaunch   Op = "launch"
	OpFinished Op = "finished"
	OpPoll     Op = "poll"
)

// Spec is one scenario.
type Spec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Steps       []Step `yaml:"steps"`
}

// Step is a single operation. Which fields apply depends on Op.
type Step struct {
	Name string `yaml:"name,omitempty"`
	Op   Op     `yaml:"op"`

	// reset, run
	Cycles int `yaml:"cycles,omitempty"`

	// write_reg, read_reg
	ID  int `yaml:"id,omitempty"`
	Sel int `yaml:"sel,omitempty"`

	// set, get: exactly one of Role and Register
	Role     string `yaml:"role,omitempty"`
	Register string `yaml:"register,omitempty"`

	// write_reg, set
	Value int64 `yaml:"value,omitempty"`

	// write_mem, read_mem
	Bank  string `yaml:"bank,omitempty"`
	Start int    `yaml:"start,omitempty"`
	Data  []int8 `yaml:"data,omitempty,flow"`
	Count int    `yaml:"count,omitempty"`

	// poll
	Step    int      `yaml:"step,omitempty"`
	Budget  int      `yaml:"budget,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect holds the values a reading step must observe.
type Expect struct {
	Value    *int64 `yaml:"value,omitempty"`
	Data     []int8 `yaml:"data,omitempty,flow"`
	Finished *bool  `yaml:"finished,omitempty"`
}

// Label names the step in reports.
func (s *Step) Label(i int) string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("#%d %s", i+1, s.Op)
}

func (s *Step) validate() error {
	switch s.Op {
	case OpReset:
		if s.Cycles < 0 {
			return fmt.Errorf("negative cycles")
		}
	case OpRun:
		if s.Cycles < 1 {
			return fmt.Errorf("run needs cycles >= 1")
		}
	case OpWriteReg, OpReadReg, OpLaunch:
	case OpSet, OpGet:
		if (s.Role == "") == (s.Register == "") {
			return fmt.Errorf("%s needs exactly one of role and register", s.Op)
		}
	case OpWriteMem:
		if s.Bank == "" {
			return fmt.Errorf("write_mem needs a bank")
		}
	case OpReadMem:
		if s.Bank == "" {
			return fmt.Errorf("read_mem needs a bank")
		}
		if s.Count == 0 && s.Expect != nil {
			s.Count = len(s.Expect.Data)
		}
	case OpFinished:
	case OpPoll:
		if s.Step == 0 {
			s.Step = 1
		}
		if s.Budget < 1 {
			return fmt.Errorf("poll needs budget >= 1")
		}
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
	return nil
}

// Validate checks every step and fills in defaults.
func (s *Spec) Validate() error {
	for i := range s.Steps {
		if err := s.Steps[i].validate(); err != nil {
			return fmt.Errorf("step %s: %w", s.Steps[i].Label(i), err)
		}
	}
	return nil
}

// Duration wraps time.Duration for YAML unmarshaling.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Parse decodes and validates a scenario.
func Parse(data []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Load reads a scenario from a YAML file.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}
	return Parse(data)
}
