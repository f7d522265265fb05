package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyrange/simctl/internal/device"
	"github.com/tinyrange/simctl/internal/timeslice"
)

var (
	kindReset    = timeslice.RegisterKind("scenario::reset", timeslice.FlagSetup|timeslice.FlagSimulated)
	kindRun      = timeslice.RegisterKind("scenario::run", timeslice.FlagSimulated)
	kindPoll     = timeslice.RegisterKind("scenario::poll", timeslice.FlagSimulated)
	kindRegister = timeslice.RegisterKind("scenario::register", 0)
	kindMemory   = timeslice.RegisterKind("scenario::memory", 0)
)

// Runner executes scenarios against a device.
type Runner struct {
	Log *slog.Logger
}

func NewRunner() *Runner {
	return &Runner{Log: slog.Default()}
}

// Result contains the outcome of one scenario.
type Result struct {
	Name     string
	Steps    []StepResult
	Passed   int
	Failed   int
	Cycles   int64
	Duration time.Duration
}

// OK reports whether every step passed.
func (r *Result) OK() bool { return r.Failed == 0 }

// StepResult contains the outcome of a single step.
type StepResult struct {
	Name     string
	Op       Op
	Passed   bool
	Error    string
	Cycles   int64
	Duration time.Duration
}

// Run executes every step of spec in order. Failed expectations are
// reported in the result and execution continues; a device error stops the
// scenario and is returned alongside the partial result.
func (r *Runner) Run(ctx context.Context, dev *device.Device, spec *Spec) (*Result, error) {
	log := r.Log
	if log == nil {
		log = slog.Default()
	}

	start := time.Now()
	res := &Result{Name: spec.Name}
	rec := timeslice.NewRecorder()

	for i := range spec.Steps {
		step := &spec.Steps[i]
		if err := ctx.Err(); err != nil {
			res.Duration = time.Since(start)
			return res, err
		}

		stepStart := time.Now()
		sr := StepResult{Name: step.Label(i), Op: step.Op}

		kind, cycles, failures, err := r.exec(ctx, dev, step)
		sr.Cycles = cycles
		sr.Duration = time.Since(stepStart)
		res.Cycles += cycles
		if kind != timeslice.InvalidKind {
			rec.Record(kind, cycles)
		}

		switch {
		case err != nil:
			sr.Error = err.Error()
		case len(failures) > 0:
			sr.Error = joinErrors(failures)
		default:
			sr.Passed = true
		}
		if sr.Passed {
			res.Passed++
		} else {
			res.Failed++
			log.Debug("scenario: step failed", "scenario", spec.Name, "step", sr.Name, "error", sr.Error)
		}
		res.Steps = append(res.Steps, sr)

		if err != nil {
			res.Duration = time.Since(start)
			return res, fmt.Errorf("step %s: %w", sr.Name, err)
		}
	}

	res.Duration = time.Since(start)
	return res, nil
}

func (r *Runner) exec(ctx context.Context, dev *device.Device, s *Step) (timeslice.KindID, int64, []error, error) {
	switch s.Op {
	case OpReset:
		cycles := s.Cycles
		if cycles == 0 {
			cycles = max(dev.Layout().ResetCycles, 1)
		}
		if err := dev.Reset(cycles); err != nil {
			return kindReset, 0, nil, err
		}
		return kindReset, int64(cycles), nil, nil

	case OpRun:
		if err := dev.Run(s.Cycles); err != nil {
			return kindRun, 0, nil, err
		}
		return kindRun, int64(s.Cycles), nil, nil

	case OpWriteReg:
		if s.Value < 0 || s.Value > 0xff {
			return kindRegister, 0, nil, fmt.Errorf("%w: byte value %d", device.ErrValueRange, s.Value)
		}
		return kindRegister, 0, nil, dev.WriteRegister(s.ID, s.Sel, uint8(s.Value))

	case OpReadReg:
		v, err := dev.ReadRegister(s.ID, s.Sel)
		if err != nil {
			return kindRegister, 0, nil, err
		}
		return kindRegister, 0, assertValue(fmt.Sprintf("reg[%d.%d]", s.ID, s.Sel), s.Expect, int64(v)), nil

	case OpSet:
		if s.Register != "" {
			return kindRegister, 0, nil, dev.SetNamed(s.Register, s.Value)
		}
		return kindRegister, 0, nil, dev.Set(device.Role(s.Role), s.Value)

	case OpGet:
		var (
			v     int64
			err   error
			field string
		)
		if s.Register != "" {
			v, err = dev.GetNamed(s.Register)
			field = s.Register
		} else {
			v, err = dev.Get(device.Role(s.Role))
			field = s.Role
		}
		if err != nil {
			return kindRegister, 0, nil, err
		}
		return kindRegister, 0, assertValue(field, s.Expect, v), nil

	case OpWriteMem:
		return kindMemory, 0, nil, dev.WriteBank(device.BankRole(s.Bank), s.Start, s.Data)

	case OpReadMem:
		data, err := dev.ReadBank(device.BankRole(s.Bank), s.Start, s.Count)
		if err != nil {
			return kindMemory, 0, nil, err
		}
		return kindMemory, 0, assertData(s.Bank, s.Expect, data), nil

	case OpLaunch:
		return kindRegister, 0, nil, dev.Launch()

	case OpFinished:
		done, err := dev.Finished()
		if err != nil {
			return kindRegister, 0, nil, err
		}
		return kindRegister, 0, assertFinished(s.Expect, done), nil

	case OpPoll:
		if s.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.Timeout.Duration())
			defer cancel()
		}
		pr, err := dev.Poll(ctx, s.Step, s.Budget)
		if err != nil {
			return kindPoll, int64(pr.Cycles), nil, err
		}
		return kindPoll, int64(pr.Cycles), assertFinished(s.Expect, pr.Finished), nil

	default:
		return timeslice.InvalidKind, 0, nil, fmt.Errorf("unknown op %q", s.Op)
	}
}
