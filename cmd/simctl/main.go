package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/tinyrange/simctl"
	"github.com/tinyrange/simctl/internal/profile"
	"github.com/tinyrange/simctl/internal/scenario"
	"github.com/tinyrange/simctl/internal/timeslice"
	"github.com/tinyrange/simctl/internal/trace"
)

var (
	tsAlloc    = timeslice.RegisterKind("bench::alloc", timeslice.FlagSetup)
	tsReset    = timeslice.RegisterKind("bench::reset", timeslice.FlagSetup|timeslice.FlagSimulated)
	tsWriteMem = timeslice.RegisterKind("bench::write_mem", 0)
	tsRun      = timeslice.RegisterKind("bench::run", timeslice.FlagSimulated)
	tsReadMem  = timeslice.RegisterKind("bench::read_mem", 0)
	tsRelease  = timeslice.RegisterKind("bench::release", timeslice.FlagSetup)
	tsOverall  = timeslice.RegisterKind("bench::overall", 0)
)

const usage = `usage: simctl <command> [flags]

commands:
  info      print the register file and memory map of a target
  run       run a scenario file against a target
  bench     repeat relu jobs and report throughput
  peek      reset, then read one register byte
  poke      reset, write one register byte and read it back
  trace     print a protocol trace recorded with -trace
  template  write a device profile template
`

// targetFlags are shared by every command that talks to a device.
type targetFlags struct {
	profile   *string
	builtin   *string
	lanes     *int
	depth     *int
	traceFile *string
	verbose   *bool
}

func addTargetFlags(fs *flag.FlagSet) *targetFlags {
	return &targetFlags{
		profile:   fs.String("profile", "", "device profile describing a simulator library"),
		builtin:   fs.String("builtin", "", "use an in-process reference model (relu or adder)"),
		lanes:     fs.Int("lanes", 1, "32-bit lanes per word for -builtin relu"),
		depth:     fs.Int("depth", 1024, "words per bank for -builtin relu"),
		traceFile: fs.String("trace", "", "record every native call to this file"),
		verbose:   fs.Bool("v", false, "enable debug logging"),
	}
}

// open resolves the target. The returned cleanup closes the trace file and
// reports any trace write error; calls after the first do nothing.
func (tf *targetFlags) open() (*simctl.Target, func() error, error) {
	level := slog.LevelInfo
	if *tf.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var (
		target *simctl.Target
		err    error
	)
	switch {
	case *tf.profile != "" && *tf.builtin != "":
		return nil, nil, fmt.Errorf("-profile and -builtin are mutually exclusive")
	case *tf.profile != "":
		target, err = simctl.LoadTarget(*tf.profile)
	case *tf.builtin != "":
		target, err = simctl.BuiltinTarget(*tf.builtin, *tf.lanes, *tf.depth)
	default:
		return nil, nil, fmt.Errorf("one of -profile or -builtin is required")
	}
	if err != nil {
		return nil, nil, err
	}
	slog.Debug("simctl: target ready", "name", target.Name, "artifact", target.Artifact)

	if *tf.traceFile == "" {
		return target, func() error { return nil }, nil
	}

	f, err := os.Create(*tf.traceFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace file: %w", err)
	}
	traced, tb := target.Traced(f)
	closed := false
	cleanup := func() error {
		if closed {
			return nil
		}
		closed = true
		if err := tb.Err(); err != nil {
			f.Close()
			return fmt.Errorf("trace: %w", err)
		}
		slog.Debug("simctl: trace written", "records", tb.Count(), "file", *tf.traceFile)
		return f.Close()
	}
	return traced, cleanup, nil
}

func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	tf := addTargetFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	target, cleanup, err := tf.open()
	if err != nil {
		return err
	}
	defer cleanup()

	l := target.Layout
	fmt.Printf("target %s (family %s)\n", target.Name, l.Family)
	if target.Artifact != "" {
		fmt.Printf("artifact %s\n", target.Artifact)
	}
	fmt.Printf("word width %d, padding %s, reset %d cycles\n", l.WordWidth, l.Padding, l.ResetCycles)
	for _, r := range l.Registers {
		sign := "unsigned"
		if r.Signed {
			sign = "signed"
		}
		fmt.Printf("  reg  %-3d %-10s role=%-7s width=%d %s %s\n", r.ID, r.Name, r.Role, r.Width, sign, r.Access)
	}
	for _, b := range l.Banks {
		fmt.Printf("  bank %-3d %-10s role=%-7s depth=%d lanes=%d\n", b.ID, b.Name, b.Role, b.Depth, b.Lanes)
	}
	return nil
}

func runScenario(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	tf := addTargetFlags(fs)
	file := fs.String("scenario", "", "scenario file to run")
	generate := fs.String("generate", "", "run a generated scenario instead (adder or relu)")
	n := fs.Int("n", 16, "operand pairs or elements for -generate")
	seed := fs.Uint64("seed", 1, "random seed for -generate")
	tsFile := fs.String("tsfile", "", "record a timeslice file for later analysis")
	if err := fs.Parse(args); err != nil {
		return err
	}

	target, cleanup, err := tf.open()
	if err != nil {
		return err
	}
	defer cleanup()

	var spec *scenario.Spec
	switch {
	case *file != "":
		spec, err = scenario.Load(*file)
		if err != nil {
			return err
		}
	case *generate == profile.FamilyAdder:
		spec = scenario.Adder(rand.New(rand.NewPCG(*seed, 0)), *n)
	case *generate == profile.FamilyRelu:
		spec = scenario.Relu(rand.New(rand.NewPCG(*seed, 0)), *n, target.Layout.WordWidth)
	default:
		return fmt.Errorf("one of -scenario or -generate adder|relu is required")
	}

	if *tsFile != "" {
		closeTS, err := startTimeslice(*tsFile)
		if err != nil {
			return err
		}
		defer closeTS()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var res *scenario.Result
	runErr := target.With(func(d *simctl.Device) error {
		var err error
		res, err = scenario.NewRunner().Run(ctx, d, spec)
		return err
	})

	if res != nil {
		for _, s := range res.Steps {
			status := "ok"
			if !s.Passed {
				status = "FAIL " + s.Error
			}
			fmt.Printf("%-32s %-10s cycles=%-8d %s\n", s.Name, s.Op, s.Cycles, status)
		}
		fmt.Printf("%s: %d passed, %d failed, %d cycles in %s\n", res.Name, res.Passed, res.Failed, res.Cycles, res.Duration)
	}
	if runErr != nil {
		return runErr
	}
	if !res.OK() {
		return fmt.Errorf("%d steps failed", res.Failed)
	}
	return cleanup()
}

func startTimeslice(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create tsfile: %w", err)
	}
	closer, err := timeslice.Open(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to start recording timeslices: %w", err)
	}
	return func() {
		if err := closer.Close(); err != nil {
			slog.Warn("simctl: timeslice", "error", err)
		}
		f.Close()
	}, nil
}

// benchOnce allocates a fresh device, runs one relu job over elems, checks
// the output and returns the device's cycle counter.
func benchOnce(target *simctl.Target, elems, want []int8, cycles int) (int64, error) {
	rec := timeslice.NewRecorder()
	start := time.Now()

	var counted int64
	err := target.With(func(d *simctl.Device) error {
		rec.Record(tsAlloc, 0)

		if err := d.ResetDefault(); err != nil {
			return err
		}
		rec.Record(tsReset, int64(max(target.Layout.ResetCycles, 1)))

		words := (len(elems) + target.Layout.WordWidth - 1) / target.Layout.WordWidth
		if err := d.SetLength(int64(words)); err != nil {
			return err
		}
		if err := d.WriteBank(simctl.BankInput, 0, elems); err != nil {
			return err
		}
		rec.Record(tsWriteMem, 0)

		if err := d.Launch(); err != nil {
			return err
		}
		done, err := d.RunAndCheck(cycles)
		if err != nil {
			return err
		}
		if !done {
			return fmt.Errorf("relu did not finish within %d cycles", cycles)
		}
		if counted, err = d.CycleCounter(); err != nil {
			return err
		}
		rec.Record(tsRun, counted)

		got, err := d.ReadBank(simctl.BankOutput, 0, len(elems))
		if err != nil {
			return err
		}
		rec.Record(tsReadMem, 0)
		for i := range want {
			if got[i] != want[i] {
				return fmt.Errorf("output[%d] = %d, want %d", i, got[i], want[i])
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	rec.Record(tsRelease, 0)
	timeslice.Record(tsOverall, time.Since(start), counted)
	return counted, nil
}

func runBench(args []string) error {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	tf := addTargetFlags(fs)
	n := fs.Int("n", 1024, "elements per relu job")
	repeat := fs.Int("repeat", 100, "number of jobs, each on a freshly allocated device")
	cycles := fs.Int("cycles", scenario.ReluCycleBudget, "cycles run per job before checking finish")
	seed := fs.Uint64("seed", 1, "random seed for the input elements")
	tsFile := fs.String("tsfile", "", "record a timeslice file for later analysis")
	perJob := fs.Bool("per-job", false, "print the device cycle counter after every job")
	if err := fs.Parse(args); err != nil {
		return err
	}

	target, cleanup, err := tf.open()
	if err != nil {
		return err
	}
	defer cleanup()

	if target.Layout.Family != profile.FamilyRelu {
		return fmt.Errorf("bench needs a relu target, have %q", target.Layout.Family)
	}

	if *tsFile != "" {
		closeTS, err := startTimeslice(*tsFile)
		if err != nil {
			return err
		}
		defer closeTS()
	}

	rng := rand.New(rand.NewPCG(*seed, 0))
	elems := make([]int8, *n)
	want := make([]int8, *n)
	for i := range elems {
		elems[i] = int8(rng.IntN(256) - 128)
		want[i] = max(elems[i], 0)
	}

	var pb *progressbar.ProgressBar
	if term.IsTerminal(int(os.Stderr.Fd())) {
		pb = progressbar.Default(int64(*repeat))
		defer pb.Close()
	}

	var total int64
	start := time.Now()
	for i := range *repeat {
		counted, err := benchOnce(target, elems, want, *cycles)
		if err != nil {
			return fmt.Errorf("job %d: %w", i, err)
		}
		total += counted
		if *perJob {
			fmt.Printf("job %d cycles:%d\n", i, counted)
		}
		if pb != nil {
			pb.Add(1)
		}
	}
	elapsed := time.Since(start)

	fmt.Printf("%d jobs of %d elements in %s (%s/job, %d device cycles, %.3g cycles/s)\n",
		*repeat, *n, elapsed, elapsed/time.Duration(max(*repeat, 1)), total, float64(total)/elapsed.Seconds())
	return cleanup()
}

func parseRegisterArgs(fs *flag.FlagSet, want int) ([]int, error) {
	if fs.NArg() != want {
		return nil, fmt.Errorf("expected %d arguments, got %d", want, fs.NArg())
	}
	vals := make([]int, want)
	for i := range vals {
		v, err := strconv.ParseInt(fs.Arg(i), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		vals[i] = int(v)
	}
	return vals, nil
}

func runPeekPoke(name string, args []string) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	tf := addTargetFlags(fs)
	resetCycles := fs.Int("reset", 0, "reset cycles (default from the layout)")
	fs.Usage = func() {
		if name == "peek" {
			fmt.Fprintf(fs.Output(), "usage: simctl peek [flags] <id> <sel>\n")
		} else {
			fmt.Fprintf(fs.Output(), "usage: simctl poke [flags] <id> <sel> <value>\n")
		}
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	want := 2
	if name == "poke" {
		want = 3
	}
	vals, err := parseRegisterArgs(fs, want)
	if err != nil {
		fs.Usage()
		return err
	}

	target, cleanup, err := tf.open()
	if err != nil {
		return err
	}
	defer cleanup()

	err = target.With(func(d *simctl.Device) error {
		if *resetCycles > 0 {
			if err := d.Reset(*resetCycles); err != nil {
				return err
			}
		} else if err := d.ResetDefault(); err != nil {
			return err
		}

		if name == "poke" {
			if vals[2] < 0 || vals[2] > 0xff {
				return fmt.Errorf("%w: byte value %d", simctl.ErrValueRange, vals[2])
			}
			if err := d.WriteRegister(vals[0], vals[1], uint8(vals[2])); err != nil {
				return err
			}
		}
		v, err := d.ReadRegister(vals[0], vals[1])
		if err != nil {
			return err
		}
		fmt.Printf("reg %d sel %d = %d (%#02x)\n", vals[0], vals[1], v, v)
		return nil
	})
	if err != nil {
		return err
	}
	return cleanup()
}

func runTrace(args []string) error {
	fs := flag.NewFlagSet("trace", flag.ExitOnError)
	file := fs.String("file", "", "trace file to print")
	sums := fs.Bool("sums", false, "print call counts per operation instead of every record")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		fs.Usage()
		return fmt.Errorf("-file is required")
	}

	counts := map[trace.Op]int{}
	var first time.Time
	err := trace.ReadFile(*file, func(r trace.Record) error {
		if first.IsZero() {
			first = r.Time
		}
		if *sums {
			counts[r.Op]++
			return nil
		}
		fmt.Printf("%12s %s\n", r.Time.Sub(first), r)
		return nil
	})
	if err != nil {
		return err
	}
	if *sums {
		for op := trace.OpAlloc; op <= trace.OpWriteMem; op++ {
			if counts[op] > 0 {
				fmt.Printf("%-10s %d\n", op, counts[op])
			}
		}
	}
	return nil
}

func runTemplate(args []string) error {
	fs := flag.NewFlagSet("template", flag.ExitOnError)
	out := fs.String("o", "device.yaml", "profile to write")
	family := fs.String("family", profile.FamilyRelu, "device family (relu, adder or custom)")
	artifact := fs.String("artifact", "", "path of the simulator library, relative to the profile")
	name := fs.String("name", "", "profile name (default: the family)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p := profile.Profile{
		Name:     *name,
		Artifact: *artifact,
		Family:   *family,
		Requires: profile.HarnessVersion,
	}
	if p.Name == "" {
		p.Name = *family
	}
	if err := profile.WriteTemplate(*out, p); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", *out)
	return nil
}

func run(args []string) error {
	if len(args) < 1 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("no command given")
	}

	switch args[0] {
	case "info":
		return runInfo(args[1:])
	case "run":
		return runScenario(args[1:])
	case "bench":
		return runBench(args[1:])
	case "peek", "poke":
		return runPeekPoke(args[0], args[1:])
	case "trace":
		return runTrace(args[1:])
	case "template":
		return runTemplate(args[1:])
	case "help", "-h", "-help", "--help":
		fmt.Fprint(os.Stdout, usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, simctl.ErrUnsupported) {
			fmt.Fprintf(os.Stderr, "simctl: compiled models are not supported on this platform: %v\n", err)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "simctl: %v\n", err)
		os.Exit(1)
	}
}
