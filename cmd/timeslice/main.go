package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tinyrange/simctl/internal/timeslice"
)

type kindSummary struct {
	Kind   string
	Flags  timeslice.Flags
	Count  int
	Sum    time.Duration
	Min    time.Duration
	Max    time.Duration
	Cycles int64
}

func (s *kindSummary) Add(e timeslice.Entry) {
	s.Count++
	s.Sum += e.Duration
	s.Cycles += e.Cycles
	if s.Count == 1 || e.Duration < s.Min {
		s.Min = e.Duration
	}
	if e.Duration > s.Max {
		s.Max = e.Duration
	}
}

// cyclesPerSecond is the simulated clock rate achieved during this kind.
func (s *kindSummary) cyclesPerSecond() float64 {
	if s.Sum <= 0 {
		return 0
	}
	return float64(s.Cycles) / s.Sum.Seconds()
}

func (s *kindSummary) String() string {
	return fmt.Sprintf("% 32s flags=% 10s count=% 8d sum=% 14s min=% 14s max=% 14s avg=% 14s cycles=% 12d rate=%.3g/s",
		s.Kind, s.Flags, s.Count,
		s.Sum, s.Min, s.Max,
		s.Sum/time.Duration(s.Count),
		s.Cycles, s.cyclesPerSecond(),
	)
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	filename := fs.String("filename", "", "Timeslice file to read")
	sums := fs.Bool("sums", false, "Print per-kind totals instead of every record")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	if *filename == "" {
		fs.Usage()
		os.Exit(1)
	}

	f, err := os.Open(*filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open timeslice file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	if !*sums {
		if err := timeslice.ReadAllRecords(f, func(e timeslice.Entry) error {
			fmt.Printf("%s %s %s %d\n", e.Kind, e.Flags, e.Duration, e.Cycles)
			return nil
		}); err != nil {
			fmt.Fprintf(os.Stderr, "failed to read timeslice file: %v\n", err)
			os.Exit(1)
		}
		return
	}

	summaries := map[string]*kindSummary{}
	var order []string
	if err := timeslice.ReadAllRecords(f, func(e timeslice.Entry) error {
		s, ok := summaries[e.Kind]
		if !ok {
			order = append(order, e.Kind)
			s = &kindSummary{Kind: e.Kind, Flags: e.Flags}
			summaries[e.Kind] = s
		}
		s.Add(e)
		return nil
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read timeslice file: %v\n", err)
		os.Exit(1)
	}
	for _, kind := range order {
		fmt.Println(summaries[kind])
	}
}
