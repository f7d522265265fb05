package scenario

import (
	"fmt"
	"strings"
)

// AssertionError represents a failed expectation.
type AssertionError struct {
	Field    string
	Expected any
	Actual   any
	Message  string
}

func (e *AssertionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s: expected %v, got %v", e.Field, e.Expected, e.Actual)
}

func assertValue(field string, expect *Expect, actual int64) []error {
	if expect == nil || expect.Value == nil || *expect.Value == actual {
		return nil
	}
	return []error{&AssertionError{Field: field, Expected: *expect.Value, Actual: actual}}
}

func assertFinished(expect *Expect, actual bool) []error {
	if expect == nil || expect.Finished == nil || *expect.Finished == actual {
		return nil
	}
	return []error{&AssertionError{Field: "finished", Expected: *expect.Finished, Actual: actual}}
}

// maxMismatches bounds how many differing elements one read_mem reports.
const maxMismatches = 8

func assertData(field string, expect *Expect, actual []int8) []error {
	if expect == nil || expect.Data == nil {
		return nil
	}
	want := expect.Data
	if len(want) != len(actual) {
		return []error{&AssertionError{Field: field + ".length", Expected: len(want), Actual: len(actual)}}
	}

	var errs []error
	mismatches := 0
	for i := range want {
		if want[i] == actual[i] {
			continue
		}
		mismatches++
		if len(errs) < maxMismatches {
			errs = append(errs, &AssertionError{
				Field:    fmt.Sprintf("%s[%d]", field, i),
				Expected: want[i],
				Actual:   actual[i],
			})
		}
	}
	if mismatches > maxMismatches {
		errs = append(errs, &AssertionError{
			Message: fmt.Sprintf("%s: %d more mismatches", field, mismatches-maxMismatches),
		})
	}
	return errs
}

func joinErrors(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}
