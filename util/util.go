// Package util contains small numeric and formatting helpers shared by the
// controller packages.
package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Float64SliceToCSV converts a slice of f64s to CSV formatted data
// sensible default values for format and prec are 'G' and -1 (shortest
// round-trip form); telemetry rows use 'f' and -1.
func Float64SliceToCSV(fs []float64, format byte, prec int) string {
	s := make([]string, len(fs))
	for i, v := range fs {
		s[i] = strconv.FormatFloat(v, format, prec, 64)
	}
	return strings.Join(s, ",")
}

// Clamp limits min <= input <= max.
func Clamp(input, min, max float64) float64 {
	if input < min {
		return min
	}
	if input > max {
		return max
	}
	return input
}

// Limiter represents a basic set of min,max limits.
type Limiter struct {
	// Min is the minimum value
	Min float64 `json:"min"`

	// Max is the maximum value
	Max float64 `json:"max"`
}

// Clamp limits Min <= input <= Max.
func (l *Limiter) Clamp(input float64) float64 {
	return Clamp(input, l.Min, l.Max)
}

// Check verifies if Min <= input <= Max, returns true if this is the case.
func (l *Limiter) Check(input float64) bool {
	if input < l.Min {
		return false
	}
	if input > l.Max {
		return false
	}
	return true
}

// MergeErrors converts many errors to a single one, newline separated. Used
// by the tick fault policy to report every collaborator's error at once
// without losing any of them.
func MergeErrors(errs []error) error {
	var strs []string
	for idx := 0; idx < len(errs); idx++ {
		err := errs[idx]
		if err != nil {
			strs = append(strs, err.Error())
		}
	}
	if len(strs) == 0 {
		return nil
	}
	return fmt.Errorf(strings.Join(strs, "\n"))
}

// SecsToDuration converts floating point seconds to a time.Duration.
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}
