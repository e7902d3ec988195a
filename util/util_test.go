package util_test

import (
	"testing"
	"time"

	"github.com/ejshaman54/electromagnet-control-program/util"
)

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != high {
		t.Errorf("expected out of range value %f to clip to %f, got %f", input, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != low {
		t.Errorf("expected out of range value %f to clip to %f, got %f", input, low, clamped)
	}
}

func TestLimiterCheck(t *testing.T) {
	l := util.Limiter{Min: -5, Max: 5}
	if !l.Check(0) {
		t.Error("0 should be within [-5,5]")
	}
	if l.Check(6) {
		t.Error("6 should be outside [-5,5]")
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	secs := dur.Seconds()
	out := util.SecsToDuration(secs)
	if out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
}

func TestMergeErrorsNilOnEmpty(t *testing.T) {
	if err := util.MergeErrors(nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := util.MergeErrors([]error{nil, nil}); err != nil {
		t.Errorf("expected nil for all-nil input, got %v", err)
	}
}

func TestFloat64SliceToCSV(t *testing.T) {
	got := util.Float64SliceToCSV([]float64{1, 2.5, -3}, 'f', 1)
	want := "1.0,2.5,-3.0"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}
