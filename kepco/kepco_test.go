package kepco

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/ejshaman54/electromagnet-control-program/aio"
	"github.com/ejshaman54/electromagnet-control-program/ctlerr"
)

func approxEqual(a, b, atol float64) bool {
	return math.Abs(a-b) < atol
}

func withFakeClock(t *testing.T) (advance func(time.Duration)) {
	t.Helper()
	cur := time.Unix(0, 0)
	old := nowMonotonic
	nowMonotonic = func() time.Time { return cur }
	t.Cleanup(func() { nowMonotonic = old })
	return func(d time.Duration) { cur = cur.Add(d) }
}

func TestConfigureAnalogOutputRejectsBadClamp(t *testing.T) {
	d := New(aio.NewSim())
	if err := d.ConfigureAnalogOutput(0, 0, 5, 5); err == nil {
		t.Fatal("expected ConfigurationError for clamp_max == clamp_min")
	}
}

func TestRoundTripConversions(t *testing.T) {
	d := New(aio.NewSim())
	if err := d.SetProgToCurrent(0, 0, 2); err != nil {
		t.Fatal(err)
	}
	d.SetCurrentToField(0, 0.5)

	v := 1.25
	i := d.ProgVoltageToCurrent(v)
	gotV := d.CurrentToProgramVoltage(i)
	if !approxEqual(gotV, v, 1e-9) {
		t.Fatalf("round trip prog<->current: got %v want %v", gotV, v)
	}

	b := d.CurrentToField(i)
	gotI := d.FieldToCurrent(b)
	if !approxEqual(gotI, i, 1e-9) {
		t.Fatalf("round trip current<->field: got %v want %v", gotI, i)
	}
}

func TestCommandCurrentScenario(t *testing.T) {
	// V0=0, I0=0, IperV=2; commanding 3A should program 1.5V
	sim := aio.NewSim()
	d := New(sim)
	d.ConfigureAnalogOutput(0, 0, -10, 10)
	if err := d.SetProgToCurrent(0, 0, 2); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := d.SetEnabled(ctx, true); err != nil {
		t.Fatal(err)
	}
	if err := d.CommandCurrent(ctx, 3); err != nil {
		t.Fatal(err)
	}
	if got := d.LastProgramVoltage(); !approxEqual(got, 1.5, 1e-9) {
		t.Fatalf("expected 1.5V commanded, got %v", got)
	}
}

func TestNotEnabledError(t *testing.T) {
	sim := aio.NewSim()
	d := New(sim)
	d.ConfigureAnalogOutput(0, 0, -10, 10)
	err := d.CommandProgramVoltage(context.Background(), 1)
	if _, ok := err.(ctlerr.NotEnabledError); !ok {
		t.Fatalf("expected NotEnabledError, got %v", err)
	}
}

func TestEStopWritesZeroImmediately(t *testing.T) {
	sim := aio.NewSim()
	d := New(sim)
	d.ConfigureAnalogOutput(3, 0, -10, 10)
	ctx := context.Background()
	d.SetEnabled(ctx, true)
	d.CommandProgramVoltage(ctx, 4.0)
	if got := sim.LastOutput(3); !approxEqual(got, 4.0, 1e-9) {
		t.Fatalf("setup: expected 4V commanded, got %v", got)
	}
	if err := d.SetEnabled(ctx, false); err != nil {
		t.Fatal(err)
	}
	if got := sim.LastOutput(3); got != 0 {
		t.Fatalf("expected 0V written on disable, got %v", got)
	}
	if got := d.LastProgramVoltage(); got != 0 {
		t.Fatalf("expected last_cmd reset to 0, got %v", got)
	}
	if err := d.CommandProgramVoltage(ctx, 1); err == nil {
		t.Fatal("expected NotEnabledError after disable")
	}
}

func TestSlewLimit(t *testing.T) {
	advance := withFakeClock(t)
	sim := aio.NewSim()
	d := New(sim)
	d.ConfigureAnalogOutput(0, 0, -10, 10)
	if err := d.SetSlewLimit(2); err != nil { // 2 V/s
		t.Fatal(err)
	}
	ctx := context.Background()
	d.SetEnabled(ctx, true)
	// first call after enable has dt=0, so it jumps straight to target
	if err := d.CommandProgramVoltage(ctx, 0); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 25; i++ {
		advance(100 * time.Millisecond)
		if err := d.CommandProgramVoltage(ctx, 5); err != nil {
			t.Fatal(err)
		}
		want := math.Min(5, float64(i)*0.2)
		if got := d.LastProgramVoltage(); !approxEqual(got, want, 1e-9) {
			t.Fatalf("tick %d: got %v want %v", i, got, want)
		}
	}
}

func TestOutputAlwaysWithinClamp(t *testing.T) {
	sim := aio.NewSim()
	d := New(sim)
	d.ConfigureAnalogOutput(0, 0, -5, 5)
	ctx := context.Background()
	d.SetEnabled(ctx, true)
	if err := d.CommandProgramVoltage(ctx, 100); err != nil {
		t.Fatal(err)
	}
	if got := sim.LastOutput(0); got != 5 {
		t.Fatalf("expected clamp to 5V, got %v", got)
	}
}
