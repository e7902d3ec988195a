/*Package kepco implements the bipolar supply driver: it maintains the
program-voltage <-> current <-> field calibration, applies output clamp and
slew-rate limiting, drives an aio.Port, and manages a digital enable/interlock.

Named for the Kepco BOP-class bipolar supplies this driver was written
against; session metadata files carry a matching [Kepco] block.
*/
package kepco

import (
	"context"
	"math"
	"time"

	"github.com/ejshaman54/electromagnet-control-program/aio"
	"github.com/ejshaman54/electromagnet-control-program/ctlerr"
	"github.com/ejshaman54/electromagnet-control-program/util"
)

// Guard values against dividing by a slope indistinguishable from zero.
// Not tuning parameters.
const minSlope = 1e-12

// EnableMode selects how the driver asserts/deasserts the hardware enable
// line when SetEnabled toggles.
type EnableMode int

// Enable modes.
const (
	EnableNone EnableMode = iota
	EnableDigitalLine
	EnableSerialInterlock
)

// DigitalLine is the minimal capability the driver needs to assert a
// digital enable/interlock line, independent of whether that line is a
// dry contact (EnableDigitalLine) or a serial telegram (EnableSerialInterlock).
type DigitalLine interface {
	SetLine(ctx context.Context, channel uint32, high bool) error
}

// Driver is the Supply Driver: output calibration, clamp/slew, and enable
// state, driving a shared, non-owned aio.Port.
type Driver struct {
	port aio.Port

	aoChannel uint32
	aoRange   uint32
	clamp     util.Limiter
	slewVps   float64

	lastCmd    float64
	lastUpdate time.Time
	hasUpdate  bool

	progV0, progI0, progIperV float64
	calB0, calTperA           float64

	enableMode EnableMode
	digitalCh  uint32
	line       DigitalLine
	enabled    bool
}

// New returns a Driver bound to port, which it does not own; the caller is
// responsible for the Port's lifetime, which must outlive the Driver.
func New(port aio.Port) *Driver {
	return &Driver{
		port:      port,
		clamp:     util.Limiter{Min: -10, Max: 10},
		progIperV: 1,
		calTperA:  1,
	}
}

// ConfigureAnalogOutput sets the AO channel, range, and clamp. Fails with
// ctlerr.ConfigurationError if clampMax <= clampMin.
func (d *Driver) ConfigureAnalogOutput(channel, rng uint32, clampMin, clampMax float64) error {
	if clampMax <= clampMin {
		return ctlerr.ConfigurationError{Reason: "clamp_max must be > clamp_min"}
	}
	d.aoChannel = channel
	d.aoRange = rng
	d.clamp = util.Limiter{Min: clampMin, Max: clampMax}
	return nil
}

// SetSlewLimit sets the maximum rate of change of commanded voltage, in
// volts/second. 0 disables slew limiting. Fails if vps < 0.
func (d *Driver) SetSlewLimit(vps float64) error {
	if vps < 0 {
		return ctlerr.ConfigurationError{Reason: "slew limit must be >= 0"}
	}
	d.slewVps = vps
	return nil
}

// SetProgToCurrent sets the affine program-voltage -> current calibration:
// I = I0 + (V - V0) * IperV. Fails if |IperV| < 1e-12.
func (d *Driver) SetProgToCurrent(v0, i0, iPerV float64) error {
	if math.Abs(iPerV) < minSlope {
		return ctlerr.CalibrationError{Field: "IperV", Value: iPerV}
	}
	d.progV0, d.progI0, d.progIperV = v0, i0, iPerV
	return nil
}

// SetCurrentToField sets the affine current -> field calibration:
// B = B0 + I * TperA.
func (d *Driver) SetCurrentToField(b0, tPerA float64) {
	d.calB0, d.calTperA = b0, tPerA
}

// ConfigureDigitalEnable sets the enable mode and the channel used to
// assert it (interpretation of channel depends on mode/line implementation).
func (d *Driver) ConfigureDigitalEnable(mode EnableMode, channel uint32, line DigitalLine) {
	d.enableMode = mode
	d.digitalCh = channel
	d.line = line
}

// Enabled reports whether the driver currently believes it is enabled.
func (d *Driver) Enabled() bool { return d.enabled }

// SetEnabled toggles enable. Transitioning to disabled immediately commands
// 0V via the Port (best effort is not applicable here: any write error is
// returned), resets last-command bookkeeping, and deasserts the digital
// line if configured.
func (d *Driver) SetEnabled(ctx context.Context, enable bool) error {
	if !enable {
		err := d.port.WriteOutputVolts(ctx, d.aoChannel, 0, d.aoRange, d.clamp.Min, d.clamp.Max)
		d.lastCmd = 0
		d.lastUpdate = nowMonotonic()
		d.hasUpdate = true
		if lineErr := d.setLine(ctx, false); lineErr != nil && err == nil {
			err = lineErr
		}
		d.enabled = false
		return err
	}
	if err := d.setLine(ctx, true); err != nil {
		return err
	}
	d.enabled = true
	d.hasUpdate = false
	return nil
}

func (d *Driver) setLine(ctx context.Context, high bool) error {
	if d.enableMode == EnableNone || d.line == nil {
		return nil
	}
	return d.line.SetLine(ctx, d.digitalCh, high)
}

// CommandProgramVoltage clamps vProg to [clampMin, clampMax], applies the
// slew limit relative to the last commanded voltage, and writes the result
// to the Port. Requires the driver to be enabled.
func (d *Driver) CommandProgramVoltage(ctx context.Context, vProg float64) error {
	if !d.enabled {
		return ctlerr.NotEnabledError{}
	}
	target := d.clamp.Clamp(vProg)

	now := nowMonotonic()
	var dt float64
	if d.hasUpdate {
		dt = now.Sub(d.lastUpdate).Seconds()
	}

	out := target
	if d.slewVps > 0 && dt > 0 {
		maxStep := d.slewVps * dt
		delta := util.Clamp(target-d.lastCmd, -maxStep, maxStep)
		out = d.lastCmd + delta
	}

	if err := d.port.WriteOutputVolts(ctx, d.aoChannel, out, d.aoRange, d.clamp.Min, d.clamp.Max); err != nil {
		return err
	}
	d.lastCmd = out
	d.lastUpdate = now
	d.hasUpdate = true
	return nil
}

// CommandCurrent converts amps to a program voltage and commands it.
func (d *Driver) CommandCurrent(ctx context.Context, amps float64) error {
	v := d.CurrentToProgramVoltage(amps)
	return d.CommandProgramVoltage(ctx, v)
}

// CommandField converts teslas to current and commands it. Fails with
// ctlerr.CalibrationError if |TperA| < 1e-12.
func (d *Driver) CommandField(ctx context.Context, teslas float64) error {
	if math.Abs(d.calTperA) < minSlope {
		return ctlerr.CalibrationError{Field: "TperA", Value: d.calTperA}
	}
	amps := (teslas - d.calB0) / d.calTperA
	return d.CommandCurrent(ctx, amps)
}

// ProgVoltageToCurrent is the pure forward conversion I = I0 + (V-V0)*IperV.
func (d *Driver) ProgVoltageToCurrent(v float64) float64 {
	return d.progI0 + (v-d.progV0)*d.progIperV
}

// CurrentToProgramVoltage is the pure inverse conversion
// V = V0 + (I-I0)/IperV.
func (d *Driver) CurrentToProgramVoltage(i float64) float64 {
	return d.progV0 + (i-d.progI0)/d.progIperV
}

// CurrentToField is the pure forward conversion B = B0 + I*TperA.
func (d *Driver) CurrentToField(i float64) float64 {
	return d.calB0 + i*d.calTperA
}

// FieldToCurrent is the pure inverse conversion I = (B-B0)/TperA.
func (d *Driver) FieldToCurrent(b float64) float64 {
	return (b - d.calB0) / d.calTperA
}

// LastProgramVoltage returns the most recently commanded program voltage.
func (d *Driver) LastProgramVoltage() float64 { return d.lastCmd }

// nowMonotonic is overridable in tests.
var nowMonotonic = func() time.Time { return time.Now() }
