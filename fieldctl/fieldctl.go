/*Package fieldctl implements the Field Controller: a ramped-setpoint PID
with feedforward, derivative filtering, conditional-integration anti-windup,
and output clamp/slew, as specified for the electromagnet core.

Each call to Update performs, in order: (1) ramp the setpoint toward the
target, (2) compute error and filtered derivative-on-measurement, (3)
compose P+I+D+feedforward, saturate, conditionally integrate, and slew-limit
the output. The output is a commanded program voltage for the supply driver.
*/
package fieldctl

import (
	"math"

	"github.com/ejshaman54/electromagnet-control-program/ctlerr"
	"github.com/ejshaman54/electromagnet-control-program/util"
)

// antiWindupEps guards the saturated-boundary comparison; not a tuning
// parameter.
const antiWindupEps = 1e-12

// dtFloor is the minimum dt used in derivative/integral math, avoiding
// division by zero and spurious derivatives on back-to-back calls.
const dtFloor = 1e-6

// Gains holds the PID coefficients.
type Gains struct {
	Kp float64 // V/T
	Ki float64 // V/(T*s)
	Kd float64 // V*s/T
}

// Feedforward holds the open-loop feedforward term: Vff = V0 + Bramp*VperT,
// applied only when Enabled.
type Feedforward struct {
	Enabled bool
	V0      float64
	VperT   float64
}

// Limits holds the clamp/slew/ramp configuration.
type Limits struct {
	Integrator util.Limiter // I_min, I_max volts contribution
	Output     util.Limiter // O_min, O_max volts
	OutputSlew float64      // V/s, 0 disables
	RampRate   float64      // T/s, 0 snaps to target
	DerivTau   float64      // s
}

// Controller is the ramped-setpoint PID field controller.
type Controller struct {
	Gains  Gains
	FF     Feedforward
	Limits Limits

	target float64
	ramp   float64

	accum      float64
	derivState float64
	prevMeas   float64
	lastOut    float64
	lastT      float64
	hasLast    bool

	// last tick diagnostics, consumed by the sample publisher
	LastP, LastI, LastD float64
	LastSaturated       bool
}

// New returns a Controller with zero gains and a wide-open output range;
// callers should set Gains and Limits before ticking.
func New() *Controller {
	return &Controller{
		Limits: Limits{
			Integrator: util.Limiter{Min: -100, Max: 100},
			Output:     util.Limiter{Min: -10, Max: 10},
		},
	}
}

// SetTarget sets the setpoint the ramp chases. It does not itself reset
// ramp or integrator state (use Reset for that).
func (c *Controller) SetTarget(b float64) {
	c.target = b
}

// ConfigureLimits validates and installs output/integrator clamps, slew,
// ramp rate, and derivative filter time constant.
func (c *Controller) ConfigureLimits(l Limits) error {
	if l.Output.Max <= l.Output.Min {
		return ctlerr.ConfigurationError{Reason: "output clamp max must be > min"}
	}
	if l.Integrator.Max <= l.Integrator.Min {
		return ctlerr.ConfigurationError{Reason: "integrator clamp max must be > min"}
	}
	if l.OutputSlew < 0 {
		return ctlerr.ConfigurationError{Reason: "output slew must be >= 0"}
	}
	if l.RampRate < 0 {
		return ctlerr.ConfigurationError{Reason: "ramp rate must be >= 0"}
	}
	if l.DerivTau < 0 {
		return ctlerr.ConfigurationError{Reason: "derivative tau must be >= 0"}
	}
	c.Limits = l
	return nil
}

// Reset sets target and ramp to bInitial and clears all dynamic state
// (integrator, derivative filter, last output, has-last flag).
func (c *Controller) Reset(bInitial float64) {
	c.target = bInitial
	c.ramp = bInitial
	c.accum = 0
	c.derivState = 0
	c.prevMeas = 0
	c.lastOut = 0
	c.lastT = 0
	c.hasLast = false
	c.LastP, c.LastI, c.LastD = 0, 0, 0
	c.LastSaturated = false
}

// Ramp returns the currently ramped setpoint B_ramp.
func (c *Controller) Ramp() float64 { return c.ramp }

// Update advances the controller by one tick at time t (monotonic seconds)
// given the measured field bMeas, and returns the commanded program
// voltage. The first call after construction or Reset establishes the time
// base, snaps the ramped setpoint to the target, and returns 0V without
// otherwise advancing dynamics.
func (c *Controller) Update(t, bMeas float64) float64 {
	if !c.hasLast {
		c.hasLast = true
		c.lastT = t
		c.prevMeas = bMeas
		c.ramp = c.target
		c.lastOut = 0
		c.LastP, c.LastI, c.LastD = 0, 0, 0
		c.LastSaturated = false
		return 0
	}

	dt := t - c.lastT
	if dt < dtFloor {
		dt = dtFloor
	}

	c.advanceRamp(dt)
	err := c.ramp - bMeas

	dFiltered := c.filteredDerivative(bMeas, dt)
	dV := c.Gains.Kd * dFiltered

	pV := c.Gains.Kp * err

	candidateAccum := c.accum + err*dt
	candidateIV := util.Clamp(c.Gains.Ki*candidateAccum, c.Limits.Integrator.Min, c.Limits.Integrator.Max)

	vff := 0.0
	if c.FF.Enabled {
		vff = c.FF.V0 + c.ramp*c.FF.VperT
	}

	vUnsat := vff + pV + candidateIV + dV
	vSat := c.Limits.Output.Clamp(vUnsat)
	saturated := math.Abs(vUnsat-vSat) > antiWindupEps
	c.LastSaturated = saturated

	if c.shouldIntegrate(dt, saturated, vSat, err) {
		c.accum = candidateAccum
	}

	maxStep := c.Limits.OutputSlew * dt
	delta := util.Clamp(vSat-c.lastOut, -maxStep, maxStep)
	if c.Limits.OutputSlew <= 0 {
		delta = vSat - c.lastOut
	}
	vOut := c.Limits.Output.Clamp(c.lastOut + delta)

	c.lastOut = vOut
	c.prevMeas = bMeas
	c.lastT = t
	c.LastP, c.LastI, c.LastD = pV, candidateIV, dV

	return vOut
}

func (c *Controller) advanceRamp(dt float64) {
	if c.Limits.RampRate == 0 {
		c.ramp = c.target
		return
	}
	stepMax := c.Limits.RampRate * dt
	c.ramp += util.Clamp(c.target-c.ramp, -stepMax, stepMax)
}

func (c *Controller) filteredDerivative(bMeas, dt float64) float64 {
	dMeas := (bMeas - c.prevMeas) / dt
	dErr := -dMeas
	if c.Limits.DerivTau == 0 || dt == 0 {
		c.derivState = dErr
		return dErr
	}
	alpha := dt / (c.Limits.DerivTau + dt)
	c.derivState = c.derivState + alpha*(dErr-c.derivState)
	return c.derivState
}

// shouldIntegrate implements conditional integration anti-windup: integrate
// whenever the output is off both clamp boundaries, or when it sits on a
// boundary (saturated, or landing exactly on it) and the current error
// would relieve it.
func (c *Controller) shouldIntegrate(dt float64, saturated bool, vSat, err float64) bool {
	if dt <= 0 {
		return false
	}
	o := c.Limits.Output
	satHigh := vSat >= o.Max-antiWindupEps
	satLow := vSat <= o.Min+antiWindupEps
	if !saturated && !satHigh && !satLow {
		return true
	}
	if satHigh && err <= 0 {
		return true
	}
	if satLow && err >= 0 {
		return true
	}
	return false
}
