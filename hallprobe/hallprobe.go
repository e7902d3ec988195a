/*Package hallprobe implements the Hall-probe signal conditioner: an affine
voltage-to-field calibration with an optional moving-average or first-order
low-pass filter.

Basic usage:

	c := hallprobe.New()
	c.SetOffset(0.012)
	c.SetSensitivity(0.2) // T/V
	c.ConfigureLowPass(0.05)
	b := c.VoltageToFieldFiltered(1.03, 0.05)
*/
package hallprobe

import (
	"math"

	"github.com/ejshaman54/electromagnet-control-program/ctlerr"
)

// minSensitivity is the smallest |S| (T/V) treated as invertible/usable.
// Not a tuning parameter: it guards the affine conversion from blowing up.
const minSensitivity = 1e-15

// FilterMode selects how VoltageToFieldFiltered post-processes the raw
// affine conversion.
type FilterMode int

// Filter modes.
const (
	FilterNone FilterMode = iota
	FilterMovingAverage
	FilterLowPass
)

// Conditioner converts raw Hall-probe voltage into calibrated field, with
// an optional filter applied to the result.
type Conditioner struct {
	offset      float64
	sensitivity float64

	mode FilterMode

	// moving-average state
	maBuf   []float64
	maIdx   int
	maCount int
	maSum   float64

	// low-pass state
	tau    float64
	lpPrev float64
	lpInit bool
}

// New returns a Conditioner with offset 0, sensitivity 1 T/V and no
// filtering. Callers set the real calibration with SetOffset and
// SetSensitivity before conversions are meaningful.
func New() *Conditioner {
	return &Conditioner{sensitivity: 1}
}

// SetOffset sets the calibration offset V0 in volts.
func (c *Conditioner) SetOffset(v0 float64) {
	c.offset = v0
}

// SetSensitivity sets the calibration sensitivity S in T/V. It fails with
// ctlerr.CalibrationError if |S| < 1e-15.
func (c *Conditioner) SetSensitivity(s float64) error {
	if math.Abs(s) < minSensitivity {
		return ctlerr.CalibrationError{Field: "sensitivity", Value: s}
	}
	c.sensitivity = s
	return nil
}

// Offset returns the current calibration offset.
func (c *Conditioner) Offset() float64 { return c.offset }

// Sensitivity returns the current calibration sensitivity.
func (c *Conditioner) Sensitivity() float64 { return c.sensitivity }

// SetFilterMode changes the active filter and resets its state.
func (c *Conditioner) SetFilterMode(mode FilterMode) {
	c.mode = mode
	c.resetFilterState()
}

func (c *Conditioner) resetFilterState() {
	c.maIdx = 0
	c.maCount = 0
	c.maSum = 0
	for i := range c.maBuf {
		c.maBuf[i] = 0
	}
	c.lpPrev = 0
	c.lpInit = false
}

// ConfigureMovingAverage selects the moving-average filter with window n,
// clamped to [1, 10000], and resets filter state.
func (c *Conditioner) ConfigureMovingAverage(n int) {
	if n < 1 {
		n = 1
	}
	if n > 10000 {
		n = 10000
	}
	c.mode = FilterMovingAverage
	c.maBuf = make([]float64, n)
	c.resetFilterState()
}

// ConfigureLowPass selects the first-order low-pass filter with time
// constant tau seconds, and resets filter state. Fails with
// ctlerr.CalibrationError if tau < 0.
func (c *Conditioner) ConfigureLowPass(tau float64) error {
	if tau < 0 {
		return ctlerr.CalibrationError{Field: "tau", Value: tau}
	}
	c.mode = FilterLowPass
	c.tau = tau
	c.resetFilterState()
	return nil
}

// VoltageToField performs the pure affine conversion B = (V - V0) * S, with
// no filtering. VoltageToField(V0) == 0 exactly.
func (c *Conditioner) VoltageToField(v float64) float64 {
	return (v - c.offset) * c.sensitivity
}

// VoltageToFieldFiltered converts v to field and applies the configured
// filter, advancing filter state by one sample of duration dt seconds.
func (c *Conditioner) VoltageToFieldFiltered(v, dt float64) float64 {
	b := c.VoltageToField(v)
	switch c.mode {
	case FilterMovingAverage:
		return c.movingAverage(b)
	case FilterLowPass:
		return c.lowPass(b, dt)
	default:
		return b
	}
}

func (c *Conditioner) movingAverage(x float64) float64 {
	n := len(c.maBuf)
	if n == 0 {
		return x
	}
	old := c.maBuf[c.maIdx]
	c.maBuf[c.maIdx] = x
	c.maSum += x - old
	c.maIdx = (c.maIdx + 1) % n
	if c.maCount < n {
		c.maCount++
	}
	return c.maSum / float64(c.maCount)
}

func (c *Conditioner) lowPass(x, dt float64) float64 {
	if !c.lpInit {
		c.lpInit = true
		c.lpPrev = x
		return x
	}
	var alpha float64
	if c.tau > 0 && dt > 0 {
		alpha = dt / (c.tau + dt)
	} else {
		alpha = 1
	}
	c.lpPrev = c.lpPrev + alpha*(x-c.lpPrev)
	return c.lpPrev
}
