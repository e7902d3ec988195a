/*Package telemetry assembles per-tick Sample rows and logs them through the
Logger contract, with a concrete CSVLogger implementing a fixed CSV/meta
wire format.
*/
package telemetry

import (
	"time"
)

// Sample is one tick's worth of telemetry.
type Sample struct {
	UTC       time.Time
	ElapsedS  float64
	VHall     float64
	BMeas     float64
	BSet      float64
	VCmd      float64
	Err       float64
	PV, IV, DV float64
	Enabled   bool
	Saturated bool
	Fault     bool
}

// SessionMetadata carries the [HallProbe]/[Kepco]/[Calibration]/[Controller]
// values written to <base>.meta.txt.
type SessionMetadata struct {
	HallProbe struct {
		V0V    float64
		TperV  float64
		Filter string
	}
	Kepco struct {
		AOChannel uint32
		ClampMinV float64
		ClampMaxV float64
		SlewVps   float64
	}
	Calibration struct {
		ProgV0V float64
		I0A     float64
		IperV   float64
		B0T     float64
		TperA   float64
	}
	Controller struct {
		Kp, Ki, Kd float64
		RampTps    float64
		DerivTauS  float64
		OutMinV    float64
		OutMaxV    float64
	}
}

// Logger is the logging contract the core consumes.
type Logger interface {
	OpenSession(basePath string, meta SessionMetadata, overwrite bool) error
	LogSample(s Sample) error
	CloseSession() error
}

// Publisher assembles Samples from the core's per-tick scalars and hands
// them to a Logger. It is pure assembly: no filtering or decision logic.
type Publisher struct {
	Logger    Logger
	sessStart time.Time
	open      bool
}

// NewPublisher returns a Publisher bound to the given Logger.
func NewPublisher(l Logger) *Publisher {
	return &Publisher{Logger: l}
}

// StartSession opens the underlying logger session and marks the epoch
// elapsed-time is measured from.
func (p *Publisher) StartSession(basePath string, meta SessionMetadata, overwrite bool, now time.Time) error {
	if err := p.Logger.OpenSession(basePath, meta, overwrite); err != nil {
		return err
	}
	p.sessStart = now
	p.open = true
	return nil
}

// StopSession closes the underlying logger session.
func (p *Publisher) StopSession() error {
	p.open = false
	return p.Logger.CloseSession()
}

// Open reports whether a session is currently open.
func (p *Publisher) Open() bool { return p.open }

// Publish assembles a Sample and logs it, if a session is open. It never
// returns an error for "no session open" — the tick loop is expected to
// keep running with telemetry simply not recorded.
func (p *Publisher) Publish(now time.Time, vHall, bMeas, bSet, vCmd, errT, pv, iv, dv float64, enabled, saturated, fault bool) error {
	if !p.open {
		return nil
	}
	s := Sample{
		UTC:       now,
		ElapsedS:  now.Sub(p.sessStart).Seconds(),
		VHall:     vHall,
		BMeas:     bMeas,
		BSet:      bSet,
		VCmd:      vCmd,
		Err:       errT,
		PV:        pv,
		IV:        iv,
		DV:        dv,
		Enabled:   enabled,
		Saturated: saturated,
		Fault:     fault,
	}
	return p.Logger.LogSample(s)
}
