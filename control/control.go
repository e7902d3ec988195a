/*Package control orchestrates one tick of the closed control loop: read the
Hall probe, condition it, run the PID controller, drive the supply, and
publish telemetry. Session is the single point of operator interaction
(set target, enable/disable, E-stop, reconfigure, start/stop a logging
session).
*/
package control

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/ejshaman54/electromagnet-control-program/aio"
	"github.com/ejshaman54/electromagnet-control-program/ctlerr"
	"github.com/ejshaman54/electromagnet-control-program/fieldctl"
	"github.com/ejshaman54/electromagnet-control-program/hallprobe"
	"github.com/ejshaman54/electromagnet-control-program/kepco"
	"github.com/ejshaman54/electromagnet-control-program/telemetry"
	"github.com/ejshaman54/electromagnet-control-program/util"
)

// HallReadParams describes where and how to read the Hall probe's voltage.
type HallReadParams struct {
	Channel   uint32
	Range     uint32
	Reference aio.Reference
}

// Sample is the latest tick's published state, readable by the operator
// surface between ticks.
type Sample struct {
	At        time.Time
	VHall     float64
	BMeas     float64
	BRamp     float64
	VCmd      float64
	Err       float64
	P, I, D   float64
	Enabled   bool
	Saturated bool
	Fault     bool
	FaultKind string
}

// Session owns the Hall-probe conditioner, the field controller, and the
// supply driver, and ticks them together.
type Session struct {
	Port aio.Port

	Conditioner *hallprobe.Conditioner
	Controller  *fieldctl.Controller
	Driver      *kepco.Driver
	Telemetry   *telemetry.Publisher

	Hall HallReadParams

	// retryLimiter throttles the retry attempts (after the first) of the
	// Hall read in readHallWithRetry, independent of the tick cadence itself.
	retryLimiter *rate.Limiter

	mu              sync.Mutex
	last            Sample
	lastWall        time.Time
	hasWall         bool
	ticking         int32 // atomic reentrancy guard
	coalesced       uint64
	lastFaultDetail error
}

// NewSession wires a Session around the given port, conditioner, controller
// and driver. Telemetry may be nil, in which case samples are simply not
// logged.
func NewSession(port aio.Port, c *hallprobe.Conditioner, ctl *fieldctl.Controller, drv *kepco.Driver, pub *telemetry.Publisher) *Session {
	return &Session{
		Port:         port,
		Conditioner:  c,
		Controller:   ctl,
		Driver:       drv,
		Telemetry:    pub,
		retryLimiter: rate.NewLimiter(10, 10),
	}
}

// Tick advances the control loop by one step at time t (monotonic seconds
// for the controller's own ramp/derivative math; wall time for telemetry
// timestamps is taken from now). Tick is safe to call from a timer
// goroutine; an overlapping call (the previous tick still running when the
// next timer fires) is coalesced — it returns immediately rather than
// queuing or running concurrently.
func (s *Session) Tick(ctx context.Context, t float64, now time.Time) error {
	if !atomic.CompareAndSwapInt32(&s.ticking, 0, 1) {
		atomic.AddUint64(&s.coalesced, 1)
		return nil
	}
	defer atomic.StoreInt32(&s.ticking, 0)

	vHall, err := s.readHallWithRetry(ctx)
	if err != nil {
		s.recordFault(now, err, s.forceDisable(ctx, err))
		return nil
	}

	dt := 0.0
	if s.hasWall {
		dt = now.Sub(s.lastWall).Seconds()
	}
	s.lastWall = now
	s.hasWall = true
	bMeas := s.Conditioner.VoltageToFieldFiltered(vHall, dt)

	vCmd := s.Controller.Update(t, bMeas)

	var cmdErr error
	if s.Driver.Enabled() {
		cmdErr = s.commandWithRetry(ctx, vCmd)
	}
	if cmdErr != nil {
		s.recordFault(now, cmdErr, s.forceDisable(ctx, cmdErr))
		return nil
	}

	samp := Sample{
		At:        now,
		VHall:     vHall,
		BMeas:     bMeas,
		BRamp:     s.Controller.Ramp(),
		VCmd:      s.Driver.LastProgramVoltage(),
		Err:       s.Controller.Ramp() - bMeas,
		P:         s.Controller.LastP,
		I:         s.Controller.LastI,
		D:         s.Controller.LastD,
		Enabled:   s.Driver.Enabled(),
		Saturated: s.Controller.LastSaturated,
		Fault:     false,
	}
	s.mu.Lock()
	s.lastFaultDetail = nil
	s.mu.Unlock()
	s.publish(samp)
	return nil
}

// readHallWithRetry wraps the Hall probe read with a short bounded retry
// before classifying a failure as an IoError fault. retryLimiter only
// throttles the retry iterations themselves (attempt > 0): the first,
// normal-path attempt each tick never waits on it, so a healthy Port never
// blocks inside Tick — only a failing one, and only while already in its
// bounded retry window.
func (s *Session) readHallWithRetry(ctx context.Context) (float64, error) {
	var v float64
	attempt := 0
	op := func() error {
		if attempt > 0 {
			if err := s.retryLimiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		attempt++
		var rerr error
		v, rerr = s.Port.ReadInputVolts(ctx, s.Hall.Channel, s.Hall.Range, s.Hall.Reference)
		if rerr != nil {
			return errors.Wrap(rerr, "read_hall")
		}
		return nil
	}
	err := backoff.Retry(op, shortBackoff())
	if err != nil {
		return 0, ctlerr.IoError{Op: "read_hall", Err: errors.Cause(err)}
	}
	return v, nil
}

// commandWithRetry wraps CommandProgramVoltage with the same bounded retry.
// A NotEnabledError is never retried; it is returned immediately.
func (s *Session) commandWithRetry(ctx context.Context, vCmd float64) error {
	op := func() error {
		err := s.Driver.CommandProgramVoltage(ctx, vCmd)
		if err == nil {
			return nil
		}
		if _, ok := err.(ctlerr.NotEnabledError); ok {
			return backoff.Permanent(err)
		}
		return errors.Wrap(err, "command_program_voltage")
	}
	err := backoff.Retry(op, shortBackoff())
	if err != nil {
		if _, ok := err.(ctlerr.NotEnabledError); ok {
			return err
		}
		return ctlerr.IoError{Op: "command_program_voltage", Err: errors.Cause(err)}
	}
	return nil
}

func shortBackoff() backoff.BackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     5 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         50 * time.Millisecond,
		MaxElapsedTime:      150 * time.Millisecond,
		Clock:               backoff.SystemClock,
	}
}

// forceDisable writes the supply to 0V after a tick fault and merges any
// error it encounters doing so with the primary fault, rather than
// dropping it: an operator diagnosing a stuck magnet needs to know the
// force-disable itself failed, not just the original read/command error.
func (s *Session) forceDisable(ctx context.Context, primary error) error {
	disableErr := s.Driver.SetEnabled(ctx, false)
	return util.MergeErrors([]error{primary, disableErr})
}

// recordFault publishes a faulted Sample classified by kindOf(err), and
// stashes the full merged detail (primary fault plus any force-disable
// error) for LastFaultDetail.
func (s *Session) recordFault(now time.Time, err, detail error) {
	s.mu.Lock()
	s.lastFaultDetail = detail
	s.mu.Unlock()

	samp := Sample{
		At:        now,
		Fault:     true,
		FaultKind: kindOf(err),
	}
	s.publish(samp)
}

// LastFaultDetail returns the full error behind the most recent tick
// fault, including any error raised while force-disabling the driver in
// response. Returns nil if the last tick did not fault.
func (s *Session) LastFaultDetail() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFaultDetail
}

func kindOf(err error) string {
	switch err.(type) {
	case ctlerr.IoError:
		return "io"
	case ctlerr.NotEnabledError:
		return "not_enabled"
	case ctlerr.CalibrationError:
		return "calibration"
	case ctlerr.ConfigurationError:
		return "configuration"
	default:
		return "unknown"
	}
}

func (s *Session) publish(samp Sample) {
	s.mu.Lock()
	s.last = samp
	s.mu.Unlock()

	if s.Telemetry != nil {
		_ = s.Telemetry.Publish(samp.At, samp.VHall, samp.BMeas, samp.BRamp, samp.VCmd, samp.Err, samp.P, samp.I, samp.D, samp.Enabled, samp.Saturated, samp.Fault)
	}
}

// LastSample returns the most recently published Sample.
func (s *Session) LastSample() Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// CoalescedTicks returns the number of ticks skipped because a previous
// tick was still running.
func (s *Session) CoalescedTicks() uint64 {
	return atomic.LoadUint64(&s.coalesced)
}

// SetTarget sets the field setpoint the ramp chases.
func (s *Session) SetTarget(b float64) {
	s.Controller.SetTarget(b)
}

// SetEnabled enables or disables the supply driver.
func (s *Session) SetEnabled(ctx context.Context, enable bool) error {
	return s.Driver.SetEnabled(ctx, enable)
}

// EStop force-disables the driver immediately, bypassing any queued state;
// it is always available regardless of what the loop is doing mid-tick.
func (s *Session) EStop(ctx context.Context) error {
	return s.Driver.SetEnabled(ctx, false)
}

// ConfigureGains installs new PID gains.
func (s *Session) ConfigureGains(g fieldctl.Gains) {
	s.Controller.Gains = g
}

// ConfigureLimits installs new output/integrator/slew/ramp/derivative
// limits.
func (s *Session) ConfigureLimits(l fieldctl.Limits) error {
	return s.Controller.ConfigureLimits(l)
}

// StartSession opens a telemetry session, if a Publisher is wired.
func (s *Session) StartSession(basePath string, meta telemetry.SessionMetadata, overwrite bool, now time.Time) error {
	if s.Telemetry == nil {
		return ctlerr.NotOpenError{What: "telemetry publisher"}
	}
	return s.Telemetry.StartSession(basePath, meta, overwrite, now)
}

// StopSession closes the telemetry session, if one is open.
func (s *Session) StopSession() error {
	if s.Telemetry == nil {
		return nil
	}
	return s.Telemetry.StopSession()
}
