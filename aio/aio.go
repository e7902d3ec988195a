/*Package aio defines the Analog I/O Port contract consumed by the field
controller core, and a simulated implementation for tests and demos.

The core never talks to a specific DAQ board; it only depends on this
interface, which is deliberately narrow:

	in, err := port.ReadInputVolts(ctx, 0, rng, RefDifferential)
	err = port.WriteOutputVolts(ctx, 0, 3.2, rng, -10, 10)

A real backend (comedi, Acromag, MCC, ...) lives outside this module; only the
in-memory Sim ships here, used by tests and the cmd/fieldctld demo harness.
*/
package aio

import (
	"context"
	"fmt"
	"sync"

	"github.com/ejshaman54/electromagnet-control-program/ctlerr"
)

// Reference selects the analog input reference mode for a read.
type Reference int

// Reference modes, matching common DAQ ADC configurations.
const (
	RefGround Reference = iota
	RefCommon
	RefDifferential
	RefOther
)

// Port is the capability the core depends on: read a calibrated input
// voltage, and write a clamped output voltage. Implementations need only be
// safe to call from a single goroutine at a time (the tick thread); no
// internal locking is required of them.
type Port interface {
	// ReadInputVolts reads channel on the given range/reference and returns
	// volts, or an error wrapping ctlerr.IoError on hardware failure.
	ReadInputVolts(ctx context.Context, channel uint32, rng uint32, ref Reference) (float64, error)

	// WriteOutputVolts writes volts to channel on the given range, with the
	// device itself asked to clamp to [clampMin, clampMax] as a second,
	// hardware-side line of defense behind the driver's own clamp.
	WriteOutputVolts(ctx context.Context, channel uint32, volts float64, rng uint32, clampMin, clampMax float64) error
}

// Sim is an in-memory stand-in for a real Analog I/O Port, grounded in the
// same "stateful mock hardware behind a mutex" shape as a lab motion
// controller mock: channels are just maps, writes are remembered, and a
// read can optionally be wired to feed back from a prior write so closed
// loop behavior can be exercised without hardware.
type Sim struct {
	mu sync.Mutex

	outputs map[uint32]float64
	inputs  map[uint32]float64

	// Feedback, when non-nil, is called after every WriteOutputVolts to
	// compute the input channel it returns and the value the next
	// ReadInputVolts on that channel should observe. This lets a test model
	// the magnet+probe transfer function.
	Feedback      func(outputChannel uint32, volts float64) (inputChannel uint32, inputVolts float64)
	FailNextRead  error
	FailNextWrite error
}

// NewSim returns a ready-to-use simulated port with no wiring between
// outputs and inputs; set Feedback to model a physical loop.
func NewSim() *Sim {
	return &Sim{
		outputs: make(map[uint32]float64),
		inputs:  make(map[uint32]float64),
	}
}

// SetInput seeds the value a future ReadInputVolts on channel will return,
// absent any Feedback override.
func (s *Sim) SetInput(channel uint32, volts float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs[channel] = volts
}

// LastOutput returns the most recent value written to channel.
func (s *Sim) LastOutput(channel uint32) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs[channel]
}

// ReadInputVolts implements Port.
func (s *Sim) ReadInputVolts(ctx context.Context, channel uint32, rng uint32, ref Reference) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNextRead != nil {
		err := s.FailNextRead
		s.FailNextRead = nil
		return 0, ctlerr.IoError{Op: "read_input_volts", Err: err}
	}
	return s.inputs[channel], nil
}

// WriteOutputVolts implements Port.
func (s *Sim) WriteOutputVolts(ctx context.Context, channel uint32, volts float64, rng uint32, clampMin, clampMax float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNextWrite != nil {
		err := s.FailNextWrite
		s.FailNextWrite = nil
		return ctlerr.IoError{Op: "write_output_volts", Err: err}
	}
	if volts < clampMin || volts > clampMax {
		return ctlerr.IoError{Op: "write_output_volts", Err: fmt.Errorf("volts %v outside device clamp [%v,%v]", volts, clampMin, clampMax)}
	}
	s.outputs[channel] = volts
	if s.Feedback != nil {
		ic, iv := s.Feedback(channel, volts)
		s.inputs[ic] = iv
	}
	return nil
}
