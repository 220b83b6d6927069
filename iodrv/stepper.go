package iodrv

import "gopper/motion"

// stepPulseWidth is the minimum time the STEP pin must stay low before
// being driven high again, per typical stepper-driver datasheets (A4988,
// DRV8825, TMC2xxx all tolerate >=1us; 8us matches the step-event budget
// the planner assumes per step).
const stepPulseWidth = 8e-6

// StepDirDriver expands a motion.Event into the OutputEvent sequence a
// step/dir stepper driver chip needs: set DIR, drop STEP low, then raise
// STEP high after stepPulseWidth. It also exposes enable/disable, which
// most drivers wire active-low.
type StepDirDriver struct {
	Step, Dir *IoPin
	Enable    *IoPin // nil if this axis has no dedicated enable line
	InvertDir bool
}

// NewStepDirDriver builds a step/dir driver over the given pins.
func NewStepDirDriver(step, dir, enable *IoPin, invertDir bool) *StepDirDriver {
	return &StepDirDriver{Step: step, Dir: dir, Enable: enable, InvertDir: invertDir}
}

// Expand turns one step Event into its OutputEvents, in the order the
// hardware scheduler must deliver them: DIR at t, STEP low at t, STEP high
// at t+stepPulseWidth.
func (d *StepDirDriver) Expand(ev motion.Event) []motion.OutputEvent {
	dirHigh := ev.Dir == motion.Forward
	if d.InvertDir {
		dirHigh = !dirHigh
	}
	return []motion.OutputEvent{
		{Time: ev.Time, Pin: pinHandleOf(d.Dir), Level: dirHigh},
		{Time: ev.Time, Pin: pinHandleOf(d.Step), Level: false},
		{Time: ev.Time + stepPulseWidth, Pin: pinHandleOf(d.Step), Level: true},
	}
}

// SetEnabled drives the driver's enable line active or inactive (most
// drivers: active low, handled by the pin's Inverted flag).
func (d *StepDirDriver) SetEnabled(enabled bool) {
	if d.Enable == nil {
		return
	}
	d.Enable.SetLogical(Level(enabled))
}

// pinHandleOf maps an *IoPin to the small integer handle the motion
// package's OutputEvent carries; the hardware scheduler resolves handles
// back to *IoPin via PinByHandle.
func pinHandleOf(p *IoPin) motion.PinHandle {
	return motion.PinHandle(handleFor(p))
}

// HandleFor exposes pinHandleOf's mapping to callers outside this package
// (the state package's scheduler.SchedPWM adapter, which only ever sees an
// *IoPin and needs the same handle the hardware scheduler resolves).
func HandleFor(p *IoPin) motion.PinHandle {
	return pinHandleOf(p)
}
