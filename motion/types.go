// Package motion implements the kinematic transforms (CoordMap), the
// per-motor step-time solvers (AxisStepper), the acceleration profile, and
// the MotionPlanner that ties them together into a stream of step Events.
package motion

import (
	"math"

	"gopper/vmath"
)

// StepDirection is the direction of a single microstep.
type StepDirection int

const (
	Backward StepDirection = -1
	Forward  StepDirection = 1
)

// Event is a step event produced by the MotionPlanner: "motor axis must
// advance one microstep in direction Dir at absolute time Time". Time has
// already had the segment's start time and acceleration profile applied.
type Event struct {
	Time float64 // seconds, absolute
	Axis int
	Dir  StepDirection
}

// OutputEvent is the sole currency crossing from planning into the
// hardware scheduler: a pin transition at an absolute time.
type OutputEvent struct {
	Time  float64 // seconds, absolute (same epoch as the Scheduler's clock)
	Pin   PinHandle
	Level bool
}

// PinHandle identifies a physical pin to the hardware scheduler without
// motion needing to import the iodrv package (which in turn may depend on
// motion-adjacent types); it is a small integer index assigned by whichever
// IoPin registry owns the real handle.
type PinHandle int

// NeverTime is the sentinel meaning "this axis has no further pending step
// in the active segment." NaN comparisons are always false, which is
// exactly the "never" semantics the step-selection loop wants.
var NeverTime = math.NaN()

// IsNever reports whether t is the "never" sentinel.
func IsNever(t float64) bool { return math.IsNaN(t) }

// SegmentKind tags the variant of the planner's current unit of work.
type SegmentKind int

const (
	SegNone SegmentKind = iota
	SegLinear
	SegArc
	SegHome
)

// Segment is the planner's current piece of work. Exactly one of the
// kind-specific field groups is meaningful, selected by Kind.
type Segment struct {
	Kind      SegmentKind
	StartTime float64 // absolute time the segment begins
	Duration  float64 // nominal (pre-acceleration) duration; NaN for Home

	// Linear: P(t) = P0 + Velocity*t, 0 <= t <= Duration.
	P0       vmath.Vector4
	Velocity vmath.Vector4

	// Arc: planar motion around Center in the plane spanned by the
	// orthonormal pair (U, V); P(t) = Center + R*cos(w*t)*U + R*sin(w*t)*V.
	// E still advances linearly alongside the arc.
	Center          vmath.Vector3
	U, V            vmath.Vector3
	Radius          float64
	AngularVelocity float64 // signed: positive counter-clockwise about U×V
	E0              float64
	EVelocity       float64

	// Home: steppers run at a fixed homing rate until their endstop
	// reports triggered; Duration is NaN (no nominal end time).
	HomeRate float64 // mm/s, per-axis scaled by steps/mm inside the stepper

	Accel AccelProfile
}

// PositionAt returns the nominal (pre-acceleration) cartesian position of
// the toolhead at segment-local time t, for Linear and Arc segments.
func (s *Segment) PositionAt(t float64) vmath.Vector4 {
	switch s.Kind {
	case SegLinear:
		return s.P0.Add(s.Velocity.Scale(t))
	case SegArc:
		theta := s.AngularVelocity * t
		p := s.Center.Add(s.U.Scale(s.Radius * math.Cos(theta))).Add(s.V.Scale(s.Radius * math.Sin(theta)))
		return vmath.Vec4FromXYZE(p, s.E0+s.EVelocity*t)
	default:
		return vmath.Vector4{}
	}
}
