package motion

import "gopper/vmath"

// AxisStepper is a per-motor iterator that, given the active Segment,
// produces the monotonically increasing sequence of times at which this
// motor must step and the direction of each step.
type AxisStepper interface {
	// AxisIndex is this stepper's slot in the authoritative axis-position
	// array.
	AxisIndex() int
	// Time returns the currently pending step time (segment-relative
	// seconds), or NeverTime if this axis has no further step this
	// segment.
	Time() float64
	// Direction returns the direction of the pending step.
	Direction() StepDirection
	// Advance commits the pending step (the caller has already dispatched
	// it) and computes the next candidate.
	Advance()
}

// CoordMap is a bidirectional function between cartesian (x, y, z, e)
// millimeters and per-axis microstep counts, together with bed leveling,
// bounding, home-position generation, and AxisStepper factories. The three
// concrete kinematics (Cartesian, LinearDelta, AngularDelta) implement it.
type CoordMap interface {
	// NumAxes returns the number of mechanical axes (including extruder).
	NumAxes() int
	// AxisNames returns a human-readable name per axis, for logging and
	// config binding.
	AxisNames() []string
	// StepsPerMM returns the microstep scale of axis i. For angular-delta
	// machines this is steps per degree of arm rotation.
	StepsPerMM(axis int) float64

	// XYZEFromMechanical computes the cartesian position implied by the
	// authoritative axis-position array. It is a pure function of
	// axisPositions: it must not depend on host zero, unit mode, or move
	// history.
	XYZEFromMechanical(axisPositions []int64) vmath.Vector4

	// ApplyLeveling applies the bed-leveling transform to a cartesian
	// target.
	ApplyLeveling(target vmath.Vector4) vmath.Vector4

	// Bound clamps an unreachable cartesian coordinate into the machine's
	// reachable volume.
	Bound(target vmath.Vector4) vmath.Vector4

	// HomePosition returns the axis-position array to adopt once homing
	// completes (carriages/arms are assumed at their endstops).
	HomePosition(current []int64) []int64

	// DoHomeBeforeFirstMovement reports whether State must inject a home
	// before honoring the first movement command.
	DoHomeBeforeFirstMovement() bool

	// LinearSteppers builds one AxisStepper per axis for a straight-line
	// segment from current axis position to the segment's target.
	LinearSteppers(axisPositions []int64, seg *Segment) []AxisStepper
	// ArcSteppers builds one AxisStepper per axis for an arc segment.
	ArcSteppers(axisPositions []int64, seg *Segment) []AxisStepper
	// HomeSteppers builds one AxisStepper per axis that steps toward its
	// endstop at the segment's home rate.
	HomeSteppers(axisPositions []int64, seg *Segment, endstops []EndstopSensor) []AxisStepper
}

// EndstopSensor is the minimal interface HomeSteppers needs from an
// iodrv endstop without importing the iodrv package.
type EndstopSensor interface {
	Triggered() bool
}
