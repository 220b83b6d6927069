package motion

import (
	"gopper/logging"
	"gopper/vmath"
)

// AxisSpec describes one mechanical axis shared by all CoordMap
// implementations: its name, microstep scale, and soft travel limits.
type AxisSpec struct {
	Name        string
	StepsPerMM  float64
	MinPosition float64
	MaxPosition float64
}

// CartesianCoordMap implements a machine where each motor maps directly to
// one cartesian axis (x, y, z, e); the fourth axis is always the
// extruder and is never bounded by the build volume.
type CartesianCoordMap struct {
	Axes     [4]AxisSpec // x, y, z, e
	Leveling vmath.Matrix3
}

// NewCartesianCoordMap builds a Cartesian kinematic from per-axis specs
// (x, y, z, e, in that order) with no bed leveling applied.
func NewCartesianCoordMap(axes [4]AxisSpec) *CartesianCoordMap {
	return &CartesianCoordMap{Axes: axes, Leveling: vmath.Identity3()}
}

func (c *CartesianCoordMap) NumAxes() int { return 4 }

func (c *CartesianCoordMap) AxisNames() []string {
	return []string{c.Axes[0].Name, c.Axes[1].Name, c.Axes[2].Name, c.Axes[3].Name}
}

func (c *CartesianCoordMap) StepsPerMM(axis int) float64 { return c.Axes[axis].StepsPerMM }

func (c *CartesianCoordMap) XYZEFromMechanical(axisPositions []int64) vmath.Vector4 {
	return vmath.Vector4{
		X: float64(axisPositions[0]) / c.Axes[0].StepsPerMM,
		Y: float64(axisPositions[1]) / c.Axes[1].StepsPerMM,
		Z: float64(axisPositions[2]) / c.Axes[2].StepsPerMM,
		E: float64(axisPositions[3]) / c.Axes[3].StepsPerMM,
	}
}

func (c *CartesianCoordMap) ApplyLeveling(target vmath.Vector4) vmath.Vector4 {
	xyz := c.Leveling.MulVec3(target.XYZ())
	return vmath.Vec4FromXYZE(xyz, target.E)
}

func (c *CartesianCoordMap) Bound(target vmath.Vector4) vmath.Vector4 {
	clamp := func(axis string, v, lo, hi float64) float64 {
		if v < lo {
			logging.Debugf("cartesian: clamped %s=%.4f to min %.4f", axis, v, lo)
			return lo
		}
		if v > hi {
			logging.Debugf("cartesian: clamped %s=%.4f to max %.4f", axis, v, hi)
			return hi
		}
		return v
	}
	return vmath.Vector4{
		X: clamp(c.Axes[0].Name, target.X, c.Axes[0].MinPosition, c.Axes[0].MaxPosition),
		Y: clamp(c.Axes[1].Name, target.Y, c.Axes[1].MinPosition, c.Axes[1].MaxPosition),
		Z: clamp(c.Axes[2].Name, target.Z, c.Axes[2].MinPosition, c.Axes[2].MaxPosition),
		E: target.E,
	}
}

func (c *CartesianCoordMap) HomePosition(current []int64) []int64 {
	out := make([]int64, len(current))
	copy(out, current)
	out[0] = 0
	out[1] = 0
	out[2] = 0
	return out
}

func (c *CartesianCoordMap) DoHomeBeforeFirstMovement() bool { return true }

func (c *CartesianCoordMap) LinearSteppers(axisPositions []int64, seg *Segment) []AxisStepper {
	out := make([]AxisStepper, 4)
	for i := 0; i < 4; i++ {
		out[i] = newLinearAxisStepper(i, axisPositions[i], c.Axes[i].StepsPerMM, velocityComponent(seg.Velocity, i))
	}
	return out
}

func (c *CartesianCoordMap) ArcSteppers(axisPositions []int64, seg *Segment) []AxisStepper {
	out := make([]AxisStepper, 4)
	// X, Y, Z follow the arc; E advances linearly.
	uArr := [3]float64{seg.U.X, seg.U.Y, seg.U.Z}
	vArr := [3]float64{seg.V.X, seg.V.Y, seg.V.Z}
	centerArr := [3]float64{seg.Center.X, seg.Center.Y, seg.Center.Z}
	for i := 0; i < 3; i++ {
		out[i] = newCartesianArcAxisStepper(i, axisPositions[i], c.Axes[i].StepsPerMM,
			centerArr[i], uArr[i], vArr[i], seg.Radius, seg.AngularVelocity)
	}
	out[3] = newLinearAxisStepper(3, axisPositions[3], c.Axes[3].StepsPerMM, seg.EVelocity)
	return out
}

func (c *CartesianCoordMap) HomeSteppers(axisPositions []int64, seg *Segment, endstops []EndstopSensor) []AxisStepper {
	out := make([]AxisStepper, 4)
	for i := 0; i < 4; i++ {
		var es EndstopSensor
		if i < len(endstops) {
			es = endstops[i]
		}
		out[i] = newHomeAxisStepper(i, c.Axes[i].StepsPerMM, seg.HomeRate, es)
	}
	return out
}

func velocityComponent(v vmath.Vector4, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	case 2:
		return v.Z
	default:
		return v.E
	}
}

// linearAxisStepper steps at a constant rate implied by a constant
// cartesian axis velocity: time_per_step = 1/(|v|*steps_per_mm).
type linearAxisStepper struct {
	axis        int
	stepsPerMM  float64
	velocity    float64
	dir         StepDirection
	timePerStep float64
	stepsTaken  int64
	nextTime    float64
}

func newLinearAxisStepper(axis int, startPos int64, stepsPerMM, velocity float64) *linearAxisStepper {
	s := &linearAxisStepper{axis: axis, stepsPerMM: stepsPerMM, velocity: velocity}
	if velocity >= 0 {
		s.dir = Forward
	} else {
		s.dir = Backward
	}
	absV := velocity
	if absV < 0 {
		absV = -absV
	}
	if absV == 0 || stepsPerMM == 0 {
		s.nextTime = NeverTime
		return s
	}
	s.timePerStep = 1 / (absV * stepsPerMM)
	s.stepsTaken = 0
	s.nextTime = s.timePerStep
	return s
}

func (s *linearAxisStepper) AxisIndex() int          { return s.axis }
func (s *linearAxisStepper) Time() float64           { return s.nextTime }
func (s *linearAxisStepper) Direction() StepDirection { return s.dir }
func (s *linearAxisStepper) Advance() {
	if IsNever(s.nextTime) {
		return
	}
	s.stepsTaken++
	s.nextTime = float64(s.stepsTaken+1) * s.timePerStep
}

// cartesianArcAxisStepper steps one cartesian component of an arc by
// solving the sinusoidal position equation for the next microstep boundary
// in either direction and picking whichever is sooner.
type cartesianArcAxisStepper struct {
	axis            int
	stepsPerMM      float64
	center, u, v    float64
	radius          float64
	angularVelocity float64
	curSteps        int64
	curTime         float64
	nextTime        float64
	dir             StepDirection
}

func newCartesianArcAxisStepper(axis int, startPos int64, stepsPerMM, center, u, v, radius, w float64) *cartesianArcAxisStepper {
	s := &cartesianArcAxisStepper{
		axis: axis, stepsPerMM: stepsPerMM, center: center, u: u, v: v,
		radius: radius, angularVelocity: w, curSteps: startPos,
	}
	s.computeNext()
	return s
}

func (s *cartesianArcAxisStepper) computeNext() {
	if s.stepsPerMM == 0 || s.angularVelocity == 0 {
		s.nextTime = NeverTime
		return
	}
	m := s.radius * s.v
	n := s.radius * s.u
	tFwd, okFwd := solveSinCos(m, n, float64(s.curSteps+1)/s.stepsPerMM-s.center, s.angularVelocity, s.curTime, 1.5)
	tBwd, okBwd := solveSinCos(m, n, float64(s.curSteps-1)/s.stepsPerMM-s.center, s.angularVelocity, s.curTime, 1.5)
	switch {
	case okFwd && (!okBwd || tFwd <= tBwd):
		s.nextTime = tFwd
		s.dir = Forward
	case okBwd:
		s.nextTime = tBwd
		s.dir = Backward
	default:
		s.nextTime = NeverTime
	}
}

func (s *cartesianArcAxisStepper) AxisIndex() int          { return s.axis }
func (s *cartesianArcAxisStepper) Time() float64           { return s.nextTime }
func (s *cartesianArcAxisStepper) Direction() StepDirection { return s.dir }
func (s *cartesianArcAxisStepper) Advance() {
	if IsNever(s.nextTime) {
		return
	}
	if s.dir == Forward {
		s.curSteps++
	} else {
		s.curSteps--
	}
	s.curTime = s.nextTime
	s.computeNext()
}

// homeAxisStepper steps at a fixed homing rate until its endstop reports
// triggered, then reports NeverTime forever.
type homeAxisStepper struct {
	axis        int
	timePerStep float64
	endstop     EndstopSensor
	stepsTaken  int64
	triggered   bool
}

func newHomeAxisStepper(axis int, stepsPerMM, homeRateMMPerSec float64, endstop EndstopSensor) *homeAxisStepper {
	s := &homeAxisStepper{axis: axis, endstop: endstop}
	if endstop == nil || homeRateMMPerSec <= 0 || stepsPerMM <= 0 {
		s.triggered = true
		return s
	}
	s.timePerStep = 1 / (homeRateMMPerSec * stepsPerMM)
	return s
}

func (s *homeAxisStepper) AxisIndex() int          { return s.axis }
func (s *homeAxisStepper) Direction() StepDirection { return Backward } // homing always retracts toward the endstop
func (s *homeAxisStepper) Time() float64 {
	if s.triggered || (s.endstop != nil && s.endstop.Triggered()) {
		return NeverTime
	}
	return float64(s.stepsTaken+1) * s.timePerStep
}
func (s *homeAxisStepper) Advance() {
	if s.triggered {
		return
	}
	s.stepsTaken++
	if s.endstop != nil && s.endstop.Triggered() {
		s.triggered = true
	}
}
