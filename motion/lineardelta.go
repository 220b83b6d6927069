package motion

import "math"

import (
	"gopper/logging"
	"gopper/vmath"
)

// LinearDeltaCoordMap implements a linear-delta machine: three vertical
// carriages at towers spaced 120 degrees apart on a circle of radius
// Radius, connected by fixed rods of length RodLength to the end effector.
type LinearDeltaCoordMap struct {
	Radius      float64
	RodLength   float64
	CarriageStepsPerMM [3]float64 // per-tower carriage microstep scale
	EStepsPerMM float64
	HomeHeight  float64 // carriage height (mm) once homed, each tower
	MinZ        float64
	MaxZ        float64
	BuildRadius float64

	towerXY [3]vmath.Vector3 // x, y fixed per tower; z left at 0, filled per call
}

// towerAngles are the fixed 0/120/240 degree tower placements.
var towerAngles = [3]float64{0, 2 * math.Pi / 3, 4 * math.Pi / 3}

// NewLinearDeltaCoordMap builds a linear-delta kinematic from its physical
// parameters.
func NewLinearDeltaCoordMap(radius, rodLength float64, stepsPerMM [3]float64, eStepsPerMM, homeHeight, minZ, maxZ, buildRadius float64) *LinearDeltaCoordMap {
	d := &LinearDeltaCoordMap{
		Radius: radius, RodLength: rodLength, CarriageStepsPerMM: stepsPerMM,
		EStepsPerMM: eStepsPerMM, HomeHeight: homeHeight,
		MinZ: minZ, MaxZ: maxZ, BuildRadius: buildRadius,
	}
	for i, angle := range towerAngles {
		d.towerXY[i] = vmath.Vector3{X: radius * math.Sin(angle), Y: radius * math.Cos(angle)}
	}
	return d
}

// towerPosition returns the full 3D position of tower i's carriage at the
// given height.
func (d *LinearDeltaCoordMap) towerPosition(i int, height float64) vmath.Vector3 {
	p := d.towerXY[i]
	p.Z = height
	return p
}

func (d *LinearDeltaCoordMap) NumAxes() int { return 4 }

func (d *LinearDeltaCoordMap) AxisNames() []string { return []string{"a", "b", "c", "e"} }

func (d *LinearDeltaCoordMap) StepsPerMM(axis int) float64 {
	if axis < 3 {
		return d.CarriageStepsPerMM[axis]
	}
	return d.EStepsPerMM
}

// XYZEFromMechanical solves the forward kinematics by trilateration: the
// end effector lies at the intersection, below the towers, of three
// spheres of radius RodLength centered at each carriage's current
// position. This is the standard trilateration solution to the same
// |effector - carriage_i| = L constraint system the original closed-form,
// case-split solver expresses directly; trilateration handles the
// degenerate equal-height towers without a separate branch because the
// basis vectors it builds never collapse for a non-degenerate
// (non-collinear) tower triangle.
func (d *LinearDeltaCoordMap) XYZEFromMechanical(axisPositions []int64) vmath.Vector4 {
	heights := [3]float64{
		float64(axisPositions[0]) / d.CarriageStepsPerMM[0],
		float64(axisPositions[1]) / d.CarriageStepsPerMM[1],
		float64(axisPositions[2]) / d.CarriageStepsPerMM[2],
	}
	p1 := d.towerPosition(0, heights[0])
	p2 := d.towerPosition(1, heights[1])
	p3 := d.towerPosition(2, heights[2])

	p1p2 := p2.Sub(p1)
	dist := p1p2.Mag()
	ex := p1p2.Scale(1 / dist)
	p1p3 := p3.Sub(p1)
	i := ex.Dot(p1p3)
	ey := p1p3.Sub(ex.Scale(i)).Norm()
	ez := ex.Cross(ey)
	j := ey.Dot(p1p3)

	x := dist / 2
	y := (i*i + j*j - 2*i*x) / (2 * j)
	zSq := d.RodLength*d.RodLength - x*x - y*y
	z := 0.0
	if zSq > 0 {
		z = -math.Sqrt(zSq)
	}
	effector := p1.Add(ex.Scale(x)).Add(ey.Scale(y)).Add(ez.Scale(z))
	e := float64(axisPositions[3]) / d.EStepsPerMM
	return vmath.Vec4FromXYZE(effector, e)
}

func (d *LinearDeltaCoordMap) ApplyLeveling(target vmath.Vector4) vmath.Vector4 { return target }

func (d *LinearDeltaCoordMap) Bound(target vmath.Vector4) vmath.Vector4 {
	maxZ := d.HomeHeight + math.Sqrt(d.RodLength*d.RodLength-d.Radius*d.Radius)
	if target.Z < d.MinZ {
		logging.Debugf("lineardelta: clamped z=%.4f to min %.4f", target.Z, d.MinZ)
		target.Z = d.MinZ
	}
	if target.Z > maxZ {
		logging.Debugf("lineardelta: clamped z=%.4f to max %.4f", target.Z, maxZ)
		target.Z = maxZ
	}
	if xyMag := math.Hypot(target.X, target.Y); xyMag > d.BuildRadius && xyMag > 0 {
		logging.Debugf("lineardelta: clamped xy radius %.4f to build radius %.4f", xyMag, d.BuildRadius)
		scale := d.BuildRadius / xyMag
		target.X *= scale
		target.Y *= scale
	}
	return target
}

func (d *LinearDeltaCoordMap) HomePosition(current []int64) []int64 {
	out := make([]int64, len(current))
	copy(out, current)
	for i := 0; i < 3; i++ {
		out[i] = int64(d.HomeHeight * d.CarriageStepsPerMM[i])
	}
	return out
}

func (d *LinearDeltaCoordMap) DoHomeBeforeFirstMovement() bool { return true }

func (d *LinearDeltaCoordMap) LinearSteppers(axisPositions []int64, seg *Segment) []AxisStepper {
	out := make([]AxisStepper, 4)
	v := seg.Velocity.XYZ()
	p0 := seg.P0.XYZ()
	for i := 0; i < 3; i++ {
		out[i] = newDeltaLinearAxisStepper(i, axisPositions[i], d.CarriageStepsPerMM[i], d.towerXY[i], d.RodLength, p0, v)
	}
	out[3] = newLinearAxisStepper(3, axisPositions[3], d.EStepsPerMM, seg.Velocity.E)
	return out
}

func (d *LinearDeltaCoordMap) ArcSteppers(axisPositions []int64, seg *Segment) []AxisStepper {
	out := make([]AxisStepper, 4)
	for i := 0; i < 3; i++ {
		out[i] = newDeltaArcAxisStepper(i, axisPositions[i], d.CarriageStepsPerMM[i], d.towerXY[i], d.RodLength, seg.Center, seg.U, seg.V, seg.Radius, seg.AngularVelocity)
	}
	out[3] = newLinearAxisStepper(3, axisPositions[3], d.EStepsPerMM, seg.EVelocity)
	return out
}

func (d *LinearDeltaCoordMap) HomeSteppers(axisPositions []int64, seg *Segment, endstops []EndstopSensor) []AxisStepper {
	out := make([]AxisStepper, 4)
	for i := 0; i < 4; i++ {
		var es EndstopSensor
		if i < len(endstops) {
			es = endstops[i]
		}
		out[i] = newHomeAxisStepper(i, d.StepsPerMM(i), seg.HomeRate, es)
	}
	return out
}

// deltaLinearAxisStepper solves |P0 + v*t - towerXY_at_candidateHeight| = L
// for t, testing the candidate carriage height one microstep above and
// below the current one and picking whichever yields the sooner valid
// time; the carriage can legitimately reverse direction mid-segment, so
// both directions are re-tested every step.
type deltaLinearAxisStepper struct {
	axis       int
	stepsPerMM float64
	towerXY    vmath.Vector3
	rodLength  float64
	p0, v      vmath.Vector3

	curSteps int64
	curTime  float64
	nextTime float64
	dir      StepDirection
}

func newDeltaLinearAxisStepper(axis int, startSteps int64, stepsPerMM float64, towerXY vmath.Vector3, rodLength float64, p0, v vmath.Vector3) *deltaLinearAxisStepper {
	s := &deltaLinearAxisStepper{axis: axis, stepsPerMM: stepsPerMM, towerXY: towerXY, rodLength: rodLength, p0: p0, v: v, curSteps: startSteps}
	s.computeNext()
	return s
}

func (s *deltaLinearAxisStepper) testDir(candidateSteps int64) (float64, bool) {
	towerPos := s.towerXY
	towerPos.Z = float64(candidateSteps) / s.stepsPerMM
	d := s.p0.Sub(towerPos)
	a := s.v.MagSq()
	b := 2 * s.v.Dot(d)
	c := d.MagSq() - s.rodLength*s.rodLength
	return solveQuadraticSmallestAbove(a, b, c, s.curTime)
}

func (s *deltaLinearAxisStepper) computeNext() {
	tUp, okUp := s.testDir(s.curSteps + 1)
	tDown, okDown := s.testDir(s.curSteps - 1)
	switch {
	case okUp && (!okDown || tUp <= tDown):
		s.nextTime = tUp
		s.dir = Forward
	case okDown:
		s.nextTime = tDown
		s.dir = Backward
	default:
		s.nextTime = NeverTime
	}
}

func (s *deltaLinearAxisStepper) AxisIndex() int          { return s.axis }
func (s *deltaLinearAxisStepper) Time() float64           { return s.nextTime }
func (s *deltaLinearAxisStepper) Direction() StepDirection { return s.dir }
func (s *deltaLinearAxisStepper) Advance() {
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

// deltaArcAxisStepper is the arc-segment analogue of deltaLinearAxisStepper:
// the rod-length constraint against an arc-shaped effector path collapses
// to m*sin(wt) + n*cos(wt) = p.
type deltaArcAxisStepper struct {
	axis            int
	stepsPerMM      float64
	towerXY         vmath.Vector3
	rodLength       float64
	center, u, v    vmath.Vector3
	radius          float64
	angularVelocity float64

	curSteps int64
	curTime  float64
	nextTime float64
	dir      StepDirection
}

func newDeltaArcAxisStepper(axis int, startSteps int64, stepsPerMM float64, towerXY vmath.Vector3, rodLength float64, center, u, v vmath.Vector3, radius, w float64) *deltaArcAxisStepper {
	s := &deltaArcAxisStepper{axis: axis, stepsPerMM: stepsPerMM, towerXY: towerXY, rodLength: rodLength, center: center, u: u, v: v, radius: radius, angularVelocity: w, curSteps: startSteps}
	s.computeNext()
	return s
}

func (s *deltaArcAxisStepper) testDir(candidateSteps int64) (float64, bool) {
	towerPos := s.towerXY
	towerPos.Z = float64(candidateSteps) / s.stepsPerMM
	delta := s.center.Sub(towerPos)
	m := 2 * s.radius * s.v.Dot(delta)
	n := 2 * s.radius * s.u.Dot(delta)
	p := s.rodLength*s.rodLength - s.radius*s.radius - delta.MagSq()
	return solveSinCos(m, n, p, s.angularVelocity, s.curTime, 1.5)
}

func (s *deltaArcAxisStepper) computeNext() {
	if s.angularVelocity == 0 {
		s.nextTime = NeverTime
		return
	}
	tUp, okUp := s.testDir(s.curSteps + 1)
	tDown, okDown := s.testDir(s.curSteps - 1)
	switch {
	case okUp && (!okDown || tUp <= tDown):
		s.nextTime = tUp
		s.dir = Forward
	case okDown:
		s.nextTime = tDown
		s.dir = Backward
	default:
		s.nextTime = NeverTime
	}
}

func (s *deltaArcAxisStepper) AxisIndex() int          { return s.axis }
func (s *deltaArcAxisStepper) Time() float64           { return s.nextTime }
func (s *deltaArcAxisStepper) Direction() StepDirection { return s.dir }
func (s *deltaArcAxisStepper) Advance() {
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
