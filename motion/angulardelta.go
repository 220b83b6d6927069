package motion

import (
	"math"

	"gopper/vmath"
)

const (
	sin120 = 0.866025403784439
	cos120 = -0.5
	tan60  = 1.732050807568877
	sin30  = 0.5
	tan30  = 0.577350269189626
)

// AngularDeltaCoordMap implements a machine with three pivoting upper arms
// (bicep, length RF) driven directly by servos/geared motors, connected by
// parallelogram lower arms (forearm, length RE) to an end-effector
// triangle. Forward kinematics is the classical closed-form
// three-sphere-intersection solution; see deltaAngularForward.
type AngularDeltaCoordMap struct {
	BaseSide      float64 // f: side length of the fixed base triangle
	EffectorSide  float64 // e: side length of the moving effector triangle
	BicepLength   float64 // rf: upper arm length
	ForearmLength float64 // re: lower arm length
	StepsPerDeg   [3]float64
	EStepsPerMM   float64
	HomeAngleDeg  float64 // arm angle (degrees) adopted once homed
	ZOffset       float64
}

func NewAngularDeltaCoordMap(baseSide, effectorSide, bicep, forearm float64, stepsPerDeg [3]float64, eStepsPerMM, homeAngleDeg, zOffset float64) *AngularDeltaCoordMap {
	return &AngularDeltaCoordMap{
		BaseSide: baseSide, EffectorSide: effectorSide, BicepLength: bicep, ForearmLength: forearm,
		StepsPerDeg: stepsPerDeg, EStepsPerMM: eStepsPerMM, HomeAngleDeg: homeAngleDeg, ZOffset: zOffset,
	}
}

func (d *AngularDeltaCoordMap) NumAxes() int       { return 4 }
func (d *AngularDeltaCoordMap) AxisNames() []string { return []string{"arm1", "arm2", "arm3", "e"} }
func (d *AngularDeltaCoordMap) StepsPerMM(axis int) float64 {
	if axis < 3 {
		return d.StepsPerDeg[axis]
	}
	return d.EStepsPerMM
}

// deltaAngularForward is the classical closed-form forward kinematics for
// an angular (rotary) delta: each upper arm's known angle fixes its elbow
// position; the effector position is the point, below the base, common to
// the three spheres of radius ForearmLength centered at each elbow.
func deltaAngularForward(theta1, theta2, theta3 rad, f, e, rf, re float64) (vmath.Vector3, bool) {
	t := (f - e) * tan30 / 2

	y1 := -(t + rf*math.Cos(float64(theta1)))
	z1 := -rf * math.Sin(float64(theta1))

	y2 := (t + rf*math.Cos(float64(theta2))) * sin30
	x2 := y2 * tan60
	z2 := -rf * math.Sin(float64(theta2))

	y3 := (t + rf*math.Cos(float64(theta3))) * sin30
	x3 := -y3 * tan60
	z3 := -rf * math.Sin(float64(theta3))

	dnm := (y2-y1)*x3 - (y3-y1)*x2

	w1 := y1*y1 + z1*z1
	w2 := x2*x2 + y2*y2 + z2*z2
	w3 := x3*x3 + y3*y3 + z3*z3

	a1 := (z2-z1)*(y3-y1) - (z3-z1)*(y2-y1)
	b1 := -((w2-w1)*(y3-y1) - (w3-w1)*(y2-y1)) / 2

	a2 := -(z2-z1)*x3 + (z3-z1)*x2
	b2 := ((w2-w1)*x3 - (w3-w1)*x2) / 2

	a := a1*a1 + a2*a2 + dnm*dnm
	b := 2 * (a1*b1 + a2*(b2-y1*dnm) - z1*dnm*dnm)
	c := (b2-y1*dnm)*(b2-y1*dnm) + b1*b1 + dnm*dnm*(z1*z1-re*re)

	disc := b*b - 4*a*c
	if disc < 0 || a == 0 {
		return vmath.Vector3{}, false
	}
	z0 := -0.5 * (b + math.Sqrt(disc)) / a
	x0 := (a1*z0 + b1) / dnm
	y0 := (a2*z0 + b2) / dnm
	return vmath.Vector3{X: x0, Y: y0, Z: z0}, true
}

type rad float64

// deltaArmAngleYZ is the per-arm (single-tower) inverse kinematics: given
// the effector position already rotated into that arm's local YZ-plane
// frame, solve for its upper-arm angle. This is the standard closed-form
// single-arm solve shared by all three towers after rotating coordinates
// by 0/120/240 degrees.
func deltaArmAngleYZ(x0, y0, z0, f, e, rf, re float64) (float64, bool) {
	y1 := -0.5 * tan30 * f
	y0 -= 0.5 * tan30 * e
	if z0 == 0 {
		return 0, false
	}
	a := (x0*x0 + y0*y0 + z0*z0 + rf*rf - re*re - y1*y1) / (2 * z0)
	b := (y1 - y0) / z0
	disc := -(a+b*y1)*(a+b*y1) + rf*(b*b*rf+rf)
	if disc < 0 {
		return 0, false
	}
	yj := (y1 - a*b - math.Sqrt(disc)) / (b*b + 1)
	zj := a + b*yj
	theta := math.Atan2(-zj, y1-yj)
	if yj > y1 {
		theta += math.Pi
	}
	return theta * 180 / math.Pi, true
}

// armAngleDegrees returns tower i's arm angle (degrees) for effector
// position p, by rotating p into tower i's local frame and calling
// deltaArmAngleYZ.
func (d *AngularDeltaCoordMap) armAngleDegrees(i int, p vmath.Vector3) (float64, bool) {
	x, y := p.X, p.Y
	z := p.Z - d.ZOffset
	switch i {
	case 0:
		return deltaArmAngleYZ(x, y, z, d.BaseSide, d.EffectorSide, d.BicepLength, d.ForearmLength)
	case 1:
		return deltaArmAngleYZ(x*cos120+y*sin120, y*cos120-x*sin120, z, d.BaseSide, d.EffectorSide, d.BicepLength, d.ForearmLength)
	default:
		return deltaArmAngleYZ(x*cos120-y*sin120, y*cos120+x*sin120, z, d.BaseSide, d.EffectorSide, d.BicepLength, d.ForearmLength)
	}
}

func (d *AngularDeltaCoordMap) XYZEFromMechanical(axisPositions []int64) vmath.Vector4 {
	theta := [3]float64{
		float64(axisPositions[0]) / d.StepsPerDeg[0],
		float64(axisPositions[1]) / d.StepsPerDeg[1],
		float64(axisPositions[2]) / d.StepsPerDeg[2],
	}
	p, ok := deltaAngularForward(rad(theta[0]*math.Pi/180), rad(theta[1]*math.Pi/180), rad(theta[2]*math.Pi/180), d.BaseSide, d.EffectorSide, d.BicepLength, d.ForearmLength)
	if !ok {
		p = vmath.Vector3{}
	}
	p.Z += d.ZOffset
	e := float64(axisPositions[3]) / d.EStepsPerMM
	return vmath.Vec4FromXYZE(p, e)
}

func (d *AngularDeltaCoordMap) ApplyLeveling(target vmath.Vector4) vmath.Vector4 { return target }

// Bound is intentionally permissive: the reachable volume of an angular
// delta is a non-trivial dome shape bounded by each arm's physical swing
// limits, which are enforced per-step by armAngleDegrees returning false
// (no solution) rather than by clamping the cartesian target up front.
func (d *AngularDeltaCoordMap) Bound(target vmath.Vector4) vmath.Vector4 { return target }

func (d *AngularDeltaCoordMap) HomePosition(current []int64) []int64 {
	out := make([]int64, len(current))
	copy(out, current)
	for i := 0; i < 3; i++ {
		out[i] = int64(d.HomeAngleDeg * d.StepsPerDeg[i])
	}
	return out
}

func (d *AngularDeltaCoordMap) DoHomeBeforeFirstMovement() bool { return true }

func (d *AngularDeltaCoordMap) LinearSteppers(axisPositions []int64, seg *Segment) []AxisStepper {
	out := make([]AxisStepper, 4)
	for i := 0; i < 3; i++ {
		out[i] = newAngularDeltaAxisStepper(i, d, axisPositions[i], seg, seg.Duration)
	}
	out[3] = newLinearAxisStepper(3, axisPositions[3], d.EStepsPerMM, seg.Velocity.E)
	return out
}

func (d *AngularDeltaCoordMap) ArcSteppers(axisPositions []int64, seg *Segment) []AxisStepper {
	out := make([]AxisStepper, 4)
	for i := 0; i < 3; i++ {
		out[i] = newAngularDeltaAxisStepper(i, d, axisPositions[i], seg, seg.Duration)
	}
	out[3] = newLinearAxisStepper(3, axisPositions[3], d.EStepsPerMM, seg.EVelocity)
	return out
}

func (d *AngularDeltaCoordMap) HomeSteppers(axisPositions []int64, seg *Segment, endstops []EndstopSensor) []AxisStepper {
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

// angularDeltaAxisStepper supplies the per-arm step-time solver the
// original source left as a "TODO: calculate the time of the next step":
// it samples the closed-form arm angle along the segment's cartesian path
// and bisects for the time at which that angle crosses the next microstep
// boundary in either direction.
type angularDeltaAxisStepper struct {
	tower int
	cm    *AngularDeltaCoordMap
	seg   *Segment
	endT  float64

	curSteps int64
	curTime  float64
	nextTime float64
	dir      StepDirection
}

func newAngularDeltaAxisStepper(tower int, cm *AngularDeltaCoordMap, startSteps int64, seg *Segment, endT float64) *angularDeltaAxisStepper {
	s := &angularDeltaAxisStepper{tower: tower, cm: cm, seg: seg, endT: endT, curSteps: startSteps}
	s.computeNext()
	return s
}

func (s *angularDeltaAxisStepper) angleAt(t float64) (float64, bool) {
	p := s.seg.PositionAt(t)
	return s.cm.armAngleDegrees(s.tower, p.XYZ())
}

// findCrossing searches (afterTime, endT] for the first time the arm angle
// crosses targetDeg, by coarse sampling followed by bisection within the
// bracketing sample interval. The arm angle is continuous and, for the
// small single-microstep search window used here, effectively monotone
// between samples, so a sign change of (angle-target) between consecutive
// samples brackets exactly one crossing.
func (s *angularDeltaAxisStepper) findCrossing(targetDeg, afterTime, endT float64) (float64, bool) {
	const samples = 64
	if endT <= afterTime {
		return 0, false
	}
	step := (endT - afterTime) / samples
	prevT := afterTime
	prevAngle, ok := s.angleAt(prevT)
	if !ok {
		return 0, false
	}
	prevDiff := prevAngle - targetDeg
	for i := 1; i <= samples; i++ {
		t := afterTime + float64(i)*step
		angle, ok := s.angleAt(t)
		if !ok {
			continue
		}
		diff := angle - targetDeg
		if prevDiff == 0 {
			return prevT, prevT > afterTime
		}
		if (prevDiff < 0) != (diff < 0) {
			lo, hi := prevT, t
			for iter := 0; iter < 40; iter++ {
				mid := (lo + hi) / 2
				a, ok := s.angleAt(mid)
				if !ok {
					break
				}
				d := a - targetDeg
				if (d < 0) == (prevDiff < 0) {
					lo = mid
				} else {
					hi = mid
				}
			}
			return (lo + hi) / 2, true
		}
		prevT, prevDiff = t, diff
	}
	return 0, false
}

func (s *angularDeltaAxisStepper) computeNext() {
	curAngle, ok := s.angleAt(s.curTime)
	if !ok {
		s.nextTime = NeverTime
		return
	}
	stepDeg := 1 / s.cm.StepsPerDeg[s.tower]
	tUp, okUp := s.findCrossing(curAngle+stepDeg, s.curTime, s.endT)
	tDown, okDown := s.findCrossing(curAngle-stepDeg, s.curTime, s.endT)
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

func (s *angularDeltaAxisStepper) AxisIndex() int          { return s.tower }
func (s *angularDeltaAxisStepper) Time() float64           { return s.nextTime }
func (s *angularDeltaAxisStepper) Direction() StepDirection { return s.dir }
func (s *angularDeltaAxisStepper) Advance() {
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
