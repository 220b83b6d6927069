package motion

import (
	"math"

	"gopper/vmath"
)

// MotionPlanner owns the current Segment and its AxisStepper collection.
// Callers must check ReadyForNextMove before calling an initiator; the
// planner does not queue multiple segments, matching the single-segment
// lookahead the rest of this system assumes.
type MotionPlanner struct {
	cm            CoordMap
	axisPositions []int64
	endstops      []EndstopSensor

	seg      Segment
	steppers []AxisStepper
}

// NewMotionPlanner builds a planner for the given kinematic, starting at
// the all-zero axis position (origin), with one endstop per axis.
func NewMotionPlanner(cm CoordMap, endstops []EndstopSensor) *MotionPlanner {
	return &MotionPlanner{
		cm:            cm,
		axisPositions: make([]int64, cm.NumAxes()),
		endstops:      endstops,
		seg:           Segment{Kind: SegNone},
	}
}

// ReadyForNextMove reports whether the active segment has finished, so a
// new one may be started.
func (p *MotionPlanner) ReadyForNextMove() bool { return p.seg.Kind == SegNone }

// CurrentCartesianPosition returns the toolhead's cartesian position
// implied by the authoritative axis-position array.
func (p *MotionPlanner) CurrentCartesianPosition() vmath.Vector4 {
	return p.cm.XYZEFromMechanical(p.axisPositions)
}

// AxisPositions returns the authoritative microstep position array. The
// caller must not mutate it; the planner itself updates it as steps are
// taken and when a homing segment completes.
func (p *MotionPlanner) AxisPositions() []int64 { return p.axisPositions }

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// resolveExtrusionVelocity clamps the nominal extrusion velocity implied by
// a move of duration nominalDuration into [minVelE, maxVelE], reducing
// maxVelXYZ (and therefore extending the duration) if the clamp bites, so
// extrusion never exceeds the machine's envelope.
func resolveExtrusionVelocity(dist, deltaE, maxVelXYZ, minVelE, maxVelE float64) (duration, eVel, velXYZ float64) {
	if maxVelXYZ <= 0 {
		maxVelXYZ = 1
	}
	duration = dist / maxVelXYZ
	if duration <= 0 {
		if deltaE == 0 {
			return 0, 0, maxVelXYZ
		}
		// Pure-E move: duration is driven entirely by the extrusion rate.
		eVel = clampF(deltaE, minVelE, maxVelE)
		if eVel == 0 {
			return 0, 0, maxVelXYZ
		}
		return deltaE / eVel, eVel, maxVelXYZ
	}
	eVel = deltaE / duration
	clamped := clampF(eVel, minVelE, maxVelE)
	if clamped != eVel && clamped != 0 {
		duration = deltaE / clamped
		velXYZ = dist / duration
		eVel = clamped
		return duration, eVel, velXYZ
	}
	return duration, eVel, maxVelXYZ
}

// MoveTo begins a linear segment from the current position to target,
// which is given in the same leveled/bounded cartesian frame the caller
// already resolved host units into. startTime is the absolute time the
// segment begins (normally the scheduler's last-planned-time watermark).
func (p *MotionPlanner) MoveTo(startTime float64, target vmath.Vector4, maxVelXYZ, minVelE, maxVelE, accel float64) {
	target = p.cm.ApplyLeveling(target)
	target = p.cm.Bound(target)
	current := p.CurrentCartesianPosition()

	deltaXYZ := target.XYZ().Sub(current.XYZ())
	dist := deltaXYZ.Mag()
	deltaE := target.E - current.E

	duration, eVel, velXYZ := resolveExtrusionVelocity(dist, deltaE, maxVelXYZ, minVelE, maxVelE)

	var velocity vmath.Vector4
	if duration > 0 {
		velocity = vmath.Vec4FromXYZE(deltaXYZ.Scale(velXYZ/maxF(dist, 1e-12)), eVel)
	}

	accelProfile := AccelProfile(NoAccel{})
	if accel > 0 && dist > 0 {
		accelProfile = NewTrapezoidalAccel(dist, velXYZ, accel)
	}

	p.seg = Segment{
		Kind:      SegLinear,
		StartTime: startTime,
		Duration:  duration,
		P0:        current,
		Velocity:  velocity,
		Accel:     accelProfile,
	}
	p.steppers = p.cm.LinearSteppers(p.axisPositions, &p.seg)
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// ArcTo begins an arc segment from the current position to target, curving
// around center (given as an absolute cartesian point, typically
// current+I/J/K). isCW selects clockwise vs counter-clockwise winding as
// viewed from the machine's +Z.
func (p *MotionPlanner) ArcTo(startTime float64, target vmath.Vector4, center vmath.Vector3, maxVelXYZ, minVelE, maxVelE, accel float64, isCW bool) {
	target = p.cm.ApplyLeveling(target)
	target = p.cm.Bound(target)
	current := p.CurrentCartesianPosition()

	// Reproject the caller-supplied center onto the perpendicular bisector
	// of current->target so both endpoints are equidistant from it.
	mid := current.XYZ().Add(target.XYZ()).Scale(0.5)
	chord := target.XYZ().Sub(current.XYZ())
	if chord.Mag() > 1e-12 {
		chordDir := chord.Norm()
		rel := center.Sub(mid)
		rel = rel.Sub(chordDir.Scale(rel.Dot(chordDir)))
		center = mid.Add(rel)
	}

	a := current.XYZ().Sub(center)
	b := target.XYZ().Sub(center)
	radius := a.Mag()

	var u, v vmath.Vector3
	theta := 0.0
	if radius > 1e-12 {
		u = a.Norm()
		vRaw := b.Sub(u.Scale(b.Dot(u)))
		if vRaw.Mag() > 1e-12 {
			v = vRaw.Norm()
		} else {
			v = u
		}
		cosTheta := clampF(a.Dot(b)/(radius*radius), -1, 1)
		theta = math.Acos(cosTheta)
		cross := u.Cross(v)
		wantPositiveZ := !isCW
		if (cross.Z > 0) != wantPositiveZ {
			// Sweeping the other way round reaches b after 2*pi - theta.
			v = v.Scale(-1)
			theta = 2*math.Pi - theta
		}
	}

	dist := radius * theta
	deltaE := target.E - current.E
	duration, eVel, velXYZ := resolveExtrusionVelocity(dist, deltaE, maxVelXYZ, minVelE, maxVelE)

	angularVelocity := 0.0
	if duration > 0 {
		angularVelocity = theta / duration
		_ = velXYZ
	}

	accelProfile := AccelProfile(NoAccel{})
	if accel > 0 && dist > 0 {
		accelProfile = NewTrapezoidalAccel(dist, dist/maxF(duration, 1e-12), accel)
	}

	p.seg = Segment{
		Kind:            SegArc,
		StartTime:       startTime,
		Duration:        duration,
		Center:          center,
		U:               u,
		V:               v,
		Radius:          radius,
		AngularVelocity: angularVelocity,
		E0:              current.E,
		EVelocity:       eVel,
		Accel:           accelProfile,
	}
	p.steppers = p.cm.ArcSteppers(p.axisPositions, &p.seg)
}

// HomeEndstops begins a homing segment: every axis steps toward its
// endstop at homeVelXYZ (mm/s) until triggered, then the segment ends and
// the kinematic's home position is adopted.
func (p *MotionPlanner) HomeEndstops(startTime, homeVelXYZ float64) {
	p.seg = Segment{
		Kind:      SegHome,
		StartTime: startTime,
		Duration:  math.NaN(),
		HomeRate:  homeVelXYZ,
		Accel:     NoAccel{},
	}
	p.steppers = p.cm.HomeSteppers(p.axisPositions, &p.seg, p.endstops)
}

// NextStep selects, among all AxisSteppers, the one with the smallest
// non-never, positive pending time, expands it into an absolute-time
// Event, advances the authoritative axis position and the chosen stepper,
// and returns it. ok is false once the segment has completed, at which
// point the segment resets to None (applying the kinematic's home position
// first, if this was a homing segment).
func (p *MotionPlanner) NextStep() (Event, bool) {
	if p.seg.Kind == SegNone {
		return Event{}, false
	}

	minIdx := -1
	minTime := math.NaN()
	for i, st := range p.steppers {
		t := st.Time()
		if IsNever(t) {
			continue
		}
		if minIdx == -1 || t < minTime {
			minIdx, minTime = i, t
		}
	}

	segmentDone := minIdx == -1 || minTime <= 0
	if !segmentDone && !IsNever(p.seg.Duration) && minTime > p.seg.Duration {
		segmentDone = true
	}
	if segmentDone {
		if p.seg.Kind == SegHome {
			p.axisPositions = p.cm.HomePosition(p.axisPositions)
		}
		p.seg = Segment{Kind: SegNone}
		p.steppers = nil
		return Event{}, false
	}

	st := p.steppers[minIdx]
	actual := p.seg.Accel.Transform(minTime)
	dir := st.Direction()
	axis := st.AxisIndex()
	if dir == Forward {
		p.axisPositions[axis]++
	} else {
		p.axisPositions[axis]--
	}
	st.Advance()

	return Event{Time: p.seg.StartTime + actual, Axis: axis, Dir: dir}, true
}
