package motion

import "math"

// AccelProfile transforms a segment's nominal (constant-velocity) step time
// into the actual, accelerated time at which that step should be emitted.
// The transform must be monotone over a segment so step ordering survives
// it.
type AccelProfile interface {
	// Transform maps nominal time t (seconds, segment-relative, as if the
	// move ran at constant peak velocity) to actual time t'.
	Transform(t float64) float64
	// ExtendedDuration returns the actual (post-acceleration) duration of
	// a segment whose nominal duration is nominalDuration.
	ExtendedDuration(nominalDuration float64) float64
}

// NoAccel is the identity profile, used for homing moves where the stepper
// itself runs at a fixed rate and acceleration is meaningless.
type NoAccel struct{}

func (NoAccel) Transform(t float64) float64                     { return t }
func (NoAccel) ExtendedDuration(nominalDuration float64) float64 { return nominalDuration }

// TrapezoidalAccel implements a constant-acceleration ramp-up, cruise,
// ramp-down velocity profile bounded by peak velocity VPeak and maximum
// acceleration Accel. nominalDuration is the duration the move would take
// at a constant VPeak; Transform maps "as if constant velocity" time into
// the time actually elapsed under the trapezoidal profile.
type TrapezoidalAccel struct {
	VPeak           float64 // mm/s
	Accel           float64 // mm/s^2
	NominalDuration float64 // seconds, d / VPeak

	// derived, computed once by NewTrapezoidalAccel
	rampDuration float64 // time to ramp from 0 to VPeak (or to the triangular peak)
	rampDistance float64 // distance covered during one ramp
	cruiseDist   float64 // distance covered at VPeak between ramps (0 for triangular)
	cruiseVPeak  float64 // actual cruise velocity reached (== VPeak unless triangular)
	totalDist    float64
}

// NewTrapezoidalAccel builds a profile for a move of total distance dist
// with requested peak velocity vPeak and maximum acceleration accel. If the
// distance is too short to reach vPeak, the profile degrades to a
// triangular (ramp-up immediately followed by ramp-down) shape.
func NewTrapezoidalAccel(dist, vPeak, accel float64) *TrapezoidalAccel {
	a := &TrapezoidalAccel{VPeak: vPeak, Accel: accel, totalDist: dist}
	if accel <= 0 || vPeak <= 0 || dist <= 0 {
		a.NominalDuration = 0
		return a
	}
	rampDistFull := (vPeak * vPeak) / (2 * accel)
	if 2*rampDistFull >= dist {
		// Triangular profile: never reaches vPeak.
		a.cruiseVPeak = math.Sqrt(accel * dist)
		a.rampDistance = dist / 2
		a.cruiseDist = 0
	} else {
		a.cruiseVPeak = vPeak
		a.rampDistance = rampDistFull
		a.cruiseDist = dist - 2*rampDistFull
	}
	a.rampDuration = a.cruiseVPeak / accel
	a.NominalDuration = dist / vPeak
	return a
}

// distanceAt returns the distance covered by actual (accelerated) elapsed
// time tActual.
func (a *TrapezoidalAccel) distanceAt(tActual float64) float64 {
	switch {
	case tActual <= 0:
		return 0
	case tActual < a.rampDuration:
		return 0.5 * a.Accel * tActual * tActual
	case tActual < a.rampDuration+a.cruiseDuration():
		return a.rampDistance + a.cruiseVPeak*(tActual-a.rampDuration)
	default:
		tDecel := tActual - a.rampDuration - a.cruiseDuration()
		if tDecel > a.rampDuration {
			tDecel = a.rampDuration
		}
		return a.rampDistance + a.cruiseDist + (a.cruiseVPeak*tDecel - 0.5*a.Accel*tDecel*tDecel)
	}
}

func (a *TrapezoidalAccel) cruiseDuration() float64 {
	if a.cruiseVPeak <= 0 {
		return 0
	}
	return a.cruiseDist / a.cruiseVPeak
}

// ExtendedDuration returns the actual total duration of the profile.
func (a *TrapezoidalAccel) ExtendedDuration(float64) float64 {
	return 2*a.rampDuration + a.cruiseDuration()
}

// Transform maps nominal constant-velocity time t (as a fraction of
// distance traveled, t/NominalDuration of the full move at VPeak) to the
// actual accelerated time by solving distanceAt(t') = (t/NominalDuration)*totalDist
// via bisection; the distance curve is monotone so this always converges.
func (a *TrapezoidalAccel) Transform(t float64) float64 {
	if a.NominalDuration <= 0 || a.totalDist <= 0 {
		return t
	}
	targetDist := (t / a.NominalDuration) * a.totalDist
	if targetDist <= 0 {
		return 0
	}
	full := a.ExtendedDuration(0)
	if targetDist >= a.totalDist {
		return full
	}
	lo, hi := 0.0, full
	for i := 0; i < 60; i++ {
		mid := (lo + hi) / 2
		if a.distanceAt(mid) < targetDist {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}
