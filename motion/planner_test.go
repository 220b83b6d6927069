package motion

import (
	"math"
	"testing"

	"gopper/vmath"
)

func cartesianTestMap() *CartesianCoordMap {
	return NewCartesianCoordMap([4]AxisSpec{
		{Name: "x", StepsPerMM: 80, MinPosition: 0, MaxPosition: 220},
		{Name: "y", StepsPerMM: 80, MinPosition: -220, MaxPosition: 220},
		{Name: "z", StepsPerMM: 400, MinPosition: 0, MaxPosition: 250},
		{Name: "e", StepsPerMM: 96, MinPosition: -10000, MaxPosition: 10000},
	})
}

func runSegmentToCompletion(t *testing.T, p *MotionPlanner) []Event {
	t.Helper()
	var events []Event
	for i := 0; i < 2_000_000; i++ {
		ev, ok := p.NextStep()
		if !ok {
			return events
		}
		events = append(events, ev)
	}
	t.Fatal("segment did not complete within iteration budget")
	return nil
}

func TestCartesianLinearMoveReachesTarget(t *testing.T) {
	cm := cartesianTestMap()
	p := NewMotionPlanner(cm, nil)

	target := vmath.Vector4{X: 30, Y: -10, Z: 15, E: 0}
	p.MoveTo(0, target, 50, -1000, 1000, 0)

	events := runSegmentToCompletion(t, p)
	if len(events) == 0 {
		t.Fatal("expected at least one step event")
	}
	for i := 1; i < len(events); i++ {
		if events[i].Time < events[i-1].Time {
			t.Fatalf("events not time-ordered: %v then %v", events[i-1], events[i])
		}
	}

	got := p.CurrentCartesianPosition()
	if math.Abs(got.X-target.X) > 1.0/80 || math.Abs(got.Y-target.Y) > 1.0/80 || math.Abs(got.Z-target.Z) > 1.0/400 {
		t.Errorf("final position %+v not within one microstep of target %+v", got, target)
	}
	if !p.ReadyForNextMove() {
		t.Errorf("planner should be ready for next move after segment completion")
	}
}

func TestCartesianMoveWithAcceleration(t *testing.T) {
	cm := cartesianTestMap()
	p := NewMotionPlanner(cm, nil)

	target := vmath.Vector4{X: 100, Y: 0, Z: 0, E: 0}
	p.MoveTo(0, target, 50, -1000, 1000, 2000)

	events := runSegmentToCompletion(t, p)
	for i := 1; i < len(events); i++ {
		if events[i].Time < events[i-1].Time {
			t.Fatalf("accelerated events not time-ordered: %v then %v", events[i-1], events[i])
		}
	}
	got := p.CurrentCartesianPosition()
	if math.Abs(got.X-target.X) > 1.0/80 {
		t.Errorf("final X %v not near target 100", got.X)
	}
}

func TestCartesianFromAxisPositionsIsPure(t *testing.T) {
	cm := cartesianTestMap()
	positions := []int64{800, 400, 0, 0}
	a := cm.XYZEFromMechanical(positions)
	b := cm.XYZEFromMechanical(positions)
	if a != b {
		t.Errorf("XYZEFromMechanical not pure: %+v vs %+v", a, b)
	}
	if a.X != 10 || a.Y != 5 {
		t.Errorf("unexpected forward kinematics result: %+v", a)
	}
}

func TestLinearDeltaSymmetricCarriagesGiveCenter(t *testing.T) {
	d := NewLinearDeltaCoordMap(150, 320, [3]float64{80, 80, 80}, 96, 250, 0, 0, 150)
	// Home-like position: all carriages at the same height.
	h := 200.0
	positions := []int64{int64(h * 80), int64(h * 80), int64(h * 80), 0}
	pos := d.XYZEFromMechanical(positions)
	if math.Abs(pos.X) > 1e-6 || math.Abs(pos.Y) > 1e-6 {
		t.Errorf("symmetric carriage heights should give x=y=0, got %+v", pos)
	}
}

func TestAngularDeltaForwardKinematicsSymmetric(t *testing.T) {
	cm := NewAngularDeltaCoordMap(180, 60, 100, 200, [3]float64{10, 10, 10}, 96, 0, 0)
	p, ok := deltaAngularForward(0, 0, 0, cm.BaseSide, cm.EffectorSide, cm.BicepLength, cm.ForearmLength)
	if !ok {
		t.Fatal("expected a valid forward-kinematics solution at the symmetric home angle")
	}
	if math.Abs(p.X) > 1e-6 || math.Abs(p.Y) > 1e-6 {
		t.Errorf("symmetric angles should give x=y=0, got %+v", p)
	}
}

func TestAccelProfileMonotoneAndCoversDistance(t *testing.T) {
	prof := NewTrapezoidalAccel(100, 50, 2000)
	last := -1.0
	for i := 0; i <= 100; i++ {
		nominal := float64(i) / 100 * prof.NominalDuration
		actual := prof.Transform(nominal)
		if actual < last {
			t.Fatalf("Transform not monotone at i=%d: %v < %v", i, actual, last)
		}
		last = actual
	}
	finalDist := prof.distanceAt(prof.ExtendedDuration(0))
	if math.Abs(finalDist-100) > 1e-6 {
		t.Errorf("profile distance at end = %v, want 100", finalDist)
	}
}
