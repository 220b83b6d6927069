package vmath

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestVector3DotCross(t *testing.T) {
	a := Vector3{1, 0, 0}
	b := Vector3{0, 1, 0}
	if got := a.Dot(b); !almostEqual(got, 0) {
		t.Errorf("Dot = %v, want 0", got)
	}
	c := a.Cross(b)
	if c != (Vector3{0, 0, 1}) {
		t.Errorf("Cross = %v, want (0,0,1)", c)
	}
}

func TestVector3Norm(t *testing.T) {
	v := Vector3{3, 4, 0}
	n := v.Norm()
	if !almostEqual(n.Mag(), 1) {
		t.Errorf("Norm().Mag() = %v, want 1", n.Mag())
	}
}

func TestProjection(t *testing.T) {
	a := Vector3{2, 2, 0}
	b := Vector3{1, 0, 0}
	if got := a.ProjScalar(b); !almostEqual(got, 2) {
		t.Errorf("ProjScalar = %v, want 2", got)
	}
	pv := a.ProjVector(b)
	if !almostEqual(pv.X, 2) || !almostEqual(pv.Y, 0) {
		t.Errorf("ProjVector = %v, want (2,0,0)", pv)
	}
}

func TestVector4Arithmetic(t *testing.T) {
	a := Vector4{1, 2, 3, 4}
	b := Vector4{0.5, 0.5, 0.5, 0.5}
	sum := a.Add(b)
	if sum != (Vector4{1.5, 2.5, 3.5, 4.5}) {
		t.Errorf("Add = %v", sum)
	}
}

func TestMatrix3Identity(t *testing.T) {
	m := Identity3()
	v := Vector3{1, 2, 3}
	if got := m.MulVec3(v); got != v {
		t.Errorf("Identity3 transform = %v, want %v", got, v)
	}
}
