// Package spatial provides camera poses and the screen-to-world
// unprojection used to turn depth samples into world-space points.
//
// Conventions: X right, Y up, Z forward (the camera looks along +Z in its
// local frame) and screen coordinates have their origin at the bottom-left.
package spatial

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid camera pose. Rotation is a unit quaternion mapping the
// camera's local axes into world space.
type Pose struct {
	Position r3.Vector
	Rotation quat.Number
}

// Identity is the rotation that leaves vectors unchanged.
var Identity = quat.Number{Real: 1}

// NewPose returns a pose with a normalised rotation. A zero quaternion is
// replaced with Identity.
func NewPose(position r3.Vector, rotation quat.Number) Pose {
	n := quat.Abs(rotation)
	if n == 0 || math.IsNaN(n) {
		return Pose{Position: position, Rotation: Identity}
	}
	return Pose{Position: position, Rotation: quat.Scale(1/n, rotation)}
}

// AxisAngle returns the rotation of angleRad radians about axis.
func AxisAngle(axis r3.Vector, angleRad float64) quat.Number {
	a := axis.Normalize()
	s, c := math.Sincos(angleRad / 2)
	return quat.Number{Real: c, Imag: a.X * s, Jmag: a.Y * s, Kmag: a.Z * s}
}

// LookAt returns a pose at position whose forward axis points at target.
// up is the world up hint; it must not be parallel to the view direction.
func LookAt(position, target, up r3.Vector) Pose {
	f := target.Sub(position).Normalize()
	r := up.Cross(f).Normalize()
	u := f.Cross(r)
	return NewPose(position, fromBasis(r, u, f))
}

// Rotate applies the pose rotation to v.
func (p Pose) Rotate(v r3.Vector) r3.Vector {
	q := p.Rotation
	out := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: out.Imag, Y: out.Jmag, Z: out.Kmag}
}

// Forward returns the unit vector the camera looks along.
func (p Pose) Forward() r3.Vector { return p.Rotate(r3.Vector{Z: 1}) }

// Up returns the camera's up axis in world space.
func (p Pose) Up() r3.Vector { return p.Rotate(r3.Vector{Y: 1}) }

// Right returns the camera's right axis in world space.
func (p Pose) Right() r3.Vector { return p.Rotate(r3.Vector{X: 1}) }

// fromBasis converts the rotation matrix with columns r, u, f into a
// quaternion.
func fromBasis(r, u, f r3.Vector) quat.Number {
	m00, m01, m02 := r.X, u.X, f.X
	m10, m11, m12 := r.Y, u.Y, f.Y
	m20, m21, m22 := r.Z, u.Z, f.Z

	var q quat.Number
	switch trace := m00 + m11 + m22; {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		q = quat.Number{Real: 0.25 / s, Imag: (m21 - m12) * s, Jmag: (m02 - m20) * s, Kmag: (m10 - m01) * s}
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		q = quat.Number{Real: (m21 - m12) / s, Imag: 0.25 * s, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: 0.25 * s, Kmag: (m12 + m21) / s}
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: 0.25 * s}
	}
	return q
}
