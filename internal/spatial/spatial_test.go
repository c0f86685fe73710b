package spatial

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
)

const eps = 1e-9

func assertVec(t *testing.T, want, got r3.Vector) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, 1e-6, "X")
	assert.InDelta(t, want.Y, got.Y, 1e-6, "Y")
	assert.InDelta(t, want.Z, got.Z, 1e-6, "Z")
}

func TestPose_IdentityAxes(t *testing.T) {
	p := NewPose(r3.Vector{X: 1, Y: 2, Z: 3}, Identity)
	assertVec(t, r3.Vector{Z: 1}, p.Forward())
	assertVec(t, r3.Vector{Y: 1}, p.Up())
	assertVec(t, r3.Vector{X: 1}, p.Right())
}

func TestNewPose_NormalisesRotation(t *testing.T) {
	p := NewPose(r3.Vector{}, quat.Number{Real: 2})
	assert.InDelta(t, 1, quat.Abs(p.Rotation), eps)

	zero := NewPose(r3.Vector{}, quat.Number{})
	assert.Equal(t, Identity, zero.Rotation)
}

func TestAxisAngle(t *testing.T) {
	p := NewPose(r3.Vector{}, AxisAngle(r3.Vector{Y: 1}, math.Pi/2))
	assertVec(t, r3.Vector{X: 1}, p.Forward())

	p = NewPose(r3.Vector{}, AxisAngle(r3.Vector{Y: 1}, math.Pi))
	assertVec(t, r3.Vector{Z: -1}, p.Forward())
}

func TestLookAt(t *testing.T) {
	tests := []struct {
		name   string
		pos    r3.Vector
		target r3.Vector
	}{
		{"along +X", r3.Vector{}, r3.Vector{X: 5}},
		{"along -Z", r3.Vector{Z: 2}, r3.Vector{Z: -3}},
		{"diagonal", r3.Vector{X: 1, Y: 1, Z: 1}, r3.Vector{X: -2, Y: 0, Z: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := LookAt(tt.pos, tt.target, r3.Vector{Y: 1})
			want := tt.target.Sub(tt.pos).Normalize()
			assertVec(t, want, p.Forward())
			assert.InDelta(t, 0, p.Right().Y, 1e-9, "right axis stays horizontal")
			assert.Greater(t, p.Up().Y, 0.0)
		})
	}
}

func TestPinholeCamera_CentreRay(t *testing.T) {
	pose := LookAt(r3.Vector{X: 1, Y: 1.5, Z: -2}, r3.Vector{X: 1, Y: 1.5, Z: 10}, r3.Vector{Y: 1})
	cam, err := NewPinholeCamera(pose, 60, 200, 100)
	require.NoError(t, err)

	got := cam.ScreenToWorld(100, 50, 3)
	assertVec(t, pose.Position.Add(pose.Forward().Mul(3)), got)
}

func TestPinholeCamera_Corners(t *testing.T) {
	cam, err := NewPinholeCamera(NewPose(r3.Vector{}, Identity), 90, 100, 100)
	require.NoError(t, err)

	// tan(45°) = 1: the top-right corner at depth 2 sits at (2, 2, 2).
	assertVec(t, r3.Vector{X: 2, Y: 2, Z: 2}, cam.ScreenToWorld(100, 100, 2))
	assertVec(t, r3.Vector{X: -2, Y: -2, Z: 2}, cam.ScreenToWorld(0, 0, 2))
}

func TestPinholeCamera_RoundTrip(t *testing.T) {
	pose := LookAt(r3.Vector{X: 0.3, Y: 1.2, Z: 0.1}, r3.Vector{X: 4, Y: 0, Z: 2}, r3.Vector{Y: 1})
	cam, err := NewPinholeCamera(pose, 55, 320, 240)
	require.NoError(t, err)

	for _, s := range [][3]float64{{0, 0, 1}, {160, 120, 2.5}, {319, 17, 0.4}, {12, 200, 7}} {
		world := cam.ScreenToWorld(s[0], s[1], s[2])
		sx, sy, d := cam.WorldToScreen(world)
		assert.InDelta(t, s[0], sx, 1e-6)
		assert.InDelta(t, s[1], sy, 1e-6)
		assert.InDelta(t, s[2], d, 1e-6)
	}
}

func TestNewPinholeCamera_Invalid(t *testing.T) {
	_, err := NewPinholeCamera(NewPose(r3.Vector{}, Identity), 60, 0, 10)
	assert.Error(t, err)
	_, err = NewPinholeCamera(NewPose(r3.Vector{}, Identity), 180, 10, 10)
	assert.Error(t, err)
}

func TestPoseMatrix(t *testing.T) {
	m := PoseMatrix(NewPose(r3.Vector{X: 4, Y: 5, Z: 6}, Identity))
	assert.Equal(t, 4.0, m.At(0, 3))
	assert.Equal(t, 5.0, m.At(1, 3))
	assert.Equal(t, 6.0, m.At(2, 3))
	assert.Equal(t, 1.0, m.At(3, 3))
	assert.InDelta(t, 1, m.At(0, 0), eps)
}
