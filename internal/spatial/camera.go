package spatial

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Camera is the unprojection contract the admission pipeline needs from
// the device camera.
type Camera interface {
	// Pose returns the camera pose for the current frame.
	Pose() Pose
	// ScreenSize returns the screen dimensions in pixels.
	ScreenSize() (width, height int)
	// ScreenToWorld unprojects screen coordinates at the given distance
	// along the camera's forward axis.
	ScreenToWorld(sx, sy, depth float64) r3.Vector
}

// PinholeCamera is a perspective camera described by a vertical field of
// view and a screen size.
type PinholeCamera struct {
	pose          Pose
	fovY          float64 // degrees
	width         int
	height        int
	tanHalfFovY   float64
	cameraToWorld *mat.Dense
	worldToCamera *mat.Dense
}

// NewPinholeCamera returns a camera with the given pose, vertical field of
// view in degrees and screen size in pixels.
func NewPinholeCamera(pose Pose, fovYDeg float64, width, height int) (*PinholeCamera, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("screen size must be positive, got %dx%d", width, height)
	}
	if fovYDeg <= 0 || fovYDeg >= 180 {
		return nil, fmt.Errorf("vertical field of view must be in (0, 180) degrees, got %f", fovYDeg)
	}
	c := &PinholeCamera{
		fovY:        fovYDeg,
		width:       width,
		height:      height,
		tanHalfFovY: math.Tan(fovYDeg * math.Pi / 360),
	}
	if err := c.SetPose(pose); err != nil {
		return nil, err
	}
	return c, nil
}

// SetPose moves the camera.
func (c *PinholeCamera) SetPose(pose Pose) error {
	m := PoseMatrix(pose)
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return fmt.Errorf("camera pose is not invertible: %w", err)
	}
	c.pose = pose
	c.cameraToWorld = m
	c.worldToCamera = &inv
	return nil
}

// Pose implements Camera.
func (c *PinholeCamera) Pose() Pose { return c.pose }

// ScreenSize implements Camera.
func (c *PinholeCamera) ScreenSize() (int, int) { return c.width, c.height }

// FieldOfView returns the vertical field of view in degrees.
func (c *PinholeCamera) FieldOfView() float64 { return c.fovY }

// ScreenToWorld implements Camera.
func (c *PinholeCamera) ScreenToWorld(sx, sy, depth float64) r3.Vector {
	aspect := float64(c.width) / float64(c.height)
	ndcX := 2*sx/float64(c.width) - 1
	ndcY := 2*sy/float64(c.height) - 1

	local := mat.NewVecDense(4, []float64{
		ndcX * c.tanHalfFovY * aspect * depth,
		ndcY * c.tanHalfFovY * depth,
		depth,
		1,
	})
	var world mat.VecDense
	world.MulVec(c.cameraToWorld, local)
	return r3.Vector{X: world.AtVec(0), Y: world.AtVec(1), Z: world.AtVec(2)}
}

// WorldToScreen projects a world point to screen coordinates and its
// distance along the forward axis. It is the inverse of ScreenToWorld for
// points in front of the camera.
func (c *PinholeCamera) WorldToScreen(p r3.Vector) (sx, sy, depth float64) {
	var local mat.VecDense
	local.MulVec(c.worldToCamera, mat.NewVecDense(4, []float64{p.X, p.Y, p.Z, 1}))
	depth = local.AtVec(2)
	if depth == 0 {
		return math.NaN(), math.NaN(), 0
	}
	aspect := float64(c.width) / float64(c.height)
	ndcX := local.AtVec(0) / (depth * c.tanHalfFovY * aspect)
	ndcY := local.AtVec(1) / (depth * c.tanHalfFovY)
	sx = (ndcX + 1) / 2 * float64(c.width)
	sy = (ndcY + 1) / 2 * float64(c.height)
	return sx, sy, depth
}

// PoseMatrix returns the 4×4 homogeneous camera-to-world transform for pose.
func PoseMatrix(pose Pose) *mat.Dense {
	r, u, f, t := pose.Right(), pose.Up(), pose.Forward(), pose.Position
	return mat.NewDense(4, 4, []float64{
		r.X, u.X, f.X, t.X,
		r.Y, u.Y, f.Y, t.Y,
		r.Z, u.Z, f.Z, t.Z,
		0, 0, 0, 1,
	})
}
