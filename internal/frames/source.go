package frames

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/banshee-data/densecloud/internal/spatial"
)

var (
	// ErrAcquire is returned when a frame could not be acquired this tick.
	ErrAcquire = errors.New("frames: frame not available")

	// ErrUnsupported is returned by CheckAvailability when a required
	// capability (session, camera or depth) is missing on the device.
	ErrUnsupported = errors.New("frames: capability not supported")
)

// TrackingState reports how well the device currently knows its pose.
type TrackingState int

const (
	TrackingNone TrackingState = iota
	TrackingLimited
	TrackingTracking
)

func (s TrackingState) String() string {
	switch s {
	case TrackingNone:
		return "none"
	case TrackingLimited:
		return "limited"
	case TrackingTracking:
		return "tracking"
	default:
		return "unknown"
	}
}

// Source supplies time-aligned sensor frames and the camera that captured
// them. Every acquired frame must be released exactly once on every path.
type Source interface {
	// CheckAvailability reports a missing capability by returning an error
	// wrapping ErrUnsupported.
	CheckAvailability(ctx context.Context) error
	TrackingState() TrackingState
	Camera() spatial.Camera

	AcquireCamera(ctx context.Context) (*CameraFrame, error)
	AcquireDepth(ctx context.Context) (*DepthFrame, error)
	AcquireConfidence(ctx context.Context) (*ConfidenceFrame, error)
}

// releaser runs a release hook at most once and remembers its result.
type releaser struct {
	once sync.Once
	fn   func() error
	err  error
}

func (r *releaser) release() error {
	r.once.Do(func() {
		if r.fn != nil {
			r.err = r.fn()
		}
	})
	return r.err
}

// CameraFrame is an acquired colour image.
type CameraFrame struct {
	Image image.Image
	r     releaser
}

// NewCameraFrame wraps img; release may be nil.
func NewCameraFrame(img image.Image, release func() error) *CameraFrame {
	return &CameraFrame{Image: img, r: releaser{fn: release}}
}

// Release returns the frame to its source. Repeated calls are no-ops.
func (f *CameraFrame) Release() error { return f.r.release() }

// DepthFrame is an acquired depth image in metres.
type DepthFrame struct {
	Depth DepthImage
	r     releaser
}

// NewDepthFrame wraps d; release may be nil.
func NewDepthFrame(d DepthImage, release func() error) *DepthFrame {
	return &DepthFrame{Depth: d, r: releaser{fn: release}}
}

// Release returns the frame to its source. Repeated calls are no-ops.
func (f *DepthFrame) Release() error { return f.r.release() }

// ConfidenceFrame is an acquired per-pixel confidence image.
type ConfidenceFrame struct {
	Confidence ConfidenceImage
	r          releaser
}

// NewConfidenceFrame wraps c; release may be nil.
func NewConfidenceFrame(c ConfidenceImage, release func() error) *ConfidenceFrame {
	return &ConfidenceFrame{Confidence: c, r: releaser{fn: release}}
}

// Release returns the frame to its source. Repeated calls are no-ops.
func (f *ConfidenceFrame) Release() error { return f.r.release() }
