// Package testutil provides shared test fixtures: hand-built sensor frames,
// fixed cameras, a delta recorder and a scriptable frame source.
package testutil

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/densecloud/internal/cloud"
	"github.com/banshee-data/densecloud/internal/frames"
	"github.com/banshee-data/densecloud/internal/spatial"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// FrameSpec describes a uniform synthetic frame.
type FrameSpec struct {
	Width      int
	Height     int
	Depth      float32
	Confidence uint8
	Color      color.RGBA
}

// Frame is a set of aligned images at one resolution.
type Frame struct {
	Color      frames.ColorImage
	RGBA       *image.RGBA
	Depth      frames.DepthImage
	Confidence frames.ConfidenceImage
}

// NewFrame builds a frame where every pixel carries the values in spec.
func NewFrame(t testing.TB, spec FrameSpec) Frame {
	t.Helper()

	depth, err := frames.NewDepthImage(frames.NewPlane(spec.Width, spec.Height, 4))
	AssertNoError(t, err)
	conf, err := frames.NewConfidenceImage(frames.NewPlane(spec.Width, spec.Height, 1))
	AssertNoError(t, err)
	rgba := image.NewRGBA(image.Rect(0, 0, spec.Width, spec.Height))

	for y := 0; y < spec.Height; y++ {
		for x := 0; x < spec.Width; x++ {
			depth.Set(x, y, spec.Depth)
			conf.Set(x, y, spec.Confidence)
			rgba.SetRGBA(x, y, spec.Color)
		}
	}
	col, err := frames.ColorImageFromRGBA(rgba)
	AssertNoError(t, err)
	return Frame{Color: col, RGBA: rgba, Depth: depth, Confidence: conf}
}

// NewCamera returns a 60° camera at the origin looking down +Z.
func NewCamera(t testing.TB, width, height int) *spatial.PinholeCamera {
	t.Helper()
	cam, err := spatial.NewPinholeCamera(spatial.NewPose(r3.Vector{}, spatial.Identity), 60, width, height)
	AssertNoError(t, err)
	return cam
}

// DeltaRecorder collects the deltas emitted by a buffer.
type DeltaRecorder struct {
	mu     sync.Mutex
	deltas []cloud.Delta
	unsub  func()
}

// RecordDeltas subscribes a new recorder to b; the subscription ends with
// the test.
func RecordDeltas(t testing.TB, b *cloud.PointBuffer) *DeltaRecorder {
	r := &DeltaRecorder{}
	r.unsub = b.Subscribe(func(d cloud.Delta) {
		r.mu.Lock()
		r.deltas = append(r.deltas, d)
		r.mu.Unlock()
	})
	t.Cleanup(r.unsub)
	return r
}

// Deltas returns the deltas received so far.
func (r *DeltaRecorder) Deltas() []cloud.Delta {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]cloud.Delta, len(r.deltas))
	copy(out, r.deltas)
	return out
}

// Source is a frames.Source that serves the same frame on every
// acquisition and can be told to fail.
type Source struct {
	mu sync.Mutex

	Frame    Frame
	Cam      *spatial.PinholeCamera
	Tracking frames.TrackingState

	// Unavailable is returned by CheckAvailability when set.
	Unavailable error
	// FailCamera, FailDepth and FailConfidence make the matching
	// acquisition fail.
	FailCamera     bool
	FailDepth      bool
	FailConfidence bool
	// ReleaseErr is returned by every release hook when set.
	ReleaseErr error

	acquired int
	released int
}

// NewSource returns a tracking source serving frame through cam.
func NewSource(frame Frame, cam *spatial.PinholeCamera) *Source {
	return &Source{Frame: frame, Cam: cam, Tracking: frames.TrackingTracking}
}

// Outstanding returns the number of acquired frames not yet released.
func (s *Source) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired - s.released
}

// Acquired returns the total number of successful acquisitions.
func (s *Source) Acquired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

// SetFailures configures which acquisitions fail.
func (s *Source) SetFailures(camera, depth, confidence bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailCamera, s.FailDepth, s.FailConfidence = camera, depth, confidence
}

func (s *Source) CheckAvailability(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Unavailable != nil {
		return fmt.Errorf("%w: %v", frames.ErrUnsupported, s.Unavailable)
	}
	return nil
}

func (s *Source) TrackingState() frames.TrackingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Tracking
}

func (s *Source) Camera() spatial.Camera { return s.Cam }

func (s *Source) acquire(what string) (func() error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fail := map[string]bool{"camera": s.FailCamera, "depth": s.FailDepth, "confidence": s.FailConfidence}[what]
	if fail {
		return nil, fmt.Errorf("%s: %w", what, frames.ErrAcquire)
	}
	s.acquired++
	return func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.released++
		return s.ReleaseErr
	}, nil
}

func (s *Source) AcquireCamera(context.Context) (*frames.CameraFrame, error) {
	release, err := s.acquire("camera")
	if err != nil {
		return nil, err
	}
	return frames.NewCameraFrame(s.Frame.RGBA, release), nil
}

func (s *Source) AcquireDepth(context.Context) (*frames.DepthFrame, error) {
	release, err := s.acquire("depth")
	if err != nil {
		return nil, err
	}
	return frames.NewDepthFrame(s.Frame.Depth, release), nil
}

func (s *Source) AcquireConfidence(context.Context) (*frames.ConfidenceFrame, error) {
	release, err := s.acquire("confidence")
	if err != nil {
		return nil, err
	}
	return frames.NewConfidenceFrame(s.Frame.Confidence, release), nil
}
