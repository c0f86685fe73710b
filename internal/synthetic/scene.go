// Package synthetic provides a frames.Source that renders an empty
// rectangular room from a camera orbiting its centre. It stands in for a
// device depth sensor in demos and end-to-end tests.
package synthetic

import (
	"context"
	"fmt"
	"image"
	"math"
	"math/rand"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/banshee-data/densecloud/internal/frames"
	"github.com/banshee-data/densecloud/internal/spatial"
)

// Config describes the room, the sensor and the orbit.
type Config struct {
	DepthWidth, DepthHeight   int     // depth plane resolution (default 256×192)
	CameraScale               int     // camera image is this many times the depth resolution (default 2)
	ScreenWidth, ScreenHeight int     // screen size used for unprojection (default 1920×1440)
	FieldOfView               float64 // vertical, degrees (default 60)

	RoomHalfWidth float64 // metres along X (default 2)
	RoomHalfDepth float64 // metres along Z (default 2.5)
	RoomHeight    float64 // metres, floor at y=0 (default 2.5)

	OrbitRadius  float64 // metres (default 1)
	OrbitHeight  float64 // metres (default 1.4)
	OrbitStepDeg float64 // yaw change per Advance (default 4)

	MaxDepth    float32 // beyond this the sensor reports no depth (default 5)
	NoiseStdDev float64 // gaussian depth noise in metres (default 0)
	FailureRate float64 // probability that any acquisition fails (default 0)
	Seed        int64
}

// DefaultConfig returns a config with every default filled in.
func DefaultConfig() Config {
	return Config{
		DepthWidth:    256,
		DepthHeight:   192,
		CameraScale:   2,
		ScreenWidth:   1920,
		ScreenHeight:  1440,
		FieldOfView:   60,
		RoomHalfWidth: 2,
		RoomHalfDepth: 2.5,
		RoomHeight:    2.5,
		OrbitRadius:   1,
		OrbitHeight:   1.4,
		OrbitStepDeg:  4,
		MaxDepth:      5,
		Seed:          1,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.DepthWidth <= 0 || c.DepthHeight <= 0 {
		c.DepthWidth, c.DepthHeight = d.DepthWidth, d.DepthHeight
	}
	if c.CameraScale <= 0 {
		c.CameraScale = d.CameraScale
	}
	if c.ScreenWidth <= 0 || c.ScreenHeight <= 0 {
		c.ScreenWidth, c.ScreenHeight = d.ScreenWidth, d.ScreenHeight
	}
	if c.FieldOfView <= 0 {
		c.FieldOfView = d.FieldOfView
	}
	if c.RoomHalfWidth <= 0 {
		c.RoomHalfWidth = d.RoomHalfWidth
	}
	if c.RoomHalfDepth <= 0 {
		c.RoomHalfDepth = d.RoomHalfDepth
	}
	if c.RoomHeight <= 0 {
		c.RoomHeight = d.RoomHeight
	}
	if c.OrbitRadius < 0 {
		c.OrbitRadius = d.OrbitRadius
	}
	if c.OrbitHeight <= 0 {
		c.OrbitHeight = d.OrbitHeight
	}
	if c.OrbitStepDeg == 0 {
		c.OrbitStepDeg = d.OrbitStepDeg
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = d.MaxDepth
	}
}

// Scene is a frames.Source over a synthetic room.
type Scene struct {
	cfg   Config
	faces [6]colorful.Color

	mu          sync.Mutex
	rng         *rand.Rand
	step        int
	cam         *spatial.PinholeCamera
	rendered    *render
	tracking    frames.TrackingState
	unavailable error
	failCamera  bool
	failDepth   bool
	failConf    bool
	outstanding int
	failures    int
}

type render struct {
	depth frames.DepthImage
	conf  frames.ConfidenceImage
	image *image.RGBA
}

var faceHex = [6]string{
	"#4f7cac", // x-
	"#c0504d", // x+
	"#8c6d4f", // floor
	"#e8e8e8", // ceiling
	"#9bbb59", // z-
	"#8064a2", // z+
}

// New returns a tracking scene with the camera at the start of its orbit.
func New(cfg Config) (*Scene, error) {
	cfg.applyDefaults()
	if cfg.OrbitRadius >= math.Min(cfg.RoomHalfWidth, cfg.RoomHalfDepth) || cfg.OrbitHeight >= cfg.RoomHeight {
		return nil, fmt.Errorf("synthetic: orbit (r=%.2f, h=%.2f) leaves the room", cfg.OrbitRadius, cfg.OrbitHeight)
	}
	s := &Scene{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		tracking: frames.TrackingTracking,
	}
	for i, hex := range faceHex {
		c, err := colorful.Hex(hex)
		if err != nil {
			return nil, err
		}
		s.faces[i] = c
	}
	if err := s.placeCameraLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// Advance moves the camera one orbit step.
func (s *Scene) Advance() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step++
	return s.placeCameraLocked()
}

// Step returns the number of Advance calls so far.
func (s *Scene) Step() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

func (s *Scene) placeCameraLocked() error {
	yaw := float64(s.step) * s.cfg.OrbitStepDeg * math.Pi / 180
	dir := r3.Vector{X: math.Cos(yaw), Z: math.Sin(yaw)}
	pos := dir.Mul(s.cfg.OrbitRadius).Add(r3.Vector{Y: s.cfg.OrbitHeight})
	// Look outwards and slightly down so floor and walls share the view.
	target := pos.Add(dir).Add(r3.Vector{Y: -0.25})
	cam, err := spatial.NewPinholeCamera(spatial.LookAt(pos, target, r3.Vector{Y: 1}), s.cfg.FieldOfView, s.cfg.ScreenWidth, s.cfg.ScreenHeight)
	if err != nil {
		return err
	}
	s.cam = cam
	s.rendered = nil
	return nil
}

// SetTracking sets the reported tracking state.
func (s *Scene) SetTracking(st frames.TrackingState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracking = st
}

// SetUnavailable makes CheckAvailability report missing depth support
// when err is non-nil.
func (s *Scene) SetUnavailable(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = err
}

// SetFailures makes the matching acquisitions fail until cleared.
func (s *Scene) SetFailures(camera, depth, confidence bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCamera, s.failDepth, s.failConf = camera, depth, confidence
}

// Outstanding returns the number of acquired frames not yet released.
func (s *Scene) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}

// Failures returns the number of failed acquisitions.
func (s *Scene) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// CheckAvailability implements frames.Source.
func (s *Scene) CheckAvailability(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable != nil {
		return fmt.Errorf("%w: %v", frames.ErrUnsupported, s.unavailable)
	}
	return nil
}

// TrackingState implements frames.Source.
func (s *Scene) TrackingState() frames.TrackingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracking
}

// Camera implements frames.Source. The returned camera is never mutated;
// Advance replaces it.
func (s *Scene) Camera() spatial.Camera {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cam
}

// AcquireCamera implements frames.Source.
func (s *Scene) AcquireCamera(ctx context.Context) (*frames.CameraFrame, error) {
	r, release, err := s.acquire(ctx, "camera")
	if err != nil {
		return nil, err
	}
	return frames.NewCameraFrame(r.image, release), nil
}

// AcquireDepth implements frames.Source.
func (s *Scene) AcquireDepth(ctx context.Context) (*frames.DepthFrame, error) {
	r, release, err := s.acquire(ctx, "depth")
	if err != nil {
		return nil, err
	}
	return frames.NewDepthFrame(r.depth, release), nil
}

// AcquireConfidence implements frames.Source.
func (s *Scene) AcquireConfidence(ctx context.Context) (*frames.ConfidenceFrame, error) {
	r, release, err := s.acquire(ctx, "confidence")
	if err != nil {
		return nil, err
	}
	return frames.NewConfidenceFrame(r.conf, release), nil
}

func (s *Scene) acquire(ctx context.Context, what string) (*render, func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	fail := map[string]bool{"camera": s.failCamera, "depth": s.failDepth, "confidence": s.failConf}[what]
	if fail || (s.cfg.FailureRate > 0 && s.rng.Float64() < s.cfg.FailureRate) {
		s.failures++
		return nil, nil, fmt.Errorf("synthetic %s frame: %w", what, frames.ErrAcquire)
	}
	if s.rendered == nil {
		r, err := s.renderLocked()
		if err != nil {
			return nil, nil, err
		}
		s.rendered = r
	}
	s.outstanding++
	return s.rendered, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.outstanding--
		return nil
	}, nil
}
