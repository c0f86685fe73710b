package synthetic

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/densecloud/internal/config"
	"github.com/banshee-data/densecloud/internal/frames"
	"github.com/banshee-data/densecloud/internal/manager"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.DepthWidth, cfg.DepthHeight = 64, 48
	cfg.ScreenWidth, cfg.ScreenHeight = 640, 480
	return cfg
}

func newScene(t *testing.T, cfg Config) *Scene {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func insideRoom(cfg Config, p r3.Vector, tol float64) bool {
	return math.Abs(p.X) <= cfg.RoomHalfWidth+tol &&
		math.Abs(p.Z) <= cfg.RoomHalfDepth+tol &&
		p.Y >= -tol && p.Y <= cfg.RoomHeight+tol
}

func onSurface(cfg Config, p r3.Vector, tol float64) bool {
	return math.Abs(math.Abs(p.X)-cfg.RoomHalfWidth) <= tol ||
		math.Abs(math.Abs(p.Z)-cfg.RoomHalfDepth) <= tol ||
		math.Abs(p.Y) <= tol ||
		math.Abs(p.Y-cfg.RoomHeight) <= tol
}

func TestNew_RejectsOrbitOutsideRoom(t *testing.T) {
	cfg := smallConfig()
	cfg.OrbitRadius = 3
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = smallConfig()
	cfg.OrbitHeight = 4
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestScene_FramesAndRelease(t *testing.T) {
	ctx := context.Background()
	s := newScene(t, smallConfig())
	require.NoError(t, s.CheckAvailability(ctx))
	assert.Equal(t, frames.TrackingTracking, s.TrackingState())

	camFrame, err := s.AcquireCamera(ctx)
	require.NoError(t, err)
	depthFrame, err := s.AcquireDepth(ctx)
	require.NoError(t, err)
	confFrame, err := s.AcquireConfidence(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Outstanding())

	assert.Equal(t, 128, camFrame.Image.Bounds().Dx())
	assert.Equal(t, 96, camFrame.Image.Bounds().Dy())
	assert.Equal(t, 64, depthFrame.Depth.Width())
	assert.Equal(t, 48, confFrame.Confidence.Height())

	require.NoError(t, camFrame.Release())
	require.NoError(t, depthFrame.Release())
	require.NoError(t, confFrame.Release())
	require.NoError(t, confFrame.Release(), "second release is a no-op")
	assert.Zero(t, s.Outstanding())
}

func TestScene_DepthUnprojectsOntoWalls(t *testing.T) {
	ctx := context.Background()
	cfg := smallConfig()
	s := newScene(t, cfg)

	for step := 0; step < 3; step++ {
		cam := s.Camera()
		df, err := s.AcquireDepth(ctx)
		require.NoError(t, err)
		cf, err := s.AcquireConfidence(ctx)
		require.NoError(t, err)

		sw, sh := cam.ScreenSize()
		w, h := df.Depth.Width(), df.Depth.Height()
		levels := map[uint8]int{}
		for y := 0; y < h; y += 7 {
			for x := 0; x < w; x += 5 {
				d := df.Depth.At(x, y)
				if d <= 0 {
					continue
				}
				p := cam.ScreenToWorld(float64(sw)*float64(x)/float64(w), float64(sh)*(1-float64(y)/float64(h)), float64(d))
				require.True(t, insideRoom(cfg, p, 1e-3), "step %d pixel (%d,%d) at %v", step, x, y, p)
				require.True(t, onSurface(cfg, p, 1e-3), "step %d pixel (%d,%d) at %v", step, x, y, p)
				levels[cf.Confidence.At(x, y)]++
			}
		}
		assert.Positive(t, levels[uint8(frames.ConfidenceHigh)], "step %d", step)

		require.NoError(t, df.Release())
		require.NoError(t, cf.Release())
		require.NoError(t, s.Advance())
	}
	assert.Equal(t, 3, s.Step())
}

func TestScene_AdvanceMovesCamera(t *testing.T) {
	s := newScene(t, smallConfig())
	before := s.Camera().Pose()
	require.NoError(t, s.Advance())
	after := s.Camera().Pose()

	assert.InDelta(t, 1, math.Hypot(before.Position.X, before.Position.Z), 1e-9, "orbit radius")
	assert.InDelta(t, 1.4, before.Position.Y, 1e-9, "orbit height")
	assert.NotEqual(t, before.Position, after.Position)
	angle := before.Forward().Angle(after.Forward()).Degrees()
	assert.InDelta(t, 4, angle, 0.5)
}

func TestScene_FailureInjection(t *testing.T) {
	ctx := context.Background()
	s := newScene(t, smallConfig())

	s.SetFailures(false, true, false)
	_, err := s.AcquireDepth(ctx)
	assert.ErrorIs(t, err, frames.ErrAcquire)
	_, err = s.AcquireCamera(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, s.Failures())

	s.SetFailures(false, false, false)
	s.SetUnavailable(errors.New("no lidar"))
	assert.ErrorIs(t, s.CheckAvailability(ctx), frames.ErrUnsupported)

	s.SetTracking(frames.TrackingLimited)
	assert.Equal(t, frames.TrackingLimited, s.TrackingState())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.AcquireConfidence(cancelled)
	assert.ErrorIs(t, err, context.Canceled)

	cfg := smallConfig()
	cfg.FailureRate = 1
	always := newScene(t, cfg)
	_, err = always.AcquireCamera(ctx)
	assert.ErrorIs(t, err, frames.ErrAcquire)
}

func TestScene_FeedsManager(t *testing.T) {
	ctx := context.Background()
	cfg := smallConfig()
	s := newScene(t, cfg)

	cc, err := config.Parse([]byte(`{"capacity": 5000, "max_points_per_frame": 200, "sampling_workers": 2}`))
	require.NoError(t, err)
	m, err := manager.New(manager.Config{Cloud: cc, Source: s})
	require.NoError(t, err)
	require.NoError(t, m.Initialize(ctx))

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Tick(ctx))
		require.NoError(t, s.Advance())
	}
	assert.Zero(t, s.Outstanding())

	st := m.Stats()
	assert.Equal(t, uint64(5), st.Processed, "every orbit step clears the motion gate")
	buf := m.PointCloud()
	require.Positive(t, buf.Count())
	for i, p := range buf.Points() {
		require.True(t, insideRoom(cfg, p, 1e-3), "point %d at %v", i, p)
	}
	for _, c := range buf.Confidences() {
		assert.GreaterOrEqual(t, c, float32(0.5))
	}
}
