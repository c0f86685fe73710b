// Package manager runs the per-tick point accumulation loop: it gates frames
// on camera motion, acquires the three sensor frames, admits sampled pixels
// into the primary point cloud and announces the change.
package manager

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/banshee-data/densecloud/internal/admission"
	"github.com/banshee-data/densecloud/internal/cloud"
	"github.com/banshee-data/densecloud/internal/config"
	"github.com/banshee-data/densecloud/internal/frames"
	"github.com/banshee-data/densecloud/internal/monitoring"
	"github.com/banshee-data/densecloud/internal/motion"
	"github.com/banshee-data/densecloud/internal/notify"
	"github.com/banshee-data/densecloud/internal/sampling"
	"github.com/banshee-data/densecloud/internal/spatial"
	"github.com/banshee-data/densecloud/internal/timeutil"
)

// ErrNotInitialized is returned by Tick before Initialize has been called.
var ErrNotInitialized = errors.New("manager: Initialize has not been called")

// Status is the lifecycle state of a Manager.
type Status int

const (
	StatusUninitialized Status = iota
	// StatusReady means every required capability is present.
	StatusReady
	// StatusDormant means a required capability is missing. Ticks are
	// no-ops.
	StatusDormant
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusReady:
		return "ready"
	case StatusDormant:
		return "dormant"
	default:
		return "unknown"
	}
}

// Stats counts what happened to each tick.
type Stats struct {
	Ticks           uint64
	NotTracking     uint64 // ticks skipped because the pose was not tracked
	MotionSkipped   uint64 // ticks skipped by the motion gate
	AcquireFailures uint64 // ticks aborted because a frame was unavailable
	ReleaseFailures uint64
	Processed       uint64 // frames that ran through admission
	PointsAdmitted  uint64
	PointsSaturated uint64
	GridRebuilds    int
	LastFrame       admission.Result
	LastFrameAt     time.Time
	LastFrameTook   time.Duration
}

// Config contains configuration for a Manager.
type Config struct {
	// Cloud holds the tuning parameters; nil uses the defaults.
	Cloud *config.CloudConfig
	// Source supplies frames and the camera. Required.
	Source frames.Source
	// Registry receives the primary cloud; nil creates a private one.
	Registry *cloud.Registry
	// Notifier announces cloud changes; nil creates a private one.
	Notifier *notify.Notifier
	// Clock drives Run and frame timings; nil uses the wall clock.
	Clock timeutil.Clock
}

// Manager owns the primary point cloud and feeds it from a frame source.
// Tick, ResetPointCloud and DestroyAllPointClouds are serialised; accessors
// may be called from any goroutine.
type Manager struct {
	source   frames.Source
	registry *cloud.Registry
	notifier *notify.Notifier
	grid     *sampling.Generator
	gate     *motion.Gate
	pipeline admission.Pipeline
	interval time.Duration
	policy   string
	clock    timeutil.Clock

	mu            sync.Mutex
	primary       *cloud.PointBuffer
	status        Status
	statusErr     error
	minConfidence float32
	stats         Stats
}

// New creates the primary point cloud, registers it and records it as
// added. The addition is announced by the next flush.
func New(cfg Config) (*Manager, error) {
	if cfg.Source == nil {
		return nil, errors.New("manager: frame source is required")
	}
	cc := cfg.Cloud
	if cc == nil {
		cc = config.Defaults()
	}
	if err := cc.Validate(); err != nil {
		return nil, fmt.Errorf("manager config: %w", err)
	}

	primary, err := cloud.New(cc.GetCapacity())
	if err != nil {
		return nil, fmt.Errorf("create point cloud: %w", err)
	}

	m := &Manager{
		source:        cfg.Source,
		registry:      cfg.Registry,
		notifier:      cfg.Notifier,
		grid:          sampling.NewGenerator(cc.GetMaxPointsPerFrame()),
		gate:          motion.NewGate(cc.GetRotationThresholdDeg(), cc.GetTranslationThresholdMeters()),
		pipeline:      admission.Pipeline{Workers: cc.GetSamplingWorkers()},
		interval:      cc.GetTickInterval(),
		policy:        cc.GetBaselinePolicy(),
		clock:         cfg.Clock,
		primary:       primary,
		minConfidence: clamp01(float32(cc.GetMinConfidence())),
	}
	if m.clock == nil {
		m.clock = timeutil.RealClock{}
	}
	if m.registry == nil {
		m.registry = cloud.NewRegistry()
	}
	if m.notifier == nil {
		m.notifier = notify.New()
	}
	m.registry.Add(primary)
	m.notifier.MarkAdded(primary.ID())
	diagf("point cloud %s created: capacity=%d budget=%d", primary.ID(), cc.GetCapacity(), cc.GetMaxPointsPerFrame())
	return m, nil
}

// Initialize checks that the source has every required capability and
// announces the primary cloud. A missing capability leaves the manager
// dormant; it is reported once and is not an error.
func (m *Manager) Initialize(ctx context.Context) error {
	err := m.source.CheckAvailability(ctx)

	m.mu.Lock()
	switch {
	case err == nil:
		m.status = StatusReady
		m.statusErr = nil
	case errors.Is(err, frames.ErrUnsupported):
		if m.status != StatusDormant {
			monitoring.Logf("[manager] point accumulation disabled: %v", err)
		}
		m.status = StatusDormant
		m.statusErr = err
	default:
		m.mu.Unlock()
		return fmt.Errorf("check availability: %w", err)
	}
	m.mu.Unlock()

	m.notifier.Flush()
	return nil
}

// Status returns the lifecycle state and, when dormant, the reason.
func (m *Manager) Status() (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.statusErr
}

// PointCloud returns the primary cloud, or nil after DestroyAllPointClouds.
func (m *Manager) PointCloud() *cloud.PointBuffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.primary
}

// Registry returns the registry holding this manager's clouds.
func (m *Manager) Registry() *cloud.Registry { return m.registry }

// Notifier returns the notifier announcing this manager's cloud changes.
func (m *Manager) Notifier() *notify.Notifier { return m.notifier }

// MinConfidence returns the current admission threshold.
func (m *Manager) MinConfidence() float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.minConfidence
}

// SetMinConfidence sets the admission threshold, clamped to [0, 1].
func (m *Manager) SetMinConfidence(v float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minConfidence = clamp01(v)
}

// Stats returns a snapshot of the tick counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.GridRebuilds = m.grid.Rebuilds()
	return s
}

// Tick runs one accumulation pass. Per-tick failures (lost tracking,
// unavailable frames) are logged and swallowed; only structural errors are
// returned. The change notification is delivered after the manager's lock
// is released, so subscribers may call back into the manager.
func (m *Manager) Tick(ctx context.Context) error {
	updated, err := m.tick(ctx)
	if updated {
		m.notifier.Flush()
	}
	return err
}

func (m *Manager) tick(ctx context.Context) (updated bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.status {
	case StatusUninitialized:
		return false, ErrNotInitialized
	case StatusDormant:
		return false, nil
	}
	if m.primary == nil {
		return false, nil
	}
	m.stats.Ticks++

	if st := m.source.TrackingState(); st != frames.TrackingTracking {
		m.stats.NotTracking++
		tracef("tick %d skipped: tracking state %s", m.stats.Ticks, st)
		return false, nil
	}

	cam := m.source.Camera()
	pose := cam.Pose()
	if !m.gate.ShouldProcess(pose, m.primary.Count() == 0) {
		m.stats.MotionSkipped++
		tracef("tick %d skipped: camera has not moved enough", m.stats.Ticks)
		return false, nil
	}

	started := m.clock.Now()
	res, err := m.processFrame(ctx, cam, pose)
	if err != nil {
		if errors.Is(err, frames.ErrAcquire) {
			m.stats.AcquireFailures++
			opsf("tick %d aborted: %v", m.stats.Ticks, err)
			return false, nil
		}
		return false, err
	}

	m.stats.Processed++
	m.stats.PointsAdmitted += uint64(res.Admitted)
	m.stats.PointsSaturated += uint64(res.Saturated)
	m.stats.LastFrame = res
	m.stats.LastFrameAt = started
	m.stats.LastFrameTook = m.clock.Since(started)

	m.notifier.MarkUpdated(m.primary.ID())
	return true, nil
}

// processFrame acquires the three frames, releasing every acquired frame on
// all paths, and admits the sampled points. The motion baseline is recorded
// on the way out according to the baseline policy, even when acquisition
// fails. Called with m.mu held.
func (m *Manager) processFrame(ctx context.Context, cam spatial.Camera, pose spatial.Pose) (res admission.Result, err error) {
	defer func() {
		if m.policy == config.BaselineNonEmptyAdmission && res.Admitted == 0 {
			return
		}
		m.gate.Record(pose)
	}()

	var held []interface{ Release() error }
	defer func() {
		var releaseErr error
		for _, f := range held {
			releaseErr = multierr.Append(releaseErr, f.Release())
		}
		if releaseErr != nil {
			m.stats.ReleaseFailures++
			opsf("release frames: %v", releaseErr)
		}
	}()

	camFrame, err := m.source.AcquireCamera(ctx)
	if err != nil {
		return res, fmt.Errorf("acquire camera image: %w", err)
	}
	held = append(held, camFrame)

	depthFrame, err := m.source.AcquireDepth(ctx)
	if err != nil {
		return res, fmt.Errorf("acquire depth image: %w", err)
	}
	held = append(held, depthFrame)

	confFrame, err := m.source.AcquireConfidence(ctx)
	if err != nil {
		return res, fmt.Errorf("acquire depth confidence image: %w", err)
	}
	held = append(held, confFrame)

	depth := depthFrame.Depth
	color, err := frames.ColorImageFromRGBA(frames.AlignColor(camFrame.Image, depth.Width(), depth.Height()))
	if err != nil {
		return res, fmt.Errorf("align camera image: %w", err)
	}

	grid := m.grid.Grid(depth.Width(), depth.Height())
	in := admission.Input{
		Color:      color,
		Depth:      depth,
		Confidence: confFrame.Confidence,
		Camera:     cam,
	}
	res, err = m.pipeline.ProcessFrame(ctx, in, m.primary, grid, m.minConfidence)
	if err != nil {
		return res, fmt.Errorf("admit frame: %w", err)
	}
	diagf("tick %d: pose (%.3f, %.3f, %.3f) admitted %d/%d, cloud holds %d",
		m.stats.Ticks, pose.Position.X, pose.Position.Y, pose.Position.Z,
		res.Admitted, res.Considered, m.primary.Count())
	return res, nil
}

// Run ticks every tick interval until ctx is cancelled. Tick errors are
// logged and do not stop the loop. Returns nil on clean shutdown.
func (m *Manager) Run(ctx context.Context) error {
	if st, _ := m.Status(); st == StatusUninitialized {
		if err := m.Initialize(ctx); err != nil {
			return err
		}
	}

	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()
	diagf("accumulation loop started: interval=%v", m.interval)

	for {
		select {
		case <-ctx.Done():
			diagf("accumulation loop stopping: %v", ctx.Err())
			return nil
		case <-ticker.C():
			if err := m.Tick(ctx); err != nil {
				opsf("tick failed: %v", err)
			}
		}
	}
}

// ResetPointCloud empties the primary cloud, announces the update and
// clears the motion baseline.
func (m *Manager) ResetPointCloud() {
	m.mu.Lock()
	if m.primary == nil {
		m.mu.Unlock()
		return
	}
	m.primary.Reset()
	// An empty transaction at index 0 tells visualizers to start over.
	m.primary.BeginUpdate()
	if err := m.primary.EndUpdate(); err != nil {
		opsf("reset announce failed: %v", err)
	}
	m.gate.Reset()
	m.notifier.MarkUpdated(m.primary.ID())
	m.mu.Unlock()

	m.notifier.Flush()
}

// DestroyAllPointClouds removes, disposes and announces every cloud in the
// registry. Later ticks are no-ops.
func (m *Manager) DestroyAllPointClouds() {
	m.mu.Lock()
	for _, c := range m.registry.Clear() {
		m.notifier.MarkRemoved(c.ID())
		c.Dispose()
	}
	m.primary = nil
	m.gate.Reset()
	m.mu.Unlock()

	m.notifier.Flush()
}

// Close removes and disposes the primary cloud only.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.primary == nil {
		m.mu.Unlock()
		return
	}
	if c, ok := m.registry.Remove(m.primary.ID()); ok {
		m.notifier.MarkRemoved(c.ID())
	}
	m.primary.Dispose()
	m.primary = nil
	m.mu.Unlock()

	m.notifier.Flush()
}

func clamp01(v float32) float32 {
	switch {
	case v < 0 || math.IsNaN(float64(v)):
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
