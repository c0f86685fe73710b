// Package admission turns one sensor frame into points: it reprojects the
// sampled depth pixels to world space, filters them by confidence and
// appends the survivors to a point buffer in a single transaction.
package admission

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/densecloud/internal/cloud"
	"github.com/banshee-data/densecloud/internal/frames"
	"github.com/banshee-data/densecloud/internal/spatial"
)

// ErrDimensionMismatch is returned when the colour, depth and confidence
// images do not share one resolution.
var ErrDimensionMismatch = errors.New("admission: frame dimensions differ")

// Input is one time-aligned set of frames. Color must already be aligned to
// the depth resolution (see frames.AlignColor).
type Input struct {
	Color      frames.ColorImage
	Depth      frames.DepthImage
	Confidence frames.ConfidenceImage
	Camera     spatial.Camera
}

// Result summarises one processed frame. Every grid sample is counted in
// exactly one of Admitted, Rejected, OutOfBounds or Saturated.
type Result struct {
	Considered  int
	Admitted    int
	Rejected    int // below the confidence threshold or without a valid depth
	OutOfBounds int // grid coordinate outside the depth image
	Saturated   int // dropped because the buffer was full
}

// Pipeline admits sampled pixels into a point buffer.
type Pipeline struct {
	// Workers > 1 unprojects samples on that many goroutines. Points are
	// still appended in grid order.
	Workers int
}

type verdict uint8

const (
	verdictAdmit verdict = iota
	verdictReject
	verdictOutOfBounds
)

type sample struct {
	verdict    verdict
	position   r3.Vector
	normal     r3.Vector
	color      color.RGBA
	confidence float32
}

// ProcessFrame runs one admission pass of in over grid and appends the
// admitted points to buf. Exactly one delta is emitted by buf, even when
// nothing is admitted. Validation and cancellation errors are returned
// before the buffer is touched.
func (p *Pipeline) ProcessFrame(ctx context.Context, in Input, buf *cloud.PointBuffer, grid []image.Point, minConfidence float32) (Result, error) {
	if err := validate(in, buf); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var (
		res Result
		err error
	)
	if p.Workers > 1 && len(grid) >= p.Workers {
		res, err = p.processParallel(ctx, in, buf, grid, minConfidence)
	} else {
		res, err = processSequential(in, buf, grid, minConfidence)
	}
	if err != nil {
		return res, err
	}

	if res.Saturated > 0 {
		opsf("max point cloud size has been reached: %d samples dropped, buffer %s holds %d points",
			res.Saturated, buf.ID(), buf.Capacity())
	}
	diagf("frame admitted=%d rejected=%d out_of_bounds=%d saturated=%d of %d",
		res.Admitted, res.Rejected, res.OutOfBounds, res.Saturated, res.Considered)
	return res, nil
}

func validate(in Input, buf *cloud.PointBuffer) error {
	if buf == nil {
		return errors.New("admission: nil point buffer")
	}
	if in.Camera == nil {
		return errors.New("admission: nil camera")
	}
	w, h := in.Depth.Width(), in.Depth.Height()
	if in.Confidence.Width() != w || in.Confidence.Height() != h {
		return fmt.Errorf("%w: depth %dx%d, confidence %dx%d",
			ErrDimensionMismatch, w, h, in.Confidence.Width(), in.Confidence.Height())
	}
	if in.Color.Width() != w || in.Color.Height() != h {
		return fmt.Errorf("%w: depth %dx%d, color %dx%d",
			ErrDimensionMismatch, w, h, in.Color.Width(), in.Color.Height())
	}
	return nil
}

// unprojector holds the per-frame constants of the reprojection.
type unprojector struct {
	in            Input
	cameraPos     r3.Vector
	width, height float64
	screenW       float64
	screenH       float64
	minConfidence float32
}

func newUnprojector(in Input, minConfidence float32) unprojector {
	sw, sh := in.Camera.ScreenSize()
	return unprojector{
		in:            in,
		cameraPos:     in.Camera.Pose().Position,
		width:         float64(in.Depth.Width()),
		height:        float64(in.Depth.Height()),
		screenW:       float64(sw),
		screenH:       float64(sh),
		minConfidence: minConfidence,
	}
}

func (u *unprojector) inBounds(pt image.Point) bool {
	return u.in.Depth.Contains(pt.X, pt.Y)
}

// evaluate classifies one in-bounds grid sample and unprojects it when it
// passes the confidence filter.
func (u *unprojector) evaluate(pt image.Point) sample {
	confidence := frames.MapConfidence(u.in.Confidence.At(pt.X, pt.Y))
	if confidence < u.minConfidence {
		return sample{verdict: verdictReject, confidence: confidence}
	}
	depth := float64(u.in.Depth.At(pt.X, pt.Y))
	if math.IsNaN(depth) || math.IsInf(depth, 0) || depth <= 0 {
		return sample{verdict: verdictReject, confidence: confidence}
	}

	nx := float64(pt.X) / u.width
	ny := 1 - float64(pt.Y)/u.height
	world := u.in.Camera.ScreenToWorld(u.screenW*nx, u.screenH*ny, depth)

	return sample{
		verdict:    verdictAdmit,
		position:   world,
		normal:     u.cameraPos.Sub(world).Normalize(),
		color:      u.in.Color.At(pt.X, pt.Y),
		confidence: confidence,
	}
}

func processSequential(in Input, buf *cloud.PointBuffer, grid []image.Point, minConfidence float32) (Result, error) {
	u := newUnprojector(in, minConfidence)
	res := Result{Considered: len(grid)}

	buf.BeginUpdate()
	for _, pt := range grid {
		if !u.inBounds(pt) {
			res.OutOfBounds++
			continue
		}
		if buf.IsFull() {
			res.Saturated++
			continue
		}
		s := u.evaluate(pt)
		if err := admit(buf, s, &res); err != nil {
			_ = buf.EndUpdate()
			return res, err
		}
	}
	return res, buf.EndUpdate()
}

// processParallel evaluates contiguous chunks of the grid concurrently and
// then appends in grid order, so buffer indices match the sequential path.
func (p *Pipeline) processParallel(ctx context.Context, in Input, buf *cloud.PointBuffer, grid []image.Point, minConfidence float32) (Result, error) {
	u := newUnprojector(in, minConfidence)
	samples := make([]sample, len(grid))

	g, gctx := errgroup.WithContext(ctx)
	chunk := (len(grid) + p.Workers - 1) / p.Workers
	for start := 0; start < len(grid); start += chunk {
		end := min(start+chunk, len(grid))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if !u.inBounds(grid[i]) {
					samples[i] = sample{verdict: verdictOutOfBounds}
					continue
				}
				samples[i] = u.evaluate(grid[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("unproject samples: %w", err)
	}

	res := Result{Considered: len(grid)}
	buf.BeginUpdate()
	for _, s := range samples {
		if s.verdict == verdictOutOfBounds {
			res.OutOfBounds++
			continue
		}
		if buf.IsFull() {
			res.Saturated++
			continue
		}
		if err := admit(buf, s, &res); err != nil {
			_ = buf.EndUpdate()
			return res, err
		}
	}
	return res, buf.EndUpdate()
}

func admit(buf *cloud.PointBuffer, s sample, res *Result) error {
	if s.verdict != verdictAdmit {
		res.Rejected++
		return nil
	}
	if err := buf.Add(s.position, s.normal, s.color, s.confidence); err != nil {
		return fmt.Errorf("append point: %w", err)
	}
	res.Admitted++
	tracef("admitted point (%.3f, %.3f, %.3f) confidence=%.1f", s.position.X, s.position.Y, s.position.Z, s.confidence)
	return nil
}
