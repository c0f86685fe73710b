package admission

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/densecloud/internal/cloud"
	"github.com/banshee-data/densecloud/internal/sampling"
	"github.com/banshee-data/densecloud/internal/testutil"
)

const confidenceHigh = 2

func tenPoints() []image.Point {
	grid := make([]image.Point, 0, 10)
	for i := 0; i < 10; i++ {
		grid = append(grid, image.Point{X: 1 + 2*i, Y: 1 + i})
	}
	return grid
}

func newInput(t *testing.T, spec testutil.FrameSpec) Input {
	t.Helper()
	f := testutil.NewFrame(t, spec)
	return Input{
		Color:      f.Color,
		Depth:      f.Depth,
		Confidence: f.Confidence,
		Camera:     testutil.NewCamera(t, 320, 240),
	}
}

func uniform(depth float32, code uint8) testutil.FrameSpec {
	return testutil.FrameSpec{
		Width: 32, Height: 24, Depth: depth, Confidence: code,
		Color: color.RGBA{R: 10, G: 20, B: 30, A: 255},
	}
}

func newBuffer(t *testing.T, capacity int) *cloud.PointBuffer {
	t.Helper()
	buf, err := cloud.New(capacity)
	if err != nil {
		t.Fatalf("cloud.New(%d): %v", capacity, err)
	}
	return buf
}

func process(t *testing.T, p *Pipeline, in Input, buf *cloud.PointBuffer, grid []image.Point, minConfidence float32) Result {
	t.Helper()
	res, err := p.ProcessFrame(context.Background(), in, buf, grid, minConfidence)
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	return res
}

func near(a, b float64) bool { return math.Abs(a-b) <= 1e-9 }

func TestProcessFrame_AdmitsTenPoints(t *testing.T) {
	t.Parallel()

	buf := newBuffer(t, 100)
	rec := testutil.RecordDeltas(t, buf)

	var p Pipeline
	res := process(t, &p, newInput(t, uniform(1.5, confidenceHigh)), buf, tenPoints(), 0.5)

	if buf.Count() != 10 {
		t.Errorf("Count() = %d, want 10", buf.Count())
	}
	if diff := cmp.Diff([]cloud.Delta{{CloudID: buf.ID(), Start: 0, Count: 10}}, rec.Deltas()); diff != "" {
		t.Errorf("deltas mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Result{Considered: 10, Admitted: 10}, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	for i, c := range buf.Confidences() {
		if c != 1 {
			t.Errorf("confidence[%d] = %v, want 1", i, c)
		}
	}
	if got, want := buf.Colors()[9], (color.RGBA{R: 10, G: 20, B: 30, A: 255}); got != want {
		t.Errorf("color[9] = %v, want %v", got, want)
	}
}

func TestProcessFrame_ImpossibleThreshold(t *testing.T) {
	t.Parallel()

	buf := newBuffer(t, 100)
	rec := testutil.RecordDeltas(t, buf)

	var p Pipeline
	res := process(t, &p, newInput(t, uniform(1.5, confidenceHigh)), buf, tenPoints(), 1.1)

	if buf.Count() != 0 {
		t.Errorf("Count() = %d, want 0", buf.Count())
	}
	if diff := cmp.Diff([]cloud.Delta{{CloudID: buf.ID(), Start: 0, Count: 0}}, rec.Deltas()); diff != "" {
		t.Errorf("deltas mismatch (-want +got):\n%s", diff)
	}
	if res.Rejected != 10 {
		t.Errorf("Rejected = %d, want 10", res.Rejected)
	}
}

func TestProcessFrame_MediumConfidence(t *testing.T) {
	t.Parallel()

	buf := newBuffer(t, 100)
	var p Pipeline
	in := newInput(t, uniform(1, 1))

	// 0.5 ≥ 0.5 is admitted.
	if res := process(t, &p, in, buf, tenPoints(), 0.5); res.Admitted != 10 {
		t.Errorf("minConfidence 0.5: Admitted = %d, want 10", res.Admitted)
	}
	if res := process(t, &p, in, buf, tenPoints(), 0.51); res.Rejected != 10 {
		t.Errorf("minConfidence 0.51: Rejected = %d, want 10", res.Rejected)
	}
	if buf.Count() != 10 {
		t.Errorf("Count() = %d, want 10", buf.Count())
	}
}

func TestProcessFrame_Geometry(t *testing.T) {
	t.Parallel()

	buf := newBuffer(t, 10)
	var p Pipeline

	in := newInput(t, uniform(2, confidenceHigh))
	grid := []image.Point{{X: 16, Y: 12}, {X: 16, Y: 0}, {X: 0, Y: 12}}
	process(t, &p, in, buf, grid, 0)
	if buf.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", buf.Count())
	}

	pts := buf.Points()
	// Image centre lands on the optical axis.
	if !near(pts[0].X, 0) || !near(pts[0].Y, 0) || !near(pts[0].Z, 2) {
		t.Errorf("centre pixel at %v, want (0, 0, 2)", pts[0])
	}
	// The top image row maps to the top of the screen.
	if want := 2 * math.Tan(math.Pi/6); !near(pts[1].Y, want) {
		t.Errorf("top row Y = %v, want %v", pts[1].Y, want)
	}
	// The left image column maps to the left of the screen.
	if pts[2].X >= 0 {
		t.Errorf("left column X = %v, want negative", pts[2].X)
	}

	for i, pt := range pts {
		want := r3.Vector{}.Sub(pt).Normalize()
		n := buf.Normals()[i]
		if !near(n.Norm(), 1) || !near(n.X, want.X) || !near(n.Y, want.Y) || !near(n.Z, want.Z) {
			t.Errorf("normal[%d] = %v, want unit vector toward camera %v", i, n, want)
		}
	}
}

func TestProcessFrame_InvalidDepthRejected(t *testing.T) {
	t.Parallel()

	in := newInput(t, uniform(1, confidenceHigh))
	in.Depth.Set(1, 1, float32(math.NaN()))
	in.Depth.Set(3, 2, 0)
	in.Depth.Set(5, 3, float32(math.Inf(1)))
	in.Depth.Set(7, 4, -1)

	var p Pipeline
	res := process(t, &p, in, newBuffer(t, 100), tenPoints(), 0)

	if res.Rejected != 4 || res.Admitted != 6 {
		t.Errorf("Rejected/Admitted = %d/%d, want 4/6", res.Rejected, res.Admitted)
	}
}

func TestProcessFrame_OutOfBounds(t *testing.T) {
	t.Parallel()

	var p Pipeline
	grid := []image.Point{{X: 32, Y: 5}, {X: 5, Y: 24}, {X: -1, Y: 0}, {X: 31, Y: 23}}
	res := process(t, &p, newInput(t, uniform(1, confidenceHigh)), newBuffer(t, 100), grid, 0)

	if diff := cmp.Diff(Result{Considered: 4, Admitted: 1, OutOfBounds: 3}, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessFrame_Saturation(t *testing.T) {
	var ops bytes.Buffer
	SetLogWriters(&ops, nil, nil)
	defer SetLogWriters(nil, nil, nil)

	buf := newBuffer(t, 3)
	rec := testutil.RecordDeltas(t, buf)

	var p Pipeline
	res := process(t, &p, newInput(t, uniform(1, confidenceHigh)), buf, tenPoints(), 0.5)

	if buf.Count() != 3 {
		t.Errorf("Count() = %d, want 3", buf.Count())
	}
	if diff := cmp.Diff(Result{Considered: 10, Admitted: 3, Saturated: 7}, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if n := strings.Count(ops.String(), "max point cloud size"); n != 1 {
		t.Errorf("saturation warning logged %d times, want 1", n)
	}

	// A frame against a full buffer still emits one empty delta.
	process(t, &p, newInput(t, uniform(1, confidenceHigh)), buf, tenPoints(), 0.5)
	want := []cloud.Delta{
		{CloudID: buf.ID(), Start: 0, Count: 3},
		{CloudID: buf.ID(), Start: 3, Count: 0},
	}
	if diff := cmp.Diff(want, rec.Deltas()); diff != "" {
		t.Errorf("deltas mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessFrame_DimensionMismatch(t *testing.T) {
	t.Parallel()

	in := newInput(t, uniform(1, confidenceHigh))
	small := testutil.NewFrame(t, testutil.FrameSpec{Width: 8, Height: 8})
	buf := newBuffer(t, 10)
	rec := testutil.RecordDeltas(t, buf)

	badConfidence := in
	badConfidence.Confidence = small.Confidence
	badColor := in
	badColor.Color = small.Color
	noCamera := in
	noCamera.Camera = nil

	tests := []struct {
		name    string
		in      Input
		buf     *cloud.PointBuffer
		wantErr error
	}{
		{"confidence size", badConfidence, buf, ErrDimensionMismatch},
		{"color size", badColor, buf, ErrDimensionMismatch},
		{"no camera", noCamera, buf, nil},
		{"no buffer", in, nil, nil},
	}
	var p Pipeline
	for _, tt := range tests {
		_, err := p.ProcessFrame(context.Background(), tt.in, tt.buf, tenPoints(), 0)
		if err == nil {
			t.Errorf("%s: ProcessFrame returned nil error", tt.name)
			continue
		}
		if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
			t.Errorf("%s: error = %v, want %v", tt.name, err, tt.wantErr)
		}
	}

	// Validation happens before the transaction.
	if n := len(rec.Deltas()); n != 0 {
		t.Errorf("got %d deltas from rejected inputs, want 0", n)
	}
}

func TestProcessFrame_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	buf := newBuffer(t, 10)
	rec := testutil.RecordDeltas(t, buf)

	p := Pipeline{Workers: 4}
	_, err := p.ProcessFrame(ctx, newInput(t, uniform(1, confidenceHigh)), buf, tenPoints(), 0)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if len(rec.Deltas()) != 0 || buf.Count() != 0 {
		t.Errorf("cancelled frame left %d deltas and %d points", len(rec.Deltas()), buf.Count())
	}
}

func TestProcessFrame_ParallelMatchesSequential(t *testing.T) {
	t.Parallel()

	in := newInput(t, testutil.FrameSpec{Width: 64, Height: 48})
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			in.Depth.Set(x, y, 0.5+float32(x*y)/1000)
			in.Confidence.Set(x, y, uint8((x+y)%4))
		}
	}
	grid := sampling.Generate(64, 48, 300)

	run := func(workers, capacity int) (*cloud.PointBuffer, Result) {
		buf := newBuffer(t, capacity)
		p := Pipeline{Workers: workers}
		return buf, process(t, &p, in, buf, grid, 0.5)
	}

	for _, capacity := range []int{1000, 40} {
		seq, seqRes := run(1, capacity)
		par, parRes := run(4, capacity)

		if diff := cmp.Diff(seqRes, parRes); diff != "" {
			t.Errorf("capacity %d: result differs (-sequential +parallel):\n%s", capacity, diff)
		}
		if diff := cmp.Diff(seq.Points(), par.Points()); diff != "" {
			t.Errorf("capacity %d: points differ (-sequential +parallel):\n%s", capacity, diff)
		}
		if diff := cmp.Diff(seq.Confidences(), par.Confidences()); diff != "" {
			t.Errorf("capacity %d: confidences differ (-sequential +parallel):\n%s", capacity, diff)
		}
		if seqRes.Admitted == 0 {
			t.Errorf("capacity %d: nothing admitted", capacity)
		}
		if sum := seqRes.Admitted + seqRes.Rejected + seqRes.OutOfBounds + seqRes.Saturated; sum != seqRes.Considered {
			t.Errorf("capacity %d: outcomes sum to %d, want Considered %d", capacity, sum, seqRes.Considered)
		}
	}
}
