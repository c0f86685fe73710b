package visualiser

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/densecloud/internal/cloud"
)

// PlotVisualizer records a top-down (X/Z) view of a buffer and renders it
// as a PNG scatter plot. At most maxPoints samples are kept; beyond that
// every stride-th point of each delta is recorded.
type PlotVisualizer struct {
	buf       *cloud.PointBuffer
	title     string
	maxPoints int

	mu      sync.Mutex
	xys     plotter.XYs
	colors  []color.RGBA
	stride  int
	updates int
}

// NewPlotVisualizer returns a plotter for buf keeping at most maxPoints
// samples (20000 when non-positive).
func NewPlotVisualizer(buf *cloud.PointBuffer, title string, maxPoints int) *PlotVisualizer {
	if maxPoints <= 0 {
		maxPoints = 20000
	}
	return &PlotVisualizer{buf: buf, title: title, maxPoints: maxPoints, stride: 1}
}

// OnPointCloudUpdated implements Visualizer.
func (pv *PlotVisualizer) OnPointCloudUpdated(d cloud.Delta) {
	points := pv.buf.Points()
	colors := pv.buf.Colors()

	pv.mu.Lock()
	defer pv.mu.Unlock()
	pv.updates++
	if d.Start == 0 {
		pv.xys = pv.xys[:0]
		pv.colors = pv.colors[:0]
		pv.stride = 1
	}

	end := min(d.End(), len(points))
	for i := d.Start; i < end; i += pv.stride {
		pv.xys = append(pv.xys, plotter.XY{X: points[i].X, Y: points[i].Z})
		pv.colors = append(pv.colors, colors[i])
		if len(pv.xys) >= pv.maxPoints {
			pv.thinLocked()
		}
	}
}

// thinLocked halves the recorded samples and doubles the stride.
func (pv *PlotVisualizer) thinLocked() {
	n := 0
	for i := 0; i < len(pv.xys); i += 2 {
		pv.xys[n] = pv.xys[i]
		pv.colors[n] = pv.colors[i]
		n++
	}
	pv.xys = pv.xys[:n]
	pv.colors = pv.colors[:n]
	pv.stride *= 2
}

// Samples returns the number of recorded samples.
func (pv *PlotVisualizer) Samples() int {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	return len(pv.xys)
}

func (pv *PlotVisualizer) build() (*plot.Plot, error) {
	pv.mu.Lock()
	xys := append(plotter.XYs(nil), pv.xys...)
	colors := append([]color.RGBA(nil), pv.colors...)
	stride := pv.stride
	pv.mu.Unlock()

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (points=%d stride=%d)", pv.title, len(xys), stride)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Z (m)"
	p.Add(plotter.NewGrid())

	if len(xys) == 0 {
		return p, nil
	}
	scatter, err := plotter.NewScatter(xys)
	if err != nil {
		return nil, fmt.Errorf("build scatter: %w", err)
	}
	scatter.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		return draw.GlyphStyle{Color: colors[i], Radius: vg.Points(1), Shape: draw.CircleGlyph{}}
	}
	p.Add(scatter)
	return p, nil
}

// WriteTo renders the plot as a PNG to w.
func (pv *PlotVisualizer) WriteTo(w io.Writer) (int64, error) {
	p, err := pv.build()
	if err != nil {
		return 0, err
	}
	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		return 0, fmt.Errorf("render plot: %w", err)
	}
	return wt.WriteTo(w)
}

// Save renders the plot to a PNG file, creating its directory.
func (pv *PlotVisualizer) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	p, err := pv.build()
	if err != nil {
		return err
	}
	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}
