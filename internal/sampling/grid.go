package sampling

import (
	"image"
	"math"
	"sync"
)

// Generate returns the sampling grid for a width×height image with roughly
// targetPointsPerFrame samples, in row-major order. Non-positive inputs
// yield an empty grid.
//
// Coordinates on odd rows may land at or beyond width; consumers must
// bounds-check before indexing the image.
func Generate(width, height, targetPointsPerFrame int) []image.Point {
	if width <= 0 || height <= 0 || targetPointsPerFrame <= 0 {
		return nil
	}

	spacing := math.Sqrt(float64(width*height) / float64(targetPointsPerFrame))
	cols := int(math.RoundToEven(float64(width) / spacing))
	rows := int(math.RoundToEven(float64(height) / spacing))

	grid := make([]image.Point, 0, cols*rows)
	for y := 0; y < rows; y++ {
		offsetX := float64(y%2) * spacing / 2
		for x := 0; x < cols; x++ {
			grid = append(grid, image.Point{
				X: int(math.Floor(offsetX + (float64(x)+0.5)*spacing)),
				Y: int(math.Floor((float64(y) + 0.5) * spacing)),
			})
		}
	}
	return grid
}

// Generator caches the grid for the last image resolution it saw and only
// rebuilds it when the resolution changes.
type Generator struct {
	mu       sync.Mutex
	target   int
	width    int
	height   int
	grid     []image.Point
	built    bool
	rebuilds int
}

// NewGenerator returns a Generator with the given per-frame point budget.
func NewGenerator(targetPointsPerFrame int) *Generator {
	return &Generator{target: targetPointsPerFrame}
}

// Grid returns the sampling grid for a width×height image. The returned
// slice is shared between calls and must not be modified.
func (g *Generator) Grid(width, height int) []image.Point {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.built && g.width == width && g.height == height {
		return g.grid
	}

	g.grid = Generate(width, height, g.target)
	g.width, g.height = width, height
	g.built = true
	g.rebuilds++
	diagf("sampling grid rebuilt: %dx%d target=%d samples=%d", width, height, g.target, len(g.grid))
	return g.grid
}

// Target returns the per-frame point budget.
func (g *Generator) Target() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.target
}

// Rebuilds returns how many times the grid has been computed.
func (g *Generator) Rebuilds() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rebuilds
}
