package sampling

import (
	"image"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGenerate_100x100x25(t *testing.T) {
	grid := Generate(100, 100, 25)

	// spacing = 20, 5 columns × 5 rows.
	if len(grid) != 25 {
		t.Fatalf("len = %d, want 25", len(grid))
	}
	tests := []struct {
		index int
		want  image.Point
	}{
		{0, image.Point{X: 10, Y: 10}},
		{4, image.Point{X: 90, Y: 10}},
		// Odd rows are shifted by half the spacing.
		{5, image.Point{X: 20, Y: 30}},
		{9, image.Point{X: 100, Y: 30}},
		{20, image.Point{X: 10, Y: 90}},
	}
	for _, tt := range tests {
		if grid[tt.index] != tt.want {
			t.Errorf("grid[%d] = %v, want %v", tt.index, grid[tt.index], tt.want)
		}
	}

	if diff := cmp.Diff(grid, Generate(100, 100, 25)); diff != "" {
		t.Errorf("repeat call differs (-first +second):\n%s", diff)
	}
}

func TestGenerate_RowMajorOrder(t *testing.T) {
	grid := Generate(64, 48, 48)
	if len(grid) == 0 {
		t.Fatal("empty grid")
	}
	for i := 1; i < len(grid); i++ {
		prev, cur := grid[i-1], grid[i]
		if cur.Y == prev.Y && cur.X <= prev.X {
			t.Errorf("index %d: x %d does not follow %d in the same row", i, cur.X, prev.X)
		}
		if cur.Y != prev.Y && cur.Y < prev.Y {
			t.Errorf("index %d: row %d comes after row %d", i, cur.Y, prev.Y)
		}
	}
}

func TestGenerate_CountNearTarget(t *testing.T) {
	tests := []struct {
		w, h, target int
	}{
		{256, 192, 500},
		{640, 480, 1000},
		{100, 100, 25},
		{160, 90, 100},
	}
	for _, tt := range tests {
		got := len(Generate(tt.w, tt.h, tt.target))
		if math.Abs(float64(got-tt.target)) > float64(tt.target)*0.25 {
			t.Errorf("%dx%d target=%d: got %d points", tt.w, tt.h, tt.target, got)
		}
	}
}

func TestGenerate_Degenerate(t *testing.T) {
	tests := []struct {
		w, h, target int
	}{
		{0, 100, 10},
		{100, -1, 10},
		{100, 100, 0},
	}
	for _, tt := range tests {
		if got := Generate(tt.w, tt.h, tt.target); len(got) != 0 {
			t.Errorf("Generate(%d, %d, %d) = %d points, want 0", tt.w, tt.h, tt.target, len(got))
		}
	}
}

func TestGenerate_RoundHalfToEven(t *testing.T) {
	// spacing = 2: 5/2 = 2.5 columns rounds down to 2, 7/2 = 3.5 rounds up to 4.
	if got := len(Generate(5, 4, 5)); got != 2*2 {
		t.Errorf("Generate(5, 4, 5) = %d points, want 4", got)
	}
	if got := len(Generate(7, 4, 7)); got != 4*2 {
		t.Errorf("Generate(7, 4, 7) = %d points, want 8", got)
	}
}

func TestGenerator_ReusesGrid(t *testing.T) {
	g := NewGenerator(25)

	first := g.Grid(100, 100)
	second := g.Grid(100, 100)
	if g.Rebuilds() != 1 {
		t.Errorf("Rebuilds() = %d, want 1", g.Rebuilds())
	}
	if len(first) == 0 {
		t.Fatal("empty grid")
	}
	if &first[0] != &second[0] {
		t.Errorf("unchanged resolution rebuilt the grid instead of reusing it")
	}

	third := g.Grid(200, 100)
	if g.Rebuilds() != 2 {
		t.Errorf("Rebuilds() = %d after resize, want 2", g.Rebuilds())
	}
	if len(third) == len(first) {
		t.Errorf("resized grid has the same length %d", len(third))
	}

	g.Grid(100, 100)
	if g.Rebuilds() != 3 {
		t.Errorf("Rebuilds() = %d, want 3", g.Rebuilds())
	}
	if g.Target() != 25 {
		t.Errorf("Target() = %d, want 25", g.Target())
	}
}
