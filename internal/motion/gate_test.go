package motion

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/densecloud/internal/spatial"
)

func yawed(deg float64, pos r3.Vector) spatial.Pose {
	return spatial.NewPose(pos, spatial.AxisAngle(r3.Vector{Y: 1}, deg*math.Pi/180))
}

func TestShouldProcess_EmptyBufferAlwaysTrue(t *testing.T) {
	t.Parallel()

	p := yawed(0, r3.Vector{})
	if !ShouldProcess(p, p, true, 2, 0.02) {
		t.Errorf("identical poses with an empty buffer: got false")
	}
	if !ShouldProcess(p, yawed(90, r3.Vector{X: 10}), true, 2, 0.02) {
		t.Errorf("moved poses with an empty buffer: got false")
	}
}

func TestShouldProcess_IdenticalPosesFalse(t *testing.T) {
	t.Parallel()

	p := yawed(30, r3.Vector{X: 1, Y: 1.6, Z: -2})
	if ShouldProcess(p, p, false, 2, 0.02) {
		t.Errorf("identical poses with points: got true")
	}
}

func TestShouldProcess_Thresholds(t *testing.T) {
	t.Parallel()

	origin := r3.Vector{}
	last := yawed(0, origin)
	tests := []struct {
		name    string
		current spatial.Pose
		want    bool
	}{
		{"small rotation", yawed(1, origin), false},
		{"rotation over threshold", yawed(3, origin), true},
		{"small translation", yawed(0, r3.Vector{X: 0.01}), false},
		{"translation over threshold", yawed(0, r3.Vector{Z: 0.03}), true},
		{"translation just over threshold", yawed(0, r3.Vector{Y: 0.0201}), true},
		{"both small", yawed(1, r3.Vector{X: 0.005, Y: 0.005}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldProcess(tt.current, last, false, 2, 0.02); got != tt.want {
				t.Errorf("ShouldProcess = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldProcess_ZeroThresholdsAlwaysPass(t *testing.T) {
	t.Parallel()

	p := yawed(10, r3.Vector{X: 3})
	// cos(0) = 1 ≥ dot of identical unit forwards.
	if !ShouldProcess(p, p, false, 0, 0) {
		t.Errorf("zero thresholds: got false")
	}
}

func TestGate(t *testing.T) {
	t.Parallel()

	g := NewGate(2, 0.02)
	p := yawed(0, r3.Vector{})

	if !g.ShouldProcess(p, false) {
		t.Errorf("no baseline yet: got false")
	}
	if _, ok := g.Last(); ok {
		t.Errorf("Last() reported a baseline before Record")
	}

	g.Record(p)
	if g.ShouldProcess(p, false) {
		t.Errorf("same pose after Record: got true")
	}
	if !g.ShouldProcess(p, true) {
		t.Errorf("empty buffer after Record: got false")
	}
	if !g.ShouldProcess(yawed(5, r3.Vector{}), false) {
		t.Errorf("5° turn after Record: got false")
	}

	if last, ok := g.Last(); !ok || last != p {
		t.Errorf("Last() = %v, %v; want %v, true", last, ok, p)
	}

	g.Reset()
	if !g.ShouldProcess(p, false) {
		t.Errorf("after Reset: got false")
	}
}
