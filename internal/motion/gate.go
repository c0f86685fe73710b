// Package motion decides whether the camera moved far enough since the last
// accepted frame for a new frame to be worth processing.
package motion

import (
	"math"
	"sync"

	"github.com/banshee-data/densecloud/internal/spatial"
)

// ShouldProcess reports whether a frame taken at current should be processed
// given the last accepted pose. It is always true while the buffer is empty.
// Rotation triggers when the angle between forward vectors reaches
// rotationThresholdDeg; translation triggers when the camera moved at least
// translationThresholdMeters.
func ShouldProcess(current, last spatial.Pose, bufferEmpty bool, rotationThresholdDeg, translationThresholdMeters float64) bool {
	if bufferEmpty {
		return true
	}
	cos := math.Cos(rotationThresholdDeg * math.Pi / 180)
	return exceeds(current, last, cos, translationThresholdMeters*translationThresholdMeters)
}

func exceeds(current, last spatial.Pose, cosThreshold, sqThreshold float64) bool {
	if last.Forward().Dot(current.Forward()) <= cosThreshold {
		return true
	}
	d := current.Position.Sub(last.Position)
	return d.Dot(d) >= sqThreshold
}

// Gate holds the motion baseline between ticks. The thresholds are
// precomputed as a cosine and a squared distance.
type Gate struct {
	mu           sync.Mutex
	cosThreshold float64
	sqThreshold  float64
	last         spatial.Pose
	hasLast      bool
}

// NewGate returns a Gate with the given rotation (degrees) and translation
// (metres) thresholds and no baseline.
func NewGate(rotationThresholdDeg, translationThresholdMeters float64) *Gate {
	return &Gate{
		cosThreshold: math.Cos(rotationThresholdDeg * math.Pi / 180),
		sqThreshold:  translationThresholdMeters * translationThresholdMeters,
	}
}

// ShouldProcess applies the gate to current. Without a recorded baseline
// every frame passes.
func (g *Gate) ShouldProcess(current spatial.Pose, bufferEmpty bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if bufferEmpty || !g.hasLast {
		return true
	}
	return exceeds(current, g.last, g.cosThreshold, g.sqThreshold)
}

// Record makes p the baseline for the next comparison.
func (g *Gate) Record(p spatial.Pose) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = p
	g.hasLast = true
}

// Last returns the recorded baseline, if any.
func (g *Gate) Last() (spatial.Pose, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last, g.hasLast
}

// Reset forgets the baseline.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = spatial.Pose{}
	g.hasLast = false
}
