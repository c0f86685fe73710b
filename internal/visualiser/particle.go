package visualiser

import (
	"image/color"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/banshee-data/densecloud/internal/cloud"
)

// Particle is one rendered point.
type Particle struct {
	Position r3.Vector
	Color    color.RGBA
	Size     float32
}

// ParticleOptions configure a ParticleVisualizer.
type ParticleOptions struct {
	// StartSize is the particle size; zero means 0.01.
	StartSize float32
	// Alpha, when non-zero, replaces the alpha of every particle colour.
	Alpha uint8
	// ConfidenceGradient colours particles by confidence instead of by the
	// camera colour.
	ConfidenceGradient bool
	// Low and High are the gradient end points as hex colours; empty means
	// red to green.
	Low, High string
}

// ParticleVisualizer mirrors a buffer into a particle array sized to the
// buffer's capacity. Only particles [0, Alive) are live.
type ParticleVisualizer struct {
	buf       *cloud.PointBuffer
	size      float32
	alpha     uint8
	gradient  bool
	low, high colorful.Color

	mu        sync.RWMutex
	particles []Particle
	alive     int
}

// NewParticleVisualizer returns a particle system mirroring buf.
func NewParticleVisualizer(buf *cloud.PointBuffer, opt ParticleOptions) (*ParticleVisualizer, error) {
	lowHex, highHex := opt.Low, opt.High
	if lowHex == "" {
		lowHex = "#d7191c"
	}
	if highHex == "" {
		highHex = "#1a9641"
	}
	low, err := colorful.Hex(lowHex)
	if err != nil {
		return nil, err
	}
	high, err := colorful.Hex(highHex)
	if err != nil {
		return nil, err
	}
	size := opt.StartSize
	if size <= 0 {
		size = 0.01
	}
	return &ParticleVisualizer{
		buf:      buf,
		size:     size,
		alpha:    opt.Alpha,
		gradient: opt.ConfidenceGradient,
		low:      low,
		high:     high,
	}, nil
}

// OnPointCloudUpdated implements Visualizer.
func (p *ParticleVisualizer) OnPointCloudUpdated(d cloud.Delta) {
	points := p.buf.Points()
	colors := p.buf.Colors()
	confidences := p.buf.Confidences()

	p.mu.Lock()
	defer p.mu.Unlock()
	if capacity := p.buf.Capacity(); len(p.particles) != capacity {
		grown := make([]Particle, capacity)
		copy(grown, p.particles)
		p.particles = grown
	}

	end := min(d.End(), len(points))
	for i := d.Start; i < end; i++ {
		c := colors[i]
		if p.gradient {
			c = p.gradientColor(confidences[i])
		}
		if p.alpha != 0 {
			c.A = p.alpha
		}
		p.particles[i] = Particle{Position: points[i], Color: c, Size: p.size}
	}
	p.alive = len(points)
}

func (p *ParticleVisualizer) gradientColor(confidence float32) color.RGBA {
	r, g, b := p.low.BlendLab(p.high, float64(confidence)).Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// Particles returns a copy of the live particles.
func (p *ParticleVisualizer) Particles() []Particle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Particle(nil), p.particles[:p.alive]...)
}

// Alive returns the number of live particles.
func (p *ParticleVisualizer) Alive() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.alive
}

// Capacity returns the length of the particle array.
func (p *ParticleVisualizer) Capacity() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.particles)
}
