package visualiser

import (
	"image/color"
	"math"
	"sync"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/densecloud/internal/cloud"
)

// Vertex is one interleaved mesh vertex: float32 position then RGBA8.
type Vertex struct {
	Position [3]float32
	Color    color.RGBA
}

// MeshVisualizer mirrors a buffer into a point-topology mesh: a vertex
// array sized to the live count, an identity index buffer and running
// bounds. Only the delta range is copied on each update.
type MeshVisualizer struct {
	buf *cloud.PointBuffer

	mu        sync.RWMutex
	vertices  []Vertex
	indices   []uint32 // identity, sized to capacity
	boundsMin r3.Vector
	boundsMax r3.Vector
	hasBounds bool
	indexCnt  int // submesh index count, equal to the live count
	updates   int
}

// NewMeshVisualizer returns a mesh mirroring buf.
func NewMeshVisualizer(buf *cloud.PointBuffer) *MeshVisualizer {
	return &MeshVisualizer{
		buf:       buf,
		boundsMin: r3.Vector{X: math.MaxFloat64, Y: math.MaxFloat64, Z: math.MaxFloat64},
		boundsMax: r3.Vector{X: -math.MaxFloat64, Y: -math.MaxFloat64, Z: -math.MaxFloat64},
	}
}

// OnPointCloudUpdated implements Visualizer.
func (m *MeshVisualizer) OnPointCloudUpdated(d cloud.Delta) {
	points := m.buf.Points()
	colors := m.buf.Colors()
	count := len(points)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++

	if capacity := m.buf.Capacity(); len(m.indices) != capacity {
		m.indices = make([]uint32, capacity)
		for i := range m.indices {
			m.indices[i] = uint32(i)
		}
	}

	if d.Start == 0 {
		// The transaction began on an empty buffer.
		m.resetBoundsLocked()
	}
	if cap(m.vertices) < count {
		grown := make([]Vertex, count, max(count, 2*cap(m.vertices)))
		copy(grown, m.vertices)
		m.vertices = grown
	} else {
		m.vertices = m.vertices[:count]
	}

	end := min(d.End(), count)
	for i := d.Start; i < end; i++ {
		p := points[i]
		m.vertices[i] = Vertex{
			Position: [3]float32{float32(p.X), float32(p.Y), float32(p.Z)},
			Color:    colors[i],
		}
		m.boundsMin = r3.Vector{X: math.Min(m.boundsMin.X, p.X), Y: math.Min(m.boundsMin.Y, p.Y), Z: math.Min(m.boundsMin.Z, p.Z)}
		m.boundsMax = r3.Vector{X: math.Max(m.boundsMax.X, p.X), Y: math.Max(m.boundsMax.Y, p.Y), Z: math.Max(m.boundsMax.Z, p.Z)}
		m.hasBounds = true
	}
	m.indexCnt = count
}

func (m *MeshVisualizer) resetBoundsLocked() {
	m.boundsMin = r3.Vector{X: math.MaxFloat64, Y: math.MaxFloat64, Z: math.MaxFloat64}
	m.boundsMax = r3.Vector{X: -math.MaxFloat64, Y: -math.MaxFloat64, Z: -math.MaxFloat64}
	m.hasBounds = false
}

// Vertices returns a copy of the vertex array.
func (m *MeshVisualizer) Vertices() []Vertex {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Vertex(nil), m.vertices...)
}

// Indices returns the index buffer range used by the submesh.
func (m *MeshVisualizer) Indices() []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]uint32(nil), m.indices[:m.indexCnt]...)
}

// IndexCapacity returns the allocated index buffer length.
func (m *MeshVisualizer) IndexCapacity() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.indices)
}

// Bounds returns the axis-aligned bounds of every vertex seen since the
// last reset.
func (m *MeshVisualizer) Bounds() (lo, hi r3.Vector, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.boundsMin, m.boundsMax, m.hasBounds
}

// Updates returns the number of deltas received.
func (m *MeshVisualizer) Updates() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updates
}
