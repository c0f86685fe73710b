// Package visualiser contains the renderer-side consumers of point-cloud
// deltas: an indexed point mesh, a particle array, a PNG plotter and an
// HTML scatter page. Visualizers only read the buffers they observe.
package visualiser

import (
	"sync"

	"github.com/banshee-data/densecloud/internal/cloud"
)

// Visualizer receives every delta emitted by the buffer it is attached to.
// Deltas may be empty.
type Visualizer interface {
	OnPointCloudUpdated(d cloud.Delta)
}

// Attachment connects a Visualizer to a buffer. While enabled the
// visualizer is subscribed to the buffer's deltas.
type Attachment struct {
	buf *cloud.PointBuffer
	vis Visualizer

	mu    sync.Mutex
	unsub func()
}

// Attach connects vis to buf and enables it.
func Attach(buf *cloud.PointBuffer, vis Visualizer) *Attachment {
	a := &Attachment{buf: buf, vis: vis}
	a.Enable()
	return a
}

// Enable subscribes the visualizer. It is a no-op when already enabled.
func (a *Attachment) Enable() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unsub != nil {
		return
	}
	a.unsub = a.buf.Subscribe(a.vis.OnPointCloudUpdated)
}

// Disable unsubscribes the visualizer. It is a no-op when already disabled.
func (a *Attachment) Disable() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unsub == nil {
		return
	}
	a.unsub()
	a.unsub = nil
}

// Enabled reports whether the visualizer is subscribed.
func (a *Attachment) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unsub != nil
}

// PointCloud returns the observed buffer.
func (a *Attachment) PointCloud() *cloud.PointBuffer { return a.buf }
