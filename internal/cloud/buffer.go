package cloud

import (
	"errors"
	"fmt"
	"image/color"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
)

var (
	// ErrNegativeCapacity is returned when a buffer is created with capacity < 0.
	ErrNegativeCapacity = errors.New("cloud: capacity must be non-negative")

	// ErrNotUpdating is returned when the buffer is mutated outside a
	// BeginUpdate/EndUpdate pair. It indicates a programming error.
	ErrNotUpdating = errors.New("cloud: call BeginUpdate before modifying the buffer")

	// ErrDisposed is returned when a disposed buffer is mutated or copied.
	ErrDisposed = errors.New("cloud: buffer has been disposed")
)

// Delta describes the half-open index range [Start, Start+Count) appended
// to a buffer by one update transaction. Count may be zero.
type Delta struct {
	CloudID uuid.UUID
	Start   int
	Count   int
}

// End returns the exclusive end index of the delta.
func (d Delta) End() int { return d.Start + d.Count }

// Empty reports whether the transaction appended nothing.
func (d Delta) Empty() bool { return d.Count == 0 }

type subscriber struct {
	id uint64
	fn func(Delta)
}

// PointBuffer is a fixed-capacity point store kept as parallel arrays of
// position, normal, colour and confidence. Only indices [0, Count) hold
// meaningful data.
//
// A PointBuffer has a single writer: Add is legal only between BeginUpdate
// and EndUpdate, and EndUpdate publishes one Delta to every subscriber.
//
// Points, Normals, Colors and Confidences return views of the buffer's
// storage. They are safe on the writer's goroutine, which includes
// subscriber callbacks, and stay valid only until the next Reset or
// CopyFrom, after which Add overwrites them. Other goroutines must read
// through Snapshot, which copies under the lock.
type PointBuffer struct {
	id uuid.UUID

	mu          sync.RWMutex
	points      []r3.Vector
	normals     []r3.Vector
	colors      []color.RGBA
	confidences []float32
	capacity    int
	count       int
	disposed    bool

	updating    bool
	updateStart int
	dropped     int // points refused because the buffer was full, per transaction

	subsMu  sync.Mutex
	subs    []subscriber
	nextSub uint64
}

// New allocates a PointBuffer able to hold capacity points.
func New(capacity int) (*PointBuffer, error) {
	b := &PointBuffer{id: uuid.New()}
	if err := b.Create(capacity); err != nil {
		return nil, err
	}
	return b, nil
}

// Create (re)allocates storage for capacity points and sets Count to zero.
// Subscribers and the buffer identity are preserved.
func (b *PointBuffer) Create(capacity int) error {
	if capacity < 0 {
		return fmt.Errorf("%w: got %d", ErrNegativeCapacity, capacity)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.points = make([]r3.Vector, capacity)
	b.normals = make([]r3.Vector, capacity)
	b.colors = make([]color.RGBA, capacity)
	b.confidences = make([]float32, capacity)
	b.capacity = capacity
	b.count = 0
	b.disposed = false
	b.updating = false
	diagf("buffer %s allocated: capacity=%d", b.id, capacity)
	return nil
}

// ID returns the identity of the buffer.
func (b *PointBuffer) ID() uuid.UUID { return b.id }

// Capacity returns the number of points the buffer can hold.
func (b *PointBuffer) Capacity() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.capacity
}

// Count returns the number of points currently stored.
func (b *PointBuffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// IsFull reports whether Count has reached Capacity.
func (b *PointBuffer) IsFull() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count == b.capacity
}

// IsDisposed reports whether Dispose has been called.
func (b *PointBuffer) IsDisposed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.disposed
}

// Points returns the first Count positions. The slice aliases the buffer's
// storage and must not be modified; its capacity is clipped so appends never
// reach the unused tail. Use Snapshot from goroutines other than the writer.
func (b *PointBuffer) Points() []r3.Vector {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.points[:b.count:b.count]
}

// Normals returns the first Count normals. See Points for aliasing rules.
func (b *PointBuffer) Normals() []r3.Vector {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.normals[:b.count:b.count]
}

// Colors returns the first Count colours. See Points for aliasing rules.
func (b *PointBuffer) Colors() []color.RGBA {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.colors[:b.count:b.count]
}

// Confidences returns the first Count confidences. See Points for aliasing rules.
func (b *PointBuffer) Confidences() []float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.confidences[:b.count:b.count]
}

// Slice is a copy of a contiguous range of a buffer.
type Slice struct {
	Start       int
	Points      []r3.Vector
	Normals     []r3.Vector
	Colors      []color.RGBA
	Confidences []float32
}

// Len returns the number of points in the slice.
func (s Slice) Len() int { return len(s.Points) }

// Snapshot copies points [start, end) clipped to [0, Count).
func (b *PointBuffer) Snapshot(start, end int) Slice {
	b.mu.RLock()
	defer b.mu.RUnlock()
	start = min(max(start, 0), b.count)
	end = min(end, b.count)
	if end < start {
		end = start
	}
	return Slice{
		Start:       start,
		Points:      append([]r3.Vector(nil), b.points[start:end]...),
		Normals:     append([]r3.Vector(nil), b.normals[start:end]...),
		Colors:      append([]color.RGBA(nil), b.colors[start:end]...),
		Confidences: append([]float32(nil), b.confidences[start:end]...),
	}
}

// BeginUpdate opens a transaction starting at the current Count.
// Only one transaction may be open at a time.
func (b *PointBuffer) BeginUpdate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updateStart = b.count
	b.updating = true
	b.dropped = 0
}

// Add appends one point. When the buffer is full the point is dropped and a
// warning is logged once per transaction; this is saturation, not an error.
func (b *PointBuffer) Add(position, normal r3.Vector, c color.RGBA, confidence float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.updating {
		return ErrNotUpdating
	}
	if b.disposed {
		return ErrDisposed
	}
	if b.count >= b.capacity {
		if b.dropped == 0 {
			opsf("max point cloud size has been reached: buffer %s holds %d points", b.id, b.capacity)
		}
		b.dropped++
		return nil
	}

	i := b.count
	b.points[i] = position
	b.normals[i] = normal
	b.colors[i] = c
	b.confidences[i] = confidence
	b.count++
	return nil
}

// EndUpdate closes the open transaction and notifies subscribers with the
// range appended since BeginUpdate, even when nothing was appended.
func (b *PointBuffer) EndUpdate() error {
	b.mu.Lock()
	if !b.updating {
		b.mu.Unlock()
		return ErrNotUpdating
	}
	b.updating = false
	d := Delta{CloudID: b.id, Start: b.updateStart, Count: b.count - b.updateStart}
	dropped := b.dropped
	b.mu.Unlock()

	if dropped > 0 {
		diagf("buffer %s saturated: %d points dropped in transaction", b.id, dropped)
	}
	tracef("buffer %s delta start=%d count=%d", b.id, d.Start, d.Count)
	b.emit(d)
	return nil
}

// Reset empties the buffer without releasing or clearing storage.
// It emits no delta; callers decide how to announce the change.
func (b *PointBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count = 0
}

// CopyFrom replaces the contents of b with a deep copy of other. Storage is
// reallocated to other's capacity and exactly one delta covering
// [0, other.Count()) is emitted.
func (b *PointBuffer) CopyFrom(other *PointBuffer) error {
	if other == nil {
		return errors.New("cloud: copy source is nil")
	}

	other.mu.RLock()
	if other.disposed {
		other.mu.RUnlock()
		return fmt.Errorf("copy source: %w", ErrDisposed)
	}
	capacity, n := other.capacity, other.count
	points := make([]r3.Vector, capacity)
	normals := make([]r3.Vector, capacity)
	colors := make([]color.RGBA, capacity)
	confidences := make([]float32, capacity)
	copy(points, other.points[:n])
	copy(normals, other.normals[:n])
	copy(colors, other.colors[:n])
	copy(confidences, other.confidences[:n])
	other.mu.RUnlock()

	b.mu.Lock()
	b.points, b.normals, b.colors, b.confidences = points, normals, colors, confidences
	b.capacity = capacity
	b.count = 0
	b.disposed = false
	b.updating = false
	b.mu.Unlock()

	b.BeginUpdate()
	b.mu.Lock()
	b.count = n
	b.mu.Unlock()
	return b.EndUpdate()
}

// Dispose releases storage. Calling it more than once is a no-op.
func (b *PointBuffer) Dispose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return
	}
	b.points, b.normals, b.colors, b.confidences = nil, nil, nil, nil
	b.capacity = 0
	b.count = 0
	b.updating = false
	b.disposed = true
	diagf("buffer %s disposed", b.id)
}

// Subscribe registers fn to receive every Delta emitted by EndUpdate.
// Subscribers run synchronously on the writer's goroutine, in registration
// order. The returned function removes the subscription.
func (b *PointBuffer) Subscribe(fn func(Delta)) (unsubscribe func()) {
	b.subsMu.Lock()
	b.nextSub++
	id := b.nextSub
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	b.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.subsMu.Lock()
			defer b.subsMu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *PointBuffer) emit(d Delta) {
	b.subsMu.Lock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.subsMu.Unlock()

	for _, s := range subs {
		s.fn(d)
	}
}
