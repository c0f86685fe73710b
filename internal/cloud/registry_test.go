package cloud

import (
	"testing"

	"github.com/google/uuid"
)

func sameBuffers(got, want []*PointBuffer) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	a := newBuffer(t, 1)
	b := newBuffer(t, 1)

	if !r.Add(a) || !r.Add(b) {
		t.Fatalf("Add of new buffers returned false")
	}
	if r.Add(a) {
		t.Errorf("duplicate Add returned true")
	}
	if r.Add(nil) {
		t.Errorf("Add(nil) returned true")
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
	if !sameBuffers(r.All(), []*PointBuffer{a, b}) {
		t.Errorf("All() is not [a b] in insertion order")
	}

	if got, ok := r.Get(b.ID()); !ok || got != b {
		t.Errorf("Get(b) = %p, %v; want b, true", got, ok)
	}
	if _, ok := r.Get(uuid.New()); ok {
		t.Errorf("Get(unknown) reported a buffer")
	}

	removed, ok := r.Remove(a.ID())
	if !ok || removed != a {
		t.Fatalf("Remove(a) = %p, %v; want a, true", removed, ok)
	}
	if !sameBuffers(r.All(), []*PointBuffer{b}) {
		t.Errorf("All() after Remove is not [b]")
	}
	if _, ok := r.Remove(a.ID()); ok {
		t.Errorf("second Remove(a) reported success")
	}

	if cleared := r.Clear(); !sameBuffers(cleared, []*PointBuffer{b}) {
		t.Errorf("Clear() returned %d buffers, want [b]", len(cleared))
	}
	if r.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", r.Len())
	}
}

func TestRegistry_AllIsSnapshot(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Add(newBuffer(t, 1))

	snap := r.All()
	snap[0] = nil
	if r.All()[0] == nil {
		t.Errorf("writing the All() result changed the registry")
	}
}
