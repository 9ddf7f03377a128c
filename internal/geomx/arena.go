package geomx

import "sync"

// Arena is a size-classed pool of reusable *Geometry buffers. Classify
// (spec.md §4.3) allocates one Geometry per mobile atom on every KMC
// iteration; recycling the backing arrays through an Arena avoids a
// GC-visible allocation per site per iteration, the same problem the
// teacher's slab allocator solves for small fixed-size objects
// (kernel/threads/arena/slab.go) -- adapted here from byte-offset size
// classes to Go-native pooled *Geometry values, since Classify's
// buffers are owned objects rather than bytes in a shared arena.
type Arena struct {
	mu      sync.Mutex
	classes map[int][]*Geometry
}

// NewArena returns an empty Arena.
func NewArena() *Arena {
	return &Arena{classes: make(map[int][]*Geometry)}
}

// sizeClass buckets a requested capacity up to the next power-of-two
// boundary, mirroring the teacher's fixed size-class ladder so that a
// Geometry returned via Get can satisfy any request of equal or lesser
// capacity without reallocating.
func sizeClass(n int) int {
	c := 8
	for c < n {
		c *= 2
	}
	return c
}

// Get returns a cleared *Geometry with capacity for at least n atoms,
// reusing a pooled buffer of the matching size class if one is free.
func (a *Arena) Get(n int) *Geometry {
	class := sizeClass(n)
	a.mu.Lock()
	defer a.mu.Unlock()

	bucket := a.classes[class]
	if len(bucket) > 0 {
		g := bucket[len(bucket)-1]
		a.classes[class] = bucket[:len(bucket)-1]
		g.Clear()
		return g
	}
	return NewGeometry(class)
}

// Put returns g to the arena for reuse, keyed by its backing array's
// capacity class.
func (a *Arena) Put(g *Geometry) {
	class := sizeClass(cap(g.atoms))
	a.mu.Lock()
	a.classes[class] = append(a.classes[class], g)
	a.mu.Unlock()
}
