package geomx

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSquare(offset Vec3) *Geometry {
	g := NewGeometry(5)
	g.Append(offset.Add(Vec3{0, 0, 0}), Colour{1, Active}, 0)
	g.Append(offset.Add(Vec3{1, 0, 0}), Colour{2, Active}, 1)
	g.Append(offset.Add(Vec3{0, 1, 0}), Colour{2, Active}, 2)
	g.Append(offset.Add(Vec3{1, 1, 0}), Colour{2, Active}, 3)
	g.Finalise()
	return g
}

func TestFinaliseCentresOfMass(t *testing.T) {
	g := buildSquare(Vec3{5, -3, 2})
	com := g.CentreOfMass()
	assert.Less(t, com.Norm(), 1e-9)
}

func TestFinaliseCentreAtomStaysFirst(t *testing.T) {
	g := buildSquare(Vec3{})
	require.Equal(t, Colour{1, Active}, g.Atoms()[0].Colour)
}

func TestFingerprintLengthsAndMonotone(t *testing.T) {
	g := buildSquare(Vec3{})
	f := g.Fingerprint()
	n := g.Size() - 1
	require.Len(t, f.R0j, n)
	require.Len(t, f.Rij, n*(n-1)/2)
	assertNonDecreasing(t, f.R0j)
	assertNonDecreasing(t, f.Rij)
}

func assertNonDecreasing(t *testing.T, xs []float64) {
	t.Helper()
	for i := 1; i < len(xs); i++ {
		assert.LessOrEqual(t, xs[i-1], xs[i])
	}
}

func TestFingerprintEquivReflexive(t *testing.T) {
	g := buildSquare(Vec3{})
	f := g.Fingerprint()
	assert.True(t, f.Equiv(f, 1e-12))
}

func TestPruningSoundness(t *testing.T) {
	a := buildSquare(Vec3{})
	b := buildSquare(Vec3{})
	b.atoms[1].Pos = b.atoms[1].Pos.Add(Vec3{10, 10, 10})
	b.fingerprint = buildFingerprint(b.atoms)

	delta := 0.01
	if a.Fingerprint().Equiv(b.Fingerprint(), math.Sqrt2*delta) {
		t.Fatal("test fixture invalid: fingerprints should not be equivalent at this delta")
	}
	_, _, ok := a.PermuteOnto(b, delta)
	assert.False(t, ok, "permute_onto must fail when the sqrt(2)*delta equivalence prefilter fails")
}

func TestPermuteOntoMirrorImage(t *testing.T) {
	a := buildSquare(Vec3{})
	b := buildSquare(Vec3{})
	for i := range b.atoms {
		b.atoms[i].Pos[0] = -b.atoms[i].Pos[0]
	}
	b.fingerprint = buildFingerprint(b.atoms)

	_, _, ok := a.PermuteOnto(b, 1e-6)
	assert.True(t, ok, "reflection must be accepted as equivalent (improper rotations allowed)")
}

func TestPermuteOntoIdenticalGeometry(t *testing.T) {
	a := buildSquare(Vec3{})
	b := buildSquare(Vec3{})
	// Shuffle b's equal-colour atoms (indices 1..3 all colour {2,Active}).
	b.atoms[1], b.atoms[2], b.atoms[3] = b.atoms[3], b.atoms[1], b.atoms[2]

	res, r, ok := a.PermuteOnto(b, 1e-6)
	require.True(t, ok)
	assert.Less(t, res, 1e-6)
	require.NotNil(t, r)
}

func TestDiscreteKeyOrdering(t *testing.T) {
	k1 := NewDiscreteKey(Colour{1, Active}, map[Colour]int{{1, Active}: 1, {2, Active}: 3})
	k2 := NewDiscreteKey(Colour{1, Active}, map[Colour]int{{1, Active}: 1, {2, Active}: 4})
	assert.True(t, k1.Less(k2))
	assert.False(t, k2.Less(k1))
}

func TestDiscreteKeyCanonComparable(t *testing.T) {
	k1 := NewDiscreteKey(Colour{1, Active}, map[Colour]int{{1, Active}: 1, {2, Active}: 3})
	k2 := NewDiscreteKey(Colour{1, Active}, map[Colour]int{{2, Active}: 3, {1, Active}: 1})
	assert.Equal(t, k1.Canon(), k2.Canon())
}

func TestArenaReuse(t *testing.T) {
	a := NewArena()
	g1 := a.Get(4)
	g1.Append(Vec3{}, Colour{1, Active}, 0)
	a.Put(g1)

	g2 := a.Get(3)
	assert.Equal(t, 0, g2.Size(), "Get must return a cleared geometry")
	assert.GreaterOrEqual(t, cap(g2.atoms), 3)
}

func TestSnapToLattice(t *testing.T) {
	got := SnapToLattice(Vec3{1.1, -0.9, 2.6}, 1.0)
	assert.Equal(t, Vec3{1, -1, 3}, got)
}
