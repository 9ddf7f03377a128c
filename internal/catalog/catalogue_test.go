package catalog

import (
	"testing"

	"github.com/nmxmxh/otfkmc/internal/geomx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// square builds a local environment whose non-centre atom at
// "stretch" is displaced outward by stretch along x; stretch == 0
// gives the reference shape, and a non-zero stretch produces a
// geometrically distinct environment sharing the same DiscreteKey
// (translation is always removed by Finalise's recentering, so two
// geometries differing only by a global offset are the SAME local
// environment -- that is the point of the catalogue).
func square(stretch float64) *geomx.Geometry {
	g := geomx.NewGeometry(4)
	g.Append(geomx.Vec3{0, 0, 0}, geomx.Colour{Species: 1, Phase: geomx.Active}, 0)
	g.Append(geomx.Vec3{1 + stretch, 0, 0}, geomx.Colour{Species: 2, Phase: geomx.Active}, 1)
	g.Append(geomx.Vec3{0, 1, 0}, geomx.Colour{Species: 2, Phase: geomx.Active}, 2)
	g.Append(geomx.Vec3{1, 1, 0}, geomx.Colour{Species: 2, Phase: geomx.Active}, 3)
	g.Finalise()
	return g
}

func TestCanonUpdatePostconditions(t *testing.T) {
	c := New(Options{REnv: 4.0, DeltaMax: 0.05}, nil)
	geos := []*geomx.Geometry{square(0), square(5.0)}

	ids, newSites := c.CanonUpdate(geos)

	require.Len(t, ids, 2)
	assert.Len(t, newSites, 2, "both sites are first seen")
	for _, id := range ids {
		env := c.Env(id)
		assert.True(t, env.Freq > 0)
	}
}

func TestCanonUpdateHitIncrementsFreq(t *testing.T) {
	c := New(Options{REnv: 4.0, DeltaMax: 0.2}, nil)
	g1 := square(0)
	id1, isNew := c.CanonTryEmplace(g1)
	require.True(t, isNew)
	require.Equal(t, uint64(1), c.Env(id1).Freq)

	g2 := square(1e-9)
	id2, isNew2 := c.CanonTryEmplace(g2)
	assert.False(t, isNew2)
	assert.Equal(t, id1, id2)
	assert.Equal(t, uint64(2), c.Env(id1).Freq)
}

func TestTryCanonMissingSiteReturnsFalse(t *testing.T) {
	c := New(Options{REnv: 4.0, DeltaMax: 0.2}, nil)
	_, ok := c.TryCanon([]*geomx.Geometry{square(0)})
	assert.False(t, ok)
}

func TestOptimizeSortsByDescendingFrequency(t *testing.T) {
	c := New(Options{REnv: 4.0, DeltaMax: 0.05}, nil)
	idA, _ := c.CanonTryEmplace(square(0))
	idB, _ := c.CanonTryEmplace(square(5.0))
	require.Equal(t, idA.Bucket, idB.Bucket, "distinct environments still share a DiscreteKey bucket")
	// Bump a's frequency above b's.
	c.CanonTryEmplace(square(1e-9))

	c.Optimize()

	bucket := c.buckets[idA.Bucket]
	require.True(t, len(bucket) >= 2)
	assert.GreaterOrEqual(t, bucket[0].Freq, bucket[1].Freq)
}

func TestResetCountsZeroesFrequencies(t *testing.T) {
	c := New(Options{REnv: 4.0, DeltaMax: 0.2}, nil)
	id, _ := c.CanonTryEmplace(square(0))
	c.ResetCounts()
	assert.Equal(t, uint64(0), c.Env(id).Freq)
}

func TestTryPushMechRejectsEquivalentWithinTol(t *testing.T) {
	env := &Environment{Reference: square(0)}
	tol := EquivTol{AbsTol: 1e-3, FracTol: 1e-3, RTol: 1e-3}
	disp := []geomx.Vec3{{0.1, 0, 0}, {0, 0, 0}, {0, 0, 0}, {0, 0, 0}}
	m1 := Mechanism{ActivationEnergy: 0.50, DeltaEnergy: 0.1, Displacement: disp}
	m2 := Mechanism{ActivationEnergy: 0.5002, DeltaEnergy: 0.1, Displacement: disp}

	assert.True(t, env.TryPushMech(m1, tol))
	assert.False(t, env.TryPushMech(m2, tol), "within tol duplicates must be rejected")

	tight := EquivTol{AbsTol: 1e-5, FracTol: 1e-5, RTol: 1e-3}
	assert.True(t, env.TryPushMech(m2, tight), "tighter tolerance must distinguish the two")
}
