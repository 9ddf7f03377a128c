package kinetics

import (
	"math/rand"
	"testing"

	"github.com/nmxmxh/otfkmc/internal/catalog"
	"github.com/nmxmxh/otfkmc/internal/geomx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// square mirrors catalog's own test fixture: a 4-atom local
// environment with a centre at the origin.
func square(stretch float64) *geomx.Geometry {
	g := geomx.NewGeometry(4)
	g.Append(geomx.Vec3{0, 0, 0}, geomx.Colour{Species: 1, Phase: geomx.Active}, 0)
	g.Append(geomx.Vec3{1 + stretch, 0, 0}, geomx.Colour{Species: 2, Phase: geomx.Active}, 1)
	g.Append(geomx.Vec3{0, 1, 0}, geomx.Colour{Species: 2, Phase: geomx.Active}, 2)
	g.Append(geomx.Vec3{1, 1, 0}, geomx.Colour{Species: 2, Phase: geomx.Active}, 3)
	g.Finalise()
	return g
}

func oneAtomCatalogue(t *testing.T, mechs ...catalog.Mechanism) (*catalog.Catalogue, catalog.EnvID) {
	t.Helper()
	cat := catalog.New(catalog.Options{REnv: 4.0, DeltaMax: 0.2}, nil)
	geo := geomx.NewGeometry(1)
	geo.Append(geomx.Vec3{0, 0, 0}, geomx.Colour{Species: 1, Phase: geomx.Active}, 0)
	geo.Finalise()
	id, isNew := cat.CanonTryEmplace(geo)
	require.True(t, isNew)
	env := cat.Env(id)
	for _, m := range mechs {
		env.TryPushMech(m, catalog.EquivTol{AbsTol: 1e-3, FracTol: 1e-3, RTol: 1e-3})
	}
	return cat, id
}

func testCell() *geomx.Cell {
	return &geomx.Cell{
		Box: geomx.Box{Lx: 100, Ly: 100, Lz: 100},
		Atoms: []geomx.CellAtom{
			{Pos: geomx.Vec3{0, 0, 0}, Colour: geomx.Colour{Species: 1, Phase: geomx.Active}},
		},
	}
}

func TestNewBasinComputesRateSum(t *testing.T) {
	mech := catalog.Mechanism{ActivationEnergy: 0.5, DeltaEnergy: 0.1, Prefactor: 1e13, Displacement: []geomx.Vec3{{0.1, 0, 0}}}
	cat, id := oneAtomCatalogue(t, mech)

	b := NewBasin(cat, testCell(), []catalog.EnvID{id}, 300, 10)
	require.Equal(t, 1, b.Size())
	assert.Greater(t, b.RateSum(), 0.0)
}

func TestNewBasinDiscardsAboveMaxBarrier(t *testing.T) {
	mech := catalog.Mechanism{ActivationEnergy: 5.0, DeltaEnergy: 0.1, Prefactor: 1e13, Displacement: []geomx.Vec3{{0.1, 0, 0}}}
	cat, id := oneAtomCatalogue(t, mech)

	b := NewBasin(cat, testCell(), []catalog.EnvID{id}, 300, 1.0)
	assert.Equal(t, 0, b.Size())
	assert.Equal(t, 0.0, b.RateSum())
}

func TestKMCChoiceSelectsHighestRateWithExtremeRNG(t *testing.T) {
	mechs := []catalog.Mechanism{
		{ActivationEnergy: 0.2, DeltaEnergy: 0, Prefactor: 1e13, Displacement: []geomx.Vec3{{0.1, 0, 0}}},
		{ActivationEnergy: 0.8, DeltaEnergy: 0, Prefactor: 1e13, Displacement: []geomx.Vec3{{0.2, 0, 0}}},
	}
	cat, id := oneAtomCatalogue(t, mechs...)
	b := NewBasin(cat, testCell(), []catalog.EnvID{id}, 300, 10)
	require.Equal(t, 2, b.Size())

	// rng.Float64() == 0 picks lim == 0, so the n-fold-way walk must
	// land on the first mechanism with positive cumulative sum.
	rng := rand.New(zeroSource{})
	choice, err := b.KMCChoice(rng, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, choice.Mech)
	assert.Greater(t, choice.DeltaT, 0.0)
}

// zeroSource is a rand.Source64 that always returns 0, making
// rng.Float64() deterministic for edge-case testing.
type zeroSource struct{}

func (zeroSource) Int63() int64  { return 0 }
func (zeroSource) Seed(int64)    {}
func (zeroSource) Uint64() uint64 { return 0 }
