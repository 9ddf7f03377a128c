package packager

import (
	"testing"

	"github.com/nmxmxh/otfkmc/internal/geomx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func supercell() *geomx.Cell {
	return &geomx.Cell{
		Box: geomx.Box{Lx: 100, Ly: 100, Lz: 100},
		Atoms: []geomx.CellAtom{
			{Pos: geomx.Vec3{0, 0, 0}, Colour: geomx.Colour{Species: 1, Phase: geomx.Active}},
			{Pos: geomx.Vec3{2, 0, 0}, Colour: geomx.Colour{Species: 1, Phase: geomx.Active}},
			{Pos: geomx.Vec3{50, 50, 50}, Colour: geomx.Colour{Species: 1, Phase: geomx.Active}},
		},
	}
}

func TestPackageGlobalModeIsIdentity(t *testing.T) {
	p := New(Options{Mode: Global})
	sub := p.Package(supercell(), 1)
	assert.Equal(t, 3, len(sub.Cell.Atoms))
	assert.Equal(t, 1, sub.Centre)
}

func TestPackageLocalModeCarvesNeighbourhood(t *testing.T) {
	p := New(Options{Mode: Local, RActive: 5, RBoundary: 5})
	sub := p.Package(supercell(), 0)
	require.Len(t, sub.Cell.Atoms, 2, "only the two nearby atoms should be copied")
	_, farIncluded := sub.ToSub[2]
	assert.False(t, farIncluded)
}

func TestPackageCentreAlwaysPresent(t *testing.T) {
	p := New(Options{Mode: Local, RActive: 1e-9, RBoundary: 1e-9})
	sub := p.Package(supercell(), 0)
	_, ok := sub.ToSub[0]
	assert.True(t, ok, "the centre atom must always end up in its own subcell")
}

func TestUnpackIdentityRoundTrip(t *testing.T) {
	p := New(Options{Mode: Global, UnpackTol: 1e-6, RequireCentre: false})
	sc := supercell()
	sub := p.Package(sc, 0)

	// Build a reference geometry matching the subcell's active atoms in
	// ActiveIndices order, already centred (Finalise removes COM so the
	// "site" and "ref" geometries below are directly comparable after
	// the identity rotor).
	active := sub.Cell.ActiveIndices()
	site := geomx.NewGeometry(len(active))
	ref := geomx.NewGeometry(len(active))
	for _, idx := range active {
		site.Append(sub.Cell.Atoms[idx].Pos, sub.Cell.Atoms[idx].Colour, idx)
		ref.Append(sub.Cell.Atoms[idx].Pos, sub.Cell.Atoms[idx].Colour, idx)
	}
	site.Finalise()
	ref.Finalise()

	proto := ProtoMech{
		ActivationEnergy: 0.5,
		Displacement:     make([]geomx.Vec3, len(active)),
	}
	// Identity mechanism: zero displacement everywhere except a tiny
	// nudge on the first atom so there is a well-defined centre.
	proto.Displacement[0] = geomx.Vec3{0.01, 0, 0}

	mech, ok := p.Unpack(proto, sub, site, ref)
	require.True(t, ok)
	assert.Len(t, mech.Displacement, len(active))
}
