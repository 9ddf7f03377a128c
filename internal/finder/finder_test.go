package finder

import (
	"context"
	"errors"
	"testing"

	"github.com/nmxmxh/otfkmc/internal/config"
	"github.com/nmxmxh/otfkmc/internal/geomx"
	"github.com/nmxmxh/otfkmc/internal/packager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

type fakePotential struct{}

func (fakePotential) Energy(cell *geomx.Cell) (float64, error) { return 0, nil }
func (fakePotential) Gradient(cell *geomx.Cell) ([]geomx.Vec3, error) {
	return make([]geomx.Vec3, len(cell.Atoms)), nil
}
func (fakePotential) Hessian(cell *geomx.Cell) (*mat.Dense, error) {
	n := 3 * len(cell.Atoms)
	return mat.NewDense(n, n, nil), nil
}

type fakeMinimiser struct{}

func (fakeMinimiser) Minimise(ctx context.Context, cell *geomx.Cell, pot Potential) error {
	return nil
}

// fakeSearcher returns a fixed displacement on a single atom, always
// succeeding, so repeated calls from the perturb loop are genuine
// duplicates of the same mechanism.
type fakeSearcher struct {
	shift  geomx.Vec3
	atom   int
	failAt map[int]bool
	calls  int
}

func (f *fakeSearcher) FindSaddle(ctx context.Context, initial *geomx.Cell, pot Potential) (*geomx.Cell, *geomx.Cell, error) {
	f.calls++
	if f.failAt[f.calls] {
		return nil, nil, errors.New("no saddle found")
	}
	saddle := cloneCell(initial)
	final := cloneCell(initial)
	final.Atoms[f.atom].Pos = final.Atoms[f.atom].Pos.Add(f.shift)
	return saddle, final, nil
}

func testSubcell() *packager.Subcell {
	cell := &geomx.Cell{
		Box: geomx.Box{Lx: 100, Ly: 100, Lz: 100},
		Atoms: []geomx.CellAtom{
			{Pos: geomx.Vec3{0, 0, 0}, Colour: geomx.Colour{Species: 1, Phase: geomx.Active}},
			{Pos: geomx.Vec3{2, 0, 0}, Colour: geomx.Colour{Species: 1, Phase: geomx.Active}},
			{Pos: geomx.Vec3{0, 2, 0}, Colour: geomx.Colour{Species: 1, Phase: geomx.Active}},
		},
	}
	return &packager.Subcell{
		Cell:    cell,
		Centre:  0,
		ToSub:   map[int]int{0: 0, 1: 1, 2: 2},
		ToSuper: []int{0, 1, 2},
	}
}

func TestFindDedupsIdenticalMechanisms(t *testing.T) {
	sp := config.SPSearch{Consecutive: 3, MaxSearch: 5, RPerturbation: 1, Stddev: 0.01, ConstPreFactor: 1e13}
	mechTol := config.Mechanism{AbsTol: 0.01, FracTol: 0.1, RTol: 0.1}
	searcher := &fakeSearcher{shift: geomx.Vec3{0.5, 0, 0}, atom: 1}

	f := New(sp, mechTol, searcher, fakeMinimiser{}, fakePotential{}, nil, 1, nil)
	mechs, err := f.Find(context.Background(), testSubcell())
	require.NoError(t, err)
	assert.Len(t, mechs, 1, "every search finds the same mechanism, so only one should survive dedup")
}

func TestFindStopsAfterConsecutiveFailures(t *testing.T) {
	sp := config.SPSearch{Consecutive: 2, MaxSearch: 10, RPerturbation: 1, Stddev: 0.01, ConstPreFactor: 1e13}
	mechTol := config.Mechanism{AbsTol: 0.01, FracTol: 0.1, RTol: 0.1}
	searcher := &fakeSearcher{shift: geomx.Vec3{0.5, 0, 0}, atom: 1, failAt: map[int]bool{1: true, 2: true}}

	f := New(sp, mechTol, searcher, fakeMinimiser{}, fakePotential{}, nil, 1, nil)
	mechs, err := f.Find(context.Background(), testSubcell())
	require.NoError(t, err)
	assert.Empty(t, mechs)
	assert.LessOrEqual(t, searcher.calls, 3, "breaker should stop dispatch shortly after consecutive failures")
}

func TestVineyardRejectsSaddleWithNoNegativeEigenvalue(t *testing.T) {
	sp := config.SPSearch{Consecutive: 1, MaxSearch: 1, RPerturbation: 1, Stddev: 0.01, Vineyard: true}
	mechTol := config.Mechanism{AbsTol: 0.01, FracTol: 0.1, RTol: 0.1}
	searcher := &fakeSearcher{shift: geomx.Vec3{0.5, 0, 0}, atom: 1}
	vy := &Vineyard{ZeroTol: 1e-6, DefaultMass: 1}

	f := New(sp, mechTol, searcher, fakeMinimiser{}, fakePotential{}, vy, 1, nil)
	mechs, err := f.Find(context.Background(), testSubcell())
	require.NoError(t, err)
	assert.Empty(t, mechs, "zero Hessian has no negative eigenvalues at all, so Vineyard must reject it")
}

func TestFindAllDispatchesAcrossSubcells(t *testing.T) {
	sp := config.SPSearch{Consecutive: 3, MaxSearch: 2, RPerturbation: 1, Stddev: 0.01, ConstPreFactor: 1e13}
	mechTol := config.Mechanism{AbsTol: 0.01, FracTol: 0.1, RTol: 0.1}

	subs := []*packager.Subcell{testSubcell(), testSubcell()}
	f := New(sp, mechTol, &fakeSearcher{shift: geomx.Vec3{0.3, 0, 0}, atom: 2}, fakeMinimiser{}, fakePotential{}, nil, 1, nil)

	results, err := FindAll(context.Background(), f, subs, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
