package driver

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nmxmxh/otfkmc/internal/catalog"
	"github.com/nmxmxh/otfkmc/internal/classify"
	"github.com/nmxmxh/otfkmc/internal/config"
	"github.com/nmxmxh/otfkmc/internal/finder"
	"github.com/nmxmxh/otfkmc/internal/geomx"
	"github.com/nmxmxh/otfkmc/internal/kinetics"
	"github.com/nmxmxh/otfkmc/internal/packager"
	"github.com/nmxmxh/otfkmc/internal/xyzio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// isolatedAtom is a neighbour list that never reports any neighbour,
// making every classified Geometry a single, translation-invariant
// point: the catalogue match never depends on where the atom actually
// sits, only on which environment it already belongs to.
type isolatedAtom struct{}

func (isolatedAtom) Neighbours(cell *geomx.Cell, idx int, radius float64) []geomx.Ghost { return nil }

type zeroPotential struct{}

func (zeroPotential) Energy(cell *geomx.Cell) (float64, error) { return 0, nil }
func (zeroPotential) Gradient(cell *geomx.Cell) ([]geomx.Vec3, error) {
	return make([]geomx.Vec3, len(cell.Atoms)), nil
}
func (zeroPotential) Hessian(cell *geomx.Cell) (*mat.Dense, error) {
	n := 3 * len(cell.Atoms)
	return mat.NewDense(n, n, nil), nil
}

type noopMinimiser struct{}

func (noopMinimiser) Minimise(ctx context.Context, cell *geomx.Cell, pot finder.Potential) error {
	return nil
}

// neverCalledSearcher satisfies finder.SaddleSearcher for a
// MechanismFinder that this test never actually dispatches against
// (the single isolated atom always matches its existing environment,
// so no new site search is ever triggered).
type neverCalledSearcher struct{ t *testing.T }

func (s neverCalledSearcher) FindSaddle(ctx context.Context, initial *geomx.Cell, pot finder.Potential) (*geomx.Cell, *geomx.Cell, error) {
	s.t.Fatal("saddle searcher should not be invoked: no new environment is ever seen in this fixture")
	return nil, nil, nil
}

func oneAtomCell() *geomx.Cell {
	return &geomx.Cell{
		Box: geomx.Box{Lx: 100, Ly: 100, Lz: 100, Px: true, Py: true, Pz: true},
		Atoms: []geomx.CellAtom{
			{Pos: geomx.Vec3{0, 0, 0}, Colour: geomx.Colour{Species: 1, Phase: geomx.Active}},
		},
	}
}

func newTestDriver(t *testing.T) *Driver {
	t.Helper()

	cell := oneAtomCell()
	classifier := classify.New(isolatedAtom{}, 4.0)

	cat := catalog.New(catalog.Options{REnv: 4.0, DeltaMax: 0.2}, nil)
	seedSite := classifier.ClassifyOne(cell, 0)
	id, isNew := cat.CanonTryEmplace(seedSite.Geometry)
	require.True(t, isNew)
	env := cat.Env(id)
	ok := env.TryPushMech(catalog.Mechanism{
		ActivationEnergy: 0.2,
		DeltaEnergy:      0,
		Prefactor:        1e13,
		Displacement:     []geomx.Vec3{{0.05, 0, 0}},
	}, catalog.EquivTol{AbsTol: 1e-3, FracTol: 1e-3, RTol: 1e-3})
	require.True(t, ok)
	classifier.Release([]classify.Site{seedSite})

	pkg := packager.New(packager.Options{Mode: packager.Global, UnpackTol: 1e6})
	sp := config.SPSearch{Consecutive: 1, MaxSearch: 1, RPerturbation: 1, Stddev: 0.01, ConstPreFactor: 1e13}
	mechTol := config.Mechanism{AbsTol: 1e-3, FracTol: 1e-3, RTol: 1e-3, RelCapTol: 0.01}
	mf := finder.New(sp, mechTol, neverCalledSearcher{t: t}, noopMinimiser{}, zeroPotential{}, nil, 1, nil)

	sc := kinetics.NewSuperCache(
		config.Kinetics{Temperature: 300, MaxBarrier: 10, StateTol: 1e-3, BarrierTol: 1.0, CacheSize: 4},
		cat, cell, []catalog.EnvID{id}, nil)

	tracePath := filepath.Join(t.TempDir(), "trace.xyz")
	trace, err := xyzio.OpenTraceWriter(tracePath)
	require.NoError(t, err)
	t.Cleanup(func() { trace.Close() })

	opt := Options{
		Mechanism:  mechTol,
		ElementMap: []config.ElementMapEntry{{Name: "Fe", Species: 1, PhaseTag: "A"}},
		CatFormat:  "json",
		CatPath:    filepath.Join(t.TempDir(), "catalogue.json"),
		Workers:    1,
		PerturbStd: 0.01,
	}

	return New(opt, cell, cat, classifier, pkg, mf, zeroPotential{}, noopMinimiser{}, sc, nil, trace, nil, 1, nil)
}

func TestRunAdvancesTimeAndCountsIterations(t *testing.T) {
	d := newTestDriver(t)

	err := d.Run(context.Background(), 2e-9)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, d.Time(), 2e-9)
	assert.Greater(t, d.Iteration(), 0)
}

func TestRunStopsImmediatelyWhenSimTimeAlreadyReached(t *testing.T) {
	d := newTestDriver(t)
	err := d.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Iteration())
}

func TestRunRespectsContextCancellation(t *testing.T) {
	d := newTestDriver(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Run(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
