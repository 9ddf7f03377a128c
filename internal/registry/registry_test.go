package registry

import (
	"context"
	"testing"

	"github.com/nmxmxh/otfkmc/internal/finder"
	"github.com/nmxmxh/otfkmc/internal/geomx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

type fakePotential struct{ inFile string }

func (f fakePotential) Energy(cell *geomx.Cell) (float64, error) { return 0, nil }
func (f fakePotential) Gradient(cell *geomx.Cell) ([]geomx.Vec3, error) {
	return make([]geomx.Vec3, len(cell.Atoms)), nil
}
func (f fakePotential) Hessian(cell *geomx.Cell) (*mat.Dense, error) { return nil, nil }

type fakeMinimiser struct{}

func (fakeMinimiser) Minimise(ctx context.Context, cell *geomx.Cell, pot finder.Potential) error {
	return nil
}

type fakeSearcher struct{}

func (fakeSearcher) FindSaddle(ctx context.Context, initial *geomx.Cell, pot finder.Potential) (*geomx.Cell, *geomx.Cell, error) {
	return nil, nil, nil
}

type fakeNeighbours struct{}

func (fakeNeighbours) Neighbours(cell *geomx.Cell, idx int, radius float64) []geomx.Ghost {
	return nil
}

func TestUnregisteredKindReturnsDescriptiveError(t *testing.T) {
	_, err := NewPotential("does-not-exist", "in.eam")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does-not-exist")

	_, err = NewMinimiser("does-not-exist", nil)
	require.Error(t, err)

	_, err = NewSaddleSearcher("does-not-exist", nil)
	require.Error(t, err)

	_, err = NewNeighbourList(geomx.Box{})
	require.Error(t, err)
}

func TestRegisterThenResolve(t *testing.T) {
	RegisterPotential("TEST", func(inFile string) (finder.Potential, error) {
		return fakePotential{inFile: inFile}, nil
	})
	RegisterMinimiser("TEST", func(settings map[string]any) (finder.Minimiser, error) {
		return fakeMinimiser{}, nil
	})
	RegisterSaddleSearcher("TEST", func(settings map[string]any) (finder.SaddleSearcher, error) {
		return fakeSearcher{}, nil
	})
	RegisterNeighbourList("linkcell", func(box geomx.Box) (NeighbourList, error) {
		return fakeNeighbours{}, nil
	})

	pot, err := NewPotential("TEST", "in.eam")
	require.NoError(t, err)
	assert.Equal(t, fakePotential{inFile: "in.eam"}, pot)

	min, err := NewMinimiser("TEST", nil)
	require.NoError(t, err)
	assert.NotNil(t, min)

	searcher, err := NewSaddleSearcher("TEST", nil)
	require.NoError(t, err)
	assert.NotNil(t, searcher)

	nl, err := NewNeighbourList(geomx.Box{})
	require.NoError(t, err)
	assert.NotNil(t, nl)
}
