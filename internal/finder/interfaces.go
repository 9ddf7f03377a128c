package finder

import (
	"context"

	"github.com/nmxmxh/otfkmc/internal/geomx"
	"gonum.org/v1/gonum/mat"
)

// Potential is the interatomic potential, deliberately out of scope
// (spec.md §1): only the energy/gradient/Hessian evaluation surface
// the core needs is specified here.
type Potential interface {
	Energy(cell *geomx.Cell) (float64, error)
	Gradient(cell *geomx.Cell) ([]geomx.Vec3, error)
	Hessian(cell *geomx.Cell) (*mat.Dense, error)
}

// Minimiser is a general-purpose minimiser (LBFGS, Barzilai-Borwein),
// out of scope (spec.md §1).
type Minimiser interface {
	Minimise(ctx context.Context, cell *geomx.Cell, pot Potential) error
}

// SaddleSearcher locates a saddle point and its adjacent minimum from
// a perturbed initial state (spec.md §4.5); the dimer rotor/translator
// inner numerics are out of scope (spec.md §1).
type SaddleSearcher interface {
	FindSaddle(ctx context.Context, initial *geomx.Cell, pot Potential) (saddle, final *geomx.Cell, err error)
}

// NeighbourList is the external neighbour-list/link-cell grid
// (spec.md §1).
type NeighbourList interface {
	Neighbours(cell *geomx.Cell, idx int, radius float64) []geomx.Ghost
}
