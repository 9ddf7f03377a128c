package finder

import (
	"fmt"
	"math"

	"github.com/nmxmxh/otfkmc/internal/geomx"
	"github.com/nmxmxh/otfkmc/internal/kmcerr"
	"gonum.org/v1/gonum/mat"
)

// Vineyard computes the harmonic transition-state-theory rate
// prefactor (spec.md §4.5, GLOSSARY "Vineyard prefactor"):
//
//	(prod sqrt(lambda_min)) / (prod sqrt(lambda_sp_positive)) / sqrt(2*pi*m)
//
// The original hardcodes m = 1 AMU, correct only for hydrogen
// (spec.md §9 Open Question); this generalises to a per-species mass
// table (SPEC_FULL.md §12), keyed off the species of the subcell's
// packaged centre atom.
type Vineyard struct {
	ZeroTol float64
	Masses  map[geomx.Species]float64
	// DefaultMass is used when a species has no entry in Masses.
	DefaultMass float64
}

const amuToKg = 1.66053906660e-27

// LoadSaddle validates the saddle Hessian (exactly one eigenvalue below
// -ZeroTol) and, if valid, computes the Vineyard prefactor against the
// basin Hessian (spec.md §4.5 step 8). centreSpecies selects the mass.
func (v *Vineyard) LoadSaddle(basinHessian, saddleHessian *mat.Dense, centreSpecies geomx.Species) (float64, error) {
	basinEig, err := positiveEigenvalues(basinHessian, v.ZeroTol)
	if err != nil {
		return 0, fmt.Errorf("finder: vineyard basin eigendecomposition: %w", err)
	}

	saddleEig, negCount, err := signedEigenvalues(saddleHessian, v.ZeroTol)
	if err != nil {
		return 0, fmt.Errorf("finder: vineyard saddle eigendecomposition: %w", err)
	}
	if negCount != 1 {
		return 0, kmcerr.New(kmcerr.KindSecondOrderSaddle,
			fmt.Sprintf("saddle Hessian has %d eigenvalues below -zero_tol, want exactly 1", negCount))
	}

	basinProduct := 1.0
	for _, l := range basinEig {
		basinProduct *= math.Sqrt(l)
	}
	saddleProduct := 1.0
	for _, l := range saddleEig {
		if l > v.ZeroTol {
			saddleProduct *= math.Sqrt(l)
		}
	}

	mass := v.DefaultMass
	if m, ok := v.Masses[centreSpecies]; ok {
		mass = m
	}

	prefactor := basinProduct / saddleProduct / math.Sqrt(2*math.Pi*mass*amuToKg)
	return prefactor, nil
}

func symmetrize(d *mat.Dense) *mat.SymDense {
	n, _ := d.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 0.5 * (d.At(i, j) + d.At(j, i))
			sym.SetSym(i, j, v)
		}
	}
	return sym
}

func positiveEigenvalues(d *mat.Dense, zeroTol float64) ([]float64, error) {
	var eig mat.EigenSym
	if ok := eig.Factorize(symmetrize(d), false); !ok {
		return nil, fmt.Errorf("eigendecomposition did not converge")
	}
	var out []float64
	for _, l := range eig.Values(nil) {
		if l > zeroTol {
			out = append(out, l)
		}
	}
	return out, nil
}

// signedEigenvalues returns every eigenvalue and the count strictly
// below -zeroTol.
func signedEigenvalues(d *mat.Dense, zeroTol float64) ([]float64, int, error) {
	var eig mat.EigenSym
	if ok := eig.Factorize(symmetrize(d), false); !ok {
		return nil, 0, fmt.Errorf("eigendecomposition did not converge")
	}
	values := eig.Values(nil)
	neg := 0
	for _, l := range values {
		if l < -zeroTol {
			neg++
		}
	}
	return values, neg, nil
}
