package kinetics

import (
	"math"
	"math/rand"

	"github.com/nmxmxh/otfkmc/internal/assert"
	"github.com/nmxmxh/otfkmc/internal/geomx"
	"github.com/nmxmxh/otfkmc/internal/kmcerr"
	"gonum.org/v1/gonum/mat"
)

// Superbasin manages a collection of low-barrier-linked basins and
// implements the modified mean-rate method for choosing a mechanism
// across all of them (spec.md §4.7).
type Superbasin struct {
	super    []*Basin
	occupied int
	// prob[j][i] is the probability that, occupied at basin i, the
	// system next internally transitions to basin j (set by
	// ConnectFrom as prob[occupied][i]).
	prob [][]float64
}

// NewSuperbasin starts a superbasin containing a single occupied
// basin.
func NewSuperbasin(basin *Basin) *Superbasin {
	sb := &Superbasin{}
	sb.ExpandOccupy(basin)
	return sb
}

func (sb *Superbasin) Size() int       { return len(sb.super) }
func (sb *Superbasin) Occupied() int   { return sb.occupied }
func (sb *Superbasin) Current() *Basin { return sb.super[sb.occupied] }

func (sb *Superbasin) At(i int) *Basin {
	assert.Check(i >= 0 && i < len(sb.super), "kinetics: superbasin index %d out of range", i)
	return sb.super[i]
}

// ConnectFrom records that mechanism mech of basin i transitions to
// the currently occupied basin, marking it basin-internal.
func (sb *Superbasin) ConnectFrom(i, mech int) {
	rate := sb.super[i].At(mech).Rate
	sb.prob[sb.occupied][i] = rate / sb.super[i].RateSum()
	sb.super[i].MarkInternal(mech)
	sb.super[i].Connected = true
}

// ExpandOccupy adds basin to the superbasin, occupies it, and returns
// the previously occupied index.
func (sb *Superbasin) ExpandOccupy(basin *Basin) int {
	n := len(sb.super) + 1
	grown := make([][]float64, n)
	for i := range grown {
		grown[i] = make([]float64, n)
		if i < len(sb.prob) {
			copy(grown[i], sb.prob[i])
		}
	}
	sb.prob = grown
	sb.super = append(sb.super, basin)

	prev := sb.occupied
	sb.occupied = n - 1
	return prev
}

// FindOccupy searches for a basin in the superbasin whose reference
// state matches state within L2 tolerance tol, occupying it if found
// and returning the previously occupied index.
func (sb *Superbasin) FindOccupy(state []geomx.Vec3, tol float64) (int, bool) {
	for i, b := range sb.super {
		if activeDispNormSq(state, b.State()) < tol*tol {
			prev := sb.occupied
			sb.occupied = i
			return prev, true
		}
	}
	return 0, false
}

func activeDispNormSq(a, b []geomx.Vec3) float64 {
	assert.Check(len(a) == len(b), "kinetics: state comparison requires equal atom counts")
	sum := 0.0
	for i := range a {
		sum += a[i].DistSq(b[i])
	}
	return sum
}

// KMCChoice implements the modified mean-rate method (spec.md §4.7):
// solve for each basin's mean residence time, weight each basin's
// exit rates by that time, and choose across the whole superbasin. If
// the choice lands on a basin other than the currently occupied one,
// Choice.BasinChanged is set and the occupied basin is updated.
func (sb *Superbasin) KMCChoice(rng *rand.Rand) (Choice, error) {
	tau := sb.computeTau()

	rSum := 0.0
	count := 0
	for i, b := range sb.super {
		exitSum := 0.0
		for j := 0; j < b.Size(); j++ {
			if b.At(j).ExitMech {
				count++
				exitSum += b.At(j).Rate
			}
		}
		rSum += tau[i] * exitSum
	}
	if count == 0 {
		return Choice{}, kmcerr.New(kmcerr.KindNoSaddle, "superbasin has no exit mechanisms")
	}
	if rSum <= 0 {
		return Choice{}, kmcerr.New(kmcerr.KindNoSaddle, "superbasin exit-rate sum is non-positive")
	}

	lim := rng.Float64() * rSum
	if ceiling := rSum * (1 - endOfListGuard); lim > ceiling {
		lim = ceiling
	}

	basinIdx, mechIdx, ok := -1, -1, false
	sum := 0.0
outer:
	for i, b := range sb.super {
		for j := 0; j < b.Size(); j++ {
			if !b.At(j).ExitMech {
				continue
			}
			sum += tau[i] * b.At(j).Rate
			if sum > lim {
				basinIdx, mechIdx, ok = i, j, true
				break outer
			}
		}
	}
	assert.Check(ok, "kinetics: modified mean-rate choice walked off the end")

	oldBasin := sb.occupied
	sb.occupied = basinIdx

	invTau := 1 / sum1(tau)

	return Choice{
		BasinChanged: oldBasin != basinIdx,
		Mech:         mechIdx,
		DeltaT:       -math.Log(rng.Float64()) / (rSum * invTau),
		Basin:        sb.occupied,
	}, nil
}

func sum1(xs []float64) float64 {
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s
}

// computeTau solves (I-P)*tau = theta for the mean residence time in
// each basin of the superbasin, theta being the indicator of the
// currently occupied basin (spec.md §4.7). A singular (I-P) means the
// superbasin's connectivity bookkeeping is corrupted, not a
// recoverable search failure, so it is an assert-level violation.
func (sb *Superbasin) computeTau() []float64 {
	n := sb.Size()
	theta := mat.NewVecDense(n, nil)
	theta.SetVec(sb.occupied, 1)

	im := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := -sb.prob[i][j]
			if i == j {
				v += 1
			}
			im.Set(i, j, v)
		}
	}

	var tau mat.VecDense
	err := tau.SolveVec(im, theta)
	assert.Check(err == nil, "kinetics: superbasin residence-time solve (I-P)tau=theta failed: %v", err)

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = tau.AtVec(i) / sb.super[i].RateSum()
	}
	return out
}
