// Package kinetics implements spec.md §4.6-4.8: Basin's n-fold-way KMC
// choice, Superbasin's mean-residence-time modified mean-rate method,
// and SuperCache's dormant-superbasin cache with connect_via.
package kinetics

import (
	"math"
	"math/rand"

	"github.com/nmxmxh/otfkmc/internal/assert"
	"github.com/nmxmxh/otfkmc/internal/catalog"
	"github.com/nmxmxh/otfkmc/internal/geomx"
	"github.com/nmxmxh/otfkmc/internal/kmcerr"
)

// invBoltz is 1/k_B in eV^-1, kept as the exact ratio the original
// uses (electron-volt / Joule over Boltzmann's constant in J/K)
// rather than a rounded decimal.
const invBoltz = 16021766340.0 / 1380649.0

// endOfListGuard shrinks the n-fold-way cumulative-sum target away
// from rate_sum by this fraction, absorbing floating-point rounding
// that could otherwise walk the cumulative sum off the end of the
// mechanism list (spec.md §9 Open Question).
const endOfListGuard = 1e-9

// Choice is the outcome of an n-fold-way or modified-mean-rate
// selection (spec.md §4.6/§4.8).
type Choice struct {
	BasinChanged bool
	Mech         int
	DeltaT       float64
	Basin        int
}

// LocalMech is a catalogued Mechanism bound to a specific active atom
// of the current cell (spec.md §4.6's "mechanism acting on a specific
// atom").
type LocalMech struct {
	Rate     float64
	Barrier  float64
	ExitMech bool

	Env     catalog.EnvID
	AtomIdx int
	MechOff int
}

// Basin is a basin of the potential energy surface: a reference state
// of the active atoms plus every accessible mechanism and its rate
// (spec.md §4.6).
type Basin struct {
	Connected bool

	state   []geomx.Vec3
	mechs   []LocalMech
	rateSum float64
}

// NewBasin builds a Basin from the current cell and, for each active
// atom i (in cell.ActiveIndices() order), the catalogue Environment it
// was classified into. Mechanisms with activation energy >= maxBarrier
// are discarded (spec.md §4.6).
func NewBasin(cat *catalog.Catalogue, cell *geomx.Cell, envs []catalog.EnvID, temperature, maxBarrier float64) *Basin {
	active := cell.ActiveIndices()
	assert.Check(len(active) == len(envs), "kinetics: one environment id required per active atom")

	b := &Basin{state: cell.ActivePositions()}

	for i, id := range envs {
		env := cat.Env(id)
		for j, m := range env.Mechanisms {
			fwd := m.ActivationEnergy
			if fwd >= maxBarrier {
				continue
			}
			assert.Check(fwd > 0, "kinetics: non-positive activation energy in catalogue")

			rate := m.Prefactor * math.Exp(fwd/temperature*-invBoltz)
			rev := fwd - m.DeltaEnergy
			barrier := fwd
			if rev > barrier {
				barrier = rev
			}

			b.mechs = append(b.mechs, LocalMech{
				Rate: rate, Barrier: barrier, ExitMech: true,
				Env: id, AtomIdx: active[i], MechOff: j,
			})
			b.rateSum += rate
		}
	}
	return b
}

func (b *Basin) Size() int           { return len(b.mechs) }
func (b *Basin) RateSum() float64    { return b.rateSum }
func (b *Basin) State() []geomx.Vec3 { return b.state }

func (b *Basin) At(i int) LocalMech {
	assert.Check(i >= 0 && i < len(b.mechs), "kinetics: mechanism index %d out of range", i)
	return b.mechs[i]
}

// MarkInternal flags mech i as a basin-internal transition (not an
// exit from the superbasin), used by Superbasin.ConnectFrom.
func (b *Basin) MarkInternal(i int) { b.mechs[i].ExitMech = false }

// KMCChoice runs the standard n-fold-way algorithm over every
// exit_mech mechanism (spec.md §4.6). basinIdx is echoed back into the
// Choice unchanged (a plain Basin is never "changed").
func (b *Basin) KMCChoice(rng *rand.Rand, basinIdx int) (Choice, error) {
	if b.rateSum <= 0 {
		return Choice{}, kmcerr.New(kmcerr.KindNoSaddle, "basin has zero total exit rate")
	}

	lim := rng.Float64() * b.rateSum
	if ceiling := b.rateSum * (1 - endOfListGuard); lim > ceiling {
		lim = ceiling
	}

	sum := 0.0
	for i, m := range b.mechs {
		if !m.ExitMech {
			continue
		}
		sum += m.Rate
		if sum > lim {
			return Choice{
				BasinChanged: false,
				Mech:         i,
				DeltaT:       -math.Log(rng.Float64()) / b.rateSum,
				Basin:        basinIdx,
			}, nil
		}
	}

	assert.Check(false, "kinetics: n-fold-way choice walked off the end of %d mechanisms", len(b.mechs))
	panic("unreachable")
}
