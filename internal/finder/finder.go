package finder

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/nmxmxh/otfkmc/internal/catalog"
	"github.com/nmxmxh/otfkmc/internal/config"
	"github.com/nmxmxh/otfkmc/internal/geomx"
	"github.com/nmxmxh/otfkmc/internal/otflog"
	"github.com/nmxmxh/otfkmc/internal/packager"
)

// farAtomCutoff is the distance beyond which an atom is considered
// unaffected by the event and usable as a centre-of-mass drift
// reference (spec.md §4.5 step 5).
const farAtomCutoff = 6.0

// MechanismFinder drives the perturb -> saddle-search -> minimise ->
// dedup loop of spec.md §4.5 against one packaged subcell at a time.
type MechanismFinder struct {
	sp      config.SPSearch
	mechTol config.Mechanism

	searcher  SaddleSearcher
	minimiser Minimiser
	pot       Potential
	vineyard  *Vineyard

	seed    int64
	seedCtr atomic.Int64
	log     *otflog.Logger
}

// New builds a MechanismFinder. searcher is wrapped in a circuit
// breaker so a run of sp.Consecutive failed searches against one site
// degrades dispatch rather than retrying forever (SPEC_FULL.md §11).
// seed roots a per-call RNG stream: Find never shares a *rand.Rand
// across goroutines (spec.md §5's thread-local random state), instead
// drawing a fresh one from seed plus an atomically incremented counter
// each time it is invoked.
func New(sp config.SPSearch, mechTol config.Mechanism, searcher SaddleSearcher, minimiser Minimiser, pot Potential, vineyard *Vineyard, seed int64, log *otflog.Logger) *MechanismFinder {
	if log == nil {
		log = otflog.Default("finder")
	}
	return &MechanismFinder{
		sp:        sp,
		mechTol:   mechTol,
		searcher:  newSearchBreaker(searcher, uint32(sp.Consecutive), log),
		minimiser: minimiser,
		pot:       pot,
		vineyard:  vineyard,
		seed:      seed,
		log:       log,
	}
}

// Find runs the search loop against sub, returning every distinct
// ProtoMech discovered (spec.md §4.5). The loop stops when i reaches
// sp.MaxSearch searches or fail_streak reaches sp.Consecutive
// consecutive failures.
func (f *MechanismFinder) Find(ctx context.Context, sub *packager.Subcell) ([]packager.ProtoMech, error) {
	rng := rand.New(rand.NewSource(f.seed + f.seedCtr.Add(1)))

	active := sub.Cell.ActiveIndices()
	basinPos := make([]geomx.Vec3, len(sub.Cell.Atoms))
	for i, a := range sub.Cell.Atoms {
		basinPos[i] = a.Pos
	}

	var (
		found      []packager.ProtoMech
		failStreak int
	)

	for i := 0; i < f.sp.MaxSearch && failStreak < f.sp.Consecutive; i++ {
		working := cloneCell(sub.Cell)
		f.perturb(working, sub.Centre, rng)

		saddle, final, err := f.searcher.FindSaddle(ctx, working, f.pot)
		if err != nil {
			f.log.Debug("saddle search failed", otflog.Int("attempt", i), otflog.Err(err))
			failStreak++
			continue
		}
		if err := f.minimiser.Minimise(ctx, final, f.pot); err != nil {
			f.log.Debug("post-saddle minimisation failed", otflog.Int("attempt", i), otflog.Err(err))
			failStreak++
			continue
		}

		disp := f.displacement(basinPos, final, active)

		proto := packager.ProtoMech{
			Displacement: disp,
		}
		if e, err := f.pot.Energy(sub.Cell); err == nil {
			if es, err2 := f.pot.Energy(saddle); err2 == nil {
				proto.ActivationEnergy = es - e
			}
			if ef, err2 := f.pot.Energy(final); err2 == nil {
				proto.DeltaEnergy = ef - e
			}
		}

		if f.vineyard != nil && f.sp.Vineyard {
			basinH, err1 := f.pot.Hessian(sub.Cell)
			saddleH, err2 := f.pot.Hessian(saddle)
			if err1 != nil || err2 != nil {
				failStreak++
				continue
			}
			centreSpecies := sub.Cell.Atoms[sub.Centre].Colour.Species
			prefactor, err := f.vineyard.LoadSaddle(basinH, saddleH, centreSpecies)
			if err != nil {
				f.log.Debug("vineyard rejected saddle", otflog.Int("attempt", i), otflog.Err(err))
				failStreak++
				continue
			}
			proto.Prefactor = prefactor
		} else {
			proto.Prefactor = f.sp.ConstPreFactor
		}

		if f.isDuplicate(proto, found) {
			failStreak++
			continue
		}

		found = append(found, proto)
		failStreak = 0
	}

	return found, nil
}

// perturb displaces every active atom within sp.RPerturbation of centre by a
// Gaussian-distributed vector scaled by the smooth cutoff
// (1 - |dr|/r), per spec.md §4.5 step 1. The dimer's own rotor axis is
// the out-of-scope SaddleSearcher's concern, not this loop's.
func (f *MechanismFinder) perturb(cell *geomx.Cell, centreIdx int, rng *rand.Rand) {
	centre := cell.Atoms[centreIdx].Pos
	r := f.sp.RPerturbation
	if r <= 0 {
		return
	}
	for i := range cell.Atoms {
		if cell.Atoms[i].Colour.Phase != geomx.Active {
			continue
		}
		d := cell.Box.Wrap(cell.Atoms[i].Pos.Sub(centre)).Norm()
		if d >= r {
			continue
		}
		scale := f.sp.Stddev * (1 - d/r)
		jitter := geomx.Vec3{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}.Scale(scale)
		cell.Atoms[i].Pos = cell.Atoms[i].Pos.Add(jitter)
	}
}

// displacement computes the per-active-atom move from basinPos to
// final, applying the centre-of-mass drift correction of spec.md §4.5
// step 5: identify the atom of maximum displacement, then subtract
// the COM shift of every atom farther than farAtomCutoff from it in
// both states (those atoms should not have moved at all).
func (f *MechanismFinder) displacement(basinPos []geomx.Vec3, final *geomx.Cell, active []int) []geomx.Vec3 {
	raw := make([]geomx.Vec3, len(active))
	maxIdx, maxMag := 0, -1.0
	for i, idx := range active {
		raw[i] = final.Atoms[idx].Pos.Sub(basinPos[idx])
		if m := raw[i].Norm(); m > maxMag {
			maxMag = m
			maxIdx = i
		}
	}

	centre := basinPos[active[maxIdx]]
	var comShift geomx.Vec3
	n := 0
	for i, idx := range active {
		if basinPos[idx].Dist(centre) > farAtomCutoff {
			comShift = comShift.Add(raw[i])
			n++
		}
	}
	if n == 0 {
		return raw
	}
	correction := comShift.Scale(1.0 / float64(n))
	out := make([]geomx.Vec3, len(raw))
	for i := range raw {
		out[i] = raw[i].Sub(correction)
	}
	return out
}

// isDuplicate reports whether proto is equivalent, under
// mechTol's (abs_tol, frac_tol, r_tol), to any mechanism already in
// found (spec.md §8: "no two emitted ProtoMechs are equivalent").
func (f *MechanismFinder) isDuplicate(proto packager.ProtoMech, found []packager.ProtoMech) bool {
	tol := catalog.EquivTol{AbsTol: f.mechTol.AbsTol, FracTol: f.mechTol.FracTol, RTol: f.mechTol.RTol}
	a := catalog.Mechanism{ActivationEnergy: proto.ActivationEnergy, DeltaEnergy: proto.DeltaEnergy, Displacement: proto.Displacement}
	for _, existing := range found {
		b := catalog.Mechanism{ActivationEnergy: existing.ActivationEnergy, DeltaEnergy: existing.DeltaEnergy, Displacement: existing.Displacement}
		if a.Equivalent(b, tol) {
			return true
		}
	}
	return false
}

func cloneCell(c *geomx.Cell) *geomx.Cell {
	atoms := make([]geomx.CellAtom, len(c.Atoms))
	copy(atoms, c.Atoms)
	return &geomx.Cell{Box: c.Box, Atoms: atoms}
}

// FindAll dispatches Find across every subcell concurrently, grounded
// on spec.md §5's bounded-worker-pool concurrency model. workers <= 0
// means unbounded (one goroutine per subcell).
func FindAll(ctx context.Context, f *MechanismFinder, subs []*packager.Subcell, workers int) ([][]packager.ProtoMech, error) {
	if workers <= 0 {
		workers = len(subs)
	}
	results, err := dispatch(len(subs), workers, func(idx int) ([]packager.ProtoMech, error) {
		mechs, err := f.Find(ctx, subs[idx])
		if err != nil {
			return nil, fmt.Errorf("finder: subcell %d: %w", idx, err)
		}
		return mechs, nil
	})
	if err != nil {
		return results, err
	}
	return results, nil
}
