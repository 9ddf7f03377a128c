// Package catalog implements the Catalogue of known local Environments
// (spec.md §3, §4.2): canonical insert/lookup keyed by DiscreteKey,
// fuzzy equivalence matching via geomx.PermuteOnto, and persistence.
package catalog

import (
	"math"

	"github.com/nmxmxh/otfkmc/internal/assert"
	"github.com/nmxmxh/otfkmc/internal/geomx"
)

// Mechanism is a cached escape mechanism attached to an Environment
// (spec.md §3): activation_energy, delta_energy, prefactor, and the
// per-active-atom Cartesian displacement in the canonical geometry's
// frame.
type Mechanism struct {
	ActivationEnergy float64
	DeltaEnergy      float64
	Prefactor        float64
	Displacement     []geomx.Vec3
}

// EquivTol bundles the three tolerances spec.md §3 uses to decide
// mechanism equivalence.
type EquivTol struct {
	AbsTol  float64
	FracTol float64
	RTol    float64
}

// Equivalent implements spec.md §3's Mechanism equivalence relation:
//
//	|d activation| <= max(eps_abs, eps_frac*activation), same for delta_energy,
//	and the Euclidean distance of concatenated displacements <= r_tol.
func (m Mechanism) Equivalent(o Mechanism, tol EquivTol) bool {
	if !withinTol(m.ActivationEnergy, o.ActivationEnergy, tol.AbsTol, tol.FracTol) {
		return false
	}
	if !withinTol(m.DeltaEnergy, o.DeltaEnergy, tol.AbsTol, tol.FracTol) {
		return false
	}
	if len(m.Displacement) != len(o.Displacement) {
		return false
	}
	sum := 0.0
	for i := range m.Displacement {
		sum += m.Displacement[i].DistSq(o.Displacement[i])
	}
	return math.Sqrt(sum) <= tol.RTol
}

func withinTol(a, b, absTol, fracTol float64) bool {
	bound := absTol
	if f := fracTol * math.Abs(a); f > bound {
		bound = f
	}
	return math.Abs(a-b) <= bound
}

// Environment is a catalogue entry: a canonical reference geometry, the
// radius currently trusted for matching, its discovered mechanisms,
// and bookkeeping counters (spec.md §3).
type Environment struct {
	Reference   *geomx.Geometry
	Delta       float64
	DeltaMod    float64
	Mechanisms  []Mechanism
	Freq        uint64
	RefineCount uint64
}

// NumActive returns the number of Active-phase atoms in the reference
// geometry; spec.md §3's Environment invariant requires every
// mechanism's displacement length equal this.
func (e *Environment) NumActive() int {
	n := 0
	for _, a := range e.Reference.Atoms() {
		if a.Colour.Phase == geomx.Active {
			n++
		}
	}
	return n
}

// TryPushMech appends m unless it is equivalent under tol to an
// existing mechanism (spec.md end-to-end scenario 2: "within_tol=true
// must keep only the first"). Returns true if appended.
func (e *Environment) TryPushMech(m Mechanism, tol EquivTol) bool {
	assert.Check(len(m.Displacement) == e.NumActive(), "catalog: mechanism active-atom count does not match environment")
	for _, existing := range e.Mechanisms {
		if existing.Equivalent(m, tol) {
			return false
		}
	}
	e.Mechanisms = append(e.Mechanisms, m)
	return true
}

// Options configures catalogue-wide matching tolerances (spec.md §6
// [catalogue]).
type Options struct {
	REnv      float64
	DeltaMax  float64
	MatchBest bool
}
