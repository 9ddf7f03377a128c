package geomx

import (
	"math"
	"sort"

	"github.com/nmxmxh/otfkmc/internal/assert"
	"gonum.org/v1/gonum/mat"
)

// Atom is one entry of a Geometry: a position, a colour label, and a
// backref to the real cell atom it was copied from (spec.md §4.3: ghost
// atoms introduced by periodic reduction must carry their owning
// atom's index).
type Atom struct {
	Pos     Vec3
	Colour  Colour
	Backref int
}

// Geometry is an ordered, centre-first point set (spec.md §3). It is
// built by Clear/Append/Finalise and is immutable (aside from its
// internal buffer being reused via Clear) once finalised.
type Geometry struct {
	atoms       []Atom
	fingerprint Fingerprint
	finalised   bool
}

// NewGeometry returns an empty geometry with capacity for n atoms,
// avoiding reallocation during the Append loop (Classify reuses these
// via Arena, in arena.go, across KMC iterations).
func NewGeometry(capacity int) *Geometry {
	return &Geometry{atoms: make([]Atom, 0, capacity)}
}

// Clear empties the geometry for reuse, retaining its backing array.
func (g *Geometry) Clear() {
	g.atoms = g.atoms[:0]
	g.fingerprint = Fingerprint{}
	g.finalised = false
}

// Append adds an atom prior to Finalise. Panics via assert if called
// after Finalise, mirroring the original's build/finalise state
// machine (original_source/src/local/geometry.hpp).
func (g *Geometry) Append(pos Vec3, colour Colour, backref int) {
	assert.Check(!g.finalised, "Geometry.Append called after Finalise")
	g.atoms = append(g.atoms, Atom{Pos: pos, Colour: colour, Backref: backref})
}

// Finalise computes the centroid, translates it to the origin, sorts
// the non-centre atoms by (colour, |position|^2), and builds the
// Fingerprint. The first appended atom is always the centre and stays
// first (spec.md §3: "positions[0] is the central atom").
func (g *Geometry) Finalise() {
	assert.Check(!g.finalised, "Geometry.Finalise called twice")
	assert.Check(len(g.atoms) > 0, "Geometry.Finalise called on empty geometry")

	var com Vec3
	for _, a := range g.atoms {
		com = com.Add(a.Pos)
	}
	com = com.Scale(1.0 / float64(len(g.atoms)))
	for i := range g.atoms {
		g.atoms[i].Pos = g.atoms[i].Pos.Sub(com)
	}

	centre := g.atoms[0]
	rest := g.atoms[1:]
	sort.SliceStable(rest, func(i, j int) bool {
		if rest[i].Colour != rest[j].Colour {
			return rest[i].Colour.Less(rest[j].Colour)
		}
		return rest[i].Pos.NormSq() < rest[j].Pos.NormSq()
	})
	g.atoms[0] = centre

	g.fingerprint = buildFingerprint(g.atoms)
	g.finalised = true
}

// Size returns the atom count, including the centre.
func (g *Geometry) Size() int { return len(g.atoms) }

// Atoms returns the finalised, centre-first atom slice. Callers must
// not mutate it.
func (g *Geometry) Atoms() []Atom { return g.atoms }

// Centre returns the central atom.
func (g *Geometry) Centre() Atom { return g.atoms[0] }

// Fingerprint returns the geometry's cached fingerprint; valid only
// after Finalise.
func (g *Geometry) Fingerprint() Fingerprint { return g.fingerprint }

// CentreOfMass reports the centroid of the current (possibly
// unfinalised) atom set, used by tests to check the post-Finalise
// invariant ||com(g)|| < eps (spec.md §8).
func (g *Geometry) CentreOfMass() Vec3 {
	var com Vec3
	for _, a := range g.atoms {
		com = com.Add(a.Pos)
	}
	if len(g.atoms) == 0 {
		return com
	}
	return com.Scale(1.0 / float64(len(g.atoms)))
}

// RotorOnto computes the proper-or-improper orthogonal rotation R
// minimising sum |R*g[i] - ref[i]|^2 via SVD of the cross-covariance
// H = sum g[i] ref[i]^T (the Kabsch algorithm), returning R = V*U^T.
// No sign-correction is applied to force a proper rotation: the
// catalogue treats mirror images as equivalent (spec.md §4.1).
// g and ref must have equal size and already be correspondence-matched
// (i.e. g[i] is meant to land on ref[i]); use PermuteOnto to establish
// that correspondence first when ordering is not already known.
func (g *Geometry) RotorOnto(ref *Geometry) *mat.Dense {
	assert.Check(g.Size() == ref.Size(), "RotorOnto: size mismatch (%d vs %d)", g.Size(), ref.Size())

	var h mat.Dense
	h.Mul(vecsToDense(g.atoms), vecsToDense(ref.atoms).T())

	var svd mat.SVD
	ok := svd.Factorize(&h, mat.SVDFull)
	assert.Check(ok, "RotorOnto: SVD factorisation failed")

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&v, u.T())
	return &r
}

func vecsToDense(atoms []Atom) *mat.Dense {
	d := mat.NewDense(3, len(atoms), nil)
	for i, a := range atoms {
		d.Set(0, i, a.Pos[0])
		d.Set(1, i, a.Pos[1])
		d.Set(2, i, a.Pos[2])
	}
	return d
}

// ApplyRotation rotates v by the 3x3 matrix r.
func ApplyRotation(r *mat.Dense, v Vec3) Vec3 {
	var out Vec3
	for i := 0; i < 3; i++ {
		out[i] = r.At(i, 0)*v[0] + r.At(i, 1)*v[1] + r.At(i, 2)*v[2]
	}
	return out
}

// maxCoplanarGuard bounds the prune window K in PermuteOnto (spec.md
// §4.1: "a small constant -- max coplanar atoms guard, 6 is adequate").
const maxCoplanarGuard = 6

// PermuteOnto attempts to reorder g's non-centre atoms so that, after
// RotorOnto, the pair has L2 distance < delta of ref. Recursive
// backtracking over positions n = 1..size-1 with a pruning bound of
// sqrt(2)*delta on partial distance agreement (spec.md §4.1). On
// success it permanently reorders g's atoms (leaving the centre fixed)
// and returns the achieved L2 residual sqrt(sum |R*g[i]-ref[i]|^2) and
// the rotation; ok is false if
// no permutation satisfies delta.
func (g *Geometry) PermuteOnto(ref *Geometry, delta float64) (residual float64, rotation *mat.Dense, ok bool) {
	assert.Check(g.Size() == ref.Size(), "PermuteOnto: size mismatch (%d vs %d)", g.Size(), ref.Size())
	assert.Check(g.atoms[0].Colour == ref.atoms[0].Colour, "PermuteOnto: centre colour mismatch")

	n := g.Size()
	pruneBound := math.Sqrt2 * delta
	deltaSq := delta * delta

	var recurse func(pos int) (float64, *mat.Dense, bool)
	recurse = func(pos int) (float64, *mat.Dense, bool) {
		if pos == n {
			r := g.RotorOnto(ref)
			sum := 0.0
			for i := 0; i < n; i++ {
				d := ApplyRotation(r, g.atoms[i].Pos).Sub(ref.atoms[i].Pos)
				sum += d.NormSq()
			}
			if sum < deltaSq {
				return math.Sqrt(sum), r, true
			}
			return 0, nil, false
		}
		for i := pos; i < n; i++ {
			if g.atoms[i].Colour != ref.atoms[pos].Colour {
				continue
			}
			g.atoms[pos], g.atoms[i] = g.atoms[i], g.atoms[pos]

			pruned := false
			bound := pos
			if bound > maxCoplanarGuard {
				bound = maxCoplanarGuard
			}
			for j := 0; j < bound; j++ {
				gotD := g.atoms[pos].Pos.Dist(g.atoms[j].Pos)
				refD := ref.atoms[pos].Pos.Dist(ref.atoms[j].Pos)
				if math.Abs(gotD-refD) > pruneBound {
					pruned = true
					break
				}
			}

			if !pruned {
				if res, r, done := recurse(pos + 1); done {
					return res, r, true
				}
			}

			g.atoms[pos], g.atoms[i] = g.atoms[i], g.atoms[pos]
		}
		return 0, nil, false
	}

	return recurse(1)
}

// DiscreteKey derives the coarse bucketing key for this geometry from
// its centre colour and the colour histogram of all atoms (spec.md
// §3).
func (g *Geometry) DiscreteKey() DiscreteKey {
	hist := make(map[Colour]int, len(g.atoms))
	for _, a := range g.atoms {
		hist[a.Colour]++
	}
	return NewDiscreteKey(g.atoms[0].Colour, hist)
}
