// Package packager implements spec.md §4.4: carving a focused subcell
// around a classified site and projecting mechanisms between the
// global supercell frame and a canonical local geometry's frame.
package packager

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/nmxmxh/otfkmc/internal/assert"
	"github.com/nmxmxh/otfkmc/internal/geomx"
)

// Mode selects whether Package carves a local subcell or hands back
// the whole supercell (spec.md §4.4).
type Mode int

const (
	Global Mode = iota
	Local
)

// Options configures a Packager (spec.md §6 [package]).
type Options struct {
	Mode          Mode
	RActive       float64
	RBoundary     float64
	RequireCentre bool
	UnpackTol     float64
}

// Subcell is a focused copy of the supercell around one classified
// site, plus the bookkeeping needed to map mechanisms back to the
// supercell (spec.md §4.4).
type Subcell struct {
	Cell *geomx.Cell
	// Centre is the subcell-local index of the packaged atom.
	Centre int
	// ToSub maps supercell atom index -> subcell atom index, for every
	// atom copied into the subcell.
	ToSub map[int]int
	// ToSuper is the inverse of ToSub, indexed by subcell atom index.
	ToSuper []int
}

// Packager carves subcells and localises mechanisms per Options.
type Packager struct {
	opt Options
}

func New(opt Options) *Packager {
	return &Packager{opt: opt}
}

// Package builds a Subcell around centreIdx (a supercell atom index).
// In Global mode the subcell is the whole supercell; in Local mode it
// copies every active atom within RActive of the centre and every
// active-or-boundary atom within RBoundary into the boundary set
// (spec.md §4.4). The centre atom is always present in the result
// (an unrecoverable invariant violation otherwise).
func (p *Packager) Package(super *geomx.Cell, centreIdx int) *Subcell {
	if p.opt.Mode == Global {
		toSub := make(map[int]int, len(super.Atoms))
		toSuper := make([]int, len(super.Atoms))
		for i := range super.Atoms {
			toSub[i] = i
			toSuper[i] = i
		}
		return &Subcell{Cell: super, Centre: centreIdx, ToSub: toSub, ToSuper: toSuper}
	}

	centrePos := super.Atoms[centreIdx].Pos
	sub := &Subcell{Cell: &geomx.Cell{Box: super.Box}, ToSub: make(map[int]int)}

	for i, a := range super.Atoms {
		d := super.Box.Wrap(a.Pos.Sub(centrePos)).Norm()
		switch {
		case a.Colour.Phase == geomx.Active && d <= p.opt.RActive:
			p.copyInto(sub, super, i, a)
		case (a.Colour.Phase == geomx.Active || a.Colour.Phase == geomx.Boundary) && d <= p.opt.RBoundary:
			p.copyInto(sub, super, i, a)
		}
	}

	subIdx, ok := sub.ToSub[centreIdx]
	assert.Check(ok, "packager: centre atom %d not present in its own subcell", centreIdx)
	sub.Centre = subIdx
	return sub
}

func (p *Packager) copyInto(sub *Subcell, super *geomx.Cell, superIdx int, a geomx.CellAtom) {
	if _, already := sub.ToSub[superIdx]; already {
		return
	}
	subIdx := len(sub.Cell.Atoms)
	sub.Cell.Atoms = append(sub.Cell.Atoms, a)
	sub.ToSub[superIdx] = subIdx
	sub.ToSuper = append(sub.ToSuper, superIdx)
}

// ProtoMech is a mechanism still expressed over the whole subcell's
// active atoms, as returned by the mechanism finder (spec.md §3); it
// has not yet been localised onto a reference Environment geometry.
type ProtoMech struct {
	ActivationEnergy float64
	DeltaEnergy      float64
	Prefactor        float64
	// Displacement[i] is the Cartesian move of the i-th active atom of
	// the subcell, in subcell active-atom order.
	Displacement []geomx.Vec3
}

// LocalMechanism is the result of Unpack: a mechanism expressed over
// the active atoms of the canonical reference geometry.
type LocalMechanism struct {
	ActivationEnergy float64
	DeltaEnergy      float64
	Prefactor        float64
	Displacement     []geomx.Vec3
	// FractionalCapture is |rotated displacement| / |proto.Displacement|.
	FractionalCapture float64
}

// Unpack localises a ProtoMech onto ref, the canonical Environment
// geometry the candidate site matched (spec.md §4.4). site is the
// Geometry Classify built around the packaged centre, already
// permutation-matched onto ref by the catalogue lookup that found it
// (geomx.Geometry.PermuteOnto reorders its receiver's atoms in place,
// so by the time a site has matched ref, site's atom order already
// corresponds index-for-index to ref's).
//
// sub.Cell's active atoms must be in the same order ProtoMech's
// Displacement was built in (i.e. sub.Cell.ActiveIndices() order).
func (p *Packager) Unpack(proto ProtoMech, sub *Subcell, site, ref *geomx.Geometry) (LocalMechanism, bool) {
	activeIdx := sub.Cell.ActiveIndices()
	assert.Check(len(activeIdx) == len(proto.Displacement),
		"packager: proto-mechanism active count %d does not match subcell %d", len(proto.Displacement), len(activeIdx))

	centreLocal, maxMag := -1, -1.0
	protoNormSq := 0.0
	for i, d := range proto.Displacement {
		protoNormSq += d.NormSq()
		if m := d.Norm(); m > maxMag {
			maxMag = m
			centreLocal = i
		}
	}
	assert.Check(centreLocal >= 0, "packager: empty proto-mechanism")
	protoNorm := math.Sqrt(protoNormSq)

	if p.opt.RequireCentre {
		centreSubIdx := activeIdx[centreLocal]
		if centreSubIdx != sub.Centre {
			return LocalMechanism{}, false
		}
	}

	r := site.RotorOnto(ref)
	residual := 0.0
	for i, a := range site.Atoms() {
		residual += geomx.ApplyRotation(r, a.Pos).DistSq(ref.Atoms()[i].Pos)
	}
	if math.Sqrt(residual) > p.opt.UnpackTol {
		return LocalMechanism{}, false
	}

	out := make([]geomx.Vec3, 0, len(ref.Atoms()))
	total := 0.0
	for _, a := range ref.Atoms() {
		if a.Colour.Phase != geomx.Active {
			continue
		}
		subIdx, ok := sub.ToSub[a.Backref]
		if !ok {
			return LocalMechanism{}, false
		}
		localIdx := indexOf(activeIdx, subIdx)
		if localIdx < 0 {
			return LocalMechanism{}, false
		}
		rotated := geomx.ApplyRotation(r, proto.Displacement[localIdx])
		out = append(out, rotated)
		total += rotated.NormSq()
	}

	absCapture := math.Sqrt(total)
	fracCapture := 0.0
	if protoNorm > 0 {
		fracCapture = absCapture / protoNorm
	}

	return LocalMechanism{
		ActivationEnergy:  proto.ActivationEnergy,
		DeltaEnergy:       proto.DeltaEnergy,
		Prefactor:         proto.Prefactor,
		Displacement:      out,
		FractionalCapture: fracCapture,
	}, true
}

// Reconstruct applies a catalogued mechanism's displacement back onto
// the real cell, the inverse of Unpack (spec.md §4.9 step 3, grounded
// on the original's Basin::local_mech::onto): site is the candidate
// geometry already permutation-matched onto ref by the catalogue
// lookup, so its rotor transposed maps the canonical-frame
// displacement back into the site's actual orientation.
func (p *Packager) Reconstruct(disp []geomx.Vec3, sub *Subcell, site, ref *geomx.Geometry) {
	r := site.RotorOnto(ref)
	rt := mat.DenseCopyOf(r.T())

	siteAtoms := site.Atoms()
	j := 0
	for i, a := range ref.Atoms() {
		if a.Colour.Phase != geomx.Active {
			continue
		}
		assert.Check(j < len(disp), "packager: mechanism has fewer displacements than active atoms in reference")
		subIdx, ok := sub.ToSub[siteAtoms[i].Backref]
		assert.Check(ok, "packager: reconstructed atom %d is not in the subcell", siteAtoms[i].Backref)
		move := geomx.ApplyRotation(rt, disp[j])
		sub.Cell.Atoms[subIdx].Pos = sub.Cell.Atoms[subIdx].Pos.Add(move)
		j++
	}
}

func indexOf(xs []int, v int) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return -1
}
