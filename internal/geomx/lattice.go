package geomx

import "math"

// SnapToLattice projects pos onto the nearest point of a primitive
// cubic lattice of spacing a0, anchored at the origin. This is the
// narrow discrete-lattice output projection SPEC_FULL.md §12 carries
// over from the Open Question in spec.md §9. No package in this
// repository calls it: xyzio.WriteTraceFrame writes vacant sites at
// the positions it is given, without snapping, and the driver passes
// none.
func SnapToLattice(pos Vec3, a0 float64) Vec3 {
	return Vec3{
		math.Round(pos[0]/a0) * a0,
		math.Round(pos[1]/a0) * a0,
		math.Round(pos[2]/a0) * a0,
	}
}
