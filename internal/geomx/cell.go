package geomx

// Box is the orthorhombic simulation box with per-axis periodicity
// (spec.md §3: "The simulation cell is orthorhombic with per-axis
// periodicity flags").
type Box struct {
	Lx, Ly, Lz    float64
	Px, Py, Pz    bool
}

// Wrap applies minimum-image wrapping of a displacement under the
// box's periodicity flags.
func (b Box) Wrap(d Vec3) Vec3 {
	if b.Px {
		d[0] -= b.Lx * roundHalf(d[0]/b.Lx)
	}
	if b.Py {
		d[1] -= b.Ly * roundHalf(d[1]/b.Ly)
	}
	if b.Pz {
		d[2] -= b.Lz * roundHalf(d[2]/b.Lz)
	}
	return d
}

func roundHalf(x float64) float64 {
	if x >= 0 {
		return float64(int(x + 0.5))
	}
	return float64(int(x - 0.5))
}

// CellAtom is one real (non-ghost) atom of a Cell.
type CellAtom struct {
	Pos    Vec3
	Colour Colour
}

// Cell is the full atomic configuration the driver operates on: the
// box plus every real atom. Potential/Minimiser/SaddleSearcher
// implementations (out of scope, spec.md §1) consume and mutate this
// type through the external collaborator interfaces.
type Cell struct {
	Box   Box
	Atoms []CellAtom
}

// ActiveIndices returns the indices of every Active-phase atom, in
// cell order.
func (c *Cell) ActiveIndices() []int {
	idx := make([]int, 0, len(c.Atoms))
	for i, a := range c.Atoms {
		if a.Colour.Phase == Active {
			idx = append(idx, i)
		}
	}
	return idx
}

// ActivePositions returns the positions of every Active-phase atom, in
// cell order; used as a Basin's reference state (spec.md §3).
func (c *Cell) ActivePositions() []Vec3 {
	pos := make([]Vec3, 0, len(c.Atoms))
	for _, a := range c.Atoms {
		if a.Colour.Phase == Active {
			pos = append(pos, a.Pos)
		}
	}
	return pos
}

// SetActivePositions overwrites every Active-phase atom's position, in
// cell order, from pos (the inverse of ActivePositions). Used when a
// superbasin choice changes the occupied basin: the cell must be
// snapped to that basin's reference state before reconstruction.
func (c *Cell) SetActivePositions(pos []Vec3) {
	i := 0
	for idx := range c.Atoms {
		if c.Atoms[idx].Colour.Phase != Active {
			continue
		}
		c.Atoms[idx].Pos = pos[i]
		i++
	}
}

// Ghost is a periodic image of a real cell atom produced by
// neighbour-list reduction (spec.md §4.3); it carries the owning
// atom's real index (Owner) so a reconstructed mechanism can be
// written back to the correct real atom.
type Ghost struct {
	Pos    Vec3
	Colour Colour
	Owner  int
}
