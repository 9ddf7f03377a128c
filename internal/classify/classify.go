// Package classify implements the Classify stage of spec.md §4.3: for
// each active atom, reduce its periodic neighbourhood into a
// (DiscreteKey, Geometry) pair via an injected geomx.NeighbourList.
package classify

import (
	"github.com/nmxmxh/otfkmc/internal/geomx"
)

// NeighbourList is the external, out-of-scope neighbour grid (spec.md
// §1); SPEC_FULL.md §13 names this interface against *geomx.Cell.
type NeighbourList interface {
	Neighbours(cell *geomx.Cell, idx int, radius float64) []geomx.Ghost
}

// Site is one classified mobile atom: its real cell index and the
// local environment built around it.
type Site struct {
	AtomIndex int
	Key       geomx.DiscreteKey
	Geometry  *geomx.Geometry
}

// Classifier holds the reusable Geometry arena (spec.md §3:
// "Geometries used in classification are owned by the Classify
// working buffer and reused across iterations").
type Classifier struct {
	arena *geomx.Arena
	nl    NeighbourList
	rEnv  float64
}

func New(nl NeighbourList, rEnv float64) *Classifier {
	return &Classifier{arena: geomx.NewArena(), nl: nl, rEnv: rEnv}
}

// Classify builds one Site per active atom of cell. Ghost atoms
// returned by the neighbour list carry the real atom index they were
// periodically imaged from (geomx.Ghost.Owner), which Classify stores
// as each Geometry atom's Backref so a reconstructed mechanism can be
// written back to the correct real atom (spec.md §4.3).
func (c *Classifier) Classify(cell *geomx.Cell) []Site {
	active := cell.ActiveIndices()
	sites := make([]Site, 0, len(active))
	for _, idx := range active {
		sites = append(sites, c.ClassifyOne(cell, idx))
	}
	return sites
}

// ClassifyOne builds the Site around a single active atom, without
// touching the rest of the cell's environments. Used by the driver on
// every KMC iteration to re-derive a mechanism's local geometry
// immediately before reconstructing it, where classifying the whole
// cell is wasted work.
func (c *Classifier) ClassifyOne(cell *geomx.Cell, idx int) Site {
	ghosts := c.nl.Neighbours(cell, idx, c.rEnv)

	geo := c.arena.Get(len(ghosts) + 1)
	centre := cell.Atoms[idx]
	geo.Append(centre.Pos, centre.Colour, idx)
	for _, gh := range ghosts {
		geo.Append(gh.Pos, gh.Colour, gh.Owner)
	}
	geo.Finalise()

	return Site{AtomIndex: idx, Key: geo.DiscreteKey(), Geometry: geo}
}

// Release returns every site's geometry to the arena for reuse on the
// next KMC iteration. Callers must not touch the Site's Geometry after
// calling Release.
func (c *Classifier) Release(sites []Site) {
	for _, s := range sites {
		c.arena.Put(s.Geometry)
	}
}
