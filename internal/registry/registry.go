// Package registry is the seam between this repository's core KMC
// logic and the external collaborators spec.md §1 puts out of scope:
// a concrete potential, minimiser, saddle searcher, and neighbour
// list. None are implemented here (spec.md §13); a production binary
// registers them from a separate package via a blank import, the way
// database/sql drivers register themselves -- the CLI only knows the
// string "kind" named in the config file.
package registry

import (
	"fmt"

	"github.com/nmxmxh/otfkmc/internal/finder"
	"github.com/nmxmxh/otfkmc/internal/geomx"
)

// PotentialFactory builds a finder.Potential from its [potential]
// config table.
type PotentialFactory func(inFile string) (finder.Potential, error)

// MinimiserFactory builds a finder.Minimiser from its [minimiser]
// config table (the sub-table selected by Kind, e.g. settings.LBFGS).
type MinimiserFactory func(settings map[string]any) (finder.Minimiser, error)

// SaddleSearcherFactory builds a finder.SaddleSearcher from its
// [sp_search] config table.
type SaddleSearcherFactory func(settings map[string]any) (finder.SaddleSearcher, error)

// NeighbourListFactory builds a classify.NeighbourList (expressed here
// against geomx directly to avoid an import cycle with classify).
type NeighbourListFactory func(box geomx.Box) (NeighbourList, error)

// NeighbourList mirrors classify.NeighbourList / finder.NeighbourList;
// the two packages declare identical interfaces rather than share one,
// so this declaration does not depend on classify's or finder's.
type NeighbourList interface {
	Neighbours(cell *geomx.Cell, idx int, radius float64) []geomx.Ghost
}

var (
	potentials      = map[string]PotentialFactory{}
	minimisers      = map[string]MinimiserFactory{}
	saddleSearchers = map[string]SaddleSearcherFactory{}
	neighbourLists  = map[string]NeighbourListFactory{}
)

func RegisterPotential(kind string, f PotentialFactory)           { potentials[kind] = f }
func RegisterMinimiser(kind string, f MinimiserFactory)           { minimisers[kind] = f }
func RegisterSaddleSearcher(kind string, f SaddleSearcherFactory) { saddleSearchers[kind] = f }
func RegisterNeighbourList(kind string, f NeighbourListFactory)   { neighbourLists[kind] = f }

func NewPotential(kind, inFile string) (finder.Potential, error) {
	f, ok := potentials[kind]
	if !ok {
		return nil, fmt.Errorf("registry: no potential registered for kind %q (import its implementation package)", kind)
	}
	return f(inFile)
}

func NewMinimiser(kind string, settings map[string]any) (finder.Minimiser, error) {
	f, ok := minimisers[kind]
	if !ok {
		return nil, fmt.Errorf("registry: no minimiser registered for kind %q (import its implementation package)", kind)
	}
	return f(settings)
}

func NewSaddleSearcher(kind string, settings map[string]any) (finder.SaddleSearcher, error) {
	f, ok := saddleSearchers[kind]
	if !ok {
		return nil, fmt.Errorf("registry: no saddle searcher registered for kind %q (import its implementation package)", kind)
	}
	return f(settings)
}

// NewNeighbourList always resolves under the "linkcell" kind: spec.md
// §1 names exactly one external neighbour grid, not a family selected
// by a config key.
func NewNeighbourList(box geomx.Box) (NeighbourList, error) {
	f, ok := neighbourLists["linkcell"]
	if !ok {
		return nil, fmt.Errorf("registry: no neighbour list registered (import its implementation package)")
	}
	return f(box)
}
