package driver

import (
	"context"

	"github.com/nmxmxh/otfkmc/internal/catalog"
	"github.com/nmxmxh/otfkmc/internal/classify"
	"github.com/nmxmxh/otfkmc/internal/config"
	"github.com/nmxmxh/otfkmc/internal/finder"
	"github.com/nmxmxh/otfkmc/internal/geomx"
	"github.com/nmxmxh/otfkmc/internal/otflog"
	"github.com/nmxmxh/otfkmc/internal/packager"
)

// Bootstrap classifies every active atom of a freshly loaded cell,
// canon-inserts whatever environments the catalogue has not seen
// before, and dispatches the mechanism finder against each of them --
// the same work updateCatalogue does mid-run, needed once up front so
// a SuperCache has a per-atom catalogue id to build its first Basin
// from (spec.md §4.9's loop assumes this state already exists; the CLI
// is what establishes it before the loop starts).
func Bootstrap(
	ctx context.Context,
	cell *geomx.Cell,
	cat *catalog.Catalogue,
	classifier *classify.Classifier,
	pkg *packager.Packager,
	mf *finder.MechanismFinder,
	workers int,
	mechTol config.Mechanism,
	catPath, catFormat string,
	limiter *catalog.Limiter,
	log *otflog.Logger,
) ([]catalog.EnvID, error) {
	if log == nil {
		log = otflog.Default("driver.bootstrap")
	}
	d := &Driver{
		cell:       cell,
		cat:        cat,
		classifier: classifier,
		packager:   pkg,
		finder:     mf,
		opt: Options{
			Mechanism: mechTol,
			Workers:   workers,
			CatPath:   catPath,
			CatFormat: catFormat,
		},
		limiter: limiter,
		log:     log,
	}
	return d.updateCatalogue(ctx)
}
