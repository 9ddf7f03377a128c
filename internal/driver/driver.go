// Package driver implements the KMC driver loop of spec.md §4.9: the
// single top-level state machine that selects a mechanism, reconstructs
// it onto the supercell, relaxes, re-catalogues the result, and
// advances simulation time until sim_time is reached. Grounded on the
// teacher's own run-to-completion loop shape in
// kernel/threads/supervisor/unified.go's Start (spin until cancelled,
// periodic logging, atomic counters) adapted from an indefinitely
// blocking server loop to a bounded batch job.
package driver

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"

	"github.com/nmxmxh/otfkmc/internal/catalog"
	"github.com/nmxmxh/otfkmc/internal/classify"
	"github.com/nmxmxh/otfkmc/internal/config"
	"github.com/nmxmxh/otfkmc/internal/finder"
	"github.com/nmxmxh/otfkmc/internal/geomx"
	"github.com/nmxmxh/otfkmc/internal/kinetics"
	"github.com/nmxmxh/otfkmc/internal/kmcerr"
	"github.com/nmxmxh/otfkmc/internal/otflog"
	"github.com/nmxmxh/otfkmc/internal/packager"
	"github.com/nmxmxh/otfkmc/internal/visualise"
	"github.com/nmxmxh/otfkmc/internal/xyzio"
)

// Options bundles the driver's non-collaborator configuration (spec.md
// §6's [kinetics]/[mechanism]/[catalogue] knobs it needs directly,
// without re-parsing the whole Config).
type Options struct {
	Mechanism  config.Mechanism
	ElementMap []config.ElementMapEntry
	CatFormat  string
	CatPath    string
	Workers    int
	PerturbStd float64
}

// Driver runs spec.md §4.9's iteration loop against one supercell.
type Driver struct {
	opt Options

	cell       *geomx.Cell
	cat        *catalog.Catalogue
	classifier *classify.Classifier
	packager   *packager.Packager
	finder     *finder.MechanismFinder
	pot        finder.Potential
	minimiser  finder.Minimiser
	superCache *kinetics.SuperCache
	limiter    *catalog.Limiter
	trace      *xyzio.TraceWriter
	viz        *visualise.Broadcaster

	rng *rand.Rand
	log *otflog.Logger

	time      float64
	iteration int
}

// New builds a Driver. viz may be nil (visualisation disabled).
func New(
	opt Options,
	cell *geomx.Cell,
	cat *catalog.Catalogue,
	classifier *classify.Classifier,
	pkg *packager.Packager,
	mf *finder.MechanismFinder,
	pot finder.Potential,
	minimiser finder.Minimiser,
	sc *kinetics.SuperCache,
	limiter *catalog.Limiter,
	trace *xyzio.TraceWriter,
	viz *visualise.Broadcaster,
	seed int64,
	log *otflog.Logger,
) *Driver {
	if log == nil {
		log = otflog.Default("driver")
	}
	return &Driver{
		opt:        opt,
		cell:       cell,
		cat:        cat,
		classifier: classifier,
		packager:   pkg,
		finder:     mf,
		pot:        pot,
		minimiser:  minimiser,
		superCache: sc,
		limiter:    limiter,
		trace:      trace,
		viz:        viz,
		rng:        rand.New(rand.NewSource(seed)),
		log:        log,
	}
}

// Run drives the KMC loop until simTime is reached or ctx is cancelled
// (spec.md §4.9). It returns the context's error on cancellation, or
// the first unrecoverable driver error.
func (d *Driver) Run(ctx context.Context, simTime float64) error {
	for d.time < simTime {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		choice, err := d.superCache.SelectMech(d.rng)
		if err != nil {
			return fmt.Errorf("driver: iteration %d: select mechanism: %w", d.iteration, err)
		}
		d.time += choice.DeltaT
		d.iteration++

		if choice.BasinChanged {
			d.cell.SetActivePositions(d.superCache.CurrentState())
			d.log.Info("basin changed", otflog.Int("basin", choice.Basin))
		}

		mech := d.superCache.At(choice.Basin).At(choice.Mech)
		env := d.cat.Env(mech.Env)
		catMech := env.Mechanisms[mech.MechOff]

		if err := d.applyMechanism(ctx, mech, env, catMech); err != nil {
			return fmt.Errorf("driver: iteration %d: %w", d.iteration, err)
		}

		ids, err := d.updateCatalogue(ctx)
		if err != nil {
			return fmt.Errorf("driver: iteration %d: %w", d.iteration, err)
		}

		d.superCache.ConnectVia(choice.Mech, d.cell, ids)

		if err := d.emit(); err != nil {
			return fmt.Errorf("driver: iteration %d: emit trace frame: %w", d.iteration, err)
		}
	}
	return nil
}

// applyMechanism is spec.md §4.9 steps 2-4: re-derive the chosen
// mechanism's local geometry, reconstruct its displacement onto the
// real cell, then minimise, retrying once with a Gaussian jitter on
// failure (spec.md §7's "algorithmic failure -> locally recovered").
func (d *Driver) applyMechanism(ctx context.Context, mech kinetics.LocalMech, env *catalog.Environment, catMech catalog.Mechanism) error {
	site := d.classifier.ClassifyOne(d.cell, mech.AtomIdx)
	defer d.classifier.Release([]classify.Site{site})

	if _, _, ok := site.Geometry.PermuteOnto(env.Reference, env.Delta); !ok {
		return kmcerr.New(kmcerr.KindCatalogueMismatch, "reconstruct: atom no longer matches its catalogued environment")
	}

	// Reconstruct writes through the subcell, so it is packaged in Global
	// mode: a Local subcell is a copy, and moves made on it would never
	// reach d.cell.
	sub := packager.New(packager.Options{Mode: packager.Global}).Package(d.cell, mech.AtomIdx)
	d.packager.Reconstruct(catMech.Displacement, sub, site.Geometry, env.Reference)

	if err := d.minimiser.Minimise(ctx, d.cell, d.pot); err != nil {
		d.log.Warn("minimisation failed, retrying with a Gaussian jitter", otflog.Err(err))
		d.jitter()
		if err := d.minimiser.Minimise(ctx, d.cell, d.pot); err != nil {
			return kmcerr.Wrap(kmcerr.KindMinimiserStalled, "minimisation failed twice", err)
		}
	}
	return nil
}

// jitter nudges every active atom by a small Gaussian displacement.
// applyMechanism uses it once, after a failed minimisation; a site that
// no longer matches its catalogued environment is returned as a
// KindCatalogueMismatch error with no jitter and no retry.
func (d *Driver) jitter() {
	for i := range d.cell.Atoms {
		if d.cell.Atoms[i].Colour.Phase != geomx.Active {
			continue
		}
		delta := geomx.Vec3{d.rng.NormFloat64(), d.rng.NormFloat64(), d.rng.NormFloat64()}.Scale(d.opt.PerturbStd)
		d.cell.Atoms[i].Pos = d.cell.Atoms[i].Pos.Add(delta)
	}
}

// updateCatalogue is spec.md §4.9 step 5: classify the relaxed cell,
// canon-update the catalogue, dispatch mechanism finders against every
// newly-seen environment, and persist the catalogue on any change.
//
// A newly-catalogued site's Geometry becomes its Environment's
// Reference (CanonTryEmplace stores the pointer, not a copy), so it
// must not be handed back to the classifier's arena: only the sites
// that matched an existing environment are released for reuse.
func (d *Driver) updateCatalogue(ctx context.Context) ([]catalog.EnvID, error) {
	sites := d.classifier.Classify(d.cell)
	geos := make([]*geomx.Geometry, len(sites))
	for i, s := range sites {
		geos[i] = s.Geometry
	}
	ids, newIdx := d.cat.CanonUpdate(geos)

	if len(newIdx) > 0 {
		if err := d.searchNewSites(ctx, sites, ids, newIdx); err != nil {
			d.releaseExcept(sites, newIdx)
			return nil, err
		}
		if err := d.cat.Save(d.opt.CatPath, d.opt.CatFormat, d.limiter); err != nil {
			d.log.Warn("catalogue persist failed", otflog.Err(err))
		}
	}

	d.releaseExcept(sites, newIdx)
	return ids, nil
}

// releaseExcept returns every site to the classifier's arena except
// those indexed by keep (the ones just adopted as a catalogue
// Environment's Reference).
func (d *Driver) releaseExcept(sites []classify.Site, keep []int) {
	skip := make(map[int]bool, len(keep))
	for _, i := range keep {
		skip[i] = true
	}
	reusable := make([]classify.Site, 0, len(sites))
	for i, s := range sites {
		if !skip[i] {
			reusable = append(reusable, s)
		}
	}
	d.classifier.Release(reusable)
}

// searchNewSites packages a subcell around each newly-catalogued site,
// dispatches the mechanism finder across all of them, and unpacks
// every discovered ProtoMech onto its environment's reference frame
// (spec.md §4.5, §4.9 step 5). A new environment's reference geometry
// is the site's own geometry, so Unpack's rotor against itself is the
// identity and every proto-mechanism localises without rotation.
func (d *Driver) searchNewSites(ctx context.Context, sites []classify.Site, ids []catalog.EnvID, newIdx []int) error {
	subs := make([]*packager.Subcell, len(newIdx))
	for i, si := range newIdx {
		subs[i] = d.packager.Package(d.cell, sites[si].AtomIndex)
	}

	protoLists, err := finder.FindAll(ctx, d.finder, subs, d.opt.Workers)
	if err != nil {
		return fmt.Errorf("mechanism search: %w", err)
	}

	tol := catalog.EquivTol{AbsTol: d.opt.Mechanism.AbsTol, FracTol: d.opt.Mechanism.FracTol, RTol: d.opt.Mechanism.RTol}

	for i, si := range newIdx {
		env := d.cat.Env(ids[si])
		for _, proto := range protoLists[i] {
			local, ok := d.packager.Unpack(proto, subs[i], sites[si].Geometry, env.Reference)
			if !ok {
				d.log.Debug("proto-mechanism failed to unpack", otflog.Int("atom", sites[si].AtomIndex))
				continue
			}
			if local.FractionalCapture <= d.opt.Mechanism.RelCapTol {
				d.log.Warn("mechanism capture below tolerance",
					otflog.Int("atom", sites[si].AtomIndex),
					otflog.Float64("fractional_capture", local.FractionalCapture))
			}
			env.TryPushMech(catalog.Mechanism{
				ActivationEnergy: local.ActivationEnergy,
				DeltaEnergy:      local.DeltaEnergy,
				Prefactor:        local.Prefactor,
				Displacement:     local.Displacement,
			}, tol)
		}
	}
	return nil
}

// emit is spec.md §4.9 step 7: a streaming log record plus a trace
// frame, additionally broadcast to live viewers when enabled. Vacant
// lattice sites are omitted: this driver operates in the continuous,
// off-lattice regime, not the discrete-lattice variant spec.md §9
// leaves as an open question.
func (d *Driver) emit() error {
	d.log.Info("iteration complete",
		otflog.Int("iteration", d.iteration),
		otflog.Float64("time", d.time),
		otflog.Int("catalogue_size", d.cat.Size()))

	if d.trace != nil {
		if err := d.trace.WriteFrame(d.cell, d.opt.ElementMap, nil, d.iteration, d.time); err != nil {
			return err
		}
	}

	if d.viz != nil {
		var buf bytes.Buffer
		if err := xyzio.WriteTraceFrame(&buf, d.cell, d.opt.ElementMap, nil, d.iteration, d.time); err != nil {
			return err
		}
		d.viz.Broadcast(buf.Bytes())
	}

	return nil
}

// Time returns the simulated time elapsed so far.
func (d *Driver) Time() float64 { return d.time }

// Iteration returns the number of completed KMC steps.
func (d *Driver) Iteration() int { return d.iteration }
