// Command otfkmc runs the on-the-fly kinetic Monte Carlo driver of
// spec.md §4.9 against a TOML configuration document (spec.md §6).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nmxmxh/otfkmc/internal/assert"
	"github.com/nmxmxh/otfkmc/internal/catalog"
	"github.com/nmxmxh/otfkmc/internal/classify"
	"github.com/nmxmxh/otfkmc/internal/config"
	"github.com/nmxmxh/otfkmc/internal/driver"
	"github.com/nmxmxh/otfkmc/internal/finder"
	"github.com/nmxmxh/otfkmc/internal/geomx"
	"github.com/nmxmxh/otfkmc/internal/kinetics"
	"github.com/nmxmxh/otfkmc/internal/otflog"
	"github.com/nmxmxh/otfkmc/internal/packager"
	"github.com/nmxmxh/otfkmc/internal/registry"
	"github.com/nmxmxh/otfkmc/internal/visualise"
	"github.com/nmxmxh/otfkmc/internal/xyzio"
)

var rootCmd = &cobra.Command{
	Use:           "otfkmc",
	Short:         "On-the-fly kinetic Monte Carlo driver",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.AddCommand(runCmd(), validateCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config.toml>",
		Short: "Load and validate a config file without running a simulation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			defer func() {
				if v := assert.Recover(); v != nil {
					err = v
				}
			}()
			if _, err := config.Load(args[0]); err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <config.toml>",
		Short: "Run the KMC driver to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			// spec.md §7: an unrecoverable invariant violation panicked
			// from anywhere in the call tree becomes this process's exit
			// error instead of a crash dump.
			defer func() {
				if v := assert.Recover(); v != nil {
					err = v
				}
			}()
			return run(cmd.Context(), args[0])
		},
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := otflog.Default("otfkmc")

	box := geomx.Box{
		Lx: cfg.Supercell.SimBox.Lx, Ly: cfg.Supercell.SimBox.Ly, Lz: cfg.Supercell.SimBox.Lz,
		Px: cfg.Supercell.SimBox.Px, Py: cfg.Supercell.SimBox.Py, Pz: cfg.Supercell.SimBox.Pz,
	}
	cell, err := xyzio.LoadSupercell(cfg.Supercell.InFile, box, cfg.Supercell.ElementMap)
	if err != nil {
		return err
	}
	log.Info("supercell loaded", otflog.Int("atoms", len(cell.Atoms)))

	nl, err := registry.NewNeighbourList(box)
	if err != nil {
		return err
	}
	pot, err := registry.NewPotential(cfg.Potential.Kind, cfg.Potential.InFile)
	if err != nil {
		return err
	}
	minimiser, err := registry.NewMinimiser(cfg.Minimiser.Kind, minimiserSettings(cfg.Minimiser))
	if err != nil {
		return err
	}
	searcher, err := registry.NewSaddleSearcher(cfg.SPSearch.Kind, spSearchSettings(cfg.SPSearch))
	if err != nil {
		return err
	}

	cat := catalog.New(catalog.Options{REnv: cfg.Catalogue.REnv, DeltaMax: cfg.Catalogue.Delta, MatchBest: cfg.Catalogue.MatchBest}, log.With("catalog"))
	if cfg.Catalogue.LoadFromDisk {
		if err := cat.Load(cfg.Catalogue.Fname, cfg.Catalogue.Format); err != nil {
			return err
		}
		log.Info("catalogue loaded from disk", otflog.Int("size", cat.Size()))
	}

	var limiter *catalog.Limiter
	if cfg.Catalogue.Fname != "" {
		limiter, err = catalog.NewLimiter(1, 1)
		if err != nil {
			return err
		}
	}

	classifier := classify.New(nl, cfg.Catalogue.REnv)

	pkgMode := packager.Global
	if cfg.Package.Mode == "local" {
		pkgMode = packager.Local
	}
	pkg := packager.New(packager.Options{
		Mode:          pkgMode,
		RActive:       cfg.Package.RActive,
		RBoundary:     cfg.Package.RBoundary,
		RequireCentre: cfg.Package.RequireCentre,
		UnpackTol:     cfg.Package.UnpackTol,
	})

	mf := finder.New(cfg.SPSearch, cfg.Mechanism, searcher, minimiser, pot, nil, 1, log.With("finder"))

	ids, err := driver.Bootstrap(ctx, cell, cat, classifier, pkg, mf, 1, cfg.Mechanism, cfg.Catalogue.Fname, cfg.Catalogue.Format, limiter, log.With("bootstrap"))
	if err != nil {
		return fmt.Errorf("otfkmc: initial catalogue bootstrap: %w", err)
	}

	sc := kinetics.NewSuperCache(cfg.Kinetics, cat, cell, ids, log.With("kinetics"))

	trace, err := xyzio.OpenTraceWriter("trace.xyz")
	if err != nil {
		return err
	}
	defer trace.Close()

	var viz *visualise.Broadcaster
	if cfg.Visualise.Enabled {
		viz = visualise.New(log.With("visualise"))
		srv := &http.Server{Addr: cfg.Visualise.Addr, Handler: viz}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("visualise server stopped", otflog.Err(err))
			}
		}()
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
	}

	d := driver.New(
		driver.Options{
			Mechanism:  cfg.Mechanism,
			ElementMap: cfg.Supercell.ElementMap,
			CatFormat:  cfg.Catalogue.Format,
			CatPath:    cfg.Catalogue.Fname,
			Workers:    1,
			PerturbStd: cfg.SPSearch.Stddev,
		},
		cell, cat, classifier, pkg, mf, pot, minimiser, sc, limiter, trace, viz, 1, log.With("driver"),
	)

	if err := d.Run(ctx, cfg.Kinetics.SimTime); err != nil {
		return err
	}
	log.Info("simulation complete", otflog.Float64("time", d.Time()), otflog.Int("iterations", d.Iteration()))
	return nil
}

func minimiserSettings(m config.Minimiser) map[string]any {
	switch m.Kind {
	case "BB":
		return m.BB
	case "HYBRID":
		return m.Hybrid
	default:
		return m.LBFGS
	}
}

func spSearchSettings(sp config.SPSearch) map[string]any {
	switch sp.Kind {
	case "Shrinking":
		return sp.Shrinking
	case "LShrink":
		return sp.LShrink
	default:
		return sp.Dimer
	}
}
