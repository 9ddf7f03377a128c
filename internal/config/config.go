// Package config loads and validates the TOML configuration document
// described by spec.md §6.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/nmxmxh/otfkmc/internal/assert"
)

// Potential configures the interatomic potential (an external
// collaborator, spec.md §1; only its kind/file are this repo's
// concern).
type Potential struct {
	Kind   string `toml:"kind"`
	InFile string `toml:"in_file"`
}

// SimBox is the [supercell.simbox] subtable.
type SimBox struct {
	Lx, Ly, Lz float64
	Px, Py, Pz bool
}

// ElementMapEntry maps an XYZ symbol to a reduced species index and a
// phase tag ("A" = active, "B" = boundary; spec.md §6).
type ElementMapEntry struct {
	Name    string
	Species int
	PhaseTag string
}

type Supercell struct {
	InFile      string `toml:"in_file"`
	SimBox      SimBox `toml:"simbox"`
	ElementMap  []ElementMapEntry `toml:"element_map"`
}

type Catalogue struct {
	REnv         float64 `toml:"r_env"`
	Delta        float64 `toml:"delta"`
	MatchBest    bool    `toml:"match_best"`
	Format       string  `toml:"format"` // binary | portable_binary | json | xml
	Fname        string  `toml:"fname"`
	LoadFromDisk bool    `toml:"load_from_disk"`
}

type Mechanism struct {
	RTol      float64 `toml:"r_tol"`
	AbsTol    float64 `toml:"abs_tol"`
	FracTol   float64 `toml:"frac_tol"`
	RelCapTol float64 `toml:"rel_cap_tol"`
}

type Package struct {
	Mode           string  `toml:"mode"` // global | local
	UnpackTol      float64 `toml:"unpack_tol"`
	RActive        float64 `toml:"r_active"`
	RBoundary      float64 `toml:"r_boundary"`
	RequireCentre  bool    `toml:"require_centre"`
}

type SPSearch struct {
	Kind           string  `toml:"kind"` // Dimer | Shrinking | LShrink
	Consecutive    int     `toml:"consecutive"`
	MaxSearch      int     `toml:"max_search"`
	Vineyard       bool    `toml:"vineyard"`
	VineZeroTol    float64 `toml:"vine_zero_tol"`
	RPerturbation  float64 `toml:"r_perturbation"`
	Stddev         float64 `toml:"stddev"`
	ConstPreFactor float64 `toml:"const_pre_factor"`

	Dimer     map[string]any `toml:"dimer"`
	Shrinking map[string]any `toml:"shrinking"`
	LShrink   map[string]any `toml:"lshrink"`
}

type Minimiser struct {
	Kind string `toml:"kind"` // LBFGS | BB | HYBRID

	LBFGS  map[string]any `toml:"lbfgs"`
	BB     map[string]any `toml:"bb"`
	Hybrid map[string]any `toml:"hybrid"`
}

type DynamicTol struct {
	MaxSbSize int     `toml:"max_sb_size"`
	Grow      float64 `toml:"grow"`
	Shrink    float64 `toml:"shrink"`
}

type Kinetics struct {
	Temperature float64     `toml:"temperature"`
	MaxBarrier  float64     `toml:"max_barrier"`
	StateTol    float64     `toml:"state_tol"`
	BarrierTol  float64     `toml:"barrier_tol"`
	CacheSize   int         `toml:"cache_size"`
	DynamicTol  *DynamicTol `toml:"dynamic_tol"`
	SimTime     float64     `toml:"sim_time"`
}

type Visualise struct {
	REnv    float64 `toml:"r_env"`
	Enabled bool    `toml:"enabled"`
	Addr    string  `toml:"addr"`
}

// Config is the full TOML document (spec.md §6).
type Config struct {
	Potential Potential `toml:"potential"`
	Supercell Supercell `toml:"supercell"`
	Catalogue Catalogue `toml:"catalogue"`
	Mechanism Mechanism `toml:"mechanism"`
	Package   Package   `toml:"package"`
	SPSearch  SPSearch  `toml:"sp_search"`
	Minimiser Minimiser `toml:"minimiser"`
	Kinetics  Kinetics  `toml:"kinetics"`
	Visualise Visualise `toml:"visualise"`
}

// Load reads and parses path, then validates it.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate cross-checks fields the way the original's
// options::*::load functions die loudly on a missing required key
// (fetch<T>(config, section, key) in src/kinetics/basin.cpp and
// src/kinetics/supercache.cpp) -- reproduced here as assert.Check
// panics, which Validate itself recovers into its returned error.
func (c *Config) Validate() (err error) {
	defer func() {
		if r := recover(); r != nil {
			v, ok := r.(*assert.Violation)
			if !ok {
				panic(r)
			}
			err = v
		}
	}()

	assert.Check(c.Potential.Kind == "EAM" || c.Potential.Kind == "ADP",
		"[potential].kind must be EAM or ADP, got %q", c.Potential.Kind)
	assert.Check(c.Potential.InFile != "", "[potential].in_file is required")

	assert.Check(c.Supercell.InFile != "", "[supercell].in_file is required")
	assert.Check(len(c.Supercell.ElementMap) > 0, "[supercell].element_map must not be empty")

	assert.Check(c.Catalogue.REnv > 0, "[catalogue].r_env must be positive")
	assert.Check(c.Catalogue.Delta > 0, "[catalogue].delta must be positive")
	switch c.Catalogue.Format {
	case "binary", "portable_binary", "json", "xml":
	default:
		assert.Fail("[catalogue].format must be one of binary|portable_binary|json|xml, got %q", c.Catalogue.Format)
	}
	assert.Check(!c.Catalogue.LoadFromDisk || c.Catalogue.Fname != "",
		"[catalogue].load_from_disk requires [catalogue].fname")

	switch c.Package.Mode {
	case "global", "local":
	default:
		assert.Fail("[package].mode must be global or local, got %q", c.Package.Mode)
	}
	if c.Package.Mode == "local" {
		assert.Check(c.Package.RActive > 0, "[package].r_active is required in local mode")
		assert.Check(c.Package.RBoundary >= c.Package.RActive,
			"[package].r_boundary must be >= r_active")
	}

	switch c.SPSearch.Kind {
	case "Dimer", "Shrinking", "LShrink":
	default:
		assert.Fail("[sp_search].kind must be Dimer|Shrinking|LShrink, got %q", c.SPSearch.Kind)
	}
	assert.Check(c.SPSearch.MaxSearch > 0, "[sp_search].max_search must be positive")
	assert.Check(c.SPSearch.Consecutive > 0, "[sp_search].consecutive must be positive")

	switch c.Minimiser.Kind {
	case "LBFGS", "BB", "HYBRID":
	default:
		assert.Fail("[minimiser].kind must be LBFGS|BB|HYBRID, got %q", c.Minimiser.Kind)
	}

	assert.Check(c.Kinetics.Temperature > 0, "[kinetics].temperature must be positive")
	assert.Check(c.Kinetics.MaxBarrier > 0, "[kinetics].max_barrier must be positive")
	assert.Check(c.Kinetics.SimTime > 0, "[kinetics].sim_time must be positive")
	assert.Check(c.Kinetics.CacheSize > 0, "[kinetics].cache_size must be positive")
	if dt := c.Kinetics.DynamicTol; dt != nil {
		assert.Check(dt.MaxSbSize > 0, "[kinetics].dynamic_tol.max_sb_size must be positive")
		assert.Check(dt.Grow > 1.0, "[kinetics].dynamic_tol.grow must be > 1.0")
		assert.Check(dt.Shrink > 0 && dt.Shrink < 1.0, "[kinetics].dynamic_tol.shrink must be in (0,1)")
	}

	return nil
}

// MustExist is a small convenience used by the CLI to fail fast, with
// a config-error stack trace, on an unreadable path before attempting
// a TOML decode.
func MustExist(path string) {
	_, err := os.Stat(path)
	assert.Check(err == nil, "config file %q: %v", path, err)
}
