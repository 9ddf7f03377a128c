package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Potential: Potential{Kind: "EAM", InFile: "pot.eam"},
		Supercell: Supercell{
			InFile:     "cell.xyz",
			ElementMap: []ElementMapEntry{{Name: "Fe", Species: 0, PhaseTag: "A"}},
		},
		Catalogue: Catalogue{REnv: 4.0, Delta: 0.3, Format: "portable_binary"},
		Package:   Package{Mode: "global"},
		SPSearch:  SPSearch{Kind: "Dimer", MaxSearch: 20, Consecutive: 5},
		Minimiser: Minimiser{Kind: "LBFGS"},
		Kinetics:  Kinetics{Temperature: 300, MaxBarrier: 3.0, SimTime: 1e-6, CacheSize: 8},
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsBadPotentialKind(t *testing.T) {
	c := validConfig()
	c.Potential.Kind = "LennardJones"
	assert.Error(t, c.Validate())
}

func TestValidateRequiresFnameWhenLoadFromDisk(t *testing.T) {
	c := validConfig()
	c.Catalogue.LoadFromDisk = true
	assert.Error(t, c.Validate())
	c.Catalogue.Fname = "cat.bin"
	assert.NoError(t, c.Validate())
}

func TestValidateLocalModeRequiresRActive(t *testing.T) {
	c := validConfig()
	c.Package.Mode = "local"
	assert.Error(t, c.Validate())
	c.Package.RActive = 5
	c.Package.RBoundary = 7
	assert.NoError(t, c.Validate())
}

func TestValidateDynamicTolBounds(t *testing.T) {
	c := validConfig()
	c.Kinetics.DynamicTol = &DynamicTol{MaxSbSize: 5, Grow: 1.5, Shrink: 0.5}
	assert.NoError(t, c.Validate())

	c.Kinetics.DynamicTol.Shrink = 1.5
	assert.Error(t, c.Validate())
}
