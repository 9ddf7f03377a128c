package xyzio

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/nmxmxh/otfkmc/internal/config"
	"github.com/nmxmxh/otfkmc/internal/geomx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func elementMap() []config.ElementMapEntry {
	return []config.ElementMapEntry{
		{Name: "Fe", Species: 26, PhaseTag: "A"},
		{Name: "Cr", Species: 24, PhaseTag: "B"},
	}
}

func TestLoadSupercellParsesAtomsAndColours(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.xyz")
	content := "2\nignored comment\nFe 0.0 0.0 0.0\nCr 1.5 0.0 0.0\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cell, err := LoadSupercell(path, geomx.Box{Lx: 10, Ly: 10, Lz: 10}, elementMap())
	require.NoError(t, err)
	require.Len(t, cell.Atoms, 2)
	assert.Equal(t, geomx.Colour{Species: 26, Phase: geomx.Active}, cell.Atoms[0].Colour)
	assert.Equal(t, geomx.Colour{Species: 24, Phase: geomx.Boundary}, cell.Atoms[1].Colour)
}

func TestLoadSupercellRejectsUnknownSymbol(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.xyz")
	content := "1\nignored\nXx 0 0 0\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadSupercell(path, geomx.Box{Lx: 10, Ly: 10, Lz: 10}, elementMap())
	assert.Error(t, err)
}

func TestWriteTraceFrameOffsetsBoundarySpecies(t *testing.T) {
	cell := &geomx.Cell{
		Box: geomx.Box{Lx: 10, Ly: 10, Lz: 10},
		Atoms: []geomx.CellAtom{
			{Pos: geomx.Vec3{0, 0, 0}, Colour: geomx.Colour{Species: 26, Phase: geomx.Active}},
			{Pos: geomx.Vec3{1, 0, 0}, Colour: geomx.Colour{Species: 24, Phase: geomx.Boundary}},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteTraceFrame(&buf, cell, elementMap(), nil, 3, 1.5))

	out := buf.String()
	assert.Contains(t, out, "Lattice=\"10 0 0 0 10 0 0 0 10\"")
	assert.Contains(t, out, "123") // 24 + 99 boundary offset, no symbol configured for it
}

func TestWriteTraceFrameIncludesVacantSites(t *testing.T) {
	cell := &geomx.Cell{Box: geomx.Box{Lx: 10, Ly: 10, Lz: 10}}
	var buf bytes.Buffer
	require.NoError(t, WriteTraceFrame(&buf, cell, elementMap(), []geomx.Vec3{{2, 2, 2}}, 0, 0))
	assert.Contains(t, buf.String(), vacantSymbol)
}
