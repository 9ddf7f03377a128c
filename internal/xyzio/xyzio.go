// Package xyzio reads the LAMMPS-style extended XYZ supercell input and
// writes trace-frame XYZ output (spec.md §6). Sophisticated XYZ
// handling is explicitly out of scope (spec.md §1, "XYZ I/O... glue");
// this is the minimal reader/writer needed to drive the CLI
// end-to-end, the same boundary the teacher draws between core logic
// and its utils glue.
package xyzio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/nmxmxh/otfkmc/internal/config"
	"github.com/nmxmxh/otfkmc/internal/geomx"
)

// symbolTable maps an XYZ element symbol to its configured
// (reduced species, phase) pair, and back to a symbol for output.
type symbolTable struct {
	toColour map[string]geomx.Colour
	toSymbol map[geomx.Species]string
}

func newSymbolTable(elementMap []config.ElementMapEntry) *symbolTable {
	t := &symbolTable{
		toColour: make(map[string]geomx.Colour, len(elementMap)),
		toSymbol: make(map[geomx.Species]string, len(elementMap)),
	}
	for _, e := range elementMap {
		phase := geomx.Active
		if e.PhaseTag == "B" {
			phase = geomx.Boundary
		}
		t.toColour[e.Name] = geomx.Colour{Species: geomx.Species(e.Species), Phase: phase}
		t.toSymbol[geomx.Species(e.Species)] = e.Name
	}
	return t
}

// LoadSupercell reads a LAMMPS-style extended XYZ file: line 1 atom
// count, line 2 ignored, then "symbol x y z" per atom (spec.md §6).
func LoadSupercell(path string, box geomx.Box, elementMap []config.ElementMapEntry) (*geomx.Cell, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("xyzio: open %s: %w", path, err)
	}
	defer f.Close()

	table := newSymbolTable(elementMap)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !sc.Scan() {
		return nil, fmt.Errorf("xyzio: %s: missing atom-count line", path)
	}
	n, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil {
		return nil, fmt.Errorf("xyzio: %s: invalid atom count %q: %w", path, sc.Text(), err)
	}
	if !sc.Scan() {
		return nil, fmt.Errorf("xyzio: %s: missing comment line", path)
	}

	cell := &geomx.Cell{Box: box, Atoms: make([]geomx.CellAtom, 0, n)}
	for i := 0; i < n; i++ {
		if !sc.Scan() {
			return nil, fmt.Errorf("xyzio: %s: expected %d atoms, found %d", path, n, i)
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			return nil, fmt.Errorf("xyzio: %s: line %d: expected 'symbol x y z', got %q", path, i+3, sc.Text())
		}
		colour, ok := table.toColour[fields[0]]
		if !ok {
			return nil, fmt.Errorf("xyzio: %s: symbol %q not in element_map", path, fields[0])
		}
		x, errX := strconv.ParseFloat(fields[1], 64)
		y, errY := strconv.ParseFloat(fields[2], 64)
		z, errZ := strconv.ParseFloat(fields[3], 64)
		if errX != nil || errY != nil || errZ != nil {
			return nil, fmt.Errorf("xyzio: %s: line %d: malformed coordinates", path, i+3)
		}
		cell.Atoms = append(cell.Atoms, geomx.CellAtom{Pos: geomx.Vec3{x, y, z}, Colour: colour})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("xyzio: %s: %w", path, err)
	}
	return cell, nil
}

// boundaryOffset is added to the species atomic number when writing a
// boundary atom to a trace frame (spec.md §6).
const boundaryOffset = 99

// vacantSymbol is the element symbol used for discrete-lattice vacant
// sites in trace output; it never appears in the configured
// element_map, so it cannot be confused with a real species on replay.
const vacantSymbol = "Xv"

// WriteTraceFrame writes one extended-XYZ frame of cell to w, plus any
// vacant lattice sites: a Lattice="lx 0 0 0 ly 0 0 0 lz" comment line,
// then one line per atom. A boundary atom's species is offset by +99;
// each atom is then labelled with the element_map symbol of that
// (offset) species, or with the species number itself when no symbol
// is configured for it. An active atom whose species is in element_map
// is therefore written by symbol, not by number.
func WriteTraceFrame(w io.Writer, cell *geomx.Cell, elementMap []config.ElementMapEntry, vacant []geomx.Vec3, step int, simTime float64) error {
	table := newSymbolTable(elementMap)

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d\n", len(cell.Atoms)+len(vacant))
	fmt.Fprintf(bw, "Lattice=\"%g 0 0 0 %g 0 0 0 %g\" Properties=species:S:1:pos:R:3 step=%d time=%g\n",
		cell.Box.Lx, cell.Box.Ly, cell.Box.Lz, step, simTime)

	for _, a := range cell.Atoms {
		species := a.Colour.Species
		if a.Colour.Phase == geomx.Boundary {
			species = geomx.Species(int(species) + boundaryOffset)
		}
		symbol, ok := table.toSymbol[species]
		if !ok {
			symbol = strconv.Itoa(int(species))
		}
		fmt.Fprintf(bw, "%s %g %g %g\n", symbol, a.Pos[0], a.Pos[1], a.Pos[2])
	}
	for _, v := range vacant {
		fmt.Fprintf(bw, "%s %g %g %g\n", vacantSymbol, v[0], v[1], v[2])
	}

	return bw.Flush()
}

// TraceWriter appends successive frames to a single trajectory file.
type TraceWriter struct {
	f *os.File
}

func OpenTraceWriter(path string) (*TraceWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("xyzio: create trace file %s: %w", path, err)
	}
	return &TraceWriter{f: f}, nil
}

func (t *TraceWriter) WriteFrame(cell *geomx.Cell, elementMap []config.ElementMapEntry, vacant []geomx.Vec3, step int, simTime float64) error {
	return WriteTraceFrame(t.f, cell, elementMap, vacant, step, simTime)
}

func (t *TraceWriter) Close() error { return t.f.Close() }
