package geomx

import "sort"

// histEntry is one (colour, count) pair of a DiscreteKey's histogram,
// kept as a sorted slice rather than a raw map so that Less is a
// well-defined strict weak order independent of map iteration order.
type histEntry struct {
	Colour Colour
	Count  int
}

// DiscreteKey is the coarse, histogram-based catalogue bucketing key
// (spec.md §3): the centre colour plus a colour->count histogram of
// the whole geometry.
type DiscreteKey struct {
	CentreColour Colour
	hist         []histEntry
}

// NewDiscreteKey builds a DiscreteKey from a centre colour and a
// colour histogram, canonicalising the histogram into sorted order.
func NewDiscreteKey(centre Colour, histogram map[Colour]int) DiscreteKey {
	entries := make([]histEntry, 0, len(histogram))
	for c, n := range histogram {
		if n == 0 {
			continue
		}
		entries = append(entries, histEntry{Colour: c, Count: n})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Colour.Less(entries[j].Colour) })
	return DiscreteKey{CentreColour: centre, hist: entries}
}

// Histogram materialises the key's histogram back into a map.
func (k DiscreteKey) Histogram() map[Colour]int {
	m := make(map[Colour]int, len(k.hist))
	for _, e := range k.hist {
		m[e.Colour] = e.Count
	}
	return m
}

// Less implements the strict weak order spec.md §3 requires:
// lexicographic on (centre_colour, histogram).
func (k DiscreteKey) Less(o DiscreteKey) bool {
	if k.CentreColour != o.CentreColour {
		return k.CentreColour.Less(o.CentreColour)
	}
	n := len(k.hist)
	if len(o.hist) < n {
		n = len(o.hist)
	}
	for i := 0; i < n; i++ {
		if k.hist[i].Colour != o.hist[i].Colour {
			return k.hist[i].Colour.Less(o.hist[i].Colour)
		}
		if k.hist[i].Count != o.hist[i].Count {
			return k.hist[i].Count < o.hist[i].Count
		}
	}
	return len(k.hist) < len(o.hist)
}

// Equal reports exact histogram/centre equality, used as the
// map[DiscreteKey] comparability (DiscreteKey is a valid Go map key
// since its only field is a fixed-size Colour and a slice... except
// slices aren't comparable, so canonical string form below backs map
// usage instead).
func (k DiscreteKey) Equal(o DiscreteKey) bool {
	if k.CentreColour != o.CentreColour || len(k.hist) != len(o.hist) {
		return false
	}
	for i := range k.hist {
		if k.hist[i] != o.hist[i] {
			return false
		}
	}
	return true
}

// Canon returns a comparable, hashable representation of the key
// suitable for use as a Go map key (DiscreteKey itself holds a slice
// and so is not comparable).
func (k DiscreteKey) Canon() CanonKey {
	return CanonKey{CentreColour: k.CentreColour, packed: packHist(k.hist)}
}

// CanonKey is the comparable form of DiscreteKey used as the
// catalogue's actual map key type.
type CanonKey struct {
	CentreColour Colour
	packed       string
}

// Bytes returns a byte encoding of the key suitable for hashing (e.g.
// into a bloom filter prefilter); not meant to be human-readable or
// stable across releases.
func (k CanonKey) Bytes() []byte {
	b := make([]byte, 0, len(k.packed)+2)
	b = append(b, byte(k.CentreColour.Species), byte(k.CentreColour.Phase))
	return append(b, k.packed...)
}

func packHist(hist []histEntry) string {
	b := make([]byte, 0, len(hist)*3)
	for _, e := range hist {
		b = append(b, byte(e.Colour.Species), byte(e.Colour.Phase), byte(e.Count), byte(e.Count>>8))
	}
	return string(b)
}
