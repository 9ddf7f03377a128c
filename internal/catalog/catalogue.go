package catalog

import (
	"math"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/nmxmxh/otfkmc/internal/assert"
	"github.com/nmxmxh/otfkmc/internal/geomx"
	"github.com/nmxmxh/otfkmc/internal/otflog"
)

// EnvID is a handle to an Environment: a bucket id plus an offset into
// that bucket's slice (spec.md §9 design note, replacing the
// original's map-iterator-plus-offset Pointer). It is only valid until
// the next call to Optimize, which re-sorts buckets in place.
type EnvID struct {
	Bucket geomx.CanonKey
	Offset int
}

// Catalogue maps DiscreteKey to a bucket of Environment (spec.md §3,
// §4.2). All mutating methods must be called from a single goroutine
// between parallel search batches (spec.md §5: "the catalogue is
// mutable only on the main thread between parallel batches").
type Catalogue struct {
	mu      sync.RWMutex
	opt     Options
	buckets map[geomx.CanonKey][]*Environment
	size    int
	filter  *bloom.BloomFilter
	log     *otflog.Logger
}

// New returns an empty Catalogue configured with opt.
func New(opt Options, log *otflog.Logger) *Catalogue {
	if log == nil {
		log = otflog.Default("catalog")
	}
	return &Catalogue{
		opt:     opt,
		buckets: make(map[geomx.CanonKey][]*Environment),
		filter:  newDefaultFilter(),
		log:     log,
	}
}

func newDefaultFilter() *bloom.BloomFilter {
	return bloom.NewWithEstimates(1<<20, 0.01)
}

// Size returns the total number of environments across all buckets.
func (c *Catalogue) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

// NumKeys returns the number of distinct DiscreteKey buckets.
func (c *Catalogue) NumKeys() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.buckets)
}

// Env resolves a handle to its Environment. Panics if the handle's
// bucket has been invalidated by Optimize and re-used inconsistently;
// callers that hold handles across an Optimize call are themselves at
// fault, per spec.md §4.2.
func (c *Catalogue) Env(id EnvID) *Environment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bucket := c.buckets[id.Bucket]
	assert.Check(id.Offset >= 0 && id.Offset < len(bucket), "catalog: EnvID offset out of range (handle invalidated by Optimize?)")
	return bucket[id.Offset]
}

// bloomKey is keyed on bucket identity alone. Two delta-equivalent
// geometries can differ in each fingerprint distance by up to
// sqrt(2)*delta, far more than any quantization step the filter could
// use, so distances cannot be folded into the key without turning a
// genuine fuzzy match into a false negative.
func bloomKey(key geomx.DiscreteKey) []byte {
	return key.Canon().Bytes()
}

// CanonTryEmplace finds or creates the bucket for geo's DiscreteKey,
// linearly searches it for a fuzzy-equivalent reference (LinearSearch),
// and on miss inserts geo as a freshly canonicalised Environment with
// delta = opt.DeltaMax (spec.md §4.2).
func (c *Catalogue) CanonTryEmplace(geo *geomx.Geometry) (id EnvID, isNew bool) {
	key := geo.DiscreteKey()
	canon := key.Canon()

	c.mu.Lock()
	defer c.mu.Unlock()

	bucket := c.buckets[canon]

	if off, ok := c.linearSearch(bucket, geo); ok {
		bucket[off].Freq++
		return EnvID{Bucket: canon, Offset: off}, false
	}

	env := &Environment{
		Reference: geo,
		Delta:     c.opt.DeltaMax,
		DeltaMod:  1.0,
		Freq:      1,
	}
	c.buckets[canon] = append(bucket, env)
	c.size++
	c.filter.Add(bloomKey(key))
	return EnvID{Bucket: canon, Offset: len(c.buckets[canon]) - 1}, true
}

// CanonUpdate runs CanonTryEmplace for every (key geometry) pair and
// reports which sites were first seen this call (spec.md §4.2).
func (c *Catalogue) CanonUpdate(geos []*geomx.Geometry) (ids []EnvID, newSiteIndices []int) {
	ids = make([]EnvID, len(geos))
	for i, geo := range geos {
		id, isNew := c.CanonTryEmplace(geo)
		ids[i] = id
		if isNew {
			newSiteIndices = append(newSiteIndices, i)
		}
	}
	return ids, newSiteIndices
}

// TryCanon is the read-only variant of CanonUpdate: it does not insert
// anything and reports false if any site has no matching environment.
func (c *Catalogue) TryCanon(geos []*geomx.Geometry) ([]EnvID, bool) {
	ids := make([]EnvID, len(geos))
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i, geo := range geos {
		key := geo.DiscreteKey().Canon()
		bucket := c.buckets[key]
		off, ok := c.linearSearch(bucket, geo)
		if !ok {
			return nil, false
		}
		ids[i] = EnvID{Bucket: key, Offset: off}
	}
	return ids, true
}

// linearSearch implements spec.md §4.2's first-match / best-match
// bucket scan. Caller must hold c.mu.
func (c *Catalogue) linearSearch(bucket []*Environment, geo *geomx.Geometry) (int, bool) {
	key := geo.DiscreteKey()
	if len(bucket) > 0 && !c.filter.Test(bloomKey(key)) {
		// A negative is a guaranteed miss: every existing environment of
		// this bucket was added to the filter, so a clean negative means
		// no prior reference can fuzzy-match.
		return 0, false
	}

	if c.opt.MatchBest {
		return c.bestMatch(bucket, geo)
	}
	return c.firstMatch(bucket, geo)
}

func (c *Catalogue) firstMatch(bucket []*Environment, geo *geomx.Geometry) (int, bool) {
	for i, env := range bucket {
		delta := c.testDelta(env, geo.Fingerprint())
		if !env.Reference.Fingerprint().Equiv(geo.Fingerprint(), math.Sqrt2*delta) {
			continue
		}
		if _, _, ok := geo.PermuteOnto(env.Reference, delta); ok {
			return i, true
		}
	}
	return 0, false
}

func (c *Catalogue) bestMatch(bucket []*Environment, geo *geomx.Geometry) (int, bool) {
	best := -1
	bestNorm := math.Inf(1)
	for i, env := range bucket {
		norm := env.Reference.Fingerprint().ChebyshevNorm(geo.Fingerprint())
		if norm < bestNorm {
			bestNorm = norm
			best = i
		}
	}
	if best < 0 {
		return 0, false
	}
	delta := c.testDelta(bucket[best], geo.Fingerprint())
	if _, _, ok := geo.PermuteOnto(bucket[best].Reference, delta); ok {
		return best, true
	}
	return 0, false
}

// testDelta computes min(0.4*env.DeltaMod*r_min, delta_max), the
// adaptive match radius of spec.md §4.2. When r_min is undefined (a
// single-atom geometry, whose fingerprint holds no distances) it falls
// back to the environment's stored Delta.
func (c *Catalogue) testDelta(env *Environment, f geomx.Fingerprint) float64 {
	rMin := math.Min(env.Reference.Fingerprint().RMin, f.RMin)
	if rMin <= 0 {
		return env.Delta
	}
	d := 0.4 * env.DeltaMod * rMin
	if d > c.opt.DeltaMax {
		d = c.opt.DeltaMax
	}
	return d
}

// Optimize sorts each bucket by descending frequency. Any EnvID handle
// obtained before this call is invalidated (spec.md §4.2).
func (c *Catalogue) Optimize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, bucket := range c.buckets {
		sortByFreqDesc(bucket)
	}
	c.log.Debug("catalogue optimized", otflog.Int("keys", len(c.buckets)), otflog.Int("size", c.size))
}

func sortByFreqDesc(bucket []*Environment) {
	for i := 1; i < len(bucket); i++ {
		for j := i; j > 0 && bucket[j].Freq > bucket[j-1].Freq; j-- {
			bucket[j], bucket[j-1] = bucket[j-1], bucket[j]
		}
	}
}

// ResetCounts zeros every environment's frequency counter.
func (c *Catalogue) ResetCounts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, bucket := range c.buckets {
		for _, env := range bucket {
			env.Freq = 0
		}
	}
}
