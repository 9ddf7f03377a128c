package catalog

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/nmxmxh/otfkmc/internal/assert"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"
)

// persistedDoc mirrors spec.md §6's catalogue archive contents:
// (options, total-size, map<DiscreteKey, Vec<Environment>>).
type persistedDoc struct {
	REnv     float64
	DeltaMax float64
	Size     int
	Buckets  []persistedBucket
}

type persistedBucket struct {
	CentreSpecies int
	CentrePhase   int
	HistKey       string
	Envs          []persistedEnv
}

type persistedEnv struct {
	Atoms       []persistedAtom
	Delta       float64
	DeltaMod    float64
	Freq        uint64
	RefineCount uint64
	Mechs       []persistedMech
}

type persistedAtom struct {
	X, Y, Z float64
	Species int
	Phase   int
	Backref int
}

type persistedMech struct {
	Activation float64
	Delta      float64
	Prefactor  float64
	Disp       []persistedAtom // X,Y,Z populated; Species/Phase/Backref unused
}

// Limiter throttles how often the catalogue is written to disk (spec.md
// §4.2's "persists to disk on every change" is, in practice,
// rate-limited to avoid thrashing when many sites are classified in a
// single KMC iteration). A nil *Limiter disables throttling.
type Limiter struct {
	bucket *limiter.TokenBucket
}

// NewLimiter returns a Limiter allowing at most burst saves immediately
// and then ratePerSec saves per second thereafter.
func NewLimiter(ratePerSec, burst int) (*Limiter, error) {
	s := store.NewMemoryStore(time.Minute)
	tb, err := limiter.NewTokenBucket(limiter.Config{
		Rate:     int64(ratePerSec),
		Duration: time.Second,
		Burst:    int64(burst),
	}, s)
	if err != nil {
		return nil, fmt.Errorf("catalog: rate limiter: %w", err)
	}
	return &Limiter{bucket: tb}, nil
}

// Allow reports whether a save may proceed now.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.bucket.Allow("catalogue-persist")
}

// Save writes the catalogue to path in the given format
// (binary|portable_binary|json|xml), brotli-compressing the payload at
// rest (spec.md §6 "catalogue persistence"). If limiter is non-nil and
// currently throttled, Save is a no-op returning nil.
func (c *Catalogue) Save(path, format string, lim *Limiter) error {
	if !lim.Allow() {
		return nil
	}

	c.mu.RLock()
	doc := c.snapshot()
	c.mu.RUnlock()

	payload, err := encode(doc, format)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("catalog: create %s: %w", path, err)
	}
	defer f.Close()

	bw := brotli.NewWriter(f)
	defer bw.Close()
	_, err = bw.Write(payload)
	return err
}

// Load reads and decompresses path, decodes it per format, and
// replaces the catalogue's contents. REnv and DeltaMax in the archive
// must match the currently configured values (spec.md §6: "mismatch
// aborts").
func (c *Catalogue) Load(path, format string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer f.Close()

	br := brotli.NewReader(f)
	payload, err := io.ReadAll(br)
	if err != nil {
		return fmt.Errorf("catalog: decompress %s: %w", path, err)
	}

	doc, err := decode(payload, format)
	if err != nil {
		return err
	}

	assert.Check(doc.REnv == c.opt.REnv, "catalog: loaded r_env %g does not match configured %g", doc.REnv, c.opt.REnv)
	assert.Check(doc.DeltaMax == c.opt.DeltaMax, "catalog: loaded delta_max %g does not match configured %g", doc.DeltaMax, c.opt.DeltaMax)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.restore(doc)
	return nil
}

func encode(doc persistedDoc, format string) ([]byte, error) {
	switch format {
	case "binary":
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(doc); err != nil {
			return nil, fmt.Errorf("catalog: gob encode: %w", err)
		}
		return buf.Bytes(), nil
	case "portable_binary":
		return encodeCapnp(doc)
	case "json":
		return json.Marshal(doc)
	case "xml":
		return xml.Marshal(doc)
	default:
		assert.Fail("catalog: unknown persistence format %q", format)
		return nil, nil
	}
}

func decode(payload []byte, format string) (persistedDoc, error) {
	var doc persistedDoc
	var err error
	switch format {
	case "binary":
		err = gob.NewDecoder(bytes.NewReader(payload)).Decode(&doc)
	case "portable_binary":
		doc, err = decodeCapnp(payload)
	case "json":
		err = json.Unmarshal(payload, &doc)
	case "xml":
		err = xml.Unmarshal(payload, &doc)
	default:
		assert.Fail("catalog: unknown persistence format %q", format)
	}
	if err != nil {
		return persistedDoc{}, fmt.Errorf("catalog: decode (%s): %w", format, err)
	}
	return doc, nil
}
