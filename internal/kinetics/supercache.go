package kinetics

import (
	"math/rand"

	"github.com/nmxmxh/otfkmc/internal/catalog"
	"github.com/nmxmxh/otfkmc/internal/config"
	"github.com/nmxmxh/otfkmc/internal/geomx"
	"github.com/nmxmxh/otfkmc/internal/otflog"
)

// dormantNode is one slot of the dormant-superbasin cache's recency
// list, adapted from kernel/threads/pattern/storage.go's LRUNode
// (there a doubly linked list of pattern ids; here of whole
// *Superbasin values, pushed at the front and evicted from the back).
type dormantNode struct {
	sb         *Superbasin
	prev, next *dormantNode
}

// dormantCache is a bounded most-recent-first list of superbasins the
// driver has wandered away from via a high-barrier jump, kept in case
// it wanders back (spec.md §4.8). Structurally this is
// kernel/threads/pattern/storage.go's LRUList, generalised from a
// map[uint64]*LRUNode of pattern ids to a plain push-front/pop-back
// list of superbasins (the original never "touches" a cached
// superbasin to reorder it, only searches it and, on a hit, removes
// it entirely via SuperCache.connect_via, so there is no Touch here).
type dormantCache struct {
	head, tail *dormantNode
	size       int
	cap        int
}

func newDormantCache(capacity int) *dormantCache {
	return &dormantCache{cap: capacity}
}

func (c *dormantCache) pushFront(sb *Superbasin) {
	n := &dormantNode{sb: sb}
	if c.head != nil {
		n.next = c.head
		c.head.prev = n
	} else {
		c.tail = n
	}
	c.head = n
	c.size++

	if c.size > c.cap {
		c.popBack()
	}
}

func (c *dormantCache) popBack() {
	if c.tail == nil {
		return
	}
	old := c.tail
	c.tail = old.prev
	if c.tail != nil {
		c.tail.next = nil
	} else {
		c.head = nil
	}
	c.size--
}

func (c *dormantCache) remove(n *dormantNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	c.size--
}

// findOccupy scans the cache for a superbasin whose current basin
// matches state, removing and returning it on a hit (spec.md §4.8:
// "followed high-barrier out of basin... retrieve cached SB").
func (c *dormantCache) findOccupy(state []geomx.Vec3, tol float64) *Superbasin {
	for n := c.head; n != nil; n = n.next {
		if _, ok := n.sb.FindOccupy(state, tol); ok {
			c.remove(n)
			return n.sb
		}
	}
	return nil
}

func (c *dormantCache) clear() { c.head, c.tail, c.size = nil, nil, 0 }

// SuperCache manages the single occupied Superbasin plus a recency
// cache of dormant ones, and holds the basin-construction parameters
// needed to build a fresh Basin/Superbasin on demand (spec.md §4.8).
type SuperCache struct {
	opt config.Kinetics
	cat *catalog.Catalogue
	log *otflog.Logger

	sb         *Superbasin
	cache      *dormantCache
	inCacheRun int
	barrierTol float64
}

// NewSuperCache seeds the cache with an initial Superbasin built
// around cell/envs.
func NewSuperCache(opt config.Kinetics, cat *catalog.Catalogue, cell *geomx.Cell, envs []catalog.EnvID, log *otflog.Logger) *SuperCache {
	if log == nil {
		log = otflog.Default("kinetics.supercache")
	}
	cacheSize := opt.CacheSize
	if cacheSize <= 0 {
		cacheSize = 8
	}
	sc := &SuperCache{
		opt:        opt,
		cat:        cat,
		log:        log,
		cache:      newDormantCache(cacheSize),
		barrierTol: opt.BarrierTol,
	}
	basin := NewBasin(cat, cell, envs, opt.Temperature, opt.MaxBarrier)
	sc.sb = NewSuperbasin(basin)
	return sc
}

func (sc *SuperCache) Size() int { return 1 + sc.cache.size }

// At returns basin i of the currently occupied superbasin.
func (sc *SuperCache) At(i int) *Basin { return sc.sb.At(i) }

// CurrentState returns the reference state of the currently occupied
// basin (spec.md §4.9 step 2: "on basin_changed, overwrite the
// supercell's active atoms with the newly-occupied basin's state").
func (sc *SuperCache) CurrentState() []geomx.Vec3 { return sc.sb.Current().State() }

// SelectMech chooses a mechanism via n-fold-way if the occupied basin
// is not yet linked into a superbasin, otherwise via the modified
// mean-rate method (spec.md §4.8's select_mech).
func (sc *SuperCache) SelectMech(rng *rand.Rand) (Choice, error) {
	if sc.sb.Current().Connected {
		return sc.sb.KMCChoice(rng)
	}
	return sc.sb.Current().KMCChoice(rng, sc.sb.Occupied())
}

// ConnectVia implements spec.md §4.8's connect_via state machine: the
// system followed mechanism mech out of the occupied basin into cell's
// new state; depending on whether that state is already known inside
// the occupied superbasin, a low-barrier neighbour, a cached
// superbasin, or genuinely new, update the occupied superbasin (and
// its dynamic barrier_tol) accordingly.
func (sc *SuperCache) ConnectVia(mech int, cell *geomx.Cell, envs []catalog.EnvID) {
	state := cell.ActivePositions()

	if prev, ok := sc.sb.FindOccupy(state, sc.opt.StateTol); ok {
		sc.sb.ConnectFrom(prev, mech)
		sc.log.Debug("existing basin in superbasin", otflog.Int("size", sc.sb.Size()))
		return
	}

	barrier := sc.sb.Current().At(mech).Barrier

	if barrier < sc.barrierTol {
		dyn := sc.opt.DynamicTol
		if dyn != nil && sc.sb.Size() >= dyn.MaxSbSize {
			sc.barrierTol = max(0, sc.barrierTol*dyn.Shrink)
			sc.resetOccupied(cell, envs)
			sc.cache.clear()
			sc.log.Info("dynamically shrinking barrier_tol", otflog.Float64("barrier_tol", sc.barrierTol))
			return
		}
		basin := NewBasin(sc.cat, cell, envs, sc.opt.Temperature, sc.opt.MaxBarrier)
		prev := sc.sb.ExpandOccupy(basin)
		sc.sb.ConnectFrom(prev, mech)
		sc.log.Debug("new basin in superbasin", otflog.Int("size", sc.sb.Size()))
		return
	}

	// Followed a high-barrier mechanism out of the occupied superbasin.
	if cached := sc.cache.findOccupy(state, sc.opt.StateTol); cached != nil {
		sc.log.Info("loaded cached superbasin", otflog.Int("size", cached.Size()))
		sc.cache.pushFront(sc.sb)
		sc.sb = cached
		sc.inCacheRun++
	} else {
		sc.log.Info("new superbasin", otflog.Int("size", sc.Size()))
		sc.cache.pushFront(sc.sb)
		sc.resetOccupied(cell, envs)
		sc.inCacheRun = 0
	}

	if dyn := sc.opt.DynamicTol; dyn != nil && sc.inCacheRun > sc.cache.cap {
		sc.barrierTol *= dyn.Grow
		sc.resetOccupied(cell, envs)
		sc.cache.clear()
		sc.log.Info("dynamically growing barrier_tol", otflog.Float64("barrier_tol", sc.barrierTol))
	}
}

func (sc *SuperCache) resetOccupied(cell *geomx.Cell, envs []catalog.EnvID) {
	basin := NewBasin(sc.cat, cell, envs, sc.opt.Temperature, sc.opt.MaxBarrier)
	sc.sb = NewSuperbasin(basin)
}

