// tagmem.go - Coupled tag+data RAM with tree pseudo-LRU replacement

/*
TagMem models the per-way tag and data RAM that both L1 caches are
built from. It owns no clock-kernel Signals itself - icache.go/dcache.go's
own FSMs are the clocked processes; TagMem is a plain synchronous-RAM
abstraction they drive directly from their Comb/Commit methods, a
leaf SRAM wrapped by the cache FSM above it.

Victim selection uses a binary pseudo-LRU tree: ways-1 bits per set,
one bit per internal tree node. At most one way per tag can ever be
valid, and the tree walk is fully deterministic in place of a true LRU
counter.
*/

package river

// CacheConfig describes one L1 cache's fixed geometry: 2^SetBits
// lines per way, Ways ways, line size 2^LineBits bytes.
type CacheConfig struct {
	Ways     int
	SetBits  int
	LineBits int
}

func (c CacheConfig) Sets() int      { return 1 << c.SetBits }
func (c CacheConfig) LineBytes() int { return 1 << c.LineBits }

func (c CacheConfig) SetIndex(addr uint64) int {
	return int((addr >> uint(c.LineBits)) & uint64(c.Sets()-1))
}

func (c CacheConfig) Tag(addr uint64) uint64 {
	return addr >> uint(c.LineBits+c.SetBits)
}

func (c CacheConfig) LineBase(addr uint64) uint64 {
	return addr &^ (uint64(c.LineBytes()) - 1)
}

// CacheLine is one way's worth of storage in one set.
type CacheLine struct {
	Tag        uint64
	Valid      bool
	Shared     bool
	Modified   bool
	Reserved   bool
	Executable bool
	Cacheable  bool
	Data       []byte
}

type cacheSet struct {
	ways []CacheLine
	plru []bool // len = Ways-1
}

// TagMem is the set-associative storage for one cache.
type TagMem struct {
	cfg  CacheConfig
	sets []cacheSet
}

// NewTagMem builds a tag memory for cfg. Ways must be a power of two;
// this is checked at elaboration, not at simulation time.
func NewTagMem(cfg CacheConfig) (*TagMem, error) {
	if cfg.Ways <= 0 || cfg.Ways&(cfg.Ways-1) != 0 {
		return nil, Fatal(ErrElaboration, "cache ways must be a power of two, got %d", cfg.Ways)
	}
	tm := &TagMem{cfg: cfg}
	tm.sets = make([]cacheSet, cfg.Sets())
	for i := range tm.sets {
		tm.sets[i].ways = make([]CacheLine, cfg.Ways)
		tm.sets[i].plru = make([]bool, cfg.Ways-1)
		for w := range tm.sets[i].ways {
			tm.sets[i].ways[w].Data = make([]byte, cfg.LineBytes())
		}
	}
	return tm, nil
}

func log2Int(n int) int {
	l := 0
	for (1 << l) < n {
		l++
	}
	return l
}

// plruTouch marks way w as most-recently-used in the given set's
// tree: every internal node on the path to w is pointed away from w,
// so the next victim search avoids it.
func plruTouch(bits []bool, ways, w int) {
	levels := log2Int(ways)
	node := 0
	for l := 0; l < levels; l++ {
		dir := (w >> uint(levels-1-l)) & 1
		bits[node] = dir == 0 // point the LRU pointer at the *other* subtree
		node = node*2 + 1 + dir
	}
}

// plruVictim follows the tree's LRU pointers down to a leaf way.
func plruVictim(bits []bool, ways int) int {
	levels := log2Int(ways)
	node, way := 0, 0
	for l := 0; l < levels; l++ {
		dir := 0
		if bits[node] {
			dir = 1
		}
		way = way*2 + dir
		node = node*2 + 1 + dir
	}
	return way
}

// Lookup returns the way holding tag in set, if any.
func (tm *TagMem) Lookup(set int, tag uint64) (way int, hit bool) {
	for w, line := range tm.sets[set].ways {
		if line.Valid && line.Tag == tag {
			return w, true
		}
	}
	return 0, false
}

// Touch updates the set's pseudo-LRU state for a hit or a fill on way.
func (tm *TagMem) Touch(set, way int) {
	plruTouch(tm.sets[set].plru, tm.cfg.Ways, way)
}

// Victim picks a way to evict in set: an invalid way if one exists
// (it always wins over evicting a valid line), else the pseudo-LRU
// choice.
func (tm *TagMem) Victim(set int) int {
	for w, line := range tm.sets[set].ways {
		if !line.Valid {
			return w
		}
	}
	return plruVictim(tm.sets[set].plru, tm.cfg.Ways)
}

// Fill installs a freshly-fetched line into set/way and marks it MRU.
func (tm *TagMem) Fill(set, way int, tag uint64, data []byte, flags MPUFlags) {
	line := &tm.sets[set].ways[way]
	line.Tag = tag
	line.Valid = true
	line.Shared = false
	line.Modified = false
	line.Reserved = false
	line.Executable = flags.Exec
	line.Cacheable = flags.Cacheable
	copy(line.Data, data)
	tm.Touch(set, way)
}

// Invalidate clears set/way without touching LRU state (an
// invalidated way should be picked again immediately, which leaving
// plru alone and relying on the "invalid way always wins" rule
// already guarantees).
func (tm *TagMem) Invalidate(set, way int) {
	tm.sets[set].ways[way] = CacheLine{Data: tm.sets[set].ways[way].Data}
	for i := range tm.sets[set].ways[way].Data {
		tm.sets[set].ways[way].Data[i] = 0
	}
}

// InvalidateAll sweeps every (set,way), modeling the FSM's Reset and
// full Flush sweeps.
func (tm *TagMem) InvalidateAll() {
	for s := range tm.sets {
		for w := range tm.sets[s].ways {
			tm.Invalidate(s, w)
		}
	}
}

// Line returns a pointer to the stored line for direct read/modify by
// the owning cache (hit-path word extraction, store byte-strobe
// writes, snoop responses).
func (tm *TagMem) Line(set, way int) *CacheLine {
	return &tm.sets[set].ways[way]
}

// Sets returns the configured set count, used by callers that sweep
// every set (flush-all, reset).
func (tm *TagMem) Sets() int { return tm.cfg.Sets() }

// Ways returns the configured way count.
func (tm *TagMem) Ways() int { return tm.cfg.Ways }
