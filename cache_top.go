// cache_top.go - CacheTop: merges I-cache and D-cache miss streams onto one AXI master

/*
CacheTop multiplexes ICacheLru's and DCacheLru's independent miss
streams onto the single AXI master port the interconnect exposes.
Each in-flight request is tagged CTRL (I-side)
or DATA (D-side) in a depth-2 FIFO so a response can be matched back
to its issuing cache even if, in a fuller cycle-exact bus, responses
came back out of order.

This simulation models bus issue as synchronous-to-completion (see
axi.go's AXIMaster doc comment), so true same-tick contention between
two *concurrently outstanding* requests cannot arise the way it would
in a pipelined AXI fabric - only one Issue call is ever in flight at a
time. The data-side-priority rule (the D-cache wins when both caches
contend in the same tick) is honored instead via Clock registration order:
simulator.go registers the D-cache's Commit ahead of the I-cache's, so
if both resolve a miss on the same tick, the data path's bus call
happens first. The depth-2 FIFO is still populated and drained around
every Issue call so CacheTop's occupancy is observable by tests and
never exceeds 2, matching the FIFO's real depth.
*/

package river

// CachePath tags an in-flight request by which L1 cache issued it.
type CachePath int

const (
	PathCtrl CachePath = iota // I-cache
	PathData                 // D-cache
)

type cacheTopEntry struct {
	path CachePath
	addr uint64
}

// CacheTop is the shared AXI issue path for one hart's I$ and D$.
type CacheTop struct {
	bus   AXIMaster
	fifo  []cacheTopEntry
	iPort *cacheTopPort
	dPort *cacheTopPort
}

type cacheTopPort struct {
	top  *CacheTop
	path CachePath
}

func (p *cacheTopPort) Issue(req AXIRequest) (AXIResponse, error) {
	return p.top.issue(p.path, req)
}

// NewCacheTop wires both L1 issue ports onto the shared bus master
// (normally Interconnect, or an APBBridge-backed test double).
func NewCacheTop(bus AXIMaster) *CacheTop {
	ct := &CacheTop{bus: bus}
	ct.iPort = &cacheTopPort{top: ct, path: PathCtrl}
	ct.dPort = &cacheTopPort{top: ct, path: PathData}
	return ct
}

// ICachePort is the AXIMaster ICacheLru should issue misses through.
func (ct *CacheTop) ICachePort() AXIMaster { return ct.iPort }

// DCachePort is the AXIMaster DCacheLru should issue stores/misses
// through; only this path may carry write data/strobes.
func (ct *CacheTop) DCachePort() AXIMaster { return ct.dPort }

// InFlight reports the FIFO's current occupancy (always 0 or 1 given
// the synchronous issue model; never exceeds the modeled depth of 2).
func (ct *CacheTop) InFlight() int { return len(ct.fifo) }

func (ct *CacheTop) issue(path CachePath, req AXIRequest) (AXIResponse, error) {
	if req.IsWrite && path != PathData {
		return AXIResponse{}, Fatal(ErrElaboration, "CacheTop: only the D-cache path may issue writes/strobes")
	}
	if len(ct.fifo) >= 2 {
		return AXIResponse{}, Fatal(ErrElaboration, "CacheTop: FIFO overrun, more than 2 requests in flight")
	}
	ct.fifo = append(ct.fifo, cacheTopEntry{path: path, addr: req.Addr.Addr})
	resp, err := ct.bus.Issue(req)
	ct.fifo = ct.fifo[:len(ct.fifo)-1]
	return resp, err
}
