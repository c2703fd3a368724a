// icache.go - L1 instruction cache (ICacheLru)

/*
ICacheLru is built around a two-process split:
Comb always recomputes a full "v" (next) register snapshot from "r"
(the currently committed snapshot) and from read-only lookups against
TagMem/MPU, while the one side effect that isn't purely combinational
- actually issuing an AXI burst through the bus - is deferred to
Commit, which runs exactly once per tick (see clock.go). That keeps
Comb safe to re-run during the kernel's convergence loop.

The FSM walks these states:

  Idle -> CheckHit -> {CheckHit (resp_valid) | TranslateAddress ->
  WaitGrant -> WaitResp -> CheckResp -> SetupReadAdr -> CheckHit}
  FlushAddr <-> FlushCheck

WaitGrant/WaitResp are collapsed to a fixed one-tick bus latency each:
Commit performs the actual AXIMaster.Issue when the FSM is about to
leave WaitGrant, so by the tick the FSM reaches WaitResp the result is
already available to CheckResp.

A fetch that straddles a line boundary hits only when both the line
and the following line are resident; on a partial hit the refill
targets whichever of the two lines is missing. Cacheable refills fill
a victim way; non-cacheable fetches read a 16-byte window and answer
directly without installing anything, so device memory is never
aliased into the cache.
*/

package river

type ICacheState int

const (
	ICIdle ICacheState = iota
	ICCheckHit
	ICTranslateAddress
	ICWaitGrant
	ICWaitResp
	ICCheckResp
	ICSetupReadAdr
	ICFlushAddr
	ICFlushCheck
)

// uncachedFetchBytes is the window a non-cacheable instruction fetch
// reads per miss (ReadNoSnoop of 2^4 bytes).
const uncachedFetchBytes = 16

// ICacheRequest is the fetch-stage request port.
type ICacheRequest struct {
	Valid bool
	Addr  uint64
}

// ICacheResponse is the fetch-stage response port. Valid is only
// asserted for exactly the tick after a hit or a completed miss
// refill; it does not stay asserted. Addr echoes the request so the
// pipeline can discard a response that belongs to a superseded fetch
// (e.g. after an interrupt redirect).
type ICacheResponse struct {
	Valid     bool
	Addr      uint64
	Data      uint32
	LoadFault bool
	MPUFault  bool
	FaultAddr uint64
}

// FlushRequest is icache.go/dcache.go's shared flush port shape: a
// single address to invalidate, or the whole cache when All is set.
type FlushRequest struct {
	Valid bool
	Addr  uint64
	All   bool
}

type icacheRegs struct {
	state ICacheState
	addr  uint64

	// refillAddr is the address whose line is actually being fetched:
	// equal to addr on a plain miss, or the next line's base when only
	// the straddled-into line is missing.
	refillAddr uint64
	cacheable  bool

	missData  []byte
	loadFault bool
	mpuFault  bool

	resp ICacheResponse

	flushSet int
}

// ICacheLru is the L1 instruction cache.
type ICacheLru struct {
	cfg  CacheConfig
	tags *TagMem
	mpu  *MPU
	bus  AXIMaster

	req   ICacheRequest
	flush FlushRequest

	r, v icacheRegs
}

// NewICacheLru elaborates an instruction cache of the given geometry
// against mpu (for executability checks) and bus (its AXI issue
// path - normally a CacheTop, see cache_top.go).
func NewICacheLru(cfg CacheConfig, mpu *MPU, bus AXIMaster) (*ICacheLru, error) {
	tags, err := NewTagMem(cfg)
	if err != nil {
		return nil, err
	}
	ic := &ICacheLru{cfg: cfg, tags: tags, mpu: mpu, bus: bus}
	ic.tags.InvalidateAll()
	return ic, nil
}

// SetRequest drives the fetch-stage request port for this tick.
func (ic *ICacheLru) SetRequest(req ICacheRequest) { ic.req = req }

// SetFlush drives the flush request port for this tick.
func (ic *ICacheLru) SetFlush(f FlushRequest) { ic.flush = f }

// Response returns the response port's value as of the last commit.
func (ic *ICacheLru) Response() ICacheResponse { return ic.r.resp }

func allOnes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xFF
	}
	return b
}

func readWord32(line []byte, off uint64) uint32 {
	off &= uint64(len(line) - 1)
	var w uint32
	for i := 0; i < 4 && int(off)+i < len(line); i++ {
		w |= uint32(line[int(off)+i]) << (8 * i)
	}
	return w
}

// straddlesLine reports whether a 4-byte fetch at addr crosses into
// the following cache line.
func (ic *ICacheLru) straddlesLine(addr uint64) bool {
	off := addr - ic.cfg.LineBase(addr)
	return off+4 > uint64(ic.cfg.LineBytes())
}

// fetchWord gathers the 4 instruction bytes starting at addr from the
// resident line(s). Callers guarantee every byte's line hits.
func (ic *ICacheLru) fetchWord(addr uint64) uint32 {
	var w uint32
	for i := 0; i < 4; i++ {
		a := addr + uint64(i)
		set := ic.cfg.SetIndex(a)
		way, hit := ic.tags.Lookup(set, ic.cfg.Tag(a))
		if !hit {
			break
		}
		off := a - ic.cfg.LineBase(a)
		w |= uint32(ic.tags.Line(set, way).Data[off]) << (8 * i)
	}
	return w
}

func (ic *ICacheLru) Comb() {
	ic.v = ic.r
	ic.v.resp = ICacheResponse{}

	if ic.flush.Valid && ic.r.state == ICIdle {
		if ic.flush.All {
			ic.v.state = ICFlushAddr
			ic.v.flushSet = 0
		} else {
			set := ic.cfg.SetIndex(ic.flush.Addr)
			tag := ic.cfg.Tag(ic.flush.Addr)
			if way, hit := ic.tags.Lookup(set, tag); hit {
				ic.tags.Invalidate(set, way)
			}
		}
		return
	}

	switch ic.r.state {
	case ICIdle:
		if ic.req.Valid {
			ic.v.addr = ic.req.Addr
			ic.v.state = ICCheckHit
		}

	case ICCheckHit:
		set := ic.cfg.SetIndex(ic.v.addr)
		tag := ic.cfg.Tag(ic.v.addr)
		way, hit := ic.tags.Lookup(set, tag)

		nextBase := ic.cfg.LineBase(ic.v.addr) + uint64(ic.cfg.LineBytes())
		nextHit := true
		if ic.straddlesLine(ic.v.addr) {
			_, nextHit = ic.tags.Lookup(ic.cfg.SetIndex(nextBase), ic.cfg.Tag(nextBase))
		}

		switch {
		case hit && nextHit:
			ic.tags.Touch(set, way)
			ic.v.resp = ICacheResponse{Valid: true, Addr: ic.v.addr, Data: ic.fetchWord(ic.v.addr)}
			ic.v.state = ICIdle
		case hit:
			// only the straddled-into line is missing
			ic.v.refillAddr = nextBase
			ic.v.state = ICTranslateAddress
		default:
			ic.v.refillAddr = ic.v.addr
			ic.v.state = ICTranslateAddress
		}

	case ICTranslateAddress:
		flags := ic.mpu.Lookup(ic.v.refillAddr)
		if !flags.Exec {
			ic.v.loadFault = true
			ic.v.mpuFault = true
			ic.v.missData = allOnes(ic.cfg.LineBytes())
			ic.v.state = ICCheckResp
		} else {
			ic.v.cacheable = flags.Cacheable
			ic.v.loadFault = false
			ic.v.mpuFault = false
			ic.v.state = ICWaitGrant
		}

	case ICWaitGrant:
		ic.v.state = ICWaitResp // Commit performs the actual bus issue

	case ICWaitResp:
		ic.v.state = ICCheckResp

	case ICCheckResp:
		switch {
		case ic.v.loadFault:
			ic.v.resp = ICacheResponse{Valid: true, Addr: ic.v.addr, LoadFault: true, MPUFault: ic.v.mpuFault, FaultAddr: ic.v.addr}
			ic.v.state = ICIdle
		case !ic.v.cacheable:
			ic.v.resp = ICacheResponse{Valid: true, Addr: ic.v.addr, Data: readWord32(ic.v.missData, ic.v.addr&(busBytes-1))}
			ic.v.state = ICIdle
		default:
			set := ic.cfg.SetIndex(ic.v.refillAddr)
			way := ic.tags.Victim(set)
			ic.tags.Fill(set, way, ic.cfg.Tag(ic.v.refillAddr), ic.v.missData,
				MPUFlags{Cacheable: true, Exec: true})
			ic.v.state = ICSetupReadAdr
		}

	case ICSetupReadAdr:
		ic.v.state = ICCheckHit

	case ICFlushAddr:
		if ic.v.flushSet >= ic.tags.Sets() {
			ic.v.state = ICIdle
		} else {
			ic.v.state = ICFlushCheck
		}

	case ICFlushCheck:
		for w := 0; w < ic.tags.Ways(); w++ {
			ic.tags.Invalidate(ic.v.flushSet, w)
		}
		ic.v.flushSet++
		ic.v.state = ICFlushAddr
	}
}

func (ic *ICacheLru) Commit() {
	if ic.r.state == ICWaitGrant && ic.v.state == ICWaitResp {
		var base uint64
		var beats int
		snoop := ArSnoopReadShared
		cache := uint8(CacheWriteBackAlloc)
		if ic.v.cacheable {
			base = ic.cfg.LineBase(ic.v.refillAddr)
			beats = ic.cfg.LineBytes() / busBytes
		} else {
			snoop = ArSnoopReadNoSnoop
			cache = CacheDevice
			base = ic.v.refillAddr &^ (busBytes - 1)
			beats = uncachedFetchBytes / busBytes
		}
		if beats < 1 {
			beats = 1
		}
		req := AXIRequest{
			Addr: AXIAddr{
				Addr:  base,
				Len:   uint8(beats - 1),
				Size:  busSizeLog2,
				Burst: BurstIncr,
				Snoop: uint8(snoop),
				Cache: cache,
			},
		}
		resp, err := ic.bus.Issue(req)
		if err != nil || anyRBeatFaulted(resp.RData) {
			ic.v.loadFault = true
			ic.v.missData = allOnes(ic.cfg.LineBytes())
		} else {
			ic.v.missData = assembleLine(resp.RData, beats*busBytes)
		}
	}
	ic.r = ic.v
}

func anyRBeatFaulted(beats []RBeat) bool {
	for _, b := range beats {
		if b.Resp == RespDECERR || b.Resp == RespSLVERR {
			return true
		}
	}
	return false
}

func assembleLine(beats []RBeat, lineBytes int) []byte {
	out := make([]byte, lineBytes)
	pos := 0
	for _, b := range beats {
		for i := 0; i < busBytes && pos < lineBytes; i++ {
			out[pos] = b.Data[i]
			pos++
		}
	}
	return out
}

// Reset invalidates every line, sweeping every set and way the way
// the hardware reset state machine does.
func (ic *ICacheLru) Reset() {
	ic.tags.InvalidateAll()
	ic.r = icacheRegs{}
	ic.v = icacheRegs{}
}
