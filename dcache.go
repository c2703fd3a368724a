// dcache.go - L1 data cache (DCacheLru)

/*
DCacheLru shares ICacheLru's tag-memory/pseudo-LRU skeleton but adds:

  - byte-strobed stores instead of read-only fetches,
  - an LR/SC reservation register backing atomic load-reserve/
    store-conditional,
  - a coherence snoop port that a second hart's cache probes through
    the interconnect for dual-cache coherence,
  - WriteLineUnique issue before any line can be written (stores are
    pushed through to memory even on a hit, so the backing store and
    every peer cache observe them at tick granularity), WriteBack of a
    dirty victim ahead of its eviction, and store-fault propagation
    alongside load-fault.

The main request FSM follows the same Idle/CheckHit/miss-refill shape
as ICacheLru; see icache.go's header comment for the two-process
Comb/Commit split this file reuses. Non-cacheable accesses never
allocate: a device load is a single narrow beat at the word containing
the address, a device store is the strobed write beat alone, so
register files with read side effects are touched exactly once per
architectural access.
*/

package river

// DCacheRequest is the memaccess-stage request port.
type DCacheRequest struct {
	Valid   bool
	Addr    uint64
	IsWrite bool
	Data    uint32
	Strb    uint8 // one bit per byte of Data actually written
	IsLR    bool  // load-reserved
	IsSC    bool  // store-conditional
}

// DCacheResponse is the memaccess-stage response port. Addr echoes the
// request so the pipeline can discard a stale response.
type DCacheResponse struct {
	Valid      bool
	Addr       uint64
	Data       uint32
	LoadFault  bool
	StoreFault bool
	MPUFault   bool
	FaultAddr  uint64
	SCFailed   bool
}

// SnoopRequest is driven by the interconnect on behalf of another
// hart's cache (or a DMA write) probing this cache for a line.
type SnoopRequest struct {
	Valid      bool
	Addr       uint64
	Invalidate bool // AcSnoopMakeInvalid vs AcSnoopReadUnique
}

// SnoopResponse reports whether this cache holds the probed line.
type SnoopResponse struct {
	Held     bool
	Data     []byte
	Modified bool
}

type dcacheRegs struct {
	state ICacheState // reuses ICacheState's enum; dcache drives the same named states

	addr    uint64
	isWrite bool
	wdata   uint32
	strb    uint8
	isLR    bool
	isSC    bool

	set       int
	way       int
	isUpgrade bool // write hit on a Shared line gaining exclusivity; reuse way, don't re-Victim
	cacheable bool

	// wtPending asks Commit to push a hit-path store through to the
	// backing memory this tick.
	wtPending bool

	missData   []byte
	loadFault  bool
	storeFault bool
	mpuFault   bool

	resp DCacheResponse

	resAddr  uint64
	resValid bool

	flushSet int
}

// DCacheLru is the L1 data cache.
type DCacheLru struct {
	cfg  CacheConfig
	tags *TagMem
	mpu  *MPU
	bus  AXIMaster

	req   DCacheRequest
	flush FlushRequest
	snoop SnoopRequest

	snoopResp SnoopResponse

	r, v dcacheRegs
}

// NewDCacheLru elaborates a data cache of the given geometry.
func NewDCacheLru(cfg CacheConfig, mpu *MPU, bus AXIMaster) (*DCacheLru, error) {
	tags, err := NewTagMem(cfg)
	if err != nil {
		return nil, err
	}
	dc := &DCacheLru{cfg: cfg, tags: tags, mpu: mpu, bus: bus}
	dc.tags.InvalidateAll()
	return dc, nil
}

func (dc *DCacheLru) SetRequest(req DCacheRequest) { dc.req = req }
func (dc *DCacheLru) SetFlush(f FlushRequest)      { dc.flush = f }
func (dc *DCacheLru) SetSnoop(s SnoopRequest)      { dc.snoop = s }
func (dc *DCacheLru) Response() DCacheResponse     { return dc.r.resp }
func (dc *DCacheLru) SnoopResponse() SnoopResponse { return dc.snoopResp }

// Snoop performs a one-shot coherence probe outside the request FSM,
// the path simulator.go's tick-boundary coherence walk uses. An
// invalidating probe that covers the reserved address also kills the
// LR/SC reservation.
func (dc *DCacheLru) Snoop(req SnoopRequest) SnoopResponse {
	dc.snoop = req
	dc.combSnoop()
	dc.snoop = SnoopRequest{}
	if req.Valid && req.Invalidate && dc.r.resValid &&
		dc.cfg.LineBase(dc.r.resAddr) == dc.cfg.LineBase(req.Addr) {
		dc.r.resValid = false
		dc.v.resValid = false
	}
	return dc.snoopResp
}

// combSnoop answers a coherence probe purely combinationally: a
// snoop-invalidate drops the line to invalid, a snoop-read downgrades
// a modified line to shared and hands back its data.
func (dc *DCacheLru) combSnoop() {
	dc.snoopResp = SnoopResponse{}
	if !dc.snoop.Valid {
		return
	}
	set := dc.cfg.SetIndex(dc.snoop.Addr)
	tag := dc.cfg.Tag(dc.snoop.Addr)
	way, hit := dc.tags.Lookup(set, tag)
	if !hit {
		return
	}
	line := dc.tags.Line(set, way)
	dc.snoopResp = SnoopResponse{Held: true, Data: append([]byte(nil), line.Data...), Modified: line.Modified}
	if dc.snoop.Invalidate {
		dc.tags.Invalidate(set, way)
	} else {
		line.Shared = true
		line.Modified = false
	}
}

func (dc *DCacheLru) Comb() {
	dc.combSnoop()

	dc.v = dc.r
	dc.v.resp = DCacheResponse{}
	dc.v.wtPending = false

	if dc.flush.Valid && dc.r.state == ICIdle {
		if dc.flush.All {
			dc.v.state = ICFlushAddr
			dc.v.flushSet = 0
		} else {
			set := dc.cfg.SetIndex(dc.flush.Addr)
			tag := dc.cfg.Tag(dc.flush.Addr)
			if way, hit := dc.tags.Lookup(set, tag); hit {
				dc.tags.Invalidate(set, way)
			}
		}
		return
	}

	switch dc.r.state {
	case ICIdle:
		if dc.req.Valid {
			dc.v.addr = dc.req.Addr
			dc.v.isWrite = dc.req.IsWrite
			dc.v.wdata = dc.req.Data
			dc.v.strb = dc.req.Strb
			dc.v.isLR = dc.req.IsLR
			dc.v.isSC = dc.req.IsSC
			dc.v.isUpgrade = false
			dc.v.state = ICCheckHit
		}

	case ICCheckHit:
		// SC semantics resolve before any lookup: without a matching
		// reservation the store must not happen at all.
		if dc.v.isSC && !(dc.v.resValid && dc.v.resAddr == dc.v.addr) {
			dc.v.resp = DCacheResponse{Valid: true, Addr: dc.v.addr, SCFailed: true}
			dc.v.state = ICIdle
			break
		}

		set := dc.cfg.SetIndex(dc.v.addr)
		tag := dc.cfg.Tag(dc.v.addr)
		way, hit := dc.tags.Lookup(set, tag)

		if hit {
			line := dc.tags.Line(set, way)
			off := dc.v.addr - dc.cfg.LineBase(dc.v.addr)
			if dc.v.isWrite {
				if line.Shared {
					// must gain exclusivity before mutating a shared line
					dc.v.set = set
					dc.v.way = way
					dc.v.isUpgrade = true
					dc.v.state = ICTranslateAddress
					break
				}
				writeStrobed(line.Data, off, dc.v.wdata, dc.v.strb)
				line.Modified = true
				dc.tags.Touch(set, way)
				dc.v.wtPending = true
				dc.v.resValid = false
				dc.v.resp = DCacheResponse{Valid: true, Addr: dc.v.addr}
				dc.v.state = ICIdle
			} else {
				word := readWord32(line.Data, off)
				dc.v.resp = DCacheResponse{Valid: true, Addr: dc.v.addr, Data: word}
				if dc.v.isLR {
					dc.v.resValid = true
					dc.v.resAddr = dc.v.addr
				}
				dc.tags.Touch(set, way)
				dc.v.state = ICIdle
			}
		} else {
			dc.v.set = set
			dc.v.state = ICTranslateAddress
		}

	case ICTranslateAddress:
		flags := dc.mpu.Lookup(dc.v.addr)
		canAccess := flags.Read
		if dc.v.isWrite {
			canAccess = flags.Write
		}
		if !canAccess {
			dc.v.loadFault = !dc.v.isWrite
			dc.v.storeFault = dc.v.isWrite
			dc.v.mpuFault = true
			dc.v.missData = allOnes(dc.cfg.LineBytes())
			dc.v.state = ICCheckResp
		} else {
			dc.v.cacheable = flags.Cacheable
			dc.v.loadFault = false
			dc.v.storeFault = false
			dc.v.mpuFault = false
			dc.v.state = ICWaitGrant
		}

	case ICWaitGrant:
		dc.v.state = ICWaitResp

	case ICWaitResp:
		dc.v.state = ICCheckResp

	case ICCheckResp:
		fault := dc.v.loadFault || dc.v.storeFault
		switch {
		case fault:
			dc.v.resp = DCacheResponse{Valid: true, Addr: dc.v.addr, LoadFault: dc.v.loadFault,
				StoreFault: dc.v.storeFault, MPUFault: dc.v.mpuFault, FaultAddr: dc.v.addr}
			dc.v.state = ICIdle
		case !dc.v.cacheable:
			if dc.v.isWrite {
				dc.v.resValid = false
				dc.v.resp = DCacheResponse{Valid: true, Addr: dc.v.addr}
			} else {
				dc.v.resp = DCacheResponse{Valid: true, Addr: dc.v.addr,
					Data: readWord32(dc.v.missData, dc.v.addr&0x3)}
			}
			dc.v.state = ICIdle
		default:
			way := dc.v.way
			dc.tags.Fill(dc.v.set, way, dc.cfg.Tag(dc.v.addr), dc.v.missData,
				MPUFlags{Cacheable: true, Read: true, Write: true})
			if dc.v.isWrite {
				line := dc.tags.Line(dc.v.set, way)
				off := dc.v.addr - dc.cfg.LineBase(dc.v.addr)
				writeStrobed(line.Data, off, dc.v.wdata, dc.v.strb)
				line.Modified = true
				dc.v.resValid = false
				dc.v.resp = DCacheResponse{Valid: true, Addr: dc.v.addr}
			}
			dc.v.state = ICSetupReadAdr
		}

	case ICSetupReadAdr:
		if dc.v.isWrite {
			dc.v.state = ICIdle
		} else {
			dc.v.state = ICCheckHit
		}

	case ICFlushAddr:
		if dc.v.flushSet >= dc.tags.Sets() {
			dc.v.state = ICIdle
		} else {
			dc.v.state = ICFlushCheck
		}

	case ICFlushCheck:
		for w := 0; w < dc.tags.Ways(); w++ {
			dc.tags.Invalidate(dc.v.flushSet, w)
		}
		dc.v.flushSet++
		dc.v.state = ICFlushAddr
	}
}

func writeStrobed(line []byte, off uint64, data uint32, strb uint8) {
	off &= uint64(len(line) - 1)
	for i := 0; i < 4 && int(off)+i < len(line); i++ {
		if strb&(1<<i) != 0 {
			line[int(off)+i] = byte(data >> (8 * i))
		}
	}
}

// issueStoreBeat pushes one strobed word to the fabric. snoop selects
// the coherence class (WriteLineUnique for hit/upgrade/miss stores,
// WriteNoSnoop for device stores).
func (dc *DCacheLru) issueStoreBeat(addr uint64, wdata uint32, strb uint8, snoop int, cache uint8) Resp {
	var db [8]byte
	db[0] = byte(wdata)
	db[1] = byte(wdata >> 8)
	db[2] = byte(wdata >> 16)
	db[3] = byte(wdata >> 24)
	req := AXIRequest{
		IsWrite: true,
		Addr: AXIAddr{
			Addr:  addr,
			Len:   0,
			Size:  2,
			Burst: BurstIncr,
			Snoop: uint8(snoop),
			Cache: cache,
		},
		WData: []WBeat{{Data: db, Strb: strb, Last: true}},
	}
	resp, err := dc.bus.Issue(req)
	if err != nil {
		return RespSLVERR
	}
	return resp.BResp
}

// writeBackVictim flushes a dirty line to memory ahead of its
// eviction.
func (dc *DCacheLru) writeBackVictim(set, way int) {
	line := dc.tags.Line(set, way)
	base := line.Tag<<uint(dc.cfg.LineBits+dc.cfg.SetBits) | uint64(set)<<uint(dc.cfg.LineBits)
	beats := dc.cfg.LineBytes() / busBytes
	if beats < 1 {
		beats = 1
	}
	wdata := make([]WBeat, beats)
	for i := range wdata {
		copy(wdata[i].Data[:], line.Data[i*busBytes:])
		wdata[i].Strb = 0xFF
		wdata[i].Last = i == beats-1
	}
	req := AXIRequest{
		IsWrite: true,
		Addr: AXIAddr{
			Addr:  base,
			Len:   uint8(beats - 1),
			Size:  busSizeLog2,
			Burst: BurstIncr,
			Snoop: uint8(AwSnoopWriteBack),
			Cache: CacheWriteBackAlloc,
		},
		WData: wdata,
	}
	dc.bus.Issue(req)
}

// refillLine reads one full line; returns nil on a fabric fault.
func (dc *DCacheLru) refillLine(base uint64, snoop int) []byte {
	beats := dc.cfg.LineBytes() / busBytes
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
			Cache: CacheWriteBackAlloc,
		},
	}
	resp, err := dc.bus.Issue(req)
	if err != nil || anyRBeatFaulted(resp.RData) {
		return nil
	}
	return assembleLine(resp.RData, dc.cfg.LineBytes())
}

func (dc *DCacheLru) Commit() {
	if dc.v.wtPending {
		dc.issueStoreBeat(dc.v.addr, dc.v.wdata, dc.v.strb, AwSnoopWriteLineUniq, CacheWriteBackAlloc)
		dc.v.wtPending = false
	}

	if dc.r.state == ICWaitGrant && dc.v.state == ICWaitResp {
		if dc.v.isWrite {
			snoop, cache := AwSnoopWriteLineUniq, uint8(CacheWriteBackAlloc)
			if !dc.v.cacheable {
				snoop, cache = AwSnoopWriteNoSnoop, CacheDevice
			}
			if r := dc.issueStoreBeat(dc.v.addr, dc.v.wdata, dc.v.strb, snoop, cache); r == RespDECERR || r == RespSLVERR {
				dc.v.storeFault = true
			}
			if !dc.v.storeFault && dc.v.cacheable {
				if dc.v.isUpgrade {
					// already resident; only ownership is changing, not the data
					dc.v.missData = append([]byte(nil), dc.tags.Line(dc.v.set, dc.v.way).Data...)
				} else {
					// genuine write-miss: the bytes outside the strobe mask
					// come from the line's real content (which already
					// includes the store pushed through above)
					dc.v.way = dc.tags.Victim(dc.v.set)
					victim := dc.tags.Line(dc.v.set, dc.v.way)
					if victim.Valid && victim.Modified {
						dc.writeBackVictim(dc.v.set, dc.v.way)
					}
					if data := dc.refillLine(dc.cfg.LineBase(dc.v.addr), ArSnoopReadMakeUniq); data != nil {
						dc.v.missData = data
					} else {
						dc.v.storeFault = true
						dc.v.missData = allOnes(dc.cfg.LineBytes())
					}
				}
			}
		} else if dc.v.cacheable {
			dc.v.way = dc.tags.Victim(dc.v.set)
			victim := dc.tags.Line(dc.v.set, dc.v.way)
			if victim.Valid && victim.Modified {
				dc.writeBackVictim(dc.v.set, dc.v.way)
			}
			if data := dc.refillLine(dc.cfg.LineBase(dc.v.addr), ArSnoopReadShared); data != nil {
				dc.v.missData = data
			} else {
				dc.v.loadFault = true
				dc.v.missData = allOnes(dc.cfg.LineBytes())
			}
		} else {
			// device load: one narrow beat at the word holding the
			// address, so registers with read side effects fire once
			req := AXIRequest{
				Addr: AXIAddr{
					Addr:  dc.v.addr &^ 0x3,
					Len:   0,
					Size:  2,
					Burst: BurstIncr,
					Snoop: uint8(ArSnoopReadNoSnoop),
					Cache: CacheDevice,
				},
			}
			resp, err := dc.bus.Issue(req)
			if err != nil || anyRBeatFaulted(resp.RData) {
				dc.v.loadFault = true
				dc.v.missData = allOnes(4)
			} else {
				dc.v.missData = assembleLine(resp.RData, 4)
			}
		}
	}
	dc.r = dc.v
}

// Reset invalidates every line and clears the reservation.
func (dc *DCacheLru) Reset() {
	dc.tags.InvalidateAll()
	dc.r = dcacheRegs{}
	dc.v = dcacheRegs{}
}
