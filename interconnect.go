// interconnect.go - AXI4 address decode and round-robin arbitration

/*
Interconnect maps every AXI master's requests to exactly one slave by
address range. Decode is a small sorted table built once at
elaboration (Interconnect.AddSlave); overlapping ranges are rejected
there rather than detected lazily during simulation - duplicate
coverage is an elaboration-time error. Arbitration among masters
contending for the same cycle is round-robin with a deterministic
tiebreak - the slot index last granted is remembered and the next
grant starts its search one past it, so no master can starve another.

Issue() itself resolves a single master's burst to completion in one
call, so the grant decision has to happen one level up, before any
cache's Commit runs: simulator.go's pre-commit hook (registered via
Clock.OnPreCommit) scans every hart's I$/D$ for ones about to leave
WaitGrant this tick, calls Arbitrate over that contending set, and
forces every loser straight back to WaitGrant so it retries next
tick instead of issuing - see simulator.go's arbitrateBusGrants.
*/

package river

import "sort"

// SlaveMapping associates a named AXISlave with its base/size window
// on bus 0.
type SlaveMapping struct {
	Name  string
	Base  uint64
	Size  uint64
	Slave AXISlave
}

func (m SlaveMapping) contains(addr uint64) bool {
	return addr >= m.Base && addr < m.Base+m.Size
}

func (m SlaveMapping) overlaps(o SlaveMapping) bool {
	return m.Base < o.Base+o.Size && o.Base < m.Base+m.Size
}

// Interconnect is the sole shared fabric: every master issues through
// it, and it is the single point that guarantees per-transaction
// ordering, making the PLIC/CLINT
// accesses from multiple harts coherent without any locking in the
// peripherals themselves.
type Interconnect struct {
	slaves    []SlaveMapping
	lastGrant int
}

// NewInterconnect creates an empty fabric; AddSlave until elaboration
// is complete, then stop mutating it before the first Tick.
func NewInterconnect() *Interconnect {
	return &Interconnect{lastGrant: -1}
}

// AddSlave registers a slave's address window. Returns a fatal
// ErrElaboration if it overlaps any previously registered slave.
func (ic *Interconnect) AddSlave(m SlaveMapping) error {
	for _, existing := range ic.slaves {
		if m.overlaps(existing) {
			return Fatal(ErrElaboration, "slave %q [0x%x,0x%x) overlaps %q [0x%x,0x%x)",
				m.Name, m.Base, m.Base+m.Size, existing.Name, existing.Base, existing.Base+existing.Size)
		}
	}
	ic.slaves = append(ic.slaves, m)
	sort.Slice(ic.slaves, func(i, j int) bool { return ic.slaves[i].Base < ic.slaves[j].Base })
	return nil
}

// decode finds the slave owning addr, or !ok for an unmapped range.
func (ic *Interconnect) decode(addr uint64) (SlaveMapping, bool) {
	i := sort.Search(len(ic.slaves), func(i int) bool { return ic.slaves[i].Base+ic.slaves[i].Size > addr })
	if i < len(ic.slaves) && ic.slaves[i].contains(addr) {
		return ic.slaves[i], true
	}
	return SlaveMapping{}, false
}

// Issue performs a full burst against the decoded slave. It satisfies
// AXIMaster so an L1 cache miss can issue directly against the shared
// fabric (in simpler test topologies without a CacheTop in between).
func (ic *Interconnect) Issue(req AXIRequest) (AXIResponse, error) {
	if err := req.Addr.ValidateNoWrap(); err != nil {
		return AXIResponse{}, err
	}
	m, ok := ic.decode(req.Addr.Addr)
	if !ok {
		if req.IsWrite {
			return AXIResponse{BResp: RespDECERR}, nil
		}
		beats := make([]RBeat, req.Addr.Beats())
		for i := range beats {
			beats[i] = RBeat{Resp: RespDECERR, Last: i == len(beats)-1}
		}
		return AXIResponse{RData: beats}, nil
	}

	// Slaves decode window-relative offsets; only the interconnect
	// knows each window's base.
	beatBytes := req.Addr.BeatBytes()
	addr := req.Addr.Addr
	if req.IsWrite {
		resp := RespOKAY
		for i := 0; i < req.Addr.Beats(); i++ {
			beat := req.WData[i]
			r := m.Slave.Write(addr-m.Base, beatBytes, beat.Data, beat.Strb)
			if r != RespOKAY {
				resp = r
			}
			addr = advanceBurstAddr(req.Addr, addr, beatBytes)
		}
		return AXIResponse{BResp: resp}, nil
	}

	beats := make([]RBeat, req.Addr.Beats())
	for i := 0; i < req.Addr.Beats(); i++ {
		data, r := m.Slave.Read(addr-m.Base, beatBytes)
		beats[i] = RBeat{Data: data, Resp: r, Last: i == len(beats)-1, ID: req.Addr.ID}
		addr = advanceBurstAddr(req.Addr, addr, beatBytes)
	}
	return AXIResponse{RData: beats}, nil
}

func advanceBurstAddr(a AXIAddr, addr uint64, beatBytes int) uint64 {
	switch a.Burst {
	case BurstFixed:
		return addr
	case BurstWrap:
		span := uint64(beatBytes) * uint64(a.Beats())
		base := a.Addr &^ (span - 1)
		next := addr + uint64(beatBytes)
		if next >= base+span {
			next = base
		}
		return next
	default: // BurstIncr
		return addr + uint64(beatBytes)
	}
}

// Arbitrate picks which of n contending masters (indices [0,n)) with
// the given valid bitmap gets the fabric this cycle, starting the
// search just past the last grant so that no single master can hold
// the fabric indefinitely.
func (ic *Interconnect) Arbitrate(valid []bool) (grantee int, ok bool) {
	n := len(valid)
	if n == 0 {
		return -1, false
	}
	for i := 1; i <= n; i++ {
		idx := (ic.lastGrant + i) % n
		if valid[idx] {
			ic.lastGrant = idx
			return idx, true
		}
	}
	return -1, false
}

// Tick advances every slave's own clocked state.
func (ic *Interconnect) Tick() {
	for _, m := range ic.slaves {
		m.Slave.Tick()
	}
}
