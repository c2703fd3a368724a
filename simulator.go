// simulator.go - top-level SoC assembly and run loop

/*
Simulator wires one shared Interconnect to NumHarts independent
hart clusters (Cpu + Csr + ICacheLru/DCacheLru behind their own
CacheTop) and the peripheral set (Clint, Plic, Uart, Gpio, Rom, Sram,
Pnp, SdCtrl+SdMem), then drives them all through one Clock.

Component registration order matters twice, both resolved the same
way: within one tick's combinational pass, a hart's Cpu must run
before its own ICacheLru/DCacheLru so a freshly-issued fetch/memaccess
request is visible to the cache in the same iteration (plain struct
fields, unlike Signal, don't themselves trigger a second convergence
pass); and per cache_top.go's documented approximation, a hart's
DCacheLru must Commit before its ICacheLru so a same-tick miss on both
resolves data-side first. Registering Cpu, then DCacheLru, then
ICacheLru for each hart satisfies both at once.

Dual-cache coherence across harts is approximated at the Simulator
level rather than inside Interconnect: after every
tick, any hart whose DCacheLru just completed an access is used to
snoop every other hart's DCacheLru for the same line. A fully
bus-integrated snoop-on-every-AXI-write would need the interconnect
itself to fan writes out to every cache, which is beyond what this
simulator's synchronous-issue AXIMaster/AXISlave split can express
without blocking every miss on every other hart's cache lookup; the
tick-boundary approximation still exercises invalidate/downgrade
correctly between ticks, which is what the scenario's testable
property checks.
*/

package river

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// HartCluster groups one hart's private state.
type HartCluster struct {
	Csr    *Csr
	Cpu    *Cpu
	ICache *ICacheLru
	DCache *DCacheLru
	Top    *CacheTop
	Dmi    *Dmi
}

// SimConfig parameterizes elaboration.
type SimConfig struct {
	NumHarts    int
	ResetVector uint64
	ICacheCfg   CacheConfig
	DCacheCfg   CacheConfig
	RomSize     int
	SramSize    int
	PlicCtxMax  int
	PlicIrqMax  int
}

// DefaultSimConfig matches the geometry the end-to-end test scenarios
// exercise: 4-way 64-line 32-byte-line caches, an 8-context/128-source
// PLIC, 256 KiB boot ROM and 2 MiB SRAM per the bus-0 memory map.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		NumHarts:    1,
		ResetVector: 0x00010000,
		ICacheCfg:   CacheConfig{Ways: 4, SetBits: 6, LineBits: 5},
		DCacheCfg:   CacheConfig{Ways: 4, SetBits: 6, LineBits: 5},
		RomSize:     256 * 1024,
		SramSize:    2 * 1024 * 1024,
		PlicCtxMax:  plicDefaultCtxMax,
		PlicIrqMax:  plicDefaultIrqMax,
	}
}

const (
	addrRom    = 0x00010000
	addrClint  = 0x02000000
	addrSram   = 0x08000000
	addrPlic   = 0x0C000000
	addrApb    = 0x10000000
	addrUart   = 0x10010000
	addrSdRegs = 0x10050000
	addrGpio   = 0x10060000
	addrPnp    = 0x100FF000
	addrSdMem  = 0x800000000

	apbSize   = 0x100000
	sdMemSize = 0x800000000

	// plicSrcUart is the UART's PLIC source index (source 0 is tied
	// low, per plic.go's SetIRQLine).
	plicSrcUart = 1
)

// Simulator is the complete SoC: the clock kernel, the shared fabric,
// every hart, and every peripheral.
type Simulator struct {
	cfg   SimConfig
	clock *Clock
	bus   *Interconnect

	harts []*HartCluster

	Rom    *Rom
	Sram   *Sram
	Clint  *Clint
	Plic   *Plic
	Apb    *APBBridge
	Uart   *Uart
	Gpio   *Gpio
	Pnp    *Pnp
	SdCtrl *SdCtrl
	SdMem  *SdMem

	stopAtTick uint64
	stopAtTickSet bool
	shutdownRequested bool
}

// NewSimulator elaborates the full SoC per cfg. Any address-overlap or
// geometry mistake surfaces as an ErrElaboration: elaboration failures
// are fatal, not recoverable at runtime.
func NewSimulator(cfg SimConfig) (*Simulator, error) {
	s := &Simulator{cfg: cfg}
	s.clock = NewClock()
	s.bus = NewInterconnect()

	s.Rom = NewRom(cfg.RomSize)
	s.Sram = NewSram(cfg.SramSize)
	s.Clint = NewClint(cfg.NumHarts)
	s.Plic = NewPlic(cfg.PlicCtxMax, cfg.PlicIrqMax)
	s.Uart = NewUart()
	s.Gpio = NewGpio()
	s.SdCtrl = NewSdCtrl()
	s.SdMem = &SdMem{}
	s.Pnp = NewPnp(0x20170313, uint8(cfg.NumHarts), uint8(cfg.PlicIrqMax))

	// Low-bandwidth register files hang off the APB bridge inside its
	// 1 MiB window; the bridge itself is one bus-0 slave.
	s.Apb = NewAPBBridge()
	apbMappings := []SlaveMapping{
		{Name: "uart", Base: addrUart - addrApb, Size: 0x1000, Slave: s.Uart},
		{Name: "sdregs", Base: addrSdRegs - addrApb, Size: 0x1000, Slave: s.SdCtrl},
		{Name: "gpio", Base: addrGpio - addrApb, Size: 0x1000, Slave: s.Gpio},
		{Name: "pnp", Base: addrPnp - addrApb, Size: 0x1000, Slave: s.Pnp},
	}
	for _, m := range apbMappings {
		if err := s.Apb.AddPeripheral(m); err != nil {
			return nil, err
		}
	}

	mappings := []SlaveMapping{
		{Name: "rom", Base: addrRom, Size: uint64(cfg.RomSize), Slave: s.Rom},
		{Name: "clint", Base: addrClint, Size: 0x10000, Slave: s.Clint},
		{Name: "sram", Base: addrSram, Size: uint64(cfg.SramSize), Slave: s.Sram},
		{Name: "plic", Base: addrPlic, Size: 0x4000000, Slave: s.Plic},
		{Name: "apb", Base: addrApb, Size: apbSize, Slave: s.Apb},
		{Name: "sdmem", Base: addrSdMem, Size: sdMemSize, Slave: s.SdMem},
	}
	for _, m := range mappings {
		if err := s.bus.AddSlave(m); err != nil {
			return nil, err
		}
	}

	s.Pnp.AddMaster(0x0A, 0x01) // the CPU cluster's master descriptor id
	for _, m := range mappings {
		s.Pnp.AddSlave(uint32(m.Base), uint32(m.Size), 0, 0x0A, 0x01)
	}
	for _, m := range apbMappings {
		s.Pnp.AddSlave(uint32(m.Base+addrApb), uint32(m.Size), 0, 0x0A, 0x01)
	}

	for h := 0; h < cfg.NumHarts; h++ {
		mpu := NewMPU()
		// ROM and SRAM are the cacheable windows; everything else
		// falls to the MPU's visible-but-uncached default so device
		// registers are never aliased into a cache line.
		if err := mpu.SetRegion(0, MPURegion{Base: addrRom, Mask: ^uint64(uint64(cfg.RomSize) - 1),
			Flags: MPUFlags{Enable: true, Cacheable: true, Read: true, Exec: true}}); err != nil {
			return nil, err
		}
		if err := mpu.SetRegion(1, MPURegion{Base: addrSram, Mask: ^uint64(uint64(cfg.SramSize) - 1),
			Flags: MPUFlags{Enable: true, Cacheable: true, Read: true, Write: true, Exec: true}}); err != nil {
			return nil, err
		}
		top := NewCacheTop(s.bus)

		icache, err := NewICacheLru(cfg.ICacheCfg, mpu, top.ICachePort())
		if err != nil {
			return nil, err
		}
		dcache, err := NewDCacheLru(cfg.DCacheCfg, mpu, top.DCachePort())
		if err != nil {
			return nil, err
		}
		csr := NewCsr(h, cfg.ResetVector)
		cpu := NewCpu(h, cfg.ResetVector, icache, dcache, csr)
		dmi := NewDmi(cpu)

		hc := &HartCluster{Csr: csr, Cpu: cpu, ICache: icache, DCache: dcache, Top: top, Dmi: dmi}
		s.harts = append(s.harts, hc)

		// Cpu before its own caches (same-tick request visibility);
		// DCache before ICache (cache_top.go's documented priority
		// approximation).
		s.clock.Register(cpu)
		s.clock.Register(dcache)
		s.clock.Register(icache)
	}

	s.clock.Register(s.Plic)
	s.clock.Register(s.SdCtrl)

	s.clock.OnPreCommit(s.arbitrateBusGrants)
	s.clock.OnStep(func(tick uint64) bool {
		s.syncExternalInterrupts()
		s.snoopCoherence()
		return true
	})

	return s, nil
}

// arbitrateBusGrants enforces the fabric's starvation-free round-robin
// guarantee across harts. By the time Comb has converged
// this tick, every I$/D$ about to leave WaitGrant for WaitResp (i.e.
// about to issue a bus transaction from Commit) is already known.
// When more than one contends in the same tick, only the fabric's
// Arbitrate pick is let through to issue; every other contender is
// pushed back to WaitGrant so it retries next tick instead of
// silently issuing alongside the winner.
func (s *Simulator) arbitrateBusGrants() {
	var pending []*ICacheState
	for _, hc := range s.harts {
		if hc.ICache.r.state == ICWaitGrant && hc.ICache.v.state == ICWaitResp {
			pending = append(pending, &hc.ICache.v.state)
		}
		if hc.DCache.r.state == ICWaitGrant && hc.DCache.v.state == ICWaitResp {
			pending = append(pending, &hc.DCache.v.state)
		}
	}
	if len(pending) <= 1 {
		return
	}

	valid := make([]bool, len(pending))
	for i := range valid {
		valid[i] = true
	}
	winner, ok := s.bus.Arbitrate(valid)
	if !ok {
		return
	}
	for i, st := range pending {
		if i != winner {
			*st = ICWaitGrant
		}
	}
}

// LoadBootImage copies image into ROM starting at offset 0.
func (s *Simulator) LoadBootImage(image []byte) { s.Rom.Load(image) }

func (s *Simulator) syncExternalInterrupts() {
	for i, hc := range s.harts {
		// ctx = 2*hart + s, s=0 being the M-mode context
		meip, seip := false, false
		if 2*i < s.cfg.PlicCtxMax {
			meip = s.Plic.ContextPending(2 * i)
		}
		if 2*i+1 < s.cfg.PlicCtxMax {
			seip = s.Plic.ContextPending(2*i + 1)
		}
		hc.Csr.SetMtimeShadow(s.Clint.MTime())
		hc.Csr.SyncExternal(s.Clint.MSIP(i), s.Clint.MTIP(i), meip, seip)
	}
}

// snoopCoherence approximates dual-cache coherence across harts: after
// every commit, a hart whose D-cache just completed an access probes
// every other hart's D-cache for the same line - invalidating their
// copies on a write (the line became unique), downgrading them to
// shared on a read; the accessing hart's own line is left as it is.
// See the file header
// comment for why this runs at tick granularity instead of
// per-transaction.
func (s *Simulator) snoopCoherence() {
	if len(s.harts) < 2 {
		return
	}
	for i, owner := range s.harts {
		od := owner.DCache
		if !od.r.resp.Valid {
			continue
		}
		for j, other := range s.harts {
			if i == j {
				continue
			}
			other.DCache.Snoop(SnoopRequest{Valid: true, Addr: od.r.addr, Invalidate: od.r.isWrite})
		}
	}
}

// Tick advances every component one clock edge. The CLINT's mtime
// advances through the slave Tick sweep like every other peripheral.
func (s *Simulator) Tick() error {
	s.bus.Tick()
	s.Plic.SetIRQLine(plicSrcUart, s.Uart.IrqPending())
	return s.clock.Tick()
}

// Now reports the number of ticks committed so far.
func (s *Simulator) Now() uint64 { return s.clock.Now() }

// StopAtTick arms a tick-count stop predicate for Run.
func (s *Simulator) StopAtTick(tick uint64) {
	s.stopAtTick = tick
	s.stopAtTickSet = true
}

// RequestShutdown asynchronously asks Run to stop after the current
// tick, e.g. from a DMI halt-and-quit command.
func (s *Simulator) RequestShutdown() { s.shutdownRequested = true }

func (s *Simulator) shouldStop() bool {
	if s.shutdownRequested {
		return true
	}
	if s.stopAtTickSet && s.clock.Now() >= s.stopAtTick {
		return true
	}
	for _, hc := range s.harts {
		if hc.Dmi.Halted() {
			return true
		}
	}
	return false
}

// Run ticks the simulator until a stop predicate fires or ctx is
// canceled, coordinating with an optional DMI transport goroutine via
// errgroup.
func (s *Simulator) Run(ctx context.Context, transport func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for !s.shouldStop() {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			if err := s.Tick(); err != nil {
				return err
			}
		}
		return nil
	})

	if transport != nil {
		g.Go(func() error { return transport(gctx) })
	}

	return g.Wait()
}

// Reset drives every hart and cache back to its reset state.
func (s *Simulator) Reset() {
	for _, hc := range s.harts {
		hc.Cpu.Reset()
		hc.ICache.Reset()
		hc.DCache.Reset()
	}
}

// Hart returns hart index i's cluster, for debug/scenario tooling.
func (s *Simulator) Hart(i int) *HartCluster { return s.harts[i] }

// NumHarts reports how many harts were elaborated.
func (s *Simulator) NumHarts() int { return len(s.harts) }
