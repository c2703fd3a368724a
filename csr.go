// csr.go - CSR / trap / privilege unit

/*
Csr is the architectural state backing every privileged instruction:
reads, writes, traps and xrets. The register file itself is a small
table of (offset, width, mask, access) entries (csrFields below)
rather than one giant address switch - each table entry
owns a Get/Set closure over the strongly-typed fields (mstatus bits,
dcsr, the per-privilege trap records) so the table stays the single
source of truth for width/mask/access while the fields themselves stay
ordinary Go structs the rest of the CPU can read directly.

Write/Trap/Xret are called at most once per tick, from the owning
hart's Commit (see cpu.go); Read is also called from the execute stage
during Comb. Keeping writes in Commit makes a CSR write visible to the next
instruction in program order without needing a second staged copy of
this already-small piece of state - "CSR writes take effect after
retirement" falls out for free from Go's normal mutable-struct
semantics at that call site.
*/

package river

// PrivMode is a RISC-V privilege level, using the standard encoding
// so xPP/dcsr.prv/CSR address bits line up directly.
type PrivMode uint8

const (
	PrivU PrivMode = 0
	PrivS PrivMode = 1
	PrivH PrivMode = 2
	PrivM PrivMode = 3
)

// Cause codes for program-visible faults, in the standard RISC-V
// privileged-architecture encoding.
const (
	CauseFetchAddrMisaligned     = 0
	CauseIllegalInstruction      = 2
	CauseBreakpoint              = 3
	CauseLoadAddrMisaligned      = 4
	CauseLoadFault               = 5
	CauseStoreAddrMisaligned     = 6
	CauseStoreFault              = 7
	CauseEcallU                  = 8
	CauseEcallS                  = 9
	CauseEcallM                  = 11
	CauseInstructionAccessFault  = 1
	CauseLoadPageFault           = 13
	CauseStorePageFault          = 15
)

// Interrupt cause codes; Trap sets the interrupt bit (bit 63) on top of
// them when isInterrupt is true.
const (
	IrqMachineSoftware  = 3
	IrqMachineTimer     = 7
	IrqMachineExternal  = 11
	IrqSupervisorExt    = 9
)

// CsrState names the unit's internal FSM.
type CsrState int

const (
	CsrIdle CsrState = iota
	CsrException
	CsrBreakpoint
	CsrHalt
	CsrResume
	CsrInterrupt
	CsrTrapReturn
	CsrWfi
	CsrRW
	CsrResponse
)

// PrivRecord is one privilege level's trap-control record: xepc, xpp
// (previous privilege), xpie/xie, xtvec, xtval, xcause, xscratch and
// xcounteren, one copy per U/S/H/M mode.
type PrivRecord struct {
	Epc       uint64
	Pp        PrivMode
	Pie       bool
	Ie        bool
	Tvec      uint64
	TvecVectored bool
	Tval      uint64
	Cause     uint64
	Scratch   uint64
	Counteren uint32
}

// InterruptBits is a per-class pending/enable vector.
type InterruptBits struct {
	MSIP, MTIP, MEIP, SEIP bool
}

func (b InterruptBits) class(c int) bool {
	switch c {
	case IrqMachineSoftware:
		return b.MSIP
	case IrqMachineTimer:
		return b.MTIP
	case IrqMachineExternal:
		return b.MEIP
	case IrqSupervisorExt:
		return b.SEIP
	}
	return false
}

func (b *InterruptBits) setClass(c int, v bool) {
	switch c {
	case IrqMachineSoftware:
		b.MSIP = v
	case IrqMachineTimer:
		b.MTIP = v
	case IrqMachineExternal:
		b.MEIP = v
	case IrqSupervisorExt:
		b.SEIP = v
	}
}

// DCSR is the debug control/status register.
type DCSR struct {
	EBreakM   bool
	StopCount bool
	StopTimer bool
	Step      bool
	StepIE    bool
	Cause     uint8
	Prv       PrivMode
}

// CsrFault is returned by Read/Write/Xret when the access itself
// is illegal; it never mutates state - faults inside the CSR unit set
// cmd_exception and leave CSR state untouched.
type CsrFault struct {
	Cause uint64
}

func (f *CsrFault) Error() string { return "illegal CSR access" }

// csrField is one table entry: width/mask/access plus the strongly
// typed accessors backing it.
type csrField struct {
	width    uint
	mask     uint64
	readOnly bool
	get      func(c *Csr) uint64
	set      func(c *Csr, v uint64)
}

func csrMinPriv(idx uint16) PrivMode { return PrivMode((idx >> 8) & 0x3) }
func csrIsReadOnly(idx uint16) bool  { return (idx>>10)&0x3 == 0x3 }

// Csr is one hart's privileged state.
type Csr struct {
	hartID int
	mode   PrivMode
	mprv   bool

	satpMode int
	satpPPN  uint64

	medeleg uint64
	mideleg uint64

	priv [4]PrivRecord // indexed by PrivMode

	mip InterruptBits
	mie InterruptBits

	// external shadows, driven by CLINT/PLIC every tick
	msipIn, mtipIn, meipIn, seipIn bool

	dpc              uint64
	dscratch0, dscratch1 uint64
	dcsr             DCSR
	haltedState      bool
	progbufEna       bool
	progbufErr       bool
	progbufEnd       bool

	mstackovr, mstackund uint64
	spInput              uint64
	stackFaultPulse      bool

	mcycle, minstret, mtime uint64
	mtimeShadow             uint64
	haltedForCount          bool

	fenceFlushAddr uint64

	state        CsrState
	cmdException bool

	fields map[uint16]*csrField
}

// NewCsr elaborates one hart's CSR file, including the table of
// addressable registers.
func NewCsr(hartID int, resetVector uint64) *Csr {
	c := &Csr{hartID: hartID, mode: PrivM, dpc: resetVector}
	c.buildFields()
	return c
}

func (c *Csr) buildFields() {
	c.fields = map[uint16]*csrField{
		0x300: {width: 64, mask: 0x1888, get: func(c *Csr) uint64 { return c.encodeMstatus() }, set: func(c *Csr, v uint64) { c.decodeMstatus(v) }},
		0x304: {width: 64, mask: 0xAAA, get: func(c *Csr) uint64 { return c.encodeMie() }, set: func(c *Csr, v uint64) { c.decodeMie(v) }},
		0x344: {width: 64, mask: 0xAAA, get: func(c *Csr) uint64 { return c.encodeMip() }, set: func(c *Csr, v uint64) { c.decodeMip(v) }},
		0x305: {width: 64, mask: ^uint64(0x3) | 0x3, get: func(c *Csr) uint64 { return c.priv[PrivM].Tvec | b2u(c.priv[PrivM].TvecVectored) }, set: func(c *Csr, v uint64) { c.priv[PrivM].Tvec = v &^ 0x3; c.priv[PrivM].TvecVectored = v&1 != 0 }},
		0x302: {width: 64, mask: ^uint64(0), get: func(c *Csr) uint64 { return c.medeleg }, set: func(c *Csr, v uint64) { c.medeleg = v }},
		0x303: {width: 64, mask: ^uint64(0), get: func(c *Csr) uint64 { return c.mideleg }, set: func(c *Csr, v uint64) { c.mideleg = v }},
		0x340: {width: 64, mask: ^uint64(0), get: func(c *Csr) uint64 { return c.priv[PrivM].Scratch }, set: func(c *Csr, v uint64) { c.priv[PrivM].Scratch = v }},
		0x341: {width: 64, mask: ^uint64(0), get: func(c *Csr) uint64 { return c.priv[PrivM].Epc }, set: func(c *Csr, v uint64) { c.priv[PrivM].Epc = v }},
		0x342: {width: 64, mask: ^uint64(0), get: func(c *Csr) uint64 { return c.priv[PrivM].Cause }, set: func(c *Csr, v uint64) { c.priv[PrivM].Cause = v }},
		0x343: {width: 64, mask: ^uint64(0), get: func(c *Csr) uint64 { return c.priv[PrivM].Tval }, set: func(c *Csr, v uint64) { c.priv[PrivM].Tval = v }},
		0x306: {width: 32, mask: 0x7, get: func(c *Csr) uint64 { return uint64(c.priv[PrivM].Counteren) }, set: func(c *Csr, v uint64) { c.priv[PrivM].Counteren = uint32(v) }},
		0xB00: {width: 64, readOnly: true, get: func(c *Csr) uint64 { return c.mcycle }},
		0xB02: {width: 64, readOnly: true, get: func(c *Csr) uint64 { return c.minstret }},
		0x180: {width: 64, mask: ^uint64(0), get: func(c *Csr) uint64 { return uint64(c.satpMode)<<60 | c.satpPPN }, set: func(c *Csr, v uint64) { c.satpMode = int(v >> 60); c.satpPPN = v &^ (uint64(0xF) << 60) }},
		0x7B0: {width: 32, mask: ^uint64(0), get: func(c *Csr) uint64 { return c.encodeDcsr() }, set: func(c *Csr, v uint64) { c.decodeDcsr(v) }},
		0x7B1: {width: 64, mask: ^uint64(0), get: func(c *Csr) uint64 { return c.dpc }, set: func(c *Csr, v uint64) { c.dpc = v }},
		0x7B2: {width: 64, mask: ^uint64(0), get: func(c *Csr) uint64 { return c.dscratch0 }, set: func(c *Csr, v uint64) { c.dscratch0 = v }},
		0x7B3: {width: 64, mask: ^uint64(0), get: func(c *Csr) uint64 { return c.dscratch1 }, set: func(c *Csr, v uint64) { c.dscratch1 = v }},
		0x7C0: {width: 64, mask: ^uint64(0), get: func(c *Csr) uint64 { return c.mstackovr }, set: func(c *Csr, v uint64) { c.mstackovr = v }},
		0x7C1: {width: 64, mask: ^uint64(0), get: func(c *Csr) uint64 { return c.mstackund }, set: func(c *Csr, v uint64) { c.mstackund = v }},
	}
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (c *Csr) encodeMstatus() uint64 {
	m := &c.priv[PrivM]
	var v uint64
	if m.Ie {
		v |= 1 << 3
	}
	if m.Pie {
		v |= 1 << 7
	}
	v |= uint64(m.Pp) << 11
	if c.mprv {
		v |= 1 << 17
	}
	return v
}

func (c *Csr) decodeMstatus(v uint64) {
	m := &c.priv[PrivM]
	m.Ie = v&(1<<3) != 0
	m.Pie = v&(1<<7) != 0
	m.Pp = PrivMode((v >> 11) & 0x3)
	c.mprv = v&(1<<17) != 0
}

func (c *Csr) encodeMie() uint64 {
	var v uint64
	if c.mie.MSIP {
		v |= 1 << IrqMachineSoftware
	}
	if c.mie.MTIP {
		v |= 1 << IrqMachineTimer
	}
	if c.mie.MEIP {
		v |= 1 << IrqMachineExternal
	}
	if c.mie.SEIP {
		v |= 1 << IrqSupervisorExt
	}
	return v
}

func (c *Csr) decodeMie(v uint64) {
	c.mie.MSIP = v&(1<<IrqMachineSoftware) != 0
	c.mie.MTIP = v&(1<<IrqMachineTimer) != 0
	c.mie.MEIP = v&(1<<IrqMachineExternal) != 0
	c.mie.SEIP = v&(1<<IrqSupervisorExt) != 0
}

func (c *Csr) encodeMip() uint64 {
	var v uint64
	if c.effectiveMip().MSIP {
		v |= 1 << IrqMachineSoftware
	}
	if c.effectiveMip().MTIP {
		v |= 1 << IrqMachineTimer
	}
	if c.effectiveMip().MEIP {
		v |= 1 << IrqMachineExternal
	}
	if c.effectiveMip().SEIP {
		v |= 1 << IrqSupervisorExt
	}
	return v
}

// decodeMip allows test/debug writes to mip (the PLIC's pending range
// is writable for testing the same way); normal operation drives
// mip purely from the external shadows via Comb.
func (c *Csr) decodeMip(v uint64) {
	c.mip.MSIP = v&(1<<IrqMachineSoftware) != 0
	c.mip.MTIP = v&(1<<IrqMachineTimer) != 0
	c.mip.MEIP = v&(1<<IrqMachineExternal) != 0
	c.mip.SEIP = v&(1<<IrqSupervisorExt) != 0
}

func (c *Csr) effectiveMip() InterruptBits { return c.mip }

func (c *Csr) encodeDcsr() uint64 {
	var v uint64
	if c.dcsr.EBreakM {
		v |= 1 << 15
	}
	if c.dcsr.StopCount {
		v |= 1 << 10
	}
	if c.dcsr.StopTimer {
		v |= 1 << 9
	}
	if c.dcsr.Step {
		v |= 1 << 2
	}
	if c.dcsr.StepIE {
		v |= 1 << 11
	}
	v |= uint64(c.dcsr.Cause) << 6
	v |= uint64(c.dcsr.Prv)
	return v
}

func (c *Csr) decodeDcsr(v uint64) {
	c.dcsr.EBreakM = v&(1<<15) != 0
	c.dcsr.StopCount = v&(1<<10) != 0
	c.dcsr.StopTimer = v&(1<<9) != 0
	c.dcsr.Step = v&(1<<2) != 0
	c.dcsr.StepIE = v&(1<<11) != 0
	c.dcsr.Cause = uint8((v >> 6) & 0x7)
	c.dcsr.Prv = PrivMode(v & 0x3)
}

// Read is the pipeline-facing CSR read operation: read(csr_idx).
func (c *Csr) Read(idx uint16) (uint64, error) {
	f, ok := c.fields[idx]
	if !ok {
		c.cmdException = true
		return 0, &CsrFault{Cause: CauseIllegalInstruction}
	}
	if c.mode < csrMinPriv(idx) {
		c.cmdException = true
		return 0, &CsrFault{Cause: CauseIllegalInstruction}
	}
	c.cmdException = false
	return f.get(c), nil
}

// WriteType distinguishes the three CSR instruction forms so RS1=x0
// no-op semantics (not modeled at this layer - cpu.go handles it) and
// read-only faulting share one code path.
type WriteType int

const (
	CsrWriteSet WriteType = iota
	CsrWriteClear
	CsrWriteAssign
)

// Write is the pipeline-facing CSR write operation: write(csr_idx,
// data, type). A write to a read-only-encoded CSR (csr[11:10]==11)
// always faults; writes to read-only *bits* within a writable CSR are
// silently dropped via the field's mask.
func (c *Csr) Write(idx uint16, data uint64, typ WriteType) error {
	f, ok := c.fields[idx]
	if !ok || f.readOnly {
		c.cmdException = true
		return &CsrFault{Cause: CauseIllegalInstruction}
	}
	if csrIsReadOnly(idx) {
		c.cmdException = true
		return &CsrFault{Cause: CauseIllegalInstruction}
	}
	if c.mode < csrMinPriv(idx) {
		c.cmdException = true
		return &CsrFault{Cause: CauseIllegalInstruction}
	}
	cur := f.get(c)
	var next uint64
	switch typ {
	case CsrWriteSet:
		next = cur | (data & f.mask)
	case CsrWriteClear:
		next = cur &^ (data & f.mask)
	default:
		next = (cur &^ f.mask) | (data & f.mask)
	}
	f.set(c, next)
	c.cmdException = false
	return nil
}

// delegateTarget picks the lowest mode that has not delegated cause.
func (c *Csr) delegateTarget(cause uint64, isInterrupt bool) PrivMode {
	deleg := c.medeleg
	if isInterrupt {
		deleg = c.mideleg
	}
	if c.mode <= PrivS && deleg&(1<<cause) != 0 {
		return PrivS
	}
	return PrivM
}

// Trap takes a trap into the delegated target mode: saves xIE into
// xPIE, clears xIE, records xPP/xEPC/xCAUSE/xTVAL, and switches mode.
func (c *Csr) Trap(cause uint64, isInterrupt bool, tval, pc uint64) {
	target := c.delegateTarget(cause, isInterrupt)
	rec := &c.priv[target]
	rec.Pie = rec.Ie
	rec.Ie = false
	rec.Pp = c.mode
	rec.Epc = pc
	fullCause := cause
	if isInterrupt {
		fullCause |= 1 << 63
	}
	rec.Cause = fullCause
	rec.Tval = tval
	c.mode = target
	c.state = CsrException
	c.cmdException = false
}

// VectorPC returns the PC the hart should fetch from next after Trap,
// honoring direct vs vectored mtvec.
func (c *Csr) VectorPC(mode PrivMode, cause uint64, isInterrupt bool) uint64 {
	rec := &c.priv[mode]
	if isInterrupt && rec.TvecVectored {
		return rec.Tvec + 4*cause
	}
	return rec.Tvec
}

// Xret returns from a trap: restores mode/xIE from xPP/xPIE. Returns a
// fault if the current mode is below `from`.
func (c *Csr) Xret(from PrivMode) (uint64, error) {
	if c.mode < from {
		c.cmdException = true
		return 0, &CsrFault{Cause: CauseIllegalInstruction}
	}
	rec := &c.priv[from]
	targetMode := rec.Pp
	c.mode = targetMode
	rec.Ie = rec.Pie
	rec.Pie = true
	rec.Pp = PrivU
	if targetMode != PrivM {
		c.mprv = false
	}
	c.state = CsrTrapReturn
	c.cmdException = false
	return rec.Epc, nil
}

// MMUEnabled reevaluates on every mode change: off in M/H, on in
// S/U only when satp.mode selects Sv48 (modeled here as satpMode==9,
// the RISC-V privileged-spec encoding for Sv48).
const satpModeSv48 = 9

func (c *Csr) MMUEnabled() bool {
	if c.mode == PrivM || c.mode == PrivH {
		return false
	}
	return c.satpMode == satpModeSv48
}

// InterruptPending applies the interrupt gating rule:
// mip[c] && mie[c] && mode_gate(c) && (!dcsr.step || dcsr.stepie).
// Returns the highest-priority pending, enabled class or -1.
func (c *Csr) InterruptPending() int {
	if c.dcsr.Step && !c.dcsr.StepIE {
		return -1
	}
	order := []int{IrqMachineExternal, IrqMachineSoftware, IrqMachineTimer, IrqSupervisorExt}
	for _, cls := range order {
		if c.mip.class(cls) && c.mie.class(cls) && c.modeGate(cls) {
			return cls
		}
	}
	return -1
}

func (c *Csr) modeGate(cls int) bool {
	switch cls {
	case IrqSupervisorExt:
		return c.mode == PrivU || (c.mode == PrivS && c.priv[PrivS].Ie)
	default:
		return c.mode < PrivM || c.priv[PrivM].Ie
	}
}

// SyncExternal updates the mip shadow bits from CLINT/PLIC outputs;
// called once per tick before the CPU evaluates InterruptPending.
func (c *Csr) SyncExternal(msip, mtip, meip, seip bool) {
	c.msipIn, c.mtipIn, c.meipIn, c.seipIn = msip, mtip, meip, seip
	c.mip.MSIP, c.mip.MTIP, c.mip.MEIP, c.mip.SEIP = msip, mtip, meip, seip
}

// Ebreak handles an ebreak instruction: enters debug mode when taken
// in PrivM with dcsr.ebreakm set, otherwise raises a normal breakpoint
// exception.
func (c *Csr) Ebreak(pc uint64) (enterDebug bool) {
	if c.mode == PrivM && c.dcsr.EBreakM {
		c.dpc = pc
		c.dcsr.Cause = 1
		c.haltedState = true
		c.state = CsrBreakpoint
		return true
	}
	c.Trap(CauseBreakpoint, false, pc, pc)
	return false
}

// CheckStackGuards compares sp against the programmed bounds every
// tick; a nonzero guard that's violated pulses once and clears itself.
func (c *Csr) CheckStackGuards(sp uint64) {
	c.stackFaultPulse = false
	if c.mstackovr != 0 && sp >= c.mstackovr {
		c.stackFaultPulse = true
		c.mstackovr = 0
	}
	if c.mstackund != 0 && sp <= c.mstackund {
		c.stackFaultPulse = true
		c.mstackund = 0
	}
}

// StackFaultPulse reports whether a guard fired on the last
// CheckStackGuards call.
func (c *Csr) StackFaultPulse() bool { return c.stackFaultPulse }

// SetMtimeShadow latches the CLINT's free-running timer value; mtime
// follows it on the next TickCounters call unless dcsr.stoptimer
// freezes it.
func (c *Csr) SetMtimeShadow(v uint64) { c.mtimeShadow = v }

// TickCounters advances mcycle/minstret/mtime subject to the
// halted/stopcount gating rules. retired should be true for exactly
// the ticks that commit an instruction.
func (c *Csr) TickCounters(retired bool) {
	if !(c.haltedState && c.dcsr.StopCount) {
		c.mcycle++
	}
	if retired && !(c.haltedState && c.dcsr.StopCount) {
		c.minstret++
	}
	if c.dcsr.StopTimer {
		return
	}
	c.mtime = c.mtimeShadow
}

// Halted reports the CSR unit's view of whether the hart is
// debug-halted (driven by DMI haltreq, see dmi.go).
func (c *Csr) Halted() bool      { return c.haltedState }
func (c *Csr) SetHalted(h bool)  { c.haltedState = h }
func (c *Csr) Mode() PrivMode    { return c.mode }
func (c *Csr) ProgbufEna() bool  { return c.progbufEna }
func (c *Csr) SetProgbufEna(v bool) { c.progbufEna = v }

// ProgbufFault marks an exception taken while executing the program
// buffer: it sets progbuf_err/progbuf_end instead of redirecting
// control to a trap handler.
func (c *Csr) ProgbufFault() {
	c.progbufErr = true
	c.progbufEnd = true
	c.progbufEna = false
}

func (c *Csr) ProgbufErr() bool { return c.progbufErr }
func (c *Csr) ProgbufEnd() bool { return c.progbufEnd }
