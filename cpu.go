// cpu.go - RV32I hart pipeline

/*
Cpu drives ICacheLru/DCacheLru through the CacheTop ports and the Csr
unit through one register-window 5-stage pipeline:
Fetch -> Decode -> Execute -> MemAccess -> Writeback, one stage
advancing per tick, matching the FSM-per-component shape the rest of
this codebase uses.

This models one hart issuing at most one in-flight instruction: a
genuinely overlapped pipeline (hazards, forwarding, branch prediction)
is out of scope, so each instruction occupies all five stages
back-to-back before the next Fetch begins. Traps, interrupts and xrets
are taken between Writeback and the next Fetch.

Decode covers the integer base subset the end-to-end test scenarios
exercise: ALU reg-reg/reg-imm, loads/stores, branches, JAL/JALR,
LUI/AUIPC, CSRRW/S/C (+ immediate forms), ECALL/EBREAK, MRET/SRET,
FENCE and WFI.
*/

package river

type CpuStage int

const (
	StageFetch CpuStage = iota
	StageDecode
	StageExecute
	StageMemAccess
	StageWriteback
	StageTrapEntry
	StageWfi
)

type cpuRegs struct {
	stage CpuStage

	pc     uint64
	instr  uint32
	fault  bool
	faultCause uint64
	faultTval  uint64

	// decoded fields
	opcode, rd, rs1, rs2, funct3, funct7 uint32
	imm                                  int64
	isCsr                                bool
	csrIdx                               uint16
	csrWriteType                         WriteType
	isLoad, isStore                      bool
	memWidth                             int // bytes
	memSigned                            bool
	isBranch, isJal, isJalr              bool
	branchTaken                          bool
	isLui, isAuipc                       bool
	isEcall, isEbreak                    bool
	isMret, isSret, isFence, isWfi       bool
	isLR, isSC                           bool
	illegal                              bool

	aluResult uint64
	memResult uint32
	nextPC    uint64

	retiredThisTick bool
}

// Cpu is one RISC-V hart.
type Cpu struct {
	hartID int
	xreg   [32]uint64
	csr    *Csr

	icache *ICacheLru
	dcache *DCacheLru

	resetVector uint64

	r, v cpuRegs
}

// NewCpu elaborates one hart wired to its private I/D cache ports and
// CSR file.
func NewCpu(hartID int, resetVector uint64, icache *ICacheLru, dcache *DCacheLru, csr *Csr) *Cpu {
	c := &Cpu{hartID: hartID, resetVector: resetVector, icache: icache, dcache: dcache, csr: csr}
	c.r.pc = resetVector
	c.r.stage = StageFetch
	return c
}

func signExtend(v uint32, bits uint) int64 {
	shift := 32 - bits
	return int64(int32(v<<shift)) >> shift
}

func (c *Cpu) decode(instr uint32) {
	v := &c.v
	v.instr = instr
	v.opcode = instr & 0x7F
	v.rd = (instr >> 7) & 0x1F
	v.funct3 = (instr >> 12) & 0x7
	v.rs1 = (instr >> 15) & 0x1F
	v.rs2 = (instr >> 20) & 0x1F
	v.funct7 = (instr >> 25) & 0x7F

	v.isCsr, v.isLoad, v.isStore = false, false, false
	v.isBranch, v.isJal, v.isJalr = false, false, false
	v.isLui, v.isAuipc = false, false
	v.isEcall, v.isEbreak = false, false
	v.isMret, v.isSret, v.isFence, v.isWfi = false, false, false, false
	v.isLR, v.isSC = false, false
	v.illegal = false

	switch v.opcode {
	case 0x37: // LUI
		v.isLui = true
		v.imm = int64(int32(instr & 0xFFFFF000))
	case 0x17: // AUIPC
		v.isAuipc = true
		v.imm = int64(int32(instr & 0xFFFFF000))
	case 0x6F: // JAL
		v.isJal = true
		raw := ((instr>>31)&1)<<20 | (instr>>21&0x3FF)<<1 | (instr>>20&1)<<11 | (instr>>12&0xFF)<<12
		v.imm = signExtend(raw, 21)
	case 0x67: // JALR
		v.isJalr = true
		v.imm = signExtend(instr>>20, 12)
	case 0x63: // branches
		v.isBranch = true
		raw := ((instr>>31)&1)<<12 | (instr>>7&1)<<11 | (instr>>25&0x3F)<<5 | (instr>>8&0xF)<<1
		v.imm = signExtend(raw, 13)
	case 0x03: // loads
		v.isLoad = true
		v.imm = signExtend(instr>>20, 12)
		switch v.funct3 {
		case 0:
			v.memWidth, v.memSigned = 1, true
		case 1:
			v.memWidth, v.memSigned = 2, true
		case 2:
			v.memWidth, v.memSigned = 4, false
		case 4:
			v.memWidth, v.memSigned = 1, false
		case 5:
			v.memWidth, v.memSigned = 2, false
		default:
			v.illegal = true
		}
	case 0x23: // stores
		v.isStore = true
		raw := (instr >> 25 << 5) | ((instr >> 7) & 0x1F)
		v.imm = signExtend(raw, 12)
		if v.funct3 > 2 {
			v.illegal = true
		}
		v.memWidth = 1 << v.funct3
	case 0x2F: // AMO / LR/SC (word only)
		switch v.funct7 >> 2 {
		case 0x02:
			v.isLR = true
			v.isLoad = true
			v.memWidth, v.memSigned = 4, false
		case 0x03:
			v.isSC = true
			v.isStore = true
			v.memWidth = 4
		default:
			v.illegal = true
		}
	case 0x13: // OP-IMM
		v.imm = signExtend(instr>>20, 12)
	case 0x33: // OP
	case 0x0F:
		v.isFence = true
	case 0x73: // SYSTEM
		switch v.funct3 {
		case 0:
			switch instr >> 20 {
			case 0x000:
				v.isEcall = true
			case 0x001:
				v.isEbreak = true
			case 0x302:
				v.isMret = true
			case 0x102:
				v.isSret = true
			case 0x105:
				v.isWfi = true
			default:
				v.illegal = true
			}
		case 1, 2, 3, 5, 6, 7:
			v.isCsr = true
			v.csrIdx = uint16(instr >> 20)
			switch v.funct3 {
			case 1, 5:
				v.csrWriteType = CsrWriteAssign
			case 2, 6:
				v.csrWriteType = CsrWriteSet
			case 3, 7:
				v.csrWriteType = CsrWriteClear
			}
		default:
			v.illegal = true
		}
	default:
		v.illegal = true
	}
}

func (c *Cpu) regRead(idx uint32) uint64 {
	if idx == 0 {
		return 0
	}
	return c.xreg[idx]
}

func (c *Cpu) regWrite(idx uint32, val uint64) {
	if idx != 0 {
		c.xreg[idx] = val
	}
}

// Comb advances the pipeline's staging copy. Side effects that must
// happen exactly once per tick (CSR mutation, trap entry) are deferred
// to Commit, matching icache.go/dcache.go's split. The cache request
// ports are re-driven on every pass: deasserted by default, asserted
// only while a fetch or memory access is genuinely outstanding, so a
// device store is latched by the D-cache exactly once.
func (c *Cpu) Comb() {
	c.v = c.r
	c.v.retiredThisTick = false
	c.icache.SetRequest(ICacheRequest{})
	c.dcache.SetRequest(DCacheRequest{})

	if c.csr.Halted() && !c.csr.ProgbufEna() {
		return
	}

	switch c.r.stage {
	case StageFetch:
		if c.r.pc&0x3 != 0 {
			c.v.fault = true
			c.v.faultCause = CauseFetchAddrMisaligned
			c.v.faultTval = c.r.pc
			c.v.stage = StageTrapEntry
			break
		}
		c.icache.SetRequest(ICacheRequest{Valid: true, Addr: c.r.pc})
		c.v.stage = StageDecode

	case StageDecode:
		resp := c.icache.Response()
		if !resp.Valid || resp.Addr != c.r.pc {
			// keep the request asserted: the cache may still be busy
			// with a superseded fetch and latches this one when idle
			c.icache.SetRequest(ICacheRequest{Valid: true, Addr: c.r.pc})
			return
		}
		if resp.LoadFault {
			c.v.fault = true
			c.v.faultCause = CauseInstructionAccessFault
			c.v.faultTval = c.r.pc
			c.v.stage = StageTrapEntry
			return
		}
		c.decode(resp.Data)
		if c.v.illegal {
			c.v.fault = true
			c.v.faultCause = CauseIllegalInstruction
			c.v.faultTval = uint64(resp.Data)
			c.v.stage = StageTrapEntry
			return
		}
		c.v.stage = StageExecute

	case StageExecute:
		c.execute()
		if c.v.fault {
			break // execute latched a CSR-read fault into StageTrapEntry
		}
		if c.v.isLoad || c.v.isStore {
			addr := c.v.aluResult
			if c.v.memWidth > 1 && addr%uint64(c.v.memWidth) != 0 {
				c.v.fault = true
				if c.v.isStore {
					c.v.faultCause = CauseStoreAddrMisaligned
				} else {
					c.v.faultCause = CauseLoadAddrMisaligned
				}
				c.v.faultTval = addr
				c.v.stage = StageTrapEntry
				break
			}
			c.v.stage = StageMemAccess
		} else {
			c.v.stage = StageWriteback
		}

	case StageMemAccess:
		resp := c.dcache.Response()
		if !resp.Valid || resp.Addr != c.v.aluResult {
			c.dcache.SetRequest(DCacheRequest{
				Valid:   true,
				Addr:    c.v.aluResult,
				IsWrite: c.v.isStore,
				Data:    uint32(c.regRead(c.v.rs2)),
				Strb:    byte(1<<uint(c.v.memWidth) - 1),
				IsLR:    c.v.isLR,
				IsSC:    c.v.isSC,
			})
			return
		}
		if resp.LoadFault || resp.StoreFault {
			c.v.fault = true
			if resp.LoadFault {
				c.v.faultCause = CauseLoadFault
			} else {
				c.v.faultCause = CauseStoreFault
			}
			c.v.faultTval = c.v.aluResult
			c.v.stage = StageTrapEntry
			return
		}
		c.v.memResult = maskAndExtend(resp.Data, c.v.memWidth, c.v.memSigned)
		if c.v.isSC {
			if resp.SCFailed {
				c.v.memResult = 1
			} else {
				c.v.memResult = 0
			}
		}
		c.v.stage = StageWriteback

	case StageWriteback:
		c.v.retiredThisTick = true
		c.v.stage = StageFetch
		c.v.pc = c.v.nextPC

	case StageTrapEntry:
		c.v.stage = StageFetch

	case StageWfi:
		if c.csr.InterruptPending() >= 0 {
			c.v.stage = StageFetch
		}
	}
}

func maskAndExtend(data uint32, width int, signed bool) uint32 {
	var mask uint32
	switch width {
	case 1:
		mask = 0xFF
	case 2:
		mask = 0xFFFF
	default:
		return data
	}
	v := data & mask
	if signed {
		shift := 32 - width*8
		return uint32(int32(v<<uint(shift)) >> uint(shift))
	}
	return v
}

func (c *Cpu) execute() {
	v := &c.v
	pc := v.pc
	rs1v := c.regRead(v.rs1)
	rs2v := c.regRead(v.rs2)

	v.nextPC = pc + 4

	switch {
	case v.isLui:
		v.aluResult = uint64(uint32(v.imm))
	case v.isAuipc:
		v.aluResult = pc + uint64(uint32(v.imm))
	case v.isJal:
		v.aluResult = pc + 4
		v.nextPC = uint64(int64(pc) + v.imm)
	case v.isJalr:
		v.aluResult = pc + 4
		v.nextPC = (uint64(int64(rs1v)+v.imm)) &^ 1
	case v.isBranch:
		taken := c.branchCond(rs1v, rs2v)
		if taken {
			v.nextPC = uint64(int64(pc) + v.imm)
		}
		v.branchTaken = taken
	case v.isLoad, v.isStore:
		v.aluResult = uint64(int64(rs1v) + v.imm)
	case v.isCsr:
		old, err := c.csr.Read(v.csrIdx)
		if err != nil {
			v.fault = true
			v.faultCause = CauseIllegalInstruction
			v.faultTval = uint64(v.instr)
			v.stage = StageTrapEntry
			return
		}
		v.aluResult = old
	case v.isFence, v.isWfi, v.isEcall, v.isEbreak, v.isMret, v.isSret:
		// handled in Commit / stage transition
	case v.opcode == 0x13:
		v.aluResult = c.aluOp(v.funct3, v.funct7, rs1v, uint64(int64(v.imm)), true)
	case v.opcode == 0x33:
		v.aluResult = c.aluOp(v.funct3, v.funct7, rs1v, rs2v, false)
	}
}

func (c *Cpu) branchCond(a, b uint64) bool {
	switch c.v.funct3 {
	case 0:
		return a == b
	case 1:
		return a != b
	case 4:
		return int64(a) < int64(b)
	case 5:
		return int64(a) >= int64(b)
	case 6:
		return a < b
	case 7:
		return a >= b
	}
	return false
}

func (c *Cpu) aluOp(funct3, funct7 uint32, a, b uint64, isImm bool) uint64 {
	switch funct3 {
	case 0:
		if !isImm && funct7&0x20 != 0 {
			return a - b
		}
		return a + b
	case 1:
		return a << (b & 0x1F)
	case 2:
		if int64(a) < int64(b) {
			return 1
		}
		return 0
	case 3:
		if a < b {
			return 1
		}
		return 0
	case 4:
		return a ^ b
	case 5:
		if funct7&0x20 != 0 {
			return uint64(int32(uint32(a)) >> (b & 0x1F))
		}
		return uint64(uint32(a) >> (b & 0x1F))
	case 6:
		return a | b
	case 7:
		return a & b
	}
	return 0
}

// Commit performs every once-per-tick side effect: CSR file writes,
// traps, xrets, WFI entry and register writeback, then latches v into
// r exactly the way every other component in this simulator does.
func (c *Cpu) Commit() {
	switch c.r.stage {
	case StageExecute:
		v := &c.v
		if v.fault {
			// a CSR-read fault latched during execute; no side effects
			// beyond progbuf error reporting
			if c.csr.ProgbufEna() {
				c.csr.ProgbufFault()
				v.fault = false
				v.stage = StageExecute
			}
		} else if v.isCsr {
			rs1raw := c.regRead(v.rs1)
			if v.instr&(1<<14) != 0 { // funct3 bit2 set => immediate form (zimm in rs1 field)
				rs1raw = uint64(v.rs1)
			}
			var err error
			if v.csrWriteType == CsrWriteAssign || v.rs1 != 0 {
				// csrrs/csrrc(i) with rs1 = x0 (zimm = 0) only read the CSR
				err = c.csr.Write(v.csrIdx, rs1raw, v.csrWriteType)
			}
			if err != nil {
				if c.csr.ProgbufEna() {
					c.csr.ProgbufFault()
				} else {
					v.fault = true
					v.faultCause = CauseIllegalInstruction
					v.faultTval = uint64(v.instr)
					v.stage = StageTrapEntry
				}
			} else {
				c.regWrite(v.rd, v.aluResult)
			}
		} else if v.isEcall {
			cause := uint64(CauseEcallM)
			switch c.csr.Mode() {
			case PrivU:
				cause = CauseEcallU
			case PrivS:
				cause = CauseEcallS
			}
			c.csr.Trap(cause, false, 0, v.pc)
			v.nextPC = c.csr.VectorPC(c.csr.Mode(), cause, false)
		} else if v.isEbreak {
			if !c.csr.Ebreak(v.pc) {
				v.nextPC = c.csr.VectorPC(c.csr.Mode(), CauseBreakpoint, false)
			}
		} else if v.isMret {
			pc, err := c.csr.Xret(PrivM)
			if err == nil {
				v.nextPC = pc
			}
		} else if v.isSret {
			pc, err := c.csr.Xret(PrivS)
			if err == nil {
				v.nextPC = pc
			}
		} else if v.isWfi {
			v.stage = StageWfi
		} else if !v.isLoad && !v.isStore && !v.isBranch && !v.isJal && !v.isJalr && !v.isFence {
			c.regWrite(v.rd, v.aluResult)
		} else if v.isJal || v.isJalr {
			c.regWrite(v.rd, v.aluResult)
		}

	case StageMemAccess:
		if c.v.stage == StageWriteback && (c.v.isLoad || c.v.isSC) {
			c.regWrite(c.v.rd, uint64(c.v.memResult))
		}

	case StageTrapEntry:
		v := &c.v
		if c.csr.ProgbufEna() {
			c.csr.ProgbufFault()
		} else {
			c.csr.Trap(v.faultCause, false, v.faultTval, v.pc)
			v.pc = c.csr.VectorPC(c.csr.Mode(), v.faultCause, false)
		}
		v.fault = false
	}

	c.csr.CheckStackGuards(c.xreg[2])
	c.csr.TickCounters(c.v.retiredThisTick)

	if irq := c.csr.InterruptPending(); irq >= 0 && !c.csr.Halted() &&
		(c.v.stage == StageFetch || c.v.stage == StageWfi) {
		isInterrupt := true
		target := c.csr.delegateTarget(uint64(irq), isInterrupt)
		c.csr.Trap(uint64(irq), isInterrupt, 0, c.v.pc)
		c.v.pc = c.csr.VectorPC(target, uint64(irq), isInterrupt)
		c.v.stage = StageFetch
	}

	c.r = c.v
}

// Reset drives the hart back to its reset vector and Fetch stage.
func (c *Cpu) Reset() {
	c.xreg = [32]uint64{}
	c.r = cpuRegs{pc: c.resetVector, stage: StageFetch}
	c.v = c.r
}

// PC reports the hart's current program counter, used by
// debug/scenario tooling.
func (c *Cpu) PC() uint64 { return c.r.pc }

// Register reads one integer register, x0 always reading zero.
func (c *Cpu) Register(idx uint32) uint64 { return c.regRead(idx) }

// SetRegister is a debug-only write path (DMI program-buffer
// execution and scenario scripting use it to seed state).
func (c *Cpu) SetRegister(idx uint32, v uint64) { c.regWrite(idx, v) }
