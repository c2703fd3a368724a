// dmi.go - Debug Module Interface

/*
Dmi models the external debug port: a single shared halt/resume
control register plus an 8-word program buffer a halted hart can
execute one instruction at a time, reporting
dbg_progbuf_ena/progbuf_err/progbuf_end exactly as Csr's own progbuf
fields do (csr.go already carries these per-hart; Dmi is the thing
that drives them from the outside).

The capability surface is deliberately small - Halt/Resume/
ExecProgramBuffer/ReadGPR/WriteGPR - against this simulator's one
concrete hart type rather than a generic attach-to-anything debugger
abstraction.
*/

package river

// DmiRunControl is the shared halt/resume register's decoded view.
type DmiRunControl struct {
	ReqHalt   bool
	ReqResume bool
	Halted    bool
}

// Dmi is the debug transport's core, independent of whatever carries
// bytes to it (riverdbg's interactive host, or a Lua scenario script
// driving it directly).
type Dmi struct {
	cpu *Cpu

	runControl DmiRunControl

	progbuf [8]uint32
}

// NewDmi attaches a debug port to one hart.
func NewDmi(cpu *Cpu) *Dmi { return &Dmi{cpu: cpu} }

// Halt stops the hart at once: from the next Comb on it does not
// advance, whatever stage its current instruction has reached.
func (d *Dmi) Halt() {
	d.runControl.ReqHalt = true
	d.cpu.csr.SetHalted(true)
	d.runControl.Halted = true
}

// Resume clears the halt request and lets the hart's Comb/Commit
// resume advancing.
func (d *Dmi) Resume() {
	d.runControl.ReqHalt = false
	d.runControl.Halted = false
	d.cpu.csr.SetHalted(false)
}

// Halted reports the hart's current run state.
func (d *Dmi) Halted() bool { return d.runControl.Halted }

// LoadProgramBuffer installs up to 8 raw instruction words, cleared
// to NOP (0x13, ADDI x0,x0,0) beyond the given length.
func (d *Dmi) LoadProgramBuffer(words []uint32) {
	for i := range d.progbuf {
		if i < len(words) {
			d.progbuf[i] = words[i]
		} else {
			d.progbuf[i] = 0x00000013
		}
	}
}

// progbufInstrTicks bounds how long one program-buffer instruction may
// occupy the stage machine, covering a full cache-miss round trip.
const progbufInstrTicks = 64

// ExecProgramBuffer steps the hart through the program buffer one
// instruction at a time, stopping early (and setting progbuf_err) on
// a fault, matching Csr.ProgbufFault's contract.
//
// Each buffered word is injected at the Execute stage of the hart's
// own pipeline and then driven through the real Comb/Commit stage
// machine - including MemAccess against the hart's D-cache - so a
// load or store in the buffer reaches memory exactly the way it would
// from fetched code. The hart's architectural pipeline state is
// snapshotted up front and restored afterwards.
func (d *Dmi) ExecProgramBuffer() error {
	if !d.runControl.Halted {
		return Fatal(ErrElaboration, "DMI: program buffer requires the hart to be halted")
	}
	d.cpu.csr.SetProgbufEna(true)
	saved := d.cpu.r
	for i, instr := range d.progbuf {
		d.cpu.r.pc = uint64(i) * 4
		d.cpu.r.stage = StageExecute
		d.cpu.v = d.cpu.r
		d.cpu.decode(instr)
		if d.cpu.v.illegal {
			d.cpu.csr.ProgbufFault()
			break
		}
		d.cpu.r = d.cpu.v

		// Drive the hart and its caches tick by tick, in the same
		// Comb-then-Commit registration order the simulator's clock
		// uses, until the instruction retires or faults.
		for tick := 0; tick < progbufInstrTicks; tick++ {
			d.cpu.Comb()
			d.cpu.dcache.Comb()
			d.cpu.icache.Comb()
			d.cpu.Commit()
			d.cpu.dcache.Commit()
			d.cpu.icache.Commit()
			if d.cpu.csr.ProgbufErr() || d.cpu.r.stage == StageFetch {
				break
			}
		}
		if d.cpu.csr.ProgbufErr() {
			break
		}
	}
	d.cpu.csr.SetProgbufEna(false)
	d.cpu.r = saved
	d.cpu.v = saved
	return nil
}

// ReadGPR/WriteGPR give a debugger direct access to the hart's
// integer register file while halted.
func (d *Dmi) ReadGPR(idx uint32) uint64       { return d.cpu.Register(idx) }
func (d *Dmi) WriteGPR(idx uint32, v uint64) { d.cpu.SetRegister(idx, v) }

// PC reports the halted hart's program counter.
func (d *Dmi) PC() uint64 { return d.cpu.PC() }
