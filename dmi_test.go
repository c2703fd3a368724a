package river

import "testing"

func newTestHart(t *testing.T) (*Cpu, *Dmi) {
	t.Helper()
	mpu := NewMPU()
	icCfg := DefaultSimConfig().ICacheCfg
	dcCfg := DefaultSimConfig().DCacheCfg
	bus := NewInterconnect()
	top := NewCacheTop(bus)
	ic, err := NewICacheLru(icCfg, mpu, top.ICachePort())
	if err != nil {
		t.Fatalf("icache: %v", err)
	}
	dc, err := NewDCacheLru(dcCfg, mpu, top.DCachePort())
	if err != nil {
		t.Fatalf("dcache: %v", err)
	}
	csr := NewCsr(0, 0x1000)
	cpu := NewCpu(0, 0x1000, ic, dc, csr)
	return cpu, NewDmi(cpu)
}

func TestDmiHaltResumeTogglesCsrHaltedAndRunControl(t *testing.T) {
	cpu, d := newTestHart(t)
	if d.Halted() {
		t.Fatalf("a fresh Dmi should not report halted")
	}
	d.Halt()
	if !d.Halted() || !cpu.csr.Halted() {
		t.Fatalf("Halt() should set both Dmi and Csr halted state")
	}
	d.Resume()
	if d.Halted() || cpu.csr.Halted() {
		t.Fatalf("Resume() should clear both Dmi and Csr halted state")
	}
}

func TestDmiLoadProgramBufferPadsWithNop(t *testing.T) {
	_, d := newTestHart(t)
	d.LoadProgramBuffer([]uint32{0xdeadbeef})
	if d.progbuf[0] != 0xdeadbeef {
		t.Fatalf("progbuf[0] = 0x%x, want the supplied word", d.progbuf[0])
	}
	for i := 1; i < len(d.progbuf); i++ {
		if d.progbuf[i] != 0x00000013 {
			t.Fatalf("progbuf[%d] = 0x%x, want NOP padding (0x13)", i, d.progbuf[i])
		}
	}
}

func TestDmiExecProgramBufferRequiresHalt(t *testing.T) {
	_, d := newTestHart(t)
	d.LoadProgramBuffer(nil)
	if err := d.ExecProgramBuffer(); err == nil {
		t.Fatalf("expected an error executing the program buffer on a running hart")
	}
}

func TestDmiExecProgramBufferRunsAnInstructionAndRestoresState(t *testing.T) {
	cpu, d := newTestHart(t)
	cpu.r.pc = 0x4000
	cpu.r.stage = StageDecode
	d.Halt()

	// addi x5, x0, 9
	d.LoadProgramBuffer([]uint32{0x00900293})
	if err := d.ExecProgramBuffer(); err != nil {
		t.Fatalf("ExecProgramBuffer: %v", err)
	}
	if got := cpu.Register(5); got != 9 {
		t.Fatalf("x5 = %d, want 9", got)
	}
	if cpu.r.pc != 0x4000 || cpu.r.stage != StageDecode {
		t.Fatalf("ExecProgramBuffer should restore the hart's pc/stage after running")
	}
	if cpu.csr.ProgbufEna() {
		t.Fatalf("progbuf_ena should be cleared once execution completes")
	}
}

func TestDmiExecProgramBufferStopsEarlyOnFault(t *testing.T) {
	cpu, d := newTestHart(t)
	d.Halt()

	// csrrw x0, mcycle(0xB00, read-only), x1   -- faults on the write
	// addi x5, x0, 9                            -- must not execute
	faultingCsrw := uint32(0xB00<<20) | (1 << 15) | (1 << 12) | 0x73
	d.LoadProgramBuffer([]uint32{faultingCsrw, 0x00900293})
	if err := d.ExecProgramBuffer(); err != nil {
		t.Fatalf("ExecProgramBuffer: %v", err)
	}
	if !cpu.csr.ProgbufErr() {
		t.Fatalf("expected progbuf_err to be set after the faulting write")
	}
	if got := cpu.Register(5); got != 0 {
		t.Fatalf("x5 = %d, want 0 (the instruction after the fault must not retire)", got)
	}
}

func TestDmiExecProgramBufferStoreAndLoadReachMemory(t *testing.T) {
	s, err := NewSimulator(DefaultSimConfig())
	if err != nil {
		t.Fatalf("elaboration failed: %v", err)
	}
	d := s.Hart(0).Dmi
	d.Halt()

	addr := uint64(addrSram + 0x40)
	d.WriteGPR(1, addr)
	d.WriteGPR(2, 0xC0DE)

	// sw x2, 0(x1); lw x3, 0(x1)
	d.LoadProgramBuffer([]uint32{rvSW(2, 1, 0), 0x0000A183})
	if err := d.ExecProgramBuffer(); err != nil {
		t.Fatalf("ExecProgramBuffer: %v", err)
	}
	if s.Hart(0).Csr.ProgbufErr() {
		t.Fatalf("progbuf_err set for a plain store/load pair")
	}
	if got := d.ReadGPR(3); got != 0xC0DE {
		t.Fatalf("x3 = 0x%x, want the stored 0xC0DE loaded back through the D-cache", got)
	}
	data, resp := s.Sram.Read(0x40, 4)
	if resp != RespOKAY || u32(data) != 0xC0DE {
		t.Fatalf("sram word = 0x%x resp=%v, want the program-buffer store visible in memory", u32(data), resp)
	}
}

func TestDmiReadWriteGPR(t *testing.T) {
	_, d := newTestHart(t)
	d.WriteGPR(10, 0xABCD)
	if got := d.ReadGPR(10); got != 0xABCD {
		t.Fatalf("x10 = 0x%x, want 0xABCD", got)
	}
	if got := d.ReadGPR(0); got != 0 {
		t.Fatalf("x0 must always read zero, got 0x%x", got)
	}
}
