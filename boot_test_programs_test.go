package river

import "testing"

func TestTimerInterruptBootProgramServicesAVectoredTrap(t *testing.T) {
	resetVector := uint32(DefaultSimConfig().ResetVector)
	clintMtimecmpAddr := uint32(addrClint + clintMtimecmpBase)
	prog := TimerInterruptBootProgram(resetVector, clintMtimecmpAddr, 5)

	s := assembleAndRun(t, prog, 800)
	cpu := s.Hart(0).Cpu
	csr := s.Hart(0).Csr

	if got := cpu.Register(6); got != 1 {
		t.Fatalf("x6 = %d, want 1 (the vectored trap handler should have run)", got)
	}
	mie, err := csr.Read(csrMie)
	if err != nil {
		t.Fatalf("read mie: %v", err)
	}
	if mie&(1<<IrqMachineTimer) != 0 {
		t.Fatalf("mie.mtie = set, want cleared by the handler before mret")
	}
	if csr.Mode() != PrivM {
		t.Fatalf("mode after mret = %v, want PrivM (boot program never leaves M-mode)", csr.Mode())
	}
}
