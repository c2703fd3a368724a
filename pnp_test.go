package river

import "testing"

func TestPnpHeaderEncodesCounts(t *testing.T) {
	p := NewPnp(0xCAFEBABE, 2, 32)
	p.AddMaster(1, 1)
	p.AddSlave(0x10000, 0x10000, 0, 1, 2)
	p.AddSlave(0x20000, 0x10000, 3, 1, 3)

	data, _ := p.Read(0, 4)
	if u32(data) != 0xCAFEBABE {
		t.Fatalf("hwid = 0x%x, want 0xCAFEBABE", u32(data))
	}
	data, _ = p.Read(8, 4)
	header := u32(data)
	if cpuMax := (header >> 4) & 0xF; cpuMax != 2 {
		t.Fatalf("cpuMax field = %d, want 2", cpuMax)
	}
	if masters := (header >> 8) & 0xFF; masters != 1 {
		t.Fatalf("master count field = %d, want 1", masters)
	}
	if slaves := (header >> 16) & 0xFF; slaves != 2 {
		t.Fatalf("slave count field = %d, want 2", slaves)
	}
	if irqTotal := (header >> 24) & 0xFF; irqTotal != 32 {
		t.Fatalf("plicIrqTotal field = %d, want 32", irqTotal)
	}
}

func TestPnpSlaveRecordReportsBaseAndMask(t *testing.T) {
	p := NewPnp(1, 1, 8)
	p.AddSlave(0x08000000, 0x00100000, 0, 0x10, 0x20)

	base := pnpHeaderBytes + pnpSlaveRecordBytes*0 // no masters in this table
	data, _ := p.Read(uint64(base+4), 4)
	if u32(data) != 0x08000000 {
		t.Fatalf("slave base = 0x%x, want 0x08000000", u32(data))
	}
	data, _ = p.Read(uint64(base+8), 4)
	if u32(data) != ^uint32(0x00100000-1) {
		t.Fatalf("slave mask = 0x%x, want ^(size-1)", u32(data))
	}
}

func TestPnpRejectsWrite(t *testing.T) {
	p := NewPnp(1, 1, 8)
	if resp := p.Write(0, 4, word32(0), 0xF); resp != RespSLVERR {
		t.Fatalf("resp = %v, want SLVERR (PnP table is read-only)", resp)
	}
}
