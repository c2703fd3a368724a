package river

import "testing"

func TestClintMtimeAdvancesEachTick(t *testing.T) {
	c := NewClint(1)
	for i := 0; i < 10; i++ {
		c.Tick()
	}
	if c.MTime() != 10 {
		t.Fatalf("mtime = %d, want 10", c.MTime())
	}
}

func TestClintMtipAssertsAtMtimecmp(t *testing.T) {
	c := NewClint(1)
	c.Write(clintMtimecmpBase, 8, word64(5), 0xFF)
	if c.MTIP(0) {
		t.Fatalf("mtip should be clear before mtime reaches mtimecmp")
	}
	for i := 0; i < 5; i++ {
		c.Tick()
	}
	if !c.MTIP(0) {
		t.Fatalf("mtip should assert once mtime >= mtimecmp")
	}
}

func TestClintMsipRoundTrips(t *testing.T) {
	c := NewClint(1)
	c.Write(clintMsipBase, 4, word32(1), 0xF)
	if !c.MSIP(0) {
		t.Fatalf("msip should be set after writing 1")
	}
	c.Write(clintMsipBase, 4, word32(0), 0xF)
	if c.MSIP(0) {
		t.Fatalf("msip should clear after writing 0")
	}
}

func TestClintUnmappedAddressFaults(t *testing.T) {
	c := NewClint(1)
	if _, resp := c.Read(0x100, 4); resp != RespDECERR {
		t.Fatalf("resp = %v, want DECERR for unmapped CLINT address", resp)
	}
}

func TestClintPerHartRegistersAreIndependent(t *testing.T) {
	c := NewClint(2)
	c.Write(clintMsipBase, 4, word32(1), 0xF)
	c.Write(clintMtimecmpBase+clintMtimecmpStride, 8, word64(3), 0xFF)

	if !c.MSIP(0) {
		t.Fatalf("hart 0's msip should be set")
	}
	if c.MSIP(1) {
		t.Fatalf("hart 1's msip should be unaffected by hart 0's write")
	}
	if c.MTIP(0) {
		t.Fatalf("hart 0's mtip should be clear: its mtimecmp was never written")
	}
	for i := 0; i < 3; i++ {
		c.Tick()
	}
	if c.MTIP(0) {
		t.Fatalf("hart 0's mtip should stay clear: only hart 1's mtimecmp was programmed")
	}
	if !c.MTIP(1) {
		t.Fatalf("hart 1's mtip should assert once shared mtime reaches its mtimecmp")
	}
}

func word64(v uint64) (out [8]byte) {
	for i := 0; i < 8; i++ {
		out[i] = byte(v >> (8 * uint(i)))
	}
	return out
}
