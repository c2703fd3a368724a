package river

import "testing"

func TestSdCtrlSckdivAndWdogRoundTrip(t *testing.T) {
	s := NewSdCtrl()
	s.Write(sdRegSckdiv, 4, word32(10), 0xF)
	s.Write(sdRegWdog, 4, word32(0x1234), 0xF)

	data, _ := s.Read(sdRegSckdiv, 4)
	if u32(data) != 10 {
		t.Fatalf("sckdiv = %d, want 10", u32(data))
	}
	data, _ = s.Read(sdRegWdog, 4)
	if u32(data) != 0x1234 {
		t.Fatalf("wdog = 0x%x, want 0x1234", u32(data))
	}
}

func TestSdCtrlTxCtrlFieldsRoundTrip(t *testing.T) {
	s := NewSdCtrl()
	s.SetCardState(true, true, true)
	v := uint32(1<<7) | uint32(1<<8) | uint32(5)<<16 // generateCRC, rxEna, enaByteCnt=5
	s.Write(sdRegTxCtrl, 4, word32(v), 0xF)

	data, _ := s.Read(sdRegTxCtrl, 4)
	got := u32(data)
	if got&1 == 0 {
		t.Fatalf("detected bit should read back set")
	}
	if got&(1<<7) == 0 {
		t.Fatalf("generateCRC bit should read back set")
	}
	if got&(1<<8) == 0 {
		t.Fatalf("rxEna bit should read back set")
	}
	if (got>>16)&0xFFFF != 5 {
		t.Fatalf("enaByteCnt field = %d, want 5", (got>>16)&0xFFFF)
	}
}

func TestSdCtrlTxFifoReportsFullFlag(t *testing.T) {
	s := NewSdCtrl()
	for i := 0; i < sdFifoDepth; i++ {
		s.Write(sdRegTxFifo, 4, word32(0xFF), 0xF)
	}
	data, _ := s.Read(sdRegTxFifo, 4)
	if u32(data)&(1<<31) == 0 {
		t.Fatalf("tx fifo should report full once depth is reached")
	}
}

func TestSdCtrlRxFifoPopsInOrder(t *testing.T) {
	s := NewSdCtrl()
	s.rxFifo = append(s.rxFifo, 0x11, 0x22, 0x33)
	for _, want := range []uint32{0x11, 0x22, 0x33} {
		data, _ := s.Read(sdRegRxFifo, 4)
		if got := u32(data); got != want {
			t.Fatalf("rx pop = 0x%x, want 0x%x (reads must dequeue in order)", got, want)
		}
	}
	data, _ := s.Read(sdRegRxFifo, 4)
	if u32(data)&(1<<31) == 0 {
		t.Fatalf("a drained rx fifo must report the empty sentinel")
	}
}

func TestSdCtrlRxFifoReportsEmptySentinel(t *testing.T) {
	s := NewSdCtrl()
	data, _ := s.Read(sdRegRxFifo, 4)
	if u32(data)&(1<<31) == 0 {
		t.Fatalf("empty rx fifo read should set the sentinel bit")
	}
}

func TestSdCtrlUnmappedRegisterFaults(t *testing.T) {
	s := NewSdCtrl()
	if _, resp := s.Read(0x04, 4); resp != RespDECERR {
		t.Fatalf("resp = %v, want DECERR for an unmapped SD register", resp)
	}
}

func TestSdCtrlScalerTogglesLevelPeriodically(t *testing.T) {
	s := NewSdCtrl()
	s.Write(sdRegSckdiv, 4, word32(2), 0xF)
	initial := s.level
	toggled := false
	for i := 0; i < 10; i++ {
		s.Comb()
		s.Commit()
		if s.level != initial {
			toggled = true
			break
		}
	}
	if !toggled {
		t.Fatalf("expected the SCLK level to toggle once the scaler counter wraps")
	}
}

// TestSdCtrlRecvByteLandsInRxFifo drives the full scaler/FSM path for
// one received byte: rx_ena with rx_synced pre-armed skips the start
// bit search, so eight MISO bits sampled on consecutive posedges must
// assemble MSB-first into the RX FIFO, with CRC16 accumulating over
// the same bits, and the FSM must return to Idle once CS drops.
func TestSdCtrlRecvByteLandsInRxFifo(t *testing.T) {
	s := NewSdCtrl()
	s.Write(sdRegSckdiv, 4, word32(1), 0xF)
	s.Write(sdRegWdog, 4, word32(0xFF), 0xF)
	ctrl := uint32(1<<8) | uint32(1<<9) | uint32(1)<<16 // rx_ena, rx_synced, ena_byte_cnt=1
	s.Write(sdRegTxCtrl, 4, word32(ctrl), 0xF)

	const payload = 0xA5
	bitIdx := 0
	var wantCrc uint16
	for i := 0; i < 40; i++ {
		// with scaler=1 a posedge lands on every tick that starts with
		// level low; feed the next MSB-first bit ahead of each sample
		if !s.level && s.cs && s.rxSynced {
			bit := false
			if bitIdx < 8 {
				bit = payload&(1<<(7-bitIdx)) != 0
				bitIdx++
			}
			s.SetCardState(true, false, bit)
			wantCrc = crc16Next(wantCrc, bit)
		}
		s.Comb()
		s.Commit()
	}

	if bitIdx != 8 {
		t.Fatalf("sampled %d bits, want all 8 shifted in", bitIdx)
	}
	data, _ := s.Read(sdRegRxFifo, 4)
	if got := u32(data); got&(1<<31) != 0 || got&0xFF != payload {
		t.Fatalf("rx fifo = 0x%x, want the received 0x%02x byte", got, payload)
	}
	if s.crc16 != wantCrc {
		t.Fatalf("crc16 = 0x%04x, want 0x%04x accumulated over the received bits", s.crc16, wantCrc)
	}
	if s.state != sdStateIdle {
		t.Fatalf("state = %d, want Idle after CS drops", s.state)
	}
}

func TestCrc7NextStaysWithinSevenBits(t *testing.T) {
	var crc uint8
	for i := 0; i < 64; i++ {
		crc = crc7Next(crc, i%3 == 0)
		if crc&^uint8(0x7F) != 0 {
			t.Fatalf("crc7 escaped its 7-bit range: 0x%x", crc)
		}
	}
}

func TestCrc16NextIsDeterministic(t *testing.T) {
	var a, b uint16
	bits := []bool{true, false, true, true, false, false, true}
	for _, bit := range bits {
		a = crc16Next(a, bit)
		b = crc16Next(b, bit)
	}
	if a != b {
		t.Fatalf("crc16Next should be a pure function of state and bit")
	}
}

func TestSdMemAlwaysReadsAllOnes(t *testing.T) {
	m := &SdMem{}
	data, resp := m.Read(0x1000, 8)
	if resp != RespOKAY {
		t.Fatalf("resp = %v, want OKAY", resp)
	}
	for _, b := range data {
		if b != 0xFF {
			t.Fatalf("data = %v, want all 0xFF", data)
		}
	}
}

func TestSdMemWritesAreNoOps(t *testing.T) {
	m := &SdMem{}
	if resp := m.Write(0, 8, [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, 0xFF); resp != RespOKAY {
		t.Fatalf("resp = %v, want OKAY (writes are accepted and discarded)", resp)
	}
	data, _ := m.Read(0, 8)
	if data[0] != 0xFF {
		t.Fatalf("a write should not change the all-ones read-back")
	}
}
