package river

import "testing"

func TestGpioDirOutRoundTrips(t *testing.T) {
	g := NewGpio()
	g.Write(gpioRegDir, 4, word32(0x0F), 0xF)
	g.Write(gpioRegOut, 4, word32(0xA5), 0xF)

	data, _ := g.Read(gpioRegDir, 4)
	if u32(data) != 0x0F {
		t.Fatalf("dir = 0x%x, want 0x0F", u32(data))
	}
	data, _ = g.Read(gpioRegOut, 4)
	if u32(data) != 0xA5 {
		t.Fatalf("out = 0x%x, want 0xA5", u32(data))
	}
}

func TestGpioOutputsMaskedByDirection(t *testing.T) {
	g := NewGpio()
	g.Write(gpioRegDir, 4, word32(0x0F), 0xF) // only low nibble is output
	g.Write(gpioRegOut, 4, word32(0xFF), 0xF)
	if got := g.Outputs(); got != 0x0F {
		t.Fatalf("Outputs() = 0x%x, want 0x0F (masked to output pins)", got)
	}
}

func TestGpioSetInputsMaskedToInputPins(t *testing.T) {
	g := NewGpio()
	g.Write(gpioRegDir, 4, word32(0x0F), 0xF) // low nibble output, rest input
	g.SetInputs(0xFF)
	data, _ := g.Read(gpioRegIn, 4)
	if u32(data) != 0xF0 {
		t.Fatalf("in = 0x%x, want 0xF0 (masked to input pins)", u32(data))
	}
}

func TestGpioInRegisterRejectsWrite(t *testing.T) {
	g := NewGpio()
	if resp := g.Write(gpioRegIn, 4, word32(1), 0xF); resp != RespDECERR {
		t.Fatalf("resp = %v, want DECERR writing the read-only input register", resp)
	}
}

func u32(data [8]byte) uint32 {
	return uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
}
