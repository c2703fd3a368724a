// signal.go - Typed signal and register-bank primitives for the clock kernel

/*
signal.go implements the clock kernel's fundamental invariant: a
signal carries a "current" value observed by every combinational
reader during a tick, and a pending "next" value that only becomes
visible at the following rising clock edge. Registers are signals
whose next value is only ever driven by a single sequential (clocked)
process; everything else is a plain combinational signal that may be
driven from several processes as long as they agree by the time
combinational evaluation converges (see clock.go).

Width is explicit: every value scheduled with SetNext or forced with
ResetTo is masked to the signal's bit width, so a signal never holds
bits above its width; bits of a wider value above that width are
dropped.
*/

package river

// clockID is an opaque token passed when constructing a Signal so
// that SetNext can tell its owning Clock a combinational iteration
// produced a change.
type clockID = *Clock

// Mask64 returns the mask for the low `width` bits (width in [1,64]).
func Mask64(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << width) - 1
}

// Signal is a fixed-width current/next value pair.
type Signal struct {
	name  string
	width uint
	cur   uint64
	next  uint64
	clk   clockID
}

// NewSignal creates a signal of the given bit width, owned by clk for
// convergence tracking. Width must be in [1,64]; wider datapaths (a
// cache line, a CSR's 64-bit fields split across two signals, etc.)
// compose multiple Signals rather than widening this type, keeping
// per-field signal granularity.
func NewSignal(clk *Clock, name string, width uint) *Signal {
	return &Signal{name: name, width: width, clk: clk}
}

// Cur returns the value observed during this tick's combinational
// evaluation. Never reflects a same-tick SetNext call.
func (s *Signal) Cur() uint64 { return s.cur }

// SetNext schedules v (masked to width) to become the current value
// at the next Commit. If v differs from the previously scheduled
// next value, the owning clock's iteration-changed counter is
// incremented so that Tick can detect convergence.
func (s *Signal) SetNext(v uint64) {
	v &= Mask64(s.width)
	if v != s.next {
		s.next = v
		if s.clk != nil {
			s.clk.markChanged()
		}
	}
}

// Next returns the pending value without committing it, for a reader
// that needs another component's scheduled next-state within the same
// combinational pass.
func (s *Signal) Next() uint64 { return s.next }

// Commit publishes next -> current. Called once per tick by Clock
// after combinational convergence, never by component code directly.
func (s *Signal) Commit() { s.cur = s.next }

// ResetTo forces both current and next to v, bypassing convergence.
// Used for synchronous/asynchronous register resets.
func (s *Signal) ResetTo(v uint64) {
	v &= Mask64(s.width)
	s.cur = v
	s.next = v
}

// Register is a named signal that additionally remembers its reset
// value and whether it resets synchronously (committed only at the
// next edge while nrst=0) or asynchronously (forced every tick while
// nrst=0).
type Register struct {
	Signal
	resetValue uint64
	async      bool
}

// NewRegister creates a register with the given reset value.
func NewRegister(clk *Clock, name string, width uint, resetValue uint64, async bool) *Register {
	r := &Register{Signal: Signal{name: name, width: width, clk: clk}, resetValue: resetValue, async: async}
	r.ResetTo(resetValue)
	return r
}

// ApplyReset drives the register toward its reset value given nrst
// (active low). For async registers this clamps both
// current and next every tick reset is asserted; for sync registers
// it only schedules next, so the old current value remains visible
// until the commit at the edge that releases reset.
func (r *Register) ApplyReset(nrst bool) {
	if nrst {
		return
	}
	if r.async {
		r.ResetTo(r.resetValue)
	} else {
		r.SetNext(r.resetValue)
	}
}

// RegisterBank is a named group of registers updated atomically by
// one clocked process, e.g. a CSR privilege-mode record or a cache
// set's tag/valid/LRU bits.
type RegisterBank struct {
	Name string
	regs []*Register
}

// NewRegisterBank creates an empty bank; Add registers as the owning
// component constructs them.
func NewRegisterBank(name string) *RegisterBank {
	return &RegisterBank{Name: name}
}

// Add registers r under this bank so bank-wide reset sweeps it.
func (b *RegisterBank) Add(r *Register) *Register {
	b.regs = append(b.regs, r)
	return r
}

// ApplyReset resets every register in the bank.
func (b *RegisterBank) ApplyReset(nrst bool) {
	for _, r := range b.regs {
		r.ApplyReset(nrst)
	}
}

