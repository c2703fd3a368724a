// mpu.go - Memory Protection Unit (combinational region lookup)

/*
MPU has no registered state of its own beyond the region table that
SetRegion programs (simulator.go does so at elaboration); every Lookup is a pure combinational OR-reduce across the
regions matching an address, evaluated independently for the I-side
and D-side addresses each cycle.

Open Question resolved: when no region matches, this implementation
returns {cacheable:false, r/w/x: true, enable:true} - the memory stays
visible but uncached - rather than locking everything down. That
default is mpuDefaultFlags below.
*/

package river

// MPUFlags is the access-control result for one address.
type MPUFlags struct {
	Enable    bool
	Cacheable bool
	Read      bool
	Write     bool
	Exec      bool
}

// mpuDefaultFlags is returned when no configured region matches.
var mpuDefaultFlags = MPUFlags{Enable: true, Cacheable: false, Read: true, Write: true, Exec: true}

// MPURegion is one programmable entry of the region table.
type MPURegion struct {
	Base  uint64
	Mask  uint64
	Flags MPUFlags
}

func (r MPURegion) matches(addr uint64) bool {
	return (addr & r.Mask) == (r.Base & r.Mask)
}

// maxMPURegions bounds the region table the way a real MPU's fixed
// comparator array would.
const maxMPURegions = 16

// MPU is purely combinational; Lookup may be called any number of
// times per tick without side effects.
type MPU struct {
	regions []MPURegion
}

// NewMPU creates an empty table (every address defaults to visible,
// uncached, full access, until regions are programmed).
func NewMPU() *MPU { return &MPU{} }

// SetRegion installs or replaces region idx. Regions are evaluated in
// index order and a match's flags are OR'd into the result, so a
// higher index can only add permissions, never take them away; the
// precedence rule is resolved as "every matching region contributes,
// OR-reduced" rather than "highest index wins".
func (m *MPU) SetRegion(idx int, r MPURegion) error {
	if idx < 0 || idx >= maxMPURegions {
		return Fatal(ErrElaboration, "MPU region index %d out of range [0,%d)", idx, maxMPURegions)
	}
	for len(m.regions) <= idx {
		m.regions = append(m.regions, MPURegion{})
	}
	m.regions[idx] = r
	return nil
}

// Lookup OR-reduces every matching, enabled region's flags for addr.
// If nothing matches, mpuDefaultFlags is returned.
func (m *MPU) Lookup(addr uint64) MPUFlags {
	var acc MPUFlags
	matched := false
	for _, r := range m.regions {
		if !r.Flags.Enable || !r.matches(addr) {
			continue
		}
		matched = true
		acc.Enable = true
		acc.Cacheable = acc.Cacheable || r.Flags.Cacheable
		acc.Read = acc.Read || r.Flags.Read
		acc.Write = acc.Write || r.Flags.Write
		acc.Exec = acc.Exec || r.Flags.Exec
	}
	if !matched {
		return mpuDefaultFlags
	}
	return acc
}

// LookupBoth performs the I-side and D-side lookups in the same
// cycle, given the fetch and memory-access addresses.
func (m *MPU) LookupBoth(iAddr, dAddr uint64) (iFlags, dFlags MPUFlags) {
	return m.Lookup(iAddr), m.Lookup(dAddr)
}
