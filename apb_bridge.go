// apb_bridge.go - AXI-to-APB bridge

/*
APBBridge converts a single AXI4 beat into one APB setup+access cycle,
decomposing wider bursts into one APB cycle per beat. APB itself has
no burst concept, so every AXISlave behind the
bridge (PLIC, CLINT, UART, GPIO, SD controller register file, PnP)
only ever sees Read/Write called with a single beat's worth of data -
the bridge is the only place that understands AXI burst geometry on
the low-bandwidth register side of the fabric.
*/

package river

// APBBridge fans an AXI4 slave port out to a set of APB-mapped
// peripherals, decoded the same way Interconnect decodes bus 0.
type APBBridge struct {
	inner *Interconnect
}

// NewAPBBridge creates a bridge with its own private address space
// for the peripherals behind it: UART, GPIO, SPI, and PnP all live
// inside the single 1 MiB APB window on bus 0.
func NewAPBBridge() *APBBridge {
	return &APBBridge{inner: NewInterconnect()}
}

// AddPeripheral registers an APB-mapped device at an offset relative
// to the bridge's own window on bus 0.
func (b *APBBridge) AddPeripheral(m SlaveMapping) error {
	return b.inner.AddSlave(m)
}

// Read and Write let the bridge itself sit on bus 0 as an AXISlave:
// the interconnect hands it a window-relative offset, it re-decodes
// that offset against its own peripheral map, and forwards a single
// setup/access cycle to the selected device.
func (b *APBBridge) Read(addr uint64, size int) (data [8]byte, resp Resp) {
	m, ok := b.inner.decode(addr)
	if !ok {
		return data, RespDECERR
	}
	return m.Slave.Read(addr-m.Base, size)
}

func (b *APBBridge) Write(addr uint64, size int, data [8]byte, strb uint8) Resp {
	m, ok := b.inner.decode(addr)
	if !ok {
		return RespDECERR
	}
	return m.Slave.Write(addr-m.Base, size, data, strb)
}

// Issue decomposes req into single-beat APB cycles. A beat whose
// decoded slave reports an error response does not abort the remaining
// beats, matching real APB bridges that complete the whole burst even
// through a per-beat error: a read beat carries its own response, and
// a write burst's BResp is the last non-OKAY beat response.
func (b *APBBridge) Issue(req AXIRequest) (AXIResponse, error) {
	if req.Addr.BeatBytes() > 8 {
		return AXIResponse{}, Fatal(ErrIllegalBurst, "APB bridge only supports beats of at most 8 bytes, got %d", req.Addr.BeatBytes())
	}
	single := req
	single.Addr.Len = 0
	if req.IsWrite {
		resp := RespOKAY
		addr := req.Addr.Addr
		for i := 0; i < req.Addr.Beats(); i++ {
			beatReq := single
			beatReq.Addr.Addr = addr
			beatReq.WData = []WBeat{req.WData[i]}
			r, err := b.inner.Issue(beatReq)
			if err != nil {
				return AXIResponse{}, err
			}
			if r.BResp != RespOKAY {
				resp = r.BResp
			}
			addr = advanceBurstAddr(req.Addr, addr, req.Addr.BeatBytes())
		}
		return AXIResponse{BResp: resp}, nil
	}

	var beats []RBeat
	addr := req.Addr.Addr
	for i := 0; i < req.Addr.Beats(); i++ {
		beatReq := single
		beatReq.Addr.Addr = addr
		r, err := b.inner.Issue(beatReq)
		if err != nil {
			return AXIResponse{}, err
		}
		r.RData[0].Last = i == req.Addr.Beats()-1
		beats = append(beats, r.RData[0])
		addr = advanceBurstAddr(req.Addr, addr, req.Addr.BeatBytes())
	}
	return AXIResponse{RData: beats}, nil
}

// Tick advances every peripheral behind the bridge.
func (b *APBBridge) Tick() { b.inner.Tick() }
