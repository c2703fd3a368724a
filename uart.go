// uart.go - memory-mapped UART peripheral and host terminal adapter

/*
Uart is a minimal 16550-free UART: a status register (TX empty / RX
valid, plus a level-triggered IRQ bit), single-byte TX/RX data
registers, a baud-rate scaler register, and per-direction watermark
registers - the FIFOs themselves are Go slices rather than fixed-depth
hardware queues, since only "byte in, byte out" boot-console semantics
are needed. UartHost below puts the hosting terminal's stdin into raw
mode to drive this UART's RX side and prints its TX side, via
golang.org/x/term.

The baud scaler follows the same divider shape sdctrl.go's SCLK
generator uses: Tick only drains one byte off the TX queue through
TXFunc once every BaudScaler ticks, instead of every tick, so a
configured UART paces its console output the way real hardware paces
bits onto a wire. Irq recomputes on every call from the current queue
depths against the watermark registers - level-triggered, like every
other combinational output in this simulator - and is meant to be
polled into Plic.SetIRQLine once per tick by the owning Simulator.
*/

package river

import (
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"
)

const (
	uartRegStatus      = 0x00
	uartRegTxData      = 0x04
	uartRegRxData      = 0x08
	uartRegBaudScaler  = 0x0C
	uartRegTxWatermark = 0x10
	uartRegRxWatermark = 0x14

	uartStatusTxEmpty = 1 << 0
	uartStatusRxValid = 1 << 1
	uartStatusIrq     = 1 << 2
)

// Uart is the AXISlave-facing device; TXFunc, if set, is called
// synchronously from Tick for every byte accepted off the TX queue
// (a real deployment would drain it from a host goroutine instead,
// but for headless `riversim run` runs writing straight to stdout is
// simplest and matches the "TX side: immediate" edge case when the
// baud scaler is left at its reset value of 1).
type Uart struct {
	mu          sync.Mutex
	rxQueue     []byte
	txQueue     []byte
	baudScaler  uint32
	baudCounter uint32
	txWatermark int
	rxWatermark int
	TXFunc      func(b byte)
}

func NewUart() *Uart { return &Uart{baudScaler: 1, baudCounter: 1} }

// PushRX enqueues a byte as if received from the host side (driven by
// UartHost or a scenario script).
func (u *Uart) PushRX(b byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rxQueue = append(u.rxQueue, b)
}

// DrainTX removes and returns every byte queued for transmission.
func (u *Uart) DrainTX() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := u.txQueue
	u.txQueue = nil
	return out
}

func (u *Uart) Read(addr uint64, size int) (data [8]byte, resp Resp) {
	u.mu.Lock()
	defer u.mu.Unlock()
	var v uint32
	switch addr {
	case uartRegStatus:
		if len(u.txQueue) == 0 {
			v |= uartStatusTxEmpty
		}
		if len(u.rxQueue) > 0 {
			v |= uartStatusRxValid
		}
		if u.irqPendingLocked() {
			v |= uartStatusIrq
		}
	case uartRegRxData:
		if len(u.rxQueue) > 0 {
			v = uint32(u.rxQueue[0])
			u.rxQueue = u.rxQueue[1:]
		}
	case uartRegBaudScaler:
		v = u.baudScaler
	case uartRegTxWatermark:
		v = uint32(u.txWatermark)
	case uartRegRxWatermark:
		v = uint32(u.rxWatermark)
	default:
		return data, RespDECERR
	}
	for i := 0; i < size && i < 4; i++ {
		data[i] = byte(v >> (8 * uint(i)))
	}
	return data, RespOKAY
}

func (u *Uart) Write(addr uint64, size int, data [8]byte, strb uint8) Resp {
	u.mu.Lock()
	defer u.mu.Unlock()
	var v uint32
	for i := 0; i < size && i < 4; i++ {
		if strb&(1<<uint(i)) != 0 {
			v |= uint32(data[i]) << (8 * uint(i))
		}
	}
	switch addr {
	case uartRegTxData:
		if strb&1 != 0 {
			u.txQueue = append(u.txQueue, data[0])
		}
	case uartRegBaudScaler:
		if v == 0 {
			v = 1
		}
		u.baudScaler = v
		u.baudCounter = v
	case uartRegTxWatermark:
		u.txWatermark = int(v)
	case uartRegRxWatermark:
		u.rxWatermark = int(v)
	default:
		return RespDECERR
	}
	return RespOKAY
}

// irqPendingLocked is the level-triggered watermark-crossing condition:
// asserted while the TX queue has drained to at or below its watermark
// (room to accept more) or the RX queue holds more than its watermark
// (data waiting to be read). Callers must hold u.mu.
func (u *Uart) irqPendingLocked() bool {
	return len(u.txQueue) <= u.txWatermark || len(u.rxQueue) > u.rxWatermark
}

// IrqPending reports the UART's current level-triggered interrupt
// output, meant to be fed into Plic.SetIRQLine once per tick.
func (u *Uart) IrqPending() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.irqPendingLocked()
}

// Tick paces TX draining by the baud scaler: one byte leaves the
// queue through TXFunc every BaudScaler ticks rather than every tick,
// matching every other AXISlave's "advance clocked state" role.
func (u *Uart) Tick() {
	u.mu.Lock()
	var b byte
	var send bool
	if len(u.txQueue) > 0 {
		u.baudCounter--
		if u.baudCounter == 0 {
			b = u.txQueue[0]
			u.txQueue = u.txQueue[1:]
			send = true
			u.baudCounter = u.baudScaler
		}
	} else {
		u.baudCounter = u.baudScaler
	}
	u.mu.Unlock()
	if send && u.TXFunc != nil {
		u.TXFunc(b)
	}
}

// UartHost bridges a real terminal to a Uart: a raw-mode stdin
// reader goroutine feeding PushRX, stdout taking the TX stream.
type UartHost struct {
	uart         *Uart
	stopCh       chan struct{}
	done         chan struct{}
	stopped      sync.Once
	fd           int
	nonblockSet  bool
	oldTermState *term.State
}

func NewUartHost(u *Uart) *UartHost {
	return &UartHost{uart: u, stopCh: make(chan struct{}), done: make(chan struct{})}
}

// Start puts stdin in raw mode and begins routing host keystrokes
// into the UART's RX queue.
func (h *UartHost) Start() {
	h.fd = int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(h.fd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "uart_host: failed to set raw mode: %v\n", err)
		close(h.done)
		return
	}
	h.oldTermState = oldState

	if err := syscall.SetNonblock(h.fd, true); err != nil {
		fmt.Fprintf(os.Stderr, "uart_host: failed to set nonblocking stdin: %v\n", err)
		_ = term.Restore(h.fd, h.oldTermState)
		h.oldTermState = nil
		close(h.done)
		return
	}
	h.nonblockSet = true

	h.uart.TXFunc = func(b byte) { os.Stdout.Write([]byte{b}) }

	go func() {
		defer close(h.done)
		buf := make([]byte, 1)
		for {
			select {
			case <-h.stopCh:
				return
			default:
			}
			n, err := syscall.Read(h.fd, buf)
			if n > 0 {
				b := buf[0]
				if b == '\r' {
					b = '\n'
				}
				h.uart.PushRX(b)
			}
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			if err != nil {
				return
			}
			if n == 0 {
				time.Sleep(5 * time.Millisecond)
			}
		}
	}()
}

// Stop restores stdin and terminates the reader goroutine.
func (h *UartHost) Stop() {
	h.stopped.Do(func() { close(h.stopCh) })
	<-h.done
	if h.nonblockSet {
		_ = syscall.SetNonblock(h.fd, false)
		h.nonblockSet = false
	}
	if h.oldTermState != nil {
		_ = term.Restore(h.fd, h.oldTermState)
		h.oldTermState = nil
	}
}
