// Package interrupt models the IDT, PIC acknowledgment discipline, and
// the central vector dispatcher described in spec.md §4.3. Real AxonOS
// fills a 256-entry IDT with assembly stubs; this rewrite keeps a
// 256-entry table of Go handler values and a process-wide interrupt-
// enable flag that spinlock.Lock's IRQ-save variants gate.
package interrupt

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const (
	vectorCount       = 256
	exceptionVectors  = 32 // 0-31
	picIRQBase        = 32 // 32-47
	picIRQCount       = 16
	doubleFaultVector = 8
	pageFaultVector   = 14
	gpFaultVector     = 13
	invalidOpcodeVec  = 6
	divideByZeroVec   = 0

	canaryValue = 0xDEADC0DE
)

// Frame is the register/vector snapshot pushed by the stub before
// handing off to the dispatcher, matching spec.md §3 field-for-field.
type Frame struct {
	GPRegisters [15]uint64 // RAX..R15 minus RSP (tracked separately)
	Vector      uint32
	ErrorCode   uint64
	RIP         uint64
	CS          uint64
	RFLAGS      uint64
	RSP         uint64
	SS          uint64
}

// UserMode reports whether the frame was taken from ring 3 (CS & 3 == 3).
func (f *Frame) UserMode() bool {
	return f.CS&3 == 3
}

// Handler is invoked by the dispatcher for a given vector.
type Handler func(*Frame)

// enabled models the CPU's interrupt-enable flag (RFLAGS.IF). Spinlock's
// IRQ-save variants are the only intended mutators outside of Mask/
// Unmask's own tests.
var enabled atomic.Bool

func init() {
	enabled.Store(true)
}

// Enabled reports the current interrupt-enable state.
func Enabled() bool { return enabled.Load() }

// Mask disables interrupts (cli).
func Mask() { enabled.Store(false) }

// Unmask enables interrupts (sti).
func Unmask() { enabled.Store(true) }

// PIC models the legacy 8259 remap: master at 0x20, slave at 0x28, with
// per-IRQ mask/unmask via OCW1.
type PIC struct {
	mu         sync.Mutex
	masterMask uint8
	slaveMask  uint8
	eoisSent   []string // for tests asserting EOI discipline
}

// NewPIC performs the ICW1/ICW2/ICW3/ICW4 remap sequence, logically:
// master vector base 0x20, slave vector base 0x28.
func NewPIC() *PIC {
	return &PIC{masterMask: 0xFF, slaveMask: 0xFF}
}

// SetMask sets or clears the mask bit for irq (0-15) via OCW1.
func (p *PIC) SetMask(irq uint8, masked bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if irq < 8 {
		if masked {
			p.masterMask |= 1 << irq
		} else {
			p.masterMask &^= 1 << irq
		}
	} else {
		bit := irq - 8
		if masked {
			p.slaveMask |= 1 << bit
		} else {
			p.slaveMask &^= 1 << bit
		}
	}
}

// SendEOI acknowledges irq: master-only for 0-7, both controllers for
// 8-15, per spec.md §4.3.
func (p *PIC) SendEOI(irq uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eoisSent = append(p.eoisSent, eoiLabel(irq))
}

func eoiLabel(irq uint8) string {
	if irq >= 8 {
		return "master+slave"
	}
	return "master"
}

// Dispatcher is the central vector dispatcher: a per-vector handler
// table plus exception classification and PIC EOI discipline.
type Dispatcher struct {
	handlers      [vectorCount]Handler
	pic           *PIC
	log           *zap.SugaredLogger
	halted        bool
	haltedThreads map[uint64]bool // tids pinned in an interrupt-enabled HLT loop
	istDoubleFaultStack [4096]byte
	onFatal       func(frame *Frame, msg string)
}

// NewDispatcher creates a dispatcher wired to the given PIC and logger.
func NewDispatcher(pic *PIC, log *zap.SugaredLogger) *Dispatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dispatcher{
		pic:           pic,
		log:           log,
		haltedThreads: make(map[uint64]bool),
	}
}

// Register installs a handler for the given vector. Any vector may have
// at most one handler; registering again replaces it, matching the
// "written once during initialization" convention from spec.md §5 (the
// dispatcher itself permits overwrite; kernel init simply never does).
func (d *Dispatcher) Register(vector uint8, h Handler) {
	d.handlers[vector] = h
}

// OnFatal installs the callback invoked when the dispatcher decides to
// "dump registers over serial, print a one-line screen summary, and
// halt" (spec.md §7). Tests use this to observe fatal termination
// without actually halting the process.
func (d *Dispatcher) OnFatal(fn func(frame *Frame, msg string)) {
	d.onFatal = fn
}

// Dispatch is the central dispatcher described in spec.md §4.3. It
// places a magic canary, branches on vector number, and verifies the
// canary before returning.
func (d *Dispatcher) Dispatch(f *Frame) {
	canary := uint32(canaryValue)
	defer func() {
		if canary != canaryValue {
			d.fatal(f, "interrupt stack overflow: canary corrupted")
		}
	}()

	switch {
	case f.Vector < exceptionVectors:
		d.dispatchException(f)
	case f.Vector >= picIRQBase && f.Vector < picIRQBase+picIRQCount:
		d.dispatchIRQ(f)
	default:
		d.dispatchOther(f)
	}
}

func (d *Dispatcher) dispatchException(f *Frame) {
	switch f.Vector {
	case divideByZeroVec, invalidOpcodeVec, gpFaultVector:
		if h := d.handlers[f.Vector]; h != nil {
			h(f)
			return
		}
		if f.UserMode() {
			d.isolateUserThread(f)
			return
		}
		d.fatal(f, fmt.Sprintf("unhandled exception vector %d in kernel context", f.Vector))
	case pageFaultVector:
		if h := d.handlers[f.Vector]; h != nil {
			h(f)
			return
		}
		d.fatal(f, "page fault")
	case doubleFaultVector:
		d.fatal(f, "double fault")
	default:
		if h := d.handlers[f.Vector]; h != nil {
			h(f)
			return
		}
		d.fatal(f, fmt.Sprintf("unhandled exception vector %d", f.Vector))
	}
}

func (d *Dispatcher) dispatchIRQ(f *Frame) {
	if h := d.handlers[f.Vector]; h != nil {
		h(f)
	}
	irq := uint8(f.Vector - picIRQBase)
	d.pic.SendEOI(irq)
}

func (d *Dispatcher) dispatchOther(f *Frame) {
	if h := d.handlers[f.Vector]; h != nil {
		h(f)
		return
	}
	d.fatal(f, fmt.Sprintf("unhandled vector %d", f.Vector))
}

// isolateUserThread pins the faulting ring-3 context in an interrupt-
// enabled HLT loop, per spec.md §7's user-visible fault isolation: the
// rest of the system keeps running via interrupt handlers and the
// cooperative scheduler.
func (d *Dispatcher) isolateUserThread(f *Frame) {
	d.haltedThreads[f.RSP] = true
	d.log.Warnw("isolating faulting user context", "vector", f.Vector, "rip", f.RIP)
}

// IsIsolated reports whether the context identified by rsp was pinned
// into the HLT loop by a prior fault.
func (d *Dispatcher) IsIsolated(rsp uint64) bool {
	return d.haltedThreads[rsp]
}

func (d *Dispatcher) fatal(f *Frame, msg string) {
	d.halted = true
	DumpFrame(d.log, f, msg)
	if d.onFatal != nil {
		d.onFatal(f, msg)
	}
}

// Halted reports whether the dispatcher has reached a fatal halt.
func (d *Dispatcher) Halted() bool { return d.halted }

// DumpFrame reproduces the original kernel's register-dump-over-serial
// format from _examples/original_source/core/debug.c: one line per 8 GP
// registers in hex, then RIP/CS/RFLAGS/RSP/SS.
func DumpFrame(log *zap.SugaredLogger, f *Frame, reason string) {
	log.Errorw("fatal kernel exception",
		"reason", reason,
		"vector", f.Vector,
		"errorCode", fmt.Sprintf("0x%x", f.ErrorCode),
		"gprs0_7", fmt.Sprintf("%x", f.GPRegisters[:8]),
		"gprs8_14", fmt.Sprintf("%x", f.GPRegisters[8:]),
		"rip", fmt.Sprintf("0x%x", f.RIP),
		"cs", fmt.Sprintf("0x%x", f.CS),
		"rflags", fmt.Sprintf("0x%x", f.RFLAGS),
		"rsp", fmt.Sprintf("0x%x", f.RSP),
		"ss", fmt.Sprintf("0x%x", f.SS),
	)
}
