package timer

import "runtime"

const (
	lapicIDReg        = 0x20
	lapicVersionReg   = 0x30
	lapicEOIReg       = 0x0B0
	lapicSVRReg       = 0x0F0
	lapicLVTTimerReg  = 0x320
	lapicTimerInitReg = 0x380
	lapicTimerCurReg  = 0x390
	lapicTimerDivReg  = 0x3E0

	svrEnable = 0x100

	timerMasked   = 0x10000
	timerPeriodic = 0x20000
	timerOneshot  = 0x00000
	divideBy16    = 0x3

	timerVector = 0xEF // matches APIC_TIMER_VECTOR's placement above the PIC range

	defaultCalibration = 100000 // ticks/10ms fallback, per apic_timer_start's "empirical value"
	maxInitialCount    = 0xFFFFF
	minInitialCount    = 100
)

// Regs is the local APIC's memory-mapped register window, abstracted
// the same way internal/pci.ConfigSpace abstracts CF8/CFC: a real boot
// path backs it with a volatile MMIO window at the base address read
// from the APIC_BASE MSR, tests back it with an in-memory map.
type Regs interface {
	Read(reg uint32) uint32
	Write(reg uint32, value uint32)
}

// APIC wraps the local APIC's register window with the enable/EOI/ID
// operations apic.c exposes.
type APIC struct {
	regs        Regs
	initialized bool
}

// NewAPIC wires an APIC to its register window and performs apic_init's
// enable-then-verify sequence: set the enable bit in SVR and record the
// timer vector as the spurious vector, matching svr |= LAPIC_SVR_ENABLE
// and the spurious-vector field update.
func NewAPIC(regs Regs) *APIC {
	a := &APIC{regs: regs}
	svr := a.regs.Read(lapicSVRReg)
	svr |= svrEnable
	svr = (svr &^ 0xFF) | timerVector
	a.regs.Write(lapicSVRReg, svr)
	a.initialized = true
	return a
}

// ID reads the local APIC's ID field (bits 31:24 of the ID register).
func (a *APIC) ID() uint32 {
	return (a.regs.Read(lapicIDReg) >> 24) & 0xFF
}

// Version reads the local APIC's version register.
func (a *APIC) Version() uint32 {
	return a.regs.Read(lapicVersionReg)
}

// EOI signals end-of-interrupt to the local APIC, per apic_eoi.
func (a *APIC) EOI() {
	a.regs.Write(lapicEOIReg, 0)
}

// Initialized reports whether NewAPIC's enable sequence ran.
func (a *APIC) Initialized() bool {
	return a.initialized
}

// APICTimer is the calibrated periodic timer from apic_timer.c: a
// oneshot calibration run against PITFrequencyHz ticks establishes
// ticks-per-10ms, then Start programs the periodic divider/initial
// count for a requested frequency.
type APICTimer struct {
	apic       *APIC
	pit        *PIT
	calibrated uint32
	running    bool
	freqHz     uint32
	ticks      uint64
}

// NewAPICTimer creates an uncalibrated timer bound to apic and pit (the
// PIT tick source calibration measures against).
func NewAPICTimer(apic *APIC, pit *PIT) *APICTimer {
	return &APICTimer{apic: apic, pit: pit}
}

// Stop masks the timer's LVT entry and zeroes its initial count, per
// apic_timer_stop.
func (t *APICTimer) Stop() {
	t.apic.regs.Write(lapicLVTTimerReg, timerMasked)
	t.apic.regs.Write(lapicTimerInitReg, 0)
	t.running = false
}

// CalibrateWithPIT runs apic_timer_calibrate_with_pit's procedure: arm
// a large oneshot count, busy-wait 10 PIT ticks (10ms at
// PITFrequencyHz), then read back the elapsed count.
func (t *APICTimer) CalibrateWithPIT() {
	t.Stop()
	t.apic.regs.Write(lapicLVTTimerReg, timerVector|timerOneshot)
	t.apic.regs.Write(lapicTimerDivReg, divideBy16)

	const initialCount = maxInitialCount
	t.apic.regs.Write(lapicTimerInitReg, initialCount)

	start := t.pit.Ticks()
	const spinCap = 50_000_000 // safety valve: a stalled PIT must not hang boot forever
	for spins := 0; t.pit.Ticks()-start < 10 && spins < spinCap; spins++ {
		runtime.Gosched() // real boot path executes `pause`; here it lets a
		// concurrent tick source (IRQ0 handler or test goroutine) advance.
	}

	remaining := t.apic.regs.Read(lapicTimerCurReg)
	t.calibrated = initialCount - remaining
	t.Stop()
}

// Start programs the timer in periodic mode at freqHz, deriving the
// initial count from the 10ms calibration exactly as
// apic_timer_start does, falling back to the original's empirical
// default if CalibrateWithPIT was never run.
func (t *APICTimer) Start(freqHz uint32) {
	if !t.apic.Initialized() {
		return
	}
	if t.calibrated == 0 {
		t.calibrated = defaultCalibration
	}

	initialCount := (t.calibrated * freqHz) / 100
	if initialCount < minInitialCount {
		initialCount = minInitialCount
	}
	if initialCount > maxInitialCount {
		initialCount = maxInitialCount
	}

	t.apic.regs.Write(lapicLVTTimerReg, timerMasked)
	t.apic.regs.Write(lapicTimerDivReg, divideBy16)
	t.apic.regs.Write(lapicTimerInitReg, initialCount)
	t.apic.regs.Write(lapicLVTTimerReg, timerVector|timerPeriodic)

	t.freqHz = freqHz
	t.running = true
	t.ticks = 0
}

// Tick is called from the timer's IRQ handler.
func (t *APICTimer) Tick() {
	t.ticks++
}

// Ticks returns the periodic tick count since the last Start.
func (t *APICTimer) Ticks() uint64 {
	return t.ticks
}

// Running reports whether Start has programmed the timer.
func (t *APICTimer) Running() bool {
	return t.running
}

// Frequency returns the frequency Start was last called with.
func (t *APICTimer) Frequency() uint32 {
	return t.freqHz
}

// CalibratedTicksPer10ms exposes the raw calibration result, mostly for
// tests asserting CalibrateWithPIT actually measured something.
func (t *APICTimer) CalibratedTicksPer10ms() uint32 {
	return t.calibrated
}
