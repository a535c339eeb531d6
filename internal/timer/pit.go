// Package timer implements the PIT, APIC, and RTC tick sources from
// spec.md §4.10 — grounded on
// _examples/original_source/cpu/apic.c, apic_timer.c, and rtc.c, plus
// the extern `pit_ticks` counter cpu/thread.c reads for sleep
// deadlines.
package timer

import "sync/atomic"

// PITFrequencyHz is the programmed tick rate, giving 1ms granularity
// for sleep(ms) deadlines per spec.md §4.4.
const PITFrequencyHz = 1000

// PIT models the legacy 8254 channel-0 tick source: a 64-bit counter
// incremented once per IRQ0, matching the original's `pit_ticks`
// global. The real driver programs the 8254 over ports 0x40/0x43; that
// one-shot mode-3 reload write has no observable state to model here,
// so PIT exposes only the counter Dispatch increments and tests drive
// directly via Tick.
type PIT struct {
	ticks atomic.Uint64
}

// NewPIT creates a PIT tick counter at zero.
func NewPIT() *PIT {
	return &PIT{}
}

// Tick is called from the IRQ0 handler installed during boot.
func (p *PIT) Tick() {
	p.ticks.Add(1)
}

// Ticks returns the current tick count, the value
// internal/sched.New's ticks callback and sleep(ms) deadlines are
// computed from.
func (p *PIT) Ticks() uint64 {
	return p.ticks.Load()
}
