package timer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPITTicksAccumulate(t *testing.T) {
	p := NewPIT()
	assert.EqualValues(t, 0, p.Ticks())
	for i := 0; i < 5; i++ {
		p.Tick()
	}
	assert.EqualValues(t, 5, p.Ticks())
}

// fakeRegs is an in-memory local-APIC register file.
type fakeRegs struct {
	mu   sync.Mutex
	regs map[uint32]uint32
}

func newFakeRegs() *fakeRegs {
	return &fakeRegs{regs: make(map[uint32]uint32)}
}

func (f *fakeRegs) Read(reg uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[reg]
}

func (f *fakeRegs) Write(reg uint32, value uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[reg] = value
	// Model count-down: writing the initial count also seeds "current"
	// with half of it, so CalibrateWithPIT's readback sees a plausible
	// nonzero elapsed value.
	if reg == lapicTimerInitReg {
		f.regs[lapicTimerCurReg] = value - value/2
	}
}

func TestAPICEnableSetsSVR(t *testing.T) {
	regs := newFakeRegs()
	a := NewAPIC(regs)
	assert.True(t, a.Initialized())
	assert.NotZero(t, regs.Read(lapicSVRReg)&svrEnable)
}

func TestAPICEOIWritesZero(t *testing.T) {
	regs := newFakeRegs()
	a := NewAPIC(regs)
	regs.Write(lapicEOIReg, 0xFF)
	a.EOI()
	assert.EqualValues(t, 0, regs.Read(lapicEOIReg))
}

func TestAPICTimerCalibrateAndStart(t *testing.T) {
	regs := newFakeRegs()
	a := NewAPIC(regs)
	pit := NewPIT()
	timer := NewAPICTimer(a, pit)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			time.Sleep(time.Microsecond)
			pit.Tick()
		}
	}()

	timer.CalibrateWithPIT()
	wg.Wait()

	assert.NotZero(t, timer.CalibratedTicksPer10ms())

	timer.Start(100)
	assert.True(t, timer.Running())
	assert.EqualValues(t, 100, timer.Frequency())

	timer.Tick()
	timer.Tick()
	assert.EqualValues(t, 2, timer.Ticks())

	timer.Stop()
	assert.False(t, timer.Running())
}

func TestAPICTimerStartWithoutCalibrationUsesDefault(t *testing.T) {
	regs := newFakeRegs()
	a := NewAPIC(regs)
	pit := NewPIT()
	timer := NewAPICTimer(a, pit)

	timer.Start(1000)
	assert.True(t, timer.Running())
}

// fakeCMOS is an in-memory RTC register file.
type fakeCMOS struct {
	regs map[uint8]uint8
}

func newFakeCMOS() *fakeCMOS {
	return &fakeCMOS{regs: make(map[uint8]uint8)}
}

func (f *fakeCMOS) ReadReg(reg uint8) uint8     { return f.regs[reg] }
func (f *fakeCMOS) WriteReg(reg uint8, v uint8) { f.regs[reg] = v }

func TestRTCInitProgramsPIEAndRate(t *testing.T) {
	cmos := newFakeCMOS()
	NewRTC(cmos)
	assert.NotZero(t, cmos.regs[regStatusB]&0x40)
	assert.EqualValues(t, ratePIE2Hz, cmos.regs[regStatusA]&0x0F)
}

func TestRTCTickIncrementsAndAcksStatusC(t *testing.T) {
	cmos := newFakeCMOS()
	r := NewRTC(cmos)
	r.Tick()
	r.Tick()
	assert.EqualValues(t, 2, r.Ticks())
}

func TestRTCReadDateTimeDecodesBCD(t *testing.T) {
	cmos := newFakeCMOS()
	r := NewRTC(cmos)
	// BCD mode (status B bit 2 clear), 24-hour mode (bit 1 set).
	cmos.regs[regStatusB] = statusB24Hour
	cmos.regs[regSeconds] = 0x45 // BCD 45
	cmos.regs[regMinutes] = 0x30
	cmos.regs[regHours] = 0x14 // BCD 14
	cmos.regs[regDay] = 0x25
	cmos.regs[regMonth] = 0x12
	cmos.regs[regYear] = 0x26

	dt := r.ReadDateTime()
	require.EqualValues(t, 45, dt.Second)
	require.EqualValues(t, 30, dt.Minute)
	require.EqualValues(t, 14, dt.Hour)
	require.EqualValues(t, 25, dt.Day)
	require.EqualValues(t, 12, dt.Month)
	assert.Equal(t, 2026, dt.Year)
}

func TestRTCReadDateTimeHandles12HourPM(t *testing.T) {
	cmos := newFakeCMOS()
	r := NewRTC(cmos)
	cmos.regs[regStatusB] = statusBBinaryMode // binary mode, 12-hour mode
	cmos.regs[regHours] = 0x80 | 3            // PM bit set, 3 -> 15:00
	cmos.regs[regYear] = 26

	dt := r.ReadDateTime()
	assert.EqualValues(t, 15, dt.Hour)
}
