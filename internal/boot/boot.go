package boot

import (
	"context"
	"fmt"
	"io"

	"github.com/axonos/axonos/internal/ata"
	"github.com/axonos/axonos/internal/diskio"
	"github.com/axonos/axonos/internal/initfs"
	"github.com/axonos/axonos/internal/interrupt"
	"github.com/axonos/axonos/internal/memory"
	"github.com/axonos/axonos/internal/pci"
	"github.com/axonos/axonos/internal/sched"
	"github.com/axonos/axonos/internal/serial"
	"github.com/axonos/axonos/internal/timer"
	"github.com/axonos/axonos/internal/tty"
	"github.com/axonos/axonos/internal/vfs"
	"github.com/axonos/axonos/internal/vfs/devfs"
	"github.com/axonos/axonos/internal/vfs/ramfs"
	"github.com/axonos/axonos/internal/vfs/sysfs"
	"github.com/axonos/axonos/internal/vga"
	"go.uber.org/zap"
)

const (
	// heapSize is the kernel heap's reported size; spec.md §4.1 leaves
	// the exact figure to the boot harness.
	heapSize = 16 * 1024 * 1024
	// mmioMaxSlots bounds the simulated MMIO window allocator.
	mmioMaxSlots = 64
	// apicTimerHz is the periodic rate the scheduler's preemption tick
	// would run at if AxonOS were preemptive; kept here only to drive
	// the timer through Start, per spec.md §4.10.
	apicTimerHz = 100

	ideVendorID = 0x8086
	ideDeviceID = 0x7010

	// picIRQBase is the remapped vector base for IRQ0, per spec.md
	// §4.3; IRQ0 (PIT) and IRQ8 (RTC) land at picIRQBase+0/+8.
	picIRQBase = 32
	irqPIT     = 0
	irqRTC     = 8
)

// Config selects everything a real Multiboot2 bootloader would hand to
// the kernel entry point, plus the simulated disks a real BIOS/PCI
// probe would discover.
type Config struct {
	// MultibootMagic is normally Multiboot2Magic; tests may pass a
	// wrong value to exercise ErrNotMultiboot2.
	MultibootMagic uint32
	// MultibootInfo is the encoded tag stream; BuildMultibootInfo
	// constructs one from an initrd archive and reported memory sizes.
	MultibootInfo []byte
	// InitrdArchive is the raw cpio-newc bytes the "initfs" module tag
	// in MultibootInfo points into (by byte offset, standing in for a
	// physical address range).
	InitrdArchive []byte
	// Disks are raw disk images for simulated IDE master drives, one
	// channel per entry; a nil/empty slice boots disk-less.
	Disks [][]byte
}

// Kernel bundles every initialized subsystem, mirroring the global
// records spec.md §9 calls for in place of the original's hidden
// singletons (g_mount, g_drivers, ramfs_root, ...).
type Kernel struct {
	Log *zap.SugaredLogger

	Heap   *memory.Allocator
	Tables *memory.PageTables
	MMIO   *memory.MMIOWindow

	PIC        *interrupt.PIC
	Dispatcher *interrupt.Dispatcher

	PIT       *timer.PIT
	APIC      *timer.APIC
	APICTimer *timer.APICTimer
	RTC       *timer.RTC

	PCIBus *pci.Bus

	ATADevices []*ata.Device
	DiskWorker *diskio.Worker

	VFS   *vfs.VFS
	RamFS *ramfs.FS
	SysFS *sysfs.FS
	DevFS *devfs.FS

	Console *vga.Console
	TTYs    *tty.Manager
	Serial  *serial.Port

	Sched *sched.Scheduler

	Modules []initfs.Module
	MemInfo *initfs.MemInfo

	cancel context.CancelFunc
}

// New runs the full init order — serial log, heap, paging/MMIO, PIC
// and interrupt dispatcher, PIT/APIC/RTC, PCI enumeration, VFS drivers,
// console and TTYs, disk drivers (after the VFS, so FAT32 auto-mount
// has a mount table to join), scheduler, initrd unpack — and returns a
// running Kernel ready for the idle thread.
func New(cfg Config) (*Kernel, error) {
	k := &Kernel{}

	k.Serial = serial.NewPort()
	k.Log = serial.NewLogger(k.Serial)
	k.Log.Info("boot: serial online")

	k.Heap = memory.NewAllocator(heapSize)
	k.Log.Infow("boot: heap allocator ready", "size", heapSize)

	k.Tables = memory.NewPageTables()
	k.MMIO = memory.NewMMIOWindow(k.Tables, mmioMaxSlots)
	k.Log.Info("boot: paging and MMIO window ready")

	k.PIC = interrupt.NewPIC()
	k.Dispatcher = interrupt.NewDispatcher(k.PIC, k.Log)
	k.Dispatcher.OnFatal(func(f *interrupt.Frame, msg string) {
		k.Log.Errorw("fatal exception", "vector", f.Vector, "rip", f.RIP, "msg", msg)
	})
	k.Log.Info("boot: PIC and interrupt dispatcher ready")

	k.PIT = timer.NewPIT()
	apicRegs := newVirtualAPICRegs()
	k.APIC = timer.NewAPIC(apicRegs)
	k.APICTimer = timer.NewAPICTimer(k.APIC, k.PIT)
	k.APICTimer.CalibrateWithPIT()
	k.APICTimer.Start(apicTimerHz)

	cmos := newVirtualCMOS()
	k.RTC = timer.NewRTC(cmos)
	k.Log.Infow("boot: timer sources ready", "calibratedTicksPer10ms", k.APICTimer.CalibratedTicksPer10ms())

	k.Dispatcher.Register(picIRQBase+irqPIT, func(f *interrupt.Frame) {
		k.PIT.Tick()
		k.PIC.SendEOI(irqPIT)
	})
	k.Dispatcher.Register(picIRQBase+irqRTC, func(f *interrupt.Frame) {
		k.RTC.Tick()
		k.PIC.SendEOI(irqRTC)
	})
	k.PIC.SetMask(irqPIT, false)
	k.PIC.SetMask(irqRTC, false)

	cfgSpace := newVirtualConfigSpace()
	if len(cfg.Disks) > 0 {
		cfgSpace.addDevice(0, 0, pciHeader{
			vendorID: ideVendorID, deviceID: ideDeviceID,
			classCode: 0x01, subclass: 0x01,
		})
	}
	k.PCIBus = pci.Enumerate(cfgSpace)
	k.Log.Infow("boot: PCI enumeration complete", "devices", len(k.PCIBus.Devices()))

	k.VFS = vfs.New()
	k.RamFS = ramfs.New()
	k.SysFS = sysfs.New()
	k.DevFS = devfs.New()
	if err := k.VFS.RegisterDriver(k.RamFS); err != nil {
		return nil, fmt.Errorf("boot: register ramfs: %w", err)
	}
	if err := k.VFS.RegisterDriver(k.SysFS); err != nil {
		return nil, fmt.Errorf("boot: register sysfs: %w", err)
	}
	if err := k.VFS.RegisterDriver(k.DevFS); err != nil {
		return nil, fmt.Errorf("boot: register devfs: %w", err)
	}
	if err := k.VFS.Mount("/", k.RamFS); err != nil {
		return nil, fmt.Errorf("boot: mount /: %w", err)
	}
	if err := k.VFS.Mount("/sys", k.SysFS); err != nil {
		return nil, fmt.Errorf("boot: mount /sys: %w", err)
	}
	if err := k.VFS.Mount("/dev", k.DevFS); err != nil {
		return nil, fmt.Errorf("boot: mount /dev: %w", err)
	}
	k.Log.Info("boot: VFS core mounted ramfs/sysfs/devfs")

	k.Console = vga.NewConsole()
	var ttyOuts [tty.Count]io.Writer
	for i := range ttyOuts {
		if i == 0 {
			ttyOuts[i] = k.Console
		} else {
			ttyOuts[i] = io.Discard
		}
	}
	k.TTYs = tty.NewManager(ttyOuts)
	if err := registerStandardDevNodes(k.DevFS, k.TTYs); err != nil {
		return nil, fmt.Errorf("boot: register /dev nodes: %w", err)
	}
	k.Log.Info("boot: console and TTYs ready")

	k.DiskWorker = diskio.NewWorker()
	for i, image := range cfg.Disks {
		ch := newVirtualATAChannel(fmt.Sprintf("AXONOS VIRTUAL DISK %d", i), image)
		for _, dev := range ata.Probe(ch) {
			k.ATADevices = append(k.ATADevices, dev)
		}
	}
	if _, err := ata.RegisterAll(k.ATADevices, k.DiskWorker, k.DevFS, k.VFS); err != nil {
		return nil, fmt.Errorf("boot: register disk drivers: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	k.cancel = cancel
	k.DiskWorker.Start(ctx)
	k.Log.Infow("boot: disk drivers registered", "devices", len(k.ATADevices))

	k.Sched = sched.New(k.PIT.Ticks)
	k.Log.Info("boot: scheduler ready")

	if cfg.MultibootInfo != nil {
		mods, meminfo, err := initfs.ParseTags(cfg.MultibootMagic, cfg.MultibootInfo)
		if err != nil {
			return nil, fmt.Errorf("boot: parse multiboot tags: %w", err)
		}
		k.Modules = mods
		k.MemInfo = meminfo
		if mod, err := initfs.FindModule(mods, "initfs"); err == nil {
			if mod.End <= uint32(len(cfg.InitrdArchive)) {
				archive := cfg.InitrdArchive[mod.Start:mod.End]
				if err := initfs.Extract(archive, k.RamFS, k.Log); err != nil {
					return nil, fmt.Errorf("boot: extract initrd: %w", err)
				}
				k.Log.Infow("boot: initrd extracted", "bytes", len(archive))
			}
		}
	}

	k.Log.Info("boot: init order complete, entering idle thread")
	return k, nil
}

// Shutdown stops the disk worker goroutine and waits for it to exit.
// There is no analogue to powering off real hardware; this only tears
// down the goroutines New started.
func (k *Kernel) Shutdown() error {
	if k.cancel != nil {
		k.cancel()
	}
	return k.DiskWorker.Stop()
}

// registerStandardDevNodes wires the stable device paths spec.md §6
// names that aren't block devices: /dev/null, /dev/zero, /dev/console,
// /dev/tty, /dev/tty0..tty5.
func registerStandardDevNodes(fs *devfs.FS, ttys *tty.Manager) error {
	if err := fs.RegisterChr("/dev/null", &devfs.Ops{
		Read:  func(buf []byte, offset int64) (int, error) { return 0, nil },
		Write: func(buf []byte, offset int64) (int, error) { return len(buf), nil },
	}); err != nil {
		return err
	}
	if err := fs.RegisterChr("/dev/zero", &devfs.Ops{
		Read: func(buf []byte, offset int64) (int, error) {
			for i := range buf {
				buf[i] = 0
			}
			return len(buf), nil
		},
		Write: func(buf []byte, offset int64) (int, error) { return len(buf), nil },
	}); err != nil {
		return err
	}
	for i := 0; i < tty.Count; i++ {
		path := fmt.Sprintf("/dev/tty%d", i)
		if err := fs.RegisterTTY(path, ttys.TTY(i)); err != nil {
			return err
		}
	}
	if err := fs.RegisterAlias("/dev/console", "/dev/tty0"); err != nil {
		return err
	}
	if err := fs.RegisterAlias("/dev/tty", "/dev/tty0"); err != nil {
		return err
	}
	return nil
}
