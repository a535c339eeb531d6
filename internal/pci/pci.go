// Package pci implements the CF8/CFC configuration-space enumerator
// from spec.md §4.7: walk every bus/device/function, record a compact
// descriptor for anything that answers, and expose lookup by
// vendor/device id — grounded on _examples/original_source/drv/pci.c.
package pci

// ConfigSpace abstracts the CF8 address/CFC data port pair so the
// enumerator can run against a simulated backing table in tests and
// against whatever real port-I/O shim the boot package supplies.
type ConfigSpace interface {
	ReadDword(bus, device, function uint8, offset uint8) uint32
}

// Device is a discovered PCI function, mirroring pci_device_t.
type Device struct {
	Bus, Slot, Function uint8
	VendorID, DeviceID  uint16
	ClassCode, Subclass uint8
	ProgIF, HeaderType  uint8
	IRQ                 uint8
	BAR                 [6]uint32
}

// maxDevices bounds the descriptor table, matching the original's
// fixed pci_devices[256] array.
const maxDevices = 256

// Bus owns the enumerated device list.
type Bus struct {
	devices []Device
}

// Enumerate probes every bus (0-255), device (0-31), and function
// (0-7, only past function 0 when the header declares multifunction)
// via cfg, recording a Device for every vendor id that isn't the
// "no device" sentinel 0xFFFF.
func Enumerate(cfg ConfigSpace) *Bus {
	b := &Bus{}
	for bus := 0; bus < 256; bus++ {
		for dev := uint8(0); dev < 32; dev++ {
			dword0 := cfg.ReadDword(uint8(bus), dev, 0, 0x00)
			vendor := uint16(dword0 & 0xFFFF)
			if vendor == 0xFFFF {
				continue
			}

			headerType := uint8((cfg.ReadDword(uint8(bus), dev, 0, 0x0C) >> 16) & 0xFF)
			maxFn := uint8(1)
			if headerType&0x80 != 0 {
				maxFn = 8
			}

			for fn := uint8(0); fn < maxFn; fn++ {
				d0 := cfg.ReadDword(uint8(bus), dev, fn, 0x00)
				vend := uint16(d0 & 0xFFFF)
				if vend == 0xFFFF {
					continue
				}

				d := Device{
					Bus: uint8(bus), Slot: dev, Function: fn,
					VendorID: vend, DeviceID: uint16((d0 >> 16) & 0xFFFF),
				}

				d2 := cfg.ReadDword(uint8(bus), dev, fn, 0x08)
				d.ClassCode = uint8((d2 >> 24) & 0xFF)
				d.Subclass = uint8((d2 >> 16) & 0xFF)
				d.ProgIF = uint8((d2 >> 8) & 0xFF)

				d3 := cfg.ReadDword(uint8(bus), dev, fn, 0x0C)
				d.HeaderType = uint8((d3 >> 16) & 0xFF)

				irqDword := cfg.ReadDword(uint8(bus), dev, fn, 0x3C)
				d.IRQ = uint8(irqDword & 0xFF)

				for i := 0; i < 6; i++ {
					d.BAR[i] = cfg.ReadDword(uint8(bus), dev, fn, uint8(0x10+i*4))
				}

				b.devices = append(b.devices, d)
				if len(b.devices) >= maxDevices {
					return b
				}
			}
		}
	}
	return b
}

// Devices returns every enumerated device, in probe order.
func (b *Bus) Devices() []Device {
	return b.devices
}

// FindByID returns the first enumerated device matching vendor/device
// id, or false if none matched.
func (b *Bus) FindByID(vendorID, deviceID uint16) (Device, bool) {
	for _, d := range b.devices {
		if d.VendorID == vendorID && d.DeviceID == deviceID {
			return d, true
		}
	}
	return Device{}, false
}

// FindByClass returns every enumerated device matching a class/subclass
// pair — used to locate IDE/ATA controllers (class 0x01, subclass 0x01)
// without knowing their vendor id ahead of time.
func (b *Bus) FindByClass(classCode, subclass uint8) []Device {
	var out []Device
	for _, d := range b.devices {
		if d.ClassCode == classCode && d.Subclass == subclass {
			out = append(out, d)
		}
	}
	return out
}
