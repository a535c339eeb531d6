package ata

import (
	"fmt"

	"github.com/axonos/axonos/internal/diskio"
	"github.com/axonos/axonos/internal/vfs"
	"github.com/axonos/axonos/internal/vfs/devfs"
	"github.com/axonos/axonos/internal/vfs/fat32"
)

// Probe runs Identify against both drive selects of a single channel
// (matching ata_dma_init's per-channel master/slave loop) and returns
// every device that answered.
func Probe(ch Channel) []*Device {
	var found []*Device
	for _, slave := range []bool{false, true} {
		dev, err := Identify(ch, slave)
		if err != nil {
			continue
		}
		found = append(found, dev)
	}
	return found
}

// RegisterAll wires each probed device into the diskio worker under a
// fresh device id, creates /dev/hdN and /dev/sdX devfs block nodes for
// it (mirroring ata_register_device's dual naming scheme), and, if vfsCore
// is non-nil, probes the device for a FAT32 BPB and auto-mounts it at
// /mnt/sdX per spec.md §4.8.
func RegisterAll(devices []*Device, worker *diskio.Worker, fs *devfs.FS, vfsCore *vfs.VFS) ([]uint8, error) {
	var ids []uint8
	for i, dev := range devices {
		id := uint8(i)
		worker.RegisterDevice(id, dev)
		ids = append(ids, id)

		hdPath := fmt.Sprintf("/dev/hd%d", id)
		if err := fs.RegisterBlk(hdPath, blockOps(worker, id)); err != nil {
			return ids, err
		}
		if id < 26 {
			sdPath := fmt.Sprintf("/dev/sd%c", 'a'+id)
			if err := fs.RegisterAlias(sdPath, hdPath); err != nil {
				return ids, err
			}
		}

		if vfsCore != nil {
			if _, err := fat32.ProbeAndMount(vfsCore, dev, fat32.MountPathFor(id)); err != nil {
				return ids, err
			}
		}
	}
	return ids, nil
}

// blockOps adapts a diskio-scheduled device into devfs's synchronous
// Ops contract: Read/Write schedule a request and block for its
// completion via WaitCompletion.
func blockOps(worker *diskio.Worker, deviceID uint8) *devfs.Ops {
	return &devfs.Ops{
		Read: func(buf []byte, offset int64) (int, error) {
			lba := uint32(offset / SectorSize)
			id := worker.ScheduleRequest(diskio.OpRead, deviceID, lba, buf, uint32(len(buf)))
			if err := worker.WaitCompletion(id); err != nil {
				return 0, err
			}
			return len(buf), nil
		},
		Write: func(buf []byte, offset int64) (int, error) {
			lba := uint32(offset / SectorSize)
			id := worker.ScheduleRequest(diskio.OpWrite, deviceID, lba, buf, uint32(len(buf)))
			if err := worker.WaitCompletion(id); err != nil {
				return 0, err
			}
			return len(buf), nil
		},
	}
}
