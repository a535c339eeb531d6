package fat32

import (
	"fmt"

	"github.com/axonos/axonos/internal/vfs"
)

// ProbeAndMount tries TryMount against dev and, on success, registers and
// mounts the resulting driver at mountPath, per spec.md §4.8's auto-mount
// step: "on ATA device registration, probe with this driver; if a BPB is
// recognized, mount at /mnt/sdX." Returns (nil, nil) if dev carries no
// recognizable FAT32 BPB — that is not an error, just "nothing to mount".
func ProbeAndMount(v *vfs.VFS, dev Device, mountPath string) (*Driver, error) {
	m, err := TryMount(dev)
	if err != nil {
		if err == ErrNotFAT32 {
			return nil, nil
		}
		return nil, err
	}

	d := NewDriver(m)
	if err := v.RegisterDriver(d); err != nil {
		return nil, err
	}
	if err := v.Mount(mountPath, d); err != nil {
		return nil, err
	}
	return d, nil
}

// MountPathFor derives the conventional "/mnt/sdX" mount point for the
// Nth (0-indexed) registered disk.
func MountPathFor(id uint8) string {
	if id < 26 {
		return fmt.Sprintf("/mnt/sd%c", 'a'+id)
	}
	return fmt.Sprintf("/mnt/disk%d", id)
}
