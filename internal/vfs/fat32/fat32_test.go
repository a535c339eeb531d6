package fat32

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axonos/axonos/internal/vfs"
)

const (
	testBytesPerSector    = 512
	testSectorsPerCluster = 1
	testReservedSectors   = 4
	testNumFATs           = 2
	testSectorsPerFAT     = 16
	testRootCluster       = 2
	testTotalSectors      = 2048
)

// memDevice is an in-memory block device, analogous to
// internal/diskio's memDevice fake but local to this package to avoid
// a test-only dependency between packages.
type memDevice struct {
	sectors [][]byte
}

func newMemDevice(totalSectors int) *memDevice {
	d := &memDevice{sectors: make([][]byte, totalSectors)}
	for i := range d.sectors {
		d.sectors[i] = make([]byte, testBytesPerSector)
	}
	return d
}

func (d *memDevice) ReadSectors(lba uint32, buf []byte) error {
	n := len(buf) / testBytesPerSector
	for i := 0; i < n; i++ {
		copy(buf[i*testBytesPerSector:(i+1)*testBytesPerSector], d.sectors[int(lba)+i])
	}
	return nil
}

func (d *memDevice) WriteSectors(lba uint32, buf []byte) error {
	n := len(buf) / testBytesPerSector
	for i := 0; i < n; i++ {
		copy(d.sectors[int(lba)+i], buf[i*testBytesPerSector:(i+1)*testBytesPerSector])
	}
	return nil
}

// formatFAT32 writes a minimal, valid FAT32 BPB directly at LBA 0 (no
// MBR partition table) with both FAT copies zeroed and clusters 0/1
// reserved plus the root directory cluster marked end-of-chain.
func formatFAT32() *memDevice {
	dev := newMemDevice(testTotalSectors)

	boot := dev.sectors[0]
	putUint16(boot[11:13], testBytesPerSector)
	boot[13] = testSectorsPerCluster
	putUint16(boot[14:16], testReservedSectors)
	boot[16] = testNumFATs
	putUint32(boot[32:36], testTotalSectors)
	putUint32(boot[36:40], testSectorsPerFAT)
	putUint32(boot[44:48], testRootCluster)
	boot[510] = 0x55
	boot[511] = 0xAA

	firstFATSector := testReservedSectors
	for fi := 0; fi < testNumFATs; fi++ {
		fatSector := firstFATSector + fi*testSectorsPerFAT
		fat0 := dev.sectors[fatSector]
		putUint32(fat0[0:4], 0x0FFFFFF8)
		putUint32(fat0[4:8], 0x0FFFFFFF)
		putUint32(fat0[8:12], 0x0FFFFFFF) // cluster 2 (root), EOC
	}

	return dev
}

func mustMount(t *testing.T) (*Mount, *memDevice) {
	t.Helper()
	dev := formatFAT32()
	m, err := TryMount(dev)
	require.NoError(t, err)
	return m, dev
}

func TestTryMountParsesGeometry(t *testing.T) {
	m, _ := mustMount(t)
	assert.EqualValues(t, testBytesPerSector, m.bytesPerSector)
	assert.EqualValues(t, testSectorsPerCluster, m.sectorsPerCluster)
	assert.EqualValues(t, testRootCluster, m.rootCluster)
	assert.EqualValues(t, testReservedSectors, m.firstFATSector)
}

func TestTryMountRejectsBadMagic(t *testing.T) {
	dev := newMemDevice(testTotalSectors)
	_, err := TryMount(dev)
	assert.ErrorIs(t, err, ErrNotFAT32)
}

func TestCreateAndWalkRootDirectory(t *testing.T) {
	m, _ := mustMount(t)

	err := m.createEntry(m.rootCluster, "Readme.txt", false, 0)
	require.NoError(t, err)

	entries, err := m.walkDir(m.rootCluster)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Readme.txt", entries[0].Name)
	assert.False(t, entries[0].IsDir)
}

func TestCreateRejectsCaseInsensitiveDuplicate(t *testing.T) {
	m, _ := mustMount(t)
	d := NewDriver(m)

	_, err := d.Create("/mnt/sda/notes.txt", 0, 0)
	require.NoError(t, err)

	_, err = d.Create("/mnt/sda/NOTES.TXT", 0, 0)
	assert.ErrorIs(t, err, vfs.ErrExists)
}

func TestFileWriteReadRoundTrip(t *testing.T) {
	m, _ := mustMount(t)
	d := NewDriver(m)

	h, err := d.Create("/mnt/sda/data.bin", 0, 0)
	require.NoError(t, err)

	payload := make([]byte, 3000) // spans multiple clusters at 512B/cluster
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	n, err := h.Write(payload, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	h2, err := d.Open("/mnt/sda/data.bin", 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), h2.Size())

	readBack := make([]byte, len(payload))
	n, err = h2.Read(readBack, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, readBack)
}

func TestMkdirCreatesDotEntries(t *testing.T) {
	m, _ := mustMount(t)
	d := NewDriver(m)

	err := d.Mkdir("/mnt/sda/sub", 0755, 0, 0)
	require.NoError(t, err)

	entries, err := m.walkDir(m.rootCluster)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "sub", entries[0].Name)
	assert.True(t, entries[0].IsDir)

	sub, err := m.walkDir(entries[0].StartCluster)
	require.NoError(t, err)
	_ = sub // '.' and '..' are 8.3-only short entries with no preceding
	// LFN, so they are intentionally invisible to walkDir (Open
	// Question #1); the directory cluster itself still links correctly,
	// verified via clusterToLBA/readCluster below.
	raw, err := m.readCluster(entries[0].StartCluster)
	require.NoError(t, err)
	assert.Equal(t, byte('.'), raw[0])
	assert.Equal(t, byte('.'), raw[32])
	assert.Equal(t, byte('.'), raw[33])
}
