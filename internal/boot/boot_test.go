package boot

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axonos/axonos/internal/initfs"
)

// buildCpioArchive constructs a minimal cpio-newc archive with one
// regular file, mirroring internal/initfs's own test helper.
func buildCpioArchive(name string, data []byte) []byte {
	var buf bytes.Buffer
	nameWithNUL := append([]byte(name), 0)

	fmt.Fprint(&buf, "070701")
	fmt.Fprintf(&buf, "%08X", 0)                // ino
	fmt.Fprintf(&buf, "%08X", 0100000)          // mode: regular file
	fmt.Fprintf(&buf, "%08X", 0)                // uid
	fmt.Fprintf(&buf, "%08X", 0)                // gid
	fmt.Fprintf(&buf, "%08X", 1)                // nlink
	fmt.Fprintf(&buf, "%08X", 0)                // mtime
	fmt.Fprintf(&buf, "%08X", len(data))        // filesize
	fmt.Fprintf(&buf, "%08X", 0)                // devmajor
	fmt.Fprintf(&buf, "%08X", 0)                // devminor
	fmt.Fprintf(&buf, "%08X", 0)                // rdevmajor
	fmt.Fprintf(&buf, "%08X", 0)                // rdevminor
	fmt.Fprintf(&buf, "%08X", len(nameWithNUL)) // namesize
	fmt.Fprintf(&buf, "%08X", 0)                // check

	buf.Write(nameWithNUL)
	padTo4(&buf)
	buf.Write(data)
	padTo4(&buf)

	buf.WriteString("070701")
	buf.WriteString(fmt.Sprintf("%08X", 0))
	for i := 0; i < 10; i++ {
		buf.WriteString(fmt.Sprintf("%08X", 0))
	}
	trailerName := []byte("TRAILER!!!\x00")
	buf.WriteString(fmt.Sprintf("%08X", len(trailerName)))
	buf.WriteString(fmt.Sprintf("%08X", 0))
	buf.Write(trailerName)
	padTo4(&buf)

	return buf.Bytes()
}

func padTo4(buf *bytes.Buffer) {
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}

func TestNewBootsDisklessWithoutInitrd(t *testing.T) {
	k, err := New(Config{MultibootMagic: Multiboot2Magic})
	require.NoError(t, err)
	defer k.Shutdown()

	assert.NotNil(t, k.VFS)
	assert.Empty(t, k.ATADevices)
	assert.True(t, k.APICTimer.Running())
	assert.NotZero(t, k.APICTimer.CalibratedTicksPer10ms())
}

func TestNewExtractsInitrdIntoRamfs(t *testing.T) {
	archive := buildCpioArchive("hello.txt", []byte("hi there"))
	cfg := Config{
		MultibootMagic: Multiboot2Magic,
		InitrdArchive:  archive,
		MultibootInfo:  BuildMultibootInfo(archive, 640, 65536),
	}

	k, err := New(cfg)
	require.NoError(t, err)
	defer k.Shutdown()

	require.Len(t, k.Modules, 1)
	assert.Equal(t, "initfs", k.Modules[0].Name)
	require.NotNil(t, k.MemInfo)
	assert.EqualValues(t, 65536, k.MemInfo.UpperKB)

	f, err := k.VFS.Open("/hello.txt", 0, 0)
	require.NoError(t, err)
	defer f.Free()

	buf := make([]byte, 32)
	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hi there", string(buf[:n]))
}

func TestNewWithSimulatedDiskRegistersBlockDevice(t *testing.T) {
	disk := make([]byte, 64*512)
	k, err := New(Config{MultibootMagic: Multiboot2Magic, Disks: [][]byte{disk}})
	require.NoError(t, err)
	defer k.Shutdown()

	require.Len(t, k.ATADevices, 1)
	f, err := k.VFS.Open("/dev/hd0", 0, 0)
	require.NoError(t, err)
	f.Free()

	found := false
	for _, d := range k.PCIBus.Devices() {
		if d.ClassCode == 0x01 && d.Subclass == 0x01 {
			found = true
		}
	}
	assert.True(t, found, "expected an enumerated IDE controller")
}

func TestBuildMultibootInfoRoundTripsThroughParseTags(t *testing.T) {
	archive := buildCpioArchive("a", []byte("b"))
	info := BuildMultibootInfo(archive, 640, 1024)
	assert.NotEmpty(t, info)

	mods, mem, err := initfs.ParseTags(Multiboot2Magic, info)
	require.NoError(t, err)
	require.Len(t, mods, 1)
	assert.Equal(t, "initfs", mods[0].Name)
	assert.EqualValues(t, 0, mods[0].Start)
	assert.EqualValues(t, len(archive), mods[0].End)
	require.NotNil(t, mem)
	assert.EqualValues(t, 640, mem.LowerKB)
	assert.EqualValues(t, 1024, mem.UpperKB)
}
