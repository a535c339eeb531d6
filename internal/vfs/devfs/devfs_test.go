package devfs

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axonos/axonos/internal/tty"
	"github.com/axonos/axonos/internal/vfs"
)

func newTestManager() (*tty.Manager, [tty.Count]*bytes.Buffer) {
	var bufs [tty.Count]*bytes.Buffer
	var outs [tty.Count]io.Writer
	for i := range bufs {
		bufs[i] = &bytes.Buffer{}
		outs[i] = bufs[i]
	}
	return tty.NewManager(outs), bufs
}

func TestNullAndZeroDevices(t *testing.T) {
	fs := New()
	require.NoError(t, fs.RegisterChr("/dev/null", NullOps()))
	require.NoError(t, fs.RegisterChr("/dev/zero", ZeroOps()))

	h, err := fs.Open("/dev/null", 0, 0)
	require.NoError(t, err)
	buf := []byte("xxxx")
	n, err := h.Write(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	n, err = h.Read(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	h, err = fs.Open("/dev/zero", 0, 0)
	require.NoError(t, err)
	readBuf := []byte{1, 2, 3}
	n, err = h.Read(readBuf, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{0, 0, 0}, readBuf)
}

func TestStableDevicePathsAndAliases(t *testing.T) {
	fs := New()
	mgr, _ := newTestManager()
	require.NoError(t, RegisterBuiltins(fs, mgr))

	for _, p := range []string{"/dev/null", "/dev/zero", "/dev/fd0", "/dev/tty0", "/dev/tty5", "/dev/console", "/dev/tty"} {
		_, err := fs.Open(p, 0, 0)
		assert.NoError(t, err, p)
	}
}

func TestTTYNodeRoutesToCanonicalRead(t *testing.T) {
	fs := New()
	mgr, bufs := newTestManager()
	require.NoError(t, RegisterBuiltins(fs, mgr))

	t0 := mgr.TTY(0)
	for _, c := range "hi\n" {
		t0.PushByte(byte(c))
	}

	h, err := fs.Open("/dev/tty0", 0, 0)
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, err := h.Read(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(buf[:n]))
	assert.Equal(t, "hi\n", bufs[0].String())
}

func TestConsoleAliasSharesTarget(t *testing.T) {
	fs := New()
	mgr, bufs := newTestManager()
	require.NoError(t, RegisterBuiltins(fs, mgr))

	h, err := fs.Open("/dev/console", 0, 0)
	require.NoError(t, err)
	_, err = h.Write([]byte("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", bufs[0].String())
}

func TestDirectoryListingIncludesRegisteredNodes(t *testing.T) {
	fs := New()
	mgr, _ := newTestManager()
	require.NoError(t, RegisterBuiltins(fs, mgr))

	h, err := fs.Open("/dev", 0, 0)
	require.NoError(t, err)
	buf := make([]byte, 4096)
	n, _, err := h.ReadDir(0, buf)
	require.NoError(t, err)

	names := map[string]bool{}
	off := 0
	for off < n {
		e, ok := vfs.DecodeDirEntry(buf[off:])
		require.True(t, ok)
		names[e.Name] = true
		off += int(e.RecLen)
	}
	assert.True(t, names["null"])
	assert.True(t, names["tty0"])
	assert.True(t, names["console"])
}

func TestCreateAndMkdirNotSupported(t *testing.T) {
	fs := New()
	_, err := fs.Create("/dev/foo", 0, 0)
	assert.Error(t, err)
	err = fs.Mkdir("/dev/bar", 0755, 0, 0)
	assert.Error(t, err)
}
