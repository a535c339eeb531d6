package ramfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axonos/axonos/internal/vfs"
)

// TestScenarioC implements spec.md §8 Scenario C.
func TestScenarioC(t *testing.T) {
	fs := New()

	require.NoError(t, fs.Mkdir("/a", 0755, 0, 0))
	require.NoError(t, fs.Mkdir("/a/b", 0755, 0, 0))

	h, err := fs.Create("/a/b/x", 0, 0)
	require.NoError(t, err)
	n, err := h.Write([]byte("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	h2, err := fs.Open("/a/b/x", 0, 0)
	require.NoError(t, err)
	buf := make([]byte, 5)
	n, err = h2.Read(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	require.NoError(t, fs.Remove("/a/b/x", 0))
	_, err = fs.Open("/a/b/x", 0, 0)
	assert.ErrorIs(t, err, vfs.ErrNotFound)

	err = fs.Remove("/a", 0)
	assert.Error(t, err)
}

func TestNonRootCannotWrite(t *testing.T) {
	fs := New()
	h, err := fs.Create("/f", 1000, 1000)
	require.NoError(t, err)
	_, err = h.Write([]byte("x"), 0)
	assert.ErrorIs(t, err, vfs.ErrPermission)
}

func TestNonRootCannotRemove(t *testing.T) {
	fs := New()
	_, err := fs.Create("/f", 0, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, fs.Remove("/f", 1000), vfs.ErrPermission)
}

func TestDirectoryListing(t *testing.T) {
	fs := New()
	require.NoError(t, fs.Mkdir("/dir", 0755, 0, 0))
	_, err := fs.Create("/dir/one", 0, 0)
	require.NoError(t, err)
	_, err = fs.Create("/dir/two", 0, 0)
	require.NoError(t, err)

	h, err := fs.Open("/dir", 0, 0)
	require.NoError(t, err)

	buf := make([]byte, 256)
	n, newPos, err := h.ReadDir(0, buf)
	require.NoError(t, err)
	assert.True(t, n > 0)
	assert.Equal(t, int64(2), newPos)

	names := map[string]bool{}
	off := 0
	for off < n {
		e, ok := vfs.DecodeDirEntry(buf[off:])
		require.True(t, ok)
		names[e.Name] = true
		off += int(e.RecLen)
	}
	assert.True(t, names["one"])
	assert.True(t, names["two"])
}
