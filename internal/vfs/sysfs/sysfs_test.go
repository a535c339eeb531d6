package sysfs

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarioD implements spec.md §8 Scenario D: mkdir /sys/c,
// register a counter attribute, verify default read, write, re-read.
func TestScenarioD(t *testing.T) {
	fs := New()
	require.NoError(t, fs.MkdirNode("/c"))

	counter := 0
	require.NoError(t, fs.RegisterAttribute("/c/count", &Attribute{
		Show: func(priv any) []byte {
			c := priv.(*int)
			return []byte(strconv.Itoa(*c) + "\n")
		},
		Store: func(priv any, data []byte) {
			c := priv.(*int)
			v, _ := strconv.Atoi(string(data))
			*c = v
		},
		Priv: &counter,
	}))

	h, err := fs.Open("/c/count", 0, 0)
	require.NoError(t, err)

	buf := make([]byte, 32)
	n, err := h.Read(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "0\n", string(buf[:n]))

	_, err = h.Write([]byte("5"), 0)
	require.NoError(t, err)

	n, err = h.Read(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "5\n", string(buf[:n]))
}

func TestRegisterAttributeDuplicateRejected(t *testing.T) {
	fs := New()
	require.NoError(t, fs.MkdirNode("/c"))
	require.NoError(t, fs.RegisterAttribute("/c/x", &Attribute{}))
	err := fs.RegisterAttribute("/c/x", &Attribute{})
	assert.Error(t, err)
}

func TestDirectoryListingStableInodes(t *testing.T) {
	fs := New()
	require.NoError(t, fs.MkdirNode("/g"))
	require.NoError(t, fs.RegisterAttribute("/g/a", &Attribute{Show: func(any) []byte { return nil }}))
	require.NoError(t, fs.RegisterAttribute("/g/b", &Attribute{Show: func(any) []byte { return nil }}))

	h, err := fs.Open("/g", 0, 0)
	require.NoError(t, err)
	buf := make([]byte, 256)
	n, newPos, err := h.ReadDir(0, buf)
	require.NoError(t, err)
	assert.Equal(t, int64(2), newPos)
	assert.True(t, n > 0)
}

func TestKernelInfoGroup(t *testing.T) {
	fs := New()
	ticks := uint64(2000)
	require.NoError(t, fs.RegisterKernelInfo(KernelInfo{
		Version: "axonos-test",
		Ticks:   func() uint64 { return ticks },
		HzRate:  1000,
	}))

	h, err := fs.Open("/kernel/version", 0, 0)
	require.NoError(t, err)
	buf := make([]byte, 64)
	n, err := h.Read(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "axonos-test\n", string(buf[:n]))

	h, err = fs.Open("/kernel/uptime", 0, 0)
	require.NoError(t, err)
	n, err = h.Read(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "2\n", string(buf[:n]))
}
