package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPagingRoundTrip(t *testing.T) {
	pt := NewPageTables()
	va := uint64(8) * pageSize1GiB // well outside the 4 GiB identity map
	pa := uint64(0x1_0000_0000)

	require.NoError(t, pt.Map2MiB(va, pa, FlagWritable))

	for k := uint64(0); k < pageSize2MiB; k += 4096 {
		assert.Equal(t, pa+k, pt.VirtualToPhysical(va+k))
	}

	pt.Unmap2MiB(va)
	assert.Equal(t, uint64(0), pt.VirtualToPhysical(va))
}

func TestIdentityMapCoversFirst4GiB(t *testing.T) {
	pt := NewPageTables()
	assert.Equal(t, uint64(0), pt.VirtualToPhysical(0))
	assert.Equal(t, uint64(0x1234), pt.VirtualToPhysical(0x1234))
	assert.Equal(t, uint64(3)*pageSize1GiB+1, pt.VirtualToPhysical(uint64(3)*pageSize1GiB+1))
}

func TestMMIOIoremapRoundTrip(t *testing.T) {
	pt := NewPageTables()
	win := NewMMIOWindow(pt, 64)

	v, err := win.Ioremap(0xFEBC_0000, 4096)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xFEBC_0000), pt.VirtualToPhysical(v))

	win.Iounmap(align2MiBDown(v), 4096)
	assert.Equal(t, uint64(0), pt.VirtualToPhysical(align2MiBDown(v)))
}

func TestMMIOExhaustion(t *testing.T) {
	pt := NewPageTables()
	win := NewMMIOWindow(pt, 1)

	_, err := win.Ioremap(0, pageSize2MiB+1) // needs 2 slots
	assert.ErrorIs(t, err, ErrMMIOExhausted)

	// A subsequent request that fits in the single remaining slot
	// should still succeed — confirms the failed request rolled back.
	_, err = win.Ioremap(0, 4096)
	assert.NoError(t, err)
}

func TestTablePoolExhaustion(t *testing.T) {
	pt := NewPageTables()
	for i := 0; i < staticTablePoolSize; i++ {
		va := uint64(8+i) * pageSize1GiB
		require.NoError(t, pt.Map2MiB(va, va, 0))
	}
	va := uint64(8+staticTablePoolSize) * pageSize1GiB
	assert.ErrorIs(t, pt.Map2MiB(va, va, 0), ErrTablePoolExhausted)
}
