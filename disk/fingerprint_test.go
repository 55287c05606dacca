package disk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageMapDOS(t *testing.T) {
	d := newDOSDisk(t)
	used, width := UsageMap(d)
	assert.Equal(t, 16, width)
	require.Len(t, used, 560)

	n := 0
	for _, u := range used {
		if u {
			n++
		}
	}
	assert.Equal(t, 560-d.FreeSectors(), n)
	assert.True(t, used[0], "track 0 holds DOS")
	assert.True(t, used[17*16], "catalog track")
	assert.False(t, used[16], "track 1 starts free")
}

func TestActiveChecksumIgnoresFreeSectors(t *testing.T) {
	d := newDOSDisk(t)
	data, err := ActiveData(d)
	require.NoError(t, err)
	assert.Len(t, data, 32*STD_BYTES_PER_SECTOR)

	before, err := ActiveChecksum(d)
	require.NoError(t, err)

	junk := make([]byte, STD_BYTES_PER_SECTOR)
	junk[0] = 0x99
	require.NoError(t, d.order.WriteSector(20, 3, junk))
	after, err := ActiveChecksum(d)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	createDOSFile(t, d, "HELLO", "T", []byte("HELLO"))
	changed, err := ActiveChecksum(d)
	require.NoError(t, err)
	assert.NotEqual(t, before, changed)
}

func TestActiveDataProDOS(t *testing.T) {
	fixClock(t)
	d := newProDOSDisk(t, STD_DISK_BYTES)
	used, width := UsageMap(d)
	assert.Equal(t, 16, width)
	require.Len(t, used, PRODOS_BLOCKS_PER_DISK)

	data, err := ActiveData(d)
	require.NoError(t, err)
	assert.Len(t, data, (PRODOS_BLOCKS_PER_DISK-d.FreeBlocks())*PRODOS_BLOCK_SIZE)
}
