package disk

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCPMDisk(t *testing.T) *CPMDisk {
	t.Helper()
	order, err := NewBlankOrder(SectorOrderDOS33, STD_DISK_BYTES)
	require.NoError(t, err)
	d := NewCPMDisk(order)
	require.NoError(t, d.Format())
	return d
}

func TestCPMFormat(t *testing.T) {
	d := newCPMDisk(t)
	assert.Equal(t, 128, d.TotalBlocks())
	assert.Equal(t, 126, d.FreeBlocks())
	assert.Equal(t, 2*CPM_BLOCK_SIZE, d.UsedSpace())
	assert.Equal(t, bytes.Repeat([]byte{CPM_DELETED}, STD_DISK_BYTES), d.order.Bytes())

	files, err := d.Files()
	require.NoError(t, err)
	assert.Empty(t, files)

	thirteen, err := NewBlankOrder(SectorOrderDOS33, STD_DISK_BYTES_OLD)
	require.NoError(t, err)
	assert.True(t, errors.Is(NewCPMDisk(thirteen).Format(), ErrInvalidArgument))
}

func TestCPMBlockSkew(t *testing.T) {
	d := newCPMDisk(t)
	tr, s := d.blockSector(0, 0)
	assert.Equal(t, []int{3, 0}, []int{tr, s})
	tr, s = d.blockSector(0, 1)
	assert.Equal(t, []int{3, 6}, []int{tr, s})
	tr, s = d.blockSector(4, 0)
	assert.Equal(t, []int{4, 0}, []int{tr, s})
}

func TestCPMWholeRecords(t *testing.T) {
	d := newCPMDisk(t)
	fe, err := d.CreateFile()
	require.NoError(t, err)
	require.NoError(t, fe.SetName("readme.txt"))
	require.NoError(t, fe.SetFiletype("txt"))

	payload := bytes.Repeat([]byte("CP/M "), 60)
	require.NoError(t, fe.SetFileData(payload))

	assert.Equal(t, "README", fe.Name())
	assert.Equal(t, "TXT", fe.Filetype())
	assert.Equal(t, CETText, fe.TypeHint())
	assert.Equal(t, 384, fe.Size())
	assert.Equal(t, 125, d.FreeBlocks())

	// CP/M keeps no byte count, only 128 byte records, so a read returns
	// the payload padded with ^Z rather than the exact bytes written
	data, err := fe.FileData()
	require.NoError(t, err)
	assert.NotEqual(t, payload, data, "reads are whole records, not the written length")
	require.Len(t, data, 384, "300 bytes round up to three records")
	assert.Equal(t, payload, data[:300])
	assert.Equal(t, bytes.Repeat([]byte{0x1a}, 84), data[300:], "the tail of the last record is ^Z fill")
}

func TestCPMMultipleExtents(t *testing.T) {
	d := newCPMDisk(t)
	fe, err := d.CreateFile()
	require.NoError(t, err)
	require.NoError(t, fe.SetName("BIG"))

	payload := make([]byte, 20*CPM_BLOCK_SIZE)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	require.NoError(t, fe.SetFileData(payload))

	files, err := d.Files()
	require.NoError(t, err)
	assert.Len(t, files, 1)
	assert.Equal(t, 106, d.FreeBlocks())

	dir, err := d.directory()
	require.NoError(t, err)
	ext := d.extents(dir, cpmEntry(dir, 0).key())
	require.Len(t, ext, 2)
	assert.Equal(t, byte(128), cpmEntry(dir, ext[0])[15])
	assert.Equal(t, byte(32), cpmEntry(dir, ext[1])[15])
	assert.Equal(t, 1, cpmEntry(dir, ext[1]).extent())
	assert.Len(t, cpmEntry(dir, ext[1]).blocks(), 4)

	data, err := files[0].FileData()
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	// shrinking releases the second extent
	require.NoError(t, fe.SetFileData([]byte("small")))
	dir, err = d.directory()
	require.NoError(t, err)
	assert.Len(t, d.extents(dir, cpmEntry(dir, 0).key()), 1)
	assert.Equal(t, 125, d.FreeBlocks())
}

func TestCPMDiskFull(t *testing.T) {
	d := newCPMDisk(t)
	fe, err := d.CreateFile()
	require.NoError(t, err)
	before := append([]byte(nil), d.order.Bytes()...)

	err = fe.SetFileData(make([]byte, 127*CPM_BLOCK_SIZE))
	assert.True(t, errors.Is(err, ErrDiskFull))
	assert.Equal(t, before, d.order.Bytes())
}

func TestCPMDeleteAndNames(t *testing.T) {
	d := newCPMDisk(t)
	first, err := d.CreateFile()
	require.NoError(t, err)
	second, err := d.CreateFile()
	require.NoError(t, err)
	assert.Equal(t, "UNTITLED", first.Name())
	assert.Equal(t, "NEW1", second.Name())
	assert.Equal(t, 0, first.(*CPMFileEntry).UserNumber())

	require.NoError(t, first.SetFileData(make([]byte, 3000)))
	assert.Equal(t, 123, d.FreeBlocks())
	require.NoError(t, first.Delete())
	assert.True(t, first.IsDeleted())
	assert.Equal(t, 126, d.FreeBlocks())

	files, err := d.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "NEW1", files[0].Name())
}

func TestCPMLock(t *testing.T) {
	d := newCPMDisk(t)
	fe, err := d.CreateFile()
	require.NoError(t, err)
	require.NoError(t, fe.SetFiletype("COM"))

	require.NoError(t, fe.SetLocked(true))
	assert.True(t, fe.IsLocked())
	assert.Equal(t, "COM", fe.Filetype())
	require.NoError(t, fe.SetName("RUNME"))
	assert.True(t, fe.IsLocked(), "renaming keeps the attribute bit")
	assert.Equal(t, []string{"0", "RUNME", "COM", "0", "Yes"}, fe.Columns(DisplayDetail))

	require.NoError(t, fe.SetLocked(false))
	assert.False(t, fe.IsLocked())
}

func TestCPMIdentify(t *testing.T) {
	d := newCPMDisk(t)
	fe, err := d.CreateFile()
	require.NoError(t, err)
	require.NoError(t, fe.SetFileData([]byte("hello")))

	found, err := Identify(d.order)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, KindCPM, found[0].Kind())
}
