package disk

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gutenbergImage holds one document, README, in a single chained sector
// at T18 S0.
func gutenbergImage(t *testing.T) (*GutenbergDisk, ImageOrder) {
	t.Helper()
	order, err := NewBlankOrder(SectorOrderDOS33, STD_DISK_BYTES)
	require.NoError(t, err)

	cat := make([]byte, STD_BYTES_PER_SECTOR)
	putHighString(cat[6:15], "MYDISK")
	for offset := GUTENBERG_ENTRY_LENGTH; offset < 0xff; offset += GUTENBERG_ENTRY_LENGTH {
		cat[offset] = 0xa0
	}
	cat[4], cat[5] = 0x40, 0
	cat[0x34], cat[0x35] = STD_TRACKS_PER_DISK, STD_SECTORS_PER_TRACK

	entry := cat[0x20 : 0x20+GUTENBERG_ENTRY_LENGTH]
	putHighString(entry[:GUTENBERG_NAME_LENGTH], "README")
	entry[12], entry[13] = 18, 0
	entry[15] = 1
	require.NoError(t, order.WriteSector(DOS_CATALOG_TRACK, GUTENBERG_VTOC_SECTOR, cat))

	data := make([]byte, STD_BYTES_PER_SECTOR)
	data[4], data[5] = GUTENBERG_CHAIN_END, 0
	copy(data[GUTENBERG_PAYLOAD_OFFSET:], "HELLO GUTENBERG")
	require.NoError(t, order.WriteSector(18, 0, data))

	return NewGutenbergDisk(order), order
}

func TestGutenbergCatalog(t *testing.T) {
	d, _ := gutenbergImage(t)
	assert.Equal(t, "MYDISK", d.DiskName())

	files, err := d.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)
	e := files[0].(*GutenbergFileEntry)
	assert.Equal(t, "README", e.Name())
	assert.Equal(t, "T", e.Filetype())
	assert.Equal(t, CETText, e.TypeHint())
	assert.Equal(t, 1, e.SectorsUsed())
	assert.Equal(t, STD_BYTES_PER_SECTOR, e.Size())

	data, err := e.FileData()
	require.NoError(t, err)
	assert.Len(t, data, STD_BYTES_PER_SECTOR)
	assert.Equal(t, "HELLO GUTENBERG", string(data[:15]))
	assert.Equal(t, byte(0), data[15])
}

func TestGutenbergLockAndDelete(t *testing.T) {
	d, _ := gutenbergImage(t)
	found, err := FindFile(d, "readme")
	require.NoError(t, err)
	e := found.(*GutenbergFileEntry)

	require.NoError(t, e.SetLocked(true))
	assert.True(t, e.IsLocked())
	assert.Equal(t, []string{"*", "T", "001", "README"}, e.Columns(DisplayNative))
	require.NoError(t, e.SetLocked(false))
	assert.False(t, e.IsLocked())

	require.NoError(t, e.Delete())
	assert.True(t, e.IsDeleted())
	files, err := d.Files()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestGutenbergChainLoop(t *testing.T) {
	d, order := gutenbergImage(t)
	data, err := order.ReadSector(18, 0)
	require.NoError(t, err)
	data[4], data[5] = 18, 0
	require.NoError(t, order.WriteSector(18, 0, data))

	files, err := d.Files()
	require.NoError(t, err)
	_, err = files[0].FileData()
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestGutenbergChainLongerThanEntry(t *testing.T) {
	d, order := gutenbergImage(t)
	data, err := order.ReadSector(18, 0)
	require.NoError(t, err)
	data[4], data[5] = 18, 1
	require.NoError(t, order.WriteSector(18, 0, data))
	next := make([]byte, STD_BYTES_PER_SECTOR)
	next[4] = GUTENBERG_CHAIN_END
	require.NoError(t, order.WriteSector(18, 1, next))

	files, err := d.Files()
	require.NoError(t, err)
	_, err = files[0].FileData()
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestGutenbergSpaceIsNeverFree(t *testing.T) {
	order, err := NewBlankOrder(SectorOrderDOS33, STD_DISK_BYTES)
	require.NoError(t, err)
	d := NewGutenbergDisk(order)
	require.NoError(t, d.Format())

	assert.Equal(t, 0, d.FreeSpace())
	assert.Equal(t, STD_DISK_BYTES, d.UsedSpace())
	assert.Equal(t, Capabilities{ReadFileData: true, DeletedFiles: true}, d.Capabilities())

	u := d.DiskUsage()
	for u.HasNext() {
		u.Next()
		require.True(t, u.IsUsed())
	}

	before := append([]byte(nil), order.Bytes()...)
	fe, err := d.CreateFile()
	require.NoError(t, err)
	err = fe.SetFileData([]byte("NEW TEXT"))
	assert.True(t, errors.Is(err, ErrDiskFull))
	assert.Equal(t, before, order.Bytes())
}

func TestGutenbergFiletypeIsFixed(t *testing.T) {
	d, _ := gutenbergImage(t)
	files, err := d.Files()
	require.NoError(t, err)
	assert.NoError(t, files[0].SetFiletype("T"))
	assert.True(t, errors.Is(files[0].SetFiletype("B"), ErrInvalidArgument))
	_, err = d.CreateDirectory("DOCS")
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func formattedGutenberg(t *testing.T) (*GutenbergDisk, ImageOrder) {
	t.Helper()
	order, err := NewBlankOrder(SectorOrderDOS33, STD_DISK_BYTES)
	require.NoError(t, err)
	d := NewGutenbergDisk(order)
	require.NoError(t, d.Format())
	return d, order
}

func TestGutenbergFormatLayout(t *testing.T) {
	d, order := formattedGutenberg(t)

	vtoc, err := order.ReadSector(DOS_CATALOG_TRACK, GUTENBERG_VTOC_SECTOR)
	require.NoError(t, err)
	assert.Equal(t, []byte{17, 15}, vtoc[1:3])
	assert.Equal(t, byte(3), vtoc[3])
	assert.Equal(t, byte(DOS_VOLUME_NUMBER), vtoc[6])
	assert.Equal(t, byte(DOS_TRACK_SECTOR_PAIRS), vtoc[0x27])
	assert.Equal(t, []byte{35, 16, 0, 1}, vtoc[0x34:0x38])

	// the VTOC replaces sector 7 of the descending catalog chain
	for s := 15; s > 1; s-- {
		if s == GUTENBERG_VTOC_SECTOR {
			continue
		}
		cs, err := order.ReadSector(DOS_CATALOG_TRACK, s)
		require.NoError(t, err)
		assert.Equal(t, []byte{17, byte(s - 1)}, cs[1:3], "catalog sector %d", s)
	}
	last, err := order.ReadSector(DOS_CATALOG_TRACK, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0}, last[1:3])

	dosVTOC, err := order.ReadSector(DOS_CATALOG_TRACK, DOS_VTOC_SECTOR)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, STD_BYTES_PER_SECTOR), dosVTOC)

	boot, err := order.ReadSector(0, 0)
	require.NoError(t, err)
	assert.Equal(t, bootSector(bootDOS33, STD_BYTES_PER_SECTOR), boot)

	for _, c := range []struct {
		track, sector int
		free          bool
	}{{0, 3, false}, {17, 3, false}, {1, 0, true}, {34, 15, true}} {
		free, err := isSectorFree(vtoc, c.track, c.sector)
		require.NoError(t, err)
		assert.Equal(t, c.free, free, "T%d S%d", c.track, c.sector)
	}

	before := append([]byte(nil), order.Bytes()...)
	require.NoError(t, d.Format())
	assert.Equal(t, before, order.Bytes())
}

func TestGutenbergCreateFileFollowsVTOCChain(t *testing.T) {
	d, _ := formattedGutenberg(t)

	fe, err := d.CreateFile()
	require.NoError(t, err)
	e := fe.(*GutenbergFileEntry)
	assert.Equal(t, []int{17, 15, DOS_CATALOG_ENTRY_OFFSET}, []int{e.track, e.sector, e.offset})

	require.NoError(t, e.SetName("FIRST"))
	fe, err = d.CreateFile()
	require.NoError(t, err)
	next := fe.(*GutenbergFileEntry)
	assert.Equal(t, []int{17, 15, DOS_CATALOG_ENTRY_OFFSET + GUTENBERG_ENTRY_LENGTH}, []int{next.track, next.sector, next.offset})
}

func TestGutenbergRewriteWithinOwnedSectors(t *testing.T) {
	d, order := formattedGutenberg(t)
	fe, err := d.CreateFile()
	require.NoError(t, err)
	e := fe.(*GutenbergFileEntry)

	// free space reads zero, so only an entry that already owns sectors
	// can be written
	raw := e.read()
	raw[15] = 5
	require.NoError(t, e.write(raw))

	require.NoError(t, e.SetFileData([]byte("GUTENBERG!")))

	raw = e.read()
	assert.Equal(t, []byte{1, 0}, raw[12:14], "chain head is the first free sector")
	assert.Equal(t, 2, e.SectorsUsed(), "one list and one data sector")

	list, err := order.ReadSector(1, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 1, 0, 0}, list[DOS_TSLIST_PAIR_OFFSET:DOS_TSLIST_PAIR_OFFSET+4])
	assert.Equal(t, []byte{0, 0}, list[1:3])
	assert.Equal(t, []byte{0, 0}, list[5:7], "no sector offsets in Gutenberg lists")

	data, err := order.ReadSector(1, 1)
	require.NoError(t, err)
	assert.Equal(t, "GUTENBERG!", string(data[:10]))

	vtoc, err := d.ReadVTOC()
	require.NoError(t, err)
	for s, want := range []bool{false, false, true} {
		free, err := isSectorFree(vtoc, 1, s)
		require.NoError(t, err)
		assert.Equal(t, want, free, "T1 S%d", s)
	}
	assert.Equal(t, 0, d.FreeSpace())
}
