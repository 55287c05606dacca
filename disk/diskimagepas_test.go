package disk

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPascalDisk(t *testing.T) *PascalDisk {
	t.Helper()
	fixClock(t)
	order, err := NewBlankOrder(SectorOrderProDOS, STD_DISK_BYTES)
	require.NoError(t, err)
	d := NewPascalDisk(order)
	require.NoError(t, d.Format())
	return d
}

func pascalNames(t *testing.T, d *PascalDisk) []string {
	t.Helper()
	files, err := d.Files()
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, f.Name())
	}
	return names
}

func TestPascalFormat(t *testing.T) {
	d := newPascalDisk(t)
	assert.Equal(t, "BLANK:", d.DiskName())
	assert.Equal(t, PRODOS_BLOCKS_PER_DISK, d.TotalBlocks())
	assert.Equal(t, 274, d.FreeBlocks())
	assert.Equal(t, 6*PASCAL_BLOCK_SIZE, d.UsedSpace())
	assert.Empty(t, pascalNames(t, d))

	require.NoError(t, d.FormatVolume("longvolumename"))
	assert.Equal(t, "LONGVOL:", d.DiskName())

	found, err := Identify(d.order)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, KindPascal, found[0].Kind())
}

func TestPascalCreateFile(t *testing.T) {
	d := newPascalDisk(t)

	first, err := d.CreateFile()
	require.NoError(t, err)
	second, err := d.CreateFile()
	require.NoError(t, err)

	assert.Equal(t, "UNTITLED", first.Name())
	assert.Equal(t, "UNTITLED1", second.Name())
	assert.Equal(t, 6, first.(*PascalFileEntry).start)
	assert.Equal(t, 7, second.(*PascalFileEntry).start)
	assert.Equal(t, "PDA", first.Filetype())
	assert.Equal(t, 1, first.(*PascalFileEntry).Blocks())
	assert.Equal(t, 0, first.Size())
	assert.Equal(t, time.Date(2024, time.March, 15, 0, 0, 0, 0, time.Local), first.(*PascalFileEntry).Modified())
	assert.Equal(t, 272, d.FreeBlocks())
}

func TestPascalGrowMovesFile(t *testing.T) {
	d := newPascalDisk(t)
	a, err := d.CreateFile()
	require.NoError(t, err)
	b, err := d.CreateFile()
	require.NoError(t, err)
	require.NoError(t, a.SetName("alpha"))
	require.NoError(t, b.SetName("beta"))

	payload := bytes.Repeat([]byte{'p'}, 1500)
	require.NoError(t, a.SetFileData(payload))

	pa := a.(*PascalFileEntry)
	assert.Equal(t, 8, pa.start)
	assert.Equal(t, 3, pa.Blocks())
	assert.Equal(t, 1500, pa.Size())
	assert.Equal(t, []string{"BETA", "ALPHA"}, pascalNames(t, d), "records stay sorted by start block")
	assert.Equal(t, 274-4, d.FreeBlocks())

	data, err := a.FileData()
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	cols := a.Columns(DisplayDetail)
	assert.Equal(t, "476", cols[2])
	assert.Equal(t, "10", cols[7])

	// block 6 is free again and takes the next new file
	c, err := d.CreateFile()
	require.NoError(t, err)
	assert.Equal(t, 6, c.(*PascalFileEntry).start)
	assert.Equal(t, []string{"UNTITLED", "BETA", "ALPHA"}, pascalNames(t, d))
}

func TestPascalRewriteInPlace(t *testing.T) {
	d := newPascalDisk(t)
	a, err := d.CreateFile()
	require.NoError(t, err)
	require.NoError(t, a.SetFileData(bytes.Repeat([]byte{'x'}, 1000)))
	pa := a.(*PascalFileEntry)
	assert.Equal(t, 6, pa.start)

	require.NoError(t, a.SetFileData([]byte("short")))
	assert.Equal(t, 6, pa.start)
	assert.Equal(t, 1, pa.Blocks())
	data, err := a.FileData()
	require.NoError(t, err)
	assert.Equal(t, []byte("short"), data)
}

func TestPascalDiskFull(t *testing.T) {
	d := newPascalDisk(t)
	a, err := d.CreateFile()
	require.NoError(t, err)
	before := append([]byte(nil), d.order.Bytes()...)

	err = a.SetFileData(make([]byte, 275*PASCAL_BLOCK_SIZE))
	assert.True(t, errors.Is(err, ErrDiskFull))
	assert.Equal(t, before, d.order.Bytes())
}

func TestPascalNamesAreUnique(t *testing.T) {
	d := newPascalDisk(t)
	a, err := d.CreateFile()
	require.NoError(t, err)
	b, err := d.CreateFile()
	require.NoError(t, err)

	assert.True(t, errors.Is(b.SetName("untitled"), ErrInvalidArgument))
	require.NoError(t, a.SetName("SYSTEM.APPLE"))
	assert.Equal(t, "SYSTEM.APPLE", a.Name())
	assert.Equal(t, "AB", d.SuggestedFilename("a:b"))
	assert.Equal(t, "BLANK", d.SuggestedFilename("$="))
}

func TestPascalDeleteCompacts(t *testing.T) {
	d := newPascalDisk(t)
	var entries []FileEntry
	for i := 0; i < 3; i++ {
		fe, err := d.CreateFile()
		require.NoError(t, err)
		entries = append(entries, fe)
	}
	require.NoError(t, entries[1].Delete())
	assert.True(t, entries[1].IsDeleted())
	assert.Equal(t, []string{"UNTITLED", "UNTITLED2"}, pascalNames(t, d))
	assert.Equal(t, 272, d.FreeBlocks())

	dir, err := d.directory()
	require.NoError(t, err)
	assert.Equal(t, 2, d.header(dir).word(0x10))
	assert.Equal(t, make([]byte, PASCAL_DIRECTORY_ENTRY_LENGTH), dir[3*PASCAL_DIRECTORY_ENTRY_LENGTH:4*PASCAL_DIRECTORY_ENTRY_LENGTH])
}

func TestPascalAttributes(t *testing.T) {
	d := newPascalDisk(t)
	fe, err := d.CreateFile()
	require.NoError(t, err)

	assert.False(t, fe.IsLocked())
	assert.True(t, errors.Is(fe.SetLocked(true), ErrUnsupported))

	require.NoError(t, fe.SetFiletype("ptx"))
	assert.Equal(t, "PTX", fe.Filetype())
	assert.Equal(t, CETText, fe.TypeHint())
	assert.True(t, errors.Is(fe.SetFiletype("BIN"), ErrInvalidArgument))

	_, err = d.CreateDirectory("SUB")
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestPascalDates(t *testing.T) {
	b := make([]byte, 2)
	putPascalDate(b, fixedStamp)
	assert.Equal(t, time.Date(2024, time.March, 15, 0, 0, 0, 0, time.Local), pascalDate(b))
	assert.True(t, pascalDate([]byte{0, 0}).IsZero())
}
