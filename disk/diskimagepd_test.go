package disk

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedStamp = time.Date(2024, time.March, 15, 10, 30, 0, 0, time.Local)

func fixClock(t *testing.T) {
	t.Helper()
	saved := clock
	clock = func() time.Time { return fixedStamp }
	t.Cleanup(func() { clock = saved })
}

func newProDOSDisk(t *testing.T, size int) *ProDOSDisk {
	t.Helper()
	fixClock(t)
	order, err := NewBlankOrder(SectorOrderProDOS, size)
	require.NoError(t, err)
	d := NewProDOSDisk(order)
	require.NoError(t, d.Format())
	return d
}

func createProDOSFile(t *testing.T, d *ProDOSDisk, name string, data []byte) *ProDOSFileEntry {
	t.Helper()
	fe, err := d.CreateFile()
	require.NoError(t, err)
	require.NoError(t, fe.SetName(name))
	require.NoError(t, fe.SetFileData(data))
	return fe.(*ProDOSFileEntry)
}

func TestProDOSFormat(t *testing.T) {
	d := newProDOSDisk(t, STD_DISK_BYTES)
	assert.Equal(t, "/NEW.DISK/", d.DiskName())
	assert.Equal(t, PRODOS_BLOCKS_PER_DISK, d.TotalBlocks())
	assert.Equal(t, 273, d.FreeBlocks())
	assert.Equal(t, 7*PRODOS_BLOCK_SIZE, d.UsedSpace())

	files, err := d.Files()
	require.NoError(t, err)
	assert.Empty(t, files)

	big := newProDOSDisk(t, PRODOS_800KB_DISK_BYTES)
	assert.Equal(t, 1593, big.FreeBlocks())

	require.NoError(t, d.FormatVolume("my disk 2"))
	assert.Equal(t, "/MYDISK2/", d.DiskName())
}

func TestProDOSFormatIsIdempotent(t *testing.T) {
	d := newProDOSDisk(t, STD_DISK_BYTES)
	first := append([]byte(nil), d.order.Bytes()...)
	createProDOSFile(t, d, "SCRATCH", []byte("temporary"))
	require.NoError(t, d.Format())
	assert.Equal(t, first, d.order.Bytes())
}

func TestProDOSSeedling(t *testing.T) {
	d := newProDOSDisk(t, STD_DISK_BYTES)
	fe, err := d.CreateFile()
	require.NoError(t, err)
	e := fe.(*ProDOSFileEntry)
	assert.Equal(t, StorageType_Seedling, e.StorageType())
	assert.Equal(t, 7, e.KeyPointer())
	assert.Equal(t, 1, e.BlocksUsed())
	assert.Equal(t, "BIN", e.Filetype())
	assert.Equal(t, fixedStamp, e.Created())
	assert.Equal(t, fixedStamp, e.Modified())

	data, err := e.FileData()
	require.NoError(t, err)
	assert.Empty(t, data)

	require.NoError(t, e.SetFileData([]byte("HELLO")))
	assert.Equal(t, 7, e.KeyPointer())
	assert.Equal(t, 5, e.Size())
	assert.Equal(t, 272, d.FreeBlocks())
}

func TestProDOSSapling(t *testing.T) {
	d := newProDOSDisk(t, STD_DISK_BYTES)
	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i)
	}
	e := createProDOSFile(t, d, "SAPLING", payload)

	assert.Equal(t, StorageType_Sapling, e.StorageType())
	assert.Equal(t, 7, e.KeyPointer())
	assert.Equal(t, 3, e.BlocksUsed())
	assert.Equal(t, 270, d.FreeBlocks())

	index, err := d.order.ReadBlock(7)
	require.NoError(t, err)
	assert.Equal(t, []byte{8, 9, 0}, index[0:3])
	assert.Equal(t, []byte{0, 0}, index[PRODOS_INDEX_POINTERS:PRODOS_INDEX_POINTERS+2])

	data, err := e.FileData()
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestProDOSTree(t *testing.T) {
	d := newProDOSDisk(t, PRODOS_800KB_DISK_BYTES)
	payload := bytes.Repeat([]byte("TREE"), 258*PRODOS_BLOCK_SIZE/4)
	e := createProDOSFile(t, d, "TREE", payload)

	assert.Equal(t, StorageType_Tree, e.StorageType())
	assert.Equal(t, 258+1+2, e.BlocksUsed())
	assert.Equal(t, 1593-261, d.FreeBlocks())

	master, err := d.order.ReadBlock(e.KeyPointer())
	require.NoError(t, err)
	assert.NotZero(t, master[0])
	assert.NotZero(t, master[1])
	assert.Zero(t, master[2])

	data, err := e.FileData()
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	require.NoError(t, e.SetFileData([]byte{1}))
	assert.Equal(t, StorageType_Seedling, e.StorageType())
	assert.Equal(t, 1592, d.FreeBlocks())
}

func TestProDOSDiskFull(t *testing.T) {
	d := newProDOSDisk(t, STD_DISK_BYTES)
	e := createProDOSFile(t, d, "SMALL", []byte("ok"))
	before := append([]byte(nil), d.order.Bytes()...)

	err := e.SetFileData(make([]byte, 300*PRODOS_BLOCK_SIZE))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDiskFull))
	var full *DiskFullError
	require.True(t, errors.As(err, &full))
	assert.Equal(t, "SMALL", full.Filename)
	assert.Equal(t, before, d.order.Bytes())
}

func TestProDOSDeleteReleasesBlocks(t *testing.T) {
	d := newProDOSDisk(t, STD_DISK_BYTES)
	free := d.FreeBlocks()
	e := createProDOSFile(t, d, "GONE", make([]byte, 5000))
	assert.Less(t, d.FreeBlocks(), free)

	require.NoError(t, e.Delete())
	assert.True(t, e.IsDeleted())
	assert.Equal(t, free, d.FreeBlocks())

	files, err := d.Files()
	require.NoError(t, err)
	assert.Empty(t, files)

	vdh, err := d.volumeHeader()
	require.NoError(t, err)
	assert.Equal(t, 0, vdh.word(0x21))
}

func TestProDOSSubdirectory(t *testing.T) {
	d := newProDOSDisk(t, STD_DISK_BYTES)
	de, err := d.CreateDirectory("games")
	require.NoError(t, err)
	dir := de.(*ProDOSFileEntry)
	assert.True(t, dir.IsDirectory())
	assert.Equal(t, "DIR", dir.Filetype())
	assert.Equal(t, CETDirectory, dir.TypeHint())
	assert.Equal(t, PRODOS_BLOCK_SIZE, dir.Size())

	_, err = d.CreateDirectory("GAMES")
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	fe, err := dir.CreateFile()
	require.NoError(t, err)
	require.NoError(t, fe.SetName("CHESS"))
	require.NoError(t, fe.SetFileData([]byte("e2e4")))

	found, err := FindFile(d, "/GAMES/CHESS")
	require.NoError(t, err)
	data, err := found.FileData()
	require.NoError(t, err)
	assert.Equal(t, []byte("e2e4"), data)

	hdr, err := d.readRecord(dir.KeyPointer(), 4)
	require.NoError(t, err)
	assert.Equal(t, "GAMES", hdr.name())
	assert.Equal(t, 1, hdr.word(0x21))

	assert.True(t, errors.Is(dir.Delete(), ErrInvalidArgument))
	require.NoError(t, found.Delete())
	require.NoError(t, dir.Delete())
}

func TestProDOSSubdirectoryGrows(t *testing.T) {
	d := newProDOSDisk(t, STD_DISK_BYTES)
	de, err := d.CreateDirectory("DOCS")
	require.NoError(t, err)
	dir := de.(*ProDOSFileEntry)

	for i := 0; i < PRODOS_ENTRIES_PER_BLOCK-1; i++ {
		_, err := dir.CreateFile()
		require.NoError(t, err)
	}
	assert.Equal(t, 1, dir.BlocksUsed())

	_, err = dir.CreateFile()
	require.NoError(t, err)
	assert.Equal(t, 2, dir.BlocksUsed())
	assert.Equal(t, 2*PRODOS_BLOCK_SIZE, dir.Size())

	files, err := dir.Files()
	require.NoError(t, err)
	assert.Len(t, files, PRODOS_ENTRIES_PER_BLOCK)
}

func TestProDOSVolumeDirectoryIsFixed(t *testing.T) {
	d := newProDOSDisk(t, STD_DISK_BYTES)
	capacity := (PRODOS_ENTRIES_PER_BLOCK - 1) + PRODOS_ENTRIES_PER_BLOCK*(PRODOS_VOLUME_DIR_BLOCKS-1)
	require.Equal(t, 51, capacity)

	for i := 0; i < capacity; i++ {
		fe, err := d.CreateFile()
		require.NoError(t, err, "entry %d", i)
		require.NoError(t, fe.SetName(fmt.Sprintf("F%d", i)))
	}
	_, err := d.CreateFile()
	assert.True(t, errors.Is(err, ErrDiskFull))

	files, err := d.Files()
	require.NoError(t, err)
	assert.Len(t, files, capacity)
}

func TestProDOSEntryAttributes(t *testing.T) {
	d := newProDOSDisk(t, STD_DISK_BYTES)
	e := createProDOSFile(t, d, "1st file!", []byte("x"))
	assert.Equal(t, "A1STFILE", e.Name())

	require.NoError(t, e.SetLocked(true))
	assert.True(t, e.IsLocked())
	assert.Equal(t, "*", e.Columns(DisplayNative)[0])
	require.NoError(t, e.SetLocked(false))
	assert.False(t, e.IsLocked())
	assert.Equal(t, AccessType_Default, e.Access())

	require.NoError(t, e.SetAddress(0x2000))
	assert.Equal(t, 0x2000, e.Address())
	assert.Equal(t, "$2000", e.Columns(DisplayNative)[7])
	assert.True(t, errors.Is(e.SetAddress(0x10000), ErrInvalidArgument))

	require.NoError(t, e.SetFiletype("txt"))
	assert.Equal(t, "TXT", e.Filetype())
	assert.Equal(t, CETText, e.TypeHint())
	require.NoError(t, e.SetFiletype("$F1"))
	assert.Equal(t, ProDOSFileType(0xf1), e.ProDOSFileType())
	assert.True(t, errors.Is(e.SetFiletype("DIR"), ErrInvalidArgument))
	assert.True(t, errors.Is(e.SetFiletype("NOPE"), ErrInvalidArgument))
}

func TestProDOSTimestamps(t *testing.T) {
	stamp := timeToProdosStampBytes(fixedStamp)
	assert.Equal(t, fixedStamp, prodosStampBytesToTime(stamp))
	assert.True(t, prodosStampBytesToTime([]byte{0, 0, 0, 0}).IsZero())
	assert.Equal(t, "<NO DATE>", formatStamp(time.Time{}))
}

func TestProDOSOnDOSOrderImage(t *testing.T) {
	fixClock(t)
	order, err := NewBlankOrder(SectorOrderDOS33, STD_DISK_BYTES)
	require.NoError(t, err)
	d := NewProDOSDisk(order)
	require.NoError(t, d.Format())
	createProDOSFile(t, d, "README", []byte("through the DOS order"))

	found, err := Identify(order)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, KindProDOS, found[0].Kind())

	f, err := FindFile(found[0], "README")
	require.NoError(t, err)
	data, err := f.FileData()
	require.NoError(t, err)
	assert.Equal(t, []byte("through the DOS order"), data)
}
