package disk

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlank2MGRoundTrip(t *testing.T) {
	fixClock(t)
	img, err := NewBlankImage("work.2mg", SectorOrderProDOS, STD_DISK_BYTES)
	require.NoError(t, err)
	require.NotNil(t, img.Header)

	disks, err := FormatDisks(KindProDOS, img.Order)
	require.NoError(t, err)
	fe, err := disks[0].CreateFile()
	require.NoError(t, err)
	require.NoError(t, fe.SetName("INSIDE"))
	require.NoError(t, fe.SetFileData([]byte("wrapped")))

	raw, err := img.Bytes()
	require.NoError(t, err)
	require.Len(t, raw, PREAMBLE_2MG_SIZE+STD_DISK_BYTES)
	assert.Equal(t, MAGIC_2MG, raw[:4])
	assert.Equal(t, []byte(CREATOR_2MG), raw[4:8])

	h, err := Parse2MG(raw)
	require.NoError(t, err)
	assert.Equal(t, uint16(PREAMBLE_2MG_SIZE), h.HeaderSize)
	assert.Equal(t, uint32(FORMAT_2MG_PRODOS), h.ImageFormat)
	assert.Equal(t, uint32(PRODOS_BLOCKS_PER_DISK), h.ProDOSBlocks)
	assert.Equal(t, uint32(PREAMBLE_2MG_SIZE), h.DataOffset)
	assert.Equal(t, uint32(STD_DISK_BYTES), h.DataLength)

	back, err := LoadImage("copy.2mg", raw)
	require.NoError(t, err)
	assert.Equal(t, SectorOrderProDOS, back.Order.Order())
	found, err := back.Disks()
	require.NoError(t, err)
	f, err := FindFile(found[0], "INSIDE")
	require.NoError(t, err)
	data, err := f.FileData()
	require.NoError(t, err)
	assert.Equal(t, []byte("wrapped"), data)
}

func Test2MGKeepsTrailer(t *testing.T) {
	img, err := NewBlankImage("notes.2mg", SectorOrderDOS33, STD_DISK_BYTES)
	require.NoError(t, err)
	img.Header.CommentOffset = PREAMBLE_2MG_SIZE + STD_DISK_BYTES
	img.Header.CommentLength = 5
	raw, err := img.Bytes()
	require.NoError(t, err)
	raw = append(raw, "hello"...)

	back, err := LoadImage("notes.2mg", raw)
	require.NoError(t, err)
	assert.Equal(t, SectorOrderDOS33, back.Order.Order())
	assert.Equal(t, uint32(0), back.Header.ProDOSBlocks)

	again, err := back.Bytes()
	require.NoError(t, err)
	assert.Equal(t, raw, again)
}

func TestParse2MGRejectsBadInput(t *testing.T) {
	_, err := Parse2MG([]byte("2IMG"))
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	_, err = Parse2MG(make([]byte, PREAMBLE_2MG_SIZE))
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	img, err := NewBlankImage("bad.2mg", SectorOrderProDOS, STD_DISK_BYTES)
	require.NoError(t, err)
	img.Header.ImageFormat = FORMAT_2MG_NIB
	raw, err := img.Bytes()
	require.NoError(t, err)
	_, err = LoadImage("bad.2mg", raw)
	assert.True(t, errors.Is(err, ErrUnsupported))

	img.Header.ImageFormat = FORMAT_2MG_PRODOS
	raw, err = img.Bytes()
	require.NoError(t, err)
	_, err = LoadImage("short.2mg", raw[:len(raw)-1])
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestOrderForFile(t *testing.T) {
	cases := []struct {
		name string
		size int
		want SectorOrder
	}{
		{"game.dsk", STD_DISK_BYTES, SectorOrderDOS33},
		{"game.DO", STD_DISK_BYTES, SectorOrderDOS33},
		{"old.d13", STD_DISK_BYTES_OLD, SectorOrderDOS33},
		{"big.dsk", PRODOS_800KB_DISK_BYTES, SectorOrderProDOS},
		{"vol.po", STD_DISK_BYTES, SectorOrderProDOS},
		{"hard.hdv", PRODOS_800KB_DISK_BYTES, SectorOrderProDOS},
		{"noext", STD_DISK_BYTES, SectorOrderDOS33},
		{"noext", PRODOS_800KB_DISK_BYTES, SectorOrderProDOS},
	}
	for _, c := range cases {
		got, err := OrderForFile(c.name, c.size)
		require.NoError(t, err, c.name)
		assert.Equal(t, c.want, got, c.name)
	}
	_, err := OrderForFile("disk.nib", 232960)
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestOpenImageFromDisk(t *testing.T) {
	order, err := NewBlankOrder(SectorOrderDOS33, STD_DISK_BYTES)
	require.NoError(t, err)
	d := NewDOSDisk(order)
	require.NoError(t, d.Format())

	path := filepath.Join(t.TempDir(), "master.dsk")
	require.NoError(t, os.WriteFile(path, order.Bytes(), 0644))

	img, err := OpenImage(path)
	require.NoError(t, err)
	assert.Nil(t, img.Header)
	assert.Equal(t, path, img.Filename)
	raw, err := img.Bytes()
	require.NoError(t, err)
	assert.Equal(t, order.Bytes(), raw)

	disks, err := img.Disks()
	require.NoError(t, err)
	assert.Equal(t, KindDOS33, disks[0].Kind())

	_, err = OpenImage(filepath.Join(t.TempDir(), "missing.dsk"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestDisksTriesOtherOrder(t *testing.T) {
	fixClock(t)
	order, err := NewBlankOrder(SectorOrderProDOS, STD_DISK_BYTES)
	require.NoError(t, err)
	require.NoError(t, NewProDOSDisk(order).Format())

	// ProDOS ordered bytes saved under a DOS order extension
	img, err := LoadImage("misnamed.dsk", append([]byte(nil), order.Bytes()...))
	require.NoError(t, err)
	require.Equal(t, SectorOrderDOS33, img.Order.Order())

	disks, err := img.Disks()
	require.NoError(t, err)
	assert.Equal(t, KindProDOS, disks[0].Kind())
	assert.Equal(t, SectorOrderProDOS, img.Order.Order())
}

func TestSetOrderUpdatesHeader(t *testing.T) {
	img, err := NewBlankImage("swap.2mg", SectorOrderDOS33, STD_DISK_BYTES)
	require.NoError(t, err)
	assert.Equal(t, uint32(FORMAT_2MG_DOS), img.Header.ImageFormat)

	po, err := NewBlankOrder(SectorOrderProDOS, STD_DISK_BYTES)
	require.NoError(t, err)
	img.SetOrder(po)
	assert.Equal(t, uint32(FORMAT_2MG_PRODOS), img.Header.ImageFormat)
	assert.Equal(t, uint32(PRODOS_BLOCKS_PER_DISK), img.Header.ProDOSBlocks)
}
