package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/paleotronic/storem8/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAndExtractDOS(t *testing.T) {
	v := newTestVolume(t, disk.KindDOS33)
	fd := v.fd()

	fe, err := putFile(fd, "hello", []byte("HELLO WORLD"), "T", -1)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", fe.Name())
	assert.Equal(t, "T", fe.Filetype())

	_, data, err := extractFile(fd, "Hello")
	require.NoError(t, err)
	assert.Equal(t, []byte("HELLO WORLD"), data)

	// same name replaces the data and keeps the type
	_, err = putFile(fd, "HELLO", []byte("BYE"), "", -1)
	require.NoError(t, err)
	files, err := fd.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "T", files[0].Filetype())
	_, data, err = extractFile(fd, "HELLO")
	require.NoError(t, err)
	assert.Equal(t, []byte("BYE"), data)
}

func TestPutBinaryAddress(t *testing.T) {
	v := newTestVolume(t, disk.KindDOS33)
	code := []byte{0xa9, 0x00, 0x60}
	fe, err := putFile(v.fd(), "PROG", code, "", 0x2000)
	require.NoError(t, err)
	assert.Equal(t, "B", fe.Filetype(), "volume default type")
	assert.Equal(t, 0x2000, fe.(disk.Addressable).Address())
	data, err := fe.FileData()
	require.NoError(t, err)
	assert.Equal(t, code, data)

	pv := newTestVolume(t, disk.KindProDOS)
	fe, err = putFile(pv.fd(), "PROG", code, "BIN", 0x0800)
	require.NoError(t, err)
	assert.Equal(t, 0x0800, fe.(disk.Addressable).Address())
}

func TestPutDiskFullLeavesNoEntry(t *testing.T) {
	v := newTestVolume(t, disk.KindDOS33)
	fd := v.fd()
	free := fd.FreeSpace()

	_, err := putFile(fd, "HUGE", bytes.Repeat([]byte{'A'}, 140000), "T", -1)
	require.Error(t, err)
	assert.ErrorIs(t, err, disk.ErrDiskFull)

	files, err := fd.Files()
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Equal(t, free, fd.FreeSpace())
}

func TestPutReadOnlyVolume(t *testing.T) {
	v := newTestVolume(t, disk.KindRDOS)
	_, err := putFile(v.fd(), "X", []byte("x"), "", -1)
	assert.ErrorIs(t, err, disk.ErrUnsupported)
	assert.ErrorIs(t, deleteFile(v.fd(), "X"), disk.ErrUnsupported)

	_, err = putFile(newTestVolume(t, disk.KindDOS33).fd(), "", []byte("x"), "", -1)
	assert.ErrorIs(t, err, disk.ErrInvalidArgument)
}

func TestDirectories(t *testing.T) {
	v := newTestVolume(t, disk.KindProDOS)
	fd := v.fd()

	_, err := makeDirectory(fd, "GAMES")
	require.NoError(t, err)
	_, err = makeDirectory(fd, "GAMES/BOARD")
	require.NoError(t, err)
	_, err = putFile(fd, "GAMES/BOARD/CHESS", []byte("e4 e5"), "TXT", -1)
	require.NoError(t, err)

	files, err := filesIn(fd, "/games/board/")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "CHESS", files[0].Name())

	_, data, err := extractFile(fd, "GAMES/BOARD/CHESS")
	require.NoError(t, err)
	assert.Equal(t, []byte("e4 e5"), data)

	_, _, err = extractFile(fd, "GAMES")
	assert.ErrorIs(t, err, disk.ErrInvalidArgument)
	_, err = putFile(fd, "GAMES", []byte("x"), "", -1)
	assert.ErrorIs(t, err, disk.ErrInvalidArgument)
	_, err = filesIn(fd, "GAMES/BOARD/CHESS")
	assert.ErrorIs(t, err, disk.ErrInvalidArgument)
	_, err = putFile(fd, "NOWHERE/FILE", []byte("x"), "", -1)
	assert.ErrorIs(t, err, disk.ErrNotFound)

	_, err = makeDirectory(newTestVolume(t, disk.KindDOS33).fd(), "GAMES")
	assert.ErrorIs(t, err, disk.ErrUnsupported)
}

func TestRenameLockDelete(t *testing.T) {
	v := newTestVolume(t, disk.KindDOS33)
	fd := v.fd()
	_, err := putFile(fd, "ONE", []byte("1"), "T", -1)
	require.NoError(t, err)
	_, err = putFile(fd, "TWO", []byte("2"), "T", -1)
	require.NoError(t, err)

	assert.ErrorIs(t, renameFile(fd, "ONE", "two"), disk.ErrInvalidArgument)
	require.NoError(t, renameFile(fd, "ONE", "first"))
	_, err = disk.FindFile(fd, "FIRST")
	require.NoError(t, err)
	assert.ErrorIs(t, renameFile(fd, "ONE", "X"), disk.ErrNotFound)

	require.NoError(t, lockFile(fd, "FIRST", true))
	fe, err := disk.FindFile(fd, "FIRST")
	require.NoError(t, err)
	assert.True(t, fe.IsLocked())

	require.NoError(t, deleteFile(fd, "TWO"))
	assert.ErrorIs(t, deleteFile(fd, "TWO"), disk.ErrNotFound)
	files, err := fd.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestGlobFiles(t *testing.T) {
	v := newTestVolume(t, disk.KindDOS33)
	for _, n := range []string{"HELLO", "HELP", "WORLD"} {
		_, err := putFile(v.fd(), n, []byte(n), "T", -1)
		require.NoError(t, err)
	}
	files, err := globFiles(v.fd(), "hel*")
	require.NoError(t, err)
	assert.Len(t, files, 2)
	files, err = globFiles(v.fd(), "")
	require.NoError(t, err)
	assert.Len(t, files, 3)
	_, err = globFiles(v.fd(), "[")
	assert.ErrorIs(t, err, disk.ErrInvalidArgument)
}

func TestListCatalog(t *testing.T) {
	v := newTestVolume(t, disk.KindDOS33)
	_, err := putFile(v.fd(), "HELLO", []byte("HELLO"), "T", -1)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, listCatalog(&out, v.fd(), "", disk.DisplayStandard))
	lines := strings.Split(out.String(), "\n")
	assert.Equal(t, "Volume DISK VOLUME #254 (dos33)", lines[0])
	assert.True(t, strings.HasPrefix(lines[2], "Name"))
	assert.True(t, strings.HasPrefix(lines[3], "HELLO"))
	assert.Contains(t, out.String(), "1 file(s)")

	rows := catalogRows(v.fd(), mustFiles(t, v), disk.DisplayStandard)
	require.Len(t, rows, 1)
	assert.Equal(t, "HELLO", rows[0]["name"])
	assert.Equal(t, "T", rows[0]["filetype"])
	assert.Equal(t, "5", rows[0]["size"])
}

func mustFiles(t *testing.T, v *volume) []disk.FileEntry {
	t.Helper()
	files, err := v.fd().Files()
	require.NoError(t, err)
	return files
}

func TestPrintUsage(t *testing.T) {
	v := newTestVolume(t, disk.KindDOS33)
	var out bytes.Buffer
	printUsage(&out, v.fd())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 35+2)
	assert.Equal(t, "Track 00: 00 01 02 03 04 05 06 07 08 09 0a 0b 0c 0d 0e 0f", lines[0])
	assert.Equal(t, "Track 01: :: :: :: :: :: :: :: :: :: :: :: :: :: :: :: ::", lines[1])
	assert.Equal(t, "USED: 32  FREE: 528", lines[len(lines)-1])
}

func TestSplitPath(t *testing.T) {
	cases := map[string][2]string{
		"HELLO":           {"", "HELLO"},
		"/GAMES/CHESS":    {"GAMES", "CHESS"},
		"GAMES/BOARD/GO/": {"GAMES/BOARD", "GO"},
		"":                {"", ""},
	}
	for in, want := range cases {
		dir, name := splitPath(in)
		assert.Equal(t, want, [2]string{dir, name}, in)
	}
}

func TestParseHelpers(t *testing.T) {
	for in, want := range map[string]int{"": -1, "768": 768, "$2000": 0x2000, "0x0800": 0x800, "0XFFFF": 0xffff} {
		got, err := parseAddress(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"$10000", "-1", "zz"} {
		_, err := parseAddress(bad)
		assert.ErrorIs(t, err, disk.ErrInvalidArgument, bad)
	}

	n, err := parseSize("140k")
	require.NoError(t, err)
	assert.Equal(t, disk.STD_DISK_BYTES, n)
	n, err = parseSize("819200")
	require.NoError(t, err)
	assert.Equal(t, disk.PRODOS_800KB_DISK_BYTES, n)
	_, err = parseSize("big")
	assert.ErrorIs(t, err, disk.ErrInvalidArgument)

	so, err := parseOrder("PO")
	require.NoError(t, err)
	assert.Equal(t, disk.SectorOrderProDOS, so)
	_, err = parseOrder("nib")
	assert.ErrorIs(t, err, disk.ErrInvalidArgument)
}

func TestLocalName(t *testing.T) {
	v := newTestVolume(t, disk.KindDOS33)
	fe, err := v.fd().CreateFile()
	require.NoError(t, err)
	require.NoError(t, fe.SetName("MY:FILE"))
	require.NoError(t, fe.SetFiletype("T"))
	assert.Equal(t, "MY_FILE.t", localName(fe))
}
