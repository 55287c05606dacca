package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/paleotronic/storem8/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeDOS(t *testing.T) {
	v := newTestVolume(t, disk.KindDOS33)
	_, err := putFile(v.fd(), "PROG", []byte{1, 2, 3}, "B", 0x300)
	require.NoError(t, err)
	_, err = putFile(v.fd(), "README", []byte("READ ME"), "T", -1)
	require.NoError(t, err)

	r, err := analyze(v)
	require.NoError(t, err)
	assert.Equal(t, "dos33", r.Format)
	assert.Equal(t, "DOS", r.Order)
	assert.Equal(t, disk.Checksum(v.image.Order.Bytes()), r.SHA256)
	assert.Len(t, r.Bitmap, 560)
	assert.Equal(t, 16, r.Width)

	require.Len(t, r.Files, 2)
	assert.Equal(t, "PROG", r.Files[0].Filename)
	assert.Equal(t, 0x300, r.Files[0].LoadAddress)
	assert.Equal(t, disk.Checksum([]byte{1, 2, 3}), r.Files[0].SHA256)
	assert.Equal(t, "README", r.Files[1].Filename)
	assert.Equal(t, "text", r.Files[1].Kind)

	var out bytes.Buffer
	r.print(&out)
	assert.Contains(t, out.String(), "Disk type   : dos33")
	assert.Contains(t, out.String(), "(A$0300)")

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"sha256Active":"`+r.SHA256Active+`"`)
	assert.NotPanics(t, func() { r.logBitmap(0) })
}

func TestAnalyzeSameContentSameFingerprint(t *testing.T) {
	a := newTestVolume(t, disk.KindDOS33)
	b := newTestVolume(t, disk.KindDOS33)
	for _, v := range []*volume{a, b} {
		_, err := putFile(v.fd(), "SAME", []byte("IDENTICAL"), "T", -1)
		require.NoError(t, err)
	}
	// junk in a free sector changes the image but not the active sectors
	junk := make([]byte, disk.STD_BYTES_PER_SECTOR)
	junk[7] = 0x77
	require.NoError(t, b.image.Order.WriteSector(30, 5, junk))

	ra, err := analyze(a)
	require.NoError(t, err)
	rb, err := analyze(b)
	require.NoError(t, err)
	assert.NotEqual(t, ra.SHA256, rb.SHA256)
	assert.Equal(t, ra.SHA256Active, rb.SHA256Active)
}

func TestAnalyzeWalksDirectories(t *testing.T) {
	v := newTestVolume(t, disk.KindProDOS)
	_, err := makeDirectory(v.fd(), "DOCS")
	require.NoError(t, err)
	_, err = putFile(v.fd(), "DOCS/NOTE", []byte("note"), "TXT", -1)
	require.NoError(t, err)

	r, err := analyze(v)
	require.NoError(t, err)
	require.Len(t, r.Files, 2)
	assert.Equal(t, "DOCS", r.Files[0].Filename)
	assert.True(t, r.Files[0].Directory)
	assert.Empty(t, r.Files[0].SHA256)
	assert.Equal(t, "DOCS/NOTE", r.Files[1].Filename)
	assert.Equal(t, disk.Checksum([]byte("note")), r.Files[1].SHA256)
}
