package disk

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"

	"github.com/zhuangsirui/binpacker"
)

/*
	2MG container and raw image loading.
*/

const PREAMBLE_2MG_SIZE = 0x40

const (
	FORMAT_2MG_DOS    = 0
	FORMAT_2MG_PRODOS = 1
	FORMAT_2MG_NIB    = 2
)

var MAGIC_2MG = []byte{byte('2'), byte('I'), byte('M'), byte('G')}

const CREATOR_2MG = "SM8!"

type Header2MG struct {
	ID            string
	Creator       string
	HeaderSize    uint16
	Version       uint16
	ImageFormat   uint32
	Flags         uint32
	ProDOSBlocks  uint32
	DataOffset    uint32
	DataLength    uint32
	CommentOffset uint32
	CommentLength uint32
	CreatorOffset uint32
	CreatorLength uint32
	Reserved      []byte
}

func Parse2MG(data []byte) (*Header2MG, error) {
	if len(data) < PREAMBLE_2MG_SIZE || !bytes.Equal(data[:4], MAGIC_2MG) {
		return nil, invalidArgf("no 2MG magic")
	}
	h := &Header2MG{}
	u := binpacker.NewUnpacker(binary.LittleEndian, bytes.NewReader(data[:PREAMBLE_2MG_SIZE]))
	u.FetchString(4, &h.ID).
		FetchString(4, &h.Creator).
		FetchUint16(&h.HeaderSize).
		FetchUint16(&h.Version).
		FetchUint32(&h.ImageFormat).
		FetchUint32(&h.Flags).
		FetchUint32(&h.ProDOSBlocks).
		FetchUint32(&h.DataOffset).
		FetchUint32(&h.DataLength).
		FetchUint32(&h.CommentOffset).
		FetchUint32(&h.CommentLength).
		FetchUint32(&h.CreatorOffset).
		FetchUint32(&h.CreatorLength).
		FetchBytes(PREAMBLE_2MG_SIZE-0x30, &h.Reserved)
	if err := u.Error(); err != nil {
		return nil, malformedf("2MG header: %v", err)
	}
	return h, nil
}

func (h *Header2MG) Bytes() ([]byte, error) {
	buf := &bytes.Buffer{}
	reserved := make([]byte, PREAMBLE_2MG_SIZE-0x30)
	copy(reserved, h.Reserved)
	p := binpacker.NewPacker(binary.LittleEndian, buf)
	p.PushBytes(MAGIC_2MG).
		PushString(padRight(h.Creator, 4)[:4]).
		PushUint16(h.HeaderSize).
		PushUint16(h.Version).
		PushUint32(h.ImageFormat).
		PushUint32(h.Flags).
		PushUint32(h.ProDOSBlocks).
		PushUint32(h.DataOffset).
		PushUint32(h.DataLength).
		PushUint32(h.CommentOffset).
		PushUint32(h.CommentLength).
		PushUint32(h.CreatorOffset).
		PushUint32(h.CreatorLength).
		PushBytes(reserved)
	if err := p.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func new2MGHeader(order ImageOrder) *Header2MG {
	h := &Header2MG{
		ID:         string(MAGIC_2MG),
		Creator:    CREATOR_2MG,
		HeaderSize: PREAMBLE_2MG_SIZE,
		Version:    1,
		DataOffset: PREAMBLE_2MG_SIZE,
		DataLength: uint32(order.Size()),
	}
	h.setOrder(order)
	return h
}

func (h *Header2MG) setOrder(order ImageOrder) {
	switch order.Order() {
	case SectorOrderProDOS:
		h.ImageFormat = FORMAT_2MG_PRODOS
		h.ProDOSBlocks = uint32(order.Blocks())
	default:
		h.ImageFormat = FORMAT_2MG_DOS
		h.ProDOSBlocks = 0
	}
}

// Image is a loaded disk image file: the ordered sector data plus
// whatever container wrapped it.
type Image struct {
	Filename string
	Order    ImageOrder
	Header   *Header2MG
	trailer  []byte
}

// OpenImage reads an image file fully into memory.
func OpenImage(filename string) (*Image, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return LoadImage(filename, data)
}

// LoadImage picks the container and sector order from the 2MG header,
// else from the file extension.
func LoadImage(filename string, data []byte) (*Image, error) {
	img := &Image{Filename: filename}

	if len(data) >= PREAMBLE_2MG_SIZE && bytes.Equal(data[:4], MAGIC_2MG) {
		h, err := Parse2MG(data)
		if err != nil {
			return nil, err
		}
		start := int(h.DataOffset)
		size := int(h.DataLength)
		if size == 0 && h.ProDOSBlocks > 0 {
			size = int(h.ProDOSBlocks) * PRODOS_BLOCK_SIZE
		}
		if start < PREAMBLE_2MG_SIZE || start+size > len(data) {
			return nil, malformedf("2MG data %d+%d outside %d byte file", start, size, len(data))
		}
		body := make([]byte, size)
		copy(body, data[start:start+size])
		img.trailer = append([]byte(nil), data[start+size:]...)
		img.Header = h

		switch h.ImageFormat {
		case FORMAT_2MG_DOS:
			img.Order, err = NewDOSOrder(body)
		case FORMAT_2MG_PRODOS:
			img.Order, err = NewProDOSOrder(body)
		default:
			return nil, unsupportedf("2MG image format %d", h.ImageFormat)
		}
		if err != nil {
			return nil, err
		}
		return img, nil
	}

	so, err := OrderForFile(filename, len(data))
	if err != nil {
		return nil, err
	}
	img.Order, err = NewOrder(so, data)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// OrderForFile guesses the sector order of a raw image from its name.
func OrderForFile(filename string, size int) (SectorOrder, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".po", ".hdv", ".2mg", ".2img":
		return SectorOrderProDOS, nil
	case ".nib":
		return SectorOrderDOS33, unsupportedf("nibble images")
	case ".dsk", ".do", ".d13":
		if size > STD_DISK_BYTES {
			return SectorOrderProDOS, nil
		}
		return SectorOrderDOS33, nil
	}
	if size == STD_DISK_BYTES || size == STD_DISK_BYTES_OLD {
		return SectorOrderDOS33, nil
	}
	return SectorOrderProDOS, nil
}

// NewBlankImage creates a zeroed image in memory.
func NewBlankImage(filename string, so SectorOrder, size int) (*Image, error) {
	order, err := NewBlankOrder(so, size)
	if err != nil {
		return nil, err
	}
	img := &Image{Filename: filename, Order: order}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".2mg" || ext == ".2img" {
		img.Header = new2MGHeader(order)
	}
	return img, nil
}

// SetOrder replaces the image's order, keeping any container header in step.
func (img *Image) SetOrder(order ImageOrder) {
	img.Order = order
	if img.Header != nil {
		img.Header.setOrder(order)
		img.Header.DataLength = uint32(order.Size())
	}
}

// Bytes returns the file contents, re-wrapped in its container.
func (img *Image) Bytes() ([]byte, error) {
	if img.Header == nil {
		return img.Order.Bytes(), nil
	}
	h := *img.Header
	h.DataOffset = PREAMBLE_2MG_SIZE
	h.DataLength = uint32(img.Order.Size())
	if h.CommentOffset != 0 {
		h.CommentOffset = h.DataOffset + h.DataLength
	}
	if h.CreatorOffset != 0 {
		h.CreatorOffset = h.DataOffset + h.DataLength + h.CommentLength
	}
	head, err := h.Bytes()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(head)+img.Order.Size()+len(img.trailer))
	out = append(out, head...)
	out = append(out, img.Order.Bytes()...)
	out = append(out, img.trailer...)
	return out, nil
}

// Disks identifies the volumes held in the image.
func (img *Image) Disks() ([]FormattedDisk, error) {
	disks, err := Identify(img.Order)
	if err == nil {
		return disks, nil
	}
	if img.Header != nil {
		return nil, err
	}
	// raw images carry no order marker, so try the other one
	alt := SectorOrderDOS33
	if img.Order.Order() == SectorOrderDOS33 {
		alt = SectorOrderProDOS
	}
	other, oerr := NewOrder(alt, img.Order.Bytes())
	if oerr != nil {
		return nil, err
	}
	disks, aerr := Identify(other)
	if aerr != nil {
		return nil, err
	}
	img.Order = other
	return disks, nil
}
