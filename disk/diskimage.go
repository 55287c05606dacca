package disk

import (
	"crypto/sha256"
	"encoding/hex"
)

const STD_BYTES_PER_SECTOR = 256
const STD_TRACKS_PER_DISK = 35
const STD_SECTORS_PER_TRACK = 16
const STD_SECTORS_PER_TRACK_OLD = 13
const STD_DISK_BYTES = STD_TRACKS_PER_DISK * STD_SECTORS_PER_TRACK * STD_BYTES_PER_SECTOR
const STD_DISK_BYTES_OLD = STD_TRACKS_PER_DISK * STD_SECTORS_PER_TRACK_OLD * STD_BYTES_PER_SECTOR
const PRODOS_BLOCK_SIZE = 512
const PRODOS_SECTORS_PER_BLOCK = 2
const PRODOS_BLOCKS_PER_TRACK = 8
const PRODOS_BLOCKS_PER_DISK = 280
const PRODOS_400KB_BLOCKS = 800
const PRODOS_400KB_DISK_BYTES = PRODOS_BLOCK_SIZE * PRODOS_400KB_BLOCKS
const PRODOS_800KB_BLOCKS = 1600
const PRODOS_800KB_DISK_BYTES = PRODOS_BLOCK_SIZE * PRODOS_800KB_BLOCKS

func Checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type SectorOrder int

const (
	SectorOrderDOS33 SectorOrder = iota
	SectorOrderProDOS
)

func (so SectorOrder) String() string {
	switch so {
	case SectorOrderDOS33:
		return "DOS"
	case SectorOrderProDOS:
		return "ProDOS"
	}
	return "Unknown"
}

// Ext is the conventional file extension for a raw image in this order.
func (so SectorOrder) Ext() string {
	if so == SectorOrderProDOS {
		return ".po"
	}
	return ".dsk"
}

// Within a track, DOS sector s lives in half dosSectorHalf[s] of ProDOS
// block dosSectorBlock[s]. blockSectors is the inverse.
var dosSectorBlock = [16]int{0, 7, 6, 6, 5, 5, 4, 4, 3, 3, 2, 2, 1, 1, 0, 7}
var dosSectorHalf = [16]int{0, 0, 1, 0, 1, 0, 1, 0, 1, 0, 1, 0, 1, 0, 1, 1}

var blockSectors = [8][2]int{
	{0x0, 0xe}, {0xd, 0xc}, {0xb, 0xa}, {0x9, 0x8},
	{0x7, 0x6}, {0x5, 0x4}, {0x3, 0x2}, {0x1, 0xf},
}

// ImageOrder maps logical disk addresses onto the bytes of an image.
type ImageOrder interface {
	Order() SectorOrder
	SectorOffset(track, sector int) (int, error)
	ReadSector(track, sector int) ([]byte, error)
	WriteSector(track, sector int, data []byte) error
	ReadBlock(block int) ([]byte, error)
	WriteBlock(block int, data []byte) error
	Format()
	Tracks() int
	SectorsPerTrack() int
	Blocks() int
	Size() int
	Bytes() []byte
}

type imageBuffer struct {
	data []byte
	spt  int
}

func (b *imageBuffer) Size() int {
	return len(b.data)
}

func (b *imageBuffer) Bytes() []byte {
	return b.data
}

func (b *imageBuffer) SectorsPerTrack() int {
	return b.spt
}

func (b *imageBuffer) Tracks() int {
	return len(b.data) / (b.spt * STD_BYTES_PER_SECTOR)
}

func (b *imageBuffer) Blocks() int {
	return len(b.data) / PRODOS_BLOCK_SIZE
}

// Format blanks the whole image, keeping its size.
func (b *imageBuffer) Format() {
	for i := range b.data {
		b.data[i] = 0
	}
}

func (b *imageBuffer) checkTS(track, sector int) error {
	if track < 0 || track >= b.Tracks() || sector < 0 || sector >= b.spt {
		return invalidArgf("track %d sector %d outside %dx%d image", track, sector, b.Tracks(), b.spt)
	}
	return nil
}

func (b *imageBuffer) checkBlock(block int) error {
	if block < 0 || block >= b.Blocks() {
		return invalidArgf("block %d outside %d block image", block, b.Blocks())
	}
	return nil
}

func (b *imageBuffer) read(offset int) []byte {
	out := make([]byte, STD_BYTES_PER_SECTOR)
	copy(out, b.data[offset:offset+STD_BYTES_PER_SECTOR])
	return out
}

func (b *imageBuffer) write(offset int, data []byte) error {
	if len(data) != STD_BYTES_PER_SECTOR {
		return invalidArgf("sector buffer is %d bytes, want %d", len(data), STD_BYTES_PER_SECTOR)
	}
	copy(b.data[offset:offset+STD_BYTES_PER_SECTOR], data)
	return nil
}

func sectorsPerTrackFor(size int) (int, error) {
	switch {
	case size > 0 && size%(STD_SECTORS_PER_TRACK*STD_BYTES_PER_SECTOR) == 0:
		return STD_SECTORS_PER_TRACK, nil
	case size > 0 && size%(STD_SECTORS_PER_TRACK_OLD*STD_BYTES_PER_SECTOR) == 0:
		return STD_SECTORS_PER_TRACK_OLD, nil
	}
	return 0, invalidArgf("image size %d is not a whole number of tracks", size)
}

// DOSOrder is a track/sector linear image (.dsk, .do).
type DOSOrder struct {
	imageBuffer
}

func NewDOSOrder(data []byte) (*DOSOrder, error) {
	spt, err := sectorsPerTrackFor(len(data))
	if err != nil {
		return nil, err
	}
	return &DOSOrder{imageBuffer{data: data, spt: spt}}, nil
}

func (o *DOSOrder) Order() SectorOrder {
	return SectorOrderDOS33
}

func (o *DOSOrder) SectorOffset(track, sector int) (int, error) {
	if err := o.checkTS(track, sector); err != nil {
		return -1, err
	}
	return (track*o.spt + sector) * STD_BYTES_PER_SECTOR, nil
}

func (o *DOSOrder) ReadSector(track, sector int) ([]byte, error) {
	off, err := o.SectorOffset(track, sector)
	if err != nil {
		return nil, err
	}
	return o.read(off), nil
}

func (o *DOSOrder) WriteSector(track, sector int, data []byte) error {
	off, err := o.SectorOffset(track, sector)
	if err != nil {
		return err
	}
	return o.write(off, data)
}

func (o *DOSOrder) blockSectors(block int) (int, [2]int, error) {
	if o.spt != STD_SECTORS_PER_TRACK {
		return 0, [2]int{}, unsupportedf("block access on a %d sector image", o.spt)
	}
	if err := o.checkBlock(block); err != nil {
		return 0, [2]int{}, err
	}
	return block / PRODOS_BLOCKS_PER_TRACK, blockSectors[block%PRODOS_BLOCKS_PER_TRACK], nil
}

func (o *DOSOrder) ReadBlock(block int) ([]byte, error) {
	track, ss, err := o.blockSectors(block)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, PRODOS_BLOCK_SIZE)
	for _, s := range ss {
		data, err := o.ReadSector(track, s)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}

func (o *DOSOrder) WriteBlock(block int, data []byte) error {
	if len(data) != PRODOS_BLOCK_SIZE {
		return invalidArgf("block buffer is %d bytes, want %d", len(data), PRODOS_BLOCK_SIZE)
	}
	track, ss, err := o.blockSectors(block)
	if err != nil {
		return err
	}
	for i, s := range ss {
		if err := o.WriteSector(track, s, data[i*STD_BYTES_PER_SECTOR:(i+1)*STD_BYTES_PER_SECTOR]); err != nil {
			return err
		}
	}
	return nil
}

// ProDOSOrder is a block linear image (.po, 2MG with format 1, 800K).
type ProDOSOrder struct {
	imageBuffer
}

func NewProDOSOrder(data []byte) (*ProDOSOrder, error) {
	if len(data) == 0 || len(data)%PRODOS_BLOCK_SIZE != 0 {
		return nil, invalidArgf("image size %d is not a whole number of blocks", len(data))
	}
	return &ProDOSOrder{imageBuffer{data: data, spt: STD_SECTORS_PER_TRACK}}, nil
}

func (o *ProDOSOrder) Order() SectorOrder {
	return SectorOrderProDOS
}

func (o *ProDOSOrder) SectorOffset(track, sector int) (int, error) {
	if err := o.checkTS(track, sector); err != nil {
		return -1, err
	}
	block := track*PRODOS_BLOCKS_PER_TRACK + dosSectorBlock[sector]
	return block*PRODOS_BLOCK_SIZE + dosSectorHalf[sector]*STD_BYTES_PER_SECTOR, nil
}

func (o *ProDOSOrder) ReadSector(track, sector int) ([]byte, error) {
	off, err := o.SectorOffset(track, sector)
	if err != nil {
		return nil, err
	}
	return o.read(off), nil
}

func (o *ProDOSOrder) WriteSector(track, sector int, data []byte) error {
	off, err := o.SectorOffset(track, sector)
	if err != nil {
		return err
	}
	return o.write(off, data)
}

func (o *ProDOSOrder) ReadBlock(block int) ([]byte, error) {
	if err := o.checkBlock(block); err != nil {
		return nil, err
	}
	out := make([]byte, PRODOS_BLOCK_SIZE)
	copy(out, o.data[block*PRODOS_BLOCK_SIZE:])
	return out, nil
}

func (o *ProDOSOrder) WriteBlock(block int, data []byte) error {
	if err := o.checkBlock(block); err != nil {
		return err
	}
	if len(data) != PRODOS_BLOCK_SIZE {
		return invalidArgf("block buffer is %d bytes, want %d", len(data), PRODOS_BLOCK_SIZE)
	}
	copy(o.data[block*PRODOS_BLOCK_SIZE:(block+1)*PRODOS_BLOCK_SIZE], data)
	return nil
}

// NewOrder wraps data in the requested order.
func NewOrder(so SectorOrder, data []byte) (ImageOrder, error) {
	switch so {
	case SectorOrderDOS33:
		return NewDOSOrder(data)
	case SectorOrderProDOS:
		return NewProDOSOrder(data)
	}
	return nil, invalidArgf("unknown sector order %d", so)
}

// NewBlankOrder allocates a zeroed image of size bytes.
func NewBlankOrder(so SectorOrder, size int) (ImageOrder, error) {
	return NewOrder(so, make([]byte, size))
}

// SectorReader is the sector level view the track/sector engines work on.
type SectorReader interface {
	ReadSector(track, sector int) ([]byte, error)
	WriteSector(track, sector int, data []byte) error
}
