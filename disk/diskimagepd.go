package disk

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const PRODOS_ENTRY_SIZE = 0x27
const PRODOS_ENTRIES_PER_BLOCK = 0x0d
const PRODOS_VOLUME_DIR_BLOCK = 2
const PRODOS_VOLUME_DIR_BLOCKS = 4
const PRODOS_BITMAP_BLOCK = 6
const PRODOS_INDEX_POINTERS = 256
const PRODOS_MASTER_POINTERS = 128
const PRODOS_NAME_LENGTH = 15
const PRODOS_DEFAULT_VOLUME = "NEW.DISK"

// clock stamps creation and modification times.
var clock = time.Now

type ProDOSAccessMode byte

const (
	AccessType_Destroy  ProDOSAccessMode = 0x80
	AccessType_Rename   ProDOSAccessMode = 0x40
	AccessType_Changed  ProDOSAccessMode = 0x20
	AccessType_Writable ProDOSAccessMode = 0x02
	AccessType_Readable ProDOSAccessMode = 0x01
	//
	AccessType_Default ProDOSAccessMode = AccessType_Readable | AccessType_Writable | AccessType_Rename | AccessType_Destroy
)

type ProDOSStorageType byte

const (
	StorageType_Inactive      ProDOSStorageType = 0x0
	StorageType_Seedling      ProDOSStorageType = 0x1
	StorageType_Sapling       ProDOSStorageType = 0x2
	StorageType_Tree          ProDOSStorageType = 0x3
	StorageType_SubDir_File   ProDOSStorageType = 0xd
	StorageType_SubDir_Header ProDOSStorageType = 0xe
	StorageType_Volume_Header ProDOSStorageType = 0xf
)

func (st ProDOSStorageType) String() string {
	switch st {
	case StorageType_Seedling:
		return "Seedling"
	case StorageType_Sapling:
		return "Sapling"
	case StorageType_Tree:
		return "Tree"
	case StorageType_SubDir_File:
		return "Subdirectory"
	case StorageType_SubDir_Header:
		return "Subdirectory header"
	case StorageType_Volume_Header:
		return "Volume header"
	}
	return "Inactive"
}

// prodosRecord is one 39 byte directory entry, file or header.
type prodosRecord []byte

func (r prodosRecord) storageType() ProDOSStorageType {
	return ProDOSStorageType(r[0] >> 4)
}

func (r prodosRecord) setStorageType(t ProDOSStorageType) {
	r[0] = (r[0] & 0x0f) | (byte(t) << 4)
}

func (r prodosRecord) name() string {
	l := int(r[0] & 0xf)
	s := make([]byte, l)
	for i, v := range r[1 : 1+l] {
		s[i] = byte(PokeToAscii(uint(v), false))
	}
	return strings.TrimSpace(string(s))
}

func (r prodosRecord) setName(name string) {
	if len(name) > PRODOS_NAME_LENGTH {
		name = name[:PRODOS_NAME_LENGTH]
	}
	for i := 1; i <= PRODOS_NAME_LENGTH; i++ {
		r[i] = 0
	}
	copy(r[1:], name)
	r[0] = (r[0] & 0xf0) | byte(len(name))
}

func (r prodosRecord) fileType() ProDOSFileType {
	return ProDOSFileType(r[0x10])
}

func (r prodosRecord) word(off int) int {
	return int(r[off]) | int(r[off+1])<<8
}

func (r prodosRecord) setWord(off, v int) {
	r[off] = byte(v & 0xff)
	r[off+1] = byte(v >> 8)
}

func (r prodosRecord) keyPointer() int {
	return r.word(0x11)
}

func (r prodosRecord) blocksUsed() int {
	return r.word(0x13)
}

func (r prodosRecord) eof() int {
	return int(r[0x15]) | int(r[0x16])<<8 | int(r[0x17])<<16
}

func (r prodosRecord) setEOF(v int) {
	r[0x15] = byte(v & 0xff)
	r[0x16] = byte(v >> 8)
	r[0x17] = byte(v >> 16)
}

func (r prodosRecord) access() ProDOSAccessMode {
	return ProDOSAccessMode(r[0x1e])
}

func (r prodosRecord) created() time.Time {
	return prodosStampBytesToTime(r[0x18:0x1c])
}

func (r prodosRecord) setCreated(t time.Time) {
	copy(r[0x18:0x1c], timeToProdosStampBytes(t))
}

func (r prodosRecord) modified() time.Time {
	return prodosStampBytesToTime(r[0x21:0x25])
}

func (r prodosRecord) setModified(t time.Time) {
	copy(r[0x21:0x25], timeToProdosStampBytes(t))
}

func prodosStampBytesToTime(in []byte) time.Time {
	dbits := (int(in[0x01]) << 8) | int(in[0x00])
	if dbits == 0 {
		return time.Time{}
	}
	day := dbits & 31
	month := (dbits >> 5) & 15
	year := (dbits >> 9) & 127
	tbits := (int(in[0x03]) << 8) | int(in[0x02])
	mins := tbits & 63
	hours := (tbits >> 8) & 31

	if year < 70 {
		year += 100
	}
	year += 1900

	return time.Date(year, time.Month(month), day, hours, mins, 0, 0, time.Local)
}

func timeToProdosStampBytes(t time.Time) []byte {
	if t.IsZero() {
		return []byte{0, 0, 0, 0}
	}
	year, month, day, hour, minute := t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute()
	year = (year - 1900) % 100

	dbits := (year << 9) | (month << 5) | day
	tbits := (hour << 8) | minute

	return []byte{
		byte(dbits & 0xff),
		byte(dbits >> 8),
		byte(tbits & 0xff),
		byte(tbits >> 8),
	}
}

type ProDOSFileType byte

const (
	FileType_PD_None      ProDOSFileType = 0x00
	FileType_PD_TXT       ProDOSFileType = 0x04
	FileType_PD_BIN       ProDOSFileType = 0x06
	FileType_PD_FOT       ProDOSFileType = 0x08
	FileType_PD_Directory ProDOSFileType = 0x0f
	FileType_PD_INT       ProDOSFileType = 0xfa
	FileType_PD_INT_Var   ProDOSFileType = 0xfb
	FileType_PD_APP       ProDOSFileType = 0xfc
	FileType_PD_APP_Var   ProDOSFileType = 0xfd
	FileType_PD_Reloc     ProDOSFileType = 0xfe
	FileType_PD_SYS       ProDOSFileType = 0xff
)

// extension, description
var ProDOSTypeMap = map[ProDOSFileType][2]string{
	0x00: {"UNK", "Unknown"},
	0x01: {"BAD", "Bad Block"},
	0x02: {"PCD", "Pascal Code"},
	0x03: {"PTX", "Pascal Text"},
	0x04: {"TXT", "ASCII Text"},
	0x05: {"PDA", "Pascal Data"},
	0x06: {"BIN", "Binary File"},
	0x07: {"FNT", "Apple III Font"},
	0x08: {"FOT", "HiRes/Double HiRes Graphics"},
	0x09: {"BA3", "Apple III Basic Program"},
	0x0A: {"DA3", "Apple III Basic Data"},
	0x0B: {"WPF", "Generic Word Processing"},
	0x0C: {"SOS", "SOS System File"},
	0x0F: {"DIR", "ProDOS Directory"},
	0x19: {"ADB", "AppleWorks Database"},
	0x1A: {"AWP", "AppleWorks Word Processing"},
	0x1B: {"ASP", "AppleWorks Spreadsheet"},
	0xB0: {"SRC", "Apple IIgs Source Code"},
	0xB3: {"S16", "Apple IIgs Application Program"},
	0xC0: {"PNT", "Apple IIgs Packed Super HiRes"},
	0xC1: {"PIC", "Apple IIgs Super HiRes"},
	0xE0: {"LBR", "Archive"},
	0xEF: {"PAR", "Pascal Area"},
	0xF0: {"CMD", "ProDOS Command File"},
	0xFA: {"INT", "Integer BASIC Program"},
	0xFB: {"IVR", "Integer BASIC Variables"},
	0xFC: {"BAS", "Applesoft BASIC Program"},
	0xFD: {"VAR", "Applesoft BASIC Variables"},
	0xFE: {"REL", "EDASM Relocatable Code"},
	0xFF: {"SYS", "ProDOS-8 System File"},
}

func (t ProDOSFileType) String() string {
	if info, ok := ProDOSTypeMap[t]; ok {
		return info[1]
	}
	return "Unknown"
}

func (t ProDOSFileType) Ext() string {
	if info, ok := ProDOSTypeMap[t]; ok {
		return info[0]
	}
	return fmt.Sprintf("$%.2X", byte(t))
}

// ProDOSFileTypeFromExt accepts a three letter code or a $xx hex type.
func ProDOSFileTypeFromExt(ext string) (ProDOSFileType, error) {
	for ft, info := range ProDOSTypeMap {
		if strings.EqualFold(ext, info[0]) {
			return ft, nil
		}
	}
	var v int
	if _, err := fmt.Sscanf(ext, "$%x", &v); err == nil && v >= 0 && v <= 0xff {
		return ProDOSFileType(v), nil
	}
	return FileType_PD_BIN, invalidArgf("unknown ProDOS file type %q", ext)
}

// ProDOSDisk is a ProDOS volume of 280 to 65535 blocks.
type ProDOSDisk struct {
	order ImageOrder
}

func NewProDOSDisk(order ImageOrder) *ProDOSDisk {
	return &ProDOSDisk{order: order}
}

func (d *ProDOSDisk) Kind() Kind {
	return KindProDOS
}

func (d *ProDOSDisk) ImageOrder() ImageOrder {
	return d.order
}

func (d *ProDOSDisk) volumeHeader() (prodosRecord, error) {
	data, err := d.order.ReadBlock(PRODOS_VOLUME_DIR_BLOCK)
	if err != nil {
		return nil, err
	}
	return prodosRecord(data[4 : 4+PRODOS_ENTRY_SIZE]), nil
}

func (d *ProDOSDisk) DiskName() string {
	vdh, err := d.volumeHeader()
	if err != nil {
		return ""
	}
	return "/" + vdh.name() + "/"
}

// TotalBlocks trusts the volume header when it fits the image.
func (d *ProDOSDisk) TotalBlocks() int {
	vdh, err := d.volumeHeader()
	if err == nil {
		if n := vdh.word(0x25); n > 0 && n <= d.order.Blocks() {
			return n
		}
	}
	return d.order.Blocks()
}

func (d *ProDOSDisk) readBitmap() (*blockBitmap, int, error) {
	vdh, err := d.volumeHeader()
	if err != nil {
		return nil, 0, err
	}
	start := vdh.word(0x23)
	bm := newBlockBitmap(d.TotalBlocks())
	for i := 0; i*PRODOS_BLOCK_SIZE < len(bm.data); i++ {
		data, err := d.order.ReadBlock(start + i)
		if err != nil {
			return nil, 0, malformedf("volume bitmap block %d: %v", start+i, err)
		}
		copy(bm.data[i*PRODOS_BLOCK_SIZE:], data)
	}
	return bm, start, nil
}

func (d *ProDOSDisk) writeBitmap(bm *blockBitmap, start int) error {
	for i := 0; i*PRODOS_BLOCK_SIZE < len(bm.data); i++ {
		if err := d.order.WriteBlock(start+i, bm.data[i*PRODOS_BLOCK_SIZE:(i+1)*PRODOS_BLOCK_SIZE]); err != nil {
			return err
		}
	}
	return nil
}

// dirBlocks follows a directory's next pointers from its key block.
func (d *ProDOSDisk) dirBlocks(key int) ([]int, error) {
	var blocks []int
	visited := make(map[int]bool)
	for b := key; b != 0; {
		if visited[b] {
			return nil, malformedf("directory chain loops at block %d", b)
		}
		visited[b] = true
		data, err := d.order.ReadBlock(b)
		if err != nil {
			return nil, malformedf("directory block %d: %v", b, err)
		}
		blocks = append(blocks, b)
		b = int(data[2]) | int(data[3])<<8
	}
	return blocks, nil
}

func (d *ProDOSDisk) readRecord(block, offset int) (prodosRecord, error) {
	data, err := d.order.ReadBlock(block)
	if err != nil {
		return nil, err
	}
	return prodosRecord(data[offset : offset+PRODOS_ENTRY_SIZE]), nil
}

func (d *ProDOSDisk) writeRecord(block, offset int, r prodosRecord) error {
	data, err := d.order.ReadBlock(block)
	if err != nil {
		return err
	}
	copy(data[offset:], r)
	return d.order.WriteBlock(block, data)
}

// adjustFileCount changes the active entry count in a directory header.
func (d *ProDOSDisk) adjustFileCount(key, delta int) error {
	hdr, err := d.readRecord(key, 4)
	if err != nil {
		return err
	}
	n := hdr.word(0x21) + delta
	if n < 0 {
		n = 0
	}
	hdr.setWord(0x21, n)
	return d.writeRecord(key, 4, hdr)
}

func (d *ProDOSDisk) dirFiles(key int) ([]FileEntry, error) {
	blocks, err := d.dirBlocks(key)
	if err != nil {
		return nil, err
	}
	var files []FileEntry
	for i, b := range blocks {
		data, err := d.order.ReadBlock(b)
		if err != nil {
			return nil, err
		}
		first := 0
		if i == 0 {
			first = 1
		}
		for n := first; n < PRODOS_ENTRIES_PER_BLOCK; n++ {
			offset := 4 + n*PRODOS_ENTRY_SIZE
			st := prodosRecord(data[offset:]).storageType()
			if st == StorageType_Inactive || st == StorageType_SubDir_Header || st == StorageType_Volume_Header {
				continue
			}
			files = append(files, &ProDOSFileEntry{disk: d, dir: key, block: b, offset: offset})
		}
	}
	return files, nil
}

func (d *ProDOSDisk) Files() ([]FileEntry, error) {
	return d.dirFiles(PRODOS_VOLUME_DIR_BLOCK)
}

// freeSlot finds an inactive entry in a directory, growing subdirectories
// by one block when they are full.
func (d *ProDOSDisk) freeSlot(key int) (int, int, error) {
	blocks, err := d.dirBlocks(key)
	if err != nil {
		return 0, 0, err
	}
	for i, b := range blocks {
		data, err := d.order.ReadBlock(b)
		if err != nil {
			return 0, 0, err
		}
		first := 0
		if i == 0 {
			first = 1
		}
		for n := first; n < PRODOS_ENTRIES_PER_BLOCK; n++ {
			offset := 4 + n*PRODOS_ENTRY_SIZE
			if prodosRecord(data[offset:]).storageType() == StorageType_Inactive {
				return b, offset, nil
			}
		}
	}
	if key == PRODOS_VOLUME_DIR_BLOCK {
		return 0, 0, diskFull("", "volume directory is full")
	}
	return d.growDirectory(key, blocks[len(blocks)-1])
}

func (d *ProDOSDisk) growDirectory(key, last int) (int, int, error) {
	bm, start, err := d.readBitmap()
	if err != nil {
		return 0, 0, err
	}
	block, err := bm.allocate()
	if err != nil {
		return 0, 0, diskFull("", "no block to extend directory")
	}
	fresh := make([]byte, PRODOS_BLOCK_SIZE)
	fresh[0], fresh[1] = byte(last&0xff), byte(last>>8)
	if err := d.order.WriteBlock(block, fresh); err != nil {
		return 0, 0, err
	}
	prev, err := d.order.ReadBlock(last)
	if err != nil {
		return 0, 0, err
	}
	prev[2], prev[3] = byte(block&0xff), byte(block>>8)
	if err := d.order.WriteBlock(last, prev); err != nil {
		return 0, 0, err
	}

	// the parent's entry for this directory grows with it
	hdr, err := d.readRecord(key, 4)
	if err != nil {
		return 0, 0, err
	}
	pblock, pentry := hdr.word(0x23), int(hdr[0x25])
	poffset := 4 + (pentry-1)*PRODOS_ENTRY_SIZE
	if pentry >= 1 && pentry <= PRODOS_ENTRIES_PER_BLOCK {
		if parent, err := d.readRecord(pblock, poffset); err == nil && parent.keyPointer() == key {
			parent.setWord(0x13, parent.blocksUsed()+1)
			parent.setEOF(parent.eof() + PRODOS_BLOCK_SIZE)
			if err := d.writeRecord(pblock, poffset, parent); err != nil {
				return 0, 0, err
			}
		}
	}
	if err := d.writeBitmap(bm, start); err != nil {
		return 0, 0, err
	}
	return block, 4, nil
}

// createIn claims a slot in a directory and gives it an empty seedling.
func (d *ProDOSDisk) createIn(key int) (*ProDOSFileEntry, error) {
	block, offset, err := d.freeSlot(key)
	if err != nil {
		return nil, err
	}
	bm, start, err := d.readBitmap()
	if err != nil {
		return nil, err
	}
	data, err := bm.allocate()
	if err != nil {
		return nil, err
	}
	if err := d.order.WriteBlock(data, make([]byte, PRODOS_BLOCK_SIZE)); err != nil {
		return nil, err
	}

	r := prodosRecord(make([]byte, PRODOS_ENTRY_SIZE))
	r.setStorageType(StorageType_Seedling)
	r[0x10] = byte(FileType_PD_BIN)
	r.setWord(0x11, data)
	r.setWord(0x13, 1)
	r.setCreated(clock())
	r.setModified(clock())
	r[0x1e] = byte(AccessType_Default)
	r.setWord(0x25, key)
	if err := d.writeRecord(block, offset, r); err != nil {
		return nil, err
	}
	if err := d.adjustFileCount(key, 1); err != nil {
		return nil, err
	}
	if err := d.writeBitmap(bm, start); err != nil {
		return nil, err
	}
	return &ProDOSFileEntry{disk: d, dir: key, block: block, offset: offset}, nil
}

func (d *ProDOSDisk) CreateFile() (FileEntry, error) {
	return d.createIn(PRODOS_VOLUME_DIR_BLOCK)
}

func (d *ProDOSDisk) CreateDirectory(name string) (FileEntry, error) {
	return d.createDirectoryIn(PRODOS_VOLUME_DIR_BLOCK, name)
}

func (d *ProDOSDisk) createDirectoryIn(parent int, name string) (FileEntry, error) {
	name = d.SuggestedFilename(name)
	siblings, err := d.dirFiles(parent)
	if err != nil {
		return nil, err
	}
	for _, f := range siblings {
		if strings.EqualFold(f.Name(), name) {
			return nil, invalidArgf("%s already exists", name)
		}
	}

	block, offset, err := d.freeSlot(parent)
	if err != nil {
		return nil, err
	}
	bm, start, err := d.readBitmap()
	if err != nil {
		return nil, err
	}
	key, err := bm.allocate()
	if err != nil {
		return nil, err
	}

	now := clock()
	kb := make([]byte, PRODOS_BLOCK_SIZE)
	hdr := prodosRecord(kb[4 : 4+PRODOS_ENTRY_SIZE])
	hdr.setStorageType(StorageType_SubDir_Header)
	hdr.setName(name)
	hdr[0x10] = 0x75
	hdr.setCreated(now)
	hdr[0x1c] = 0x00
	hdr[0x1d] = 0x00
	hdr[0x1e] = byte(AccessType_Default)
	hdr[0x1f] = PRODOS_ENTRY_SIZE
	hdr[0x20] = PRODOS_ENTRIES_PER_BLOCK
	hdr.setWord(0x23, block)
	hdr[0x25] = byte((offset-4)/PRODOS_ENTRY_SIZE + 1)
	hdr[0x26] = PRODOS_ENTRY_SIZE
	if err := d.order.WriteBlock(key, kb); err != nil {
		return nil, err
	}

	r := prodosRecord(make([]byte, PRODOS_ENTRY_SIZE))
	r.setStorageType(StorageType_SubDir_File)
	r.setName(name)
	r[0x10] = byte(FileType_PD_Directory)
	r.setWord(0x11, key)
	r.setWord(0x13, 1)
	r.setEOF(PRODOS_BLOCK_SIZE)
	r.setCreated(now)
	r.setModified(now)
	r[0x1e] = byte(AccessType_Default)
	r.setWord(0x25, parent)
	if err := d.writeRecord(block, offset, r); err != nil {
		return nil, err
	}
	if err := d.adjustFileCount(parent, 1); err != nil {
		return nil, err
	}
	if err := d.writeBitmap(bm, start); err != nil {
		return nil, err
	}
	return &ProDOSFileEntry{disk: d, dir: parent, block: block, offset: offset}, nil
}

func (d *ProDOSDisk) entry(fe FileEntry) (*ProDOSFileEntry, error) {
	e, ok := fe.(*ProDOSFileEntry)
	if !ok || e.disk != d {
		return nil, invalidArgf("entry does not belong to this ProDOS disk")
	}
	return e, nil
}

func (d *ProDOSDisk) pointer(index []byte, i int) (int, error) {
	b := int(index[i]) | int(index[i+PRODOS_INDEX_POINTERS])<<8
	if b >= d.TotalBlocks() {
		return 0, malformedf("block pointer %d beyond volume", b)
	}
	return b, nil
}

// fileBlocks lists a file's data block pointers in file order, zero for
// sparse blocks, along with the index blocks that hold them.
func (d *ProDOSDisk) fileBlocks(r prodosRecord) ([]int, []int, error) {
	key := r.keyPointer()
	if key == 0 || key >= d.TotalBlocks() {
		return nil, nil, malformedf("key block %d out of range", key)
	}
	switch r.storageType() {
	case StorageType_Seedling:
		return []int{key}, nil, nil
	case StorageType_Sapling:
		index, err := d.order.ReadBlock(key)
		if err != nil {
			return nil, nil, err
		}
		data := make([]int, PRODOS_INDEX_POINTERS)
		for i := range data {
			if data[i], err = d.pointer(index, i); err != nil {
				return nil, nil, err
			}
		}
		return data, []int{key}, nil
	case StorageType_Tree:
		master, err := d.order.ReadBlock(key)
		if err != nil {
			return nil, nil, err
		}
		var data []int
		indexes := []int{key}
		for j := 0; j < PRODOS_MASTER_POINTERS; j++ {
			sub, err := d.pointer(master, j)
			if err != nil {
				return nil, nil, err
			}
			if sub == 0 {
				data = append(data, make([]int, PRODOS_INDEX_POINTERS)...)
				continue
			}
			indexes = append(indexes, sub)
			index, err := d.order.ReadBlock(sub)
			if err != nil {
				return nil, nil, err
			}
			for i := 0; i < PRODOS_INDEX_POINTERS; i++ {
				b, err := d.pointer(index, i)
				if err != nil {
					return nil, nil, err
				}
				data = append(data, b)
			}
		}
		return data, indexes, nil
	case StorageType_SubDir_File:
		blocks, err := d.dirBlocks(key)
		return blocks, nil, err
	}
	return nil, nil, unsupportedf("storage type %s", r.storageType())
}

func (d *ProDOSDisk) FileData(fe FileEntry) ([]byte, error) {
	e, err := d.entry(fe)
	if err != nil {
		return nil, err
	}
	r, err := e.record()
	if err != nil {
		return nil, err
	}
	blocks, _, err := d.fileBlocks(r)
	if err != nil {
		return nil, err
	}
	eof := r.eof()
	if r.storageType() == StorageType_SubDir_File {
		eof = len(blocks) * PRODOS_BLOCK_SIZE
	}
	needed := (eof + PRODOS_BLOCK_SIZE - 1) / PRODOS_BLOCK_SIZE
	if needed > len(blocks) {
		return nil, malformedf("%s claims %d bytes beyond its index", e.Name(), eof)
	}
	data := make([]byte, 0, needed*PRODOS_BLOCK_SIZE)
	for _, b := range blocks[:needed] {
		if b == 0 {
			data = append(data, make([]byte, PRODOS_BLOCK_SIZE)...)
			continue
		}
		chunk, err := d.order.ReadBlock(b)
		if err != nil {
			return nil, err
		}
		data = append(data, chunk...)
	}
	return data[:eof], nil
}

// releaseBlocks frees everything a file owns in the bitmap draft.
func (d *ProDOSDisk) releaseBlocks(bm *blockBitmap, r prodosRecord) error {
	blocks, indexes, err := d.fileBlocks(r)
	if err != nil {
		return err
	}
	for _, b := range append(blocks, indexes...) {
		if b != 0 {
			bm.setFree(b)
		}
	}
	return nil
}

func prodosLayout(length int) (ProDOSStorageType, int, int, error) {
	n := (length + PRODOS_BLOCK_SIZE - 1) / PRODOS_BLOCK_SIZE
	if n == 0 {
		n = 1
	}
	switch {
	case n == 1:
		return StorageType_Seedling, n, 0, nil
	case n <= PRODOS_INDEX_POINTERS:
		return StorageType_Sapling, n, 1, nil
	case n <= PRODOS_INDEX_POINTERS*PRODOS_MASTER_POINTERS && length < 1<<24:
		return StorageType_Tree, n, 1 + (n+PRODOS_INDEX_POINTERS-1)/PRODOS_INDEX_POINTERS, nil
	}
	return 0, 0, 0, invalidArgf("file of %d bytes is too large for ProDOS", length)
}

// SetFileData rewrites a file from scratch: its old blocks are released in
// a bitmap draft, the new layout is allocated lowest block first, and the
// bitmap is written once at the end.
func (d *ProDOSDisk) SetFileData(fe FileEntry, data []byte) error {
	e, err := d.entry(fe)
	if err != nil {
		return err
	}
	r, err := e.record()
	if err != nil {
		return err
	}
	if e.IsDirectory() {
		return invalidArgf("%s is a directory", e.Name())
	}
	st, dataBlocks, indexBlocks, err := prodosLayout(len(data))
	if err != nil {
		return err
	}
	bm, start, err := d.readBitmap()
	if err != nil {
		return err
	}
	draft := bm.clone()
	if err := d.releaseBlocks(draft, r); err != nil {
		return err
	}
	total := dataBlocks + indexBlocks
	if total > draft.freeCount() {
		return diskFull(e.Name(), fmt.Sprintf("need %d blocks, %d free", total, draft.freeCount()))
	}
	alloc := make([]int, total)
	for i := range alloc {
		if alloc[i], err = draft.allocate(); err != nil {
			return err
		}
	}

	indexes, blocks := alloc[:indexBlocks], alloc[indexBlocks:]
	for i, b := range blocks {
		chunk := make([]byte, PRODOS_BLOCK_SIZE)
		if i*PRODOS_BLOCK_SIZE < len(data) {
			copy(chunk, data[i*PRODOS_BLOCK_SIZE:])
		}
		if err := d.order.WriteBlock(b, chunk); err != nil {
			return err
		}
	}
	key := blocks[0]
	switch st {
	case StorageType_Sapling:
		key = indexes[0]
		if err := d.writeIndex(key, blocks); err != nil {
			return err
		}
	case StorageType_Tree:
		key = indexes[0]
		subs := indexes[1:]
		for j, sub := range subs {
			end := (j + 1) * PRODOS_INDEX_POINTERS
			if end > len(blocks) {
				end = len(blocks)
			}
			if err := d.writeIndex(sub, blocks[j*PRODOS_INDEX_POINTERS:end]); err != nil {
				return err
			}
		}
		if err := d.writeIndex(key, subs); err != nil {
			return err
		}
	}

	r.setStorageType(st)
	r.setWord(0x11, key)
	r.setWord(0x13, total)
	r.setEOF(len(data))
	r.setModified(clock())
	if err := e.write(r); err != nil {
		return err
	}
	return d.writeBitmap(draft, start)
}

func (d *ProDOSDisk) writeIndex(block int, pointers []int) error {
	index := make([]byte, PRODOS_BLOCK_SIZE)
	for i, p := range pointers {
		index[i] = byte(p & 0xff)
		index[i+PRODOS_INDEX_POINTERS] = byte(p >> 8)
	}
	return d.order.WriteBlock(block, index)
}

func (d *ProDOSDisk) FreeBlocks() int {
	bm, _, err := d.readBitmap()
	if err != nil {
		return 0
	}
	return bm.freeCount()
}

func (d *ProDOSDisk) FreeSpace() int {
	return d.FreeBlocks() * PRODOS_BLOCK_SIZE
}

func (d *ProDOSDisk) UsedSpace() int {
	return (d.TotalBlocks() - d.FreeBlocks()) * PRODOS_BLOCK_SIZE
}

func (d *ProDOSDisk) Format() error {
	return d.FormatVolume(PRODOS_DEFAULT_VOLUME)
}

// FormatVolume writes a boot block, a four block volume directory and a
// volume bitmap covering the whole image.
func (d *ProDOSDisk) FormatVolume(name string) error {
	blocks := d.order.Blocks()
	if blocks < PRODOS_BITMAP_BLOCK+1 || blocks > 0xffff {
		return invalidArgf("cannot format %d blocks as ProDOS", blocks)
	}
	d.order.Format()
	if err := d.order.WriteBlock(0, bootSector(bootProDOS, PRODOS_BLOCK_SIZE)); err != nil {
		return err
	}

	last := PRODOS_VOLUME_DIR_BLOCK + PRODOS_VOLUME_DIR_BLOCKS - 1
	for b := PRODOS_VOLUME_DIR_BLOCK; b <= last; b++ {
		data := make([]byte, PRODOS_BLOCK_SIZE)
		if b > PRODOS_VOLUME_DIR_BLOCK {
			data[0], data[1] = byte(b-1), 0
		}
		if b < last {
			data[2], data[3] = byte(b+1), 0
		}
		if b == PRODOS_VOLUME_DIR_BLOCK {
			vdh := prodosRecord(data[4 : 4+PRODOS_ENTRY_SIZE])
			vdh.setStorageType(StorageType_Volume_Header)
			vdh.setName(d.SuggestedFilename(name))
			vdh.setCreated(clock())
			vdh[0x1e] = byte(AccessType_Default)
			vdh[0x1f] = PRODOS_ENTRY_SIZE
			vdh[0x20] = PRODOS_ENTRIES_PER_BLOCK
			vdh.setWord(0x23, PRODOS_BITMAP_BLOCK)
			vdh.setWord(0x25, blocks)
		}
		if err := d.order.WriteBlock(b, data); err != nil {
			return err
		}
	}

	bm := newBlockBitmap(blocks)
	bitmapBlocks := len(bm.data) / PRODOS_BLOCK_SIZE
	for b := PRODOS_BITMAP_BLOCK + bitmapBlocks; b < blocks; b++ {
		bm.setFree(b)
	}
	return d.writeBitmap(bm, PRODOS_BITMAP_BLOCK)
}

func (d *ProDOSDisk) ChangeImageOrder(order ImageOrder) error {
	if err := copyByBlock(d.order, order); err != nil {
		return err
	}
	d.order = order
	return nil
}

func (d *ProDOSDisk) DiskUsage() DiskUsage {
	bm, _, err := d.readBitmap()
	return &blockUsage{blocks: d.TotalBlocks(), free: func(b int) bool {
		return err == nil && bm.isFree(b)
	}}
}

func (d *ProDOSDisk) FileColumnHeaders(mode DisplayMode) []FileColumnHeader {
	switch mode {
	case DisplayNative:
		return []FileColumnHeader{
			{Title: " ", Width: 1, Align: AlignCenter, Key: "locked"},
			{Title: "Name", Width: 15, Align: AlignLeft, Key: "name"},
			{Title: "Filetype", Width: 8, Align: AlignCenter, Key: "filetype"},
			{Title: "Blocks", Width: 3, Align: AlignRight, Key: "blocks"},
			{Title: "Modified", Width: 16, Align: AlignCenter, Key: "dateModified"},
			{Title: "Created", Width: 16, Align: AlignCenter, Key: "dateCreated"},
			{Title: "Length", Width: 10, Align: AlignRight, Key: "size"},
			{Title: "Aux. type", Width: 8, Align: AlignLeft, Key: "auxType"},
		}
	case DisplayDetail:
		return []FileColumnHeader{
			{Title: " ", Width: 1, Align: AlignCenter, Key: "locked"},
			{Title: "Name", Width: 15, Align: AlignLeft, Key: "name"},
			{Title: "Deleted?", Width: 7, Align: AlignCenter, Key: "deleted"},
			{Title: "Filetype", Width: 8, Align: AlignCenter, Key: "filetype"},
			{Title: "Blocks", Width: 3, Align: AlignRight, Key: "blocks"},
			{Title: "Modified", Width: 16, Align: AlignCenter, Key: "dateModified"},
			{Title: "Created", Width: 16, Align: AlignCenter, Key: "dateCreated"},
			{Title: "Length", Width: 10, Align: AlignRight, Key: "size"},
			{Title: "Aux. type", Width: 8, Align: AlignLeft, Key: "auxType"},
			{Title: "Storage", Width: 12, Align: AlignLeft, Key: "storageType"},
			{Title: "Key block", Width: 5, Align: AlignRight, Key: "keyPointer"},
			{Title: "Access", Width: 6, Align: AlignLeft, Key: "access"},
		}
	}
	return standardHeaders()
}

func (d *ProDOSDisk) Capabilities() Capabilities {
	return Capabilities{
		CreateFile:        true,
		ReadFileData:      true,
		WriteFileData:     true,
		DeleteFile:        true,
		CreateDirectories: true,
	}
}

// SuggestedFilename keeps letters, digits and periods, starting with a
// letter.
func (d *ProDOSDisk) SuggestedFilename(name string) string {
	var b strings.Builder
	for _, c := range strings.ToUpper(name) {
		switch {
		case c >= 'A' && c <= 'Z', c == '.', c >= '0' && c <= '9':
			if b.Len() == 0 && (c < 'A' || c > 'Z') {
				b.WriteByte('A')
			}
			b.WriteRune(c)
		}
		if b.Len() >= PRODOS_NAME_LENGTH {
			break
		}
	}
	s := b.String()
	if s == "" {
		s = "BLANK"
	}
	if len(s) > PRODOS_NAME_LENGTH {
		s = s[:PRODOS_NAME_LENGTH]
	}
	return s
}

func (d *ProDOSDisk) SuggestedFiletype() string {
	return "BIN"
}

func (d *ProDOSDisk) Filetypes() []string {
	var out []string
	for _, info := range ProDOSTypeMap {
		out = append(out, info[0])
	}
	sort.Strings(out)
	return out
}

func (d *ProDOSDisk) NeedsAddress(filetype string) bool {
	return strings.EqualFold(filetype, "BIN")
}

// ProDOSFileEntry is a directory slot: the key block of the directory it
// lives in, plus the block and offset of the record itself.
type ProDOSFileEntry struct {
	disk          *ProDOSDisk
	dir           int
	block, offset int
}

func (e *ProDOSFileEntry) record() (prodosRecord, error) {
	return e.disk.readRecord(e.block, e.offset)
}

func (e *ProDOSFileEntry) rec() prodosRecord {
	r, err := e.record()
	if err != nil {
		return prodosRecord(make([]byte, PRODOS_ENTRY_SIZE))
	}
	return r
}

func (e *ProDOSFileEntry) write(r prodosRecord) error {
	return e.disk.writeRecord(e.block, e.offset, r)
}

func (e *ProDOSFileEntry) update(fn func(r prodosRecord)) error {
	r, err := e.record()
	if err != nil {
		return err
	}
	fn(r)
	return e.write(r)
}

func (e *ProDOSFileEntry) Disk() FormattedDisk {
	return e.disk
}

func (e *ProDOSFileEntry) Name() string {
	return e.rec().name()
}

func (e *ProDOSFileEntry) SetName(name string) error {
	name = e.disk.SuggestedFilename(name)
	if e.IsDirectory() {
		key := e.rec().keyPointer()
		hdr, err := e.disk.readRecord(key, 4)
		if err != nil {
			return err
		}
		hdr.setName(name)
		if err := e.disk.writeRecord(key, 4, hdr); err != nil {
			return err
		}
	}
	return e.update(func(r prodosRecord) { r.setName(name) })
}

func (e *ProDOSFileEntry) ProDOSFileType() ProDOSFileType {
	return e.rec().fileType()
}

func (e *ProDOSFileEntry) Filetype() string {
	return e.ProDOSFileType().Ext()
}

func (e *ProDOSFileEntry) SetFiletype(filetype string) error {
	ft, err := ProDOSFileTypeFromExt(filetype)
	if err != nil {
		return err
	}
	if e.IsDirectory() != (ft == FileType_PD_Directory) {
		return invalidArgf("cannot change %s to %s", e.Name(), filetype)
	}
	return e.update(func(r prodosRecord) { r[0x10] = byte(ft) })
}

func (e *ProDOSFileEntry) TypeHint() CatalogEntryType {
	switch e.ProDOSFileType() {
	case FileType_PD_TXT:
		return CETText
	case FileType_PD_BIN, FileType_PD_SYS:
		return CETBinary
	case FileType_PD_APP:
		return CETBasicApplesoft
	case FileType_PD_INT:
		return CETBasicInteger
	case FileType_PD_FOT:
		return CETGraphics
	case FileType_PD_Directory:
		return CETDirectory
	case 0x02, 0x03, 0x05:
		return CETPascal
	}
	return CETData
}

func (e *ProDOSFileEntry) Access() ProDOSAccessMode {
	return e.rec().access()
}

func (e *ProDOSFileEntry) IsLocked() bool {
	return e.Access()&(AccessType_Destroy|AccessType_Rename|AccessType_Writable) == 0
}

func (e *ProDOSFileEntry) SetLocked(locked bool) error {
	return e.update(func(r prodosRecord) {
		access := r.access()
		if locked {
			access &= AccessType_Changed | AccessType_Readable
		} else {
			access |= AccessType_Destroy | AccessType_Writable | AccessType_Rename
		}
		r[0x1e] = byte(access)
	})
}

func (e *ProDOSFileEntry) IsDeleted() bool {
	return e.rec().storageType() == StorageType_Inactive
}

func (e *ProDOSFileEntry) IsDirectory() bool {
	return e.rec().storageType() == StorageType_SubDir_File
}

func (e *ProDOSFileEntry) StorageType() ProDOSStorageType {
	return e.rec().storageType()
}

func (e *ProDOSFileEntry) BlocksUsed() int {
	return e.rec().blocksUsed()
}

func (e *ProDOSFileEntry) KeyPointer() int {
	return e.rec().keyPointer()
}

func (e *ProDOSFileEntry) Size() int {
	return e.rec().eof()
}

func (e *ProDOSFileEntry) Created() time.Time {
	return e.rec().created()
}

func (e *ProDOSFileEntry) Modified() time.Time {
	return e.rec().modified()
}

// Address is the aux type, the load address for BIN files.
func (e *ProDOSFileEntry) Address() int {
	return e.rec().word(0x1f)
}

func (e *ProDOSFileEntry) SetAddress(addr int) error {
	if addr < 0 || addr > 0xffff {
		return invalidArgf("address %d out of range", addr)
	}
	return e.update(func(r prodosRecord) { r.setWord(0x1f, addr) })
}

// Delete releases the file's blocks. Directories must be empty.
func (e *ProDOSFileEntry) Delete() error {
	r, err := e.record()
	if err != nil {
		return err
	}
	if r.storageType() == StorageType_Inactive {
		return nil
	}
	if r.storageType() == StorageType_SubDir_File {
		files, err := e.Files()
		if err != nil {
			return err
		}
		if len(files) > 0 {
			return invalidArgf("directory %s is not empty", r.name())
		}
	}
	bm, start, err := e.disk.readBitmap()
	if err != nil {
		return err
	}
	draft := bm.clone()
	if err := e.disk.releaseBlocks(draft, r); err != nil {
		return err
	}
	r[0] = 0
	if err := e.write(r); err != nil {
		return err
	}
	if err := e.disk.adjustFileCount(e.dir, -1); err != nil {
		return err
	}
	return e.disk.writeBitmap(draft, start)
}

func (e *ProDOSFileEntry) FileData() ([]byte, error) {
	return e.disk.FileData(e)
}

func (e *ProDOSFileEntry) SetFileData(data []byte) error {
	return e.disk.SetFileData(e, data)
}

func (e *ProDOSFileEntry) Files() ([]FileEntry, error) {
	if !e.IsDirectory() {
		return nil, invalidArgf("%s is not a directory", e.Name())
	}
	return e.disk.dirFiles(e.KeyPointer())
}

func (e *ProDOSFileEntry) CreateFile() (FileEntry, error) {
	if !e.IsDirectory() {
		return nil, invalidArgf("%s is not a directory", e.Name())
	}
	return e.disk.createIn(e.KeyPointer())
}

func (e *ProDOSFileEntry) CreateDirectory(name string) (FileEntry, error) {
	if !e.IsDirectory() {
		return nil, invalidArgf("%s is not a directory", e.Name())
	}
	return e.disk.createDirectoryIn(e.KeyPointer(), name)
}

func formatStamp(t time.Time) string {
	if t.IsZero() {
		return "<NO DATE>"
	}
	return t.Format("02-Jan-06 15:04")
}

func (e *ProDOSFileEntry) Columns(mode DisplayMode) []string {
	r := e.rec()
	locked := " "
	if e.IsLocked() {
		locked = "*"
	}
	aux := fmt.Sprintf("$%.4X", r.word(0x1f))
	switch mode {
	case DisplayNative:
		return []string{locked, r.name(), r.fileType().Ext(), fmt.Sprintf("%d", r.blocksUsed()),
			formatStamp(r.modified()), formatStamp(r.created()), fmt.Sprintf("%d", r.eof()), aux}
	case DisplayDetail:
		return []string{locked, r.name(), "", r.fileType().Ext(), fmt.Sprintf("%d", r.blocksUsed()),
			formatStamp(r.modified()), formatStamp(r.created()), fmt.Sprintf("%d", r.eof()), aux,
			r.storageType().String(), fmt.Sprintf("%d", r.keyPointer()), fmt.Sprintf("$%.2X", byte(r.access()))}
	}
	return standardColumns(e)
}
