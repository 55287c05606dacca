package disk

import (
	"fmt"
	"sort"
	"strings"
)

const CPM_BLOCK_SIZE = 1024
const CPM_SECTORS_PER_BLOCK = 4
const CPM_FIRST_TRACK = 3
const CPM_DIRECTORY_BLOCKS = 2
const CPM_ENTRY_LENGTH = 32
const CPM_DIRECTORY_ENTRIES = CPM_DIRECTORY_BLOCKS * CPM_BLOCK_SIZE / CPM_ENTRY_LENGTH
const CPM_RECORD_SIZE = 128
const CPM_RECORDS_PER_EXTENT = 128
const CPM_BLOCKS_PER_EXTENT = 16
const CPM_DELETED = 0xe5
const CPM_MAX_USER = 15

// Apple CP/M's sector interleave within a track.
var cpmSectorSkew = [16]int{0x0, 0x6, 0xc, 0x3, 0x9, 0xf, 0xe, 0x5, 0xb, 0x2, 0x8, 0x7, 0xd, 0x4, 0xa, 0x1}

// CPMDisk is an Apple II CP/M 2.2 data area: 1K blocks from track 3 on,
// with the first two blocks holding the directory.
type CPMDisk struct {
	order ImageOrder
}

func NewCPMDisk(order ImageOrder) *CPMDisk {
	return &CPMDisk{order: order}
}

func (d *CPMDisk) Kind() Kind {
	return KindCPM
}

func (d *CPMDisk) ImageOrder() ImageOrder {
	return d.order
}

func (d *CPMDisk) DiskName() string {
	return "CP/M Volume"
}

func (d *CPMDisk) TotalBlocks() int {
	return (d.order.Tracks() - CPM_FIRST_TRACK) * d.order.SectorsPerTrack() / CPM_SECTORS_PER_BLOCK
}

func (d *CPMDisk) blockSector(block, i int) (int, int) {
	logical := block*CPM_SECTORS_PER_BLOCK + i
	spt := d.order.SectorsPerTrack()
	return CPM_FIRST_TRACK + logical/spt, cpmSectorSkew[logical%spt]
}

func (d *CPMDisk) readBlock(block int) ([]byte, error) {
	if block < 0 || block >= d.TotalBlocks() {
		return nil, invalidArgf("CP/M block %d out of range", block)
	}
	out := make([]byte, 0, CPM_BLOCK_SIZE)
	for i := 0; i < CPM_SECTORS_PER_BLOCK; i++ {
		data, err := d.order.ReadSector(d.blockSector(block, i))
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}

func (d *CPMDisk) writeBlock(block int, data []byte) error {
	if block < 0 || block >= d.TotalBlocks() {
		return invalidArgf("CP/M block %d out of range", block)
	}
	for i := 0; i < CPM_SECTORS_PER_BLOCK; i++ {
		t, s := d.blockSector(block, i)
		if err := d.order.WriteSector(t, s, data[i*STD_BYTES_PER_SECTOR:(i+1)*STD_BYTES_PER_SECTOR]); err != nil {
			return err
		}
	}
	return nil
}

func (d *CPMDisk) directory() ([]byte, error) {
	var dir []byte
	for b := 0; b < CPM_DIRECTORY_BLOCKS; b++ {
		data, err := d.readBlock(b)
		if err != nil {
			return nil, err
		}
		dir = append(dir, data...)
	}
	return dir, nil
}

func (d *CPMDisk) writeDirectory(dir []byte) error {
	for b := 0; b < CPM_DIRECTORY_BLOCKS; b++ {
		if err := d.writeBlock(b, dir[b*CPM_BLOCK_SIZE:(b+1)*CPM_BLOCK_SIZE]); err != nil {
			return err
		}
	}
	return nil
}

// cpmRecord is one 32 byte directory extent.
type cpmRecord []byte

func cpmEntry(dir []byte, i int) cpmRecord {
	return cpmRecord(dir[i*CPM_ENTRY_LENGTH : (i+1)*CPM_ENTRY_LENGTH])
}

func (r cpmRecord) live() bool {
	return r[0] <= CPM_MAX_USER
}

func (r cpmRecord) name() string {
	b := make([]byte, 8)
	for i := range b {
		b[i] = r[1+i] & 0x7f
	}
	return strings.TrimRight(string(b), " ")
}

func (r cpmRecord) ext() string {
	b := make([]byte, 3)
	for i := range b {
		b[i] = r[9+i] & 0x7f
	}
	return strings.TrimRight(string(b), " ")
}

// key groups the extents of one file.
func (r cpmRecord) key() string {
	return fmt.Sprintf("%d:%s.%s", r[0], r.name(), r.ext())
}

func (r cpmRecord) extent() int {
	return int(r[12]&0x1f) | int(r[14])<<5
}

func (r cpmRecord) blocks() []int {
	var out []int
	for _, b := range r[16:32] {
		if b != 0 {
			out = append(out, int(b))
		}
	}
	return out
}

func (r cpmRecord) setNameExt(name, ext string) {
	flags1, flags2 := r[9]&0x80, r[10]&0x80
	copy(r[1:9], padRight(name, 8))
	copy(r[9:12], padRight(ext, 3))
	r[9] |= flags1
	r[10] |= flags2
}

// extents returns the directory indexes of a file's extents, in order.
func (d *CPMDisk) extents(dir []byte, key string) []int {
	var out []int
	for i := 0; i < CPM_DIRECTORY_ENTRIES; i++ {
		r := cpmEntry(dir, i)
		if r.live() && r.key() == key {
			out = append(out, i)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return cpmEntry(dir, out[a]).extent() < cpmEntry(dir, out[b]).extent()
	})
	return out
}

func (d *CPMDisk) Files() ([]FileEntry, error) {
	dir, err := d.directory()
	if err != nil {
		return nil, err
	}
	var files []FileEntry
	seen := make(map[string]bool)
	for i := 0; i < CPM_DIRECTORY_ENTRIES; i++ {
		r := cpmEntry(dir, i)
		if !r.live() || seen[r.key()] {
			continue
		}
		seen[r.key()] = true
		files = append(files, &CPMFileEntry{disk: d, index: d.extents(dir, r.key())[0]})
	}
	return files, nil
}

func (d *CPMDisk) usedBlocks(dir []byte) []bool {
	used := make([]bool, d.TotalBlocks())
	for b := 0; b < CPM_DIRECTORY_BLOCKS; b++ {
		used[b] = true
	}
	for i := 0; i < CPM_DIRECTORY_ENTRIES; i++ {
		r := cpmEntry(dir, i)
		if !r.live() {
			continue
		}
		for _, b := range r.blocks() {
			if b < len(used) {
				used[b] = true
			}
		}
	}
	return used
}

func (d *CPMDisk) CreateFile() (FileEntry, error) {
	dir, err := d.directory()
	if err != nil {
		return nil, err
	}
	for i := 0; i < CPM_DIRECTORY_ENTRIES; i++ {
		r := cpmEntry(dir, i)
		if r.live() {
			continue
		}
		for j := range r {
			r[j] = 0
		}
		r.setNameExt(d.uniqueName(dir), "")
		if err := d.writeDirectory(dir); err != nil {
			return nil, err
		}
		return &CPMFileEntry{disk: d, index: i}, nil
	}
	return nil, diskFull("", "directory is full")
}

func (d *CPMDisk) uniqueName(dir []byte) string {
	taken := make(map[string]bool)
	for i := 0; i < CPM_DIRECTORY_ENTRIES; i++ {
		if r := cpmEntry(dir, i); r.live() && r[0] == 0 {
			taken[r.name()+"."+r.ext()] = true
		}
	}
	name := "UNTITLED"
	for i := 1; taken[name+"."]; i++ {
		name = fmt.Sprintf("NEW%d", i)
	}
	return name
}

func (d *CPMDisk) CreateDirectory(name string) (FileEntry, error) {
	return nil, unsupportedf("cp/m has no directories")
}

func (d *CPMDisk) entry(fe FileEntry) (*CPMFileEntry, error) {
	e, ok := fe.(*CPMFileEntry)
	if !ok || e.disk != d {
		return nil, invalidArgf("entry does not belong to this CP/M disk")
	}
	return e, nil
}

// FileData is whole records, so text keeps its ^Z padding.
func (d *CPMDisk) FileData(fe FileEntry) ([]byte, error) {
	e, err := d.entry(fe)
	if err != nil {
		return nil, err
	}
	dir, err := d.directory()
	if err != nil {
		return nil, err
	}
	var data []byte
	for _, i := range d.extents(dir, cpmEntry(dir, e.index).key()) {
		r := cpmEntry(dir, i)
		var chunk []byte
		for _, b := range r.blocks() {
			bd, err := d.readBlock(b)
			if err != nil {
				return nil, malformedf("extent %d: %v", r.extent(), err)
			}
			chunk = append(chunk, bd...)
		}
		n := int(r[15]) * CPM_RECORD_SIZE
		if n > len(chunk) {
			return nil, malformedf("extent %d claims %d records in %d blocks", r.extent(), r[15], len(r.blocks()))
		}
		data = append(data, chunk[:n]...)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// SetFileData releases every extent of the file, then lays it out again in
// the lowest free blocks, reusing the first extent's slot.
func (d *CPMDisk) SetFileData(fe FileEntry, data []byte) error {
	e, err := d.entry(fe)
	if err != nil {
		return err
	}
	dir, err := d.directory()
	if err != nil {
		return err
	}
	head := append(cpmRecord(nil), cpmEntry(dir, e.index)...)
	for _, i := range d.extents(dir, head.key()) {
		cpmEntry(dir, i)[0] = CPM_DELETED
	}

	records := (len(data) + CPM_RECORD_SIZE - 1) / CPM_RECORD_SIZE
	blocks := (len(data) + CPM_BLOCK_SIZE - 1) / CPM_BLOCK_SIZE
	extents := (blocks + CPM_BLOCKS_PER_EXTENT - 1) / CPM_BLOCKS_PER_EXTENT
	if extents == 0 {
		extents = 1
	}

	slots := []int{e.index}
	for i := 0; i < CPM_DIRECTORY_ENTRIES && len(slots) < extents; i++ {
		if i != e.index && !cpmEntry(dir, i).live() {
			slots = append(slots, i)
		}
	}
	if len(slots) < extents {
		return diskFull(head.name(), "no directory entries for extents")
	}
	used := d.usedBlocks(dir)
	var alloc []int
	for b := 0; b < len(used) && len(alloc) < blocks; b++ {
		if !used[b] {
			alloc = append(alloc, b)
		}
	}
	if len(alloc) < blocks {
		return diskFull(head.name(), fmt.Sprintf("need %d blocks, %d free", blocks, len(alloc)))
	}

	for i, b := range alloc {
		chunk := make([]byte, CPM_BLOCK_SIZE)
		for j := range chunk {
			chunk[j] = 0x1a
		}
		copy(chunk, data[i*CPM_BLOCK_SIZE:])
		if err := d.writeBlock(b, chunk); err != nil {
			return err
		}
	}
	for x, slot := range slots {
		r := cpmEntry(dir, slot)
		copy(r, head)
		for j := 12; j < CPM_ENTRY_LENGTH; j++ {
			r[j] = 0
		}
		r[12] = byte(x & 0x1f)
		r[14] = byte(x >> 5)
		rc := records - x*CPM_RECORDS_PER_EXTENT
		if rc > CPM_RECORDS_PER_EXTENT {
			rc = CPM_RECORDS_PER_EXTENT
		}
		if rc < 0 {
			rc = 0
		}
		r[15] = byte(rc)
		for j := 0; j < CPM_BLOCKS_PER_EXTENT; j++ {
			k := x*CPM_BLOCKS_PER_EXTENT + j
			if k < len(alloc) {
				r[16+j] = byte(alloc[k])
			}
		}
	}
	return d.writeDirectory(dir)
}

func (d *CPMDisk) FreeBlocks() int {
	dir, err := d.directory()
	if err != nil {
		return 0
	}
	n := 0
	for _, u := range d.usedBlocks(dir) {
		if !u {
			n++
		}
	}
	return n
}

func (d *CPMDisk) FreeSpace() int {
	return d.FreeBlocks() * CPM_BLOCK_SIZE
}

func (d *CPMDisk) UsedSpace() int {
	return (d.TotalBlocks() - d.FreeBlocks()) * CPM_BLOCK_SIZE
}

// Format fills the whole image with the deleted marker.
func (d *CPMDisk) Format() error {
	if d.order.SectorsPerTrack() != STD_SECTORS_PER_TRACK {
		return invalidArgf("cp/m needs 16 sector tracks")
	}
	data := d.order.Bytes()
	for i := range data {
		data[i] = CPM_DELETED
	}
	return nil
}

func (d *CPMDisk) ChangeImageOrder(order ImageOrder) error {
	if err := copyByTrackAndSector(d.order, order); err != nil {
		return err
	}
	d.order = order
	return nil
}

func (d *CPMDisk) DiskUsage() DiskUsage {
	var used []bool
	if dir, err := d.directory(); err == nil {
		used = d.usedBlocks(dir)
	}
	return &blockUsage{blocks: d.TotalBlocks(), free: func(b int) bool {
		return b < len(used) && !used[b]
	}}
}

func (d *CPMDisk) FileColumnHeaders(mode DisplayMode) []FileColumnHeader {
	switch mode {
	case DisplayNative:
		return []FileColumnHeader{
			{Title: "Name", Width: 8, Align: AlignLeft, Key: "name"},
			{Title: "Type", Width: 3, Align: AlignLeft, Key: "type"},
		}
	case DisplayDetail:
		return []FileColumnHeader{
			{Title: "User#", Width: 4, Align: AlignRight, Key: "userNumber"},
			{Title: "Name", Width: 8, Align: AlignLeft, Key: "name"},
			{Title: "Type", Width: 3, Align: AlignLeft, Key: "type"},
			{Title: "Size (bytes)", Width: 6, Align: AlignRight, Key: "size"},
			{Title: "Locked?", Width: 6, Align: AlignCenter, Key: "locked"},
		}
	}
	return standardHeaders()
}

func (d *CPMDisk) Capabilities() Capabilities {
	return Capabilities{
		CreateFile:    true,
		ReadFileData:  true,
		WriteFileData: true,
		DeleteFile:    true,
	}
}

func cpmClean(s string, max int) string {
	var b strings.Builder
	for _, c := range strings.ToUpper(s) {
		if c <= ' ' || c >= 0x7f || strings.ContainsRune("<>.,;:=?*[]", c) {
			continue
		}
		b.WriteRune(c)
	}
	out := b.String()
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// SuggestedFilename keeps the 8 character name part.
func (d *CPMDisk) SuggestedFilename(name string) string {
	if i := strings.Index(name, "."); i >= 0 {
		name = name[:i]
	}
	if s := cpmClean(name, 8); s != "" {
		return s
	}
	return "BLANK"
}

func (d *CPMDisk) SuggestedFiletype() string {
	return "TXT"
}

func (d *CPMDisk) Filetypes() []string {
	return []string{"ASM", "BAS", "COM", "DOC", "PRN", "TXT"}
}

func (d *CPMDisk) NeedsAddress(filetype string) bool {
	return false
}

// CPMFileEntry is a file through its first extent's directory slot.
type CPMFileEntry struct {
	disk  *CPMDisk
	index int
}

func (e *CPMFileEntry) rec() cpmRecord {
	dir, err := e.disk.directory()
	if err != nil {
		return cpmRecord(make([]byte, CPM_ENTRY_LENGTH))
	}
	return cpmEntry(dir, e.index)
}

// update applies fn to every extent of the file.
func (e *CPMFileEntry) update(fn func(r cpmRecord)) error {
	dir, err := e.disk.directory()
	if err != nil {
		return err
	}
	head := cpmEntry(dir, e.index)
	if !head.live() {
		return invalidArgf("directory entry %d is not in use", e.index)
	}
	for _, i := range e.disk.extents(dir, head.key()) {
		fn(cpmEntry(dir, i))
	}
	return e.disk.writeDirectory(dir)
}

func (e *CPMFileEntry) Disk() FormattedDisk {
	return e.disk
}

func (e *CPMFileEntry) Name() string {
	return e.rec().name()
}

func (e *CPMFileEntry) UserNumber() int {
	return int(e.rec()[0])
}

func (e *CPMFileEntry) SetName(name string) error {
	name = e.disk.SuggestedFilename(name)
	return e.update(func(r cpmRecord) { r.setNameExt(name, r.ext()) })
}

func (e *CPMFileEntry) Filetype() string {
	return e.rec().ext()
}

func (e *CPMFileEntry) SetFiletype(filetype string) error {
	ext := cpmClean(filetype, 3)
	return e.update(func(r cpmRecord) { r.setNameExt(r.name(), ext) })
}

func (e *CPMFileEntry) TypeHint() CatalogEntryType {
	switch e.Filetype() {
	case "TXT", "ASM", "DOC", "PRN", "MAC":
		return CETText
	case "COM":
		return CETBinary
	}
	return CETData
}

func (e *CPMFileEntry) IsLocked() bool {
	return e.rec()[9]&0x80 != 0
}

func (e *CPMFileEntry) SetLocked(locked bool) error {
	return e.update(func(r cpmRecord) {
		if locked {
			r[9] |= 0x80
		} else {
			r[9] &= 0x7f
		}
	})
}

func (e *CPMFileEntry) IsDeleted() bool {
	return !e.rec().live()
}

func (e *CPMFileEntry) IsDirectory() bool {
	return false
}

func (e *CPMFileEntry) Size() int {
	dir, err := e.disk.directory()
	if err != nil {
		return 0
	}
	n := 0
	for _, i := range e.disk.extents(dir, cpmEntry(dir, e.index).key()) {
		n += int(cpmEntry(dir, i)[15]) * CPM_RECORD_SIZE
	}
	return n
}

func (e *CPMFileEntry) Delete() error {
	return e.update(func(r cpmRecord) { r[0] = CPM_DELETED })
}

func (e *CPMFileEntry) FileData() ([]byte, error) {
	return e.disk.FileData(e)
}

func (e *CPMFileEntry) SetFileData(data []byte) error {
	return e.disk.SetFileData(e, data)
}

func (e *CPMFileEntry) Columns(mode DisplayMode) []string {
	r := e.rec()
	switch mode {
	case DisplayNative:
		return []string{r.name(), r.ext()}
	case DisplayDetail:
		locked := ""
		if e.IsLocked() {
			locked = "Yes"
		}
		return []string{fmt.Sprintf("%d", r[0]), r.name(), r.ext(), fmt.Sprintf("%d", e.Size()), locked}
	}
	return standardColumns(e)
}
