package disk

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const PASCAL_BLOCK_SIZE = 512
const PASCAL_VOLUME_BLOCK = 2
const PASCAL_DIRECTORY_END = 6
const PASCAL_MAX_VOLUME_NAME = 7
const PASCAL_MAX_FILE_NAME = 15
const PASCAL_DIRECTORY_ENTRY_LENGTH = 26
const PASCAL_MAX_FILES = 77
const PASCAL_OVERSIZE_DIR = 32

type PascalFileType int

const (
	FileType_PAS_NONE PascalFileType = 0
	FileType_PAS_BADD PascalFileType = 1
	FileType_PAS_CODE PascalFileType = 2
	FileType_PAS_TEXT PascalFileType = 3
	FileType_PAS_INFO PascalFileType = 4
	FileType_PAS_DATA PascalFileType = 5
	FileType_PAS_GRAF PascalFileType = 6
	FileType_PAS_FOTO PascalFileType = 7
	FileType_PAS_SECD PascalFileType = 8
)

var PascalTypeMap = map[PascalFileType][2]string{
	0x00: {"UNK", "Untyped"},
	0x01: {"BAD", "Bad Block"},
	0x02: {"PCD", "Pascal Code"},
	0x03: {"PTX", "Pascal Text"},
	0x04: {"PIF", "Pascal Info"},
	0x05: {"PDA", "Pascal Data"},
	0x06: {"GRF", "Pascal Graphics"},
	0x07: {"FOT", "HiRes Graphics"},
	0x08: {"SEC", "Secure Directory"},
}

func (ft PascalFileType) String() string {
	if info, ok := PascalTypeMap[ft]; ok {
		return info[1]
	}
	return "Unknown"
}

func (ft PascalFileType) Ext() string {
	if info, ok := PascalTypeMap[ft]; ok {
		return info[0]
	}
	return "UNK"
}

func PascalFileTypeFromExt(ext string) (PascalFileType, error) {
	for ft, info := range PascalTypeMap {
		if strings.EqualFold(ext, info[0]) {
			return ft, nil
		}
	}
	return FileType_PAS_NONE, invalidArgf("unknown Pascal file type %q", ext)
}

func pascalDate(b []byte) time.Time {
	v := int(b[0]) | int(b[1])<<8
	month, day, year := v&0x0f, (v>>4)&0x1f, v>>9
	if month == 0 || day == 0 {
		return time.Time{}
	}
	if year < 70 {
		year += 100
	}
	return time.Date(1900+year, time.Month(month), day, 0, 0, 0, 0, time.Local)
}

func putPascalDate(b []byte, t time.Time) {
	v := int(t.Month()) | t.Day()<<4 | ((t.Year()-1900)%100)<<9
	b[0], b[1] = byte(v&0xff), byte(v>>8)
}

// pascalRecord is a 26 byte directory record. Record 0 is the volume
// header; the rest are files, kept in start block order.
type pascalRecord []byte

func (r pascalRecord) word(off int) int {
	return int(r[off]) | int(r[off+1])<<8
}

func (r pascalRecord) setWord(off, v int) {
	r[off], r[off+1] = byte(v&0xff), byte(v>>8)
}

func (r pascalRecord) start() int {
	return r.word(0x00)
}

func (r pascalRecord) next() int {
	return r.word(0x02)
}

func (r pascalRecord) name(max int) string {
	l := int(r[0x06])
	if l > max {
		l = max
	}
	return string(r[0x07 : 0x07+l])
}

func (r pascalRecord) setName(name string, max int) {
	if len(name) > max {
		name = name[:max]
	}
	for i := 0; i < max; i++ {
		r[0x07+i] = 0
	}
	r[0x06] = byte(len(name))
	copy(r[0x07:], name)
}

func (r pascalRecord) fileType() PascalFileType {
	return PascalFileType(r.word(0x04) & 0x0f)
}

func (r pascalRecord) bytesInLastBlock() int {
	return r.word(0x16)
}

func (r pascalRecord) size() int {
	blocks := r.next() - r.start()
	if blocks <= 0 {
		return 0
	}
	return (blocks-1)*PASCAL_BLOCK_SIZE + r.bytesInLastBlock()
}

// PascalDisk is an Apple Pascal volume. Files are contiguous runs of
// blocks, so writes may move a file to the first gap large enough.
type PascalDisk struct {
	order ImageOrder
}

func NewPascalDisk(order ImageOrder) *PascalDisk {
	return &PascalDisk{order: order}
}

func (d *PascalDisk) Kind() Kind {
	return KindPascal
}

func (d *PascalDisk) ImageOrder() ImageOrder {
	return d.order
}

// directory reads the whole directory as one buffer.
func (d *PascalDisk) directory() ([]byte, error) {
	first, err := d.order.ReadBlock(PASCAL_VOLUME_BLOCK)
	if err != nil {
		return nil, err
	}
	end := pascalRecord(first).next()
	if end <= PASCAL_VOLUME_BLOCK || end-PASCAL_VOLUME_BLOCK > PASCAL_OVERSIZE_DIR {
		return nil, malformedf("directory ends at block %d", end)
	}
	dir := make([]byte, 0, (end-PASCAL_VOLUME_BLOCK)*PASCAL_BLOCK_SIZE)
	for b := PASCAL_VOLUME_BLOCK; b < end; b++ {
		data, err := d.order.ReadBlock(b)
		if err != nil {
			return nil, err
		}
		dir = append(dir, data...)
	}
	return dir, nil
}

func (d *PascalDisk) writeDirectory(dir []byte) error {
	for i := 0; i*PASCAL_BLOCK_SIZE < len(dir); i++ {
		if err := d.order.WriteBlock(PASCAL_VOLUME_BLOCK+i, dir[i*PASCAL_BLOCK_SIZE:(i+1)*PASCAL_BLOCK_SIZE]); err != nil {
			return err
		}
	}
	return nil
}

func (d *PascalDisk) header(dir []byte) pascalRecord {
	return pascalRecord(dir[:PASCAL_DIRECTORY_ENTRY_LENGTH])
}

func (d *PascalDisk) records(dir []byte) []pascalRecord {
	n := d.header(dir).word(0x10)
	max := len(dir)/PASCAL_DIRECTORY_ENTRY_LENGTH - 1
	if n > max {
		n = max
	}
	out := make([]pascalRecord, n)
	for i := range out {
		off := (i + 1) * PASCAL_DIRECTORY_ENTRY_LENGTH
		out[i] = pascalRecord(dir[off : off+PASCAL_DIRECTORY_ENTRY_LENGTH])
	}
	return out
}

func (d *PascalDisk) find(dir []byte, start int) (pascalRecord, int) {
	for i, r := range d.records(dir) {
		if r.start() == start {
			return r, i
		}
	}
	return nil, -1
}

// TotalBlocks trusts the volume header when it fits the image.
func (d *PascalDisk) TotalBlocks() int {
	if dir, err := d.directory(); err == nil {
		if n := d.header(dir).word(0x0e); n > PASCAL_DIRECTORY_END && n <= d.order.Blocks() {
			return n
		}
	}
	return d.order.Blocks()
}

func (d *PascalDisk) DiskName() string {
	dir, err := d.directory()
	if err != nil {
		return ""
	}
	return d.header(dir).name(PASCAL_MAX_VOLUME_NAME) + ":"
}

func (d *PascalDisk) Files() ([]FileEntry, error) {
	dir, err := d.directory()
	if err != nil {
		return nil, err
	}
	var files []FileEntry
	for _, r := range d.records(dir) {
		files = append(files, &PascalFileEntry{disk: d, start: r.start()})
	}
	return files, nil
}

// usedMap marks the boot blocks, the directory and every file extent,
// optionally leaving out one file.
func (d *PascalDisk) usedMap(dir []byte, skip int) []bool {
	total := d.TotalBlocks()
	used := make([]bool, total)
	end := d.header(dir).next()
	for b := 0; b < end && b < total; b++ {
		used[b] = true
	}
	for _, r := range d.records(dir) {
		if r.start() == skip {
			continue
		}
		for b := r.start(); b < r.next() && b < total; b++ {
			used[b] = true
		}
	}
	return used
}

// firstFit returns the lowest start of a run of n free blocks.
func firstFit(used []bool, n int) (int, bool) {
	run := 0
	for b, u := range used {
		if u {
			run = 0
			continue
		}
		run++
		if run == n {
			return b - n + 1, true
		}
	}
	return 0, false
}

func (d *PascalDisk) sortRecords(dir []byte) {
	recs := d.records(dir)
	copies := make([][]byte, len(recs))
	for i, r := range recs {
		copies[i] = append([]byte(nil), r...)
	}
	sort.SliceStable(copies, func(i, j int) bool {
		return pascalRecord(copies[i]).start() < pascalRecord(copies[j]).start()
	})
	for i, c := range copies {
		copy(recs[i], c)
	}
}

// CreateFile adds an empty one block file in the first free block.
func (d *PascalDisk) CreateFile() (FileEntry, error) {
	dir, err := d.directory()
	if err != nil {
		return nil, err
	}
	hdr := d.header(dir)
	count := hdr.word(0x10)
	if count >= PASCAL_MAX_FILES || (count+2)*PASCAL_DIRECTORY_ENTRY_LENGTH > len(dir) {
		return nil, diskFull("", "directory is full")
	}
	start, ok := firstFit(d.usedMap(dir, -1), 1)
	if !ok {
		return nil, diskFull("", "no free block")
	}
	off := (count + 1) * PASCAL_DIRECTORY_ENTRY_LENGTH
	r := pascalRecord(dir[off : off+PASCAL_DIRECTORY_ENTRY_LENGTH])
	for i := range r {
		r[i] = 0
	}
	r.setWord(0x00, start)
	r.setWord(0x02, start+1)
	r.setWord(0x04, int(FileType_PAS_DATA))
	r.setName(d.uniqueName(dir, "UNTITLED"), PASCAL_MAX_FILE_NAME)
	putPascalDate(r[0x18:], clock())
	hdr.setWord(0x10, count+1)
	d.sortRecords(dir)
	if err := d.order.WriteBlock(start, make([]byte, PASCAL_BLOCK_SIZE)); err != nil {
		return nil, err
	}
	if err := d.writeDirectory(dir); err != nil {
		return nil, err
	}
	return &PascalFileEntry{disk: d, start: start}, nil
}

func (d *PascalDisk) uniqueName(dir []byte, base string) string {
	taken := make(map[string]bool)
	for _, r := range d.records(dir) {
		taken[strings.ToUpper(r.name(PASCAL_MAX_FILE_NAME))] = true
	}
	name := base
	for i := 1; taken[name]; i++ {
		name = fmt.Sprintf("%s%d", base, i)
	}
	return name
}

func (d *PascalDisk) CreateDirectory(name string) (FileEntry, error) {
	return nil, unsupportedf("pascal has no directories")
}

func (d *PascalDisk) entry(fe FileEntry) (*PascalFileEntry, error) {
	e, ok := fe.(*PascalFileEntry)
	if !ok || e.disk != d {
		return nil, invalidArgf("entry does not belong to this Pascal disk")
	}
	return e, nil
}

func (d *PascalDisk) FileData(fe FileEntry) ([]byte, error) {
	e, err := d.entry(fe)
	if err != nil {
		return nil, err
	}
	r, err := e.record()
	if err != nil {
		return nil, err
	}
	if r.next() > d.TotalBlocks() || r.next() < r.start() {
		return nil, malformedf("%s spans blocks %d to %d", r.name(PASCAL_MAX_FILE_NAME), r.start(), r.next())
	}
	data := make([]byte, 0, (r.next()-r.start())*PASCAL_BLOCK_SIZE)
	for b := r.start(); b < r.next(); b++ {
		chunk, err := d.order.ReadBlock(b)
		if err != nil {
			return nil, err
		}
		data = append(data, chunk...)
	}
	size := r.size()
	if size > len(data) {
		size = len(data)
	}
	return data[:size], nil
}

// SetFileData keeps the file in place when it still fits, otherwise moves
// it to the first gap that holds it.
func (d *PascalDisk) SetFileData(fe FileEntry, data []byte) error {
	e, err := d.entry(fe)
	if err != nil {
		return err
	}
	dir, err := d.directory()
	if err != nil {
		return err
	}
	r, _ := d.find(dir, e.start)
	if r == nil {
		return invalidArgf("no file starts at block %d", e.start)
	}
	n := (len(data) + PASCAL_BLOCK_SIZE - 1) / PASCAL_BLOCK_SIZE
	if n == 0 {
		n = 1
	}
	used := d.usedMap(dir, e.start)
	start := r.start()
	fits := start+n <= len(used)
	for b := start; fits && b < start+n; b++ {
		fits = !used[b]
	}
	if !fits {
		var ok bool
		if start, ok = firstFit(used, n); !ok {
			return diskFull(r.name(PASCAL_MAX_FILE_NAME), fmt.Sprintf("no run of %d free blocks", n))
		}
	}
	for i := 0; i < n; i++ {
		chunk := make([]byte, PASCAL_BLOCK_SIZE)
		if i*PASCAL_BLOCK_SIZE < len(data) {
			copy(chunk, data[i*PASCAL_BLOCK_SIZE:])
		}
		if err := d.order.WriteBlock(start+i, chunk); err != nil {
			return err
		}
	}
	last := len(data) - (n-1)*PASCAL_BLOCK_SIZE
	if last < 0 {
		last = 0
	}
	r.setWord(0x00, start)
	r.setWord(0x02, start+n)
	r.setWord(0x16, last)
	putPascalDate(r[0x18:], clock())
	d.sortRecords(dir)
	if err := d.writeDirectory(dir); err != nil {
		return err
	}
	e.start = start
	return nil
}

func (d *PascalDisk) FreeBlocks() int {
	dir, err := d.directory()
	if err != nil {
		return 0
	}
	n := 0
	for _, u := range d.usedMap(dir, -1) {
		if !u {
			n++
		}
	}
	return n
}

func (d *PascalDisk) FreeSpace() int {
	return d.FreeBlocks() * PASCAL_BLOCK_SIZE
}

func (d *PascalDisk) UsedSpace() int {
	return (d.TotalBlocks() - d.FreeBlocks()) * PASCAL_BLOCK_SIZE
}

func (d *PascalDisk) Format() error {
	return d.FormatVolume("BLANK")
}

func (d *PascalDisk) FormatVolume(name string) error {
	blocks := d.order.Blocks()
	if blocks <= PASCAL_DIRECTORY_END || blocks > 0xffff {
		return invalidArgf("cannot format %d blocks as Pascal", blocks)
	}
	d.order.Format()
	if err := d.order.WriteBlock(0, bootSector(bootProDOS, PASCAL_BLOCK_SIZE)); err != nil {
		return err
	}
	dir := make([]byte, (PASCAL_DIRECTORY_END-PASCAL_VOLUME_BLOCK)*PASCAL_BLOCK_SIZE)
	hdr := d.header(dir)
	hdr.setWord(0x02, PASCAL_DIRECTORY_END)
	hdr.setName(d.volumeName(name), PASCAL_MAX_VOLUME_NAME)
	hdr.setWord(0x0e, blocks)
	putPascalDate(hdr[0x14:], clock())
	return d.writeDirectory(dir)
}

func (d *PascalDisk) volumeName(name string) string {
	name = d.SuggestedFilename(name)
	if len(name) > PASCAL_MAX_VOLUME_NAME {
		name = name[:PASCAL_MAX_VOLUME_NAME]
	}
	return name
}

func (d *PascalDisk) ChangeImageOrder(order ImageOrder) error {
	if err := copyByBlock(d.order, order); err != nil {
		return err
	}
	d.order = order
	return nil
}

func (d *PascalDisk) DiskUsage() DiskUsage {
	var used []bool
	if dir, err := d.directory(); err == nil {
		used = d.usedMap(dir, -1)
	}
	return &blockUsage{blocks: d.TotalBlocks(), free: func(b int) bool {
		return b < len(used) && !used[b]
	}}
}

func (d *PascalDisk) FileColumnHeaders(mode DisplayMode) []FileColumnHeader {
	switch mode {
	case DisplayNative:
		return []FileColumnHeader{
			{Title: "Modified", Width: 9, Align: AlignCenter, Key: "dateModified"},
			{Title: "Blocks", Width: 3, Align: AlignRight, Key: "blocks"},
			{Title: "Filetype", Width: 8, Align: AlignCenter, Key: "filetype"},
			{Title: "Name", Width: 15, Align: AlignLeft, Key: "name"},
		}
	case DisplayDetail:
		return []FileColumnHeader{
			{Title: "Modified", Width: 9, Align: AlignCenter, Key: "dateModified"},
			{Title: "Blocks", Width: 3, Align: AlignRight, Key: "blocks"},
			{Title: "Bytes in last block", Width: 3, Align: AlignRight, Key: "bytesInLastBlock"},
			{Title: "Size (bytes)", Width: 6, Align: AlignRight, Key: "size"},
			{Title: "Filetype", Width: 8, Align: AlignCenter, Key: "filetype"},
			{Title: "Name", Width: 15, Align: AlignLeft, Key: "name"},
			{Title: "First Block", Width: 3, Align: AlignRight, Key: "firstBlock"},
			{Title: "Last Block", Width: 3, Align: AlignRight, Key: "lastBlock"},
		}
	}
	return standardHeaders()
}

func (d *PascalDisk) Capabilities() Capabilities {
	return Capabilities{
		CreateFile:    true,
		ReadFileData:  true,
		WriteFileData: true,
		DeleteFile:    true,
	}
}

func (d *PascalDisk) SuggestedFilename(name string) string {
	var b strings.Builder
	for _, c := range strings.ToUpper(name) {
		if c <= ' ' || c >= 0x7f || strings.ContainsRune("$=?,[#:", c) {
			continue
		}
		b.WriteRune(c)
	}
	s := b.String()
	if len(s) > PASCAL_MAX_FILE_NAME {
		s = s[:PASCAL_MAX_FILE_NAME]
	}
	if s == "" {
		s = "BLANK"
	}
	return s
}

func (d *PascalDisk) SuggestedFiletype() string {
	return "PDA"
}

func (d *PascalDisk) Filetypes() []string {
	var out []string
	for _, info := range PascalTypeMap {
		out = append(out, info[0])
	}
	sort.Strings(out)
	return out
}

func (d *PascalDisk) NeedsAddress(filetype string) bool {
	return false
}

// PascalFileEntry finds its record by start block, which only changes
// when the file itself is moved.
type PascalFileEntry struct {
	disk  *PascalDisk
	start int
}

func (e *PascalFileEntry) record() (pascalRecord, error) {
	dir, err := e.disk.directory()
	if err != nil {
		return nil, err
	}
	r, _ := e.disk.find(dir, e.start)
	if r == nil {
		return nil, invalidArgf("no file starts at block %d", e.start)
	}
	return r, nil
}

func (e *PascalFileEntry) rec() pascalRecord {
	r, err := e.record()
	if err != nil {
		return pascalRecord(make([]byte, PASCAL_DIRECTORY_ENTRY_LENGTH))
	}
	return r
}

func (e *PascalFileEntry) update(fn func(dir []byte, r pascalRecord) error) error {
	dir, err := e.disk.directory()
	if err != nil {
		return err
	}
	r, _ := e.disk.find(dir, e.start)
	if r == nil {
		return invalidArgf("no file starts at block %d", e.start)
	}
	if err := fn(dir, r); err != nil {
		return err
	}
	return e.disk.writeDirectory(dir)
}

func (e *PascalFileEntry) Disk() FormattedDisk {
	return e.disk
}

func (e *PascalFileEntry) Name() string {
	return e.rec().name(PASCAL_MAX_FILE_NAME)
}

func (e *PascalFileEntry) SetName(name string) error {
	name = e.disk.SuggestedFilename(name)
	return e.update(func(dir []byte, r pascalRecord) error {
		for _, o := range e.disk.records(dir) {
			if o.start() != e.start && strings.EqualFold(o.name(PASCAL_MAX_FILE_NAME), name) {
				return invalidArgf("%s already exists", name)
			}
		}
		r.setName(name, PASCAL_MAX_FILE_NAME)
		return nil
	})
}

func (e *PascalFileEntry) Filetype() string {
	return e.rec().fileType().Ext()
}

func (e *PascalFileEntry) SetFiletype(filetype string) error {
	ft, err := PascalFileTypeFromExt(filetype)
	if err != nil {
		return err
	}
	return e.update(func(dir []byte, r pascalRecord) error {
		r.setWord(0x04, (r.word(0x04)&^0x0f)|int(ft))
		return nil
	})
}

func (e *PascalFileEntry) TypeHint() CatalogEntryType {
	switch e.rec().fileType() {
	case FileType_PAS_TEXT:
		return CETText
	case FileType_PAS_CODE:
		return CETPascal
	case FileType_PAS_FOTO, FileType_PAS_GRAF:
		return CETGraphics
	}
	return CETData
}

func (e *PascalFileEntry) IsLocked() bool {
	return false
}

func (e *PascalFileEntry) SetLocked(locked bool) error {
	return unsupportedf("pascal files cannot be locked")
}

func (e *PascalFileEntry) IsDeleted() bool {
	_, err := e.record()
	return err != nil
}

func (e *PascalFileEntry) IsDirectory() bool {
	return false
}

func (e *PascalFileEntry) Blocks() int {
	r := e.rec()
	return r.next() - r.start()
}

func (e *PascalFileEntry) Size() int {
	return e.rec().size()
}

func (e *PascalFileEntry) Modified() time.Time {
	return pascalDate(e.rec()[0x18:])
}

// Delete drops the record and closes up the directory.
func (e *PascalFileEntry) Delete() error {
	return e.update(func(dir []byte, r pascalRecord) error {
		hdr := e.disk.header(dir)
		count := hdr.word(0x10)
		_, i := e.disk.find(dir, e.start)
		off := (i + 1) * PASCAL_DIRECTORY_ENTRY_LENGTH
		end := (count + 1) * PASCAL_DIRECTORY_ENTRY_LENGTH
		copy(dir[off:end], dir[off+PASCAL_DIRECTORY_ENTRY_LENGTH:end])
		for j := end - PASCAL_DIRECTORY_ENTRY_LENGTH; j < end; j++ {
			dir[j] = 0
		}
		hdr.setWord(0x10, count-1)
		return nil
	})
}

func (e *PascalFileEntry) FileData() ([]byte, error) {
	return e.disk.FileData(e)
}

func (e *PascalFileEntry) SetFileData(data []byte) error {
	return e.disk.SetFileData(e, data)
}

func (e *PascalFileEntry) Columns(mode DisplayMode) []string {
	r := e.rec()
	modified := ""
	if t := pascalDate(r[0x18:]); !t.IsZero() {
		modified = t.Format("02-Jan-06")
	}
	blocks := fmt.Sprintf("%d", r.next()-r.start())
	switch mode {
	case DisplayNative:
		return []string{modified, blocks, r.fileType().Ext(), r.name(PASCAL_MAX_FILE_NAME)}
	case DisplayDetail:
		return []string{modified, blocks, fmt.Sprintf("%d", r.bytesInLastBlock()), fmt.Sprintf("%d", r.size()),
			r.fileType().Ext(), r.name(PASCAL_MAX_FILE_NAME), fmt.Sprintf("%d", r.start()), fmt.Sprintf("%d", r.next()-1)}
	}
	return standardColumns(e)
}
