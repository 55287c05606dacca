package disk

import (
	"bytes"
	"fmt"
	"strings"
)

const RDOS_CATALOG_TRACK = 0x01
const RDOS_CATALOG_LENGTH = 0xB
const RDOS_ENTRY_LENGTH = 0x20
const RDOS_NAME_LENGTH = 0x18

var RDOS_SIGNATURE_32 = []byte("RDOS 2")
var RDOS_SIGNATURE_33 = []byte("RDOS 3")

func highBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[i] = v | 0x80
	}
	return out
}

type RDOSFormat int

const (
	RDOS_Unknown RDOSFormat = iota
	RDOS_3
	RDOS_32
	RDOS_33
)

func (f RDOSFormat) String() string {
	switch f {
	case RDOS_3:
		return "RDOS3"
	case RDOS_32:
		return "RDOS32"
	case RDOS_33:
		return "RDOS33"
	}
	return "Unknown"
}

// SectorsUsed is how many sectors of each track the variant uses.
func (f RDOSFormat) SectorsUsed() int {
	if f == RDOS_33 {
		return STD_SECTORS_PER_TRACK
	}
	return STD_SECTORS_PER_TRACK_OLD
}

func (f RDOSFormat) banner() string {
	if f == RDOS_33 {
		return "RDOS 3.3 COPYRIGHT 1986 "
	}
	return "RDOS 2.1 COPYRIGHT 1981 "
}

// DetectRDOS looks for the RDOS banner at the start of track 1.
func DetectRDOS(data []byte) RDOSFormat {
	if len(data) != STD_DISK_BYTES && len(data) != STD_DISK_BYTES_OLD {
		return RDOS_Unknown
	}
	stride := (len(data) / STD_TRACKS_PER_DISK) / STD_BYTES_PER_SECTOR
	id := data[stride*STD_BYTES_PER_SECTOR : stride*STD_BYTES_PER_SECTOR+6]
	switch {
	case bytes.Equal(id, highBytes(RDOS_SIGNATURE_32)) && stride == STD_SECTORS_PER_TRACK_OLD:
		return RDOS_32
	case bytes.Equal(id, highBytes(RDOS_SIGNATURE_32)) && stride == STD_SECTORS_PER_TRACK:
		return RDOS_3
	case bytes.Equal(id, highBytes(RDOS_SIGNATURE_33)) && stride == STD_SECTORS_PER_TRACK:
		return RDOS_33
	}
	return RDOS_Unknown
}

type RDOSFileType int

const (
	FileType_RDOS_Unknown RDOSFileType = iota
	FileType_RDOS_AppleSoft
	FileType_RDOS_Binary
	FileType_RDOS_Text
)

var RDOSTypeMap = map[RDOSFileType][2]string{
	FileType_RDOS_Unknown:   {"UNK", "Unknown"},
	FileType_RDOS_AppleSoft: {"A", "Applesoft Basic Program"},
	FileType_RDOS_Binary:    {"B", "Binary File"},
	FileType_RDOS_Text:      {"T", "ASCII Text"},
}

func (ft RDOSFileType) String() string {
	if info, ok := RDOSTypeMap[ft]; ok {
		return info[1]
	}
	return "Unknown"
}

func (ft RDOSFileType) Ext() string {
	if info, ok := RDOSTypeMap[ft]; ok {
		return info[0]
	}
	return "UNK"
}

// rdosRecord is a 32 byte catalog entry.
type rdosRecord []byte

func (r rdosRecord) unused() bool {
	return r[24] == 0x00
}

func (r rdosRecord) deleted() bool {
	return r[24] == 0xa0 || r[0] == 0x80
}

func (r rdosRecord) fileType() RDOSFileType {
	switch r[24] {
	case 'A' | 0x80:
		return FileType_RDOS_AppleSoft
	case 'B' | 0x80:
		return FileType_RDOS_Binary
	case 'T' | 0x80:
		return FileType_RDOS_Text
	}
	return FileType_RDOS_Unknown
}

func (r rdosRecord) name() string {
	var b strings.Builder
	for i := 0; i < RDOS_NAME_LENGTH; i++ {
		ch := r[i] & 0x7f
		if ch == 0 {
			break
		}
		b.WriteByte(ch)
	}
	return strings.TrimRight(b.String(), " ")
}

func (r rdosRecord) sectors() int {
	return int(r[25])
}

func (r rdosRecord) loadAddress() int {
	return int(r[26]) | int(r[27])<<8
}

func (r rdosRecord) length() int {
	return int(r[28]) | int(r[29])<<8
}

func (r rdosRecord) startSector() int {
	return int(r[30]) | int(r[31])<<8
}

// RDOSDisk is an SSI RDOS game disk. The catalog is read only; Format
// lays down an empty catalog holding just the system entry.
type RDOSDisk struct {
	order   ImageOrder
	io      SectorReader
	variant RDOSFormat
}

func NewRDOSDisk(order ImageOrder, variant RDOSFormat) (*RDOSDisk, error) {
	d := &RDOSDisk{order: order, variant: variant}
	if err := d.bind(order); err != nil {
		return nil, err
	}
	return d, nil
}

// bind picks the sector view: RDOS 3.3 numbers sectors in ProDOS order.
func (d *RDOSDisk) bind(order ImageOrder) error {
	if d.variant == RDOS_33 && order.Order() == SectorOrderDOS33 {
		po, err := NewProDOSOrder(order.Bytes())
		if err != nil {
			return err
		}
		d.io = po
	} else {
		d.io = order
	}
	d.order = order
	return nil
}

func (d *RDOSDisk) Kind() Kind {
	return KindRDOS
}

func (d *RDOSDisk) Variant() RDOSFormat {
	return d.variant
}

func (d *RDOSDisk) ImageOrder() ImageOrder {
	return d.order
}

func (d *RDOSDisk) DiskName() string {
	return d.variant.String()
}

func (d *RDOSDisk) totalSectors() int {
	return STD_TRACKS_PER_DISK * d.variant.SectorsUsed()
}

func (d *RDOSDisk) catalog() ([]byte, error) {
	var cat []byte
	for s := 0; s < RDOS_CATALOG_LENGTH; s++ {
		data, err := d.io.ReadSector(RDOS_CATALOG_TRACK, s)
		if err != nil {
			return nil, err
		}
		cat = append(cat, data...)
	}
	return cat, nil
}

func (d *RDOSDisk) records() ([]rdosRecord, error) {
	cat, err := d.catalog()
	if err != nil {
		return nil, err
	}
	var out []rdosRecord
	for off := 0; off+RDOS_ENTRY_LENGTH <= len(cat); off += RDOS_ENTRY_LENGTH {
		r := rdosRecord(cat[off : off+RDOS_ENTRY_LENGTH])
		if r.unused() {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

func (d *RDOSDisk) Files() ([]FileEntry, error) {
	recs, err := d.records()
	if err != nil {
		return nil, err
	}
	var files []FileEntry
	for i, r := range recs {
		if !r.deleted() {
			files = append(files, &RDOSFileEntry{disk: d, index: i})
		}
	}
	return files, nil
}

func (d *RDOSDisk) CreateFile() (FileEntry, error) {
	return nil, unsupportedf("rdos disks are read only")
}

func (d *RDOSDisk) CreateDirectory(name string) (FileEntry, error) {
	return nil, unsupportedf("rdos has no directories")
}

func (d *RDOSDisk) entry(fe FileEntry) (*RDOSFileEntry, error) {
	e, ok := fe.(*RDOSFileEntry)
	if !ok || e.disk != d {
		return nil, invalidArgf("entry does not belong to this RDOS disk")
	}
	return e, nil
}

func (d *RDOSDisk) readAbsolute(n int) ([]byte, error) {
	spt := d.variant.SectorsUsed()
	return d.io.ReadSector(n/spt, n%spt)
}

func (d *RDOSDisk) FileData(fe FileEntry) ([]byte, error) {
	e, err := d.entry(fe)
	if err != nil {
		return nil, err
	}
	r, err := e.record()
	if err != nil {
		return nil, err
	}
	start, n := r.startSector(), r.sectors()
	if start+n > d.totalSectors() {
		return nil, malformedf("%s runs past the end of the disk", r.name())
	}
	data := make([]byte, 0, n*STD_BYTES_PER_SECTOR)
	for s := start; s < start+n; s++ {
		chunk, err := d.readAbsolute(s)
		if err != nil {
			return nil, err
		}
		data = append(data, chunk...)
	}
	if l := r.length(); l > 0 && l < len(data) {
		data = data[:l]
	}
	return data, nil
}

func (d *RDOSDisk) SetFileData(fe FileEntry, data []byte) error {
	return unsupportedf("rdos disks are read only")
}

func (d *RDOSDisk) usedMap() []bool {
	used := make([]bool, d.totalSectors())
	recs, err := d.records()
	if err != nil {
		return used
	}
	for _, r := range recs {
		if r.deleted() {
			continue
		}
		for s := r.startSector(); s < r.startSector()+r.sectors() && s < len(used); s++ {
			used[s] = true
		}
	}
	return used
}

func (d *RDOSDisk) UsedSectors() int {
	n := 0
	for _, u := range d.usedMap() {
		if u {
			n++
		}
	}
	return n
}

func (d *RDOSDisk) FreeSpace() int {
	return (d.totalSectors() - d.UsedSectors()) * STD_BYTES_PER_SECTOR
}

func (d *RDOSDisk) UsedSpace() int {
	return d.UsedSectors() * STD_BYTES_PER_SECTOR
}

// Format writes a catalog with one entry covering tracks 0 and 1.
func (d *RDOSDisk) Format() error {
	spt := d.variant.SectorsUsed()
	if d.order.SectorsPerTrack() < spt {
		return invalidArgf("%s needs %d sector tracks", d.variant, spt)
	}
	d.order.Format()
	if err := d.io.WriteSector(0, 0, bootSector(bootDOS33, STD_BYTES_PER_SECTOR)); err != nil {
		return err
	}
	sector := make([]byte, STD_BYTES_PER_SECTOR)
	r := rdosRecord(sector[:RDOS_ENTRY_LENGTH])
	copy(r, highBytes([]byte(d.variant.banner())))
	r[24] = 'B' | 0x80
	r[25] = byte(2 * spt)
	r[28], r[29] = 0, byte(2*spt)
	return d.io.WriteSector(RDOS_CATALOG_TRACK, 0, sector)
}

// ChangeImageOrder copies logical sectors, since the variant decides how
// those map onto the image.
func (d *RDOSDisk) ChangeImageOrder(order ImageOrder) error {
	if err := checkSameSize(d.order, order); err != nil {
		return err
	}
	from := d.io
	if err := d.bind(order); err != nil {
		return err
	}
	for t := 0; t < order.Tracks(); t++ {
		for s := 0; s < order.SectorsPerTrack(); s++ {
			data, err := from.ReadSector(t, s)
			if err != nil {
				return err
			}
			if err := d.io.WriteSector(t, s, data); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *RDOSDisk) DiskUsage() DiskUsage {
	used := d.usedMap()
	spt := d.variant.SectorsUsed()
	return &sectorUsage{tracks: STD_TRACKS_PER_DISK, spt: spt, free: func(t, s int) bool {
		return !used[t*spt+s]
	}}
}

func (d *RDOSDisk) FileColumnHeaders(mode DisplayMode) []FileColumnHeader {
	switch mode {
	case DisplayNative:
		return []FileColumnHeader{
			{Title: "Type", Width: 1, Align: AlignCenter, Key: "type"},
			{Title: "Size (sectors)", Width: 3, Align: AlignRight, Key: "sectors"},
			{Title: "Name", Width: 24, Align: AlignLeft, Key: "name"},
			{Title: "Size (bytes)", Width: 5, Align: AlignRight, Key: "size"},
			{Title: "Starting Sector", Width: 4, Align: AlignRight, Key: "firstSector"},
		}
	case DisplayDetail:
		return []FileColumnHeader{
			{Title: "Type", Width: 1, Align: AlignCenter, Key: "type"},
			{Title: "Size (sectors)", Width: 3, Align: AlignRight, Key: "sectors"},
			{Title: "Name", Width: 24, Align: AlignLeft, Key: "name"},
			{Title: "Size (bytes)", Width: 5, Align: AlignRight, Key: "size"},
			{Title: "Starting Sector", Width: 4, Align: AlignRight, Key: "firstSector"},
			{Title: "Address", Width: 5, Align: AlignRight, Key: "address"},
		}
	}
	return standardHeaders()
}

func (d *RDOSDisk) Capabilities() Capabilities {
	return Capabilities{ReadFileData: true}
}

func (d *RDOSDisk) SuggestedFilename(name string) string {
	name = strings.ToUpper(name)
	if len(name) > RDOS_NAME_LENGTH {
		name = name[:RDOS_NAME_LENGTH]
	}
	return strings.TrimSpace(name)
}

func (d *RDOSDisk) SuggestedFiletype() string {
	return "B"
}

func (d *RDOSDisk) Filetypes() []string {
	return []string{"A", "B", "T"}
}

func (d *RDOSDisk) NeedsAddress(filetype string) bool {
	return filetype == "B"
}

// RDOSFileEntry is the index of a catalog record.
type RDOSFileEntry struct {
	disk  *RDOSDisk
	index int
}

func (e *RDOSFileEntry) record() (rdosRecord, error) {
	recs, err := e.disk.records()
	if err != nil {
		return nil, err
	}
	if e.index >= len(recs) {
		return nil, invalidArgf("catalog entry %d not present", e.index)
	}
	return recs[e.index], nil
}

func (e *RDOSFileEntry) rec() rdosRecord {
	r, err := e.record()
	if err != nil {
		return rdosRecord(make([]byte, RDOS_ENTRY_LENGTH))
	}
	return r
}

func (e *RDOSFileEntry) Disk() FormattedDisk {
	return e.disk
}

func (e *RDOSFileEntry) Name() string {
	return e.rec().name()
}

func (e *RDOSFileEntry) SetName(name string) error {
	return unsupportedf("rdos disks are read only")
}

func (e *RDOSFileEntry) Filetype() string {
	return e.rec().fileType().Ext()
}

func (e *RDOSFileEntry) SetFiletype(filetype string) error {
	return unsupportedf("rdos disks are read only")
}

func (e *RDOSFileEntry) TypeHint() CatalogEntryType {
	switch e.rec().fileType() {
	case FileType_RDOS_AppleSoft:
		return CETBasicApplesoft
	case FileType_RDOS_Binary:
		return CETBinary
	case FileType_RDOS_Text:
		return CETText
	}
	return CETUnknown
}

// IsLocked is always true: nothing on an RDOS disk can be changed.
func (e *RDOSFileEntry) IsLocked() bool {
	return true
}

func (e *RDOSFileEntry) SetLocked(locked bool) error {
	return unsupportedf("rdos disks are read only")
}

func (e *RDOSFileEntry) IsDeleted() bool {
	return e.rec().deleted()
}

func (e *RDOSFileEntry) IsDirectory() bool {
	return false
}

func (e *RDOSFileEntry) Size() int {
	r := e.rec()
	if l := r.length(); l > 0 {
		return l
	}
	return r.sectors() * STD_BYTES_PER_SECTOR
}

func (e *RDOSFileEntry) Address() int {
	return e.rec().loadAddress()
}

func (e *RDOSFileEntry) SetAddress(addr int) error {
	return unsupportedf("rdos disks are read only")
}

func (e *RDOSFileEntry) Delete() error {
	return unsupportedf("rdos disks are read only")
}

func (e *RDOSFileEntry) FileData() ([]byte, error) {
	return e.disk.FileData(e)
}

func (e *RDOSFileEntry) SetFileData(data []byte) error {
	return e.disk.SetFileData(e, data)
}

func (e *RDOSFileEntry) Columns(mode DisplayMode) []string {
	r := e.rec()
	cols := []string{r.fileType().Ext(), fmt.Sprintf("%03d", r.sectors()), r.name(),
		fmt.Sprintf("%d", e.Size()), fmt.Sprintf("%d", r.startSector())}
	switch mode {
	case DisplayNative:
		return cols
	case DisplayDetail:
		return append(cols, fmt.Sprintf("$%.4X", r.loadAddress()))
	}
	return standardColumns(e)
}
