package disk

import (
	"fmt"
	"strings"
)

const DOS_CATALOG_TRACK = 17
const DOS_VTOC_SECTOR = 0
const DOS_CATALOG_ENTRY_OFFSET = 0x0b
const DOS_CATALOG_ENTRY_LENGTH = 0x23
const DOS_TRACK_SECTOR_PAIRS = 122
const DOS_TSLIST_PAIR_OFFSET = 0x0c
const DOS_DELETED_TRACK = 0xff
const DOS_VOLUME_NUMBER = 254
const DOS_NAME_LENGTH = 30

type FileType byte

const (
	FileTypeTXT FileType = 0x00
	FileTypeINT FileType = 0x01
	FileTypeAPP FileType = 0x02
	FileTypeBIN FileType = 0x04
	FileTypeS   FileType = 0x08
	FileTypeREL FileType = 0x10
	FileTypeA   FileType = 0x20
	FileTypeB   FileType = 0x40
)

// code, extension, description
var AppleDOSTypeMap = map[FileType][3]string{
	FileTypeTXT: {"T", "TXT", "ASCII Text"},
	FileTypeINT: {"I", "INT", "Integer Basic Program"},
	FileTypeAPP: {"A", "BAS", "Applesoft Basic Program"},
	FileTypeBIN: {"B", "BIN", "Binary File"},
	FileTypeS:   {"S", "S", "S File Type"},
	FileTypeREL: {"R", "REL", "Relocatable Object Code"},
	FileTypeA:   {"a", "A", "A File Type"},
	FileTypeB:   {"b", "B", "B File Type"},
}

var dosFiletypes = []string{"T", "I", "A", "B", "S", "R", "a", "b"}

func (ft FileType) String() string {
	if info, ok := AppleDOSTypeMap[ft]; ok {
		return info[2]
	}
	return "Unknown"
}

func (ft FileType) Code() string {
	if info, ok := AppleDOSTypeMap[ft]; ok {
		return info[0]
	}
	return "?"
}

func (ft FileType) Ext() string {
	if info, ok := AppleDOSTypeMap[ft]; ok {
		return info[1]
	}
	return "BIN"
}

// AppleDOSFileType accepts either a catalog code ("B") or an extension ("BIN").
func AppleDOSFileType(s string) (FileType, error) {
	for ft, info := range AppleDOSTypeMap {
		if s == info[0] {
			return ft, nil
		}
	}
	for ft, info := range AppleDOSTypeMap {
		if strings.EqualFold(s, info[1]) {
			return ft, nil
		}
	}
	return FileTypeBIN, invalidArgf("unknown DOS file type %q", s)
}

// logicalVolume presents one 50 track, 32 sector DOS volume held inside an
// 800K block image. UniDOS stores the two volumes one after the other,
// OzDOS interleaves them within each block.
type logicalVolume struct {
	order  ImageOrder
	kind   Kind
	volume int
}

const LOGICAL_VOLUME_TRACKS = 50
const LOGICAL_VOLUME_SECTORS = 32

func (v *logicalVolume) locate(track, sector int) (int, int, error) {
	if track < 0 || track >= LOGICAL_VOLUME_TRACKS || sector < 0 || sector >= LOGICAL_VOLUME_SECTORS {
		return 0, 0, invalidArgf("track %d sector %d outside logical volume", track, sector)
	}
	abs := track*LOGICAL_VOLUME_SECTORS + sector
	if v.kind == KindOzDOS {
		return abs, v.volume, nil
	}
	return v.volume*(PRODOS_800KB_BLOCKS/2) + abs/2, abs % 2, nil
}

func (v *logicalVolume) ReadSector(track, sector int) ([]byte, error) {
	block, half, err := v.locate(track, sector)
	if err != nil {
		return nil, err
	}
	data, err := v.order.ReadBlock(block)
	if err != nil {
		return nil, err
	}
	return data[half*STD_BYTES_PER_SECTOR : (half+1)*STD_BYTES_PER_SECTOR], nil
}

func (v *logicalVolume) WriteSector(track, sector int, data []byte) error {
	if len(data) != STD_BYTES_PER_SECTOR {
		return invalidArgf("sector buffer is %d bytes, want %d", len(data), STD_BYTES_PER_SECTOR)
	}
	block, half, err := v.locate(track, sector)
	if err != nil {
		return err
	}
	buf, err := v.order.ReadBlock(block)
	if err != nil {
		return err
	}
	copy(buf[half*STD_BYTES_PER_SECTOR:], data)
	return v.order.WriteBlock(block, buf)
}

// DOSDisk is a DOS 3.3 volume, or one of the two DOS volumes on a UniDOS
// or OzDOS 800K disk.
type DOSDisk struct {
	order  ImageOrder
	io     SectorReader
	kind   Kind
	volume int
}

func NewDOSDisk(order ImageOrder) *DOSDisk {
	return &DOSDisk{order: order, io: order, kind: KindDOS33}
}

func NewUniDOSDisk(order ImageOrder, volume int) *DOSDisk {
	return &DOSDisk{order: order, io: &logicalVolume{order: order, kind: KindUniDOS, volume: volume}, kind: KindUniDOS, volume: volume}
}

func NewOzDOSDisk(order ImageOrder, volume int) *DOSDisk {
	return &DOSDisk{order: order, io: &logicalVolume{order: order, kind: KindOzDOS, volume: volume}, kind: KindOzDOS, volume: volume}
}

func (d *DOSDisk) Kind() Kind {
	return d.kind
}

func (d *DOSDisk) ImageOrder() ImageOrder {
	return d.order
}

// Geometry is the size the volume is formatted to.
func (d *DOSDisk) Geometry() (tracks, sectors int) {
	if d.kind == KindDOS33 {
		return d.order.Tracks(), d.order.SectorsPerTrack()
	}
	return LOGICAL_VOLUME_TRACKS, LOGICAL_VOLUME_SECTORS
}

func (d *DOSDisk) firstCatalogSector() int {
	_, spt := d.Geometry()
	return spt - 1
}

func (d *DOSDisk) ReadVTOC() ([]byte, error) {
	return d.io.ReadSector(DOS_CATALOG_TRACK, DOS_VTOC_SECTOR)
}

func (d *DOSDisk) writeVTOC(vtoc []byte) error {
	return d.io.WriteSector(DOS_CATALOG_TRACK, DOS_VTOC_SECTOR, vtoc)
}

// dimensions prefers the VTOC's own geometry when it is sane.
func (d *DOSDisk) dimensions(vtoc []byte) (int, int) {
	tracks, spt := d.Geometry()
	vt, vs := int(vtoc[0x34]), int(vtoc[0x35])
	if vt > 0 && vt <= tracks && vs > 0 && vs <= spt {
		return vt, vs
	}
	return tracks, spt
}

func (d *DOSDisk) DiskName() string {
	vtoc, err := d.ReadVTOC()
	if err != nil {
		return "DISK VOLUME #???"
	}
	name := fmt.Sprintf("DISK VOLUME #%d", vtoc[0x06])
	if d.kind != KindDOS33 {
		name = fmt.Sprintf("%s %d, %s", strings.ToUpper(d.kind.String()), d.volume+1, name)
	}
	return name
}

// walkCatalog visits every slot of every catalog sector in chain order.
func (d *DOSDisk) walkCatalog(fn func(track, sector, offset int, entry []byte) bool) error {
	vtoc, err := d.ReadVTOC()
	if err != nil {
		return err
	}
	tracks, spt := d.dimensions(vtoc)
	track, sector := int(vtoc[1]), int(vtoc[2])
	visited := make(map[int]bool)
	for track != 0 && track < tracks && sector < spt {
		key := track*100 + sector
		if visited[key] {
			return malformedf("catalog chain loops at T%d S%d", track, sector)
		}
		visited[key] = true
		cs, err := d.io.ReadSector(track, sector)
		if err != nil {
			return err
		}
		for offset := DOS_CATALOG_ENTRY_OFFSET; offset+DOS_CATALOG_ENTRY_LENGTH <= STD_BYTES_PER_SECTOR; offset += DOS_CATALOG_ENTRY_LENGTH {
			if !fn(track, sector, offset, cs[offset:offset+DOS_CATALOG_ENTRY_LENGTH]) {
				return nil
			}
		}
		track, sector = int(cs[1]), int(cs[2])
	}
	return nil
}

func (d *DOSDisk) Files() ([]FileEntry, error) {
	var files []FileEntry
	err := d.walkCatalog(func(track, sector, offset int, entry []byte) bool {
		if entry[0] != 0 && entry[0] != DOS_DELETED_TRACK {
			files = append(files, &DOSFileEntry{disk: d, track: track, sector: sector, offset: offset})
		}
		return true
	})
	return files, err
}

// DeletedFiles lists slots whose files were deleted but not yet reused.
func (d *DOSDisk) DeletedFiles() ([]FileEntry, error) {
	var files []FileEntry
	err := d.walkCatalog(func(track, sector, offset int, entry []byte) bool {
		if entry[0] == DOS_DELETED_TRACK {
			files = append(files, &DOSFileEntry{disk: d, track: track, sector: sector, offset: offset})
		}
		return true
	})
	return files, err
}

// CreateFile returns the first unused or deleted slot. Nothing is
// written: the slot is claimed by the first SetFileData, so until then
// another CreateFile returns the same slot.
func (d *DOSDisk) CreateFile() (FileEntry, error) {
	var found *DOSFileEntry
	err := d.walkCatalog(func(track, sector, offset int, entry []byte) bool {
		if entry[0] == 0 || entry[0] == DOS_DELETED_TRACK {
			found = &DOSFileEntry{disk: d, track: track, sector: sector, offset: offset, fresh: true}
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, diskFull("", "no free catalog entry")
	}
	return found, nil
}

func (d *DOSDisk) CreateDirectory(name string) (FileEntry, error) {
	return nil, unsupportedf("%s has no directories", d.kind)
}

func (d *DOSDisk) entry(fe FileEntry) (*DOSFileEntry, error) {
	e, ok := fe.(*DOSFileEntry)
	if !ok || e.disk != d {
		return nil, invalidArgf("entry does not belong to this %s disk", d.kind)
	}
	return e, nil
}

// FileData returns the raw sectors of a file, in T/S list order.
func (d *DOSDisk) FileData(fe FileEntry) ([]byte, error) {
	e, err := d.entry(fe)
	if err != nil {
		return nil, err
	}
	vtoc, err := d.ReadVTOC()
	if err != nil {
		return nil, err
	}
	tracks, spt := d.dimensions(vtoc)
	raw := e.read()
	track, sector := int(raw[0]), int(raw[1])
	if track == DOS_DELETED_TRACK {
		return nil, invalidArgf("%s is deleted", e.Name())
	}
	data := make([]byte, 0)
	visited := make(map[int]bool)
	for track != 0 {
		if track >= tracks || sector >= spt {
			return nil, malformedf("T/S list reference T%d S%d out of range", track, sector)
		}
		key := track*100 + sector
		if visited[key] {
			return nil, malformedf("T/S list loops at T%d S%d", track, sector)
		}
		visited[key] = true
		list, err := d.io.ReadSector(track, sector)
		if err != nil {
			return nil, err
		}
		for i := DOS_TSLIST_PAIR_OFFSET; i < STD_BYTES_PER_SECTOR; i += 2 {
			t, s := int(list[i]), int(list[i+1])
			if t == 0 && s == 0 {
				break
			}
			if t >= tracks || s >= spt {
				return nil, malformedf("data sector T%d S%d out of range", t, s)
			}
			sd, err := d.io.ReadSector(t, s)
			if err != nil {
				return nil, err
			}
			data = append(data, sd...)
		}
		track, sector = int(list[1]), int(list[2])
	}
	return data, nil
}

// tsListWriter lays out a file as T/S lists plus data sectors, allocating
// from a VTOC draft.
type tsListWriter struct {
	io            SectorReader
	tracks, spt   int
	sectorOffsets bool
}

type pendingSector struct {
	track, sector int
	data          []byte
}

// write allocates and writes data, starting the chain at (headT, headS) or
// at the first free sector when the entry has no chain. Sectors are only
// written once the whole chain has been allocated, so a failed write
// leaves the old chain's contents alone. The returned VTOC is the
// caller's to commit.
func (w tsListWriter) write(vtoc []byte, headT, headS int, data []byte) ([]byte, int, int, int, error) {
	draft := append([]byte(nil), vtoc...)
	var pending []pendingSector
	var err error

	if headT == 0 || headT == DOS_DELETED_TRACK {
		headT, headS, err = nextFreeSector(draft, 1, 0, w.tracks, w.spt)
		if err != nil {
			return nil, 0, 0, 0, err
		}
	}
	if err := setSectorUsed(draft, headT, headS); err != nil {
		return nil, 0, 0, 0, err
	}

	list := make([]byte, STD_BYTES_PER_SECTOR)
	listT, listS := headT, headS
	pairOffset := DOS_TSLIST_PAIR_OFFSET
	sectorOffset := 0
	total := 0
	t, s := 1, 0

	for offset := 0; offset < len(data); {
		t, s, err = nextFreeSector(draft, t, s, w.tracks, w.spt)
		if err != nil {
			return nil, 0, 0, 0, err
		}
		if err := setSectorUsed(draft, t, s); err != nil {
			return nil, 0, 0, 0, err
		}
		if pairOffset >= STD_BYTES_PER_SECTOR {
			list[1], list[2] = byte(t), byte(s)
			pending = append(pending, pendingSector{listT, listS, list})
			list = make([]byte, STD_BYTES_PER_SECTOR)
			pairOffset = DOS_TSLIST_PAIR_OFFSET
			sectorOffset += DOS_TRACK_SECTOR_PAIRS
			if w.sectorOffsets {
				list[5], list[6] = byte(sectorOffset&0xff), byte(sectorOffset>>8)
			}
			listT, listS = t, s
		} else {
			list[pairOffset], list[pairOffset+1] = byte(t), byte(s)
			pairOffset += 2
			chunk := make([]byte, STD_BYTES_PER_SECTOR)
			copy(chunk, data[offset:])
			pending = append(pending, pendingSector{t, s, chunk})
			offset += STD_BYTES_PER_SECTOR
		}
		total++
	}
	pending = append(pending, pendingSector{listT, listS, list})
	total++

	for _, p := range pending {
		if err := w.io.WriteSector(p.track, p.sector, p.data); err != nil {
			return nil, 0, 0, 0, err
		}
	}
	return draft, headT, headS, total, nil
}

// requiredSectors is data sectors plus the T/S lists addressing them.
func requiredSectors(length int) int {
	dataSectors := (length + STD_BYTES_PER_SECTOR - 1) / STD_BYTES_PER_SECTOR
	lists := (dataSectors + DOS_TRACK_SECTOR_PAIRS - 1) / DOS_TRACK_SECTOR_PAIRS
	if lists == 0 {
		lists = 1
	}
	return dataSectors + lists
}

// freeChain marks every sector of the entry's chain free in the draft.
func (d *DOSDisk) freeChain(vtoc []byte, e *DOSFileEntry) ([]byte, error) {
	draft := append([]byte(nil), vtoc...)
	tracks, spt := d.dimensions(vtoc)
	raw := e.read()
	track, sector := int(raw[0]), int(raw[1])
	if track == DOS_DELETED_TRACK {
		return draft, nil
	}
	visited := make(map[int]bool)
	for track != 0 && track < tracks && sector < spt {
		key := track*100 + sector
		if visited[key] {
			return nil, malformedf("T/S list loops at T%d S%d", track, sector)
		}
		visited[key] = true
		if err := setSectorFree(draft, track, sector); err != nil {
			return nil, err
		}
		list, err := d.io.ReadSector(track, sector)
		if err != nil {
			return nil, err
		}
		for i := DOS_TSLIST_PAIR_OFFSET; i < STD_BYTES_PER_SECTOR; i += 2 {
			t, s := int(list[i]), int(list[i+1])
			if t == 0 && s == 0 {
				break
			}
			if err := setSectorFree(draft, t, s); err != nil {
				return nil, err
			}
		}
		track, sector = int(list[1]), int(list[2])
	}
	return draft, nil
}

func (d *DOSDisk) SetFileData(fe FileEntry, data []byte) error {
	e, err := d.entry(fe)
	if err != nil {
		return err
	}
	vtoc, err := d.ReadVTOC()
	if err != nil {
		return err
	}
	tracks, spt := d.dimensions(vtoc)

	required := requiredSectors(len(data))
	free := countFreeSectors(vtoc, tracks, spt)
	if required > free+e.SectorsUsed() {
		return diskFull(e.Name(), fmt.Sprintf("need %d sectors, %d free", required, free+e.SectorsUsed()))
	}

	draft, err := d.freeChain(vtoc, e)
	if err != nil {
		return err
	}
	raw := e.read()
	w := tsListWriter{io: d.io, tracks: tracks, spt: spt, sectorOffsets: true}
	draft, headT, headS, total, err := w.write(draft, int(raw[0]), int(raw[1]), data)
	if err != nil {
		if isDiskFull(err) {
			return diskFull(e.Name(), "allocation ran past the last track")
		}
		return err
	}

	raw[0], raw[1] = byte(headT), byte(headS)
	raw[0x21], raw[0x22] = byte(total&0xff), byte(total>>8)
	if err := e.write(raw); err != nil {
		return err
	}
	return d.writeVTOC(draft)
}

func (d *DOSDisk) FreeSectors() int {
	vtoc, err := d.ReadVTOC()
	if err != nil {
		return 0
	}
	tracks, spt := d.dimensions(vtoc)
	return countFreeSectors(vtoc, tracks, spt)
}

func (d *DOSDisk) FreeSpace() int {
	return d.FreeSectors() * STD_BYTES_PER_SECTOR
}

func (d *DOSDisk) UsedSpace() int {
	tracks, spt := d.Geometry()
	if vtoc, err := d.ReadVTOC(); err == nil {
		tracks, spt = d.dimensions(vtoc)
	}
	return (tracks*spt - d.FreeSectors()) * STD_BYTES_PER_SECTOR
}

func (d *DOSDisk) Format() error {
	tracks, spt := d.Geometry()
	return d.FormatGeometry(d.firstCatalogSector(), tracks, spt)
}

// FormatGeometry lays down boot code, a catalog chain running downwards
// from firstCatalogSector to sector 1 of the catalog track, and the VTOC.
func (d *DOSDisk) FormatGeometry(firstCatalogSector, tracksPerDisk, sectorsPerTrack int) error {
	maxT, maxS := d.Geometry()
	if tracksPerDisk <= DOS_CATALOG_TRACK || tracksPerDisk > maxT || sectorsPerTrack < 2 || sectorsPerTrack > maxS {
		return invalidArgf("cannot format %dx%d on a %dx%d volume", tracksPerDisk, sectorsPerTrack, maxT, maxS)
	}
	if firstCatalogSector < 1 || firstCatalogSector >= sectorsPerTrack {
		return invalidArgf("first catalog sector %d outside track", firstCatalogSector)
	}
	if err := d.blank(); err != nil {
		return err
	}
	return formatDOSFamily(d.io, DOS_VTOC_SECTOR, firstCatalogSector, tracksPerDisk, sectorsPerTrack)
}

func (d *DOSDisk) blank() error {
	if d.kind == KindDOS33 {
		d.order.Format()
		return nil
	}
	empty := make([]byte, STD_BYTES_PER_SECTOR)
	for t := 0; t < LOGICAL_VOLUME_TRACKS; t++ {
		for s := 0; s < LOGICAL_VOLUME_SECTORS; s++ {
			if err := d.io.WriteSector(t, s, empty); err != nil {
				return err
			}
		}
	}
	return nil
}

// formatDOSFamily writes what DOS INIT writes, minus the DOS image: the
// VTOC is built in the same buffer as the last catalog sector.
func formatDOSFamily(io SectorReader, vtocSector, firstCatalogSector, tracksPerDisk, sectorsPerTrack int) error {
	if err := io.WriteSector(0, 0, bootSector(bootDOS33, STD_BYTES_PER_SECTOR)); err != nil {
		return err
	}

	data := make([]byte, STD_BYTES_PER_SECTOR)
	for sector := firstCatalogSector; sector > 0; sector-- {
		if sector > 1 {
			data[0x01] = DOS_CATALOG_TRACK
			data[0x02] = byte(sector - 1)
		} else {
			data[0x01] = 0
			data[0x02] = 0
		}
		if err := io.WriteSector(DOS_CATALOG_TRACK, sector, data); err != nil {
			return err
		}
	}

	data[0x01] = DOS_CATALOG_TRACK
	data[0x02] = byte(firstCatalogSector)
	data[0x03] = 3
	data[0x06] = DOS_VOLUME_NUMBER
	data[0x27] = DOS_TRACK_SECTOR_PAIRS
	data[0x30] = DOS_CATALOG_TRACK + 1
	data[0x31] = 1
	data[0x34] = byte(tracksPerDisk)
	data[0x35] = byte(sectorsPerTrack)
	data[0x36] = 0
	data[0x37] = 1
	for track := 0; track < tracksPerDisk; track++ {
		for sector := 0; sector < sectorsPerTrack; sector++ {
			var err error
			if track == 0 || track == DOS_CATALOG_TRACK {
				err = setSectorUsed(data, track, sector)
			} else {
				err = setSectorFree(data, track, sector)
			}
			if err != nil {
				return err
			}
		}
	}
	return io.WriteSector(DOS_CATALOG_TRACK, vtocSector, data)
}

func (d *DOSDisk) ChangeImageOrder(order ImageOrder) error {
	if d.kind == KindDOS33 {
		if err := copyByTrackAndSector(d.order, order); err != nil {
			return err
		}
		d.order, d.io = order, order
		return nil
	}
	if err := copyByBlock(d.order, order); err != nil {
		return err
	}
	d.order = order
	d.io = &logicalVolume{order: order, kind: d.kind, volume: d.volume}
	return nil
}

func (d *DOSDisk) DiskUsage() DiskUsage {
	vtoc, err := d.ReadVTOC()
	tracks, spt := d.Geometry()
	if err == nil {
		tracks, spt = d.dimensions(vtoc)
	}
	return &sectorUsage{tracks: tracks, spt: spt, free: func(t, s int) bool {
		if vtoc == nil {
			return false
		}
		free, _ := isSectorFree(vtoc, t, s)
		return free
	}}
}

func dosFileColumnHeaders(mode DisplayMode) []FileColumnHeader {
	switch mode {
	case DisplayNative:
		return []FileColumnHeader{
			{Title: " ", Width: 1, Align: AlignCenter, Key: "locked"},
			{Title: "Type", Width: 1, Align: AlignCenter, Key: "type"},
			{Title: "Size (sectors)", Width: 3, Align: AlignRight, Key: "sectors"},
			{Title: "Name", Width: 30, Align: AlignLeft, Key: "name"},
		}
	case DisplayDetail:
		return []FileColumnHeader{
			{Title: " ", Width: 1, Align: AlignCenter, Key: "locked"},
			{Title: "Type", Width: 1, Align: AlignCenter, Key: "type"},
			{Title: "Name", Width: 30, Align: AlignLeft, Key: "name"},
			{Title: "Size (bytes)", Width: 6, Align: AlignRight, Key: "size"},
			{Title: "Size (sectors)", Width: 3, Align: AlignRight, Key: "sectors"},
			{Title: "Deleted?", Width: 7, Align: AlignCenter, Key: "deleted"},
			{Title: "Track/Sector List", Width: 7, Align: AlignCenter, Key: "trackAndSectorList"},
		}
	}
	return standardHeaders()
}

func (d *DOSDisk) FileColumnHeaders(mode DisplayMode) []FileColumnHeader {
	return dosFileColumnHeaders(mode)
}

func (d *DOSDisk) Capabilities() Capabilities {
	return Capabilities{
		CreateFile:    true,
		ReadFileData:  true,
		WriteFileData: true,
		DeleteFile:    true,
		DeletedFiles:  true,
	}
}

func (d *DOSDisk) SuggestedFilename(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	if len(name) > DOS_NAME_LENGTH {
		name = name[:DOS_NAME_LENGTH]
	}
	return strings.TrimSpace(name)
}

func (d *DOSDisk) SuggestedFiletype() string {
	return "B"
}

func (d *DOSDisk) Filetypes() []string {
	return dosFiletypes
}

func (d *DOSDisk) NeedsAddress(filetype string) bool {
	return filetype == "B"
}

// DOSFileEntry is a 35 byte catalog slot. A fresh entry comes from
// CreateFile and sees an unclaimed slot as blank, whatever a deleted file
// left in it.
type DOSFileEntry struct {
	disk                  *DOSDisk
	track, sector, offset int
	fresh                 bool
}

func (e *DOSFileEntry) slot() []byte {
	cs, err := e.disk.io.ReadSector(e.track, e.sector)
	if err != nil {
		return make([]byte, DOS_CATALOG_ENTRY_LENGTH)
	}
	return cs[e.offset : e.offset+DOS_CATALOG_ENTRY_LENGTH]
}

func (e *DOSFileEntry) read() []byte {
	raw := e.slot()
	if e.fresh && raw[0] == DOS_DELETED_TRACK {
		blank := make([]byte, DOS_CATALOG_ENTRY_LENGTH)
		putHighString(blank[3:3+DOS_NAME_LENGTH], "")
		return blank
	}
	return raw
}

func (e *DOSFileEntry) write(raw []byte) error {
	cs, err := e.disk.io.ReadSector(e.track, e.sector)
	if err != nil {
		return err
	}
	copy(cs[e.offset:e.offset+DOS_CATALOG_ENTRY_LENGTH], raw)
	return e.disk.io.WriteSector(e.track, e.sector, cs)
}

func (e *DOSFileEntry) Disk() FormattedDisk {
	return e.disk
}

// Location is the catalog sector and offset of the slot.
func (e *DOSFileEntry) Location() (int, int, int) {
	return e.track, e.sector, e.offset
}

// TrackSectorList is the head of the file's chain.
func (e *DOSFileEntry) TrackSectorList() (int, int) {
	raw := e.read()
	return int(raw[0]), int(raw[1])
}

func (e *DOSFileEntry) Name() string {
	raw := e.read()
	if raw[0] == DOS_DELETED_TRACK {
		// DOS keeps the original track in the last name byte
		return getHighString(raw[3 : 3+DOS_NAME_LENGTH-1])
	}
	return getHighString(raw[3 : 3+DOS_NAME_LENGTH])
}

func (e *DOSFileEntry) SetName(name string) error {
	raw := e.read()
	putHighString(raw[3:3+DOS_NAME_LENGTH], e.disk.SuggestedFilename(name))
	return e.write(raw)
}

func (e *DOSFileEntry) fileType() FileType {
	return FileType(e.read()[2] & 0x7f)
}

func (e *DOSFileEntry) Filetype() string {
	return e.fileType().Code()
}

func (e *DOSFileEntry) SetFiletype(filetype string) error {
	ft, err := AppleDOSFileType(filetype)
	if err != nil {
		return err
	}
	raw := e.read()
	raw[2] = (raw[2] & 0x80) | byte(ft)
	return e.write(raw)
}

func (e *DOSFileEntry) TypeHint() CatalogEntryType {
	switch e.fileType() {
	case FileTypeTXT:
		return CETText
	case FileTypeINT:
		return CETBasicInteger
	case FileTypeAPP:
		return CETBasicApplesoft
	case FileTypeBIN:
		return CETBinary
	}
	return CETData
}

func (e *DOSFileEntry) IsLocked() bool {
	return e.read()[2]&0x80 != 0
}

func (e *DOSFileEntry) SetLocked(locked bool) error {
	raw := e.read()
	if locked {
		raw[2] |= 0x80
	} else {
		raw[2] &= 0x7f
	}
	return e.write(raw)
}

func (e *DOSFileEntry) IsDeleted() bool {
	return e.read()[0] == DOS_DELETED_TRACK
}

func (e *DOSFileEntry) IsDirectory() bool {
	return false
}

func (e *DOSFileEntry) SectorsUsed() int {
	raw := e.read()
	if raw[0] == DOS_DELETED_TRACK {
		return 0
	}
	return int(raw[0x21]) | int(raw[0x22])<<8
}

func (e *DOSFileEntry) Size() int {
	if e.IsDeleted() {
		return 0
	}
	switch e.fileType() {
	case FileTypeBIN, FileTypeAPP, FileTypeINT, FileTypeTXT:
		data, err := e.FileData()
		if err == nil {
			return len(data)
		}
	}
	n := e.SectorsUsed() - 1
	if n < 0 {
		n = 0
	}
	return n * STD_BYTES_PER_SECTOR
}

// Address is the load address of a B file.
func (e *DOSFileEntry) Address() int {
	if e.fileType() != FileTypeBIN {
		return 0
	}
	raw, err := e.disk.FileData(e)
	if err != nil || len(raw) < 2 {
		return 0
	}
	return int(raw[0]) | int(raw[1])<<8
}

func (e *DOSFileEntry) SetAddress(addr int) error {
	if e.fileType() != FileTypeBIN {
		return invalidArgf("%s is not a binary file", e.Name())
	}
	raw, err := e.disk.FileData(e)
	if err != nil {
		return err
	}
	if len(raw) < 4 {
		return invalidArgf("%s has no binary header", e.Name())
	}
	raw[0], raw[1] = byte(addr&0xff), byte(addr>>8)
	return e.disk.SetFileData(e, raw)
}

// FileData strips the length header DOS keeps in front of B, A and I
// files. Text ends at the first zero byte.
func (e *DOSFileEntry) FileData() ([]byte, error) {
	raw, err := e.disk.FileData(e)
	if err != nil {
		return nil, err
	}
	switch e.fileType() {
	case FileTypeBIN:
		if len(raw) < 4 {
			return []byte{}, nil
		}
		length := int(raw[2]) | int(raw[3])<<8
		if 4+length > len(raw) {
			return nil, malformedf("%s claims %d bytes, holds %d", e.Name(), length, len(raw)-4)
		}
		return raw[4 : 4+length], nil
	case FileTypeAPP, FileTypeINT:
		if len(raw) < 2 {
			return []byte{}, nil
		}
		length := int(raw[0]) | int(raw[1])<<8
		if 2+length > len(raw) {
			return nil, malformedf("%s claims %d bytes, holds %d", e.Name(), length, len(raw)-2)
		}
		return raw[2 : 2+length], nil
	case FileTypeTXT:
		for i, v := range raw {
			if v == 0 {
				return raw[:i], nil
			}
		}
	}
	return raw, nil
}

func (e *DOSFileEntry) SetFileData(data []byte) error {
	var raw []byte
	switch e.fileType() {
	case FileTypeBIN:
		if len(data) > 0xffff {
			return invalidArgf("binary file of %d bytes exceeds 64K", len(data))
		}
		addr := e.Address()
		raw = make([]byte, 4, len(data)+4)
		raw[0], raw[1] = byte(addr&0xff), byte(addr>>8)
		raw[2], raw[3] = byte(len(data)&0xff), byte(len(data)>>8)
		raw = append(raw, data...)
	case FileTypeAPP, FileTypeINT:
		if len(data) > 0xffff {
			return invalidArgf("program of %d bytes exceeds 64K", len(data))
		}
		raw = make([]byte, 2, len(data)+2)
		raw[0], raw[1] = byte(len(data)&0xff), byte(len(data)>>8)
		raw = append(raw, data...)
	default:
		raw = data
	}
	return e.disk.SetFileData(e, raw)
}

func (e *DOSFileEntry) Delete() error {
	vtoc, err := e.disk.ReadVTOC()
	if err != nil {
		return err
	}
	draft, err := e.disk.freeChain(vtoc, e)
	if err != nil {
		return err
	}
	raw := e.read()
	if raw[0] == DOS_DELETED_TRACK {
		return nil
	}
	if raw[0] == 0 {
		if e.slot()[0] == DOS_DELETED_TRACK {
			return nil
		}
		// never written: give the slot back
		return e.write(make([]byte, DOS_CATALOG_ENTRY_LENGTH))
	}
	raw[0x20] = raw[0x00]
	raw[0x00] = DOS_DELETED_TRACK
	if err := e.write(raw); err != nil {
		return err
	}
	return e.disk.writeVTOC(draft)
}

func (e *DOSFileEntry) Columns(mode DisplayMode) []string {
	locked := " "
	if e.IsLocked() {
		locked = "*"
	}
	switch mode {
	case DisplayNative:
		return []string{locked, e.Filetype(), fmt.Sprintf("%03d", e.SectorsUsed()%1000), e.Name()}
	case DisplayDetail:
		deleted := ""
		if e.IsDeleted() {
			deleted = "Deleted"
		}
		t, s := e.TrackSectorList()
		return []string{locked, e.Filetype(), e.Name(), fmt.Sprintf("%d", e.Size()),
			fmt.Sprintf("%d", e.SectorsUsed()), deleted, fmt.Sprintf("T%d S%d", t, s)}
	}
	return standardColumns(e)
}
