package disk

import (
	"fmt"
	"strings"
)

const GUTENBERG_VTOC_SECTOR = 7
const GUTENBERG_ENTRY_LENGTH = 0x10
const GUTENBERG_NAME_LENGTH = 12
const GUTENBERG_CHAIN_END = 128
const GUTENBERG_PAYLOAD_OFFSET = 6

// GutenbergDisk is a Gutenberg word processor data disk. Its catalog starts
// where DOS keeps sector 7 of the catalog track, and the engine only
// reports what it can read: no free sectors, the full disk in use.
type GutenbergDisk struct {
	order ImageOrder
}

func NewGutenbergDisk(order ImageOrder) *GutenbergDisk {
	return &GutenbergDisk{order: order}
}

func (d *GutenbergDisk) Kind() Kind {
	return KindGutenberg
}

func (d *GutenbergDisk) ImageOrder() ImageOrder {
	return d.order
}

func (d *GutenbergDisk) ReadVTOC() ([]byte, error) {
	return d.order.ReadSector(DOS_CATALOG_TRACK, GUTENBERG_VTOC_SECTOR)
}

func (d *GutenbergDisk) writeVTOC(vtoc []byte) error {
	return d.order.WriteSector(DOS_CATALOG_TRACK, GUTENBERG_VTOC_SECTOR, vtoc)
}

// Geometry is read from the VTOC, falling back to the image's own.
func (d *GutenbergDisk) Geometry() (int, int) {
	tracks, spt := d.order.Tracks(), d.order.SectorsPerTrack()
	vtoc, err := d.ReadVTOC()
	if err != nil {
		return tracks, spt
	}
	if vt, vs := int(vtoc[0x34]), int(vtoc[0x35]); vt > 0 && vt <= tracks && vs > 0 && vs <= spt {
		return vt, vs
	}
	return tracks, spt
}

func (d *GutenbergDisk) DiskName() string {
	vtoc, err := d.ReadVTOC()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(getHighString(vtoc[6:15]))
}

// Files walks catalog sectors through the pointer at bytes 4 and 5 until
// the track leaves the disk. The first slot of each catalog track sector
// is the sector header.
func (d *GutenbergDisk) Files() ([]FileEntry, error) {
	var files []FileEntry
	tracks, spt := d.Geometry()
	track, sector := DOS_CATALOG_TRACK, GUTENBERG_VTOC_SECTOR
	visited := make(map[int]bool)
	for track < 40 {
		if track >= tracks || sector >= spt {
			break
		}
		key := track*100 + sector
		if visited[key] {
			return files, malformedf("catalog chain loops at T%d S%d", track, sector)
		}
		visited[key] = true
		cs, err := d.order.ReadSector(track, sector)
		if err != nil {
			return files, err
		}
		for offset := GUTENBERG_ENTRY_LENGTH; offset < 0xff; offset += GUTENBERG_ENTRY_LENGTH {
			if cs[offset] != 0xa0 && (track != DOS_CATALOG_TRACK || offset > GUTENBERG_ENTRY_LENGTH) {
				files = append(files, &GutenbergFileEntry{disk: d, track: track, sector: sector, offset: offset})
			}
		}
		track, sector = int(cs[4]), int(cs[5])
	}
	return files, nil
}

// CreateFile looks for an unused slot the DOS way, following the VTOC's
// catalog pointer and the chain at bytes 1 and 2.
func (d *GutenbergDisk) CreateFile() (FileEntry, error) {
	vtoc, err := d.ReadVTOC()
	if err != nil {
		return nil, err
	}
	tracks, spt := d.Geometry()
	track, sector := int(vtoc[1]), int(vtoc[2])
	visited := make(map[int]bool)
	for sector != 0 {
		if track >= tracks || sector >= spt || visited[track*100+sector] {
			break
		}
		visited[track*100+sector] = true
		cs, err := d.order.ReadSector(track, sector)
		if err != nil {
			return nil, err
		}
		for offset := DOS_CATALOG_ENTRY_OFFSET; offset+GUTENBERG_ENTRY_LENGTH <= STD_BYTES_PER_SECTOR; offset += GUTENBERG_ENTRY_LENGTH {
			if cs[offset] == 0 || cs[offset] == 0xff {
				return &GutenbergFileEntry{disk: d, track: track, sector: sector, offset: offset}, nil
			}
		}
		track, sector = int(cs[1]), int(cs[2])
	}
	return nil, diskFull("", "no free catalog entry")
}

func (d *GutenbergDisk) CreateDirectory(name string) (FileEntry, error) {
	return nil, unsupportedf("gutenberg has no directories")
}

func (d *GutenbergDisk) entry(fe FileEntry) (*GutenbergFileEntry, error) {
	e, ok := fe.(*GutenbergFileEntry)
	if !ok || e.disk != d {
		return nil, invalidArgf("entry does not belong to this gutenberg disk")
	}
	return e, nil
}

// FileData sizes its buffer from the entry's sector count and copies the
// payload after each 6 byte sector header.
func (d *GutenbergDisk) FileData(fe FileEntry) ([]byte, error) {
	e, err := d.entry(fe)
	if err != nil {
		return nil, err
	}
	used := e.SectorsUsed()
	if used == 0 {
		return []byte{}, nil
	}
	data := make([]byte, used*STD_BYTES_PER_SECTOR)
	tracks, spt := d.Geometry()
	track, sector := e.head()
	offset := 0
	visited := make(map[int]bool)
	for track < GUTENBERG_CHAIN_END {
		if track >= tracks || sector >= spt {
			return nil, malformedf("chain reference T%d S%d out of range", track, sector)
		}
		if visited[track*100+sector] {
			return nil, malformedf("chain loops at T%d S%d", track, sector)
		}
		visited[track*100+sector] = true
		sd, err := d.order.ReadSector(track, sector)
		if err != nil {
			return nil, err
		}
		track, sector = int(sd[4]), int(sd[5])
		payload := sd[GUTENBERG_PAYLOAD_OFFSET:]
		if offset+len(payload) > len(data) {
			return nil, malformedf("chain is longer than %d sectors", used)
		}
		copy(data[offset:], payload)
		offset += len(payload)
	}
	return data, nil
}

// SetFileData shares the DOS T/S list layout. Old sectors are never
// released and free space always reads zero, so only rewrites that fit in
// what an entry already owns succeed.
func (d *GutenbergDisk) SetFileData(fe FileEntry, data []byte) error {
	e, err := d.entry(fe)
	if err != nil {
		return err
	}
	required := requiredSectors(len(data))
	if required > d.FreeSectors()+e.SectorsUsed() {
		return diskFull(e.Name(), fmt.Sprintf("need %d sectors, %d free", required, d.FreeSectors()))
	}
	vtoc, err := d.ReadVTOC()
	if err != nil {
		return err
	}
	tracks, spt := d.Geometry()
	headT, headS := e.head()
	w := tsListWriter{io: d.order, tracks: tracks, spt: spt}
	draft, headT, headS, total, err := w.write(vtoc, headT, headS, data)
	if err != nil {
		if isDiskFull(err) {
			return diskFull(e.Name(), "allocation ran past the last track")
		}
		return err
	}
	raw := e.read()
	raw[12], raw[13] = byte(headT), byte(headS)
	raw[15] = byte(total)
	if err := e.write(raw); err != nil {
		return err
	}
	return d.writeVTOC(draft)
}

func (d *GutenbergDisk) FreeSectors() int {
	return 0
}

func (d *GutenbergDisk) FreeSpace() int {
	return d.FreeSectors() * STD_BYTES_PER_SECTOR
}

func (d *GutenbergDisk) UsedSpace() int {
	return STD_DISK_BYTES
}

func (d *GutenbergDisk) Format() error {
	d.order.Format()
	return d.FormatGeometry(STD_SECTORS_PER_TRACK-1, STD_TRACKS_PER_DISK, STD_SECTORS_PER_TRACK)
}

func (d *GutenbergDisk) FormatGeometry(firstCatalogSector, tracksPerDisk, sectorsPerTrack int) error {
	if tracksPerDisk <= DOS_CATALOG_TRACK || tracksPerDisk > d.order.Tracks() ||
		sectorsPerTrack <= GUTENBERG_VTOC_SECTOR || sectorsPerTrack > d.order.SectorsPerTrack() {
		return invalidArgf("cannot format %dx%d on a %dx%d image", tracksPerDisk, sectorsPerTrack, d.order.Tracks(), d.order.SectorsPerTrack())
	}
	if firstCatalogSector < 1 || firstCatalogSector >= sectorsPerTrack {
		return invalidArgf("first catalog sector %d outside track", firstCatalogSector)
	}
	return formatDOSFamily(d.order, GUTENBERG_VTOC_SECTOR, firstCatalogSector, tracksPerDisk, sectorsPerTrack)
}

func (d *GutenbergDisk) ChangeImageOrder(order ImageOrder) error {
	if err := copyByTrackAndSector(d.order, order); err != nil {
		return err
	}
	d.order = order
	return nil
}

// DiskUsage reports every sector as used.
func (d *GutenbergDisk) DiskUsage() DiskUsage {
	tracks, spt := d.Geometry()
	return &sectorUsage{tracks: tracks, spt: spt, free: func(int, int) bool { return false }}
}

func (d *GutenbergDisk) FileColumnHeaders(mode DisplayMode) []FileColumnHeader {
	return dosFileColumnHeaders(mode)
}

func (d *GutenbergDisk) Capabilities() Capabilities {
	return Capabilities{ReadFileData: true, DeletedFiles: true}
}

func (d *GutenbergDisk) SuggestedFilename(name string) string {
	name = strings.ToUpper(name)
	if len(name) > GUTENBERG_NAME_LENGTH {
		name = name[:GUTENBERG_NAME_LENGTH]
	}
	return strings.TrimSpace(name)
}

func (d *GutenbergDisk) SuggestedFiletype() string {
	return "T"
}

func (d *GutenbergDisk) Filetypes() []string {
	return []string{"T"}
}

func (d *GutenbergDisk) NeedsAddress(filetype string) bool {
	return filetype == "B"
}

// GutenbergFileEntry is a 16 byte slot: a 12 character name, the first
// sector of the chain, a flag byte and the sector count.
type GutenbergFileEntry struct {
	disk                  *GutenbergDisk
	track, sector, offset int
}

func (e *GutenbergFileEntry) read() []byte {
	cs, err := e.disk.order.ReadSector(e.track, e.sector)
	if err != nil {
		return make([]byte, GUTENBERG_ENTRY_LENGTH)
	}
	return cs[e.offset : e.offset+GUTENBERG_ENTRY_LENGTH]
}

func (e *GutenbergFileEntry) write(raw []byte) error {
	cs, err := e.disk.order.ReadSector(e.track, e.sector)
	if err != nil {
		return err
	}
	copy(cs[e.offset:e.offset+GUTENBERG_ENTRY_LENGTH], raw)
	return e.disk.order.WriteSector(e.track, e.sector, cs)
}

func (e *GutenbergFileEntry) head() (int, int) {
	raw := e.read()
	return int(raw[12]), int(raw[13])
}

func (e *GutenbergFileEntry) Disk() FormattedDisk {
	return e.disk
}

func (e *GutenbergFileEntry) Name() string {
	return getHighString(e.read()[:GUTENBERG_NAME_LENGTH])
}

func (e *GutenbergFileEntry) SetName(name string) error {
	raw := e.read()
	putHighString(raw[:GUTENBERG_NAME_LENGTH], e.disk.SuggestedFilename(name))
	return e.write(raw)
}

func (e *GutenbergFileEntry) Filetype() string {
	return "T"
}

func (e *GutenbergFileEntry) SetFiletype(filetype string) error {
	if filetype != "T" {
		return invalidArgf("gutenberg files are always T, not %q", filetype)
	}
	return nil
}

func (e *GutenbergFileEntry) TypeHint() CatalogEntryType {
	return CETText
}

func (e *GutenbergFileEntry) IsLocked() bool {
	return e.read()[14]&0x80 != 0
}

func (e *GutenbergFileEntry) SetLocked(locked bool) error {
	raw := e.read()
	if locked {
		raw[14] |= 0x80
	} else {
		raw[14] &= 0x7f
	}
	return e.write(raw)
}

func (e *GutenbergFileEntry) IsDeleted() bool {
	return e.read()[0] == 0xa0
}

func (e *GutenbergFileEntry) IsDirectory() bool {
	return false
}

func (e *GutenbergFileEntry) SectorsUsed() int {
	return int(e.read()[15])
}

func (e *GutenbergFileEntry) Size() int {
	return e.SectorsUsed() * STD_BYTES_PER_SECTOR
}

// Delete blanks the name; the sectors stay allocated.
func (e *GutenbergFileEntry) Delete() error {
	raw := e.read()
	raw[0] = 0xa0
	return e.write(raw)
}

func (e *GutenbergFileEntry) FileData() ([]byte, error) {
	return e.disk.FileData(e)
}

func (e *GutenbergFileEntry) SetFileData(data []byte) error {
	return e.disk.SetFileData(e, data)
}

func (e *GutenbergFileEntry) Columns(mode DisplayMode) []string {
	locked := " "
	if e.IsLocked() {
		locked = "*"
	}
	switch mode {
	case DisplayNative:
		return []string{locked, e.Filetype(), fmt.Sprintf("%03d", e.SectorsUsed()), e.Name()}
	case DisplayDetail:
		deleted := ""
		if e.IsDeleted() {
			deleted = "Deleted"
		}
		t, s := e.head()
		return []string{locked, e.Filetype(), e.Name(), fmt.Sprintf("%d", e.Size()),
			fmt.Sprintf("%d", e.SectorsUsed()), deleted, fmt.Sprintf("T%d S%d", t, s)}
	}
	return standardColumns(e)
}
