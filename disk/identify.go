package disk

import "strings"

func validVTOC(vtoc []byte, tracks, spt int) bool {
	return vtoc[0x27] == DOS_TRACK_SECTOR_PAIRS &&
		int(vtoc[0x35]) == spt &&
		vtoc[0x34] > DOS_CATALOG_TRACK && int(vtoc[0x34]) <= tracks &&
		vtoc[1] > 0 && int(vtoc[1]) < tracks &&
		int(vtoc[2]) < spt
}

func isDOS33(order ImageOrder) bool {
	vtoc, err := order.ReadSector(DOS_CATALOG_TRACK, DOS_VTOC_SECTOR)
	return err == nil && validVTOC(vtoc, order.Tracks(), order.SectorsPerTrack())
}

func isLogicalDOS(d *DOSDisk) bool {
	vtoc, err := d.ReadVTOC()
	return err == nil && validVTOC(vtoc, LOGICAL_VOLUME_TRACKS, LOGICAL_VOLUME_SECTORS)
}

func isGutenberg(order ImageOrder) bool {
	if order.Tracks() <= DOS_CATALOG_TRACK || order.SectorsPerTrack() <= GUTENBERG_VTOC_SECTOR || isDOS33(order) {
		return false
	}
	vtoc, err := order.ReadSector(DOS_CATALOG_TRACK, GUTENBERG_VTOC_SECTOR)
	return err == nil && validVTOC(vtoc, order.Tracks(), order.SectorsPerTrack())
}

func isProDOS(order ImageOrder) bool {
	if order.Blocks() <= PRODOS_BITMAP_BLOCK {
		return false
	}
	data, err := order.ReadBlock(PRODOS_VOLUME_DIR_BLOCK)
	if err != nil {
		return false
	}
	vdh := prodosRecord(data[4 : 4+PRODOS_ENTRY_SIZE])
	total := vdh.word(0x25)
	return data[0] == 0 && data[1] == 0 &&
		vdh.storageType() == StorageType_Volume_Header &&
		vdh[0x1f] == PRODOS_ENTRY_SIZE && vdh[0x20] == PRODOS_ENTRIES_PER_BLOCK &&
		total > 0 && total <= order.Blocks()
}

func isPascal(order ImageOrder) bool {
	if order.Blocks() <= PASCAL_DIRECTORY_END {
		return false
	}
	data, err := order.ReadBlock(PASCAL_VOLUME_BLOCK)
	if err != nil {
		return false
	}
	if !(data[0x00] == 0 && data[0x01] == 0) ||
		!(data[0x04] == 0 && data[0x05] == 0) ||
		!(data[0x06] > 0 && data[0x06] <= PASCAL_MAX_VOLUME_NAME) {
		return false
	}
	for _, ch := range data[0x07 : 0x07+int(data[0x06])] {
		if ch < 0x20 || ch >= 0x7f || strings.ContainsRune("$=?,[#:", rune(ch)) {
			return false
		}
	}
	return true
}

func isCPM(order ImageOrder) bool {
	if order.Size() != STD_DISK_BYTES || order.SectorsPerTrack() != STD_SECTORS_PER_TRACK {
		return false
	}
	dir, err := NewCPMDisk(order).directory()
	if err != nil {
		return false
	}
	for i := 0; i < CPM_DIRECTORY_ENTRIES; i++ {
		r := cpmEntry(dir, i)
		if r[0] == CPM_DELETED {
			continue
		}
		if r[0] > CPM_MAX_USER || r[15] > CPM_RECORDS_PER_EXTENT {
			return false
		}
		for _, c := range r[1:12] {
			if c&0x7f < 0x20 {
				return false
			}
		}
	}
	return true
}

// Identify works out which layouts the image holds. 800K images may carry
// two DOS volumes; everything else yields one disk.
func Identify(order ImageOrder) ([]FormattedDisk, error) {
	if v := DetectRDOS(order.Bytes()); v != RDOS_Unknown {
		d, err := NewRDOSDisk(order, v)
		if err != nil {
			return nil, err
		}
		return []FormattedDisk{d}, nil
	}
	if order.SectorsPerTrack() == STD_SECTORS_PER_TRACK {
		if isProDOS(order) {
			return []FormattedDisk{NewProDOSDisk(order)}, nil
		}
		if isPascal(order) {
			return []FormattedDisk{NewPascalDisk(order)}, nil
		}
	}
	if order.Size() == PRODOS_800KB_DISK_BYTES {
		for _, mk := range []func(ImageOrder, int) *DOSDisk{NewUniDOSDisk, NewOzDOSDisk} {
			first, second := mk(order, 0), mk(order, 1)
			if isLogicalDOS(first) && isLogicalDOS(second) {
				return []FormattedDisk{first, second}, nil
			}
		}
	}
	if isDOS33(order) {
		return []FormattedDisk{NewDOSDisk(order)}, nil
	}
	if isGutenberg(order) {
		return []FormattedDisk{NewGutenbergDisk(order)}, nil
	}
	if isCPM(order) {
		return []FormattedDisk{NewCPMDisk(order)}, nil
	}
	return nil, unsupportedf("unrecognised disk format")
}

// NewDisks binds the engines for kind to order without touching the image.
func NewDisks(kind Kind, order ImageOrder) ([]FormattedDisk, error) {
	switch kind {
	case KindDOS33:
		return []FormattedDisk{NewDOSDisk(order)}, nil
	case KindUniDOS, KindOzDOS:
		if order.Size() != PRODOS_800KB_DISK_BYTES {
			return nil, invalidArgf("%s needs an 800K image", kind)
		}
		if kind == KindUniDOS {
			return []FormattedDisk{NewUniDOSDisk(order, 0), NewUniDOSDisk(order, 1)}, nil
		}
		return []FormattedDisk{NewOzDOSDisk(order, 0), NewOzDOSDisk(order, 1)}, nil
	case KindGutenberg:
		return []FormattedDisk{NewGutenbergDisk(order)}, nil
	case KindProDOS:
		return []FormattedDisk{NewProDOSDisk(order)}, nil
	case KindPascal:
		return []FormattedDisk{NewPascalDisk(order)}, nil
	case KindCPM:
		return []FormattedDisk{NewCPMDisk(order)}, nil
	case KindRDOS:
		v := RDOS_33
		if order.SectorsPerTrack() == STD_SECTORS_PER_TRACK_OLD {
			v = RDOS_32
		}
		d, err := NewRDOSDisk(order, v)
		if err != nil {
			return nil, err
		}
		return []FormattedDisk{d}, nil
	}
	return nil, invalidArgf("unknown disk format %d", kind)
}

// FormatDisks lays down empty volumes of kind across the whole image.
func FormatDisks(kind Kind, order ImageOrder) ([]FormattedDisk, error) {
	disks, err := NewDisks(kind, order)
	if err != nil {
		return nil, err
	}
	for _, d := range disks {
		if err := d.Format(); err != nil {
			return nil, err
		}
	}
	return disks, nil
}

// DefaultOrder is the sector order and size a fresh image of kind uses.
func DefaultOrder(kind Kind) (SectorOrder, int) {
	switch kind {
	case KindUniDOS, KindOzDOS:
		return SectorOrderProDOS, PRODOS_800KB_DISK_BYTES
	case KindProDOS, KindPascal:
		return SectorOrderProDOS, STD_DISK_BYTES
	}
	return SectorOrderDOS33, STD_DISK_BYTES
}
