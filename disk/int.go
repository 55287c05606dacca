package disk

import (
	"fmt"
	"strings"
)

type CatalogEntryType int

const (
	CETUnknown CatalogEntryType = iota
	CETBinary
	CETBasicApplesoft
	CETBasicInteger
	CETPascal
	CETText
	CETData
	CETGraphics
	CETDirectory
)

func (t CatalogEntryType) String() string {
	switch t {
	case CETBinary:
		return "binary"
	case CETBasicApplesoft:
		return "applesoft"
	case CETBasicInteger:
		return "integer"
	case CETPascal:
		return "pascal"
	case CETText:
		return "text"
	case CETData:
		return "data"
	case CETGraphics:
		return "graphics"
	case CETDirectory:
		return "directory"
	}
	return "unknown"
}

// Kind tags the on-disk layout behind a FormattedDisk.
type Kind int

const (
	KindDOS33 Kind = iota
	KindUniDOS
	KindOzDOS
	KindGutenberg
	KindProDOS
	KindPascal
	KindCPM
	KindRDOS
)

var kindNames = map[Kind]string{
	KindDOS33:     "dos33",
	KindUniDOS:    "unidos",
	KindOzDOS:     "ozdos",
	KindGutenberg: "gutenberg",
	KindProDOS:    "prodos",
	KindPascal:    "pascal",
	KindCPM:       "cpm",
	KindRDOS:      "rdos",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, v := range kindNames {
		if v == s {
			return k, nil
		}
	}
	return KindDOS33, invalidArgf("unknown disk format %q", s)
}

type DisplayMode int

const (
	DisplayNative DisplayMode = iota
	DisplayDetail
	DisplayStandard
)

func ParseDisplayMode(s string) (DisplayMode, error) {
	switch strings.ToLower(s) {
	case "native":
		return DisplayNative, nil
	case "detail":
		return DisplayDetail, nil
	case "", "standard":
		return DisplayStandard, nil
	}
	return DisplayStandard, invalidArgf("unknown display mode %q", s)
}

type Align int

const (
	AlignLeft Align = iota
	AlignCenter
	AlignRight
)

type FileColumnHeader struct {
	Title string
	Width int
	Align Align
	Key   string
}

// Pad fits v to the column width.
func (h FileColumnHeader) Pad(v string) string {
	if len(v) >= h.Width {
		return v
	}
	gap := h.Width - len(v)
	switch h.Align {
	case AlignRight:
		return strings.Repeat(" ", gap) + v
	case AlignCenter:
		left := gap / 2
		return strings.Repeat(" ", left) + v + strings.Repeat(" ", gap-left)
	}
	return v + strings.Repeat(" ", gap)
}

func standardHeaders() []FileColumnHeader {
	return []FileColumnHeader{
		{Title: "Name", Width: 30, Align: AlignLeft, Key: "name"},
		{Title: "Filetype", Width: 8, Align: AlignCenter, Key: "filetype"},
		{Title: "Size (bytes)", Width: 6, Align: AlignRight, Key: "size"},
		{Title: "Locked?", Width: 6, Align: AlignCenter, Key: "locked"},
	}
}

func standardColumns(e FileEntry) []string {
	locked := ""
	if e.IsLocked() {
		locked = "Yes"
	}
	return []string{e.Name(), e.Filetype(), fmt.Sprintf("%d", e.Size()), locked}
}

type Capabilities struct {
	CreateFile        bool
	ReadFileData      bool
	WriteFileData     bool
	DeleteFile        bool
	CreateDirectories bool
	DeletedFiles      bool
}

// FormattedDisk is one volume interpreted through its on-disk layout.
type FormattedDisk interface {
	Kind() Kind
	DiskName() string
	ImageOrder() ImageOrder
	Files() ([]FileEntry, error)
	CreateFile() (FileEntry, error)
	CreateDirectory(name string) (FileEntry, error)
	FileData(e FileEntry) ([]byte, error)
	SetFileData(e FileEntry, data []byte) error
	FreeSpace() int
	UsedSpace() int
	Format() error
	ChangeImageOrder(order ImageOrder) error
	DiskUsage() DiskUsage
	FileColumnHeaders(mode DisplayMode) []FileColumnHeader
	Capabilities() Capabilities
	SuggestedFilename(name string) string
	SuggestedFiletype() string
	Filetypes() []string
	NeedsAddress(filetype string) bool
}

// FileEntry is a view onto one catalog record. Accessors read through
// the owning disk each time.
type FileEntry interface {
	Disk() FormattedDisk
	Name() string
	SetName(name string) error
	Filetype() string
	SetFiletype(filetype string) error
	TypeHint() CatalogEntryType
	IsLocked() bool
	SetLocked(locked bool) error
	IsDeleted() bool
	IsDirectory() bool
	Size() int
	Delete() error
	FileData() ([]byte, error)
	SetFileData(data []byte) error
	Columns(mode DisplayMode) []string
}

// DirectoryEntry is a FileEntry that holds other entries.
type DirectoryEntry interface {
	FileEntry
	Files() ([]FileEntry, error)
	CreateFile() (FileEntry, error)
}

// Addressable entries carry a load address (DOS B files, ProDOS aux type).
type Addressable interface {
	Address() int
	SetAddress(addr int) error
}

// DiskUsage walks every sector (or block) of a disk. Status queries are
// only meaningful after the first Next.
type DiskUsage interface {
	HasNext() bool
	Next()
	IsFree() bool
	IsUsed() bool
}

type sectorUsage struct {
	tracks, spt int
	track       int
	sector      int
	started     bool
	free        func(track, sector int) bool
}

func (u *sectorUsage) HasNext() bool {
	if u.tracks == 0 || u.spt == 0 {
		return false
	}
	return !u.started || u.track < u.tracks-1 || u.sector < u.spt-1
}

func (u *sectorUsage) Next() {
	if !u.started {
		u.started = true
		return
	}
	u.sector++
	if u.sector >= u.spt {
		u.sector = 0
		u.track++
	}
}

func (u *sectorUsage) IsFree() bool {
	return u.started && u.free(u.track, u.sector)
}

func (u *sectorUsage) IsUsed() bool {
	return u.started && !u.free(u.track, u.sector)
}

type blockUsage struct {
	blocks  int
	block   int
	started bool
	free    func(block int) bool
}

func (u *blockUsage) HasNext() bool {
	if u.blocks == 0 {
		return false
	}
	return !u.started || u.block < u.blocks-1
}

func (u *blockUsage) Next() {
	if !u.started {
		u.started = true
		return
	}
	u.block++
}

func (u *blockUsage) IsFree() bool {
	return u.started && u.free(u.block)
}

func (u *blockUsage) IsUsed() bool {
	return u.started && !u.free(u.block)
}

func checkSameSize(from, to ImageOrder) error {
	if from.Size() != to.Size() {
		return invalidArgf("cannot change order from %d to %d byte image", from.Size(), to.Size())
	}
	return nil
}

func copyByTrackAndSector(from, to ImageOrder) error {
	if err := checkSameSize(from, to); err != nil {
		return err
	}
	for t := 0; t < from.Tracks(); t++ {
		for s := 0; s < from.SectorsPerTrack(); s++ {
			data, err := from.ReadSector(t, s)
			if err != nil {
				return err
			}
			if err := to.WriteSector(t, s, data); err != nil {
				return err
			}
		}
	}
	return nil
}

func copyByBlock(from, to ImageOrder) error {
	if err := checkSameSize(from, to); err != nil {
		return err
	}
	for b := 0; b < from.Blocks(); b++ {
		data, err := from.ReadBlock(b)
		if err != nil {
			return err
		}
		if err := to.WriteBlock(b, data); err != nil {
			return err
		}
	}
	return nil
}

// FindFile resolves a name, or a slash separated path through
// directories, to an entry. Matching ignores case.
func FindFile(fd FormattedDisk, path string) (FileEntry, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	files, err := fd.Files()
	if err != nil {
		return nil, err
	}
	for i, part := range parts {
		var found FileEntry
		for _, f := range files {
			if strings.EqualFold(f.Name(), part) {
				found = f
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		if i == len(parts)-1 {
			return found, nil
		}
		dir, ok := found.(DirectoryEntry)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a directory", ErrNotFound, part)
		}
		if files, err = dir.Files(); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
}
