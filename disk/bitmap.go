package disk

const VTOC_BITMAP_OFFSET = 0x38

// Fixed ceiling for bitmap coordinates, whatever the disk geometry.
const MAX_BITMAP_TRACK = 50
const MAX_BITMAP_SECTOR = 32

func checkRange(track, sector int) error {
	if track < 0 || sector < 0 || track > MAX_BITMAP_TRACK || sector > MAX_BITMAP_SECTOR {
		return invalidArgf("track %d sector %d beyond bitmap limits", track, sector)
	}
	return nil
}

// freeMapByte locates the bitmap byte for a sector: four bytes per track,
// the first byte holding sectors 15..8 and the second 7..0. Sectors 16..31
// of 32 sector volumes use the third and fourth bytes the same way.
func freeMapByte(track, sector int) int {
	off := VTOC_BITMAP_OFFSET + track*4 + (1 - ((sector & 0x8) >> 3))
	if sector >= 16 {
		off += 2
	}
	return off
}

func freeMapBit(sector int) byte {
	return 1 << uint(sector&0x7)
}

func isSectorFree(vtoc []byte, track, sector int) (bool, error) {
	if err := checkRange(track, sector); err != nil {
		return false, err
	}
	off := freeMapByte(track, sector)
	if off >= len(vtoc) {
		return false, invalidArgf("track %d outside VTOC bitmap", track)
	}
	return vtoc[off]&freeMapBit(sector) != 0, nil
}

func setSectorFree(vtoc []byte, track, sector int) error {
	if err := checkRange(track, sector); err != nil {
		return err
	}
	off := freeMapByte(track, sector)
	if off >= len(vtoc) {
		return invalidArgf("track %d outside VTOC bitmap", track)
	}
	vtoc[off] |= freeMapBit(sector)
	return nil
}

func setSectorUsed(vtoc []byte, track, sector int) error {
	if err := checkRange(track, sector); err != nil {
		return err
	}
	off := freeMapByte(track, sector)
	if off >= len(vtoc) {
		return invalidArgf("track %d outside VTOC bitmap", track)
	}
	vtoc[off] &^= freeMapBit(sector)
	return nil
}

func countFreeSectors(vtoc []byte, tracks, spt int) int {
	n := 0
	for t := 0; t < tracks; t++ {
		for s := 0; s < spt; s++ {
			if free, _ := isSectorFree(vtoc, t, s); free {
				n++
			}
		}
	}
	return n
}

// nextFreeSector scans forward from (track, sector), ascending sector
// within a track and then ascending track.
func nextFreeSector(vtoc []byte, track, sector, tracks, spt int) (int, int, error) {
	for track < tracks {
		free, err := isSectorFree(vtoc, track, sector)
		if err != nil {
			return track, sector, err
		}
		if free {
			return track, sector, nil
		}
		sector++
		if sector >= spt {
			track++
			sector = 0
		}
	}
	return track, sector, diskFull("", "no free sector in bitmap")
}

// blockBitmap is a ProDOS style volume bitmap: one bit per block, most
// significant bit first, set when free.
type blockBitmap struct {
	data   []byte
	blocks int
}

func newBlockBitmap(blocks int) *blockBitmap {
	n := (blocks + PRODOS_BLOCK_SIZE*8 - 1) / (PRODOS_BLOCK_SIZE * 8)
	return &blockBitmap{data: make([]byte, n*PRODOS_BLOCK_SIZE), blocks: blocks}
}

func (b *blockBitmap) clone() *blockBitmap {
	return &blockBitmap{data: append([]byte(nil), b.data...), blocks: b.blocks}
}

func (b *blockBitmap) isFree(block int) bool {
	if block < 0 || block >= b.blocks {
		return false
	}
	return b.data[block/8]&(0x80>>uint(block%8)) != 0
}

func (b *blockBitmap) setFree(block int) {
	if block >= 0 && block < b.blocks {
		b.data[block/8] |= 0x80 >> uint(block%8)
	}
}

func (b *blockBitmap) setUsed(block int) {
	if block >= 0 && block < b.blocks {
		b.data[block/8] &^= 0x80 >> uint(block%8)
	}
}

func (b *blockBitmap) freeCount() int {
	n := 0
	for i := 0; i < b.blocks; i++ {
		if b.isFree(i) {
			n++
		}
	}
	return n
}

// allocate takes the lowest free block.
func (b *blockBitmap) allocate() (int, error) {
	for i := 0; i < b.blocks; i++ {
		if b.isFree(i) {
			b.setUsed(i)
			return i, nil
		}
	}
	return -1, diskFull("", "no free block in volume bitmap")
}
