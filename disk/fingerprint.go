package disk

// usageUnits describes how a volume's usage cursor positions map onto
// readable units: the unit at position i, and how many units make a row
// (sectors per track, or 16 blocks).
type usageUnits struct {
	read  func(i int) ([]byte, error)
	width int
}

func unitsOf(fd FormattedDisk) (usageUnits, error) {
	switch d := fd.(type) {
	case *DOSDisk:
		_, spt := d.Geometry()
		if vtoc, err := d.ReadVTOC(); err == nil {
			_, spt = d.dimensions(vtoc)
		}
		return usageUnits{width: spt, read: func(i int) ([]byte, error) {
			return d.io.ReadSector(i/spt, i%spt)
		}}, nil
	case *GutenbergDisk:
		_, spt := d.Geometry()
		return usageUnits{width: spt, read: func(i int) ([]byte, error) {
			return d.order.ReadSector(i/spt, i%spt)
		}}, nil
	case *RDOSDisk:
		spt := d.variant.SectorsUsed()
		return usageUnits{width: spt, read: func(i int) ([]byte, error) {
			return d.io.ReadSector(i/spt, i%spt)
		}}, nil
	case *CPMDisk:
		return usageUnits{width: 16, read: d.readBlock}, nil
	case *ProDOSDisk, *PascalDisk:
		return usageUnits{width: 16, read: fd.ImageOrder().ReadBlock}, nil
	}
	return usageUnits{}, unsupportedf("usage units of %s", fd.Kind())
}

// UsageMap flattens the usage cursor. Width is the number of entries per
// display row.
func UsageMap(fd FormattedDisk) (used []bool, width int) {
	width = 16
	if u, err := unitsOf(fd); err == nil {
		width = u.width
	}
	c := fd.DiskUsage()
	for c.HasNext() {
		c.Next()
		used = append(used, c.IsUsed())
	}
	return used, width
}

// ActiveData concatenates the sectors or blocks the volume reports in
// use, in cursor order.
func ActiveData(fd FormattedDisk) ([]byte, error) {
	u, err := unitsOf(fd)
	if err != nil {
		return nil, err
	}
	used, _ := UsageMap(fd)
	var out []byte
	for i, inUse := range used {
		if !inUse {
			continue
		}
		data, err := u.read(i)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}

// ActiveChecksum is the SHA-256 of ActiveData.
func ActiveChecksum(fd FormattedDisk) (string, error) {
	data, err := ActiveData(fd)
	if err != nil {
		return "", err
	}
	return Checksum(data), nil
}
