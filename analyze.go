package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/paleotronic/storem8/disk"
	"github.com/paleotronic/storem8/loggy"
)

type FileReport struct {
	Filename    string `json:"filename"`
	Type        string `json:"type"`
	Kind        string `json:"kind"`
	Size        int    `json:"size"`
	LoadAddress int    `json:"loadAddress,omitempty"`
	Locked      bool   `json:"locked"`
	Directory   bool   `json:"directory,omitempty"`
	SHA256      string `json:"sha256,omitempty"`
}

// DiskReport is the fingerprint of one volume: what it is, what it
// holds, and checksums that identify duplicates.
type DiskReport struct {
	FullPath     string        `json:"fullPath"`
	Volume       int           `json:"volume"`
	Format       string        `json:"format"`
	Name         string        `json:"name"`
	Order        string        `json:"order"`
	Size         int           `json:"size"`
	SHA256       string        `json:"sha256"`       // whole image
	SHA256Active string        `json:"sha256Active"` // sectors or blocks in use
	FreeBytes    int           `json:"freeBytes"`
	UsedBytes    int           `json:"usedBytes"`
	Bitmap       []bool        `json:"bitmap"`
	Width        int           `json:"width"`
	Files        []*FileReport `json:"files"`
}

func analyze(v *volume) (*DiskReport, error) {
	fd := v.fd()
	order := v.image.Order
	r := &DiskReport{
		FullPath:  v.path,
		Volume:    v.index,
		Format:    fd.Kind().String(),
		Name:      fd.DiskName(),
		Order:     order.Order().String(),
		Size:      order.Size(),
		SHA256:    disk.Checksum(order.Bytes()),
		FreeBytes: fd.FreeSpace(),
		UsedBytes: fd.UsedSpace(),
	}
	r.Bitmap, r.Width = disk.UsageMap(fd)

	active, err := disk.ActiveChecksum(fd)
	if err != nil {
		return nil, err
	}
	r.SHA256Active = active

	if err := r.addFiles(fd, ""); err != nil {
		return nil, err
	}
	sort.SliceStable(r.Files, func(i, j int) bool {
		return r.Files[i].Filename < r.Files[j].Filename
	})
	return r, nil
}

func (r *DiskReport) addFiles(fd disk.FormattedDisk, dir string) error {
	files, err := filesIn(fd, dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		name := f.Name()
		if dir != "" {
			name = dir + "/" + name
		}
		fr := &FileReport{
			Filename:  name,
			Type:      f.Filetype(),
			Kind:      f.TypeHint().String(),
			Size:      f.Size(),
			Locked:    f.IsLocked(),
			Directory: f.IsDirectory(),
		}
		if a, ok := f.(disk.Addressable); ok {
			fr.LoadAddress = a.Address()
		}
		r.Files = append(r.Files, fr)

		if f.IsDirectory() {
			if err := r.addFiles(fd, name); err != nil {
				return err
			}
			continue
		}
		data, err := f.FileData()
		if err != nil {
			// a damaged chain still leaves the rest of the disk worth reporting
			loggy.Get(0).Errorf("%s: reading %s: %v", r.FullPath, name, err)
			continue
		}
		fr.SHA256 = disk.Checksum(data)
	}
	return nil
}

// logBitmap writes the usage map to the log, a row per track or per
// 16 blocks.
func (r *DiskReport) logBitmap(id int) {
	l := loggy.Get(id)
	if r.Width == 0 {
		return
	}
	for row := 0; row*r.Width < len(r.Bitmap); row++ {
		line := fmt.Sprintf("Row %.3d: ", row)
		for i := row * r.Width; i < (row+1)*r.Width && i < len(r.Bitmap); i++ {
			if r.Bitmap[i] {
				line += fmt.Sprintf("%.2x ", i-row*r.Width)
			} else {
				line += ":: "
			}
		}
		l.Logf("%s", line)
	}
}

func (r *DiskReport) print(w io.Writer) {
	fmt.Fprintf(w, "Disk path   : %s\n", r.FullPath)
	fmt.Fprintf(w, "Disk type   : %s\n", r.Format)
	if r.Name != "" {
		fmt.Fprintf(w, "Volume name : %s\n", r.Name)
	}
	fmt.Fprintf(w, "Volume      : %d\n", r.Volume)
	fmt.Fprintf(w, "Sector order: %s\n", r.Order)
	fmt.Fprintf(w, "Size        : %d bytes\n", r.Size)
	fmt.Fprintf(w, "Used / free : %d / %d bytes\n", r.UsedBytes, r.FreeBytes)
	fmt.Fprintf(w, "SHA256      : %s\n", r.SHA256)
	fmt.Fprintf(w, "SHA256 (act): %s\n", r.SHA256Active)
	fmt.Fprintln(w)
	for _, f := range r.Files {
		add := ""
		if f.LoadAddress != 0 {
			add = fmt.Sprintf("(A$%.4X)", f.LoadAddress)
		}
		sum := f.SHA256
		if f.Directory {
			sum = "<directory>"
		}
		fmt.Fprintln(w, strings.TrimRight(fmt.Sprintf("%-33s %-4s %7d  %-64s  %s", f.Filename, f.Type, f.Size, sum, add), " "))
	}
}
