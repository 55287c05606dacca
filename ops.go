package main

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/paleotronic/storem8/disk"
)

// splitPath separates the directory part of a slash path from the name.
func splitPath(p string) (string, string) {
	p = strings.Trim(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[:i], p[i+1:]
	}
	return "", p
}

// filesIn lists the volume root, or the directory at dir.
func filesIn(fd disk.FormattedDisk, dir string) ([]disk.FileEntry, error) {
	if strings.Trim(dir, "/") == "" {
		return fd.Files()
	}
	fe, err := disk.FindFile(fd, dir)
	if err != nil {
		return nil, err
	}
	d, ok := fe.(disk.DirectoryEntry)
	if !ok || !fe.IsDirectory() {
		return nil, fmt.Errorf("%w: %s is not a directory", disk.ErrInvalidArgument, dir)
	}
	return d.Files()
}

// globFiles matches a shell pattern against the names in one directory.
func globFiles(fd disk.FormattedDisk, pattern string) ([]disk.FileEntry, error) {
	dir, name := splitPath(pattern)
	files, err := filesIn(fd, dir)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = "*"
	}
	var out []disk.FileEntry
	for _, f := range files {
		ok, err := path.Match(strings.ToUpper(name), strings.ToUpper(f.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", disk.ErrInvalidArgument, err)
		}
		if ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func columnWidths(headers []disk.FileColumnHeader) []disk.FileColumnHeader {
	out := make([]disk.FileColumnHeader, len(headers))
	for i, h := range headers {
		h.Width = max(h.Width, len(h.Title))
		out[i] = h
	}
	return out
}

// listCatalog prints the files of a directory in the volume's own columns.
func listCatalog(w io.Writer, fd disk.FormattedDisk, dir string, mode disk.DisplayMode) error {
	files, err := filesIn(fd, dir)
	if err != nil {
		return err
	}
	headers := columnWidths(fd.FileColumnHeaders(mode))

	fmt.Fprintf(w, "Volume %s (%s)\n\n", fd.DiskName(), fd.Kind())
	titles := make([]string, len(headers))
	for i, h := range headers {
		titles[i] = h.Pad(h.Title)
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(titles, "  "), " "))

	for _, f := range files {
		cols := f.Columns(mode)
		row := make([]string, len(cols))
		for i, c := range cols {
			if i < len(headers) {
				c = headers[i].Pad(c)
			}
			row[i] = c
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(row, "  "), " "))
	}

	fmt.Fprintf(w, "\n%d file(s)  USED: %d  FREE: %d\n", len(files), fd.UsedSpace(), fd.FreeSpace())
	return nil
}

// catalogRows keys each file's columns by header key.
func catalogRows(fd disk.FormattedDisk, files []disk.FileEntry, mode disk.DisplayMode) []map[string]string {
	headers := fd.FileColumnHeaders(mode)
	rows := make([]map[string]string, 0, len(files))
	for _, f := range files {
		row := make(map[string]string)
		for i, c := range f.Columns(mode) {
			if i < len(headers) {
				row[headers[i].Key] = strings.TrimSpace(c)
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func createIn(fd disk.FormattedDisk, dir string) (disk.FileEntry, error) {
	if strings.Trim(dir, "/") == "" {
		return fd.CreateFile()
	}
	fe, err := disk.FindFile(fd, dir)
	if err != nil {
		return nil, err
	}
	d, ok := fe.(disk.DirectoryEntry)
	if !ok || !fe.IsDirectory() {
		return nil, fmt.Errorf("%w: %s is not a directory", disk.ErrInvalidArgument, dir)
	}
	return d.CreateFile()
}

// putFile stores data under target, replacing a file of that name.
// An empty filetype keeps the existing type, or uses the volume default
// for a new file. A negative addr leaves the load address alone.
func putFile(fd disk.FormattedDisk, target string, data []byte, filetype string, addr int) (disk.FileEntry, error) {
	caps := fd.Capabilities()
	if !caps.WriteFileData {
		return nil, fmt.Errorf("%w: cannot write files on %s volumes", disk.ErrUnsupported, fd.Kind())
	}
	dir, name := splitPath(target)
	if name == "" {
		return nil, fmt.Errorf("%w: no file name", disk.ErrInvalidArgument)
	}

	created := false
	fe, err := disk.FindFile(fd, target)
	switch {
	case err == nil:
		if fe.IsDirectory() {
			return nil, fmt.Errorf("%w: %s is a directory", disk.ErrInvalidArgument, target)
		}
	case errors.Is(err, disk.ErrNotFound):
		if !caps.CreateFile {
			return nil, fmt.Errorf("%w: cannot create files on %s volumes", disk.ErrUnsupported, fd.Kind())
		}
		if fe, err = createIn(fd, dir); err != nil {
			return nil, err
		}
		created = true
		if filetype == "" {
			filetype = fd.SuggestedFiletype()
		}
	default:
		return nil, err
	}

	err = storeFile(fd, fe, name, created, data, filetype, addr)
	if err != nil && created {
		fe.Delete()
	}
	if err != nil {
		return nil, err
	}
	return fe, nil
}

func storeFile(fd disk.FormattedDisk, fe disk.FileEntry, name string, created bool, data []byte, filetype string, addr int) error {
	if created {
		if err := fe.SetName(fd.SuggestedFilename(name)); err != nil {
			return err
		}
	}
	if filetype != "" {
		if err := fe.SetFiletype(filetype); err != nil {
			return err
		}
	}
	if err := fe.SetFileData(data); err != nil {
		return err
	}
	if addr >= 0 && fd.NeedsAddress(fe.Filetype()) {
		if a, ok := fe.(disk.Addressable); ok {
			return a.SetAddress(addr)
		}
	}
	return nil
}

func extractFile(fd disk.FormattedDisk, name string) (disk.FileEntry, []byte, error) {
	fe, err := disk.FindFile(fd, name)
	if err != nil {
		return nil, nil, err
	}
	if fe.IsDirectory() {
		return nil, nil, fmt.Errorf("%w: %s is a directory", disk.ErrInvalidArgument, name)
	}
	data, err := fe.FileData()
	if err != nil {
		return nil, nil, err
	}
	return fe, data, nil
}

func deleteFile(fd disk.FormattedDisk, name string) error {
	if !fd.Capabilities().DeleteFile {
		return fmt.Errorf("%w: cannot delete files on %s volumes", disk.ErrUnsupported, fd.Kind())
	}
	fe, err := disk.FindFile(fd, name)
	if err != nil {
		return err
	}
	return fe.Delete()
}

func lockFile(fd disk.FormattedDisk, name string, locked bool) error {
	fe, err := disk.FindFile(fd, name)
	if err != nil {
		return err
	}
	return fe.SetLocked(locked)
}

func renameFile(fd disk.FormattedDisk, from, to string) error {
	fe, err := disk.FindFile(fd, from)
	if err != nil {
		return err
	}
	dir, _ := splitPath(from)
	newName := fd.SuggestedFilename(to)
	if existing, err := filesIn(fd, dir); err == nil {
		for _, f := range existing {
			if f != fe && strings.EqualFold(f.Name(), newName) && !strings.EqualFold(fe.Name(), newName) {
				return fmt.Errorf("%w: %s already exists", disk.ErrInvalidArgument, newName)
			}
		}
	}
	return fe.SetName(newName)
}

type directoryMaker interface {
	CreateDirectory(name string) (disk.FileEntry, error)
}

func makeDirectory(fd disk.FormattedDisk, p string) (disk.FileEntry, error) {
	if !fd.Capabilities().CreateDirectories {
		return nil, fmt.Errorf("%w: %s volumes have no directories", disk.ErrUnsupported, fd.Kind())
	}
	dir, name := splitPath(p)
	var parent directoryMaker = fd
	if dir != "" {
		fe, err := disk.FindFile(fd, dir)
		if err != nil {
			return nil, err
		}
		dm, ok := fe.(directoryMaker)
		if !ok || !fe.IsDirectory() {
			return nil, fmt.Errorf("%w: %s is not a directory", disk.ErrInvalidArgument, dir)
		}
		parent = dm
	}
	return parent.CreateDirectory(fd.SuggestedFilename(name))
}

// printUsage draws the usage map, one row per track or per 16 blocks.
func printUsage(w io.Writer, fd disk.FormattedDisk) {
	used, width := disk.UsageMap(fd)
	label := "Track"
	if width == 16 && (fd.Kind() == disk.KindProDOS || fd.Kind() == disk.KindPascal || fd.Kind() == disk.KindCPM) {
		label = "Block"
	}
	free := 0
	for row := 0; row*width < len(used); row++ {
		line := fmt.Sprintf("%s %.3X: ", label, row*width)
		if label == "Track" {
			line = fmt.Sprintf("%s %.2d: ", label, row)
		}
		for i := row * width; i < (row+1)*width && i < len(used); i++ {
			if used[i] {
				line += fmt.Sprintf("%.2x ", i-row*width)
			} else {
				line += ":: "
				free++
			}
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
	fmt.Fprintf(w, "\nUSED: %d  FREE: %d\n", len(used)-free, free)
}
