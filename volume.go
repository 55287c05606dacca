package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paleotronic/storem8/disk"
	"github.com/paleotronic/storem8/loggy"
)

// volume is one formatted volume of an image file, plus what is needed to
// write the file back.
type volume struct {
	path  string
	image *disk.Image
	disks []disk.FormattedDisk
	index int
}

func openVolume(path string, index int) (*volume, error) {
	img, err := disk.OpenImage(path)
	if err != nil {
		return nil, err
	}
	return newVolume(path, img, index)
}

func newVolume(path string, img *disk.Image, index int) (*volume, error) {
	disks, err := img.Disks()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if index < 0 || index >= len(disks) {
		return nil, fmt.Errorf("%w: %s holds %d volume(s), no volume %d", disk.ErrInvalidArgument, filepath.Base(path), len(disks), index)
	}
	loggy.Get(0).Logf("opened %s: %s volume %d of %d, %s order", path, disks[index].Kind(), index, len(disks), img.Order.Order())
	return &volume{path: path, image: img, disks: disks, index: index}, nil
}

func (v *volume) fd() disk.FormattedDisk {
	return v.disks[v.index]
}

func (v *volume) String() string {
	if len(v.disks) > 1 {
		return fmt.Sprintf("%s#%d", filepath.Base(v.path), v.index)
	}
	return filepath.Base(v.path)
}

// save writes the image back to its file, after backing up what was there.
func (v *volume) save() error {
	data, err := v.image.Bytes()
	if err != nil {
		return err
	}
	if !noBackup {
		if _, err := backupFile(v.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("backup of %s: %w", v.path, err)
		}
	}
	if err := os.WriteFile(v.path, data, 0644); err != nil {
		return err
	}
	loggy.Get(0).Logf("updated disk %s (%d bytes)", v.path, len(data))
	return nil
}

func fts() string {
	return time.Now().Format("20060102150405")
}

// backupFile copies path below the backup folder, keeping its absolute
// path so images with the same name do not collide.
func backupFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = strings.Replace(abs, ":", "", -1)
	abs = strings.Replace(abs, "\\", "/", -1)

	bpath := filepath.Join(backupPath(), filepath.FromSlash(abs)) + "." + fts()
	if err := os.MkdirAll(filepath.Dir(bpath), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(bpath, data, 0644); err != nil {
		return "", err
	}
	loggy.Get(0).Logf("backed up disk to %s", bpath)
	return bpath, nil
}
