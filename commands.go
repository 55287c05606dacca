package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paleotronic/storem8/disk"
	"github.com/paleotronic/storem8/loggy"
	"github.com/spf13/cobra"
)

var volumeIndex int

func withVolume(cmd *cobra.Command) {
	cmd.Flags().IntVar(&volumeIndex, "volume", 0, "Volume within the image (UniDOS and OzDOS disks hold two)")
}

func parseOrder(s string) (disk.SectorOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dos", "do", "dos33", "dsk":
		return disk.SectorOrderDOS33, nil
	case "prodos", "po":
		return disk.SectorOrderProDOS, nil
	}
	return disk.SectorOrderDOS33, fmt.Errorf("%w: unknown sector order %q", disk.ErrInvalidArgument, s)
}

// parseSize accepts bytes, or a count of kilobytes ending in k.
func parseSize(s string) (int, error) {
	ss := strings.ToLower(strings.TrimSpace(s))
	mult := 1
	if strings.HasSuffix(ss, "k") {
		mult = 1024
		ss = strings.TrimSuffix(ss, "k")
	}
	v, err := strconv.Atoi(ss)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: bad size %q", disk.ErrInvalidArgument, s)
	}
	return v * mult, nil
}

// parseAddress accepts decimal, 0x hex or $ hex.
func parseAddress(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return -1, nil
	}
	base := 10
	switch {
	case strings.HasPrefix(s, "$"):
		s, base = s[1:], 16
	case strings.HasPrefix(strings.ToLower(s), "0x"):
		s, base = s[2:], 16
	}
	v, err := strconv.ParseInt(s, base, 32)
	if err != nil || v < 0 || v > 0xffff {
		return -1, fmt.Errorf("%w: bad address %q", disk.ErrInvalidArgument, s)
	}
	return int(v), nil
}

type volumeNamer interface {
	FormatVolume(name string) error
}

// formatImage builds a blank image of the given kind and writes it to path.
func formatImage(path string, kind disk.Kind, so disk.SectorOrder, size int, name string) (*volume, error) {
	img, err := disk.NewBlankImage(path, so, size)
	if err != nil {
		return nil, err
	}
	disks, err := disk.FormatDisks(kind, img.Order)
	if err != nil {
		return nil, err
	}
	if name != "" {
		vn, ok := disks[0].(volumeNamer)
		if !ok {
			return nil, fmt.Errorf("%w: %s volumes carry no name", disk.ErrUnsupported, kind)
		}
		if err := vn.FormatVolume(name); err != nil {
			return nil, err
		}
	}
	v := &volume{path: path, image: img, disks: disks}
	if err := v.save(); err != nil {
		return nil, err
	}
	return v, nil
}

func newFormatCommand() *cobra.Command {
	var kind, order, size, name string
	cmd := &cobra.Command{
		Use:   "format <image>",
		Short: "Create a blank formatted image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := disk.ParseKind(kind)
			if err != nil {
				return err
			}
			so, sz := disk.DefaultOrder(k)
			if order != "" {
				if so, err = parseOrder(order); err != nil {
					return err
				}
			}
			if size != "" {
				if sz, err = parseSize(size); err != nil {
					return err
				}
			}
			v, err := formatImage(args[0], k, so, sz, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Formatted %s as %s (%d bytes free)\n", v, k, v.fd().FreeSpace())
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "dos33", "dos33|unidos|ozdos|gutenberg|prodos|pascal|cpm|rdos")
	cmd.Flags().StringVar(&order, "order", "", "Sector order dos|prodos (default depends on kind)")
	cmd.Flags().StringVar(&size, "size", "", "Image size, e.g. 140k or 800k (default depends on kind)")
	cmd.Flags().StringVar(&name, "name", "", "Volume name (ProDOS and Pascal)")
	return cmd
}

func newCatCommand() *cobra.Command {
	var mode string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "cat <image> [directory]",
		Short: "List the files on a volume",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dm, err := disk.ParseDisplayMode(mode)
			if err != nil {
				return err
			}
			v, err := openVolume(args[0], volumeIndex)
			if err != nil {
				return err
			}
			dir := ""
			if len(args) > 1 {
				dir = args[1]
			}
			if !asJSON {
				return listCatalog(cmd.OutOrStdout(), v.fd(), dir, dm)
			}
			files, err := filesIn(v.fd(), dir)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(catalogRows(v.fd(), files, dm))
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "standard", "Columns: native|detail|standard")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the catalog as JSON")
	withVolume(cmd)
	return cmd
}

func newPutCommand() *cobra.Command {
	var filetype, address string
	cmd := &cobra.Command{
		Use:   "put <image> <local file> [name on disk]",
		Short: "Store a local file on a volume",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(address)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			v, err := openVolume(args[0], volumeIndex)
			if err != nil {
				return err
			}
			target := strings.TrimSuffix(filepath.Base(args[1]), filepath.Ext(args[1]))
			if len(args) > 2 {
				target = args[2]
			}
			fe, err := putFile(v.fd(), target, data, filetype, addr)
			if err != nil {
				loggy.Get(0).Errorf("put %s on %s: %v", target, v, err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s, %d bytes)\n", fe.Name(), fe.Filetype(), len(data))
			return v.save()
		},
	}
	cmd.Flags().StringVar(&filetype, "type", "", "Filetype on disk (default depends on the volume)")
	cmd.Flags().StringVar(&address, "addr", "", "Load address for binary files, e.g. $2000")
	withVolume(cmd)
	return cmd
}

func newExtractCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <image> <name> [local file|-]",
		Short: "Copy a file off a volume",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVolume(args[0], volumeIndex)
			if err != nil {
				return err
			}
			fe, data, err := extractFile(v.fd(), args[1])
			if err != nil {
				return err
			}
			out := localName(fe)
			if len(args) > 2 {
				out = args[2]
			}
			if out == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0644); err != nil {
				return err
			}
			loggy.Get(0).Logf("extracted %s from %s to %s", fe.Name(), v, out)
			fmt.Fprintf(cmd.OutOrStdout(), "Extracted %s to %s (%d bytes)\n", fe.Name(), out, len(data))
			return nil
		},
	}
	withVolume(cmd)
	return cmd
}

// localName is the host file name for an extracted entry.
func localName(fe disk.FileEntry) string {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r < 32 {
			return '_'
		}
		return r
	}, strings.TrimSpace(fe.Name()))
	if ft := strings.ToLower(fe.Filetype()); ft != "" {
		name += "." + ft
	}
	return name
}

func newDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete <image> <name>...",
		Aliases: []string{"rm"},
		Short:   "Delete files from a volume",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVolume(args[0], volumeIndex)
			if err != nil {
				return err
			}
			for _, name := range args[1:] {
				if err := deleteFile(v.fd(), name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", name)
			}
			return v.save()
		},
	}
	withVolume(cmd)
	return cmd
}

func newLockCommand(locked bool) *cobra.Command {
	verb, short := "lock", "Write protect files"
	if !locked {
		verb, short = "unlock", "Remove write protection from files"
	}
	cmd := &cobra.Command{
		Use:   verb + " <image> <name>...",
		Short: short,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVolume(args[0], volumeIndex)
			if err != nil {
				return err
			}
			for _, name := range args[1:] {
				if err := lockFile(v.fd(), name, locked); err != nil {
					return err
				}
			}
			return v.save()
		},
	}
	withVolume(cmd)
	return cmd
}

func newRenameCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rename <image> <from> <to>",
		Short: "Rename a file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVolume(args[0], volumeIndex)
			if err != nil {
				return err
			}
			if err := renameFile(v.fd(), args[1], args[2]); err != nil {
				return err
			}
			return v.save()
		},
	}
	withVolume(cmd)
	return cmd
}

func newMkdirCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mkdir <image> <path>",
		Short: "Create a directory (ProDOS)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVolume(args[0], volumeIndex)
			if err != nil {
				return err
			}
			fe, err := makeDirectory(v.fd(), args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created directory %s\n", fe.Name())
			return v.save()
		},
	}
	withVolume(cmd)
	return cmd
}

func newUsageCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage <image>",
		Short: "Show which sectors or blocks are in use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVolume(args[0], volumeIndex)
			if err != nil {
				return err
			}
			printUsage(cmd.OutOrStdout(), v.fd())
			return nil
		},
	}
	withVolume(cmd)
	return cmd
}

// convertImage rewrites src under the sector order and container of dst.
func convertImage(src, dst string, so *disk.SectorOrder) (*volume, error) {
	v, err := openVolume(src, 0)
	if err != nil {
		return nil, err
	}
	size := v.image.Order.Size()
	target := disk.SectorOrderDOS33
	if so != nil {
		target = *so
	} else if target, err = disk.OrderForFile(dst, size); err != nil {
		return nil, err
	}
	out, err := disk.NewBlankImage(dst, target, size)
	if err != nil {
		return nil, err
	}
	// the first volume's copy moves the whole image
	if err := v.disks[0].ChangeImageOrder(out.Order); err != nil {
		return nil, err
	}
	nv, err := newVolume(dst, out, 0)
	if err != nil {
		return nil, err
	}
	if err := nv.save(); err != nil {
		return nil, err
	}
	return nv, nil
}

func newConvertCommand() *cobra.Command {
	var order string
	cmd := &cobra.Command{
		Use:   "convert <image> <new image>",
		Short: "Rewrite an image in another sector order or container",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var so *disk.SectorOrder
			if order != "" {
				o, err := parseOrder(order)
				if err != nil {
					return err
				}
				so = &o
			}
			nv, err := convertImage(args[0], args[1], so)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s order)\n", nv, nv.image.Order.Order())
			return nil
		},
	}
	cmd.Flags().StringVar(&order, "order", "", "Sector order dos|prodos (default from the new file name)")
	return cmd
}

func newInfoCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "info <image>",
		Short: "Analyze an image: format, usage and checksums",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVolume(args[0], volumeIndex)
			if err != nil {
				return err
			}
			r, err := analyze(v)
			if err != nil {
				return err
			}
			r.logBitmap(0)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			}
			r.print(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	withVolume(cmd)
	return cmd
}

func newShellCommand() *cobra.Command {
	var batch string
	cmd := &cobra.Command{
		Use:   "shell [image]",
		Short: "Interactive shell with up to 8 mounted images",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sh := newShell(cmd.OutOrStdout(), cmd.ErrOrStderr())
			if len(args) > 0 {
				if r := sh.process("mount " + shellQuote(args[0])); r == -1 {
					return fmt.Errorf("cannot mount %s", args[0])
				}
			}
			if batch != "" {
				return sh.runBatch(batch, cmd.InOrStdin())
			}
			return sh.interactive()
		},
	}
	cmd.Flags().StringVar(&batch, "batch", "", "Run commands from a file ('-' for stdin) and exit")
	return cmd
}

func newServeCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve <image>",
		Short: "Serve a volume over HTTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVolume(args[0], volumeIndex)
			if err != nil {
				return err
			}
			return serve(listen, newServer(v))
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8080", "Address to listen on")
	withVolume(cmd)
	return cmd
}
