package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/paleotronic/storem8/disk"
	"github.com/paleotronic/storem8/loggy"
)

const MAXVOL = 8

const (
	shellOK    = 0
	shellError = -1
	shellQuit  = 999
)

type shell struct {
	out, errs io.Writer
	volumes   [MAXVOL]*volume
	target    int
}

func newShell(out, errs io.Writer) *shell {
	return &shell{out: out, errs: errs, target: -1}
}

type shellCommand struct {
	Name             string
	Description      string
	MinArgs, MaxArgs int
	Code             func(s *shell, args []string) int
	NeedsMount       bool
	Context          shellCommandContext
	Text             []string
}

type shellCommandContext int

const (
	sccNone shellCommandContext = 1 << iota
	sccLocal
	sccDiskFile
	sccCommand
)

var commandList map[string]*shellCommand

func init() {
	commandList = map[string]*shellCommand{
		"mount": {
			Name:        "mount",
			Description: "Mount a disk image",
			MinArgs:     1,
			MaxArgs:     2,
			Code:        shellMount,
			Context:     sccLocal,
			Text:        []string{"mount <diskfile> [volume]", "", "Mounts the image in the first free slot and targets it."},
		},
		"unmount": {
			Name:        "unmount",
			Description: "Unmount a slot",
			MaxArgs:     1,
			Code:        shellUnmount,
			NeedsMount:  true,
			Text:        []string{"unmount [slot]"},
		},
		"target": {
			Name:        "target",
			Description: "Select the slot commands work on",
			MinArgs:     1,
			MaxArgs:     1,
			Code:        shellTarget,
			Text:        []string{"target <slot>"},
		},
		"disks": {
			Name:        "disks",
			Description: "List mounted slots",
			Code:        shellDisks,
		},
		"cat": {
			Name:        "cat",
			Description: "List files on the target volume",
			MaxArgs:     2,
			Code:        shellCat,
			NeedsMount:  true,
			Context:     sccDiskFile,
			Text:        []string{"cat [pattern|directory] [native|detail|standard]"},
		},
		"info": {
			Name:        "info",
			Description: "Report on the target volume",
			Code:        shellInfo,
			NeedsMount:  true,
		},
		"extract": {
			Name:        "extract",
			Description: "Copy files off the target volume",
			MinArgs:     1,
			MaxArgs:     2,
			Code:        shellExtract,
			NeedsMount:  true,
			Context:     sccDiskFile,
			Text:        []string{"extract <pattern> [local directory]"},
		},
		"put": {
			Name:        "put",
			Description: "Store a local file on the target volume",
			MinArgs:     1,
			MaxArgs:     4,
			Code:        shellPut,
			NeedsMount:  true,
			Context:     sccLocal,
			Text:        []string{"put <local file> [name] [type] [address]", "", "Addresses may be written $2000 or 0x2000."},
		},
		"delete": {
			Name:        "delete",
			Description: "Delete files from the target volume",
			MinArgs:     1,
			MaxArgs:     1,
			Code:        shellDelete,
			NeedsMount:  true,
			Context:     sccDiskFile,
			Text:        []string{"delete <pattern>"},
		},
		"lock": {
			Name:        "lock",
			Description: "Write protect files",
			MinArgs:     1,
			MaxArgs:     1,
			Code:        func(s *shell, args []string) int { return shellLock(s, args, true) },
			NeedsMount:  true,
			Context:     sccDiskFile,
			Text:        []string{"lock <pattern>"},
		},
		"unlock": {
			Name:        "unlock",
			Description: "Remove write protection",
			MinArgs:     1,
			MaxArgs:     1,
			Code:        func(s *shell, args []string) int { return shellLock(s, args, false) },
			NeedsMount:  true,
			Context:     sccDiskFile,
			Text:        []string{"unlock <pattern>"},
		},
		"rename": {
			Name:        "rename",
			Description: "Rename a file",
			MinArgs:     2,
			MaxArgs:     2,
			Code:        shellRename,
			NeedsMount:  true,
			Context:     sccDiskFile,
			Text:        []string{"rename <from> <to>"},
		},
		"mkdir": {
			Name:        "mkdir",
			Description: "Create a directory",
			MinArgs:     1,
			MaxArgs:     1,
			Code:        shellMkdir,
			NeedsMount:  true,
			Context:     sccDiskFile,
			Text:        []string{"mkdir <path>"},
		},
		"usage": {
			Name:        "usage",
			Description: "Show the sector or block usage map",
			Code:        shellUsage,
			NeedsMount:  true,
		},
		"dump": {
			Name:        "dump",
			Description: "Hex dump a sector or block of the image",
			MinArgs:     1,
			MaxArgs:     2,
			Code:        shellDump,
			NeedsMount:  true,
			Text:        []string{"dump <track> <sector>", "dump <block>"},
		},
		"format": {
			Name:        "format",
			Description: "Reformat the target image",
			MinArgs:     1,
			MaxArgs:     1,
			Code:        shellFormat,
			NeedsMount:  true,
			Text:        []string{"format <dos33|unidos|ozdos|gutenberg|prodos|pascal|cpm|rdos>", "", "Erases every volume of the image."},
		},
		"save": {
			Name:        "save",
			Description: "Write the target image back to its file",
			Code:        shellSave,
			NeedsMount:  true,
		},
		"lcd": {
			Name:        "lcd",
			Description: "Change the local working directory",
			MaxArgs:     1,
			Code:        shellCd,
			Context:     sccLocal,
		},
		"help": {
			Name:        "help",
			Description: "List commands, or describe one",
			MaxArgs:     1,
			Code:        shellHelp,
			Context:     sccCommand,
		},
		"quit": {
			Name:        "quit",
			Description: "Leave the shell",
			Code:        func(s *shell, args []string) int { return shellQuit },
		},
	}
}

// smartSplit splits on spaces, honouring double quotes and backslash
// escaped spaces.
func smartSplit(line string) (string, []string) {
	var out []string

	var inqq bool
	var lastEscape bool
	var chunk string

	add := func() {
		if chunk != "" {
			out = append(out, chunk)
			chunk = ""
		}
	}

	for _, ch := range line {
		switch {
		case ch == '"':
			inqq = !inqq
			add()
		case ch == ' ':
			if inqq || lastEscape {
				chunk += string(ch)
			} else {
				add()
			}
			lastEscape = false
		case ch == '\\' && !inqq:
			lastEscape = true
		default:
			chunk += string(ch)
			lastEscape = false
		}
	}

	add()

	if len(out) == 0 {
		return "", out
	}
	return out[0], out[1:]
}

func shellQuote(s string) string {
	return strings.Replace(s, " ", "\\ ", -1)
}

func (s *shell) errorf(format string, v ...interface{}) int {
	msg := fmt.Sprintf(format, v...)
	loggy.Get(0).Errorf("shell: %s", msg)
	fmt.Fprintln(s.errs, "Error: "+msg)
	return shellError
}

func (s *shell) current() *volume {
	if s.target < 0 || s.target >= MAXVOL {
		return nil
	}
	return s.volumes[s.target]
}

func (s *shell) prompt() string {
	v := s.current()
	if v == nil {
		return "dsk:<no mount>> "
	}
	return fmt.Sprintf("dsk:%d:%s> ", s.target, v)
}

func (s *shell) process(line string) int {
	verb, args := smartSplit(strings.TrimSpace(line))
	if verb == "" || strings.HasPrefix(verb, "#") {
		return shellOK
	}
	verb = strings.ToLower(verb)
	command, ok := commandList[verb]
	if !ok {
		return s.errorf("unrecognized command: %s", verb)
	}
	if len(args) < command.MinArgs {
		return s.errorf("%s expects at least %d arguments", verb, command.MinArgs)
	}
	if len(args) > command.MaxArgs {
		return s.errorf("%s expects at most %d arguments", verb, command.MaxArgs)
	}
	if command.NeedsMount && s.current() == nil {
		return s.errorf("%s only works on mounted disks", verb)
	}
	loggy.Get(0).Debugf("shell: %s %v", verb, args)
	return command.Code(s, args)
}

// runBatch executes commands from a file, or stdin for "-", stopping at
// the first failure.
func (s *shell) runBatch(name string, stdin io.Reader) error {
	r := stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		n++
		switch s.process(scanner.Text()) {
		case shellError:
			return fmt.Errorf("script failed at line %d: %s", n, scanner.Text())
		case shellQuit:
			return nil
		}
	}
	return scanner.Err()
}

func (s *shell) interactive() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:       s.prompt(),
		HistoryFile:  historyPath(),
		AutoComplete: &shellCompleter{s: s},
		Stdout:       s.out,
		Stderr:       s.errs,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			// io.EOF on ^D
			return nil
		}
		if s.process(line) == shellQuit {
			return nil
		}
		rl.SetPrompt(s.prompt())
	}
}

type shellCompleter struct {
	s *shell
}

func hasPrefix(str []rune, prefix []rune) bool {
	if len(prefix) > len(str) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		if str[i] != prefix[i] {
			return false
		}
	}
	return true
}

func shellEscape(str []rune) []rune {
	out := make([]rune, 0, len(str))
	for _, v := range str {
		if v == ' ' {
			out = append(out, '\\')
		}
		out = append(out, v)
	}
	return out
}

// Do completes the word under the cursor: command names first, then
// catalog names or local files depending on the command.
func (sc *shellCompleter) Do(line []rune, pos int) ([][]rune, int) {
	verb := ""
	if i := strings.IndexRune(string(line), ' '); i >= 0 {
		verb = strings.ToLower(string(line[:i]))
	}

	chunk := ""
	var lastEscape bool
	for i := 0; i < pos && i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == '\\':
			lastEscape = true
		case ch == ' ' && !lastEscape:
			chunk = ""
		default:
			chunk += string(ch)
			lastEscape = false
		}
	}
	cprefix := chunk

	context := sccCommand
	if verb != "" {
		context = sccNone
		if cmd, ok := commandList[verb]; ok {
			context = cmd.Context
		}
	}

	var items []string
	switch context {
	case sccCommand:
		for k := range commandList {
			items = append(items, k)
		}
	case sccDiskFile:
		v := sc.s.current()
		if v == nil {
			return nil, 0
		}
		files, err := v.fd().Files()
		if err != nil {
			return nil, 0
		}
		for _, f := range files {
			items = append(items, f.Name())
		}
	case sccLocal:
		files, err := filepath.Glob(cprefix + "*")
		if err != nil {
			return nil, 0
		}
		items = files
	}
	sort.Strings(items)

	var filt [][]rune
	for _, v := range items {
		if hasPrefix([]rune(v), []rune(cprefix)) {
			filt = append(filt, shellEscape([]rune(v)[len([]rune(cprefix)):]))
		}
	}
	if len(filt) == 0 {
		return nil, 0
	}
	return filt, len([]rune(cprefix))
}

func (s *shell) mount(v *volume) (int, error) {
	free := -1
	for i, m := range s.volumes {
		if m == nil {
			if free == -1 {
				free = i
			}
		} else if m.path == v.path && m.index == v.index {
			return i, nil
		}
	}
	if free == -1 {
		return -1, errors.New("no free slots")
	}
	s.volumes[free] = v
	return free, nil
}

// writeBack saves the target image after a change.
func (s *shell) writeBack() int {
	if err := s.current().save(); err != nil {
		return s.errorf("%v", err)
	}
	fmt.Fprintf(s.out, "Updated disk %s\n", s.current().path)
	return shellOK
}

func shellMount(s *shell, args []string) int {
	index := 0
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return s.errorf("bad volume %q", args[1])
		}
		index = n
	}
	v, err := openVolume(args[0], index)
	if err != nil {
		return s.errorf("%v", err)
	}
	slot, err := s.mount(v)
	if err != nil {
		return s.errorf("%v", err)
	}
	s.target = slot
	fmt.Fprintf(s.out, "Mounted %s (%s) in slot %d\n", v, v.fd().Kind(), slot)
	return shellOK
}

func shellUnmount(s *shell, args []string) int {
	if len(args) > 0 {
		if shellTarget(s, args) == shellError {
			return shellError
		}
	}
	if s.current() != nil {
		s.volumes[s.target] = nil
		fmt.Fprintln(s.out, "Unmounted volume")
	}
	return shellOK
}

func shellTarget(s *shell, args []string) int {
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 || n >= MAXVOL {
		return s.errorf("slot must be 0 to %d", MAXVOL-1)
	}
	if s.volumes[n] == nil {
		return s.errorf("slot %d is empty", n)
	}
	s.target = n
	return shellOK
}

func shellDisks(s *shell, args []string) int {
	for i, v := range s.volumes {
		if v == nil {
			continue
		}
		mark := " "
		if i == s.target {
			mark = "*"
		}
		fmt.Fprintf(s.out, "%s %d  %-10s %s\n", mark, i, v.fd().Kind(), v.path)
	}
	return shellOK
}

func shellHelp(s *shell, args []string) int {
	if len(args) == 0 {
		keys := make([]string, 0, len(commandList))
		for k := range commandList {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(s.out, "%-10s %s\n", commandList[k].Name, commandList[k].Description)
		}
		return shellOK
	}
	details, ok := commandList[strings.ToLower(args[0])]
	if !ok {
		return s.errorf("no help available for %s", args[0])
	}
	fmt.Fprintln(s.out, details.Description)
	for _, l := range details.Text {
		fmt.Fprintln(s.out, l)
	}
	return shellOK
}

func shellCat(s *shell, args []string) int {
	fd := s.current().fd()
	mode := disk.DisplayStandard
	if len(args) > 1 {
		m, err := disk.ParseDisplayMode(args[1])
		if err != nil {
			return s.errorf("%v", err)
		}
		mode = m
	}
	pattern := ""
	if len(args) > 0 {
		pattern = args[0]
	}
	if !strings.ContainsAny(pattern, "*?[") {
		if err := listCatalog(s.out, fd, pattern, mode); err != nil {
			return s.errorf("%v", err)
		}
		return shellOK
	}
	files, err := globFiles(fd, pattern)
	if err != nil {
		return s.errorf("%v", err)
	}
	for _, f := range files {
		fmt.Fprintln(s.out, strings.Join(f.Columns(mode), "  "))
	}
	return shellOK
}

func shellInfo(s *shell, args []string) int {
	r, err := analyze(s.current())
	if err != nil {
		return s.errorf("%v", err)
	}
	r.print(s.out)
	return shellOK
}

func shellExtract(s *shell, args []string) int {
	dir := "."
	if len(args) > 1 {
		dir = args[1]
	}
	files, err := globFiles(s.current().fd(), args[0])
	if err != nil {
		return s.errorf("%v", err)
	}
	if len(files) == 0 {
		return s.errorf("no files match %s", args[0])
	}
	for _, f := range files {
		if f.IsDirectory() {
			continue
		}
		data, err := f.FileData()
		if err != nil {
			return s.errorf("%s: %v", f.Name(), err)
		}
		out := filepath.Join(dir, localName(f))
		if err := os.WriteFile(out, data, 0644); err != nil {
			return s.errorf("%v", err)
		}
		fmt.Fprintf(s.out, "Extracted %s to %s\n", f.Name(), out)
	}
	return shellOK
}

func shellPut(s *shell, args []string) int {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return s.errorf("%v", err)
	}
	name := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	filetype := ""
	addr := -1
	if len(args) > 1 {
		name = args[1]
	}
	if len(args) > 2 {
		filetype = args[2]
	}
	if len(args) > 3 {
		if addr, err = parseAddress(args[3]); err != nil {
			return s.errorf("%v", err)
		}
	}
	fe, err := putFile(s.current().fd(), name, data, filetype, addr)
	if err != nil {
		return s.errorf("%v", err)
	}
	fmt.Fprintf(s.out, "Wrote %s (%s, %d bytes)\n", fe.Name(), fe.Filetype(), len(data))
	return s.writeBack()
}

func shellDelete(s *shell, args []string) int {
	fd := s.current().fd()
	files, err := globFiles(fd, args[0])
	if err != nil {
		return s.errorf("%v", err)
	}
	if len(files) == 0 {
		return s.errorf("no files match %s", args[0])
	}
	for _, f := range files {
		if !fd.Capabilities().DeleteFile {
			return s.errorf("cannot delete files on %s volumes", fd.Kind())
		}
		if err := f.Delete(); err != nil {
			return s.errorf("%s: %v", f.Name(), err)
		}
		fmt.Fprintf(s.out, "Deleted %s\n", f.Name())
	}
	return s.writeBack()
}

func shellLock(s *shell, args []string, locked bool) int {
	files, err := globFiles(s.current().fd(), args[0])
	if err != nil {
		return s.errorf("%v", err)
	}
	if len(files) == 0 {
		return s.errorf("no files match %s", args[0])
	}
	for _, f := range files {
		if err := f.SetLocked(locked); err != nil {
			return s.errorf("%s: %v", f.Name(), err)
		}
	}
	return s.writeBack()
}

func shellRename(s *shell, args []string) int {
	if err := renameFile(s.current().fd(), args[0], args[1]); err != nil {
		return s.errorf("%v", err)
	}
	return s.writeBack()
}

func shellMkdir(s *shell, args []string) int {
	fe, err := makeDirectory(s.current().fd(), args[0])
	if err != nil {
		return s.errorf("%v", err)
	}
	fmt.Fprintf(s.out, "Created directory %s\n", fe.Name())
	return s.writeBack()
}

func shellUsage(s *shell, args []string) int {
	printUsage(s.out, s.current().fd())
	return shellOK
}

func shellDump(s *shell, args []string) int {
	order := s.current().image.Order
	nums := make([]int, len(args))
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return s.errorf("bad number %q", a)
		}
		nums[i] = n
	}
	var data []byte
	var err error
	if len(nums) == 2 {
		data, err = order.ReadSector(nums[0], nums[1])
	} else {
		data, err = order.ReadBlock(nums[0])
	}
	if err != nil {
		return s.errorf("%v", err)
	}
	fmt.Fprint(s.out, disk.Dump(data))
	return shellOK
}

func shellFormat(s *shell, args []string) int {
	kind, err := disk.ParseKind(args[0])
	if err != nil {
		return s.errorf("%v", err)
	}
	v := s.current()
	disks, err := disk.FormatDisks(kind, v.image.Order)
	if err != nil {
		return s.errorf("%v", err)
	}
	v.disks, v.index = disks, 0
	fmt.Fprintf(s.out, "Formatted %s as %s\n", v.path, kind)
	return s.writeBack()
}

func shellSave(s *shell, args []string) int {
	return s.writeBack()
}

func shellCd(s *shell, args []string) int {
	if len(args) > 0 {
		if err := os.Chdir(args[0]); err != nil {
			return s.errorf("change directory failed: %v", err)
		}
	}
	wd, _ := os.Getwd()
	fmt.Fprintln(s.out, "Working directory is now "+wd)
	return shellOK
}
