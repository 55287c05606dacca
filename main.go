package main

/*
StoreM8 reads and writes the filesystems found inside Apple // disk images:
DOS 3.3 and the 800K UniDOS and OzDOS pairs, Gutenberg, ProDOS, Apple
Pascal, CP/M and RDOS.

Each command opens an image, works on one of its volumes and, for writes,
saves it back after copying the original to the backup folder.
*/

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"

	"github.com/paleotronic/storem8/loggy"
	"github.com/spf13/cobra"
)

var homeDir string
var verbose bool
var noBackup bool

func binpath() string {
	if h := os.Getenv("STOREM8_HOME"); h != "" {
		return h
	}
	if runtime.GOOS == "windows" {
		return os.Getenv("USERPROFILE") + "/StoreM8"
	}
	return os.Getenv("HOME") + "/StoreM8"
}

func logsPath() string {
	return filepath.Join(homeDir, "logs") + string(filepath.Separator)
}

func historyPath() string {
	return filepath.Join(homeDir, ".shell_history")
}

func backupPath() string {
	return filepath.Join(homeDir, "backup")
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "storem8",
		Short: "Read and write the filesystems inside Apple // disk images",
		Long: `storem8 lists, extracts, stores and deletes files on Apple // disk
images (.dsk .do .po .d13 .hdv .2mg) formatted for DOS 3.3, UniDOS,
OzDOS, Gutenberg, ProDOS, Apple Pascal, CP/M or RDOS.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// glog reads its settings from the go flag set
			flag.CommandLine.Parse(nil)
			loggy.LogFolder = logsPath()
			loggy.ECHO = verbose
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&homeDir, "home", binpath(), "Folder for logs, backups and shell history")
	pf.BoolVar(&verbose, "verbose", false, "Echo log lines through glog (see -logtostderr, -v)")
	pf.BoolVar(&noBackup, "no-backup", false, "Do not copy images to the backup folder before writing")
	pf.AddGoFlagSet(flag.CommandLine)

	root.AddCommand(
		newFormatCommand(),
		newCatCommand(),
		newPutCommand(),
		newExtractCommand(),
		newDeleteCommand(),
		newLockCommand(true),
		newLockCommand(false),
		newRenameCommand(),
		newMkdirCommand(),
		newUsageCommand(),
		newConvertCommand(),
		newInfoCommand(),
		newShellCommand(),
		newServeCommand(),
	)
	return root
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			loggy.Get(0).Fatalf("panic: %v\n%s", r, debug.Stack())
			loggy.CloseAll()
			os.Stderr.WriteString(fmt.Sprintf("Error: %v\n", r))
			os.Exit(2)
		}
	}()

	err := newRootCommand().Execute()
	loggy.CloseAll()
	if err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
