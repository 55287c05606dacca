package loggy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
)

// ECHO mirrors every line to glog, which writes to stderr or -log_dir
// according to its own flags.
var ECHO bool = false

// LogFolder holds the per session log files. Empty disables them.
var LogFolder string = "./logs/"

// App prefixes log file names.
var App string = "storem8"

type Logger struct {
	sync.Mutex
	logFile *os.File
	id      int
	app     string
}

var loggers = make(map[int]*Logger)
var lm sync.Mutex

func Get(id int) *Logger {
	lm.Lock()
	defer lm.Unlock()
	l, ok := loggers[id]
	if !ok {
		l = NewLogger(id, App)
		loggers[id] = l
	}
	return l
}

// CloseAll closes every logger handed out by Get.
func CloseAll() {
	lm.Lock()
	defer lm.Unlock()
	for id, l := range loggers {
		l.Close()
		delete(loggers, id)
	}
	glog.Flush()
}

func NewLogger(id int, app string) *Logger {
	if app == "" {
		app = "storem8"
	}
	l := &Logger{
		id:  id,
		app: app,
	}
	if LogFolder == "" {
		return l
	}

	filename := fmt.Sprintf("%s_%d_%s.log", app, id, fts())
	if err := os.MkdirAll(LogFolder, 0755); err != nil {
		glog.Warningf("log folder %s: %v", LogFolder, err)
		return l
	}
	f, err := os.Create(filepath.Join(LogFolder, filename))
	if err != nil {
		glog.Warningf("log file %s: %v", filename, err)
		return l
	}
	l.logFile = f
	return l
}

// Filename is the path of the file sink, or "" when there is none.
func (l *Logger) Filename() string {
	if l.logFile == nil {
		return ""
	}
	return l.logFile.Name()
}

func (l *Logger) Close() error {
	l.Lock()
	defer l.Unlock()
	if l.logFile == nil {
		return nil
	}
	err := l.logFile.Close()
	l.logFile = nil
	return err
}

func ts() string {
	return time.Now().Format("2006/01/02 15:04:05")
}

func fts() string {
	return time.Now().Format("20060102150405")
}

type severity int

const (
	sevInfo severity = iota
	sevWarning
	sevError
	sevDebug
	sevFatal
)

var designators = map[severity]string{
	sevInfo:    "INFO ",
	sevWarning: "WARN ",
	sevError:   "ERROR",
	sevDebug:   "DEBUG",
	sevFatal:   "FATAL",
}

func (l *Logger) write(sev severity, msg string) {
	msg = strings.TrimSuffix(msg, "\n")

	l.Lock()
	if l.logFile != nil {
		l.logFile.WriteString(ts() + " " + designators[sev] + " :: " + msg + "\n")
		l.logFile.Sync()
	}
	l.Unlock()

	if !ECHO {
		return
	}
	// depth 3 reports the caller of Logf and friends
	switch sev {
	case sevInfo:
		glog.InfoDepth(3, msg)
	case sevWarning:
		glog.WarningDepth(3, msg)
	case sevError, sevFatal:
		glog.ErrorDepth(3, msg)
	case sevDebug:
		if glog.V(1) {
			glog.InfoDepth(3, msg)
		}
	}
}

func (l *Logger) llogf(sev severity, format string, v ...interface{}) {
	l.write(sev, fmt.Sprintf(format, v...))
}

func (l *Logger) llog(sev severity, v ...interface{}) {
	parts := make([]string, len(v))
	for i, vv := range v {
		parts[i] = fmt.Sprintf("%v", vv)
	}
	l.write(sev, strings.Join(parts, " "))
}

func (l *Logger) Logf(format string, v ...interface{}) {
	l.llogf(sevInfo, format, v...)
}

func (l *Logger) Log(v ...interface{}) {
	l.llog(sevInfo, v...)
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	l.llogf(sevWarning, format, v...)
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	l.llogf(sevError, format, v...)
}

func (l *Logger) Error(v ...interface{}) {
	l.llog(sevError, v...)
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	l.llogf(sevDebug, format, v...)
}

func (l *Logger) Debug(v ...interface{}) {
	l.llog(sevDebug, v...)
}

// Fatalf records the line at FATAL. It does not exit; callers decide.
func (l *Logger) Fatalf(format string, v ...interface{}) {
	l.llogf(sevFatal, format, v...)
}

func (l *Logger) Fatal(v ...interface{}) {
	l.llog(sevFatal, v...)
}
