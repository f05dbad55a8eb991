// Package nlog - host/client/daemon logger: buffering, timestamping,
// writing, and flushing/rotating.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ascend-vs/annserve/cmn/mono"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr

	maxLineSize = 2 * 1024
)

var sevChar = [...]byte{'I', 'W', 'E'}

type nl struct {
	mw      sync.Mutex
	w       *bufio.Writer
	file    *os.File
	last    atomic.Int64
	written atomic.Int64
	oob     atomic.Bool
	sev     severity
}

var (
	nlogs        [3]*nl
	toStderr     bool
	alsoToStderr bool
	logDir       string
	title        string
	pid          = os.Getpid()
)

func init() {
	for s := sevInfo; s <= sevErr; s++ {
		nlogs[s] = &nl{sev: s}
	}
}

// InitFlags wires the two aistore-style stderr-output flags into a caller-owned
// FlagSet; call before flag.Parse().
func InitFlags(flset *flag.FlagSet) {
	flset.BoolVar(&toStderr, "logtostderr", false, "log to standard error instead of files")
	flset.BoolVar(&alsoToStderr, "alsologtostderr", false, "log to standard error as well as files")
}

func SetLogDirRole(dir, _role string) { logDir = dir }
func SetTitle(s string)               { title = s }

func InfoDepth(depth int, args ...any)    { log(sevInfo, depth, "", args...) }
func Infoln(args ...any)                  { log(sevInfo, 0, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 0, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 0, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 0, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth, "", args...) }
func Errorln(args ...any)                 { log(sevErr, 0, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 0, format, args...) }

func log(sev severity, depth int, format string, args ...any) {
	line := render(sev, depth+1, format, args...)

	if toStderr {
		os.Stderr.WriteString(line)
		return
	}
	if alsoToStderr || sev >= sevWarn {
		os.Stderr.WriteString(line)
	}
	if sev >= sevWarn {
		nlogs[sevErr].write(line)
	}
	nlogs[sevInfo].write(line)
}

func (n *nl) write(line string) {
	n.mw.Lock()
	defer n.mw.Unlock()
	if n.w == nil {
		if logDir == "" {
			n.oob.Store(true)
			return
		}
		if err := n.rotate(time.Now()); err != nil {
			n.oob.Store(true)
			return
		}
	}
	n.w.WriteString(line)
	n.written.Add(int64(len(line)))
	n.last.Store(mono.NanoTime())
	if n.w.Buffered() >= maxLineSize || n.written.Load() >= MaxSize {
		n.w.Flush()
	}
	if n.written.Load() >= MaxSize {
		n.file.Close()
		n.w = nil
		n.written.Store(0)
	}
}

func (n *nl) since(now int64) time.Duration { return time.Duration(now - n.last.Load()) }

func (n *nl) rotate(now time.Time) error {
	name := fmt.Sprintf("%s.%05d.%02d%02d-%02d%02d%02d.log",
		sevName(n.sev), pid, now.Month(), now.Day(), now.Hour(), now.Minute(), now.Second())
	f, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if n.file != nil {
		n.file.Close()
	}
	n.file = f
	n.w = bufio.NewWriterSize(f, 64*1024)
	hdr := fmt.Sprintf("Started up at %s, %s for %s/%s\n", now.Format("2006/01/02 15:04:05"),
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if title != "" {
		hdr += title + "\n"
	}
	n.w.WriteString(hdr)
	return nil
}

func sevName(s severity) string {
	switch s {
	case sevWarn, sevErr:
		return "ERROR"
	default:
		return "INFO"
	}
}

func render(sev severity, depth int, format string, args ...any) string {
	var b strings.Builder
	b.WriteByte(sevChar[sev])
	b.WriteByte(' ')
	b.WriteString(time.Now().Format("15:04:05.000000"))
	b.WriteByte(' ')
	if _, fn, ln, ok := runtime.Caller(2 + depth); ok {
		if idx := strings.LastIndexByte(fn, filepath.Separator); idx >= 0 {
			fn = fn[idx+1:]
		}
		b.WriteString(fn)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(ln))
		b.WriteByte(' ')
	}
	if format == "" {
		fmt.Fprintln(&b, args...)
	} else {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}
	return b.String()
}

// MaxSize is the per-severity log-file rotation threshold, in bytes.
var MaxSize int64 = 4 * 1024 * 1024

func InfoLogName() string { return sevName(sevInfo) }
func ErrLogName() string  { return sevName(sevErr) }

// Flush writes out any buffered lines; exit[0]==true additionally closes
// and syncs the underlying files (call on shutdown).
func Flush(exit ...bool) {
	ex := len(exit) > 0 && exit[0]
	for _, n := range nlogs {
		n.mw.Lock()
		if n.w != nil {
			n.w.Flush()
			if ex {
				n.file.Sync()
				n.file.Close()
				n.w = nil
			}
		}
		n.mw.Unlock()
	}
}

// Since returns the longer of the info and error logs' times since
// their most recent write.
func Since() time.Duration {
	now := mono.NanoTime()
	a, b := nlogs[sevInfo].since(now), nlogs[sevErr].since(now)
	if a > b {
		return a
	}
	return b
}

// OOB reports whether a log write failed to reach durable storage
// (e.g. logDir unset) and was dropped.
func OOB() bool {
	return nlogs[sevInfo].oob.Load() || nlogs[sevErr].oob.Load()
}
