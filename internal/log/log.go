// Package log provides the structured logger used across svcd.
//
// A small Logger type fans out to multiple writers, emits RFC5424
// structured records via crewjam/rfc5424, and exposes KV-style
// helpers so call sites read as `lg.Info("service started",
// log.KV("service", name))` instead of building format strings.
package log

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
	"github.com/shirou/gopsutil/v4/host"
)

type Level int

const (
	OFF Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
)

const (
	defaultDepth = 3
	sdID         = `svcd@1`
	maxAppname   = 48
	maxHostname  = 255
)

var ErrInvalidLevel = errors.New("invalid log level")

func (l Level) String() string {
	switch l {
	case OFF:
		return `OFF`
	case DEBUG:
		return `DEBUG`
	case INFO:
		return `INFO`
	case WARN:
		return `WARN`
	case ERROR:
		return `ERROR`
	case CRITICAL:
		return `CRITICAL`
	}
	return `UNKNOWN`
}

func LevelFromString(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case `OFF`:
		return OFF, nil
	case `DEBUG`:
		return DEBUG, nil
	case ``, `INFO`:
		return INFO, nil
	case `WARN`, `WARNING`:
		return WARN, nil
	case `ERROR`:
		return ERROR, nil
	case `CRITICAL`, `CRIT`:
		return CRITICAL, nil
	}
	return OFF, ErrInvalidLevel
}

func (l Level) priority() rfc5424.Priority {
	switch l {
	case DEBUG:
		return rfc5424.User | rfc5424.Debug
	case INFO:
		return rfc5424.User | rfc5424.Info
	case WARN:
		return rfc5424.User | rfc5424.Warning
	case ERROR:
		return rfc5424.User | rfc5424.Error
	case CRITICAL:
		return rfc5424.User | rfc5424.Crit
	}
	return rfc5424.User | rfc5424.Debug
}

// Logger is a small multi-writer structured logger. Safe for concurrent use.
type Logger struct {
	mtx      sync.Mutex
	wtrs     []io.WriteCloser
	lvl      Level
	hostname string
	appname  string
	hot      bool
}

// New wraps wtr as the logger's sole writer at INFO level.
func New(wtr io.WriteCloser) *Logger {
	l := &Logger{
		wtrs: []io.WriteCloser{wtr},
		lvl:  INFO,
		hot:  true,
	}
	l.guessIdentity()
	return l
}

// NewFile opens (or creates) f in append mode and wraps it.
func NewFile(f string) (*Logger, error) {
	fout, err := os.OpenFile(f, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0660)
	if err != nil {
		return nil, err
	}
	return New(fout), nil
}

func NewDiscard() *Logger {
	return New(discardCloser{})
}

func (l *Logger) guessIdentity() {
	if h, err := os.Hostname(); err == nil {
		if len(h) > maxHostname {
			h = h[:maxHostname]
		}
		l.hostname = h
	}
	if len(os.Args) > 0 {
		exe := filepath.Base(os.Args[0])
		if ext := filepath.Ext(exe); ext != `` && len(ext) < len(exe) {
			exe = strings.TrimSuffix(exe, ext)
		}
		if len(exe) > maxAppname {
			exe = exe[:maxAppname]
		}
		l.appname = exe
	}
}

func (l *Logger) SetLevel(lvl Level) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.lvl = lvl
	return nil
}

func (l *Logger) GetLevel() Level {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.lvl
}

func (l *Logger) AddWriter(wtr io.WriteCloser) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.wtrs = append(l.wtrs, wtr)
}

func (l *Logger) Close() error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.hot = false
	var err error
	for _, w := range l.wtrs {
		if e := w.Close(); e != nil {
			err = e
		}
	}
	return err
}

func (l *Logger) Debug(msg string, kvs ...rfc5424.SDParam) { l.output(DEBUG, msg, kvs...) }
func (l *Logger) Info(msg string, kvs ...rfc5424.SDParam)  { l.output(INFO, msg, kvs...) }
func (l *Logger) Warn(msg string, kvs ...rfc5424.SDParam)  { l.output(WARN, msg, kvs...) }
func (l *Logger) Error(msg string, kvs ...rfc5424.SDParam) { l.output(ERROR, msg, kvs...) }
func (l *Logger) Critical(msg string, kvs ...rfc5424.SDParam) {
	l.output(CRITICAL, msg, kvs...)
}

func (l *Logger) output(lvl Level, msg string, kvs ...rfc5424.SDParam) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if !l.hot || l.lvl == OFF || lvl < l.lvl {
		return
	}
	loc := callLoc(defaultDepth)
	ln := l.render(time.Now(), lvl, loc, msg, kvs...)
	for _, w := range l.wtrs {
		io.WriteString(w, ln)
		io.WriteString(w, "\n")
	}
}

func (l *Logger) render(ts time.Time, lvl Level, loc, msg string, kvs ...rfc5424.SDParam) string {
	m := rfc5424.Message{
		Priority:  lvl.priority(),
		Timestamp: ts,
		Hostname:  trim(maxHostname, l.hostname),
		AppName:   trim(maxAppname, l.appname),
		MessageID: trim(32, filepath.Base(loc)),
		Message:   []byte(msg),
	}
	if len(kvs) > 0 {
		m.StructuredData = []rfc5424.StructuredData{{ID: sdID, Parameters: kvs}}
	}
	b, err := m.MarshalBinary()
	if err != nil {
		return fmt.Sprintf("%s %s %s %s", ts.UTC().Format(time.RFC3339), lvl, loc, msg)
	}
	return strings.TrimRight(string(b), "\n\t\r")
}

// KV builds a structured key/value log parameter.
func KV(name string, value interface{}) rfc5424.SDParam {
	switch v := value.(type) {
	case string:
		return rfc5424.SDParam{Name: name, Value: v}
	default:
		return rfc5424.SDParam{Name: name, Value: fmt.Sprintf("%v", v)}
	}
}

// KVErr is shorthand for KV("error", err).
func KVErr(err error) rfc5424.SDParam {
	if err == nil {
		return KV("error", "")
	}
	return KV("error", err.Error())
}

// PrintOSInfo writes a one-line OS/platform banner, used at daemon startup.
func PrintOSInfo(wtr io.Writer) {
	if platform, _, version, err := host.PlatformInformation(); err == nil {
		fmt.Fprintf(wtr, "OS:\t%s %s [%s %s]\n", runtime.GOOS, runtime.GOARCH, platform, version)
	} else {
		fmt.Fprintf(wtr, "OS:\t%s %s\n", runtime.GOOS, runtime.GOARCH)
	}
}

func callLoc(depth int) string {
	if _, file, line, ok := runtime.Caller(depth); ok {
		dir, f := filepath.Split(file)
		return fmt.Sprintf("%s:%d", filepath.Join(filepath.Base(dir), f), line)
	}
	return ``
}

func trim(n int, s string) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type discardCloser struct{}

func (discardCloser) Write(b []byte) (int, error) { return len(b), nil }
func (discardCloser) Close() error                { return nil }
