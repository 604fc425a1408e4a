// Package logrecorder provides a pion logging factory that writes into a
// per-day directory and starts a new file on a fixed interval.
package logrecorder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pion/logging"
)

// DefaultRotate is the interval between two log files.
const DefaultRotate = 5 * time.Minute

// NowString formats t as "20060102_1504", the suffix of every log file.
func NowString(t time.Time) string {
	return t.Format("20060102_1504")
}

// DayDir is the directory for t under root, e.g. root/2025_04_25.
func DayDir(root string, t time.Time) string {
	return filepath.Join(root, fmt.Sprintf("%d_%02d_%02d", t.Year(), t.Month(), t.Day()))
}

// MakeDir creates the day directory of t under root.
func MakeDir(root string, t time.Time) (string, error) {
	dir := DayDir(root, t)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create log directory: %w", err)
	}
	return dir, nil
}

// ParseLevel maps disabled, error, warn, info, debug and trace to a pion level.
func ParseLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "off", "none":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "", "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	}
	return logging.LogLevelDisabled, fmt.Errorf("unknown log level %q", s)
}

type Options struct {
	// Dir is the root of the day directories. Empty logs to Console only.
	Dir  string
	Name string
	// Rotate is the file rotation interval; zero disables rotation.
	Rotate time.Duration
	Level  logging.LogLevel
	// Console receives a copy of every line when not nil.
	Console io.Writer
	// Now is used for file names; defaults to time.Now.
	Now func() time.Time
}

// Recorder is a logging.LoggerFactory. Loggers created from it keep
// writing to the current file across rotations.
type Recorder struct {
	*logging.DefaultLoggerFactory

	opts Options

	mu   sync.Mutex
	file *os.File
	path string

	stop chan struct{}
	wg   sync.WaitGroup
}

// New opens the first log file and, when opts.Rotate is set, starts the
// rotation goroutine.
func New(opts Options) (*Recorder, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Name == "" {
		opts.Name = "udsdiag"
	}
	r := &Recorder{opts: opts, stop: make(chan struct{})}
	r.DefaultLoggerFactory = &logging.DefaultLoggerFactory{
		Writer:          r,
		DefaultLogLevel: opts.Level,
		ScopeLevels:     make(map[string]logging.LogLevel),
	}
	if opts.Dir == "" {
		return r, nil
	}
	if err := r.Rotate(); err != nil {
		return nil, err
	}
	if opts.Rotate > 0 {
		r.wg.Add(1)
		go r.rotateLoop()
	}
	return r, nil
}

// Rotate closes the current file and opens <dir>/<day>/<name><stamp>.log.
// Reopening the same minute appends to the existing file.
func (r *Recorder) Rotate() error {
	if r.opts.Dir == "" {
		return errors.New("logrecorder: no log directory")
	}
	now := r.opts.Now()
	dir, err := MakeDir(r.opts.Dir, now)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, r.opts.Name+NowString(now)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	r.mu.Lock()
	old := r.file
	r.file = f
	r.path = path
	r.mu.Unlock()
	if old != nil {
		return old.Close()
	}
	return nil
}

func (r *Recorder) rotateLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.opts.Rotate)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if err := r.Rotate(); err != nil {
				fmt.Fprintf(r, "log rotation failed: %v\n", err)
			}
		}
	}
}

// Path is the file currently written, empty without a log directory.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// SetScopeLevel overrides the level of one scope for loggers created later.
func (r *Recorder) SetScopeLevel(scope string, level logging.LogLevel) {
	r.ScopeLevels[scope] = level
}

// Write sends p to the current file and the console.
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opts.Console != nil {
		_, _ = r.opts.Console.Write(p)
	}
	if r.file == nil {
		return len(p), nil
	}
	return r.file.Write(p)
}

// Close stops rotation and closes the current file.
func (r *Recorder) Close() error {
	select {
	case <-r.stop:
		return nil
	default:
		close(r.stop)
	}
	r.wg.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
