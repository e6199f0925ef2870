package log

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogAppender is an output for finished log lines.
// Appenders must be safe for concurrent use; the logger calls Write from every
// goroutine that logs.
type LogAppender interface {
	// Write outputs one complete line, trailing newline included.
	Write(buf []byte) (int, error)
	// Refresh reopens the underlying output if it has one.
	Refresh() error
	// Close releases the output. Writes after Close fail.
	Close() error
}

// ConsoleAppender writes lines to stdout, or to any writer given to NewWriterAppender.
type ConsoleAppender struct {
	mu sync.Mutex // Serializes writes so lines never interleave
	w  io.Writer
}

// NewConsoleAppender creates an appender writing to os.Stdout.
func NewConsoleAppender() *ConsoleAppender {
	return &ConsoleAppender{w: os.Stdout}
}

// NewWriterAppender sends lines to w. Writes are serialized.
func NewWriterAppender(w io.Writer) *ConsoleAppender {
	return &ConsoleAppender{w: w}
}

// Write outputs one line to the underlying writer.
func (ca *ConsoleAppender) Write(buf []byte) (int, error) {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	return ca.w.Write(buf)
}

// Refresh is a no-op; the console has nothing to reopen.
func (ca *ConsoleAppender) Refresh() error { return nil }

// Close is a no-op so that closing a logger never closes stdout.
func (ca *ConsoleAppender) Close() error { return nil }

const (
	_defaultFileMode = 0o644
	_defaultDirMode  = 0o755
	_backupLayout    = "20060102-150405.000"
)

// FileAppender appends lines to a file and rotates it once it passes a size limit.
// A rotated file is renamed to "<path>.<timestamp>" and at most maxBackups of them are kept.
type FileAppender struct {
	mu         sync.Mutex
	path       string   // Active file name
	limit      int64    // Rotation threshold in bytes; 0 disables rotation
	maxBackups int      // Rotated files kept; 0 keeps all
	fd         *os.File // Nil after Close
	size       int64    // Bytes in the active file
}

// NewFileAppender opens path for appending, creating parent directories as needed.
func NewFileAppender(path string, splitMB, maxBackups int) (*FileAppender, error) {
	if path == "" {
		return nil, errors.New("log file path is empty")
	}
	a := &FileAppender{
		path:       path,
		limit:      int64(splitMB) << 20,
		maxBackups: maxBackups,
	}
	if err := a.open(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *FileAppender) open() error {
	if err := os.MkdirAll(filepath.Dir(a.path), _defaultDirMode); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	fd, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, _defaultFileMode)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	fi, err := fd.Stat()
	if err != nil {
		_ = fd.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	a.fd = fd
	a.size = fi.Size()
	return nil
}

// Write appends one line, rotating first when the line would push the file past the limit.
// A line is never split across files.
func (a *FileAppender) Write(buf []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fd == nil {
		return 0, os.ErrClosed
	}
	if a.limit > 0 && a.size > 0 && a.size+int64(len(buf)) > a.limit {
		if err := a.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := a.fd.Write(buf)
	a.size += int64(n)
	return n, err
}

// Refresh reopens the file, picking up a file moved away by an external tool.
func (a *FileAppender) Refresh() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fd != nil {
		_ = a.fd.Close()
		a.fd = nil
	}
	return a.open()
}

// Close closes the active file. It is safe to call more than once.
func (a *FileAppender) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fd == nil {
		return nil
	}
	err := a.fd.Close()
	a.fd = nil
	return err
}

func (a *FileAppender) rotate() error {
	if err := a.fd.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	a.fd = nil
	backup := a.path + "." + time.Now().Format(_backupLayout)
	if err := os.Rename(a.path, backup); err != nil {
		return fmt.Errorf("rename log file: %w", err)
	}
	if err := a.open(); err != nil {
		return err
	}
	a.prune()
	return nil
}

// prune removes the oldest backups beyond maxBackups. Backup names sort by time.
func (a *FileAppender) prune() {
	if a.maxBackups <= 0 {
		return
	}
	matches, err := filepath.Glob(a.path + ".*")
	if err != nil {
		return
	}
	backups := matches[:0]
	for _, m := range matches {
		if _, err := time.Parse(_backupLayout, strings.TrimPrefix(m, a.path+".")); err == nil {
			backups = append(backups, m)
		}
	}
	if len(backups) <= a.maxBackups {
		return
	}
	sort.Strings(backups)
	for _, old := range backups[:len(backups)-a.maxBackups] {
		_ = os.Remove(old)
	}
}
