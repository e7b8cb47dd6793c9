package logger

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// backupLayout stamps rotated files. Stamps sort lexically in time order.
const backupLayout = "20060102T150405.000Z"

// RotatingWriter appends to a log file and moves it aside once it would grow past
// the size limit. Backups are optionally gzipped and pruned by the age in their
// stamp. Compression and pruning run in the background; Close waits for them.
type RotatingWriter struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	maxAge   time.Duration
	compress bool
	file     *os.File
	size     int64
	now      func() time.Time

	background sync.WaitGroup
}

// NewRotatingWriter opens path for appending, creating its directory. maxSizeMB
// of zero disables rotation and maxAgeDays of zero keeps backups forever.
func NewRotatingWriter(path string, maxSizeMB, maxAgeDays int, compress bool) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{
		path:     path,
		maxBytes: int64(maxSizeMB) << 20,
		maxAge:   time.Duration(maxAgeDays) * 24 * time.Hour,
		compress: compress,
		now:      time.Now,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	if w.maxAge > 0 {
		w.inBackground(w.prune)
	}
	return w, nil
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write appends p, rotating first when p would push a non-empty file past the
// limit. A single write larger than the limit still lands in one file.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.maxBytes > 0 && w.size > 0 && w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current file and waits for background compression and pruning.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	var err error
	if w.file != nil {
		err = w.file.Close()
		w.file = nil
	}
	w.mu.Unlock()

	w.background.Wait()
	return err
}

// rotate runs with w.mu held.
func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil

	backup := w.backupName(w.now())
	if err := os.Rename(w.path, backup); err != nil {
		// Keep logging to the same file rather than losing writes.
		if openErr := w.open(); openErr != nil {
			return errors.Join(err, openErr)
		}
		return err
	}
	if err := w.open(); err != nil {
		return err
	}

	compress := w.compress
	w.inBackground(func() {
		if compress {
			_ = gzipFile(backup)
		}
		if w.maxAge > 0 {
			w.prune()
		}
	})
	return nil
}

func (w *RotatingWriter) inBackground(fn func()) {
	w.background.Add(1)
	go func() {
		defer w.background.Done()
		fn()
	}()
}

func (w *RotatingWriter) backupName(t time.Time) string {
	return w.path + "." + t.UTC().Format(backupLayout)
}

// backupTime parses the stamp of a backup name, with or without ".gz".
func (w *RotatingWriter) backupTime(name string) (time.Time, bool) {
	stamp, ok := strings.CutPrefix(name, w.path+".")
	if !ok {
		return time.Time{}, false
	}
	stamp = strings.TrimSuffix(stamp, ".gz")
	t, err := time.Parse(backupLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// prune removes backups stamped before now minus maxAge. Files next to the log
// whose names carry no stamp are left alone.
func (w *RotatingWriter) prune() {
	matches, err := filepath.Glob(w.path + ".*")
	if err != nil {
		return
	}
	cutoff := w.now().Add(-w.maxAge)
	for _, name := range matches {
		if t, ok := w.backupTime(name); ok && t.Before(cutoff) {
			_ = os.Remove(name)
		}
	}
}

// gzipFile replaces src with src.gz. The plain file is removed only after the
// archive is complete.
func gzipFile(src string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := src + ".gz.tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	zw := gzip.NewWriter(out)
	_, copyErr := io.Copy(zw, in)
	if err = errors.Join(copyErr, zw.Close(), out.Close()); err != nil {
		return err
	}
	if err = os.Rename(tmp, src+".gz"); err != nil {
		return err
	}
	return os.Remove(src)
}
