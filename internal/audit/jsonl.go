package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Appender writes one JSON document per line to an append-only log file.
// When maxBytes > 0 the file is rotated with a timestamped rename once it
// grows past the limit, keeping at most keepFiles archives.
type Appender struct {
	mu        sync.Mutex
	path      string
	maxBytes  int64
	keepFiles int
}

func NewAppender(path string, maxMB, keepFiles int) *Appender {
	return &Appender{
		path:      path,
		maxBytes:  int64(maxMB) * 1024 * 1024,
		keepFiles: keepFiles,
	}
}

// Append marshals v and writes it as a single line. Rotation is checked
// before the write so a line is never split across files.
func (a *Appender) Append(v interface{}) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal jsonl record: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.rotateLocked(); err != nil {
		return err
	}
	if dir := filepath.Dir(a.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open %s: %w", a.path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append %s: %w", a.path, err)
	}
	return nil
}

// Rotate forces a rotation check outside the append path, for the
// housekeeping scheduler.
func (a *Appender) Rotate() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rotateLocked()
}

func (a *Appender) rotateLocked() error {
	if a.maxBytes <= 0 {
		return nil
	}
	info, err := os.Stat(a.path)
	if err != nil || info.Size() < a.maxBytes {
		return nil
	}
	archived := fmt.Sprintf("%s.%s", a.path, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(a.path, archived); err != nil {
		return fmt.Errorf("rotate %s: %w", a.path, err)
	}
	a.pruneArchivesLocked()
	return nil
}

// pruneArchivesLocked removes the oldest archives beyond keepFiles. The
// timestamp suffix sorts lexicographically, so plain sort order is age order.
func (a *Appender) pruneArchivesLocked() {
	matches, err := filepath.Glob(a.path + ".*")
	if err != nil {
		return
	}
	var archives []string
	for _, m := range matches {
		suffix := strings.TrimPrefix(m, a.path+".")
		if len(suffix) == len("20060102T150405") {
			archives = append(archives, m)
		}
	}
	if len(archives) <= a.keepFiles {
		return
	}
	sort.Strings(archives)
	for _, old := range archives[:len(archives)-a.keepFiles] {
		_ = os.Remove(old)
	}
}
