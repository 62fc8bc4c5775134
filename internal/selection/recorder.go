// Package selection persists the chosen item identifiers for a run.
package selection

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// ErrNotFound indicates no record exists for the requested key.
var ErrNotFound = errors.New("selection record not found")

// Recorder defines the storage for selection records.
type Recorder interface {
	// Reset clears every record. Called once before the first epoch.
	Reset() error
	// Write replaces the record keyed by start with ids, one per line.
	Write(start int, ids []string) error
}

// FileRecorder writes <dir>/<start>.txt files.
type FileRecorder struct {
	dir string
}

// NewFileRecorder creates a recorder rooted at dir.
func NewFileRecorder(dir string) *FileRecorder {
	return &FileRecorder{dir: dir}
}

// Path returns the file holding the record keyed by start.
func (r *FileRecorder) Path(start int) string {
	return filepath.Join(r.dir, strconv.Itoa(start)+".txt")
}

// Reset removes and recreates the output directory.
func (r *FileRecorder) Reset() error {
	if err := os.RemoveAll(r.dir); err != nil {
		return fmt.Errorf("clear selection dir %s: %w", r.dir, err)
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create selection dir %s: %w", r.dir, err)
	}
	return nil
}

// Write implements Recorder. The file is closed on every return path.
func (r *FileRecorder) Write(start int, ids []string) (err error) {
	f, err := os.Create(r.Path(start))
	if err != nil {
		return fmt.Errorf("open selection record: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close selection record: %w", cerr)
		}
	}()

	w := bufio.NewWriter(f)
	for _, id := range ids {
		if _, err = w.WriteString(id + "\n"); err != nil {
			return fmt.Errorf("write selection record: %w", err)
		}
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("flush selection record: %w", err)
	}
	return nil
}

// MemoryRecorder keeps records in memory.
type MemoryRecorder struct {
	mu      sync.RWMutex
	records map[int][]string
	writes  int
	resets  int
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{records: make(map[int][]string)}
}

// Reset implements Recorder.
func (m *MemoryRecorder) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[int][]string)
	m.resets++
	return nil
}

// Write implements Recorder.
func (m *MemoryRecorder) Write(start int, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[start] = append([]string(nil), ids...)
	m.writes++
	return nil
}

// Record returns a copy of the record keyed by start.
func (m *MemoryRecorder) Record(start int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids, ok := m.records[start]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]string(nil), ids...), nil
}

// Writes returns how many times Write was called.
func (m *MemoryRecorder) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Resets returns how many times Reset was called.
func (m *MemoryRecorder) Resets() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resets
}
