package persistence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const snapshotExt = ".json"

// SnapshotError is a persistence failure. It is logged and never stops routing.
type SnapshotError struct {
	Op   string
	Name string
	Err  error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot %s %s: %v", e.Op, e.Name, e.Err)
}

func (e *SnapshotError) Unwrap() error {
	return e.Err
}

// FileStore keeps one JSON file per snapshot name in a directory
type FileStore struct {
	dir string
}

// NewFileStore creates the snapshot directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file backing a snapshot name
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.dir, name+snapshotExt)
}

// Save encodes v and atomically replaces the snapshot file
func (s *FileStore) Save(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &SnapshotError{Op: "encode", Name: name, Err: err}
	}
	if err := writeAtomic(s.Path(name), data, 0o600); err != nil {
		return &SnapshotError{Op: "write", Name: name, Err: err}
	}
	return nil
}

// Load reads a snapshot file and hands a decoder to restore. A missing file
// returns an error wrapping os.ErrNotExist.
func (s *FileStore) Load(name string, restore func(decode func(v interface{}) error) error) error {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		return &SnapshotError{Op: "read", Name: name, Err: err}
	}
	if len(data) == 0 {
		return &SnapshotError{Op: "decode", Name: name, Err: errors.New("empty snapshot file")}
	}

	decode := func(v interface{}) error {
		return json.Unmarshal(data, v)
	}
	if err := restore(decode); err != nil {
		return &SnapshotError{Op: "decode", Name: name, Err: err}
	}
	return nil
}

// writeAtomic writes to a unique temp file, fsyncs it and renames it over path
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tempPath := fmt.Sprintf("%s.tmp.%s", path, uuid.New().String())

	tempFile, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("failed to create temp file %s: %w", tempPath, err)
	}

	cleanupTemp := true
	defer func() {
		if cleanupTemp {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	// Sync before rename so a crash never leaves a truncated snapshot
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to target: %w", err)
	}
	cleanupTemp = false
	return nil
}
