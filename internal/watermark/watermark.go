package watermark

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrPersist is returned when a watermark could not be durably written.
var ErrPersist = errors.New("cannot persist watermark")

// Store is a durable single-slot holder of the last emitted timestamp.
type Store interface {
	// Load returns the stored value. found is false on first run.
	Load() (value string, found bool, err error)
	// Save overwrites the stored value.
	Save(value string) error
}

// Backend is a Store that can also be cleared and released.
type Backend interface {
	Store
	Reset() error
	Close() error
}

// Open returns the backend named kind ("file" or "sqlite").
func Open(kind, path, key string) (Backend, error) {
	switch kind {
	case "", "file":
		return NewFileStore(path), nil
	case "sqlite":
		return OpenSQLite(path, key)
	default:
		return nil, fmt.Errorf("unknown watermark store %q", kind)
	}
}

// FileStore keeps the watermark as the single line of a plain text file.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (s *FileStore) Load() (string, bool, error) {
	content, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	line, _, _ := bufio.NewReader(bytes.NewReader(content)).ReadLine()
	return string(line), true, nil
}

// Save replaces the file through a rename so a crash never leaves a torn value.
func (s *FileStore) Save(value string) error {
	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.Path)+".*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(value + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

// Reset forgets the watermark so the next run ingests everything again.
func (s *FileStore) Reset() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
