package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileStorage manages transfer artifacts inside a single directory.
type FileStorage struct {
	dir string
}

// NewFileStorage creates a FileStorage rooted at dir.
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{dir: dir}
}

// Dir returns the storage root.
func (s *FileStorage) Dir() string {
	return s.dir
}

// Path returns the absolute path of a stored file.
func (s *FileStorage) Path(filename string) string {
	return filepath.Join(s.dir, filename)
}

// CreateFile creates (or truncates) a file in the storage directory.
func (s *FileStorage) CreateFile(filename string) (*os.File, error) {
	return os.Create(s.Path(filename))
}

// OpenAppend opens an existing file for appending.
func (s *FileStorage) OpenAppend(filename string) (*os.File, error) {
	return os.OpenFile(s.Path(filename), os.O_WRONLY|os.O_APPEND, 0o644)
}

// FileExists checks whether a file exists in the storage directory.
func (s *FileStorage) FileExists(filename string) bool {
	_, err := os.Stat(s.Path(filename))
	return err == nil
}

// FileSize returns the size of the file in bytes.
func (s *FileStorage) FileSize(filename string) (int64, error) {
	info, err := os.Stat(s.Path(filename))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes a file if present.
func (s *FileStorage) Remove(filename string) error {
	err := os.Remove(s.Path(filename))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// MoveTo moves a stored file to an arbitrary destination path, creating the
// destination directory as needed. Falls back to copy+delete across devices.
func (s *FileStorage) MoveTo(filename, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}

	src := s.Path(filename)
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy artifact: %w", err)
	}
	return os.Remove(src)
}
