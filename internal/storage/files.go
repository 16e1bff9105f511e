// Package storage persists converted PDFs on local disk and optionally
// remembers recent conversions in Redis.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"kdocs2pdf/internal/domain"
)

var validName = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// FileStore is a flat directory of files addressed by name.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the base directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(name string) (string, error) {
	if !validName.MatchString(name) || strings.HasPrefix(name, ".") || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: invalid file name %q", domain.ErrNotFound, name)
	}
	return filepath.Join(s.dir, name), nil
}

// Put writes r to name via a temp file and rename, so readers never see a
// partial file. An existing file is replaced.
func (s *FileStore) Put(name string, r io.Reader) (err error) {
	dst, err := s.path(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// Open returns the file and its size, or domain.ErrNotFound.
func (s *FileStore) Open(name string) (io.ReadCloser, int64, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, fmt.Errorf("%w: %s", domain.ErrNotFound, name)
	}
	if err != nil {
		return nil, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	if !st.Mode().IsRegular() {
		_ = f.Close()
		return nil, 0, fmt.Errorf("%w: %s", domain.ErrNotFound, name)
	}
	return f, st.Size(), nil
}

// Exists reports whether name is a stored regular file.
func (s *FileStore) Exists(name string) bool {
	p, err := s.path(name)
	if err != nil {
		return false
	}
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}
