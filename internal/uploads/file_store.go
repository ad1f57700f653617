// Package uploads stages multipart image uploads on local disk for the
// duration of a single request.
package uploads

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedType is returned for file extensions outside the allowlist.
var ErrUnsupportedType = errors.New("unsupported file type")

var defaultExtensions = []string{".png", ".jpg", ".jpeg", ".webp"}

// FileStore writes uploads into a scratch directory.
type FileStore struct {
	dir     string
	allowed map[string]struct{}
}

// NewFileStore creates the scratch directory if needed. An empty
// extension list falls back to common image types.
func NewFileStore(dir string, extensions []string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join(os.TempDir(), "craftai-uploads")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if len(extensions) == 0 {
		extensions = defaultExtensions
	}
	allowed := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}
	return &FileStore{dir: dir, allowed: allowed}, nil
}

// Save copies src into the scratch directory and returns the stored path.
func (s *FileStore) Save(filename string, src io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := s.allowed[ext]; !ok {
		return "", ErrUnsupportedType
	}

	f, err := os.CreateTemp(s.dir, "upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// Remove deletes a staged upload. Paths outside the scratch directory
// are rejected.
func (s *FileStore) Remove(path string) error {
	cleaned := filepath.Clean(path)
	if filepath.Dir(cleaned) != filepath.Clean(s.dir) {
		return fmt.Errorf("path %q outside upload dir", path)
	}
	err := os.Remove(cleaned)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
