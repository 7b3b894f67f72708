package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileStorage keeps snapshots as flat files under one directory.
type FileStorage struct {
	basePath string
}

func NewFileStorage(basePath string) (*FileStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	return &FileStorage{basePath: basePath}, nil
}

var _ Storage = (*FileStorage)(nil)

// checkName rejects names that would escape the base directory.
// Snapshot names can arrive from API requests, not only from List.
func (fs *FileStorage) checkName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid snapshot name: %q", name)
	}
	return nil
}

func (fs *FileStorage) Save(ctx context.Context, name string, data io.Reader) error {
	if err := fs.checkName(name); err != nil {
		return err
	}

	file, err := os.Create(filepath.Join(fs.basePath, name))
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}

	return file.Sync()
}

func (fs *FileStorage) Load(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := fs.checkName(name); err != nil {
		return nil, err
	}

	file, err := os.Open(filepath.Join(fs.basePath, name))
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}

	return file, nil
}

func (fs *FileStorage) List(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			names = append(names, entry.Name())
		}
	}

	return names, nil
}

func (fs *FileStorage) Delete(ctx context.Context, name string) error {
	if err := fs.checkName(name); err != nil {
		return err
	}
	return os.Remove(filepath.Join(fs.basePath, name))
}
