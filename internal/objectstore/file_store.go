package objectstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	filePermissions = 0o600
	dirPermissions  = 0o750
)

var (
	// ErrDirEmpty indicates that no directory was given for the file store.
	ErrDirEmpty = errors.New("object store directory cannot be empty")
	// ErrInvalidKey indicates a key that would escape the store directory.
	ErrInvalidKey = errors.New("invalid object key")
)

// FileStore implements the core.ObjectStore interface with one file per key in a directory.
type FileStore struct {
	dir string
}

// NewFile creates the directory if needed. An empty dir selects a fresh directory
// under the OS temp dir.
func NewFile(dir string) (*FileStore, error) {
	if dir == "" {
		tempDir, err := os.MkdirTemp("", "speakbot-audio-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp audio directory: %w", err)
		}

		dir = tempDir
	}

	err := os.MkdirAll(dir, dirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio directory '%s': %w", dir, err)
	}

	return &FileStore{dir: dir}, nil
}

// Dir returns the directory backing the store.
func (f *FileStore) Dir() string {
	return f.dir
}

// Download reads the object stored under key.
func (f *FileStore) Download(_ context.Context, key string) ([]byte, error) {
	path, err := f.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, err)
	}

	return data, nil
}

// Upload writes the object under key, replacing the file atomically.
func (f *FileStore) Upload(_ context.Context, key string, data []byte) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(f.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for object '%s': %w", key, err)
	}

	tempName := tempFile.Name()

	_, err = tempFile.Write(data)

	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}

	if err == nil {
		err = os.Chmod(tempName, filePermissions)
	}

	if err == nil {
		err = os.Rename(tempName, path)
	}

	if err != nil {
		_ = os.Remove(tempName)

		return fmt.Errorf("failed to write object '%s': %w", key, err)
	}

	return nil
}

// Delete removes the object. Deleting a missing object is not an error.
func (f *FileStore) Delete(_ context.Context, key string) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}

	err = os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete object '%s': %w", key, err)
	}

	return nil
}

func (f *FileStore) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	return filepath.Join(f.dir, key), nil
}
