package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps blobs as plain files under a root directory.
type LocalStore struct {
	root string
}

// NewLocalStore creates a LocalStore rooted at dir, creating it if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root %s: %w", dir, err)
	}
	return &LocalStore{root: dir}, nil
}

func (s *LocalStore) Save(ctx context.Context, name string, r io.Reader) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create blob %s: %w", name, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write blob %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close blob %s: %w", name, err)
	}
	return nil
}

func (s *LocalStore) Open(ctx context.Context, name string) (File, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("open blob %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", name, err)
	}
	return &localFile{f}, nil
}

// resolve joins a blob name onto the root, rejecting names that would
// escape it. Names are server-generated, so a traversal attempt here
// means a bug upstream, not user input.
func (s *LocalStore) resolve(name string) (string, error) {
	if name == "" || strings.Contains(name, "..") || filepath.IsAbs(name) {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	return filepath.Join(s.root, filepath.FromSlash(name)), nil
}

type localFile struct {
	*os.File
}

func (f *localFile) Rewind() error {
	_, err := f.Seek(0, io.SeekStart)
	return err
}
