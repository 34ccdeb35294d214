package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/narvanalabs/hotfix/internal/builder/hash"
)

// ErrInvalidHandle is returned for handles that are not content handles.
var ErrInvalidHandle = errors.New("invalid content handle")

// Sink receives published blobs and catalogs.
type Sink interface {
	Put(ctx context.Context, data []byte) (string, error)
	WriteCatalog(ctx context.Context, c *Catalog) error
}

// FileStore is a content-addressed blob directory. Fetch and Release keep a
// reference count per handle.
type FileStore struct {
	root string
	mu   sync.Mutex
	refs map[string]int
}

// NewFileStore opens or creates a store at root.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(root, "blobs"), 0o755); err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}
	return &FileStore{root: root, refs: make(map[string]int)}, nil
}

// Root returns the store directory.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) blobPath(handle string) string {
	return filepath.Join(s.root, "blobs", handle)
}

// Put stores data and returns its handle. Storing the same bytes twice is a no-op.
func (s *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	handle := hash.Bytes(data)
	path := s.blobPath(handle)
	if _, err := os.Stat(path); err == nil {
		return handle, nil
	}
	if err := writeAtomic(path, data); err != nil {
		return "", fmt.Errorf("storing %s: %w", handle, err)
	}
	return handle, nil
}

// Has reports whether handle is stored.
func (s *FileStore) Has(handle string) bool {
	if !hash.IsValid(handle) {
		return false
	}
	_, err := os.Stat(s.blobPath(handle))
	return err == nil
}

// Get reads a blob without taking a reference.
func (s *FileStore) Get(handle string) ([]byte, error) {
	if !hash.IsValid(handle) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	data, err := os.ReadFile(s.blobPath(handle))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", handle, ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

// Fetch reads a blob and takes a reference on it.
func (s *FileStore) Fetch(ctx context.Context, handle string) ([]byte, error) {
	data, err := s.Get(handle)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.refs[handle]++
	s.mu.Unlock()
	return data, nil
}

// Release drops a reference taken by Fetch.
func (s *FileStore) Release(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs[handle] <= 1 {
		delete(s.refs, handle)
		return
	}
	s.refs[handle]--
}

// Refs returns the number of outstanding references on handle.
func (s *FileStore) Refs(handle string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[handle]
}

// WriteCatalog replaces the store's catalog.
func (s *FileStore) WriteCatalog(ctx context.Context, c *Catalog) error {
	data, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}
	return writeAtomic(filepath.Join(s.root, CatalogFileName), data)
}

// ReadCatalog returns the store's catalog.
func (s *FileStore) ReadCatalog(ctx context.Context) (*Catalog, error) {
	data, err := os.ReadFile(filepath.Join(s.root, CatalogFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("catalog: %w", ErrNotFound)
		}
		return nil, err
	}
	return ParseCatalog(data)
}

// Ping checks that the store directory is reachable.
func (s *FileStore) Ping(ctx context.Context) error {
	_, err := os.Stat(filepath.Join(s.root, "blobs"))
	return err
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
