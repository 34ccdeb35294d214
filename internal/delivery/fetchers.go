package delivery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/narvanalabs/hotfix/internal/models"
	"github.com/narvanalabs/hotfix/pkg/config"
)

// Fetcher resolves handles to blob bytes.
type Fetcher interface {
	Fetch(ctx context.Context, handle string) ([]byte, error)
	Release(handle string)
}

// Opener decrypts sealed blobs.
type Opener interface {
	Open(sealed []byte) ([]byte, error)
}

// SealedFetcher opens blobs fetched from an underlying Fetcher. When Sealed
// is non-nil only the handles it marks are opened; the rest pass through.
type SealedFetcher struct {
	Fetcher Fetcher
	Opener  Opener
	Sealed  map[string]bool
}

// Fetch implements Fetcher.
func (f *SealedFetcher) Fetch(ctx context.Context, handle string) ([]byte, error) {
	sealed, err := f.Fetcher.Fetch(ctx, handle)
	if err != nil {
		return nil, err
	}
	if f.Sealed != nil && !f.Sealed[handle] {
		return sealed, nil
	}
	if f.Opener == nil {
		f.Fetcher.Release(handle)
		return nil, fmt.Errorf("opening %s: %w", handle, ErrNoOpener)
	}
	data, err := f.Opener.Open(sealed)
	if err != nil {
		f.Fetcher.Release(handle)
		return nil, fmt.Errorf("opening %s: %w", handle, err)
	}
	return data, nil
}

// Release implements Fetcher.
func (f *SealedFetcher) Release(handle string) {
	f.Fetcher.Release(handle)
}

// DirFetcher reads blobs straight from disk. Handles are file paths, relative
// ones resolved against Root. It backs test-load mode.
type DirFetcher struct {
	Root string
}

// Fetch implements Fetcher.
func (f *DirFetcher) Fetch(ctx context.Context, handle string) ([]byte, error) {
	path := handle
	if !filepath.IsAbs(path) && f.Root != "" {
		path = filepath.Join(f.Root, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

// Release implements Fetcher.
func (f *DirFetcher) Release(handle string) {}

// LocalEntry is a built artifact on disk.
type LocalEntry struct {
	Path         string
	Binary       string
	Dependencies []string
}

// LocalEntries lists the built artifacts of settings as they sit in their
// output folders, for test-load mode.
func LocalEntries(root string, settings *config.Settings) ([]LocalEntry, error) {
	defs := make([]*models.ModuleDefinition, 0, len(settings.Assemblies))
	hotfix := make(map[string]bool, len(settings.Assemblies))
	for i, d := range settings.Assemblies {
		def, err := models.LoadModuleDefinition(d.Resolve(root).Source)
		if err != nil {
			return nil, fmt.Errorf("descriptor %d: %w", i, err)
		}
		defs = append(defs, def)
		hotfix[def.Name] = true
	}

	entries := make([]LocalEntry, 0, len(defs))
	for i, def := range defs {
		resolved := settings.Assemblies[i].Resolve(root)
		e := LocalEntry{
			Path:   resolved.OutputPath(def.Name, settings.Extension()),
			Binary: models.BinaryFileName(def.Name),
		}
		for _, ref := range def.ReferenceNames() {
			if hotfix[ref] {
				e.Dependencies = append(e.Dependencies, models.BinaryFileName(ref))
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}
