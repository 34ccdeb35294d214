package playerfilter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/narvanalabs/hotfix/internal/models"
)

// ReadManifest reads and validates a player assembly manifest.
func ReadManifest(path string) (*models.PlayerManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m models.PlayerManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return &m, nil
}

// WriteManifest replaces the manifest at path.
func WriteManifest(path string, m *models.PlayerManifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.Names == nil {
		m.Names = []string{}
	}
	if m.Types == nil {
		m.Types = []int{}
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*")
	if err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing manifest: %w", err)
	}
	return nil
}
