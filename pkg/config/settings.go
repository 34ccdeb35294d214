package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/narvanalabs/hotfix/internal/models"
	"gopkg.in/yaml.v3"
)

// Settings is the persisted hotfix configuration authored in the project.
type Settings struct {
	// BinaryExtension is appended to module names for built artifacts.
	BinaryExtension string `yaml:"binary_extension"`
	// TestLoad makes local loads read artifacts from output folders instead
	// of the delivery store.
	TestLoad bool `yaml:"test_load"`
	// Assemblies lists the hotfix modules in configuration order.
	Assemblies []models.AssemblyDescriptor `yaml:"assemblies"`
}

// DefaultSettings returns empty settings with the default extension.
func DefaultSettings() *Settings {
	return &Settings{
		BinaryExtension: models.DefaultBinaryExtension,
	}
}

// Extension returns the configured extension, normalized to start with a dot.
func (s *Settings) Extension() string {
	ext := strings.TrimSpace(s.BinaryExtension)
	if ext == "" {
		return models.DefaultBinaryExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// SettingsFile persists Settings as YAML at Path.
type SettingsFile struct {
	Path string
}

// Load reads the settings. A missing file yields defaults; the file is
// created on the first Save.
func (f *SettingsFile) Load() (*Settings, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	s := DefaultSettings()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing settings %s: %w", f.Path, err)
	}
	if s.BinaryExtension == "" {
		s.BinaryExtension = models.DefaultBinaryExtension
	}
	return s, nil
}

// Save writes the settings atomically.
func (f *SettingsFile) Save(s *Settings) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing settings: %w", err)
	}
	return nil
}
