// Package playerfilter keeps hotfix modules out of shipped players.
package playerfilter

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/narvanalabs/hotfix/internal/models"
)

// ErrDataFolderNotFound is returned when a built player has no manifest.
var ErrDataFolderNotFound = errors.New("player data folder not found")

// ManagedDirName is the folder holding a player's managed binaries.
const ManagedDirName = "Managed"

// Filter removes hotfix module binaries from player builds.
type Filter struct {
	binaries map[string]struct{} // lower-cased binary file names
	exact    map[string]struct{}
	logger   *slog.Logger
}

// NewFilter creates a Filter for the named modules.
func NewFilter(modules []string, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	binaries := make(map[string]struct{}, len(modules))
	exact := make(map[string]struct{}, len(modules))
	for _, name := range modules {
		binaries[strings.ToLower(models.BinaryFileName(name))] = struct{}{}
		exact[models.BinaryFileName(name)] = struct{}{}
	}
	return &Filter{binaries: binaries, exact: exact, logger: logger}
}

// ModuleNames loads the module definition behind each descriptor and returns
// the module names in configuration order.
func ModuleNames(root string, descs []models.AssemblyDescriptor) ([]string, error) {
	names := make([]string, 0, len(descs))
	for i, d := range descs {
		if d.Source == "" {
			return nil, fmt.Errorf("descriptor %d: %w", i, models.ErrMissingSource)
		}
		def, err := models.LoadModuleDefinition(d.Resolve(root).Source)
		if err != nil {
			return nil, fmt.Errorf("descriptor %d: %w", i, err)
		}
		names = append(names, def.Name)
	}
	return names, nil
}

// IsHotfixBinary reports whether the base name of path is a hotfix module binary.
func (f *Filter) IsHotfixBinary(path string) bool {
	_, ok := f.binaries[strings.ToLower(filepath.Base(path))]
	return ok
}

// FilterForPlayerBuild returns paths without the hotfix module binaries.
func (f *Filter) FilterForPlayerBuild(paths []string) []string {
	kept := make([]string, 0, len(paths))
	for _, p := range paths {
		if f.IsHotfixBinary(p) {
			f.logger.Debug("excluding hotfix binary from player build", "path", p)
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

// PostProcessReport describes what PostProcessBuiltPlayer changed.
type PostProcessReport struct {
	DataDir         string
	Deleted         []string
	ManifestRemoved []string
	ManifestWritten bool
}

// Changed reports whether the built player was modified.
func (r *PostProcessReport) Changed() bool {
	return len(r.Deleted) > 0 || r.ManifestWritten
}

// PostProcessBuiltPlayer deletes hotfix binaries that leaked into the built
// player under root and drops their manifest entries.
func (f *Filter) PostProcessBuiltPlayer(ctx context.Context, root string) (*PostProcessReport, error) {
	dataDir, err := FindDataDir(root)
	if err != nil {
		return nil, err
	}

	report := &PostProcessReport{DataDir: dataDir}
	manifestPath := filepath.Join(dataDir, models.ManifestFileName)
	manifest, err := ReadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	managed := filepath.Join(dataDir, ManagedDirName)
	entries, err := os.ReadDir(managed)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading managed folder: %w", err)
	}

	var leaked []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if e.IsDir() || !f.IsHotfixBinary(e.Name()) {
			continue
		}
		path := filepath.Join(managed, e.Name())
		if err := os.Remove(path); err != nil {
			return report, fmt.Errorf("removing leaked binary %s: %w", path, err)
		}
		f.logger.Warn("removed hotfix binary from built player", "path", path)
		report.Deleted = append(report.Deleted, path)
		leaked = append(leaked, e.Name())
	}

	// Manifest entries may outlive their file when a previous run was
	// interrupted. Only exact binary names are dropped.
	for _, n := range manifest.Names {
		if _, ok := f.exact[n]; ok && !contains(leaked, n) {
			leaked = append(leaked, n)
		}
	}

	if len(leaked) == 0 {
		f.logger.Debug("built player is clean", "data_dir", dataDir)
		return report, nil
	}

	removed, err := manifest.Remove(leaked...)
	if err != nil {
		return report, fmt.Errorf("editing %s: %w", manifestPath, err)
	}
	report.ManifestRemoved = removed
	if len(removed) == 0 {
		return report, nil
	}

	if err := WriteManifest(manifestPath, manifest); err != nil {
		return report, err
	}
	report.ManifestWritten = true
	f.logger.Info("patched player manifest", "path", manifestPath, "removed", removed)
	return report, nil
}

// FindDataDir locates the directory under root holding both the player
// manifest and the managed binaries folder. The first match in walk order
// wins.
func FindDataDir(root string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || found != "" {
			return nil
		}
		if isDataDir(path) {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("searching %s: %w", root, err)
	}
	if found == "" {
		return "", fmt.Errorf("%w under %s", ErrDataFolderNotFound, root)
	}
	return found, nil
}

func isDataDir(dir string) bool {
	if info, err := os.Stat(filepath.Join(dir, models.ManifestFileName)); err != nil || info.IsDir() {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, ManagedDirName))
	return err == nil && info.IsDir()
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
