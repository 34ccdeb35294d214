package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultBinaryExtension is the artifact suffix used when none is configured.
const DefaultBinaryExtension = ".bytes"

// Descriptor validation errors.
var (
	ErrMissingSource       = errors.New("module definition reference is not set")
	ErrMissingOutputFolder = errors.New("output folder is not set")
	ErrOutputFolderMissing = errors.New("output folder does not exist")
)

// AssemblyDescriptor describes one hot-fixable module.
type AssemblyDescriptor struct {
	// Source is the path of the module definition file.
	Source string `yaml:"source" json:"source"`
	// OutputFolder receives the built artifact.
	OutputFolder string `yaml:"output_folder" json:"output_folder"`
	// LastBuild is the toolchain artifact time last incorporated into a build.
	LastBuild time.Time `yaml:"last_build,omitempty" json:"last_build,omitempty"`
	// Facade is the content handle of the artifact last copied to the output path.
	Facade string `yaml:"facade,omitempty" json:"facade,omitempty"`
}

// OutputPath returns the location of the built artifact for the named module.
func (d *AssemblyDescriptor) OutputPath(name, ext string) string {
	if ext == "" {
		ext = DefaultBinaryExtension
	}
	return filepath.Join(d.OutputFolder, name+ext)
}

// BinaryFileName returns the compiled file name for the named module.
func BinaryFileName(name string) string {
	return name + ".dll"
}

// Resolve returns a copy of the descriptor with relative paths joined to root.
func (d AssemblyDescriptor) Resolve(root string) AssemblyDescriptor {
	d.Source = resolvePath(root, d.Source)
	d.OutputFolder = resolvePath(root, d.OutputFolder)
	return d
}

// Validate reports whether the descriptor can be processed.
func (d *AssemblyDescriptor) Validate(root string) error {
	if d.Source == "" {
		return ErrMissingSource
	}
	if d.OutputFolder == "" {
		return ErrMissingOutputFolder
	}

	folder := resolvePath(root, d.OutputFolder)
	info, err := os.Stat(folder)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrOutputFolderMissing, folder)
		}
		return fmt.Errorf("checking output folder: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrOutputFolderMissing, folder)
	}
	return nil
}

// Advance records a successful build. LastBuild never moves backwards.
func (d *AssemblyDescriptor) Advance(built time.Time, facade string) {
	if built.After(d.LastBuild) {
		d.LastBuild = built
	}
	d.Facade = facade
}

func resolvePath(root, p string) string {
	if p == "" || root == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
