package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrInvalidDefinition is returned when a module definition cannot be used.
var ErrInvalidDefinition = errors.New("invalid module definition")

// moduleNameRegex matches names usable as file names and URL path segments:
// a letter or underscore followed by letters, digits, dots, underscores or hyphens.
var moduleNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// maxModuleNameLength keeps derived file names within common filesystem limits.
const maxModuleNameLength = 200

// ModuleDefinitionExt is the file extension of module definition files.
const ModuleDefinitionExt = ".asmdef"

// ModuleDefinition is the compilable module description read from its own
// definition file.
type ModuleDefinition struct {
	Name              string   `json:"name"`
	References        []string `json:"references,omitempty"`
	IncludePlatforms  []string `json:"includePlatforms,omitempty"`
	ExcludePlatforms  []string `json:"excludePlatforms,omitempty"`
	AllowUnsafeCode   bool     `json:"allowUnsafeCode"`
	DefineConstraints []string `json:"defineConstraints,omitempty"`

	// Path is where the definition was loaded from.
	Path string `json:"-"`
}

// ParseModuleDefinition decodes a module definition document.
func ParseModuleDefinition(data []byte) (*ModuleDefinition, error) {
	var def ModuleDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	def.Name = strings.TrimSpace(def.Name)
	if err := ValidateModuleName(def.Name); err != nil {
		return nil, err
	}
	return &def, nil
}

// ValidateModuleName checks that name can become a binary and artifact file name.
func ValidateModuleName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name is empty", ErrInvalidDefinition)
	case len(name) > maxModuleNameLength:
		return fmt.Errorf("%w: name must be %d characters or less", ErrInvalidDefinition, maxModuleNameLength)
	case strings.HasSuffix(name, "."):
		return fmt.Errorf("%w: name %q cannot end with a dot", ErrInvalidDefinition, name)
	case !moduleNameRegex.MatchString(name):
		return fmt.Errorf("%w: name %q must start with a letter or underscore and contain only letters, digits, '.', '_' or '-'", ErrInvalidDefinition, name)
	}
	return nil
}

// LoadModuleDefinition reads and parses the definition at path.
func LoadModuleDefinition(path string) (*ModuleDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading module definition: %w", err)
	}
	def, err := ParseModuleDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	def.Path = path
	return def, nil
}

// SourceDir is the directory whose sources belong to the module.
func (m *ModuleDefinition) SourceDir() string {
	return filepath.Dir(m.Path)
}

// SupportsPlatform reports whether the module compiles for platform.
func (m *ModuleDefinition) SupportsPlatform(platform string) bool {
	for _, p := range m.ExcludePlatforms {
		if strings.EqualFold(p, platform) {
			return false
		}
	}
	if len(m.IncludePlatforms) == 0 {
		return true
	}
	for _, p := range m.IncludePlatforms {
		if strings.EqualFold(p, platform) {
			return true
		}
	}
	return false
}

// ConstraintsSatisfied reports whether every define constraint holds for the
// given symbols. "!SYMBOL" requires SYMBOL to be absent; "A || B" holds when
// either alternative does.
func (m *ModuleDefinition) ConstraintsSatisfied(defines []string) bool {
	set := make(map[string]struct{}, len(defines))
	for _, d := range defines {
		set[d] = struct{}{}
	}
	holds := func(term string) bool {
		if name, negated := strings.CutPrefix(term, "!"); negated {
			_, ok := set[strings.TrimSpace(name)]
			return !ok
		}
		_, ok := set[term]
		return ok
	}

	for _, c := range m.DefineConstraints {
		if strings.TrimSpace(c) == "" {
			continue
		}
		satisfied := false
		for _, term := range strings.Split(c, "||") {
			if term = strings.TrimSpace(term); term != "" && holds(term) {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return false
		}
	}
	return true
}

// ReferenceNames returns the referenced module names. References written as
// "GUID:..." cannot be resolved offline and are dropped.
func (m *ModuleDefinition) ReferenceNames() []string {
	names := make([]string, 0, len(m.References))
	for _, r := range m.References {
		r = strings.TrimSpace(r)
		if r == "" || strings.HasPrefix(r, "GUID:") {
			continue
		}
		names = append(names, r)
	}
	return names
}
