package models

import (
	"errors"
	"fmt"
)

// ErrManifestMisaligned is returned when the manifest arrays differ in length.
var ErrManifestMisaligned = errors.New("player manifest arrays are not aligned")

// ManifestFileName is the player assembly manifest written next to Managed/.
const ManifestFileName = "ScriptingAssemblies.json"

// PlayerManifest lists the assemblies a built player loads. Names and Types are
// index-aligned.
type PlayerManifest struct {
	Names []string `json:"names"`
	Types []int    `json:"types"`
}

// Validate checks the index alignment of the two arrays.
func (m *PlayerManifest) Validate() error {
	if len(m.Names) != len(m.Types) {
		return fmt.Errorf("%w: %d names, %d types", ErrManifestMisaligned, len(m.Names), len(m.Types))
	}
	return nil
}

// Contains reports whether name is listed.
func (m *PlayerManifest) Contains(name string) bool {
	for _, n := range m.Names {
		if n == name {
			return true
		}
	}
	return false
}

// Remove drops every entry whose name exactly matches one of names, editing
// both arrays at the same indices. It returns the removed names in manifest
// order.
func (m *PlayerManifest) Remove(names ...string) ([]string, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}

	keptNames := make([]string, 0, len(m.Names))
	keptTypes := make([]int, 0, len(m.Types))
	var removed []string
	for i, n := range m.Names {
		if _, ok := drop[n]; ok {
			removed = append(removed, n)
			continue
		}
		keptNames = append(keptNames, n)
		keptTypes = append(keptTypes, m.Types[i])
	}

	m.Names = keptNames
	m.Types = keptTypes
	return removed, nil
}
