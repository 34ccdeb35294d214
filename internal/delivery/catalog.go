// Package delivery stores built hotfix binaries under content handles and
// serves them to runtime loaders.
package delivery

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CatalogFileName is the catalog's name inside a store.
const CatalogFileName = "catalog.json"

// ErrNotFound is returned for unknown handles and missing catalogs.
var ErrNotFound = errors.New("not found")

// ErrNoOpener is returned when a sealed blob is fetched without a key to open it.
var ErrNoOpener = errors.New("blob is sealed and no opener is configured")

// CatalogEntry locates one published binary.
type CatalogEntry struct {
	Handle       string   `json:"handle"`
	Binary       string   `json:"binary"`
	Module       string   `json:"module"`
	Dependencies []string `json:"dependencies,omitempty"`
	Size         int64    `json:"size"`
	Sealed       bool     `json:"sealed,omitempty"`
}

// Catalog lists the binaries a loader should fetch, in publish order.
type Catalog struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Entries     []CatalogEntry `json:"entries"`
}

// Lookup returns the entry for binary.
func (c *Catalog) Lookup(binary string) (CatalogEntry, bool) {
	for _, e := range c.Entries {
		if e.Binary == binary {
			return e, true
		}
	}
	return CatalogEntry{}, false
}

// Handles returns every handle referenced by the catalog.
func (c *Catalog) Handles() []string {
	handles := make([]string, 0, len(c.Entries))
	for _, e := range c.Entries {
		handles = append(handles, e.Handle)
	}
	return handles
}

// SealedHandles returns the handles of the entries published sealed.
func (c *Catalog) SealedHandles() map[string]bool {
	sealed := make(map[string]bool)
	for _, e := range c.Entries {
		if e.Sealed {
			sealed[e.Handle] = true
		}
	}
	return sealed
}

// ParseCatalog decodes a catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return &c, nil
}

// Marshal encodes the catalog as indented JSON.
func (c *Catalog) Marshal() ([]byte, error) {
	if c.Entries == nil {
		c.Entries = []CatalogEntry{}
	}
	return json.MarshalIndent(c, "", "  ")
}
