package loader

import "github.com/narvanalabs/hotfix/internal/delivery"

// CatalogEntries converts a delivery catalog into loader entries.
func CatalogEntries(c *delivery.Catalog) []Entry {
	entries := make([]Entry, 0, len(c.Entries))
	for _, e := range c.Entries {
		entries = append(entries, Entry{
			Handle:       e.Handle,
			Binary:       e.Binary,
			Dependencies: append([]string(nil), e.Dependencies...),
		})
	}
	return entries
}

// LocalEntries converts on-disk artifacts into entries for a DirFetcher.
func LocalEntries(local []delivery.LocalEntry) []Entry {
	entries := make([]Entry, 0, len(local))
	for _, e := range local {
		entries = append(entries, Entry{
			Handle:       e.Path,
			Binary:       e.Binary,
			Dependencies: append([]string(nil), e.Dependencies...),
		})
	}
	return entries
}
