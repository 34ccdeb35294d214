package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/narvanalabs/hotfix/internal/models"
	"github.com/narvanalabs/hotfix/pkg/config"
)

// Sealer encrypts blobs before they are published.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
}

// Publisher copies the built hotfix artifacts into a Sink and writes a
// catalog describing them.
type Publisher struct {
	root     string
	settings *config.Settings
	sink     Sink
	sealer   Sealer
	logger   *slog.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithSealer seals every blob before it is stored.
func WithSealer(s Sealer) PublisherOption {
	return func(p *Publisher) {
		p.sealer = s
	}
}

// NewPublisher creates a Publisher for the descriptors in settings. Paths are
// resolved against root.
func NewPublisher(root string, settings *config.Settings, sink Sink, logger *slog.Logger, opts ...PublisherOption) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		root:     root,
		settings: settings,
		sink:     sink,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Refresh republishes every built artifact.
func (p *Publisher) Refresh(ctx context.Context) error {
	_, err := p.Publish(ctx)
	return err
}

type publishable struct {
	desc models.AssemblyDescriptor
	def  *models.ModuleDefinition
	data []byte
}

// Publish stores every built artifact and writes the catalog. Modules that
// have not been built yet are left out, and so is every module that depends
// on one of them, directly or transitively. Dependencies are the module's
// references to other hotfix modules.
func (p *Publisher) Publish(ctx context.Context) (*Catalog, error) {
	hotfix := make(map[string]bool, len(p.settings.Assemblies))
	built := make([]publishable, 0, len(p.settings.Assemblies))
	for i, d := range p.settings.Assemblies {
		resolved := d.Resolve(p.root)
		def, err := models.LoadModuleDefinition(resolved.Source)
		if err != nil {
			return nil, fmt.Errorf("descriptor %d: %w", i, err)
		}
		hotfix[def.Name] = true

		artifact := resolved.OutputPath(def.Name, p.settings.Extension())
		data, err := os.ReadFile(artifact)
		if err != nil {
			if os.IsNotExist(err) {
				p.logger.Debug("module not built yet, not published", "module", def.Name)
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", artifact, err)
		}
		built = append(built, publishable{desc: resolved, def: def, data: data})
	}

	modules := p.closed(built, hotfix)

	catalog := &Catalog{GeneratedAt: time.Now().UTC(), Entries: []CatalogEntry{}}
	for _, m := range modules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := m.def.Name
		data := m.data
		entry := CatalogEntry{
			Binary: models.BinaryFileName(name),
			Module: name,
			Size:   int64(len(data)),
		}
		for _, ref := range m.def.ReferenceNames() {
			if hotfix[ref] {
				entry.Dependencies = append(entry.Dependencies, models.BinaryFileName(ref))
			}
		}

		var err error
		if p.sealer != nil {
			data, err = p.sealer.Seal(data)
			if err != nil {
				return nil, fmt.Errorf("sealing %s: %w", name, err)
			}
			entry.Sealed = true
		}

		entry.Handle, err = p.sink.Put(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("publishing %s: %w", name, err)
		}
		catalog.Entries = append(catalog.Entries, entry)
		p.logger.Debug("module published", "module", name, "handle", entry.Handle, "sealed", entry.Sealed)
	}

	if err := p.sink.WriteCatalog(ctx, catalog); err != nil {
		return nil, fmt.Errorf("writing catalog: %w", err)
	}
	p.logger.Info("catalog published", "entries", len(catalog.Entries))
	return catalog, nil
}

// closed drops built modules until every hotfix reference of the remaining
// ones is itself in the set, so the catalog never names a missing dependency.
func (p *Publisher) closed(built []publishable, hotfix map[string]bool) []publishable {
	kept := make(map[string]bool, len(built))
	for _, m := range built {
		kept[m.def.Name] = true
	}
	for changed := true; changed; {
		changed = false
		for _, m := range built {
			if !kept[m.def.Name] {
				continue
			}
			for _, ref := range m.def.ReferenceNames() {
				if hotfix[ref] && !kept[ref] {
					p.logger.Warn("module not published, dependency unavailable",
						"module", m.def.Name, "dependency", ref)
					kept[m.def.Name] = false
					changed = true
					break
				}
			}
		}
	}

	out := make([]publishable, 0, len(built))
	for _, m := range built {
		if kept[m.def.Name] {
			out = append(out, m)
		}
	}
	return out
}
