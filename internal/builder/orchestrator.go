// Package builder recompiles stale hotfix modules into standalone artifacts.
package builder

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/narvanalabs/hotfix/internal/builder/hash"
	hferrors "github.com/narvanalabs/hotfix/internal/errors"
	"github.com/narvanalabs/hotfix/internal/models"
	"github.com/narvanalabs/hotfix/pkg/config"
)

// AssetIndex is refreshed once after every completed batch.
type AssetIndex interface {
	Refresh(ctx context.Context) error
}

// SettingsStore persists descriptor changes made by a sync.
type SettingsStore interface {
	Save(s *config.Settings) error
}

// HistoryRecorder records the outcomes of a sync run.
type HistoryRecorder interface {
	Record(ctx context.Context, runID string, outcomes []models.BuildOutcome) error
}

// OrchestratorConfig holds the paths and compile settings shared by every module.
type OrchestratorConfig struct {
	ProjectRoot         string
	ScriptAssembliesDir string
	ScratchDir          string
	TargetPlatform      string
	APILevel            string
	Defines             []string
	References          []string
}

// OrchestratorConfigFrom derives an OrchestratorConfig from the environment config.
func OrchestratorConfigFrom(cfg *config.Config) OrchestratorConfig {
	return OrchestratorConfig{
		ProjectRoot:         cfg.ProjectRoot,
		ScriptAssembliesDir: cfg.Build.ScriptAssembliesDir,
		ScratchDir:          cfg.Build.ScratchDir,
		TargetPlatform:      cfg.Build.TargetPlatform,
		APILevel:            cfg.Build.APILevel,
		Defines:             cfg.Build.Defines,
		References:          cfg.Build.References,
	}
}

// Orchestrator rebuilds hotfix modules whose toolchain artifact is newer than
// the last build it incorporated.
type Orchestrator struct {
	cfg      OrchestratorConfig
	settings *config.Settings
	compiler Compiler
	host     HostState
	index    AssetIndex
	persist  SettingsStore
	history  HistoryRecorder
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHostState sets the host guard consulted before every sync.
func WithHostState(h HostState) Option {
	return func(o *Orchestrator) {
		o.host = h
	}
}

// WithAssetIndex sets the index refreshed after each batch.
func WithAssetIndex(idx AssetIndex) Option {
	return func(o *Orchestrator) {
		o.index = idx
	}
}

// WithSettingsStore sets where changed descriptors are persisted.
func WithSettingsStore(s SettingsStore) Option {
	return func(o *Orchestrator) {
		o.persist = s
	}
}

// WithHistory sets the build history recorder.
func WithHistory(h HistoryRecorder) Option {
	return func(o *Orchestrator) {
		o.history = h
	}
}

// NewOrchestrator creates an Orchestrator over settings. The descriptors in
// settings are updated in place by Sync.
func NewOrchestrator(cfg OrchestratorConfig, settings *config.Settings, compiler Compiler, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		cfg:      cfg,
		settings: settings,
		compiler: compiler,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// module pairs a descriptor with its parsed definition.
type module struct {
	desc *models.AssemblyDescriptor
	def  *models.ModuleDefinition
}

// Sync rebuilds stale modules, or every module when force is set. Modules are
// processed one at a time in configuration order. An invalid descriptor
// aborts the batch before anything is built; a compile or copy failure only
// fails its own module.
func (o *Orchestrator) Sync(ctx context.Context, force bool) ([]models.BuildOutcome, error) {
	if o.host != nil {
		if busy, reason := o.host.Busy(); busy {
			o.logger.Info("host busy, skipping sync", "reason", reason)
			return nil, nil
		}
	}

	runID := uuid.NewString()
	logger := o.logger.With("run_id", runID)

	modules, err := o.prepare()
	if err != nil {
		logger.Error("invalid hotfix configuration, sync aborted", "error", err)
		return nil, err
	}

	logger.Info("starting sync", "modules", len(modules), "force", force)

	outcomes := make([]models.BuildOutcome, 0, len(modules))
	changed := false
	var canceled error
	for _, m := range modules {
		if canceled = ctx.Err(); canceled != nil {
			logger.Warn("sync canceled", "remaining", len(modules)-len(outcomes))
			break
		}

		outcome := o.syncModule(ctx, logger.With("module", m.def.Name), m, force)
		if outcome.Status == models.BuildStatusBuilt {
			changed = true
		}
		outcomes = append(outcomes, outcome)
	}

	// Modules built before a cancellation keep their recorded build times.
	if changed && o.persist != nil {
		if err := o.persist.Save(o.settings); err != nil {
			logger.Error("failed to persist settings", "error", err)
			return outcomes, fmt.Errorf("persisting settings: %w", err)
		}
	}

	finishCtx := context.WithoutCancel(ctx)
	if o.index != nil {
		if err := o.index.Refresh(finishCtx); err != nil {
			logger.Error("asset index refresh failed", "error", err)
			return outcomes, fmt.Errorf("refreshing asset index: %w", err)
		}
	}

	if o.history != nil {
		if err := o.history.Record(finishCtx, runID, outcomes); err != nil {
			logger.Warn("failed to record build history", "error", err)
		}
	}

	if canceled != nil {
		return outcomes, canceled
	}
	logger.Info("sync complete", summarize(outcomes)...)
	return outcomes, nil
}

// prepare validates every descriptor and loads its definition.
func (o *Orchestrator) prepare() ([]module, error) {
	modules := make([]module, 0, len(o.settings.Assemblies))
	for i := range o.settings.Assemblies {
		desc := &o.settings.Assemblies[i]
		if err := desc.Validate(o.cfg.ProjectRoot); err != nil {
			return nil, hferrors.NewInvalidConfigurationError(i, desc.Source, err)
		}

		resolved := desc.Resolve(o.cfg.ProjectRoot)
		def, err := models.LoadModuleDefinition(resolved.Source)
		if err != nil {
			return nil, hferrors.NewInvalidConfigurationError(i, desc.Source, err)
		}
		modules = append(modules, module{desc: desc, def: def})
	}
	return modules, nil
}

func (o *Orchestrator) syncModule(ctx context.Context, logger *slog.Logger, m module, force bool) models.BuildOutcome {
	start := time.Now()
	name := m.def.Name
	outcome := models.BuildOutcome{Module: name}
	finish := func(status models.BuildStatus) models.BuildOutcome {
		outcome.Status = status
		outcome.Duration = time.Since(start)
		return outcome
	}
	skip := func(msg string) models.BuildOutcome {
		logger.Debug("module skipped", "reason", msg)
		outcome.Diagnostics = append(outcome.Diagnostics, models.Diagnostic{Severity: models.SeverityInfo, Message: msg})
		return finish(models.BuildStatusSkipped)
	}

	if !m.def.SupportsPlatform(o.cfg.TargetPlatform) {
		return skip(fmt.Sprintf("module excluded on platform %s", o.cfg.TargetPlatform))
	}
	if !m.def.ConstraintsSatisfied(EffectiveDefines(o.cfg.Defines, o.cfg.TargetPlatform, o.cfg.APILevel)) {
		return skip("define constraints not satisfied")
	}

	artifact := filepath.Join(o.cfg.ScriptAssembliesDir, models.BinaryFileName(name))
	info, err := os.Stat(artifact)
	if err != nil {
		if os.IsNotExist(err) {
			return skip("no compiled artifact yet")
		}
		outcome.Err = fmt.Errorf("checking compiled artifact: %w", err)
		logger.Error("failed to stat compiled artifact", "error", err)
		return finish(models.BuildStatusFailed)
	}

	modTime := info.ModTime()
	if !force && !modTime.After(m.desc.LastBuild) {
		return skip("up to date")
	}

	sources, err := collectSources(m.def)
	if err != nil {
		outcome.Err = err
		logger.Error("failed to collect sources", "error", err)
		return finish(models.BuildStatusFailed)
	}

	if err := os.MkdirAll(o.cfg.ScratchDir, 0o755); err != nil {
		outcome.Err = fmt.Errorf("creating scratch directory: %w", err)
		return finish(models.BuildStatusFailed)
	}

	req := CompileRequest{
		Module:      name,
		Sources:     sources,
		References:  o.references(m.def),
		Defines:     o.cfg.Defines,
		Platform:    o.cfg.TargetPlatform,
		APILevel:    o.cfg.APILevel,
		AllowUnsafe: m.def.AllowUnsafeCode,
		OutputPath:  filepath.Join(o.cfg.ScratchDir, models.BinaryFileName(name)),
	}

	logger.Info("compiling module", "sources", len(sources), "forced", force)
	result, err := o.compiler.Compile(ctx, req)
	if err != nil {
		diag := models.Diagnostic{Severity: models.SeverityError, Message: err.Error()}
		outcome.Diagnostics = append(outcome.Diagnostics, diag)
		outcome.Err = hferrors.NewCompileError(name, outcome.Diagnostics)
		logger.Error("compiler unavailable", "error", err)
		return finish(models.BuildStatusFailed)
	}
	outcome.Diagnostics = append(outcome.Diagnostics, result.Diagnostics...)
	if !result.Success {
		outcome.Err = hferrors.NewCompileError(name, result.Diagnostics)
		logger.Error("compile failed", "errors", len(outcome.Errors()), "warnings", len(outcome.Warnings()))
		return finish(models.BuildStatusFailed)
	}

	resolved := m.desc.Resolve(o.cfg.ProjectRoot)
	dest := resolved.OutputPath(name, o.settings.Extension())
	facade, err := copyArtifact(req.OutputPath, dest)
	if err != nil {
		outcome.Err = hferrors.NewCopyError(name, dest, err)
		logger.Error("copy failed, build timestamp not advanced", "dest", dest, "error", err)
		return finish(models.BuildStatusFailed)
	}

	m.desc.Advance(modTime, facade)
	outcome.Artifact = dest
	logger.Info("module built", "artifact", dest, "facade", facade, "warnings", len(outcome.Warnings()))
	return finish(models.BuildStatusBuilt)
}

// references returns the project reference set plus the toolchain artifacts
// of the module's declared references.
func (o *Orchestrator) references(def *models.ModuleDefinition) []string {
	refs := make([]string, 0, len(o.cfg.References)+len(def.References))
	for _, r := range o.cfg.References {
		if !filepath.IsAbs(r) && o.cfg.ProjectRoot != "" {
			r = filepath.Join(o.cfg.ProjectRoot, r)
		}
		refs = append(refs, r)
	}
	for _, name := range def.ReferenceNames() {
		p := filepath.Join(o.cfg.ScriptAssembliesDir, models.BinaryFileName(name))
		if _, err := os.Stat(p); err == nil {
			refs = append(refs, p)
		}
	}
	return dedupe(refs)
}

// collectSources lists the .cs files owned by def, skipping sub-trees that hold
// another module definition.
func collectSources(def *models.ModuleDefinition) ([]string, error) {
	root := def.SourceDir()
	var sources []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			owned, err := filepath.Glob(filepath.Join(path, "*"+models.ModuleDefinitionExt))
			if err != nil {
				return err
			}
			if len(owned) > 0 {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".cs") {
			sources = append(sources, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collecting sources for %s: %w", def.Name, err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("module %s has no source files under %s", def.Name, root)
	}
	return sources, nil
}

// copyArtifact copies src over dst and returns the content handle of the bytes
// written.
func copyArtifact(src, dst string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening compiler output: %w", err)
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", err
	}

	return hash.File(dst)
}

func summarize(outcomes []models.BuildOutcome) []any {
	var built, skipped, failed int
	for _, o := range outcomes {
		switch o.Status {
		case models.BuildStatusBuilt:
			built++
		case models.BuildStatusSkipped:
			skipped++
		case models.BuildStatusFailed:
			failed++
		}
	}
	return []any{"built", built, "skipped", skipped, "failed", failed}
}
