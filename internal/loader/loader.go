// Package loader fetches hotfix modules, loads them into the running process
// in dependency order and runs their initializers.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	hferrors "github.com/narvanalabs/hotfix/internal/errors"
	"github.com/narvanalabs/hotfix/internal/toposort"
)

// Loader errors.
var (
	ErrAlreadyLoaded     = errors.New("hotfix modules already loaded")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrDuplicateBinary   = errors.New("binary configured twice")
)

// Entry is one configured binary.
type Entry struct {
	Handle       string   `json:"handle"`
	Binary       string   `json:"binary"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Fetcher resolves a handle to the bytes of a binary.
type Fetcher interface {
	Fetch(ctx context.Context, handle string) ([]byte, error)
	Release(handle string)
}

// ModuleLoader loads a fetched binary into the running process.
type ModuleLoader interface {
	Load(ctx context.Context, binary string, data []byte) (Module, error)
}

// Module is a loaded binary.
type Module interface {
	Name() string
	Initializers() []Initializer
}

// Initializer runs once after every module is loaded. Lower priorities run first.
type Initializer struct {
	Name     string
	Priority int
	Run      func(ctx context.Context) error
}

// State is the loader lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateLoading
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateLoading:
		return "loading"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Report summarizes a load run.
type Report struct {
	RunID       string
	Loaded      []string
	Initialized []string
	Failures    []error
	Duration    time.Duration
}

// Loader runs the fetch, load and initialize sequence over a fixed set of
// entries. Only one run executes at a time.
type Loader struct {
	mu      sync.Mutex
	state   atomic.Int32
	entries []Entry
	fetcher Fetcher
	modules ModuleLoader
	loaded  map[string]Module
	order   []string
	observe func(State)
	logger  *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithStateObserver registers fn to be called on every state transition.
func WithStateObserver(fn func(State)) Option {
	return func(l *Loader) {
		l.observe = fn
	}
}

// New creates a Loader for entries.
func New(entries []Entry, fetcher Fetcher, modules ModuleLoader, logger *slog.Logger, opts ...Option) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{
		entries: append([]Entry(nil), entries...),
		fetcher: fetcher,
		modules: modules,
		loaded:  make(map[string]Module),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the current lifecycle state.
func (l *Loader) State() State {
	return State(l.state.Load())
}

func (l *Loader) setState(s State) {
	l.state.Store(int32(s))
	if l.observe != nil {
		l.observe(s)
	}
}

// Run fetches and loads every entry in dependency order, releasing each
// handle as soon as its module is loaded, then runs all initializers by
// priority. A fetch or load failure aborts the run; entries after it are never
// fetched. Initializer failures are collected in the report and do not stop
// the remaining initializers. Modules loaded by a failed run are kept and
// skipped when Run is called again.
func (l *Loader) Run(ctx context.Context) (*Report, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.State() == StateReady {
		return nil, ErrAlreadyLoaded
	}

	start := time.Now()
	report := &Report{RunID: uuid.NewString()}
	logger := l.logger.With("run_id", report.RunID)

	ordered, err := Order(l.entries)
	if err != nil {
		l.setState(StateFailed)
		logger.Error("cannot order hotfix modules", "error", err)
		return report, err
	}

	logger.Info("loading hotfix modules", "count", len(ordered))
	for _, e := range ordered {
		if _, ok := l.loaded[e.Binary]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			l.setState(StateFailed)
			return report, err
		}

		l.setState(StateFetching)
		data, err := l.fetcher.Fetch(ctx, e.Handle)
		if err != nil {
			l.setState(StateFailed)
			ferr := hferrors.NewFetchError(e.Binary, e.Handle, err)
			logger.Error("fetch failed, remaining modules not loaded", "binary", e.Binary, "handle", e.Handle, "error", err)
			return report, ferr
		}

		l.setState(StateLoading)
		mod, err := l.modules.Load(ctx, e.Binary, data)
		l.fetcher.Release(e.Handle)
		if err != nil {
			l.setState(StateFailed)
			logger.Error("load failed, remaining modules not loaded", "binary", e.Binary, "error", err)
			return report, hferrors.NewLoadError(e.Binary, err)
		}

		l.loaded[e.Binary] = mod
		l.order = append(l.order, e.Binary)
		report.Loaded = append(report.Loaded, e.Binary)
		logger.Debug("module loaded", "binary", e.Binary, "module", mod.Name(), "bytes", len(data))
	}

	l.setState(StateInitializing)
	l.initialize(ctx, logger, report)

	l.setState(StateReady)
	report.Duration = time.Since(start)
	logger.Info("hotfix modules ready",
		"loaded", len(report.Loaded),
		"initialized", len(report.Initialized),
		"failures", len(report.Failures),
		"duration", report.Duration,
	)
	return report, nil
}

type pendingInit struct {
	module string
	init   Initializer
}

func (l *Loader) initialize(ctx context.Context, logger *slog.Logger, report *Report) {
	var inits []pendingInit
	for _, binary := range l.order {
		mod := l.loaded[binary]
		for _, in := range mod.Initializers() {
			inits = append(inits, pendingInit{module: mod.Name(), init: in})
		}
	}
	sort.SliceStable(inits, func(i, j int) bool {
		return inits[i].init.Priority < inits[j].init.Priority
	})

	for _, p := range inits {
		if err := runInitializer(ctx, p.init); err != nil {
			ierr := hferrors.NewInitializerError(p.module, p.init.Name, err)
			logger.Error("initializer failed", "module", p.module, "initializer", p.init.Name, "error", err)
			report.Failures = append(report.Failures, ierr)
			continue
		}
		report.Initialized = append(report.Initialized, p.module+"."+p.init.Name)
	}
}

func runInitializer(ctx context.Context, in Initializer) (err error) {
	if in.Run == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return in.Run(ctx)
}

// Order returns entries in dependency order. Configuration order is kept when
// no entry declares a dependency.
func Order(entries []Entry) ([]Entry, error) {
	byBinary := make(map[string]Entry, len(entries))
	hasDeps := false
	for _, e := range entries {
		if _, dup := byBinary[e.Binary]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBinary, e.Binary)
		}
		byBinary[e.Binary] = e
		if len(e.Dependencies) > 0 {
			hasDeps = true
		}
	}
	if !hasDeps {
		return append([]Entry(nil), entries...), nil
	}

	for _, e := range entries {
		for _, d := range e.Dependencies {
			if _, ok := byBinary[d]; !ok {
				return nil, fmt.Errorf("%s depends on %s: %w", e.Binary, d, ErrUnknownDependency)
			}
		}
	}

	sorted, err := toposort.Sort(entries,
		func(e Entry) []Entry {
			deps := make([]Entry, 0, len(e.Dependencies))
			for _, d := range e.Dependencies {
				deps = append(deps, byBinary[d])
			}
			return deps
		},
		func(e Entry) string { return e.Binary },
	)
	if err != nil {
		return nil, hferrors.NewDependencyCycleError(err)
	}
	return sorted, nil
}
