// Package errors provides categorized errors for the hotfix build and load pipeline.
package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/narvanalabs/hotfix/internal/models"
)

// Error categories.
const (
	CategoryConfig      = "config"
	CategoryCompile     = "compile"
	CategoryCopy        = "copy"
	CategoryFetch       = "fetch"
	CategoryLoad        = "load"
	CategoryInitializer = "initializer"
)

// Error codes.
const (
	CodeInvalidConfiguration = "INVALID_CONFIGURATION"
	CodeCompileFailed        = "COMPILE_FAILED"
	CodeCopyFailed           = "COPY_FAILED"
	CodeFetchFailed          = "FETCH_FAILED"
	CodeLoadFailed           = "LOAD_FAILED"
	CodeInitializerFailed    = "INITIALIZER_FAILED"
	CodeDependencyCycle      = "DEPENDENCY_CYCLE"
)

// HotfixError carries the category, code and affected module of a failure.
type HotfixError struct {
	Err         error
	Code        string
	Category    string
	Module      string
	Diagnostics []models.Diagnostic
	Suggestions []string
	NextSteps   []string
}

// Error implements the error interface.
func (e *HotfixError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Category, e.Code)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Module != "" {
		return fmt.Sprintf("%s: %s", e.Module, msg)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *HotfixError) Unwrap() error {
	return e.Err
}

// New creates a HotfixError.
func New(err error, code, category string) *HotfixError {
	return &HotfixError{
		Err:      err,
		Code:     code,
		Category: category,
	}
}

// WithModule sets the affected module.
func (e *HotfixError) WithModule(module string) *HotfixError {
	e.Module = module
	return e
}

// WithDiagnostics attaches compiler diagnostics.
func (e *HotfixError) WithDiagnostics(d []models.Diagnostic) *HotfixError {
	e.Diagnostics = d
	return e
}

// WithSuggestions sets the suggestions on the error.
func (e *HotfixError) WithSuggestions(suggestions ...string) *HotfixError {
	e.Suggestions = suggestions
	return e
}

// WithNextSteps sets the next steps on the error.
func (e *HotfixError) WithNextSteps(steps ...string) *HotfixError {
	e.NextSteps = steps
	return e
}

// NewInvalidConfigurationError reports a descriptor that cannot be processed.
// It aborts the whole sync batch.
func NewInvalidConfigurationError(index int, source string, err error) *HotfixError {
	return New(
		fmt.Errorf("descriptor %d (%s): %w", index, source, err),
		CodeInvalidConfiguration,
		CategoryConfig,
	).WithSuggestions(
		"Set both the module definition and the output folder on every descriptor",
		"Create the output folder or point the descriptor at an existing one",
	).WithNextSteps(
		"Fix the settings file and run sync again",
	)
}

// NewCompileError reports a module whose compilation failed.
func NewCompileError(module string, diags []models.Diagnostic) *HotfixError {
	summary := "compiler reported errors"
	var errs []string
	for _, d := range diags {
		if d.Severity == models.SeverityError {
			errs = append(errs, d.Message)
		}
	}
	if len(errs) > 0 {
		summary = fmt.Sprintf("compiler reported %d error(s): %s", len(errs), strings.Join(errs, "; "))
	}
	return New(errors.New(summary), CodeCompileFailed, CategoryCompile).
		WithModule(module).
		WithDiagnostics(diags)
}

// NewCopyError reports an artifact that could not reach its output path.
func NewCopyError(module, dest string, err error) *HotfixError {
	return New(
		fmt.Errorf("copying artifact to %s: %w", dest, err),
		CodeCopyFailed,
		CategoryCopy,
	).WithModule(module).WithNextSteps(
		"The build timestamp was not advanced; the module is retried on the next sync",
	)
}

// NewFetchError reports a binary that could not be fetched at runtime.
func NewFetchError(binary, handle string, err error) *HotfixError {
	return New(
		fmt.Errorf("fetching %s: %w", handle, err),
		CodeFetchFailed,
		CategoryFetch,
	).WithModule(binary)
}

// NewLoadError reports a fetched blob that could not be loaded.
func NewLoadError(binary string, err error) *HotfixError {
	return New(fmt.Errorf("loading module: %w", err), CodeLoadFailed, CategoryLoad).
		WithModule(binary)
}

// NewInitializerError reports a failed startup initializer.
func NewInitializerError(module, initializer string, err error) *HotfixError {
	return New(
		fmt.Errorf("initializer %s: %w", initializer, err),
		CodeInitializerFailed,
		CategoryInitializer,
	).WithModule(module)
}

// NewDependencyCycleError reports a cyclic dependency between modules.
func NewDependencyCycleError(err error) *HotfixError {
	return New(err, CodeDependencyCycle, CategoryConfig).
		WithSuggestions("Remove one of the references that form the cycle")
}

// As extracts a HotfixError from an error chain.
func As(err error) (*HotfixError, bool) {
	var he *HotfixError
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// IsCategory reports whether err is a HotfixError of the given category.
func IsCategory(err error, category string) bool {
	he, ok := As(err)
	return ok && he.Category == category
}

// HasCode reports whether err is a HotfixError with the given code.
func HasCode(err error, code string) bool {
	he, ok := As(err)
	return ok && he.Code == code
}
