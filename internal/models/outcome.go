package models

import "time"

// BuildStatus represents the result of processing one descriptor.
type BuildStatus string

const (
	BuildStatusBuilt   BuildStatus = "built"
	BuildStatusSkipped BuildStatus = "skipped"
	BuildStatusFailed  BuildStatus = "failed"
)

// Severity classifies a compiler diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic is a single compiler message.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
	Code     string   `json:"code,omitempty"`
}

// BuildOutcome is the transient result of building one descriptor.
type BuildOutcome struct {
	Module      string        `json:"module"`
	Status      BuildStatus   `json:"status"`
	Diagnostics []Diagnostic  `json:"diagnostics,omitempty"`
	Artifact    string        `json:"artifact,omitempty"`
	Duration    time.Duration `json:"duration"`
	Err         error         `json:"-"`
}

// Success reports whether the descriptor did not fail.
func (o *BuildOutcome) Success() bool {
	return o.Status != BuildStatusFailed
}

// Errors returns the error-severity diagnostics.
func (o *BuildOutcome) Errors() []Diagnostic {
	return o.bySeverity(SeverityError)
}

// Warnings returns the warning-severity diagnostics.
func (o *BuildOutcome) Warnings() []Diagnostic {
	return o.bySeverity(SeverityWarning)
}

func (o *BuildOutcome) bySeverity(s Severity) []Diagnostic {
	var out []Diagnostic
	for _, d := range o.Diagnostics {
		if d.Severity == s {
			out = append(out, d)
		}
	}
	return out
}
