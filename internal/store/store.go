// Package store provides build history interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/narvanalabs/hotfix/internal/models"
)

// ErrNotFound is returned when no history exists for the requested run or module.
var ErrNotFound = errors.New("build history not found")

// Record is one stored build outcome.
type Record struct {
	ID          string              `json:"id"`
	RunID       string              `json:"run_id"`
	Module      string              `json:"module"`
	Status      models.BuildStatus  `json:"status"`
	Artifact    string              `json:"artifact,omitempty"`
	Diagnostics []models.Diagnostic `json:"diagnostics,omitempty"`
	Error       string              `json:"error,omitempty"`
	Duration    time.Duration       `json:"duration"`
	RecordedAt  time.Time           `json:"recorded_at"`
}

// OutcomeStore defines operations for build history.
type OutcomeStore interface {
	// Record stores the outcomes of one sync run.
	Record(ctx context.Context, runID string, outcomes []models.BuildOutcome) error
	// ListByRun retrieves the records of a run in the order they were recorded.
	ListByRun(ctx context.Context, runID string) ([]*Record, error)
	// Latest retrieves the most recent record for a module.
	Latest(ctx context.Context, module string) (*Record, error)
	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
	// Close releases the store's resources.
	Close() error
}

// NewRecords converts outcomes into records sharing one timestamp.
func NewRecords(runID string, outcomes []models.BuildOutcome, now time.Time) []*Record {
	records := make([]*Record, 0, len(outcomes))
	for _, o := range outcomes {
		r := &Record{
			RunID:       runID,
			Module:      o.Module,
			Status:      o.Status,
			Artifact:    o.Artifact,
			Diagnostics: o.Diagnostics,
			Duration:    o.Duration,
			RecordedAt:  now,
		}
		if o.Err != nil {
			r.Error = o.Err.Error()
		}
		records = append(records, r)
	}
	return records
}
