package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/narvanalabs/hotfix/internal/models"
)

// MemoryStore keeps build history in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Record implements OutcomeStore.
func (s *MemoryStore) Record(ctx context.Context, runID string, outcomes []models.BuildOutcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	records := NewRecords(runID, outcomes, s.now().UTC())
	for _, r := range records {
		r.ID = uuid.New().String()
	}

	s.mu.Lock()
	s.records = append(s.records, records...)
	s.mu.Unlock()
	return nil
}

// ListByRun implements OutcomeStore.
func (s *MemoryStore) ListByRun(ctx context.Context, runID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, r := range s.records {
		if r.RunID == runID {
			cp := *r
			out = append(out, &cp)
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// Latest implements OutcomeStore.
func (s *MemoryStore) Latest(ctx context.Context, module string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].Module == module {
			cp := *s.records[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// Ping implements OutcomeStore.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close implements OutcomeStore.
func (s *MemoryStore) Close() error {
	return nil
}
