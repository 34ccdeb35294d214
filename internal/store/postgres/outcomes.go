package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/narvanalabs/hotfix/internal/models"
	"github.com/narvanalabs/hotfix/internal/store"
)

var _ store.OutcomeStore = (*Store)(nil)

// Record stores the outcomes of one sync run in a single transaction.
func (s *Store) Record(ctx context.Context, runID string, outcomes []models.BuildOutcome) error {
	query := `
		INSERT INTO build_outcomes (id, run_id, module, status, artifact,
			diagnostics, error, duration_ms, seq, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	records := store.NewRecords(runID, outcomes, time.Now().UTC())

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for i, r := range records {
			r.ID = uuid.New().String()

			diagnostics := r.Diagnostics
			if diagnostics == nil {
				diagnostics = []models.Diagnostic{}
			}
			diagnosticsJSON, err := json.Marshal(diagnostics)
			if err != nil {
				return fmt.Errorf("marshaling diagnostics for %s: %w", r.Module, err)
			}

			var artifact, errText sql.NullString
			if r.Artifact != "" {
				artifact = sql.NullString{String: r.Artifact, Valid: true}
			}
			if r.Error != "" {
				errText = sql.NullString{String: r.Error, Valid: true}
			}

			_, err = tx.ExecContext(ctx, query,
				r.ID,
				r.RunID,
				r.Module,
				r.Status,
				artifact,
				diagnosticsJSON,
				errText,
				r.Duration.Milliseconds(),
				i,
				r.RecordedAt,
			)
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: %s in run %s", ErrDuplicateOutcome, r.Module, runID)
				}
				return fmt.Errorf("recording outcome for %s: %w", r.Module, err)
			}
		}
		return nil
	})
}

// ListByRun retrieves the outcomes of a run in the order they were recorded.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]*store.Record, error) {
	query := `
		SELECT id, run_id, module, status, artifact, diagnostics, error, duration_ms, recorded_at
		FROM build_outcomes
		WHERE run_id = $1
		ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}
	defer rows.Close()

	var records []*store.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run %s: %w", runID, err)
	}
	if len(records) == 0 {
		return nil, store.ErrNotFound
	}
	return records, nil
}

// Latest retrieves the most recent outcome recorded for a module.
func (s *Store) Latest(ctx context.Context, module string) (*store.Record, error) {
	query := `
		SELECT id, run_id, module, status, artifact, diagnostics, error, duration_ms, recorded_at
		FROM build_outcomes
		WHERE module = $1
		ORDER BY recorded_at DESC, seq DESC
		LIMIT 1`

	r, err := scanRecord(s.db.QueryRowContext(ctx, query, module))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*store.Record, error) {
	var (
		r               store.Record
		artifact        sql.NullString
		errText         sql.NullString
		diagnosticsJSON []byte
		durationMS      int64
	)
	err := row.Scan(
		&r.ID,
		&r.RunID,
		&r.Module,
		&r.Status,
		&artifact,
		&diagnosticsJSON,
		&errText,
		&durationMS,
		&r.RecordedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning build outcome: %w", err)
	}

	r.Artifact = artifact.String
	r.Error = errText.String
	r.Duration = time.Duration(durationMS) * time.Millisecond
	if len(diagnosticsJSON) > 0 {
		if err := json.Unmarshal(diagnosticsJSON, &r.Diagnostics); err != nil {
			return nil, fmt.Errorf("unmarshaling diagnostics: %w", err)
		}
		if len(r.Diagnostics) == 0 {
			r.Diagnostics = nil
		}
	}
	return &r, nil
}
