package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/narvanalabs/hotfix/internal/models"
)

func TestMemoryStore_RecordAndList(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	outcomes := []models.BuildOutcome{
		{Module: "Core", Status: models.BuildStatusBuilt, Artifact: "Assets/HotfixOut/Core.bytes", Duration: time.Second},
		{Module: "Gameplay", Status: models.BuildStatusFailed, Err: errors.New("compile failed"), Diagnostics: []models.Diagnostic{
			{Severity: models.SeverityError, Message: "; expected", Code: "CS1002"},
		}},
	}
	if err := s.Record(ctx, "run-1", outcomes); err != nil {
		t.Fatal(err)
	}

	records, err := s.ListByRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].Module != "Core" || records[1].Module != "Gameplay" {
		t.Fatalf("records = %+v", records)
	}
	if records[1].Error != "compile failed" || len(records[1].Diagnostics) != 1 {
		t.Errorf("failed record = %+v", records[1])
	}
	if records[0].ID == "" || records[0].ID == records[1].ID {
		t.Errorf("ids = %q %q", records[0].ID, records[1].ID)
	}

	if _, err := s.ListByRun(ctx, "run-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ListByRun unknown = %v, want ErrNotFound", err)
	}
	if _, err := s.Latest(ctx, "Tools"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Latest unknown = %v, want ErrNotFound", err)
	}
}

// TestMemoryStore_LatestFollowsRecordOrder checks that Latest returns the
// status of the last run that recorded the module.
func TestMemoryStore_LatestFollowsRecordOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	statuses := []models.BuildStatus{models.BuildStatusBuilt, models.BuildStatusSkipped, models.BuildStatusFailed}

	properties.Property("latest is the last recorded", prop.ForAll(
		func(picks []int) bool {
			s := NewMemoryStore()
			ctx := context.Background()
			for i, p := range picks {
				o := []models.BuildOutcome{{Module: "Core", Status: statuses[p]}}
				if err := s.Record(ctx, string(rune('a'+i%26)), o); err != nil {
					return false
				}
			}
			r, err := s.Latest(ctx, "Core")
			if len(picks) == 0 {
				return errors.Is(err, ErrNotFound)
			}
			return err == nil && r.Status == statuses[picks[len(picks)-1]]
		},
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}

func TestMemoryStore_RecordHonoursCancellation(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Record(ctx, "run", []models.BuildOutcome{{Module: "Core"}}); !errors.Is(err, context.Canceled) {
		t.Errorf("Record = %v, want context.Canceled", err)
	}
}
