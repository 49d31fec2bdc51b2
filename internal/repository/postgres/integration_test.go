//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/freeeve/stagecraft/internal/model"
	"github.com/freeeve/stagecraft/internal/testutil"
)

var testDB *sql.DB

func setup(t *testing.T) {
	t.Helper()
	if testDB == nil {
		testDB = testutil.SetupDB(t)
	}
	testutil.CleanupDB(t, testDB)
}

func archived(stageID string, score, turns int) model.ClearArchive {
	return model.ClearArchive{
		ID:      uuid.NewString(),
		SlotID:  "slot-1",
		StageID: stageID,
		RunID:   uuid.NewString(),
		ClearRecord: model.ClearRecord{
			Rating:    "A",
			Score:     score,
			TurnsUsed: turns,
			ClearedAt: time.Now().UTC().Truncate(time.Millisecond),
		},
	}
}

func TestRecordAndListClears(t *testing.T) {
	setup(t)
	repo := NewClearRepo(testDB)
	ctx := context.Background()

	for _, c := range []model.ClearArchive{
		archived("stage-1", 80, 12),
		archived("stage-1", 95, 9),
		archived("stage-1", 95, 7),
		archived("stage-2", 100, 5),
	} {
		if err := repo.RecordClear(ctx, c); err != nil {
			t.Fatalf("record clear: %v", err)
		}
	}

	got, err := repo.ListClears(ctx, "stage-1", 10)
	if err != nil {
		t.Fatalf("list clears: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 clears, got %d", len(got))
	}
	if got[0].Score != 95 || got[0].TurnsUsed != 7 {
		t.Errorf("expected best clear first, got %+v", got[0])
	}
	if got[2].Score != 80 {
		t.Errorf("expected worst clear last, got %+v", got[2])
	}
	if got[0].Rating != "A" {
		t.Errorf("expected rating round-trip, got %q", got[0].Rating)
	}
}

func TestRecordClearIgnoresDuplicateRun(t *testing.T) {
	setup(t)
	repo := NewClearRepo(testDB)
	ctx := context.Background()

	c := archived("stage-1", 90, 10)
	if err := repo.RecordClear(ctx, c); err != nil {
		t.Fatalf("first record: %v", err)
	}
	c.ID = uuid.NewString()
	if err := repo.RecordClear(ctx, c); err != nil {
		t.Fatalf("duplicate record: %v", err)
	}

	got, _ := repo.ListClears(ctx, "stage-1", 10)
	if len(got) != 1 {
		t.Errorf("expected one clear per run, got %d", len(got))
	}
}

func TestListClearsLimit(t *testing.T) {
	setup(t)
	repo := NewClearRepo(testDB)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		repo.RecordClear(ctx, archived("stage-1", 60+i, 10))
	}
	got, _ := repo.ListClears(ctx, "stage-1", 2)
	if len(got) != 2 || got[0].Score != 64 {
		t.Errorf("expected top two clears, got %+v", got)
	}
}
