package db

import (
	"context"
	"testing"
	"time"
)

func TestPrune(t *testing.T) {
	ctx := context.Background()
	d := newTestDatabase(t)
	repo := NewRepository(d)

	oldRun, oldItems := sampleRun("old", time.Now().AddDate(0, 0, -40))
	newRun, newItems := sampleRun("new", time.Now())
	for _, r := range []struct {
		run   RunRecord
		items []ItemRecord
	}{{oldRun, oldItems}, {newRun, newItems}} {
		if err := repo.InsertRun(ctx, r.run, r.items); err != nil {
			t.Fatal(err)
		}
	}

	result, err := d.Prune(ctx, 30)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if result.RunsDeleted != 1 {
		t.Errorf("RunsDeleted = %d, want 1", result.RunsDeleted)
	}

	var orphans int
	d.DB().QueryRow("SELECT COUNT(*) FROM run_items WHERE run_id = 'old'").Scan(&orphans)
	if orphans != 0 {
		t.Errorf("%d items left for pruned run", orphans)
	}
	runs, _ := repo.RecentRuns(ctx, 10)
	if len(runs) != 1 || runs[0].ID != "new" {
		t.Errorf("remaining runs = %v", runIDs(runs))
	}
}

func TestPrune_DisabledRetention(t *testing.T) {
	d := newTestDatabase(t)
	repo := NewRepository(d)
	run, _ := sampleRun("old", time.Now().AddDate(-1, 0, 0))
	if err := repo.InsertRun(context.Background(), run, nil); err != nil {
		t.Fatal(err)
	}

	result, err := d.Prune(context.Background(), 0)
	if err != nil || result.RunsDeleted != 0 {
		t.Errorf("Prune(0) = %+v, %v", result, err)
	}
}
