package core

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/3cpo-dev/chaindeploy/pkg/api"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	rec, err := s.BeginRun(ctx, 3, true, false)
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if rec.ID == "" || rec.Status != api.RunPending {
		t.Fatalf("unexpected record %+v", rec)
	}
	if err := s.SetStatus(ctx, rec.ID, api.RunRunning, nil); err != nil {
		t.Fatalf("SetStatus running: %v", err)
	}
	step := api.StepRecord{Seq: 1, Name: "clear-images", Duration: 1500 * time.Millisecond, Status: api.RunSucceeded, HostsDone: 3}
	if err := s.RecordStep(ctx, rec.ID, step); err != nil {
		t.Fatalf("RecordStep: %v", err)
	}
	step = api.StepRecord{Seq: 2, Name: "load-images", Duration: time.Second, Status: api.RunFailed, HostsDone: 1, HostsFailed: 1, Error: "boom"}
	if err := s.RecordStep(ctx, rec.ID, step); err != nil {
		t.Fatalf("RecordStep: %v", err)
	}
	if err := s.SetStatus(ctx, rec.ID, api.RunFailed, errors.New("load-images on a: boom")); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	runs, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	got := runs[0]
	if got.Status != api.RunFailed || got.Hosts != 3 || !got.Install || got.ForceLoad {
		t.Fatalf("unexpected run %+v", got)
	}
	if got.FinishedAt.IsZero() || got.Error != "load-images on a: boom" {
		t.Fatalf("finish not recorded: %+v", got)
	}

	steps, err := s.Steps(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Steps: %v", err)
	}
	if len(steps) != 2 || steps[0].Name != "clear-images" || steps[0].Duration != 1500*time.Millisecond {
		t.Fatalf("unexpected steps %+v", steps)
	}
	if steps[0].HostsDone != 3 || steps[0].HostsFailed != 0 {
		t.Fatalf("host counts lost %+v", steps[0])
	}
	if steps[1].Status != api.RunFailed || steps[1].Error != "boom" || steps[1].HostsDone != 1 || steps[1].HostsFailed != 1 {
		t.Fatalf("unexpected failed step %+v", steps[1])
	}
}

func TestStoreSetStatusUnknownRun(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetStatus(context.Background(), "missing", api.RunSucceeded, nil); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestStoreListRunsLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		if _, err := s.BeginRun(ctx, i+1, false, false); err != nil {
			t.Fatalf("BeginRun: %v", err)
		}
	}
	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
}
