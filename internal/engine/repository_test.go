package engine

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kingrea/jobhelper/internal/repostate"
)

func TestRunStoreRoundTripAndLatest(t *testing.T) {
	store := NewRunStore(filepath.Join(t.TempDir(), "runs"))
	if _, err := store.Latest(); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	started := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	older := Report{
		RunID:    "20240501T090000-aaaa",
		Started:  started,
		Order:    []string{"a"},
		Outcomes: []Outcome{{Job: "a", Status: StatusSubmitted, Handle: "11"}},
	}
	newer := Report{
		RunID:    "20240502T090000-bbbb",
		Started:  started.Add(24 * time.Hour),
		Order:    []string{"a", "b"},
		Outcomes: []Outcome{{Job: "a", Status: StatusSubmitted, Handle: "12"}, {Job: "b", Status: StatusFailed, Reason: "boom"}},
	}
	repos := []repostate.State{{Path: "/src/app", Commit: "abc123"}}
	if _, err := store.Save(NewRunRecord(older, "demo", "demo.yaml", nil)); err != nil {
		t.Fatalf("save older: %v", err)
	}
	path, err := store.Save(NewRunRecord(newer, "demo", "demo.yaml", repos))
	if err != nil {
		t.Fatalf("save newer: %v", err)
	}
	if filepath.Base(path) != newer.RunID+".json" {
		t.Fatalf("unexpected path %s", path)
	}

	latest, err := store.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.RunID != newer.RunID {
		t.Fatalf("latest = %s", latest.RunID)
	}
	if latest.Jobs["a"] != "12" || len(latest.Jobs) != 1 {
		t.Fatalf("jobs = %+v", latest.Jobs)
	}
	if !latest.Failed() {
		t.Fatalf("expected failed report")
	}
	if len(latest.RepoStates) != 1 || latest.RepoStates[0].Commit != "abc123" {
		t.Fatalf("repo states = %+v", latest.RepoStates)
	}
	ids, err := store.List()
	if err != nil || len(ids) != 2 {
		t.Fatalf("list = %v, %v", ids, err)
	}
}

func TestRunStoreRequiresRunID(t *testing.T) {
	store := NewRunStore(t.TempDir())
	if _, err := store.Save(RunRecord{}); err == nil {
		t.Fatalf("expected error for empty run id")
	}
}
