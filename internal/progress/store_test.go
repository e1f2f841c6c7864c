package progress

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "progress.json")
	store, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return store, path
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	store, _ := openTemp(t)
	if store.IsProcessed("anything") {
		t.Fatal("fresh store should have no processed slugs")
	}
	if got := store.Counters(); got != (Counters{}) {
		t.Fatalf("expected zero counters, got %+v", got)
	}
}

func TestOpenCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, nil); err == nil {
		t.Fatal("expected parse error for corrupt file")
	}
}

func TestSaveAndReload(t *testing.T) {
	store, path := openTemp(t)
	store.MarkProcessed(StatusSuccess, "maple-grove-cemetery", "oak-hill")
	store.MarkProcessed(StatusError, "zuylen")
	store.AddCounters(Counters{Found: 2, Downloaded: 1, ReviewsImported: 7})
	store.AddCounters(Counters{Errors: 1})
	lastRun := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.Touch(lastRun)
	store.RecordPending(PendingJob{Handle: "job-1", SubmittedAt: lastRun, Batch: 4, Keys: map[string]string{"12345": "maple-grove-cemetery"}})
	if err := store.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if status, ok := reloaded.StatusOf("zuylen"); !ok || status != StatusError {
		t.Fatalf("unexpected status for zuylen: %v %v", status, ok)
	}
	if !reloaded.IsProcessed("oak-hill") {
		t.Fatal("expected oak-hill processed after reload")
	}
	want := Counters{Found: 2, Downloaded: 1, ReviewsImported: 7, Errors: 1}
	if got := reloaded.Counters(); got != want {
		t.Fatalf("counters = %+v, want %+v", got, want)
	}
	snap := reloaded.Snapshot()
	if !snap.LastRun.Equal(lastRun) {
		t.Fatalf("last run = %v, want %v", snap.LastRun, lastRun)
	}
	job, ok := reloaded.Pending("job-1")
	if !ok || job.Keys["12345"] != "maple-grove-cemetery" || job.Batch != 4 {
		t.Fatalf("pending job not restored: %+v %v", job, ok)
	}
}

func TestErrorNeverOverwritesSuccess(t *testing.T) {
	store, _ := openTemp(t)
	store.MarkProcessed(StatusSuccess, "a")
	store.MarkProcessed(StatusError, "a", "b")
	if status, _ := store.StatusOf("a"); status != StatusSuccess {
		t.Fatalf("expected success retained, got %s", status)
	}
	if status, _ := store.StatusOf("b"); status != StatusError {
		t.Fatalf("expected error for b, got %s", status)
	}
	success, failed := store.StatusCounts()
	if success != 1 || failed != 1 {
		t.Fatalf("status counts = %d/%d, want 1/1", success, failed)
	}
}

func TestResetErrorsOnly(t *testing.T) {
	store, _ := openTemp(t)
	store.MarkProcessed(StatusSuccess, "a", "b")
	store.MarkProcessed(StatusError, "c", "d")
	store.AddCounters(Counters{Found: 2, Errors: 2})

	if removed := store.Reset(true); removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if store.IsProcessed("c") || store.IsProcessed("d") {
		t.Fatal("error slugs should be cleared")
	}
	if !store.IsProcessed("a") || !store.IsProcessed("b") {
		t.Fatal("success slugs must survive an errors-only reset")
	}
	if store.Counters().Found != 2 {
		t.Fatal("errors-only reset must keep counters")
	}

	if removed := store.Reset(false); removed != 2 {
		t.Fatalf("full reset removed = %d, want 2", removed)
	}
	if store.IsProcessed("a") || store.Counters() != (Counters{}) {
		t.Fatal("full reset should clear everything")
	}
}

func TestPendingJobsOrdered(t *testing.T) {
	store, _ := openTemp(t)
	base := time.Unix(1_700_000_000, 0)
	store.RecordPending(PendingJob{Handle: "late", SubmittedAt: base.Add(time.Minute)})
	store.RecordPending(PendingJob{Handle: "early", SubmittedAt: base})
	store.RecordPending(PendingJob{Handle: ""})
	jobs := store.PendingJobs()
	if len(jobs) != 2 || jobs[0].Handle != "early" || jobs[1].Handle != "late" {
		t.Fatalf("unexpected order: %+v", jobs)
	}
	store.ClearPending("early")
	if _, ok := store.Pending("early"); ok {
		t.Fatal("expected early cleared")
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	store, _ := openTemp(t)
	store.RecordPending(PendingJob{Handle: "job", Keys: map[string]string{"k": "slug"}})
	snap := store.Snapshot()
	snap.Pending["job"].Keys["k"] = "mutated"
	snap.Processed["x"] = StatusSuccess
	if job, _ := store.Pending("job"); job.Keys["k"] != "slug" {
		t.Fatal("snapshot mutation leaked into store")
	}
	if store.IsProcessed("x") {
		t.Fatal("snapshot mutation leaked into processed set")
	}
}

func TestLockIsExclusive(t *testing.T) {
	first, path := openTemp(t)
	if err := first.Lock(); err != nil {
		t.Fatalf("first lock failed: %v", err)
	}
	defer first.Unlock()

	second, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := second.Lock(); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}
