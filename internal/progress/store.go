package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"gravekeeper/internal/fileutil"
	"gravekeeper/internal/logging"
)

// Status records how a slug left the pipeline.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ErrLocked is returned when another process holds the progress lock.
var ErrLocked = errors.New("progress file is locked by another run")

// Counters are cumulative across runs until reset.
type Counters struct {
	Found            int `json:"found"`
	NotFound         int `json:"not_found"`
	Errors           int `json:"errors"`
	Downloaded       int `json:"downloaded"`
	ReviewsImported  int `json:"reviews_imported"`
	ReviewsDuplicate int `json:"reviews_duplicate"`
	ReviewsSkipped   int `json:"reviews_skipped"`
	ReviewsFailed    int `json:"reviews_failed"`
	Unmatched        int `json:"unmatched"`
}

// Add accumulates delta into c.
func (c *Counters) Add(delta Counters) {
	c.Found += delta.Found
	c.NotFound += delta.NotFound
	c.Errors += delta.Errors
	c.Downloaded += delta.Downloaded
	c.ReviewsImported += delta.ReviewsImported
	c.ReviewsDuplicate += delta.ReviewsDuplicate
	c.ReviewsSkipped += delta.ReviewsSkipped
	c.ReviewsFailed += delta.ReviewsFailed
	c.Unmatched += delta.Unmatched
}

// PendingJob is a submitted provider job whose results have not been imported.
type PendingJob struct {
	Handle      string            `json:"handle"`
	SubmittedAt time.Time         `json:"submitted_at"`
	Batch       int               `json:"batch,omitempty"`
	Keys        map[string]string `json:"keys"` // lookup key -> slug
}

// State is the on-disk document.
type State struct {
	Processed map[string]Status     `json:"processed"`
	Counters  Counters              `json:"counters"`
	LastRun   time.Time             `json:"last_run,omitzero"`
	Pending   map[string]PendingJob `json:"pending_jobs,omitempty"`
}

func emptyState() State {
	return State{
		Processed: make(map[string]Status),
		Pending:   make(map[string]PendingJob),
	}
}

// Store owns the progress state for one process.
type Store struct {
	path   string
	logger *slog.Logger
	lock   *flock.Flock

	mu    sync.RWMutex
	state State
}

// Open loads the progress file at path. A missing or empty file yields an
// empty state; a corrupt file is an error so progress is never silently lost.
func Open(path string, logger *slog.Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("progress path is empty")
	}
	s := &Store{
		path:   path,
		logger: logging.NewComponentLogger(logger, "progress"),
		lock:   flock.New(path + ".lock"),
		state:  emptyState(),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the progress file location.
func (s *Store) Path() string { return s.path }

// Lock acquires the single-instance lock without blocking.
func (s *Store) Lock() error {
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire progress lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

// Unlock releases the single-instance lock.
func (s *Store) Unlock() error {
	return s.lock.Unlock()
}

// IsProcessed reports whether slug already has a status.
func (s *Store) IsProcessed(slug string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.state.Processed[slug]
	return ok
}

// StatusOf returns the recorded status for slug.
func (s *Store) StatusOf(slug string) (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.state.Processed[slug]
	return status, ok
}

// MarkProcessed records a final status for each slug. An error never
// overwrites an earlier success.
func (s *Store) MarkProcessed(status Status, slugs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slug := range slugs {
		if slug == "" {
			continue
		}
		if status == StatusError && s.state.Processed[slug] == StatusSuccess {
			continue
		}
		s.state.Processed[slug] = status
	}
}

// AddCounters accumulates delta into the persisted counters.
func (s *Store) AddCounters(delta Counters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Counters.Add(delta)
}

// Counters returns the persisted counters.
func (s *Store) Counters() Counters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Counters
}

// Touch stamps the last-run timestamp.
func (s *Store) Touch(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastRun = at.UTC()
}

// RecordPending journals a submitted job until its results are imported.
func (s *Store) RecordPending(job PendingJob) {
	if job.Handle == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Keys = maps.Clone(job.Keys)
	s.state.Pending[job.Handle] = job
}

// ClearPending removes a job from the journal.
func (s *Store) ClearPending(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.Pending, handle)
}

// Pending returns the journal entry for handle.
func (s *Store) Pending(handle string) (PendingJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.state.Pending[handle]
	return job, ok
}

// PendingJobs returns journaled jobs, oldest first.
func (s *Store) PendingJobs() []PendingJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]PendingJob, 0, len(s.state.Pending))
	for _, job := range s.state.Pending {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].SubmittedAt.Equal(jobs[j].SubmittedAt) {
			return jobs[i].Handle < jobs[j].Handle
		}
		return jobs[i].SubmittedAt.Before(jobs[j].SubmittedAt)
	})
	return jobs
}

// Reset clears progress. With errorsOnly, only slugs marked StatusError are
// removed and counters are kept; otherwise the whole state is cleared. It
// returns the number of slugs removed. The caller persists with Save.
func (s *Store) Reset(errorsOnly bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !errorsOnly {
		removed := len(s.state.Processed)
		s.state = emptyState()
		return removed
	}
	removed := 0
	for slug, status := range s.state.Processed {
		if status == StatusError {
			delete(s.state.Processed, slug)
			removed++
		}
	}
	return removed
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := State{
		Processed: maps.Clone(s.state.Processed),
		Counters:  s.state.Counters,
		LastRun:   s.state.LastRun,
		Pending:   make(map[string]PendingJob, len(s.state.Pending)),
	}
	for handle, job := range s.state.Pending {
		job.Keys = maps.Clone(job.Keys)
		out.Pending[handle] = job
	}
	return out
}

// StatusCounts returns how many slugs carry each status.
func (s *Store) StatusCounts() (success, failed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, status := range s.state.Processed {
		switch status {
		case StatusSuccess:
			success++
		case StatusError:
			failed++
		}
	}
	return success, failed
}

// Save writes the state atomically.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := fileutil.WriteJSONAtomic(s.path, s.state); err != nil {
		return fmt.Errorf("persist progress: %w", err)
	}
	s.logger.Debug("progress saved",
		logging.Int("processed", len(s.state.Processed)),
		logging.Int("pending_jobs", len(s.state.Pending)),
		logging.String("path", s.path))
	return nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read progress file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parse progress file %s: %w", s.path, err)
	}
	if state.Processed == nil {
		state.Processed = make(map[string]Status)
	}
	if state.Pending == nil {
		state.Pending = make(map[string]PendingJob)
	}
	s.state = state
	s.logger.Debug("progress loaded",
		logging.Int("processed", len(state.Processed)),
		logging.Int("pending_jobs", len(state.Pending)),
		logging.String("path", s.path))
	return nil
}
