package provider

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the lifecycle state of a provider job.
type Status string

const (
	StatusRunning  Status = "running"
	StatusReady    Status = "ready"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed-out"
)

// Terminal reports whether no further status change is expected.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed || s == StatusTimedOut
}

// ParseStatus maps the provider's status vocabulary onto Status. Anything
// unrecognized counts as still running.
func ParseStatus(value string) Status {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "ready", "success", "succeeded", "completed", "done":
		return StatusReady
	case "failed", "failure", "error", "cancelled", "canceled":
		return StatusFailed
	default:
		return StatusRunning
	}
}

// Query is one lookup submitted in a batch.
type Query struct {
	Key  string
	Slug string
}

// Job is one submitted batch. Keys maps each submitted lookup key back to the
// catalog slug that produced it.
type Job struct {
	Handle      string
	SubmittedAt time.Time
	Status      Status
	Keys        map[string]string
}

// NewJob builds a running job from a handle and its key mapping.
func NewJob(handle string, submittedAt time.Time, keys map[string]string) *Job {
	if keys == nil {
		keys = make(map[string]string)
	}
	return &Job{Handle: handle, SubmittedAt: submittedAt, Status: StatusRunning, Keys: keys}
}

// SlugFor resolves a lookup key echoed by the provider.
func (j *Job) SlugFor(key string) (string, bool) {
	if j == nil {
		return "", false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}
	slug, ok := j.Keys[key]
	return slug, ok
}

// StatusReport is a single status observation.
type StatusReport struct {
	Status  Status
	Records int
	Errors  int
}

// Review is one review attached to a result row.
type Review struct {
	Author string  `json:"author_title"`
	Rating float64 `json:"review_rating"`
	Text   string  `json:"review_text"`
	Date   string  `json:"review_datetime_utc"`
}

// ResultRow is one place record returned for a job. LookupKey and Query are
// whatever the provider chose to echo and may be empty.
type ResultRow struct {
	LookupKey string   `json:"place_id"`
	Query     string   `json:"query"`
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	PhotoURLs []string `json:"-"`
	Reviews   []Review `json:"reviews_data"`
}

// Coordinates returns the row position when both axes are present.
func (r ResultRow) Coordinates() (lat, lng float64, ok bool) {
	if r.Latitude == nil || r.Longitude == nil {
		return 0, 0, false
	}
	return *r.Latitude, *r.Longitude, true
}

// UnmarshalJSON merges the single "photo" field and the "photos" list into
// PhotoURLs, keeping order and dropping blanks and duplicates.
func (r *ResultRow) UnmarshalJSON(data []byte) error {
	type plain ResultRow
	var wire struct {
		plain
		Photo  string   `json:"photo"`
		Photos []string `json:"photos"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = ResultRow(wire.plain)
	seen := make(map[string]struct{})
	for _, u := range append([]string{wire.Photo}, wire.Photos...) {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		r.PhotoURLs = append(r.PhotoURLs, u)
	}
	return nil
}

// MarshalJSON is the inverse of UnmarshalJSON; the mock provider uses it.
func (r ResultRow) MarshalJSON() ([]byte, error) {
	type plain ResultRow
	wire := struct {
		plain
		Photo  string   `json:"photo,omitempty"`
		Photos []string `json:"photos,omitempty"`
	}{plain: plain(r)}
	if len(r.PhotoURLs) > 0 {
		wire.Photo = r.PhotoURLs[0]
		wire.Photos = r.PhotoURLs
	}
	return json.Marshal(wire)
}
