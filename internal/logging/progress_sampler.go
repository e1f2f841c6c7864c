package logging

import "strings"

// ProgressSampler suppresses repetitive job progress lines while a provider job
// is polled. A line is emitted when the status changes or the record count
// crosses a bucket boundary.
type ProgressSampler struct {
	bucketSize int
	lastStatus string
	lastBucket int
}

// NewProgressSampler constructs a sampler with the given record bucket size
// (default 25 records).
func NewProgressSampler(bucketSize int) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 25
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a poll observation should be logged. A negative
// record count means the provider did not report one.
func (s *ProgressSampler) ShouldLog(status string, records int) bool {
	if s == nil {
		return true
	}
	emit := false
	status = strings.TrimSpace(status)
	if status != "" && status != s.lastStatus {
		s.lastStatus = status
		s.lastBucket = -1
		emit = true
	}
	if records >= 0 {
		if bucket := records / s.bucketSize; bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}

// Reset clears the sampler state before a new watch attempt.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastStatus = ""
	s.lastBucket = -1
}
