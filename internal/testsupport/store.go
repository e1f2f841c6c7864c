package testsupport

import (
	"testing"

	"gravekeeper/internal/config"
	"gravekeeper/internal/reviews"
)

// MustOpenReviews opens the review database configured in cfg and registers
// cleanup.
func MustOpenReviews(t testing.TB, cfg *config.Config) *reviews.Store {
	t.Helper()

	store, err := reviews.Open(cfg.Paths.ReviewsDB)
	if err != nil {
		t.Fatalf("reviews.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
