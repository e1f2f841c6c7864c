package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// Listing is a minimal catalog entry for tests.
type Listing struct {
	Slug      string  `json:"slug"`
	Name      string  `json:"name"`
	PlaceID   string  `json:"place_id,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Photo     string  `json:"photo,omitempty"`
	Province  string  `json:"province,omitempty"`
}

// WriteCatalog writes listings as a catalog JSON file at path.
func WriteCatalog(t testing.TB, path string, listings []Listing) {
	t.Helper()
	data, err := json.MarshalIndent(listings, "", "  ")
	if err != nil {
		t.Fatalf("encode catalog: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write catalog %s: %v", path, err)
	}
}
