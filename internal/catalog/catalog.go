// Package catalog reads and rewrites the cemetery catalog JSON file.
//
// The catalog is a JSON array of listing objects keyed by slug. The pipeline
// only ever sets the photo reference of existing entries; it never adds or
// removes listings, and keys it does not understand are written back
// unchanged.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gravekeeper/internal/fileutil"
	"gravekeeper/internal/services"
)

// Candidate is a listing eligible for enrichment in this run.
type Candidate struct {
	Slug      string
	LookupKey string
	Name      string
	Latitude  float64
	Longitude float64
	HasCoords bool
}

// Catalog is the in-memory copy of the catalog file.
type Catalog struct {
	path    string
	entries []*Entry
	bySlug  map[string]*Entry
	dirty   bool
}

// Load reads the whole catalog. Entries without a slug are kept for rewrite
// but are never candidates.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "load", "read catalog file", err)
	}
	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, services.Wrap(services.ErrValidation, "catalog", "load", fmt.Sprintf("parse %s", path), err)
	}
	c := &Catalog{path: path, entries: entries, bySlug: make(map[string]*Entry, len(entries))}
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		slug := strings.TrimSpace(entry.Slug)
		if slug == "" {
			continue
		}
		if _, dup := c.bySlug[slug]; dup {
			return nil, services.Wrap(services.ErrValidation, "catalog", "load", fmt.Sprintf("duplicate slug %q", slug), nil)
		}
		c.bySlug[slug] = entry
	}
	return c, nil
}

// Path returns the catalog file location.
func (c *Catalog) Path() string { return c.path }

// Len returns the number of listings.
func (c *Catalog) Len() int { return len(c.entries) }

// Get returns the entry for slug.
func (c *Catalog) Get(slug string) (*Entry, bool) {
	entry, ok := c.bySlug[slug]
	return entry, ok
}

// Candidates returns, in catalog order, every listing with a lookup key, no
// photo, and no recorded progress status.
func (c *Catalog) Candidates(processed func(slug string) bool) []Candidate {
	out := make([]Candidate, 0)
	for _, entry := range c.entries {
		if entry == nil || strings.TrimSpace(entry.Slug) == "" || entry.HasPhoto() {
			continue
		}
		key := entry.LookupKey()
		if key == "" {
			continue
		}
		if processed != nil && processed(entry.Slug) {
			continue
		}
		out = append(out, entry.candidate())
	}
	return out
}

// All returns every listing with a slug as a candidate, regardless of photo
// or lookup key. It is the match pool when importing a job whose batch is
// unknown.
func (c *Catalog) All() []Candidate {
	out := make([]Candidate, 0, len(c.bySlug))
	for _, entry := range c.entries {
		if entry == nil || strings.TrimSpace(entry.Slug) == "" {
			continue
		}
		out = append(out, entry.candidate())
	}
	return out
}

func (e *Entry) candidate() Candidate {
	cand := Candidate{Slug: e.Slug, LookupKey: e.LookupKey(), Name: e.Name}
	cand.Latitude, cand.Longitude, cand.HasCoords = e.Coordinates()
	return cand
}

// SetPhoto records the photo reference for slug.
func (c *Catalog) SetPhoto(slug, ref string) error {
	entry, ok := c.bySlug[slug]
	if !ok {
		return services.Wrap(services.ErrNotFound, "catalog", "set photo", fmt.Sprintf("slug %q", slug), nil)
	}
	if entry.Photo == ref {
		return nil
	}
	entry.Photo = ref
	c.dirty = true
	return nil
}

// Dirty reports whether unsaved changes exist.
func (c *Catalog) Dirty() bool { return c.dirty }

// Save rewrites the catalog atomically when it has changed.
func (c *Catalog) Save() error {
	if !c.dirty {
		return nil
	}
	if err := fileutil.WriteJSONAtomic(c.path, c.entries); err != nil {
		return services.Wrap(services.ErrTransient, "catalog", "save", "write catalog file", err)
	}
	c.dirty = false
	return nil
}
