// Package matcher reconciles provider result rows to catalog entries.
//
// The provider does not reliably echo the keys it was given, so a row is
// resolved through a cascade of decreasingly reliable strategies, each tried
// only when the previous one found nothing:
//
//  1. Identifier: the row's place ID or echoed query is looked up in the key
//     map recorded when the job was submitted.
//  2. Geo: when the row's coordinates fall inside the catalog's bounding box,
//     the nearest batch candidate within the tolerance (Euclidean distance in
//     degrees) wins. Ties keep the earlier candidate.
//  3. Name: the first batch candidate whose folded name contains, or is
//     contained in, the row's folded name.
//
// The strategy that produced a match is reported in Result.By so callers can
// count and log match confidence.
package matcher

import (
	"math"
	"sort"
	"strings"

	"gravekeeper/internal/catalog"
	"gravekeeper/internal/config"
	"gravekeeper/internal/provider"
	"gravekeeper/internal/textutil"
)

// Method names the strategy that resolved a row.
type Method string

const (
	ByIdentifier Method = "identifier"
	ByGeo        Method = "geo"
	ByName       Method = "name"
	Unmatched    Method = "unmatched"
)

// Result is the outcome of matching one row.
type Result struct {
	Slug string
	By   Method
	// Distance is the geo distance in degrees when By is ByGeo.
	Distance float64
}

// Matched reports whether a slug was found.
func (r Result) Matched() bool { return r.By != Unmatched && r.Slug != "" }

// BoundingBox is the plausible region for catalog coordinates.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// Contains reports whether the point lies inside the box, edges included.
func (b BoundingBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// Options configure the geo strategy.
type Options struct {
	Tolerance float64
	Bounds    BoundingBox
}

// OptionsFromConfig converts the [matching] section.
func OptionsFromConfig(cfg *config.Config) Options {
	m := cfg.Matching
	return Options{
		Tolerance: m.Tolerance,
		Bounds:    BoundingBox{MinLat: m.MinLat, MaxLat: m.MaxLat, MinLng: m.MinLng, MaxLng: m.MaxLng},
	}
}

// Matcher resolves rows against one batch of candidates.
type Matcher struct {
	opts       Options
	candidates []catalog.Candidate
	folded     []string
}

// New builds a matcher over the batch candidates, in batch order.
func New(opts Options, candidates []catalog.Candidate) *Matcher {
	folded := make([]string, len(candidates))
	for i, c := range candidates {
		folded[i] = textutil.FoldName(c.Name)
	}
	return &Matcher{opts: opts, candidates: candidates, folded: folded}
}

// Match runs the cascade for row.
func (m *Matcher) Match(row provider.ResultRow, job *provider.Job) Result {
	if slug, ok := matchIdentifier(row, job); ok {
		return Result{Slug: slug, By: ByIdentifier}
	}
	if res, ok := m.matchGeo(row); ok {
		return res
	}
	if slug, ok := m.matchName(row); ok {
		return Result{Slug: slug, By: ByName}
	}
	return Result{By: Unmatched}
}

func matchIdentifier(row provider.ResultRow, job *provider.Job) (string, bool) {
	if job == nil || len(job.Keys) == 0 {
		return "", false
	}
	for _, key := range []string{row.LookupKey, row.Query} {
		if slug, ok := job.SlugFor(key); ok {
			return slug, true
		}
	}
	// Providers sometimes normalize the echoed query (case, accents, spacing).
	query := textutil.FoldName(row.Query)
	if query == "" {
		return "", false
	}
	keys := make([]string, 0, len(job.Keys))
	for key := range job.Keys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if textutil.FoldName(key) == query {
			return job.Keys[key], true
		}
	}
	return "", false
}

func (m *Matcher) matchGeo(row provider.ResultRow) (Result, bool) {
	lat, lng, ok := row.Coordinates()
	if !ok || m.opts.Tolerance <= 0 || !m.opts.Bounds.Contains(lat, lng) {
		return Result{}, false
	}
	best := -1
	bestDist := math.Inf(1)
	for i, c := range m.candidates {
		if !c.HasCoords {
			continue
		}
		d := math.Hypot(lat-c.Latitude, lng-c.Longitude)
		if d <= m.opts.Tolerance && d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return Result{}, false
	}
	return Result{Slug: m.candidates[best].Slug, By: ByGeo, Distance: bestDist}, true
}

func (m *Matcher) matchName(row provider.ResultRow) (string, bool) {
	name := textutil.FoldName(row.Name)
	if name == "" {
		return "", false
	}
	for i, candidate := range m.folded {
		if candidate == "" {
			continue
		}
		if strings.Contains(name, candidate) || strings.Contains(candidate, name) {
			return m.candidates[i].Slug, true
		}
	}
	return "", false
}
