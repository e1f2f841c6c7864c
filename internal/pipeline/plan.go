package pipeline

import (
	"gravekeeper/internal/catalog"
)

// SelectCandidates returns the listings a new run would submit, excluding
// any slug in skip.
func (d *Driver) SelectCandidates(skip map[string]bool) []catalog.Candidate {
	return d.deps.Catalog.Candidates(func(slug string) bool {
		return skip[slug] || d.deps.Progress.IsProcessed(slug)
	})
}

// Plan splits candidates into batches of size. The last batch may be shorter.
func Plan(candidates []catalog.Candidate, size int) []Batch {
	if size <= 0 || len(candidates) == 0 {
		return nil
	}
	batches := make([]Batch, 0, (len(candidates)+size-1)/size)
	for start := 0; start < len(candidates); start += size {
		end := min(start+size, len(candidates))
		batches = append(batches, Batch{
			Number:     len(batches) + 1,
			Candidates: candidates[start:end],
		})
	}
	return batches
}

// candidatesFor rebuilds the candidates of a journaled job from its key
// mapping, in catalog order. Slugs no longer in the catalog are dropped.
func (d *Driver) candidatesFor(keys map[string]string) []catalog.Candidate {
	wanted := make(map[string]bool, len(keys))
	for _, slug := range keys {
		wanted[slug] = true
	}
	out := make([]catalog.Candidate, 0, len(wanted))
	for _, cand := range d.deps.Catalog.All() {
		if wanted[cand.Slug] {
			out = append(out, cand)
		}
	}
	return out
}
