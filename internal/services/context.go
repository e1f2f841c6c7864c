package services

import "context"

type contextKey string

const (
	runIDKey contextKey = "run_id"
	batchKey contextKey = "batch"
	jobIDKey contextKey = "job_id"
	slugKey   contextKey = "slug"
)

// WithRunID annotates context with the enrichment run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithBatch annotates context with the 1-based batch number.
func WithBatch(ctx context.Context, batch int) context.Context {
	return context.WithValue(ctx, batchKey, batch)
}

// BatchFromContext extracts the batch number if present.
func BatchFromContext(ctx context.Context) (int, bool) {
	v := ctx.Value(batchKey)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	default:
		return 0, false
	}
}

// WithJobID annotates context with the provider job handle.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext returns the provider job handle if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithSlug annotates context with the catalog slug being processed.
func WithSlug(ctx context.Context, slug string) context.Context {
	if slug == "" {
		return ctx
	}
	return context.WithValue(ctx, slugKey, slug)
}

// SlugFromContext returns the catalog slug if present.
func SlugFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(slugKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
