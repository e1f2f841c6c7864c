// Package config loads, normalizes, and validates gravekeeper configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// PROVIDER_API_TOKEN. The Config type centralizes every knob the enrichment
// run and the CLI need: catalog and progress locations, provider
// credentials, rate limiter bounds, job watch timings, matching tolerances,
// and download validation thresholds.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
