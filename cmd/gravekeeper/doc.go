// Command gravekeeper enriches the cemetery catalog with provider photos and
// reviews.
//
// The run command processes every listing that still needs enrichment in
// batches and saves progress after each one; rerunning continues where the
// previous run stopped. The status, watch, and import commands operate on a
// single provider job by handle, progress and reset inspect or clear the
// progress file, and config manages the TOML configuration.
package main
