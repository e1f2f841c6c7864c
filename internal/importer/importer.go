// Package importer persists one matched provider row: its reviews go into the
// review store and a downloaded photo becomes the listing's photo reference.
package importer

import (
	"context"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"gravekeeper/internal/logging"
	"gravekeeper/internal/provider"
	"gravekeeper/internal/reviews"
	"gravekeeper/internal/services"
)

// ReviewStore is the subset of the review store used during import.
type ReviewStore interface {
	Insert(ctx context.Context, r reviews.Review) (bool, error)
}

// PhotoSetter records a photo reference on a catalog listing.
type PhotoSetter interface {
	SetPhoto(slug, ref string) error
}

// Outcome tallies what happened to one row.
type Outcome struct {
	Inserted     int
	Duplicates   int
	Skipped      int
	Failed       int
	PhotoUpdated bool
}

// Add accumulates other into o.
func (o *Outcome) Add(other Outcome) {
	o.Inserted += other.Inserted
	o.Duplicates += other.Duplicates
	o.Skipped += other.Skipped
	o.Failed += other.Failed
	if other.PhotoUpdated {
		o.PhotoUpdated = true
	}
}

// Importer writes rows into the review store and catalog.
type Importer struct {
	reviews   ReviewStore
	catalog   PhotoSetter
	urlPrefix string
	logger    *slog.Logger
}

// New builds an importer. urlPrefix is joined with the photo file name to form
// the stored reference.
func New(store ReviewStore, catalog PhotoSetter, urlPrefix string, logger *slog.Logger) *Importer {
	return &Importer{
		reviews:   store,
		catalog:   catalog,
		urlPrefix: strings.TrimRight(strings.TrimSpace(urlPrefix), "/"),
		logger:    logging.NewComponentLogger(logger, "importer"),
	}
}

// ImportRow stores the row's reviews under slug and, when photoPath is set,
// points the listing at the downloaded photo. Individual review failures are
// logged and counted; they never abort the row.
func (i *Importer) ImportRow(ctx context.Context, row provider.ResultRow, slug, photoPath string) Outcome {
	var out Outcome
	ctx = services.WithSlug(ctx, slug)
	logger := logging.WithContext(ctx, i.logger)
	jobID, _ := services.JobIDFromContext(ctx)

	for _, review := range row.Reviews {
		if strings.TrimSpace(review.Text) == "" {
			out.Skipped++
			continue
		}
		inserted, err := i.reviews.Insert(ctx, reviews.Review{
			Slug:      slug,
			Author:    review.Author,
			Rating:    review.Rating,
			Text:      review.Text,
			Date:      review.Date,
			SourceJob: jobID,
		})
		switch {
		case err != nil:
			out.Failed++
			logging.WarnWithContext(logger, "review insert failed", "review_insert_failed",
				logging.String("author", review.Author),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the reviews database is writable"),
				logging.String(logging.FieldImpact, "review skipped, remaining reviews still imported"),
			)
		case inserted:
			out.Inserted++
		default:
			out.Duplicates++
		}
	}

	if strings.TrimSpace(photoPath) != "" {
		ref := i.photoRef(photoPath)
		if err := i.catalog.SetPhoto(slug, ref); err != nil {
			logging.WarnWithContext(logger, "photo reference not recorded", "photo_update_failed",
				logging.String("photo", ref),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "slug missing from catalog"),
			)
		} else {
			out.PhotoUpdated = true
		}
	}

	logger.Debug("row imported",
		logging.String(logging.FieldEventType, "row_imported"),
		logging.Int("inserted", out.Inserted),
		logging.Int("duplicates", out.Duplicates),
		logging.Int("skipped", out.Skipped),
		logging.Int("failed", out.Failed),
		logging.Bool("photo_updated", out.PhotoUpdated),
	)
	return out
}

func (i *Importer) photoRef(photoPath string) string {
	name := filepath.Base(photoPath)
	if i.urlPrefix == "" {
		return name
	}
	return path.Join(i.urlPrefix, name)
}
