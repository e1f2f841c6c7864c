package pipeline

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gravekeeper/internal/assets"
	"gravekeeper/internal/catalog"
	"gravekeeper/internal/importer"
	"gravekeeper/internal/jobwatch"
	"gravekeeper/internal/logging"
	"gravekeeper/internal/matcher"
	"gravekeeper/internal/mockprovider"
	"gravekeeper/internal/progress"
	"gravekeeper/internal/provider"
	"gravekeeper/internal/ratelimit"
	"gravekeeper/internal/reviews"
	"gravekeeper/internal/services"
	"gravekeeper/internal/testsupport"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type listing = testsupport.Listing

type harness struct {
	t        *testing.T
	srv      *mockprovider.Server
	ts       *httptest.Server
	client   *provider.Client
	catalogP string
	progP    string
	photoDir string
	reviews  *reviews.Store
}

func newHarness(t *testing.T, listings []listing) *harness {
	t.Helper()
	srv := mockprovider.New(mockprovider.Options{Token: "tok"}, logging.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client, err := provider.New(ts.URL, "tok", provider.WithHTTPClient(ts.Client()))
	if err != nil {
		t.Fatalf("provider.New: %v", err)
	}
	cfg := testsupport.NewConfig(t, testsupport.WithProvider(ts.URL, "tok"))
	testsupport.WriteCatalog(t, cfg.Paths.CatalogFile, listings)
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.ProgressFile), 0o755); err != nil {
		t.Fatal(err)
	}
	return &harness{
		t:        t,
		srv:      srv,
		ts:       ts,
		client:   client,
		catalogP: cfg.Paths.CatalogFile,
		progP:    cfg.Paths.ProgressFile,
		photoDir: cfg.Paths.PhotoDir,
		reviews:  testsupport.MustOpenReviews(t, cfg),
	}
}

type waiterFunc func(ctx context.Context, job *provider.Job) ([]provider.ResultRow, error)

func (f waiterFunc) Wait(ctx context.Context, job *provider.Job) ([]provider.ResultRow, error) {
	return f(ctx, job)
}

// driver loads fresh stores from disk, the way a new process would.
func (h *harness) driver(opts Options, wrap func(JobWaiter) JobWaiter) (*Driver, *catalog.Catalog, *progress.Store) {
	h.t.Helper()
	cat, err := catalog.Load(h.catalogP)
	if err != nil {
		h.t.Fatalf("catalog.Load: %v", err)
	}
	prog, err := progress.Open(h.progP, logging.NewNop())
	if err != nil {
		h.t.Fatalf("progress.Open: %v", err)
	}
	var waiter JobWaiter = jobwatch.New(h.client,
		jobwatch.Options{PollInterval: time.Millisecond, JobTimeout: time.Hour, MaxAttempts: 3},
		jobwatch.WithSleeper(noSleep))
	if wrap != nil {
		waiter = wrap(waiter)
	}
	limiter := ratelimit.New(ratelimit.Options{
		MinDelay:      time.Millisecond,
		MaxDelay:      time.Second,
		InitialDelay:  time.Millisecond,
		SuccessFactor: 0.9,
		ErrorFactor:   1.5,
		MaxErrors:     5,
	}, ratelimit.WithSleeper(noSleep))

	if opts.BatchSize == 0 {
		opts.BatchSize = 2
	}
	opts.PhotoDir = h.photoDir
	opts.Matching = matcher.Options{
		Tolerance: 0.003,
		Bounds:    matcher.BoundingBox{MinLat: 50.7, MaxLat: 53.7, MinLng: 3.2, MaxLng: 7.3},
	}
	deps := Deps{Catalog: cat, Progress: prog, Limiter: limiter, Logger: logging.NewNop()}
	if !opts.DryRun {
		deps.Jobs = h.client
		deps.Watcher = waiter
		deps.Downloads = assets.New(assets.Options{Timeout: 5 * time.Second, MinBytes: 2048}, assets.WithHTTPClient(h.ts.Client()))
		deps.Importer = importer.New(h.reviews, cat, "/images/cemeteries", logging.NewNop())
	}
	d, err := New(deps, opts, WithRunIDs(func() string { return "run-test" }))
	if err != nil {
		h.t.Fatalf("New: %v", err)
	}
	return d, cat, prog
}

func threeListings() []listing {
	return []listing{
		{Slug: "oude-begraafplaats", Name: "Oude Begraafplaats", PlaceID: "place-1", Latitude: 52.09, Longitude: 5.12},
		{Slug: "nieuwe-ooster", Name: "De Nieuwe Ooster", PlaceID: "place-2", Latitude: 52.35, Longitude: 4.93},
		{Slug: "zorgvlied", Name: "Zorgvlied", PlaceID: "place-3", Latitude: 52.33, Longitude: 4.90},
	}
}

func ptr(v float64) *float64 { return &v }

func (h *harness) seedPlaces() {
	h.srv.AddPhoto("oude.jpg", 4096)
	h.srv.AddPlace("place-1", provider.ResultRow{
		LookupKey: "place-1",
		Name:      "Oude Begraafplaats Utrecht",
		Latitude:  ptr(52.09),
		Longitude: ptr(5.12),
		PhotoURLs: []string{"/photos/oude.jpg"},
		Reviews: []provider.Review{
			{Author: "Ann", Rating: 5, Text: "Prachtig"},
			{Author: "Bob", Rating: 4, Text: "Rustig"},
			{Author: "Cas", Rating: 3, Text: ""},
		},
	})
	// No identifier echo: must be matched by position.
	h.srv.AddPlace("place-3", provider.ResultRow{
		Query:     "elsewhere",
		Name:      "Begraafplaats aan de Amstel",
		Latitude:  ptr(52.3305),
		Longitude: ptr(4.9005),
	})
}

func TestRunEnrichesCatalog(t *testing.T) {
	h := newHarness(t, threeListings())
	h.seedPlaces()
	d, _, prog := h.driver(Options{}, nil)

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.State != StateCompleted || d.State() != StateCompleted {
		t.Fatalf("state = %s", summary.State)
	}
	if summary.RunID != "run-test" || summary.Batches != 2 || summary.BatchesRun != 2 || summary.BatchesFailed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	want := progress.Counters{Found: 2, NotFound: 1, Downloaded: 1, ReviewsImported: 2, ReviewsSkipped: 1}
	if summary.Counters != want {
		t.Fatalf("counters = %+v, want %+v", summary.Counters, want)
	}
	for _, slug := range []string{"oude-begraafplaats", "nieuwe-ooster", "zorgvlied"} {
		if status, _ := prog.StatusOf(slug); status != progress.StatusSuccess {
			t.Fatalf("status of %s = %q", slug, status)
		}
	}
	if len(prog.PendingJobs()) != 0 {
		t.Fatalf("pending jobs left: %+v", prog.PendingJobs())
	}

	reloaded, err := catalog.Load(h.catalogP)
	if err != nil {
		t.Fatal(err)
	}
	entry, _ := reloaded.Get("oude-begraafplaats")
	if entry.Photo != "/images/cemeteries/oude-begraafplaats.jpg" {
		t.Fatalf("photo ref = %q", entry.Photo)
	}
	if info, err := os.Stat(filepath.Join(h.photoDir, "oude-begraafplaats.jpg")); err != nil || info.Size() != 4096 {
		t.Fatalf("photo file: %v", err)
	}
	if list, _ := h.reviews.ListBySlug(context.Background(), "zorgvlied"); len(list) != 0 {
		t.Fatalf("unexpected reviews for geo match: %+v", list)
	}
}

func TestPhotoReferencePointsAtStoredFile(t *testing.T) {
	h := newHarness(t, threeListings()[:1])
	h.srv.AddPhoto("IMG_0042.jpg", 4096)
	h.srv.AddPlace("place-1", provider.ResultRow{
		LookupKey: "place-1",
		Name:      "Oude Begraafplaats",
		PhotoURLs: []string{"/photos/missing.jpg", "/photos/IMG_0042.jpg"},
	})
	d, _, _ := h.driver(Options{}, nil)
	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	reloaded, err := catalog.Load(h.catalogP)
	if err != nil {
		t.Fatal(err)
	}
	entry, _ := reloaded.Get("oude-begraafplaats")
	if entry.Photo != "/images/cemeteries/oude-begraafplaats.jpg" {
		t.Fatalf("photo ref = %q", entry.Photo)
	}
	if _, err := os.Stat(filepath.Join(h.photoDir, filepath.Base(entry.Photo))); err != nil {
		t.Fatalf("photo ref does not resolve to a stored file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(h.photoDir, "IMG_0042.jpg")); !os.IsNotExist(err) {
		t.Fatalf("remote file name leaked into photo dir: %v", err)
	}
}

func TestRunIsResumableAfterInterrupt(t *testing.T) {
	h := newHarness(t, threeListings())
	h.seedPlaces()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d, _, _ := h.driver(Options{}, func(inner JobWaiter) JobWaiter {
		return waiterFunc(func(c context.Context, job *provider.Job) ([]provider.ResultRow, error) {
			rows, err := inner.Wait(c, job)
			cancel()
			return rows, err
		})
	})
	summary, err := d.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.State != StateInterrupted || summary.BatchesRun != 1 {
		t.Fatalf("unexpected summary after interrupt: %+v", summary)
	}
	if h.srv.Submissions() != 1 {
		t.Fatalf("submissions = %d", h.srv.Submissions())
	}

	d2, _, prog := h.driver(Options{}, nil)
	summary, err = d2.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Candidates != 1 || summary.State != StateCompleted {
		t.Fatalf("second run should only process the remaining listing: %+v", summary)
	}
	if h.srv.Submissions() != 2 {
		t.Fatalf("submissions = %d, want 2", h.srv.Submissions())
	}

	d3, _, _ := h.driver(Options{}, nil)
	summary, _ = d3.Run(context.Background())
	if summary.Candidates != 0 || h.srv.Submissions() != 2 {
		t.Fatalf("third run should have nothing to do: %+v", summary)
	}
	if success, failed := prog.StatusCounts(); success != 3 || failed != 0 {
		t.Fatalf("status counts = %d/%d", success, failed)
	}
}

func TestFailedBatchIsIsolated(t *testing.T) {
	h := newHarness(t, threeListings())
	h.seedPlaces()
	h.srv.FailJobs(1)
	d, _, prog := h.driver(Options{}, nil)

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.State != StateCompleted || summary.BatchesFailed != 1 || summary.BatchesRun != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	for slug, want := range map[string]progress.Status{
		"oude-begraafplaats": progress.StatusError,
		"nieuwe-ooster":      progress.StatusError,
		"zorgvlied":          progress.StatusSuccess,
	} {
		if got, _ := prog.StatusOf(slug); got != want {
			t.Fatalf("status of %s = %q, want %q", slug, got, want)
		}
	}
	if summary.Counters.Errors != 2 || summary.Counters.Found != 1 {
		t.Fatalf("counters = %+v", summary.Counters)
	}

	cleared, err := d.Reset(true)
	if err != nil || cleared != 2 {
		t.Fatalf("Reset(errorsOnly) = %d, %v", cleared, err)
	}
	d2, _, _ := h.driver(Options{}, nil)
	summary, _ = d2.Run(context.Background())
	if summary.Candidates != 2 || summary.BatchesFailed != 0 {
		t.Fatalf("error subset should be retried: %+v", summary)
	}
}

func TestRunHaltsAfterConsecutiveErrors(t *testing.T) {
	var listings []listing
	for i, slug := range []string{"a", "b", "c", "d", "e", "f"} {
		listings = append(listings, listing{Slug: slug, Name: slug, PlaceID: "place-" + slug, Latitude: 52 + float64(i)/10, Longitude: 5})
	}
	h := newHarness(t, listings)
	h.srv.FailSubmissions(100)
	d, _, prog := h.driver(Options{BatchSize: 1}, nil)

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.State != StateHalted {
		t.Fatalf("state = %s, want halted", summary.State)
	}
	if got := h.srv.Submissions(); got != 5 {
		t.Fatalf("submissions = %d, want 5", got)
	}
	if prog.IsProcessed("f") {
		t.Fatal("sixth listing must not be processed")
	}
	if _, failed := prog.StatusCounts(); failed != 5 {
		t.Fatalf("failed = %d, want 5", failed)
	}
}

func TestDryRunMakesNoCalls(t *testing.T) {
	h := newHarness(t, threeListings())
	d, _, _ := h.driver(Options{DryRun: true, BatchSize: 2}, nil)

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !summary.DryRun || summary.Candidates != 3 || len(summary.Planned) != 2 || len(summary.Planned[1].Candidates) != 1 {
		t.Fatalf("unexpected plan: %+v", summary)
	}
	if h.srv.Submissions() != 0 {
		t.Fatal("dry run must not submit")
	}
	if _, err := os.Stat(h.progP); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("dry run must not write progress: %v", err)
	}
}

func TestResumeRewatchesPendingJob(t *testing.T) {
	h := newHarness(t, threeListings()[:1])
	h.seedPlaces()

	job, err := h.client.Submit(context.Background(), []provider.Query{{Key: "place-1", Slug: "oude-begraafplaats"}})
	if err != nil {
		t.Fatal(err)
	}
	_, _, prog := h.driver(Options{}, nil)
	prog.RecordPending(progress.PendingJob{Handle: job.Handle, SubmittedAt: job.SubmittedAt, Batch: 1, Keys: job.Keys})
	if err := prog.Save(); err != nil {
		t.Fatal(err)
	}

	d, _, prog := h.driver(Options{Resume: true}, nil)
	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Resumed != 1 || summary.Candidates != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if h.srv.Submissions() != 1 {
		t.Fatalf("resume must not resubmit, submissions = %d", h.srv.Submissions())
	}
	if status, _ := prog.StatusOf("oude-begraafplaats"); status != progress.StatusSuccess {
		t.Fatalf("status = %q", status)
	}
	if len(prog.PendingJobs()) != 0 {
		t.Fatal("pending job should be cleared")
	}
}

func TestRunWithoutResumeAbandonsPendingJob(t *testing.T) {
	h := newHarness(t, threeListings()[:1])
	h.seedPlaces()
	_, _, prog := h.driver(Options{}, nil)
	prog.RecordPending(progress.PendingJob{Handle: "stale", SubmittedAt: time.Now(), Keys: map[string]string{"place-1": "oude-begraafplaats"}})
	if err := prog.Save(); err != nil {
		t.Fatal(err)
	}

	d, _, prog := h.driver(Options{}, nil)
	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Candidates != 1 || h.srv.Submissions() != 1 {
		t.Fatalf("listing should be submitted again: %+v", summary)
	}
	if _, ok := prog.Pending("stale"); ok {
		t.Fatal("stale job should be dropped")
	}
}

func TestImportJobWithUnknownHandle(t *testing.T) {
	h := newHarness(t, threeListings())
	h.seedPlaces()
	ctx := context.Background()

	job, err := h.client.Submit(ctx, []provider.Query{{Key: "place-1", Slug: "ignored"}})
	if err != nil {
		t.Fatal(err)
	}
	d, _, prog := h.driver(Options{}, nil)
	delta, err := d.ImportJob(ctx, job.Handle)
	if err != nil {
		t.Fatalf("ImportJob: %v", err)
	}
	if delta.Found != 1 || delta.NotFound != 0 || delta.ReviewsImported != 2 {
		t.Fatalf("delta = %+v", delta)
	}
	if status, _ := prog.StatusOf("oude-begraafplaats"); status != progress.StatusSuccess {
		t.Fatalf("matched listing should be marked: %q", status)
	}
	if prog.IsProcessed("zorgvlied") {
		t.Fatal("unmatched listings must stay eligible")
	}

	// Importing again only finds duplicates.
	delta, err = d.ImportJob(ctx, job.Handle)
	if err != nil {
		t.Fatal(err)
	}
	if delta.ReviewsImported != 0 || delta.ReviewsDuplicate != 2 || delta.Downloaded != 0 {
		t.Fatalf("second import delta = %+v", delta)
	}
}

func TestRunRefusesConcurrentRun(t *testing.T) {
	h := newHarness(t, threeListings())
	_, _, holder := h.driver(Options{}, nil)
	if err := holder.Lock(); err != nil {
		t.Fatal(err)
	}
	defer holder.Unlock()

	d, _, _ := h.driver(Options{}, nil)
	if _, err := d.Run(context.Background()); err == nil {
		t.Fatal("expected lock error")
	}
}

func TestPlan(t *testing.T) {
	cands := make([]catalog.Candidate, 7)
	batches := Plan(cands, 3)
	if len(batches) != 3 || len(batches[2].Candidates) != 1 || batches[2].Number != 3 {
		t.Fatalf("unexpected batches: %+v", batches)
	}
	if Plan(nil, 3) != nil || Plan(cands, 0) != nil {
		t.Fatal("empty plans expected")
	}
}

func TestBatchFailureHintNamesTokenOnAuthError(t *testing.T) {
	h := newHarness(t, threeListings())
	bad, err := provider.New(h.ts.URL, "wrong", provider.WithHTTPClient(h.ts.Client()))
	if err != nil {
		t.Fatal(err)
	}
	_, submitErr := bad.Submit(context.Background(), []provider.Query{{Key: "place-1", Slug: "oude-begraafplaats"}})
	if submitErr == nil {
		t.Fatal("expected submission with a bad token to fail")
	}
	if hint := batchFailureHint(submitErr); !strings.Contains(hint, "api_token") {
		t.Fatalf("auth hint = %q", hint)
	}
	timeout := services.Wrap(services.ErrJobTimeout, "jobwatch", "wait", "job-0001", nil)
	if hint := batchFailureHint(timeout); !strings.Contains(hint, "reset --errors-only") || strings.Contains(hint, "api_token") {
		t.Fatalf("timeout hint = %q", hint)
	}
}
