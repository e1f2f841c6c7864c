package mockprovider

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"gravekeeper/internal/logging"
	"gravekeeper/internal/provider"
	"gravekeeper/internal/services"
)

func newClient(t *testing.T, srv *Server, token string) *provider.Client {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	client, err := provider.New(ts.URL, token, provider.WithHTTPClient(ts.Client()))
	if err != nil {
		t.Fatalf("provider.New: %v", err)
	}
	return client
}

func TestJobLifecycle(t *testing.T) {
	srv := New(Options{Token: "secret", ReadyAfter: 1}, logging.NewNop())
	lat, lng := 52.1, 5.1
	srv.AddPlace("place-1", provider.ResultRow{LookupKey: "place-1", Name: "Oud Kerkhof", Latitude: &lat, Longitude: &lng, PhotoURLs: []string{"/photos/a.jpg"}})
	client := newClient(t, srv, "secret")
	ctx := context.Background()

	job, err := client.Submit(ctx, []provider.Query{{Key: "place-1", Slug: "oud-kerkhof"}, {Key: "place-2", Slug: "other"}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := client.PollOnce(ctx, job); got != provider.StatusRunning {
		t.Fatalf("first poll = %s, want running", got)
	}
	if got := client.PollOnce(ctx, job); got != provider.StatusReady {
		t.Fatalf("second poll = %s, want ready", got)
	}
	rows, err := client.FetchResults(ctx, job)
	if err != nil {
		t.Fatalf("FetchResults: %v", err)
	}
	if len(rows) != 1 || rows[0].Query != "place-1" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if len(rows[0].PhotoURLs) != 1 || rows[0].PhotoURLs[0][:7] != "http://" {
		t.Fatalf("photo url not absolutised: %v", rows[0].PhotoURLs)
	}
	if srv.Submissions() != 1 || len(srv.Queries(job.Handle)) != 2 {
		t.Fatalf("unexpected bookkeeping: submissions=%d queries=%v", srv.Submissions(), srv.Queries(job.Handle))
	}
}

func TestRejectsBadToken(t *testing.T) {
	srv := New(Options{Token: "secret"}, nil)
	client := newClient(t, srv, "wrong")
	_, err := client.Submit(context.Background(), []provider.Query{{Key: "k", Slug: "s"}})
	if !errors.Is(err, services.ErrSubmission) || !provider.IsAuthError(err) {
		t.Fatalf("expected auth submission error, got %v", err)
	}
}

func TestFailureInjection(t *testing.T) {
	srv := New(Options{}, nil)
	client := newClient(t, srv, "any")
	ctx := context.Background()

	srv.FailSubmissions(1)
	if _, err := client.Submit(ctx, []provider.Query{{Key: "k", Slug: "s"}}); err == nil {
		t.Fatal("expected injected submit failure")
	}
	srv.FailJobs(1)
	job, err := client.Submit(ctx, []provider.Query{{Key: "k", Slug: "s"}})
	if err != nil {
		t.Fatal(err)
	}
	if got := client.PollOnce(ctx, job); got != provider.StatusFailed {
		t.Fatalf("poll = %s, want failed", got)
	}
	if srv.Submissions() != 2 {
		t.Fatalf("submissions = %d", srv.Submissions())
	}
}
