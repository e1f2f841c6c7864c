package assets

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestDownloader(srv *httptest.Server) *Downloader {
	return New(Options{Timeout: 2 * time.Second, MinBytes: 2048, MaxRedirects: 5}, WithHTTPClient(srv.Client()))
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files, found %d (first %s)", len(entries), entries[0].Name())
	}
}

func TestDownloadRejectsUndersizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte{0xff}, 500))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "maple-grove-cemetery.jpg")
	if newTestDownloader(srv).Download(context.Background(), srv.URL+"/small.jpg", dest) {
		t.Fatal("expected undersized download to fail")
	}
	assertEmptyDir(t, dir)

	err := newTestDownloader(srv).Fetch(context.Background(), srv.URL+"/small.jpg", dest)
	if !errors.Is(err, ErrTooSmall) {
		t.Fatalf("expected ErrTooSmall, got %v", err)
	}
}

func TestDownloadWritesValidFile(t *testing.T) {
	body := bytes.Repeat([]byte{0xd8}, 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("w") != "800" || r.URL.Query().Get("h") != "600" {
			t.Errorf("html entities not unescaped: %s", r.URL.RawQuery)
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "photo.jpg")
	if !newTestDownloader(srv).Download(context.Background(), srv.URL+"/p.jpg?w=800&amp;h=600", dest) {
		t.Fatal("expected download to succeed")
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("content mismatch: %d bytes", len(got))
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected exactly one file, got %d", len(entries))
	}
}

func TestDownloadFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/middle", http.StatusFound)
	})
	mux.HandleFunc("/middle", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final.jpg", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/final.jpg", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte{1}, 3000))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "photo.jpg")
	if !newTestDownloader(srv).Download(context.Background(), srv.URL+"/start", dest) {
		t.Fatal("expected redirected download to succeed")
	}
}

func TestDownloadStopsRedirectLoops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	err := newTestDownloader(srv).Fetch(context.Background(), srv.URL+"/loop", filepath.Join(dir, "photo.jpg"))
	if !errors.Is(err, ErrTooManyRedirects) {
		t.Fatalf("expected ErrTooManyRedirects, got %v", err)
	}
	assertEmptyDir(t, dir)
}

func TestDownloadNon2xxAndTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := New(Options{Timeout: 50 * time.Millisecond, MinBytes: 1}, WithHTTPClient(srv.Client()))
	if d.Download(context.Background(), srv.URL+"/missing.jpg", filepath.Join(dir, "a.jpg")) {
		t.Fatal("404 should fail")
	}
	if err := d.Fetch(context.Background(), srv.URL+"/slow", filepath.Join(dir, "b.jpg")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	assertEmptyDir(t, dir)
}

func TestDownloadFirstFallsThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/good.jpg" {
			_, _ = w.Write(bytes.Repeat([]byte{2}, 4096))
			return
		}
		_, _ = w.Write([]byte("tiny"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "photo.jpg")
	used, ok := newTestDownloader(srv).DownloadFirst(context.Background(), []string{"", srv.URL + "/bad.jpg", srv.URL + "/good.jpg"}, dest)
	if !ok || used != srv.URL+"/good.jpg" {
		t.Fatalf("expected fallback to good url, got %q %v", used, ok)
	}
}
