// Package mockprovider is an in-process fake of the provider job API.
//
// It serves the same routes as the real provider (submit, status, results)
// plus a /photos route for downloadable images, so a full run can be
// exercised locally or in tests without network access. Jobs become ready
// after a configurable number of status checks.
package mockprovider

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"gravekeeper/internal/logging"
	"gravekeeper/internal/provider"
)

const maxSubmitBody = 1 << 20

// Options controls job behaviour.
type Options struct {
	Token string
	// ReadyAfter is the number of status checks answered "running" before a
	// job reports ready.
	ReadyAfter int
}

type job struct {
	id      string
	queries []string
	polls   int
	fail    bool
}

// Server is the fake provider.
type Server struct {
	opts   Options
	logger *slog.Logger
	router chi.Router

	mu           sync.Mutex
	seq          int
	jobs         map[string]*job
	places       map[string]provider.ResultRow
	photos       map[string]int
	submissions  int
	failSubmits  int
	failJobs     int
	resultErrors int
}

// New builds a Server.
func New(opts Options, logger *slog.Logger) *Server {
	s := &Server{
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "mock-provider"),
		jobs:   make(map[string]*job),
		places: make(map[string]provider.ResultRow),
		photos: make(map[string]int),
	}
	r := chi.NewRouter()
	r.Get("/photos/{name}", s.handlePhoto)
	r.Group(func(r chi.Router) {
		r.Use(s.bearerAuth)
		r.Post("/jobs", s.handleSubmit)
		r.Get("/jobs/{id}", s.handleStatus)
		r.Get("/jobs/{id}/results", s.handleResults)
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// AddPlace registers the row returned for lookup key. Photo URLs starting
// with "/" are served relative to the request host.
func (s *Server) AddPlace(key string, row provider.ResultRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.places[strings.TrimSpace(key)] = row
}

// AddPhoto serves size bytes at /photos/{name}.
func (s *Server) AddPhoto(name string, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.photos[name] = size
}

// FailSubmissions makes the next n submissions fail with 503.
func (s *Server) FailSubmissions(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSubmits = n
}

// FailJobs makes the next n submitted jobs report "failed".
func (s *Server) FailJobs(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failJobs = n
}

// FailResults makes the next n result fetches fail with 500.
func (s *Server) FailResults(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resultErrors = n
}

// Submissions returns the number of submit requests received, including
// failed ones.
func (s *Server) Submissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submissions
}

// Queries returns the lookup keys of job id.
func (s *Server) Queries(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		return append([]string(nil), j.queries...)
	}
	return nil
}

func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(s.opts.Token)) != 1 {
			httpError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBody)
	defer r.Body.Close()

	var req struct {
		Queries []string `json:"queries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	s.mu.Lock()
	s.submissions++
	if s.failSubmits > 0 {
		s.failSubmits--
		s.mu.Unlock()
		httpError(w, http.StatusServiceUnavailable, "provider overloaded")
		return
	}
	if len(req.Queries) == 0 {
		s.mu.Unlock()
		httpError(w, http.StatusBadRequest, "queries are required")
		return
	}
	s.seq++
	j := &job{id: fmt.Sprintf("job-%04d", s.seq), queries: req.Queries}
	if s.failJobs > 0 {
		s.failJobs--
		j.fail = true
	}
	s.jobs[j.id] = j
	s.mu.Unlock()

	s.logger.Debug("job accepted", logging.String(logging.FieldJobID, j.id), logging.Int("queries", len(j.queries)))
	writeJSON(w, http.StatusOK, map[string]string{"id": j.id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		httpError(w, http.StatusNotFound, "job %s not found", id)
		return
	}
	j.polls++
	status := "running"
	switch {
	case j.fail:
		status = "failed"
	case j.polls > s.opts.ReadyAfter:
		status = "ready"
	}
	records := min(j.polls, len(j.queries))
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"status": status, "records": records, "errors": 0})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		httpError(w, http.StatusNotFound, "job %s not found", id)
		return
	}
	if s.resultErrors > 0 {
		s.resultErrors--
		s.mu.Unlock()
		httpError(w, http.StatusInternalServerError, "results temporarily unavailable")
		return
	}
	rows := make([]provider.ResultRow, 0, len(j.queries))
	for _, q := range j.queries {
		row, ok := s.places[q]
		if !ok {
			continue
		}
		if row.Query == "" {
			row.Query = q
		}
		row.PhotoURLs = absolutePhotos(r, row.PhotoURLs)
		rows = append(rows, row)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.mu.Lock()
	size, ok := s.photos[name]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(bytes.Repeat([]byte{0xFF}, size))
}

func absolutePhotos(r *http.Request, urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if strings.HasPrefix(u, "/") {
			u = "http://" + r.Host + u
		}
		out = append(out, u)
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"code":    code,
		},
	})
}
