// Package provider is the HTTP client for the remote data-collection service
// that resolves place lookups asynchronously.
//
// The service contract is three calls: submit a batch of lookup keys and get a
// job handle back, poll the job status, and fetch the result rows once the job
// is ready. Requests authenticate with a bearer token.
//
//	POST /jobs               {"queries": [...]}            -> {"id": "..."}
//	GET  /jobs/{id}                                          -> {"status": "running|ready|failed", "records": n, "errors": n}
//	GET  /jobs/{id}/results                                  -> [row, ...] or [[row, ...], ...]
//
// Submission failures are returned to the caller untouched by retries. Status
// checks through PollOnce never fail: a transient error is logged and reported
// as StatusRunning so a healthy job is not abandoned because of one bad poll.
package provider
