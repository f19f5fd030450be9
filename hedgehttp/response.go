// Package hedgehttp adapts the hedge.Engine to net/http: a RoundTripper decorator that races attempts against an
// inner http.RoundTripper, duplicating a bounded prefix of the response body for content-aware rules without
// consuming it for the eventual caller (spec §5.1 "Streamed HTTP variant").
package hedgehttp

import "net/http"

// Response wraps an *http.Response so a losing attempt's body can be released through hedge.Abortable once the race
// decides against it, without requiring http.Response itself to implement the interface (grounded on
// failsafehttp's bodyWithCancel, which solves the same "release on discard" problem for retries).
type Response struct {
	*http.Response
}

// Abort closes the wrapped response's body, releasing its connection back to the transport's pool. Safe to call on
// a nil Response or an already-closed body.
func (r *Response) Abort(_ error) {
	if r == nil || r.Response == nil || r.Body == nil {
		return
	}
	_ = r.Body.Close()
}
