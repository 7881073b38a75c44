// Package httputil provides shared HTTP response/request helpers for the
// API handlers.
//
// The marketplace frontend expects two shapes: JSON bodies on success and
// either a plain-text or a JSON-encoded string on failure. Handlers use
// these helpers instead of writing to http.ResponseWriter directly.
package httputil
