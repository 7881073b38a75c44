package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sharetribe/ftw-time/internal/marketplace"
	"github.com/sharetribe/ftw-time/internal/pkg/logger"
)

// =============================================================================
// ERROR SANITIZER
// The pass-through endpoints answer with the upstream error string, which
// is what the web app's SDK error handling reads. Endpoints that compute
// things server-side (pricing, inbox) must not leak internal details.
// =============================================================================

// sanitizedError logs the full internal error and returns a public-safe message.
func sanitizedError(code int, internalErr error, publicMsg string) string {
	if internalErr != nil {
		logger.Error("request failed", "status", code, "message", publicMsg, "error", internalErr)
	}
	return publicMsg
}

// respondSafeError logs the internal error and sends a sanitized JSON
// error response to the client.
func respondSafeError(w http.ResponseWriter, code int, internalErr error, publicMsg string) {
	msg := sanitizedError(code, internalErr, publicMsg)
	respondJSON(w, code, map[string]string{"error": msg})
}

// respondUpstreamError passes marketplace 4xx answers through with their
// status and hides everything else behind a safe message.
func respondUpstreamError(w http.ResponseWriter, err error) {
	var apiErr *marketplace.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		logger.Warn("marketplace rejected request", "op", apiErr.Op, "status", apiErr.Status)
		respondJSON(w, apiErr.Status, map[string]string{"error": safeErrorMessage(apiErr.Status, err)})
		return
	}
	respondSafeError(w, http.StatusInternalServerError, err, safeErrorMessage(http.StatusInternalServerError, err))
}

// safeErrorMessage maps common internal error patterns to public-safe messages.
// 4xx messages describe user input and pass through.
// For 500-level errors, this returns a generic safe message.
func safeErrorMessage(code int, internalErr error) string {
	if code < 500 {
		if internalErr != nil {
			return internalErr.Error()
		}
		return "Bad request"
	}

	if internalErr == nil {
		return "An internal error occurred"
	}

	errStr := strings.ToLower(internalErr.Error())

	switch {
	case strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp"):
		return "Service temporarily unavailable"

	case strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context canceled"):
		return "Request timed out"

	case strings.Contains(errStr, "pq:") ||
		strings.Contains(errStr, "sql") ||
		strings.Contains(errStr, "dynamodb"):
		return "A storage error occurred"

	case strings.Contains(errStr, "token") ||
		strings.Contains(errStr, "oauth2"):
		return "Authentication with an upstream service failed"

	default:
		return "An internal error occurred"
	}
}
