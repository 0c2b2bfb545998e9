// Package apperr defines the sentinel errors shared across Mimir components.
// Callers classify failures with errors.Is and wrap causes with %w.
package apperr

import "errors"

var (
	// ErrNotFound marks a lookup miss (note or PR). Surfaced to
	// conversational callers as a helpful message, not a hard failure.
	ErrNotFound = errors.New("not found")

	// ErrNotConfigured marks missing remote credentials or target
	// repository. Fatal to the calling operation.
	ErrNotConfigured = errors.New("remote source not configured")

	// ErrFetch marks a partial or total read failure against the remote
	// source. Non-fatal: callers degrade to stale or empty results.
	ErrFetch = errors.New("fetch failed")

	// ErrSubmission marks a remote write failure during a contribution.
	// Always wrapped with the underlying cause; no rollback is attempted.
	ErrSubmission = errors.New("submission failed")

	// ErrUnauthorized marks a webhook signature mismatch.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict marks an optimistic-concurrency conflict on update.
	ErrConflict = errors.New("conflict")
)
