package store

import "github.com/pkg/errors"

// Error taxonomy shared by every engine component.
//
// Transient I/O is retried with backoff where it happens and never surfaces
// past a component boundary unless retries exhaust. The sentinels below are
// the non-transient categories callers are expected to branch on.
var (
	// ErrStateConflict rejects a mutation that would overwrite an already
	// settled state, e.g. deciding a non-Pending report.
	ErrStateConflict = errors.New("state conflict")

	// ErrNotFound marks a referenced document that no longer exists. It
	// triggers orphan reconciliation rather than a hard failure.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied marks an attempt to mutate another user's private
	// state. Never retried.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInClauseTooLarge rejects an equality-membership query whose target
	// set exceeds MaxInValues. Callers go through the subscription
	// multiplexer, which chunks instead.
	ErrInClauseTooLarge = errors.New("membership query exceeds backend limit")
)
