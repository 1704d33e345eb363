// Package upload holds the progress record for one ingestion attempt and
// its persistence. A record is created in pending state when the file is
// accepted, then owned exclusively by the ingestion job, which drives it
// through processing to a terminal state. Records are never deleted here;
// retention is someone else's problem.
package upload

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an upload. Transitions are monotonic:
// pending -> processing -> completed or failed. Nothing leaves a terminal
// state; the store enforces this in its UPDATE guards.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record tracks one ingestion attempt.
type Record struct {
	ID uuid.UUID

	// StoredName locates the uploaded blob in the file store. It is
	// generated server-side; OriginalFilename is display-only untrusted
	// input and is never used to build paths.
	StoredName       string
	OriginalFilename string

	Status Status

	// TotalRows is nil until the counting pass finishes, then fixed.
	TotalRows *int

	// ProcessedRows counts decode-pass rows consumed so far, skipped or
	// not. It only ever grows, and is pinned to the exact final count on
	// completion.
	ProcessedRows int

	// ErrorMessage holds the human-readable cause when Status is failed.
	ErrorMessage string

	// Owner is the submitting principal, or empty for ownerless records.
	Owner string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// VisibleTo reports whether a principal may see this record. Ownerless
// records are visible to everyone. That default predates ownership
// tracking and is kept deliberately; it lives here as an explicit
// predicate, not in storage queries, so it can be tightened later.
func (r Record) VisibleTo(principal string) bool {
	return r.Owner == "" || r.Owner == principal
}

// ErrNotFound is returned when no record exists for the requested ID.
var ErrNotFound = errors.New("upload not found")
