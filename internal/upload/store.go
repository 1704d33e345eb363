package upload

import (
	"context"

	"github.com/google/uuid"
)

// CreateParams are the caller-supplied fields for a new pending record.
type CreateParams struct {
	StoredName       string
	OriginalFilename string
	Owner            string
}

// Store persists upload records. Lifecycle mutations are expressed as
// explicit operations rather than a generic update so the status guards
// live in one place. All write methods against a record in a terminal
// state are silent no-ops, which is what makes duplicate job delivery
// harmless.
type Store interface {
	// Create inserts a new record in pending state and returns it.
	Create(ctx context.Context, p CreateParams) (Record, error)

	// Get returns one record by ID, or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (Record, error)

	// List returns all records, newest created first. Visibility
	// filtering is the caller's job (Record.VisibleTo).
	List(ctx context.Context) ([]Record, error)

	// MarkProcessing moves a pending record to processing.
	MarkProcessing(ctx context.Context, id uuid.UUID) error

	// SetTotalRows pins the counting-pass result.
	SetTotalRows(ctx context.Context, id uuid.UUID, total int) error

	// SetProcessedRows records decode-pass progress.
	SetProcessedRows(ctx context.Context, id uuid.UUID, processed int) error

	// MarkCompleted finishes the record, pinning the final row count.
	MarkCompleted(ctx context.Context, id uuid.UUID, processed int) error

	// MarkFailed finishes the record with a failure cause.
	MarkFailed(ctx context.Context, id uuid.UUID, cause string) error
}
