// Package catalog persists product records keyed by their caller-supplied
// unique key. The catalog is a shared table: any ingestion run may overwrite
// a record written by an earlier run, last writer wins.
package catalog

import "context"

// Record is one product entry. UniqueKey and ProductTitle are required;
// the remaining fields use the empty string for "absent". An absent value
// clears the stored column on upsert — replace semantics, not merge — so a
// re-upload that drops a description removes it from the catalog too.
//
// PiecePrice carries the raw cell text. Conversion to a 2-digit decimal
// happens at the storage layer, and a non-numeric value fails that row's
// upsert without touching the stored record.
type Record struct {
	UniqueKey          string
	ProductTitle       string
	ProductDescription string
	Style              string
	MainframeColor     string
	Size               string
	ColorName          string
	PiecePrice         string
}

// Upserter applies a record with insert-or-replace semantics. At most one
// stored record exists per unique key at any time. Implementations must be
// safe under concurrent calls, including calls that touch the same key,
// which is why the operation has to be a single atomic key-based statement
// rather than a lookup followed by an insert.
type Upserter interface {
	Upsert(ctx context.Context, rec Record) error
}
