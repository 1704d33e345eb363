package ingest

import "github.com/merchstream/catalogd/internal/textutil"

// FieldSet is one decoded row keyed by canonical field name. A missing key
// means the value was absent in the file (either the column was not mapped,
// the row was too short, or the cell was empty after normalization). The
// literal empty string never appears as a value.
type FieldSet map[string]string

// Get returns the value for a field and whether it was present.
func (fs FieldSet) Get(field string) (string, bool) {
	v, ok := fs[field]
	return v, ok
}

// DecodeRow turns a raw CSV row into a FieldSet using the header mapping.
// Rows shorter than the header are legal; missing trailing cells are
// treated as absent.
//
// The second return value reports whether the row is eligible for the
// catalog. A row lacking a non-empty unique_key or product_title is a
// skip, not an error: it is excluded from the catalog but still counts as
// processed by the job.
func DecodeRow(m HeaderMap, row []string) (FieldSet, bool) {
	fs := make(FieldSet, len(m))

	for pos, field := range m {
		if pos >= len(row) {
			continue
		}
		val := textutil.Normalize(row[pos])
		if val == "" {
			continue
		}
		fs[field] = val
	}

	if _, ok := fs[FieldUniqueKey]; !ok {
		return fs, false
	}
	if _, ok := fs[FieldProductTitle]; !ok {
		return fs, false
	}
	return fs, true
}
