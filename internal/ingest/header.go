package ingest

import (
	"strings"

	"github.com/merchstream/catalogd/internal/textutil"
)

// Canonical field names produced by the header mapper. These are the only
// keys a FieldSet may contain, and they match the catalog column names.
const (
	FieldUniqueKey          = "unique_key"
	FieldProductTitle       = "product_title"
	FieldProductDescription = "product_description"
	FieldStyle              = "style"
	FieldMainframeColor     = "sanmar_mainframe_color"
	FieldSize               = "size"
	FieldColorName          = "color_name"
	FieldPiecePrice         = "piece_price"
)

// columnMap translates upper-cased raw headers to canonical field names.
// Headers not in this table are ignored rather than rejected, so vendor
// files may carry extra columns freely.
var columnMap = map[string]string{
	"UNIQUE_KEY":             FieldUniqueKey,
	"PRODUCT_TITLE":          FieldProductTitle,
	"PRODUCT_DESCRIPTION":    FieldProductDescription,
	"STYLE#":                 FieldStyle,
	"SANMAR_MAINFRAME_COLOR": FieldMainframeColor,
	"SIZE":                   FieldSize,
	"COLOR_NAME":             FieldColorName,
	"PIECE_PRICE":            FieldPiecePrice,
}

// HeaderMap maps a column position in the data rows to its canonical
// field name. Positions whose header is unknown are simply absent.
type HeaderMap map[int]string

// MapHeaders builds a HeaderMap from the raw header row. Each raw header
// is normalized and upper-cased before lookup, so matching is tolerant of
// BOMs, padding, and case. Column order is irrelevant; data rows are read
// by position through the returned map.
func MapHeaders(rawHeader []string) HeaderMap {
	m := make(HeaderMap, len(rawHeader))
	for i, raw := range rawHeader {
		key := strings.ToUpper(textutil.Normalize(raw))
		if field, ok := columnMap[key]; ok {
			m[i] = field
		}
	}
	return m
}
