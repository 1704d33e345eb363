package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the PostgreSQL-backed Upserter. The products table carries a
// unique constraint on unique_key, so ON CONFLICT gives us the atomic
// insert-or-replace the ingestion jobs rely on under concurrency.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PGStore using the given connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const upsertProduct = `
INSERT INTO products (
	unique_key, product_title, product_description, style,
	sanmar_mainframe_color, size, color_name, piece_price,
	created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
ON CONFLICT (unique_key) DO UPDATE SET
	product_title          = EXCLUDED.product_title,
	product_description    = EXCLUDED.product_description,
	style                  = EXCLUDED.style,
	sanmar_mainframe_color = EXCLUDED.sanmar_mainframe_color,
	size                   = EXCLUDED.size,
	color_name             = EXCLUDED.color_name,
	piece_price            = EXCLUDED.piece_price,
	updated_at             = now()
`

// Upsert inserts or fully replaces the record for rec.UniqueKey.
// Absent optional fields are written as NULL, clearing any prior value.
func (s *PGStore) Upsert(ctx context.Context, rec Record) error {
	price, err := toNumeric(rec.PiecePrice)
	if err != nil {
		return fmt.Errorf("piece_price for key %q: %w", rec.UniqueKey, err)
	}

	_, err = s.pool.Exec(ctx, upsertProduct,
		rec.UniqueKey,
		rec.ProductTitle,
		toText(rec.ProductDescription),
		toText(rec.Style),
		toText(rec.MainframeColor),
		toText(rec.Size),
		toText(rec.ColorName),
		price,
	)
	if err != nil {
		return fmt.Errorf("upsert product %q: %w", rec.UniqueKey, err)
	}
	return nil
}

// toText converts a string to pgtype.Text, mapping empty to NULL.
func toText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// toNumeric converts raw price text to pgtype.Numeric, mapping empty to
// NULL. Currency symbols and thousands separators are tolerated since
// vendor exports often include them. Anything else non-numeric is an
// error; the caller surfaces it as a per-row upsert failure.
func toNumeric(s string) (pgtype.Numeric, error) {
	if s == "" {
		return pgtype.Numeric{Valid: false}, nil
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		return pgtype.Numeric{}, fmt.Errorf("not a decimal value %q", s)
	}
	return n, nil
}
