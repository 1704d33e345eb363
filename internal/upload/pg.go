package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the PostgreSQL-backed Store.
//
// Status transitions are guarded in the WHERE clause of each UPDATE, so a
// record that already reached a terminal state is never mutated again no
// matter how often a job is redelivered. Guarded updates that match no row
// are not errors.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PGStore using the given connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const uploadColumns = `id, stored_name, original_filename, status,
	total_rows, processed_rows, error_message, owner, created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, p CreateParams) (Record, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO uploads (id, stored_name, original_filename, status, owner, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING `+uploadColumns,
		uuid.New(), p.StoredName, p.OriginalFilename, StatusPending, toText(p.Owner),
	)
	return scanRecord(row)
}

func (s *PGStore) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+uploadColumns+` FROM uploads WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func (s *PGStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+uploadColumns+` FROM uploads ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PGStore) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return s.exec(ctx, `
		UPDATE uploads SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, StatusProcessing, StatusPending)
}

func (s *PGStore) SetTotalRows(ctx context.Context, id uuid.UUID, total int) error {
	return s.exec(ctx, `
		UPDATE uploads SET total_rows = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, total, StatusProcessing)
}

func (s *PGStore) SetProcessedRows(ctx context.Context, id uuid.UUID, processed int) error {
	return s.exec(ctx, `
		UPDATE uploads SET processed_rows = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, processed, StatusProcessing)
}

func (s *PGStore) MarkCompleted(ctx context.Context, id uuid.UUID, processed int) error {
	return s.exec(ctx, `
		UPDATE uploads SET status = $2, processed_rows = $3, updated_at = now()
		WHERE id = $1 AND status = $4`,
		id, StatusCompleted, processed, StatusProcessing)
}

func (s *PGStore) MarkFailed(ctx context.Context, id uuid.UUID, cause string) error {
	return s.exec(ctx, `
		UPDATE uploads SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1 AND status NOT IN ($4, $5)`,
		id, StatusFailed, cause, StatusCompleted, StatusFailed)
}

func (s *PGStore) exec(ctx context.Context, sql string, args ...any) error {
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("update upload: %w", err)
	}
	return nil
}

// scanRecord reads one uploads row from either QueryRow or Rows.
func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec      Record
		total    pgtype.Int4
		errMsg   pgtype.Text
		owner    pgtype.Text
		statusDB string
	)
	err := row.Scan(
		&rec.ID, &rec.StoredName, &rec.OriginalFilename, &statusDB,
		&total, &rec.ProcessedRows, &errMsg, &owner,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}

	rec.Status = Status(statusDB)
	if total.Valid {
		n := int(total.Int32)
		rec.TotalRows = &n
	}
	rec.ErrorMessage = errMsg.String
	rec.Owner = owner.String
	return rec, nil
}

// toText converts a string to pgtype.Text, mapping empty to NULL.
func toText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}
