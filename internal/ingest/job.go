// Package ingest turns uploaded CSV files into catalog records.
//
// A Job makes two linear passes over the stored file: a counting pass
// that pins total_rows, then a decode pass that normalizes, validates,
// and upserts each row. Per-row problems never fail the run; only a
// missing file, a malformed stream, or a progress-write failure does.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/merchstream/catalogd/internal/blob"
	"github.com/merchstream/catalogd/internal/catalog"
	"github.com/merchstream/catalogd/internal/logging"
	"github.com/merchstream/catalogd/internal/upload"
)

// ProgressInterval is how many decode-pass rows pass between progress
// writes. Persisting every row would double the write volume for no
// visible benefit to a polling caller.
var ProgressInterval = 100

// Job runs the ingestion pipeline for upload records. One Job value is
// shared by all queue workers; each Run operates only on its own record
// and file stream, so no synchronization is needed here.
type Job struct {
	Uploads upload.Store
	Catalog catalog.Upserter
	Blobs   blob.Store
}

// Run executes the full pipeline for one upload record and always leaves
// it in a terminal state unless the record store itself is unreachable.
// Records already in a terminal state are left alone, which makes
// duplicate queue delivery a no-op.
func (j *Job) Run(ctx context.Context, uploadID uuid.UUID) error {
	log := logging.WithFields(ctx, "upload_id", uploadID.String())

	rec, err := j.Uploads.Get(ctx, uploadID)
	if err != nil {
		return fmt.Errorf("load upload %s: %w", uploadID, err)
	}
	if rec.Status.Terminal() {
		log.Info("upload already finished, skipping", "status", rec.Status)
		return nil
	}

	if err := j.Uploads.MarkProcessing(ctx, uploadID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	log.Info("ingestion started", "file", rec.OriginalFilename)

	if err := j.process(ctx, log, rec); err != nil {
		log.Error("ingestion failed", "error", err)
		if ferr := j.Uploads.MarkFailed(ctx, uploadID, err.Error()); ferr != nil {
			return fmt.Errorf("mark failed: %w", ferr)
		}
	}
	return nil
}

// process runs both file passes. Any returned error fails the upload with
// its text as the recorded cause. Catalog writes already applied stay
// applied; nothing is rolled back on failure.
func (j *Job) process(ctx context.Context, log *slog.Logger, rec upload.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("row processing panic: %v", r)
		}
	}()

	f, err := j.Blobs.Open(ctx, rec.StoredName)
	if err != nil {
		return fmt.Errorf("open stored file %q: %w", rec.StoredName, err)
	}
	defer f.Close()

	r := newCSVReader(f)

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		// Nothing in the file at all, not even a header. Still a valid
		// upload: zero rows, immediately complete.
		if err := j.Uploads.SetTotalRows(ctx, rec.ID, 0); err != nil {
			return err
		}
		log.Info("ingestion completed", "total_rows", 0, "processed_rows", 0)
		return j.Uploads.MarkCompleted(ctx, rec.ID, 0)
	}
	if err != nil {
		return fmt.Errorf("read header row: %w", err)
	}
	headers := MapHeaders(header)

	// Counting pass: total_rows means raw records after the header,
	// including rows the decode pass will skip.
	total := 0
	for {
		if _, err := r.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("counting pass at row %d: %w", total+1, err)
		}
		total++
	}
	if err := j.Uploads.SetTotalRows(ctx, rec.ID, total); err != nil {
		return err
	}
	log.Info("counting pass done", "total_rows", total)

	if err := f.Rewind(); err != nil {
		return fmt.Errorf("rewind stored file: %w", err)
	}
	r = newCSVReader(f)
	if _, err := r.Read(); err != nil {
		return fmt.Errorf("reread header row: %w", err)
	}

	// Decode pass. Every consumed row counts as processed whether it was
	// cataloged, skipped, or failed its upsert.
	processed := 0
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("decode pass at row %d: %w", processed+1, err)
		}

		fields, ok := DecodeRow(headers, row)
		if !ok {
			log.Debug("row skipped, missing required fields", "row", processed+1)
		} else if uerr := j.Catalog.Upsert(ctx, recordFrom(fields)); uerr != nil {
			log.Error("row upsert failed",
				"row", processed+1,
				"unique_key", fields[FieldUniqueKey],
				"error", uerr,
			)
		}

		processed++
		if processed%ProgressInterval == 0 {
			if perr := j.Uploads.SetProcessedRows(ctx, rec.ID, processed); perr != nil {
				return fmt.Errorf("persist progress: %w", perr)
			}
		}
	}

	log.Info("ingestion completed", "total_rows", total, "processed_rows", processed)
	return j.Uploads.MarkCompleted(ctx, rec.ID, processed)
}

// recordFrom maps a decoded field set onto a catalog record. Missing keys
// become empty strings, which the upserter writes as NULL.
func recordFrom(fs FieldSet) catalog.Record {
	return catalog.Record{
		UniqueKey:          fs[FieldUniqueKey],
		ProductTitle:       fs[FieldProductTitle],
		ProductDescription: fs[FieldProductDescription],
		Style:              fs[FieldStyle],
		MainframeColor:     fs[FieldMainframeColor],
		Size:               fs[FieldSize],
		ColorName:          fs[FieldColorName],
		PiecePrice:         fs[FieldPiecePrice],
	}
}

// newCSVReader builds a reader tolerant of the files vendors actually
// send: ragged row lengths and stray quotes are handled by the decoder
// and normalizer, not treated as parse errors.
func newCSVReader(r io.Reader) *csv.Reader {
	c := csv.NewReader(r)
	c.FieldsPerRecord = -1
	c.LazyQuotes = true
	return c
}
