package web

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/merchstream/catalogd/internal/logging"
	"github.com/merchstream/catalogd/internal/upload"
	"github.com/merchstream/catalogd/internal/web/middleware"
)

// uploadJSON is the wire shape of an upload record. total_rows and
// error_message are nullable, matching their lifecycle: total_rows is
// null until the counting pass finishes, error_message only appears on
// failure.
type uploadJSON struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	Status           string    `json:"status"`
	TotalRows        *int      `json:"total_rows"`
	ProcessedRows    int       `json:"processed_rows"`
	ErrorMessage     *string   `json:"error_message"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toUploadJSON(rec upload.Record) uploadJSON {
	out := uploadJSON{
		ID:               rec.ID.String(),
		OriginalFilename: rec.OriginalFilename,
		Status:           string(rec.Status),
		TotalRows:        rec.TotalRows,
		ProcessedRows:    rec.ProcessedRows,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
	if rec.ErrorMessage != "" {
		msg := rec.ErrorMessage
		out.ErrorMessage = &msg
	}
	return out
}

// handleCreateUpload accepts a multipart CSV upload, stores the blob
// under a generated name, creates the pending upload record, and hands
// the record to the ingestion queue. The response returns immediately;
// callers poll the record for progress.
func (s *Server) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		writeError(w, r, http.StatusBadRequest, "file too large or invalid form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	ctx := r.Context()

	// The stored name is always generated; the client filename is kept
	// for display only.
	storedName := fmt.Sprintf("uploads/%s.csv", uuid.New())
	if err := s.blobs.Save(ctx, storedName, file); err != nil {
		logging.FromContext(ctx).Error("store upload blob", "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to store file")
		return
	}

	rec, err := s.uploads.Create(ctx, upload.CreateParams{
		StoredName:       storedName,
		OriginalFilename: header.Filename,
		Owner:            middleware.PrincipalFrom(ctx),
	})
	if err != nil {
		logging.FromContext(ctx).Error("create upload record", "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to create upload")
		return
	}

	if err := s.queue.Enqueue(rec.ID); err != nil {
		// The record exists but no worker will pick it up; fail it so
		// the caller is not left polling a pending record forever.
		if ferr := s.uploads.MarkFailed(ctx, rec.ID, err.Error()); ferr != nil {
			logging.FromContext(ctx).Error("fail unqueued upload", "upload_id", rec.ID, "error", ferr)
		}
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
		return
	}

	logging.FromContext(ctx).Info("upload accepted",
		"upload_id", rec.ID.String(),
		"file", rec.OriginalFilename,
	)

	writeJSON(w, r, http.StatusCreated, map[string]any{
		"message": "file uploaded and queued for processing",
		"data":    toUploadJSON(rec),
	})
}

// handleListUploads returns records visible to the caller: their own
// plus ownerless ones, newest first.
func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	records, err := s.uploads.List(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("list uploads", "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to list uploads")
		return
	}

	principal := middleware.PrincipalFrom(r.Context())
	visible := make([]uploadJSON, 0, len(records))
	for _, rec := range records {
		if rec.VisibleTo(principal) {
			visible = append(visible, toUploadJSON(rec))
		}
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"data": visible})
}

// handleGetUpload returns one record by ID. There is deliberately no
// ownership check here; polling only needs the ID.
func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "uploadID"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid upload ID")
		return
	}

	rec, err := s.uploads.Get(r.Context(), id)
	if errors.Is(err, upload.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "upload not found")
		return
	}
	if err != nil {
		logging.FromContext(r.Context()).Error("get upload", "upload_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to load upload")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"data": toUploadJSON(rec)})
}
