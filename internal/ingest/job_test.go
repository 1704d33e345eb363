package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/merchstream/catalogd/internal/blob"
	"github.com/merchstream/catalogd/internal/catalog"
	"github.com/merchstream/catalogd/internal/upload"
)

// ----------------------------------------------------------------------------
// In-memory fakes
// ----------------------------------------------------------------------------

// memUploads implements upload.Store with the same status guards as the
// PostgreSQL store, so the job's lifecycle behavior is tested faithfully.
type memUploads struct {
	mu       sync.Mutex
	recs     map[uuid.UUID]*upload.Record
	progress []int // every SetProcessedRows value, in order
}

func newMemUploads() *memUploads {
	return &memUploads{recs: make(map[uuid.UUID]*upload.Record)}
}

func (s *memUploads) add(rec upload.Record) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = upload.StatusPending
	}
	r := rec
	s.recs[rec.ID] = &r
	return rec.ID
}

func (s *memUploads) snapshot(id uuid.UUID) upload.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.recs[id]
}

func (s *memUploads) Create(_ context.Context, p upload.CreateParams) (upload.Record, error) {
	id := s.add(upload.Record{
		StoredName:       p.StoredName,
		OriginalFilename: p.OriginalFilename,
		Owner:            p.Owner,
	})
	return s.snapshot(id), nil
}

func (s *memUploads) Get(_ context.Context, id uuid.UUID) (upload.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return upload.Record{}, upload.ErrNotFound
	}
	return *rec, nil
}

func (s *memUploads) List(_ context.Context) ([]upload.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []upload.Record
	for _, rec := range s.recs {
		out = append(out, *rec)
	}
	return out, nil
}

func (s *memUploads) MarkProcessing(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.recs[id]; ok && rec.Status == upload.StatusPending {
		rec.Status = upload.StatusProcessing
	}
	return nil
}

func (s *memUploads) SetTotalRows(_ context.Context, id uuid.UUID, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.recs[id]; ok && rec.Status == upload.StatusProcessing {
		t := total
		rec.TotalRows = &t
	}
	return nil
}

func (s *memUploads) SetProcessedRows(_ context.Context, id uuid.UUID, processed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.recs[id]; ok && rec.Status == upload.StatusProcessing {
		rec.ProcessedRows = processed
		s.progress = append(s.progress, processed)
	}
	return nil
}

func (s *memUploads) MarkCompleted(_ context.Context, id uuid.UUID, processed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.recs[id]; ok && rec.Status == upload.StatusProcessing {
		rec.Status = upload.StatusCompleted
		rec.ProcessedRows = processed
	}
	return nil
}

func (s *memUploads) MarkFailed(_ context.Context, id uuid.UUID, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.recs[id]; ok && !rec.Status.Terminal() {
		rec.Status = upload.StatusFailed
		rec.ErrorMessage = cause
	}
	return nil
}

// memCatalog implements catalog.Upserter with last-writer-wins map
// semantics and optional per-key failures.
type memCatalog struct {
	mu       sync.Mutex
	records  map[string]catalog.Record
	failKeys map[string]bool
	upserts  int
}

func newMemCatalog() *memCatalog {
	return &memCatalog{records: make(map[string]catalog.Record)}
}

func (c *memCatalog) Upsert(_ context.Context, rec catalog.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upserts++
	if c.failKeys[rec.UniqueKey] {
		return fmt.Errorf("storage error for key %q", rec.UniqueKey)
	}
	c.records[rec.UniqueKey] = rec
	return nil
}

// memBlobs implements blob.Store over byte slices.
type memBlobs struct {
	files map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{files: make(map[string][]byte)}
}

func (b *memBlobs) Save(_ context.Context, name string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.files[name] = data
	return nil
}

func (b *memBlobs) Open(_ context.Context, name string) (blob.File, error) {
	data, ok := b.files[name]
	if !ok {
		return nil, fmt.Errorf("open blob %s: %w", name, blob.ErrNotFound)
	}
	return &memFile{Reader: bytes.NewReader(data)}, nil
}

type memFile struct {
	*bytes.Reader
}

func (f *memFile) Close() error { return nil }

func (f *memFile) Rewind() error {
	_, err := f.Seek(0, io.SeekStart)
	return err
}

// ----------------------------------------------------------------------------
// Test helpers
// ----------------------------------------------------------------------------

func newTestJob(csvContent string) (*Job, *memUploads, *memCatalog, uuid.UUID) {
	uploads := newMemUploads()
	cat := newMemCatalog()
	blobs := newMemBlobs()

	blobs.files["uploads/test.csv"] = []byte(csvContent)
	id := uploads.add(upload.Record{
		StoredName:       "uploads/test.csv",
		OriginalFilename: "products.csv",
	})

	return &Job{Uploads: uploads, Catalog: cat, Blobs: blobs}, uploads, cat, id
}

func totalRows(t *testing.T, rec upload.Record) int {
	t.Helper()
	if rec.TotalRows == nil {
		t.Fatal("TotalRows is nil")
	}
	return *rec.TotalRows
}

// ----------------------------------------------------------------------------
// Job tests
// ----------------------------------------------------------------------------

func TestJobRunHappyPath(t *testing.T) {
	content := strings.Join([]string{
		"unique_key,product_title,piece_price",
		`A1,Shirt,19.99`,
		`,NoKey,5.00`,
		`B2,Hat,`,
	}, "\n")
	job, uploads, cat, id := newTestJob(content)

	if err := job.Run(context.Background(), id); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec := uploads.snapshot(id)
	if rec.Status != upload.StatusCompleted {
		t.Errorf("status = %s, want completed (error_message=%q)", rec.Status, rec.ErrorMessage)
	}
	if got := totalRows(t, rec); got != 3 {
		t.Errorf("total_rows = %d, want 3", got)
	}
	if rec.ProcessedRows != 3 {
		t.Errorf("processed_rows = %d, want 3", rec.ProcessedRows)
	}

	if len(cat.records) != 2 {
		t.Fatalf("catalog has %d records, want 2: %v", len(cat.records), cat.records)
	}
	a1 := cat.records["A1"]
	if a1.ProductTitle != "Shirt" || a1.PiecePrice != "19.99" {
		t.Errorf("A1 = %+v, want title Shirt price 19.99", a1)
	}
	b2 := cat.records["B2"]
	if b2.ProductTitle != "Hat" || b2.PiecePrice != "" {
		t.Errorf("B2 = %+v, want title Hat and absent price", b2)
	}
	if cat.upserts != 2 {
		t.Errorf("upserter invoked %d times, want 2 (skipped row must not reach it)", cat.upserts)
	}
}

func TestJobRunEmptyFile(t *testing.T) {
	job, uploads, cat, id := newTestJob("")

	if err := job.Run(context.Background(), id); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec := uploads.snapshot(id)
	if rec.Status != upload.StatusCompleted {
		t.Errorf("status = %s, want completed", rec.Status)
	}
	if got := totalRows(t, rec); got != 0 {
		t.Errorf("total_rows = %d, want 0", got)
	}
	if rec.ProcessedRows != 0 {
		t.Errorf("processed_rows = %d, want 0", rec.ProcessedRows)
	}
	if cat.upserts != 0 {
		t.Errorf("upserter invoked %d times, want 0", cat.upserts)
	}
}

func TestJobRunHeaderOnly(t *testing.T) {
	job, uploads, _, id := newTestJob("unique_key,product_title\n")

	if err := job.Run(context.Background(), id); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec := uploads.snapshot(id)
	if rec.Status != upload.StatusCompleted {
		t.Errorf("status = %s, want completed", rec.Status)
	}
	if got := totalRows(t, rec); got != 0 {
		t.Errorf("total_rows = %d, want 0", got)
	}
	if rec.ProcessedRows != 0 {
		t.Errorf("processed_rows = %d, want 0", rec.ProcessedRows)
	}
}

func TestJobRunAllRowsSkipped(t *testing.T) {
	content := strings.Join([]string{
		"unique_key,product_title",
		",MissingKey",
		"K1,",
	}, "\n")
	job, uploads, cat, id := newTestJob(content)

	if err := job.Run(context.Background(), id); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec := uploads.snapshot(id)
	if rec.Status != upload.StatusCompleted {
		t.Errorf("status = %s, want completed", rec.Status)
	}
	if got := totalRows(t, rec); got != 2 {
		t.Errorf("total_rows = %d, want 2 (skipped rows still count)", got)
	}
	if rec.ProcessedRows != 2 {
		t.Errorf("processed_rows = %d, want 2", rec.ProcessedRows)
	}
	if cat.upserts != 0 {
		t.Errorf("upserter invoked %d times, want 0", cat.upserts)
	}
}

func TestJobRunMissingBlob(t *testing.T) {
	uploads := newMemUploads()
	cat := newMemCatalog()
	job := &Job{Uploads: uploads, Catalog: cat, Blobs: newMemBlobs()}

	id := uploads.add(upload.Record{StoredName: "uploads/gone.csv"})
	if err := job.Run(context.Background(), id); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec := uploads.snapshot(id)
	if rec.Status != upload.StatusFailed {
		t.Errorf("status = %s, want failed", rec.Status)
	}
	if rec.ErrorMessage == "" {
		t.Error("error_message is empty, want a descriptive cause")
	}
	if cat.upserts != 0 {
		t.Errorf("upserter invoked %d times, want 0", cat.upserts)
	}
}

func TestJobRunIdempotent(t *testing.T) {
	content := strings.Join([]string{
		"unique_key,product_title,piece_price",
		"A1,Shirt,19.99",
		"B2,Hat,4.50",
	}, "\n")

	uploads := newMemUploads()
	cat := newMemCatalog()
	blobs := newMemBlobs()
	blobs.files["uploads/f.csv"] = []byte(content)
	job := &Job{Uploads: uploads, Catalog: cat, Blobs: blobs}

	first := uploads.add(upload.Record{StoredName: "uploads/f.csv"})
	if err := job.Run(context.Background(), first); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	after := make(map[string]catalog.Record, len(cat.records))
	for k, v := range cat.records {
		after[k] = v
	}

	second := uploads.add(upload.Record{StoredName: "uploads/f.csv"})
	if err := job.Run(context.Background(), second); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if len(cat.records) != len(after) {
		t.Fatalf("catalog grew from %d to %d records on re-run", len(after), len(cat.records))
	}
	for k, want := range after {
		if got := cat.records[k]; got != want {
			t.Errorf("record %q changed on re-run: %+v vs %+v", k, got, want)
		}
	}
}

func TestJobRunReuploadReplacesRecord(t *testing.T) {
	uploads := newMemUploads()
	cat := newMemCatalog()
	blobs := newMemBlobs()
	job := &Job{Uploads: uploads, Catalog: cat, Blobs: blobs}

	blobs.files["uploads/v1.csv"] = []byte("unique_key,product_title,product_description\nA1,Shirt,Soft cotton\n")
	blobs.files["uploads/v2.csv"] = []byte("unique_key,product_title\nA1,Shirt v2\n")

	v1 := uploads.add(upload.Record{StoredName: "uploads/v1.csv"})
	if err := job.Run(context.Background(), v1); err != nil {
		t.Fatalf("v1 Run: %v", err)
	}
	v2 := uploads.add(upload.Record{StoredName: "uploads/v2.csv"})
	if err := job.Run(context.Background(), v2); err != nil {
		t.Fatalf("v2 Run: %v", err)
	}

	if len(cat.records) != 1 {
		t.Fatalf("catalog has %d records for key A1, want exactly 1", len(cat.records))
	}
	got := cat.records["A1"]
	if got.ProductTitle != "Shirt v2" {
		t.Errorf("title = %q, want %q", got.ProductTitle, "Shirt v2")
	}
	if got.ProductDescription != "" {
		t.Errorf("description = %q, want cleared (replace semantics, not merge)", got.ProductDescription)
	}
}

func TestJobRunUpsertErrorIsNonFatal(t *testing.T) {
	content := strings.Join([]string{
		"unique_key,product_title",
		"A1,Shirt",
		"B2,Hat",
		"C3,Cap",
	}, "\n")
	job, uploads, cat, id := newTestJob(content)
	cat.failKeys = map[string]bool{"B2": true}

	if err := job.Run(context.Background(), id); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec := uploads.snapshot(id)
	if rec.Status != upload.StatusCompleted {
		t.Errorf("status = %s, want completed despite row failure", rec.Status)
	}
	if rec.ProcessedRows != 3 {
		t.Errorf("processed_rows = %d, want 3", rec.ProcessedRows)
	}
	if _, ok := cat.records["B2"]; ok {
		t.Error("B2 written despite upsert failure")
	}
	for _, key := range []string{"A1", "C3"} {
		if _, ok := cat.records[key]; !ok {
			t.Errorf("record %q missing, rows after a failed one must still be processed", key)
		}
	}
}

func TestJobRunProgressPersistedAtInterval(t *testing.T) {
	orig := ProgressInterval
	ProgressInterval = 10
	defer func() { ProgressInterval = orig }()

	var b strings.Builder
	b.WriteString("unique_key,product_title\n")
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&b, "K%d,Item %d\n", i, i)
	}
	job, uploads, _, id := newTestJob(b.String())

	if err := job.Run(context.Background(), id); err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantWrites := []int{10, 20}
	if len(uploads.progress) != len(wantWrites) {
		t.Fatalf("progress writes = %v, want %v", uploads.progress, wantWrites)
	}
	for i, want := range wantWrites {
		if uploads.progress[i] != want {
			t.Errorf("progress write %d = %d, want %d", i, uploads.progress[i], want)
		}
	}

	rec := uploads.snapshot(id)
	if rec.ProcessedRows != 25 {
		t.Errorf("final processed_rows = %d, want 25 (completion pins exact count)", rec.ProcessedRows)
	}
}

func TestJobRunSkipsTerminalRecord(t *testing.T) {
	job, uploads, cat, id := newTestJob("unique_key,product_title\nA1,Shirt\n")

	uploads.mu.Lock()
	uploads.recs[id].Status = upload.StatusCompleted
	uploads.recs[id].ProcessedRows = 7
	uploads.mu.Unlock()

	if err := job.Run(context.Background(), id); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec := uploads.snapshot(id)
	if rec.ProcessedRows != 7 {
		t.Errorf("processed_rows = %d, terminal record must not change", rec.ProcessedRows)
	}
	if cat.upserts != 0 {
		t.Errorf("upserter invoked %d times on redelivered terminal record, want 0", cat.upserts)
	}
}

func TestJobRunUnknownUpload(t *testing.T) {
	job := &Job{Uploads: newMemUploads(), Catalog: newMemCatalog(), Blobs: newMemBlobs()}
	if err := job.Run(context.Background(), uuid.New()); !errors.Is(err, upload.ErrNotFound) {
		t.Errorf("Run on unknown ID: got %v, want ErrNotFound", err)
	}
}

// faultBlobs serves a stream that fails partway through the first read
// pass, simulating blob storage dying mid-file.
type faultBlobs struct {
	data string
}

func (b *faultBlobs) Save(_ context.Context, _ string, _ io.Reader) error { return nil }

func (b *faultBlobs) Open(_ context.Context, _ string) (blob.File, error) {
	return &faultFile{r: strings.NewReader(b.data)}, nil
}

type faultFile struct {
	r *strings.Reader
}

func (f *faultFile) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if errors.Is(err, io.EOF) {
		return n, errors.New("blob storage: connection reset")
	}
	return n, err
}

func (f *faultFile) Close() error  { return nil }
func (f *faultFile) Rewind() error { return nil }

func TestJobRunStreamFaultFailsUpload(t *testing.T) {
	uploads := newMemUploads()
	job := &Job{
		Uploads: uploads,
		Catalog: newMemCatalog(),
		Blobs:   &faultBlobs{data: "unique_key,product_title\nA1,Shirt\n"},
	}

	id := uploads.add(upload.Record{StoredName: "uploads/corrupt.csv"})
	if err := job.Run(context.Background(), id); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec := uploads.snapshot(id)
	if rec.Status != upload.StatusFailed {
		t.Errorf("status = %s, want failed", rec.Status)
	}
	if !strings.Contains(rec.ErrorMessage, "connection reset") {
		t.Errorf("error_message = %q, want the stream fault recorded verbatim", rec.ErrorMessage)
	}
}
