package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// DocumentStatus tracks a document through its processing lifecycle. The
// legal transitions are pending->processing->{indexed,failed},
// failed->pending (operator-triggered reindex), and any->deleted.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentIndexed    DocumentStatus = "indexed"
	DocumentFailed     DocumentStatus = "failed"
	DocumentDeleted    DocumentStatus = "deleted"
)

// MaxRetryCount is the number of failed attempts after which a document is
// no longer picked up automatically; an operator must explicitly reindex it.
const MaxRetryCount = 3

// Document is a single ingested file and its processing state.
type Document struct {
	ID                     string
	Filename               string
	OriginalFilename       string
	FilePath               string
	FileSize               int64
	MimeType               string
	FileExtension          string
	ContentHash            string
	FileHash               string
	Status                 DocumentStatus
	RetryCount             int
	Title                  string
	Author                 string
	Language               string
	PageCount              int
	WordCount              int
	CharCount              int
	UploadedBy             string
	CategoryID             *int
	CategoryConfidence     *float64
	ChunkCount             int
	ProcessingError        string
	ProcessingStartedAt    *time.Time
	ProcessingCompletedAt  *time.Time
	IndexedAt              *time.Time
	Summary                string
	Keywords               string
	SpaceID                string
	Metadata               map[string]any
	DeletedAt              *time.Time
	UploadedAt             time.Time
}

// allowedUpdateFields is the server-side whitelist of document columns that
// may be changed via UpdateDocument. It exists to stop a dynamically built
// update (e.g. forwarded from an API payload) from ever naming an arbitrary
// column; any field outside this set is rejected at the boundary with
// ErrInvalidUpdateField and no mutation, rather than executed.
var allowedUpdateFields = map[string]bool{
	"status":                   true,
	"title":                    true,
	"author":                   true,
	"language":                 true,
	"page_count":               true,
	"word_count":               true,
	"char_count":               true,
	"chunk_count":              true,
	"processing_error":         true,
	"processing_started_at":    true,
	"processing_completed_at":  true,
	"indexed_at":               true,
	"summary":                  true,
	"keywords":                 true,
	"category_id":              true,
	"space_id":                 true,
	"metadata":                 true,
}

// ErrInvalidUpdateField is returned when a caller attempts to update a
// column outside allowedUpdateFields.
var ErrInvalidUpdateField = errors.New("update field not allowed")

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("not found")

func (s *Store) CreateDocument(ctx context.Context, d *Document) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO documents (
			id, filename, original_filename, file_path, file_size, mime_type,
			file_extension, content_hash, file_hash, status, uploaded_by,
			space_id, metadata, uploaded_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, d.ID, d.Filename, d.OriginalFilename, d.FilePath, d.FileSize, d.MimeType,
		d.FileExtension, d.ContentHash, d.FileHash, d.Status, d.UploadedBy,
		d.SpaceID, d.Metadata, d.UploadedAt)
	return err
}

func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.Pool.QueryRow(ctx, documentSelectSQL+" WHERE id = $1 AND deleted_at IS NULL", id)
	return scanDocument(row)
}

func (s *Store) GetDocumentByHash(ctx context.Context, contentHash string) (*Document, error) {
	row := s.Pool.QueryRow(ctx, documentSelectSQL+" WHERE content_hash = $1 AND deleted_at IS NULL", contentHash)
	return scanDocument(row)
}

func (s *Store) GetDocumentByFileHash(ctx context.Context, fileHash string) (*Document, error) {
	row := s.Pool.QueryRow(ctx, documentSelectSQL+" WHERE file_hash = $1 AND deleted_at IS NULL", fileHash)
	return scanDocument(row)
}

// UpdateDocument applies a partial update using only whitelisted fields. A
// non-whitelisted key causes the whole call to fail with
// ErrInvalidUpdateField and no column is touched.
func (s *Store) UpdateDocument(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	setClauses := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	i := 1
	for k, v := range fields {
		if !allowedUpdateFields[k] {
			return fmt.Errorf("%w: %s", ErrInvalidUpdateField, k)
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", k, i))
		args = append(args, v)
		i++
	}
	args = append(args, id)

	query := "UPDATE documents SET " + joinComma(setClauses) + fmt.Sprintf(" WHERE id = $%d", i)
	_, err := s.Pool.Exec(ctx, query, args...)
	return err
}

func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, status DocumentStatus, processingError string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE documents SET status = $1, processing_error = $2 WHERE id = $3
	`, status, nullIfEmpty(processingError), id)
	return err
}

// IncrementRetryCount bumps the retry counter on a failed document; once it
// reaches MaxRetryCount the document is no longer returned by
// GetPendingDocuments until an operator resets it via reindex.
func (s *Store) IncrementRetryCount(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE documents SET retry_count = retry_count + 1 WHERE id = $1`, id)
	return err
}

// ResetForReindex clears status back to pending and zeroes the retry count,
// the operator-triggered escape hatch from a stuck failed document.
func (s *Store) ResetForReindex(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE documents SET status = $1, retry_count = 0, processing_error = NULL WHERE id = $2
	`, DocumentPending, id)
	return err
}

// DeleteDocument soft-deletes: documents are tombstoned, never hard-deleted,
// so chunk/vector/BM25 fan-out can happen asynchronously without a dangling
// foreign key surfacing mid-delete.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE documents SET status = $1, deleted_at = now() WHERE id = $2
	`, DocumentDeleted, id)
	return err
}

// GetPendingDocuments returns documents eligible for a processing attempt:
// status pending, or failed with retry_count below MaxRetryCount.
func (s *Store) GetPendingDocuments(ctx context.Context, limit int) ([]*Document, error) {
	rows, err := s.Pool.Query(ctx, documentSelectSQL+`
		WHERE deleted_at IS NULL
		  AND (status = $1 OR (status = $2 AND retry_count < $3))
		ORDER BY uploaded_at ASC
		LIMIT $4
	`, DocumentPending, DocumentFailed, MaxRetryCount, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// ListOrderColumns whitelists the columns ListDocuments may sort by.
var ListOrderColumns = map[string]bool{
	"uploaded_at": true, "filename": true, "file_size": true, "status": true,
}

type ListFilter struct {
	Status  DocumentStatus
	SpaceID string
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

func (s *Store) ListDocuments(ctx context.Context, f ListFilter) ([]*Document, error) {
	orderBy := "uploaded_at"
	if f.OrderBy != "" {
		if !ListOrderColumns[f.OrderBy] {
			return nil, fmt.Errorf("%w: order_by=%s", ErrInvalidUpdateField, f.OrderBy)
		}
		orderBy = f.OrderBy
	}
	dir := "ASC"
	if f.Desc {
		dir = "DESC"
	}

	query := documentSelectSQL + " WHERE deleted_at IS NULL"
	args := []any{}
	n := 1
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, f.Status)
		n++
	}
	if f.SpaceID != "" {
		query += fmt.Sprintf(" AND space_id = $%d", n)
		args = append(args, f.SpaceID)
		n++
	}
	query += fmt.Sprintf(" ORDER BY %s %s LIMIT $%d OFFSET $%d", orderBy, dir, n, n+1)
	if f.Limit <= 0 {
		f.Limit = 50
	}
	args = append(args, f.Limit, f.Offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// Statistics summarizes the document corpus for the indexer's /statistics
// surface: counts per status, the running total of child chunks across
// every indexed document, and the aggregate original file size.
type Statistics struct {
	TotalDocuments int64
	Pending        int64
	Processing     int64
	Indexed        int64
	Failed         int64
	TotalChunks    int64
	TotalBytes     int64
}

func (s *Store) GetStatistics(ctx context.Context) (*Statistics, error) {
	var st Statistics
	err := s.Pool.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE status = 'pending'),
			count(*) FILTER (WHERE status = 'processing'),
			count(*) FILTER (WHERE status = 'indexed'),
			count(*) FILTER (WHERE status = 'failed'),
			coalesce(sum(chunk_count), 0),
			coalesce(sum(file_size), 0)
		FROM documents WHERE deleted_at IS NULL
	`).Scan(&st.TotalDocuments, &st.Pending, &st.Processing, &st.Indexed, &st.Failed, &st.TotalChunks, &st.TotalBytes)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) LogAccess(ctx context.Context, documentID, accessedBy, action string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO document_access_log (document_id, accessed_by, action) VALUES ($1,$2,$3)
	`, documentID, nullIfEmpty(accessedBy), action)
	return err
}

const documentSelectSQL = `
SELECT id, filename, original_filename, file_path, file_size, mime_type,
       file_extension, content_hash, file_hash, status, retry_count, title,
       author, language, page_count, word_count, char_count, uploaded_by,
       category_id, category_confidence, chunk_count, processing_error,
       processing_started_at, processing_completed_at, indexed_at, summary,
       keywords, space_id, metadata, deleted_at, uploaded_at
FROM documents`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var d Document
	err := row.Scan(
		&d.ID, &d.Filename, &d.OriginalFilename, &d.FilePath, &d.FileSize, &d.MimeType,
		&d.FileExtension, &d.ContentHash, &d.FileHash, &d.Status, &d.RetryCount, &d.Title,
		&d.Author, &d.Language, &d.PageCount, &d.WordCount, &d.CharCount, &d.UploadedBy,
		&d.CategoryID, &d.CategoryConfidence, &d.ChunkCount, &d.ProcessingError,
		&d.ProcessingStartedAt, &d.ProcessingCompletedAt, &d.IndexedAt, &d.Summary,
		&d.Keywords, &d.SpaceID, &d.Metadata, &d.DeletedAt, &d.UploadedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanDocuments(rows pgx.Rows) ([]*Document, error) {
	var docs []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
